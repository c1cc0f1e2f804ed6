package usecase

import "strings"

// buildGroundedPrompt embeds the aggregated knowledge base and the verbatim
// question into the fixed grounding template. The model is told to answer
// only from the supplied context and to say so explicitly when the context
// is insufficient, instead of falling back on pretrained knowledge.
func buildGroundedPrompt(knowledgeBase, question string) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant. Use the following information as your knowledge base ")
	b.WriteString("to answer the question. If the information below is insufficient, say so and do not ")
	b.WriteString("rely on pretrained data.\n\n")
	b.WriteString("Human: Here is the knowledge base:\n")
	b.WriteString(knowledgeBase)
	b.WriteString("\n\nNow, please answer this question: ")
	b.WriteString(question)
	b.WriteString("\n\nAssistant:")
	return b.String()
}
