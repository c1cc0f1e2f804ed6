package domain

// ChatMessage is the provider-agnostic chat message shape used by the
// OpenAI-compatible inference integration.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InferenceParams are the sampling parameters passed to an inference gateway
// alongside the prompt.
type InferenceParams struct {
	MaxTokens   int
	Temperature float64
}
