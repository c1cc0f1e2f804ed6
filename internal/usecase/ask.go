package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/baonguyen3197/Cloud-Kinetics/internal/domain"
	"github.com/baonguyen3197/Cloud-Kinetics/internal/session"
)

const (
	defaultMaxTokens   = 2000
	defaultTemperature = 0.7
	defaultAskTimeout  = 90 * time.Second

	// ApologyAnswer replaces the answer whenever the inference call fails or
	// times out. Inference failures never escape Ask as errors.
	ApologyAnswer = "Sorry, I encountered an error while processing your request."

	// SaveWarning is surfaced when the answer was produced but could not be
	// persisted remotely.
	SaveWarning = "Your answer was generated but could not be saved; it may be missing after a reload."
)

// Aggregator supplies the grounding context for a question.
type Aggregator interface {
	Aggregate(ctx context.Context) string
}

// InferenceGateway is the opaque completion capability: prompt in, text out.
type InferenceGateway interface {
	Invoke(ctx context.Context, prompt string, params domain.InferenceParams) (string, error)
}

// Sessions is the slice of the session manager the orchestrator drives.
// *session.Manager satisfies this interface.
type Sessions interface {
	Identity() string
	Current() string
	AppendPending(question string) (session.PendingRef, bool)
	RecordAnswer(ctx context.Context, ref session.PendingRef, answer string) error
	SetProcessing(processing bool)
}

type AskOutput struct {
	Answer  string
	Warning string
}

// Orchestrator runs one question end to end: append the pending entry, pull
// the knowledge base, call the model, write the answer back. Asks against
// the same (identity, conversation) pair are serialized so concurrent
// submissions cannot interleave the remote read-modify-write.
type Orchestrator struct {
	knowledge Aggregator
	llm       InferenceGateway
	params    domain.InferenceParams
	timeout   time.Duration
	logger    *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

type OrchestratorOption func(*Orchestrator)

func WithInferenceParams(params domain.InferenceParams) OrchestratorOption {
	return func(o *Orchestrator) {
		o.params = params
	}
}

func WithTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.timeout = timeout
	}
}

func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func NewOrchestrator(knowledge Aggregator, llm InferenceGateway, opts ...OrchestratorOption) (*Orchestrator, error) {
	if knowledge == nil {
		return nil, errors.New("usecase: aggregator must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: inference gateway must not be nil")
	}
	o := &Orchestrator{
		knowledge: knowledge,
		llm:       llm,
		params:    domain.InferenceParams{MaxTokens: defaultMaxTokens, Temperature: defaultTemperature},
		timeout:   defaultAskTimeout,
		logger:    slog.Default(),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Ask answers a question in the manager's current conversation. The pending
// entry becomes visible to observers before the answer arrives (the manager
// publishes a snapshot on append), and again once it is filled in. The only
// error Ask returns is input validation; inference failures degrade to the
// apology answer and persistence failures to a warning.
func (o *Orchestrator) Ask(ctx context.Context, sessions Sessions, question string) (AskOutput, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return AskOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}

	lock := o.conversationLock(sessions.Identity(), sessions.Current())
	lock.Lock()
	defer lock.Unlock()

	ref, ok := sessions.AppendPending(question)
	if !ok {
		return AskOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	sessions.SetProcessing(true)
	defer sessions.SetProcessing(false)

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	knowledgeBase := o.knowledge.Aggregate(callCtx)
	prompt := buildGroundedPrompt(knowledgeBase, question)

	answer, err := o.llm.Invoke(callCtx, prompt, o.params)
	if err != nil {
		o.logger.Error("inference call failed", "identity", sessions.Identity(), "chat", ref.Chat, "err", err)
		answer = ApologyAnswer
	}

	out := AskOutput{Answer: answer}
	if err := sessions.RecordAnswer(ctx, ref, answer); err != nil {
		o.logger.Error("recording answer failed", "identity", sessions.Identity(), "chat", ref.Chat, "err", err)
		out.Warning = SaveWarning
	}
	return out, nil
}

// conversationLock returns the mutex serializing asks for one
// (identity, conversation) pair. Locks are small and never evicted.
func (o *Orchestrator) conversationLock(identity, chat string) *sync.Mutex {
	key := identity + "\x00" + chat
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	lock, ok := o.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[key] = lock
	}
	return lock
}
