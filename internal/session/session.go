// Package session implements a stateful single-conversation orchestration
// engine: bounded context-window construction, the function-calling turn
// loop with retry feedback, token-length memoization, and persistence.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"rondo/internal/chat"
	"rondo/internal/engine"
	"rondo/internal/functions"
	"rondo/internal/tokencache"
)

const (
	defaultDesiredResponseTokens = 450
	defaultRetryAttempts         = 1
)

// Event is one item of a round's lazy message stream. Exactly one of
// Message and Err is meaningful; an Err event is always terminal.
type Event struct {
	Message chat.Message
	Err     error
}

// Config configures Session creation.
type Config struct {
	Engine engine.Engine

	// SystemPrompt, when non-empty, becomes the first always-include
	// message.
	SystemPrompt string
	// AlwaysIncludeMessages is a fixed prompt prefix exempt from
	// eviction.
	AlwaysIncludeMessages []chat.Message
	// InitialHistory seeds the conversation, e.g. from a loaded save.
	InitialHistory []chat.Message
	// Functions exposes model-callable functions. Nil disables calling.
	Functions *functions.Registry

	// DesiredResponseTokens is the headroom left for the model's reply
	// when building prompts. Zero selects the default of 450.
	DesiredResponseTokens int
	// RetryAttempts is how many times the model may retry a failed
	// function call. Zero selects the default of 1; negative disables
	// retries.
	RetryAttempts int
	// TokenCacheSize bounds the token-length memo. Zero selects the
	// cache's default capacity.
	TokenCacheSize int

	Logger *slog.Logger
}

// Session owns one conversation's state. All history mutation happens under
// the session lock; concurrent rounds serialize rather than interleave.
type Session struct {
	eng       engine.Engine
	functions *functions.Registry
	logger    *slog.Logger

	desiredResponseTokens int
	retryAttempts         int

	mu            sync.Mutex
	alwaysInclude []chat.Message
	history       []chat.Message
	// oldestIdx is the window builder's eviction cursor. It only ever
	// advances and is never persisted.
	oldestIdx int

	tokens *tokencache.Cache
}

// New constructs a session.
func New(cfg Config) (*Session, error) {
	if cfg.Engine == nil {
		return nil, ErrEngineRequired
	}

	desired := cfg.DesiredResponseTokens
	if desired <= 0 {
		desired = defaultDesiredResponseTokens
	}
	retries := cfg.RetryAttempts
	if retries == 0 {
		retries = defaultRetryAttempts
	} else if retries < 0 {
		retries = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var alwaysInclude []chat.Message
	if prompt := strings.TrimSpace(cfg.SystemPrompt); prompt != "" {
		alwaysInclude = append(alwaysInclude, chat.System(prompt))
	}
	alwaysInclude = append(alwaysInclude, chat.CloneAll(cfg.AlwaysIncludeMessages)...)

	return &Session{
		eng:                   cfg.Engine,
		functions:             cfg.Functions,
		logger:                logger,
		desiredResponseTokens: desired,
		retryAttempts:         retries,
		alwaysInclude:         alwaysInclude,
		history:               chat.CloneAll(cfg.InitialHistory),
		tokens:                tokencache.New(cfg.TokenCacheSize),
	}, nil
}

// RoundOption tunes one round's backend calls.
type RoundOption func(*roundOptions)

type roundOptions struct {
	temperature *float64
	maxTokens   int
}

// WithTemperature overrides the backend sampling temperature for one round.
func WithTemperature(t float64) RoundOption {
	return func(o *roundOptions) { o.temperature = &t }
}

// WithMaxTokens caps the backend's reply length for one round.
func WithMaxTokens(n int) RoundOption {
	return func(o *roundOptions) { o.maxTokens = n }
}

func applyRoundOptions(opts []RoundOption) roundOptions {
	var ro roundOptions
	for _, opt := range opts {
		opt(&ro)
	}
	return ro
}

func (ro roundOptions) predictOptions() engine.PredictOptions {
	return engine.PredictOptions{
		Temperature: ro.temperature,
		MaxTokens:   ro.maxTokens,
	}
}

// MessageTokenLen returns the token cost of one message, memoized for the
// session's lifetime. Cache misses recompute via the engine; losing entries
// is harmless because the engine's length function is pure.
func (s *Session) MessageTokenLen(msg chat.Message) int {
	key := msg.CacheKey()
	if tokens, ok := s.tokens.Get(key); ok {
		return tokens
	}
	tokens := s.eng.MessageLen(msg)
	s.tokens.Set(key, tokens)
	return tokens
}

// History returns a copy of the conversation since session start.
func (s *Session) History() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return chat.CloneAll(s.history)
}

// AlwaysInclude returns a copy of the fixed prompt prefix.
func (s *Session) AlwaysInclude() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return chat.CloneAll(s.alwaysInclude)
}

// BuildPrompt assembles the always-include prefix plus the newest history
// suffix that fits the token budget. It fails with ErrMessageTooLong when a
// single message exceeds the raw budget.
func (s *Session) BuildPrompt() ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildPromptLocked()
}

func (s *Session) buildPromptLocked() ([]chat.Message, error) {
	alwaysLen := s.eng.TokenReserve()
	for _, msg := range s.alwaysInclude {
		alwaysLen += s.MessageTokenLen(msg)
	}
	budget := s.eng.MaxContextSize() - alwaysLen
	remaining := budget - s.desiredResponseTokens

	// Walk newest to oldest; the first message that would overdraw the
	// allowance excludes itself and everything older this round. A
	// message that exactly exhausts the allowance is still included.
	var reversed []chat.Message
	for idx := len(s.history) - 1; idx >= s.oldestIdx; idx-- {
		msg := s.history[idx]
		msgLen := s.MessageTokenLen(msg)
		if msgLen > budget {
			return nil, fmt.Errorf("%w: message is %d tokens, budget is %d", ErrMessageTooLong, msgLen, budget)
		}
		remaining -= msgLen
		if remaining < 0 {
			s.oldestIdx = idx + 1
			break
		}
		reversed = append(reversed, msg)
	}

	prompt := make([]chat.Message, 0, len(s.alwaysInclude)+len(reversed))
	prompt = append(prompt, s.alwaysInclude...)
	for i := len(reversed) - 1; i >= 0; i-- {
		prompt = append(prompt, reversed[i])
	}
	return prompt, nil
}

// GetCompletion performs one backend call from the current prompt window
// without mutating history. Intended for instrumentation and logging.
func (s *Session) GetCompletion(ctx context.Context, includeFunctions bool, opts ...RoundOption) (engine.Completion, error) {
	s.mu.Lock()
	prompt, err := s.buildPromptLocked()
	s.mu.Unlock()
	if err != nil {
		return engine.Completion{}, err
	}

	var specs []engine.FunctionSpec
	if includeFunctions {
		specs = s.functionSpecs()
	}
	popts := applyRoundOptions(opts).predictOptions()
	popts.DisableFunctions = len(specs) == 0
	return s.eng.Predict(ctx, prompt, specs, popts)
}

// ChatRound performs a single user -> model -> user exchange with function
// calling disabled and returns the model's reply text.
func (s *Session) ChatRound(ctx context.Context, query string, opts ...RoundOption) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, chat.User(strings.TrimSpace(query)))

	prompt, err := s.buildPromptLocked()
	if err != nil {
		return "", err
	}

	popts := applyRoundOptions(opts).predictOptions()
	popts.DisableFunctions = true
	completion, err := s.eng.Predict(ctx, prompt, nil, popts)
	if err != nil {
		return "", err
	}

	msg := completion.Message.Clone()
	s.recordCompletionTokens(msg, completion.CompletionTokens)
	s.history = append(s.history, msg)
	return msg.Content, nil
}

// FullRound drives one user query through the full turn loop
// (user -> model [-> function -> model -> ...] -> user) and streams each
// model message as it is produced. The stream is finite; an Err event is
// terminal. The session lock is held for the whole round, so a concurrent
// round blocks until this one completes.
func (s *Session) FullRound(ctx context.Context, query string, opts ...RoundOption) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.runRoundLocked(ctx, query, applyRoundOptions(opts), out)
	}()
	return out
}

// FullRoundText runs a full round and concatenates the model's non-empty
// reply texts.
func (s *Session) FullRoundText(ctx context.Context, query string, opts ...RoundOption) (string, error) {
	var parts []string
	for ev := range s.FullRound(ctx, query, opts...) {
		if ev.Err != nil {
			return strings.Join(parts, "\n"), ev.Err
		}
		if text := ev.Message.Content; text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func (s *Session) runRoundLocked(ctx context.Context, query string, ro roundOptions, out chan<- Event) {
	s.history = append(s.history, chat.User(strings.TrimSpace(query)))

	attempt := 0
	functionsDisabled := false

	for modelTurn := true; modelTurn; {
		modelTurn = false

		if err := ctx.Err(); err != nil {
			s.emit(ctx, out, Event{Err: err})
			return
		}

		prompt, err := s.buildPromptLocked()
		if err != nil {
			s.emit(ctx, out, Event{Err: err})
			return
		}

		specs := s.functionSpecs()
		popts := ro.predictOptions()
		popts.DisableFunctions = functionsDisabled || len(specs) == 0

		completion, err := s.eng.Predict(ctx, prompt, specs, popts)
		if err != nil {
			s.emit(ctx, out, Event{Err: err})
			return
		}

		msg := completion.Message.Clone()
		s.recordCompletionTokens(msg, completion.CompletionTokens)
		s.history = append(s.history, msg)
		if !s.emit(ctx, out, Event{Message: msg}) {
			return
		}

		if msg.FunctionCall == nil {
			return
		}

		assistantNext, callErr := s.doFunctionCall(ctx, *msg.FunctionCall)
		if callErr != nil {
			var ce *CallError
			if !errors.As(callErr, &ce) {
				// Cancellation during the handler; the call did
				// not complete and nothing was recorded.
				s.emit(ctx, out, Event{Err: callErr})
				return
			}
			shouldRetry := s.handleCallError(ce, attempt)
			attempt++
			if !shouldRetry {
				// One final reply with function calling
				// disabled; the model must answer in plain
				// text.
				functionsDisabled = true
			}
			modelTurn = true
			continue
		}

		attempt = 0
		modelTurn = assistantNext
	}
}

// doFunctionCall resolves one function call and records its outcome in
// history. The result is appended before cancellation can be observed, so a
// cancelled round never leaves an executed call unrecorded. It returns
// whether the model speaks next.
func (s *Session) doFunctionCall(ctx context.Context, call chat.FunctionCall) (bool, error) {
	var fn functions.Function
	ok := false
	if s.functions != nil {
		fn, ok = s.functions.Get(call.Name)
	}
	if !ok {
		return false, newNoSuchFunctionError(call.Name)
	}

	result, err := fn.Handler(ctx, call.Arguments)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		return false, newWrappedCallError(fn.Name, fn.AutoRetry, err)
	}

	resultMsg := chat.Function(fn.Name, result)
	if fn.AutoTruncate > 0 && s.MessageTokenLen(resultMsg) > fn.AutoTruncate {
		resultMsg = s.truncateResult(resultMsg, fn.AutoTruncate)
	}
	s.history = append(s.history, resultMsg)

	return fn.After == chat.RoleAssistant, nil
}

// handleCallError tells the model what went wrong via a history message and
// reports whether the call should be retried with functions still enabled.
func (s *Session) handleCallError(ce *CallError, attempt int) bool {
	if ce.Unknown {
		s.history = append(s.history, chat.System(
			fmt.Sprintf("The function %q is not defined. Only use the provided functions.", ce.FunctionName),
		))
	} else {
		s.history = append(s.history, chat.Function(ce.FunctionName, ce.Error()))
	}
	return ce.Retry && attempt < s.retryAttempts
}

func (s *Session) recordCompletionTokens(msg chat.Message, completionTokens int) {
	tokens := completionTokens
	if tokens <= 0 {
		tokens = s.eng.MessageLen(msg)
	}
	s.tokens.Set(msg.CacheKey(), tokens)
}

func (s *Session) functionSpecs() []engine.FunctionSpec {
	if s.functions == nil || s.functions.Len() == 0 {
		return nil
	}
	return s.functions.Specs()
}

// emit delivers one event unless the round's context is cancelled first.
func (s *Session) emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
