// Package mockengine provides a scripted backend for tests and offline
// runs.
package mockengine

import (
	"context"
	"sync"

	"rondo/internal/chat"
	"rondo/internal/engine"
)

const (
	defaultMaxContextSize = 8192
	charsPerToken         = 4
)

// Call records one Predict invocation for assertions.
type Call struct {
	Messages  []chat.Message
	Functions []engine.FunctionSpec
	Opts      engine.PredictOptions
}

// Engine replays scripted completions in order. When the script is
// exhausted it echoes the newest user message, which keeps interactive
// offline sessions usable.
type Engine struct {
	// MessageLenFn overrides the default character-count heuristic.
	MessageLenFn func(chat.Message) int
	// MaxContext and Reserve override the advertised window geometry.
	MaxContext int
	Reserve    int

	mu          sync.Mutex
	completions []engine.Completion
	calls       []Call
}

// New creates a mock engine that replays the given completions.
func New(completions ...engine.Completion) *Engine {
	return &Engine{completions: completions}
}

// Reply is a convenience scripted completion carrying plain text.
func Reply(text string) engine.Completion {
	return engine.Completion{Message: chat.Assistant(text)}
}

// CallFunction is a convenience scripted completion requesting a call.
func CallFunction(name, arguments string) engine.Completion {
	return engine.Completion{Message: chat.Message{
		Role:         chat.RoleAssistant,
		FunctionCall: &chat.FunctionCall{Name: name, Arguments: []byte(arguments)},
	}}
}

// Predict records the request and returns the next scripted completion.
func (e *Engine) Predict(ctx context.Context, messages []chat.Message, functions []engine.FunctionSpec, opts engine.PredictOptions) (engine.Completion, error) {
	if err := ctx.Err(); err != nil {
		return engine.Completion{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, Call{
		Messages:  chat.CloneAll(messages),
		Functions: append([]engine.FunctionSpec(nil), functions...),
		Opts:      opts,
	})

	if len(e.completions) > 0 {
		next := e.completions[0]
		e.completions = e.completions[1:]
		return next, nil
	}
	return Reply("echo: " + newestUserContent(messages)), nil
}

// MessageLen estimates token cost with the shared heuristic unless
// overridden.
func (e *Engine) MessageLen(msg chat.Message) int {
	if e.MessageLenFn != nil {
		return e.MessageLenFn(msg)
	}
	tokens := 1 + len(msg.Content)/charsPerToken
	if msg.FunctionCall != nil {
		tokens += 1 + len(msg.FunctionCall.Arguments)/charsPerToken
	}
	return tokens
}

// MaxContextSize returns the advertised context window.
func (e *Engine) MaxContextSize() int {
	if e.MaxContext > 0 {
		return e.MaxContext
	}
	return defaultMaxContextSize
}

// TokenReserve returns the advertised fixed prompt overhead.
func (e *Engine) TokenReserve() int {
	return e.Reserve
}

// Calls returns all recorded Predict invocations.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

func newestUserContent(messages []chat.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chat.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
