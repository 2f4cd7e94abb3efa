// Package engine defines the contract between the session core and a
// language-model backend.
package engine

import (
	"context"
	"encoding/json"
	"errors"

	"rondo/internal/chat"
)

var (
	// ErrInvalidRequest indicates a malformed prediction request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrMissingAPIKey indicates missing backend credentials.
	ErrMissingAPIKey = errors.New("missing API key")
)

// FunctionSpec describes one callable function exposed to the model.
type FunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// PredictOptions carries per-call tuning knobs.
type PredictOptions struct {
	// DisableFunctions forces a plain reply even when functions are passed.
	DisableFunctions bool
	Temperature      *float64
	MaxTokens        int
}

// Completion is one model response.
type Completion struct {
	Message chat.Message
	// CompletionTokens is the backend-reported token count for Message,
	// or zero when the backend does not report usage.
	CompletionTokens int
}

// Engine converts a message list plus a function list into a completion and
// reports token costs. Implementations must be safe for concurrent use by
// independent sessions; each session issues at most one call at a time.
type Engine interface {
	// Predict requests one completion. Network-level retries and timeouts
	// are the engine's responsibility; the session never retries here.
	Predict(ctx context.Context, messages []chat.Message, functions []FunctionSpec, opts PredictOptions) (Completion, error)

	// MessageLen returns the token cost of one message. It must be a pure
	// function of message content.
	MessageLen(msg chat.Message) int

	// MaxContextSize is the model's context window in tokens.
	MaxContextSize() int

	// TokenReserve is the fixed per-request overhead reserved from every
	// prompt (wrapper tokens, function schemas, and similar).
	TokenReserve() int
}
