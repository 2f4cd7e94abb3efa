// Package anthropicengine implements the backend contract over the official
// anthropic-sdk-go client using the non-streaming Messages API.
package anthropicengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"rondo/internal/chat"
	"rondo/internal/engine"
)

const (
	defaultMaxContextSize = 200_000
	defaultTokenReserve   = 500
	defaultMaxTokens      = 1024

	// Token-length heuristic: roughly four characters per token for
	// English text, plus fixed per-message wrapper overhead.
	charsPerToken              = 4
	messageOverheadTokens      = 5
	functionCallOverheadTokens = 10
)

// Config configures the Anthropic engine.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Version    string
	HTTPClient *http.Client
	Retry      RetryPolicy

	// MaxContextSize overrides the model's context window; zero selects
	// the model default.
	MaxContextSize int
	// TokenReserve overrides the per-request overhead reserved for the
	// system wrapper and function schemas; zero selects the default.
	TokenReserve int
}

// Engine is a thin wrapper around the official anthropic-sdk-go client.
type Engine struct {
	apiKey         string
	model          string
	retry          RetryPolicy
	maxContextSize int
	tokenReserve   int

	client anthropic.Client
}

// New constructs an engine with normalized defaults.
func New(cfg Config) *Engine {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	version := strings.TrimSpace(cfg.Version)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}

	maxContext := cfg.MaxContextSize
	if maxContext <= 0 {
		maxContext = contextWindowForModel(cfg.Model)
	}
	reserve := cfg.TokenReserve
	if reserve <= 0 {
		reserve = defaultTokenReserve
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	clientOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0), // explicit retry behavior in this package
	}
	if baseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(baseURL))
	}
	if version != "" {
		clientOptions = append(clientOptions, option.WithHeader("anthropic-version", version))
	}

	return &Engine{
		apiKey:         apiKey,
		model:          strings.TrimSpace(cfg.Model),
		retry:          normalizeRetryPolicy(cfg.Retry),
		maxContextSize: maxContext,
		tokenReserve:   reserve,
		client:         anthropic.NewClient(clientOptions...),
	}
}

// contextWindowForModel returns the context window for known model families.
// Current-generation models all advertise 200k; only the legacy claude-2 and
// claude-instant lines are smaller.
func contextWindowForModel(model string) int {
	name := strings.TrimSpace(model)
	switch {
	case strings.HasPrefix(name, "claude-2.1"):
		return 200_000
	case strings.HasPrefix(name, "claude-2"), strings.HasPrefix(name, "claude-instant"):
		return 100_000
	default:
		return defaultMaxContextSize
	}
}

// Predict executes one Messages API request, retrying transport-level
// failures per the engine's retry policy. Semantic retries belong to the
// session, not here.
func (e *Engine) Predict(ctx context.Context, messages []chat.Message, functions []engine.FunctionSpec, opts engine.PredictOptions) (engine.Completion, error) {
	if strings.TrimSpace(e.apiKey) == "" {
		return engine.Completion{}, engine.ErrMissingAPIKey
	}

	params, err := toMessageParams(e.model, messages, functions, opts)
	if err != nil {
		return engine.Completion{}, err
	}

	var resp *anthropic.Message
	for attempt := 0; ; attempt++ {
		resp, err = e.client.Messages.New(ctx, params)
		if err == nil {
			break
		}
		if attempt >= e.retry.MaxRetries || !isRetryableAPIError(err) {
			return engine.Completion{}, fmt.Errorf("anthropic predict: %w", err)
		}
		if err := sleepContext(ctx, backoffDelay(e.retry, attempt)); err != nil {
			return engine.Completion{}, err
		}
	}

	msg, err := fromSDKMessage(resp)
	if err != nil {
		return engine.Completion{}, err
	}
	return engine.Completion{
		Message:          msg,
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

// MessageLen estimates the token cost of one message. It is a pure function
// of message content; exact counts come back via completion usage.
func (e *Engine) MessageLen(msg chat.Message) int {
	tokens := messageOverheadTokens + (len(msg.Content)+len(msg.Name))/charsPerToken
	if msg.FunctionCall != nil {
		tokens += functionCallOverheadTokens +
			(len(msg.FunctionCall.Name)+len(msg.FunctionCall.Arguments))/charsPerToken
	}
	return tokens
}

// MaxContextSize returns the model's context window in tokens.
func (e *Engine) MaxContextSize() int {
	return e.maxContextSize
}

// TokenReserve returns the fixed per-request prompt overhead.
func (e *Engine) TokenReserve() int {
	return e.tokenReserve
}

// fromSDKMessage converts one SDK response into the canonical message form.
// The first tool_use block becomes the message's function call.
func fromSDKMessage(resp *anthropic.Message) (chat.Message, error) {
	if resp == nil {
		return chat.Message{}, errors.New("anthropic predict: empty response")
	}

	var text strings.Builder
	var call *chat.FunctionCall
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			if call != nil {
				continue
			}
			args, err := json.Marshal(variant.Input)
			if err != nil {
				return chat.Message{}, fmt.Errorf("marshal tool_use input: %w", err)
			}
			call = &chat.FunctionCall{
				Name:      variant.Name,
				Arguments: args,
			}
		}
	}

	return chat.Message{
		Role:         chat.RoleAssistant,
		Content:      text.String(),
		FunctionCall: call,
	}, nil
}
