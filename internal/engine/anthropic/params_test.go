package anthropicengine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"rondo/internal/chat"
	"rondo/internal/engine"
)

type serializedParams struct {
	Model       string              `json:"model"`
	MaxTokens   int64               `json:"max_tokens"`
	Messages    []serializedMessage `json:"messages"`
	Tools       []serializedTool    `json:"tools"`
	System      []serializedBlock   `json:"system"`
	Temperature float64             `json:"temperature"`
	ToolChoice  map[string]any      `json:"tool_choice"`
}

type serializedMessage struct {
	Role    string            `json:"role"`
	Content []serializedBlock `json:"content"`
}

type serializedBlock struct {
	Type      string               `json:"type"`
	Text      string               `json:"text"`
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Input     map[string]any       `json:"input"`
	ToolUseID string               `json:"tool_use_id"`
	IsError   bool                 `json:"is_error"`
	Content   []serializedTextPart `json:"content"`
}

type serializedTextPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type serializedTool struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	InputSchema serializedToolSchema `json:"input_schema"`
}

type serializedToolSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

func decodeParams(t *testing.T, params any) serializedParams {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	var body serializedParams
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	return body
}

func TestToMessageParamsRequiresModel(t *testing.T) {
	t.Parallel()

	_, err := toMessageParams("", []chat.Message{chat.User("hi")}, nil, engine.PredictOptions{})
	if !errors.Is(err, engine.ErrInvalidRequest) {
		t.Fatalf("error = %v, want ErrInvalidRequest", err)
	}
}

func TestToMessageParamsSystemPrefix(t *testing.T) {
	t.Parallel()

	messages := []chat.Message{
		chat.System("be brief"),
		chat.System("answer in english"),
		chat.User("hi"),
	}
	params, err := toMessageParams("claude-sonnet-4-20250514", messages, nil, engine.PredictOptions{})
	if err != nil {
		t.Fatalf("toMessageParams() error = %v", err)
	}

	body := decodeParams(t, params)
	if len(body.System) != 1 || body.System[0].Text != "be brief\n\nanswer in english" {
		t.Fatalf("system = %+v", body.System)
	}
	if len(body.Messages) != 1 || body.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v", body.Messages)
	}
	if body.MaxTokens != defaultMaxTokens {
		t.Fatalf("max_tokens = %d, want default %d", body.MaxTokens, defaultMaxTokens)
	}
}

func TestToMessageParamsMidConversationSystemBecomesUser(t *testing.T) {
	t.Parallel()

	messages := []chat.Message{
		chat.User("call foo"),
		{Role: chat.RoleAssistant, FunctionCall: &chat.FunctionCall{Name: "real", Arguments: []byte(`{}`)}},
		chat.Function("real", "ok"),
		chat.System(`The function "foo" is not defined. Only use the provided functions.`),
	}
	params, err := toMessageParams("claude-sonnet-4-20250514", messages, nil, engine.PredictOptions{})
	if err != nil {
		t.Fatalf("toMessageParams() error = %v", err)
	}

	body := decodeParams(t, params)
	if len(body.System) != 0 {
		t.Fatalf("mid-conversation system message leaked into system slot: %+v", body.System)
	}
	last := body.Messages[len(body.Messages)-1]
	if last.Role != "user" || last.Content[0].Type != "text" {
		t.Fatalf("last message = %+v, want user text", last)
	}
}

func TestToMessageParamsPairsCallAndResult(t *testing.T) {
	t.Parallel()

	messages := []chat.Message{
		chat.User("weather?"),
		{
			Role:    chat.RoleAssistant,
			Content: "checking",
			FunctionCall: &chat.FunctionCall{
				Name:      "get_weather",
				Arguments: []byte(`{"city":"tokyo"}`),
			},
		},
		chat.Function("get_weather", "sunny"),
	}
	params, err := toMessageParams("claude-sonnet-4-20250514", messages, nil, engine.PredictOptions{})
	if err != nil {
		t.Fatalf("toMessageParams() error = %v", err)
	}

	body := decodeParams(t, params)
	if len(body.Messages) != 3 {
		t.Fatalf("message count = %d, want 3", len(body.Messages))
	}

	assistant := body.Messages[1]
	if assistant.Role != "assistant" || len(assistant.Content) != 2 {
		t.Fatalf("assistant message = %+v", assistant)
	}
	toolUse := assistant.Content[1]
	if toolUse.Type != "tool_use" || toolUse.Name != "get_weather" || toolUse.ID == "" {
		t.Fatalf("tool_use block = %+v", toolUse)
	}
	if toolUse.Input["city"] != "tokyo" {
		t.Fatalf("tool_use input = %+v", toolUse.Input)
	}

	result := body.Messages[2]
	if result.Role != "user" || result.Content[0].Type != "tool_result" {
		t.Fatalf("result message = %+v", result)
	}
	if result.Content[0].ToolUseID != toolUse.ID {
		t.Fatalf("tool_use_id = %q, want %q", result.Content[0].ToolUseID, toolUse.ID)
	}
}

func TestToMessageParamsOrphanResultDegradesToText(t *testing.T) {
	t.Parallel()

	messages := []chat.Message{
		chat.Function("get_weather", "sunny"),
		chat.User("what did it say?"),
	}
	params, err := toMessageParams("claude-sonnet-4-20250514", messages, nil, engine.PredictOptions{})
	if err != nil {
		t.Fatalf("toMessageParams() error = %v", err)
	}

	body := decodeParams(t, params)
	first := body.Messages[0]
	if first.Role != "user" || first.Content[0].Type != "text" {
		t.Fatalf("orphan result mapped to %+v, want labeled user text", first)
	}
	if first.Content[0].Text != "get_weather returned: sunny" {
		t.Fatalf("orphan result text = %q", first.Content[0].Text)
	}
}

func TestToMessageParamsToolsAndChoice(t *testing.T) {
	t.Parallel()

	specs := []engine.FunctionSpec{{
		Name:        "get_weather",
		Description: "Look up the weather.",
		Schema:      []byte(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
	}}

	params, err := toMessageParams("claude-sonnet-4-20250514", []chat.Message{chat.User("hi")}, specs, engine.PredictOptions{})
	if err != nil {
		t.Fatalf("toMessageParams() error = %v", err)
	}
	body := decodeParams(t, params)
	if len(body.Tools) != 1 {
		t.Fatalf("tools = %+v", body.Tools)
	}
	tool := body.Tools[0]
	if tool.Name != "get_weather" || tool.Description != "Look up the weather." {
		t.Fatalf("tool = %+v", tool)
	}
	if _, ok := tool.InputSchema.Properties["city"]; !ok {
		t.Fatalf("tool schema properties = %+v", tool.InputSchema.Properties)
	}
	if body.ToolChoice["type"] != "auto" {
		t.Fatalf("tool_choice = %+v, want auto", body.ToolChoice)
	}

	params, err = toMessageParams("claude-sonnet-4-20250514", []chat.Message{chat.User("hi")}, specs, engine.PredictOptions{DisableFunctions: true})
	if err != nil {
		t.Fatalf("toMessageParams() error = %v", err)
	}
	body = decodeParams(t, params)
	if body.ToolChoice["type"] != "none" {
		t.Fatalf("tool_choice = %+v, want none", body.ToolChoice)
	}
}

func TestMessageLenHeuristic(t *testing.T) {
	t.Parallel()

	e := New(Config{APIKey: "key", Model: "m"})

	plain := chat.User("12345678") // 8 chars -> 2 tokens + overhead
	if got := e.MessageLen(plain); got != messageOverheadTokens+2 {
		t.Fatalf("MessageLen(plain) = %d, want %d", got, messageOverheadTokens+2)
	}

	withCall := chat.Message{
		Role: chat.RoleAssistant,
		FunctionCall: &chat.FunctionCall{
			Name:      "get_weather", // 11 chars
			Arguments: []byte(`{"city":"t"}`), // 12 chars
		},
	}
	want := messageOverheadTokens + functionCallOverheadTokens + (11+12)/charsPerToken
	if got := e.MessageLen(withCall); got != want {
		t.Fatalf("MessageLen(call) = %d, want %d", got, want)
	}
}

func TestContextWindowForModel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		model string
		want  int
	}{
		{"claude-sonnet-4-20250514", 200_000},
		{"claude-2.1", 200_000},
		{"claude-2.0", 100_000},
		{"claude-instant-1.2", 100_000},
		{"", 200_000},
	}
	for _, tc := range cases {
		e := New(Config{APIKey: "key", Model: tc.model})
		if got := e.MaxContextSize(); got != tc.want {
			t.Fatalf("MaxContextSize(%q) = %d, want %d", tc.model, got, tc.want)
		}
	}

	e := New(Config{APIKey: "key", Model: "claude-2.0", MaxContextSize: 42})
	if got := e.MaxContextSize(); got != 42 {
		t.Fatalf("explicit override = %d, want 42", got)
	}
}

func TestPredictRequiresAPIKey(t *testing.T) {
	t.Parallel()

	e := New(Config{Model: "m"})
	_, err := e.Predict(context.Background(), []chat.Message{chat.User("hi")}, nil, engine.PredictOptions{})
	if !errors.Is(err, engine.ErrMissingAPIKey) {
		t.Fatalf("error = %v, want ErrMissingAPIKey", err)
	}
}
