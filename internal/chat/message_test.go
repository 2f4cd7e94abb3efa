package chat

import (
	"encoding/json"
	"testing"
)

func TestConstructors(t *testing.T) {
	t.Parallel()

	if msg := System("rules"); msg.Role != RoleSystem || msg.Content != "rules" {
		t.Fatalf("System() = %+v", msg)
	}
	if msg := User("hi"); msg.Role != RoleUser || msg.Content != "hi" {
		t.Fatalf("User() = %+v", msg)
	}
	if msg := Assistant("hello"); msg.Role != RoleAssistant || msg.Content != "hello" {
		t.Fatalf("Assistant() = %+v", msg)
	}
	msg := Function("get_weather", "sunny")
	if msg.Role != RoleFunction || msg.Name != "get_weather" || msg.Content != "sunny" {
		t.Fatalf("Function() = %+v", msg)
	}
}

func TestCacheKeyIsStableAndDiscriminating(t *testing.T) {
	t.Parallel()

	msg := Message{
		Role:    RoleAssistant,
		Content: "hello",
		FunctionCall: &FunctionCall{
			Name:      "f",
			Arguments: json.RawMessage(`{"x":1}`),
		},
	}

	if msg.CacheKey() != msg.CacheKey() {
		t.Fatal("CacheKey must be deterministic")
	}
	if msg.CacheKey() != msg.Clone().CacheKey() {
		t.Fatal("a clone must share its source's cache key")
	}

	variants := []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hello!"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleAssistant, Content: "hello", FunctionCall: &FunctionCall{Name: "g", Arguments: json.RawMessage(`{"x":1}`)}},
		{Role: RoleAssistant, Content: "hello", FunctionCall: &FunctionCall{Name: "f", Arguments: json.RawMessage(`{"x":2}`)}},
	}
	for i, variant := range variants {
		if variant.CacheKey() == msg.CacheKey() {
			t.Fatalf("variant %d collides with base message", i)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	original := Message{
		Role: RoleAssistant,
		FunctionCall: &FunctionCall{
			Name:      "f",
			Arguments: json.RawMessage(`{"x":1}`),
		},
	}

	clone := original.Clone()
	clone.FunctionCall.Name = "mutated"
	clone.FunctionCall.Arguments[2] = 'y'

	if original.FunctionCall.Name != "f" {
		t.Fatalf("clone mutation leaked into original name: %q", original.FunctionCall.Name)
	}
	if string(original.FunctionCall.Arguments) != `{"x":1}` {
		t.Fatalf("clone mutation leaked into original arguments: %q", original.FunctionCall.Arguments)
	}
}

func TestWithContent(t *testing.T) {
	t.Parallel()

	msg := Function("f", "long result")
	short := msg.WithContent("short")
	if short.Content != "short" || short.Name != "f" || short.Role != RoleFunction {
		t.Fatalf("WithContent() = %+v", short)
	}
	if msg.Content != "long result" {
		t.Fatal("WithContent must not mutate the receiver")
	}
}

func TestIsEmpty(t *testing.T) {
	t.Parallel()

	if !(Message{Role: RoleAssistant}).IsEmpty() {
		t.Fatal("blank assistant message should be empty")
	}
	if (Message{Role: RoleAssistant, Content: "x"}).IsEmpty() {
		t.Fatal("message with content is not empty")
	}
	if (Message{Role: RoleAssistant, FunctionCall: &FunctionCall{Name: "f"}}).IsEmpty() {
		t.Fatal("message with a function call is not empty")
	}
}

func TestMessageJSONOmitsEmptyFields(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(User("hi"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"role":"user","content":"hi"}`
	if string(raw) != want {
		t.Fatalf("Marshal() = %s, want %s", raw, want)
	}
}
