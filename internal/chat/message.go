package chat

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
)

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleFunction marks a message carrying the result of a function call.
	RoleFunction Role = "function"
)

// FunctionCall is a model-issued request to invoke a named function.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Message is one conversation turn. Messages are treated as immutable once
// appended to a session's history; derived forms (e.g. truncated function
// results) are new values.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	// FunctionCall is present only on assistant messages requesting a call.
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
	// Name identifies which function produced a function-role message.
	Name string `json:"name,omitempty"`
}

// System builds a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User builds a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant builds a plain assistant message.
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Function builds a function-result message named after the function.
func Function(name, content string) Message {
	return Message{Role: RoleFunction, Content: content, Name: name}
}

// IsEmpty reports whether the message carries neither content nor a call.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && m.FunctionCall == nil
}

// WithContent returns a copy of the message carrying different content.
func (m Message) WithContent(content string) Message {
	clone := m.Clone()
	clone.Content = content
	return clone
}

// Clone returns a deep copy so raw argument bytes are never shared.
func (m Message) Clone() Message {
	clone := m
	if m.FunctionCall != nil {
		call := *m.FunctionCall
		call.Arguments = append(json.RawMessage(nil), m.FunctionCall.Arguments...)
		clone.FunctionCall = &call
	}
	return clone
}

// CacheKey returns a stable content-addressed key for token-length caching.
// Two messages with identical role, content, name, and call payload share a
// key; the key never changes for an immutable message.
func (m Message) CacheKey() string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(m.Role))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(m.Content))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(m.Name))
	if m.FunctionCall != nil {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(m.FunctionCall.Name))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(m.FunctionCall.Arguments)
	}
	return fmt.Sprintf("%s:%016x", m.Role, h.Sum64())
}

// CloneAll deep-copies a message slice.
func CloneAll(messages []Message) []Message {
	if len(messages) == 0 {
		return nil
	}
	cloned := make([]Message, 0, len(messages))
	for _, msg := range messages {
		cloned = append(cloned, msg.Clone())
	}
	return cloned
}
