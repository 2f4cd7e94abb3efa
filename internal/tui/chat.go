package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/tidwall/gjson"

	"rondo/internal/chat"
)

const defaultChatLimit = 500

// ChatLine is one rendered chat item.
type ChatLine struct {
	Role    string
	Content string
}

// ChatModel stores round messages for display.
type ChatModel struct {
	lines     []ChatLine
	maxLines  int
	scrollTop int

	// viewportHeight is the number of visible content lines inside the
	// chat panel. 0 means unconstrained.
	viewportHeight int
}

// NewChatModel creates a chat buffer with retention limit.
func NewChatModel(maxLines int) ChatModel {
	limit := maxLines
	if limit <= 0 {
		limit = defaultChatLimit
	}
	return ChatModel{maxLines: limit}
}

// Append records one item when content is non-empty.
func (m *ChatModel) Append(role, content string) {
	text := strings.TrimSpace(content)
	if text == "" {
		return
	}
	wasAtBottom := m.isAtBottom()

	m.lines = append(m.lines, ChatLine{
		Role:    strings.TrimSpace(role),
		Content: text,
	})

	if overflow := len(m.lines) - m.maxLines; overflow > 0 {
		m.lines = append([]ChatLine(nil), m.lines[overflow:]...)
	}
	if wasAtBottom {
		m.scrollToBottom()
		return
	}
	m.clampScrollTop()
}

// AppendMessage renders a session message into the buffer. Assistant
// messages requesting a function call show the call signature instead of
// (usually empty) content.
func (m *ChatModel) AppendMessage(msg chat.Message) {
	switch msg.Role {
	case chat.RoleAssistant:
		if msg.FunctionCall != nil {
			m.Append("function", FormatFunctionCall(*msg.FunctionCall))
		}
		m.Append("assistant", msg.Content)
	case chat.RoleFunction:
		m.Append("function", msg.Name+" -> "+msg.Content)
	case chat.RoleSystem:
		m.Append("system", msg.Content)
	default:
		m.Append("user", msg.Content)
	}
}

// FormatFunctionCall renders a call as name(key=value, ...).
func FormatFunctionCall(call chat.FunctionCall) string {
	args := make([]string, 0, 4)
	gjson.ParseBytes(call.Arguments).ForEach(func(key, value gjson.Result) bool {
		args = append(args, key.String()+"="+value.Raw)
		return true
	})
	return call.Name + "(" + strings.Join(args, ", ") + ")"
}

// Lines returns a defensive copy of buffered items.
func (m ChatModel) Lines() []ChatLine {
	return append([]ChatLine(nil), m.lines...)
}

// Clear removes all buffered chat items.
func (m *ChatModel) Clear() {
	m.lines = nil
	m.scrollTop = 0
}

// SetViewportHeight configures the visible line count for chat content.
func (m *ChatModel) SetViewportHeight(height int) {
	if height < 0 {
		height = 0
	}
	m.viewportHeight = height
	m.clampScrollTop()
}

// ScrollUp moves the chat viewport up by lines.
func (m *ChatModel) ScrollUp(lines int) {
	if lines <= 0 {
		return
	}
	m.scrollTop -= lines
	m.clampScrollTop()
}

// ScrollDown moves the chat viewport down by lines.
func (m *ChatModel) ScrollDown(lines int) {
	if lines <= 0 {
		return
	}
	m.scrollTop += lines
	m.clampScrollTop()
}

// PageUp scrolls one viewport up.
func (m *ChatModel) PageUp() {
	step := m.viewportHeight
	if step <= 0 {
		step = 10
	}
	m.ScrollUp(step)
}

// PageDown scrolls one viewport down.
func (m *ChatModel) PageDown() {
	step := m.viewportHeight
	if step <= 0 {
		step = 10
	}
	m.ScrollDown(step)
}

// ScrollToTop jumps to the top of buffered chat lines.
func (m *ChatModel) ScrollToTop() {
	m.scrollTop = 0
}

// ScrollToBottom jumps to the most recent chat lines.
func (m *ChatModel) ScrollToBottom() {
	m.scrollToBottom()
}

// Render draws chat lines inside a panel.
func (m ChatModel) Render(width int, theme Theme) string {
	if len(m.lines) == 0 {
		return renderPanel(width, theme.PanelStyle, "No messages yet.")
	}

	rendered := make([]string, 0, len(m.lines))
	for _, item := range m.lines {
		prefix, style := rolePrefix(item.Role, theme)
		raw := strings.Split(item.Content, "\n")
		if len(raw) == 0 {
			continue
		}
		first := raw[0]
		if item.Role == "error" {
			first = theme.ErrorTextStyle.Render(first)
		}
		rendered = append(rendered, style.Render(prefix)+" "+first)
		if len(raw) > 1 {
			rendered = append(rendered, raw[1:]...)
		}
	}

	if m.viewportHeight > 0 && len(rendered) > m.viewportHeight {
		start := m.scrollTop
		maxTop := len(rendered) - m.viewportHeight
		if start < 0 {
			start = 0
		}
		if start > maxTop {
			start = maxTop
		}
		end := start + m.viewportHeight
		rendered = rendered[start:end]
	}

	return renderPanel(width, theme.PanelStyle, strings.Join(rendered, "\n"))
}

func rolePrefix(role string, theme Theme) (string, lipgloss.Style) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "assistant":
		return "assistant:", theme.AssistantPrefixStyle
	case "function":
		return "function:", theme.FunctionPrefixStyle
	case "system":
		return "system:", theme.SystemPrefixStyle
	case "error":
		return "error:", theme.ErrorTextStyle
	default:
		return "user:", theme.UserPrefixStyle
	}
}

func renderPanel(width int, style lipgloss.Style, content string) string {
	if width > 0 {
		return style.Width(width).Render(content)
	}
	return style.Render(content)
}

func (m *ChatModel) isAtBottom() bool {
	if m.viewportHeight <= 0 {
		return true
	}
	return m.scrollTop >= m.maxScrollTop()
}

func (m *ChatModel) maxScrollTop() int {
	if m.viewportHeight <= 0 {
		return 0
	}
	maxTop := m.totalRenderedLines() - m.viewportHeight
	if maxTop < 0 {
		return 0
	}
	return maxTop
}

func (m *ChatModel) scrollToBottom() {
	m.scrollTop = m.maxScrollTop()
}

func (m *ChatModel) clampScrollTop() {
	if m.scrollTop < 0 {
		m.scrollTop = 0
		return
	}
	maxTop := m.maxScrollTop()
	if m.scrollTop > maxTop {
		m.scrollTop = maxTop
	}
}

func (m *ChatModel) totalRenderedLines() int {
	total := 0
	for _, item := range m.lines {
		total += len(strings.Split(item.Content, "\n"))
	}
	return total
}
