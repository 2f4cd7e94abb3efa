// Package tui implements the interactive terminal chat client.
package tui

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"rondo/internal/chat"
	"rondo/internal/session"
	"rondo/internal/transcript"
)

const defaultAppWidth = 100

// AppConfig configures the root BubbleTea model.
type AppConfig struct {
	Version      string
	EngineName   string
	ThemeName    string
	Session      *session.Session
	Transcripts  *transcript.Store
	TranscriptID string
}

type roundEventMsg struct {
	Event  session.Event
	Closed bool
}

// App is the root TUI model. It drives one session round at a time and
// mirrors every completed message into the transcript store.
type App struct {
	theme Theme

	session      *session.Session
	transcripts  *transcript.Store
	transcriptID string

	width  int
	height int

	status StatusModel
	chat   ChatModel
	input  InputModel

	activeRound <-chan session.Event
}

// NewApp constructs the root TUI model with defaults.
func NewApp(cfg AppConfig) *App {
	model := &App{
		theme:        ResolveTheme(cfg.ThemeName),
		session:      cfg.Session,
		transcripts:  cfg.Transcripts,
		transcriptID: strings.TrimSpace(cfg.TranscriptID),
		status:       NewStatusModel(cfg.Version, cfg.EngineName, cfg.TranscriptID),
		chat:         NewChatModel(0),
		input:        NewInputModel(">", "Type message and press Enter"),
	}
	model.width = defaultAppWidth

	if cfg.Session != nil {
		for _, msg := range cfg.Session.History() {
			model.chat.AppendMessage(msg)
		}
	}
	return model
}

// Init starts background commands if needed.
func (m *App) Init() tea.Cmd {
	return nil
}

// Update applies state changes from user input and round events.
func (m *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chat.SetViewportHeight(m.chatViewportHeight())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "q":
			if strings.TrimSpace(m.input.Value()) == "" && m.activeRound == nil {
				return m, tea.Quit
			}
		}

		if m.handleChatScrollKey(msg) {
			return m, nil
		}

		if submitted := m.input.HandleKey(msg); submitted {
			content := strings.TrimSpace(m.input.Value())
			m.input.Clear()
			return m, m.handleInputSubmit(content)
		}
		return m, nil

	case roundEventMsg:
		if msg.Closed {
			m.activeRound = nil
			m.status.SetState("idle")
			return m, nil
		}
		m.consumeEvent(msg.Event)
		if m.activeRound != nil {
			return m, readRoundEventCommand(m.activeRound)
		}
		return m, nil
	}

	return m, nil
}

// View renders status bar, chat panel, and input line.
func (m *App) View() string {
	width := m.width
	if width <= 0 {
		width = defaultAppWidth
	}

	statusLine := m.status.Render(width, m.theme)
	m.chat.SetViewportHeight(m.chatViewportHeight())
	body := m.chat.Render(width, m.theme)
	inputLine := m.input.Render(width, m.theme)
	return strings.Join([]string{statusLine, body, inputLine}, "\n")
}

func (m *App) handleInputSubmit(content string) tea.Cmd {
	if content == "" {
		return nil
	}
	if strings.HasPrefix(content, "/") {
		return m.handleSlashCommand(content)
	}
	if m.session == nil {
		m.chat.Append("error", "session is not initialized")
		return nil
	}
	if m.activeRound != nil {
		m.chat.Append("error", "round in progress")
		return nil
	}

	m.chat.Append("user", content)
	m.recordTranscript(chat.User(content))

	stream := m.session.FullRound(context.Background(), content)
	m.activeRound = stream
	m.status.SetState("thinking")
	return readRoundEventCommand(stream)
}

func (m *App) handleSlashCommand(content string) tea.Cmd {
	fields := strings.Fields(content)
	command := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch command {
	case "/quit":
		return tea.Quit
	case "/clear":
		m.chat.Clear()
		return nil
	}
	if m.session == nil {
		m.chat.Append("error", "session is not initialized")
		return nil
	}

	switch command {
	case "/save":
		if arg == "" {
			m.chat.Append("error", "usage: /save <path>")
			return nil
		}
		if err := m.session.SaveFile(arg); err != nil {
			m.chat.Append("error", err.Error())
			return nil
		}
		m.chat.Append("system", "saved session to "+arg)
		return nil
	case "/load":
		if arg == "" {
			m.chat.Append("error", "usage: /load <path>")
			return nil
		}
		if err := m.session.LoadFile(arg); err != nil {
			m.chat.Append("error", err.Error())
			return nil
		}
		m.chat.Clear()
		for _, msg := range m.session.History() {
			m.chat.AppendMessage(msg)
		}
		m.chat.Append("system", "loaded session from "+arg)
		return nil
	default:
		m.chat.Append("error", "unknown command: "+command)
		return nil
	}
}

func readRoundEventCommand(stream <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-stream
		if !ok {
			return roundEventMsg{Closed: true}
		}
		return roundEventMsg{Event: event}
	}
}

func (m *App) consumeEvent(ev session.Event) {
	if ev.Err != nil {
		m.chat.Append("error", ev.Err.Error())
		m.status.SetState("error")
		return
	}
	m.chat.AppendMessage(ev.Message)
	m.recordTranscript(ev.Message)
	if ev.Message.FunctionCall != nil {
		m.status.SetState("calling " + ev.Message.FunctionCall.Name)
	} else {
		m.status.SetState("thinking")
	}
}

func (m *App) recordTranscript(msg chat.Message) {
	if m.transcripts == nil || m.transcriptID == "" {
		return
	}
	entry := transcript.FromMessage(msg)
	if err := m.transcripts.Append(context.Background(), m.transcriptID, entry); err != nil {
		m.chat.Append("error", err.Error())
	}
}

func (m *App) handleChatScrollKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup":
		m.chat.PageUp()
		return true
	case "pgdown":
		m.chat.PageDown()
		return true
	case "ctrl+u":
		m.chat.ScrollUp(3)
		return true
	case "ctrl+d":
		m.chat.ScrollDown(3)
		return true
	case "home":
		m.chat.ScrollToTop()
		return true
	case "end":
		m.chat.ScrollToBottom()
		return true
	}
	return false
}

// chatViewportHeight computes visible chat lines from terminal height,
// leaving room for the status bar, input line, and panel border.
func (m *App) chatViewportHeight() int {
	if m.height <= 0 {
		return 0
	}
	height := m.height - 2 - 4
	if height < 1 {
		return 1
	}
	return height
}
