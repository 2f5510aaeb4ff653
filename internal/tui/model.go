// Package tui is an interactive terminal chat over one textbook.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"textbook-rag/internal/chat"
	"textbook-rag/internal/models"
)

// ChatPort is the TUI-facing subset of the chat orchestrator.
type ChatPort interface {
	Stream(ctx context.Context, req chat.Request) <-chan chat.Event
}

type entry struct {
	role    models.MessageRole
	content string
	sources []models.Source
	failed  bool
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	service    ChatPort
	textbookID string
	title      string
	sessionID  string

	input    textinput.Model
	viewport viewport.Model
	ready    bool
	status   string

	history []entry
	events  <-chan chat.Event
	cancel  context.CancelFunc
}

type eventMsg chat.Event

type streamDoneMsg struct{}

func New(service ChatPort, textbookID, title string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the textbook and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		service:    service,
		textbookID: textbookID,
		title:      title,
		input:      ti,
		viewport:   viewport.New(0, 0),
		status:     "Ready. Esc cancels an answer, Ctrl+C quits.",
	}
}

// SessionID is the chat session created by the first answer.
func (m Model) SessionID() string { return m.sessionID }

func (m Model) Init() tea.Cmd { return textinput.Blink }

func waitForEvent(ch <-chan chat.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamDoneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		reserved := 1 + 1 + ih + 1 // header, status, input box, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.cancel != nil {
				m.cancel()
				m.status = "Answer cancelled."
			}
			return m, nil
		case tea.KeyEnter:
			if m.events != nil {
				return m, nil
			}
			q := strings.TrimSpace(m.input.Value())
			if q == "" {
				return m, nil
			}
			m.input.Reset()
			return m.ask(q)
		}

	case eventMsg:
		m.apply(chat.Event(msg))
		m.refresh()
		return m, waitForEvent(m.events)

	case streamDoneMsg:
		if m.cancel != nil {
			m.cancel()
		}
		m.events, m.cancel = nil, nil
		if !strings.HasPrefix(m.status, "Error") && m.status != "Answer cancelled." {
			m.status = "Ready."
		}
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.events = m.service.Stream(ctx, chat.Request{Query: q, TextbookID: m.textbookID, SessionID: m.sessionID})
	m.history = append(m.history, entry{role: models.RoleUser, content: q})
	m.status = "Thinking..."
	m.refresh()
	return m, waitForEvent(m.events)
}

// apply folds one stream event into the transcript.
func (m *Model) apply(ev chat.Event) {
	switch ev.Kind {
	case chat.EventStart:
		m.sessionID = ev.SessionID
		m.history = append(m.history, entry{role: models.RoleAssistant, sources: ev.Sources})
		m.status = "Answering..."
	case chat.EventContent:
		if n := len(m.history); n > 0 && m.history[n-1].role == models.RoleAssistant {
			m.history[n-1].content += ev.Content
		}
	case chat.EventError:
		m.history = append(m.history, entry{role: models.RoleAssistant, content: ev.Error, failed: true})
		m.status = fmt.Sprintf("Error (%d)", ev.StatusCode)
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render(m.title)
	body := transcriptStyle.Render(m.viewport.View())
	input := inputStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + body + "\n" + input + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.history) == 0 {
		return "No messages yet."
	}
	var b strings.Builder
	for _, e := range m.history {
		switch {
		case e.role == models.RoleUser:
			b.WriteString(userStyle.Render("You: "))
			b.WriteString(e.content)
		case e.failed:
			b.WriteString(errorStyle.Render("Error: " + e.content))
		default:
			b.WriteString(assistantStyle.Render("Tutor: "))
			b.WriteString(e.content)
			if len(e.sources) > 0 {
				b.WriteString("\n")
				b.WriteString(sourceStyle.Render(renderSources(e.sources)))
			}
		}
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSources(sources []models.Source) string {
	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = fmt.Sprintf("%s (%.2f)", s.Title, s.RelevanceScore)
	}
	return "Sources: " + strings.Join(parts, ", ")
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sourceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)
