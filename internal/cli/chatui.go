package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textarea"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss"

	"github.com/mkarlsen/repochat/internal/chat"
	"github.com/mkarlsen/repochat/internal/metrics"
	"github.com/mkarlsen/repochat/internal/models"
	"github.com/mkarlsen/repochat/internal/rooms"
)

// submitTimeout bounds the HTTP trigger call behind a submission.
const submitTimeout = 30 * time.Second

// inputHeight is the textarea height in rows.
const inputHeight = 3

// Theme holds the color scheme for the chat display.
type Theme struct {
	User      lipgloss.Color
	Assistant lipgloss.Color
	Status    lipgloss.Color
	Success   lipgloss.Color
	Error     lipgloss.Color
	Hint      lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	User:      lipgloss.Color("#5FAFD7"), // light blue
	Assistant: lipgloss.Color("#D7AF5F"), // amber
	Status:    lipgloss.Color("#5FAFD7"),
	Success:   lipgloss.Color("#00D787"), // green
	Error:     lipgloss.Color("#FF005F"), // red
	Hint:      lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) userStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.User).Bold(true)
}

func (t Theme) assistantStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Assistant).Bold(true)
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) connectedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// sessionUpdateMsg signals that the session's observable state changed.
type sessionUpdateMsg struct{}

// submitDoneMsg carries the outcome of a submission.
type submitDoneMsg struct {
	err error
}

// rejoinDoneMsg carries the outcome of an explicit room rejoin.
type rejoinDoneMsg struct {
	err error
}

// chatModel is the bubbletea model for the streaming chat session.
type chatModel struct {
	session *chat.Session
	rooms   *rooms.Client
	repo    models.Repo
	stats   *metrics.Collector
	theme   Theme

	viewport viewport.Model
	input    textarea.Model
	spin     spinner.Model
	sub      *chat.Subscription

	width    int
	height   int
	ready    bool
	quitting bool
	status   string
}

// newChatModel creates the chat model bound to a running session.
func newChatModel(session *chat.Session, roomClient *rooms.Client, repo models.Repo, stats *metrics.Collector) chatModel {
	ta := textarea.New()
	ta.Placeholder = "Ask about " + repo.Name + "..."
	ta.Prompt = "┃ "
	ta.CharLimit = 4000
	ta.ShowLineNumbers = false
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline.SetEnabled(false)

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot

	return chatModel{
		session:  session,
		rooms:    roomClient,
		repo:     repo,
		stats:    stats,
		theme:    defaultTheme,
		viewport: viewport.New(),
		input:    ta,
		spin:     sp,
		sub:      session.Subscribe(8),
	}
}

// Init starts the spinner, focuses the input, and begins listening for
// session updates.
func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		m.input.Focus(),
		m.spin.Tick,
		m.waitForUpdate(),
	)
}

// waitForUpdate blocks on the session subscription and converts each
// signal into a message. Re-issued after every sessionUpdateMsg.
func (m chatModel) waitForUpdate() tea.Cmd {
	sub := m.sub
	return func() tea.Msg {
		if _, ok := <-sub.Updates(); !ok {
			return nil
		}
		return sessionUpdateMsg{}
	}
}

// Update handles messages and returns the updated model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.SetWidth(msg.Width)
		m.viewport.SetHeight(max(msg.Height-inputHeight-3, 3))
		m.input.SetWidth(msg.Width - 2)
		m.ready = true
		m.refreshTranscript()
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			m.sub.Close()
			return m, tea.Quit

		case "enter":
			return m.submit()

		case "tab":
			m.toggleMode()
			return m, nil

		case "ctrl+n":
			m.session.StartNewChat()
			m.status = "new chat started"
			m.refreshTranscript()
			return m, nil

		case "ctrl+y":
			m.copyLastAnswer()
			return m, nil

		case "ctrl+r":
			return m, m.rejoinRoom()
		}

		// Everything else edits the input or scrolls the transcript.
		var inputCmd, vpCmd tea.Cmd
		m.input, inputCmd = m.input.Update(msg)
		m.viewport, vpCmd = m.viewport.Update(msg)
		return m, tea.Batch(inputCmd, vpCmd)

	case sessionUpdateMsg:
		m.refreshTranscript()
		return m, m.waitForUpdate()

	case submitDoneMsg:
		return m.afterSubmit(msg.err)

	case rejoinDoneMsg:
		if msg.err != nil {
			m.status = "rejoin failed: " + msg.err.Error()
		} else {
			m.status = "room rejoined"
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// submit hands the input text to the session. The HTTP trigger inside
// Submit is an awaited round trip, so it runs as a command, off the
// update loop.
func (m chatModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}

	session := m.session
	m.input.Reset()
	m.status = ""
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		defer cancel()
		return submitDoneMsg{err: session.Submit(ctx, text)}
	}
}

// afterSubmit maps submission errors to status text. Validation
// rejections stay silent, matching the protocol's no-op policy.
func (m chatModel) afterSubmit(err error) (tea.Model, tea.Cmd) {
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrBusy),
		errors.Is(err, chat.ErrEmpty),
		errors.Is(err, chat.ErrDuplicate):
	case errors.Is(err, chat.ErrDisconnected):
		m.status = "disconnected, waiting for reconnect"
	default:
		// Trigger failures already surfaced as the fallback message.
		m.status = "submission failed"
	}
	m.refreshTranscript()
	return m, nil
}

func (m *chatModel) toggleMode() {
	next := models.ModeFast
	if m.session.Mode() == models.ModeFast {
		next = models.ModeAccurate
	}
	if err := m.session.SetMode(next); err == nil {
		m.status = "mode: " + string(next)
	}
}

// copyLastAnswer yanks the most recent finalized assistant message.
func (m *chatModel) copyLastAnswer() {
	messages := m.session.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != models.RoleAssistant || !msg.Final {
			continue
		}
		if err := clipboard.WriteAll(msg.Content); err != nil {
			m.status = "copy failed: " + err.Error()
		} else {
			m.status = "answer copied"
		}
		return
	}
	m.status = "nothing to copy yet"
}

// rejoinRoom re-enters the repository room after a reconnect. Membership
// does not survive a drop, so this stays an explicit action.
func (m *chatModel) rejoinRoom() tea.Cmd {
	if m.rooms.Joined(m.repo.ID) {
		m.status = "already in room"
		return nil
	}
	roomClient, repoID := m.rooms, m.repo.ID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
		defer cancel()
		return rejoinDoneMsg{err: roomClient.Join(ctx, repoID)}
	}
}

// refreshTranscript re-renders the conversation into the viewport,
// pinned to the bottom so streaming chunks stay in view.
func (m *chatModel) refreshTranscript() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m *chatModel) renderTranscript() string {
	messages := m.session.Messages()
	if len(messages) == 0 {
		return m.theme.hintStyle().Render("Ask a question about " + m.repo.Name + " to get started.")
	}

	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			b.WriteString(m.theme.userStyle().Render("You"))
			b.WriteString("\n")
			b.WriteString(msg.Content)
		default:
			b.WriteString(m.theme.assistantStyle().Render("Assistant"))
			b.WriteString("\n")
			// Markdown rendering waits for the final text; re-rendering
			// every chunk flickers.
			if msg.Final {
				b.WriteString(renderMarkdown(msg.Content, m.width))
			} else {
				b.WriteString(msg.Content)
			}
		}
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// View renders the chat screen on the alternate screen buffer.
func (m chatModel) View() tea.View {
	var v tea.View
	if m.quitting || !m.ready {
		v = tea.NewView("")
	} else {
		v = tea.NewView(fmt.Sprintf("%s\n%s\n%s", m.viewport.View(), m.statusLine(), m.input.View()))
	}
	v.AltScreen = true
	return v
}

// statusLine is a single-row summary: connection, room, mode, and
// whatever the last action reported.
func (m chatModel) statusLine() string {
	var parts []string

	if m.session.Connected() {
		parts = append(parts, m.theme.connectedStyle().Render("● connected"))
	} else {
		parts = append(parts, m.theme.errorStyle().Render("○ disconnected"))
	}

	if m.rooms.Joined(m.repo.ID) {
		parts = append(parts, m.theme.statusStyle().Render(m.repo.Name))
	} else {
		parts = append(parts, m.theme.errorStyle().Render(m.repo.Name+" (not in room, ctrl+r)"))
	}

	parts = append(parts, m.theme.statusStyle().Render("mode:"+string(m.session.Mode())))

	switch m.session.Phase() {
	case chat.PhaseSubmitting:
		parts = append(parts, m.spin.View()+" thinking")
	case chat.PhaseStreaming:
		parts = append(parts, m.spin.View()+" streaming")
	}

	if snap := m.stats.Snapshot(); snap.QueryStream != nil && snap.QueryStream.TotalChunks != nil {
		parts = append(parts, m.theme.hintStyle().Render(
			fmt.Sprintf("%d answers, %d chunks", snap.QueryStream.Count, *snap.QueryStream.TotalChunks)))
	}

	if m.status != "" {
		parts = append(parts, m.theme.hintStyle().Render(m.status))
	}

	return strings.Join(parts, "  ")
}
