package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"scholarbot/internal/domain"
	"scholarbot/internal/usecase"
)

// DefaultThreadID is the thread identifier used by the interactive TUI.
const DefaultThreadID = "cli-default"

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	hintStyle      = lipgloss.NewStyle().Faint(true)
	spinnerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

// ModelDeps are dependencies injected into the chat model.
type ModelDeps struct {
	Assistant *usecase.Assistant
	Logger    *slog.Logger
	ModelName string
	ThreadID  string
}

// Model is the root Bubble Tea model for the chat TUI.
type Model struct {
	deps ModelDeps

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	transcript []string // rendered blocks, joined for the viewport
	partial    string   // streamed content of the in-flight reply
	waiting    bool
	width      int
	height     int
	quitting   bool

	// gen is bumped on every submitted turn; messages tagged with an older
	// gen belong to a reset thread and are dropped.
	gen     uint64
	deltaCh chan tea.Msg
}

// New creates the chat model.
func New(deps ModelDeps) Model {
	if deps.ThreadID == "" {
		deps.ThreadID = DefaultThreadID
	}

	ta := textarea.New()
	ta.Placeholder = "Ask about books, articles, journals, theses..."
	ta.Prompt = "> "
	ta.SetHeight(1)
	ta.ShowLineNumbers = false
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		deps.Logger.Warn("markdown renderer unavailable", "error", err)
	}

	return Model{
		deps:     deps,
		input:    ta,
		spinner:  sp,
		renderer: renderer,
		deltaCh:  make(chan tea.Msg, 64),
	}
}

// Init starts the spinner and cursor blink.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textarea.Blink)
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			if !m.waiting {
				return m.handleSubmit(strings.TrimSpace(m.input.Value()))
			}
			return m, nil
		}

	case streamDeltaMsg:
		if msg.Gen != m.gen {
			return m, m.waitForDelta()
		}
		m.partial += msg.Content
		m.refreshViewport()
		return m, m.waitForDelta()

	case turnDoneMsg:
		if msg.Gen != m.gen {
			return m, m.waitForDelta()
		}
		m.waiting = false
		m.partial = ""
		m.input.Focus()
		if msg.Err != nil {
			m.transcript = append(m.transcript,
				errorStyle.Render("Error: "+msg.Err.Error()))
		} else {
			m.transcript = append(m.transcript,
				assistantStyle.Render("ScholarBot")+"\n"+m.renderMarkdown(msg.Reply))
		}
		m.refreshViewport()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if !m.waiting {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// handleSubmit processes user input: slash commands locally, everything else
// through the assistant.
func (m Model) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if value == "" {
		return m, nil
	}
	m.input.Reset()

	switch value {
	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit
	case "/reset", "/clear":
		m.deps.Assistant.Reset(m.deps.ThreadID)
		m.gen++ // orphan any in-flight turn
		m.waiting = false
		m.partial = ""
		m.transcript = nil
		m.transcript = append(m.transcript,
			hintStyle.Render("Conversation reset. Starting fresh."))
		m.refreshViewport()
		return m, nil
	case "/help":
		m.transcript = append(m.transcript, hintStyle.Render(
			"Commands: /reset (clear conversation), /quit (exit), /help"))
		m.refreshViewport()
		return m, nil
	}

	m.gen++
	m.waiting = true
	m.transcript = append(m.transcript, userStyle.Render("You")+"\n"+value)
	m.refreshViewport()

	return m, tea.Batch(m.startTurn(value), m.waitForDelta())
}

// startTurn launches the assistant turn in a goroutine. Deltas and the final
// result are pushed into deltaCh and drained by waitForDelta.
func (m Model) startTurn(userMsg string) tea.Cmd {
	gen := m.gen
	as := m.deps.Assistant
	threadID := m.deps.ThreadID
	ch := m.deltaCh

	return func() tea.Msg {
		go func() {
			reply, err := as.StreamChat(context.Background(), threadID, userMsg,
				func(delta domain.StreamDelta) {
					if delta.Content != "" {
						ch <- streamDeltaMsg{Gen: gen, Content: delta.Content}
					}
				})
			ch <- turnDoneMsg{Gen: gen, Reply: reply, Err: err}
		}()
		return nil
	}
}

// waitForDelta blocks on the delta channel until the next message arrives.
func (m Model) waitForDelta() tea.Cmd {
	ch := m.deltaCh
	return func() tea.Msg {
		return <-ch
	}
}

// View renders the chat UI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}

	inputView := m.input.View()
	if m.waiting {
		inputView = m.spinner.View() + " " + hintStyle.Render("Searching the library...")
	}

	status := hintStyle.Render(fmt.Sprintf(
		" ScholarBot · %s · /reset clears · /quit exits", m.deps.ModelName))

	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		strings.Repeat("─", m.width),
		inputView,
		status,
	)
}

// layout recalculates sizes for the viewport and input.
func (m *Model) layout() {
	inputH := 1
	statusH := 1
	dividerH := 1
	vpHeight := m.height - inputH - statusH - dividerH
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport = viewport.New(m.width, vpHeight)
	m.input.SetWidth(m.width - 2)
}

// refreshViewport re-renders the transcript plus any in-flight partial reply
// and scrolls to the bottom.
func (m *Model) refreshViewport() {
	blocks := m.transcript
	if m.partial != "" {
		blocks = append(blocks, assistantStyle.Render("ScholarBot")+"\n"+m.partial)
	}
	m.viewport.SetContent(strings.Join(blocks, "\n\n"))
	m.viewport.GotoBottom()
}

// renderMarkdown formats assistant replies as terminal markdown, falling back
// to plain text when the renderer is unavailable.
func (m *Model) renderMarkdown(text string) string {
	if m.renderer == nil {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
