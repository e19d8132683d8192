package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"parley/internal/adapter/tui/theme"
	"parley/internal/domain"
	"parley/internal/usecase"
)

// ModelDeps are dependencies injected into the chat model.
type ModelDeps struct {
	Engine    *usecase.Engine
	History   *usecase.History
	Gateway   domain.Gateway
	Logger    *slog.Logger
	AgentName string
	ModelName string
}

// Model is the root Bubble Tea model. All conversation state lives in the
// engine and history; the model re-reads snapshots on every event and only
// owns presentation state.
type Model struct {
	deps ModelDeps

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	md       *glamour.TermRenderer

	width  int
	height int
	ready  bool

	status   domain.ConnectionStatus
	waiting  bool
	quitting bool

	// notices are transient system lines shown under the transcript.
	notices []string

	// pending holds files attached with /attach, consumed by the next
	// submission.
	pending []domain.LocalFile

	// gen is bumped on every submission. Stale SubmitDoneMsg carrying an
	// older gen are discarded.
	gen      uint64
	cancelFn context.CancelFunc
}

// NewModel creates the chat model.
func NewModel(deps ModelDeps) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	input := textarea.New()
	input.Placeholder = "Send a message (Enter to send, Alt+Enter for newline, /help for commands)"
	input.Prompt = "> "
	input.SetHeight(3)
	input.ShowLineNumbers = false
	input.Focus()

	return Model{
		deps:    deps,
		spinner: s,
		input:   input,
		status:  domain.StatusDisconnected,
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
		m.refreshContent()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StreamDeltaMsg, LedgerChangedMsg, ProgressMsg, TimelineRefreshedMsg, MemorySavedMsg:
		m.refreshContent()
		return m, nil

	case ConnectionMsg:
		m.status = msg.Status
		m.waiting = msg.Status == domain.StatusConnecting || msg.Status == domain.StatusConnected
		if !m.waiting {
			m.input.Focus()
		}
		m.refreshContent()
		return m, nil

	case StreamCompletedMsg:
		m.waiting = false
		m.input.Focus()
		m.refreshContent()
		return m, nil

	case StreamErrorMsg:
		m.waiting = false
		m.input.Focus()
		m.refreshContent()
		return m, nil

	case StreamCancelledMsg:
		m.waiting = false
		m.input.Focus()
		m.addNotice("Generation stopped.")
		m.refreshContent()
		return m, nil

	case ConversationCreatedMsg:
		m.addNotice(fmt.Sprintf("Conversation #%d created.", msg.ID))
		m.refreshContent()
		return m, nil

	case SubmitDoneMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		if msg.Err != nil {
			m.waiting = false
			m.input.Focus()
			if errors.Is(msg.Err, domain.ErrStreamActive) {
				// A rejected submission leaves no trace in the ledger, so
				// restore the typed text and say why it did not send.
				m.input.SetValue(msg.Content)
				m.addNotice(theme.SymbolError + " A generation is already running. Cancel it first.")
			}
			// Upload and initiation failures are already annotated in the
			// ledger by the engine.
			m.refreshContent()
		}
		return m, nil

	case ConversationsLoadedMsg:
		if msg.Err != nil {
			m.addNotice(theme.SymbolError + " Could not list conversations: " + msg.Err.Error())
		} else {
			m.addNotice(renderConversationList(msg.List))
		}
		m.refreshContent()
		return m, nil

	case ConversationDeletedMsg:
		if msg.Err != nil {
			m.addNotice(fmt.Sprintf("%s Delete #%d failed: %v", theme.SymbolError, msg.ID, msg.Err))
		} else {
			m.addSuccess(fmt.Sprintf("Conversation #%d deleted.", msg.ID))
		}
		m.refreshContent()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit

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

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.waiting {
			return m, cancelCmd(m.deps.Engine)
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyEsc:
		if m.waiting {
			return m, cancelCmd(m.deps.Engine)
		}
		return m, nil

	case tea.KeyEnter:
		if msg.Alt {
			break // newline, handled by the textarea
		}
		if m.waiting {
			return m, nil
		}
		value := strings.TrimSpace(m.input.Value())
		if value == "" {
			return m, nil
		}
		m.input.Reset()
		return m.handleSubmit(value)

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	if !m.waiting {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if strings.HasPrefix(value, "/") {
		return m.handleSlashCommand(value)
	}

	m.notices = nil
	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	if m.cancelFn != nil {
		m.cancelFn()
	}
	m.cancelFn = cancel
	m.waiting = true
	m.input.Blur()

	files := m.pending
	m.pending = nil

	return m, submitCmd(ctx, m.deps.Engine, value, files, m.gen)
}

func (m Model) handleSlashCommand(value string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(value)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		m.addNotice(helpText)
		m.refreshContent()
		return m, nil

	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit

	case "/cancel":
		if m.waiting {
			return m, cancelCmd(m.deps.Engine)
		}
		m.addNotice("No active generation to cancel.")
		m.refreshContent()
		return m, nil

	case "/new":
		if err := m.deps.Engine.SetConversation(0); err != nil {
			m.addNotice(theme.SymbolError + " Finish or cancel the active generation first.")
		} else {
			m.deps.History.Clear()
			m.notices = nil
			m.addNotice("Started a new conversation.")
		}
		m.refreshContent()
		return m, nil

	case "/open":
		if len(args) < 1 {
			m.addNotice("Usage: /open <conversation-id>")
			m.refreshContent()
			return m, nil
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			m.addNotice("Conversation id must be a number.")
			m.refreshContent()
			return m, nil
		}
		if err := m.deps.Engine.SetConversation(id); err != nil {
			m.addNotice(theme.SymbolError + " Finish or cancel the active generation first.")
			m.refreshContent()
			return m, nil
		}
		m.deps.History.Clear()
		m.notices = nil
		m.refreshContent()
		return m, loadTimelineCmd(context.Background(), m.deps.History, id)

	case "/attach":
		if len(args) < 1 {
			m.addNotice("Usage: /attach <path>")
			m.refreshContent()
			return m, nil
		}
		file, err := readLocalFile(args[0])
		if err != nil {
			m.addNotice(theme.SymbolError + " " + err.Error())
			m.refreshContent()
			return m, nil
		}
		m.pending = append(m.pending, file)
		m.addSuccess(fmt.Sprintf("Attached %s (%d bytes). Sent with your next message.",
			file.Name, len(file.Data)))
		m.refreshContent()
		return m, nil

	case "/conversations":
		return m, loadConversationsCmd(context.Background(), m.deps.Gateway)

	case "/delete":
		if len(args) < 1 {
			m.addNotice("Usage: /delete <conversation-id>")
			m.refreshContent()
			return m, nil
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			m.addNotice("Conversation id must be a number.")
			m.refreshContent()
			return m, nil
		}
		return m, deleteConversationCmd(context.Background(), m.deps.Gateway, id)

	default:
		m.addNotice(fmt.Sprintf("Unknown command: %s. Type /help for available commands.", cmd))
		m.refreshContent()
		return m, nil
	}
}

// View renders the chat screen.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if !m.ready {
		return "  Initializing..."
	}

	inputView := m.input.View()
	if m.waiting {
		inputView = theme.TextMuted.Render("> waiting for response...") +
			"\n" + m.spinner.View() + " " + m.statusLine()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.headerLine(),
		m.viewport.View(),
		theme.Divider(m.width),
		inputView,
		m.footerLine(),
	)
}

func (m *Model) layout() {
	headerH := 1
	inputH := 4
	footerH := 1
	dividerH := 1
	contentH := m.height - headerH - inputH - footerH - dividerH
	if contentH < 5 {
		contentH = 5
	}

	if !m.ready {
		m.viewport = viewport.New(m.width, contentH)
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = contentH
	}
	m.input.SetWidth(m.width - 2)
	m.md = nil // re-create the renderer at the new wrap width
}

func (m Model) headerLine() string {
	conv := "new conversation"
	if id := m.deps.Engine.ConversationID(); id != 0 {
		conv = fmt.Sprintf("conversation #%d", id)
	}
	left := theme.AssistantLabel.Render(m.deps.AgentName) +
		theme.TextMuted.Render("  "+m.deps.ModelName+"  "+conv)
	return left
}

func (m Model) footerLine() string {
	hints := "Enter send " + theme.SymbolBullet + " /help commands " + theme.SymbolBullet + " Ctrl+C quit"
	if m.waiting {
		hints = "Esc/Ctrl+C stop generation"
	}
	return theme.StatusBar.Render(fmt.Sprintf(" %s  %s", m.statusLine(), hints))
}

func (m Model) statusLine() string {
	switch m.status {
	case domain.StatusConnecting:
		return "connecting"
	case domain.StatusConnected:
		return "streaming"
	case domain.StatusError:
		return theme.TextError.Render("error")
	default:
		return "idle"
	}
}

// Notices are styled when added, not when rendered, so success lines can
// carry their own color next to the muted default.
func (m *Model) addNotice(s string) {
	m.notices = append(m.notices, theme.TextMuted.Render(s))
}

func (m *Model) addSuccess(s string) {
	m.notices = append(m.notices, theme.TextSuccess.Render(theme.SymbolSuccess+" "+s))
}

// refreshContent rebuilds the transcript from the reconciled timeline, the
// optimistic ledger, the live buffer, and the progress log.
func (m *Model) refreshContent() {
	if !m.ready {
		return
	}

	snap := m.deps.Engine.Snapshot()
	var b strings.Builder

	for _, entry := range m.deps.History.Entries() {
		if entry.IsGroup() {
			b.WriteString(m.renderGroup(entry.Group))
			continue
		}
		if entry.Item != nil && entry.Item.Message != nil {
			b.WriteString(m.renderMessage(*entry.Item.Message))
		}
	}

	for _, msg := range snap.Ledger {
		b.WriteString(m.renderMessage(msg))
	}

	for _, p := range snap.Progress {
		b.WriteString(m.renderProgress(p))
	}

	if snap.Buffer != "" {
		b.WriteString("\n" + theme.AssistantLabel.Render(m.deps.AgentName) + "\n")
		b.WriteString(m.renderMarkdown(snap.Buffer))
	}

	for _, n := range m.notices {
		b.WriteString("\n" + n + "\n")
	}

	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(b.String())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderMessage(msg domain.Message) string {
	label := theme.UserLabel.Render(theme.SymbolUser)
	body := msg.Content
	switch {
	case msg.IsError():
		label = theme.TextError.Render(theme.SymbolError + " error")
	case msg.Role == domain.RoleAssistant:
		label = theme.AssistantLabel.Render(m.deps.AgentName)
		body = m.renderMarkdown(msg.Content)
		return "\n" + label + "\n" + body
	}
	return "\n" + label + "\n" + indent(body) + "\n"
}

func (m *Model) renderGroup(g *domain.ExecutionGroup) string {
	var b strings.Builder
	header := fmt.Sprintf("%s %s run", theme.SymbolTool, g.AgentType)
	b.WriteString("\n" + theme.ToolLine.Render(header) + "\n")
	for _, step := range g.Steps {
		line := step.StepType
		if step.Content != "" {
			line += ": " + truncate(step.Content, 120)
		}
		b.WriteString(theme.ProgressLine.Render("  "+theme.SymbolBullet+" "+line) + "\n")
	}
	return b.String()
}

func (m *Model) renderProgress(p domain.ProgressMessage) string {
	line := string(p.Type)
	if fn := p.Metadata["functionName"]; fn != "" {
		line += " " + fn
	}
	if p.Content != "" {
		line += ": " + truncate(p.Content, 120)
	}
	style := theme.ProgressLine
	if p.Type == domain.FrameToolExecution || p.Type == domain.FrameToolResponse {
		style = theme.ToolLine
	}
	return style.Render("  "+theme.SymbolBullet+" "+line) + "\n"
}

func (m *Model) renderMarkdown(content string) string {
	if m.md == nil {
		width := m.width - 4
		if width > theme.MaxContentWidth {
			width = theme.MaxContentWidth
		}
		if width < 40 {
			width = 40
		}
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			m.deps.Logger.Warn("markdown renderer unavailable", "error", err)
			return indent(content) + "\n"
		}
		m.md = renderer
	}
	out, err := m.md.Render(content)
	if err != nil {
		return indent(content) + "\n"
	}
	return out
}

func renderConversationList(list []domain.ConversationSummary) string {
	if len(list) == 0 {
		return "No conversations yet."
	}
	var b strings.Builder
	b.WriteString("Conversations:\n")
	for _, c := range list {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		b.WriteString(fmt.Sprintf("  #%-6d %s  %s\n",
			c.ID, c.UpdatedAt.Format(time.DateTime), truncate(title, 60)))
	}
	b.WriteString("Open one with /open <id>.")
	return b.String()
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

// readLocalFile loads a file from disk for upload, guessing the MIME type
// from the extension.
func readLocalFile(path string) (domain.LocalFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.LocalFile{}, fmt.Errorf("could not read %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return domain.LocalFile{
		Name: filepath.Base(path),
		MIME: mimeType,
		Data: data,
	}, nil
}

const helpText = `Available commands:
  /help           - Show this help
  /new            - Start a new conversation
  /open <id>      - Open a stored conversation
  /conversations  - List conversations
  /delete <id>    - Delete a conversation
  /attach <path>  - Attach a file to the next message
  /cancel         - Stop the active generation
  /quit           - Exit

Keybindings:
  Enter      - Send message
  Alt+Enter  - New line
  Esc        - Stop generation
  Ctrl+C     - Stop/Quit
  PgUp/PgDn  - Scroll`
