package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	chatkit "github.com/acertax/chatkit"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the interactive chat view",
	Long: "Connect to the live session and chat interactively.\n\n" +
		"Keys: tab cycles open conversations, enter sends, ctrl+c quits.\n" +
		"Composer commands: /dm <user-id>, /group <group-id>, /close, /quit.",
	RunE: runWatch,
}

// ============================================================================
// Engine -> program relay
// ============================================================================

// uiRelay forwards engine callbacks into the bubbletea program once it
// exists. Events fired before attach are dropped; the first snapshot after
// boot repaints everything anyway.
type uiRelay struct {
	mu sync.Mutex
	p  *tea.Program
}

func (r *uiRelay) attach(p *tea.Program) {
	r.mu.Lock()
	r.p = p
	r.mu.Unlock()
}

func (r *uiRelay) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.p
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func (r *uiRelay) snapshot(s chatkit.Snapshot) { r.send(snapshotMsg(s)) }

// Toast and Desktop make the relay a chatkit.Notifier.
func (r *uiRelay) Toast(title, body string)   { r.send(toastMsg{title: title, body: body}) }
func (r *uiRelay) Desktop(title, body string) {}

// ============================================================================
// Messages
// ============================================================================

type snapshotMsg chatkit.Snapshot

type toastMsg struct {
	title string
	body  string
}

type statusMsg string

type errMsg struct{ err error }

// ============================================================================
// Model
// ============================================================================

var (
	tabStyle       = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("245"))
	tabActiveStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(lipgloss.Color("212"))
	badgeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	senderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("110"))
	mineStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("150"))
	typingStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

type watchModel struct {
	engine  *chatkit.Engine
	session *chatkit.Session

	snap   chatkit.Snapshot
	input  textinput.Model
	status string
	width  int
	height int
}

func newWatchModel(engine *chatkit.Engine, session *chatkit.Session) watchModel {
	ti := textinput.New()
	ti.Placeholder = "Message (/dm <uid>, /group <id>, /close, /quit)"
	ti.Prompt = "> "
	ti.Focus()
	return watchModel{
		engine:  engine,
		session: session,
		input:   ti,
		status:  "connecting…",
		width:   80,
		height:  24,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.boot)
}

// boot connects the live session and pulls directory plus unread summary.
func (m watchModel) boot() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := m.session.Connect(ctx); err != nil {
		return errMsg{err}
	}
	if err := m.engine.LoadDirectory(ctx); err != nil {
		return errMsg{err}
	}
	if err := m.engine.LoadUnread(ctx); err != nil {
		return errMsg{err}
	}
	return statusMsg("connected")
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = msg.Width - 4
		return m, nil

	case snapshotMsg:
		m.snap = chatkit.Snapshot(msg)
		return m, nil

	case toastMsg:
		m.status = msg.title + ": " + msg.body
		return m, nil

	case statusMsg:
		m.status = string(msg)
		return m, nil

	case errMsg:
		m.status = "error: " + msg.err.Error()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activateNext()
			return m, nil
		case "enter":
			return m.submit()
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace || msg.Type == tea.KeyBackspace {
			m.engine.Keystroke()
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// activateNext cycles the foreground to the next open conversation.
func (m *watchModel) activateNext() {
	tabs := m.snap.Tabs
	if len(tabs) == 0 {
		return
	}
	next := tabs[0].Key
	for i, t := range tabs {
		if t.Active {
			next = tabs[(i+1)%len(tabs)].Key
			break
		}
	}
	m.engine.Activate(next)
}

func (m watchModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	if text == "" {
		return m, nil
	}

	if strings.HasPrefix(text, "/") {
		return m.command(text)
	}

	engine := m.engine
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := engine.Send(ctx, text); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m watchModel) command(text string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/quit":
		return m, tea.Quit
	case "/close":
		if !m.snap.Active.IsZero() {
			m.engine.Close(m.snap.Active)
		}
		return m, nil
	case "/dm":
		if len(fields) != 2 {
			m.status = "usage: /dm <user-id>"
			return m, nil
		}
		m.engine.Activate(chatkit.DMKey(fields[1]))
		return m, nil
	case "/group":
		if len(fields) != 2 {
			m.status = "usage: /group <group-id>"
			return m, nil
		}
		m.engine.Activate(chatkit.GroupKey(fields[1]))
		return m, nil
	default:
		m.status = "unknown command " + fields[0]
		return m, nil
	}
}

func (m watchModel) View() string {
	var b strings.Builder

	// Tab strip.
	if len(m.snap.Tabs) == 0 {
		b.WriteString(subtitleStyle.Render("no open conversations"))
	} else {
		var tabs []string
		for _, t := range m.snap.Tabs {
			label := t.Label
			if t.Unread > 0 {
				label += " " + badgeStyle.Render(fmt.Sprintf("(%d)", t.Unread))
			}
			if t.Active {
				tabs = append(tabs, tabActiveStyle.Render(label))
			} else {
				tabs = append(tabs, tabStyle.Render(label))
			}
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tabs...))
	}
	b.WriteString("\n")

	// Header.
	if m.snap.Title != "" {
		b.WriteString(titleStyle.Render(m.snap.Title))
		if m.snap.Subtitle != "" {
			b.WriteString("  " + subtitleStyle.Render(m.snap.Subtitle))
		}
	}
	b.WriteString("\n\n")

	// Message log, trimmed to the space left above the footer.
	rows := m.height - 8
	if rows < 3 {
		rows = 3
	}
	msgs := m.snap.Messages
	if len(msgs) > rows {
		msgs = msgs[len(msgs)-rows:]
	}
	for _, mv := range msgs {
		sender := senderStyle.Render(mv.Sender)
		if mv.Mine {
			sender = mineStyle.Render("you")
		}
		b.WriteString(fmt.Sprintf("%s %s %s\n",
			subtitleStyle.Render(mv.Time.Local().Format("15:04")), sender, mv.Text))
	}
	for i := len(msgs); i < rows; i++ {
		b.WriteString("\n")
	}

	// Footer: typing line, status, composer.
	b.WriteString(typingStyle.Render(m.snap.TypingLine))
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(m.status))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	return b.String()
}

// ============================================================================
// Command entry point
// ============================================================================

func runWatch(cmd *cobra.Command, args []string) error {
	client, cfg := getClient()
	if cfg.Auth.UID == "" {
		return fmt.Errorf("no user id configured; run 'chatkit init <token> --uid <uid>' first")
	}

	session := client.Realtime(&chatkit.RealtimeConfig{
		Token:         cfg.Auth.Token,
		AutoReconnect: true,
	})

	relay := &uiRelay{}
	engine := chatkit.NewEngine(chatkit.EngineConfig{
		SelfUID:       cfg.Auth.UID,
		API:           client,
		Transport:     session,
		Notifications: &chatkit.NotificationPolicy{Notifier: relay},
		OnUpdate:      relay.snapshot,
	})
	defer engine.Stop()
	engine.Bind(session)

	session.OnConnected(func() { relay.send(statusMsg("connected")) })
	session.OnDisconnected(func(reason string) {
		relay.send(statusMsg("disconnected: " + reason))
	})
	session.OnReconnecting(func(attempt int, delay time.Duration) {
		relay.send(statusMsg(fmt.Sprintf("reconnecting in %s (attempt %d)…", delay, attempt)))
	})

	program := tea.NewProgram(newWatchModel(engine, session), tea.WithAltScreen())
	relay.attach(program)
	defer session.Disconnect()

	_, err := program.Run()
	return err
}
