// Package tui implements the full-screen terminal chat interface. It
// renders the transcript in a viewport, shows loop progress in a status
// bar, and feeds user input into the agent runtime.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/tatty/internal/agent"
)

// Runner is the slice of the agent runtime the TUI needs.
type Runner interface {
	Run(ctx context.Context, message string) (*agent.RunResult, error)
	Interrupt()
}

// AgentEventMsg carries a loop progress event into the update cycle.
// The runtime's OnEvent callback forwards events via Program.Send.
type AgentEventMsg struct {
	Event agent.AgentEvent
}

type runDoneMsg struct {
	content string
	err     error
}

type tickMsg time.Time

// Options configures the TUI model.
type Options struct {
	Runner    Runner
	AgentID   string
	ModelName string
	Greeting  string
}

type Model struct {
	opts Options

	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model

	transcript []string
	width      int
	height     int
	ready      bool

	running   bool
	iteration int
	startedAt time.Time
	lastTool  string
	quitting  bool
}

func New(opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "ask anything..."
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		opts:  opts,
		input: ti,
		spin:  sp,
	}
	if opts.Greeting != "" {
		m.transcript = append(m.transcript, dimStyle.Render(opts.Greeting), "")
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - 4 // title, status bar, input, help
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.running {
				m.opts.Runner.Interrupt()
				m.appendLine(dimStyle.Render("interrupt requested..."))
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit
		case "esc":
			if !m.running {
				m.quitting = true
				return m, tea.Quit
			}
		case "enter":
			return m.submit()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case AgentEventMsg:
		m.consumeEvent(msg.Event)
		return m, nil

	case runDoneMsg:
		m.running = false
		m.lastTool = ""
		if msg.err != nil {
			m.appendLine(errorStyle.Render("error: " + msg.err.Error()))
		} else if msg.content != "" {
			m.appendLine(assistantRoleStyle.Render("tatty"))
			for _, line := range wrapText(msg.content, m.contentWidth()) {
				m.appendLine(line)
			}
		}
		m.appendLine("")
		return m, nil

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.running {
		return m, nil
	}
	m.input.SetValue("")

	m.appendLine(userRoleStyle.Render("you"))
	for _, line := range wrapText(text, m.contentWidth()) {
		m.appendLine(line)
	}
	m.appendLine("")

	m.running = true
	m.iteration = 0
	m.startedAt = time.Now()

	runner := m.opts.Runner
	runCmd := func() tea.Msg {
		result, err := runner.Run(context.Background(), text)
		if err != nil {
			return runDoneMsg{err: err}
		}
		return runDoneMsg{content: result.Content}
	}
	return m, tea.Batch(runCmd, m.spin.Tick)
}

// consumeEvent folds a loop progress event into the transcript and
// status line.
func (m *Model) consumeEvent(evt agent.AgentEvent) {
	payload, _ := evt.Payload.(map[string]interface{})
	switch evt.Type {
	case agent.EventIterationStart:
		if n, ok := payload["iteration"].(int); ok {
			m.iteration = n
		}
	case agent.EventToolStart:
		name, _ := payload["name"].(string)
		m.lastTool = name
		m.appendLine(toolLineStyle.Render("  ⚙ " + name))
	case agent.EventToolResult:
		if isErr, _ := payload["is_error"].(bool); isErr {
			name, _ := payload["name"].(string)
			preview, _ := payload["preview"].(string)
			m.appendLine(toolLineStyle.Render("  ✗ " + name + ": " + firstLine(preview)))
		}
	case agent.EventSubagentStart:
		name, _ := payload["name"].(string)
		m.appendLine(toolLineStyle.Render("  ⇒ subagent " + name))
	case agent.EventStatus:
		if status, ok := payload["status"].(string); ok && status != "" {
			m.appendLine(dimStyle.Render("  " + status))
		}
	case agent.EventError:
		if content, ok := payload["content"].(string); ok {
			m.appendLine(errorStyle.Render("  " + firstLine(content)))
		}
	}
}

func (m *Model) appendLine(line string) {
	m.transcript = append(m.transcript, line)
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.transcript, "\n"))
	m.viewport.GotoBottom()
}

func (m Model) contentWidth() int {
	w := m.width - 2
	if w < 20 {
		w = 78
	}
	return w
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("tatty") + dimStyle.Render("  "+m.opts.ModelName) + "\n")
	b.WriteString(m.viewport.View() + "\n")
	b.WriteString(m.statusBar() + "\n")
	b.WriteString(m.input.View())
	return b.String()
}

func (m Model) statusBar() string {
	var status string
	if m.running {
		elapsed := time.Since(m.startedAt).Round(time.Second)
		status = fmt.Sprintf("%s thinking · iteration %d · %s", m.spin.View(), m.iteration, elapsed)
		if m.lastTool != "" {
			status += " · " + m.lastTool
		}
	} else {
		status = "idle · enter to send · ctrl+c to quit"
	}
	bar := statusBarStyle.Render(status)
	if m.width > 0 {
		pad := m.width - runewidth.StringWidth(status) - 2
		if pad > 0 {
			bar += statusBarStyle.Render(strings.Repeat(" ", pad))
		}
	}
	return bar
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// wrapText hard-wraps text at width, preserving existing newlines.
// Width is measured in display cells so CJK text wraps correctly.
func wrapText(text string, width int) []string {
	var out []string
	for _, raw := range strings.Split(text, "\n") {
		if runewidth.StringWidth(raw) <= width {
			out = append(out, raw)
			continue
		}
		var line strings.Builder
		lineWidth := 0
		for _, word := range strings.Fields(raw) {
			ww := runewidth.StringWidth(word)
			if lineWidth > 0 && lineWidth+1+ww > width {
				out = append(out, line.String())
				line.Reset()
				lineWidth = 0
			}
			if lineWidth > 0 {
				line.WriteByte(' ')
				lineWidth++
			}
			line.WriteString(word)
			lineWidth += ww
		}
		if line.Len() > 0 {
			out = append(out, line.String())
		}
	}
	return out
}
