package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type TUI struct {
	program *tea.Program
}

func NewTUI(p *tea.Program) *TUI {
	return &TUI{program: p}
}

func (t *TUI) UpdateStatus(status string) {
	t.program.Send(StatusMsg(status))
}

func (t *TUI) Log(msg string) {
	t.program.Send(LogMsg(msg))
}

func (t *TUI) ShowImport(summary string) {
	t.program.Send(ImportMsg(summary))
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000"))

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#04B575"))

	botStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
)

// Responder produces the assistant's reply for one line of input. It
// runs on a background goroutine owned by the program.
type Responder func(ctx context.Context, input string) (string, error)

type Model struct {
	Title      string
	Status     string
	Provider   string
	Memory     string
	LastImport string
	Lines      []string
	Input      textinput.Model
	Viewport   viewport.Model
	Respond    Responder
	Refresh    func() string
	Waiting    bool
	Quitting   bool
	Ready      bool
	Width      int
	Height     int
}

type LogMsg string
type StatusMsg string
type ImportMsg string
type ReplyMsg string

type ErrMsg struct {
	Err error
}

func NewModel(title, providerName, greeting string, respond Responder, refresh func() string) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Focus()

	m := Model{
		Title:    title,
		Status:   "ready",
		Provider: providerName,
		Input:    ti,
		Respond:  respond,
		Refresh:  refresh,
	}
	if refresh != nil {
		m.Memory = refresh()
	}
	if greeting != "" {
		m.Lines = append(m.Lines, botStyle.Render(title)+" "+greeting)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.Quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.Input.Value())
			if text == "" || m.Waiting {
				return m, nil
			}
			m.Lines = append(m.Lines, userStyle.Render("you")+" "+text)
			m.Input.Reset()
			m.Waiting = true
			m.Status = "thinking"
			m.Viewport.SetContent(m.content())
			m.Viewport.GotoBottom()
			return m, respondCmd(m.Respond, text)
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Input.Width = msg.Width - 4
		if !m.Ready {
			m.Viewport = viewport.New(msg.Width, msg.Height-6)
			m.Viewport.SetContent(m.content())
			m.Ready = true
		} else {
			m.Viewport.Width = msg.Width
			m.Viewport.Height = msg.Height - 6
		}

	case ReplyMsg:
		m.Lines = append(m.Lines, botStyle.Render(m.Title)+" "+string(msg))
		m.Waiting = false
		m.Status = "ready"
		if m.Refresh != nil {
			m.Memory = m.Refresh()
		}
		m.Viewport.SetContent(m.content())
		m.Viewport.GotoBottom()

	case ErrMsg:
		m.Lines = append(m.Lines, errorStyle.Render("error: "+msg.Err.Error()))
		m.Waiting = false
		m.Status = "ready"
		m.Viewport.SetContent(m.content())
		m.Viewport.GotoBottom()

	case LogMsg:
		m.Lines = append(m.Lines, dimStyle.Render("· "+string(msg)))
		m.Viewport.SetContent(m.content())
		m.Viewport.GotoBottom()

	case StatusMsg:
		m.Status = string(msg)

	case ImportMsg:
		m.LastImport = string(msg)
	}

	// Keys feed the input line except paging, which scrolls history.
	// Everything else (mouse wheel included) goes to the viewport.
	var cmd tea.Cmd
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyPgUp, tea.KeyPgDown:
			m.Viewport, cmd = m.Viewport.Update(msg)
		default:
			m.Input, cmd = m.Input.Update(msg)
		}
	} else {
		m.Viewport, cmd = m.Viewport.Update(msg)
	}
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if !m.Ready {
		return "\n  Initializing..."
	}

	header := titleStyle.Render(" " + m.Title + " ")
	status := infoStyle.Render(fmt.Sprintf(" %s ", m.Status))

	view := fmt.Sprintf("%s%s\n\n%s\n\n%s\n%s",
		header, status,
		m.Viewport.View(),
		m.Input.View(),
		m.statusBar())

	if m.Quitting {
		return view + "\n  Goodbye.\n"
	}

	return view
}

func (m Model) content() string {
	return strings.Join(m.Lines, "\n")
}

func (m Model) statusBar() string {
	parts := []string{m.Provider}
	if m.Memory != "" {
		parts = append(parts, m.Memory)
	}
	if m.LastImport != "" {
		parts = append(parts, "import: "+m.LastImport)
	}
	return barStyle.Render(strings.Join(parts, "  |  "))
}

func respondCmd(respond Responder, input string) tea.Cmd {
	return func() tea.Msg {
		reply, err := respond(context.Background(), input)
		if err != nil {
			return ErrMsg{Err: err}
		}
		return ReplyMsg(reply)
	}
}
