// Package tui is the full-screen live view of a run.
package tui

import (
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"stagehand/internal/runner"
	"stagehand/internal/styles"
	"stagehand/internal/tui/live"
)

type doneMsg struct{}

// Model wraps the live view with the run header and the stop keys.
type Model struct {
	Live      live.Model
	Updates   <-chan runner.Progress
	Title     string
	Subtitle  string
	Interrupt func()

	stopping int
	Quitting bool
}

func NewModel(title, subtitle string, updates <-chan runner.Progress, interrupt func()) Model {
	return Model{
		Live:      live.NewModel(),
		Updates:   updates,
		Title:     title,
		Subtitle:  subtitle,
		Interrupt: interrupt,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.Live.Init(), waitForUpdate(m.Updates))
}

func waitForUpdate(sub <-chan runner.Progress) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-sub
		if !ok {
			return doneMsg{}
		}
		return p
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// first press drains gracefully, the second aborts
			m.stopping++
			if m.Interrupt != nil {
				m.Interrupt()
			}
			return m, nil
		}
		return m, nil

	case doneMsg:
		m.Quitting = true
		return m, tea.Quit

	case runner.Progress:
		var cmd tea.Cmd
		m.Live, cmd = m.Live.Update(msg)
		return m, tea.Batch(cmd, waitForUpdate(m.Updates))
	}

	var cmd tea.Cmd
	m.Live, cmd = m.Live.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.Quitting {
		return ""
	}
	s := strings.Builder{}
	s.WriteString(styles.Title.Render("🚀 " + m.Title))
	s.WriteString("\n")
	if m.Subtitle != "" {
		s.WriteString(styles.Subtle.Render(m.Subtitle))
		s.WriteString("\n")
	}
	s.WriteString("\n")
	s.WriteString(m.Live.View())
	s.WriteString("\n")
	switch m.stopping {
	case 0:
		s.WriteString(styles.Subtle.Render("Press q to stop gracefully"))
	case 1:
		s.WriteString(styles.Warn.Render("Stopping... press q again to abort in-flight requests"))
	default:
		s.WriteString(styles.Error.Render("Aborting..."))
	}
	return s.String()
}

// Run shows the live view until updates is closed.
func Run(title, subtitle string, updates <-chan runner.Progress, interrupt func(), out io.Writer) error {
	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if out != nil {
		opts = append(opts, tea.WithOutput(out))
	}
	p := tea.NewProgram(NewModel(title, subtitle, updates, interrupt), opts...)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("live view: %w", err)
	}
	return nil
}
