package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"stagehand/internal/runner"
	"stagehand/internal/styles"
	"stagehand/internal/tui/components"
)

// Model renders the live view of a run from runner.Progress messages.
type Model struct {
	Last     runner.Progress
	Progress progress.Model

	RpsLine     components.Sparkline
	LatencyLine components.Sparkline
	VULine      components.Sparkline

	LastElapsed time.Duration
	LastReqs    uint64

	Width  int
	Height int
}

func NewModel() Model {
	return Model{
		Progress:    progress.New(progress.WithDefaultGradient()),
		RpsLine:     components.NewSparkline(40, "RPS", "/s", styles.Active),
		LatencyLine: components.NewSparkline(40, "Latency P90", "ms", styles.Warn),
		VULine:      components.NewSparkline(40, "Virtual users", "", styles.Value),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case runner.Progress:
		snap := msg.Snapshot
		dt := (snap.Duration - m.LastElapsed).Seconds()
		if dt < 0.01 {
			dt = 0.01
		}
		reqs := snap.Overall.Requests
		rps := float64(reqs-min(reqs, m.LastReqs)) / dt

		m.RpsLine.Add(rps)
		m.LatencyLine.Add(float64(snap.Overall.Latency.Percentile(90).Microseconds()) / 1000)
		m.VULine.Add(float64(msg.Live))

		m.Last = msg
		m.LastReqs = reqs
		m.LastElapsed = snap.Duration

		pct := 1.0
		if msg.Total > 0 && !msg.Draining {
			pct = min(msg.Elapsed.Seconds()/msg.Total.Seconds(), 1)
		}
		return m, m.Progress.SetPercent(pct)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4

		third := (msg.Width / 3) - 4
		if third < 10 {
			third = 10
		}
		m.RpsLine.Width = third
		m.LatencyLine.Width = third
		m.VULine.Width = third
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	s := strings.Builder{}
	p := m.Last
	o := p.Snapshot.Overall

	failed := o.Fail + o.Timeout
	errRate := o.FailedRate() * 100

	col1 := fmt.Sprintf("REQ: %d\nINF: %d", o.Requests, p.Snapshot.Inflight)
	col2 := fmt.Sprintf("ERR: %.2f%%\nFAIL: %d", errRate, failed)
	col3 := fmt.Sprintf("409: %d\nTIMEOUT: %d", o.Conflict, o.Timeout)
	vus := fmt.Sprintf("VUs: %d/%d\nSTAGE: %d", p.Live, p.Target, p.Stage+1)
	if p.Draining {
		vus = fmt.Sprintf("VUs: %d\n%s", p.Live, styles.Warn.Render("DRAINING"))
	}

	grid := lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(styles.ErrorRate(errRate).Render(col2)),
		styles.Box.Render(col3),
		styles.Box.Render(vus),
	)
	s.WriteString(grid)
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.RpsLine.View()),
		styles.Box.Render(m.LatencyLine.View()),
		styles.Box.Render(m.VULine.View()),
	))
	s.WriteString("\n\n")

	lat := o.Latency
	latencies := fmt.Sprintf(
		"P50: %d ms  |  P90: %d ms  |  P99: %d ms  |  Max: %d ms",
		lat.Median().Milliseconds(),
		lat.Percentile(90).Milliseconds(),
		lat.Percentile(99).Milliseconds(),
		lat.Max().Milliseconds(),
	)
	width := m.Width - 4
	if width < 20 {
		width = 20
	}
	s.WriteString(styles.Box.Width(width).Render(latencies))
	s.WriteString("\n")

	for _, name := range p.Snapshot.BehaviorNames() {
		b := p.Snapshot.Behaviors[name]
		fmt.Fprintf(&s, "  %-12s %8d req  %s  p90 %d ms\n",
			name, b.Requests,
			styles.ErrorRate(b.FailedRate()*100).Render(fmt.Sprintf("%6.2f%% err", b.FailedRate()*100)),
			b.Latency.Percentile(90).Milliseconds(),
		)
	}
	s.WriteString("\n")

	s.WriteString(m.Progress.View())
	return s.String()
}
