package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"stagehand/internal/styles"
)

// Render returns the console summary.
func (r *Report) Render() string {
	var s strings.Builder

	s.WriteString(styles.Title.Render("📊 RUN SUMMARY"))
	s.WriteString("\n\n")
	fmt.Fprintf(&s, "Run ID         : %s\n", r.RunID)
	if r.BaseURL != "" {
		fmt.Fprintf(&s, "Target         : %s\n", r.BaseURL)
	}
	dur := time.Duration(r.DurationMs * float64(time.Millisecond))
	fmt.Fprintf(&s, "Duration       : %s\n", dur.Round(time.Millisecond))
	fmt.Fprintf(&s, "Stop reason    : %s\n", r.StopReason)
	if r.DrainTimedOut {
		s.WriteString(styles.Warn.Render("In-flight calls were aborted after the graceful stop window"))
		s.WriteString("\n")
	}
	fmt.Fprintf(&s, "Requests       : %d (%.2f/s)\n", r.Overall.Requests, r.Overall.RPS)
	fmt.Fprintf(&s, "Iterations     : %d\n", r.Overall.Iterations)
	errPct := r.Overall.FailedRate * 100
	s.WriteString("Failed         : ")
	s.WriteString(styles.ErrorRate(errPct).Render(fmt.Sprintf("%d (%.2f%%)", r.Overall.Failed, errPct)))
	s.WriteString("\n")
	fmt.Fprintf(&s, "Conflicts      : %d (%.2f%%)\n", r.Overall.Conflicts, r.Overall.ConflictRate*100)
	s.WriteString("\n")

	s.WriteString(styles.Subtle.Render("⏱️  RESPONSE TIMES (ms)"))
	s.WriteString("\n")
	s.WriteString(r.behaviorTable())
	s.WriteString("\n")

	if len(r.Rates) > 0 || len(r.Gauges) > 0 {
		for _, rt := range r.Rates {
			fmt.Fprintf(&s, "  %-22s %.4f (%d/%d)\n", rt.Name, rt.Rate, rt.Passes, rt.Total)
		}
		for _, g := range r.Gauges {
			fmt.Fprintf(&s, "  %-22s value=%d max=%d\n", g.Name, g.Value, g.Max)
		}
		s.WriteString("\n")
	}

	if len(r.Verdict.Results) > 0 {
		s.WriteString(styles.Subtle.Render("🎯 THRESHOLDS"))
		s.WriteString("\n")
		for _, res := range r.Verdict.Results {
			mark := styles.Success.Render("✓")
			if !res.Pass {
				mark = styles.Error.Render("✗")
			}
			fmt.Fprintf(&s, "  %s %s %s\n", mark, res.Threshold.String(), styles.Subtle.Render(res.Reason))
		}
		s.WriteString("\n")
	}

	if r.Verdict.Pass {
		s.WriteString(styles.Pass.Render("PASS"))
	} else {
		s.WriteString(styles.Fail.Render("FAIL"))
	}
	s.WriteString("\n")
	return s.String()
}

func (r *Report) behaviorTable() string {
	rows := make([][]string, 0, len(r.Behaviors)+1)
	for _, b := range append(append([]BehaviorStats{}, r.Behaviors...), r.Overall) {
		l := b.Latency
		rows = append(rows, []string{
			b.Name,
			fmt.Sprintf("%d", b.Requests),
			fmt.Sprintf("%.2f%%", b.FailedRate*100),
			fmt.Sprintf("%d", b.Conflicts),
			f2(l.Avg), f2(l.Med), f2(l.P90), f2(l.P95), f2(l.P99), f2(l.Max),
		})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(styles.ColorBorder)).
		Headers("BEHAVIOR", "REQS", "FAILED", "409", "AVG", "MED", "P90", "P95", "P99", "MAX").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.Header
			}
			return styles.Cell
		})
	return t.Render()
}
