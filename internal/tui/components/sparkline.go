package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var blocks = []rune(" ▁▂▃▄▅▆▇█")

// Sparkline is a one-line bar chart of the last Width samples, scaled to the
// largest sample still in view.
type Sparkline struct {
	Label  string
	Unit   string
	Width  int
	Style  lipgloss.Style
	window []float64
	peak   float64
}

func NewSparkline(width int, label, unit string, style lipgloss.Style) Sparkline {
	return Sparkline{
		Label:  label,
		Unit:   unit,
		Width:  width,
		Style:  style,
		window: make([]float64, 0, width),
	}
}

func (s *Sparkline) Add(v float64) {
	if s.Width <= 0 {
		return
	}
	if v < 0 {
		v = 0
	}
	s.window = append(s.window, v)
	if n := len(s.window); n > s.Width {
		s.window = append(s.window[:0], s.window[n-s.Width:]...)
	}

	s.peak = 0
	for _, x := range s.window {
		s.peak = max(s.peak, x)
	}
}

// Last is the newest sample, or 0 before the first.
func (s Sparkline) Last() float64 {
	if len(s.window) == 0 {
		return 0
	}
	return s.window[len(s.window)-1]
}

func (s Sparkline) Peak() float64 { return s.peak }

func (s Sparkline) bar(v float64) rune {
	if s.peak == 0 {
		return blocks[0]
	}
	i := int(v / s.peak * float64(len(blocks)-1))
	return blocks[min(max(i, 0), len(blocks)-1)]
}

func (s Sparkline) View() string {
	if s.Width <= 0 {
		return ""
	}
	head := fmt.Sprintf("%s  now %.0f%s  peak %.0f%s", s.Label, s.Last(), s.Unit, s.peak, s.Unit)

	// Width can shrink on resize before the next sample arrives
	shown := s.window[max(0, len(s.window)-s.Width):]
	var graph strings.Builder
	graph.WriteString(strings.Repeat(" ", s.Width-len(shown)))
	for _, v := range shown {
		graph.WriteRune(s.bar(v))
	}
	return s.Style.Render(head) + "\n" + s.Style.Render(graph.String())
}
