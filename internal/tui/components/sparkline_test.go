package components

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestSparkline_WindowAndPeak(t *testing.T) {
	s := NewSparkline(3, "RPS", "/s", lipgloss.NewStyle())
	for _, v := range []float64{100, 5, 10, 20} {
		s.Add(v)
	}
	assert.Equal(t, 20.0, s.Last())
	assert.Equal(t, 20.0, s.Peak(), "100 scrolled out of view")

	s.Add(-3)
	assert.Equal(t, 0.0, s.Last())
}

func TestSparkline_View(t *testing.T) {
	s := NewSparkline(4, "VUs", "", lipgloss.NewStyle())
	s.Add(0)
	s.Add(8)

	lines := strings.Split(s.View(), "\n")
	assert.Equal(t, "VUs  now 8  peak 8", lines[0])
	assert.Equal(t, "   █", lines[1])

	s.Width = 1
	assert.Equal(t, "█", strings.Split(s.View(), "\n")[1])

	s.Width = 0
	assert.Empty(t, s.View())
}
