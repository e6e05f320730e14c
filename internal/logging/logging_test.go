package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := map[string]struct {
		level, format string
		want          zerolog.Level
		wantErr       bool
	}{
		"defaults":       {want: zerolog.InfoLevel},
		"debug":          {level: "debug", want: zerolog.DebugLevel},
		"upper case":     {level: "INFO", want: zerolog.InfoLevel},
		"console":        {level: "error", format: "console", want: zerolog.ErrorLevel},
		"bad level":      {level: "loud", want: zerolog.WarnLevel, wantErr: true},
		"unknown format": {format: "xml", want: zerolog.WarnLevel, wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			l, err := New(tt.level, tt.format, &bytes.Buffer{})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, l.GetLevel())
		})
	}
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("info", "json", &buf)
	require.NoError(t, err)
	l.Debug().Msg("hidden")
	l.Info().Str("behavior", "search").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "search", line["behavior"])
	assert.Contains(t, line, "time")
}
