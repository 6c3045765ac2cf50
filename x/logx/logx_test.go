package logx

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf, Service: "bell"})

	l.Info().Msg("hidden")
	l.Warn().Str("component", "power").Msg("shown")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "bell", entry["service"])
	assert.Equal(t, "power", entry["component"])
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "warn", entry["level"])
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "loud", Output: &buf})

	l.Debug().Msg("no")
	l.Info().Msg("yes")

	assert.NotContains(t, buf.String(), `"no"`)
	assert.Contains(t, buf.String(), `"yes"`)
	assert.Contains(t, buf.String(), `"service":"doorbell"`)
}
