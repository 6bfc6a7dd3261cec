package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentTagsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := Component(New(Options{Output: &buf}), "viz")
	log.Info().Int("frames", 3).Msg("started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "viz", entry["component"])
	assert.Equal(t, "started", entry["message"])
	assert.EqualValues(t, 3, entry["frames"])
}

func TestDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	quiet := New(Options{Output: &buf})
	quiet.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	verbose := New(Options{Output: &buf, Debug: true})
	verbose.Debug().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestConsoleWriter(t *testing.T) {
	var buf bytes.Buffer
	console := New(Options{Output: &buf, Console: true})
	console.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), `"message"`)
}
