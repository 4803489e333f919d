package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, FormatJSON, true)
	t.Cleanup(func() { Setup(&bytes.Buffer{}, FormatConsole, false) })

	log.Debug().Str("agent_id", "foundation").Msg("sub-agent starting")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "foundation", line["agent_id"])
	assert.Contains(t, line, "time")
}

func TestSetupConsoleFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, FormatConsole, false)
	t.Cleanup(func() { Setup(&bytes.Buffer{}, FormatConsole, false) })

	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	f, err := ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log format")
}
