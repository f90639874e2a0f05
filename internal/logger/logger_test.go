package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := Component(New("warn", FormatJSON, &buf), "store")

	log.Info().Msg("hidden")
	log.Warn().Str("hash", "abc").Msg("insert failed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "warn", line["level"])
	require.Equal(t, "store", line[FieldComponent])
	require.Equal(t, "abc", line["hash"])
	require.Equal(t, "insert failed", line["message"])
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New("loud", FormatJSON, &buf)

	log.Debug().Msg("hidden")
	require.Zero(t, buf.Len())

	log.Info().Msg("shown")
	require.NotZero(t, buf.Len())
}
