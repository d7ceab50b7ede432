package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(Settings{Level: "debug", Format: FormatJSON}, &buf)
	require.NoError(t, err)

	log.Debug().Str("store", "config").Msg("started")
	log.Trace().Msg("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "config", entry["store"])
	assert.Equal(t, "started", entry["message"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewWithWriter_DefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(Settings{Format: FormatJSON}, &buf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestNewWithWriter_Invalid(t *testing.T) {
	_, err := NewWithWriter(Settings{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = NewWithWriter(Settings{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestPgxTraceLevel(t *testing.T) {
	assert.Equal(t, tracelog.LogLevelDebug, PgxTraceLevel(zerolog.DebugLevel))
	assert.Equal(t, tracelog.LogLevelTrace, PgxTraceLevel(zerolog.TraceLevel))
	assert.Equal(t, tracelog.LogLevelError, PgxTraceLevel(zerolog.ErrorLevel))
	assert.Equal(t, tracelog.LogLevelNone, PgxTraceLevel(zerolog.Disabled))
}
