package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatText, ParseFormat("TINT"))
	assert.Equal(t, FormatText, ParseFormat("human"))
	assert.Equal(t, FormatJSON, ParseFormat("json"))
	assert.Equal(t, FormatAuto, ParseFormat("yaml"))
	assert.Equal(t, FormatAuto, ParseFormat(""))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}

func TestNewHandler_JSONWhenNotTTY(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, FormatAuto, slog.LevelInfo))
	log.Debug("hidden")
	log.Info("entry stored", "id", 7)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "entry stored", rec["msg"])
	assert.EqualValues(t, 7, rec["id"])
}

func TestNewHandler_ForcedText(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, FormatText, slog.LevelInfo)).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(buf.Bytes()))
}

func TestIsTTY_NonFile(t *testing.T) {
	assert.False(t, IsTTY(&bytes.Buffer{}))
}
