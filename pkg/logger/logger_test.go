package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_EmitsServiceField(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("auth", "info", &buf)

	l.Info("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "auth", entry["service"])
	assert.Equal(t, "hello", entry["msg"])
}

func TestNewWithWriter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("auth", "warn", &buf)

	l.Info("dropped")
	assert.Empty(t, buf.String())

	l.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc-123")
	assert.Equal(t, "abc-123", CorrelationIDFromContext(ctx))
	assert.Equal(t, "", CorrelationIDFromContext(context.Background()))
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
}

func TestSanitize_StripsControlCharacters(t *testing.T) {
	in := "user@example.com\r\nINJECTED line\x00\x1f\x7f"
	out := Sanitize(in)

	assert.Equal(t, "user@example.comINJECTED line", out)
	assert.NotContains(t, out, "\n")
	assert.NotContains(t, out, "\r")
}

func TestSanitize_TruncatesLongInput(t *testing.T) {
	in := strings.Repeat("a", 500)
	out := Sanitize(in)
	assert.Len(t, out, 100)
}

func TestSanitize_TruncatesOnRuneBoundary(t *testing.T) {
	in := strings.Repeat("ü", 500)
	out := Sanitize(in)

	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, 100, utf8.RuneCountInString(out))
}

func TestSanitize_PassesThroughCleanInput(t *testing.T) {
	assert.Equal(t, "alice@example.com", Sanitize("alice@example.com"))
}
