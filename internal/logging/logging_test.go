package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestLogger_KeyValues(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "debug", "json")

	l.Info("task created", "task_id", "t-1", "step", 2, "err", errors.New("boom"))

	line := decodeLine(t, &buf)
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "task created", line["message"])
	assert.Equal(t, "t-1", line["task_id"])
	assert.EqualValues(t, 2, line["step"])
	assert.Equal(t, "boom", line["err"])
}

func TestLogger_OddArgs(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "info", "json")

	l.Warn("dangling", "orphan")

	line := decodeLine(t, &buf)
	assert.Equal(t, "orphan", line["!BADKEY"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", "json")

	l.Debug("hidden")
	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Error("shown")
	assert.NotZero(t, buf.Len())
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "bogus", "json").With("component", "engine")

	l.Info("hello")

	line := decodeLine(t, &buf)
	assert.Equal(t, "engine", line["component"])
	assert.Equal(t, "info", line["level"])
}
