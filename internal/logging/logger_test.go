package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false)

	logger.Info("rotated %s", "svc-1")
	logger.Warn("platform slow")
	logger.Error("apply failed for %s", "svc-2")
	logger.Debug("should not appear")

	out := buf.String()
	assert.Contains(t, out, "✓ rotated svc-1")
	assert.Contains(t, out, "⚠ platform slow")
	assert.Contains(t, out, "✗ apply failed for svc-2")
	assert.NotContains(t, out, "should not appear")
}

func TestLoggerDebugEnabled(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, true)

	logger.Debug("confirming %s", "svc-3")
	assert.Contains(t, buf.String(), "[DEBUG] confirming svc-3")
}

func TestNewFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svcrotate.log")

	logger, closer, err := NewFile(path, false)
	require.NoError(t, err)
	logger.Info("rotated %s", "svc-1")
	require.NoError(t, closer.Close())

	logger, closer, err = NewFile(path, false)
	require.NoError(t, err)
	logger.Warn("platform slow")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "✓ rotated svc-1")
	assert.Contains(t, string(data), "⚠ platform slow")
}

func TestNewFileBadPath(t *testing.T) {
	_, _, err := NewFile(filepath.Join(t.TempDir(), "missing", "svcrotate.log"), false)
	assert.Error(t, err)
}

func TestSecretNeverFormats(t *testing.T) {
	s := Secret("hunter2-super-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", s))
	assert.NotContains(t, fmt.Sprintf("%s %v %#v", s, s, s), "hunter2")
}

func TestRedact(t *testing.T) {
	line := "bound with password hunter2-super-secret ok"
	got := Redact(line, []string{"hunter2-super-secret"})
	assert.Equal(t, "bound with password [REDACTED] ok", got)

	// Trivial values are left alone to avoid shredding ordinary output.
	assert.Equal(t, "a b c", Redact("a b c", []string{"b"}))
}

func TestLoggerOutputHoldsNoSecretWhenWrapped(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false)

	logger.Info("setting credential for %s to %s", "svc-1", Secret("tOpSeCrEt-marker"))
	assert.False(t, strings.Contains(buf.String(), "tOpSeCrEt-marker"))
}
