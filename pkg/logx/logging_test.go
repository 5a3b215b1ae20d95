package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	require.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
	l.With(Int("n", 1)).Error("dropped")
	require.False(t, Nop().IsZero())
}

func TestWriterFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "INFO").With(String("comp", "test"))

	l.Debug("hidden")
	l.Info("shown", Int("n", 3), Err(errors.New("boom")), Err(nil))
	require.False(t, l.Enabled(LevelDebug))
	require.True(t, l.Enabled(LevelWarn))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	require.Equal(t, "shown", got["message"])
	require.Equal(t, "test", got["comp"])
	require.EqualValues(t, 3, got["n"])
	require.Equal(t, "boom", got["err"])
	require.Contains(t, got["caller"], "logging_test.go:")
}

func TestServiceFileSinkAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	svc, l := New(Config{Level: "WARN", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	l.Info("below level")
	l.Warn("first")

	// The logger follows Apply without being recreated.
	svc.Apply(Config{Level: "DEBUG", File: FileConfig{Enabled: true, Path: path}})
	l.Debug("second")
	require.Equal(t, "DEBUG", svc.Config().Level)
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	require.NotContains(t, out, "below level")
	require.Contains(t, out, `"message":"first"`)
	require.Contains(t, out, `"message":"second"`)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, LevelWarn, ParseLevel(" warning ", LevelInfo))
	require.Equal(t, LevelTrace, ParseLevel("trace", LevelInfo))
	require.Equal(t, LevelInfo, ParseLevel("loud", LevelInfo))
}
