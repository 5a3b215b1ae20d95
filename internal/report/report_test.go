package report

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trainboard/internal/registry"
	logx "trainboard/pkg/logx"
)

func TestValidateSchedule(t *testing.T) {
	for _, spec := range []string{"", "@every 5m", "*/5 * * * *", "0 */5 * * * *", "@hourly"} {
		require.NoError(t, ValidateSchedule(spec), spec)
	}
	for _, spec := range []string{"soon", "* * *", "@every banana"} {
		require.Error(t, ValidateSchedule(spec), spec)
	}
}

func TestRunOnceLogsChanges(t *testing.T) {
	var buf bytes.Buffer
	reg := registry.NewService(nil)
	r := New(Config{}, reg, nil, logx.NewWriter(&buf, "info"))

	require.NoError(t, reg.Upsert(registry.Station{Name: "A", Schedule: []registry.ScheduleEntry{registry.NewEntry(1, "x", "y")}}))
	require.NoError(t, reg.Upsert(registry.Station{Name: "B"}))
	r.RunOnce()
	r.RunOnce()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.Equal(t, "registry stats", first["message"])
	require.Equal(t, 2.0, first["stations"])
	require.Equal(t, 1.0, first["entries"])
	require.Equal(t, 2.0, first["changes"])
	require.Equal(t, 0.0, second["changes"])
	require.Equal(t, uint64(2), r.Runs())
}

func TestScheduleRuns(t *testing.T) {
	reg := registry.NewService(nil)
	r := New(Config{Schedule: "@every 1s"}, reg, nil, logx.Nop())
	require.NoError(t, r.Start())
	defer r.Stop(context.Background())

	require.Eventually(t, func() bool { return r.Runs() >= 1 }, 5*time.Second, 50*time.Millisecond)
}

func TestDisabledAndApply(t *testing.T) {
	reg := registry.NewService(nil)
	r := New(Config{Schedule: "@every 1h"}, reg, nil, logx.Nop())
	require.NoError(t, r.Apply(Config{Schedule: "@every 2h"}))
	require.Nil(t, r.c, "apply does not start a reporter that was never started")

	require.NoError(t, r.Apply(Config{}))
	require.NoError(t, r.Start())
	require.Nil(t, r.c, "empty schedule is disabled")

	require.Error(t, r.Apply(Config{Schedule: "nope"}))
	require.NoError(t, r.Apply(Config{Schedule: "@every 1h"}))
	require.NotNil(t, r.c, "a schedule added by reload starts")
	require.NoError(t, r.Apply(Config{Schedule: "@every 2h", Timezone: "UTC"}))
	require.NotNil(t, r.c)

	r.Stop(context.Background())
	require.Nil(t, r.c)
}
