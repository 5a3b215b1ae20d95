package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseMissingFileUsesDefaults(t *testing.T) {
	m := NewConfigManager(filepath.Join(t.TempDir(), "config.json"))
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Equal(t, "127.0.0.1:3000", cfg.HTTP.Addr)
	require.Equal(t, "trainboard.json", cfg.Registry.SnapshotPath)
	require.Same(t, cfg, m.Get())
}

func TestParseJSONOverlaysDefaults(t *testing.T) {
	cfg, err := ParseBytes("config.json", []byte(`{"http":{"addr":":8080"},"registry":{"snapshot_path":"/var/lib/tb.json"}}`))
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, "10s", cfg.HTTP.ReadTimeout, "untouched fields keep defaults")
	require.Equal(t, "/var/lib/tb.json", cfg.Registry.SnapshotPath)
	require.True(t, cfg.Metrics.Enabled)
}

func TestParseYAML(t *testing.T) {
	data := []byte(`
logging:
  level: debug
  console: false
api:
  rate_per_sec: 2.5
  burst: 5
storage:
  driver: sqlite
  path: ./audit.db
`)
	cfg, err := ParseBytes("config.yaml", data)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.False(t, cfg.Logging.Console)
	require.Equal(t, 2.5, cfg.API.RatePerSec)
	require.Equal(t, 5, cfg.API.Burst)
	require.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestParseEmptyFileIsDefaults(t *testing.T) {
	for _, name := range []string{"config.json", "config.yml"} {
		cfg, err := ParseBytes(name, []byte("  \n"))
		require.NoError(t, err, name)
		require.Equal(t, Default(), cfg)
	}
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"unknown field":   `{"http":{"adr":"x"}}`,
		"trailing data":   `{} {}`,
		"bad duration":    `{"http":{"read_timeout":"soon"}}`,
		"negative":        `{"board":{"cache_ttl":"-1s"}}`,
		"storage no path": `{"storage":{"driver":"file"}}`,
		"storage driver":  `{"storage":{"driver":"redis","path":"x"}}`,
		"metrics path":    `{"metrics":{"enabled":true,"path":"metrics"}}`,
		"timezone":        `{"report":{"timezone":"Mars/Olympus"}}`,
		"empty addr":      `{"http":{"addr":" "}}`,
		"rate":            `{"api":{"rate_per_sec":-1}}`,
		"pprof addr":      `{"pprof":{"enabled":true,"addr":""}}`,
		"pprof rate":      `{"pprof":{"block_profile_rate":-1}}`,
	}
	for name, body := range tests {
		_, err := ParseBytes("config.json", []byte(body))
		require.Error(t, err, name)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, d)

	d, err = ParseDurationOrDefault("x", " 250ms ", time.Second)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationField("x.y", "abc")
	require.ErrorContains(t, err, "x.y")
}

func TestSummarizeConfigChange(t *testing.T) {
	a := Default()
	b := Default()
	changed, _, restart := SummarizeConfigChange(a, b)
	require.Empty(t, changed)
	require.Empty(t, restart)

	b.Logging.Level = "DEBUG"
	b.Board.Title = "Departures"
	b.HTTP.Addr = ":9000"
	changed, attrs, restart := SummarizeConfigChange(a, b)
	require.Equal(t, []string{"board", "http", "logging"}, changed)
	require.Equal(t, []string{"http"}, restart)
	require.NotEmpty(t, attrs)

	p := Default()
	p.Pprof.Token = "s3cret"
	changed, attrs, restart = SummarizeConfigChange(a, p)
	require.Equal(t, []string{"pprof"}, changed)
	require.Empty(t, restart)
	require.Len(t, attrs, 3)

	c := Default()
	c.Storage.Driver = ""
	changed, _, _ = SummarizeConfigChange(a, c)
	require.Empty(t, changed, "empty driver equals none")
}

func TestSubscribeKeepsLatest(t *testing.T) {
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)

	first, second := Default(), Default()
	second.Board.Title = "second"
	m.publish(first)
	m.publish(second)

	got := <-ch
	require.Same(t, second, got)

	m.Unsubscribe(ch)
	_, ok := <-ch
	require.False(t, ok)
	m.Unsubscribe(ch)
}

func TestWatchPublishesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"board":{"title":"one"}}`), 0o644))

	m := NewConfigManager(path)
	m.debounce = 150 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	var rejected atomic.Bool
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Board.Title == "reject" {
			rejected.Store(true)
			return context.Canceled
		}
		return nil
	})

	ch := m.Subscribe(4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"board":{"title":"two"}}`), 0o644))

	select {
	case cfg := <-ch:
		require.Equal(t, "two", cfg.Board.Title)
		require.Equal(t, "two", m.Get().Board.Title)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}

	require.NoError(t, os.WriteFile(path, []byte(`{"board":{"title":"reject"}}`), 0o644))
	require.Eventually(t, rejected.Load, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, "two", m.Get().Board.Title)
	require.Empty(t, ch)
}
