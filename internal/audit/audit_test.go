package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "trainboard/pkg/logx"
)

func openDriver(t *testing.T, driver, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

func TestOpenDisabled(t *testing.T) {
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		require.NoError(t, err)
		require.Nil(t, st)
	}
	_, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop())
	require.ErrorAs(t, err, new(ErrUnknownDriver))
}

func TestDrivers(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "audit."+driver)
			st := openDriver(t, driver, path)
			ctx := context.Background()

			base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			for i := 0; i < 5; i++ {
				require.NoError(t, st.Append(ctx, Entry{
					At:      base.Add(time.Duration(i) * time.Millisecond),
					Kind:    "ScheduleUpdate",
					Station: fmt.Sprintf("S%d", i),
					Outcome: "accepted",
					TookMS:  int64(i),
				}))
			}

			got, err := st.Recent(ctx, 3)
			require.NoError(t, err)
			require.Len(t, got, 3)
			require.Equal(t, "S4", got[0].Station, "newest first")
			require.Equal(t, "S2", got[2].Station)
			require.NotEmpty(t, got[0].ID)
			require.True(t, got[0].At.Equal(base.Add(4*time.Millisecond)))

			all, err := st.Recent(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 5)

			require.NoError(t, st.Close())

			// Entries survive a reopen.
			st = openDriver(t, driver, path)
			defer st.Close()
			got, err = st.Recent(ctx, 1)
			require.NoError(t, err)
			require.Len(t, got, 1)
			require.Equal(t, "S4", got[0].Station)
		})
	}
}

func TestFileStoreSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":\"a\",\"kind\":\"Removal\",\"outcome\":\"accepted\"}\nnot json\n"), 0o600))

	st := openDriver(t, "file", path)
	defer st.Close()
	got, err := st.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].ID)
}

func TestFileStoreClosed(t *testing.T) {
	st := openDriver(t, "file", filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	require.ErrorIs(t, st.Append(context.Background(), Entry{Kind: "Removal"}), ErrClosed)
}

func TestClampLimit(t *testing.T) {
	require.Equal(t, DefaultRecentLimit, clampLimit(0))
	require.Equal(t, DefaultRecentLimit, clampLimit(-3))
	require.Equal(t, 7, clampLimit(7))
	require.Equal(t, MaxRecentLimit, clampLimit(MaxRecentLimit+1))
}
