package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"trainboard/internal/registry"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("GET /", 200, time.Millisecond)
	m.ObserveDispatch("Removal", "accepted")
	m.SnapshotSaved(nil)
	m.AuditFailed()
	m.SetRegistryStats(registry.Stats{Stations: 1})
	m.FeedClients(1)
	m.TrackDropped("x", "y", func() uint64 { return 1 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCollectors(t *testing.T) {
	m := New()
	m.ObserveDispatch("ScheduleUpdate", "accepted")
	m.ObserveDispatch("ScheduleUpdate", "accepted")
	m.ObserveDispatch("Removal", "rejected_not_found")
	m.SnapshotSaved(errors.New("disk full"))
	m.SetRegistryStats(registry.Stats{Stations: 3, Entries: 7, Revision: 12})
	m.FeedClients(2)
	m.FeedClients(-1)

	require.Equal(t, 2.0, testutil.ToFloat64(m.dispatches.WithLabelValues("ScheduleUpdate", "accepted")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.snapshotSaves.WithLabelValues("error")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.stations))
	require.Equal(t, 7.0, testutil.ToFloat64(m.entries))
	require.Equal(t, 1.0, testutil.ToFloat64(m.feedClients))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.TrackDropped("events_dropped_total", "Events dropped.", func() uint64 { return 4 })
	m.ObserveRequest("POST /api/{kind}", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, `trainboard_http_requests_total{code="200",route="POST /api/{kind}"} 1`), body)
	require.Contains(t, body, "trainboard_events_dropped_total 4")
	require.Contains(t, body, "go_goroutines")
}
