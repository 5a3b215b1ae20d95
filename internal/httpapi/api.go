package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"trainboard/internal/audit"
	"trainboard/internal/eventbus"
	"trainboard/internal/registry"
	rtsup "trainboard/internal/runtime/supervisor"
	"trainboard/internal/wire"
	logx "trainboard/pkg/logx"
)

const auditTimeout = 2 * time.Second

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tag := r.PathValue("kind")

	if lim := s.limiter.Load(); lim != nil && !lim.Allow() {
		w.Header().Set("Retry-After", "1")
		writeText(w, http.StatusTooManyRequests, "Too many requests.")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeText(w, http.StatusRequestEntityTooLarge, "Request body too large.")
			return
		}
		writeText(w, http.StatusBadRequest, "Could not read request body.")
		return
	}

	res := s.dispatcher.Dispatch(r.Context(), tag, body)
	code, text := dispatchResponse(tag, res)
	writeText(w, code, text)

	kind := res.Kind.String()
	s.deps.Metrics.ObserveDispatch(kind, res.Status.String())

	fields := []logx.Field{
		logx.String("request_id", RequestID(r.Context())),
		logx.String("kind", kind),
		logx.String("station", res.Station),
		logx.String("outcome", res.Status.String()),
	}
	if res.Err != nil {
		fields = append(fields, logx.Err(res.Err))
	}
	if res.Status == wire.StatusAccepted {
		s.log.Info("station message applied", append(fields, logx.Int("entries", res.Entries))...)
	} else {
		s.log.Debug("station message rejected", fields...)
	}

	s.recordAudit(r, res, time.Since(start))
}

// dispatchResponse maps a dispatch result to a status code and text body.
func dispatchResponse(tag string, res wire.Result) (int, string) {
	switch res.Status {
	case wire.StatusAccepted:
		return http.StatusOK, "OK"
	case wire.StatusNotFound:
		return http.StatusNotFound, "Station not found."
	case wire.StatusUnavailable:
		return http.StatusServiceUnavailable, "Service is shutting down."
	}
	switch {
	case errors.Is(res.Err, wire.ErrUnknownKind):
		return http.StatusBadRequest, "The request API kind is invalid."
	case errors.Is(res.Err, wire.ErrInvalidSchedule):
		return http.StatusBadRequest, "Invalid schedule data: " + res.Err.Error()
	default:
		return http.StatusBadRequest, "Invalid JSON for API " + tag + "."
	}
}

func (s *Server) recordAudit(r *http.Request, res wire.Result, took time.Duration) {
	if s.deps.Audit == nil {
		return
	}
	e := audit.Entry{
		RequestID: RequestID(r.Context()),
		Kind:      res.Kind.String(),
		Station:   res.Station,
		Outcome:   res.Status.String(),
		Remote:    r.RemoteAddr,
		TookMS:    took.Milliseconds(),
	}
	if res.Kind == wire.KindUnknown {
		e.Kind = r.PathValue("kind")
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	// The entry outlives a client that hung up after its write was applied.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditTimeout)
	defer cancel()
	if err := s.deps.Audit.Append(ctx, e); err != nil {
		s.deps.Metrics.AuditFailed()
		s.log.Warn("audit append failed", logx.String("request_id", e.RequestID), logx.Err(err))
	}
}

type stationsResponse struct {
	Version       uint64             `json:"version"`
	Revision      uint64             `json:"revision"`
	TrainStations []registry.Station `json:"train_stations"`
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	snap, rev := s.deps.Registry.Snapshot()
	writeJSON(w, http.StatusOK, stationsResponse{
		Version:       snap.Version(),
		Revision:      rev,
		TrainStations: snap.Stations(),
	})
}

func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	st, ok := s.deps.Registry.Get(r.PathValue("name"))
	if !ok {
		writeText(w, http.StatusNotFound, "Station not found.")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeText(w, http.StatusNotFound, "Audit log is disabled.")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeText(w, http.StatusBadRequest, "limit must be a non-negative integer.")
			return
		}
		limit = n
	}
	entries, err := s.deps.Audit.Recent(r.Context(), limit)
	if err != nil {
		s.log.Warn("audit read failed", logx.Err(err))
		writeText(w, http.StatusInternalServerError, "Audit log unavailable.")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type healthResponse struct {
	Status        string         `json:"status"`
	Registry      registry.Stats `json:"registry"`
	Supervisor    rtsup.Counters `json:"supervisor"`
	FirstError    string         `json:"first_error,omitempty"`
	EventsDropped uint64         `json:"events_dropped"`
	FeedClients   int            `json:"feed_clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Registry:   s.deps.Registry.Stats(),
		Supervisor: s.deps.Supervisor.Counters(),
	}
	if s.deps.Supervisor != nil {
		if err := s.deps.Supervisor.Err(); err != nil {
			resp.FirstError = err.Error()
		}
	}
	if s.deps.Bus != nil {
		resp.EventsDropped = eventbus.Dropped(s.deps.Bus)
	}
	if s.feed != nil {
		resp.FeedClients = s.feed.count()
	}
	code := http.StatusOK
	if s.deps.Registry.Closed() {
		resp.Status = "stopping"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		writeText(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}
