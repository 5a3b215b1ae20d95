package httpapi

import (
	"net/http"
)

// notFoundText is the body of every unmatched request.
const notFoundText = "Your request has not been satisfied yet."

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/{kind}", s.handleDispatch)
	mux.HandleFunc("GET /api/stations", s.handleStations)
	mux.HandleFunc("GET /api/stations/{name}", s.handleStation)
	mux.HandleFunc("GET /api/audit", s.handleAudit)
	if s.feed != nil {
		mux.HandleFunc("GET /api/feed", s.handleFeed)
	}
	mux.HandleFunc("GET /{$}", s.handleBoard)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.cfg.MetricsPath != "" && s.deps.Metrics != nil {
		mux.Handle("GET "+s.cfg.MetricsPath, s.deps.Metrics.Handler())
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusNotFound, notFoundText)
	})

	var h http.Handler = mux
	h = s.withMetrics(h)
	h = s.withLogging(h)
	h = s.withRecover(h)
	h = withRequestID(h)
	return h
}
