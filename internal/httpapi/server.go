// Package httpapi serves the registry over HTTP.
//
// Routes:
//
//	POST /api/{kind}         apply one wire message
//	GET  /api/stations       every station, in registry order
//	GET  /api/stations/{name}
//	GET  /api/audit?limit=N  recent audit entries, newest first
//	GET  /api/feed           websocket stream of registry events
//	GET  /                   HTML board
//	GET  /healthz            liveness and registry counters
//	GET  /metrics            Prometheus exposition
//
// Anything else answers 404 with a fixed text body.
//
// A feed connection opens with a snapshot message; events with a revision at
// or below its revision are already reflected in it. If the event bus drops
// deliveries, clients receive another snapshot rather than a gap.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"trainboard/internal/audit"
	"trainboard/internal/eventbus"
	"trainboard/internal/metrics"
	"trainboard/internal/registry"
	rtsup "trainboard/internal/runtime/supervisor"
	"trainboard/internal/wire"
	logx "trainboard/pkg/logx"
)

// Config is the resolved HTTP configuration.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64

	MetricsPath string // empty disables /metrics

	FeedEnabled  bool
	PingInterval time.Duration

	BoardTitle string
	BoardTTL   time.Duration

	RatePerSec float64
	Burst      int
}

// Deps are the collaborators the handlers use. Registry is required.
type Deps struct {
	Registry   *registry.Service
	Bus        eventbus.Bus
	Audit      audit.Store
	Metrics    *metrics.Metrics
	Supervisor *rtsup.Supervisor
	Log        logx.Logger
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	dispatcher wire.Dispatcher
	limiter    atomic.Pointer[rate.Limiter]
	board      *board
	feed       *feedHub
	handler    http.Handler

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server

	events  <-chan eventbus.Event
	unsub   func()
	dropped uint64 // bus drop count when events was subscribed
}

func New(cfg Config, deps Deps) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	log := deps.Log.With(logx.String("comp", "http"))
	s := &Server{
		cfg:        cfg,
		deps:       deps,
		log:        log,
		dispatcher: wire.Dispatcher{Registry: deps.Registry},
		board:      newBoard(cfg.BoardTitle, cfg.BoardTTL),
	}
	if cfg.FeedEnabled {
		s.feed = newFeedHub(cfg.PingInterval, deps.Metrics, log.With(logx.String("sub", "feed")))
	}
	s.SetRateLimit(cfg.RatePerSec, cfg.Burst)
	s.handler = s.routes()
	// Subscribe now so events published before WatchEvents runs are kept.
	s.subscribe()
	return s
}

// Handler returns the fully wrapped handler. Useful with httptest.
func (s *Server) Handler() http.Handler { return s.handler }

// SetRateLimit replaces the write limiter. rps <= 0 disables limiting.
func (s *Server) SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		s.limiter.Store(nil)
		return
	}
	if burst <= 0 {
		burst = max(1, int(rps))
	}
	s.limiter.Store(rate.NewLimiter(rate.Limit(rps), burst))
}

// SetBoard updates the board title and cache TTL and drops the cached page.
func (s *Server) SetBoard(title string, ttl time.Duration) {
	s.board.configure(title, ttl)
}

// Listen binds the configured address. The returned address is the real
// one, which differs from the configured one for ":0".
func (s *Server) Listen() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()
	return ln.Addr(), nil
}

// Serve runs the server on the listener from Listen until Shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln, srv := s.ln, s.srv
	s.mu.Unlock()
	if srv == nil {
		return errors.New("httpapi: Serve called before Listen")
	}

	s.log.Info("http server started", logx.String("addr", ln.Addr().String()))
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	if ctx.Err() != nil {
		return context.Canceled
	}
	return err
}

// Shutdown stops accepting connections, closes feed clients, and waits for
// in-flight requests within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if s.feed != nil {
		s.feed.closeAll()
	}
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	return err
}

func (s *Server) subscribe() (<-chan eventbus.Event, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil && s.deps.Bus != nil {
		s.dropped = eventbus.Dropped(s.deps.Bus)
		s.events, s.unsub = s.deps.Bus.Subscribe(256)
	}
	return s.events, s.dropped
}

func (s *Server) unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsub != nil {
		s.unsub()
	}
	s.events, s.unsub = nil, nil
}

// WatchEvents keeps the board cache and the live feed in step with the
// registry until ctx is done.
//
// When the bus reports dropped deliveries, feed clients get a fresh snapshot
// instead of the next event, and events it already covers are skipped.
func (s *Server) WatchEvents(ctx context.Context) error {
	ch, seen := s.subscribe()
	if ch == nil {
		<-ctx.Done()
		return nil
	}
	defer s.unsubscribe()

	var covered uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return errors.New("event subscription closed")
			}
			s.board.invalidate()
			if s.feed == nil || (covered > 0 && ev.Revision <= covered) {
				continue
			}
			if n := eventbus.Dropped(s.deps.Bus); n > seen {
				seen = n
				rev, err := s.feed.resync(s.deps.Registry)
				if err == nil {
					covered = rev
					continue
				}
				s.log.Warn("feed resync failed", logx.Err(err))
			}
			s.feed.broadcast(ev)
		}
	}
}
