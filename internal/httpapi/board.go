package httpapi

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"trainboard/internal/registry"
	logx "trainboard/pkg/logx"
)

const boardKey = "board"

var boardTmpl = template.Must(template.New("board").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body{font-family:sans-serif;margin:2em}
table{border-collapse:collapse;margin-bottom:1.5em}
td,th{border:1px solid #999;padding:.3em .8em;text-align:left}
td.t{font-family:monospace;text-align:right}
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{- if not .Stations}}
<p>No stations yet.</p>
{{- end}}
{{- range .Stations}}
<h2>{{.Name}}</h2>
<table>
<tr><th>Time left</th><th>Train</th><th>Destination</th></tr>
{{- range .Rows}}
<tr><td class="t">{{.TimeLeft}}</td><td>{{.Train}}</td><td>{{.Destination}}</td></tr>
{{- else}}
<tr><td colspan="3">No scheduled trains.</td></tr>
{{- end}}
</table>
{{- end}}
<p><small>Revision {{.Revision}}, generated {{.Generated}}</small></p>
</body>
</html>
`))

type boardPage struct {
	Title     string
	Stations  []boardStation
	Revision  uint64
	Generated string
}

type boardStation struct {
	Name string
	Rows []boardRow
}

type boardRow struct {
	TimeLeft    string
	Train       string
	Destination string
}

type cachedPage struct {
	rev  uint64
	page []byte
}

// board renders the HTML page and caches it until the TTL passes or the
// registry changes.
type board struct {
	mu    sync.RWMutex
	title string
	ttl   time.Duration
	cache *cache.Cache
}

func newBoard(title string, ttl time.Duration) *board {
	b := &board{cache: cache.New(ttl, time.Minute)}
	b.configure(title, ttl)
	return b
}

func (b *board) configure(title string, ttl time.Duration) {
	if title == "" {
		title = "Train stations"
	}
	b.mu.Lock()
	b.title = title
	b.ttl = ttl
	b.mu.Unlock()
	b.invalidate()
}

func (b *board) invalidate() { b.cache.Delete(boardKey) }

func (b *board) render(reg *registry.Service) ([]byte, error) {
	if v, ok := b.cache.Get(boardKey); ok {
		// A render that raced a mutation may have cached an older revision.
		if c := v.(cachedPage); c.rev == reg.Stats().Revision {
			return c.page, nil
		}
	}

	b.mu.RLock()
	title, ttl := b.title, b.ttl
	b.mu.RUnlock()

	snap, rev := reg.Snapshot()
	page := boardPage{Title: title, Revision: rev, Generated: time.Now().UTC().Format(time.RFC3339)}
	for _, st := range snap.Stations() {
		bs := boardStation{Name: st.Name, Rows: make([]boardRow, 0, len(st.Schedule))}
		for _, e := range st.Schedule {
			bs.Rows = append(bs.Rows, boardRow{
				TimeLeft:    formatTimeLeft(e),
				Train:       e.TrainName,
				Destination: e.TrainDestination,
			})
		}
		page.Stations = append(page.Stations, bs)
	}

	var buf bytes.Buffer
	if err := boardTmpl.Execute(&buf, page); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if ttl > 0 {
		b.cache.Set(boardKey, cachedPage{rev: rev, page: out}, ttl)
	}
	return out, nil
}

// formatTimeLeft renders seconds as m:ss, or "-" when unknown.
func formatTimeLeft(e registry.ScheduleEntry) string {
	sec, ok := e.Known()
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	page, err := s.board.render(s.deps.Registry)
	if err != nil {
		s.log.Error("board render failed", logx.Err(err))
		writeText(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}
