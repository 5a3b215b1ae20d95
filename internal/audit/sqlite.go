package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "trainboard/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit (
	id         TEXT PRIMARY KEY,
	at         TEXT NOT NULL,
	request_id TEXT,
	kind       TEXT NOT NULL,
	station    TEXT,
	outcome    TEXT NOT NULL,
	err        TEXT,
	remote     TEXT,
	took_ms    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS audit_at ON audit(at);
`

// atLayout has fixed width so that text ordering matches time ordering.
const atLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit schema: %w", err)
	}
	log.Debug("audit sqlite opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Append(ctx context.Context, e Entry) error {
	e = stamp(e)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(id, at, request_id, kind, station, outcome, err, remote, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.ID, e.At.Format(atLayout), nullStr(e.RequestID), e.Kind, nullStr(e.Station),
		e.Outcome, nullStr(e.Error), nullStr(e.Remote), e.TookMS,
	)
	if err != nil && strings.Contains(err.Error(), "database is closed") {
		return ErrClosed
	}
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, request_id, kind, station, outcome, err, remote, took_ms
		 FROM audit ORDER BY at DESC, rowid DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		var requestID, station, errS, remote sql.NullString
		if err := rows.Scan(&e.ID, &at, &requestID, &e.Kind, &station, &e.Outcome, &errS, &remote, &e.TookMS); err != nil {
			return nil, err
		}
		e.At, err = time.Parse(atLayout, at)
		if err != nil {
			return nil, fmt.Errorf("audit row %s: %w", e.ID, err)
		}
		e.RequestID, e.Station, e.Error, e.Remote = requestID.String, station.String, errS.String, remote.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
