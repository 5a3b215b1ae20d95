package audit

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("audit disabled")
	ErrClosed   = errors.New("audit store closed")
)

const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 1000
)

// Config configures the audit store.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry records one dispatched API call.
type Entry struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	RequestID string    `json:"request_id,omitempty"`
	Kind      string    `json:"kind"`
	Station   string    `json:"station,omitempty"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	Remote    string    `json:"remote,omitempty"`
	TookMS    int64     `json:"took_ms"`
}

// Store persists audit entries.
type Store interface {
	Append(ctx context.Context, e Entry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	return min(limit, MaxRecentLimit)
}
