package audit

import (
	"strings"
	"time"

	"github.com/google/uuid"

	logx "trainboard/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if auditing is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, ErrUnknownDriver{Driver: driver}
	}
}

type ErrUnknownDriver struct{ Driver string }

func (e ErrUnknownDriver) Error() string { return "unknown audit driver: " + e.Driver }

// stamp fills the id and time of a new entry.
func stamp(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	e.At = e.At.UTC()
	return e
}
