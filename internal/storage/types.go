package storage

import (
	"context"
	"errors"
	"time"

	"fwdbot/internal/tenant"
)

var (
	ErrNotFound = errors.New("tenant not found")
	ErrClosed   = errors.New("storage closed")
)

// MaxLogEntries caps each tenant's activity log.
const MaxLogEntries = 50

// Config configures storage.
//
// Driver values:
//   - "file" (default): dependency-free file backend (snapshot + journal)
//   - "sqlite": SQLite database file
//   - "redis": Redis server at RedisURL
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	RedisURL    string
	KeyPrefix   string // redis only
}

// LogEntry is one line of a tenant's activity log.
type LogEntry struct {
	At   time.Time `json:"at"`
	Line string    `json:"line"`
}

// Store is the tenant record store.
type Store interface {
	// Ensure returns the tenant, creating the default record on first contact.
	Ensure(ctx context.Context, id int64) (tenant.Tenant, error)
	// Get returns ErrNotFound for unknown tenants.
	Get(ctx context.Context, id int64) (tenant.Tenant, error)
	// Set writes one field. v must be the Go type tenant.Tenant.Apply expects.
	Set(ctx context.Context, id int64, f tenant.Field, v any) error
	// List returns all tenants ordered by id.
	List(ctx context.Context) ([]tenant.Tenant, error)

	AppendLog(ctx context.Context, id int64, line string) error
	// Logs returns up to n most recent entries, oldest first. n <= 0 means all.
	Logs(ctx context.Context, id int64, n int) ([]LogEntry, error)

	Close() error
}

func tailLogs(in []LogEntry, n int) []LogEntry {
	if n > 0 && len(in) > n {
		in = in[len(in)-n:]
	}
	return append([]LogEntry(nil), in...)
}
