package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	insertTimeout    = 2 * time.Second
	defaultQueueSize = 1024
)

// Entry is one completed relay.
type Entry struct {
	RequestID  string
	Model      string
	Stream     bool
	StatusCode int
	Outcome    string
	DurationMs int64
	Bytes      int64
	CreatedAt  time.Time
}

// Recorder stores relay entries. Record must not block the caller.
type Recorder interface {
	Record(e Entry)
}

// NopRecorder discards every entry.
type NopRecorder struct{}

func (NopRecorder) Record(Entry) {}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRecorder writes entries to the relay_log table from a single
// background worker. Entries that arrive while the queue is full are dropped.
type PostgresRecorder struct {
	db     execer
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	entries chan Entry
	done    chan struct{}
}

// NewPostgresRecorder returns a recorder backed by pool. A nil pool yields a
// recorder that drops entries.
func NewPostgresRecorder(pool *pgxpool.Pool, logger *slog.Logger) *PostgresRecorder {
	if pool == nil {
		return newRecorder(nil, logger, 0)
	}
	return newRecorder(pool, logger, defaultQueueSize)
}

func newRecorder(db execer, logger *slog.Logger, queueSize int) *PostgresRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &PostgresRecorder{db: db, logger: logger, done: make(chan struct{})}
	if db == nil {
		close(r.done)
		return r
	}
	r.entries = make(chan Entry, queueSize)
	go r.run()
	return r
}

const insertSQL = `
	INSERT INTO relay_log (request_id, model, stream, status_code, outcome, duration_ms, bytes, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// Record queues e without blocking.
func (r *PostgresRecorder) Record(e Entry) {
	if r == nil || r.db == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.entries <- e:
	default:
		r.logger.Warn("relay log queue full, dropping entry", "request_id", e.RequestID)
	}
}

func (r *PostgresRecorder) run() {
	defer close(r.done)
	for e := range r.entries {
		r.insert(e)
	}
}

func (r *PostgresRecorder) insert(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	_, err := r.db.Exec(ctx, insertSQL,
		e.RequestID, e.Model, e.Stream, e.StatusCode, e.Outcome, e.DurationMs, e.Bytes, e.CreatedAt)
	if err != nil {
		r.logger.Warn("failed to record relay", "request_id", e.RequestID, "error", err)
	}
}

// Close stops accepting entries and waits for queued inserts to finish.
func (r *PostgresRecorder) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if !r.closed && r.entries != nil {
		close(r.entries)
	}
	r.closed = true
	r.mu.Unlock()
	<-r.done
}
