package audit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeExecer struct {
	mu          sync.Mutex
	sql         []string
	args        [][]any
	err         error
	hadDeadline bool
}

func (f *fakeExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, f.hadDeadline = ctx.Deadline()
	f.sql = append(f.sql, sql)
	f.args = append(f.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPostgresRecorder_Record(t *testing.T) {
	db := &fakeExecer{}
	r := newRecorder(db, discardLogger(), 8)

	r.Record(Entry{
		RequestID:  "req-1",
		Model:      "gpt-oss-120b",
		Stream:     true,
		StatusCode: 200,
		Outcome:    "stream_complete",
		DurationMs: 1200,
		Bytes:      4096,
	})
	r.Close()

	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.sql) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(db.sql))
	}
	if !strings.Contains(db.sql[0], "INSERT INTO relay_log") {
		t.Errorf("unexpected sql: %s", db.sql[0])
	}
	args := db.args[0]
	if len(args) != 8 {
		t.Fatalf("expected 8 args, got %d", len(args))
	}
	if args[0] != "req-1" {
		t.Errorf("expected request id req-1, got %v", args[0])
	}
	if args[2] != true {
		t.Errorf("expected stream true, got %v", args[2])
	}
	if ts, ok := args[7].(time.Time); !ok || ts.IsZero() {
		t.Errorf("expected created_at to be filled, got %v", args[7])
	}
	if !db.hadDeadline {
		t.Error("expected insert to run with a deadline")
	}
}

func TestPostgresRecorder_ExecErrorIsSwallowed(t *testing.T) {
	db := &fakeExecer{err: errors.New("relation does not exist")}
	r := newRecorder(db, discardLogger(), 8)

	r.Record(Entry{RequestID: "req-2"})
	r.Close()

	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.sql) != 1 {
		t.Errorf("expected insert attempt, got %d", len(db.sql))
	}
}

func TestPostgresRecorder_NilPool(t *testing.T) {
	r := NewPostgresRecorder(nil, discardLogger())
	r.Record(Entry{RequestID: "req-3"})
	r.Close()

	var nilRecorder *PostgresRecorder
	nilRecorder.Record(Entry{})
	nilRecorder.Close()
}

// blockingExecer holds every insert until release is closed.
type blockingExecer struct {
	fakeExecer
	started chan struct{}
	release chan struct{}
}

func (b *blockingExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	b.started <- struct{}{}
	<-b.release
	return b.fakeExecer.Exec(ctx, sql, args...)
}

func TestPostgresRecorder_FullQueueDrops(t *testing.T) {
	db := &blockingExecer{started: make(chan struct{}, 4), release: make(chan struct{})}
	var logs bytes.Buffer
	r := newRecorder(db, slog.New(slog.NewTextHandler(&logs, nil)), 1)

	r.Record(Entry{RequestID: "in-flight"})
	select {
	case <-db.started:
	case <-time.After(2 * time.Second):
		t.Fatal("expected worker to pick up the first entry")
	}

	r.Record(Entry{RequestID: "queued"})
	r.Record(Entry{RequestID: "dropped"})

	close(db.release)
	r.Close()

	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.args) != 2 {
		t.Fatalf("expected 2 inserts, got %d", len(db.args))
	}
	if db.args[1][0] != "queued" {
		t.Errorf("expected queued entry to be written second, got %v", db.args[1][0])
	}
	if !strings.Contains(logs.String(), "dropping entry") || !strings.Contains(logs.String(), "dropped") {
		t.Errorf("expected drop warning, got %s", logs.String())
	}
}

func TestPostgresRecorder_RecordAfterClose(t *testing.T) {
	db := &fakeExecer{}
	r := newRecorder(db, discardLogger(), 8)
	r.Close()
	r.Record(Entry{RequestID: "late"})
	r.Close()

	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.sql) != 0 {
		t.Errorf("expected no inserts after close, got %d", len(db.sql))
	}
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	r.Record(Entry{RequestID: "ignored"})
}
