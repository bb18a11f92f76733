package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/af-corp/oss-relay/internal/audit"
	"github.com/af-corp/oss-relay/internal/config"
	"github.com/af-corp/oss-relay/internal/telemetry"
	"github.com/af-corp/oss-relay/internal/upstream"
)

// Upstream is the part of the upstream client the engine depends on.
type Upstream interface {
	Post(ctx context.Context, path string, body []byte, headers http.Header) (*upstream.Response, error)
	StreamPost(ctx context.Context, path string, body []byte, headers http.Header) (*upstream.Stream, error)
}

type Options struct {
	Defaults config.DefaultsConfig
	APIKey   string
	Metrics  *telemetry.Metrics
	Recorder audit.Recorder
	Logger   *slog.Logger
}

// Engine relays completion requests to the single upstream backend. It makes
// exactly one upstream attempt per call and holds no per-request state, so
// one Engine serves all concurrent requests.
type Engine struct {
	client   Upstream
	defaults config.DefaultsConfig
	apiKey   string
	metrics  *telemetry.Metrics
	recorder audit.Recorder
	logger   *slog.Logger
}

func NewEngine(client Upstream, opts Options) *Engine {
	if opts.Recorder == nil {
		opts.Recorder = audit.NopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		client:   client,
		defaults: opts.Defaults,
		apiKey:   opts.APIKey,
		metrics:  opts.Metrics,
		recorder: opts.Recorder,
		logger:   opts.Logger,
	}
}

// Relay forwards req upstream. A StreamSuccess outcome owns an open upstream
// connection; the caller must Close its stream.
func (e *Engine) Relay(ctx context.Context, reqID string, req CompletionRequest) Outcome {
	start := time.Now()
	up := Resolve(req, e.defaults)

	body, err := json.Marshal(up)
	if err != nil {
		out := Fault{Err: fmt.Errorf("marshal upstream request: %w", err)}
		e.finish(reqID, up, start, out.Label(), out.StatusCode(), 0, 0, err)
		return out
	}

	if e.client == nil {
		out := transportOutcome(upstream.ErrNotInitialized)
		e.finish(reqID, up, start, out.Label(), out.StatusCode(), 0, 0, out.Err)
		return out
	}

	headers := http.Header{}
	if e.apiKey != "" {
		headers.Set("Authorization", "Bearer "+e.apiKey)
	}
	if reqID != "" {
		headers.Set("X-Request-ID", reqID)
	}

	if !up.Stream {
		return e.buffered(ctx, reqID, up, body, headers, start)
	}
	return e.stream(ctx, reqID, up, body, headers, start)
}

func (e *Engine) buffered(ctx context.Context, reqID string, up UpstreamRequest, body []byte, headers http.Header, start time.Time) Outcome {
	resp, err := e.client.Post(ctx, upstream.ChatCompletionsPath, body, headers)
	if err != nil {
		out := transportOutcome(err)
		e.finish(reqID, up, start, out.Label(), out.StatusCode(), 0, 0, err)
		return out
	}

	var out Outcome
	if resp.StatusCode != http.StatusOK {
		out = UpstreamError{Status: resp.StatusCode, Body: resp.Body}
	} else {
		out = BufferedSuccess{Body: resp.Body, ContentType: resp.ContentType}
	}
	e.finish(reqID, up, start, out.Label(), out.StatusCode(), 0, int64(len(resp.Body)), nil)
	return out
}

func (e *Engine) stream(ctx context.Context, reqID string, up UpstreamRequest, body []byte, headers http.Header, start time.Time) Outcome {
	s, err := e.client.StreamPost(ctx, upstream.ChatCompletionsPath, body, headers)
	if err != nil {
		out := transportOutcome(err)
		e.finish(reqID, up, start, out.Label(), out.StatusCode(), 0, 0, err)
		return out
	}

	if s.StatusCode != http.StatusOK {
		errBody, drainErr := s.ReadAll()
		s.Close()
		if drainErr != nil {
			e.logger.Warn("error body cut short", "request_id", reqID, "error", drainErr)
		}
		out := UpstreamError{Status: s.StatusCode, Body: errBody}
		e.finish(reqID, up, start, out.Label(), out.StatusCode(), 0, int64(len(errBody)), nil)
		return out
	}

	return StreamSuccess{
		ContentType: s.ContentType,
		Stream: &meteredStream{
			src:    s,
			engine: e,
			reqID:  reqID,
			up:     up,
			start:  start,
		},
	}
}

func transportOutcome(err error) TransportError {
	if errors.Is(err, upstream.ErrNotInitialized) {
		return TransportError{Message: "HTTP client not initialized", Err: err}
	}
	return TransportError{Message: "Failed to connect to upstream: " + err.Error(), Err: err}
}

// finish logs, counts and records one completed relay.
func (e *Engine) finish(reqID string, up UpstreamRequest, start time.Time, outcome string, status, chunks int, size int64, err error) {
	duration := time.Since(start)
	mode := telemetry.ModeBuffered
	if up.Stream {
		mode = telemetry.ModeStream
	}

	attrs := []any{
		"request_id", reqID,
		"model", up.Model,
		"stream", up.Stream,
		"status_code", status,
		"outcome", outcome,
		"duration_ms", duration.Milliseconds(),
		"bytes", size,
	}
	if up.Stream {
		attrs = append(attrs, "chunks", chunks)
	}
	switch {
	case err != nil && status >= http.StatusInternalServerError:
		e.logger.Error("relay failed", append(attrs, "error", err)...)
	case err != nil:
		e.logger.Warn("relay interrupted", append(attrs, "error", err)...)
	default:
		e.logger.Info("relay completed", attrs...)
	}

	e.metrics.RecordRequest(telemetry.RequestLabels{
		Mode:       mode,
		Outcome:    outcome,
		Status:     strconv.Itoa(status),
		DurationMs: float64(duration.Milliseconds()),
		Chunks:     chunks,
		Bytes:      size,
	})

	e.recorder.Record(audit.Entry{
		RequestID:  reqID,
		Model:      up.Model,
		Stream:     up.Stream,
		StatusCode: status,
		Outcome:    outcome,
		DurationMs: duration.Milliseconds(),
		Bytes:      size,
		CreatedAt:  start.UTC(),
	})
}

const (
	streamComplete  = "stream_complete"
	streamAborted   = "stream_aborted"
	streamCancelled = "stream_cancelled"
)

// meteredStream forwards chunks unchanged and records the relay once the
// stream is closed.
type meteredStream struct {
	src    ChunkStream
	engine *Engine
	reqID  string
	up     UpstreamRequest
	start  time.Time

	chunks int
	bytes  int64
	eof    bool
	err    error
	once   sync.Once
}

func (m *meteredStream) Next() ([]byte, error) {
	chunk, err := m.src.Next()
	if len(chunk) > 0 {
		m.chunks++
		m.bytes += int64(len(chunk))
	}
	switch {
	case errors.Is(err, io.EOF):
		m.eof = true
	case err != nil:
		m.err = err
	}
	return chunk, err
}

func (m *meteredStream) Close() error {
	err := m.src.Close()
	m.once.Do(func() {
		outcome := streamCancelled
		switch {
		case m.eof:
			outcome = streamComplete
		case m.err != nil:
			outcome = streamAborted
		}
		m.engine.finish(m.reqID, m.up, m.start, outcome, http.StatusOK, m.chunks, m.bytes, m.err)
	})
	return err
}
