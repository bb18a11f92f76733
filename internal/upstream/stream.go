package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const readBufferSize = 32 * 1024

// Stream is a forward-only view over a streaming upstream response body.
// Bytes are only read from the connection when Next is called, so a slow
// consumer slows the upstream read down instead of piling up memory.
type Stream struct {
	StatusCode  int
	ContentType string

	url    string
	body   io.ReadCloser
	buf    []byte
	cancel context.CancelFunc

	idle      time.Duration
	timer     *time.Timer
	idled     atomic.Bool
	err       error
	closeOnce sync.Once
}

func newStream(resp *http.Response, url string, idle time.Duration, cancel context.CancelFunc) *Stream {
	s := &Stream{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		url:         url,
		body:        resp.Body,
		buf:         make([]byte, readBufferSize),
		cancel:      cancel,
		idle:        idle,
	}
	if idle > 0 {
		s.timer = time.AfterFunc(idle, func() {
			s.idled.Store(true)
			cancel()
		})
		s.timer.Stop()
	}
	return s
}

// Next returns the next chunk exactly as it was read from the connection.
// It returns io.EOF once the body is complete. Any other error means the
// stream ended early and no further chunks will be produced.
func (s *Stream) Next() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	for {
		if s.timer != nil {
			s.timer.Reset(s.idle)
		}
		n, err := s.body.Read(s.buf)
		if s.timer != nil {
			s.timer.Stop()
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			if err != nil {
				s.err = s.classify(err)
			}
			return chunk, nil
		}
		if err != nil {
			s.err = s.classify(err)
			return nil, s.err
		}
	}
}

// ReadAll drains the remaining body. It is used to collect an error body.
func (s *Stream) ReadAll() ([]byte, error) {
	var out []byte
	for {
		chunk, err := s.Next()
		out = append(out, chunk...)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

func (s *Stream) classify(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	if s.idled.Load() {
		return fmt.Errorf("read %s: %w (no data for %s)", s.url, ErrStreamIdle, s.idle)
	}
	return &TransportError{Op: "read stream", URL: s.url, Err: err}
}

// Close abandons the upstream read and releases the connection. It is safe
// to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		s.cancel()
		err = s.body.Close()
	})
	return err
}
