package relay

import "net/http"

// Outcome is the result of one relay. It is one of BufferedSuccess,
// StreamSuccess, UpstreamError, TransportError or Fault.
type Outcome interface {
	// Label is the short outcome name used in logs and metrics.
	Label() string
	// StatusCode is the HTTP status the outcome maps to.
	StatusCode() int
	outcome()
}

// ChunkStream is a lazy, single-pass sequence of upstream chunks. Next
// returns io.EOF after the last chunk; any other error means the stream was
// cut short. Close must always be called.
type ChunkStream interface {
	Next() ([]byte, error)
	Close() error
}

// BufferedSuccess carries the complete upstream body, unmodified.
type BufferedSuccess struct {
	Body        []byte
	ContentType string
}

// StreamSuccess carries a live stream whose upstream status was 200.
type StreamSuccess struct {
	Stream      ChunkStream
	ContentType string
}

// UpstreamError is a non-200 upstream response, status and body verbatim.
type UpstreamError struct {
	Status int
	Body   []byte
}

// TransportError means the upstream could not be reached.
type TransportError struct {
	Message string
	Err     error
}

// Fault is an unexpected internal failure.
type Fault struct {
	Err error
}

func (BufferedSuccess) Label() string { return "buffered_success" }
func (StreamSuccess) Label() string { return "stream_started" }
func (UpstreamError) Label() string { return "upstream_error" }
func (TransportError) Label() string { return "transport_error" }
func (Fault) Label() string { return "fault" }

func (BufferedSuccess) StatusCode() int { return http.StatusOK }
func (StreamSuccess) StatusCode() int { return http.StatusOK }
func (o UpstreamError) StatusCode() int { return o.Status }
func (TransportError) StatusCode() int { return http.StatusServiceUnavailable }
func (Fault) StatusCode() int { return http.StatusInternalServerError }

func (BufferedSuccess) outcome() {}
func (StreamSuccess) outcome() {}
func (UpstreamError) outcome() {}
func (TransportError) outcome() {}
func (Fault) outcome() {}

// Message is the text surfaced to callers for an upstream error.
func (o UpstreamError) Message() string {
	return "Upstream error: " + string(o.Body)
}

func (o Fault) Message() string {
	if o.Err == nil {
		return "Internal server error"
	}
	return "Internal server error: " + o.Err.Error()
}
