package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when a call is made on a client that was never constructed.
	ErrNotInitialized = errors.New("upstream client not initialized")

	// ErrStreamIdle is returned when a stream produced no bytes within the idle timeout.
	ErrStreamIdle = errors.New("upstream stream idle timeout")
)

// TransportError is a connection-level failure: DNS, refused connection,
// timeout, or a connection dropped while reading a body. It never carries an
// upstream status code.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
