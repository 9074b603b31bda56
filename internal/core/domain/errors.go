package domain

import (
	"fmt"
	"time"
)

// DialError wraps a single address's failed connect attempt. TryConnect
// records only the first one (spec.md §4.1 step 3); later ones on the same
// loop are discarded once the first is captured.
type DialError struct {
	Err      error
	Endpoint string
	Attempt  int
}

func (e *DialError) Error() string {
	return fmt.Sprintf("dial attempt %d to %s failed: %v", e.Attempt, e.Endpoint, e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}

// ConnectTimeoutError is returned by TryConnect when every address failed
// because the transport's own ConnectTimeout envelope expired while the
// caller's context was still live (caller cancellation or a caller deadline
// is reported as a plain failure instead).
type ConnectTimeoutError struct {
	Err      error
	Endpoint string
}

func (e *ConnectTimeoutError) Error() string {
	return fmt.Sprintf("connect to %s timed out: %v", e.Endpoint, e.Err)
}

func (e *ConnectTimeoutError) Unwrap() error {
	return e.Err
}

// ProbeError wraps an I/O failure observed by the health prober's drain: a
// failed Available check (reason "available") or a failed read (reason
// "read"). Buffer overflow is reported as BufferExceededError, and a poll
// failure only marks the socket bad without producing an error value.
type ProbeError struct {
	Err      error
	Endpoint string
	Reason   string
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe on %s failed (%s): %v", e.Endpoint, e.Reason, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// BufferExceededError is raised by the prober when draining a socket would
// push initialSocketData past MaxInitialSocketBytes.
type BufferExceededError struct {
	Endpoint string
	Total    int
	Limit    int
}

func (e *BufferExceededError) Error() string {
	return fmt.Sprintf("server at %s sent %d bytes before connection was established; maximum %d exceeded",
		e.Endpoint, e.Total, e.Limit)
}

func NewDialError(endpoint string, attempt int, err error) *DialError {
	return &DialError{Endpoint: endpoint, Attempt: attempt, Err: err}
}

func NewConnectTimeoutError(endpoint string, err error) *ConnectTimeoutError {
	return &ConnectTimeoutError{Endpoint: endpoint, Err: err}
}

func NewProbeError(endpoint, reason string, err error) *ProbeError {
	return &ProbeError{Endpoint: endpoint, Reason: reason, Err: err}
}

// ProbeResult is what IsSocketInBadState's caller and the drain loop reduce
// to for logging purposes — not part of the wire contract, just the shape
// the transport's per-tick probe debug log consumes.
type ProbeResult struct {
	CheckedAt     time.Time
	BufferedBytes int
	Closed        bool
}
