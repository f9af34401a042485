package xfer

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// errInvalidSegment reports a zero-length segment handed to a
// multi-registration helper — a programmer error, not a runtime condition
// a caller can recover from by retrying.
var errInvalidSegment = errors.New("xfer: segment registration requires non-empty bytes")

// ErrCancelled marks a completion whose underlying operation was cancelled
// by CancelAll rather than having failed on its own; callers absorb it
// instead of treating it as a session-fatal error.
var ErrCancelled = errors.New("xfer: operation cancelled")

// ErrMalformedVector reports a vector advertisement that failed the
// well-formedness check (a non-EOF triple with zero length). The caller
// logs and reposts; it is never session-fatal.
var ErrMalformedVector = errors.New("xfer: malformed vector advertisement")

// ErrShutdownCancelled marks a session torn down mid-transfer by a
// process-wide shutdown request rather than by reaching EOF on both sides.
// A connection's Pass returns it once its drained queues let the session
// retire, so the worker pool and main both observe the transfer as having
// failed to complete rather than as a clean finish.
var ErrShutdownCancelled = errors.New("xfer: session cancelled by shutdown request")

// SessionError marks an error as fatal to exactly one session rather than
// to the whole worker or program. When a connection's Pass method returns a
// non-nil error, the worker wraps that error in one, closes the endpoint and
// retires the session without panicking or exiting.
type SessionError struct {
	SessionID uuid.UUID
	Op        string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("xfer: session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// NewSessionError wraps err as fatal to session id during operation op.
func NewSessionError(id uuid.UUID, op string, err error) *SessionError {
	return &SessionError{SessionID: id, Op: op, Err: err}
}

// cancelledErr returns ErrCancelled if h's outstanding operation was
// cancelled by FIFO.CancelAll, or nil otherwise, so callers absorb it via
// errors.Is instead of testing the Cancelled flag directly.
func cancelledErr(h *BufHeader) error {
	if h.Xfc.Cancelled {
		return ErrCancelled
	}
	return nil
}
