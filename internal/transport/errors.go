package transport

import (
	"errors"
	"fmt"
	"time"
)

// Send failures come back from adapters pre-classified so callers can pick a
// policy per class without knowing platform error shapes. Unclassified errors
// pass through untouched.

// Backpressure wraps err with an explicit retry-after hint from the platform.
func Backpressure(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &BackpressureError{err: err, after: after}
}

type BackpressureError struct {
	err   error
	after time.Duration
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("backpressure (retry after %s): %v", e.after, e.err)
}
func (e *BackpressureError) Unwrap() error             { return e.err }
func (e *BackpressureError) RetryAfter() time.Duration { return e.after }

// PermissionDenied wraps err as a rights/configuration failure: the bot is
// blocked, kicked, or lacks send rights in the destination.
func PermissionDenied(err error) error {
	if err == nil {
		return nil
	}
	return &PermissionError{err: err}
}

type PermissionError struct{ err error }

func (e *PermissionError) Error() string { return "permission denied: " + e.err.Error() }
func (e *PermissionError) Unwrap() error { return e.err }

// TargetGone wraps err as a dead-destination failure: the chat no longer
// exists under the ID we used (deleted, or recreated with a new identity by
// a group→supergroup upgrade). Cached resolutions must be invalidated.
func TargetGone(err error) error {
	if err == nil {
		return nil
	}
	return &GoneError{err: err}
}

type GoneError struct{ err error }

func (e *GoneError) Error() string { return "destination gone: " + e.err.Error() }
func (e *GoneError) Unwrap() error { return e.err }

// RetryAfterHint extracts a backpressure delay, if present.
func RetryAfterHint(err error) (time.Duration, bool) {
	var be *BackpressureError
	if errors.As(err, &be) {
		return be.RetryAfter(), true
	}
	return 0, false
}

func IsPermissionDenied(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

func IsTargetGone(err error) bool {
	var ge *GoneError
	return errors.As(err, &ge)
}

// ClassLabel names an error's class for logs and owner notifications.
// Empty string means unclassified.
func ClassLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case IsPermissionDenied(err):
		return "permission"
	case IsTargetGone(err):
		return "gone"
	default:
		if _, ok := RetryAfterHint(err); ok {
			return "backpressure"
		}
		return ""
	}
}
