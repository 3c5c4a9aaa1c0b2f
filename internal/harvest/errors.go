package harvest

import "errors"

// ErrNoneAvailable is returned by Ledger.ClaimNext when no StatusNew record
// exists for the requested language.
var ErrNoneAvailable = errors.New("no article available to claim")

// ErrNotFound is returned by ledger operations addressing a missing record.
var ErrNotFound = errors.New("article record not found")

// TransientError marks a failure that should be retried at the same
// position with backoff, such as a non-2xx listing response.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is classified as retriable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// UnrecoverableError marks a per-article failure that must quarantine the
// record instead of being retried.
type UnrecoverableError struct {
	Err error
}

func (e *UnrecoverableError) Error() string { return "unrecoverable: " + e.Err.Error() }

func (e *UnrecoverableError) Unwrap() error { return e.Err }

// Unrecoverable wraps err as an UnrecoverableError.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &UnrecoverableError{Err: err}
}

// IsUnrecoverable reports whether err is classified as non-retriable.
func IsUnrecoverable(err error) bool {
	var ue *UnrecoverableError
	return errors.As(err, &ue)
}
