package pollengine

import "errors"

// Domain errors for the pollengine package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, pollengine.ErrHostOffline) {
//	    // show the field as in error
//	}
var (
	// ErrNotRunning is returned when the engine has not been started or has been stopped.
	ErrNotRunning = errors.New("pollengine: engine not running")

	// ErrAlreadyRunning is returned when Start is called twice.
	ErrAlreadyRunning = errors.New("pollengine: engine already running")

	// ErrStopping is returned when Start is called while Stop is still
	// waiting for poll goroutines to exit.
	ErrStopping = errors.New("pollengine: engine stopping")

	// ErrBadName is returned when a moniker or field name is malformed.
	ErrBadName = errors.New("pollengine: bad field name")

	// ErrNotFound is returned when a moniker or field is not (yet) known.
	// It is not necessarily permanent; the host may still be connecting.
	ErrNotFound = errors.New("pollengine: not found")

	// ErrUnknownMoniker is returned when no host is known for a moniker.
	ErrUnknownMoniker = errors.New("pollengine: no host for moniker")

	// ErrHostOffline is returned when an operation needs a live connection
	// and the host is not connected.
	ErrHostOffline = errors.New("pollengine: host offline")

	// ErrWrongAccess is returned when a field does not allow the requested access.
	ErrWrongAccess = errors.New("pollengine: wrong access for field")

	// ErrNoReadAccess is returned when reading a write-only field.
	ErrNoReadAccess = errors.New("pollengine: field not readable")

	// ErrAccessDenied is returned by Conn implementations when the credential
	// is not sufficient for the requested operation.
	ErrAccessDenied = errors.New("pollengine: access denied")

	// ErrBadValue is returned when a value cannot be parsed for the field type.
	ErrBadValue = errors.New("pollengine: bad value for field type")

	// ErrFieldError is returned when the remote host reports the field itself as failed.
	ErrFieldError = errors.New("pollengine: field in error")

	// ErrWriteFailed is returned when a pass-through write to the host fails.
	ErrWriteFailed = errors.New("pollengine: write failed")

	// ErrStopTimeout is returned when a poll goroutine does not stop in time.
	ErrStopTimeout = errors.New("pollengine: poll goroutine did not stop in time")
)
