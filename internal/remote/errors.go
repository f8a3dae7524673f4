package remote

import "errors"

var (
	// ErrNotStarted is returned by Dial before Start has subscribed to replies.
	ErrNotStarted = errors.New("remote: dialer not started")

	// ErrInvalidHost is returned when a host name cannot be used as a topic level.
	ErrInvalidHost = errors.New("remote: invalid host name")

	// ErrTimeout is returned when a host does not reply before the context ends.
	ErrTimeout = errors.New("remote: no reply from host")

	// ErrClosed is returned by calls on a closed connection or stopped dialer.
	ErrClosed = errors.New("remote: connection closed")

	// ErrHostGone is returned once the host's status topic reports it offline.
	ErrHostGone = errors.New("remote: host went offline")

	// ErrSessionLost is returned when the host no longer knows the session,
	// typically after the host restarted.
	ErrSessionLost = errors.New("remote: session lost")

	// ErrRemote wraps host-side failures without a more specific code.
	ErrRemote = errors.New("remote: host error")

	// ErrBadReply is returned when a reply cannot be decoded.
	ErrBadReply = errors.New("remote: malformed reply")
)
