package remote

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-poller/internal/pollengine"
)

// Methods understood by driver hosts.
const (
	MethodHello       = "hello"
	MethodBye         = "bye"
	MethodListDrivers = "list_drivers"
	MethodListFields  = "list_fields"
	MethodPoll        = "poll"
	MethodWriteField  = "write_field"
	MethodDriverState = "driver_state"
)

// Error codes carried in replies.
const (
	CodeAccessDenied = "access_denied"
	CodeNotFound     = "not_found"
	CodeBadRequest   = "bad_request"
	CodeNoSession    = "no_session"
	CodeInternal     = "internal"
)

// Request is published to a host's request topic.
type Request struct {
	ID      string          `json:"id"`
	ReplyTo string          `json:"reply_to"`
	Method  string          `json:"method"`
	Session string          `json:"session,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Reply is published by the host on the request's ReplyTo topic.
type Reply struct {
	ID     string          `json:"id"`
	Error  *RemoteError    `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// RemoteError is a failure reported by the host.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "remote: " + e.Code
	}
	return fmt.Sprintf("remote: %s: %s", e.Code, e.Message)
}

// Unwrap maps host error codes onto the engine's sentinels so callers can
// use errors.Is(err, pollengine.ErrAccessDenied) and friends.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeAccessDenied:
		return pollengine.ErrAccessDenied
	case CodeNotFound:
		return pollengine.ErrNotFound
	case CodeNoSession:
		return ErrSessionLost
	default:
		return ErrRemote
	}
}

// HelloParams opens a session.
type HelloParams struct {
	Client     string `json:"client"`
	Credential string `json:"credential"`
}

// HelloResult carries the session token used on every later request.
type HelloResult struct {
	Session string `json:"session"`
}

// ListFieldsParams selects one driver's catalog.
type ListFieldsParams struct {
	DriverID uint32 `json:"driver_id"`
}

// PollParams is a bulk poll request.
type PollParams struct {
	Items []pollengine.PollItem `json:"items"`
}

// WriteFieldParams is a pass-through field write.
type WriteFieldParams struct {
	Moniker    string `json:"moniker"`
	Field      string `json:"field"`
	Value      string `json:"value"`
	Credential string `json:"credential,omitempty"`
}

// DriverStateParams selects one driver.
type DriverStateParams struct {
	Moniker string `json:"moniker"`
}

// DriverStateResult is the reply to MethodDriverState.
type DriverStateResult struct {
	State pollengine.DriverState `json:"state"`
}

// Announcement is published retained by a driver host on its discovery
// topic, listing the driver monikers it serves.
type Announcement struct {
	Host     string   `json:"host,omitempty"`
	Monikers []string `json:"monikers"`
}
