package pollengine

import (
	"context"
	"fmt"
)

// Dialer opens admin connections to remote driver hosts.
type Dialer interface {
	// Dial connects to the host at the given address using the engine's
	// credential. The context bounds the attempt.
	Dial(ctx context.Context, host, credential string) (Conn, error)
}

// Conn is a live admin connection to one driver host.
//
// The poll goroutine is the main user, but WriteField and Proxy callers
// share the same connection from their own goroutines, so implementations
// must be safe for concurrent use.
type Conn interface {
	// ListDrivers returns every driver the host currently runs.
	ListDrivers(ctx context.Context) (DriverList, error)

	// ListFields returns the field catalog of one driver.
	ListFields(ctx context.Context, driverID uint32) (FieldList, error)

	// Poll reads the current value of each requested field in one call.
	Poll(ctx context.Context, items []PollItem) (PollReply, error)

	// WriteField writes a value, given as text, to a driver field.
	// Implementations should wrap ErrAccessDenied when the credential is
	// not sufficient.
	WriteField(ctx context.Context, moniker, field, value, credential string) error

	// DriverState returns the current state of one driver.
	DriverState(ctx context.Context, moniker string) (DriverState, error)

	// Close releases the connection.
	Close() error
}

// DriverInfo describes one driver on a host.
type DriverInfo struct {
	Moniker string `json:"moniker"`
	ID      uint32 `json:"id"`
	Make    string `json:"make"`
	Model   string `json:"model"`
}

// DriverList is the host's driver catalog and its generation id.
type DriverList struct {
	ListID  uint32       `json:"list_id"`
	Drivers []DriverInfo `json:"drivers"`
}

// FieldList is one driver's field catalog and its generation id.
type FieldList struct {
	ListID uint32     `json:"list_id"`
	Fields []FieldDef `json:"fields"`
}

// PollItem identifies one field in a bulk poll request. The field list id
// lets the host report PollListChanged instead of answering for a field
// that has since moved.
type PollItem struct {
	DriverID    uint32 `json:"driver_id"`
	FieldListID uint32 `json:"field_list_id"`
	FieldID     uint32 `json:"field_id"`
}

// PollStatus is the per-field outcome in a poll reply.
type PollStatus uint8

// Poll statuses.
const (
	PollOK PollStatus = iota
	PollFieldError
	PollDriverOffline
	PollListChanged
)

// String returns a lowercase name for the status.
func (s PollStatus) String() string {
	switch s {
	case PollOK:
		return "ok"
	case PollFieldError:
		return "field_error"
	case PollDriverOffline:
		return "driver_offline"
	case PollListChanged:
		return "list_changed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status name.
func (s PollStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *PollStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "ok":
		*s = PollOK
	case "field_error":
		*s = PollFieldError
	case "driver_offline":
		*s = PollDriverOffline
	case "list_changed":
		*s = PollListChanged
	default:
		return fmt.Errorf("unknown poll status %q", text)
	}
	return nil
}

// PollResult is the reply for one PollItem.
type PollResult struct {
	DriverID uint32     `json:"driver_id"`
	FieldID  uint32     `json:"field_id"`
	Status   PollStatus `json:"status"`
	Value    Value      `json:"value"`
}

// PollReply is the reply to a bulk poll. DriverListID is the host's current
// driver list generation; a mismatch forces a full catalog reload.
type PollReply struct {
	DriverListID uint32       `json:"driver_list_id"`
	Results      []PollResult `json:"results"`
}

// HostResolver maps driver monikers to the address of the host running them.
// Resolve must not block on network I/O; it is called from RegisterField.
type HostResolver interface {
	Resolve(moniker string) (string, error)
}
