package pollengine

import (
	"fmt"
	"regexp"
	"strings"
)

// Access describes which operations a field supports, or which a caller wants.
type Access uint8

// Access flags.
const (
	AccessRead Access = 1 << iota
	AccessWrite

	AccessReadWrite = AccessRead | AccessWrite
)

// CanRead reports whether the read flag is set.
func (a Access) CanRead() bool { return a&AccessRead != 0 }

// CanWrite reports whether the write flag is set.
func (a Access) CanWrite() bool { return a&AccessWrite != 0 }

// String returns "r", "w", "rw" or "none".
func (a Access) String() string {
	switch a {
	case AccessRead:
		return "r"
	case AccessWrite:
		return "w"
	case AccessReadWrite:
		return "rw"
	default:
		return "none"
	}
}

// ParseAccess converts "r", "w" or "rw" to an Access.
func ParseAccess(s string) (Access, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "r", "read":
		return AccessRead, nil
	case "w", "write":
		return AccessWrite, nil
	case "rw", "readwrite":
		return AccessReadWrite, nil
	default:
		return 0, fmt.Errorf("unknown access %q", s)
	}
}

// MarshalText encodes the access as "r", "w" or "rw".
func (a Access) MarshalText() ([]byte, error) {
	if a&AccessReadWrite == 0 || a&^AccessReadWrite != 0 {
		return nil, fmt.Errorf("invalid access %d", a)
	}
	return []byte(a.String()), nil
}

// UnmarshalText decodes "r", "w" or "rw".
func (a *Access) UnmarshalText(text []byte) error {
	parsed, err := ParseAccess(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// FieldDef is the static definition of a field as reported by its host.
type FieldDef struct {
	Name   string    `json:"name"`
	ID     uint32    `json:"id"`
	Type   FieldType `json:"type"`
	Access Access    `json:"access"`

	// Limits is the host's limit expression (e.g. "Range: 0, 100"), passed
	// through untouched for UIs that render it.
	Limits string `json:"limits,omitempty"`
}

// FieldState is the delivery state of a cached field value.
type FieldState uint8

// Field states.
const (
	// FieldStateWait means no value has been received yet.
	FieldStateWait FieldState = iota
	// FieldStateReady means the cached value is current.
	FieldStateReady
	// FieldStateError means the host reported the field failed, or the host
	// cannot be reached. Any cached value must not be shown as current.
	FieldStateError
)

// String returns a lowercase name for the state.
func (s FieldState) String() string {
	switch s {
	case FieldStateWait:
		return "wait"
	case FieldStateReady:
		return "ready"
	case FieldStateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state name.
func (s FieldState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *FieldState) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "wait":
		*s = FieldStateWait
	case "ready":
		*s = FieldStateReady
	case "error":
		*s = FieldStateError
	default:
		return fmt.Errorf("unknown field state %q", text)
	}
	return nil
}

// DriverState is the last known state of a driver on its host.
type DriverState uint8

// Driver states.
const (
	DriverStateUnknown DriverState = iota
	DriverStateOnline
	DriverStateOffline
)

// String returns a lowercase name for the state.
func (s DriverState) String() string {
	switch s {
	case DriverStateOnline:
		return "online"
	case DriverStateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state name.
func (s DriverState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name. Unknown names decode as DriverStateUnknown.
func (s *DriverState) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "online":
		*s = DriverStateOnline
	case "offline":
		*s = DriverStateOffline
	default:
		*s = DriverStateUnknown
	}
	return nil
}

// Reading is a copy of one field's cached value and delivery state.
type Reading struct {
	Value  Value      `json:"value"`
	State  FieldState `json:"state"`
	Serial uint32     `json:"serial"`
}

// Registration is what a successful RegisterField hands back.
type Registration struct {
	Def   FieldDef
	Link  FieldLink
	Make  string
	Model string
}

// RegisterResult is the outcome of RegisterField.
type RegisterResult uint8

// Registration results.
const (
	RegisterOK RegisterResult = iota
	// RegisterNotFound means the moniker or field is not known yet. The host
	// may still be connecting; retry later.
	RegisterNotFound
	RegisterBadName
	RegisterWrongAccess
	RegisterNoReadAccess
)

// String returns a lowercase name for the result.
func (r RegisterResult) String() string {
	switch r {
	case RegisterOK:
		return "ok"
	case RegisterNotFound:
		return "not_found"
	case RegisterBadName:
		return "bad_name"
	case RegisterWrongAccess:
		return "wrong_access"
	case RegisterNoReadAccess:
		return "no_read_access"
	default:
		return "unknown"
	}
}

// Err maps a non-OK result to the matching sentinel error.
func (r RegisterResult) Err() error {
	switch r {
	case RegisterOK:
		return nil
	case RegisterBadName:
		return ErrBadName
	case RegisterWrongAccess:
		return ErrWrongAccess
	case RegisterNoReadAccess:
		return ErrNoReadAccess
	default:
		return ErrNotFound
	}
}

// QueryResult is the outcome of QueryValue.
type QueryResult uint8

// Query results.
const (
	// QueryNoChange means the serial matches what the caller last saw.
	QueryNoChange QueryResult = iota
	// QueryNewValue means the value or state changed; the Reading is filled in.
	QueryNewValue
	// QueryNotFound means the link was never valid or the field is unknown.
	QueryNotFound
	// QueryLinkStale means the link no longer matches the catalog. The link
	// has been reset; re-register before querying again.
	QueryLinkStale
)

// String returns a lowercase name for the result.
func (r QueryResult) String() string {
	switch r {
	case QueryNoChange:
		return "no_change"
	case QueryNewValue:
		return "new_value"
	case QueryNotFound:
		return "not_found"
	case QueryLinkStale:
		return "link_stale"
	default:
		return "unknown"
	}
}

// Name validation patterns.
var (
	// monikerPattern matches driver monikers: letters, digits, '_' and '-'.
	monikerPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

	// fieldPattern matches field names. Hosts use '#', ':' and '.' as
	// separators inside field names (e.g. "LGHT#Kitchen:Level").
	fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_#:.\-]{0,127}$`)
)

// ValidMoniker reports whether s is a well-formed moniker.
func ValidMoniker(s string) bool { return monikerPattern.MatchString(s) }

// ValidFieldName reports whether s is a well-formed field name.
func ValidFieldName(s string) bool { return fieldPattern.MatchString(s) }

// ParseFieldName splits a flattened "moniker.field" name. The split is on
// the first '.', so field names may themselves contain dots.
func ParseFieldName(name string) (moniker, field string, err error) {
	moniker, field, ok := strings.Cut(name, ".")
	if !ok || !ValidMoniker(moniker) || !ValidFieldName(field) {
		return "", "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return moniker, field, nil
}

// FieldName joins a moniker and field into the flattened form.
func FieldName(moniker, field string) string {
	return moniker + "." + field
}

// nameKey normalises monikers and field names for lookup; hosts treat them
// case-insensitively.
func nameKey(s string) string {
	return strings.ToLower(s)
}
