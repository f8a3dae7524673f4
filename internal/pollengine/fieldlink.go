package pollengine

import (
	"fmt"
	"sync/atomic"
)

// FieldLink identifies one field and the generation of every catalog level
// above it. It is a plain value: copy it freely and compare with ==.
//
// The zero FieldLink is invalid. A link stays valid only while all five ids
// match the owning host's current catalog; any mismatch means the caller
// must re-register before trusting it again.
type FieldLink struct {
	serverID     uint32
	driverListID uint32
	driverID     uint32
	fieldListID  uint32
	fieldID      uint32
}

// NewFieldLink builds a link from its five ids.
func NewFieldLink(serverID, driverListID, driverID, fieldListID, fieldID uint32) FieldLink {
	return FieldLink{
		serverID:     serverID,
		driverListID: driverListID,
		driverID:     driverID,
		fieldListID:  fieldListID,
		fieldID:      fieldID,
	}
}

// ServerID returns the connection generation of the host.
func (l FieldLink) ServerID() uint32 { return l.serverID }

// DriverListID returns the host's driver list generation.
func (l FieldLink) DriverListID() uint32 { return l.driverListID }

// DriverID returns the driver id on the host.
func (l FieldLink) DriverID() uint32 { return l.driverID }

// FieldListID returns the driver's field list generation.
func (l FieldLink) FieldListID() uint32 { return l.fieldListID }

// FieldID returns the field id within the driver.
func (l FieldLink) FieldID() uint32 { return l.fieldID }

// IsValid reports whether the link was ever assigned. A valid link may
// still be stale.
func (l FieldLink) IsValid() bool { return l.serverID != 0 }

// Reset clears the link to the invalid state.
func (l *FieldLink) Reset() { *l = FieldLink{} }

// String renders the ids for logs.
func (l FieldLink) String() string {
	return fmt.Sprintf("%d/%d/%d/%d/%d", l.serverID, l.driverListID, l.driverID, l.fieldListID, l.fieldID)
}

// setServerID bumps only the connection generation.
func (l *FieldLink) setServerID(id uint32) { l.serverID = id }

// setFieldID moves the link to a new field id within the same field list generation.
func (l *FieldLink) setFieldID(id uint32) { l.fieldID = id }

// relink brings l in line with fresh, patching a single id when only one differs.
func (l *FieldLink) relink(fresh FieldLink) {
	switch {
	case *l == fresh:
	case l.withServerID(fresh.serverID) == fresh:
		l.setServerID(fresh.serverID)
	case l.withFieldID(fresh.fieldID) == fresh:
		l.setFieldID(fresh.fieldID)
	default:
		*l = fresh
	}
}

func (l FieldLink) withServerID(id uint32) FieldLink {
	l.serverID = id
	return l
}

func (l FieldLink) withFieldID(id uint32) FieldLink {
	l.fieldID = id
	return l
}

// idCounter hands out generation ids. Zero is reserved for "invalid", so
// the counter skips it on wraparound.
type idCounter struct {
	n atomic.Uint32
}

func (c *idCounter) next() uint32 {
	for {
		if v := c.n.Add(1); v != 0 {
			return v
		}
	}
}
