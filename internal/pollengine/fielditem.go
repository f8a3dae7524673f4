package pollengine

import (
	"sync/atomic"
	"time"
)

// fieldItem is the cached record for one field of one driver.
//
// Value, state, serial and the poll flag are written only by the owning
// host's poll goroutine while it holds the host lock. Readers hold at least
// the read lock. lastAccess is atomic because readers bump it under the
// read lock.
type fieldItem struct {
	def        FieldDef
	value      Value
	state      FieldState
	serial     uint32
	onPollList bool

	lastAccess atomic.Int64 // unix nanoseconds
}

// newFieldItem starts at serial 1 so a caller passing serial 0 ("seen
// nothing yet") always gets a first reading.
func newFieldItem(def FieldDef) *fieldItem {
	return &fieldItem{
		def:    def,
		state:  FieldStateWait,
		serial: 1,
	}
}

// read returns a copy of the cached value and marks the field as wanted.
// Pruning depends on this side effect.
func (f *fieldItem) read(now time.Time) Reading {
	f.touch(now)
	return Reading{
		Value:  f.value.clone(),
		State:  f.state,
		Serial: f.serial,
	}
}

// snapshot copies the cached value without marking the field as wanted.
func (f *fieldItem) snapshot() Reading {
	return Reading{
		Value:  f.value.clone(),
		State:  f.state,
		Serial: f.serial,
	}
}

func (f *fieldItem) touch(now time.Time) {
	f.lastAccess.Store(now.UnixNano())
}

// idleFor returns how long ago the field was last read or registered.
func (f *fieldItem) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, f.lastAccess.Load()))
}

// inheritAccess carries the access time over from the item this one replaces.
func (f *fieldItem) inheritAccess(old *fieldItem) {
	if old == nil {
		return
	}
	if ts := old.lastAccess.Load(); ts > f.lastAccess.Load() {
		f.lastAccess.Store(ts)
	}
}

func (f *fieldItem) setPolled(polled bool) {
	f.onPollList = polled
}

// update stores a polled value. It reports whether anything changed.
func (f *fieldItem) update(v Value, state FieldState) bool {
	if f.state == state && f.value.Equal(v) {
		return false
	}
	f.value = v.clone()
	f.state = state
	f.bumpSerial()
	return true
}

// setError marks the field failed, keeping the last value for diagnostics.
func (f *fieldItem) setError() bool {
	if f.state == FieldStateError {
		return false
	}
	f.state = FieldStateError
	f.bumpSerial()
	return true
}

func (f *fieldItem) bumpSerial() {
	f.serial++
	if f.serial == 0 {
		f.serial = 1
	}
}
