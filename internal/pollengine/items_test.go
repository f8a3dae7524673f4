package pollengine

import (
	"sync"
	"testing"
	"time"
)

func TestFieldLink_Basics(t *testing.T) {
	var zero FieldLink
	if zero.IsValid() {
		t.Error("zero link should be invalid")
	}

	l := NewFieldLink(1, 2, 3, 4, 5)
	if !l.IsValid() {
		t.Fatal("assigned link should be valid")
	}
	if l.ServerID() != 1 || l.DriverListID() != 2 || l.DriverID() != 3 || l.FieldListID() != 4 || l.FieldID() != 5 {
		t.Errorf("accessors = %v", l)
	}
	if l.String() != "1/2/3/4/5" {
		t.Errorf("String() = %q", l.String())
	}

	copied := l
	if copied != l {
		t.Error("copies should compare equal")
	}
	copied.setServerID(9)
	if copied == l {
		t.Error("links with different server ids should differ")
	}

	l.Reset()
	if l.IsValid() || l != zero {
		t.Errorf("Reset() left %v", l)
	}
}

func TestFieldLink_Relink(t *testing.T) {
	base := NewFieldLink(1, 2, 3, 4, 5)

	tests := []struct {
		name  string
		fresh FieldLink
	}{
		{"unchanged", base},
		{"server only", NewFieldLink(7, 2, 3, 4, 5)},
		{"field only", NewFieldLink(1, 2, 3, 4, 8)},
		{"everything", NewFieldLink(7, 9, 3, 6, 8)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := base
			l.relink(tt.fresh)
			if l != tt.fresh {
				t.Errorf("relink() = %v, want %v", l, tt.fresh)
			}
		})
	}
}

func TestIDCounter_SkipsZero(t *testing.T) {
	var c idCounter
	c.n.Store(^uint32(0) - 1)

	if got := c.next(); got != ^uint32(0) {
		t.Errorf("next() = %d, want max", got)
	}
	if got := c.next(); got != 1 {
		t.Errorf("next() after wrap = %d, want 1", got)
	}
}

func TestIDCounter_Concurrent(t *testing.T) {
	var c idCounter
	const workers, each = 8, 1000

	var mu sync.Mutex
	seen := make(map[uint32]bool, workers*each)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint32, 0, each)
			for j := 0; j < each; j++ {
				local = append(local, c.next())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				if seen[id] {
					t.Errorf("id %d handed out twice", id)
				}
				seen[id] = true
			}
		}()
	}
	wg.Wait()
}

func TestFieldItem_SerialAndState(t *testing.T) {
	now := time.Now()
	f := newFieldItem(defTemperature)

	r := f.read(now)
	if r.Serial != 1 || r.State != FieldStateWait || !r.Value.IsZero() {
		t.Errorf("new field reading = %+v, want serial 1 waiting", r)
	}

	if !f.update(FloatValue(20), FieldStateReady) {
		t.Error("first value should count as a change")
	}
	if f.serial != 2 {
		t.Errorf("serial = %d, want 2", f.serial)
	}
	if f.update(FloatValue(20), FieldStateReady) {
		t.Error("same value should not bump the serial")
	}
	if !f.setError() || f.state != FieldStateError || f.serial != 3 {
		t.Errorf("setError() left state %v serial %d", f.state, f.serial)
	}
	if f.setError() {
		t.Error("second setError() should not bump the serial")
	}
	if got := f.snapshot().Value.Float(); got != 20 {
		t.Errorf("last value lost on error: %v", got)
	}
	if !f.update(FloatValue(20), FieldStateReady) {
		t.Error("recovering from error should count as a change")
	}

	f.serial = ^uint32(0)
	f.bumpSerial()
	if f.serial != 1 {
		t.Errorf("serial after wrap = %d, want 1", f.serial)
	}
}

func TestFieldItem_Access(t *testing.T) {
	start := time.Now()
	f := newFieldItem(defTemperature)
	f.touch(start)

	if got := f.idleFor(start.Add(time.Second)); got != time.Second {
		t.Errorf("idleFor() = %v, want 1s", got)
	}
	f.read(start.Add(time.Second))
	if got := f.idleFor(start.Add(time.Second)); got != 0 {
		t.Errorf("read() did not refresh the access time, idle %v", got)
	}
	if got := f.idleFor(start.Add(2 * time.Second)); got != time.Second {
		t.Errorf("idleFor() = %v after read at 1s, want 1s", got)
	}

	fresh := newFieldItem(defTemperature)
	fresh.inheritAccess(f)
	if got := fresh.idleFor(start.Add(2 * time.Second)); got != time.Second {
		t.Errorf("inherited idle = %v, want 1s", got)
	}
	fresh.inheritAccess(nil)
}

func TestDriverItem_Reload(t *testing.T) {
	now := time.Now()
	d := newDriverItem(DriverInfo{Moniker: "Kitchen", ID: 7})
	d.reload(FieldList{ListID: 3, Fields: []FieldDef{
		defTemperature,
		defMode,
		{Name: "temperature", ID: 99, Type: FieldTypeInt, Access: AccessRead},
	}}, now)

	if d.fieldListID != 3 {
		t.Errorf("fieldListID = %d, want 3", d.fieldListID)
	}
	if d.fieldCount() != 2 {
		t.Errorf("fieldCount() = %d, want duplicate name skipped", d.fieldCount())
	}
	if f := d.findByName("TEMPERATURE"); f == nil || f.def.ID != defTemperature.ID {
		t.Errorf("findByName() = %+v", f)
	}
	if d.findByID(99) != nil {
		t.Error("skipped duplicate should not be indexed by id")
	}
	old := d.findByID(defMode.ID)

	d.reload(FieldList{ListID: 4, Fields: []FieldDef{defMode}}, now)
	if d.findByName("Temperature") != nil {
		t.Error("removed field still found")
	}
	if d.findByID(defMode.ID) == old {
		t.Error("reload should replace every field item")
	}
}

func TestDriverItem_ReloadSameListKeepsItems(t *testing.T) {
	now := time.Now()
	d := newDriverItem(DriverInfo{Moniker: "Kitchen", ID: 7})
	d.reload(FieldList{ListID: 3, Fields: []FieldDef{defTemperature, defMode}}, now)

	temp := d.findByName("Temperature")
	temp.setPolled(true)
	temp.update(FloatValue(21.5), FieldStateReady)
	temp.update(FloatValue(22), FieldStateReady)
	mode := d.findByName("Mode")

	retyped := defMode
	retyped.Type = FieldTypeInt
	humidity := FieldDef{Name: "Humidity", ID: 14, Type: FieldTypeCard, Access: AccessRead}
	d.reload(FieldList{ListID: 3, Fields: []FieldDef{defTemperature, retyped, humidity}}, now.Add(time.Second))

	kept := d.findByName("Temperature")
	if kept != temp {
		t.Fatal("unchanged field item was replaced")
	}
	if kept.serial != 3 || kept.state != FieldStateReady || !kept.onPollList {
		t.Errorf("kept item = serial %d state %v polled %v, want 3 ready polled", kept.serial, kept.state, kept.onPollList)
	}
	if got := d.findByName("Mode"); got == mode || got.def.Type != FieldTypeInt {
		t.Error("field whose type changed should get a fresh item")
	}
	if d.findByID(humidity.ID) == nil {
		t.Error("new field not indexed")
	}
	if !d.reloadedAt.Equal(now.Add(time.Second)) {
		t.Error("reloadedAt not updated")
	}
}

func TestDriverItem_SetOffline(t *testing.T) {
	d := newDriverItem(DriverInfo{Moniker: "Kitchen", ID: 7})
	d.reload(FieldList{ListID: 1, Fields: []FieldDef{defTemperature, defMode}}, time.Now())

	polled := d.findByName("Temperature")
	polled.setPolled(true)

	changed := d.setOffline()
	if d.state != DriverStateOffline {
		t.Errorf("state = %v, want offline", d.state)
	}
	if len(changed) != 1 || changed[0] != polled {
		t.Errorf("setOffline() changed %d fields, want only the polled one", len(changed))
	}
	if d.findByName("Mode").state != FieldStateWait {
		t.Error("unpolled field should be untouched")
	}
	if len(d.setOffline()) != 0 {
		t.Error("second setOffline() should change nothing")
	}
}
