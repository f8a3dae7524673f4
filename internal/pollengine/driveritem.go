package pollengine

import "time"

// driverItem is one driver's field catalog on one host.
//
// Fields live in a single arena with name and id indexes into it, so a
// lookup by the ids in a poll reply is O(1) without holding pointers into a
// map. reload rebuilds the arena; indexes from the old generation are never
// reused.
//
// All methods are called with the owning serverItem's lock held.
type driverItem struct {
	moniker     string
	id          uint32
	make        string
	model       string
	fieldListID uint32
	state       DriverState

	fields []*fieldItem
	byName map[string]int
	byID   map[uint32]int

	// reloadedAt throttles on-demand field list reloads triggered by
	// registrations for names the catalog does not have.
	reloadedAt time.Time
}

func newDriverItem(info DriverInfo) *driverItem {
	return &driverItem{
		moniker: info.Moniker,
		id:      info.ID,
		make:    info.Make,
		model:   info.Model,
		state:   DriverStateUnknown,
		byName:  make(map[string]int),
		byID:    make(map[uint32]int),
	}
}

// findByName returns the field with the given name, or nil.
func (d *driverItem) findByName(name string) *fieldItem {
	idx, ok := d.byName[nameKey(name)]
	if !ok {
		return nil
	}
	return d.fields[idx]
}

// findByID returns the field with the given id, or nil.
func (d *driverItem) findByID(id uint32) *fieldItem {
	idx, ok := d.byID[id]
	if !ok {
		return nil
	}
	return d.fields[idx]
}

// reload rebuilds the arena from list. A new field list id replaces every
// item, so links carrying the old id become stale by construction. The same
// id means the host's catalog is unchanged for the ids it already served:
// items whose id, name and type still match are kept with their value,
// state and serial, since links to them remain valid.
func (d *driverItem) reload(list FieldList, now time.Time) {
	var prev map[uint32]*fieldItem
	if d.fields != nil && list.ListID == d.fieldListID {
		prev = make(map[uint32]*fieldItem, len(d.fields))
		for _, f := range d.fields {
			prev[f.def.ID] = f
		}
	}

	d.fieldListID = list.ListID
	d.fields = make([]*fieldItem, 0, len(list.Fields))
	d.byName = make(map[string]int, len(list.Fields))
	d.byID = make(map[uint32]int, len(list.Fields))

	for _, def := range list.Fields {
		key := nameKey(def.Name)
		if _, dup := d.byName[key]; dup {
			continue
		}
		item := prev[def.ID]
		if item == nil || item.def.Type != def.Type || nameKey(item.def.Name) != key {
			item = newFieldItem(def)
		} else {
			item.def = def
		}
		d.byName[key] = len(d.fields)
		d.byID[def.ID] = len(d.fields)
		d.fields = append(d.fields, item)
	}
	d.reloadedAt = now
}

// setOffline marks the driver offline and every polled field in error.
// It returns the fields whose state changed.
func (d *driverItem) setOffline() []*fieldItem {
	d.state = DriverStateOffline
	var changed []*fieldItem
	for _, f := range d.fields {
		if f.onPollList && f.setError() {
			changed = append(changed, f)
		}
	}
	return changed
}

func (d *driverItem) fieldCount() int {
	return len(d.fields)
}
