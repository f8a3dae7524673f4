package pollengine

import (
	"context"
	"errors"
	"time"
)

// run is the host's poll goroutine. It owns the poll list and is the only
// writer of the catalog after creation.
//
// Each iteration:
//
//	Offline   ──dial (throttled)──▶ NotLoaded
//	NotLoaded ──list drivers/fields──▶ Idle | Ready
//	Idle/Ready: merge pending registrations
//	Ready:     one bulk poll, no lock held during the call
//	Idle:      slow driver state refresh
//	always:    drop fields nobody has read within the drop interval
func (s *serverItem) run(ctx context.Context) {
	defer close(s.done)
	defer s.closeConn()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		s.iterate(ctx, time.Now())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *serverItem) iterate(ctx context.Context, now time.Time) {
	if ctx.Err() != nil {
		return
	}

	state := s.currentState()

	if state == StateOffline {
		if !s.tryConnect(ctx, now) {
			s.pruneFields(now)
			return
		}
		state = StateNotLoaded
	}

	if state == StateNotLoaded {
		if !s.loadCatalog(ctx, now) {
			s.pruneFields(now)
			return
		}
	}

	s.mergePending(ctx, now)

	switch s.currentState() {
	case StateReady:
		s.pollFields(ctx, now)
	case StateIdle:
		s.refreshDriverStates(ctx, now)
	}

	s.pruneFields(now)
}

func (s *serverItem) currentState() ServerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// callContext bounds one remote call.
func (s *serverItem) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}

// tryConnect dials the host if the reconnect backoff allows it.
func (s *serverItem) tryConnect(ctx context.Context, now time.Time) bool {
	if now.Before(s.nextAttempt) {
		return false
	}

	callCtx, cancel := s.callContext(ctx)
	conn, err := s.dialer.Dial(callCtx, s.host, s.credential)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.connectFailures++
		wait := s.bo.NextBackOff()
		s.nextAttempt = now.Add(wait)
		if s.connectFailures == 1 {
			s.logger.Warn("host connect failed", "host", s.host, "error", err, "retry_in", wait)
		} else {
			s.logger.Debug("host connect retry failed", "host", s.host, "error", err,
				"attempts", s.connectFailures, "retry_in", wait)
		}
		return false
	}

	if s.connectFailures > 0 {
		s.logger.Info("host connected", "host", s.host, "attempts", s.connectFailures+1)
	} else {
		s.logger.Debug("host connected", "host", s.host)
	}
	s.connectFailures = 0
	s.bo.Reset()
	s.nextAttempt = time.Time{}

	s.mu.Lock()
	s.conn = conn
	s.lastContact = now
	s.setStateLocked(StateNotLoaded, now)
	s.mu.Unlock()
	return true
}

// goOffline drops the connection and bumps the server id so every link
// issued for this host goes stale.
func (s *serverItem) goOffline(err error, now time.Time) {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.serverID = s.ids.next()
	s.setStateLocked(StateOffline, now)
	s.mu.Unlock()

	if conn != nil {
		if cerr := conn.Close(); cerr != nil {
			s.logger.Debug("closing host connection", "host", s.host, "error", cerr)
		}
	}

	wait := s.bo.NextBackOff()
	s.nextAttempt = now.Add(wait)
	s.logger.Warn("lost contact with host", "host", s.host, "error", err, "retry_in", wait)
}

func (s *serverItem) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug("closing host connection", "host", s.host, "error", err)
		}
	}
}

// loadCatalog fetches the driver list and every field list, then swaps the
// whole catalog in under the lock.
func (s *serverItem) loadCatalog(ctx context.Context, now time.Time) bool {
	conn := s.conn // written only by this goroutine

	callCtx, cancel := s.callContext(ctx)
	list, err := conn.ListDrivers(callCtx)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			s.goOffline(err, now)
		}
		return false
	}

	drivers := make(map[string]*driverItem, len(list.Drivers))
	byID := make(map[uint32]*driverItem, len(list.Drivers))
	for _, info := range list.Drivers {
		key := nameKey(info.Moniker)
		if _, dup := drivers[key]; dup || !ValidMoniker(info.Moniker) {
			s.logger.Debug("skipping driver", "host", s.host, "moniker", info.Moniker)
			continue
		}

		callCtx, cancel := s.callContext(ctx)
		fields, err := conn.ListFields(callCtx, info.ID)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				s.goOffline(err, now)
			}
			return false
		}

		drv := newDriverItem(info)
		drv.reload(fields, now)
		drivers[key] = drv
		byID[info.ID] = drv
	}

	s.mu.Lock()
	s.driverListID = list.ListID
	s.drivers = drivers
	s.driversByID = byID
	s.lastContact = now
	s.rebindLocked()
	s.classifyLocked(now)
	s.setStateLocked(s.loadedState(), now)
	s.mu.Unlock()

	// Refresh driver states promptly after every load.
	s.lastStateRefresh = time.Time{}

	s.logger.Info("host catalog loaded", "host", s.host, "drivers", len(drivers),
		"driver_list_id", list.ListID, "active_fields", len(s.pollList))
	return true
}

// rebindLocked points every poll list entry at the current catalog. Entries
// whose field disappeared are dropped. Caller holds mu.
func (s *serverItem) rebindLocked() {
	kept := s.pollList[:0]
	for _, e := range s.pollList {
		drv := s.drivers[nameKey(e.moniker)]
		var fld *fieldItem
		if drv != nil {
			fld = drv.findByName(e.field)
		}
		if fld == nil {
			e.item.setPolled(false)
			continue
		}
		if fld != e.item {
			fld.inheritAccess(e.item)
			e.item.setPolled(false)
		}
		fld.setPolled(true)
		e.driver = drv
		e.item = fld
		e.link.relink(s.linkForLocked(drv, fld))
		kept = append(kept, e)
	}
	clear(s.pollList[len(kept):])
	s.pollList = kept
}

// classifyLocked moves between Idle and Ready to match the poll list.
// Caller holds mu.
func (s *serverItem) classifyLocked(now time.Time) {
	n := len(s.pollList)
	s.activeFields.Store(int32(n))
	s.metrics.SetActiveFields(s.host, n)

	if s.state.loaded() {
		s.setStateLocked(s.loadedState(), now)
	}
}

// loadedState is the state a loaded host belongs in. Caller holds mu.
func (s *serverItem) loadedState() ServerState {
	if len(s.pollList) > 0 {
		return StateReady
	}
	return StateIdle
}

// mergePending folds queued registrations into the poll list. Fields the
// catalog does not know yet cause a throttled reload of their driver's
// field list. A miss stays queued until its driver has been reloaded; one
// still missing after the reload is dropped.
func (s *serverItem) mergePending(ctx context.Context, now time.Time) {
	s.mu.Lock()
	if !s.state.loaded() || len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	pending := s.pending
	s.pending = make(map[string]pendingReg)

	var missing []pendingReg
	reload := make(map[uint32]*driverItem)
	for _, p := range pending {
		if s.addToPollListLocked(p, now) {
			continue
		}
		drv := s.drivers[nameKey(p.moniker)]
		if drv == nil {
			continue
		}
		if now.Sub(drv.reloadedAt) < s.cfg.FieldReloadInterval {
			s.enqueueLocked(p.moniker, p.field)
			continue
		}
		missing = append(missing, p)
		reload[drv.id] = drv
	}
	s.classifyLocked(now)
	s.mu.Unlock()

	if len(reload) == 0 {
		return
	}
	ok := s.reloadDrivers(ctx, reload, now)

	s.mu.Lock()
	for _, p := range missing {
		if !ok {
			// Merged again once the host is loaded.
			s.enqueueLocked(p.moniker, p.field)
			continue
		}
		s.addToPollListLocked(p, now)
	}
	s.classifyLocked(now)
	s.mu.Unlock()
}

// addToPollListLocked puts a readable field on the poll list. It reports
// whether the field exists. Caller holds mu.
func (s *serverItem) addToPollListLocked(p pendingReg, now time.Time) bool {
	drv := s.drivers[nameKey(p.moniker)]
	if drv == nil {
		return false
	}
	fld := drv.findByName(p.field)
	if fld == nil {
		return false
	}
	if fld.onPollList || !fld.def.Access.CanRead() {
		return true
	}
	fld.touch(now)
	fld.setPolled(true)
	s.pollList = append(s.pollList, &pollEntry{
		moniker: drv.moniker,
		field:   fld.def.Name,
		link:    s.linkForLocked(drv, fld),
		driver:  drv,
		item:    fld,
	})
	return true
}

// reloadDrivers refetches the field lists of the given drivers. The calls
// run with no lock held; the results are applied under the lock.
func (s *serverItem) reloadDrivers(ctx context.Context, drivers map[uint32]*driverItem, now time.Time) bool {
	conn := s.conn
	lists := make(map[uint32]FieldList, len(drivers))
	for id := range drivers {
		callCtx, cancel := s.callContext(ctx)
		list, err := conn.ListFields(callCtx, id)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				s.goOffline(err, now)
			}
			return false
		}
		lists[id] = list
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, list := range lists {
		drv := drivers[id]
		if s.driversByID[id] != drv {
			// Replaced by a full catalog load in the meantime.
			continue
		}
		drv.reload(list, now)
		s.logger.Debug("driver fields reloaded", "host", s.host, "moniker", drv.moniker,
			"field_list_id", list.ListID, "fields", drv.fieldCount())
	}
	s.rebindLocked()
	s.classifyLocked(now)
	return true
}

// pollFields issues one bulk poll for the whole poll list and applies the
// reply.
func (s *serverItem) pollFields(ctx context.Context, now time.Time) {
	if len(s.pollList) == 0 {
		return
	}

	items := make([]PollItem, len(s.pollList))
	index := make(map[uint64]*pollEntry, len(s.pollList))
	for i, e := range s.pollList {
		items[i] = PollItem{
			DriverID:    e.link.driverID,
			FieldListID: e.link.fieldListID,
			FieldID:     e.link.fieldID,
		}
		index[pollKey(e.link.driverID, e.link.fieldID)] = e
	}

	// No lock is held across the network call.
	conn := s.conn
	callCtx, cancel := s.callContext(ctx)
	started := time.Now()
	reply, err := conn.Poll(callCtx, items)
	cancel()
	s.metrics.ObservePoll(s.host, time.Since(started), err)

	if err != nil {
		if ctx.Err() == nil {
			s.goOffline(err, now)
		}
		return
	}

	var changes []FieldChange
	reload := make(map[uint32]*driverItem)

	s.mu.Lock()
	s.lastContact = now
	if reply.DriverListID != s.driverListID {
		s.logger.Info("host driver list changed", "host", s.host,
			"old_list_id", s.driverListID, "new_list_id", reply.DriverListID)
		s.setStateLocked(StateNotLoaded, now)
		s.mu.Unlock()
		return
	}

	offline := make(map[*driverItem]bool)
	for _, r := range reply.Results {
		e := index[pollKey(r.DriverID, r.FieldID)]
		if e == nil {
			continue
		}
		switch r.Status {
		case PollOK:
			e.driver.state = DriverStateOnline
			var changed bool
			if r.Value.Type() != e.item.def.Type {
				s.logger.Debug("poll value type mismatch", "host", s.host,
					"field", FieldName(e.moniker, e.field),
					"want", e.item.def.Type, "got", r.Value.Type())
				changed = e.item.setError()
			} else {
				changed = e.item.update(r.Value, FieldStateReady)
			}
			if changed {
				changes = append(changes, s.changeFor(e))
			}
		case PollFieldError:
			if e.item.setError() {
				changes = append(changes, s.changeFor(e))
			}
		case PollDriverOffline:
			if offline[e.driver] {
				continue
			}
			offline[e.driver] = true
			for _, f := range e.driver.setOffline() {
				changes = append(changes, FieldChange{
					Host:    s.host,
					Moniker: e.driver.moniker,
					Field:   f.def,
					Reading: f.snapshot(),
				})
			}
		case PollListChanged:
			reload[e.driver.id] = e.driver
		}
	}
	s.mu.Unlock()

	if len(changes) > 0 {
		s.sink.FieldsChanged(changes)
	}
	if len(reload) > 0 {
		s.reloadDrivers(ctx, reload, now)
	}
}

func (s *serverItem) changeFor(e *pollEntry) FieldChange {
	return FieldChange{
		Host:    s.host,
		Moniker: e.driver.moniker,
		Field:   e.item.def,
		Reading: e.item.snapshot(),
	}
}

func pollKey(driverID, fieldID uint32) uint64 {
	return uint64(driverID)<<32 | uint64(fieldID)
}

// refreshDriverStates asks the host for each driver's state. While Ready the
// poll replies carry this already.
func (s *serverItem) refreshDriverStates(ctx context.Context, now time.Time) {
	if now.Sub(s.lastStateRefresh) < s.cfg.DriverStateInterval {
		return
	}
	s.lastStateRefresh = now

	s.mu.RLock()
	monikers := make([]string, 0, len(s.drivers))
	for _, drv := range s.drivers {
		monikers = append(monikers, drv.moniker)
	}
	s.mu.RUnlock()

	conn := s.conn
	states := make(map[string]DriverState, len(monikers))
	for _, m := range monikers {
		callCtx, cancel := s.callContext(ctx)
		st, err := conn.DriverState(callCtx, m)
		cancel()
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if ctx.Err() == nil {
				s.goOffline(err, now)
			}
			return
		}
		states[nameKey(m)] = st
	}

	s.mu.Lock()
	for key, st := range states {
		if drv := s.drivers[key]; drv != nil {
			drv.state = st
		}
	}
	s.lastContact = now
	s.mu.Unlock()
}

// pruneFields takes fields nobody has read within the drop interval off the
// poll list. They stay in the catalog.
func (s *serverItem) pruneFields(now time.Time) {
	if len(s.pollList) == 0 {
		return
	}

	s.mu.Lock()
	kept := s.pollList[:0]
	dropped := 0
	for _, e := range s.pollList {
		if e.item.idleFor(now) > s.cfg.DropInterval {
			e.item.setPolled(false)
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	clear(s.pollList[len(kept):])
	s.pollList = kept
	if dropped > 0 {
		s.classifyLocked(now)
	}
	s.mu.Unlock()

	if dropped > 0 {
		s.metrics.FieldsPruned(s.host, dropped)
		s.logger.Debug("fields dropped from poll list", "host", s.host,
			"dropped", dropped, "remaining", len(kept))
	}
}
