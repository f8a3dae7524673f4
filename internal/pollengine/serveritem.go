package pollengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ServerState is the connection state of one remote host.
type ServerState uint8

// Host states.
const (
	// StateOffline means there is no usable connection.
	StateOffline ServerState = iota
	// StateNotLoaded means connected but the catalog is missing or stale.
	StateNotLoaded
	// StateIdle means the catalog is loaded and nothing is being polled.
	StateIdle
	// StateReady means at least one field is on the poll list.
	StateReady
)

// String returns a lowercase name for the state.
func (s ServerState) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateNotLoaded:
		return "not_loaded"
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// loaded reports whether the catalog can be served to readers.
func (s ServerState) loaded() bool {
	return s == StateIdle || s == StateReady
}

// HostInfo is a point-in-time copy of one host's status.
type HostInfo struct {
	Host         string      `json:"host"`
	State        ServerState `json:"-"`
	StateName    string      `json:"state"`
	ServerID     uint32      `json:"server_id"`
	DriverListID uint32      `json:"driver_list_id"`
	Drivers      int         `json:"drivers"`
	ActiveFields int         `json:"active_fields"`
	Pending      int         `json:"pending"`
	StateSince   time.Time   `json:"state_since"`
	LastContact  time.Time   `json:"last_contact,omitzero"`
	LastAccess   time.Time   `json:"last_access"`
}

// pendingReg is a field somebody wants polled that the poll goroutine has
// not merged into its poll list yet.
type pendingReg struct {
	moniker string
	field   string
}

// pollEntry is one field on the live poll list. Entries are owned by the
// poll goroutine; the item and driver pointers never leave it.
type pollEntry struct {
	moniker string
	field   string
	link    FieldLink
	driver  *driverItem
	item    *fieldItem
}

// serverItem is everything the engine knows about one remote host.
//
// Lock discipline:
//   - mu guards the catalog (drivers, fields and their values), the
//     connection state, the ids and the pending queue.
//   - pollList, bo and the timers below it belong to the poll goroutine
//     and are never locked. The poll goroutine never holds mu across a
//     call on conn.
//   - conn is written only by the poll goroutine, under mu, so the poll
//     goroutine may read it without locking.
type serverItem struct {
	host       string
	cfg        Config
	ids        *idCounter
	dialer     Dialer
	credential string
	logger     Logger
	metrics    Metrics
	sink       ValueSink

	mu           sync.RWMutex
	state        ServerState
	stateSince   time.Time
	serverID     uint32
	driverListID uint32
	conn         Conn
	drivers      map[string]*driverItem // by moniker key
	driversByID  map[uint32]*driverItem
	pending      map[string]pendingReg
	lastContact  time.Time

	lastAccess   atomic.Int64 // unix nanoseconds, any reader of any field
	activeFields atomic.Int32

	// Poll goroutine only.
	pollList         []*pollEntry
	bo               *backoff.ExponentialBackOff
	nextAttempt      time.Time
	lastStateRefresh time.Time
	connectFailures  int

	cancel   context.CancelFunc
	done     chan struct{}
	stopped  atomic.Bool
	stopOnce sync.Once
}

func newServerItem(host string, e *Engine, now time.Time) *serverItem {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.ReconnectInitial
	bo.MaxInterval = e.cfg.ReconnectMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.Reset()

	s := &serverItem{
		host:        host,
		cfg:         e.cfg,
		ids:         &e.ids,
		dialer:      e.dialer,
		credential:  e.credential,
		logger:      e.logger,
		metrics:     e.metrics,
		sink:        e.sink,
		state:       StateOffline,
		stateSince:  now,
		serverID:    e.ids.next(),
		drivers:     make(map[string]*driverItem),
		driversByID: make(map[uint32]*driverItem),
		pending:     make(map[string]pendingReg),
		bo:          bo,
		done:        make(chan struct{}),
	}
	s.touch(now)
	return s
}

// start launches the poll goroutine.
func (s *serverItem) start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// stop signals the poll goroutine and waits up to timeout for it to exit.
func (s *serverItem) stop(timeout time.Duration) error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		if s.cancel != nil {
			s.cancel()
		}
	})
	select {
	case <-s.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%w: host %s", ErrStopTimeout, s.host)
	}
}

func (s *serverItem) touch(now time.Time) {
	s.lastAccess.Store(now.UnixNano())
}

func (s *serverItem) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastAccess.Load()))
}

// setStateLocked records a state transition. Caller holds mu.
func (s *serverItem) setStateLocked(to ServerState, now time.Time) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.stateSince = now
	s.metrics.StateChanged(s.host, from, to)
	s.logger.Debug("host state changed", "host", s.host, "from", from, "to", to)
}

// linkForLocked builds the current link for a field. Caller holds mu.
func (s *serverItem) linkForLocked(drv *driverItem, fld *fieldItem) FieldLink {
	return NewFieldLink(s.serverID, s.driverListID, drv.id, drv.fieldListID, fld.def.ID)
}

// resolveLocked validates a link against the catalog. Caller holds mu.
func (s *serverItem) resolveLocked(moniker string, link FieldLink) (*driverItem, *fieldItem) {
	if !s.state.loaded() || link.serverID != s.serverID || link.driverListID != s.driverListID {
		return nil, nil
	}
	drv := s.driversByID[link.driverID]
	if drv == nil || drv.fieldListID != link.fieldListID || nameKey(drv.moniker) != nameKey(moniker) {
		return nil, nil
	}
	fld := drv.findByID(link.fieldID)
	if fld == nil {
		return nil, nil
	}
	return drv, fld
}

// register resolves a field name against the catalog and, if the caller
// wants to read it, queues it for the poll goroutine.
func (s *serverItem) register(moniker, field string, access Access, now time.Time) (RegisterResult, Registration) {
	s.touch(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.Load() {
		return RegisterNotFound, Registration{}
	}

	if !s.state.loaded() {
		// Remember it so polling starts as soon as the catalog arrives.
		if access.CanRead() {
			s.enqueueLocked(moniker, field)
		}
		return RegisterNotFound, Registration{}
	}

	drv := s.drivers[nameKey(moniker)]
	if drv == nil {
		return RegisterNotFound, Registration{}
	}

	fld := drv.findByName(field)
	if fld == nil {
		// The driver is known, so its field list may just be out of date.
		// The poll goroutine reloads it when it merges this request.
		s.enqueueLocked(moniker, field)
		return RegisterNotFound, Registration{}
	}

	if access.CanRead() && !fld.def.Access.CanRead() {
		return RegisterNoReadAccess, Registration{}
	}
	if access.CanWrite() && !fld.def.Access.CanWrite() {
		return RegisterWrongAccess, Registration{}
	}

	fld.touch(now)
	if access.CanRead() && !fld.onPollList {
		s.enqueueLocked(moniker, field)
	}

	return RegisterOK, Registration{
		Def:   fld.def,
		Link:  s.linkForLocked(drv, fld),
		Make:  drv.make,
		Model: drv.model,
	}
}

func (s *serverItem) enqueueLocked(moniker, field string) {
	key := nameKey(FieldName(moniker, field))
	if _, ok := s.pending[key]; !ok {
		s.pending[key] = pendingReg{moniker: moniker, field: field}
	}
}

// query is the cache read behind QueryValue. It never touches the network.
func (s *serverItem) query(moniker string, link *FieldLink, lastSerial uint32, now time.Time) (QueryResult, Reading) {
	s.touch(now)

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, fld := s.resolveLocked(moniker, *link)
	if fld == nil {
		link.Reset()
		return QueryLinkStale, Reading{}
	}

	if fld.serial == lastSerial {
		fld.touch(now)
		return QueryNoChange, Reading{State: fld.state, Serial: fld.serial}
	}
	return QueryNewValue, fld.read(now)
}

// linkChanged reports whether link no longer matches the catalog.
func (s *serverItem) linkChanged(moniker string, link FieldLink) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, fld := s.resolveLocked(moniker, link)
	return fld == nil
}

func (s *serverItem) driverState(moniker string) (DriverState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.state.loaded() {
		return DriverStateOffline, nil
	}
	drv := s.drivers[nameKey(moniker)]
	if drv == nil {
		return DriverStateUnknown, fmt.Errorf("%w: driver %s", ErrNotFound, moniker)
	}
	return drv.state, nil
}

func (s *serverItem) fieldInfo(moniker, field string) (FieldDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.state.loaded() {
		return FieldDef{}, fmt.Errorf("%w: %w: %s", ErrNotFound, ErrHostOffline, s.host)
	}
	drv := s.drivers[nameKey(moniker)]
	if drv == nil {
		return FieldDef{}, fmt.Errorf("%w: driver %s", ErrNotFound, moniker)
	}
	fld := drv.findByName(field)
	if fld == nil {
		return FieldDef{}, fmt.Errorf("%w: field %s", ErrNotFound, FieldName(moniker, field))
	}
	return fld.def, nil
}

// writeTarget returns the live connection and the definition of a writable field.
func (s *serverItem) writeTarget(moniker, field string) (Conn, string, FieldDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return nil, "", FieldDef{}, fmt.Errorf("%w: %s", ErrHostOffline, s.host)
	}
	if !s.state.loaded() {
		return nil, "", FieldDef{}, fmt.Errorf("%w: catalog for %s not loaded", ErrNotFound, s.host)
	}
	drv := s.drivers[nameKey(moniker)]
	if drv == nil {
		return nil, "", FieldDef{}, fmt.Errorf("%w: driver %s", ErrNotFound, moniker)
	}
	fld := drv.findByName(field)
	if fld == nil {
		return nil, "", FieldDef{}, fmt.Errorf("%w: field %s", ErrNotFound, FieldName(moniker, field))
	}
	if !fld.def.Access.CanWrite() {
		return nil, "", FieldDef{}, fmt.Errorf("%w: %s is %s", ErrWrongAccess, FieldName(moniker, field), fld.def.Access)
	}
	return s.conn, drv.moniker, fld.def, nil
}

func (s *serverItem) liveConn() (Conn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil, fmt.Errorf("%w: %s", ErrHostOffline, s.host)
	}
	return s.conn, nil
}

func (s *serverItem) snapshot() HostInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return HostInfo{
		Host:         s.host,
		State:        s.state,
		StateName:    s.state.String(),
		ServerID:     s.serverID,
		DriverListID: s.driverListID,
		Drivers:      len(s.drivers),
		ActiveFields: int(s.activeFields.Load()),
		Pending:      len(s.pending),
		StateSince:   s.stateSince,
		LastContact:  s.lastContact,
		LastAccess:   time.Unix(0, s.lastAccess.Load()),
	}
}
