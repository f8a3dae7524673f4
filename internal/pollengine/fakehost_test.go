package pollengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var errFakeComms = errors.New("fake: connection lost")

// fakeDriver is one driver on a fakeHost.
type fakeDriver struct {
	info        DriverInfo
	fieldListID uint32
	fields      []FieldDef
	values      map[uint32]Value
	fieldErrors map[uint32]bool
	offline     bool
}

// fakeHost is an in-memory driver host. Every method takes its own lock;
// none is held while calling back into the engine.
type fakeHost struct {
	mu           sync.Mutex
	driverListID uint32
	drivers      []*fakeDriver
	credential   string

	failDial bool
	failPoll bool

	dials      int
	polls      int
	fieldLists int
	closes     int
	lastPolled []PollItem
	writes     []string

	// onPoll runs at the start of every Poll call with no fake lock held.
	onPoll func()
}

func newFakeHost() *fakeHost {
	return &fakeHost{driverListID: 1}
}

func (h *fakeHost) addDriver(moniker string, id uint32, fields ...FieldDef) *fakeDriver {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := &fakeDriver{
		info:        DriverInfo{Moniker: moniker, ID: id, Make: "Acme", Model: "Model " + moniker},
		fieldListID: 1,
		fields:      fields,
		values:      make(map[uint32]Value),
		fieldErrors: make(map[uint32]bool),
	}
	h.drivers = append(h.drivers, d)
	return d
}

func (h *fakeHost) driverByID(id uint32) *fakeDriver {
	for _, d := range h.drivers {
		if d.info.ID == id {
			return d
		}
	}
	return nil
}

func (h *fakeHost) driverByMoniker(moniker string) *fakeDriver {
	for _, d := range h.drivers {
		if strings.EqualFold(d.info.Moniker, moniker) {
			return d
		}
	}
	return nil
}

func (h *fakeHost) setValue(moniker string, fieldID uint32, v Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.driverByMoniker(moniker).values[fieldID] = v
}

func (h *fakeHost) setFieldError(moniker string, fieldID uint32, failed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.driverByMoniker(moniker).fieldErrors[fieldID] = failed
}

func (h *fakeHost) setDriverOffline(moniker string, offline bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.driverByMoniker(moniker).offline = offline
}

// replaceFields installs a new field list generation for a driver.
func (h *fakeHost) replaceFields(moniker string, fields ...FieldDef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := h.driverByMoniker(moniker)
	d.fieldListID++
	d.fields = fields
}

func (h *fakeHost) bumpDriverList() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.driverListID++
}

func (h *fakeHost) setFailDial(fail bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failDial = fail
}

func (h *fakeHost) setFailPoll(fail bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failPoll = fail
}

func (h *fakeHost) setOnPoll(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPoll = fn
}

func (h *fakeHost) stats() (dials, polls, closes int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials, h.polls, h.closes
}

func (h *fakeHost) fieldListCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fieldLists
}

// waitPolls waits until the host has served n more polls than it had.
func (h *fakeHost) waitPolls(t *testing.T, n int) {
	t.Helper()
	_, start, _ := h.stats()
	waitFor(t, time.Second, "host polls", func() bool {
		_, polls, _ := h.stats()
		return polls >= start+n
	})
}

func (h *fakeHost) polledFieldIDs() map[uint32]bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make(map[uint32]bool, len(h.lastPolled))
	for _, it := range h.lastPolled {
		ids[it.FieldID] = true
	}
	return ids
}

func (h *fakeHost) getWrites() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.writes...)
}

// fakeDialer hands out fakeConns for registered hosts.
type fakeDialer struct {
	mu    sync.Mutex
	hosts map[string]*fakeHost
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{hosts: make(map[string]*fakeHost)}
}

func (d *fakeDialer) add(addr string, h *fakeHost) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hosts[addr] = h
}

func (d *fakeDialer) Dial(_ context.Context, host, _ string) (Conn, error) {
	d.mu.Lock()
	h, ok := d.hosts[host]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fake: no host %s", host)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.dials++
	if h.failDial {
		return nil, errFakeComms
	}
	return &fakeConn{host: h}, nil
}

type fakeConn struct {
	host   *fakeHost
	closed atomic.Bool
}

func (c *fakeConn) ListDrivers(context.Context) (DriverList, error) {
	h := c.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed.Load() || h.failPoll {
		return DriverList{}, errFakeComms
	}
	list := DriverList{ListID: h.driverListID}
	for _, d := range h.drivers {
		list.Drivers = append(list.Drivers, d.info)
	}
	return list, nil
}

func (c *fakeConn) ListFields(_ context.Context, driverID uint32) (FieldList, error) {
	h := c.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed.Load() || h.failPoll {
		return FieldList{}, errFakeComms
	}
	h.fieldLists++
	d := h.driverByID(driverID)
	if d == nil {
		return FieldList{}, fmt.Errorf("fake: no driver %d", driverID)
	}
	return FieldList{ListID: d.fieldListID, Fields: append([]FieldDef(nil), d.fields...)}, nil
}

func (c *fakeConn) Poll(_ context.Context, items []PollItem) (PollReply, error) {
	h := c.host
	h.mu.Lock()
	hook := h.onPoll
	h.mu.Unlock()
	if hook != nil {
		hook()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.polls++
	h.lastPolled = append([]PollItem(nil), items...)
	if c.closed.Load() || h.failPoll {
		return PollReply{}, errFakeComms
	}

	reply := PollReply{DriverListID: h.driverListID}
	for _, it := range items {
		r := PollResult{DriverID: it.DriverID, FieldID: it.FieldID}
		d := h.driverByID(it.DriverID)
		switch {
		case d == nil:
			r.Status = PollListChanged
		case d.offline:
			r.Status = PollDriverOffline
		case it.FieldListID != d.fieldListID:
			r.Status = PollListChanged
		case d.fieldErrors[it.FieldID]:
			r.Status = PollFieldError
		default:
			v, ok := d.values[it.FieldID]
			if !ok {
				r.Status = PollFieldError
			} else {
				r.Status = PollOK
				r.Value = v
			}
		}
		reply.Results = append(reply.Results, r)
	}
	return reply, nil
}

func (c *fakeConn) WriteField(_ context.Context, moniker, field, value, credential string) error {
	h := c.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed.Load() || h.failPoll {
		return errFakeComms
	}
	if h.credential != "" && credential != h.credential {
		return ErrAccessDenied
	}
	d := h.driverByMoniker(moniker)
	if d == nil {
		return fmt.Errorf("fake: no driver %s", moniker)
	}
	for _, def := range d.fields {
		if !strings.EqualFold(def.Name, field) {
			continue
		}
		v, err := ParseValue(def.Type, value)
		if err != nil {
			return err
		}
		d.values[def.ID] = v
		h.writes = append(h.writes, FieldName(moniker, field)+"="+value)
		return nil
	}
	return fmt.Errorf("fake: no field %s", field)
}

func (c *fakeConn) DriverState(_ context.Context, moniker string) (DriverState, error) {
	h := c.host
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed.Load() || h.failPoll {
		return DriverStateUnknown, errFakeComms
	}
	d := h.driverByMoniker(moniker)
	if d == nil {
		return DriverStateUnknown, ErrNotFound
	}
	if d.offline {
		return DriverStateOffline, nil
	}
	return DriverStateOnline, nil
}

func (c *fakeConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.host.mu.Lock()
	c.host.closes++
	c.host.mu.Unlock()
	return nil
}

// mapResolver resolves monikers from a mutable map.
type mapResolver struct {
	mu      sync.RWMutex
	hosts   map[string]string
	resolve atomic.Int32
}

func newMapResolver() *mapResolver {
	return &mapResolver{hosts: make(map[string]string)}
}

func (r *mapResolver) set(moniker, host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[strings.ToLower(moniker)] = host
}

func (r *mapResolver) Resolve(moniker string) (string, error) {
	r.resolve.Add(1)
	r.mu.RLock()
	defer r.mu.RUnlock()
	host, ok := r.hosts[strings.ToLower(moniker)]
	if !ok {
		return "", fmt.Errorf("fake: unknown moniker %s", moniker)
	}
	return host, nil
}

// Field definitions shared by the engine tests.
var (
	defTemperature = FieldDef{Name: "Temperature", ID: 10, Type: FieldTypeFloat, Access: AccessRead}
	defTargetTemp  = FieldDef{Name: "TargetTemp", ID: 11, Type: FieldTypeInt, Access: AccessReadWrite}
	defMode        = FieldDef{Name: "Mode", ID: 12, Type: FieldTypeString, Access: AccessRead}
	defReset       = FieldDef{Name: "Reset", ID: 13, Type: FieldTypeBool, Access: AccessWrite}
)

// testConfig is fast enough for tests to converge in milliseconds.
func testConfig() Config {
	return Config{
		DropInterval:        2 * time.Second,
		PollInterval:        5 * time.Millisecond,
		PruneInterval:       10 * time.Millisecond,
		CallTimeout:         time.Second,
		StopTimeout:         2 * time.Second,
		ReconnectInitial:    5 * time.Millisecond,
		ReconnectMax:        20 * time.Millisecond,
		DriverStateInterval: 20 * time.Millisecond,
		FieldReloadInterval: 10 * time.Millisecond,
	}
}

// testEnv is an engine wired to one fake host running the Kitchen driver.
type testEnv struct {
	engine   *Engine
	host     *fakeHost
	dialer   *fakeDialer
	resolver *mapResolver
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	host := newFakeHost()
	host.addDriver("Kitchen", 7, defTemperature, defTargetTemp, defMode, defReset)
	host.setValue("Kitchen", defTemperature.ID, FloatValue(21.5))
	host.setValue("Kitchen", defTargetTemp.ID, IntValue(68))
	host.setValue("Kitchen", defMode.ID, StringValue("heat"))

	dialer := newFakeDialer()
	dialer.add("host-a:13507", host)

	resolver := newMapResolver()
	resolver.set("Kitchen", "host-a:13507")

	e, err := New(cfg, dialer, resolver)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Start(context.Background(), "secret", 0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(e.Stop)

	return &testEnv{engine: e, host: host, dialer: dialer, resolver: resolver}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// mustRegister retries RegisterField until the host has loaded its catalog.
func mustRegister(t *testing.T, e *Engine, moniker, field string, access Access) Registration {
	t.Helper()
	var reg Registration
	waitFor(t, 2*time.Second, "registration of "+FieldName(moniker, field), func() bool {
		var res RegisterResult
		res, reg = e.RegisterField(moniker, field, access)
		return res == RegisterOK
	})
	return reg
}

// waitReady waits until a query with serial 0 returns a Ready reading.
func waitReady(t *testing.T, e *Engine, moniker string, link *FieldLink) Reading {
	t.Helper()
	var reading Reading
	waitFor(t, 2*time.Second, "ready value for "+moniker, func() bool {
		var res QueryResult
		res, reading = e.QueryValue(moniker, link, 0)
		return res == QueryNewValue && reading.State == FieldStateReady
	})
	return reading
}

func hostState(e *Engine, host string) (HostInfo, bool) {
	for _, h := range e.Hosts() {
		if h.Host == host {
			return h, true
		}
	}
	return HostInfo{}, false
}
