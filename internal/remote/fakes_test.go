package remote

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-poller/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-poller/internal/pollengine"
)

// fakeBroker is an in-memory mqtt.PubSub. Like paho, it delivers each
// message on its own goroutine.
type fakeBroker struct {
	mu        sync.Mutex
	subs      map[string]mqtt.MessageHandler
	published []string
	failPub   error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subs: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) Publish(topic string, payload []byte, _ byte, _ bool) error {
	b.mu.Lock()
	if b.failPub != nil {
		err := b.failPub
		b.mu.Unlock()
		return err
	}
	b.published = append(b.published, topic)
	var handlers []mqtt.MessageHandler
	for filter, h := range b.subs {
		if mqtt.Match(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()

	body := slices.Clone(payload)
	for _, h := range handlers {
		go h(topic, body) //nolint:errcheck // Test broker ignores handler errors
	}
	return nil
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = handler
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, topic)
	return nil
}

func (b *fakeBroker) subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[topic]
	return ok
}

func (b *fakeBroker) publishedTo(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.published {
		if t == topic {
			n++
		}
	}
	return n
}

// fakeHost answers admin requests for one driver host.
type fakeHost struct {
	mu         sync.Mutex
	broker     *fakeBroker
	name       string
	credential string
	silent     bool
	sessions   map[string]bool
	nextID     int
	listID     uint32
	drivers    []pollengine.DriverInfo
	fields     map[uint32]pollengine.FieldList
	values     map[uint64]pollengine.Value
	states     map[string]pollengine.DriverState
	writes     []WriteFieldParams
	methods    []string
}

func newFakeHost(t *testing.T, broker *fakeBroker, name, credential string) *fakeHost {
	t.Helper()
	h := &fakeHost{
		broker:     broker,
		name:       name,
		credential: credential,
		sessions:   make(map[string]bool),
		listID:     1,
		fields:     make(map[uint32]pollengine.FieldList),
		values:     make(map[uint64]pollengine.Value),
		states:     make(map[string]pollengine.DriverState),
	}
	if err := broker.Subscribe(mqtt.Topics{}.HostRequest(name), 1, h.handle); err != nil {
		t.Fatalf("fake host subscribe: %v", err)
	}
	return h
}

func (h *fakeHost) addDriver(moniker string, id uint32, defs ...pollengine.FieldDef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drivers = append(h.drivers, pollengine.DriverInfo{Moniker: moniker, ID: id, Make: "Acme", Model: "HVAC-1"})
	h.fields[id] = pollengine.FieldList{ListID: 1, Fields: defs}
	h.states[moniker] = pollengine.DriverStateOnline
}

func (h *fakeHost) setValue(driverID, fieldID uint32, v pollengine.Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values[uint64(driverID)<<32|uint64(fieldID)] = v
}

func (h *fakeHost) setSilent(silent bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.silent = silent
}

func (h *fakeHost) dropSessions() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.sessions)
}

func (h *fakeHost) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.methods)
}

func (h *fakeHost) getWrites() []WriteFieldParams {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.writes)
}

func (h *fakeHost) handle(_ string, payload []byte) error {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}

	h.mu.Lock()
	h.methods = append(h.methods, req.Method)
	if h.silent {
		h.mu.Unlock()
		return nil
	}
	result, rerr := h.answerLocked(req)
	h.mu.Unlock()

	if req.Method == MethodBye {
		return nil
	}
	reply := Reply{ID: req.ID, Error: rerr}
	if rerr == nil && result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return err
		}
		reply.Result = raw
	}
	out, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return h.broker.Publish(req.ReplyTo, out, 1, false)
}

func (h *fakeHost) answerLocked(req Request) (any, *RemoteError) {
	if req.Method == MethodHello {
		var p HelloParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &RemoteError{Code: CodeBadRequest}
		}
		if p.Credential != h.credential {
			return nil, &RemoteError{Code: CodeAccessDenied, Message: "bad credential"}
		}
		h.nextID++
		session := fmt.Sprintf("s-%d", h.nextID)
		h.sessions[session] = true
		return HelloResult{Session: session}, nil
	}
	if !h.sessions[req.Session] {
		return nil, &RemoteError{Code: CodeNoSession}
	}

	switch req.Method {
	case MethodBye:
		delete(h.sessions, req.Session)
		return nil, nil
	case MethodListDrivers:
		return pollengine.DriverList{ListID: h.listID, Drivers: slices.Clone(h.drivers)}, nil
	case MethodListFields:
		var p ListFieldsParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &RemoteError{Code: CodeBadRequest}
		}
		list, ok := h.fields[p.DriverID]
		if !ok {
			return nil, &RemoteError{Code: CodeNotFound}
		}
		return list, nil
	case MethodPoll:
		var p PollParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &RemoteError{Code: CodeBadRequest}
		}
		reply := pollengine.PollReply{DriverListID: h.listID}
		for _, item := range p.Items {
			res := pollengine.PollResult{DriverID: item.DriverID, FieldID: item.FieldID}
			if v, ok := h.values[uint64(item.DriverID)<<32|uint64(item.FieldID)]; ok {
				res.Value = v
			} else {
				res.Status = pollengine.PollFieldError
			}
			reply.Results = append(reply.Results, res)
		}
		return reply, nil
	case MethodWriteField:
		var p WriteFieldParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &RemoteError{Code: CodeBadRequest}
		}
		if p.Credential != h.credential {
			return nil, &RemoteError{Code: CodeAccessDenied}
		}
		h.writes = append(h.writes, p)
		return nil, nil
	case MethodDriverState:
		var p DriverStateParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &RemoteError{Code: CodeBadRequest}
		}
		state, ok := h.states[p.Moniker]
		if !ok {
			return nil, &RemoteError{Code: CodeNotFound}
		}
		return DriverStateResult{State: state}, nil
	default:
		return nil, &RemoteError{Code: CodeBadRequest, Message: "unknown method " + req.Method}
	}
}

var (
	defTemperature = pollengine.FieldDef{Name: "Temperature", ID: 10, Type: pollengine.FieldTypeFloat, Access: pollengine.AccessRead}
	defSetpoint    = pollengine.FieldDef{Name: "Setpoint", ID: 11, Type: pollengine.FieldTypeInt, Access: pollengine.AccessReadWrite}
)

const testHost = "hvac:13507"

// newTestDialer starts a dialer and a fake host running the Kitchen driver.
func newTestDialer(t *testing.T) (*Dialer, *fakeHost, *fakeBroker) {
	t.Helper()
	broker := newFakeBroker()
	host := newFakeHost(t, broker, testHost, "secret")
	host.addDriver("Kitchen", 7, defTemperature, defSetpoint)
	host.setValue(7, defTemperature.ID, pollengine.FloatValue(21.5))
	host.setValue(7, defSetpoint.ID, pollengine.IntValue(68))

	d := NewDialer(mqtt.NewHostBus(broker, 1), "poller-test")
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { d.Stop() }) //nolint:errcheck // Test cleanup
	return d, host, broker
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
