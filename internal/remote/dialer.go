package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-poller/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-poller/internal/pollengine"
)

// defaultCallTimeout applies when a call's context has no deadline.
const defaultCallTimeout = 10 * time.Second

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Dialer opens admin connections to driver hosts over MQTT.
//
// One Dialer serves every host. It owns this poller's reply topic and
// correlates replies to calls by request id, and it watches host status
// topics so connections to a host that drops off the bus fail fast.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Dialer struct {
	bus      *mqtt.HostBus
	clientID string
	logger   Logger

	mu      sync.Mutex
	started bool
	pending map[string]chan Reply
	conns   map[string]map[*conn]struct{} // by host
}

var _ pollengine.Dialer = (*Dialer)(nil)

// NewDialer creates a dialer talking to hosts over bus. clientID names this
// poller's reply topic and must be a valid topic level.
func NewDialer(bus *mqtt.HostBus, clientID string) *Dialer {
	return &Dialer{
		bus:      bus,
		clientID: clientID,
		logger:   noopLogger{},
		pending:  make(map[string]chan Reply),
		conns:    make(map[string]map[*conn]struct{}),
	}
}

// SetLogger sets the logger. Must be called before Start.
func (d *Dialer) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.logger = logger
}

// Start subscribes to the reply topic and host status topics.
func (d *Dialer) Start() error {
	if !mqtt.ValidTopicLevel(d.clientID) {
		return fmt.Errorf("%w: client id %q", ErrInvalidHost, d.clientID)
	}
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	if err := d.bus.ServeReplies(d.clientID, d.handleReply); err != nil {
		d.mu.Lock()
		d.started = false
		d.mu.Unlock()
		return fmt.Errorf("subscribing to replies: %w", err)
	}
	if err := d.bus.WatchHostStatus(d.handleHostStatus); err != nil {
		d.logger.Warn("host status subscription failed, relying on call timeouts", "error", err)
	}
	return nil
}

// Stop unsubscribes and fails every outstanding call with ErrClosed.
func (d *Dialer) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	pending := d.pending
	d.pending = make(map[string]chan Reply)
	d.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}

	err := d.bus.StopReplies(d.clientID)
	_ = d.bus.UnwatchHostStatus() //nolint:errcheck // Best effort
	if err != nil {
		return fmt.Errorf("unsubscribing from replies: %w", err)
	}
	return nil
}

// Dial opens a session on host by presenting credential.
//
// Parameters:
//   - ctx: Bounds the hello round trip
//   - host: Driver host address, used as its topic level
//   - credential: Engine credential checked by the host
//
// Returns:
//   - pollengine.Conn: Live session, safe for concurrent use
//   - error: ErrInvalidHost, ErrNotStarted, ErrTimeout, or a host error
//     wrapping pollengine.ErrAccessDenied
func (d *Dialer) Dial(ctx context.Context, host, credential string) (pollengine.Conn, error) {
	if !mqtt.ValidTopicLevel(host) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}

	var hello HelloResult
	if err := d.call(ctx, host, MethodHello, "", HelloParams{Client: d.clientID, Credential: credential}, &hello); err != nil {
		return nil, fmt.Errorf("hello %s: %w", host, err)
	}

	c := &conn{dialer: d, host: host, session: hello.Session}
	d.mu.Lock()
	if d.conns[host] == nil {
		d.conns[host] = make(map[*conn]struct{})
	}
	d.conns[host][c] = struct{}{}
	d.mu.Unlock()

	d.logger.Debug("session opened", "host", host)
	return c, nil
}

// call publishes one request and waits for its reply. result may be nil.
func (d *Dialer) call(ctx context.Context, host, method, session string, params, result any) error {
	req := Request{
		ID:      uuid.NewString(),
		ReplyTo: mqtt.Topics{}.PollerReply(d.clientID),
		Method:  method,
		Session: session,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding %s params: %w", method, err)
		}
		req.Params = raw
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	ch := make(chan Reply, 1)
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return ErrNotStarted
	}
	d.pending[req.ID] = ch
	d.mu.Unlock()
	defer d.forget(req.ID)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
	}

	if err := d.bus.Request(host, payload); err != nil {
		return fmt.Errorf("publishing %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %s %s: %w", ErrTimeout, host, method, ctx.Err())
	case reply, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if reply.Error != nil {
			return reply.Error
		}
		if result == nil || len(reply.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(reply.Result, result); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrBadReply, method, err)
		}
		return nil
	}
}

// notify publishes a request nobody waits for.
func (d *Dialer) notify(host, method, session string) error {
	payload, err := json.Marshal(Request{
		ID:      uuid.NewString(),
		ReplyTo: mqtt.Topics{}.PollerReply(d.clientID),
		Method:  method,
		Session: session,
	})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}
	if err := d.bus.Request(host, payload); err != nil {
		return fmt.Errorf("publishing %s: %w", method, err)
	}
	return nil
}

func (d *Dialer) forget(id string) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

// handleReply routes a reply to its waiting call. Replies to calls that
// already gave up are dropped.
func (d *Dialer) handleReply(payload []byte) error {
	var reply Reply
	if err := json.Unmarshal(payload, &reply); err != nil {
		return fmt.Errorf("%w: %w", ErrBadReply, err)
	}

	d.mu.Lock()
	ch, ok := d.pending[reply.ID]
	if ok {
		delete(d.pending, reply.ID)
	}
	d.mu.Unlock()

	if !ok {
		d.logger.Debug("late or unknown reply dropped", "id", reply.ID)
		return nil
	}
	ch <- reply
	return nil
}

// handleHostStatus breaks every session on a host that reports offline.
func (d *Dialer) handleHostStatus(host string, status mqtt.StatusMessage) error {
	if status.Online() {
		return nil
	}

	d.mu.Lock()
	conns := d.conns[host]
	delete(d.conns, host)
	d.mu.Unlock()

	for c := range conns {
		c.gone.Store(true)
	}
	if len(conns) > 0 {
		d.logger.Info("host reported offline", "host", host, "reason", status.Reason)
	}
	return nil
}

func (d *Dialer) release(c *conn) {
	d.mu.Lock()
	if set := d.conns[c.host]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(d.conns, c.host)
		}
	}
	d.mu.Unlock()
}
