package pollengine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Default engine settings.
const (
	DefaultDropInterval        = 60 * time.Second
	DefaultPollInterval        = 250 * time.Millisecond
	DefaultPruneInterval       = 10 * time.Second
	DefaultCallTimeout         = 5 * time.Second
	DefaultStopTimeout         = 10 * time.Second
	DefaultReconnectInitial    = 1 * time.Second
	DefaultReconnectMax        = 30 * time.Second
	DefaultDriverStateInterval = 30 * time.Second
	DefaultFieldReloadInterval = 5 * time.Second

	// maxParallelStops bounds how many poll goroutines Stop waits on at once.
	maxParallelStops = 16
)

// Config holds engine timing.
type Config struct {
	// DropInterval is how long an unread field stays on the poll list, and
	// how long a host with no readers stays registered.
	DropInterval time.Duration

	// PollInterval is the poll goroutine cadence. It also bounds how long a
	// poll goroutine takes to notice shutdown.
	PollInterval time.Duration

	// PruneInterval is how often idle hosts are removed.
	PruneInterval time.Duration

	// CallTimeout bounds every remote call.
	CallTimeout time.Duration

	// StopTimeout bounds the wait for one poll goroutine to exit.
	StopTimeout time.Duration

	// ReconnectInitial and ReconnectMax bound the reconnect backoff.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// DriverStateInterval is how often driver states are refreshed while a
	// host is idle.
	DriverStateInterval time.Duration

	// FieldReloadInterval throttles field list reloads triggered by
	// registrations for unknown field names.
	FieldReloadInterval time.Duration
}

// DefaultConfig returns the default engine timing.
func DefaultConfig() Config {
	return Config{
		DropInterval:        DefaultDropInterval,
		PollInterval:        DefaultPollInterval,
		PruneInterval:       DefaultPruneInterval,
		CallTimeout:         DefaultCallTimeout,
		StopTimeout:         DefaultStopTimeout,
		ReconnectInitial:    DefaultReconnectInitial,
		ReconnectMax:        DefaultReconnectMax,
		DriverStateInterval: DefaultDriverStateInterval,
		FieldReloadInterval: DefaultFieldReloadInterval,
	}
}

// Validate checks that every interval is positive.
func (c Config) Validate() error {
	checks := []struct {
		name string
		d    time.Duration
	}{
		{"drop interval", c.DropInterval},
		{"poll interval", c.PollInterval},
		{"prune interval", c.PruneInterval},
		{"call timeout", c.CallTimeout},
		{"stop timeout", c.StopTimeout},
		{"reconnect initial", c.ReconnectInitial},
		{"reconnect max", c.ReconnectMax},
		{"driver state interval", c.DriverStateInterval},
		{"field reload interval", c.FieldReloadInterval},
	}
	for _, chk := range checks {
		if chk.d <= 0 {
			return fmt.Errorf("pollengine: %s must be positive", chk.name)
		}
	}
	if c.ReconnectMax < c.ReconnectInitial {
		return errors.New("pollengine: reconnect max must not be below reconnect initial")
	}
	return nil
}

// Engine is the process-wide field cache. It owns one serverItem per
// remote host, created lazily on first registration and pruned when idle.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	cfg      Config
	dialer   Dialer
	resolver HostResolver
	logger   Logger
	metrics  Metrics
	sink     ValueSink
	ids      idCounter

	mu         sync.RWMutex
	running    bool
	stopping   bool
	credential string
	ctx        context.Context
	cancel     context.CancelFunc
	pruneDone  chan struct{}
	servers    map[string]*serverItem // by host
	monikers   map[string]*serverItem // by moniker key
}

// New creates an engine. It does nothing until Start is called.
//
// Parameters:
//   - cfg: engine timing; zero fields are filled from DefaultConfig
//   - dialer: opens connections to remote hosts
//   - resolver: maps monikers to host addresses
//
// Returns:
//   - *Engine: the engine, not yet running
//   - error: if the configuration is invalid
func New(cfg Config, dialer Dialer, resolver HostResolver) (*Engine, error) {
	if dialer == nil || resolver == nil {
		return nil, errors.New("pollengine: dialer and resolver are required")
	}
	cfg = withDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		dialer:   dialer,
		resolver: resolver,
		logger:   noopLogger{},
		metrics:  noopMetrics{},
		sink:     noopSink{},
		servers:  make(map[string]*serverItem),
		monikers: make(map[string]*serverItem),
	}, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	fill := func(d *time.Duration, v time.Duration) {
		if *d == 0 {
			*d = v
		}
	}
	fill(&cfg.DropInterval, def.DropInterval)
	fill(&cfg.PollInterval, def.PollInterval)
	fill(&cfg.PruneInterval, def.PruneInterval)
	fill(&cfg.CallTimeout, def.CallTimeout)
	fill(&cfg.StopTimeout, def.StopTimeout)
	fill(&cfg.ReconnectInitial, def.ReconnectInitial)
	fill(&cfg.ReconnectMax, def.ReconnectMax)
	fill(&cfg.DriverStateInterval, def.DriverStateInterval)
	fill(&cfg.FieldReloadInterval, def.FieldReloadInterval)
	return cfg
}

// SetLogger sets the logger. Call before Start.
func (e *Engine) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	e.mu.Lock()
	e.logger = logger
	e.mu.Unlock()
}

// SetMetrics sets the metrics observer. Call before Start.
func (e *Engine) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	e.mu.Lock()
	e.metrics = m
	e.mu.Unlock()
}

// SetValueSink sets the receiver of changed values. Call before Start.
func (e *Engine) SetValueSink(sink ValueSink) {
	if sink == nil {
		sink = noopSink{}
	}
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

// Config returns the engine timing in effect.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Start makes the engine usable and starts the prune goroutine.
//
// Parameters:
//   - ctx: parent context for every poll goroutine
//   - credential: passed to the dialer for every host connection
//   - dropInterval: overrides the configured drop interval when non-zero
//
// Returns:
//   - error: ErrAlreadyRunning if Start was already called, ErrStopping
//     while a Stop is still in progress
func (e *Engine) Start(ctx context.Context, credential string, dropInterval time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}
	if e.stopping {
		return ErrStopping
	}
	if dropInterval < 0 {
		return errors.New("pollengine: drop interval must not be negative")
	}
	if dropInterval > 0 {
		e.cfg.DropInterval = dropInterval
	}

	e.credential = credential
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.pruneDone = make(chan struct{})
	e.running = true

	go e.pruneLoop(e.ctx, e.pruneDone)

	e.logger.Info("poll engine started",
		"drop_interval", e.cfg.DropInterval,
		"poll_interval", e.cfg.PollInterval,
		"prune_interval", e.cfg.PruneInterval,
	)
	return nil
}

// Stop stops the prune goroutine and every poll goroutine, then empties
// the registry. Servers stay registered until their goroutines have exited
// or missed the stop timeout; stragglers are logged and abandoned.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.stopping = true
	e.cancel()
	pruneDone := e.pruneDone
	stopTimeout := e.cfg.StopTimeout
	servers := maps.Clone(e.servers)
	e.mu.Unlock()

	<-pruneDone

	var g errgroup.Group
	g.SetLimit(maxParallelStops)
	for host, s := range servers {
		g.Go(func() error {
			if err := s.stop(stopTimeout); err != nil {
				e.logger.Error("poll goroutine did not stop", "host", host, "error", err)
				return err
			}
			return nil
		})
	}
	stopErr := g.Wait()

	e.mu.Lock()
	e.servers = make(map[string]*serverItem)
	e.monikers = make(map[string]*serverItem)
	e.stopping = false
	e.mu.Unlock()

	if stopErr != nil {
		e.logger.Warn("poll engine stopped with stragglers", "error", stopErr)
	} else {
		e.logger.Info("poll engine stopped", "hosts", len(servers))
	}
	e.metrics.SetServers(0)
}

// IsRunning reports whether Start has been called without a matching Stop.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// serverFor returns the server for a moniker. With create set, an unknown
// moniker is resolved and its host's server created and started. Resolution
// runs without the lock; the insert path re-checks under it so concurrent
// callers never create two servers for one host.
func (e *Engine) serverFor(moniker string, create bool) (*serverItem, error) {
	key := nameKey(moniker)

	e.mu.RLock()
	if !e.running {
		e.mu.RUnlock()
		return nil, ErrNotRunning
	}
	s := e.monikers[key]
	e.mu.RUnlock()

	if s != nil {
		return s, nil
	}
	if !create {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMoniker, moniker)
	}

	host, err := e.resolver.Resolve(moniker)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnknownMoniker, moniker, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil, ErrNotRunning
	}
	if s := e.monikers[key]; s != nil {
		return s, nil
	}
	if s := e.servers[host]; s != nil {
		e.monikers[key] = s
		return s, nil
	}

	s = newServerItem(host, e, time.Now())
	e.servers[host] = s
	e.monikers[key] = s
	s.start(e.ctx)

	e.metrics.SetServers(len(e.servers))
	e.logger.Info("host added", "host", host, "moniker", moniker)
	return s, nil
}

// RegisterField resolves a field name to a link and queues the field for
// polling when read access is requested. It never blocks on the network;
// RegisterNotFound means the host or catalog is not there yet.
//
// Parameters:
//   - moniker: driver moniker
//   - field: field name within the driver
//   - access: the access the caller intends to use
//
// Returns:
//   - RegisterResult: RegisterOK or the reason it failed
//   - Registration: definition, link, make and model on RegisterOK
func (e *Engine) RegisterField(moniker, field string, access Access) (RegisterResult, Registration) {
	if !ValidMoniker(moniker) || !ValidFieldName(field) {
		return RegisterBadName, Registration{}
	}
	if access&AccessReadWrite == 0 {
		return RegisterWrongAccess, Registration{}
	}

	s, err := e.serverFor(moniker, true)
	if err != nil {
		return RegisterNotFound, Registration{}
	}
	return s.register(moniker, field, access, time.Now())
}

// RegisterFieldByName is RegisterField for a flattened "moniker.field" name.
func (e *Engine) RegisterFieldByName(name string, access Access) (RegisterResult, Registration) {
	moniker, field, err := ParseFieldName(name)
	if err != nil {
		return RegisterBadName, Registration{}
	}
	return e.RegisterField(moniker, field, access)
}

// QueryValue reads a field from the cache by link. It compares the field's
// serial number with lastSerial; QueryNewValue carries the full reading,
// QueryNoChange only the state and serial. A stale link is reset and
// QueryLinkStale returned; the caller must register again.
func (e *Engine) QueryValue(moniker string, link *FieldLink, lastSerial uint32) (QueryResult, Reading) {
	if link == nil || !link.IsValid() {
		return QueryNotFound, Reading{}
	}

	s, err := e.serverFor(moniker, false)
	if err != nil {
		link.Reset()
		return QueryLinkStale, Reading{}
	}
	return s.query(moniker, link, lastSerial, time.Now())
}

// QueryValueByName is QueryValue for a flattened "moniker.field" name.
func (e *Engine) QueryValueByName(name string, link *FieldLink, lastSerial uint32) (QueryResult, Reading) {
	moniker, _, err := ParseFieldName(name)
	if err != nil {
		return QueryNotFound, Reading{}
	}
	return e.QueryValue(moniker, link, lastSerial)
}

// CheckLinkChange reports whether link no longer matches the catalog.
// An invalid link always counts as changed.
func (e *Engine) CheckLinkChange(moniker string, link FieldLink) bool {
	if !link.IsValid() {
		return true
	}
	s, err := e.serverFor(moniker, false)
	if err != nil {
		return true
	}
	return s.linkChanged(moniker, link)
}

// ReadValue registers and reads a field by name in one call. It is slower
// than holding a link but survives reconnects without any caller state.
//
// Returns:
//   - Reading: the cached reading
//   - error: the registration failure, or ErrFieldError when the field is
//     in error (the last value is still returned)
func (e *Engine) ReadValue(moniker, field string) (Reading, error) {
	res, reg := e.RegisterField(moniker, field, AccessRead)
	if res != RegisterOK {
		return Reading{}, fmt.Errorf("reading %s: %w", FieldName(moniker, field), res.Err())
	}

	link := reg.Link
	qr, reading := e.QueryValue(moniker, &link, 0)
	if qr != QueryNewValue {
		return Reading{}, fmt.Errorf("reading %s: %w", FieldName(moniker, field), ErrNotFound)
	}
	if reading.State == FieldStateError {
		return reading, fmt.Errorf("reading %s: %w", FieldName(moniker, field), ErrFieldError)
	}
	return reading, nil
}

// CheckDriverState returns a driver's last known state. A host that is not
// connected reports every driver offline.
func (e *Engine) CheckDriverState(moniker string) (DriverState, error) {
	if !ValidMoniker(moniker) {
		return DriverStateUnknown, fmt.Errorf("%w: %q", ErrBadName, moniker)
	}
	s, err := e.serverFor(moniker, true)
	if err != nil {
		return DriverStateUnknown, err
	}
	s.touch(time.Now())
	return s.driverState(moniker)
}

// QueryFieldInfo returns a field's definition from the loaded catalog.
func (e *Engine) QueryFieldInfo(moniker, field string) (FieldDef, error) {
	if !ValidMoniker(moniker) || !ValidFieldName(field) {
		return FieldDef{}, fmt.Errorf("%w: %q", ErrBadName, FieldName(moniker, field))
	}
	s, err := e.serverFor(moniker, true)
	if err != nil {
		return FieldDef{}, err
	}
	s.touch(time.Now())
	return s.fieldInfo(moniker, field)
}

// WriteField writes a value straight to the host on the calling goroutine.
// The cache is not touched; the next poll picks up the new value.
//
// Parameters:
//   - ctx: bounds the remote call together with the call timeout
//   - moniker, field: the target field
//   - text: the value in its text form, checked against the field type
//   - credential: passed to the host for its access check
//
// Returns:
//   - error: ErrBadName, ErrNotFound, ErrHostOffline, ErrWrongAccess,
//     ErrBadValue, or ErrWriteFailed wrapping the host's error
func (e *Engine) WriteField(ctx context.Context, moniker, field, text, credential string) error {
	if !ValidMoniker(moniker) || !ValidFieldName(field) {
		return fmt.Errorf("%w: %q", ErrBadName, FieldName(moniker, field))
	}
	s, err := e.serverFor(moniker, true)
	if err != nil {
		return err
	}
	s.touch(time.Now())

	conn, drvMoniker, def, err := s.writeTarget(moniker, field)
	if err != nil {
		return err
	}
	if _, err := ParseValue(def.Type, text); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBadValue, FieldName(moniker, field), err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	if err := conn.WriteField(callCtx, drvMoniker, def.Name, text, credential); err != nil {
		e.logger.Warn("field write failed", "host", s.host,
			"field", FieldName(drvMoniker, def.Name), "error", err)
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, FieldName(drvMoniker, def.Name), err)
	}

	e.logger.Debug("field written", "host", s.host, "field", FieldName(drvMoniker, def.Name))
	return nil
}

// WriteFieldByName is WriteField for a flattened "moniker.field" name.
func (e *Engine) WriteFieldByName(ctx context.Context, name, text, credential string) error {
	moniker, field, err := ParseFieldName(name)
	if err != nil {
		return err
	}
	return e.WriteField(ctx, moniker, field, text, credential)
}

// HostForMoniker returns the address of the host running a driver.
func (e *Engine) HostForMoniker(moniker string) (string, error) {
	if !ValidMoniker(moniker) {
		return "", fmt.Errorf("%w: %q", ErrBadName, moniker)
	}
	s, err := e.serverFor(moniker, true)
	if err != nil {
		return "", err
	}
	return s.host, nil
}

// Proxy returns the live connection the engine holds to a moniker's host,
// for callers that need their own direct calls. The connection belongs to
// the engine: do not close it, and expect it to fail once the host drops.
func (e *Engine) Proxy(moniker string) (Conn, error) {
	if !ValidMoniker(moniker) {
		return nil, fmt.Errorf("%w: %q", ErrBadName, moniker)
	}
	s, err := e.serverFor(moniker, true)
	if err != nil {
		return nil, err
	}
	s.touch(time.Now())
	return s.liveConn()
}

// Hosts returns a snapshot of every registered host.
func (e *Engine) Hosts() []HostInfo {
	e.mu.RLock()
	servers := make([]*serverItem, 0, len(e.servers))
	for _, s := range e.servers {
		servers = append(servers, s)
	}
	e.mu.RUnlock()

	infos := make([]HostInfo, 0, len(servers))
	for _, s := range servers {
		infos = append(infos, s.snapshot())
	}
	return infos
}
