package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-poller/internal/audit"
	"github.com/nerrad567/gray-logic-poller/internal/directory"
	"github.com/nerrad567/gray-logic-poller/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-poller/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-poller/internal/pollengine"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Engine is the part of the poll engine the API serves. *pollengine.Engine
// satisfies it.
type Engine interface {
	pollengine.FieldCache
	ReadValue(moniker, field string) (pollengine.Reading, error)
	WriteField(ctx context.Context, moniker, field, text, credential string) error
	QueryFieldInfo(moniker, field string) (pollengine.FieldDef, error)
	CheckDriverState(moniker string) (pollengine.DriverState, error)
	HostForMoniker(moniker string) (string, error)
	Hosts() []pollengine.HostInfo
	IsRunning() bool
}

// Directory is the moniker directory as seen by the API.
// *directory.Registry satisfies it.
type Directory interface {
	Entries() []directory.Entry
	SetHost(ctx context.Context, moniker, host, source string) error
	Remove(ctx context.Context, moniker string) error
}

// AuditLog journals writes and directory edits.
// *audit.SQLiteRepository satisfies it.
type AuditLog interface {
	Create(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, f audit.Filter) (*audit.ListResult, error)
}

// HealthChecker is implemented by infrastructure clients (database, MQTT,
// InfluxDB) reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Observer receives request and session counts. *metrics.Metrics
// satisfies it.
type Observer interface {
	ObserveRequest(method, route string, code int, d time.Duration)
	SessionOpened()
	SessionClosed()
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Engine    Engine
	Directory Directory // optional: directory endpoints are omitted when nil
	Audit     AuditLog  // optional: nothing is journalled when nil

	// Checks are reported by name on /health.
	Checks map[string]HealthChecker

	// Observer and MetricsHandler are optional. MetricsHandler is mounted
	// at MetricsPath.
	Observer       Observer
	MetricsHandler http.Handler
	MetricsPath    string

	Version string
}

// Server is the HTTP API server for the poller.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg            config.APIConfig
	wsCfg          config.WebSocketConfig
	logger         *logging.Logger
	engine         Engine
	directory      Directory
	audit          AuditLog
	checks         map[string]HealthChecker
	observer       Observer
	metricsHandler http.Handler
	metricsPath    string
	version        string
	startTime      time.Time

	server   *http.Server
	listener net.Listener
	hub      *Hub
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, engine)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("poll engine is required")
	}

	metricsPath := deps.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	return &Server{
		cfg:            deps.Config,
		wsCfg:          deps.WS,
		logger:         deps.Logger.Component("api"),
		engine:         deps.Engine,
		directory:      deps.Directory,
		audit:          deps.Audit,
		checks:         deps.Checks,
		observer:       deps.Observer,
		metricsHandler: deps.MetricsHandler,
		metricsPath:    metricsPath,
		version:        deps.Version,
		startTime:      time.Now(),
	}, nil
}

// Handler builds the router without starting a listener. Start uses it;
// tests serve it through httptest.
func (s *Server) Handler() http.Handler {
	if s.hub == nil {
		s.hub = NewHub(s.logger, s.observer)
	}
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// The listener is bound before Start returns, so a port already in use is
// reported here. Requests are served on a background goroutine until Close.
//
// Parameters:
//   - ctx: Parent context for the WebSocket hub and sessions
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	handler := s.Handler()
	go s.hub.Run(srvCtx)

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           handler,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return srvCtx },
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// WebSocket sessions are closed first, then in-flight requests get up to
// 10 seconds to complete.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
