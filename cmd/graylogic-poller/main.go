// Gray Logic Poller - field value cache for driver hosts
//
// The poller keeps one connection per driver host, polls only the fields
// someone has read recently, and serves the cached values over REST and
// WebSocket. Hosts are found through the moniker directory, which is seeded
// from config and kept current by host announcements on MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-poller/internal/api"
	"github.com/nerrad567/gray-logic-poller/internal/audit"
	"github.com/nerrad567/gray-logic-poller/internal/directory"
	"github.com/nerrad567/gray-logic-poller/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-poller/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-poller/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-poller/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-poller/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-poller/internal/metrics"
	"github.com/nerrad567/gray-logic-poller/internal/pollengine"
	"github.com/nerrad567/gray-logic-poller/internal/remote"
	"github.com/nerrad567/gray-logic-poller/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the poller together and blocks until ctx is cancelled.
// Components are torn down by deferred calls in reverse start order.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Poller",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	// Database and directory
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}

	registry := directory.NewRegistry(directory.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("directory"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading directory: %w", refreshErr)
	}
	if seedErr := registry.Seed(ctx, cfg.Directory.Hosts); seedErr != nil {
		// Bad seed entries are skipped; the rest are in place.
		log.Warn("directory seed incomplete", "error", seedErr)
	}
	go registry.Run(ctx, cfg.Directory.RefreshInterval)
	log.Info("directory loaded", "entries", len(registry.Entries()))

	auditLog := audit.NewSQLiteRepository(db.DB)
	go auditLog.RunRetention(ctx, cfg.Audit.Retention, cfg.Audit.PruneInterval, log.Component("audit"))

	// MQTT transport to driver hosts
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
	)

	clientName := cfg.Remote.ClientName
	if clientName == "" {
		clientName = mqttClient.ClientID()
	}
	dialer := remote.NewDialer(mqttClient.HostBus(), clientName)
	dialer.SetLogger(log.Component("remote"))
	if startErr := dialer.Start(); startErr != nil {
		return fmt.Errorf("starting remote dialer: %w", startErr)
	}
	defer func() {
		if stopErr := dialer.Stop(); stopErr != nil {
			log.Warn("error stopping remote dialer", "error", stopErr)
		}
	}()

	if cfg.Remote.Discovery {
		discovery := remote.NewDiscovery(mqttClient.HostBus(), registry)
		discovery.SetLogger(log.Component("discovery"))
		if startErr := discovery.Start(); startErr != nil {
			return fmt.Errorf("starting discovery: %w", startErr)
		}
		defer func() {
			if stopErr := discovery.Stop(); stopErr != nil {
				log.Warn("error stopping discovery", "error", stopErr)
			}
		}()
		log.Info("host discovery enabled")
	}

	// Optional field history
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// Poll engine
	engine, err := pollengine.New(engineConfig(cfg.Engine), dialer, registry)
	if err != nil {
		return fmt.Errorf("creating poll engine: %w", err)
	}
	engine.SetLogger(log.Component("pollengine"))

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		engine.SetMetrics(m)
	}
	if influxClient != nil {
		engine.SetValueSink(influxClient)
	}

	if startErr := engine.Start(ctx, cfg.Engine.Credential, cfg.Engine.DropInterval); startErr != nil {
		return fmt.Errorf("starting poll engine: %w", startErr)
	}
	defer func() {
		log.Info("stopping poll engine")
		engine.Stop()
	}()

	// HTTP API
	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Engine:    engine,
		Directory: registry,
		Audit:     auditLog,
		Checks: map[string]api.HealthChecker{
			"database": db,
			"mqtt":     mqttClient,
		},
		Version: version,
	}
	if influxClient != nil {
		deps.Checks["influxdb"] = influxClient
	}
	if m != nil {
		deps.Observer = m
		deps.MetricsHandler = m.Handler()
		deps.MetricsPath = cfg.Metrics.Path
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal", "api", server.Addr())
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// engineConfig converts the file settings into engine settings. Zero
// durations fall back to the engine's defaults.
func engineConfig(c config.EngineConfig) pollengine.Config {
	return pollengine.Config{
		DropInterval:        c.DropInterval,
		PollInterval:        c.PollInterval,
		PruneInterval:       c.PruneInterval,
		CallTimeout:         c.CallTimeout,
		StopTimeout:         c.StopTimeout,
		ReconnectInitial:    c.ReconnectInitial,
		ReconnectMax:        c.ReconnectMax,
		DriverStateInterval: c.DriverStateInterval,
		FieldReloadInterval: c.FieldReloadInterval,
	}
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
