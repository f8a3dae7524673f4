package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic poller.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Engine    EngineConfig    `yaml:"engine"`
	Directory DirectoryConfig `yaml:"directory"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Remote    RemoteConfig    `yaml:"remote"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// EngineConfig contains poll engine timing.
type EngineConfig struct {
	// DropInterval is how long an unread field stays polled and how long a
	// host with no readers stays connected.
	DropInterval time.Duration `yaml:"drop_interval"`

	// PollInterval is the per-host poll cadence.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PruneInterval is how often idle hosts are removed.
	PruneInterval time.Duration `yaml:"prune_interval"`

	// CallTimeout bounds every remote call, including writes.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// StopTimeout bounds the wait for each host's poll loop at shutdown.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	ReconnectInitial    time.Duration `yaml:"reconnect_initial"`
	ReconnectMax        time.Duration `yaml:"reconnect_max"`
	DriverStateInterval time.Duration `yaml:"driver_state_interval"`
	FieldReloadInterval time.Duration `yaml:"field_reload_interval"`

	// Credential is presented to every driver host on connect.
	// Set via GRAYLOGIC_ENGINE_CREDENTIAL rather than in the file.
	Credential string `yaml:"credential"`
}

// DirectoryConfig contains moniker directory settings.
type DirectoryConfig struct {
	// Hosts seeds the directory with static moniker to host mappings.
	Hosts map[string]string `yaml:"hosts"`

	// RefreshInterval is how often the in-memory cache is reloaded from
	// the database. Zero disables periodic refresh.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// RemoteConfig contains settings for the MQTT request/reply link to
// driver hosts.
type RemoteConfig struct {
	// ClientName identifies this poller in reply topics. Defaults to the
	// MQTT client ID.
	ClientName string `yaml:"client_name"`

	// Discovery enables the host announcement subscriber that keeps the
	// directory up to date.
	Discovery bool `yaml:"discovery"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`

	// UpdateInterval is how often each session checks its fields for changes.
	UpdateInterval time.Duration `yaml:"update_interval"`

	// MaxFields caps subscriptions per session.
	MaxFields int `yaml:"max_fields"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// AuditConfig contains settings for the journal of writes and directory
// edits.
type AuditConfig struct {
	// Retention is how long entries are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`

	// PruneInterval is how often expired entries are deleted.
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Engine: EngineConfig{
			DropInterval:        60 * time.Second,
			PollInterval:        250 * time.Millisecond,
			PruneInterval:       10 * time.Second,
			CallTimeout:         5 * time.Second,
			StopTimeout:         10 * time.Second,
			ReconnectInitial:    time.Second,
			ReconnectMax:        30 * time.Second,
			DriverStateInterval: 30 * time.Second,
			FieldReloadInterval: 5 * time.Second,
		},
		Directory: DirectoryConfig{
			RefreshInterval: 5 * time.Minute,
		},
		Database: DatabaseConfig{
			Path:        "./data/poller.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-poller",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Remote: RemoteConfig{
			Discovery: true,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			UpdateInterval: 250 * time.Millisecond,
			MaxFields:      256,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     500,
			FlushInterval: 10,
		},
		Audit: AuditConfig{
			Retention:     90 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Engine
	if v := os.Getenv("GRAYLOGIC_ENGINE_CREDENTIAL"); v != "" {
		cfg.Engine.Credential = v
	}
	if v := os.Getenv("GRAYLOGIC_ENGINE_DROP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GRAYLOGIC_ENGINE_DROP_INTERVAL: %w", err)
		}
		cfg.Engine.DropInterval = d
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GRAYLOGIC_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	errs = append(errs, c.Engine.validate()...)

	for moniker, host := range c.Directory.Hosts {
		if moniker == "" || host == "" {
			errs = append(errs, "directory.hosts entries need a moniker and a host")
			break
		}
	}
	if c.Directory.RefreshInterval < 0 {
		errs = append(errs, "directory.refresh_interval must not be negative")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.WebSocket.UpdateInterval <= 0 {
		errs = append(errs, "websocket.update_interval must be positive")
	}
	if c.WebSocket.MaxFields < 1 {
		errs = append(errs, "websocket.max_fields must be at least 1")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if c.Audit.Retention < 0 || c.Audit.PruneInterval < 0 {
		errs = append(errs, "audit.retention and audit.prune_interval must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (e EngineConfig) validate() []string {
	var errs []string
	durations := []struct {
		key string
		d   time.Duration
	}{
		{"drop_interval", e.DropInterval},
		{"poll_interval", e.PollInterval},
		{"prune_interval", e.PruneInterval},
		{"call_timeout", e.CallTimeout},
		{"stop_timeout", e.StopTimeout},
		{"reconnect_initial", e.ReconnectInitial},
		{"reconnect_max", e.ReconnectMax},
		{"driver_state_interval", e.DriverStateInterval},
		{"field_reload_interval", e.FieldReloadInterval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, "engine."+d.key+" must be positive")
		}
	}
	if e.ReconnectMax < e.ReconnectInitial {
		errs = append(errs, "engine.reconnect_max must not be below engine.reconnect_initial")
	}
	return errs
}

// ListenAddr returns the API listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
