package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backend names accepted by store.backend.
const (
	StoreBackendMemory = "memory"
	StoreBackendSQLite = "sqlite"
	StoreBackendBolt   = "bolt"
)

// minJWTSecretLength is the shortest HMAC secret accepted for API tokens.
const minJWTSecretLength = 32

// Config is the root configuration structure for the remote lab service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	Database  DatabaseConfig  `yaml:"database"`
	Toolchain ToolchainConfig `yaml:"toolchain"`
	Devices   DevicesConfig   `yaml:"devices"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Audit     AuditConfig     `yaml:"audit"`
	Security  SecurityConfig  `yaml:"security"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
//
// Write must outlast the longest firmware command, because build and upload
// requests block until the toolchain process exits.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// StoreConfig selects the device store backend.
type StoreConfig struct {
	// Backend is one of "memory", "sqlite" or "bolt".
	// The memory backend loses all devices on restart.
	Backend string `yaml:"backend"`

	// BoltPath is the bbolt database file used by the bolt backend.
	BoltPath string `yaml:"bolt_path"`
}

// DatabaseConfig contains SQLite database settings.
// The database is opened when store.backend is "sqlite" or audit is enabled.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// ToolchainConfig contains settings for the external firmware toolchain.
type ToolchainConfig struct {
	// Binary is the toolchain executable, resolved through PATH when not absolute.
	Binary string `yaml:"binary"`

	// CommandTimeout bounds every build, upload, init, clean and config query.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// ProbeTimeout bounds the "--version" availability probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// ProbeCacheTTL is how long a successful probe is trusted. Zero probes
	// before every command.
	ProbeCacheTTL time.Duration `yaml:"probe_cache_ttl"`

	// GracefulTimeout is the delay between SIGTERM and SIGKILL when a command
	// is cancelled or times out.
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`
}

// DevicesConfig contains device registry behaviour settings.
type DevicesConfig struct {
	// StrictToolchainConfig rejects create requests that supply only one of
	// board_type and project_path instead of creating a bare device.
	StrictToolchainConfig bool `yaml:"strict_toolchain_config"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
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

// AuditConfig controls the SQLite audit trail of device and firmware actions.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains API token settings.
// An empty secret disables authentication on the API.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	TokenTTL int    `yaml:"token_ttl"` // minutes
}

// Load layers built-in defaults, the YAML file at path (skipped when path
// is "") and REMOTELAB_* environment variables, in that order, then
// validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file or
// environment variable.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 900,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Store: StoreConfig{
			Backend:  StoreBackendMemory,
			BoltPath: "./data/devices.bolt",
		},
		Database: DatabaseConfig{
			Path:        "./data/remotelab.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Toolchain: ToolchainConfig{
			Binary:          "platformio",
			CommandTimeout:  10 * time.Minute,
			ProbeTimeout:    10 * time.Second,
			ProbeCacheTTL:   30 * time.Second,
			GracefulTimeout: 5 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "remotelab",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "remotelab",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				TokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: REMOTELAB_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	stringOverrides := map[string]*string{
		"REMOTELAB_API_HOST":         &cfg.API.Host,
		"REMOTELAB_LOG_LEVEL":        &cfg.Logging.Level,
		"REMOTELAB_LOG_FORMAT":       &cfg.Logging.Format,
		"REMOTELAB_LOG_OUTPUT":       &cfg.Logging.Output,
		"REMOTELAB_STORE_BACKEND":    &cfg.Store.Backend,
		"REMOTELAB_STORE_BOLT_PATH":  &cfg.Store.BoltPath,
		"REMOTELAB_DATABASE_PATH":    &cfg.Database.Path,
		"REMOTELAB_TOOLCHAIN_BINARY": &cfg.Toolchain.Binary,
		"REMOTELAB_MQTT_HOST":        &cfg.MQTT.Broker.Host,
		"REMOTELAB_MQTT_USERNAME":    &cfg.MQTT.Auth.Username,
		"REMOTELAB_MQTT_PASSWORD":    &cfg.MQTT.Auth.Password,
		"REMOTELAB_INFLUXDB_URL":     &cfg.InfluxDB.URL,
		"REMOTELAB_INFLUXDB_TOKEN":   &cfg.InfluxDB.Token,
		"REMOTELAB_JWT_SECRET":       &cfg.Security.JWT.Secret,
	}
	for key, dst := range stringOverrides {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("REMOTELAB_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REMOTELAB_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	if v := os.Getenv("REMOTELAB_TOOLCHAIN_COMMAND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("REMOTELAB_TOOLCHAIN_COMMAND_TIMEOUT: %w", err)
		}
		cfg.Toolchain.CommandTimeout = d
	}

	boolOverrides := map[string]*bool{
		"REMOTELAB_MQTT_ENABLED":     &cfg.MQTT.Enabled,
		"REMOTELAB_INFLUXDB_ENABLED": &cfg.InfluxDB.Enabled,
		"REMOTELAB_AUDIT_ENABLED":    &cfg.Audit.Enabled,
	}
	for key, dst := range boolOverrides {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}

	return nil
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	switch c.Store.Backend {
	case StoreBackendMemory, StoreBackendSQLite:
	case StoreBackendBolt:
		if c.Store.BoltPath == "" {
			errs = append(errs, "store.bolt_path is required for the bolt backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.backend %q is not one of memory, sqlite, bolt", c.Store.Backend))
	}

	if c.NeedsDatabase() && c.Database.Path == "" {
		errs = append(errs, "database.path is required when store.backend is sqlite or audit is enabled")
	}

	if c.Toolchain.Binary == "" {
		errs = append(errs, "toolchain.binary is required")
	}
	if c.Toolchain.CommandTimeout <= 0 {
		errs = append(errs, "toolchain.command_timeout must be positive")
	}
	if c.Toolchain.ProbeTimeout <= 0 {
		errs = append(errs, "toolchain.probe_timeout must be positive")
	}
	if c.Toolchain.ProbeCacheTTL < 0 {
		errs = append(errs, "toolchain.probe_cache_ttl must not be negative")
	}
	// A write timeout shorter than a command cuts the connection before the
	// firmware response is written. Zero disables the write timeout.
	if w := c.API.Timeouts.WriteTimeout(); w > 0 && w <= c.Toolchain.CommandTimeout {
		errs = append(errs, fmt.Sprintf("api.timeouts.write (%s) must exceed toolchain.command_timeout (%s)",
			w, c.Toolchain.CommandTimeout))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	// Authentication is optional, but a configured secret must be strong
	// enough that tokens cannot be brute-forced offline.
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// NeedsDatabase reports whether any enabled component stores data in SQLite.
func (c *Config) NeedsDatabase() bool {
	return c.Store.Backend == StoreBackendSQLite || c.Audit.Enabled
}

// AuthEnabled reports whether API requests must carry a signed token.
func (c *Config) AuthEnabled() bool {
	return c.Security.JWT.Secret != ""
}

// Durations of the API timeouts, which are configured in seconds.
func (t APITimeoutConfig) ReadTimeout() time.Duration { return time.Duration(t.Read) * time.Second }
func (t APITimeoutConfig) WriteTimeout() time.Duration { return time.Duration(t.Write) * time.Second }
func (t APITimeoutConfig) IdleTimeout() time.Duration { return time.Duration(t.Idle) * time.Second }
