package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic cloud relay.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Pairing  PairingConfig  `yaml:"pairing"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains settings for the cloud-side MQTT broker.
// When enabled, gateway presence and state are fanned out to the broker and
// commands can be submitted on the command ingress topic.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
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

// BridgeConfig contains settings for the gateway bridge endpoint.
//
// Durations are expressed in seconds, matching the rest of the file.
type BridgeConfig struct {
	// Path is the HTTP path gateways dial to open their WebSocket session.
	Path string `yaml:"path"`

	// MaxMessageSize caps a single inbound frame in bytes.
	MaxMessageSize int `yaml:"max_message_size"`

	// HeartbeatInterval is how often gateways are expected to ping.
	HeartbeatInterval int `yaml:"heartbeat_interval"`

	// HeartbeatMisses is how many silent intervals are tolerated before the
	// session is torn down.
	HeartbeatMisses int `yaml:"heartbeat_misses"`

	// WriteTimeout bounds a single frame write to the gateway socket.
	WriteTimeout int `yaml:"write_timeout"`

	// SendBuffer is the per-session outbound queue depth.
	SendBuffer int `yaml:"send_buffer"`

	// PendingTTL is how long an unawaited command stays correlatable.
	PendingTTL int `yaml:"pending_ttl"`

	// DefaultAckTimeout is used when a caller waits without naming a timeout.
	DefaultAckTimeout int `yaml:"default_ack_timeout"`

	// MaxAckTimeout caps caller-supplied wait timeouts.
	MaxAckTimeout int `yaml:"max_ack_timeout"`
}

// PairingConfig contains settings for gateway pairing codes.
type PairingConfig struct {
	CodeLength           int `yaml:"code_length"`
	DefaultExpiryMinutes int `yaml:"default_expiry_minutes"`
	MaxExpiryMinutes     int `yaml:"max_expiry_minutes"`
	// CleanupInterval is in seconds. 0 disables the cleanup loop.
	CleanupInterval int `yaml:"cleanup_interval"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
//
// The relay does not issue user tokens itself; it validates tokens minted by
// the identity service with the shared secret. AccessTokenTTL (minutes) is
// used by tooling and tests that mint tokens locally.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_BRIDGE_HEARTBEAT_INTERVAL
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

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with defaults. The JWT secret is left
// empty and must be supplied before Validate passes.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/graylogic-relay.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-relay",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8443,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 75,
				Idle:  120,
			},
		},
		Bridge: BridgeConfig{
			Path:              "/bridge",
			MaxMessageSize:    65536,
			HeartbeatInterval: 30,
			HeartbeatMisses:   3,
			WriteTimeout:      10,
			SendBuffer:        64,
			PendingTTL:        120,
			DefaultAckTimeout: 10,
			MaxAckTimeout:     60,
		},
		Pairing: PairingConfig{
			CodeLength:           8,
			DefaultExpiryMinutes: 10,
			MaxExpiryMinutes:     60,
			CleanupInterval:      300,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
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
	if v := envInt("GRAYLOGIC_API_PORT"); v > 0 {
		cfg.API.Port = v
	}

	// Bridge
	if v := envInt("GRAYLOGIC_BRIDGE_HEARTBEAT_INTERVAL"); v > 0 {
		cfg.Bridge.HeartbeatInterval = v
	}
	if v := envInt("GRAYLOGIC_BRIDGE_HEARTBEAT_MISSES"); v > 0 {
		cfg.Bridge.HeartbeatMisses = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// envInt returns the integer value of an environment variable, or 0 when
// unset or unparseable.
func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	errs = append(errs, c.Bridge.validate()...)
	errs = append(errs, c.Pairing.validate()...)

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// Forged user tokens would grant remote control of physical devices.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set GRAYLOGIC_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (b BridgeConfig) validate() []string {
	var errs []string
	if !strings.HasPrefix(b.Path, "/") {
		errs = append(errs, "bridge.path must start with /")
	}
	if b.MaxMessageSize <= 0 {
		errs = append(errs, "bridge.max_message_size must be positive")
	}
	if b.HeartbeatInterval <= 0 {
		errs = append(errs, "bridge.heartbeat_interval must be positive")
	}
	if b.HeartbeatMisses < 1 {
		errs = append(errs, "bridge.heartbeat_misses must be at least 1")
	}
	if b.SendBuffer < 1 {
		errs = append(errs, "bridge.send_buffer must be at least 1")
	}
	if b.DefaultAckTimeout <= 0 {
		errs = append(errs, "bridge.default_ack_timeout must be positive")
	}
	if b.MaxAckTimeout < b.DefaultAckTimeout {
		errs = append(errs, "bridge.max_ack_timeout must not be less than bridge.default_ack_timeout")
	}
	return errs
}

func (p PairingConfig) validate() []string {
	var errs []string
	if p.CodeLength < 6 || p.CodeLength > 12 {
		errs = append(errs, "pairing.code_length must be between 6 and 12")
	}
	if p.DefaultExpiryMinutes < 1 {
		errs = append(errs, "pairing.default_expiry_minutes must be at least 1")
	}
	if p.MaxExpiryMinutes < p.DefaultExpiryMinutes {
		errs = append(errs, "pairing.max_expiry_minutes must not be less than pairing.default_expiry_minutes")
	}
	return errs
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

// Seconds converts a seconds-valued config field to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Minutes converts a config value in minutes to a duration.
func Minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
