package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Minimum spacing between relay-pair commands the appliance tolerates.
const minSettleWindow = 2 * time.Second

// confirmMargin is added on top of one poll interval and one request when
// deriving the command timeout.
const confirmMargin = 5 * time.Second

// Config is the root configuration structure for the Autelis bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Autelis   AutelisConfig   `yaml:"autelis"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BridgeConfig identifies this bridge instance.
type BridgeConfig struct {
	ID             string `yaml:"id"`
	HealthInterval int    `yaml:"health_interval"`
}

// AutelisConfig contains the appliance connection and engine settings.
// The first five keys keep the names the nodeserver profile used.
type AutelisConfig struct {
	IPAddress       string `yaml:"ipaddress"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	PollingInterval int    `yaml:"pollinginterval"`
	IgnoreSolar     bool   `yaml:"ignoresolar"`

	// SettleWindow is the minimum spacing between relay-pair commands.
	// Default: 2s. Lower values are rejected.
	SettleWindow time.Duration `yaml:"settle_window"`

	// CommandTimeout bounds how long a command waits for poll confirmation.
	// Zero derives it from the poll interval and request timeout (see
	// GetCommandTimeout). A set value must exceed both combined.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// RequestTimeout bounds each HTTP call to the appliance.
	// Default: 10s.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// DegradedAfter is the number of consecutive failed polls before
	// health degrades. Default: 3.
	DegradedAfter int `yaml:"degraded_after"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays prunes state history older than this. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
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
	Enabled  bool             `yaml:"enabled"`
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

// APITimeoutConfig contains HTTP timeout settings.
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: AUTELIS_SECTION_KEY
// For example: AUTELIS_AUTELIS_IPADDRESS, AUTELIS_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "autelis-01",
			HealthInterval: 30,
		},
		Autelis: AutelisConfig{
			Username:        "admin",
			PollingInterval: 60,
			SettleWindow:    2 * time.Second,
			RequestTimeout:  10 * time.Second,
			DegradedAfter:   3,
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          "./data/autelis.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "autelis-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
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
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: AUTELIS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Appliance
	if v := os.Getenv("AUTELIS_AUTELIS_IPADDRESS"); v != "" {
		cfg.Autelis.IPAddress = v
	}
	if v := os.Getenv("AUTELIS_AUTELIS_USERNAME"); v != "" {
		cfg.Autelis.Username = v
	}
	if v := os.Getenv("AUTELIS_AUTELIS_PASSWORD"); v != "" {
		cfg.Autelis.Password = v
	}
	if v := os.Getenv("AUTELIS_AUTELIS_POLLINGINTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Autelis.PollingInterval = n
		}
	}
	if v := os.Getenv("AUTELIS_AUTELIS_IGNORESOLAR"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Autelis.IgnoreSolar = b
		}
	}

	// Database
	if v := os.Getenv("AUTELIS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("AUTELIS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("AUTELIS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("AUTELIS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("AUTELIS_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("AUTELIS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
// Every problem is reported, not just the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	// Appliance validation
	if c.Autelis.IPAddress == "" {
		errs = append(errs, "autelis.ipaddress is required (set AUTELIS_AUTELIS_IPADDRESS environment variable)")
	}
	if c.Autelis.PollingInterval < 1 {
		errs = append(errs, "autelis.pollinginterval must be at least 1 second")
	}
	if c.Autelis.SettleWindow < minSettleWindow {
		errs = append(errs, fmt.Sprintf("autelis.settle_window must be at least %s", minSettleWindow))
	}
	if c.Autelis.CommandTimeout < 0 {
		errs = append(errs, "autelis.command_timeout must not be negative")
	}
	if ct := c.Autelis.CommandTimeout; ct > 0 && ct <= c.GetPollInterval()+c.Autelis.RequestTimeout {
		errs = append(errs, fmt.Sprintf(
			"autelis.command_timeout (%s) must exceed pollinginterval + request_timeout (%s) or commands can never be confirmed",
			ct, c.GetPollInterval()+c.Autelis.RequestTimeout))
	}
	if c.Autelis.RequestTimeout <= 0 {
		errs = append(errs, "autelis.request_timeout must be positive")
	}
	if c.Autelis.DegradedAfter < 1 {
		errs = append(errs, "autelis.degraded_after must be at least 1")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPollInterval returns the appliance polling interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Autelis.PollingInterval) * time.Second
}

// GetCommandTimeout returns how long a dispatched command waits for poll
// confirmation. When unset it covers one poll interval, one request and a
// small margin, so the next poll always lands inside it.
func (c *Config) GetCommandTimeout() time.Duration {
	if c.Autelis.CommandTimeout > 0 {
		return c.Autelis.CommandTimeout
	}
	return c.GetPollInterval() + c.Autelis.RequestTimeout + confirmMargin
}

// GetHealthInterval returns the health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
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
