package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for nsmd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Daemon    DaemonConfig    `yaml:"daemon"`
	Transport TransportConfig `yaml:"transport"`
	Requester RequesterConfig `yaml:"requester"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Async     AsyncConfig     `yaml:"async"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Health    HealthConfig    `yaml:"health"`
}

// DaemonConfig identifies this daemon instance.
type DaemonConfig struct {
	Name    string `yaml:"name"`
	DataDir string `yaml:"data_dir"`
}

// TransportConfig contains MCTP demultiplexer connection settings.
type TransportConfig struct {
	// Connection is "unix:///path" or "tcp://host:port".
	Connection        string        `yaml:"connection"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	EventWorkers      int           `yaml:"event_workers"`
	EventQueueSize    int           `yaml:"event_queue_size"`
}

// RequesterConfig contains request/response correlation settings.
type RequesterConfig struct {
	ResponseTimeout    time.Duration `yaml:"response_timeout"`
	Retries            int           `yaml:"retries"`
	InstanceIDExpiry   time.Duration `yaml:"instance_id_expiry"`
	LongRunningTimeout time.Duration `yaml:"long_running_timeout"`
}

// SchedulerConfig contains sensor polling settings.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// AsyncConfig contains async operation settings.
type AsyncConfig struct {
	MaxOperations int           `yaml:"max_operations"`
	Timeout       time.Duration `yaml:"timeout"`
}

// DiscoveryConfig contains device discovery settings.
type DiscoveryConfig struct {
	Concurrency int `yaml:"concurrency"`

	// ReceiverEID is this controller's EID, used for event subscription.
	// Zero disables subscription.
	ReceiverEID uint8 `yaml:"receiver_eid"`
}

// DeviceConfig is one entry of the static endpoint table.
type DeviceConfig struct {
	EID     uint8          `yaml:"eid"`
	UUID    string         `yaml:"uuid"`
	Name    string         `yaml:"name"`
	Sensors []SensorConfig `yaml:"sensors"`
}

// SensorConfig describes one polled sensor.
type SensorConfig struct {
	Name              string `yaml:"name"`
	Kind              string `yaml:"kind"`
	Tier              string `yaml:"tier"`
	SensorID          uint8  `yaml:"sensor_id"`
	AveragingInterval uint8  `yaml:"averaging_interval"`
	Property          uint8  `yaml:"property"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// JWTConfig contains JWT token settings. Tokens are issued elsewhere;
// nsmd only verifies them.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// HealthConfig contains health reporting settings.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NSMD_SECTION_KEY
// For example: NSMD_DATABASE_PATH, NSMD_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
		Daemon: DaemonConfig{
			Name:    "nsmd",
			DataDir: "./data",
		},
		Transport: TransportConfig{
			Connection:        "unix:///run/mctp-mux.sock",
			ConnectTimeout:    10 * time.Second,
			ReadTimeout:       30 * time.Second,
			ReconnectInterval: 2 * time.Second,
			EventWorkers:      4,
			EventQueueSize:    100,
		},
		Requester: RequesterConfig{
			ResponseTimeout:    500 * time.Millisecond,
			Retries:            2,
			InstanceIDExpiry:   5 * time.Second,
			LongRunningTimeout: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval: time.Second,
		},
		Async: AsyncConfig{
			MaxOperations: 32,
			Timeout:       30 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Concurrency: 4,
		},
		Database: DatabaseConfig{
			Path:        "./data/nsmd.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "nsmd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
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
		InfluxDB: InfluxDBConfig{
			BatchSize:     1000,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Health: HealthConfig{
			Interval: 30 * time.Second,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NSMD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Transport
	if v := os.Getenv("NSMD_TRANSPORT_SOCKET"); v != "" {
		cfg.Transport.Connection = v
	}

	// Database
	if v := os.Getenv("NSMD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("NSMD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NSMD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NSMD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("NSMD_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("NSMD_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("NSMD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("NSMD_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Transport.Connection == "" {
		errs = append(errs, "transport.connection is required")
	} else if !strings.HasPrefix(c.Transport.Connection, "unix://") && !strings.HasPrefix(c.Transport.Connection, "tcp://") {
		errs = append(errs, "transport.connection must start with unix:// or tcp://")
	}

	if c.Requester.Retries < 0 {
		errs = append(errs, "requester.retries must not be negative")
	}
	if c.Async.MaxOperations < 1 {
		errs = append(errs, "async.max_operations must be at least 1")
	}

	errs = append(errs, c.validateDevices()...)

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set NSMD_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateDevices checks the endpoint table for missing and duplicate
// keys.
func (c *Config) validateDevices() []string {
	var errs []string
	eids := make(map[uint8]string)
	uuids := make(map[string]bool)
	for i, d := range c.Devices {
		if d.UUID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].uuid is required", i))
		} else if uuids[d.UUID] {
			errs = append(errs, fmt.Sprintf("devices[%d].uuid %q is duplicated", i, d.UUID))
		}
		uuids[d.UUID] = true

		if prev, ok := eids[d.EID]; ok {
			errs = append(errs, fmt.Sprintf("devices[%d].eid %d already used by %q", i, d.EID, prev))
		}
		eids[d.EID] = d.UUID

		names := make(map[string]bool)
		for j, s := range d.Sensors {
			switch {
			case s.Name == "":
				errs = append(errs, fmt.Sprintf("devices[%d].sensors[%d].name is required", i, j))
			case names[s.Name]:
				errs = append(errs, fmt.Sprintf("devices[%d].sensors[%d].name %q is duplicated", i, j, s.Name))
			}
			names[s.Name] = true
			if s.Kind == "" {
				errs = append(errs, fmt.Sprintf("devices[%d].sensors[%d].kind is required", i, j))
			}
		}
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
