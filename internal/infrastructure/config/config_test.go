package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
transport:
  connection: "tcp://127.0.0.1:7000"
  reconnect_interval: 5s
requester:
  response_timeout: 250ms
  retries: 3
scheduler:
  interval: 2s
devices:
  - eid: 10
    uuid: "GPU-0d3f"
    name: "GPU 0"
    sensors:
      - name: temp
        kind: temperature
        sensor_id: 0
      - name: serial
        kind: inventory
        property: 1
        tier: static
  - eid: 11
    uuid: "NVSW-77a1"
database:
  path: "/tmp/test.db"
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Transport.Connection != "tcp://127.0.0.1:7000" {
		t.Errorf("Transport.Connection = %q", cfg.Transport.Connection)
	}
	if cfg.Transport.ReconnectInterval != 5*time.Second {
		t.Errorf("Transport.ReconnectInterval = %v, want 5s", cfg.Transport.ReconnectInterval)
	}
	if cfg.Requester.ResponseTimeout != 250*time.Millisecond || cfg.Requester.Retries != 3 {
		t.Errorf("Requester = %+v", cfg.Requester)
	}
	if cfg.Scheduler.Interval != 2*time.Second {
		t.Errorf("Scheduler.Interval = %v", cfg.Scheduler.Interval)
	}
	// Unset sections keep their defaults.
	if cfg.Async.MaxOperations != 32 || cfg.Transport.EventWorkers != 4 {
		t.Errorf("defaults lost: async %d workers %d", cfg.Async.MaxOperations, cfg.Transport.EventWorkers)
	}

	if len(cfg.Devices) != 2 {
		t.Fatalf("Devices = %d, want 2", len(cfg.Devices))
	}
	gpu := cfg.Devices[0]
	if gpu.EID != 10 || gpu.UUID != "GPU-0d3f" || len(gpu.Sensors) != 2 {
		t.Errorf("Devices[0] = %+v", gpu)
	}
	if s := gpu.Sensors[1]; s.Kind != "inventory" || s.Property != 1 || s.Tier != "static" {
		t.Errorf("Devices[0].Sensors[1] = %+v", s)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/test.db"
api:
  port: 8080
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "security.jwt.secret") {
		t.Errorf("Load() error = %v, want missing jwt secret", err)
	}
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWT.Secret = validJWTSecret
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:    "missing connection",
			mutate:  func(c *Config) { c.Transport.Connection = "" },
			wantErr: "transport.connection is required",
		},
		{
			name:    "unknown connection scheme",
			mutate:  func(c *Config) { c.Transport.Connection = "udp://x" },
			wantErr: "transport.connection must start",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Requester.Retries = -1 },
			wantErr: "requester.retries",
		},
		{
			name:    "no async slots",
			mutate:  func(c *Config) { c.Async.MaxOperations = 0 },
			wantErr: "async.max_operations",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "JWT secret too short",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: "at least 32 characters",
		},
		{
			name: "duplicate eid",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{EID: 10, UUID: "a"}, {EID: 10, UUID: "b"}}
			},
			wantErr: "already used by",
		},
		{
			name: "duplicate uuid",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{EID: 10, UUID: "a"}, {EID: 11, UUID: "a"}}
			},
			wantErr: "is duplicated",
		},
		{
			name: "sensor without kind",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{EID: 10, UUID: "a", Sensors: []SensorConfig{{Name: "t"}}}}
			},
			wantErr: "sensors[0].kind",
		},
		{
			name: "duplicate sensor name",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{EID: 10, UUID: "a", Sensors: []SensorConfig{
					{Name: "t", Kind: "temperature"},
					{Name: "t", Kind: "power"},
				}}}
			},
			wantErr: `name "t" is duplicated`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("NSMD_TRANSPORT_SOCKET", "tcp://mux:7000")
	t.Setenv("NSMD_DATABASE_PATH", "/custom/path.db")
	t.Setenv("NSMD_MQTT_HOST", "mqtt.example.com")
	t.Setenv("NSMD_MQTT_USERNAME", "testuser")
	t.Setenv("NSMD_MQTT_PASSWORD", "testpass")
	t.Setenv("NSMD_API_HOST", "192.168.1.1")
	t.Setenv("NSMD_API_PORT", "9090")
	t.Setenv("NSMD_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("NSMD_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	tests := []struct {
		field string
		got   any
		want  any
	}{
		{"Transport.Connection", cfg.Transport.Connection, "tcp://mux:7000"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"API.Port", cfg.API.Port, 9090},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.field, tt.got, tt.want)
		}
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("NSMD_API_PORT", "eighty")
	applyEnvOverrides(cfg)
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Transport.Connection != "unix:///run/mctp-mux.sock" {
		t.Errorf("defaultConfig Transport.Connection = %q", cfg.Transport.Connection)
	}

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.Health.Interval != 30*time.Second {
		t.Errorf("defaultConfig Health.Interval = %v, want 30s", cfg.Health.Interval)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv("NSMD_JWT_SECRET", validJWTSecret)

	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "nsmd.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Devices) != 2 || cfg.Devices[0].UUID != "gpu-0" {
		t.Errorf("devices = %+v", cfg.Devices)
	}
	if cfg.Discovery.ReceiverEID != 8 {
		t.Errorf("receiver_eid = %d, want 8", cfg.Discovery.ReceiverEID)
	}
	if cfg.Requester.ResponseTimeout != 500*time.Millisecond {
		t.Errorf("response_timeout = %v", cfg.Requester.ResponseTimeout)
	}
}
