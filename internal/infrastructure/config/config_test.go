package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
network:
  broadcast_address: "10.10.0.255"
  timeout: 25ms
  loss_threshold: 2s
fast:
  byte_order:
    torque: little
sync:
  send_enabled: true
  receive_enabled: true
  poll_enabled: true
  poll_interval: 5ms
actuators:
  - address: "10.10.0.11"
    enabled: true
    blocking: true
  - address: "10.10.0.12"
    enabled: true
    fast: true
database:
  path: "/tmp/test.db"
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Network.BroadcastAddress != "10.10.0.255" {
		t.Errorf("Network.BroadcastAddress = %q, want %q", cfg.Network.BroadcastAddress, "10.10.0.255")
	}
	if cfg.Network.Timeout != 25*time.Millisecond {
		t.Errorf("Network.Timeout = %v, want 25ms", cfg.Network.Timeout)
	}
	if cfg.Network.LossThreshold != 2*time.Second {
		t.Errorf("Network.LossThreshold = %v, want 2s", cfg.Network.LossThreshold)
	}
	if cfg.Fast.ByteOrder["torque"] != "little" {
		t.Errorf("Fast.ByteOrder[torque] = %q, want little", cfg.Fast.ByteOrder["torque"])
	}
	if cfg.Sync.PollInterval != 5*time.Millisecond {
		t.Errorf("Sync.PollInterval = %v, want 5ms", cfg.Sync.PollInterval)
	}
	// Unset keys keep their defaults.
	if cfg.Sync.ErrorPollEvery != 100 {
		t.Errorf("Sync.ErrorPollEvery = %d, want default 100", cfg.Sync.ErrorPollEvery)
	}
	if len(cfg.Actuators) != 2 {
		t.Fatalf("len(Actuators) = %d, want 2", len(cfg.Actuators))
	}
	if !cfg.Actuators[1].Fast || cfg.Actuators[1].Blocking {
		t.Errorf("Actuators[1] = %+v, want fast and non-blocking", cfg.Actuators[1])
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
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
	content := `
actuators:
  - address: "actuator-1"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for a non-IPv4 actuator address, got nil")
	}
	if !strings.Contains(err.Error(), "actuators[0].address") {
		t.Errorf("error = %v, want it to name actuators[0].address", err)
	}
}

func TestLoad_BadEnvDuration(t *testing.T) {
	t.Setenv("FSANET_NETWORK_TIMEOUT", "soon")

	if _, err := Load(writeConfig(t, "{}")); err == nil {
		t.Error("Load() expected error for an unparsable duration override, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "bad broadcast",
			mutate:  func(c *Config) { c.Network.BroadcastAddress = "255.255" },
			wantErr: "network.broadcast_address",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Network.Timeout = 0 },
			wantErr: "network.timeout",
		},
		{
			name:    "unknown frame",
			mutate:  func(c *Config) { c.Fast.ByteOrder = map[string]string{"home": "little"} },
			wantErr: "unknown frame",
		},
		{
			name:    "unknown byte order",
			mutate:  func(c *Config) { c.Fast.ByteOrder = map[string]string{"torque": "middle"} },
			wantErr: "fast.byte_order.torque",
		},
		{
			name:    "poll without receive",
			mutate:  func(c *Config) { c.Sync.PollEnabled = true },
			wantErr: "sync.poll_enabled",
		},
		{
			name:    "bad filter",
			mutate:  func(c *Config) { c.Discovery.Filter = "Robot" },
			wantErr: "discovery.filter",
		},
		{
			name: "discovery with receive loop",
			mutate: func(c *Config) {
				c.Discovery.Enabled = true
				c.Sync.ReceiveEnabled = true
			},
			wantErr: "discovery.enabled",
		},
		{
			name: "duplicate actuator",
			mutate: func(c *Config) {
				c.Actuators = []ActuatorConfig{{Address: "10.0.0.1"}, {Address: "10.0.0.1"}}
			},
			wantErr: "listed twice",
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
			name: "mqtt enabled without host",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.Broker.Host = ""
			},
			wantErr: "mqtt.broker.host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateAccumulates(t *testing.T) {
	cfg := defaultConfig()
	cfg.Database.Path = ""
	cfg.MQTT.QoS = 9

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "configuration errors: ") {
		t.Errorf("error = %q, want configuration errors prefix", msg)
	}
	if !strings.Contains(msg, "database.path") || !strings.Contains(msg, "mqtt.qos") {
		t.Errorf("error = %q, want both problems reported", msg)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("FSANET_NETWORK_LOCAL_ADDRESS", "0.0.0.0:40000")
	t.Setenv("FSANET_NETWORK_BROADCAST", "10.0.0.255")
	t.Setenv("FSANET_NETWORK_TIMEOUT", "15ms")
	t.Setenv("FSANET_SYNC_RECEIVE_ENABLED", "true")
	t.Setenv("FSANET_DATABASE_PATH", "/custom/path.db")
	t.Setenv("FSANET_MQTT_HOST", "mqtt.example.com")
	t.Setenv("FSANET_MQTT_USERNAME", "testuser")
	t.Setenv("FSANET_MQTT_PASSWORD", "testpass")
	t.Setenv("FSANET_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("FSANET_LOG_LEVEL", "debug")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error: %v", err)
	}

	if cfg.Network.LocalAddress != "0.0.0.0:40000" {
		t.Errorf("Network.LocalAddress = %q, want %q", cfg.Network.LocalAddress, "0.0.0.0:40000")
	}
	if cfg.Network.BroadcastAddress != "10.0.0.255" {
		t.Errorf("Network.BroadcastAddress = %q, want %q", cfg.Network.BroadcastAddress, "10.0.0.255")
	}
	if cfg.Network.Timeout != 15*time.Millisecond {
		t.Errorf("Network.Timeout = %v, want 15ms", cfg.Network.Timeout)
	}
	if !cfg.Sync.ReceiveEnabled {
		t.Error("Sync.ReceiveEnabled = false, want true")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Network.BroadcastAddress != "192.168.137.255" {
		t.Errorf("defaultConfig Network.BroadcastAddress = %q, want 192.168.137.255", cfg.Network.BroadcastAddress)
	}
	if cfg.Network.Timeout != 10*time.Millisecond {
		t.Errorf("defaultConfig Network.Timeout = %v, want 10ms", cfg.Network.Timeout)
	}
	if cfg.Sync.IdleInterval != 200*time.Microsecond {
		t.Errorf("defaultConfig Sync.IdleInterval = %v, want 200µs", cfg.Sync.IdleInterval)
	}
	if cfg.Discovery.MaxDuration != 5*time.Second {
		t.Errorf("defaultConfig Discovery.MaxDuration = %v, want 5s", cfg.Discovery.MaxDuration)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.GetFlushInterval() != time.Second {
		t.Errorf("GetFlushInterval() = %v, want 1s", cfg.GetFlushInterval())
	}
}
