package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the fsanet daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Network   NetworkConfig    `yaml:"network"`
	Fast      FastConfig       `yaml:"fast"`
	Sync      SyncConfig       `yaml:"sync"`
	Discovery DiscoveryConfig  `yaml:"discovery"`
	Actuators []ActuatorConfig `yaml:"actuators"`
	Database  DatabaseConfig   `yaml:"database"`
	MQTT      MQTTConfig       `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig   `yaml:"influxdb"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// NetworkConfig contains UDP socket and exchange settings.
type NetworkConfig struct {
	// LocalAddress is the UDP bind address. Default ":0".
	LocalAddress string `yaml:"local_address"`

	// BroadcastAddress is the robot LAN broadcast address used by discovery.
	BroadcastAddress string `yaml:"broadcast_address"`

	// Timeout bounds every single receive of a blocking exchange.
	Timeout time.Duration `yaml:"timeout"`

	// LossThreshold is how long an actuator may stay silent before it is
	// reported lost.
	LossThreshold time.Duration `yaml:"loss_threshold"`
}

// FastConfig contains binary protocol settings.
type FastConfig struct {
	// ByteOrder overrides the byte order for individual frames, keyed by
	// opcode name (position, velocity, torque, current, pvc, error) with
	// value "big" or "little". Unlisted frames are big-endian.
	ByteOrder map[string]string `yaml:"byte_order"`
}

// SyncConfig contains background loop settings.
type SyncConfig struct {
	SendEnabled    bool          `yaml:"send_enabled"`
	ReceiveEnabled bool          `yaml:"receive_enabled"`
	PollEnabled    bool          `yaml:"poll_enabled"`
	IdleInterval   time.Duration `yaml:"idle_interval"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ErrorPollEvery int           `yaml:"error_poll_every"`
}

// DiscoveryConfig contains startup broadcast discovery settings.
type DiscoveryConfig struct {
	// Enabled runs a discovery broadcast at startup.
	Enabled bool `yaml:"enabled"`

	// Filter keeps only devices of one type: Actuator, AbsEncoder or CtrlBox.
	Filter string `yaml:"filter"`

	Timeout     time.Duration `yaml:"timeout"`
	MaxDuration time.Duration `yaml:"max_duration"`

	// AutoRegister adds discovered devices to the registry and enables them
	// with the default mode.
	AutoRegister bool `yaml:"auto_register"`
}

// ActuatorConfig declares one statically known actuator.
type ActuatorConfig struct {
	Address  string `yaml:"address"`
	Enabled  bool   `yaml:"enabled"`
	Blocking bool   `yaml:"blocking"`
	Fast     bool   `yaml:"fast"`
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

// TelemetryConfig contains state publishing settings.
type TelemetryConfig struct {
	// Interval is how often actuator snapshots are published.
	Interval time.Duration `yaml:"interval"`

	// HealthInterval is how often the daemon health message is published.
	HealthInterval time.Duration `yaml:"health_interval"`
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
// Environment variables follow the pattern: FSANET_SECTION_KEY
// For example: FSANET_DATABASE_PATH, FSANET_NETWORK_BROADCAST
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

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			LocalAddress:     ":0",
			BroadcastAddress: "192.168.137.255",
			Timeout:          10 * time.Millisecond,
			LossThreshold:    time.Second,
		},
		Sync: SyncConfig{
			IdleInterval:   200 * time.Microsecond,
			ReceiveTimeout: 10 * time.Millisecond,
			PollInterval:   10 * time.Millisecond,
			ErrorPollEvery: 100,
		},
		Discovery: DiscoveryConfig{
			Timeout:     time.Second,
			MaxDuration: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/fsanet.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fsanet",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     1000,
			FlushInterval: 1,
		},
		Telemetry: TelemetryConfig{
			Interval:       time.Second,
			HealthInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FSANET_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Network
	if v := os.Getenv("FSANET_NETWORK_LOCAL_ADDRESS"); v != "" {
		cfg.Network.LocalAddress = v
	}
	if v := os.Getenv("FSANET_NETWORK_BROADCAST"); v != "" {
		cfg.Network.BroadcastAddress = v
	}
	if v := os.Getenv("FSANET_NETWORK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FSANET_NETWORK_TIMEOUT: %w", err)
		}
		cfg.Network.Timeout = d
	}

	// Sync
	if v := os.Getenv("FSANET_SYNC_RECEIVE_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FSANET_SYNC_RECEIVE_ENABLED: %w", err)
		}
		cfg.Sync.ReceiveEnabled = b
	}

	// Database
	if v := os.Getenv("FSANET_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("FSANET_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FSANET_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FSANET_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("FSANET_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("FSANET_LOG_LEVEL"); v != "" {
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

	// Network validation
	if !isIPv4(c.Network.BroadcastAddress) {
		errs = append(errs, "network.broadcast_address must be an IPv4 address")
	}
	if c.Network.Timeout <= 0 {
		errs = append(errs, "network.timeout must be positive")
	}
	if c.Network.LossThreshold <= 0 {
		errs = append(errs, "network.loss_threshold must be positive")
	}

	// Fast protocol validation
	for name, order := range c.Fast.ByteOrder {
		if !knownFrameNames[strings.ToLower(name)] {
			errs = append(errs, fmt.Sprintf("fast.byte_order: unknown frame %q", name))
		}
		switch strings.ToLower(order) {
		case "big", "little":
		default:
			errs = append(errs, fmt.Sprintf("fast.byte_order.%s must be big or little", name))
		}
	}

	// Sync validation
	if c.Sync.PollEnabled && !c.Sync.ReceiveEnabled {
		errs = append(errs, "sync.poll_enabled requires sync.receive_enabled")
	}
	if c.Sync.ErrorPollEvery < 0 {
		errs = append(errs, "sync.error_poll_every must not be negative")
	}

	// Discovery validation
	switch c.Discovery.Filter {
	case "", "Actuator", "AbsEncoder", "CtrlBox":
	default:
		errs = append(errs, "discovery.filter must be Actuator, AbsEncoder or CtrlBox")
	}
	if c.Discovery.Enabled && c.Sync.ReceiveEnabled {
		errs = append(errs, "discovery.enabled cannot be combined with sync.receive_enabled")
	}

	// Actuator validation
	seen := make(map[string]bool, len(c.Actuators))
	for i, a := range c.Actuators {
		if !isIPv4(a.Address) {
			errs = append(errs, fmt.Sprintf("actuators[%d].address %q must be an IPv4 address", i, a.Address))
			continue
		}
		if seen[a.Address] {
			errs = append(errs, fmt.Sprintf("actuators[%d].address %q is listed twice", i, a.Address))
		}
		seen[a.Address] = true
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	// Telemetry validation
	if c.Telemetry.Interval <= 0 {
		errs = append(errs, "telemetry.interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

var knownFrameNames = map[string]bool{
	"position": true,
	"velocity": true,
	"torque":   true,
	"current":  true,
	"pvc":      true,
	"error":    true,
}

func isIPv4(s string) bool {
	a, err := netip.ParseAddr(s)
	return err == nil && a.Is4()
}

// GetFlushInterval returns the InfluxDB flush interval as a Duration.
func (c *Config) GetFlushInterval() time.Duration {
	return time.Duration(c.InfluxDB.FlushInterval) * time.Second
}
