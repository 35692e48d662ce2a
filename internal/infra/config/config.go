package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level controller configuration.
type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Doors     []DoorConfig    `yaml:"doors"`
	AllowList []AllowEntry    `yaml:"allowlist"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"` // e.g. "tcp://localhost:1883"
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	QoS            int           `yaml:"qos"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DatabaseConfig holds audit store settings.
type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// HeartbeatConfig holds periodic status republish settings.
type HeartbeatConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// DoorConfig defines a single controlled door and its wiring.
type DoorConfig struct {
	ID            string        `yaml:"id"`
	RequiredLevel string        `yaml:"required_level"` // access level needed for credential entry
	RelockAfter   time.Duration `yaml:"relock_after"`
	Reader        ReaderConfig  `yaml:"reader"`
	DoorSensor    *SensorConfig `yaml:"door_sensor,omitempty"`
	Proximity     *SensorConfig `yaml:"proximity,omitempty"`
	ExitButton    *SensorConfig `yaml:"exit_button,omitempty"`
	Lock          *LockConfig   `yaml:"lock,omitempty"`
}

// ReaderConfig holds Wiegand reader wiring and timing.
type ReaderConfig struct {
	D0Pin           int           `yaml:"d0_pin"`
	D1Pin           int           `yaml:"d1_pin"`
	MinBits         int           `yaml:"min_bits"`
	InterbitTimeout time.Duration `yaml:"interbit_timeout"`
}

// SensorConfig binds one boolean input line. Inputs read active-high
// unless active_low is set.
type SensorConfig struct {
	Pin       int  `yaml:"pin"`
	ActiveLow bool `yaml:"active_low,omitempty"`
}

// LockConfig selects and wires a lock actuator.
// Kind "continuous" uses Pin; "latching" and "strike" use SetPin/UnsetPin.
type LockConfig struct {
	Kind       string        `yaml:"kind"`
	Pin        int           `yaml:"pin,omitempty"`
	SetPin     int           `yaml:"set_pin,omitempty"`
	UnsetPin   int           `yaml:"unset_pin,omitempty"`
	ActiveLow  bool          `yaml:"active_low,omitempty"`
	PulseWidth time.Duration `yaml:"pulse_width,omitempty"` // set/unset pulse duration
	HoldOpen   time.Duration `yaml:"hold_open,omitempty"`   // strike release duration
}

// AllowEntry grants a card one or more access levels.
type AllowEntry struct {
	Card   string   `yaml:"card"` // hex card value, e.g. "0x1D397065"
	Levels []string `yaml:"levels"`
	Name   string   `yaml:"name,omitempty"` // card holder, for audit logs only
}

// defaultDataDir returns the persistent data directory under $HOME/.doorman.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".doorman")
}

// Defaults returns a Config with sensible defaults. Doors and the
// allow-list have no defaults; they must come from the config file.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		MQTT: MQTTConfig{
			Broker:         "tcp://localhost:1883",
			ClientID:       "doorman",
			QoS:            1,
			ConnectTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:          filepath.Join(dataDir, "audit.db"),
			RetentionDays: 90,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:  true,
			Interval: 60 * time.Second,
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			applyDoorDefaults(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)
	applyDoorDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps DOORMAN_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOORMAN_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("DOORMAN_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("DOORMAN_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("DOORMAN_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.ClientID = v
	}
	if v := os.Getenv("DOORMAN_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("DOORMAN_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("DOORMAN_MQTT_QOS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 2 {
			cfg.MQTT.QoS = n
		}
	}
	if v := os.Getenv("DOORMAN_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DOORMAN_DB_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Database.RetentionDays = n
		}
	}
	if v := os.Getenv("DOORMAN_HEARTBEAT_ENABLED"); v == "false" {
		cfg.Heartbeat.Enabled = false
	}
	if v := os.Getenv("DOORMAN_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Heartbeat.Interval = d
		}
	}
}

// applyDoorDefaults fills zero-valued per-door fields after unmarshal.
// Doors come from a YAML list, so Defaults() cannot pre-populate them.
func applyDoorDefaults(cfg *Config) {
	for i := range cfg.Doors {
		d := &cfg.Doors[i]
		if d.RequiredLevel == "" {
			d.RequiredLevel = "regular"
		}
		if d.RelockAfter <= 0 {
			d.RelockAfter = 5 * time.Second
		}
		if d.Reader.MinBits <= 0 {
			d.Reader.MinBits = 4
		}
		if d.Reader.InterbitTimeout <= 0 {
			d.Reader.InterbitTimeout = 30 * time.Millisecond
		}
		if d.Lock != nil {
			if d.Lock.Kind == "" {
				d.Lock.Kind = "continuous"
			}
			if d.Lock.PulseWidth <= 0 {
				d.Lock.PulseWidth = 50 * time.Millisecond
			}
			if d.Lock.HoldOpen <= 0 {
				d.Lock.HoldOpen = time.Second
			}
		}
	}
}

// ParseCard parses a configured card value ("0x1D397065" or decimal).
func ParseCard(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("card %q: %w", s, err)
	}
	return v, nil
}

// validatePermissions rejects group/world-writable config files. The
// config may carry broker credentials.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
