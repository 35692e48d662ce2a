package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateMQTT(cfg, ve)
	validateDatabase(cfg, ve)
	validateHeartbeat(cfg, ve)
	validateDoors(cfg, ve)
	validateAllowList(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateMQTT(cfg *Config, ve *ValidationError) {
	if cfg.MQTT.Broker == "" {
		ve.Add("mqtt.broker must not be empty (set via DOORMAN_MQTT_BROKER)")
	}
	if cfg.MQTT.ClientID == "" {
		ve.Add("mqtt.client_id must not be empty")
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		ve.Add("mqtt.qos must be 0, 1 or 2 (got %d)", cfg.MQTT.QoS)
	}
	if cfg.MQTT.ConnectTimeout <= 0 {
		ve.Add("mqtt.connect_timeout must be > 0")
	}
}

func validateDatabase(cfg *Config, ve *ValidationError) {
	if cfg.Database.Path == "" {
		ve.Add("database.path must not be empty (set via DOORMAN_DB_PATH)")
	}
	if cfg.Database.RetentionDays < 0 {
		ve.Add("database.retention_days must be >= 0")
	}
}

func validateHeartbeat(cfg *Config, ve *ValidationError) {
	if cfg.Heartbeat.Enabled && cfg.Heartbeat.Interval <= 0 {
		ve.Add("heartbeat.interval must be > 0 when heartbeat is enabled")
	}
}

var validAccessLevels = map[string]bool{
	"regular":          true,
	"itar":             true,
	"itar_server_room": true,
}

var validLockKinds = map[string]bool{
	"continuous": true,
	"latching":   true,
	"strike":     true,
}

func validateDoors(cfg *Config, ve *ValidationError) {
	if len(cfg.Doors) == 0 {
		ve.Add("doors: at least one door must be configured")
		return
	}

	seenIDs := make(map[string]bool)
	// One controller, one GPIO header: a pin claimed twice is a wiring
	// mistake regardless of which doors claim it.
	usedPins := make(map[int]string)
	claimPin := func(pin int, where string) {
		if prev, ok := usedPins[pin]; ok {
			ve.Add("%s: pin %d already used by %s", where, pin, prev)
			return
		}
		usedPins[pin] = where
	}

	for i, d := range cfg.Doors {
		if d.ID == "" {
			ve.Add("doors[%d].id must not be empty", i)
		} else if seenIDs[d.ID] {
			ve.Add("doors[%d]: duplicate door id %q", i, d.ID)
		}
		seenIDs[d.ID] = true

		if !validAccessLevels[d.RequiredLevel] {
			ve.Add("doors[%d].required_level %q is invalid (want: regular, itar, itar_server_room)", i, d.RequiredLevel)
		}

		if d.Reader.D0Pin <= 0 {
			ve.Add("doors[%d].reader.d0_pin must be set", i)
		} else {
			claimPin(d.Reader.D0Pin, fmt.Sprintf("doors[%d].reader.d0_pin", i))
		}
		if d.Reader.D1Pin <= 0 {
			ve.Add("doors[%d].reader.d1_pin must be set", i)
		} else {
			claimPin(d.Reader.D1Pin, fmt.Sprintf("doors[%d].reader.d1_pin", i))
		}

		sensors := []struct {
			name string
			cfg  *SensorConfig
		}{
			{"door_sensor", d.DoorSensor},
			{"proximity", d.Proximity},
			{"exit_button", d.ExitButton},
		}
		for _, s := range sensors {
			if s.cfg == nil {
				continue
			}
			if s.cfg.Pin <= 0 {
				ve.Add("doors[%d].%s.pin must be set", i, s.name)
				continue
			}
			claimPin(s.cfg.Pin, fmt.Sprintf("doors[%d].%s.pin", i, s.name))
		}

		if d.Lock != nil {
			validateLock(i, d.Lock, ve, claimPin)
		}
	}
}

func validateLock(i int, l *LockConfig, ve *ValidationError, claimPin func(int, string)) {
	if !validLockKinds[l.Kind] {
		ve.Add("doors[%d].lock.kind %q is invalid (want: continuous, latching, strike)", i, l.Kind)
		return
	}
	switch l.Kind {
	case "latching", "strike":
		if l.SetPin <= 0 {
			ve.Add("doors[%d].lock.set_pin must be set for %s locks", i, l.Kind)
		} else {
			claimPin(l.SetPin, fmt.Sprintf("doors[%d].lock.set_pin", i))
		}
		if l.UnsetPin <= 0 {
			ve.Add("doors[%d].lock.unset_pin must be set for %s locks", i, l.Kind)
		} else if l.UnsetPin == l.SetPin {
			ve.Add("doors[%d].lock.unset_pin must differ from set_pin", i)
		} else {
			claimPin(l.UnsetPin, fmt.Sprintf("doors[%d].lock.unset_pin", i))
		}
	default:
		if l.Pin <= 0 {
			ve.Add("doors[%d].lock.pin must be set for continuous locks", i)
		} else {
			claimPin(l.Pin, fmt.Sprintf("doors[%d].lock.pin", i))
		}
	}
}

func validateAllowList(cfg *Config, ve *ValidationError) {
	seen := make(map[uint64]bool)
	for i, e := range cfg.AllowList {
		card, err := ParseCard(e.Card)
		if err != nil {
			ve.Add("allowlist[%d].card %q is not a valid card value", i, e.Card)
			continue
		}
		if seen[card] {
			ve.Add("allowlist[%d]: duplicate card %s", i, e.Card)
		}
		seen[card] = true

		if len(e.Levels) == 0 {
			ve.Add("allowlist[%d] (%s): levels must not be empty", i, e.Card)
		}
		for _, lvl := range e.Levels {
			if !validAccessLevels[lvl] {
				ve.Add("allowlist[%d] (%s): level %q is invalid (want: regular, itar, itar_server_room)", i, e.Card, lvl)
			}
		}
	}
}
