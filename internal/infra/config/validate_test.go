package config

import (
	"strings"
	"testing"
)

// validBase returns a config that passes validation, for tests to break
// one field at a time.
func validBase() *Config {
	cfg := Defaults()
	cfg.Doors = []DoorConfig{
		{
			ID:         "front-door",
			Reader:     ReaderConfig{D0Pin: 17, D1Pin: 27},
			DoorSensor: &SensorConfig{Pin: 22},
			Proximity:  &SensorConfig{Pin: 23},
			ExitButton: &SensorConfig{Pin: 24},
			Lock:       &LockConfig{Kind: "continuous", Pin: 25},
		},
	}
	cfg.AllowList = []AllowEntry{
		{Card: "0x1D397065", Levels: []string{"regular", "itar"}},
	}
	applyDoorDefaults(cfg)
	return cfg
}

func errorsContain(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected validation error containing %q, got nil", want)
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	for _, e := range ve.Errors {
		if strings.Contains(e, want) {
			return
		}
	}
	t.Errorf("no validation error contains %q, got:\n%s", want, strings.Join(ve.Errors, "\n"))
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	if err := Validate(validBase()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRequiresDoors(t *testing.T) {
	cfg := validBase()
	cfg.Doors = nil
	errorsContain(t, Validate(cfg), "at least one door")
}

func TestValidateRequiresBroker(t *testing.T) {
	cfg := validBase()
	cfg.MQTT.Broker = ""
	errorsContain(t, Validate(cfg), "mqtt.broker")
}

func TestValidateQoSRange(t *testing.T) {
	cfg := validBase()
	cfg.MQTT.QoS = 3
	errorsContain(t, Validate(cfg), "mqtt.qos")
}

func TestValidateHeartbeatInterval(t *testing.T) {
	cfg := validBase()
	cfg.Heartbeat.Interval = 0
	errorsContain(t, Validate(cfg), "heartbeat.interval")
}

func TestValidateDuplicateDoorID(t *testing.T) {
	cfg := validBase()
	second := cfg.Doors[0]
	second.Reader = ReaderConfig{D0Pin: 5, D1Pin: 6}
	second.DoorSensor, second.Proximity, second.ExitButton = nil, nil, nil
	second.Lock = nil
	cfg.Doors = append(cfg.Doors, second)
	applyDoorDefaults(cfg)
	errorsContain(t, Validate(cfg), "duplicate door id")
}

func TestValidateUnknownLevel(t *testing.T) {
	cfg := validBase()
	cfg.Doors[0].RequiredLevel = "vip"
	errorsContain(t, Validate(cfg), "required_level")
}

func TestValidateReaderPinsRequired(t *testing.T) {
	cfg := validBase()
	cfg.Doors[0].Reader.D1Pin = 0
	errorsContain(t, Validate(cfg), "d1_pin")
}

func TestValidateOverlappingPins(t *testing.T) {
	cfg := validBase()
	cfg.Doors[0].DoorSensor.Pin = 17 // collides with reader d0
	errorsContain(t, Validate(cfg), "already used")
}

func TestValidateOverlappingPinsAcrossDoors(t *testing.T) {
	cfg := validBase()
	cfg.Doors = append(cfg.Doors, DoorConfig{
		ID:     "back-door",
		Reader: ReaderConfig{D0Pin: 17, D1Pin: 6}, // d0 collides with front-door
	})
	applyDoorDefaults(cfg)
	errorsContain(t, Validate(cfg), "already used")
}

func TestValidateUnknownLockKind(t *testing.T) {
	cfg := validBase()
	cfg.Doors[0].Lock.Kind = "magnet"
	errorsContain(t, Validate(cfg), "lock.kind")
}

func TestValidateLatchingNeedsBothPins(t *testing.T) {
	cfg := validBase()
	cfg.Doors[0].Lock = &LockConfig{Kind: "latching", SetPin: 5}
	applyDoorDefaults(cfg)
	errorsContain(t, Validate(cfg), "unset_pin")
}

func TestValidateLatchingPinsMustDiffer(t *testing.T) {
	cfg := validBase()
	cfg.Doors[0].Lock = &LockConfig{Kind: "latching", SetPin: 5, UnsetPin: 5}
	applyDoorDefaults(cfg)
	errorsContain(t, Validate(cfg), "must differ")
}

func TestValidateStrikeNeedsPulsePins(t *testing.T) {
	cfg := validBase()
	cfg.Doors[0].Lock = &LockConfig{Kind: "strike"}
	applyDoorDefaults(cfg)
	errorsContain(t, Validate(cfg), "set_pin")
	errorsContain(t, Validate(cfg), "unset_pin")
}

func TestValidateContinuousNeedsPin(t *testing.T) {
	cfg := validBase()
	cfg.Doors[0].Lock = &LockConfig{Kind: "continuous"}
	applyDoorDefaults(cfg)
	errorsContain(t, Validate(cfg), "lock.pin")
}

func TestValidateAllowListBadCard(t *testing.T) {
	cfg := validBase()
	cfg.AllowList[0].Card = "not-a-card"
	errorsContain(t, Validate(cfg), "not a valid card")
}

func TestValidateAllowListDuplicateCard(t *testing.T) {
	cfg := validBase()
	// Same value in different notations is still a duplicate.
	cfg.AllowList = append(cfg.AllowList, AllowEntry{Card: "490303589", Levels: []string{"regular"}})
	errorsContain(t, Validate(cfg), "duplicate card")
}

func TestValidateAllowListEmptyLevels(t *testing.T) {
	cfg := validBase()
	cfg.AllowList[0].Levels = nil
	errorsContain(t, Validate(cfg), "levels must not be empty")
}

func TestValidateAllowListUnknownLevel(t *testing.T) {
	cfg := validBase()
	cfg.AllowList[0].Levels = []string{"regular", "cosmic"}
	errorsContain(t, Validate(cfg), `"cosmic"`)
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := validBase()
	cfg.MQTT.Broker = ""
	cfg.MQTT.QoS = 9
	cfg.Doors[0].RequiredLevel = "vip"

	err := Validate(cfg)
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) < 3 {
		t.Errorf("expected all 3 errors reported, got %d:\n%s", len(ve.Errors), err)
	}
}
