package domain

import (
	"encoding/json"
	"time"
)

// LockCommand is a logical lock request delivered to an actuator.
type LockCommand int

const (
	CommandLock LockCommand = iota
	CommandUnlock
)

func (c LockCommand) String() string {
	if c == CommandUnlock {
		return "unlock"
	}
	return "lock"
}

// SensorKind names a monitored boolean input. The value doubles as the
// MQTT topic suffix for that sensor's change publications.
type SensorKind string

const (
	SensorDoor       SensorKind = "door_sensor"
	SensorProximity  SensorKind = "proximity"
	SensorExitButton SensorKind = "exit_button"
)

// StateChange is one logical sensor transition.
type StateChange struct {
	DoorID    string
	Kind      SensorKind
	State     bool
	Timestamp time.Time
}

// SensorChangePayload is the wire form published on a sensor topic.
type SensorChangePayload struct {
	Type      string `json:"type"`
	DoorID    string `json:"door_id"`
	State     bool   `json:"state"`
	Timestamp int64  `json:"timestamp"`
}

// NewSensorChangePayload assembles the publication for one sensor transition.
func NewSensorChangePayload(sc StateChange) SensorChangePayload {
	return SensorChangePayload{
		Type:      string(sc.Kind) + "_change",
		DoorID:    sc.DoorID,
		State:     sc.State,
		Timestamp: sc.Timestamp.Unix(),
	}
}

// DoorState is the full state snapshot of one door. It has exactly one
// writer: the door controller, which serializes every mutation.
type DoorState struct {
	DoorID            string
	Locked            bool
	DoorOpen          bool
	ProximityDetected bool
	ExitButtonPressed bool
	LastCard          string
	LastEventTime     time.Time
}

// StatusJSON renders the snapshot in the wire form published on the status
// topic. LastEventTime is epoch seconds; zero time renders as 0.
func (s DoorState) StatusJSON() ([]byte, error) {
	var last int64
	if !s.LastEventTime.IsZero() {
		last = s.LastEventTime.Unix()
	}
	return json.Marshal(struct {
		Locked            bool   `json:"locked"`
		Open              bool   `json:"open"`
		ProximityDetected bool   `json:"proximityDetected"`
		ExitButtonPressed bool   `json:"exitButtonPressed"`
		LastCard          string `json:"lastCard"`
		LastEventTime     int64  `json:"lastEventTime"`
	}{
		Locked:            s.Locked,
		Open:              s.DoorOpen,
		ProximityDetected: s.ProximityDetected,
		ExitButtonPressed: s.ExitButtonPressed,
		LastCard:          s.LastCard,
		LastEventTime:     last,
	})
}

// CommandPayload is the wire form consumed from the command topic.
type CommandPayload struct {
	Action string `json:"action"` // "lock" | "unlock" | "status"
}

// LockTransitionPayload is the detail attached to door.locked and
// door.unlocked events. Cause names the trigger: "credential", "remote",
// "proximity", "exit_button", or "deadline".
type LockTransitionPayload struct {
	DoorID    string `json:"door_id"`
	Cause     string `json:"cause"`
	Timestamp int64  `json:"timestamp"`
}

// CommandReceivedPayload is the detail attached to command.received events.
type CommandReceivedPayload struct {
	DoorID    string `json:"door_id"`
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
}
