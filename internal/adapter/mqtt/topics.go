package mqtt

import "fmt"

// Topic layout is door/{doorID}/{suffix}. Sensor publications use the
// domain.SensorKind string as their suffix.

// CommandTopic is the per-door inbound command topic.
func CommandTopic(doorID string) string {
	return fmt.Sprintf("door/%s/command", doorID)
}

// StatusTopic carries full door state snapshots.
func StatusTopic(doorID string) string {
	return fmt.Sprintf("door/%s/status", doorID)
}

// CardReadTopic carries decoded card presentations.
func CardReadTopic(doorID string) string {
	return fmt.Sprintf("door/%s/card_read", doorID)
}

// SensorTopic carries one sensor's change publications.
func SensorTopic(doorID, suffix string) string {
	return fmt.Sprintf("door/%s/%s", doorID, suffix)
}
