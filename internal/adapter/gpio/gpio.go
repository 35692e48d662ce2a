// Package gpio abstracts digital line access so door hardware can be
// driven by real pins on edge builds and by a simulated chip everywhere
// else. Lines are addressed by BCM number.
package gpio

import "time"

// Edge identifies a line transition direction.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	default:
		return "none"
	}
}

// Bias selects the input bias resistor applied when arming a line.
type Bias int

const (
	BiasNone Bias = iota
	BiasPullUp
	BiasPullDown
)

func (b Bias) String() string {
	switch b {
	case BiasPullUp:
		return "pull-up"
	case BiasPullDown:
		return "pull-down"
	default:
		return "none"
	}
}

// Backend is the line-level capability consumed by readers, sensors and
// lock actuators. Implementations must support several lines armed
// concurrently. WaitForEdge is a bounded wait: callers loop on it and
// check their own cancellation between calls.
type Backend interface {
	// ReadValue returns the current level of a line (0 or 1).
	ReadValue(line int) (int, error)

	// WriteValue drives an output line to the given level (0 or 1).
	WriteValue(line, value int) error

	// ArmEdgeDetection configures a line as an input watching for the
	// given edges. The consumer label names the claiming component; it
	// is recorded by simulated chips and ignored by hardware drivers.
	ArmEdgeDetection(line int, edge Edge, bias Bias, consumer string) error

	// WaitForEdge blocks until an armed edge occurs on the line or the
	// timeout elapses. It returns true if an edge was detected.
	WaitForEdge(line int, timeout time.Duration) (bool, error)

	// ReadEdgeType reports the direction of the most recent edge on an
	// armed line.
	ReadEdgeType(line int) (Edge, error)
}
