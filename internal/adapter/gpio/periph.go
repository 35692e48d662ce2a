//go:build edge

package gpio

import (
	"fmt"
	"sync"
	"time"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"doorman/internal/domain"
)

// PeriphBackend drives real hardware lines through periph.io.
type PeriphBackend struct {
	mu    sync.Mutex
	pins  map[int]pgpio.PinIO // cached pin handles
	armed map[int]Edge        // edge mask per armed line
}

// NewPeriph initializes the periph.io host and returns a hardware backend.
func NewPeriph() (*PeriphBackend, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return &PeriphBackend{
		pins:  make(map[int]pgpio.PinIO),
		armed: make(map[int]Edge),
	}, nil
}

// resolve looks up a GPIO pin by BCM number, caching the result.
func (b *PeriphBackend) resolve(line int) (pgpio.PinIO, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.pins[line]; ok {
		return p, nil
	}

	name := fmt.Sprintf("GPIO%d", line)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrNoSuchLine)
	}
	b.pins[line] = p
	return p, nil
}

func (b *PeriphBackend) ReadValue(line int) (int, error) {
	p, err := b.resolve(line)
	if err != nil {
		return 0, err
	}
	if p.Read() == pgpio.High {
		return 1, nil
	}
	return 0, nil
}

func (b *PeriphBackend) WriteValue(line, value int) error {
	p, err := b.resolve(line)
	if err != nil {
		return err
	}
	level := pgpio.Low
	if value != 0 {
		level = pgpio.High
	}
	if err := p.Out(level); err != nil {
		return fmt.Errorf("drive line %d: %w", line, err)
	}
	return nil
}

// ArmEdgeDetection configures the line as an edge-watched input. The
// consumer label has no hardware equivalent here and is ignored.
func (b *PeriphBackend) ArmEdgeDetection(line int, edge Edge, bias Bias, _ string) error {
	p, err := b.resolve(line)
	if err != nil {
		return err
	}
	if err := p.In(periphPull(bias), periphEdge(edge)); err != nil {
		return fmt.Errorf("arm line %d: %w", line, err)
	}
	b.mu.Lock()
	b.armed[line] = edge
	b.mu.Unlock()
	return nil
}

func (b *PeriphBackend) WaitForEdge(line int, timeout time.Duration) (bool, error) {
	b.mu.Lock()
	_, ok := b.armed[line]
	b.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("line %d: %w", line, domain.ErrLineNotArmed)
	}
	p, err := b.resolve(line)
	if err != nil {
		return false, err
	}
	return p.WaitForEdge(timeout), nil
}

// ReadEdgeType reports the direction of the last edge. Lines armed for a
// single direction report that direction; lines armed for both infer it
// from the settled level.
func (b *PeriphBackend) ReadEdgeType(line int) (Edge, error) {
	b.mu.Lock()
	mask, ok := b.armed[line]
	b.mu.Unlock()
	if !ok {
		return EdgeNone, fmt.Errorf("line %d: %w", line, domain.ErrLineNotArmed)
	}
	if mask == EdgeRising || mask == EdgeFalling {
		return mask, nil
	}
	p, err := b.resolve(line)
	if err != nil {
		return EdgeNone, err
	}
	if p.Read() == pgpio.High {
		return EdgeRising, nil
	}
	return EdgeFalling, nil
}

func periphEdge(e Edge) pgpio.Edge {
	switch e {
	case EdgeRising:
		return pgpio.RisingEdge
	case EdgeFalling:
		return pgpio.FallingEdge
	case EdgeBoth:
		return pgpio.BothEdges
	default:
		return pgpio.NoEdge
	}
}

func periphPull(b Bias) pgpio.Pull {
	switch b {
	case BiasPullUp:
		return pgpio.PullUp
	case BiasPullDown:
		return pgpio.PullDown
	default:
		return pgpio.Float
	}
}
