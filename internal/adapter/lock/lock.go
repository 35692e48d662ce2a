// Package lock drives door locking hardware. Three actuator variants sit
// behind one interface: a continuously driven output for maglocks, a
// set/unset pulse pair for latching relays, and a timed strike that
// re-locks itself after a hold-open window. The variant is chosen from
// config at construction; every one boots by driving the hardware to
// locked so the reported state is true from the first moment.
package lock

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"doorman/internal/adapter/gpio"
	"doorman/internal/domain"
	"doorman/internal/infra/clock"
	"doorman/internal/infra/config"
)

// Actuator is a logical lock output.
type Actuator interface {
	// SetState drives the hardware toward the requested state. On error
	// the logical state is left as it was and the physical lock must be
	// assumed unchanged.
	SetState(locked bool) error
	// State returns the last commanded state, never a sensed one.
	State() bool
	// Close stops internal timers and goroutines. The hardware keeps
	// whatever state it last reached.
	Close() error
}

// New builds the actuator variant selected by cfg and drives it to locked.
func New(doorID string, cfg config.LockConfig, backend gpio.Backend, clk clock.Clock, log *slog.Logger) (Actuator, error) {
	switch cfg.Kind {
	case "continuous":
		return newContinuous(cfg, backend)
	case "latching":
		return newLatching(cfg, backend, clk)
	case "strike":
		return newStrike(doorID, cfg, backend, clk, log)
	default:
		return nil, fmt.Errorf("%w: unknown lock kind %q", domain.ErrInvalidConfig, cfg.Kind)
	}
}

// continuousDrive holds one output line at the level mapped from the
// logical state: locked drives the line active, inverted when active-low.
type continuousDrive struct {
	mu        sync.Mutex
	backend   gpio.Backend
	line      int
	activeLow bool
	locked    bool
}

func newContinuous(cfg config.LockConfig, backend gpio.Backend) (*continuousDrive, error) {
	c := &continuousDrive{backend: backend, line: cfg.Pin, activeLow: cfg.ActiveLow}
	if err := c.SetState(true); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *continuousDrive) SetState(locked bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	level := 0
	if locked != c.activeLow {
		level = 1
	}
	if err := c.backend.WriteValue(c.line, level); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrActuation, err)
	}
	c.locked = locked
	return nil
}

func (c *continuousDrive) State() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

func (c *continuousDrive) Close() error { return nil }

// pulser strobes one of a set/unset line pair high for a fixed width.
// Callers serialize access.
type pulser struct {
	backend   gpio.Backend
	clk       clock.Clock
	setLine   int // pulse to lock
	unsetLine int // pulse to unlock
	width     time.Duration
}

func (p pulser) drive(locked bool) error {
	line := p.unsetLine
	if locked {
		line = p.setLine
	}
	if err := p.backend.WriteValue(line, 1); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrActuation, err)
	}
	p.clk.Sleep(p.width)
	// A line stuck high keeps the relay coil energized, so the trailing
	// write failing is as bad as the leading one.
	if err := p.backend.WriteValue(line, 0); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrActuation, err)
	}
	return nil
}

// latchingPulse drives a latching relay. The relay holds its position
// without drive and gives no feedback, so the logical state lives purely
// in software. The relay can sit in either position after a power cycle;
// construction pulses it to locked to establish a known state.
type latchingPulse struct {
	mu sync.Mutex
	pulser
	locked bool
}

func newLatching(cfg config.LockConfig, backend gpio.Backend, clk clock.Clock) (*latchingPulse, error) {
	l := &latchingPulse{pulser: pulser{
		backend:   backend,
		clk:       clk,
		setLine:   cfg.SetPin,
		unsetLine: cfg.UnsetPin,
		width:     cfg.PulseWidth,
	}}
	if err := l.SetState(true); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *latchingPulse) SetState(locked bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if locked == l.locked {
		return nil
	}
	if err := l.drive(locked); err != nil {
		return err
	}
	l.locked = locked
	return nil
}

func (l *latchingPulse) State() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

func (l *latchingPulse) Close() error { return nil }
