// Package sensor watches boolean inputs: door contacts, proximity
// detectors, exit buttons. A Monitor binds one GPIO line to a polarity and
// reports logical transitions; it does not know or care what the line
// means, the door controller gives the change its semantics.
package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"doorman/internal/adapter/gpio"
	"doorman/internal/domain"
	"doorman/internal/infra/clock"
	"doorman/internal/infra/config"
)

// edgeWait bounds each blocking wait so the goroutine notices cancellation.
const edgeWait = 50 * time.Millisecond

const changeQueueDepth = 8

// Monitor is an edge-triggered boolean sensor. On each edge it re-reads the
// settled line value and emits a StateChange only when the logical state
// actually moved, so contact bounce that lands back on the old level is
// absorbed without any timer.
type Monitor struct {
	doorID     string
	kind       domain.SensorKind
	line       int
	activeHigh bool
	backend    gpio.Backend
	clk        clock.Clock
	log        *slog.Logger

	last   bool // last observed logical state; owned by the watch goroutine after New
	out    chan domain.StateChange
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New claims the sensor's line for both edge directions and takes a first
// reading as the baseline observation. The pull bias follows the polarity:
// active-low inputs (the usual switch-to-ground wiring) are pulled up,
// active-high inputs pulled down, so a floating line always reads inactive.
func New(doorID string, kind domain.SensorKind, cfg config.SensorConfig, backend gpio.Backend, clk clock.Clock, log *slog.Logger) (*Monitor, error) {
	m := &Monitor{
		doorID:     doorID,
		kind:       kind,
		line:       cfg.Pin,
		activeHigh: !cfg.ActiveLow,
		backend:    backend,
		clk:        clk,
		log:        log,
		out:        make(chan domain.StateChange, changeQueueDepth),
	}

	bias := gpio.BiasPullUp
	if m.activeHigh {
		bias = gpio.BiasPullDown
	}
	consumer := fmt.Sprintf("%s-%s", doorID, kind)
	if err := backend.ArmEdgeDetection(cfg.Pin, gpio.EdgeBoth, bias, consumer); err != nil {
		return nil, domain.WrapOp("sensor.arm", err)
	}

	raw, err := backend.ReadValue(cfg.Pin)
	if err != nil {
		return nil, domain.WrapOp("sensor.read", err)
	}
	m.last = m.logical(raw)
	return m, nil
}

// Changes delivers logical transitions in observation order.
func (m *Monitor) Changes() <-chan domain.StateChange {
	return m.out
}

// Start launches the watch goroutine.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.watch(ctx)
}

// Stop cancels the watch goroutine and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) logical(raw int) bool {
	return (raw == 1) == m.activeHigh
}

func (m *Monitor) watch(ctx context.Context) {
	defer m.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		ok, err := m.backend.WaitForEdge(m.line, edgeWait)
		if err != nil {
			m.log.Error("edge wait failed, sensor dead",
				"door", m.doorID, "sensor", string(m.kind), "line", m.line, "error", err)
			return
		}
		if !ok {
			continue
		}

		raw, err := m.backend.ReadValue(m.line)
		if err != nil {
			m.log.Warn("sensor read failed",
				"door", m.doorID, "sensor", string(m.kind), "error", err)
			continue
		}
		logical := m.logical(raw)
		if logical == m.last {
			continue
		}
		m.last = logical

		sc := domain.StateChange{
			DoorID:    m.doorID,
			Kind:      m.kind,
			State:     logical,
			Timestamp: m.clk.Now(),
		}
		m.log.Debug("sensor change",
			"door", m.doorID, "sensor", string(m.kind), "state", logical)
		select {
		case m.out <- sc:
		case <-ctx.Done():
			return
		}
	}
}
