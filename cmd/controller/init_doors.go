package main

import (
	"context"
	"log/slog"
	"sync"

	"doorman/internal/adapter/gpio"
	"doorman/internal/adapter/lock"
	"doorman/internal/adapter/mqtt"
	"doorman/internal/adapter/sensor"
	"doorman/internal/adapter/wiegand"
	"doorman/internal/domain"
	"doorman/internal/infra/clock"
	"doorman/internal/infra/config"
	"doorman/internal/usecase/access"
	"doorman/internal/usecase/door"
	"doorman/internal/usecase/eventbus"
)

const mergedSensorDepth = 16

// doorDeps carries the process-wide components every door shares.
type doorDeps struct {
	backend gpio.Backend
	policy  *access.Policy
	client  *mqtt.Client
	bus     *eventbus.Bus
	clk     clock.Clock
	log     *slog.Logger
}

// doorRuntime bundles one door's controller with the hardware goroutines
// feeding it.
type doorRuntime struct {
	ctl      *door.Controller
	decoder  *wiegand.Decoder
	monitors []*sensor.Monitor
	actuator lock.Actuator
	log      *slog.Logger

	merged chan domain.StateChange
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// buildDoors constructs and starts a runtime per configured door. A door
// that fails to come up is logged and skipped, so one miswired reader
// cannot take down the rest of the site.
func buildDoors(ctx context.Context, cfg *config.Config, deps doorDeps) []*doorRuntime {
	var doors []*doorRuntime
	for _, dc := range cfg.Doors {
		rt, err := buildDoor(dc, deps)
		if err != nil {
			deps.log.Error("door skipped, init failed", "door", dc.ID, "error", err)
			continue
		}
		if err := rt.start(ctx); err != nil {
			deps.log.Error("door skipped, start failed", "door", dc.ID, "error", err)
			rt.stop()
			continue
		}
		doors = append(doors, rt)
		deps.log.Info("door online",
			"door", dc.ID,
			"required_level", dc.RequiredLevel,
			"sensors", len(rt.monitors),
			"lock", rt.actuator != nil,
		)
	}
	return doors
}

func buildDoor(dc config.DoorConfig, deps doorDeps) (*doorRuntime, error) {
	rt := &doorRuntime{log: deps.log}

	// The reader is the door's reason to exist: an arming failure skips
	// the whole door.
	dec, err := wiegand.New(dc.ID, dc.Reader, deps.backend, deps.clk, deps.log)
	if err != nil {
		return nil, err
	}
	rt.decoder = dec

	// Sensors and the lock are optional equipment: failures degrade the
	// door instead of removing it.
	sensors := []struct {
		kind domain.SensorKind
		cfg  *config.SensorConfig
	}{
		{domain.SensorDoor, dc.DoorSensor},
		{domain.SensorProximity, dc.Proximity},
		{domain.SensorExitButton, dc.ExitButton},
	}
	for _, s := range sensors {
		if s.cfg == nil {
			continue
		}
		m, err := sensor.New(dc.ID, s.kind, *s.cfg, deps.backend, deps.clk, deps.log)
		if err != nil {
			deps.log.Warn("sensor disabled", "door", dc.ID, "sensor", string(s.kind), "error", err)
			continue
		}
		rt.monitors = append(rt.monitors, m)
	}

	if dc.Lock != nil {
		act, err := lock.New(dc.ID, *dc.Lock, deps.backend, deps.clk, deps.log)
		if err != nil {
			deps.log.Warn("lock disabled, door is monitor-only", "door", dc.ID, "error", err)
		} else {
			rt.actuator = act
		}
	}

	var sensorCh <-chan domain.StateChange
	if len(rt.monitors) > 0 {
		rt.merged = make(chan domain.StateChange, mergedSensorDepth)
		sensorCh = rt.merged
	}

	ctl, err := door.New(dc, dec.Credentials(), sensorCh, door.Deps{
		Policy:  deps.policy,
		Lock:    rt.actuator,
		Backend: deps.client,
		Bus:     deps.bus,
		Clock:   deps.clk,
		Log:     deps.log,
	})
	if err != nil {
		return nil, err
	}
	rt.ctl = ctl
	return rt, nil
}

// start brings up the producers, then the controller. Monitors feed one
// merged channel so the controller sees a single ordered sensor stream.
func (rt *doorRuntime) start(ctx context.Context) error {
	ctx, rt.cancel = context.WithCancel(ctx)

	rt.decoder.Start(ctx)
	for _, m := range rt.monitors {
		m.Start(ctx)
		rt.wg.Add(1)
		go rt.forward(ctx, m)
	}
	return rt.ctl.Start(ctx)
}

func (rt *doorRuntime) forward(ctx context.Context, m *sensor.Monitor) {
	defer rt.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sc := <-m.Changes():
			select {
			case rt.merged <- sc:
			case <-ctx.Done():
				return
			}
		}
	}
}

// stop tears the runtime down: controller first so nothing consumes,
// then the producers, then the actuator.
func (rt *doorRuntime) stop() {
	if rt.ctl != nil {
		rt.ctl.Stop()
	}
	if rt.cancel != nil {
		rt.cancel()
	}
	rt.decoder.Stop()
	for _, m := range rt.monitors {
		m.Stop()
	}
	rt.wg.Wait()
	if rt.actuator != nil {
		if err := rt.actuator.Close(); err != nil {
			rt.log.Warn("actuator close failed", "error", err)
		}
	}
}

func stopDoors(doors []*doorRuntime) {
	for _, rt := range doors {
		rt.stop()
	}
}
