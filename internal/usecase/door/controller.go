// Package door implements the per-door state machine. A controller ties one
// door's credential stream, sensor changes, inbound commands, and relock
// deadline to its lock actuator, and narrates everything it does onto the
// event bus.
//
// All state mutation happens on the controller's run goroutine; there is
// exactly one writer, so no decision is ever computed against a stale
// locked flag. The relock deadline callback only signals the run loop and
// never touches state itself.
package door

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"doorman/internal/adapter/lock"
	"doorman/internal/adapter/mqtt"
	"doorman/internal/domain"
	"doorman/internal/infra/clock"
	"doorman/internal/infra/config"
	"doorman/internal/usecase/access"
)

// Causes recorded on lock transition events. Sensor-triggered unlocks use
// the domain.SensorKind string instead.
const (
	causeCredential = "credential"
	causeRemote     = "remote"
	causeDeadline   = "deadline"
)

const defaultRelockAfter = 5 * time.Second

// Deps holds injected dependencies for a controller.
type Deps struct {
	Policy  *access.Policy
	Lock    lock.Actuator // optional, nil = monitor-only door
	Backend mqtt.Backend
	Bus     domain.EventBus
	Clock   clock.Clock // optional, nil = system clock
	Log     *slog.Logger
}

// Controller owns one door's state.
type Controller struct {
	id            string
	requiredLevel domain.AccessLevel
	relockAfter   time.Duration
	deps          Deps

	mu    sync.Mutex
	state domain.DoorState

	// Owned by the run goroutine after Start.
	creds      <-chan domain.Credential
	sensors    <-chan domain.StateChange
	commands   <-chan mqtt.Message
	deadline   *clock.Timer
	graceUntil time.Time

	relockC chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a controller for one configured door. The credential and
// sensor channels may be nil when the door has no reader or no sensors
// wired; those select arms simply never fire.
func New(cfg config.DoorConfig, creds <-chan domain.Credential, sensors <-chan domain.StateChange, deps Deps) (*Controller, error) {
	level, err := domain.ParseAccessLevel(cfg.RequiredLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: door %s: %w", domain.ErrInvalidConfig, cfg.ID, err)
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	relockAfter := cfg.RelockAfter
	if relockAfter <= 0 {
		relockAfter = defaultRelockAfter
	}

	c := &Controller{
		id:            cfg.ID,
		requiredLevel: level,
		relockAfter:   relockAfter,
		deps:          deps,
		creds:         creds,
		sensors:       sensors,
		relockC:       make(chan struct{}, 1),
	}

	// Actuators boot locked; a monitor-only door is reported locked too.
	locked := true
	if deps.Lock != nil {
		locked = deps.Lock.State()
	}
	c.state = domain.DoorState{DoorID: cfg.ID, Locked: locked}
	return c, nil
}

// DoorID returns the configured door identifier.
func (c *Controller) DoorID() string { return c.id }

// Status returns a copy of the current door snapshot.
func (c *Controller) Status() domain.DoorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start subscribes to the command topic and launches the run loop, then
// publishes an initial snapshot so subscribers see the door come up.
func (c *Controller) Start(ctx context.Context) error {
	cmds, err := c.deps.Backend.Subscribe(ctx, mqtt.CommandTopic(c.id))
	if err != nil {
		return fmt.Errorf("subscribe commands for door %s: %w", c.id, err)
	}
	c.commands = cmds

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.run(runCtx)

	if err := c.PublishStatus(ctx); err != nil {
		c.deps.Log.Warn("initial status publish failed", "door", c.id, "error", err)
	}
	return nil
}

// Stop halts the run loop and drops the command subscription. The actuator
// keeps its current state; closing it is the supervisor's job.
func (c *Controller) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.wg.Wait()
	if c.deadline != nil {
		c.deadline.Stop()
	}
	if err := c.deps.Backend.Unsubscribe(mqtt.CommandTopic(c.id)); err != nil {
		c.deps.Log.Debug("command unsubscribe failed", "door", c.id, "error", err)
	}
}

// PublishStatus emits the current snapshot as a door.state event. Safe from
// any goroutine; the heartbeat calls it directly.
func (c *Controller) PublishStatus(ctx context.Context) error {
	data, err := c.Status().StatusJSON()
	if err != nil {
		return fmt.Errorf("render status for door %s: %w", c.id, err)
	}
	c.deps.Bus.Publish(ctx, domain.Event{
		Type:      domain.EventDoorState,
		Timestamp: c.deps.Clock.Now(),
		DoorID:    c.id,
		Payload:   data,
	})
	return nil
}

func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cred, ok := <-c.creds:
			if !ok {
				c.creds = nil
				continue
			}
			c.handleCredential(ctx, cred)
		case sc, ok := <-c.sensors:
			if !ok {
				c.sensors = nil
				continue
			}
			c.handleSensor(ctx, sc)
		case msg, ok := <-c.commands:
			if !ok {
				c.commands = nil
				continue
			}
			c.handleCommand(ctx, msg.Payload)
		case <-c.relockC:
			c.relockOnDeadline(ctx)
		}
	}
}

func (c *Controller) handleCredential(ctx context.Context, cred domain.Credential) {
	decision := c.deps.Policy.Evaluate(cred, c.requiredLevel)
	c.deps.Log.Info("access decision",
		"door", c.id,
		"card", cred.RawHex(),
		"granted", decision.Granted,
		"reason", decision.Reason,
	)

	c.mu.Lock()
	c.state.LastCard = cred.RawHex()
	c.state.LastEventTime = cred.ReadAt
	c.mu.Unlock()

	c.emit(ctx, domain.EventCardRead, cred.ReadAt, domain.NewCardReadPayload(c.id, cred, decision.Granted))

	// Holder lookup is only meaningful when the frame survived its parity
	// check; a corrupted frame could alias another card's raw value.
	holder := ""
	if cred.ParityValid {
		holder = c.deps.Policy.Holder(cred.Raw)
	}
	decType := domain.EventAccessDenied
	if decision.Granted {
		decType = domain.EventAccessGranted
	}
	c.emit(ctx, decType, cred.ReadAt, domain.AccessDecisionPayload{
		DoorID:    c.id,
		Card:      cred.RawHex(),
		Holder:    holder,
		Reason:    decision.Reason,
		Timestamp: cred.ReadAt.Unix(),
	})

	if decision.Granted {
		c.unlock(ctx, causeCredential, cred.ReadAt)
	}
	c.publishSnapshot(ctx)
}

func (c *Controller) handleSensor(ctx context.Context, sc domain.StateChange) {
	c.mu.Lock()
	switch sc.Kind {
	case domain.SensorDoor:
		c.state.DoorOpen = sc.State
	case domain.SensorProximity:
		c.state.ProximityDetected = sc.State
	case domain.SensorExitButton:
		c.state.ExitButtonPressed = sc.State
	}
	c.state.LastEventTime = sc.Timestamp
	c.mu.Unlock()

	c.deps.Log.Debug("sensor change", "door", c.id, "sensor", string(sc.Kind), "state", sc.State)
	c.emit(ctx, domain.EventSensorChange, sc.Timestamp, domain.NewSensorChangePayload(sc))

	// Exit paths unlock unconditionally; the door contact only reports.
	if sc.State && (sc.Kind == domain.SensorProximity || sc.Kind == domain.SensorExitButton) {
		c.unlock(ctx, string(sc.Kind), sc.Timestamp)
	}
	c.publishSnapshot(ctx)
}

func (c *Controller) handleCommand(ctx context.Context, payload []byte) {
	var cmd domain.CommandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil {
		c.deps.Log.Warn("bad command payload", "door", c.id, "error", err)
		return
	}
	now := c.deps.Clock.Now()
	c.emit(ctx, domain.EventCommandReceived, now, domain.CommandReceivedPayload{
		DoorID:    c.id,
		Action:    cmd.Action,
		Timestamp: now.Unix(),
	})

	switch cmd.Action {
	case "unlock":
		c.unlock(ctx, causeRemote, now)
		c.publishSnapshot(ctx)
	case "lock":
		c.remoteLock(ctx, now)
		c.publishSnapshot(ctx)
	case "status":
		c.publishSnapshot(ctx)
	default:
		c.deps.Log.Warn("command ignored", "door", c.id, "action", cmd.Action, "error", domain.ErrUnknownCommand)
	}
}

// unlock drives the actuator open if needed and opens a fresh relock grace
// window. Repeated triggers extend the window rather than stacking timers.
func (c *Controller) unlock(ctx context.Context, cause string, at time.Time) {
	if c.locked() {
		if err := c.setLockState(false); err != nil {
			c.deps.Log.Error("unlock actuation failed", "door", c.id, "cause", cause, "error", err)
			return
		}
		c.mu.Lock()
		c.state.Locked = false
		c.state.LastEventTime = at
		c.mu.Unlock()
		c.deps.Log.Info("door unlocked", "door", c.id, "cause", cause)
		c.emit(ctx, domain.EventDoorUnlocked, at, domain.LockTransitionPayload{
			DoorID:    c.id,
			Cause:     cause,
			Timestamp: at.Unix(),
		})
	}
	c.armRelock()
}

// remoteLock locks immediately and cancels any open grace window.
func (c *Controller) remoteLock(ctx context.Context, at time.Time) {
	if c.deadline != nil {
		c.deadline.Stop()
	}
	c.graceUntil = time.Time{}
	c.lockNow(ctx, causeRemote, at)
}

// relockOnDeadline re-locks when a grace window has expired. The signal may
// be stale: a remote lock can beat the deadline, and a later trigger can
// open a newer window whose own deadline will signal again.
func (c *Controller) relockOnDeadline(ctx context.Context) {
	if c.locked() {
		return
	}
	now := c.deps.Clock.Now()
	if now.Before(c.graceUntil) {
		return
	}
	if c.lockNow(ctx, causeDeadline, now) {
		c.publishSnapshot(ctx)
	}
}

// lockNow drives the actuator closed and records the transition. Returns
// false when the door was already locked or actuation failed.
func (c *Controller) lockNow(ctx context.Context, cause string, at time.Time) bool {
	if c.locked() {
		return false
	}
	if err := c.setLockState(true); err != nil {
		c.deps.Log.Error("lock actuation failed", "door", c.id, "cause", cause, "error", err)
		return false
	}
	c.mu.Lock()
	c.state.Locked = true
	c.state.LastEventTime = at
	c.mu.Unlock()
	c.deps.Log.Info("door locked", "door", c.id, "cause", cause)
	c.emit(ctx, domain.EventDoorLocked, at, domain.LockTransitionPayload{
		DoorID:    c.id,
		Cause:     cause,
		Timestamp: at.Unix(),
	})
	return true
}

// armRelock opens a fresh grace window, replacing any pending deadline.
// Runs on the run goroutine only.
func (c *Controller) armRelock() {
	if c.deadline != nil {
		c.deadline.Stop()
	}
	c.graceUntil = c.deps.Clock.Now().Add(c.relockAfter)
	c.deadline = c.deps.Clock.AfterFunc(c.relockAfter, c.queueRelock)
}

// queueRelock runs in the timer's goroutine. It only signals the run loop,
// never touches state, so the callback can never block.
func (c *Controller) queueRelock() {
	select {
	case c.relockC <- struct{}{}:
	default:
	}
}

func (c *Controller) locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Locked
}

func (c *Controller) setLockState(locked bool) error {
	if c.deps.Lock == nil {
		return nil
	}
	return c.deps.Lock.SetState(locked)
}

func (c *Controller) publishSnapshot(ctx context.Context) {
	if err := c.PublishStatus(ctx); err != nil {
		c.deps.Log.Warn("status publish failed", "door", c.id, "error", err)
	}
}

func (c *Controller) emit(ctx context.Context, typ domain.EventType, at time.Time, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.deps.Log.Error("event payload marshal failed", "door", c.id, "event", string(typ), "error", err)
		return
	}
	c.deps.Bus.Publish(ctx, domain.Event{
		Type:      typ,
		Timestamp: at,
		DoorID:    c.id,
		Payload:   data,
	})
}
