package door

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"doorman/internal/adapter/mqtt"
	"doorman/internal/domain"
	"doorman/internal/infra/clock"
	"doorman/internal/infra/config"
	"doorman/internal/usecase/access"
)

const (
	testDoorID = "front-door"
	testRelock = 5 * time.Second
)

// captureBus records published events in publish order. The controller
// publishes from its run goroutine, so channel order is event order.
type captureBus struct {
	ch chan domain.Event
}

func newCaptureBus() *captureBus {
	return &captureBus{ch: make(chan domain.Event, 128)}
}

func (b *captureBus) Publish(_ context.Context, e domain.Event) { b.ch <- e }

func (b *captureBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }

func (b *captureBus) SubscribeAll(domain.EventHandler) func() { return func() {} }

func (b *captureBus) Close() {}

type fakeActuator struct {
	mu     sync.Mutex
	locked bool
	calls  int
	fail   error
}

func (a *fakeActuator) SetState(locked bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.fail != nil {
		return a.fail
	}
	a.locked = locked
	return nil
}

func (a *fakeActuator) State() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locked
}

func (a *fakeActuator) Close() error { return nil }

func (a *fakeActuator) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type statusWire struct {
	Locked            bool   `json:"locked"`
	Open              bool   `json:"open"`
	ProximityDetected bool   `json:"proximityDetected"`
	ExitButtonPressed bool   `json:"exitButtonPressed"`
	LastCard          string `json:"lastCard"`
	LastEventTime     int64  `json:"lastEventTime"`
}

type fixture struct {
	t       *testing.T
	fc      *clock.FakeClock
	bus     *captureBus
	mock    *mqtt.Mock
	act     *fakeActuator
	creds   chan domain.Credential
	sensors chan domain.StateChange
	c       *Controller
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolicy() *access.Policy {
	return access.NewPolicy([]domain.AllowListEntry{
		{
			CardRaw: 0x1D397065,
			Levels:  []domain.AccessLevel{domain.LevelRegular, domain.LevelItar, domain.LevelItarServerRoom},
			Holder:  "R. Daneel",
		},
	})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t:       t,
		fc:      clock.NewFake(time.Unix(1700000000, 0)),
		bus:     newCaptureBus(),
		mock:    mqtt.NewMock(),
		act:     &fakeActuator{locked: true},
		creds:   make(chan domain.Credential, 4),
		sensors: make(chan domain.StateChange, 4),
	}

	cfg := config.DoorConfig{ID: testDoorID, RequiredLevel: "regular", RelockAfter: testRelock}
	c, err := New(cfg, f.creds, f.sensors, Deps{
		Policy:  testPolicy(),
		Lock:    f.act,
		Backend: f.mock,
		Bus:     f.bus,
		Clock:   f.fc,
		Log:     discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(c.Stop)
	f.c = c

	// Start publishes the boot snapshot before returning.
	if st := f.status(f.expectEvent(domain.EventDoorState)); !st.Locked {
		t.Fatal("door should come up locked")
	}
	return f
}

func (f *fixture) nextEvent() domain.Event {
	f.t.Helper()
	select {
	case e := <-f.bus.ch:
		return e
	case <-time.After(2 * time.Second):
		f.t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func (f *fixture) expectEvent(typ domain.EventType) domain.Event {
	f.t.Helper()
	e := f.nextEvent()
	if e.Type != typ {
		f.t.Fatalf("event = %s, want %s", e.Type, typ)
	}
	return e
}

func (f *fixture) expectNoEvent() {
	f.t.Helper()
	select {
	case e := <-f.bus.ch:
		f.t.Fatalf("unexpected event %s: %s", e.Type, e.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func (f *fixture) status(e domain.Event) statusWire {
	f.t.Helper()
	var st statusWire
	if err := json.Unmarshal(e.Payload, &st); err != nil {
		f.t.Fatalf("unmarshal status: %v", err)
	}
	return st
}

func (f *fixture) swipe(raw uint64, parityValid bool) {
	f.creds <- domain.Credential{Raw: raw, BitLength: 34, ParityValid: parityValid, ReadAt: f.fc.Now()}
}

func (f *fixture) command(action string) {
	f.t.Helper()
	payload := fmt.Sprintf(`{"action":%q}`, action)
	if err := f.mock.Publish(context.Background(), mqtt.CommandTopic(testDoorID), []byte(payload), 1, false); err != nil {
		f.t.Fatalf("publish command: %v", err)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	cfg := config.DoorConfig{ID: "d", RequiredLevel: "cosmic"}
	_, err := New(cfg, nil, nil, Deps{Policy: testPolicy(), Backend: mqtt.NewMock(), Bus: newCaptureBus(), Log: discardLogger()})
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

type failingBackend struct {
	mqtt.Backend
}

func (failingBackend) Subscribe(context.Context, string) (<-chan mqtt.Message, error) {
	return nil, domain.ErrBusUnavailable
}

func TestStartSubscribeFailure(t *testing.T) {
	cfg := config.DoorConfig{ID: "d", RequiredLevel: "regular"}
	c, err := New(cfg, nil, nil, Deps{Policy: testPolicy(), Backend: failingBackend{}, Bus: newCaptureBus(), Log: discardLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, domain.ErrBusUnavailable) {
		t.Fatalf("Start err = %v, want ErrBusUnavailable", err)
	}
}

func TestGrantedCredentialUnlocks(t *testing.T) {
	f := newFixture(t)

	f.swipe(0x1D397065, true)

	read := f.expectEvent(domain.EventCardRead)
	var cr domain.CardReadPayload
	if err := json.Unmarshal(read.Payload, &cr); err != nil {
		t.Fatalf("unmarshal card_read: %v", err)
	}
	if cr.DoorID != testDoorID || cr.Card.Raw != "0x01d397065" || !cr.Access.Granted {
		t.Fatalf("card_read payload = %+v", cr)
	}

	grant := f.expectEvent(domain.EventAccessGranted)
	var dec domain.AccessDecisionPayload
	if err := json.Unmarshal(grant.Payload, &dec); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}
	if dec.Holder != "R. Daneel" || dec.Reason != "level regular granted" {
		t.Fatalf("decision payload = %+v", dec)
	}

	unlocked := f.expectEvent(domain.EventDoorUnlocked)
	var tr domain.LockTransitionPayload
	if err := json.Unmarshal(unlocked.Payload, &tr); err != nil {
		t.Fatalf("unmarshal transition: %v", err)
	}
	if tr.Cause != "credential" {
		t.Fatalf("cause = %q, want credential", tr.Cause)
	}

	st := f.status(f.expectEvent(domain.EventDoorState))
	if st.Locked || st.LastCard != "0x01d397065" {
		t.Fatalf("status = %+v", st)
	}
	if f.act.State() {
		t.Fatal("actuator still locked after grant")
	}
}

func TestDeniedCredentialStaysLocked(t *testing.T) {
	f := newFixture(t)

	f.swipe(0xFFFFFFFF, true)

	f.expectEvent(domain.EventCardRead)
	denied := f.expectEvent(domain.EventAccessDenied)
	var dec domain.AccessDecisionPayload
	if err := json.Unmarshal(denied.Payload, &dec); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}
	if dec.Reason != "card not in allow list" {
		t.Fatalf("reason = %q", dec.Reason)
	}

	if st := f.status(f.expectEvent(domain.EventDoorState)); !st.Locked {
		t.Fatal("denied swipe unlocked the door")
	}
	f.expectNoEvent()
	if f.act.callCount() != 0 {
		t.Fatal("denied swipe touched the actuator")
	}
	if n := f.fc.PendingCount(); n != 0 {
		t.Fatalf("pending timers = %d, want 0", n)
	}
}

func TestParityMismatchDenied(t *testing.T) {
	f := newFixture(t)

	// Listed card, corrupted frame.
	f.swipe(0x1D397065, false)

	f.expectEvent(domain.EventCardRead)
	denied := f.expectEvent(domain.EventAccessDenied)
	var dec domain.AccessDecisionPayload
	if err := json.Unmarshal(denied.Payload, &dec); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}
	if dec.Reason != "parity mismatch" {
		t.Fatalf("reason = %q, want parity mismatch", dec.Reason)
	}
	if dec.Holder != "" {
		t.Fatalf("holder = %q, want empty for a corrupted frame", dec.Holder)
	}
	if st := f.status(f.expectEvent(domain.EventDoorState)); !st.Locked {
		t.Fatal("parity-invalid frame unlocked the door")
	}
}

func TestRelockDeadline(t *testing.T) {
	f := newFixture(t)

	f.swipe(0x1D397065, true)
	f.expectEvent(domain.EventCardRead)
	f.expectEvent(domain.EventAccessGranted)
	f.expectEvent(domain.EventDoorUnlocked)
	f.expectEvent(domain.EventDoorState)

	if n := f.fc.PendingCount(); n != 1 {
		t.Fatalf("pending timers = %d, want 1 relock deadline", n)
	}

	f.fc.Advance(testRelock)

	locked := f.expectEvent(domain.EventDoorLocked)
	var tr domain.LockTransitionPayload
	if err := json.Unmarshal(locked.Payload, &tr); err != nil {
		t.Fatalf("unmarshal transition: %v", err)
	}
	if tr.Cause != "deadline" {
		t.Fatalf("cause = %q, want deadline", tr.Cause)
	}
	if st := f.status(f.expectEvent(domain.EventDoorState)); !st.Locked {
		t.Fatal("deadline fired but status still unlocked")
	}
	if !f.act.State() {
		t.Fatal("actuator not re-locked")
	}
}

func TestRepeatedGrantExtendsWindow(t *testing.T) {
	f := newFixture(t)

	f.swipe(0x1D397065, true)
	f.expectEvent(domain.EventCardRead)
	f.expectEvent(domain.EventAccessGranted)
	f.expectEvent(domain.EventDoorUnlocked)
	f.expectEvent(domain.EventDoorState)

	f.fc.Advance(3 * time.Second)

	// Second grant while unlocked: no transition, fresh window.
	f.swipe(0x1D397065, true)
	f.expectEvent(domain.EventCardRead)
	f.expectEvent(domain.EventAccessGranted)
	f.expectEvent(domain.EventDoorState)

	// The original deadline would have fired here.
	f.fc.Advance(2 * time.Second)
	f.expectNoEvent()
	if f.c.Status().Locked {
		t.Fatal("door re-locked before the extended window expired")
	}

	f.fc.Advance(3 * time.Second)
	f.expectEvent(domain.EventDoorLocked)
	if st := f.status(f.expectEvent(domain.EventDoorState)); !st.Locked {
		t.Fatal("extended window expired but door still unlocked")
	}
}

func TestRemoteUnlockThenLockRace(t *testing.T) {
	f := newFixture(t)

	f.command("unlock")
	f.expectEvent(domain.EventCommandReceived)
	f.expectEvent(domain.EventDoorUnlocked)
	f.expectEvent(domain.EventDoorState)

	f.command("lock")
	f.expectEvent(domain.EventCommandReceived)
	locked := f.expectEvent(domain.EventDoorLocked)
	var tr domain.LockTransitionPayload
	if err := json.Unmarshal(locked.Payload, &tr); err != nil {
		t.Fatalf("unmarshal transition: %v", err)
	}
	if tr.Cause != "remote" {
		t.Fatalf("cause = %q, want remote", tr.Cause)
	}
	f.expectEvent(domain.EventDoorState)

	if n := f.fc.PendingCount(); n != 0 {
		t.Fatalf("pending timers = %d, want 0 after remote lock", n)
	}

	// The original grace deadline passes: the door must stay locked and
	// publish nothing.
	f.fc.Advance(testRelock)
	f.expectNoEvent()
	if !f.c.Status().Locked {
		t.Fatal("door unlocked after cancelled deadline")
	}
}

func TestLockCommandIdempotent(t *testing.T) {
	f := newFixture(t)

	f.command("lock")
	f.expectEvent(domain.EventCommandReceived)
	if st := f.status(f.expectEvent(domain.EventDoorState)); !st.Locked {
		t.Fatal("lock command on a locked door changed state")
	}
	f.expectNoEvent()
	if f.act.callCount() != 0 {
		t.Fatal("lock command on a locked door pulsed the actuator")
	}
}

func TestStatusCommandRepublishes(t *testing.T) {
	f := newFixture(t)

	f.command("status")
	f.expectEvent(domain.EventCommandReceived)
	if st := f.status(f.expectEvent(domain.EventDoorState)); !st.Locked {
		t.Fatal("status command changed state")
	}
	f.expectNoEvent()
	if f.act.callCount() != 0 {
		t.Fatal("status command touched the actuator")
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	f := newFixture(t)

	f.command("open_sesame")
	f.expectEvent(domain.EventCommandReceived)
	f.expectNoEvent()
	if !f.c.Status().Locked {
		t.Fatal("unknown command changed state")
	}
}

func TestMalformedCommandIgnored(t *testing.T) {
	f := newFixture(t)

	if err := f.mock.Publish(context.Background(), mqtt.CommandTopic(testDoorID), []byte("{"), 1, false); err != nil {
		t.Fatalf("publish: %v", err)
	}
	f.expectNoEvent()
}

func TestExitButtonUnlocks(t *testing.T) {
	f := newFixture(t)

	f.sensors <- domain.StateChange{DoorID: testDoorID, Kind: domain.SensorExitButton, State: true, Timestamp: f.fc.Now()}

	f.expectEvent(domain.EventSensorChange)
	unlocked := f.expectEvent(domain.EventDoorUnlocked)
	var tr domain.LockTransitionPayload
	if err := json.Unmarshal(unlocked.Payload, &tr); err != nil {
		t.Fatalf("unmarshal transition: %v", err)
	}
	if tr.Cause != "exit_button" {
		t.Fatalf("cause = %q, want exit_button", tr.Cause)
	}
	st := f.status(f.expectEvent(domain.EventDoorState))
	if st.Locked || !st.ExitButtonPressed {
		t.Fatalf("status = %+v", st)
	}

	// Release only reports; the grace window stays open.
	f.sensors <- domain.StateChange{DoorID: testDoorID, Kind: domain.SensorExitButton, State: false, Timestamp: f.fc.Now()}
	f.expectEvent(domain.EventSensorChange)
	st = f.status(f.expectEvent(domain.EventDoorState))
	if st.Locked || st.ExitButtonPressed {
		t.Fatalf("status after release = %+v", st)
	}

	f.fc.Advance(testRelock)
	f.expectEvent(domain.EventDoorLocked)
	f.expectEvent(domain.EventDoorState)
}

func TestProximityUnlocks(t *testing.T) {
	f := newFixture(t)

	f.sensors <- domain.StateChange{DoorID: testDoorID, Kind: domain.SensorProximity, State: true, Timestamp: f.fc.Now()}

	f.expectEvent(domain.EventSensorChange)
	f.expectEvent(domain.EventDoorUnlocked)
	st := f.status(f.expectEvent(domain.EventDoorState))
	if st.Locked || !st.ProximityDetected {
		t.Fatalf("status = %+v", st)
	}
}

func TestDoorContactOnlyReports(t *testing.T) {
	f := newFixture(t)

	f.sensors <- domain.StateChange{DoorID: testDoorID, Kind: domain.SensorDoor, State: true, Timestamp: f.fc.Now()}

	f.expectEvent(domain.EventSensorChange)
	st := f.status(f.expectEvent(domain.EventDoorState))
	if !st.Locked || !st.Open {
		t.Fatalf("status = %+v", st)
	}
	f.expectNoEvent()
	if f.act.callCount() != 0 {
		t.Fatal("door contact drove the actuator")
	}
}

func TestActuationFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	f.act.fail = errors.New("output stage offline")

	f.swipe(0x1D397065, true)
	f.expectEvent(domain.EventCardRead)
	f.expectEvent(domain.EventAccessGranted)
	// No door.unlocked: actuation failed, the logical state is unchanged.
	if st := f.status(f.expectEvent(domain.EventDoorState)); !st.Locked {
		t.Fatal("status went unlocked despite actuation failure")
	}
	f.expectNoEvent()
	if n := f.fc.PendingCount(); n != 0 {
		t.Fatalf("pending timers = %d, want no grace window after failure", n)
	}
}

func TestMonitorOnlyDoor(t *testing.T) {
	f := &fixture{
		t:       t,
		fc:      clock.NewFake(time.Unix(1700000000, 0)),
		bus:     newCaptureBus(),
		mock:    mqtt.NewMock(),
		creds:   make(chan domain.Credential, 4),
		sensors: make(chan domain.StateChange, 4),
	}
	cfg := config.DoorConfig{ID: testDoorID, RequiredLevel: "regular", RelockAfter: testRelock}
	c, err := New(cfg, f.creds, f.sensors, Deps{
		Policy:  testPolicy(),
		Backend: f.mock,
		Bus:     f.bus,
		Clock:   f.fc,
		Log:     discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(c.Stop)
	f.c = c
	f.expectEvent(domain.EventDoorState)

	// Decisions still flow without an actuator.
	f.swipe(0x1D397065, true)
	f.expectEvent(domain.EventCardRead)
	f.expectEvent(domain.EventAccessGranted)
	f.expectEvent(domain.EventDoorUnlocked)
	if st := f.status(f.expectEvent(domain.EventDoorState)); st.Locked {
		t.Fatal("logical unlock not reported")
	}
}

func TestStopHaltsProcessing(t *testing.T) {
	f := newFixture(t)

	f.c.Stop()
	f.command("unlock")
	f.expectNoEvent()

	// Stop is idempotent.
	f.c.Stop()
}
