package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"doorman/internal/infra/clock"
)

type fakePublisher struct {
	id    string
	calls int
	err   error
}

func (p *fakePublisher) DoorID() string { return p.id }

func (p *fakePublisher) PublishStatus(_ context.Context) error {
	p.calls++
	return p.err
}

type fakePruner struct {
	cutoff time.Time
	n      int64
	err    error
	calls  int
}

func (p *fakePruner) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	p.calls++
	p.cutoff = cutoff
	return p.n, p.err
}

func TestHeartbeatPublishesEveryDoor(t *testing.T) {
	front := &fakePublisher{id: "front-door"}
	back := &fakePublisher{id: "back-door"}

	beat := NewHeartbeat([]StatusPublisher{front, back}, newTestLogger())
	if err := beat(context.Background()); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	if front.calls != 1 || back.calls != 1 {
		t.Fatalf("publish calls = %d/%d, want 1/1", front.calls, back.calls)
	}
}

func TestHeartbeatContinuesPastFailure(t *testing.T) {
	front := &fakePublisher{id: "front-door", err: errors.New("broker gone")}
	back := &fakePublisher{id: "back-door"}

	beat := NewHeartbeat([]StatusPublisher{front, back}, newTestLogger())
	if err := beat(context.Background()); err != nil {
		t.Fatalf("heartbeat should be best-effort, got %v", err)
	}

	if back.calls != 1 {
		t.Fatalf("second door publish calls = %d, want 1", back.calls)
	}
}

func TestHeartbeatNoDoors(t *testing.T) {
	beat := NewHeartbeat(nil, newTestLogger())
	if err := beat(context.Background()); err != nil {
		t.Fatalf("heartbeat with no doors: %v", err)
	}
}

func TestRetentionSweepCutoff(t *testing.T) {
	now := time.Unix(1700000000, 0)
	fc := clock.NewFake(now)
	pruner := &fakePruner{n: 3}
	retention := 90 * 24 * time.Hour

	sweep := NewRetentionSweep(pruner, fc, retention, newTestLogger())
	if err := sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if pruner.calls != 1 {
		t.Fatalf("prune calls = %d, want 1", pruner.calls)
	}
	want := now.Add(-retention)
	if !pruner.cutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", pruner.cutoff, want)
	}
}

func TestRetentionSweepPropagatesError(t *testing.T) {
	pruner := &fakePruner{err: errors.New("db locked")}

	sweep := NewRetentionSweep(pruner, clock.NewFake(time.Unix(1700000000, 0)), time.Hour, newTestLogger())
	if err := sweep(context.Background()); err == nil {
		t.Fatal("expected prune error to propagate")
	}
}
