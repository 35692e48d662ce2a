package scheduling

import (
	"context"
	"log/slog"
	"time"

	"doorman/internal/infra/clock"
)

// StatusPublisher is the slice of a door controller the heartbeat needs.
type StatusPublisher interface {
	DoorID() string
	PublishStatus(ctx context.Context) error
}

// Pruner is the slice of the audit store the retention sweep needs.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewHeartbeat returns the heartbeat action. It republishes every door's
// status snapshot so dashboards recover after a broker restart. Publish
// failures are best-effort: each is logged and the remaining doors still
// get their snapshot out.
func NewHeartbeat(doors []StatusPublisher, log *slog.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		for _, d := range doors {
			if err := d.PublishStatus(ctx); err != nil {
				log.Warn("heartbeat publish failed", "door", d.DoorID(), "error", err)
			}
		}
		return nil
	}
}

// NewRetentionSweep returns the audit retention action. It prunes records
// older than retention relative to the clock's current time.
func NewRetentionSweep(store Pruner, clk clock.Clock, retention time.Duration, log *slog.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		cutoff := clk.Now().Add(-retention)
		pruned, err := store.PruneBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		if pruned > 0 {
			log.Info("audit retention sweep", "pruned", pruned, "cutoff", cutoff)
		}
		return nil
	}
}
