package lock

import (
	"log/slog"
	"sync"
	"time"

	"doorman/internal/adapter/gpio"
	"doorman/internal/infra/clock"
	"doorman/internal/infra/config"
)

// timedStrike pulses like a latching lock but re-locks itself once a
// hold-open window expires, the way an electric strike buzzes a door open
// for a moment. A later explicit command always wins: commanding lock
// cancels the pending deadline, and the deadline handler re-checks the
// state before pulsing so it never clobbers a newer command.
type timedStrike struct {
	mu sync.Mutex
	pulser
	doorID   string
	holdOpen time.Duration
	log      *slog.Logger

	locked    bool
	deadline  *clock.Timer // armed while unlocked; guarded by mu
	holdUntil time.Time    // expiry of the armed deadline; guarded by mu

	relock    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newStrike(doorID string, cfg config.LockConfig, backend gpio.Backend, clk clock.Clock, log *slog.Logger) (*timedStrike, error) {
	s := &timedStrike{
		pulser: pulser{
			backend:   backend,
			clk:       clk,
			setLine:   cfg.SetPin,
			unsetLine: cfg.UnsetPin,
			width:     cfg.PulseWidth,
		},
		doorID:   doorID,
		holdOpen: cfg.HoldOpen,
		log:      log,
		relock:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if err := s.SetState(true); err != nil {
		return nil, err
	}
	s.wg.Add(1)
	go s.relockLoop()
	return s, nil
}

func (s *timedStrike) SetState(locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if locked != s.locked {
		// On failure the pending deadline, if any, stays armed: a strike
		// stuck open should still get its auto-relock attempt.
		if err := s.drive(locked); err != nil {
			return err
		}
		s.locked = locked
	}

	s.stopDeadline()
	if !s.locked {
		// Repeated unlocks land here too, extending the hold-open window.
		s.holdUntil = s.clk.Now().Add(s.holdOpen)
		s.deadline = s.clk.AfterFunc(s.holdOpen, s.queueRelock)
	}
	return nil
}

func (s *timedStrike) State() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Close stops the deadline and joins the relock goroutine.
func (s *timedStrike) Close() error {
	s.mu.Lock()
	s.stopDeadline()
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	return nil
}

// stopDeadline disarms any pending auto-relock. Callers hold mu.
func (s *timedStrike) stopDeadline() {
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
}

// queueRelock runs in the timer's goroutine. It only signals the relock
// loop, never pulses, so the timer callback can never block.
func (s *timedStrike) queueRelock() {
	select {
	case s.relock <- struct{}{}:
	default:
	}
}

func (s *timedStrike) relockLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.relock:
			s.autoRelock()
		case <-s.done:
			return
		}
	}
}

func (s *timedStrike) autoRelock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locked {
		// A command beat the deadline here. Nothing to do.
		return
	}
	if s.clk.Now().Before(s.holdUntil) {
		// Stale token: a superseded deadline fired just as an unlock
		// extended the window. The current deadline re-signals later.
		return
	}
	if err := s.drive(true); err != nil {
		s.log.Error("strike auto-relock failed", "door", s.doorID, "error", err)
		return
	}
	s.locked = true
	s.log.Debug("strike re-locked", "door", s.doorID)
}
