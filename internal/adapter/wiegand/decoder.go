package wiegand

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

// edgeWait bounds each blocking wait so watchers notice cancellation.
// Edges are latched by the backend, so a pulse shorter than this slice
// is still observed.
const edgeWait = 50 * time.Millisecond

const (
	edgeQueueDepth       = 256
	credentialQueueDepth = 8
)

// edgeEvent is one stamped line transition. Both data lines feed a
// single stream so bit order follows the physical pulse order, not the
// order the per-line waits happened to wake in.
type edgeEvent struct {
	line int
	bit  byte
	dir  gpio.Edge
	at   time.Time
}

type timedBit struct {
	bit byte
	at  time.Time
}

// Decoder owns one reader: two watcher goroutines stamp edges into a
// merged stream, and a decode goroutine assembles frames, applying the
// inter-bit timeout against the stamps.
type Decoder struct {
	doorID   string
	d0       int
	d1       int
	minBits  int
	interbit time.Duration

	backend gpio.Backend
	clk     clock.Clock
	log     *slog.Logger

	edges chan edgeEvent
	out   chan domain.Credential

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New arms both data lines for falling-edge detection with pull-up
// bias. An arming failure is fatal to this reader and reported to the
// caller; the decoder is not started.
func New(doorID string, cfg config.ReaderConfig, backend gpio.Backend, clk clock.Clock, log *slog.Logger) (*Decoder, error) {
	d := &Decoder{
		doorID:   doorID,
		d0:       cfg.D0Pin,
		d1:       cfg.D1Pin,
		minBits:  cfg.MinBits,
		interbit: cfg.InterbitTimeout,
		backend:  backend,
		clk:      clk,
		log:      log,
		edges:    make(chan edgeEvent, edgeQueueDepth),
		out:      make(chan domain.Credential, credentialQueueDepth),
	}

	lines := []struct {
		pin  int
		name string
	}{
		{cfg.D0Pin, "d0"},
		{cfg.D1Pin, "d1"},
	}
	for _, l := range lines {
		consumer := fmt.Sprintf("%s-wiegand-%s", doorID, l.name)
		if err := backend.ArmEdgeDetection(l.pin, gpio.EdgeFalling, gpio.BiasPullUp, consumer); err != nil {
			return nil, domain.WrapOp("wiegand.arm", err)
		}
	}
	return d, nil
}

// Credentials returns the stream of decoded reads.
func (d *Decoder) Credentials() <-chan domain.Credential {
	return d.out
}

// Start launches the watcher and decode goroutines. They run until the
// context is cancelled or Stop is called.
func (d *Decoder) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(3)
	go d.watch(ctx, d.d0, 0)
	go d.watch(ctx, d.d1, 1)
	go d.run(ctx)
}

// Stop cancels the goroutines and waits for them to exit. Any partially
// accumulated frame is dropped.
func (d *Decoder) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// watch performs bounded edge waits on one line and stamps each
// detection into the merged stream.
func (d *Decoder) watch(ctx context.Context, line int, bit byte) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ok, err := d.backend.WaitForEdge(line, edgeWait)
		if err != nil {
			d.log.Error("edge wait failed, reader line dead", "door", d.doorID, "line", line, "error", err)
			return
		}
		if !ok {
			continue
		}

		dir, err := d.backend.ReadEdgeType(line)
		if err != nil {
			d.log.Warn("edge type unavailable", "door", d.doorID, "line", line, "error", err)
			continue
		}

		ev := edgeEvent{line: line, bit: bit, dir: dir, at: d.clk.Now()}
		select {
		case d.edges <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// run assembles frames from the merged edge stream. A frame is complete
// once no qualifying edge has been stamped for the inter-bit timeout,
// measured against the newest stamp in the frame.
func (d *Decoder) run(ctx context.Context) {
	defer d.wg.Done()

	var frame []timedBit
	for {
		var timeoutCh <-chan time.Time
		if len(frame) > 0 {
			wait := d.interbit - d.clk.Now().Sub(frame[len(frame)-1].at)
			if wait <= 0 {
				frame = d.finalize(ctx, frame)
				continue
			}
			timeoutCh = d.clk.After(wait)
		}

		select {
		case <-ctx.Done():
			if len(frame) > 0 {
				d.log.Debug("dropping partial frame on shutdown", "door", d.doorID, "bits", len(frame))
			}
			return
		case ev := <-d.edges:
			if ev.dir != gpio.EdgeFalling {
				continue
			}
			d.log.Debug("bit", "door", d.doorID, "line", ev.line, "value", ev.bit)
			frame = insertByStamp(frame, timedBit{bit: ev.bit, at: ev.at})
		case <-timeoutCh:
			// An edge stamped inside the window may still be queued
			// behind the timer: drain before deciding.
			frame = d.drainQueued(frame)
			deadline := frame[len(frame)-1].at.Add(d.interbit)
			if d.clk.Now().Before(deadline) {
				continue
			}
			frame = d.finalize(ctx, frame)
		}
	}
}

// drainQueued absorbs any already-stamped edges without blocking.
func (d *Decoder) drainQueued(frame []timedBit) []timedBit {
	for {
		select {
		case ev := <-d.edges:
			if ev.dir != gpio.EdgeFalling {
				continue
			}
			frame = insertByStamp(frame, timedBit{bit: ev.bit, at: ev.at})
		default:
			return frame
		}
	}
}

// finalize decodes the accumulated frame and resets it. Frames shorter
// than the configured minimum are electrical noise and never surface as
// a credential.
func (d *Decoder) finalize(ctx context.Context, frame []timedBit) []timedBit {
	bits := make([]byte, len(frame))
	for i, tb := range frame {
		bits[i] = tb.bit
	}

	if len(bits) < d.minBits {
		d.log.Debug("discarding short frame", "door", d.doorID, "bits", len(bits))
		return frame[:0]
	}

	cred := Decode(bits, d.clk.Now())
	d.log.Info("card decoded",
		"door", d.doorID,
		"raw", cred.RawHex(),
		"bits", cred.BitLength,
		"parity_valid", cred.ParityValid)

	select {
	case d.out <- cred:
	case <-ctx.Done():
	}
	return frame[:0]
}

// insertByStamp keeps the frame ordered by stamp time; ties keep
// arrival order. The newest stamp always sits at the end, so the
// inter-bit deadline reads off the last element.
func insertByStamp(frame []timedBit, tb timedBit) []timedBit {
	i := len(frame)
	for i > 0 && frame[i-1].at.After(tb.at) {
		i--
	}
	frame = append(frame, timedBit{})
	copy(frame[i+1:], frame[i:])
	frame[i] = tb
	return frame
}
