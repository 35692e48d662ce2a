package gpio

import (
	"fmt"
	"sync"
	"time"

	"doorman/internal/domain"
)

// simLineCount models a Raspberry Pi header: BCM lines 0..27.
const simLineCount = 28

// edgeQueueDepth bounds pending edges per line. A full queue drops
// further events, like hardware that was not serviced in time.
const edgeQueueDepth = 64

// SimBackend is an in-memory chip. It backs non-edge builds so the
// controller runs on a dev host, and doubles as the test backend: tests
// inject edges with InjectEdge and observe written levels with Line.
type SimBackend struct {
	mu    sync.Mutex
	lines [simLineCount]simLine
}

type simLine struct {
	value    int
	armed    bool
	edge     Edge
	bias     Bias
	consumer string
	lastEdge Edge
	events   chan Edge
}

// LineState is a snapshot of one simulated line, for tests and doctor.
type LineState struct {
	Value    int
	Armed    bool
	Edge     Edge
	Bias     Bias
	Consumer string
}

// NewSim creates a simulated chip with all lines low and unarmed.
func NewSim() *SimBackend {
	return &SimBackend{}
}

func (s *SimBackend) line(n int) (*simLine, error) {
	if n < 0 || n >= simLineCount {
		return nil, fmt.Errorf("line %d: %w", n, domain.ErrNoSuchLine)
	}
	return &s.lines[n], nil
}

func (s *SimBackend) ReadValue(n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.line(n)
	if err != nil {
		return 0, err
	}
	return l.value, nil
}

func (s *SimBackend) WriteValue(n, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.line(n)
	if err != nil {
		return err
	}
	if value != 0 {
		value = 1
	}
	l.value = value
	return nil
}

func (s *SimBackend) ArmEdgeDetection(n int, edge Edge, bias Bias, consumer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.line(n)
	if err != nil {
		return err
	}
	if l.armed {
		return fmt.Errorf("line %d (held by %q): %w", n, l.consumer, domain.ErrLineBusy)
	}
	l.armed = true
	l.edge = edge
	l.bias = bias
	l.consumer = consumer
	l.events = make(chan Edge, edgeQueueDepth)
	// Pull bias settles an undriven input.
	switch bias {
	case BiasPullUp:
		l.value = 1
	case BiasPullDown:
		l.value = 0
	}
	return nil
}

func (s *SimBackend) WaitForEdge(n int, timeout time.Duration) (bool, error) {
	s.mu.Lock()
	l, err := s.line(n)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	if !l.armed {
		s.mu.Unlock()
		return false, fmt.Errorf("line %d: %w", n, domain.ErrLineNotArmed)
	}
	events := l.events
	s.mu.Unlock()

	select {
	case dir := <-events:
		s.mu.Lock()
		l.lastEdge = dir
		s.mu.Unlock()
		return true, nil
	case <-time.After(timeout):
		return false, nil
	}
}

func (s *SimBackend) ReadEdgeType(n int) (Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.line(n)
	if err != nil {
		return EdgeNone, err
	}
	if !l.armed {
		return EdgeNone, fmt.Errorf("line %d: %w", n, domain.ErrLineNotArmed)
	}
	return l.lastEdge, nil
}

// InjectEdge simulates a physical transition on a line: the level
// changes and, if the line is armed for that direction, an edge event
// is queued for WaitForEdge.
func (s *SimBackend) InjectEdge(n int, dir Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.line(n)
	if err != nil {
		return err
	}
	switch dir {
	case EdgeRising:
		l.value = 1
	case EdgeFalling:
		l.value = 0
	default:
		return fmt.Errorf("inject edge: direction must be rising or falling")
	}
	if !l.armed || (l.edge != EdgeBoth && l.edge != dir) {
		return nil
	}
	select {
	case l.events <- dir:
	default:
		// Queue full: the event is lost, as on unserviced hardware.
	}
	return nil
}

// SetValue sets a line level without generating an edge event. Used to
// stage initial conditions in tests.
func (s *SimBackend) SetValue(n, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.line(n)
	if err != nil {
		return err
	}
	if value != 0 {
		value = 1
	}
	l.value = value
	return nil
}

// Line returns a snapshot of a line's state.
func (s *SimBackend) Line(n int) (LineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.line(n)
	if err != nil {
		return LineState{}, err
	}
	return LineState{
		Value:    l.value,
		Armed:    l.armed,
		Edge:     l.edge,
		Bias:     l.bias,
		Consumer: l.consumer,
	}, nil
}
