package gpio

import (
	"errors"
	"testing"
	"time"

	"doorman/internal/domain"
)

func TestSimReadWrite(t *testing.T) {
	sim := NewSim()

	if err := sim.WriteValue(25, 1); err != nil {
		t.Fatalf("WriteValue: %v", err)
	}
	v, err := sim.ReadValue(25)
	if err != nil {
		t.Fatalf("ReadValue: %v", err)
	}
	if v != 1 {
		t.Errorf("value = %d, want 1", v)
	}

	if err := sim.WriteValue(25, 0); err != nil {
		t.Fatalf("WriteValue: %v", err)
	}
	v, _ = sim.ReadValue(25)
	if v != 0 {
		t.Errorf("value = %d, want 0", v)
	}
}

func TestSimUnknownLine(t *testing.T) {
	sim := NewSim()

	_, err := sim.ReadValue(99)
	if !errors.Is(err, domain.ErrNoSuchLine) {
		t.Errorf("ReadValue(99) = %v, want ErrNoSuchLine", err)
	}
	if err := sim.WriteValue(-1, 1); !errors.Is(err, domain.ErrNoSuchLine) {
		t.Errorf("WriteValue(-1) = %v, want ErrNoSuchLine", err)
	}
}

func TestSimArmSetsBiasLevel(t *testing.T) {
	sim := NewSim()

	if err := sim.ArmEdgeDetection(17, EdgeFalling, BiasPullUp, "wiegand-d0"); err != nil {
		t.Fatalf("ArmEdgeDetection: %v", err)
	}
	v, _ := sim.ReadValue(17)
	if v != 1 {
		t.Errorf("pull-up line reads %d, want 1", v)
	}

	state, err := sim.Line(17)
	if err != nil {
		t.Fatalf("Line: %v", err)
	}
	if !state.Armed || state.Edge != EdgeFalling || state.Bias != BiasPullUp {
		t.Errorf("state = %+v", state)
	}
	if state.Consumer != "wiegand-d0" {
		t.Errorf("consumer = %q, want wiegand-d0", state.Consumer)
	}
}

func TestSimArmTwiceIsBusy(t *testing.T) {
	sim := NewSim()

	if err := sim.ArmEdgeDetection(22, EdgeBoth, BiasPullUp, "door-sensor"); err != nil {
		t.Fatalf("first arm: %v", err)
	}
	err := sim.ArmEdgeDetection(22, EdgeFalling, BiasPullUp, "other")
	if !errors.Is(err, domain.ErrLineBusy) {
		t.Errorf("second arm = %v, want ErrLineBusy", err)
	}
}

func TestSimWaitRequiresArming(t *testing.T) {
	sim := NewSim()

	_, err := sim.WaitForEdge(17, time.Millisecond)
	if !errors.Is(err, domain.ErrLineNotArmed) {
		t.Errorf("WaitForEdge = %v, want ErrLineNotArmed", err)
	}
	_, err = sim.ReadEdgeType(17)
	if !errors.Is(err, domain.ErrLineNotArmed) {
		t.Errorf("ReadEdgeType = %v, want ErrLineNotArmed", err)
	}
}

func TestSimInjectAndWait(t *testing.T) {
	sim := NewSim()
	if err := sim.ArmEdgeDetection(17, EdgeFalling, BiasPullUp, "wiegand-d0"); err != nil {
		t.Fatal(err)
	}

	if err := sim.InjectEdge(17, EdgeFalling); err != nil {
		t.Fatalf("InjectEdge: %v", err)
	}

	ok, err := sim.WaitForEdge(17, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForEdge: %v", err)
	}
	if !ok {
		t.Fatal("expected edge")
	}

	dir, err := sim.ReadEdgeType(17)
	if err != nil {
		t.Fatalf("ReadEdgeType: %v", err)
	}
	if dir != EdgeFalling {
		t.Errorf("direction = %v, want falling", dir)
	}

	v, _ := sim.ReadValue(17)
	if v != 0 {
		t.Errorf("level after falling edge = %d, want 0", v)
	}
}

func TestSimWaitTimesOut(t *testing.T) {
	sim := NewSim()
	if err := sim.ArmEdgeDetection(17, EdgeFalling, BiasPullUp, "wiegand-d0"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	ok, err := sim.WaitForEdge(17, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForEdge: %v", err)
	}
	if ok {
		t.Error("expected timeout, got edge")
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("returned before timeout elapsed")
	}
}

func TestSimEdgeMaskFilters(t *testing.T) {
	sim := NewSim()
	if err := sim.ArmEdgeDetection(17, EdgeFalling, BiasPullUp, "wiegand-d0"); err != nil {
		t.Fatal(err)
	}

	// Rising edges are not in the mask: the level changes but no event
	// is queued.
	if err := sim.InjectEdge(17, EdgeRising); err != nil {
		t.Fatal(err)
	}
	ok, err := sim.WaitForEdge(17, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForEdge: %v", err)
	}
	if ok {
		t.Error("rising edge should not wake a falling-edge wait")
	}
	v, _ := sim.ReadValue(17)
	if v != 1 {
		t.Errorf("level = %d, want 1 after rising injection", v)
	}
}

func TestSimBothEdgesDelivered(t *testing.T) {
	sim := NewSim()
	if err := sim.ArmEdgeDetection(22, EdgeBoth, BiasPullUp, "door-sensor"); err != nil {
		t.Fatal(err)
	}

	sequence := []Edge{EdgeFalling, EdgeRising, EdgeFalling}
	for _, dir := range sequence {
		if err := sim.InjectEdge(22, dir); err != nil {
			t.Fatal(err)
		}
	}
	for i, want := range sequence {
		ok, err := sim.WaitForEdge(22, 50*time.Millisecond)
		if err != nil || !ok {
			t.Fatalf("edge %d: ok=%v err=%v", i, ok, err)
		}
		dir, _ := sim.ReadEdgeType(22)
		if dir != want {
			t.Errorf("edge %d direction = %v, want %v", i, dir, want)
		}
	}
}

func TestSimInjectRequiresDirection(t *testing.T) {
	sim := NewSim()
	if err := sim.InjectEdge(17, EdgeBoth); err == nil {
		t.Error("expected error for non-directional injection")
	}
}

func TestSimConcurrentLines(t *testing.T) {
	sim := NewSim()
	for _, line := range []int{17, 27} {
		if err := sim.ArmEdgeDetection(line, EdgeFalling, BiasPullUp, "wiegand"); err != nil {
			t.Fatal(err)
		}
	}

	if err := sim.InjectEdge(27, EdgeFalling); err != nil {
		t.Fatal(err)
	}

	// Only the line that pulsed wakes up.
	ok, _ := sim.WaitForEdge(17, 5*time.Millisecond)
	if ok {
		t.Error("line 17 should not see line 27's edge")
	}
	ok, _ = sim.WaitForEdge(27, 50*time.Millisecond)
	if !ok {
		t.Error("line 27 should see its own edge")
	}
}

func TestSimSetValueDoesNotQueueEdge(t *testing.T) {
	sim := NewSim()
	if err := sim.ArmEdgeDetection(22, EdgeBoth, BiasPullUp, "door-sensor"); err != nil {
		t.Fatal(err)
	}

	if err := sim.SetValue(22, 0); err != nil {
		t.Fatal(err)
	}
	ok, err := sim.WaitForEdge(22, 5*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("SetValue must not generate edge events")
	}
}
