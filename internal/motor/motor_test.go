package motor

import (
	"errors"
	"testing"
	"time"

	"tankdrive/internal/hardware"
	"tankdrive/internal/logger"
	"tankdrive/internal/types"
)

type optoRig struct {
	motor *Motor
	clock *hardware.ManualClock
	pwm   *hardware.SimPWM
	fwd   *hardware.SimLine
	rev   *hardware.SimLine
}

func newOptoRig(t *testing.T) *optoRig {
	t.Helper()
	r := &optoRig{
		clock: hardware.NewManualClock(time.Unix(0, 0)),
		pwm:   &hardware.SimPWM{},
		fwd:   hardware.NewSimLine(true),
		rev:   hardware.NewSimLine(true),
	}
	m, err := NewOptoDrive(DefaultConfig("L"), r.pwm, r.fwd, r.rev, 0, r.clock, logger.NewLogger(nil, logger.LogLevelDebug))
	if err != nil {
		t.Fatalf("NewOptoDrive failed: %v", err)
	}
	r.motor = m
	return r
}

func (r *optoRig) levels(t *testing.T) (uint16, bool, bool) {
	t.Helper()
	duty, _ := r.pwm.Duty()
	fwd, _ := r.fwd.Get()
	rev, _ := r.rev.Get()
	return duty, fwd, rev
}

type dualRig struct {
	motor *Motor
	clock *hardware.ManualClock
	fwd   *hardware.SimPWM
	rev   *hardware.SimPWM
}

func newDualRig(t *testing.T) *dualRig {
	t.Helper()
	r := &dualRig{
		clock: hardware.NewManualClock(time.Unix(0, 0)),
		fwd:   &hardware.SimPWM{},
		rev:   &hardware.SimPWM{},
	}
	m, err := NewDualPWMDrive(DefaultConfig("R"), r.fwd, r.rev, r.clock, logger.NewLogger(nil, logger.LogLevelDebug))
	if err != nil {
		t.Fatalf("NewDualPWMDrive failed: %v", err)
	}
	r.motor = m
	return r
}

func TestNewOptoDriveQuiesces(t *testing.T) {
	r := newOptoRig(t)
	duty, fwd, rev := r.levels(t)
	if duty != 0 || fwd || rev {
		t.Errorf("Expected coast after construction, got pwm=%d fwd=%v rev=%v", duty, fwd, rev)
	}
	if snap := r.motor.Snapshot(); snap.Mode != types.ModeStop || snap.Speed != 0 {
		t.Errorf("Expected STOP at speed 0, got %+v", snap)
	}
}

func TestBeginBrakesOpto(t *testing.T) {
	r := newOptoRig(t)
	r.motor.Begin()

	duty, fwd, rev := r.levels(t)
	if duty != types.MaxPWM || fwd || rev {
		t.Errorf("Expected e-brake (max, 0, 0), got pwm=%d fwd=%v rev=%v", duty, fwd, rev)
	}
}

func TestSetSpeedForwardFromBrake(t *testing.T) {
	r := newOptoRig(t)
	r.motor.Begin()

	if err := r.motor.SetSpeed(20000); err != nil {
		t.Fatalf("SetSpeed failed: %v", err)
	}

	duty, fwd, rev := r.levels(t)
	if duty != 20000 || !fwd || rev {
		t.Errorf("Expected forward at 20000, got pwm=%d fwd=%v rev=%v", duty, fwd, rev)
	}
	snap := r.motor.Snapshot()
	if snap.Mode != types.ModeRunning || snap.Speed != 20000 || snap.Duty != 20000 {
		t.Errorf("Unexpected snapshot %+v", snap)
	}
	if r.motor.Direction() != 1 {
		t.Errorf("Expected direction 1, got %d", r.motor.Direction())
	}
}

func TestSameSignNeverStops(t *testing.T) {
	r := newOptoRig(t)

	for _, v := range []int{5000, 30000, 12000, 65535, 700} {
		if err := r.motor.SetSpeed(v); err != nil {
			t.Fatalf("SetSpeed(%d) failed: %v", v, err)
		}
		if snap := r.motor.Snapshot(); snap.Mode != types.ModeRunning {
			t.Fatalf("SetSpeed(%d) left mode %s", v, snap.Mode)
		}
	}
	for _, v := range []int{-5000, -30000, -700} {
		if err := r.motor.SetSpeed(v); err != nil {
			t.Fatalf("SetSpeed(%d) failed: %v", v, err)
		}
		if v == -5000 {
			// first reverse request is a reversal; let it finish
			r.clock.Advance(time.Second)
			continue
		}
		if snap := r.motor.Snapshot(); snap.Mode != types.ModeRunning {
			t.Fatalf("SetSpeed(%d) left mode %s", v, snap.Mode)
		}
	}
	if r.clock.Pending() != 0 {
		t.Errorf("Expected no pending timers, got %d", r.clock.Pending())
	}
}

func TestReversalSequencing(t *testing.T) {
	r := newOptoRig(t)

	if err := r.motor.SetSpeed(40000); err != nil {
		t.Fatalf("SetSpeed failed: %v", err)
	}
	if d := r.motor.StopDelay(); d != 78*time.Millisecond {
		t.Errorf("Expected stop delay 78ms, got %v", d)
	}

	if err := r.motor.SetSpeed(-30000); err != nil {
		t.Fatalf("SetSpeed failed: %v", err)
	}
	snap := r.motor.Snapshot()
	if snap.Mode != types.ModeStopping {
		t.Fatalf("Expected STOPPING, got %s", snap.Mode)
	}
	if snap.Speed != -30000 {
		t.Errorf("Expected pending target -30000, got %d", snap.Speed)
	}
	duty, fwd, rev := r.levels(t)
	if duty != types.MaxPWM || fwd || rev {
		t.Errorf("Expected brake while stopping, got pwm=%d fwd=%v rev=%v", duty, fwd, rev)
	}
	if r.clock.Pending() != 1 {
		t.Fatalf("Expected one restart timer, got %d", r.clock.Pending())
	}

	// a second request while stopping only moves the target
	if err := r.motor.SetSpeed(-25000); err != nil {
		t.Fatalf("SetSpeed failed: %v", err)
	}
	if r.clock.Pending() != 1 {
		t.Errorf("Expected still one restart timer, got %d", r.clock.Pending())
	}
	if snap := r.motor.Snapshot(); snap.Speed != -25000 || snap.Mode != types.ModeStopping {
		t.Errorf("Expected pending -25000 while stopping, got %+v", snap)
	}

	r.clock.Advance(77 * time.Millisecond)
	if snap := r.motor.Snapshot(); snap.Mode != types.ModeStopping {
		t.Fatalf("Restart fired early, mode %s", snap.Mode)
	}

	r.clock.Advance(time.Millisecond)
	snap = r.motor.Snapshot()
	if snap.Mode != types.ModeRunning {
		t.Fatalf("Expected RUNNING after restart, got %s", snap.Mode)
	}
	if snap.Speed != -25000 || snap.Duty != -25000 {
		t.Errorf("Expected restart at -25000, got %+v", snap)
	}
	duty, fwd, rev = r.levels(t)
	if duty != 25000 || fwd || !rev {
		t.Errorf("Expected reverse at 25000, got pwm=%d fwd=%v rev=%v", duty, fwd, rev)
	}
}

func TestReversalFromCoastIsImmediate(t *testing.T) {
	r := newOptoRig(t)

	r.motor.SetSpeed(20000)
	r.motor.SetSpeed(0)
	if err := r.motor.SetSpeed(-20000); err != nil {
		t.Fatalf("SetSpeed failed: %v", err)
	}

	if r.clock.Pending() != 0 {
		t.Errorf("Expected no restart timer, got %d", r.clock.Pending())
	}
	snap := r.motor.Snapshot()
	if snap.Mode != types.ModeRunning || snap.Speed != -20000 {
		t.Errorf("Expected immediate reverse, got %+v", snap)
	}
	duty, fwd, rev := r.levels(t)
	if duty != 20000 || fwd || !rev {
		t.Errorf("Expected reverse lines, got pwm=%d fwd=%v rev=%v", duty, fwd, rev)
	}
}

func TestStopCancelsRestart(t *testing.T) {
	r := newDualRig(t)

	r.motor.SetSpeed(30000)
	r.motor.SetSpeed(-30000)
	if snap := r.motor.Snapshot(); snap.Mode != types.ModeStopping {
		t.Fatalf("Expected STOPPING, got %s", snap.Mode)
	}

	if err := r.motor.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	r.clock.Advance(time.Second)

	snap := r.motor.Snapshot()
	if snap.Mode != types.ModeStop || snap.Speed != 0 || snap.Duty != 0 {
		t.Errorf("Expected STOP after cancelled restart, got %+v", snap)
	}
}

func TestDualPWMReversal(t *testing.T) {
	r := newDualRig(t)

	r.motor.SetSpeed(51200)
	f, _ := r.fwd.Duty()
	if f != 51200 {
		t.Fatalf("Expected fwd duty 51200, got %d", f)
	}

	r.motor.SetSpeed(-10000)
	f, _ = r.fwd.Duty()
	rv, _ := r.rev.Duty()
	if f != 0 || rv != 0 {
		t.Errorf("Expected both channels zero while stopping, got fwd=%d rev=%d", f, rv)
	}

	r.clock.Advance(100 * time.Millisecond)
	f, _ = r.fwd.Duty()
	rv, _ = r.rev.Duty()
	if f != 0 || rv != 10000 {
		t.Errorf("Expected rev 10000 after restart, got fwd=%d rev=%d", f, rv)
	}
	if snap := r.motor.Snapshot(); snap.Speed != -10000 || snap.Mode != types.ModeRunning {
		t.Errorf("Unexpected snapshot %+v", snap)
	}
}

func TestQuantizedOutputIsReadBack(t *testing.T) {
	r := newDualRig(t)
	r.fwd.Quantum = 256

	r.motor.SetSpeed(30000)
	if snap := r.motor.Snapshot(); snap.Speed != 29952 {
		t.Errorf("Expected quantized speed 29952, got %d", snap.Speed)
	}
}

func TestBridgeFaultEmergencyStops(t *testing.T) {
	r := newDualRig(t)
	r.fwd.SetDuty(1000)
	r.rev.SetDuty(1000)

	err := r.motor.SetSpeed(5000)
	if !errors.Is(err, ErrBridgeFault) {
		t.Fatalf("Expected ErrBridgeFault, got %v", err)
	}
	f, _ := r.fwd.Duty()
	rv, _ := r.rev.Duty()
	if f != 0 || rv != 0 {
		t.Errorf("Expected both channels zero after fault, got fwd=%d rev=%d", f, rv)
	}
	if snap := r.motor.Snapshot(); snap.Mode != types.ModeStop {
		t.Errorf("Expected STOP after fault, got %s", snap.Mode)
	}
}

func TestOptoBothLinesFault(t *testing.T) {
	r := newOptoRig(t)
	r.fwd.Set(true)
	r.rev.Set(true)
	r.pwm.SetDuty(2000)

	if err := r.motor.SetSpeed(5000); !errors.Is(err, ErrBridgeFault) {
		t.Fatalf("Expected ErrBridgeFault, got %v", err)
	}
	duty, fwd, rev := r.levels(t)
	if duty != types.MaxPWM || fwd || rev {
		t.Errorf("Expected e-brake after fault, got pwm=%d fwd=%v rev=%v", duty, fwd, rev)
	}
}

func TestHardwareErrorStopsMotor(t *testing.T) {
	r := newDualRig(t)
	r.motor.SetSpeed(20000)
	r.fwd.Fail(hardware.ErrInjected)

	if err := r.motor.SetSpeed(25000); !errors.Is(err, hardware.ErrInjected) {
		t.Fatalf("Expected injected error, got %v", err)
	}
	if snap := r.motor.Snapshot(); snap.Mode != types.ModeStop {
		t.Errorf("Expected STOP after hardware error, got %s", snap.Mode)
	}

	// emergency stop still succeeds from the caller's point of view
	r.motor.EmergencyStop()
}

func TestEmergencyStopOpensDiagnostics(t *testing.T) {
	r := newDualRig(t)
	r.motor.diag.Allow(0)

	r.motor.EmergencyStop()
	// "Emergency stop" is dropped on an empty budget; Show(11) re-arms it
	// and consumes two for its own header and state dump
	if got := r.motor.diag.Remaining(); got != emergencyBurst+1-2 {
		t.Errorf("Expected %d diagnostics left, got %d", emergencyBurst-1, got)
	}
}

func TestStopDelayMinimum(t *testing.T) {
	r := newDualRig(t)
	if d := r.motor.StopDelay(); d != time.Millisecond {
		t.Errorf("Expected 1ms at rest, got %v", d)
	}
	r.motor.SetSpeed(700)
	if d := r.motor.StopDelay(); d != time.Millisecond {
		t.Errorf("Expected 1ms at low duty, got %v", d)
	}
	r.motor.SetSpeed(51200)
	if d := r.motor.StopDelay(); d != 100*time.Millisecond {
		t.Errorf("Expected 100ms at 51200, got %v", d)
	}
}
