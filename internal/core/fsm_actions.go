package core

import (
	"context"

	"github.com/librescoot/librefsm"

	"tankdrive/internal/fsm"
	"tankdrive/internal/hardware"
	"tankdrive/internal/types"
)

// Ensure TankDrive implements fsm.Actions
var _ fsm.Actions = (*TankDrive)(nil)

// stateIDToDriveState maps leaf states to the published drive state.
// Parent states never appear as the current state.
func stateIDToDriveState(id librefsm.StateID) types.DriveState {
	switch id {
	case fsm.StateSerialDriving:
		return types.StateDriving
	case fsm.StateOverrideStopped:
		return types.StateOverrideStopped
	case fsm.StateOverrideDriving:
		return types.StateOverrideDriving
	default:
		return types.StateStopped
	}
}

func isOverride(id librefsm.StateID) bool {
	return id == fsm.StateOverride || id == fsm.StateOverrideStopped || id == fsm.StateOverrideDriving
}

// initFSM initializes and starts the librefsm machine
func (t *TankDrive) initFSM(ctx context.Context) error {
	def := fsm.NewDefinition(t)
	machine, err := def.Build()
	if err != nil {
		return err
	}
	t.machine = machine

	t.machine.OnStateChange(func(from, to librefsm.StateID) {
		t.logger.Infof("State transition: %s -> %s", from, to)

		driving := to == fsm.StateSerialDriving || to == fsm.StateOverrideDriving
		if err := t.io.WriteDigitalOutput(hardware.ChannelLED2, driving); err != nil {
			t.logger.Debugf("Failed to set LED2: %v", err)
		}

		// build from the known new state; querying the machine here would
		// deadlock on its mutex
		t.queueSnapshot(t.snapshotFor(to))
	})

	if err := t.machine.Start(ctx); err != nil {
		return err
	}

	t.logger.Infof("librefsm state machine started")
	return nil
}

// sendEvent sends an event to the FSM and waits for it to be processed.
// Never call it from an FSM callback.
func (t *TankDrive) sendEvent(event librefsm.EventID) error {
	return t.machine.SendSync(librefsm.Event{ID: event})
}

// postEvent queues an event; used from interrupt context.
func (t *TankDrive) postEvent(event librefsm.EventID) {
	t.machine.Send(librefsm.Event{ID: event})
}

// === State Entry/Exit Actions ===

func (t *TankDrive) EnterOverride(c *librefsm.Context) error {
	t.logger.Infof("Analog override enabled")

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.analogTimer != nil {
		t.analogTimer.Stop()
	}
	t.analogTimer = t.sched.Every(t.opts.AnalogPeriod, t.updateFromAnalog)
	return nil
}

func (t *TankDrive) ExitOverride(c *librefsm.Context) error {
	t.logger.Infof("Analog override off")

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.analogTimer != nil {
		t.analogTimer.Stop()
		t.analogTimer = nil
	}
	return nil
}

func (t *TankDrive) EnterOverrideDriving(c *librefsm.Context) error {
	t.analogMu.Lock()
	t.analogEnabled = true
	t.analogMu.Unlock()
	return nil
}

func (t *TankDrive) ExitOverrideDriving(c *librefsm.Context) error {
	t.analogMu.Lock()
	t.analogEnabled = false
	t.analogMu.Unlock()
	return nil
}

// === Guards ===

func (t *TankDrive) IsDeadmanHeld(c *librefsm.Context) bool {
	return t.deadmanHeld()
}

// === Transition Actions ===

// Actions never return an error: the motors are already in a safe state
// and the transition must complete.

func (t *TankDrive) OnDeadmanTimeout(c *librefsm.Context) error {
	t.emergencyStopAll("Deadman command timeout")
	t.reportFault(types.FaultDeadmanTimeout, "")
	return nil
}

func (t *TankDrive) OnDeadmanOpen(c *librefsm.Context) error {
	t.analogMu.Lock()
	defer t.analogMu.Unlock()

	t.analogEnabled = false
	t.emergencyStopAll("Deadman switch open")
	t.reportFault(types.FaultDeadmanSwitch, "")
	return nil
}

func (t *TankDrive) OnStopCommand(c *librefsm.Context) error {
	t.logger.Infof("Stop command")

	t.analogMu.Lock()
	defer t.analogMu.Unlock()

	t.analogEnabled = false
	t.stopAll()
	return nil
}
