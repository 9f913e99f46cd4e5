package core

import (
	"tankdrive/internal/fsm"
	"tankdrive/internal/hardware"
	"tankdrive/internal/types"
)

// overrideEngaged reads the override switch; the line is active low.
func (t *TankDrive) overrideEngaged() (bool, error) {
	level, err := t.io.ReadDigitalInput(hardware.ChannelAnalogOverride)
	if err != nil {
		return false, err
	}
	return !level, nil
}

// deadmanHeld reads the deadman switch. A read error counts as open.
func (t *TankDrive) deadmanHeld() bool {
	level, err := t.io.ReadDigitalInput(hardware.ChannelDeadman)
	if err != nil {
		t.logger.Debugf("Failed to read deadman switch: %v", err)
		return false
	}
	return !level
}

// checkOverrideSwitch polls the override switch and moves the machine in or
// out of override when the switch and the current mode disagree.
func (t *TankDrive) checkOverrideSwitch() {
	engaged, err := t.overrideEngaged()
	if err != nil {
		t.diag.Printf("override switch: %v", err)
		return
	}

	active := isOverride(t.machine.CurrentState())
	switch {
	case engaged && !active:
		if err := t.sendEvent(fsm.EvOverrideEngaged); err != nil {
			t.logger.Errorf("Failed to enter analog override: %v", err)
		}
	case !engaged && active:
		if err := t.sendEvent(fsm.EvOverrideReleased); err != nil {
			t.logger.Errorf("Failed to leave analog override: %v", err)
		}
	}
}

// handleOverrideSwitch is the override switch edge callback.
func (t *TankDrive) handleOverrideSwitch(channel string, value bool) error {
	t.logger.Debugf("Override switch %s: %v", channel, value)
	if value {
		t.postEvent(fsm.EvOverrideReleased)
	} else {
		t.postEvent(fsm.EvOverrideEngaged)
	}
	return nil
}

// handleDeadmanSwitch is the deadman switch edge callback. Only an opening
// edge matters; the machine ignores it outside override driving.
func (t *TankDrive) handleDeadmanSwitch(channel string, value bool) error {
	t.logger.Debugf("Deadman switch %s: %v", channel, value)
	if value {
		t.postEvent(fsm.EvDeadmanOpen)
	}
	return nil
}

// updateFromAnalog is the analog timer callback: while the deadman switch is
// held both pots drive the motors.
func (t *TankDrive) updateFromAnalog() {
	state := t.machine.CurrentState()
	if !isOverride(state) {
		return
	}

	if !t.deadmanHeld() {
		if state == fsm.StateOverrideDriving {
			if err := t.sendEvent(fsm.EvDeadmanOpen); err != nil {
				t.logger.Errorf("Deadman event failed, stopping directly: %v", err)
				t.emergencyStopAll("Deadman switch open")
			}
		}
		return
	}

	if state == fsm.StateOverrideStopped {
		if err := t.sendEvent(fsm.EvAnalogDrive); err != nil {
			t.logger.Errorf("Failed to send analog drive event: %v", err)
			return
		}
		t.clearFault(types.FaultDeadmanSwitch)
	}

	if err := t.applyAnalog(); err != nil {
		t.logger.Errorf("Analog update failed: %v", err)
		if err := t.sendEvent(fsm.EvStopCommand); err != nil {
			t.stopAll()
		}
	}
}

// applyAnalog reads both pots and applies them. analogMu keeps a stop
// from being overwritten by an update already in flight; the machine is
// never queried while it is held.
func (t *TankDrive) applyAnalog() error {
	t.analogMu.Lock()
	defer t.analogMu.Unlock()

	if !t.analogEnabled || !t.deadmanHeld() {
		return nil
	}

	vl, err := t.potL.Read()
	if err != nil {
		return err
	}
	vr, err := t.potR.Read()
	if err != nil {
		return err
	}

	if err := t.left.SetSpeed(t.scaleSpeed(vl)); err != nil {
		t.emergencyStopAll("Motor fault")
		t.reportFault(types.FaultBridge, err.Error())
		return err
	}
	if err := t.right.SetSpeed(t.scaleSpeed(vr)); err != nil {
		t.emergencyStopAll("Motor fault")
		t.reportFault(types.FaultBridge, err.Error())
		return err
	}
	return nil
}
