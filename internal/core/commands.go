package core

import (
	"errors"
	"fmt"
	"time"

	"tankdrive/internal/command"
	"tankdrive/internal/fsm"
	"tankdrive/internal/messaging"
	"tankdrive/internal/motor"
	"tankdrive/internal/types"
)

var ErrRemoteQueueFull = errors.New("remote command queue full")

// maxCommand bounds drive and pot values before they are scaled to PWM.
const maxCommand = 255

// scaleSpeed clamps an 8-bit drive value and scales it to the PWM domain.
func (t *TankDrive) scaleSpeed(v int) int {
	if v > maxCommand {
		v = maxCommand
	} else if v < -maxCommand {
		v = -maxCommand
	}
	return v * t.opts.SpeedScale
}

// drainCommands handles every word that is ready, remote words first.
// It reports whether any word was processed.
func (t *TankDrive) drainCommands(now time.Time) bool {
	processed := false

	for {
		var word string
		select {
		case word = <-t.remote:
		default:
		}
		if word == "" {
			break
		}
		t.processWord(now, word, &processed)
	}

	if t.commands == nil {
		return processed
	}

	ready, err := t.commands.Ready()
	if err != nil {
		t.diag.Printf("command stream: %v", err)
	}
	for ready {
		word, ok := t.commands.Pop()
		if !ok {
			break
		}
		t.processWord(now, word, &processed)
	}
	return processed
}

func (t *TankDrive) processWord(now time.Time, word string, processed *bool) {
	if !*processed {
		t.setLED(true)
		*processed = true
	}

	t.mu.Lock()
	t.lastCommand = now
	t.mu.Unlock()

	t.handleWord(word)
}

// handleWord decodes and dispatches one command word.
func (t *TankDrive) handleWord(word string) {
	cmd, err := command.ParseWord(word)
	if errors.Is(err, command.ErrEmptyWord) {
		return
	}
	if err != nil {
		t.diag.Printf("%v, using 0", err)
	}

	switch cmd.Code {
	case command.CodeLeft:
		t.handleDrive(t.left, cmd)
	case command.CodeRight:
		t.handleDrive(t.right, cmd)
	case command.CodeStop:
		t.handleStop()
	case command.CodeDeadman:
		t.setDeadmanTimeout(cmd.Value, true)
	case command.CodeDiagnose:
		t.left.Show(cmd.Value)
		t.right.Show(cmd.Value)
		t.diag.Allow(cmd.Value)
	default:
		t.diag.Printf("command %q not recognized", word)
	}
}

func (t *TankDrive) handleDrive(m motor.Drive, cmd command.Command) {
	state := t.machine.CurrentState()
	if isOverride(state) {
		t.diag.Printf("%s ignored in analog override", cmd)
		return
	}

	if err := m.SetSpeed(t.scaleSpeed(cmd.Value)); err != nil {
		t.logger.Errorf("Failed to apply %s: %v", cmd, err)
		t.emergencyStopAll("Motor fault")
		t.reportFault(types.FaultBridge, err.Error())
		if state == fsm.StateSerialDriving {
			if err := t.sendEvent(fsm.EvStopCommand); err != nil {
				t.logger.Errorf("Failed to send stop event: %v", err)
			}
		}
		return
	}

	if state == fsm.StateSerialStopped {
		if err := t.sendEvent(fsm.EvDriveCommand); err != nil {
			t.logger.Errorf("Failed to send drive event: %v", err)
			return
		}
		t.clearFault(types.FaultDeadmanTimeout)
	}
}

// handleStop stops both motors in any mode. The machine moves to its
// stopped state; when it is already there the motors are stopped directly.
func (t *TankDrive) handleStop() {
	switch t.machine.CurrentState() {
	case fsm.StateSerialDriving, fsm.StateOverrideDriving:
		err := t.sendEvent(fsm.EvStopCommand)
		if err == nil {
			return
		}
		t.logger.Errorf("Failed to send stop event: %v", err)
	}
	t.stopAll()
}

// SetSpeeds drives both motors directly in the PWM domain, as if L and R
// commands had been received. Used by the bench console.
func (t *TankDrive) SetSpeeds(left, right int) error {
	if t.AnalogOverride() {
		return fmt.Errorf("analog override active")
	}
	t.mu.Lock()
	t.lastCommand = t.sched.Now()
	t.mu.Unlock()

	err := t.left.SetSpeed(left)
	if err == nil {
		err = t.right.SetSpeed(right)
	}
	if err != nil {
		t.emergencyStopAll("Motor fault")
		t.reportFault(types.FaultBridge, err.Error())
		return err
	}
	if t.machine.CurrentState() == fsm.StateSerialStopped {
		return t.sendEvent(fsm.EvDriveCommand)
	}
	return nil
}

// StopAll is the bench console's X.
func (t *TankDrive) StopAll() {
	t.handleStop()
}

// handleRemoteCommand queues a word received over Redis for the next tick.
func (t *TankDrive) handleRemoteCommand(word string) error {
	select {
	case t.remote <- word:
		return nil
	default:
		return ErrRemoteQueueFull
	}
}

// handleSettingsUpdate reloads a setting after a change notification.
func (t *TankDrive) handleSettingsUpdate(key string) error {
	if key != messaging.SettingDeadmanTimeout {
		t.logger.Debugf("Ignoring setting %s", key)
		return nil
	}
	ms, ok, err := t.redis.GetDeadmanTimeout()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if !t.setDeadmanTimeout(ms, false) {
		return fmt.Errorf("deadman timeout %d ms rejected", ms)
	}
	return nil
}
