package fsm

import (
	"github.com/librescoot/librefsm"
)

// NewDefinition creates the drive supervisor FSM definition.
// The actions parameter provides the implementation for state entry/exit,
// guards and the safety stops attached to transitions.
func NewDefinition(actions Actions) *librefsm.Definition {
	return librefsm.NewDefinition().
		// Serial parent state and substates
		State(StateSerial).
		State(StateSerialStopped,
			librefsm.WithParent(StateSerial),
		).
		State(StateSerialDriving,
			librefsm.WithParent(StateSerial),
		).

		// Override parent state owns the analog update timer
		State(StateOverride,
			librefsm.WithOnEnter(actions.EnterOverride),
			librefsm.WithOnExit(actions.ExitOverride),
		).
		State(StateOverrideStopped,
			librefsm.WithParent(StateOverride),
		).
		State(StateOverrideDriving,
			librefsm.WithParent(StateOverride),
			librefsm.WithOnEnter(actions.EnterOverrideDriving),
			librefsm.WithOnExit(actions.ExitOverrideDriving),
		).

		// === Transitions ===

		// Serial mode
		Transition(StateSerialStopped, EvDriveCommand, StateSerialDriving).
		Transition(StateSerialDriving, EvStopCommand, StateSerialStopped,
			librefsm.WithAction(actions.OnStopCommand),
		).
		Transition(StateSerialDriving, EvDeadmanTimeout, StateSerialStopped,
			librefsm.WithAction(actions.OnDeadmanTimeout),
		).

		// Engaging override keeps the stopped/driving distinction
		Transition(StateSerialStopped, EvOverrideEngaged, StateOverrideStopped).
		Transition(StateSerialDriving, EvOverrideEngaged, StateOverrideDriving).

		// Override mode
		Transition(StateOverrideStopped, EvAnalogDrive, StateOverrideDriving,
			librefsm.WithGuard(actions.IsDeadmanHeld),
		).
		Transition(StateOverrideDriving, EvDeadmanOpen, StateOverrideStopped,
			librefsm.WithAction(actions.OnDeadmanOpen),
		).
		Transition(StateOverrideDriving, EvStopCommand, StateOverrideStopped,
			librefsm.WithAction(actions.OnStopCommand),
		).

		// Releasing override hands the motors back to the serial deadman
		Transition(StateOverrideDriving, EvOverrideReleased, StateSerialDriving).
		Transition(StateOverrideStopped, EvOverrideReleased, StateSerialStopped).

		// Initial state
		Initial(StateSerialStopped)
}
