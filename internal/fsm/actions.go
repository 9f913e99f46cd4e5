package fsm

import "github.com/librescoot/librefsm"

// Actions defines the interface for drive supervisor state machine actions.
// TankDrive implements this interface. Callbacks run on the machine's
// goroutine and must not send events synchronously.
type Actions interface {
	// Override mode entry/exit starts and stops the analog update timer
	EnterOverride(c *librefsm.Context) error
	ExitOverride(c *librefsm.Context) error

	// Analog speeds are applied only while in override driving
	EnterOverrideDriving(c *librefsm.Context) error
	ExitOverrideDriving(c *librefsm.Context) error

	// Guards for conditional transitions
	IsDeadmanHeld(c *librefsm.Context) bool // True when the deadman switch is closed (line low)

	// Transition actions
	OnDeadmanTimeout(c *librefsm.Context) error
	OnDeadmanOpen(c *librefsm.Context) error
	OnStopCommand(c *librefsm.Context) error
}
