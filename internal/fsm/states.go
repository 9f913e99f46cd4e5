package fsm

import "github.com/librescoot/librefsm"

// Drive supervisor states
const (
	// Serial command mode (hierarchical)
	StateSerial        librefsm.StateID = "serial"
	StateSerialStopped librefsm.StateID = "serial-stopped"
	StateSerialDriving librefsm.StateID = "serial-driving"

	// Analog override mode: pots drive the motors while the deadman
	// switch is held
	StateOverride        librefsm.StateID = "analog-override"
	StateOverrideStopped librefsm.StateID = "override-stopped"
	StateOverrideDriving librefsm.StateID = "override-driving"
)

// Drive supervisor events
const (
	// Serial commands
	EvDriveCommand librefsm.EventID = "drive-command"
	EvStopCommand  librefsm.EventID = "stop-command"

	// Supervisor tick
	EvDeadmanTimeout librefsm.EventID = "deadman-timeout"

	// Physical inputs
	EvOverrideEngaged  librefsm.EventID = "override-engaged"
	EvOverrideReleased librefsm.EventID = "override-released"
	EvDeadmanOpen      librefsm.EventID = "deadman-open"

	// Analog update timer
	EvAnalogDrive librefsm.EventID = "analog-drive"
)
