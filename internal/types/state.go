package types

// DriveState is the supervisor mode published to Redis.
type DriveState string

const (
	StateStopped         DriveState = "stopped"
	StateDriving         DriveState = "driving"
	StateOverrideStopped DriveState = "override-stopped"
	StateOverrideDriving DriveState = "override-driving"
)

// MotorMode is the per-motor drive state.
type MotorMode int

const (
	ModeStop MotorMode = iota
	ModeRunning
	ModeStopping
)

func (m MotorMode) String() string {
	switch m {
	case ModeStop:
		return "STOP"
	case ModeRunning:
		return "RUNNING"
	case ModeStopping:
		return "STOPPING"
	default:
		return "UNK"
	}
}

// MaxPWM is the full-scale PWM duty and the bound of a motor command.
const MaxPWM = 65535

// MaxDeadmanTimeoutMs caps a configured or commanded deadman timeout, one day.
const MaxDeadmanTimeoutMs = 24 * 60 * 60 * 1000

// MotorSnapshot is a consistent copy of one motor's state.
type MotorSnapshot struct {
	ID    string
	Mode  MotorMode
	Speed int // commanded speed, pending target while stopping
	Duty  int // signed live output
}

// DriveSnapshot is what the supervisor publishes after each tick.
type DriveSnapshot struct {
	State            DriveState
	Stopped          bool
	AnalogOverride   bool
	DeadmanTimeoutMs int
	Left             MotorSnapshot
	Right            MotorSnapshot
}
