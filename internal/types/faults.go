package types

// FaultCode identifies a safety fault reported to Redis.
type FaultCode int

const (
	FaultDeadmanTimeout FaultCode = 1 // no serial command within the deadman timeout
	FaultDeadmanSwitch  FaultCode = 2 // deadman switch opened while driving in override
	FaultBridge         FaultCode = 3 // both bridge directions energized or bridge I/O failure
)

func (f FaultCode) String() string {
	switch f {
	case FaultDeadmanTimeout:
		return "deadman command timeout"
	case FaultDeadmanSwitch:
		return "deadman switch open"
	case FaultBridge:
		return "motor bridge fault"
	default:
		return "unknown fault"
	}
}
