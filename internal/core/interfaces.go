package core

import (
	"tankdrive/internal/hardware"
	"tankdrive/internal/messaging"
	"tankdrive/internal/types"
)

// MessagingClient defines the interface for Redis messaging operations needed by TankDrive
type MessagingClient interface {
	SetCallbacks(callbacks messaging.Callbacks)
	Connect() error
	StartListening() error
	Close() error

	// Telemetry
	PublishDriveState(s types.DriveSnapshot) error

	// Faults
	ReportFaultPresent(code types.FaultCode, info string) error
	ReportFaultAbsent(code types.FaultCode) error

	// Settings
	GetDeadmanTimeout() (ms int, ok bool, err error)
	SaveDeadmanTimeout(ms int) error
}

// HardwareIO defines the named GPIO channels TankDrive reads and drives
type HardwareIO interface {
	ReadDigitalInput(channel string) (bool, error)
	WriteDigitalOutput(channel string, value bool) error
	RegisterInputCallback(channel string, callback hardware.InputCallback)
}

// AnalogSource is a filtered potentiometer scaled to -255..255
type AnalogSource interface {
	Read() (int, error)
}
