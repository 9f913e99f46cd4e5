package hardware

import (
	"io"
	"time"
)

// PWMOutput is one PWM channel. Duty is 0..65535 regardless of the
// resolution of the underlying timer; Duty reports the value the device
// actually holds, which may be quantized.
type PWMOutput interface {
	SetDuty(duty uint16) error
	Duty() (uint16, error)
}

// DigitalOutput is a single output line.
type DigitalOutput interface {
	Set(value bool) error
	Get() (bool, error)
}

// DigitalInput is a single input line, reporting the raw electrical level.
type DigitalInput interface {
	Get() (bool, error)
}

// AnalogInput returns a 16-bit scaled sample, even if the converter has
// fewer bits.
type AnalogInput interface {
	ReadU16() (uint16, error)
}

// ByteStream is a non-blocking byte source such as a UART.
type ByteStream interface {
	io.Reader
	// Buffered returns the number of bytes that can be read without blocking.
	Buffered() (int, error)
}

// InputCallback is invoked on an edge of a registered input channel.
type InputCallback func(channel string, value bool) error

// Timer is a cancelable handle for a scheduled callback.
type Timer interface {
	// Stop cancels the timer and reports whether it was still active.
	Stop() bool
}

// Scheduler provides time and timer services to the control code.
type Scheduler interface {
	Now() time.Time
	// AfterFunc calls f once, in its own context, after d.
	AfterFunc(d time.Duration, f func()) Timer
	// Every calls f each period until the returned timer is stopped.
	Every(d time.Duration, f func()) Timer
}
