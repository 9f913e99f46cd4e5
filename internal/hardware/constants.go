package hardware

import "time"

// Named channels used by the supervisor.
const (
	ChannelAnalogOverride = "analog_override" // active low
	ChannelDeadman        = "deadman_switch"  // active low, held = low
	ChannelLED            = "led"
	ChannelLED2           = "led2"
)

const (
	DefaultPWMFrequency = 1000 // Hz
	DefaultSwitchTime   = 50 * time.Microsecond

	PwmSysfsDir = "/sys/class/pwm"
	IioSysfsDir = "/sys/bus/iio/devices"

	GpioConsumer = "tankdrive"
)

// LineMapping locates a GPIO line on a chip.
type LineMapping struct {
	Chip int
	Line int
}

// DefaultOutputs mirrors the reference board wiring.
var DefaultOutputs = map[string]LineMapping{
	ChannelLED:    {0, 25},
	ChannelLED2:   {0, 9},
	"motor_l_fwd": {0, 7},
	"motor_l_rev": {0, 8},
}

var DefaultInputs = map[string]LineMapping{
	ChannelAnalogOverride: {0, 16},
	ChannelDeadman:        {0, 17},
}
