package config

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/caarlos0/env"
	"gopkg.in/yaml.v2"

	"tankdrive/internal/analog"
	"tankdrive/internal/hardware"
	"tankdrive/internal/types"
)

// DefaultPath is read when no -config flag is given. A missing file there
// is not an error.
const DefaultPath = "/etc/tankdrive.yaml"

var ErrInvalid = errors.New("invalid configuration")

const (
	BindingOpto    = "opto"
	BindingDualPWM = "dual-pwm"
)

type Config struct {
	Timing   Timing          `yaml:"timing"`
	Left     Motor           `yaml:"left"`
	Right    Motor           `yaml:"right"`
	PotL     Pot             `yaml:"pot_left"`
	PotR     Pot             `yaml:"pot_right"`
	Inputs   map[string]Line `yaml:"inputs"`
	Outputs  map[string]Line `yaml:"outputs"`
	UART     UART            `yaml:"uart"`
	Redis    Redis           `yaml:"redis"`
	LogLevel int             `yaml:"log_level"`
}

type Timing struct {
	TickMs              int `yaml:"tick_ms"`
	AnalogMs            int `yaml:"analog_ms"`
	DeadmanTimeoutMs    int `yaml:"deadman_timeout_ms"`
	MinDeadmanTimeoutMs int `yaml:"min_deadman_timeout_ms"`
	DiagBudget          int `yaml:"diag_budget"`
}

// Motor selects a bridge binding. Opto uses PWM plus the Fwd/Rev output
// channels; dual-pwm uses PWM for forward and RevPWM for reverse.
type Motor struct {
	Binding      string `yaml:"binding"`
	PWM          PWM    `yaml:"pwm"`
	RevPWM       PWM    `yaml:"rev_pwm"`
	Fwd          string `yaml:"fwd"`
	Rev          string `yaml:"rev"`
	SwitchTimeUs int    `yaml:"switch_time_us"`
	Coast        int    `yaml:"coast"`
	MaxPWM       int    `yaml:"max_pwm"`
}

type PWM struct {
	Chip      int `yaml:"chip"`
	Channel   int `yaml:"channel"`
	Frequency int `yaml:"frequency"`
}

type Pot struct {
	Device  string        `yaml:"device"`
	Channel int           `yaml:"channel"`
	Bits    int           `yaml:"bits"`
	Filter  analog.Config `yaml:"filter"`
}

type Line struct {
	Chip int `yaml:"chip"`
	Line int `yaml:"line"`
}

type UART struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

// Redis is optional; an empty address disables messaging.
type Redis struct {
	Addr string `yaml:"addr"`
}

// EnvOverrides are applied after the file is read. Zero values leave the
// file setting untouched.
type EnvOverrides struct {
	Config    string `env:"TANKDRIVE_CONFIG"`
	RedisAddr string `env:"TANKDRIVE_REDIS_ADDR"`
	UART      string `env:"TANKDRIVE_UART"`
	DeadmanMs int    `env:"TANKDRIVE_DEADMAN_MS"`
}

func potFilter() analog.Config {
	f := analog.DefaultConfig()
	f.Gain = 0.2
	return f
}

// Default mirrors the reference board: opto bridge on the left, IBT-2 on
// the right, pots on ADC0/ADC1.
func Default() *Config {
	outputs := make(map[string]Line)
	for name, m := range hardware.DefaultOutputs {
		outputs[name] = Line{Chip: m.Chip, Line: m.Line}
	}
	inputs := make(map[string]Line)
	for name, m := range hardware.DefaultInputs {
		inputs[name] = Line{Chip: m.Chip, Line: m.Line}
	}

	return &Config{
		Timing: Timing{
			TickMs:              100,
			AnalogMs:            50,
			DeadmanTimeoutMs:    20000,
			MinDeadmanTimeoutMs: 10,
			DiagBudget:          9,
		},
		Left: Motor{
			Binding:      BindingOpto,
			PWM:          PWM{Chip: 0, Channel: 0, Frequency: hardware.DefaultPWMFrequency},
			Fwd:          "motor_l_fwd",
			Rev:          "motor_l_rev",
			SwitchTimeUs: int(hardware.DefaultSwitchTime / time.Microsecond),
			Coast:        types.MaxPWM / 100,
			MaxPWM:       types.MaxPWM,
		},
		Right: Motor{
			Binding: BindingDualPWM,
			PWM:     PWM{Chip: 0, Channel: 1, Frequency: hardware.DefaultPWMFrequency},
			RevPWM:  PWM{Chip: 0, Channel: 2, Frequency: hardware.DefaultPWMFrequency},
			Coast:   types.MaxPWM / 100,
			MaxPWM:  types.MaxPWM,
		},
		PotL:     Pot{Device: "iio:device0", Channel: 0, Bits: 12, Filter: potFilter()},
		PotR:     Pot{Device: "iio:device0", Channel: 1, Bits: 12, Filter: potFilter()},
		Inputs:   inputs,
		Outputs:  outputs,
		UART:     UART{Device: "/dev/ttyS1", Baud: 115200},
		Redis:    Redis{Addr: "localhost:6379"},
		LogLevel: 3,
	}
}

// Parse reads YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Load reads path, applies environment overrides and validates the result.
// An empty path means DefaultPath, which may be absent.
func Load(path string) (*Config, error) {
	var overrides EnvOverrides
	if err := env.Parse(&overrides); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if path == "" {
		path = overrides.Config
	}
	optional := false
	if path == "" {
		path = DefaultPath
		optional = true
	}

	cfg := Default()
	data, err := ioutil.ReadFile(path)
	switch {
	case err == nil:
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	case optional && os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("unable to read config %s: %w", path, err)
	}

	cfg.Apply(overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Apply(o EnvOverrides) {
	if o.RedisAddr != "" {
		c.Redis.Addr = o.RedisAddr
	}
	if o.UART != "" {
		c.UART.Device = o.UART
	}
	if o.DeadmanMs != 0 {
		c.Timing.DeadmanTimeoutMs = o.DeadmanMs
	}
}

func invalid(format string, v ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, v...), ErrInvalid)
}

func (c *Config) Validate() error {
	t := c.Timing
	if t.TickMs <= 0 || t.AnalogMs <= 0 {
		return invalid("tick_ms %d and analog_ms %d must be positive", t.TickMs, t.AnalogMs)
	}
	if t.MinDeadmanTimeoutMs < 0 || t.DeadmanTimeoutMs <= t.MinDeadmanTimeoutMs {
		return invalid("deadman_timeout_ms %d must exceed %d", t.DeadmanTimeoutMs, t.MinDeadmanTimeoutMs)
	}
	if t.DeadmanTimeoutMs > types.MaxDeadmanTimeoutMs {
		return invalid("deadman_timeout_ms %d exceeds %d", t.DeadmanTimeoutMs, types.MaxDeadmanTimeoutMs)
	}
	if t.DiagBudget < 0 {
		return invalid("diag_budget %d is negative", t.DiagBudget)
	}

	for name, m := range map[string]Motor{"left": c.Left, "right": c.Right} {
		if err := m.validate(c.Outputs); err != nil {
			return fmt.Errorf("%s motor: %w", name, err)
		}
	}

	for name, p := range map[string]Pot{"pot_left": c.PotL, "pot_right": c.PotR} {
		if p.Device == "" {
			return invalid("%s: device is empty", name)
		}
		if err := p.Filter.Validate(); err != nil {
			return invalid("%s: %v", name, err)
		}
	}

	for _, ch := range []string{hardware.ChannelAnalogOverride, hardware.ChannelDeadman} {
		if _, ok := c.Inputs[ch]; !ok {
			return invalid("input %s is not mapped", ch)
		}
	}

	if c.UART.Device == "" || c.UART.Baud <= 0 {
		return invalid("uart device %q baud %d", c.UART.Device, c.UART.Baud)
	}
	return nil
}

func (m Motor) validate(outputs map[string]Line) error {
	if m.MaxPWM <= 0 || m.MaxPWM > types.MaxPWM {
		return invalid("max_pwm %d out of range", m.MaxPWM)
	}
	if m.Coast < 0 || m.Coast >= m.MaxPWM {
		return invalid("coast %d out of range", m.Coast)
	}
	switch m.Binding {
	case BindingOpto:
		for _, ch := range []string{m.Fwd, m.Rev} {
			if _, ok := outputs[ch]; !ok {
				return invalid("direction output %q is not mapped", ch)
			}
		}
		if m.SwitchTimeUs < 0 {
			return invalid("switch_time_us %d is negative", m.SwitchTimeUs)
		}
	case BindingDualPWM:
		if m.PWM == m.RevPWM {
			return invalid("pwm and rev_pwm share channel %d/%d", m.PWM.Chip, m.PWM.Channel)
		}
	default:
		return invalid("unknown binding %q", m.Binding)
	}
	return nil
}

func (m Motor) SwitchTime() time.Duration {
	return time.Duration(m.SwitchTimeUs) * time.Microsecond
}

func (t Timing) Tick() time.Duration   { return time.Duration(t.TickMs) * time.Millisecond }
func (t Timing) Analog() time.Duration { return time.Duration(t.AnalogMs) * time.Millisecond }
func (t Timing) Deadman() time.Duration {
	return time.Duration(t.DeadmanTimeoutMs) * time.Millisecond
}
func (t Timing) MinDeadman() time.Duration {
	return time.Duration(t.MinDeadmanTimeoutMs) * time.Millisecond
}

// LineMappings converts a channel table for the GPIO layer.
func LineMappings(lines map[string]Line) map[string]hardware.LineMapping {
	out := make(map[string]hardware.LineMapping, len(lines))
	for name, l := range lines {
		out[name] = hardware.LineMapping{Chip: l.Chip, Line: l.Line}
	}
	return out
}
