package analog

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"tankdrive/internal/hardware"
)

var ErrInvalidConfig = errors.New("invalid filter config")

// Config describes a potentiometer channel: filter gain, the ADC span that
// is considered live travel, and the output span it maps onto.
type Config struct {
	Gain float64 `yaml:"gain"`
	In0  int     `yaml:"in0"`
	In1  int     `yaml:"in1"`
	Out0 int     `yaml:"out0"`
	Out1 int     `yaml:"out1"`
}

// DefaultConfig leaves a flat zone at both ends of the ADC range.
func DefaultConfig() Config {
	return Config{Gain: 0.5, In0: 500, In1: 65000, Out0: -255, Out1: 255}
}

func (c Config) Validate() error {
	if c.Gain <= 0 || c.Gain >= 1 {
		return fmt.Errorf("gain %v outside (0,1): %w", c.Gain, ErrInvalidConfig)
	}
	if c.In1 <= c.In0 {
		return fmt.Errorf("input range %d..%d: %w", c.In0, c.In1, ErrInvalidConfig)
	}
	if c.Out1 <= c.Out0 {
		return fmt.Errorf("output range %d..%d: %w", c.Out0, c.Out1, ErrInvalidConfig)
	}
	return nil
}

const (
	initialValue = 32767
	// consecutive same-direction large jumps accepted as a real step
	stepConfirm = 2
)

// Filter is an exponential low-pass with spike rejection. Small moves are
// smoothed; a large jump is ignored unless it repeats, in which case the
// filter snaps to it.
type Filter struct {
	cfg       Config
	scale     float64
	largeStep int

	mu      sync.Mutex
	value   int32
	outlier int8
}

func NewFilter(cfg Config) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	span := float64(cfg.In1 - cfg.In0)
	return &Filter{
		cfg:       cfg,
		scale:     float64(cfg.Out1-cfg.Out0) / span,
		largeStep: int(math.Round(0.2 * span)),
		value:     initialValue,
	}, nil
}

func (f *Filter) Update(raw uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sample := int32(raw)
	if sample == f.value {
		return
	}
	delta := sample - f.value
	candidate := int32(math.Round(float64(f.value)*(1-f.cfg.Gain) + float64(sample)*f.cfg.Gain))

	if absInt32(delta) < int32(f.largeStep) {
		f.outlier = 0
		if candidate == f.value {
			// gain too small to move; creep toward the sample
			if delta > 0 {
				f.value++
			} else {
				f.value--
			}
			return
		}
		f.value = candidate
		return
	}

	if delta > 0 {
		f.outlier++
	} else {
		f.outlier--
	}
	if f.outlier > stepConfirm || f.outlier < -stepConfirm {
		f.value = sample
		f.outlier = 0
	}
}

// Peek maps the filtered value onto the output range, clamped.
func (f *Filter) Peek() int {
	f.mu.Lock()
	v := f.value
	f.mu.Unlock()

	y := int(math.Round(float64(f.cfg.Out0) + f.scale*float64(int(v)-f.cfg.In0)))
	if y < f.cfg.Out0 {
		return f.cfg.Out0
	}
	if y > f.cfg.Out1 {
		return f.cfg.Out1
	}
	return y
}

// Value returns the filtered ADC-domain value.
func (f *Filter) Value() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Input binds a filter to an ADC channel.
type Input struct {
	*Filter
	adc hardware.AnalogInput
}

func NewInput(adc hardware.AnalogInput, cfg Config) (*Input, error) {
	f, err := NewFilter(cfg)
	if err != nil {
		return nil, err
	}
	return &Input{Filter: f, adc: adc}, nil
}

// Read samples the ADC, updates the filter and returns the scaled output.
// On a read error the filter is left untouched.
func (in *Input) Read() (int, error) {
	raw, err := in.adc.ReadU16()
	if err != nil {
		return 0, fmt.Errorf("failed to sample pot: %w", err)
	}
	in.Update(raw)
	return in.Peek(), nil
}
