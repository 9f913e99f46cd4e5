//go:build linux

package hardware

import (
	"fmt"
	"sort"
	"sync"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"

	"tankdrive/internal/logger"
)

// LinuxHardwareIO drives GPIO lines through the character device interface.
// Inputs are requested with pull-ups and both-edge events so switch changes
// arrive as callbacks.
type LinuxHardwareIO struct {
	logger         *logger.Logger
	outputs        map[string]LineMapping
	inputs         map[string]LineMapping
	chips          map[int]*gpiocdev.Chip
	lines          map[string]*gpiocdev.Line
	inputCallbacks map[string]InputCallback
	initialValues  map[string]bool
	mu             sync.RWMutex
}

func NewLinuxHardwareIO(l *logger.Logger, outputs, inputs map[string]LineMapping) *LinuxHardwareIO {
	return &LinuxHardwareIO{
		logger:         l,
		outputs:        outputs,
		inputs:         inputs,
		chips:          make(map[int]*gpiocdev.Chip),
		lines:          make(map[string]*gpiocdev.Line),
		inputCallbacks: make(map[string]InputCallback),
		initialValues:  make(map[string]bool),
	}
}

func (io *LinuxHardwareIO) SetInitialValue(name string, value bool) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.initialValues[name] = value
}

func (io *LinuxHardwareIO) chip(n int) (*gpiocdev.Chip, error) {
	if c, ok := io.chips[n]; ok {
		return c, nil
	}
	c, err := gpiocdev.NewChip(fmt.Sprintf("gpiochip%d", n))
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %d: %w", n, err)
	}
	io.chips[n] = c
	return c, nil
}

func (io *LinuxHardwareIO) Initialize() error {
	io.logger.Infof("Initializing hardware IO")

	io.mu.Lock()
	defer io.mu.Unlock()

	for _, name := range sortedNames(io.outputs) {
		mapping := io.outputs[name]
		chip, err := io.chip(mapping.Chip)
		if err != nil {
			return err
		}

		val := 0
		if io.initialValues[name] {
			val = 1
		}

		line, err := chip.RequestLine(mapping.Line,
			gpiocdev.AsOutput(val),
			gpiocdev.WithConsumer(GpioConsumer))
		if err != nil {
			return fmt.Errorf("failed to request GPIO output %s (line %d): %w", name, mapping.Line, err)
		}

		io.lines[name] = line
		io.logger.Debugf("Configured DO %s: chip=%d, line=%d", name, mapping.Chip, mapping.Line)
	}

	for _, name := range sortedNames(io.inputs) {
		mapping := io.inputs[name]
		chip, err := io.chip(mapping.Chip)
		if err != nil {
			return err
		}

		line, err := chip.RequestLine(mapping.Line,
			gpiocdev.AsInput,
			gpiocdev.WithPullUp,
			gpiocdev.WithBothEdges,
			gpiocdev.WithConsumer(GpioConsumer),
			gpiocdev.WithEventHandler(io.edgeHandler(name)))
		if err != nil {
			return fmt.Errorf("failed to request GPIO input %s (line %d): %w", name, mapping.Line, err)
		}

		io.lines[name] = line
		io.logger.Debugf("Configured DI %s: chip=%d, line=%d", name, mapping.Chip, mapping.Line)
	}

	return nil
}

func sortedNames(m map[string]LineMapping) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// edgeHandler runs on the gpiocdev event goroutine.
func (io *LinuxHardwareIO) edgeHandler(channel string) func(gpiocdev.LineEvent) {
	return func(evt gpiocdev.LineEvent) {
		value := evt.Type == gpiocdev.LineEventRisingEdge

		io.mu.RLock()
		callback, exists := io.inputCallbacks[channel]
		io.mu.RUnlock()

		if !exists {
			io.logger.Debugf("No callback registered for channel: %s", channel)
			return
		}
		if err := callback(channel, value); err != nil {
			io.logger.Warnf("Error in callback for %s: %v", channel, err)
		}
	}
}

func (io *LinuxHardwareIO) RegisterInputCallback(channel string, callback InputCallback) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.inputCallbacks[channel] = callback
	io.logger.Debugf("Registered callback for channel: %s", channel)
}

func (io *LinuxHardwareIO) line(channel string) (*gpiocdev.Line, error) {
	io.mu.RLock()
	line, ok := io.lines[channel]
	io.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown GPIO channel: %s", channel)
	}
	return line, nil
}

func (io *LinuxHardwareIO) ReadDigitalInput(channel string) (bool, error) {
	line, err := io.line(channel)
	if err != nil {
		return false, err
	}
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", channel, err)
	}
	return v != 0, nil
}

func (io *LinuxHardwareIO) WriteDigitalOutput(channel string, value bool) error {
	line, err := io.line(channel)
	if err != nil {
		return err
	}

	val := 0
	if value {
		val = 1
	}

	if err := line.SetValue(val); err != nil {
		return fmt.Errorf("failed to set DO %s=%v: %w", channel, value, err)
	}
	return nil
}

// Output returns a handle bound to one named output line.
func (io *LinuxHardwareIO) Output(channel string) DigitalOutput {
	return &namedLine{io: io, channel: channel}
}

type namedLine struct {
	io      *LinuxHardwareIO
	channel string
}

func (n *namedLine) Set(value bool) error {
	return n.io.WriteDigitalOutput(n.channel, value)
}

func (n *namedLine) Get() (bool, error) {
	return n.io.ReadDigitalInput(n.channel)
}

func (io *LinuxHardwareIO) Cleanup() error {
	io.mu.Lock()
	defer io.mu.Unlock()

	io.logger.Infof("Cleaning up hardware resources")

	var err error
	for name, line := range io.lines {
		err = multierr.Append(err, line.Close())
		delete(io.lines, name)
	}
	for id, chip := range io.chips {
		err = multierr.Append(err, chip.Close())
		delete(io.chips, id)
	}
	return err
}
