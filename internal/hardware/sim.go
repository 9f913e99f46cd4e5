package hardware

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInjected is returned by simulated devices after Fail has been called.
var ErrInjected = errors.New("injected hardware fault")

// SimPWM is an in-memory PWM channel. Quantum models a timer with fewer
// than 16 bits: written duties are rounded down to a multiple of it.
type SimPWM struct {
	mu      sync.Mutex
	duty    uint16
	Quantum uint16
	writes  int
	fail    error
}

func (p *SimPWM) SetDuty(duty uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	if p.Quantum > 1 && duty != 65535 {
		duty -= duty % p.Quantum
	}
	p.duty = duty
	p.writes++
	return nil
}

func (p *SimPWM) Duty() (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return 0, p.fail
	}
	return p.duty, nil
}

// Writes returns how many duty writes succeeded.
func (p *SimPWM) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// Fail makes every following call return err; nil clears it.
func (p *SimPWM) Fail(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

// SimLine is an in-memory digital line usable as input or output.
type SimLine struct {
	mu    sync.Mutex
	value bool
	fail  error
}

func NewSimLine(value bool) *SimLine {
	return &SimLine{value: value}
}

func (l *SimLine) Set(value bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return l.fail
	}
	l.value = value
	return nil
}

func (l *SimLine) Get() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return false, l.fail
	}
	return l.value, nil
}

func (l *SimLine) Fail(err error) {
	l.mu.Lock()
	l.fail = err
	l.mu.Unlock()
}

// SimADC returns whatever sample was last stored.
type SimADC struct {
	mu     sync.Mutex
	sample uint16
	fail   error
}

func NewSimADC(sample uint16) *SimADC {
	return &SimADC{sample: sample}
}

func (a *SimADC) Store(sample uint16) {
	a.mu.Lock()
	a.sample = sample
	a.mu.Unlock()
}

func (a *SimADC) ReadU16() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return 0, a.fail
	}
	return a.sample, nil
}

func (a *SimADC) Fail(err error) {
	a.mu.Lock()
	a.fail = err
	a.mu.Unlock()
}

// SimStream is a ByteStream fed from the test or the bench console.
type SimStream struct {
	mu  sync.Mutex
	buf []byte
}

func (s *SimStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.buf = append(s.buf, p...)
	s.mu.Unlock()
	return len(p), nil
}

func (s *SimStream) WriteString(str string) {
	s.Write([]byte(str))
}

func (s *SimStream) Buffered() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf), nil
}

func (s *SimStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// SimIO is a named-channel GPIO bank with the same surface as
// LinuxHardwareIO. SimulateInput changes an input level and fires its
// callback like an edge event would.
type SimIO struct {
	mu        sync.RWMutex
	values    map[string]bool
	callbacks map[string]InputCallback
}

func NewSimIO() *SimIO {
	return &SimIO{
		values:    make(map[string]bool),
		callbacks: make(map[string]InputCallback),
	}
}

func (io *SimIO) RegisterInputCallback(channel string, callback InputCallback) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.callbacks[channel] = callback
}

func (io *SimIO) ReadDigitalInput(channel string) (bool, error) {
	io.mu.RLock()
	defer io.mu.RUnlock()
	v, ok := io.values[channel]
	if !ok {
		return false, fmt.Errorf("unknown GPIO channel: %s", channel)
	}
	return v, nil
}

func (io *SimIO) WriteDigitalOutput(channel string, value bool) error {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.values[channel] = value
	return nil
}

// SetLevel changes a level without firing callbacks.
func (io *SimIO) SetLevel(channel string, value bool) {
	io.mu.Lock()
	io.values[channel] = value
	io.mu.Unlock()
}

func (io *SimIO) SimulateInput(channel string, value bool) error {
	io.mu.Lock()
	prev, known := io.values[channel]
	io.values[channel] = value
	callback := io.callbacks[channel]
	io.mu.Unlock()

	if known && prev == value {
		return nil
	}
	if callback == nil {
		return nil
	}
	return callback(channel, value)
}

func (io *SimIO) Output(channel string) DigitalOutput {
	return simNamedLine{io: io, channel: channel}
}

type simNamedLine struct {
	io      *SimIO
	channel string
}

func (n simNamedLine) Set(value bool) error {
	return n.io.WriteDigitalOutput(n.channel, value)
}

func (n simNamedLine) Get() (bool, error) {
	return n.io.ReadDigitalInput(n.channel)
}
