package motor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"tankdrive/internal/hardware"
	"tankdrive/internal/logger"
	"tankdrive/internal/types"
)

// ErrBridgeFault means both directions of an H-bridge were found energized.
var ErrBridgeFault = errors.New("both bridge directions active")

// emergencyBurst is how many diagnostics follow an emergency stop.
const emergencyBurst = 11

// Drive is one motor as seen by the supervisor.
type Drive interface {
	// SetSpeed requests a signed speed in [-MaxPWM, MaxPWM]. Reversals are
	// sequenced through a brake and a timed restart.
	SetSpeed(requested int) error
	Stop() error
	// EmergencyStop brakes the motor. It never fails; output errors are
	// logged.
	EmergencyStop()
	Begin()
	StopDelay() time.Duration
	Direction() int
	ShowState()
	Show(n int)
	Snapshot() types.MotorSnapshot
}

// Bridge maps a direction and duty onto the physical outputs of one
// H-bridge wiring.
type Bridge interface {
	// Output reads the live direction (-1, 0, 1) and duty. It returns
	// ErrBridgeFault if both directions are driven.
	Output() (dir int, duty uint16, err error)
	// SetDirection prepares the outputs for dir without applying power.
	SetDirection(dir int) error
	Drive(dir int, duty uint16) error
	Brake() error
	Describe() string
}

type Config struct {
	ID     string
	Coast  int
	MaxPWM int
}

func DefaultConfig(id string) Config {
	return Config{
		ID:     id,
		Coast:  types.MaxPWM / 100,
		MaxPWM: types.MaxPWM,
	}
}

// Motor runs the STOP/RUNNING/STOPPING machine for one bridge. All state,
// including the live outputs, is read and written under mu; the restart
// timer takes the same lock.
type Motor struct {
	id     string
	bridge Bridge
	clip   Clipper
	sched  hardware.Scheduler
	logger *logger.Logger
	diag   *logger.Budget

	mu      sync.Mutex
	mode    types.MotorMode
	speed   int
	gen     uint64
	restart hardware.Timer
}

var _ Drive = (*Motor)(nil)

func newMotor(cfg Config, bridge Bridge, sched hardware.Scheduler, l *logger.Logger) *Motor {
	tagged := l.WithTag(cfg.ID)
	return &Motor{
		id:     cfg.ID,
		bridge: bridge,
		clip:   NewClipper(cfg.Coast, cfg.MaxPWM),
		sched:  sched,
		logger: tagged,
		diag:   logger.NewBudget(tagged, emergencyBurst),
		mode:   types.ModeStop,
	}
}

func (m *Motor) ID() string { return m.id }

func (m *Motor) Clipper() Clipper { return m.clip }

func (m *Motor) SetSpeed(requested int) error {
	cmd := m.clip.Clip(requested)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.diag.Printf("%s setSpeed %d", m.mode, cmd)

	if m.mode == types.ModeStopping {
		m.speed = cmd
		m.diag.Printf("delayed, stopping...")
		return nil
	}

	sgn, duty, err := m.bridge.Output()
	if err != nil {
		return m.faultLocked(err)
	}

	if sgn == 0 && cmd != 0 {
		if err := m.bridge.SetDirection(sign(cmd)); err != nil {
			return m.faultLocked(err)
		}
		if sgn, duty, err = m.bridge.Output(); err != nil {
			return m.faultLocked(err)
		}
	}

	spd := sgn * int(duty)
	m.diag.Printf("cmd %d current %d", cmd, spd)

	// A coasting motor has nothing to wait out, so only a live opposing
	// duty needs the brake and delayed restart.
	if cmd*spd >= 0 {
		return m.applyLocked(cmd, sgn)
	}

	delay := stopDelay(duty)
	if err := m.bridge.Brake(); err != nil {
		return m.faultLocked(err)
	}
	m.speed = cmd
	m.mode = types.ModeStopping
	m.gen++
	gen := m.gen
	m.restart = m.sched.AfterFunc(delay, func() { m.restartAfterStop(gen) })
	m.diag.Printf("waiting %v before direction change", delay)
	return nil
}

// applyLocked drives |cmd| in the direction of cmd, or in dir when cmd is
// zero, then reads the outputs back so speed reflects any quantization.
func (m *Motor) applyLocked(cmd, dir int) error {
	if cmd != 0 {
		dir = sign(cmd)
	}
	if err := m.bridge.Drive(dir, uint16(abs(cmd))); err != nil {
		return m.faultLocked(err)
	}
	d, duty, err := m.bridge.Output()
	if err != nil {
		return m.faultLocked(err)
	}
	m.speed = d * int(duty)
	m.mode = types.ModeRunning
	m.diag.Printf("speed updated %d", m.speed)
	return nil
}

func (m *Motor) restartAfterStop(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.mode != types.ModeStopping {
		return
	}
	m.restart = nil
	m.diag.Printf("restart")
	if err := m.applyLocked(m.speed, 0); err != nil {
		m.logger.Errorf("Restart after stop failed: %v", err)
		return
	}
	m.diag.Printf("resume %d", m.speed)
}

func (m *Motor) faultLocked(err error) error {
	m.logger.Errorf("Bridge error, stopping: %v", err)
	m.emergencyStopLocked()
	return fmt.Errorf("motor %s: %w", m.id, err)
}

func (m *Motor) stopLocked() error {
	if m.restart != nil {
		m.restart.Stop()
		m.restart = nil
	}
	m.gen++
	err := m.bridge.Brake()
	m.speed = 0
	m.mode = types.ModeStop
	return err
}

func (m *Motor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.stopLocked(); err != nil {
		return fmt.Errorf("motor %s: failed to brake: %w", m.id, err)
	}
	return nil
}

func (m *Motor) emergencyStopLocked() {
	if err := m.stopLocked(); err != nil {
		m.logger.Errorf("Brake during emergency stop failed: %v", err)
	}
	m.diag.Printf("Emergency stop")
	m.showLocked(emergencyBurst)
}

func (m *Motor) EmergencyStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergencyStopLocked()
}

// Begin puts the bridge in its safe start state.
func (m *Motor) Begin() { m.EmergencyStop() }

// Coast is speed zero; the clipper keeps the outputs unpowered.
func (m *Motor) Coast() error { return m.SetSpeed(0) }

// StopDelay estimates how long the motor needs to come to rest from its
// present duty: one millisecond per 512 counts, at least one.
func (m *Motor) StopDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir, duty, err := m.bridge.Output()
	if err != nil || dir == 0 {
		return time.Millisecond
	}
	return stopDelay(duty)
}

func stopDelay(duty uint16) time.Duration {
	ms := int(duty) / 512
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

func (m *Motor) Direction() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir, _, err := m.bridge.Output()
	if err != nil {
		return 0
	}
	return dir
}

func (m *Motor) Snapshot() types.MotorSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := types.MotorSnapshot{ID: m.id, Mode: m.mode, Speed: m.speed}
	if dir, duty, err := m.bridge.Output(); err == nil {
		snap.Duty = dir * int(duty)
	}
	return snap
}

func (m *Motor) ShowState() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.showStateLocked()
}

func (m *Motor) showStateLocked() {
	m.diag.EnsureOne()
	m.diag.Printf("%s %s speed %d\tcoast %d full %d max %d",
		m.bridge.Describe(), m.mode, m.speed, m.clip.Coast, m.clip.Full, m.clip.Max)
}

// Show lets the next n diagnostics through and dumps the current state.
func (m *Motor) Show(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.showLocked(n)
}

func (m *Motor) showLocked(n int) {
	m.diag.Allow(n + 1)
	m.diag.Printf("Show next %d messages", n)
	m.showStateLocked()
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
