package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/librescoot/librefsm"
	"go.uber.org/multierr"

	"tankdrive/internal/command"
	"tankdrive/internal/fsm"
	"tankdrive/internal/hardware"
	"tankdrive/internal/logger"
	"tankdrive/internal/messaging"
	"tankdrive/internal/motor"
	"tankdrive/internal/types"
)

// Options holds the supervisor timing and scaling.
type Options struct {
	TickPeriod        time.Duration
	AnalogPeriod      time.Duration
	DeadmanTimeout    time.Duration
	MinDeadmanTimeout time.Duration // q values at or below this are rejected
	SpeedScale        int           // 8-bit command to PWM domain
	DiagBudget        int
}

func DefaultOptions() Options {
	return Options{
		TickPeriod:        100 * time.Millisecond,
		AnalogPeriod:      50 * time.Millisecond,
		DeadmanTimeout:    20 * time.Second,
		MinDeadmanTimeout: 10 * time.Millisecond,
		SpeedScale:        257,
		DiagBudget:        9,
	}
}

// Deps are the collaborators TankDrive is wired to. Messaging and
// Commands may be nil.
type Deps struct {
	IO        HardwareIO
	Messaging MessagingClient
	Scheduler hardware.Scheduler
	Left      motor.Drive
	Right     motor.Drive
	PotL      AnalogSource
	PotR      AnalogSource
	Commands  *command.Tokenizer
	Logger    *logger.Logger
}

// remoteQueueSize bounds command words received over Redis between ticks.
const remoteQueueSize = 32

type TankDrive struct {
	io       HardwareIO
	redis    MessagingClient
	sched    hardware.Scheduler
	left     motor.Drive
	right    motor.Drive
	potL     AnalogSource
	potR     AnalogSource
	commands *command.Tokenizer
	logger   *logger.Logger
	diag     *logger.Budget
	opts     Options

	machine *librefsm.Machine

	mu             sync.Mutex
	lastCommand    time.Time
	deadmanTimeout time.Duration
	ledOn          bool
	tickTimer      hardware.Timer
	analogTimer    hardware.Timer

	// analogMu orders analog speed updates against stops
	analogMu      sync.Mutex
	analogEnabled bool

	remote chan string
	outbox chan func(MessagingClient) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTankDrive(deps Deps, opts Options) (*TankDrive, error) {
	if deps.IO == nil || deps.Scheduler == nil || deps.Left == nil || deps.Right == nil {
		return nil, errors.New("tankdrive: IO, scheduler and both motors are required")
	}
	if deps.PotL == nil || deps.PotR == nil {
		return nil, errors.New("tankdrive: both pots are required")
	}
	if opts.TickPeriod <= 0 || opts.AnalogPeriod <= 0 {
		return nil, fmt.Errorf("tankdrive: invalid periods tick=%v analog=%v", opts.TickPeriod, opts.AnalogPeriod)
	}
	if opts.DeadmanTimeout <= opts.MinDeadmanTimeout {
		return nil, fmt.Errorf("tankdrive: deadman timeout %v not above floor %v", opts.DeadmanTimeout, opts.MinDeadmanTimeout)
	}
	if opts.SpeedScale <= 0 {
		opts.SpeedScale = 257
	}

	l := deps.Logger
	if l == nil {
		l = logger.NewLogger(nil, logger.LogLevelNone)
	}
	l = l.WithTag("supervisor")

	return &TankDrive{
		io:             deps.IO,
		redis:          deps.Messaging,
		sched:          deps.Scheduler,
		left:           deps.Left,
		right:          deps.Right,
		potL:           deps.PotL,
		potR:           deps.PotR,
		commands:       deps.Commands,
		logger:         l,
		diag:           logger.NewBudget(l, opts.DiagBudget),
		opts:           opts,
		deadmanTimeout: opts.DeadmanTimeout,
		remote:         make(chan string, remoteQueueSize),
		outbox:         make(chan func(MessagingClient) error, 64),
	}, nil
}

// Start puts both bridges in their safe state, starts the state machine and
// the tick. Messaging is optional: failures are logged and the control
// loop runs without it.
func (t *TankDrive) Start(ctx context.Context) error {
	t.logger.Infof("Starting drive supervisor")
	t.ctx, t.cancel = context.WithCancel(ctx)

	t.left.Begin()
	t.right.Begin()

	if err := t.initFSM(t.ctx); err != nil {
		return fmt.Errorf("failed to initialize FSM: %w", err)
	}

	if t.redis != nil {
		t.redis.SetCallbacks(messaging.Callbacks{
			CommandCallback:  t.handleRemoteCommand,
			SettingsCallback: t.handleSettingsUpdate,
		})
		t.loadSettings()
		if err := t.redis.StartListening(); err != nil {
			t.logger.Warnf("Failed to start Redis listeners: %v", err)
		}
		t.wg.Add(1)
		go t.publisher()
	}

	t.io.RegisterInputCallback(hardware.ChannelDeadman, t.handleDeadmanSwitch)
	t.io.RegisterInputCallback(hardware.ChannelAnalogOverride, t.handleOverrideSwitch)

	t.mu.Lock()
	t.lastCommand = t.sched.Now()
	t.mu.Unlock()
	t.setLED(true) // hardware initialized

	t.checkOverrideSwitch()

	t.mu.Lock()
	t.tickTimer = t.sched.Every(t.opts.TickPeriod, t.Tick)
	t.mu.Unlock()

	t.logger.Infof("Drive supervisor started, deadman timeout %v", t.DeadmanTimeout())
	return nil
}

// Shutdown stops the tick and the analog timer, then brings both motors to
// STOP.
func (t *TankDrive) Shutdown() error {
	t.logger.Infof("Shutting down drive supervisor")

	t.mu.Lock()
	if t.tickTimer != nil {
		t.tickTimer.Stop()
		t.tickTimer = nil
	}
	if t.analogTimer != nil {
		t.analogTimer.Stop()
		t.analogTimer = nil
	}
	t.mu.Unlock()

	err := multierr.Combine(t.left.Stop(), t.right.Stop())
	if err != nil {
		t.logger.Errorf("Failed to stop motors cleanly: %v", err)
		t.left.EmergencyStop()
		t.right.EmergencyStop()
	}

	err = multierr.Append(err, t.io.WriteDigitalOutput(hardware.ChannelLED, false))

	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()

	if t.redis != nil {
		err = multierr.Append(err, t.redis.Close())
	}
	return err
}

// Tick is the supervisor's periodic step.
func (t *TankDrive) Tick() {
	now := t.sched.Now()

	processed := t.drainCommands(now)
	t.checkOverrideSwitch()

	// liveness: blink when idle
	if !processed {
		t.toggleHeartbeat()
	}

	t.checkDeadman(now)
	t.queueSnapshot(t.Snapshot())
}

func (t *TankDrive) checkDeadman(now time.Time) {
	if t.machine.CurrentState() != fsm.StateSerialDriving {
		return
	}

	t.mu.Lock()
	elapsed := now.Sub(t.lastCommand)
	timeout := t.deadmanTimeout
	t.mu.Unlock()

	if elapsed <= timeout {
		return
	}
	if err := t.sendEvent(fsm.EvDeadmanTimeout); err != nil {
		t.logger.Errorf("Deadman event failed, stopping directly: %v", err)
		t.emergencyStopAll("Deadman command timeout")
	}
}

func (t *TankDrive) emergencyStopAll(reason string) {
	t.logger.Warnf("%s", reason)
	t.right.EmergencyStop()
	t.left.EmergencyStop()
}

func (t *TankDrive) stopAll() {
	if err := multierr.Combine(t.left.Stop(), t.right.Stop()); err != nil {
		t.logger.Errorf("Stop failed: %v", err)
		t.emergencyStopAll("Stop failed")
	}
}

func (t *TankDrive) setLED(on bool) {
	t.mu.Lock()
	t.ledOn = on
	t.mu.Unlock()
	if err := t.io.WriteDigitalOutput(hardware.ChannelLED, on); err != nil {
		t.logger.Debugf("Failed to set LED: %v", err)
	}
}

func (t *TankDrive) toggleHeartbeat() {
	t.mu.Lock()
	on := !t.ledOn
	t.mu.Unlock()
	t.setLED(on)
}

// LED reports the heartbeat LED state last written.
func (t *TankDrive) LED() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ledOn
}

func (t *TankDrive) DeadmanTimeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadmanTimeout
}

// Stopped reports whether the supervisor considers the motors stopped.
func (t *TankDrive) Stopped() bool {
	s := t.machine.CurrentState()
	return s == fsm.StateSerialStopped || s == fsm.StateOverrideStopped
}

func (t *TankDrive) AnalogOverride() bool {
	return isOverride(t.machine.CurrentState())
}

func (t *TankDrive) Snapshot() types.DriveSnapshot {
	return t.snapshotFor(t.machine.CurrentState())
}

// snapshotFor builds a snapshot without querying the machine, so it is safe
// inside state change callbacks.
func (t *TankDrive) snapshotFor(state librefsm.StateID) types.DriveSnapshot {
	ds := stateIDToDriveState(state)
	return types.DriveSnapshot{
		State:            ds,
		Stopped:          ds == types.StateStopped || ds == types.StateOverrideStopped,
		AnalogOverride:   isOverride(state),
		DeadmanTimeoutMs: int(t.DeadmanTimeout() / time.Millisecond),
		Left:             t.left.Snapshot(),
		Right:            t.right.Snapshot(),
	}
}

// Left and Right expose the motors to the bench console.
func (t *TankDrive) Left() motor.Drive  { return t.left }
func (t *TankDrive) Right() motor.Drive { return t.right }

// queue hands work to the publisher goroutine without blocking the
// control path.
func (t *TankDrive) queue(work func(MessagingClient) error) {
	if t.redis == nil {
		return
	}
	select {
	case t.outbox <- work:
	default:
		t.logger.Debugf("Messaging outbox full, dropping update")
	}
}

func (t *TankDrive) queueSnapshot(s types.DriveSnapshot) {
	t.queue(func(m MessagingClient) error { return m.PublishDriveState(s) })
}

func (t *TankDrive) reportFault(code types.FaultCode, info string) {
	t.queue(func(m MessagingClient) error { return m.ReportFaultPresent(code, info) })
}

func (t *TankDrive) clearFault(code types.FaultCode) {
	t.queue(func(m MessagingClient) error { return m.ReportFaultAbsent(code) })
}

func (t *TankDrive) publisher() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case work := <-t.outbox:
			if err := work(t.redis); err != nil {
				t.logger.Debugf("Messaging update failed: %v", err)
			}
		}
	}
}

func (t *TankDrive) loadSettings() {
	ms, ok, err := t.redis.GetDeadmanTimeout()
	if err != nil {
		t.logger.Warnf("Failed to load deadman timeout: %v", err)
		return
	}
	if !ok {
		return
	}
	if !t.setDeadmanTimeout(ms, false) {
		t.logger.Warnf("Ignoring stored deadman timeout %d ms", ms)
	}
}

// setDeadmanTimeout accepts values above the floor and within
// MaxDeadmanTimeoutMs; otherwise the current timeout is kept.
func (t *TankDrive) setDeadmanTimeout(ms int, persist bool) bool {
	if ms > types.MaxDeadmanTimeoutMs {
		t.diag.Printf("deadman timeout %d ms rejected, limit %d ms", ms, types.MaxDeadmanTimeoutMs)
		return false
	}
	d := time.Duration(ms) * time.Millisecond
	if d <= t.opts.MinDeadmanTimeout {
		t.diag.Printf("deadman timeout %d ms rejected, floor %v", ms, t.opts.MinDeadmanTimeout)
		return false
	}

	t.mu.Lock()
	t.deadmanTimeout = d
	t.mu.Unlock()
	t.logger.Infof("+ deadman timeout %d ms", ms)

	if persist {
		t.queue(func(m MessagingClient) error { return m.SaveDeadmanTimeout(ms) })
	}
	return true
}
