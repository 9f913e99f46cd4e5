package motor

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"tankdrive/internal/hardware"
	"tankdrive/internal/logger"
	"tankdrive/internal/types"
)

// optoBridge is the opto-isolated board with one enable PWM and two
// direction lines:
//
//	PWM  FWD  REV
//	 0    x    x   coast
//	 x    1    1   coast
//	 1    1    0   forward
//	 1    0    1   reverse
//	 1    0    0   brake
type optoBridge struct {
	pwm        hardware.PWMOutput
	fwd        hardware.DigitalOutput
	rev        hardware.DigitalOutput
	switchTime time.Duration
}

// NewOptoDrive builds a motor on the opto-isolated bridge. The bridge is
// put into coast before the motor is returned.
func NewOptoDrive(cfg Config, pwm hardware.PWMOutput, fwd, rev hardware.DigitalOutput,
	switchTime time.Duration, sched hardware.Scheduler, l *logger.Logger) (*Motor, error) {
	b := &optoBridge{pwm: pwm, fwd: fwd, rev: rev, switchTime: switchTime}

	err := multierr.Combine(
		pwm.SetDuty(0),
		fwd.Set(false),
		rev.Set(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to quiesce bridge %s: %w", cfg.ID, err)
	}
	return newMotor(cfg, b, sched, l), nil
}

// settle waits out the opto switch time while the motor lock is held. It is
// microseconds on real bridges and must stay that way.
func (b *optoBridge) settle() {
	if b.switchTime > 0 {
		time.Sleep(b.switchTime)
	}
}

func (b *optoBridge) lines() (fwd, rev bool, err error) {
	fwd, errF := b.fwd.Get()
	rev, errR := b.rev.Get()
	return fwd, rev, multierr.Combine(errF, errR)
}

func (b *optoBridge) Output() (int, uint16, error) {
	fwd, rev, err := b.lines()
	if err != nil {
		return 0, 0, err
	}
	duty, err := b.pwm.Duty()
	if err != nil {
		return 0, 0, err
	}

	switch {
	case fwd && rev:
		if duty > 0 {
			return 0, duty, fmt.Errorf("fwd and rev high at duty %d: %w", duty, ErrBridgeFault)
		}
		return 0, 0, nil
	case fwd:
		return 1, duty, nil
	case rev:
		return -1, duty, nil
	}
	return 0, duty, nil
}

// SetDirection coasts, then flips the lines. The line being released is
// always dropped before the other is raised.
func (b *optoBridge) SetDirection(dir int) error {
	if err := b.pwm.SetDuty(0); err != nil {
		return err
	}
	b.settle()

	var err error
	switch {
	case dir > 0:
		err = multierr.Append(b.rev.Set(false), b.fwd.Set(true))
	case dir < 0:
		err = multierr.Append(b.fwd.Set(false), b.rev.Set(true))
	default:
		err = multierr.Append(b.fwd.Set(false), b.rev.Set(false))
	}
	if err != nil {
		return err
	}
	b.settle()
	return nil
}

func (b *optoBridge) Drive(dir int, duty uint16) error {
	if dir != 0 {
		fwd, rev, err := b.lines()
		if err != nil {
			return err
		}
		current := 0
		if fwd && !rev {
			current = 1
		} else if rev && !fwd {
			current = -1
		}
		if current != dir {
			if err := b.SetDirection(dir); err != nil {
				return err
			}
		}
	}
	return b.pwm.SetDuty(duty)
}

// Brake runs the e-brake sequence: coast, release both lines, then full
// PWM with both lines low. Every step is attempted even if one fails.
func (b *optoBridge) Brake() error {
	err := b.pwm.SetDuty(0)
	b.settle()
	err = multierr.Append(err, b.fwd.Set(false))
	err = multierr.Append(err, b.rev.Set(false))
	b.settle()
	return multierr.Append(err, b.pwm.SetDuty(types.MaxPWM))
}

func (b *optoBridge) Describe() string {
	duty, errP := b.pwm.Duty()
	fwd, rev, errL := b.lines()
	if errP != nil || errL != nil {
		return "pwm ? fwd ? rev ?"
	}
	return fmt.Sprintf("pwm %d fwd %v rev %v switch %v", duty, fwd, rev, b.switchTime)
}
