package motor

import (
	"fmt"

	"go.uber.org/multierr"

	"tankdrive/internal/hardware"
	"tankdrive/internal/logger"
)

// dualPWMBridge is an IBT-2 style module with the enable pins tied high:
// one PWM per rotation direction.
type dualPWMBridge struct {
	fwd hardware.PWMOutput
	rev hardware.PWMOutput
}

func NewDualPWMDrive(cfg Config, fwd, rev hardware.PWMOutput,
	sched hardware.Scheduler, l *logger.Logger) (*Motor, error) {
	b := &dualPWMBridge{fwd: fwd, rev: rev}
	if err := b.Brake(); err != nil {
		return nil, fmt.Errorf("failed to quiesce bridge %s: %w", cfg.ID, err)
	}
	return newMotor(cfg, b, sched, l), nil
}

func (b *dualPWMBridge) duties() (uint16, uint16, error) {
	f, errF := b.fwd.Duty()
	r, errR := b.rev.Duty()
	return f, r, multierr.Combine(errF, errR)
}

func (b *dualPWMBridge) Output() (int, uint16, error) {
	f, r, err := b.duties()
	if err != nil {
		return 0, 0, err
	}
	switch {
	case f > 0 && r > 0:
		return 0, 0, fmt.Errorf("fwd %d rev %d: %w", f, r, ErrBridgeFault)
	case f > 0:
		return 1, f, nil
	case r > 0:
		return -1, r, nil
	}
	return 0, 0, nil
}

// SetDirection is a no-op: the channel chosen in Drive is the direction.
func (b *dualPWMBridge) SetDirection(int) error { return nil }

// Drive zeroes the idle channel before powering the active one.
func (b *dualPWMBridge) Drive(dir int, duty uint16) error {
	if dir < 0 {
		if err := b.fwd.SetDuty(0); err != nil {
			return err
		}
		return b.rev.SetDuty(duty)
	}
	if err := b.rev.SetDuty(0); err != nil {
		return err
	}
	return b.fwd.SetDuty(duty)
}

func (b *dualPWMBridge) Brake() error {
	return multierr.Combine(b.rev.SetDuty(0), b.fwd.SetDuty(0))
}

func (b *dualPWMBridge) Describe() string {
	f, r, err := b.duties()
	if err != nil {
		return "fwd ? rev ?"
	}
	return fmt.Sprintf("fwd %d rev %d", f, r)
}
