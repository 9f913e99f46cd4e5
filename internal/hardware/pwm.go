package hardware

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// SysfsPWM is a PWM channel exported through /sys/class/pwm. The kernel
// works in nanoseconds, so the 16-bit duty is scaled to the period and
// reading it back returns the quantized value.
type SysfsPWM struct {
	dir      string
	periodNs int64
	mu       sync.Mutex
}

func OpenSysfsPWM(chip, channel, freqHz int) (*SysfsPWM, error) {
	if freqHz <= 0 {
		freqHz = DefaultPWMFrequency
	}

	chipDir := filepath.Join(PwmSysfsDir, fmt.Sprintf("pwmchip%d", chip))
	dir := filepath.Join(chipDir, fmt.Sprintf("pwm%d", channel))

	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := writeSysfs(filepath.Join(chipDir, "export"), strconv.Itoa(channel)); err != nil {
			return nil, fmt.Errorf("failed to export PWM %d/%d: %w", chip, channel, err)
		}
		// udev needs a moment to fix permissions on the new node
		if err := waitForPath(filepath.Join(dir, "duty_cycle"), 500*time.Millisecond); err != nil {
			return nil, err
		}
	}

	p := &SysfsPWM{
		dir:      dir,
		periodNs: int64(time.Second) / int64(freqHz),
	}

	// duty must never exceed the period, so clear it before resizing
	if err := writeSysfs(filepath.Join(dir, "duty_cycle"), "0"); err != nil {
		return nil, fmt.Errorf("failed to clear PWM duty: %w", err)
	}
	if err := writeSysfs(filepath.Join(dir, "period"), strconv.FormatInt(p.periodNs, 10)); err != nil {
		return nil, fmt.Errorf("failed to set PWM period: %w", err)
	}
	if err := writeSysfs(filepath.Join(dir, "enable"), "1"); err != nil {
		return nil, fmt.Errorf("failed to enable PWM: %w", err)
	}
	return p, nil
}

func (p *SysfsPWM) SetDuty(duty uint16) error {
	ns := p.periodNs * int64(duty) / 65535

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := writeSysfs(filepath.Join(p.dir, "duty_cycle"), strconv.FormatInt(ns, 10)); err != nil {
		return fmt.Errorf("failed to set PWM duty %d: %w", duty, err)
	}
	return nil
}

func (p *SysfsPWM) Duty() (uint16, error) {
	p.mu.Lock()
	data, err := os.ReadFile(filepath.Join(p.dir, "duty_cycle"))
	p.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("failed to read PWM duty: %w", err)
	}

	ns, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed parsing PWM duty: %w", err)
	}
	if ns <= 0 {
		return 0, nil
	}
	if ns >= p.periodNs {
		return 65535, nil
	}
	return uint16((ns*65535 + p.periodNs/2) / p.periodNs), nil
}

func (p *SysfsPWM) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return multierr.Combine(
		writeSysfs(filepath.Join(p.dir, "duty_cycle"), "0"),
		writeSysfs(filepath.Join(p.dir, "enable"), "0"),
	)
}

func writeSysfs(path, value string) error {
	return os.WriteFile(path, []byte(value), 0)
}

func waitForPath(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err == nil {
			return f.Close()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %s: %w", path, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
