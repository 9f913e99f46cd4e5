package hardware

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func ReadAdcValue(device string, channel int) (int, error) {
	path := filepath.Join(IioSysfsDir, device, fmt.Sprintf("in_voltage%d_raw", channel))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return -1, fmt.Errorf("ADC sysfs not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return -1, fmt.Errorf("failed reading %s: %w", path, err)
	}

	var value int
	_, err = fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &value)
	if err != nil {
		return -1, fmt.Errorf("failed parsing ADC value: %w", err)
	}

	return value, nil
}

// IioADC is one channel of an industrial-I/O ADC. Raw counts are shifted
// up to the 16-bit convention used by the filters.
type IioADC struct {
	Device  string
	Channel int
	Bits    int
}

func (a IioADC) ReadU16() (uint16, error) {
	raw, err := ReadAdcValue(a.Device, a.Channel)
	if err != nil {
		return 0, err
	}
	return scaleTo16(raw, a.Bits), nil
}

func scaleTo16(raw, bits int) uint16 {
	if bits <= 0 || bits > 16 {
		bits = 16
	}
	if raw < 0 {
		raw = 0
	}
	max := 1<<bits - 1
	if raw > max {
		raw = max
	}
	return uint16(raw << (16 - bits))
}
