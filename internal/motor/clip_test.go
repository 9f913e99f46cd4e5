package motor

import (
	"testing"

	"tankdrive/internal/types"
)

func TestNewClipperThresholds(t *testing.T) {
	c := NewClipper(types.MaxPWM/100, types.MaxPWM)
	if c.Coast != 655 {
		t.Errorf("Expected coast 655, got %d", c.Coast)
	}
	if c.Full != 255*256-8 {
		t.Errorf("Expected full %d, got %d", 255*256-8, c.Full)
	}
	if c.Max != types.MaxPWM {
		t.Errorf("Expected max %d, got %d", types.MaxPWM, c.Max)
	}

	limited := NewClipper(100, 40000)
	if limited.Full != 40000 {
		t.Errorf("Expected full limited to max PWM, got %d", limited.Full)
	}

	bogus := NewClipper(-1, 0)
	if bogus.Max != types.MaxPWM || bogus.Coast != 0 {
		t.Errorf("Expected defaults for out of range config, got %+v", bogus)
	}
}

func TestClip(t *testing.T) {
	c := NewClipper(655, types.MaxPWM)

	tests := []struct {
		name      string
		requested int
		want      int
	}{
		{"zero", 0, 0},
		{"inside coast zone", 654, 0},
		{"inside coast zone reverse", -654, 0},
		{"coast threshold passes", 655, 655},
		{"coast threshold passes reverse", -655, -655},
		{"mid range", 30000, 30000},
		{"mid range reverse", -30000, -30000},
		{"at full", 65272, 65272},
		{"above full saturates", 65273, types.MaxPWM},
		{"above full saturates reverse", -65273, -types.MaxPWM},
		{"beyond max", 100000, types.MaxPWM},
		{"beyond max reverse", -100000, -types.MaxPWM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Clip(tt.requested); got != tt.want {
				t.Errorf("Clip(%d) = %d, want %d", tt.requested, got, tt.want)
			}
		})
	}
}

func TestClipCoastZoneProperty(t *testing.T) {
	c := NewClipper(655, types.MaxPWM)
	for v := -654; v <= 654; v++ {
		if got := c.Clip(v); got != 0 {
			t.Fatalf("Clip(%d) = %d, expected coast", v, got)
		}
	}
	for v := c.Full + 1; v <= types.MaxPWM+10; v++ {
		if got := c.Clip(v); got != c.Max {
			t.Fatalf("Clip(%d) = %d, expected saturation", v, got)
		}
		if got := c.Clip(-v); got != -c.Max {
			t.Fatalf("Clip(%d) = %d, expected saturation", -v, got)
		}
	}
}
