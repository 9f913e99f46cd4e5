package motor

import "tankdrive/internal/types"

// Clipper enforces a coast zone around zero and saturates commands above
// what the driver can actually deliver.
type Clipper struct {
	Coast int
	Full  int
	Max   int
}

// NewClipper derives the saturation threshold from maxPWM. Commands from
// the 8-bit domain top out a little under 255*256, so anything above that
// is treated as full power.
func NewClipper(coast, maxPWM int) Clipper {
	if maxPWM <= 0 || maxPWM > types.MaxPWM {
		maxPWM = types.MaxPWM
	}
	if coast < 0 {
		coast = 0
	}
	full := 255*256 - 8
	if full > maxPWM {
		full = maxPWM
	}
	return Clipper{Coast: coast, Full: full, Max: maxPWM}
}

func (c Clipper) Clip(requested int) int {
	switch {
	case requested > 0:
		if requested > c.Full {
			return c.Max
		}
		if requested < c.Coast {
			return 0
		}
	case requested < 0:
		if requested < -c.Full {
			return -c.Max
		}
		if requested > -c.Coast {
			return 0
		}
	}
	return requested
}
