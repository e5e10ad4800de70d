package mining

import "time"

// defaultThrottleStride is how many hashes pass between pauses. Power of two
// so the hot loop can use a bitmask test instead of a remainder.
const defaultThrottleStride = 128

// ThrottleController applies an optional bounded pause to a worker to cap its
// sustained hash rate. The pause fires when the hash counter crosses a
// power-of-two-aligned boundary, decided by a single AND plus compare.
type ThrottleController struct {
	pause  time.Duration
	mask   uint64
	active bool
}

// NewThrottleController builds a controller pausing for the given interval
// every stride hashes. A zero interval disables throttling entirely. Strides
// that are not powers of two are rounded down to the nearest one so the
// bitmask test stays exact.
func NewThrottleController(pause time.Duration, stride uint64) ThrottleController {
	if pause <= 0 {
		return ThrottleController{}
	}
	if stride == 0 {
		stride = defaultThrottleStride
	}
	return ThrottleController{
		pause:  pause,
		mask:   pow2Floor(stride) - 1,
		active: true,
	}
}

// Active reports whether throttling is configured.
func (t ThrottleController) Active() bool {
	return t.active
}

// MaybePause sleeps if the hash counter sits on a stride boundary.
func (t ThrottleController) MaybePause(hashCount uint64) {
	if t.active && hashCount&t.mask == 0 {
		time.Sleep(t.pause)
	}
}

// pow2Floor returns the largest power of two not exceeding n (n must be > 0).
func pow2Floor(n uint64) uint64 {
	p := uint64(1)
	for p<<1 != 0 && p<<1 <= n {
		p <<= 1
	}
	return p
}
