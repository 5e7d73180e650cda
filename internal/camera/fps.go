package camera

import "math"

// DropSchedule coerces a source running at streamFPS down to an effective
// rate by deterministically dropping frames: over any streamFPS-sized
// window the dropped indices are uniformly spaced, leaving the effective
// count kept. The index counter wraps at streamFPS.
type DropSchedule struct {
	StreamFPS int
	Effective int
	drops     map[int]struct{}
	idx       int
}

func NewDropSchedule(streamFPS, target int) *DropSchedule {
	if streamFPS < 1 {
		streamFPS = 1
	}
	if target < 1 {
		target = 1
	}
	if target > streamFPS {
		target = streamFPS
	}
	d := &DropSchedule{
		StreamFPS: streamFPS,
		Effective: target,
		drops:     make(map[int]struct{}),
	}
	diff := streamFPS - target
	if diff > 0 {
		avg := float64(streamFPS) / float64(diff)
		for k := 1; k <= diff; k++ {
			i := int(math.Ceil(avg * float64(k)))
			if i > streamFPS {
				i = streamFPS
			}
			d.drops[i] = struct{}{}
		}
	}
	return d
}

// Keep advances the frame index and reports whether this frame survives.
func (d *DropSchedule) Keep() bool {
	d.idx++
	if d.idx > d.StreamFPS {
		d.idx = 1
	}
	_, dropped := d.drops[d.idx]
	return !dropped
}

// DropCount returns how many indices per window are dropped.
func (d *DropSchedule) DropCount() int { return len(d.drops) }
