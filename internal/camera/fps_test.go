package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func keptPerWindow(d *DropSchedule) int {
	kept := 0
	for i := 0; i < d.StreamFPS; i++ {
		if d.Keep() {
			kept++
		}
	}
	return kept
}

func TestDropScheduleKeepsEffectiveRate(t *testing.T) {
	cases := []struct {
		stream, target int
	}{
		{30, 1}, {30, 8}, {30, 10}, {30, 15}, {30, 29},
		{25, 5}, {60, 24}, {15, 15},
	}
	for _, tc := range cases {
		d := NewDropSchedule(tc.stream, tc.target)
		assert.Equal(t, tc.target, keptPerWindow(d),
			"stream=%d target=%d", tc.stream, tc.target)
	}
}

func TestDropScheduleWraps(t *testing.T) {
	d := NewDropSchedule(30, 10)
	// Every window keeps the same count once the counter wraps.
	for w := 0; w < 3; w++ {
		assert.Equal(t, 10, keptPerWindow(d), "window %d", w)
	}
}

func TestDropScheduleClampsTarget(t *testing.T) {
	d := NewDropSchedule(30, 100)
	assert.Equal(t, 30, d.Effective)
	assert.Equal(t, 0, d.DropCount())

	d = NewDropSchedule(30, 0)
	assert.Equal(t, 1, d.Effective)
}

func TestDropScheduleUniformSpacing(t *testing.T) {
	d := NewDropSchedule(30, 15)
	// Dropping half the frames keeps every other one.
	pattern := make([]bool, 0, 30)
	for i := 0; i < 30; i++ {
		pattern = append(pattern, d.Keep())
	}
	run := 0
	for _, kept := range pattern {
		if !kept {
			run++
			assert.LessOrEqual(t, run, 1, "dropped frames must not cluster")
		} else {
			run = 0
		}
	}
}
