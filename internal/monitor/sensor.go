// Package monitor consumes detection bundles, debounces them through
// per-category sensors and drives the scene state machines that emit
// operation instructions (warnings, recording, messages).
package monitor

import (
	"github.com/yujun2647/watchdog/internal/config"
	"github.com/yujun2647/watchdog/internal/media"
)

// carLabels are the vehicle categories the car sensor reacts to.
var carLabels = map[string]struct{}{
	"car": {}, "truck": {}, "bus": {}, "boat": {}, "train": {},
}

// Sensor debounces raw detections with a dual-threshold hysteresis:
// SENSED after senseSecTH seconds of continuous evidence, back to
// NOT_SENSED after notSenseSecTH seconds (with a frame floor absorbing
// one or two missed detections at low fps).
type Sensor struct {
	name          string
	labels        map[string]struct{}
	senseSecTH    float64
	notSenseSecTH float64
	minArea       float64
	maxArea       float64

	sensed      bool
	senseNum    int
	notSenseNum int
}

func NewPersonSensor() *Sensor {
	return &Sensor{
		name:          "person",
		labels:        map[string]struct{}{"person": {}},
		senseSecTH:    config.PersonSenseSecTH,
		notSenseSecTH: config.PersonNotSenseSecTH,
		minArea:       config.MinDetectArea,
		maxArea:       config.MaxDetectArea,
	}
}

func NewCarSensor() *Sensor {
	return &Sensor{
		name:          "car",
		labels:        carLabels,
		senseSecTH:    config.DefaultSenseSecTH,
		notSenseSecTH: config.DefaultNotSenseSecTH,
		minArea:       config.MinDetectArea,
		maxArea:       config.MaxDetectAreaCar,
	}
}

func (s *Sensor) Name() string { return s.name }
func (s *Sensor) Sensed() bool { return s.sensed }

// Feed processes one bundle and returns the debounced state.
func (s *Sensor) Feed(dets []media.Detection, fps int) bool {
	if fps < 1 {
		fps = 1
	}
	if s.hit(dets) {
		s.senseNum++
		s.notSenseNum = 0
		if !s.sensed && s.senseNum >= s.senseFrames(fps) {
			s.sensed = true
		}
	} else {
		s.senseNum = 0
		if s.sensed {
			s.notSenseNum++
			if s.notSenseNum >= s.notSenseFrames(fps) {
				s.sensed = false
				s.notSenseNum = 0
			}
		}
	}
	return s.sensed
}

func (s *Sensor) senseFrames(fps int) int {
	n := int(float64(fps) * s.senseSecTH)
	if n < 1 {
		n = 1
	}
	return n
}

func (s *Sensor) notSenseFrames(fps int) int {
	n := int(float64(fps) * s.notSenseSecTH)
	if n < config.NotSenseFrameFloor {
		n = config.NotSenseFrameFloor
	}
	return n
}

// hit reports whether the bundle contains at least one detection that
// survives the label, area and target-area filters.
func (s *Sensor) hit(dets []media.Detection) bool {
	for _, d := range dets {
		if !d.IsDetected {
			continue
		}
		if _, ok := s.labels[d.Label]; !ok {
			continue
		}
		area := d.AreaRatio()
		if area < s.minArea || area > s.maxArea {
			continue
		}
		if !centerInTargetArea(d) {
			continue
		}
		return true
	}
	return false
}

// centerInTargetArea requires the detection's center point to lie inside
// the configured center box.
func centerInTargetArea(d media.Detection) bool {
	if d.FrameWidth <= 0 || d.FrameHeight <= 0 {
		return false
	}
	cx, cy := d.Center()
	x0 := config.CenterBox.X0 * float64(d.FrameWidth)
	x1 := config.CenterBox.X1 * float64(d.FrameWidth)
	y0 := config.CenterBox.Y0 * float64(d.FrameHeight)
	y1 := config.CenterBox.Y1 * float64(d.FrameHeight)
	fx, fy := float64(cx), float64(cy)
	return fx >= x0 && fx <= x1 && fy >= y0 && fy <= y1
}
