package media

import "image/color"

// Detection is one labeled box reported by the detector for a frame.
// A record with IsDetected=false means "frame FrameID had no detections";
// the marker relies on these sentinels so it never starves waiting for a
// bundle that will not come.
type Detection struct {
	FrameID     uint64
	FPS         int
	Label       string
	X, Y, W, H  int
	Confidence  float64
	Color       color.RGBA
	IsDetected  bool
	FrameWidth  int
	FrameHeight int
}

// Sentinel builds the no-detection record for a frame. It carries the
// frame's real dimensions so the record stays self-describing.
func Sentinel(f *Frame) Detection {
	return Detection{
		FrameID:     f.ID,
		FPS:         f.FPS,
		IsDetected:  false,
		FrameWidth:  f.Width,
		FrameHeight: f.Height,
	}
}

// AreaRatio returns the box area as a fraction of the frame area.
func (d Detection) AreaRatio() float64 {
	if d.FrameWidth <= 0 || d.FrameHeight <= 0 {
		return 0
	}
	return float64(d.W) * float64(d.H) / (float64(d.FrameWidth) * float64(d.FrameHeight))
}

// Center returns the box center point.
func (d Detection) Center() (int, int) {
	return d.X + d.W/2, d.Y + d.H/2
}
