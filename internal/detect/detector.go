// Package detect runs the detector stage: parallel workers feeding frames
// to an external object detector and publishing detection bundles to the
// marker and monitor inputs.
package detect

import (
	"context"
	"image/color"

	"github.com/yujun2647/watchdog/internal/media"
)

// Detector is the external model behind the stage. Implementations must
// be safe for concurrent calls from multiple workers; latency is bounded
// but not real-time, the marker tolerates late bundles.
type Detector interface {
	Detect(ctx context.Context, frame *media.Frame) ([]media.Detection, error)
}

// Func adapts a plain function to the Detector interface.
type Func func(ctx context.Context, frame *media.Frame) ([]media.Detection, error)

func (f Func) Detect(ctx context.Context, frame *media.Frame) ([]media.Detection, error) {
	return f(ctx, frame)
}

// labelColors gives each known label a stable display color; anything
// else renders red.
var labelColors = map[string]color.RGBA{
	"person": {R: 0, G: 255, B: 0, A: 255},
	"car":    {R: 0, G: 165, B: 255, A: 255},
	"truck":  {R: 0, G: 165, B: 255, A: 255},
	"bus":    {R: 0, G: 165, B: 255, A: 255},
	"boat":   {R: 0, G: 165, B: 255, A: 255},
	"train":  {R: 0, G: 165, B: 255, A: 255},
}

func colorFor(label string) color.RGBA {
	if c, ok := labelColors[label]; ok {
		return c
	}
	return color.RGBA{R: 255, A: 255}
}
