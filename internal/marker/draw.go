package marker

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/yujun2647/watchdog/internal/config"
	"github.com/yujun2647/watchdog/internal/media"
)

const (
	boxThickness    = 2
	bracketFraction = 0.15
	minBoxAreaRatio = 0.02
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// ToRGBA converts a decoded image into a drawable RGBA buffer.
func ToRGBA(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return rgba
}

// DrawDetections renders each surviving detection: a center dot, the
// rectangle, the label string and four corner brackets. Boxes under 2% of
// the frame area are rejected as noise.
func DrawDetections(img *image.RGBA, dets []media.Detection) {
	for _, d := range dets {
		if !d.IsDetected || d.AreaRatio() < minBoxAreaRatio {
			continue
		}
		cx, cy := d.Center()
		drawDot(img, cx, cy, 3, d.Color)
		drawRect(img, d.X, d.Y, d.W, d.H, d.Color, boxThickness)
		drawCorners(img, d.X, d.Y, d.W, d.H, int(float64(d.W)*bracketFraction), d.Color)
		drawLabel(img, d.X, d.Y-5, fmt.Sprintf("%s: %.2f", d.Label, d.Confidence), d.Color)
	}
}

// DrawCenterBox overlays the monitored region of interest with white
// corner brackets so the target area is visible on the stream.
func DrawCenterBox(img *image.RGBA) {
	b := img.Bounds()
	x := int(float64(b.Dx()) * config.CenterBox.X0)
	y := int(float64(b.Dy()) * config.CenterBox.Y0)
	w := int(float64(b.Dx()) * (config.CenterBox.X1 - config.CenterBox.X0))
	h := int(float64(b.Dy()) * (config.CenterBox.Y1 - config.CenterBox.Y0))
	drawCorners(img, x, y, w, h, int(float64(w)*bracketFraction), white)
}

// DrawTrace stamps the frame's delay-trace ribbon as text lines in the
// top-left corner.
func DrawTrace(img *image.RGBA, f *media.Frame) {
	y := 16
	for _, tp := range f.Trace {
		drawLabel(img, 4, y, fmt.Sprintf("%s %dms", tp.Tag, tp.Elapsed.Milliseconds()), white)
		y += 14
	}
}

func drawDot(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	b := img.Bounds()
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			if x >= b.Min.X && x < b.Max.X && y >= b.Min.Y && y < b.Max.Y {
				img.Set(x, y, c)
			}
		}
	}
}

func drawRect(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	b := img.Bounds()
	for t := 0; t < thickness; t++ {
		for i := x; i < x+w && i < b.Max.X; i++ {
			if i < 0 {
				continue
			}
			if y+t >= 0 && y+t < b.Max.Y {
				img.Set(i, y+t, c)
			}
			if y+h-t >= 0 && y+h-t < b.Max.Y {
				img.Set(i, y+h-t, c)
			}
		}
		for j := y; j < y+h && j < b.Max.Y; j++ {
			if j < 0 {
				continue
			}
			if x+t >= 0 && x+t < b.Max.X {
				img.Set(x+t, j, c)
			}
			if x+w-t >= 0 && x+w-t < b.Max.X {
				img.Set(x+w-t, j, c)
			}
		}
	}
}

// drawCorners draws four L-shaped brackets of the given arm length at the
// box corners, slightly thicker than the rectangle so they read at a
// glance.
func drawCorners(img *image.RGBA, x, y, w, h, arm int, c color.RGBA) {
	if arm < 4 {
		arm = 4
	}
	th := boxThickness + 1
	// top-left
	drawHLine(img, x, y, arm, th, c)
	drawVLine(img, x, y, arm, th, c)
	// top-right
	drawHLine(img, x+w-arm, y, arm, th, c)
	drawVLine(img, x+w, y, arm, th, c)
	// bottom-left
	drawHLine(img, x, y+h, arm, th, c)
	drawVLine(img, x, y+h-arm, arm, th, c)
	// bottom-right
	drawHLine(img, x+w-arm, y+h, arm, th, c)
	drawVLine(img, x+w, y+h-arm, arm, th, c)
}

func drawHLine(img *image.RGBA, x, y, length, thickness int, c color.RGBA) {
	b := img.Bounds()
	for t := 0; t < thickness; t++ {
		for i := x; i < x+length; i++ {
			if i >= 0 && i < b.Max.X && y+t >= 0 && y+t < b.Max.Y {
				img.Set(i, y+t, c)
			}
		}
	}
}

func drawVLine(img *image.RGBA, x, y, length, thickness int, c color.RGBA) {
	b := img.Bounds()
	for t := 0; t < thickness; t++ {
		for j := y; j < y+length; j++ {
			if x+t >= 0 && x+t < b.Max.X && j >= 0 && j < b.Max.Y {
				img.Set(x+t, j, c)
			}
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 10 {
		y = 10
	}
	if x < 0 {
		x = 0
	}

	bg := color.RGBA{A: 180}
	textWidth := len(label) * 7
	b := img.Bounds()
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if px >= 0 && px < b.Max.X && py >= 0 && py < b.Max.Y {
				img.Set(px, py, bg)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
