package transform

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/dunamismax/pixelbatch/internal/pipeline"
)

const (
	defaultWatermarkOpacity = 0.65
	watermarkPad            = 12
)

// Watermark draws Text in white at the edge or corner named by Gravity
// (northwest ... southeast, center). Unknown gravities mean southeast.
type Watermark struct {
	Text    string
	Opacity float64
	Gravity string
}

func (w Watermark) Apply(_ context.Context, img *pipeline.Image) error {
	text := strings.TrimSpace(w.Text)
	if text == "" {
		return fmt.Errorf("%w: watermark text is empty", ErrInvalidParams)
	}

	opacity := w.Opacity
	if opacity <= 0 {
		opacity = defaultWatermarkOpacity
	}
	opacity = math.Min(opacity, 1)

	face := basicfont.Face7x13
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	height := metrics.Height.Ceil()

	dc := gg.NewContextForImage(img.Pixels)
	dc.SetFontFace(face)
	width, _ := dc.MeasureString(text)

	x, baseline := watermarkPosition(image.Rect(0, 0, dc.Width(), dc.Height()), int(math.Ceil(width)), height, ascent, w.Gravity)
	dc.SetRGBA(1, 1, 1, opacity)
	dc.DrawString(text, float64(x), float64(baseline))

	img.Pixels = dc.Image()
	return nil
}

func (w Watermark) String() string { return fmt.Sprintf("watermark %q", w.Text) }

// watermarkPosition returns the text origin and baseline for gravity, kept
// inside bounds.
func watermarkPosition(bounds image.Rectangle, textWidth, textHeight, ascent int, gravity string) (int, int) {
	minX, minY := bounds.Min.X, bounds.Min.Y
	maxX, maxY := bounds.Max.X, bounds.Max.Y

	left := minX + watermarkPad
	center := minX + (bounds.Dx()-textWidth)/2
	right := maxX - textWidth - watermarkPad

	top := minY + watermarkPad + ascent
	middle := minY + (bounds.Dy()-textHeight)/2 + ascent
	bottom := maxY - watermarkPad

	var x, y int
	switch strings.ToLower(strings.TrimSpace(gravity)) {
	case "northwest":
		x, y = left, top
	case "north":
		x, y = center, top
	case "northeast":
		x, y = right, top
	case "west":
		x, y = left, middle
	case "center":
		x, y = center, middle
	case "east":
		x, y = right, middle
	case "southwest":
		x, y = left, bottom
	case "south":
		x, y = center, bottom
	default:
		x, y = right, bottom
	}
	return clamp(x, minX, maxX), clamp(y, minY+ascent, maxY)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
