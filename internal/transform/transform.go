// Package transform holds the concrete image transforms a pipeline is built
// from and the mapping from domain steps to them.
package transform

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/segment"
	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/dunamismax/pixelbatch/internal/domain"
	"github.com/dunamismax/pixelbatch/internal/pipeline"
)

var (
	ErrUnknownAction = errors.New("unknown transform action")
	ErrInvalidParams = errors.New("invalid transform parameters")
	ErrOutOfBounds   = errors.New("region outside image bounds")
)

// FromSteps builds one transform per step, in order.
func FromSteps(steps []domain.Step) ([]pipeline.Transform, error) {
	out := make([]pipeline.Transform, 0, len(steps))
	for i, step := range steps {
		t, err := FromStep(step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func FromStep(step domain.Step) (pipeline.Transform, error) {
	if !domain.KnownAction(step.Action) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, step.Action)
	}
	if err := step.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	switch strings.ToLower(strings.TrimSpace(step.Action)) {
	case domain.ActionResize:
		return Resize{Width: step.Width, Height: step.Height}, nil
	case domain.ActionFit:
		return Fit{Width: step.Width, Height: step.Height}, nil
	case domain.ActionThumbnail:
		return Thumbnail{Width: step.Width, Height: step.Height}, nil
	case domain.ActionCrop:
		return Crop{Rect: image.Rect(step.Crop.X1, step.Crop.Y1, step.Crop.X2, step.Crop.Y2)}, nil
	case domain.ActionRotate:
		bg, err := parseColor(step.Background, color.Transparent)
		if err != nil {
			return nil, fmt.Errorf("%w: background: %v", ErrInvalidParams, err)
		}
		return Rotate{Angle: step.Angle, Background: bg}, nil
	case domain.ActionFlip:
		return Flip{Horizontal: step.Horizontal}, nil
	case domain.ActionGrayscale:
		return Grayscale{}, nil
	case domain.ActionSharpen:
		return Sharpen{Sigma: step.Sigma}, nil
	case domain.ActionBlur:
		return Blur{Radius: step.Sigma}, nil
	case domain.ActionAdjust:
		return Adjust{
			Brightness: step.Adjust.Brightness,
			Contrast:   step.Adjust.Contrast,
			Gamma:      step.Adjust.Gamma,
			Saturation: step.Adjust.Saturation,
		}, nil
	case domain.ActionThreshold:
		return Threshold{Level: uint8(step.Level)}, nil
	case domain.ActionReplaceColor:
		return newReplaceColor(step.Replace)
	case domain.ActionWatermark:
		return Watermark{Text: step.Watermark.Text, Opacity: step.Watermark.Opacity, Gravity: step.Watermark.Gravity}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAction, step.Action)
}

// Resize scales to Width x Height; a zero dimension keeps the aspect ratio.
type Resize struct {
	Width, Height int
}

func (r Resize) Apply(_ context.Context, img *pipeline.Image) error {
	if r.Width < 0 || r.Height < 0 || (r.Width == 0 && r.Height == 0) {
		return fmt.Errorf("%w: resize %dx%d", ErrInvalidParams, r.Width, r.Height)
	}
	img.Pixels = imaging.Resize(img.Pixels, r.Width, r.Height, imaging.Lanczos)
	return nil
}

func (r Resize) String() string { return fmt.Sprintf("resize %dx%d", r.Width, r.Height) }

// Fit scales down to fit within Width x Height, keeping the aspect ratio.
type Fit struct {
	Width, Height int
}

func (f Fit) Apply(_ context.Context, img *pipeline.Image) error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: fit %dx%d", ErrInvalidParams, f.Width, f.Height)
	}
	img.Pixels = imaging.Fit(img.Pixels, f.Width, f.Height, imaging.Lanczos)
	return nil
}

func (f Fit) String() string { return fmt.Sprintf("fit %dx%d", f.Width, f.Height) }

// Thumbnail scales and center-crops to exactly Width x Height.
type Thumbnail struct {
	Width, Height int
}

func (t Thumbnail) Apply(_ context.Context, img *pipeline.Image) error {
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("%w: thumbnail %dx%d", ErrInvalidParams, t.Width, t.Height)
	}
	img.Pixels = imaging.Thumbnail(img.Pixels, t.Width, t.Height, imaging.Lanczos)
	return nil
}

func (t Thumbnail) String() string { return fmt.Sprintf("thumbnail %dx%d", t.Width, t.Height) }

// Crop keeps Rect, which is relative to the image origin and must lie
// within the image.
type Crop struct {
	Rect image.Rectangle
}

func (c Crop) Apply(_ context.Context, img *pipeline.Image) error {
	if c.Rect.Empty() {
		return fmt.Errorf("%w: empty crop region", ErrInvalidParams)
	}
	b := img.Pixels.Bounds()
	rect := c.Rect.Add(b.Min)
	if !rect.In(b) {
		return fmt.Errorf("%w: crop %v of %dx%d image", ErrOutOfBounds, c.Rect, b.Dx(), b.Dy())
	}
	img.Pixels = imaging.Crop(img.Pixels, rect)
	return nil
}

func (c Crop) String() string { return fmt.Sprintf("crop %v", c.Rect) }

// Rotate turns the image counter-clockwise by Angle degrees. Right angles are
// lossless; other angles grow the canvas and fill it with Background.
type Rotate struct {
	Angle      float64
	Background color.Color
}

func (r Rotate) Apply(_ context.Context, img *pipeline.Image) error {
	if math.IsNaN(r.Angle) || math.IsInf(r.Angle, 0) {
		return fmt.Errorf("%w: rotate angle %g", ErrInvalidParams, r.Angle)
	}
	angle := normalizeAngle(r.Angle)
	switch angle {
	case 0:
	case 90:
		img.Pixels = imaging.Rotate90(img.Pixels)
	case 180:
		img.Pixels = imaging.Rotate180(img.Pixels)
	case 270:
		img.Pixels = imaging.Rotate270(img.Pixels)
	default:
		bg := r.Background
		if bg == nil {
			bg = color.Transparent
		}
		img.Pixels = imaging.Rotate(img.Pixels, angle, bg)
	}
	return nil
}

func (r Rotate) String() string { return fmt.Sprintf("rotate %g", r.Angle) }

// normalizeAngle maps a finite angle into [0, 360).
func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 360)
	if a < 0 {
		a += 360
	}
	if a >= 360 {
		a = 0
	}
	return a
}

// Flip mirrors the image, left to right when Horizontal, else top to bottom.
type Flip struct {
	Horizontal bool
}

func (f Flip) Apply(_ context.Context, img *pipeline.Image) error {
	if f.Horizontal {
		img.Pixels = imaging.FlipH(img.Pixels)
	} else {
		img.Pixels = imaging.FlipV(img.Pixels)
	}
	return nil
}

func (f Flip) String() string {
	if f.Horizontal {
		return "flip horizontal"
	}
	return "flip vertical"
}

type Grayscale struct{}

func (Grayscale) Apply(_ context.Context, img *pipeline.Image) error {
	img.Pixels = imaging.Grayscale(img.Pixels)
	return nil
}

func (Grayscale) String() string { return "grayscale" }

type Sharpen struct {
	Sigma float64
}

func (s Sharpen) Apply(_ context.Context, img *pipeline.Image) error {
	if s.Sigma <= 0 {
		return fmt.Errorf("%w: sharpen sigma %g", ErrInvalidParams, s.Sigma)
	}
	img.Pixels = imaging.Sharpen(img.Pixels, s.Sigma)
	return nil
}

func (s Sharpen) String() string { return fmt.Sprintf("sharpen %g", s.Sigma) }

// Blur applies a gaussian blur with the given radius.
type Blur struct {
	Radius float64
}

func (b Blur) Apply(_ context.Context, img *pipeline.Image) error {
	if b.Radius <= 0 {
		return fmt.Errorf("%w: blur radius %g", ErrInvalidParams, b.Radius)
	}
	img.Pixels = blur.Gaussian(img.Pixels, b.Radius)
	return nil
}

func (b Blur) String() string { return fmt.Sprintf("blur %g", b.Radius) }

// Adjust applies relative brightness, contrast and saturation changes in
// [-1, 1] and an absolute gamma. Zero values are skipped.
type Adjust struct {
	Brightness float64
	Contrast   float64
	Gamma      float64
	Saturation float64
}

func (a Adjust) Apply(_ context.Context, img *pipeline.Image) error {
	for _, v := range []float64{a.Brightness, a.Contrast, a.Saturation} {
		if v < -1 || v > 1 {
			return fmt.Errorf("%w: adjustment %g outside [-1, 1]", ErrInvalidParams, v)
		}
	}
	if a.Gamma < 0 {
		return fmt.Errorf("%w: gamma %g", ErrInvalidParams, a.Gamma)
	}

	px := img.Pixels
	if a.Brightness != 0 {
		px = adjust.Brightness(px, a.Brightness)
	}
	if a.Contrast != 0 {
		px = adjust.Contrast(px, a.Contrast)
	}
	if a.Saturation != 0 {
		px = adjust.Saturation(px, a.Saturation)
	}
	if a.Gamma != 0 && a.Gamma != 1 {
		px = adjust.Gamma(px, a.Gamma)
	}
	img.Pixels = px
	return nil
}

func (a Adjust) String() string {
	return fmt.Sprintf("adjust b=%g c=%g g=%g s=%g", a.Brightness, a.Contrast, a.Gamma, a.Saturation)
}

// Threshold binarises the image: pixels at or above Level become white.
type Threshold struct {
	Level uint8
}

func (t Threshold) Apply(_ context.Context, img *pipeline.Image) error {
	img.Pixels = segment.Threshold(img.Pixels, t.Level)
	return nil
}

func (t Threshold) String() string { return fmt.Sprintf("threshold %d", t.Level) }

func parseColor(s string, fallback color.Color) (color.Color, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback, nil
	}
	c, err := colorful.Hex(hexPrefix(s))
	if err != nil {
		return nil, err
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}
