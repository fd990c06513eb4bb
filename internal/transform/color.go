package transform

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/dunamismax/pixelbatch/internal/domain"
	"github.com/dunamismax/pixelbatch/internal/pipeline"
)

// ReplaceColor swaps every pixel within Tolerance of Target, measured as
// CIE L*a*b* distance, for Replacement. Alpha is preserved.
type ReplaceColor struct {
	Target      colorful.Color
	Replacement colorful.Color
	Tolerance   float64
}

func newReplaceColor(r *domain.ColorReplace) (ReplaceColor, error) {
	target, err := colorful.Hex(hexPrefix(r.Target))
	if err != nil {
		return ReplaceColor{}, fmt.Errorf("%w: target %q: %v", ErrInvalidParams, r.Target, err)
	}
	replacement, err := colorful.Hex(hexPrefix(r.Replacement))
	if err != nil {
		return ReplaceColor{}, fmt.Errorf("%w: replacement %q: %v", ErrInvalidParams, r.Replacement, err)
	}
	if r.Tolerance < 0 {
		return ReplaceColor{}, fmt.Errorf("%w: tolerance %g", ErrInvalidParams, r.Tolerance)
	}
	return ReplaceColor{Target: target, Replacement: replacement, Tolerance: r.Tolerance}, nil
}

func (rc ReplaceColor) Apply(ctx context.Context, img *pipeline.Image) error {
	b := img.Pixels.Bounds()
	dst := image.NewNRGBA(b)
	rr, rg, rb := rc.Replacement.RGB255()

	for y := b.Min.Y; y < b.Max.Y; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			px := color.NRGBAModel.Convert(img.Pixels.At(x, y)).(color.NRGBA)
			c, ok := colorful.MakeColor(px)
			if ok && c.DistanceLab(rc.Target) <= rc.Tolerance {
				px.R, px.G, px.B = rr, rg, rb
			}
			dst.SetNRGBA(x, y, px)
		}
	}
	img.Pixels = dst
	return nil
}

func (rc ReplaceColor) String() string {
	return fmt.Sprintf("replace_color %s->%s", rc.Target.Hex(), rc.Replacement.Hex())
}

func hexPrefix(s string) string {
	if len(s) > 0 && s[0] != '#' {
		return "#" + s
	}
	return s
}
