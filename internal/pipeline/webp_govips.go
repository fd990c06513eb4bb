//go:build govips && cgo

package pipeline

import (
	"bytes"
	"fmt"
	"image"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"
)

// encodeWebP hands a lossless PNG of pixels to libvips and exports WebP.
func encodeWebP(pixels image.Image, quality int) ([]byte, error) {
	if err := Startup(); err != nil {
		return nil, err
	}

	var png bytes.Buffer
	if err := imaging.Encode(&png, pixels, imaging.PNG); err != nil {
		return nil, fmt.Errorf("stage png for webp: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(png.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load into vips: %w", err)
	}
	defer ref.Close()

	params := vips.NewWebpExportParams()
	if quality > 0 && quality <= 100 {
		params.Quality = quality
	}
	data, _, err := ref.ExportWebp(params)
	if err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return data, nil
}
