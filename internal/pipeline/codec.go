package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrWebPUnavailable   = errors.New("webp export requires the govips build tag")
)

const defaultJPEGQuality = 90

// normalizeFormat maps extensions and decoder names onto the format names
// used throughout the package.
func normalizeFormat(format string) string {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), ".")) {
	case "jpg", "jpeg":
		return "jpeg"
	case "png":
		return "png"
	case "gif":
		return "gif"
	case "tif", "tiff":
		return "tiff"
	case "bmp":
		return "bmp"
	case "webp":
		return "webp"
	default:
		return ""
	}
}

// OutputFormat picks the encoding for path: its extension when recognised,
// else fallback, else png.
func OutputFormat(path, fallback string) string {
	if format := normalizeFormat(filepath.Ext(path)); format != "" {
		return format
	}
	if format := normalizeFormat(fallback); format != "" {
		return format
	}
	return "png"
}

func contentTypeForFormat(format string) string {
	switch normalizeFormat(format) {
	case "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "tiff":
		return "image/tiff"
	case "bmp":
		return "image/bmp"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

func decodeImage(data []byte) (*Image, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}

	pixels, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return NewImage(pixels, normalizeFormat(format)), nil
}

func encodeImage(w io.Writer, img *Image, format string, jpegQuality int) error {
	if img == nil || img.Pixels == nil {
		return errors.New("nothing to encode")
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = defaultJPEGQuality
	}

	if format == "webp" {
		data, err := encodeWebP(img.Pixels, jpegQuality)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	f, err := imaging.FormatFromExtension(format)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err := imaging.Encode(w, img.Pixels, f, imaging.JPEGQuality(jpegQuality)); err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}
	return nil
}
