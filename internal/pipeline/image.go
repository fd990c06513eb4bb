package pipeline

import "image"

// Image is the unit transforms mutate. Transforms replace Pixels in place;
// Format is the decoded source format and the encode fallback when an output
// path has no recognised extension.
type Image struct {
	Pixels image.Image
	Format string
}

func NewImage(pixels image.Image, format string) *Image {
	return &Image{Pixels: pixels, Format: format}
}

func (img *Image) Width() int {
	if img == nil || img.Pixels == nil {
		return 0
	}
	return img.Pixels.Bounds().Dx()
}

func (img *Image) Height() int {
	if img == nil || img.Pixels == nil {
		return 0
	}
	return img.Pixels.Bounds().Dy()
}

// Input is one batch item: either a path to load or an image already in
// memory. Tag stands in for the path when rendering output names for
// in-memory images.
type Input struct {
	Path  string
	Image *Image
	Tag   string
}

func FileInput(path string) Input {
	return Input{Path: path}
}

func ImageInput(img *Image, tag string) Input {
	return Input{Image: img, Tag: tag}
}

// Source is the string output names are derived from.
func (in Input) Source() string {
	if in.Image != nil {
		return in.Tag
	}
	return in.Path
}

// Output describes a processed item. Path is empty when nothing was written;
// Image is only retained in that case.
type Output struct {
	Index  uint
	Source string
	Path   string
	Format string
	Width  int
	Height int
	Image  *Image
}
