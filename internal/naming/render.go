package naming

import (
	"strconv"
	"strings"
)

// SplitExt returns the offset of the first byte of the extension of path:
// the byte after the last '.' in the final path segment, or len(path) when
// that segment has no '.'.
func SplitExt(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		switch path[i] {
		case '.':
			return i + 1
		case '/', '\\':
			return len(path)
		}
	}
	return len(path)
}

func baseStart(path string) int {
	return strings.LastIndexAny(path, `/\`) + 1
}

// views holds lazily computed offsets into one input. It lives for a single
// Render call.
type views struct {
	input     string
	extStart  int
	nameStart int
	nameEnd   int
	haveExt   bool
	haveName  bool
}

func (v *views) extension() string {
	if !v.haveExt {
		v.extStart = SplitExt(v.input)
		v.haveExt = true
	}
	return v.input[v.extStart:]
}

func (v *views) filename() string {
	if !v.haveName {
		v.extension()
		v.nameStart = baseStart(v.input)
		v.nameEnd = v.extStart
		if v.extStart != len(v.input) {
			v.nameEnd--
		}
		v.haveName = true
	}
	return v.input[v.nameStart:v.nameEnd]
}

func (v *views) path() string {
	v.filename()
	return v.input[:v.nameStart]
}

// Render expands the template for one input path and 1-based sequence index.
func (t *Template) Render(input string, index uint) string {
	v := views{input: input}

	var b strings.Builder
	b.Grow(len(input) + 16)
	for _, seg := range t.segments {
		switch s := seg.(type) {
		case literal:
			b.WriteString(string(s))
		case symbol:
			switch s.kind {
			case SymbolExtension:
				b.WriteString(v.extension())
			case SymbolFilename:
				b.WriteString(v.filename())
			case SymbolPath:
				b.WriteString(v.path())
			case SymbolWhole:
				b.WriteString(input)
			case SymbolIndex:
				writePadded(&b, index, s.width)
			}
		}
	}
	return b.String()
}

func writePadded(b *strings.Builder, index uint, width int) {
	digits := strconv.FormatUint(uint64(index), 10)
	for i := len(digits); i < width; i++ {
		b.WriteByte('0')
	}
	b.WriteString(digits)
}
