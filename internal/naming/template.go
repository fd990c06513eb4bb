package naming

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidEscape is returned when a '%' is followed by a character that is
// not part of the template language, or by nothing at all.
var ErrInvalidEscape = errors.New("invalid escape character")

// ParseError describes where a template failed to parse.
type ParseError struct {
	Template string
	Offset   int  // byte offset of the escape character
	Char     byte // 0 when the template ends right after '%'
}

func (e *ParseError) Error() string {
	if e.Char == 0 {
		return fmt.Sprintf("template %q: dangling %% at offset %d: %v", e.Template, e.Offset-1, ErrInvalidEscape)
	}
	return fmt.Sprintf("template %q: %%%c at offset %d: %v", e.Template, e.Char, e.Offset-1, ErrInvalidEscape)
}

func (e *ParseError) Unwrap() error {
	return ErrInvalidEscape
}

// Symbol identifies the input-derived value a symbolic segment expands to.
type Symbol uint8

const (
	SymbolPath Symbol = iota + 1
	SymbolFilename
	SymbolExtension
	SymbolWhole
	SymbolIndex
)

func (s Symbol) String() string {
	switch s {
	case SymbolPath:
		return "path"
	case SymbolFilename:
		return "filename"
	case SymbolExtension:
		return "extension"
	case SymbolWhole:
		return "whole"
	case SymbolIndex:
		return "index"
	default:
		return "unknown"
	}
}

// segment is either a literal or a symbol.
type segment interface {
	isSegment()
}

type literal string

type symbol struct {
	kind  Symbol
	width int // zero-padding for SymbolIndex
}

func (literal) isSegment() {}
func (symbol) isSegment()  {}

// Template is a parsed output-name template. The segment list always ends
// with a literal, so rendering never looks ahead.
type Template struct {
	segments []segment
}

// Parse compiles a template string.
func Parse(tmpl string) (*Template, error) {
	var (
		segments []segment
		buf      strings.Builder
		escaped  bool
	)

	closeLiteral := func() {
		segments = append(segments, literal(buf.String()))
		buf.Reset()
	}

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if !escaped {
			if c == '%' {
				escaped = true
			} else {
				buf.WriteByte(c)
			}
			continue
		}

		escaped = false
		var sym symbol
		switch {
		case c == '%':
			buf.WriteByte('%')
			continue
		case c >= '0' && c <= '9':
			sym = symbol{kind: SymbolIndex, width: int(c - '0')}
		case c == 'x':
			sym = symbol{kind: SymbolExtension}
		case c == 'f':
			sym = symbol{kind: SymbolFilename}
		case c == 'p':
			sym = symbol{kind: SymbolPath}
		case c == 'c':
			sym = symbol{kind: SymbolWhole}
		default:
			return nil, &ParseError{Template: tmpl, Offset: i, Char: c}
		}
		closeLiteral()
		segments = append(segments, sym)
	}
	if escaped {
		return nil, &ParseError{Template: tmpl, Offset: len(tmpl)}
	}
	closeLiteral()

	return &Template{segments: segments}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(tmpl string) *Template {
	t, err := Parse(tmpl)
	if err != nil {
		panic(err)
	}
	return t
}

// IsEmpty reports whether the template renders to the empty string for every
// input.
func (t *Template) IsEmpty() bool {
	if len(t.segments) != 1 {
		return false
	}
	lit, ok := t.segments[0].(literal)
	return ok && lit == ""
}

// Symbols lists the symbolic segments in template order.
func (t *Template) Symbols() []Symbol {
	var out []Symbol
	for _, seg := range t.segments {
		if sym, ok := seg.(symbol); ok {
			out = append(out, sym.kind)
		}
	}
	return out
}

// String returns the template in canonical form; Parse(t.String()) yields an
// equivalent template.
func (t *Template) String() string {
	var b strings.Builder
	for _, seg := range t.segments {
		switch s := seg.(type) {
		case literal:
			b.WriteString(strings.ReplaceAll(string(s), "%", "%%"))
		case symbol:
			b.WriteByte('%')
			switch s.kind {
			case SymbolIndex:
				b.WriteByte(byte('0' + s.width))
			case SymbolExtension:
				b.WriteByte('x')
			case SymbolFilename:
				b.WriteByte('f')
			case SymbolPath:
				b.WriteByte('p')
			case SymbolWhole:
				b.WriteByte('c')
			}
		}
	}
	return b.String()
}
