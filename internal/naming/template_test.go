package naming

import (
	"errors"
	"testing"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name  string
		tmpl  string
		input string
		index uint
		want  string
	}{
		{"filename and extension", "%f%x", "/a/b/c.png", 1, "cpng"},
		{"full rebuild with padded index", "%p%f_%2.%x", "/a/b/c.png", 3, "/a/b/c_03.png"},
		{"path only", "%p", "/a/b/c.png", 1, "/a/b/"},
		{"whole input", "out/%c", "a/b.jpg", 1, "out/a/b.jpg"},
		{"no extension", "[%f][%x]", "/a/b/c", 1, "[c][]"},
		{"no separator", "[%p][%f][%x]", "c.tar.gz", 1, "[][c.tar][gz]"},
		{"dot in directory only", "[%p][%f][%x]", "/a.d/c", 1, "[/a.d/][c][]"},
		{"trailing separator", "[%p][%f][%x]", "/a/b/", 1, "[/a/b/][][]"},
		{"dotfile", "[%f][%x]", "/home/.bashrc", 1, "[][bashrc]"},
		{"trailing dot keeps dot in name", "[%f][%x]", "dir/b.", 1, "[b.][]"},
		{"backslash separators", "%p%f.bak", `C:\scores\page.png`, 1, `C:\scores\page.bak`},
		{"unpadded index", "page%0", "x", 42, "page42"},
		{"index wider than padding", "%2", "x", 1234, "1234"},
		{"max padding", "%9", "x", 7, "000000007"},
		{"escaped percent", "100%%_%f", "a/b.png", 1, "100%_b"},
		{"trailing symbol", "pre_%f", "a/b.png", 1, "pre_b"},
		{"repeated symbols", "%f-%f.%x.%x", "a/b.png", 1, "b-b.png.png"},
		{"index zero", "%3", "x", 0, "000"},
		{"empty input", "[%p][%f][%x][%c]", "", 1, "[][][][]"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tmpl, err := Parse(tc.tmpl)
			if err != nil {
				t.Fatalf("parse %q: %v", tc.tmpl, err)
			}
			if got := tmpl.Render(tc.input, tc.index); got != tc.want {
				t.Fatalf("Render(%q, %d) = %q, want %q", tc.input, tc.index, got, tc.want)
			}
		})
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	tmpl := MustParse("%p%f_%4.%x")
	first := tmpl.Render("/scores/part.png", 12)
	for i := 0; i < 10; i++ {
		if got := tmpl.Render("/scores/part.png", 12); got != first {
			t.Fatalf("render %d = %q, want %q", i, got, first)
		}
	}
}

func TestLiteralTemplateRendersVerbatim(t *testing.T) {
	for _, lit := range []string{"out.png", "a/b/c", "no-escapes-here.jpeg"} {
		tmpl := MustParse(lit)
		for _, input := range []string{"", "/x/y.png", "z"} {
			if got := tmpl.Render(input, 9); got != lit {
				t.Fatalf("Render(%q) with template %q = %q", input, lit, got)
			}
		}
	}
}

func TestEmptyTemplate(t *testing.T) {
	tmpl, err := Parse("")
	if err != nil {
		t.Fatalf("parse empty template: %v", err)
	}
	if !tmpl.IsEmpty() {
		t.Fatal("expected empty template to report IsEmpty")
	}
	if got := tmpl.Render("/a/b/c.png", 5); got != "" {
		t.Fatalf("expected empty render, got %q", got)
	}

	for _, s := range []string{"%f", "x", "%%"} {
		if MustParse(s).IsEmpty() {
			t.Fatalf("template %q must not be empty", s)
		}
	}
}

func TestParseInvalidEscape(t *testing.T) {
	tests := []struct {
		tmpl   string
		offset int
		char   byte
	}{
		{"%q", 1, 'q'},
		{"out/%f_%i.png", 8, 'i'},
		{"%F", 1, 'F'},
		{"trailing%", 9, 0},
	}

	for _, tc := range tests {
		_, err := Parse(tc.tmpl)
		if !errors.Is(err, ErrInvalidEscape) {
			t.Fatalf("Parse(%q) error = %v, want ErrInvalidEscape", tc.tmpl, err)
		}
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("Parse(%q) error is %T, want *ParseError", tc.tmpl, err)
		}
		if perr.Offset != tc.offset || perr.Char != tc.char {
			t.Fatalf("Parse(%q) offset=%d char=%q, want offset=%d char=%q", tc.tmpl, perr.Offset, perr.Char, tc.offset, tc.char)
		}
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	MustParse("%z")
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "%p%f_%2.%x", "50%%/%c", "%0%1%9", "plain"} {
		tmpl := MustParse(s)
		again, err := Parse(tmpl.String())
		if err != nil {
			t.Fatalf("reparse %q: %v", tmpl.String(), err)
		}
		if tmpl.String() != s {
			t.Fatalf("String() = %q, want %q", tmpl.String(), s)
		}
		for _, input := range []string{"/a/b/c.png", "x"} {
			if a, b := tmpl.Render(input, 3), again.Render(input, 3); a != b {
				t.Fatalf("round trip of %q renders %q vs %q", s, a, b)
			}
		}
	}
}

func TestSymbols(t *testing.T) {
	got := MustParse("%p%f_%3.%x").Symbols()
	want := []Symbol{SymbolPath, SymbolFilename, SymbolIndex, SymbolExtension}
	if len(got) != len(want) {
		t.Fatalf("symbols = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("symbols = %v, want %v", got, want)
		}
	}
}

func TestSplitExt(t *testing.T) {
	tests := map[string]int{
		"c.png":      2,
		"/a/b/c.png": 7,
		"/a.b/c":     6,
		"":           0,
		"a.":         2,
		`x\y.z`:      4,
	}
	for in, want := range tests {
		if got := SplitExt(in); got != want {
			t.Fatalf("SplitExt(%q) = %d, want %d", in, got, want)
		}
	}
}

func BenchmarkRender(b *testing.B) {
	tmpl := MustParse("%p%f_%4.%x")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = tmpl.Render("/var/scores/opus-12/page.png", uint(i))
	}
}
