//go:build govips && cgo

package pipeline

import (
	"bytes"
	"testing"
)

func TestEncodeWebPWithVips(t *testing.T) {
	if err := Startup(); err != nil {
		t.Fatalf("startup: %v", err)
	}
	if err := Startup(); err != nil {
		t.Fatalf("second startup must be a no-op: %v", err)
	}

	data, err := encodeWebP(testImage(4, 4).Pixels, 80)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) || !bytes.Contains(data[:16], []byte("WEBP")) {
		t.Fatalf("output is not a webp container: % x", data[:min(16, len(data))])
	}
}
