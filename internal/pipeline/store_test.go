package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStoreSavePicksFormatFromExtension(t *testing.T) {
	tmp := t.TempDir()
	store := LocalStore{JPEGQuality: 70}
	img := testImage(8, 8)

	dst := filepath.Join(tmp, "nested", "dir", "out.jpg")
	if err := store.Save(context.Background(), img, dst); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("expected jpeg output: %v", err)
	}

	loaded, err := store.Load(context.Background(), dst)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Format != "jpeg" || loaded.Width() != 8 || loaded.Height() != 8 {
		t.Fatalf("unexpected loaded image: format=%s %dx%d", loaded.Format, loaded.Width(), loaded.Height())
	}
}

func TestLocalStoreFallsBackToSourceFormat(t *testing.T) {
	tmp := t.TempDir()
	img := testImage(2, 2)
	img.Format = "png"

	dst := filepath.Join(tmp, "page.out")
	if err := (LocalStore{}).Save(context.Background(), img, dst); err != nil {
		t.Fatalf("save: %v", err)
	}
	readPNG(t, dst)
}

func TestLocalStoreLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.png")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := (LocalStore{}).Load(context.Background(), path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestObjectStoreRoundTrip(t *testing.T) {
	client := &fakeObjects{objects: map[string][]byte{}, types: map[string]string{}}
	store := ObjectStore{Storage: client}

	if err := store.Save(context.Background(), testImage(5, 4), "/outputs/page_01.png"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if client.types["outputs/page_01.png"] != "image/png" {
		t.Fatalf("unexpected content type %q", client.types["outputs/page_01.png"])
	}

	img, err := store.Load(context.Background(), "outputs/page_01.png")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if img.Width() != 5 || img.Height() != 4 {
		t.Fatalf("unexpected size %dx%d", img.Width(), img.Height())
	}
}

func TestObjectStoreRequiresClient(t *testing.T) {
	if _, err := (ObjectStore{}).Load(context.Background(), "k"); err == nil {
		t.Fatal("expected error without client")
	}
}

func TestOutputFormat(t *testing.T) {
	tests := []struct {
		path, fallback, want string
	}{
		{"a.JPG", "png", "jpeg"},
		{"a.tif", "", "tiff"},
		{"a.webp", "png", "webp"},
		{"a.unknown", "gif", "gif"},
		{"noext", "", "png"},
	}
	for _, tc := range tests {
		if got := OutputFormat(tc.path, tc.fallback); got != tc.want {
			t.Fatalf("OutputFormat(%q, %q) = %q, want %q", tc.path, tc.fallback, got, tc.want)
		}
	}
}

func TestEncodeWebPWithoutVips(t *testing.T) {
	if _, err := encodeWebP(testImage(1, 1).Pixels, 80); err != nil && !errors.Is(err, ErrWebPUnavailable) {
		t.Fatalf("unexpected webp error: %v", err)
	}
}

type fakeObjects struct {
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeObjects) ReadObject(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (f *fakeObjects) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	f.objects[key] = data
	f.types[key] = contentType
	return nil
}
