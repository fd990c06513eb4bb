package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store loads inputs and persists results.
type Store interface {
	Load(ctx context.Context, path string) (*Image, error)
	Save(ctx context.Context, img *Image, path string) error
}

// LocalStore reads and writes the local filesystem. Missing parent
// directories of an output path are created.
type LocalStore struct {
	JPEGQuality int
}

func (LocalStore) Load(ctx context.Context, path string) (*Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", path, err)
	}
	img, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func (s LocalStore) Save(ctx context.Context, img *Image, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := encodeImage(&buf, img, OutputFormat(path, img.Format), s.JPEGQuality); err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}

// ObjectClient is the subset of storage.Client the object store needs.
type ObjectClient interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// ObjectStore treats paths as object keys in an S3-compatible bucket.
type ObjectStore struct {
	Storage     ObjectClient
	JPEGQuality int
}

func (s ObjectStore) Load(ctx context.Context, key string) (*Image, error) {
	if s.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	data, err := s.Storage.ReadObject(ctx, objectKey(key))
	if err != nil {
		return nil, err
	}
	img, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return img, nil
}

func (s ObjectStore) Save(ctx context.Context, img *Image, key string) error {
	if s.Storage == nil {
		return errors.New("storage client is required")
	}

	format := OutputFormat(key, img.Format)
	var buf bytes.Buffer
	if err := encodeImage(&buf, img, format, s.JPEGQuality); err != nil {
		return err
	}
	return s.Storage.WriteObject(ctx, objectKey(key), buf.Bytes(), contentTypeForFormat(format))
}

// objectKey strips leading separators; templates built for local paths often
// start with '/'.
func objectKey(key string) string {
	return strings.TrimLeft(filepath.ToSlash(key), "/")
}
