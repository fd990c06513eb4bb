package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dunamismax/pixelbatch/internal/config"
)

// MaxObjectBytes bounds how much of an input object is read into memory.
const MaxObjectBytes int64 = 256 << 20

var ErrObjectNotFound = errors.New("object not found")

// Client reads and writes batch inputs and outputs in one S3-compatible
// bucket. Object keys are the paths rendered by output templates.
type Client struct {
	minio  *minio.Client
	bucket string
}

func NewClient(cfg config.StorageConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Client{
		minio:  mc,
		bucket: cfg.Bucket,
	}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := c.minio.BucketExists(ctx, c.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}

	return nil
}

func (c *Client) PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := c.minio.PresignedPutObject(ctx, c.bucket, objectKey, expiry)
	if err != nil {
		return "", fmt.Errorf("presign put object: %w", err)
	}
	return u.String(), nil
}

func (c *Client) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	_, err := c.minio.StatObject(ctx, c.bucket, objectKey, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}

	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", objectKey, err)
}

// ReadObject returns the whole object. Missing keys wrap ErrObjectNotFound;
// objects larger than MaxObjectBytes are rejected.
func (c *Client) ReadObject(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := c.minio.GetObject(ctx, c.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", objectKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, MaxObjectBytes+1))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, objectKey)
		}
		return nil, fmt.Errorf("read object %s: %w", objectKey, err)
	}
	if int64(len(data)) > MaxObjectBytes {
		return nil, fmt.Errorf("object %s exceeds %d bytes", objectKey, MaxObjectBytes)
	}
	return data, nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}

func (c *Client) WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error {
	reader := bytes.NewReader(data)
	_, err := c.minio.PutObject(
		ctx,
		c.bucket,
		objectKey,
		reader,
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return fmt.Errorf("put object %s: %w", objectKey, err)
	}
	return nil
}

// ListKeys returns the keys under prefix in lexical order, so a prefix can
// stand for a batch of inputs with stable sequence indexes.
func (c *Client) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range c.minio.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}
