package store

import (
	"context"
	"errors"
	"strings"

	"github.com/dunamismax/pixelbatch/internal/domain"
)

var ErrBatchNotFound = errors.New("batch not found")

// BatchStore keeps batches and the per-item results reported by workers.
// RecordItem is idempotent per (batch, index): a retried item replaces its
// earlier result. MarkFailed is terminal: RecordItem keeps the failed status.
type BatchStore interface {
	Create(ctx context.Context, batch domain.Batch) error
	Get(ctx context.Context, id string) (domain.Batch, bool, error)
	RecordItem(ctx context.Context, batchID string, item domain.ItemResult) (domain.Progress, error)
	Items(ctx context.Context, batchID string) ([]domain.ItemResult, error)
	MarkFailed(ctx context.Context, batchID string) error
}

func statusFor(p domain.Progress) string {
	switch {
	case p.Done():
		return domain.BatchStatusCompleted
	case p.Succeeded+p.Failed > 0:
		return domain.BatchStatusRunning
	default:
		return domain.BatchStatusQueued
	}
}

// Open returns a Postgres-backed store when dsn is set and an in-process
// store otherwise. The returned close function is never nil.
func Open(ctx context.Context, dsn string) (BatchStore, func() error, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewMemoryBatchStore(), func() error { return nil }, nil
	}
	pg, err := NewPostgresBatchStore(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
