package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/dunamismax/pixelbatch/internal/domain"
)

const batchSchemaSQL = `
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	template TEXT NOT NULL,
	steps JSONB NOT NULL,
	inputs TEXT[] NOT NULL,
	store TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_items (
	batch_id TEXT NOT NULL REFERENCES batches (id) ON DELETE CASCADE,
	idx INTEGER NOT NULL,
	source TEXT NOT NULL,
	output_path TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	stage TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	finished_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (batch_id, idx)
);
`

type PostgresBatchStore struct {
	db *sql.DB
}

func NewPostgresBatchStore(ctx context.Context, dsn string) (*PostgresBatchStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresBatchStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresBatchStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, batchSchemaSQL); err != nil {
		return fmt.Errorf("ensure batch schema: %w", err)
	}
	return nil
}

func (s *PostgresBatchStore) Close() error {
	return s.db.Close()
}

func (s *PostgresBatchStore) Create(ctx context.Context, batch domain.Batch) error {
	stepsJSON, err := json.Marshal(batch.Steps)
	if err != nil {
		return fmt.Errorf("marshal batch steps: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO batches (id, status, template, steps, inputs, store, webhook_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		batch.ID,
		batch.Status,
		batch.Template,
		stepsJSON,
		pq.Array(batch.Inputs),
		batch.Store,
		batch.WebhookURL,
		batch.CreatedAt,
		batch.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (s *PostgresBatchStore) Get(ctx context.Context, id string) (domain.Batch, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, template, steps, inputs, store, webhook_url, created_at, updated_at
		 FROM batches
		 WHERE id = $1`,
		id,
	)

	var (
		batch     domain.Batch
		stepsJSON []byte
	)
	if err := row.Scan(
		&batch.ID,
		&batch.Status,
		&batch.Template,
		&stepsJSON,
		pq.Array(&batch.Inputs),
		&batch.Store,
		&batch.WebhookURL,
		&batch.CreatedAt,
		&batch.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Batch{}, false, nil
		}
		return domain.Batch{}, false, fmt.Errorf("query batch: %w", err)
	}

	if err := json.Unmarshal(stepsJSON, &batch.Steps); err != nil {
		return domain.Batch{}, false, fmt.Errorf("unmarshal batch steps: %w", err)
	}
	return batch, true, nil
}

// RecordItem upserts the item and recomputes the batch status in one
// transaction; the batch row lock serialises concurrent workers.
func (s *PostgresBatchStore) RecordItem(ctx context.Context, batchID string, item domain.ItemResult) (domain.Progress, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Progress{}, fmt.Errorf("begin record item: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int
	err = tx.QueryRowContext(ctx,
		`SELECT cardinality(inputs) FROM batches WHERE id = $1 FOR UPDATE`,
		batchID,
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Progress{}, ErrBatchNotFound
	}
	if err != nil {
		return domain.Progress{}, fmt.Errorf("lock batch: %w", err)
	}
	if item.Index < 1 || int(item.Index) > total {
		return domain.Progress{}, fmt.Errorf("item index %d outside batch of %d", item.Index, total)
	}

	finishedAt := item.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO batch_items (batch_id, idx, source, output_path, status, stage, error, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (batch_id, idx) DO UPDATE
		 SET source = EXCLUDED.source,
		     output_path = EXCLUDED.output_path,
		     status = EXCLUDED.status,
		     stage = EXCLUDED.stage,
		     error = EXCLUDED.error,
		     finished_at = EXCLUDED.finished_at`,
		batchID,
		int(item.Index),
		item.Source,
		item.OutputPath,
		item.Status,
		item.Stage,
		item.Error,
		finishedAt,
	)
	if err != nil {
		return domain.Progress{}, fmt.Errorf("upsert batch item: %w", err)
	}

	progress := domain.Progress{Total: total}
	err = tx.QueryRowContext(ctx,
		`SELECT
		   count(*) FILTER (WHERE status = $2),
		   count(*) FILTER (WHERE status = $3)
		 FROM batch_items
		 WHERE batch_id = $1`,
		batchID,
		domain.ItemStatusSucceeded,
		domain.ItemStatusFailed,
	).Scan(&progress.Succeeded, &progress.Failed)
	if err != nil {
		return domain.Progress{}, fmt.Errorf("count batch items: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE batches
		 SET status = CASE WHEN status = $4 THEN status ELSE $1 END,
		     updated_at = $2
		 WHERE id = $3`,
		statusFor(progress),
		time.Now().UTC(),
		batchID,
		domain.BatchStatusFailed,
	)
	if err != nil {
		return domain.Progress{}, fmt.Errorf("update batch status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Progress{}, fmt.Errorf("commit record item: %w", err)
	}
	return progress, nil
}

func (s *PostgresBatchStore) MarkFailed(ctx context.Context, batchID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = $1, updated_at = $2 WHERE id = $3`,
		domain.BatchStatusFailed,
		time.Now().UTC(),
		batchID,
	)
	if err != nil {
		return fmt.Errorf("mark batch failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark batch failed: %w", err)
	}
	if n == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (s *PostgresBatchStore) Items(ctx context.Context, batchID string) ([]domain.ItemResult, error) {
	if _, ok, err := s.Get(ctx, batchID); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrBatchNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, source, output_path, status, stage, error, finished_at
		 FROM batch_items
		 WHERE batch_id = $1
		 ORDER BY idx`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query batch items: %w", err)
	}
	defer rows.Close()

	var items []domain.ItemResult
	for rows.Next() {
		var (
			item  domain.ItemResult
			index int
		)
		if err := rows.Scan(&index, &item.Source, &item.OutputPath, &item.Status, &item.Stage, &item.Error, &item.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan batch item: %w", err)
		}
		item.BatchID = batchID
		item.Index = uint(index)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch items: %w", err)
	}
	return items, nil
}
