package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/pixelbatch/internal/domain"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

func (c *Client) Queue() string {
	return c.queue
}

// EnqueueBatch enqueues one task per input and returns how many were newly
// enqueued. Items already present from an earlier submission are skipped.
func (c *Client) EnqueueBatch(ctx context.Context, batch domain.Batch) (int, error) {
	enqueued := 0
	for _, payload := range ItemPayloads(batch) {
		task, err := NewBatchItemTask(payload)
		if err != nil {
			return enqueued, err
		}
		_, err = c.client.EnqueueContext(
			ctx,
			task,
			asynq.Queue(c.queue),
			asynq.TaskID(payload.TaskID()),
			asynq.MaxRetry(5),
			asynq.Timeout(3*time.Minute),
		)
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			continue
		}
		if err != nil {
			return enqueued, fmt.Errorf("enqueue item %d of batch %s: %w", payload.Index, batch.ID, err)
		}
		enqueued++
	}
	return enqueued, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
