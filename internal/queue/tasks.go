package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/pixelbatch/internal/domain"
)

const TypeBatchItem = "batch:item"

// BatchItemPayload carries one input of a batch. Index is assigned from the
// input position before enqueue and never changes on retry.
type BatchItemPayload struct {
	BatchID     string        `json:"batch_id"`
	Index       uint          `json:"index"`
	Total       int           `json:"total"`
	Source      string        `json:"source"`
	Template    string        `json:"template"`
	Steps       []domain.Step `json:"steps"`
	Store       string        `json:"store"`
	WebhookURL  string        `json:"webhook_url,omitempty"`
	RequestedAt time.Time     `json:"requested_at"`
}

// TaskID is the asynq task id for the item; re-enqueueing a batch does not
// duplicate work.
func (p BatchItemPayload) TaskID() string {
	return fmt.Sprintf("%s:%d", p.BatchID, p.Index)
}

func NewBatchItemTask(payload BatchItemPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal batch item payload: %w", err)
	}
	return asynq.NewTask(TypeBatchItem, body), nil
}

func ParseBatchItemPayload(task *asynq.Task) (BatchItemPayload, error) {
	var payload BatchItemPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return BatchItemPayload{}, fmt.Errorf("unmarshal batch item payload: %w", err)
	}
	if payload.BatchID == "" || payload.Index == 0 {
		return BatchItemPayload{}, fmt.Errorf("batch item payload missing batch id or index")
	}
	return payload, nil
}

// ItemPayloads expands a batch into one payload per input, in input order.
func ItemPayloads(batch domain.Batch) []BatchItemPayload {
	now := time.Now().UTC()
	payloads := make([]BatchItemPayload, len(batch.Inputs))
	for i, source := range batch.Inputs {
		payloads[i] = BatchItemPayload{
			BatchID:     batch.ID,
			Index:       uint(i + 1),
			Total:       len(batch.Inputs),
			Source:      source,
			Template:    batch.Template,
			Steps:       batch.Steps,
			Store:       batch.Store,
			WebhookURL:  batch.WebhookURL,
			RequestedAt: now,
		}
	}
	return payloads
}
