package queue

import (
	"testing"

	"github.com/dunamismax/pixelbatch/internal/domain"
	"github.com/hibiken/asynq"
)

func TestItemPayloadsAssignIndexFromPosition(t *testing.T) {
	batch := domain.Batch{
		ID:       "batch-123",
		Template: "outputs/%f_%3.%x",
		Steps:    []domain.Step{{Action: "resize", Width: 100}},
		Inputs:   []string{"a.png", "b.png", "c.png"},
		Store:    domain.StoreObject,
	}

	payloads := ItemPayloads(batch)
	if len(payloads) != 3 {
		t.Fatalf("expected 3 payloads, got %d", len(payloads))
	}
	for i, p := range payloads {
		if p.Index != uint(i+1) || p.Source != batch.Inputs[i] || p.Total != 3 {
			t.Fatalf("payload %d: %+v", i, p)
		}
	}
	if payloads[1].TaskID() != "batch-123:2" {
		t.Fatalf("unexpected task id %q", payloads[1].TaskID())
	}
}

func TestBatchItemTaskRoundTrip(t *testing.T) {
	payload := ItemPayloads(domain.Batch{
		ID:       "batch-123",
		Template: "out/%%%f",
		Steps:    []domain.Step{{Action: "blur", Sigma: 2}},
		Inputs:   []string{"uploads/a.png"},
	})[0]

	task, err := NewBatchItemTask(payload)
	if err != nil {
		t.Fatalf("NewBatchItemTask returned error: %v", err)
	}
	if task.Type() != TypeBatchItem {
		t.Fatalf("unexpected task type %q", task.Type())
	}

	parsed, err := ParseBatchItemPayload(task)
	if err != nil {
		t.Fatalf("ParseBatchItemPayload returned error: %v", err)
	}
	if parsed.Template != "out/%%%f" || parsed.Index != 1 || len(parsed.Steps) != 1 || parsed.Steps[0].Sigma != 2 {
		t.Fatalf("unexpected payload %+v", parsed)
	}
}

func TestParseBatchItemPayloadRejectsIncomplete(t *testing.T) {
	if _, err := ParseBatchItemPayload(asynq.NewTask(TypeBatchItem, []byte(`{"batch_id":"b"}`))); err == nil {
		t.Fatal("expected error for missing index")
	}
	if _, err := ParseBatchItemPayload(asynq.NewTask(TypeBatchItem, []byte(`not json`))); err == nil {
		t.Fatal("expected error for invalid json")
	}
}
