package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/pixelbatch/internal/naming"
)

const (
	BatchStatusQueued    = "queued"
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
	// BatchStatusFailed marks a batch whose items could not all be queued.
	// It is terminal: later item results are still stored but never change it.
	BatchStatusFailed = "failed"

	ItemStatusSucceeded = "succeeded"
	ItemStatusFailed    = "failed"

	StoreLocal  = "local"
	StoreObject = "s3"
)

type CreateBatchRequest struct {
	Template   string   `json:"template"`
	Steps      []Step   `json:"steps"`
	Inputs     []string `json:"inputs"`
	Store      string   `json:"store,omitempty"`
	WebhookURL string   `json:"webhook_url,omitempty"`
}

// Batch is a remotely dispatched run. Inputs[i] is processed with sequence
// index i+1.
type Batch struct {
	ID         string
	Status     string
	Template   string
	Steps      []Step
	Inputs     []string
	Store      string
	WebhookURL string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ItemResult records how one input of a batch finished.
type ItemResult struct {
	BatchID    string    `json:"batch_id"`
	Index      uint      `json:"index"`
	Source     string    `json:"source"`
	OutputPath string    `json:"output_path,omitempty"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

type Progress struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func (p Progress) Done() bool {
	return p.Total > 0 && p.Succeeded+p.Failed >= p.Total
}

// Validate rejects requests that cannot start. The template is parsed here so
// a malformed template never reaches the queue.
func (r CreateBatchRequest) Validate() error {
	if strings.TrimSpace(r.Template) == "" {
		return errors.New("template is required")
	}
	tmpl, err := naming.Parse(r.Template)
	if err != nil {
		return err
	}
	if tmpl.IsEmpty() {
		return errors.New("template renders no output path")
	}
	if len(r.Inputs) == 0 {
		return errors.New("inputs must contain at least one path")
	}
	for i, in := range r.Inputs {
		if strings.TrimSpace(in) == "" {
			return fmt.Errorf("inputs[%d] is empty", i)
		}
	}
	if len(r.Steps) == 0 {
		return errors.New("steps must contain at least one step")
	}
	for i, step := range r.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	switch StoreKind(r.Store) {
	case StoreLocal, StoreObject:
	default:
		return fmt.Errorf("unsupported store: %s", r.Store)
	}
	return nil
}

// StoreKind normalises a store name; empty means local.
func StoreKind(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return StoreLocal
	}
	return s
}

// Tally counts items against a batch of total inputs. Later results for an
// index replace earlier ones.
func Tally(total int, items []ItemResult) Progress {
	latest := make(map[uint]string, len(items))
	for _, item := range items {
		latest[item.Index] = item.Status
	}
	p := Progress{Total: total}
	for _, status := range latest {
		switch status {
		case ItemStatusSucceeded:
			p.Succeeded++
		case ItemStatusFailed:
			p.Failed++
		}
	}
	return p
}
