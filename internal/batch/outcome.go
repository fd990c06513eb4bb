package batch

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/dunamismax/pixelbatch/internal/pipeline"
)

// Outcome is the result of one item. Err is nil on success.
type Outcome struct {
	Index      uint
	Source     string
	OutputPath string
	Width      int
	Height     int
	Image      *pipeline.Image
	Stage      pipeline.Stage
	Err        error
	Duration   time.Duration
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

// Outcomes holds one entry per input, ordered by index.
type Outcomes []Outcome

func (outs Outcomes) Succeeded() int {
	n := 0
	for _, o := range outs {
		if o.OK() {
			n++
		}
	}
	return n
}

func (outs Outcomes) Failed() Outcomes {
	var failed Outcomes
	for _, o := range outs {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}

// Err combines every item error, or returns nil when all items succeeded.
func (outs Outcomes) Err() error {
	var err error
	for _, o := range outs {
		if o.Err != nil {
			err = multierr.Append(err, &ItemError{Index: o.Index, Source: o.Source, Err: o.Err})
		}
	}
	return err
}

// ItemError ties an item failure to its index and source.
type ItemError struct {
	Index  uint
	Source string
	Err    error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d (%s): %v", e.Index, e.Source, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}
