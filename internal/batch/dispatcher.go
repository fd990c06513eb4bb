package batch

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/pixelbatch/internal/naming"
	"github.com/dunamismax/pixelbatch/internal/pipeline"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers bounds the number of items processed at once. Values <= 0 mean
// runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(d *Dispatcher) { d.workers = n }
}

// WithLogger sets where item failures are reported. A nil l is ignored.
func WithLogger(l Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics records item counts and durations on m.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer replaces the global tracer. A nil t is ignored.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithOutcomeHook registers fn to be called once per finished item, from the
// goroutine that processed it. fn must be safe for concurrent use.
func WithOutcomeHook(fn func(Outcome)) Option {
	return func(d *Dispatcher) { d.hook = fn }
}

// Dispatcher applies one pipeline and one optional template to every input
// of a batch. The pipeline and template are only read, so a Dispatcher may
// run several batches, including concurrently.
type Dispatcher struct {
	pipeline *pipeline.Pipeline
	template *naming.Template
	workers  int
	logger   Logger
	metrics  *Metrics
	tracer   trace.Tracer
	hook     func(Outcome)
}

// NewDispatcher builds a dispatcher for p. A nil tmpl means results are not
// persisted and each Outcome carries the transformed image instead.
func NewDispatcher(p *pipeline.Pipeline, tmpl *naming.Template, opts ...Option) *Dispatcher {
	if p == nil {
		p = pipeline.New(nil)
	}
	d := &Dispatcher{
		pipeline: p,
		template: tmpl,
		logger:   nopLogger{},
		tracer:   otel.Tracer("pixelbatch/batch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run is shorthand for NewDispatcher(p, tmpl, WithWorkers(workers)).Run.
func Run(ctx context.Context, inputs []pipeline.Input, p *pipeline.Pipeline, tmpl *naming.Template, workers int, opts ...Option) Outcomes {
	opts = append([]Option{WithWorkers(workers)}, opts...)
	return NewDispatcher(p, tmpl, opts...).Run(ctx, inputs)
}

// Run processes every input and blocks until all of them have finished.
// Outcome i belongs to inputs[i] and was rendered with index i+1.
func (d *Dispatcher) Run(ctx context.Context, inputs []pipeline.Input) Outcomes {
	outcomes := make(Outcomes, len(inputs))
	if len(inputs) == 0 {
		return outcomes
	}

	ctx, span := d.tracer.Start(ctx, "batch.run")
	defer span.End()

	workers := d.workerCount(len(inputs))
	span.SetAttributes(
		attribute.Int("batch.items", len(inputs)),
		attribute.Int("batch.workers", workers),
	)
	d.metrics.batchStarted()

	p := pool.New().WithMaxGoroutines(workers)
	for i := range inputs {
		slot := &outcomes[i]
		in := inputs[i]
		index := uint(i + 1)
		p.Go(func() {
			*slot = d.runItem(ctx, in, index)
		})
	}
	p.Wait()

	if failed := len(outcomes) - outcomes.Succeeded(); failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d items failed", failed, len(outcomes)))
	} else {
		span.SetStatus(codes.Ok, "processed")
	}
	return outcomes
}

func (d *Dispatcher) workerCount(items int) int {
	n := d.workers
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	if n > items {
		n = items
	}
	return n
}

func (d *Dispatcher) runItem(ctx context.Context, in pipeline.Input, index uint) (o Outcome) {
	ctx, span := d.tracer.Start(ctx, "batch.item", trace.WithAttributes(
		attribute.Int64("item.index", int64(index)),
		attribute.String("item.source", in.Source()),
	))
	start := time.Now()
	d.metrics.itemStarted()

	o = Outcome{Index: index, Source: in.Source()}
	defer func() {
		// ProcessOne attributes stage panics itself; this catches the rest.
		if r := recover(); r != nil {
			o.Err = &PanicError{Value: r, Stack: debug.Stack()}
			o.Stage = pipeline.StageTransform
		}
		o.Duration = time.Since(start)

		if o.Err != nil {
			span.RecordError(o.Err)
			span.SetStatus(codes.Error, "item failed")
			d.logger.Log(fmt.Sprintf("item %d (%s) failed: %v", o.Index, o.Source, o.Err))
		} else {
			span.SetStatus(codes.Ok, "processed")
		}
		span.End()

		d.metrics.itemFinished(o)
		if d.hook != nil {
			d.hook(o)
		}
	}()

	out, err := d.pipeline.ProcessOne(ctx, in, d.template, index)
	if err != nil {
		o.Err = err
		o.Stage = pipeline.StageOf(err)
		return o
	}
	o.OutputPath = out.Path
	o.Width = out.Width
	o.Height = out.Height
	o.Image = out.Image
	return o
}

// PanicError is recorded for an item whose processing panicked. The item's
// stage says whether it came from loading, a transform or saving.
type PanicError = pipeline.PanicError
