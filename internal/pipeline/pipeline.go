package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/dunamismax/pixelbatch/internal/naming"
)

var (
	ErrNoInput         = errors.New("input has neither a path nor an image")
	ErrEmptyOutputPath = errors.New("template rendered an empty output path")
)

// Transform mutates an image in place.
type Transform interface {
	Apply(ctx context.Context, img *Image) error
}

// TransformFunc adapts a function to Transform.
type TransformFunc func(ctx context.Context, img *Image) error

func (f TransformFunc) Apply(ctx context.Context, img *Image) error {
	return f(ctx, img)
}

// Stage names the part of item processing an error came from.
type Stage string

const (
	StageLoad      Stage = "load"
	StageTransform Stage = "transform"
	StageSave      Stage = "save"
)

type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage recorded in err, or "" when err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Pipeline is an ordered list of transforms plus the store used to load
// inputs and persist results. It is never modified after New, so one
// Pipeline can be shared by any number of workers.
type Pipeline struct {
	steps []Transform
	store Store
}

// New copies steps; a nil store means LocalStore.
func New(store Store, steps ...Transform) *Pipeline {
	if store == nil {
		store = LocalStore{}
	}
	return &Pipeline{
		steps: append([]Transform(nil), steps...),
		store: store,
	}
}

func (p *Pipeline) Len() int {
	return len(p.steps)
}

func (p *Pipeline) Store() Store {
	return p.store
}

// Run applies every transform in order and stops at the first failure.
func (p *Pipeline) Run(ctx context.Context, img *Image) error {
	for i, step := range p.steps {
		select {
		case <-ctx.Done():
			return &StageError{Stage: StageTransform, Err: ctx.Err()}
		default:
		}

		if err := step.Apply(ctx, img); err != nil {
			return &StageError{
				Stage: StageTransform,
				Err:   fmt.Errorf("step %d (%s): %w", i+1, describe(step), err),
			}
		}
	}
	return nil
}

// ProcessOne loads in (when it is a path), runs the pipeline and, when tmpl
// is non-nil, saves the result to tmpl rendered from in.Source() and index.
// Without a template nothing is written and the image is returned in
// Output.Image.
func (p *Pipeline) ProcessOne(ctx context.Context, in Input, tmpl *naming.Template, index uint) (Output, error) {
	out := Output{Index: index, Source: in.Source()}

	img := in.Image
	if img == nil {
		if in.Path == "" {
			return out, &StageError{Stage: StageLoad, Err: ErrNoInput}
		}
		err := guard(StageLoad, func() error {
			loaded, err := p.store.Load(ctx, in.Path)
			if err != nil {
				return &StageError{Stage: StageLoad, Err: err}
			}
			img = loaded
			return nil
		})
		if err != nil {
			return out, err
		}
	}

	if err := guard(StageTransform, func() error { return p.Run(ctx, img) }); err != nil {
		return out, err
	}
	out.Format = img.Format
	out.Width = img.Width()
	out.Height = img.Height()

	if tmpl == nil {
		out.Image = img
		return out, nil
	}

	var dst string
	err := guard(StageSave, func() error {
		dst = tmpl.Render(in.Source(), index)
		if dst == "" {
			return &StageError{Stage: StageSave, Err: ErrEmptyOutputPath}
		}
		if err := p.store.Save(ctx, img, dst); err != nil {
			return &StageError{Stage: StageSave, Err: err}
		}
		return nil
	})
	if err != nil {
		return out, err
	}
	out.Path = dst
	out.Format = OutputFormat(dst, img.Format)
	return out, nil
}

// PanicError is recorded for an item whose processing panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// guard runs fn and reports a panic inside it as a failure of stage.
func guard(stage Stage, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &StageError{Stage: stage, Err: &PanicError{Value: r, Stack: debug.Stack()}}
		}
	}()
	return fn()
}

func describe(t Transform) string {
	if s, ok := t.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", t)
}
