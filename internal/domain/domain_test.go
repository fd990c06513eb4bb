package domain

import (
	"errors"
	"testing"

	"github.com/dunamismax/pixelbatch/internal/naming"
)

func TestParseStep(t *testing.T) {
	step, err := ParseStep("resize:width=640")
	if err != nil {
		t.Fatalf("parse resize: %v", err)
	}
	if step.Action != ActionResize || step.Width != 640 || step.Height != 0 {
		t.Fatalf("unexpected resize step: %+v", step)
	}

	step, err = ParseStep("crop:x1=10,y1=20,x2=110,y2=220")
	if err != nil {
		t.Fatalf("parse crop: %v", err)
	}
	if step.Crop == nil || *step.Crop != (CropRect{X1: 10, Y1: 20, X2: 110, Y2: 220}) {
		t.Fatalf("unexpected crop: %+v", step.Crop)
	}

	step, err = ParseStep("Watermark:text=Draft,opacity=0.5,gravity=south")
	if err != nil {
		t.Fatalf("parse watermark: %v", err)
	}
	if step.Action != ActionWatermark || step.Watermark.Text != "Draft" || step.Watermark.Opacity != 0.5 {
		t.Fatalf("unexpected watermark: %+v", step.Watermark)
	}

	step, err = ParseStep("grayscale")
	if err != nil {
		t.Fatalf("parse grayscale: %v", err)
	}
	if step.Action != ActionGrayscale {
		t.Fatalf("unexpected action %q", step.Action)
	}

	step, err = ParseStep("flip:direction=h")
	if err != nil {
		t.Fatalf("parse flip: %v", err)
	}
	if !step.Horizontal {
		t.Fatal("expected horizontal flip")
	}
}

func TestParseStepErrors(t *testing.T) {
	for _, raw := range []string{
		"",
		"resize",
		"resize:width",
		"resize:width=abc",
		"resize:colour=red",
		"crop:x1=10,x2=5,y1=0,y2=10",
		"blur",
		"threshold:level=300",
		"replace_color:target=#fff",
		"watermark:opacity=0.3",
		"explode:force=9",
		"rotate:angle=inf",
		"rotate:angle=-Inf",
		"rotate:angle=NaN",
	} {
		if _, err := ParseStep(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestCreateBatchRequestValidate(t *testing.T) {
	valid := CreateBatchRequest{
		Template: "out/%f_%3.%x",
		Steps:    []Step{{Action: ActionGrayscale}},
		Inputs:   []string{"a.png", "b.png"},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}

	badTemplate := valid
	badTemplate.Template = "out/%q"
	if err := badTemplate.Validate(); !errors.Is(err, naming.ErrInvalidEscape) {
		t.Fatalf("expected ErrInvalidEscape, got %v", err)
	}

	noInputs := valid
	noInputs.Inputs = nil
	if err := noInputs.Validate(); err == nil {
		t.Fatal("expected error for missing inputs")
	}

	badStep := valid
	badStep.Steps = []Step{{Action: ActionBlur}}
	if err := badStep.Validate(); err == nil {
		t.Fatal("expected error for blur without sigma")
	}

	badStore := valid
	badStore.Store = "ftp"
	if err := badStore.Validate(); err == nil {
		t.Fatal("expected error for unsupported store")
	}
}

func TestProgressDone(t *testing.T) {
	if (Progress{}).Done() {
		t.Fatal("empty progress must not be done")
	}
	if (Progress{Total: 3, Succeeded: 1, Failed: 1}).Done() {
		t.Fatal("2 of 3 must not be done")
	}
	if !(Progress{Total: 3, Succeeded: 2, Failed: 1}).Done() {
		t.Fatal("3 of 3 must be done")
	}
}

func TestTallyKeepsLatestResultPerIndex(t *testing.T) {
	items := []ItemResult{
		{Index: 1, Status: ItemStatusFailed},
		{Index: 2, Status: ItemStatusSucceeded},
		{Index: 1, Status: ItemStatusSucceeded},
	}
	got := Tally(3, items)
	if got != (Progress{Total: 3, Succeeded: 2, Failed: 0}) {
		t.Fatalf("unexpected progress %+v", got)
	}
	if got.Done() {
		t.Fatal("index 3 has not reported yet")
	}
}

func TestParseStepAcceptsLargeFiniteAngle(t *testing.T) {
	step, err := ParseStep("rotate:angle=1e20")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if step.Angle != 1e20 {
		t.Fatalf("angle = %g", step.Angle)
	}
}
