package identify

import (
	"context"
	"errors"
	"testing"

	"github.com/andresmejia3/lookout/internal/types"
)

type fakeFaceModel struct {
	faces  []types.FaceResult
	err    error
	calls  int
	killed bool
	closed bool
}

func (f *fakeFaceModel) LocateFaces(types.Frame) ([]types.FaceResult, error) {
	f.calls++
	return f.faces, f.err
}
func (f *fakeFaceModel) Kill() error  { f.killed = true; return nil }
func (f *fakeFaceModel) Close() error { f.closed = true; return nil }

func solidFrame(seq uint64, value byte) types.Frame {
	pix := make([]byte, 64*64*3)
	for i := range pix {
		pix[i] = value
	}
	return types.Frame{Seq: seq, Width: 64, Height: 64, Pix: pix}
}

func newTestProcessor(model FaceModel) *Processor {
	opts := Options{MinFaceSize: 30, SkipSimilarFrames: true, SimilarDiffMean: 10, SimilarSeqWindow: 3}
	return NewProcessor(model, NewMatcher(twoEntryGallery(), 0.5, Euclidean), opts, nil)
}

func TestProcessorLabelsFaces(t *testing.T) {
	model := &fakeFaceModel{faces: []types.FaceResult{{Loc: []int{0, 40, 40, 0}, Vec: []float64{0.3}}}}
	p := newTestProcessor(model)

	ids, err := p.Process(context.Background(), solidFrame(1, 0))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(ids) != 1 || ids[0].Label != "A" {
		t.Fatalf("Expected one match for A, got %+v", ids)
	}
}

func TestProcessorSkipsSimilarFrames(t *testing.T) {
	model := &fakeFaceModel{faces: []types.FaceResult{{Loc: []int{0, 40, 40, 0}, Vec: []float64{0.3}}}}
	p := newTestProcessor(model)
	ctx := context.Background()

	tests := []struct {
		name      string
		frame     types.Frame
		wantCalls int
	}{
		{name: "first frame", frame: solidFrame(1, 100), wantCalls: 1},
		{name: "nearly identical and close in sequence", frame: solidFrame(2, 105), wantCalls: 1},
		{name: "nearly identical but too far in sequence", frame: solidFrame(9, 100), wantCalls: 2},
		{name: "large difference", frame: solidFrame(10, 200), wantCalls: 3},
	}
	for _, tt := range tests {
		ids, err := p.Process(ctx, tt.frame)
		if err != nil {
			t.Fatalf("%s: Process failed: %v", tt.name, err)
		}
		if len(ids) != 1 {
			t.Fatalf("%s: Expected 1 identity, got %d", tt.name, len(ids))
		}
		if model.calls != tt.wantCalls {
			t.Errorf("%s: model calls = %d, want %d", tt.name, model.calls, tt.wantCalls)
		}
	}
	if p.Reused() != 1 {
		t.Errorf("Expected 1 reused result, got %d", p.Reused())
	}
}

func TestProcessorResetForcesFreshRun(t *testing.T) {
	model := &fakeFaceModel{}
	p := newTestProcessor(model)
	ctx := context.Background()

	p.Process(ctx, solidFrame(1, 50))
	p.Reset()
	p.Process(ctx, solidFrame(2, 50))
	if model.calls != 2 {
		t.Errorf("Expected reset to bypass the similarity skip, got %d calls", model.calls)
	}
}

func TestProcessorModelError(t *testing.T) {
	model := &fakeFaceModel{err: errors.New("model crashed")}
	p := newTestProcessor(model)
	if _, err := p.Process(context.Background(), solidFrame(1, 0)); err == nil {
		t.Fatal("Expected error")
	}
	// a failed frame must not be reused
	model.err = nil
	p.Process(context.Background(), solidFrame(2, 0))
	if model.calls != 2 {
		t.Errorf("Expected failed frame to be retried, got %d calls", model.calls)
	}
}

func TestProcessorLifecycle(t *testing.T) {
	model := &fakeFaceModel{}
	p := newTestProcessor(model)
	p.Kill()
	p.Close()
	if !model.killed || !model.closed {
		t.Errorf("lifecycle not forwarded: %+v", model)
	}
}

func TestMeanAbsDiff(t *testing.T) {
	a := solidFrame(1, 10)
	b := solidFrame(2, 30)
	if got := meanAbsDiff(a, b); got != 20 {
		t.Errorf("meanAbsDiff = %f, want 20", got)
	}
	c := types.Frame{Width: 1, Height: 1, Pix: []byte{0, 0, 0}}
	if got := meanAbsDiff(a, c); got != -1 {
		t.Errorf("Expected -1 for shape mismatch, got %f", got)
	}
}
