package pose

import (
	"context"
	"errors"
	"testing"

	"github.com/andresmejia3/lookout/internal/types"
)

type fakeModel struct {
	reply  types.PoseReply
	err    error
	calls  int
	resets int
	killed bool
	closed bool
}

func (f *fakeModel) DetectPose(types.Frame) (types.PoseReply, error) {
	f.calls++
	return f.reply, f.err
}
func (f *fakeModel) ResetModel() error { f.resets++; return nil }
func (f *fakeModel) Kill() error       { f.killed = true; return nil }
func (f *fakeModel) Close() error      { f.closed = true; return nil }

var frame = types.Frame{Seq: 1, Width: 1, Height: 1, Pix: []byte{0, 0, 0}}

func TestProcess(t *testing.T) {
	tests := []struct {
		name    string
		reply   types.PoseReply
		err     error
		present bool
		wantErr bool
	}{
		{name: "person", reply: types.PoseReply{Landmarks: []types.Landmark{{X: 0.5, Y: 0.5, Visibility: 1}}}, present: true},
		{name: "nobody", reply: types.PoseReply{}, present: false},
		{name: "model failure", err: errors.New("boom"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeModel{reply: tt.reply, err: tt.err}
			p := New(m, nil)
			res, err := p.Process(context.Background(), frame)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Process error = %v, wantErr %v", err, tt.wantErr)
			}
			if res.Present() != tt.present {
				t.Errorf("Present() = %v, want %v", res.Present(), tt.present)
			}
		})
	}
}

func TestProcessSkipsEmptyFrame(t *testing.T) {
	m := &fakeModel{}
	p := New(m, nil)
	res, err := p.Process(context.Background(), types.Frame{})
	if err != nil || res.Present() {
		t.Fatalf("Expected empty result, got %+v err=%v", res, err)
	}
	if m.calls != 0 {
		t.Error("model should not be called for an empty frame")
	}
}

func TestLifecycleForwarded(t *testing.T) {
	m := &fakeModel{}
	p := New(m, nil)
	p.Reset()
	p.Kill()
	p.Close()
	if m.resets != 1 || !m.killed || !m.closed {
		t.Errorf("lifecycle not forwarded: %+v", m)
	}
}

func TestProcessHonorsCanceledContext(t *testing.T) {
	m := &fakeModel{}
	p := New(m, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Process(ctx, frame); err == nil {
		t.Fatal("Expected context error")
	}
}
