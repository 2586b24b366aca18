package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/andresmejia3/lookout/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// reply frames a response the way the model process writes it to FD 3.
func reply(pipe *MockCloser, status byte, body []byte) {
	binary.Write(pipe, binary.BigEndian, uint32(1+len(body)))
	pipe.WriteByte(status)
	pipe.Write(body)
}

func newMockWorker() (*ModelWorker, *MockCloser, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	w := &ModelWorker{
		ID:       "test",
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}
	return w, stdinMock, dataPipeMock
}

func TestLocateFaces(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker()
	reply(dataPipeMock, statusOK, []byte(`[{"loc":[10,60,70,5],"vec":[0.5,0.25]}]`))

	frame := types.Frame{Seq: 1, Width: 2, Height: 1, Pix: []byte{1, 2, 3, 4, 5, 6}}
	faces, err := w.LocateFaces(frame)
	if err != nil {
		t.Fatalf("LocateFaces failed: %v", err)
	}

	// Verify Go sent the correct data TO the model
	sent := stdinMock.Bytes()
	if len(sent) != 13+len(frame.Pix) {
		t.Fatalf("Expected %d bytes sent, got %d", 13+len(frame.Pix), len(sent))
	}
	if got := binary.BigEndian.Uint32(sent[0:4]); got != uint32(9+len(frame.Pix)) {
		t.Errorf("Expected length prefix %d, got %d", 9+len(frame.Pix), got)
	}
	if sent[4] != byte(OpFaces) {
		t.Errorf("Expected op %q, got %q", OpFaces, sent[4])
	}
	if binary.BigEndian.Uint32(sent[5:9]) != 2 || binary.BigEndian.Uint32(sent[9:13]) != 1 {
		t.Errorf("Expected dimensions 2x1 in header, got %v", sent[5:13])
	}

	// Verify Go read the correct data FROM the model
	if len(faces) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(faces))
	}
	if math.Abs(faces[0].Vec[0]-0.5) > 1e-9 {
		t.Errorf("Expected vector[0] approx 0.5, got %f", faces[0].Vec[0])
	}
	box, ok := faces[0].Box()
	if !ok || box.Top != 10 || box.Right != 60 || box.Bottom != 70 || box.Left != 5 {
		t.Errorf("Unexpected box %+v", box)
	}
}

func TestDetectPose(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	reply(dataPipeMock, statusOK, []byte(`{"landmarks":[{"x":0.1,"y":0.2,"z":0,"visibility":0.9}]}`))

	res, err := w.DetectPose(types.Frame{Width: 1, Height: 1, Pix: []byte{0, 0, 0}})
	if err != nil {
		t.Fatalf("DetectPose failed: %v", err)
	}
	if len(res.Landmarks) != 1 || res.Landmarks[0].Visibility != 0.9 {
		t.Errorf("Unexpected landmarks %+v", res.Landmarks)
	}
}

func TestEmptyFaceReply(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	reply(dataPipeMock, statusOK, []byte(`[]`))

	faces, err := w.EmbedImage([]byte{0xFF, 0xD8})
	if err != nil {
		t.Fatalf("EmbedImage failed: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("Expected no faces, got %d", len(faces))
	}
}

func TestResetModelSendsHeaderOnly(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker()
	reply(dataPipeMock, statusOK, nil)

	if err := w.ResetModel(); err != nil {
		t.Fatalf("ResetModel failed: %v", err)
	}
	sent := stdinMock.Bytes()
	if len(sent) != 13 || sent[4] != byte(OpReset) {
		t.Errorf("Expected bare reset header, got %v", sent)
	}
}

func TestCommunicate_Error(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()

	// Protocol: [Status:1] [MsgLen] [Msg]
	errMsg := "Python Exception: Import Error"
	body := new(bytes.Buffer)
	binary.Write(body, binary.BigEndian, uint32(len(errMsg)))
	body.WriteString(errMsg)
	reply(dataPipeMock, statusError, body.Bytes())

	_, err := w.LocateFaces(types.Frame{Width: 1, Height: 1, Pix: []byte{0, 0, 0}})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrWorker) {
		t.Errorf("Expected ErrWorker, got %v", err)
	}
	if err.Error() != "model worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "model worker error: "+errMsg, err)
	}
}

func TestCommunicate_Truncated(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	binary.Write(dataPipeMock, binary.BigEndian, uint32(50))
	dataPipeMock.Write([]byte{0, '['})

	if _, err := w.LocateFaces(types.Frame{}); err == nil {
		t.Fatal("Expected error on truncated reply")
	}
}

func TestCommunicate_BadStatus(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	reply(dataPipeMock, 7, []byte("x"))

	if _, err := w.Communicate(OpPose, 0, 0, nil); err == nil {
		t.Fatal("Expected error on unknown status")
	}
}

func TestCloseWithoutProcess(t *testing.T) {
	w, _, _ := newMockWorker()
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Kill(); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	if w.Logs() != "" {
		t.Error("Expected no logs without a process")
	}
}

func TestStartRejectsEmptyCommand(t *testing.T) {
	if _, err := Start("empty", Config{}); err == nil {
		t.Fatal("Expected error for empty command")
	}
}
