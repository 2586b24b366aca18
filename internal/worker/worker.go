package worker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/lookout/internal/utils" // Using the SafeCommand wrapper
)

// ErrWorker wraps errors reported by the model process itself.
var ErrWorker = errors.New("model worker error")

// Op selects what the model process does with a request.
type Op byte

const (
	// OpPose runs pose estimation on a raw BGR frame.
	OpPose Op = 'P'
	// OpFaces locates faces and embeds each one on a raw BGR frame.
	OpFaces Op = 'F'
	// OpEmbed decodes an encoded reference image and embeds its faces.
	OpEmbed Op = 'E'
	// OpReset drops any tracking state kept inside the model.
	OpReset Op = 'R'
)

const (
	statusOK    = 0
	statusError = 1

	// requests larger than this are refused before they reach the pipe
	maxMessage = 64 * 1024 * 1024
)

// Config describes how to launch a model process.
type Config struct {
	Command     []string
	Env         []string
	ReadTimeout time.Duration
}

// ModelWorker is one isolated model process. Requests are serialized; the
// process is never shared between stages.
type ModelWorker struct {
	ID       string
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	readTimeout time.Duration
	mu          sync.Mutex
	closeOnce   sync.Once
}

// Start launches the model process described by cfg.
func Start(id string, cfg Config) (*ModelWorker, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("worker %s: empty command", id)
	}

	// 1. Initialize the SafeCommand
	py := utils.NewSafeCommand(cfg.Command[0], cfg.Command[1:]...)
	py.Env = append(os.Environ(), cfg.Env...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %s failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &ModelWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		readTimeout: cfg.ReadTimeout,
	}, nil
}

// Communicate sends one request and returns the body of a successful reply.
//
// Request:  [u32 len][u8 op][u32 width][u32 height][payload]
// Response: [u32 len][u8 status][body]
func (w *ModelWorker) Communicate(op Op, width, height int, payload []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	bodyLen := 1 + 4 + 4 + len(payload)
	if bodyLen > maxMessage {
		return nil, fmt.Errorf("request of %d bytes exceeds limit", bodyLen)
	}

	header := make([]byte, 4+1+4+4)
	binary.BigEndian.PutUint32(header[0:4], uint32(bodyLen))
	header[4] = byte(op)
	binary.BigEndian.PutUint32(header[5:9], uint32(width))
	binary.BigEndian.PutUint32(header[9:13], uint32(height))
	if _, err := w.Stdin.Write(header); err != nil {
		return nil, fmt.Errorf("write request header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Stdin.Write(payload); err != nil {
			return nil, fmt.Errorf("write request payload: %w", err)
		}
	}

	w.armDeadline()

	// Read Result
	// We read from the clean DataPipe, so model stdout chatter never corrupts framing.
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, lenBuf); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(lenBuf)
	if respLen == 0 || respLen > maxMessage {
		return nil, fmt.Errorf("invalid response length %d", respLen)
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, err
	}

	switch respBody[0] {
	case statusOK:
		return respBody[1:], nil
	case statusError:
		msg := respBody[1:]
		if len(msg) >= 4 {
			n := binary.BigEndian.Uint32(msg[:4])
			if int(n) == len(msg)-4 {
				msg = msg[4:]
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrWorker, string(msg))
	default:
		return nil, fmt.Errorf("unknown response status %d", respBody[0])
	}
}

func (w *ModelWorker) armDeadline() {
	if w.readTimeout <= 0 {
		return
	}
	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok {
		_ = d.SetReadDeadline(time.Now().Add(w.readTimeout))
	}
}

// Kill terminates the model process group immediately, unblocking any pending read.
func (w *ModelWorker) Kill() error {
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Kill()
}

// Close asks the model process to exit by closing its stdin and reaps it.
// A process that ignores EOF is killed after a short grace period.
func (w *ModelWorker) Close() error {
	var err error
	w.closeOnce.Do(func() {
		if w.Stdin != nil {
			w.Stdin.Close()
		}
		if w.Cmd == nil {
			if w.DataPipe != nil {
				w.DataPipe.Close()
			}
			return
		}
		done := make(chan error, 1)
		go func() { done <- w.Cmd.Wait() }()
		select {
		case err = <-done:
		case <-time.After(2 * time.Second):
			_ = w.Kill()
			err = <-done
		}
		if w.DataPipe != nil {
			w.DataPipe.Close()
		}
	})
	return err
}

// Logs returns whatever the model process wrote to stderr.
func (w *ModelWorker) Logs() string {
	if w.Cmd == nil || w.Cmd.Stderr == nil {
		return ""
	}
	return w.Cmd.Stderr.String()
}
