// Package stage runs one heavy per-frame function off the render path.
//
// A Worker owns exactly one goroutine and is fed and drained through
// single-slot mailboxes: Submit overwrites any pending task, Poll returns only
// the newest unread result. The processors used in production drive a
// dedicated model subprocess, so the two stages and the render loop execute
// in parallel at the OS level and never share a model handle.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/lookout/internal/logging"
	"github.com/andresmejia3/lookout/internal/mailbox"
	"github.com/andresmejia3/lookout/internal/types"
)

// ErrStopTimeout is returned by Stop when the worker had to be forcibly terminated.
var ErrStopTimeout = errors.New("stage did not stop before deadline")

// TaskKind tags a Task.
type TaskKind int

const (
	// TaskData carries a frame to process.
	TaskData TaskKind = iota
	// TaskReset discards processor state and any unread result.
	TaskReset
	// TaskShutdown ends the worker loop.
	TaskShutdown
)

func (k TaskKind) String() string {
	switch k {
	case TaskData:
		return "data"
	case TaskReset:
		return "reset"
	case TaskShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("task(%d)", int(k))
	}
}

// Task is one message for a worker. Frame is only meaningful for TaskData;
// for TaskReset, Frame.Seq is the barrier at or below which results are discarded.
type Task struct {
	Kind  TaskKind
	Frame types.Frame
}

// Result is a completed computation tagged with the sequence number of its input frame.
type Result[R any] struct {
	Seq   uint64
	Value R
	Took  time.Duration
}

// Processor is the heavy function a worker runs.
type Processor[R any] interface {
	Process(ctx context.Context, frame types.Frame) (R, error)
}

// ProcessFunc adapts a plain function to Processor.
type ProcessFunc[R any] func(ctx context.Context, frame types.Frame) (R, error)

// Process calls f.
func (f ProcessFunc[R]) Process(ctx context.Context, frame types.Frame) (R, error) {
	return f(ctx, frame)
}

// Resetter is implemented by processors holding per-episode state.
type Resetter interface {
	Reset() error
}

// Killer is implemented by processors that can be forcibly terminated
// while a Process call is still running.
type Killer interface {
	Kill() error
}

// Options configures a Worker.
type Options struct {
	Name        string
	PollTimeout time.Duration
	StopTimeout time.Duration
	Logger      *slog.Logger
}

// Stats is a snapshot of a worker's counters.
type Stats struct {
	Submitted uint64
	Dropped   uint64
	Processed uint64
	Failed    uint64
	Published uint64
	Discarded uint64
	Forced    bool
}

// Worker executes a Processor on its own goroutine.
type Worker[R any] struct {
	name        string
	proc        Processor[R]
	pollTimeout time.Duration
	stopTimeout time.Duration
	logger      *slog.Logger

	in  *mailbox.Mailbox[Task]
	out *mailbox.Mailbox[Result[R]]

	// results with Seq <= barrier are discarded
	barrier atomic.Uint64
	// resetGen moves on every Reset; the loop compares it with handledGen
	// before each task, so a frame overwriting the reset task cannot lose it.
	resetGen   atomic.Uint64
	handledGen uint64

	pollMu        sync.Mutex
	lastDelivered uint64
	delivered     bool

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once
	stopErr  error

	submitted atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	published atomic.Uint64
	discarded atomic.Uint64
	forced    atomic.Bool
}

// New returns a worker that is not yet running.
func New[R any](proc Processor[R], opts Options) *Worker[R] {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 100 * time.Millisecond
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 2 * time.Second
	}
	if opts.Name == "" {
		opts.Name = "stage"
	}
	return &Worker[R]{
		name:        opts.Name,
		proc:        proc,
		pollTimeout: opts.PollTimeout,
		stopTimeout: opts.StopTimeout,
		logger:      logging.Component(opts.Logger, "stage").With(logging.FieldStage, opts.Name),
		in:          mailbox.New[Task](),
		out:         mailbox.New[Result[R]](),
		done:        make(chan struct{}),
	}
}

// Name returns the worker's stage name.
func (w *Worker[R]) Name() string { return w.name }

// Start launches the worker goroutine. It is an error to start twice.
func (w *Worker[R]) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("stage %s already started", w.name)
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	go w.loop()
	w.logger.Debug("stage started")
	return nil
}

// Submit posts a task without blocking. A pending, unconsumed task is replaced
// and the call reports true.
func (w *Worker[R]) Submit(task Task) bool {
	if w.stopping.Load() {
		return false
	}
	if task.Kind == TaskData {
		w.submitted.Add(1)
	}
	return w.in.Put(task)
}

// SubmitFrame posts a copy of frame for processing.
func (w *Worker[R]) SubmitFrame(frame types.Frame) bool {
	return w.Submit(Task{Kind: TaskData, Frame: frame.Clone()})
}

// Reset discards the unread result and any in-flight computation for frames
// with sequence numbers at or below seq, and asks the processor to drop its state.
// The processor is reset before it sees any frame submitted after this call.
func (w *Worker[R]) Reset(seq uint64) {
	for {
		cur := w.barrier.Load()
		if seq <= cur || w.barrier.CompareAndSwap(cur, seq) {
			break
		}
	}
	w.resetGen.Add(1)
	w.out.Clear()
	// wakes the loop; the generation carries the reset if a frame replaces it
	w.Submit(Task{Kind: TaskReset, Frame: types.Frame{Seq: seq}})
}

// Poll returns the newest unread result without blocking. It never returns a
// result older than one it already delivered, nor one behind the reset barrier.
func (w *Worker[R]) Poll() (Result[R], bool) {
	res, ok := w.out.TryTake()
	if !ok {
		return Result[R]{}, false
	}

	w.pollMu.Lock()
	defer w.pollMu.Unlock()
	if (w.delivered && res.Seq < w.lastDelivered) || w.belowBarrier(res.Seq) {
		w.discarded.Add(1)
		return Result[R]{}, false
	}
	w.lastDelivered = res.Seq
	w.delivered = true
	return res, true
}

// Pending reports whether an unconsumed input task is waiting.
func (w *Worker[R]) Pending() bool {
	return w.in.Len() == 1
}

// Stop ends the loop cooperatively and waits up to the stop deadline. The
// processor's Close runs within the same deadline. When the deadline passes
// the processor is killed if it supports it, closed in the background, and
// Stop returns ErrStopTimeout without waiting further.
func (w *Worker[R]) Stop() error {
	if !w.started.Load() {
		return nil
	}
	w.stopOnce.Do(func() {
		w.stopping.Store(true)
		w.in.Put(Task{Kind: TaskShutdown})
		w.in.Close()
		w.cancel()

		timer := time.NewTimer(w.stopTimeout)
		defer timer.Stop()

		select {
		case <-w.done:
			closed := w.closeProc()
			select {
			case err := <-closed:
				if err != nil {
					w.logger.Warn("stage processor close failed", "error", err)
				}
				w.logger.Debug("stage stopped")
			case <-timer.C:
				w.force("close")
			}
		case <-timer.C:
			w.force("process")
			w.closeProc()
		}
	})
	return w.stopErr
}

// closeProc closes the processor on its own goroutine. A processor without
// Close reports nil at once.
func (w *Worker[R]) closeProc() <-chan error {
	ch := make(chan error, 1)
	c, ok := w.proc.(io.Closer)
	if !ok {
		ch <- nil
		return ch
	}
	go func() { ch <- c.Close() }()
	return ch
}

func (w *Worker[R]) force(during string) {
	w.forced.Store(true)
	w.logger.Warn("stage unresponsive, forcing termination", "deadline", w.stopTimeout, "during", during)
	if k, ok := w.proc.(Killer); ok {
		if err := k.Kill(); err != nil {
			w.logger.Warn("stage kill failed", "error", err)
		}
	}
	w.stopErr = fmt.Errorf("%s: %w after %s", w.name, ErrStopTimeout, w.stopTimeout)
}

// Done is closed when the worker goroutine exits.
func (w *Worker[R]) Done() <-chan struct{} { return w.done }

// Stats returns the worker counters.
func (w *Worker[R]) Stats() Stats {
	return Stats{
		Submitted: w.submitted.Load(),
		Dropped:   w.in.Drops(),
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
		Published: w.published.Load(),
		Discarded: w.discarded.Load(),
		Forced:    w.forced.Load(),
	}
}

func (w *Worker[R]) loop() {
	defer close(w.done)
	for {
		if w.stopping.Load() {
			return
		}
		task, ok := w.in.Take(w.pollTimeout)
		w.applyReset()
		if !ok {
			if w.in.Closed() {
				return
			}
			continue
		}

		switch task.Kind {
		case TaskShutdown:
			return
		case TaskReset:
			// handled by applyReset
		case TaskData:
			w.handleData(task.Frame)
		default:
			w.logger.Warn("stage ignoring unknown task", "kind", task.Kind.String())
		}
	}
}

// applyReset runs handleReset once for any Reset calls since the last one.
func (w *Worker[R]) applyReset() {
	if gen := w.resetGen.Load(); gen != w.handledGen {
		w.handledGen = gen
		w.handleReset()
	}
}

func (w *Worker[R]) handleReset() {
	w.out.Clear()
	if r, ok := w.proc.(Resetter); ok {
		if err := r.Reset(); err != nil {
			w.logger.Warn("stage reset failed", "error", err)
		}
	}
}

func (w *Worker[R]) handleData(frame types.Frame) {
	start := time.Now()
	value, err := w.invoke(frame)
	took := time.Since(start)
	if err != nil {
		w.failed.Add(1)
		if w.stopping.Load() {
			return
		}
		w.logger.Warn("stage processing failed", logging.FieldSeq, frame.Seq, "error", err)
		return
	}
	w.processed.Add(1)

	if w.belowBarrier(frame.Seq) {
		w.discarded.Add(1)
		return
	}
	w.out.Put(Result[R]{Seq: frame.Seq, Value: value, Took: took})
	w.published.Add(1)
}

// invoke shields the loop from a panicking processor.
func (w *Worker[R]) invoke(frame types.Frame) (value R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return w.proc.Process(w.ctx, frame)
}

func (w *Worker[R]) belowBarrier(seq uint64) bool {
	b := w.barrier.Load()
	return b != 0 && seq <= b
}
