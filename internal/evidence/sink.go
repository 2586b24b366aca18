// Package evidence persists photos of detected humans and recognized faces.
//
// SavePhoto never blocks the caller: it queues the write and a background
// goroutine encodes, writes and journals it. A full queue drops the photo.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/lookout/internal/logging"
	"github.com/andresmejia3/lookout/internal/types"
)

// Kind classifies a piece of evidence.
type Kind string

const (
	// KindHuman is the first-seen photo taken when presence is confirmed.
	KindHuman Kind = "human"
	// KindFace is a photo of a recognized gallery identity.
	KindFace Kind = "face"
)

// timestampLayout matches the names produced by earlier deployments.
const timestampLayout = "20060102_150405"

// Encoder compresses a frame into an image file body.
type Encoder interface {
	Encode(frame types.Frame) ([]byte, error)
}

// Record describes one saved artifact.
type Record struct {
	ID         int64
	Session    string
	Kind       Kind
	Label      string
	Path       string
	Seq        uint64
	CapturedAt time.Time
}

// Recorder is told about every artifact that reached disk.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Options configures a Sink.
type Options struct {
	PhotosDir string
	FacesDir  string
	QueueSize int
	Session   string
	Logger    *slog.Logger
	// Now is the clock used for file names; nil uses time.Now.
	Now func() time.Time
}

// Stats counts sink activity.
type Stats struct {
	Queued  uint64
	Saved   uint64
	Dropped uint64
	Failed  uint64
}

type job struct {
	frame types.Frame
	rec   Record
}

// Sink writes evidence asynchronously.
type Sink struct {
	enc       Encoder
	recorders []Recorder
	opts      Options
	logger    *slog.Logger

	queue chan job
	done  chan struct{}

	mu       sync.Mutex
	closed   bool
	counters map[string]int

	queued  atomic.Uint64
	saved   atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewSink starts the writer goroutine.
func NewSink(enc Encoder, opts Options, recorders ...Recorder) *Sink {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Sink{
		enc:       enc,
		recorders: recorders,
		opts:      opts,
		logger:    logging.Component(opts.Logger, "evidence").With(logging.FieldSession, opts.Session),
		queue:     make(chan job, opts.QueueSize),
		done:      make(chan struct{}),
		counters:  make(map[string]int),
	}
	go s.run()
	return s
}

// SavePhoto queues frame for writing and reports whether it was accepted.
// Human photos ignore label.
func (s *Sink) SavePhoto(frame types.Frame, kind Kind, label string) bool {
	if frame.Empty() {
		s.logger.Warn("refusing to save empty frame", "kind", kind)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	now := s.opts.Now()
	rec := Record{Session: s.opts.Session, Kind: kind, Seq: frame.Seq, CapturedAt: now}
	switch kind {
	case KindHuman:
		rec.Path = filepath.Join(s.opts.PhotosDir, fmt.Sprintf("human_detected_%s.jpg", now.Format(timestampLayout)))
	case KindFace:
		rec.Label = label
		s.counters[label]++
		name := fmt.Sprintf("%s_%d_%s.jpg", fileSafe(label), s.counters[label], now.Format(timestampLayout))
		rec.Path = filepath.Join(s.opts.FacesDir, name)
	default:
		s.logger.Warn("unknown evidence kind", "kind", kind)
		return false
	}

	select {
	case s.queue <- job{frame: frame.Clone(), rec: rec}:
		s.queued.Add(1)
		return true
	default:
		// Queue full, drop this image to prevent blocking the render loop
		s.dropped.Add(1)
		if kind == KindFace {
			s.counters[label]--
		}
		s.logger.Warn("evidence queue full, dropping photo", "kind", kind, logging.FieldLabel, label)
		return false
	}
}

// Captures returns how many face photos were accepted per label.
func (s *Sink) Captures() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// Stats returns the sink counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Queued:  s.queued.Load(),
		Saved:   s.saved.Load(),
		Dropped: s.dropped.Load(),
		Failed:  s.failed.Load(),
	}
}

// Close stops accepting photos and waits for queued ones until ctx is done.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("evidence flush: %w", ctx.Err())
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for j := range s.queue {
		path, err := s.write(j)
		if err != nil {
			s.failed.Add(1)
			s.logger.Warn("failed to save evidence", "path", j.rec.Path, "error", err)
			continue
		}
		j.rec.Path = path
		s.saved.Add(1)
		s.logger.Info("evidence saved", "kind", j.rec.Kind, logging.FieldLabel, j.rec.Label, "path", j.rec.Path)

		for _, r := range s.recorders {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.Record(ctx, j.rec); err != nil {
				s.logger.Warn("failed to journal evidence", "path", j.rec.Path, "error", err)
			}
			cancel()
		}
	}
}

func (s *Sink) write(j job) (string, error) {
	if s.enc == nil {
		return "", errors.New("no encoder configured")
	}
	data, err := s.enc.Encode(j.frame)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	dir := filepath.Dir(j.rec.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".evidence-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	path := uniquePath(j.rec.Path)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}

// uniquePath appends a suffix when two photos land in the same second.
func uniquePath(path string) string {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", base, i, ext)
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

// fileSafe keeps a label usable as a file name component.
func fileSafe(label string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", string(os.PathSeparator), "_")
	s := strings.TrimSpace(r.Replace(label))
	if s == "" || s == "." || s == ".." {
		return "unnamed"
	}
	return s
}
