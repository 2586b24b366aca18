// Package pipeline runs the per-tick loop that ties capture, the two
// inference stages, tracking and evidence together.
//
// The loop goroutine owns the renderer. It never blocks on a stage: frames
// are submitted and results polled through single-slot mailboxes, so a slow
// model only makes its results older.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/andresmejia3/lookout/internal/evidence"
	"github.com/andresmejia3/lookout/internal/logging"
	"github.com/andresmejia3/lookout/internal/stage"
	"github.com/andresmejia3/lookout/internal/tracking"
	"github.com/andresmejia3/lookout/internal/types"
)

// FrameSource is the non-blocking camera.
type FrameSource interface {
	Read() (bool, types.Frame)
	Active() string
	Failovers() int
	Close(timeout time.Duration) error
}

// Stage is an asynchronous inference stage.
type Stage[R any] interface {
	Name() string
	Start(ctx context.Context) error
	SubmitFrame(frame types.Frame) bool
	Poll() (stage.Result[R], bool)
	Reset(seq uint64)
	Stop() error
	Stats() stage.Stats
}

// Sink persists evidence photos.
type Sink interface {
	SavePhoto(frame types.Frame, kind evidence.Kind, label string) bool
	Close(ctx context.Context) error
}

// Options configures an Orchestrator.
type Options struct {
	Session          string
	DebounceInterval int
	TickInterval     time.Duration
	FoundWindow      time.Duration
	FlushTimeout     time.Duration
	SourceTimeout    time.Duration
	Logger           *slog.Logger
	// Now is the loop clock; nil uses time.Now.
	Now func() time.Time
}

// IdentitySummary is the per-identity part of a Summary.
type IdentitySummary struct {
	Label     string
	Captures  int
	FirstSeen time.Time
}

// Summary describes a finished run.
type Summary struct {
	Session    string
	Started    time.Time
	Ended      time.Time
	Ticks      uint64
	Skipped    uint64
	AvgFPS     float64
	HumanFound int
	Episodes   int
	Identities []IdentitySummary
	Stages     map[string]stage.Stats
	Source     string
	Failovers  int
	StopErrors []error
}

// Orchestrator is the pipeline loop. Tick and Run must be called from one goroutine.
type Orchestrator struct {
	src      FrameSource
	pose     Stage[types.PoseResult]
	ident    Stage[types.IdentityList]
	sink     Sink
	renderer Renderer
	opts     Options
	logger   *slog.Logger

	machine  *tracking.Machine
	debounce *Debouncer
	fps      FPSCounter

	lastPose   types.PoseResult
	identities types.IdentityList

	started    time.Time
	ticks      uint64
	skipped    uint64
	humanFound int
	captures   map[string]int
	firstSeen  map[string]time.Time

	stopOnce sync.Once
	summary  Summary
}

// New wires an orchestrator. pose or ident may be nil to disable that
// stage; without a pose stage presence is always asserted.
func New(src FrameSource, pose Stage[types.PoseResult], ident Stage[types.IdentityList], sink Sink, renderer Renderer, opts Options) *Orchestrator {
	if opts.DebounceInterval <= 0 {
		opts.DebounceInterval = 30
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 33 * time.Millisecond
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 5 * time.Second
	}
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if renderer == nil {
		renderer = NewHeadlessRenderer(0, nil)
	}
	return &Orchestrator{
		src:       src,
		pose:      pose,
		ident:     ident,
		sink:      sink,
		renderer:  renderer,
		opts:      opts,
		logger:    logging.Component(opts.Logger, "pipeline").With(logging.FieldSession, opts.Session),
		machine:   tracking.New(opts.FoundWindow),
		debounce:  NewDebouncer(opts.DebounceInterval),
		captures:  make(map[string]int),
		firstSeen: make(map[string]time.Time),
	}
}

// Start launches the stage workers.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.started = o.opts.Now()
	for _, s := range o.stages() {
		if err := s.start(ctx); err != nil {
			return err
		}
	}
	o.logger.Info("pipeline started", logging.FieldDevice, o.src.Active())
	return nil
}

// Run ticks until ctx is done or the renderer asks to quit, then stops
// everything and returns the run summary.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	if err := o.Start(ctx); err != nil {
		return o.Stop(), err
	}

	ticker := time.NewTicker(o.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("shutdown requested")
			return o.Stop(), nil
		case <-ticker.C:
			if o.Tick() {
				o.logger.Info("quit requested from display")
				return o.Stop(), nil
			}
		}
	}
}

// Tick runs one loop iteration and reports whether the renderer asked to quit.
func (o *Orchestrator) Tick() bool {
	now := o.opts.Now()
	o.ticks++

	ok, frame := o.src.Read()
	if !ok {
		o.skipped++
		return false
	}

	if o.pose != nil {
		o.pose.SubmitFrame(frame)
		if res, ok := o.pose.Poll(); ok {
			o.lastPose = res.Value
		}
	}
	var fresh types.IdentityList
	if o.ident != nil {
		o.ident.SubmitFrame(frame)
		if res, ok := o.ident.Poll(); ok {
			fresh = res.Value
			o.identities = res.Value
		}
	}

	presence := o.pose == nil || o.lastPose.Present()
	out := o.machine.Update(presence, fresh, now)
	o.applyOutcome(out, frame, now)

	switch o.debounce.Observe(presence) {
	case Rising:
		o.humanFound++
		o.logger.Info("Human Found", logging.FieldSeq, frame.Seq)
		o.logger.Info("Face recognition activated")
		if o.sink != nil {
			o.sink.SavePhoto(frame, evidence.KindHuman, "")
		}
	case Falling:
		o.logger.Info("Human Lost", logging.FieldSeq, frame.Seq)
	}

	view := View{
		Frame:      frame,
		Presence:   presence,
		Pose:       o.lastPose,
		Identities: o.machine.Annotate(o.identities),
		FPS:        o.fps.Tick(now),
		Phase:      o.machine.Phase(),
		FaceSearch: o.machine.Phase() != tracking.Idle,
		Source:     o.src.Active(),
	}
	if last, ok := o.machine.LastFound(); ok && o.machine.BannerVisible(now) {
		view.Banner = last.Label
		view.BannerActive = true
	}
	return o.renderer.Render(view)
}

func (o *Orchestrator) applyOutcome(out tracking.Outcome, frame types.Frame, now time.Time) {
	if out.Changed() {
		o.logger.Debug("tracking phase", "from", out.From.String(), "to", out.To.String(), logging.FieldSeq, frame.Seq)
	}
	if out.Reset {
		// frames up to this one carry the previous episode
		if o.ident != nil {
			o.ident.Reset(frame.Seq)
		}
		if o.pose != nil {
			o.pose.Reset(frame.Seq)
		}
		o.identities = nil
		o.logger.Debug("tracking reset", "from", out.From.String())
	}
	if out.To == tracking.Found && out.From != tracking.Found {
		if last, ok := o.machine.LastFound(); ok {
			o.logger.Info("subject found", logging.FieldLabel, last.Label, "similarity", last.Similarity)
		}
	}
	for _, id := range out.Captures {
		o.captures[id.Label]++
		if _, ok := o.firstSeen[id.Label]; !ok {
			o.firstSeen[id.Label] = now
		}
		if o.sink != nil && !o.sink.SavePhoto(frame, evidence.KindFace, id.Label) {
			o.logger.Warn("face photo not queued", logging.FieldLabel, id.Label)
		}
	}
}

// Machine exposes the tracking state for inspection.
func (o *Orchestrator) Machine() *tracking.Machine { return o.machine }

// Stop shuts the stages down concurrently, each within its own deadline,
// then closes the source, flushes the sink and closes the renderer. It is
// safe to call more than once.
func (o *Orchestrator) Stop() Summary {
	o.stopOnce.Do(func() {
		var (
			mu   sync.Mutex
			errs []error
			wg   sync.WaitGroup
		)
		stats := make(map[string]stage.Stats)
		for _, s := range o.stages() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.stop()
				mu.Lock()
				defer mu.Unlock()
				stats[s.name] = s.stats()
				if err != nil {
					errs = append(errs, err)
					if errors.Is(err, stage.ErrStopTimeout) {
						o.logger.Warn("stage terminated forcibly", logging.FieldStage, s.name, "error", err)
					} else {
						o.logger.Warn("stage stop failed", logging.FieldStage, s.name, "error", err)
					}
				}
			}()
		}
		wg.Wait()

		if err := o.src.Close(o.opts.SourceTimeout); err != nil {
			o.logger.Warn("frame source close failed", "error", err)
			errs = append(errs, err)
		}
		if o.sink != nil {
			ctx, cancel := context.WithTimeout(context.Background(), o.opts.FlushTimeout)
			if err := o.sink.Close(ctx); err != nil {
				o.logger.Warn("evidence flush incomplete", "error", err)
				errs = append(errs, err)
			}
			cancel()
		}
		if err := o.renderer.Close(); err != nil {
			o.logger.Warn("renderer close failed", "error", err)
		}

		o.summary = o.buildSummary(stats, errs)
		o.logger.Info("pipeline stopped", "ticks", o.summary.Ticks, "skipped", o.summary.Skipped, "avg_fps", o.summary.AvgFPS)
	})
	return o.summary
}

func (o *Orchestrator) buildSummary(stats map[string]stage.Stats, errs []error) Summary {
	ended := o.opts.Now()
	s := Summary{
		Session:    o.opts.Session,
		Started:    o.started,
		Ended:      ended,
		Ticks:      o.ticks,
		Skipped:    o.skipped,
		HumanFound: o.humanFound,
		Episodes:   o.machine.Episodes(),
		Stages:     stats,
		Source:     o.src.Active(),
		Failovers:  o.src.Failovers(),
		StopErrors: errs,
	}
	if d := ended.Sub(o.started); !o.started.IsZero() && d > 0 {
		s.AvgFPS = float64(o.ticks-o.skipped) / d.Seconds()
	}
	for label, n := range o.captures {
		s.Identities = append(s.Identities, IdentitySummary{Label: label, Captures: n, FirstSeen: o.firstSeen[label]})
	}
	sort.Slice(s.Identities, func(i, j int) bool {
		a, b := s.Identities[i], s.Identities[j]
		if !a.FirstSeen.Equal(b.FirstSeen) {
			return a.FirstSeen.Before(b.FirstSeen)
		}
		return a.Label < b.Label
	})
	return s
}

// stageHandle erases the result type so both stages can be driven together.
type stageHandle struct {
	name  string
	start func(ctx context.Context) error
	stop  func() error
	stats func() stage.Stats
}

func (o *Orchestrator) stages() []stageHandle {
	var out []stageHandle
	if o.pose != nil {
		out = append(out, stageHandle{name: o.pose.Name(), start: o.pose.Start, stop: o.pose.Stop, stats: o.pose.Stats})
	}
	if o.ident != nil {
		out = append(out, stageHandle{name: o.ident.Name(), start: o.ident.Start, stop: o.ident.Stop, stats: o.ident.Stats})
	}
	return out
}
