package identify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/andresmejia3/lookout/internal/config"
	"github.com/andresmejia3/lookout/internal/logging"
	"github.com/andresmejia3/lookout/internal/types"
	"github.com/andresmejia3/lookout/internal/worker"
)

// FaceModel is the subset of the face model process the identification stage uses.
type FaceModel interface {
	LocateFaces(frame types.Frame) ([]types.FaceResult, error)
	Kill() error
	Close() error
}

// Options tunes the identification processor.
type Options struct {
	MinFaceSize       int
	SkipSimilarFrames bool
	SimilarDiffMean   float64
	SimilarSeqWindow  int
}

// OptionsFromConfig extracts processor options from cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		MinFaceSize:       cfg.Recognition.MinFaceSize,
		SkipSimilarFrames: cfg.Recognition.SkipSimilarFrames,
		SimilarDiffMean:   cfg.Recognition.SimilarDiffMean,
		SimilarSeqWindow:  cfg.Recognition.SimilarSeqWindow,
	}
}

// Processor locates faces through the model process and labels them in Go.
// Process and Reset are only called from the owning stage goroutine.
type Processor struct {
	model   FaceModel
	matcher *Matcher
	opts    Options
	logger  *slog.Logger

	prev     types.Frame
	prevIDs  types.IdentityList
	havePrev bool
	reused   uint64
}

// NewProcessor wraps a running face model.
func NewProcessor(model FaceModel, matcher *Matcher, opts Options, logger *slog.Logger) *Processor {
	return &Processor{
		model:   model,
		matcher: matcher,
		opts:    opts,
		logger:  logging.Component(logger, "identify"),
	}
}

// LaunchModel starts the face model process described by cfg.
func LaunchModel(cfg config.Config) (*worker.ModelWorker, error) {
	return worker.Start("identify", worker.Config{
		Command:     cfg.Models.FaceCommand,
		ReadTimeout: cfg.ReadTimeout(),
		Env:         []string{"LOOKOUT_FACE_MODEL=" + cfg.Models.FaceModel},
	})
}

// Process returns the labeled faces in frame.
func (p *Processor) Process(ctx context.Context, frame types.Frame) (types.IdentityList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame.Empty() {
		return types.IdentityList{}, nil
	}

	if p.opts.SkipSimilarFrames && p.havePrev && similarTo(p.prev, frame, p.opts.SimilarSeqWindow, p.opts.SimilarDiffMean) {
		p.reused++
		return copyIdentities(p.prevIDs), nil
	}

	faces, err := p.model.LocateFaces(frame)
	if err != nil {
		return nil, fmt.Errorf("locate faces: %w", err)
	}
	ids := p.matcher.Identify(faces, frame.Width, frame.Height, p.opts.MinFaceSize)

	p.prev = frame
	p.prevIDs = ids
	p.havePrev = true
	return copyIdentities(ids), nil
}

// Reused counts frames answered from the previous result.
func (p *Processor) Reused() uint64 { return p.reused }

// Reset forgets the previous frame so the next one is always processed.
func (p *Processor) Reset() error {
	p.prev = types.Frame{}
	p.prevIDs = nil
	p.havePrev = false
	p.logger.Debug("identification state cleared")
	return nil
}

// Kill terminates the model process.
func (p *Processor) Kill() error {
	return p.model.Kill()
}

// Close shuts the model process down.
func (p *Processor) Close() error {
	return p.model.Close()
}

func copyIdentities(ids types.IdentityList) types.IdentityList {
	out := make(types.IdentityList, len(ids))
	copy(out, ids)
	return out
}
