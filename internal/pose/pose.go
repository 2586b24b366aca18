// Package pose adapts the pose model process to a stage processor.
package pose

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/andresmejia3/lookout/internal/config"
	"github.com/andresmejia3/lookout/internal/logging"
	"github.com/andresmejia3/lookout/internal/types"
	"github.com/andresmejia3/lookout/internal/worker"
)

// Model is the subset of the model process the pose stage uses.
type Model interface {
	DetectPose(frame types.Frame) (types.PoseReply, error)
	ResetModel() error
	Kill() error
	Close() error
}

// Processor detects whether a human is visible in a frame.
type Processor struct {
	model  Model
	logger *slog.Logger
}

// New wraps an already running model.
func New(model Model, logger *slog.Logger) *Processor {
	return &Processor{model: model, logger: logging.Component(logger, "pose")}
}

// Launch starts the pose model process described by cfg.
func Launch(cfg config.Config, logger *slog.Logger) (*Processor, *worker.ModelWorker, error) {
	w, err := worker.Start("pose", worker.Config{
		Command:     cfg.Models.PoseCommand,
		ReadTimeout: cfg.ReadTimeout(),
		Env: []string{
			fmt.Sprintf("LOOKOUT_MIN_DETECTION_CONFIDENCE=%g", cfg.Models.MinDetectionConfidence),
			fmt.Sprintf("LOOKOUT_MIN_TRACKING_CONFIDENCE=%g", cfg.Models.MinTrackingConfidence),
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return New(w, logger), w, nil
}

// Process returns the landmarks found in frame. A frame with nobody in it
// yields an empty result, not an error.
func (p *Processor) Process(ctx context.Context, frame types.Frame) (types.PoseResult, error) {
	if err := ctx.Err(); err != nil {
		return types.PoseResult{}, err
	}
	if frame.Empty() {
		return types.PoseResult{}, nil
	}
	reply, err := p.model.DetectPose(frame)
	if err != nil {
		return types.PoseResult{}, fmt.Errorf("detect pose: %w", err)
	}
	return types.PoseResult{Landmarks: reply.Landmarks}, nil
}

// Reset clears the model's landmark smoothing between episodes.
func (p *Processor) Reset() error {
	p.logger.Debug("resetting pose model")
	return p.model.ResetModel()
}

// Kill terminates the model process.
func (p *Processor) Kill() error {
	return p.model.Kill()
}

// Close shuts the model process down.
func (p *Processor) Close() error {
	return p.model.Close()
}
