package config

import (
	"errors"
	"fmt"
)

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	if c.Recognition.Tolerance <= 0 || c.Recognition.Tolerance > 1.0 {
		errs = append(errs, fmt.Errorf("recognition.tolerance: must be between 0.0 and 1.0, got %f", c.Recognition.Tolerance))
	}
	switch c.Recognition.Distance {
	case "euclidean", "cosine":
	default:
		errs = append(errs, fmt.Errorf("recognition.distance: unsupported value %q", c.Recognition.Distance))
	}
	if c.Recognition.FoundWindowMS <= 0 {
		errs = append(errs, errors.New("recognition.found_window_ms: must be positive"))
	}
	if c.Recognition.MinFaceSize < 0 {
		errs = append(errs, errors.New("recognition.min_face_size: must not be negative"))
	}
	if c.Pipeline.DebounceInterval < 1 {
		errs = append(errs, fmt.Errorf("pipeline.debounce_interval: must be >= 1, got %d", c.Pipeline.DebounceInterval))
	}
	if c.Pipeline.TickIntervalMS < 0 {
		errs = append(errs, errors.New("pipeline.tick_interval_ms: must not be negative"))
	}
	switch c.Pipeline.Display {
	case "window", "headless":
	default:
		errs = append(errs, fmt.Errorf("pipeline.display: unsupported value %q", c.Pipeline.Display))
	}
	if c.Stages.PollTimeoutMS <= 0 {
		errs = append(errs, errors.New("stages.poll_timeout_ms: must be positive"))
	}
	if c.Stages.StopTimeoutMS <= 0 {
		errs = append(errs, errors.New("stages.stop_timeout_ms: must be positive"))
	}
	if c.Stages.PoseEnabled && len(c.Models.PoseCommand) == 0 {
		errs = append(errs, errors.New("models.pose_command: required when the pose stage is enabled"))
	}
	if c.Stages.IdentifyEnabled && len(c.Models.FaceCommand) == 0 {
		errs = append(errs, errors.New("models.face_command: required when the identification stage is enabled"))
	}
	if c.Evidence.QueueSize < 1 {
		errs = append(errs, errors.New("evidence.queue_size: must be >= 1"))
	}
	if c.Evidence.JPEGQuality < 1 || c.Evidence.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("evidence.jpeg_quality: must be between 1 and 100, got %d", c.Evidence.JPEGQuality))
	}
	if c.Paths.PhotosDir == "" || c.Paths.FacesDir == "" {
		errs = append(errs, errors.New("paths: photos_dir and faces_dir are required"))
	}
	switch c.Logging.Format {
	case "", "auto", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
