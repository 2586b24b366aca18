// Package config loads, normalizes, and validates lookout configuration.
//
// A Config is built once at startup (defaults, then the TOML file, then CLI
// overrides) and passed by value into every component constructor.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Camera selects the capture devices in failover order.
type Camera struct {
	// Primary and Secondary are OpenCV device specs: a numeric index ("0") or a stream URL.
	Primary         string `toml:"primary"`
	Secondary       string `toml:"secondary"`
	Width           int    `toml:"width"`
	Height          int    `toml:"height"`
	OpenTimeoutMS   int    `toml:"open_timeout_ms"`
	RetryIntervalMS int    `toml:"retry_interval_ms"`
}

// Models holds the commands that launch the external model processes.
type Models struct {
	PoseCommand []string `toml:"pose_command"`
	FaceCommand []string `toml:"face_command"`
	// FaceModel is forwarded to the face process ("hog" on CPU, "cnn" with CUDA).
	FaceModel              string  `toml:"face_model"`
	MinDetectionConfidence float64 `toml:"min_detection_confidence"`
	MinTrackingConfidence  float64 `toml:"min_tracking_confidence"`
	ReadTimeoutMS          int     `toml:"read_timeout_ms"`
}

// Recognition holds gallery matching policy.
type Recognition struct {
	Tolerance     float64 `toml:"tolerance"`
	Distance      string  `toml:"distance"` // euclidean or cosine
	FoundWindowMS int     `toml:"found_window_ms"`
	MinFaceSize   int     `toml:"min_face_size"`

	// SkipSimilarFrames reuses the previous result when consecutive frames barely differ.
	SkipSimilarFrames bool    `toml:"skip_similar_frames"`
	SimilarDiffMean   float64 `toml:"similar_diff_mean"`
	SimilarSeqWindow  int     `toml:"similar_seq_window"`
}

// Stages holds the stage worker timing knobs.
type Stages struct {
	PoseEnabled     bool `toml:"pose_enabled"`
	IdentifyEnabled bool `toml:"identify_enabled"`
	PollTimeoutMS   int  `toml:"poll_timeout_ms"`
	StopTimeoutMS   int  `toml:"stop_timeout_ms"`
}

// Pipeline holds orchestrator policy.
type Pipeline struct {
	DebounceInterval int    `toml:"debounce_interval"`
	TickIntervalMS   int    `toml:"tick_interval_ms"`
	Display          string `toml:"display"` // window or headless
	WindowTitle      string `toml:"window_title"`
	HeartbeatSeconds int    `toml:"heartbeat_seconds"`
}

// Paths contains the on-disk layout.
type Paths struct {
	GalleryDir string `toml:"gallery_dir"`
	PhotosDir  string `toml:"photos_dir"`
	FacesDir   string `toml:"faces_dir"`
	LogDir     string `toml:"log_dir"`
}

// Evidence controls the evidence sink.
type Evidence struct {
	QueueSize   int `toml:"queue_size"`
	JPEGQuality int `toml:"jpeg_quality"`
}

// Database configures the optional Postgres gallery cache.
type Database struct {
	URL string `toml:"url"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	ToFile bool   `toml:"to_file"`
}

// Config encapsulates all configuration values for lookout.
type Config struct {
	Camera      Camera      `toml:"camera"`
	Models      Models      `toml:"models"`
	Recognition Recognition `toml:"recognition"`
	Stages      Stages      `toml:"stages"`
	Pipeline    Pipeline    `toml:"pipeline"`
	Paths       Paths       `toml:"paths"`
	Evidence    Evidence    `toml:"evidence"`
	Database    Database    `toml:"database"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the default location of the configuration file.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/lookout/config.toml")
}

// Load reads path over the defaults. A missing file is not an error when
// allowMissing is set; the defaults are returned instead.
func Load(path string, allowMissing bool) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return cfg, err
		}
		path = p
		allowMissing = true
	}

	expanded, err := expandPath(path)
	if err != nil {
		return cfg, err
	}

	data, err := os.ReadFile(expanded)
	switch {
	case errors.Is(err, fs.ErrNotExist) && allowMissing:
		// defaults only
	case err != nil:
		return cfg, fmt.Errorf("read config %s: %w", expanded, err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", expanded, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Encode renders cfg as TOML.
func Encode(cfg Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

func (c *Config) normalize() error {
	for _, p := range []*string{&c.Paths.GalleryDir, &c.Paths.PhotosDir, &c.Paths.FacesDir, &c.Paths.LogDir} {
		expanded, err := expandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	c.Recognition.Distance = strings.ToLower(strings.TrimSpace(c.Recognition.Distance))
	c.Pipeline.Display = strings.ToLower(strings.TrimSpace(c.Pipeline.Display))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	return nil
}

// EnsureDirectories creates the evidence and log directories.
func (c Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.PhotosDir, c.Paths.FacesDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// FoundWindow is the display window for a "subject found" banner.
func (c Config) FoundWindow() time.Duration {
	return time.Duration(c.Recognition.FoundWindowMS) * time.Millisecond
}

// PollTimeout is how long a stage waits on its input mailbox before rechecking stop.
func (c Config) PollTimeout() time.Duration {
	return time.Duration(c.Stages.PollTimeoutMS) * time.Millisecond
}

// StopTimeout is the join deadline before a stage's model process is killed.
func (c Config) StopTimeout() time.Duration {
	return time.Duration(c.Stages.StopTimeoutMS) * time.Millisecond
}

// TickInterval paces the headless orchestrator loop.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Pipeline.TickIntervalMS) * time.Millisecond
}

// ReadTimeout bounds one model process round trip.
func (c Config) ReadTimeout() time.Duration {
	return time.Duration(c.Models.ReadTimeoutMS) * time.Millisecond
}

// OpenTimeout bounds opening one capture device.
func (c Config) OpenTimeout() time.Duration {
	return time.Duration(c.Camera.OpenTimeoutMS) * time.Millisecond
}

// RetryInterval is the capture goroutine's back-off after a failed read.
func (c Config) RetryInterval() time.Duration {
	return time.Duration(c.Camera.RetryIntervalMS) * time.Millisecond
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Clean(path), nil
}
