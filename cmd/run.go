package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/lookout/internal/config"
	"github.com/andresmejia3/lookout/internal/cvio"
	"github.com/andresmejia3/lookout/internal/evidence"
	"github.com/andresmejia3/lookout/internal/identify"
	"github.com/andresmejia3/lookout/internal/logging"
	"github.com/andresmejia3/lookout/internal/pipeline"
	"github.com/andresmejia3/lookout/internal/pose"
	"github.com/andresmejia3/lookout/internal/source"
	"github.com/andresmejia3/lookout/internal/stage"
	"github.com/andresmejia3/lookout/internal/types"
	"github.com/andresmejia3/lookout/internal/utils"
)

// runFlags holds CLI overrides for the run command.
type runFlags struct {
	Primary    string
	Secondary  string
	GalleryDir string
	Tolerance  float64
	Headless   bool
	NoPose     bool
	NoIdentify bool
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the camera feed and record evidence of gallery identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		c := applyRunFlags(cmd, cfg, runOpts)
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := connectDB(cmd.Context(), false); err != nil {
			return err
		}
		return runPipeline(cmd.Context(), c, logger)
	},
}

func init() {
	bindRunFlags(runCmd, &runOpts)
	rootCmd.AddCommand(runCmd)
}

func bindRunFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringVar(&f.Primary, "primary", "", "Primary capture device (index or stream URL)")
	cmd.Flags().StringVar(&f.Secondary, "secondary", "", "Fallback capture device (index or stream URL)")
	cmd.Flags().StringVarP(&f.GalleryDir, "gallery", "g", "", "Folder of labeled reference images")
	cmd.Flags().Float64VarP(&f.Tolerance, "tolerance", "t", 0, "Face matching tolerance")
	cmd.Flags().BoolVar(&f.Headless, "headless", false, "Log status instead of opening a preview window")
	cmd.Flags().BoolVar(&f.NoPose, "no-pose", false, "Disable the pose stage (presence is always asserted)")
	cmd.Flags().BoolVar(&f.NoIdentify, "no-identify", false, "Disable the identification stage")
}

// applyRunFlags overlays the flags the user actually set onto c.
func applyRunFlags(cmd *cobra.Command, c config.Config, f runFlags) config.Config {
	flags := cmd.Flags()
	if flags.Changed("primary") {
		c.Camera.Primary = f.Primary
	}
	if flags.Changed("secondary") {
		c.Camera.Secondary = f.Secondary
	}
	if flags.Changed("gallery") {
		c.Paths.GalleryDir = f.GalleryDir
	}
	if flags.Changed("tolerance") {
		c.Recognition.Tolerance = f.Tolerance
	}
	if f.Headless {
		c.Pipeline.Display = "headless"
	}
	if f.NoPose {
		c.Stages.PoseEnabled = false
	}
	if f.NoIdentify {
		c.Stages.IdentifyEnabled = false
	}
	return c
}

func runPipeline(ctx context.Context, c config.Config, logger *slog.Logger) error {
	if err := c.EnsureDirectories(); err != nil {
		utils.ShowError("Failed to prepare output directories", err, nil)
		return err
	}

	lock, err := evidence.AcquireLock(c.Paths.LogDir)
	if err != nil {
		utils.ShowError("Another lookout instance is running", err, nil)
		return err
	}
	defer lock.Release()

	session := uuid.NewString()
	logger = logger.With(logging.FieldSession, session)

	var recorders []evidence.Recorder
	journal, err := evidence.OpenJournal(filepath.Join(c.Paths.LogDir, "evidence.db"))
	if err != nil {
		logger.Warn("evidence journal unavailable", "error", err)
	} else {
		defer journal.Close()
		recorders = append(recorders, journal)
	}
	if DB != nil {
		recorders = append(recorders, DB)
	}

	sink := evidence.NewSink(cvio.JPEGEncoder{Quality: c.Evidence.JPEGQuality}, evidence.Options{
		PhotosDir: c.Paths.PhotosDir,
		FacesDir:  c.Paths.FacesDir,
		QueueSize: c.Evidence.QueueSize,
		Session:   session,
		Logger:    logger,
	}, recorders...)

	stageOpts := func(name string) stage.Options {
		return stage.Options{Name: name, PollTimeout: c.PollTimeout(), StopTimeout: c.StopTimeout(), Logger: logger}
	}

	// Untyped nil keeps a disabled stage out of the orchestrator.
	var poseStage pipeline.Stage[types.PoseResult]
	var identStage pipeline.Stage[types.IdentityList]

	// Until the orchestrator owns them, models are closed here on failure.
	var launched []io.Closer
	abort := func(err error) error {
		for _, m := range launched {
			m.Close()
		}
		sink.Close(context.Background())
		return err
	}

	if c.Stages.PoseEnabled {
		fmt.Fprintln(os.Stderr, "🚀 Starting pose model...")
		proc, _, err := pose.Launch(c, logger)
		if err != nil {
			utils.ShowError("Failed to start pose model", err, nil)
			return abort(err)
		}
		launched = append(launched, proc)
		poseStage = stage.New[types.PoseResult](proc, stageOpts("pose"))
	}

	if c.Stages.IdentifyEnabled {
		ident, err := startIdentification(ctx, c, logger)
		if err != nil {
			return abort(err)
		}
		launched = append(launched, ident)
		identStage = stage.New[types.IdentityList](ident, stageOpts("identify"))
	}

	src := source.New(source.Options{
		Primary:       cvio.DeviceSpec(c.Camera.Primary, c.Camera.Width, c.Camera.Height),
		Secondary:     cvio.DeviceSpec(c.Camera.Secondary, c.Camera.Width, c.Camera.Height),
		Width:         c.Camera.Width,
		Height:        c.Camera.Height,
		OpenTimeout:   c.OpenTimeout(),
		RetryInterval: c.RetryInterval(),
		Logger:        logger,
	})
	if err := src.Open(ctx); err != nil {
		// only a cancelled context gets here
		return abort(err)
	}
	fmt.Fprintf(os.Stderr, "📷 Capturing from %s device\n", src.Active())

	var renderer pipeline.Renderer
	if c.Pipeline.Display == "window" {
		renderer = cvio.NewWindow(c.Pipeline.WindowTitle)
	} else {
		renderer = pipeline.NewHeadlessRenderer(time.Duration(c.Pipeline.HeartbeatSeconds)*time.Second, logger)
	}

	orch := pipeline.New(src, poseStage, identStage, sink, renderer, pipeline.Options{
		Session:          session,
		DebounceInterval: c.Pipeline.DebounceInterval,
		TickInterval:     c.TickInterval(),
		FoundWindow:      c.FoundWindow(),
		FlushTimeout:     5 * time.Second,
		SourceTimeout:    time.Second,
		Logger:           logger,
	})

	fmt.Fprintln(os.Stderr, "👀 Watching. Press q in the preview window or Ctrl+C to stop.")
	summary, err := orch.Run(ctx)
	fmt.Fprintln(os.Stdout, renderSummary(summary, sink.Stats(), sink.Captures()))
	if err != nil {
		utils.ShowError("Pipeline stopped with an error", err, nil)
		return err
	}
	return nil
}

// startIdentification launches the face model, loads the gallery through it
// and returns the stage processor.
func startIdentification(ctx context.Context, c config.Config, logger *slog.Logger) (*identify.Processor, error) {
	dist, err := identify.DistanceByName(c.Recognition.Distance)
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting face model...")
	model, err := identify.LaunchModel(c)
	if err != nil {
		utils.ShowError("Failed to start face model", err, nil)
		return nil, err
	}

	var cache identify.Cache
	if DB != nil {
		cache = DB
	}
	gallery, report, err := identify.NewLoader(model, cache, os.Stderr, logger).Load(ctx, c.Paths.GalleryDir)
	if err != nil {
		// an unreadable gallery is not fatal; every face is Unknown
		logger.Warn("gallery unavailable", "dir", c.Paths.GalleryDir, "error", err)
		gallery = identify.NewGallery()
	}
	for _, f := range report.Failures {
		logger.Warn("gallery image skipped", "path", f.Path, "error", f.Err)
	}
	if gallery.Len() == 0 {
		logger.Warn("gallery is empty, all faces will be reported as unknown")
	}
	fmt.Fprintf(os.Stderr, "🧑 Gallery: %d identities (%d from cache, %d skipped)\n", gallery.Len(), report.Cached, len(report.Failures))

	matcher := identify.NewMatcher(gallery, c.Recognition.Tolerance, dist)
	return identify.NewProcessor(model, matcher, identify.OptionsFromConfig(c), logger), nil
}

// renderSummary prints the run overview and one row per captured identity.
// photos is the number of face photos the sink accepted per label.
func renderSummary(s pipeline.Summary, sink evidence.Stats, photos map[string]int) string {
	overview := renderTable(
		[]string{"SESSION", "DURATION", "FRAMES", "AVG FPS", "HUMAN FOUND", "EPISODES", "SOURCE", "FAILOVERS"},
		[][]string{{
			s.Session,
			fmtDuration(s.Ended.Sub(s.Started)),
			strconv.FormatUint(s.Ticks-s.Skipped, 10),
			fmt.Sprintf("%.1f", s.AvgFPS),
			strconv.Itoa(s.HumanFound),
			strconv.Itoa(s.Episodes),
			s.Source,
			strconv.Itoa(s.Failovers),
		}},
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft, alignRight},
	)

	out := overview + "\n" + fmt.Sprintf("Evidence: %d saved, %d dropped, %d failed", sink.Saved, sink.Dropped, sink.Failed)
	if len(s.Identities) == 0 {
		return out + "\nNo gallery identities were captured."
	}

	rows := make([][]string, 0, len(s.Identities))
	for _, id := range s.Identities {
		rows = append(rows, []string{id.Label, strconv.Itoa(id.Captures), strconv.Itoa(photos[id.Label]), id.FirstSeen.Local().Format("2006-01-02 15:04:05")})
	}
	return out + "\n" + renderTable([]string{"IDENTITY", "CAPTURES", "PHOTOS", "FIRST SEEN"}, rows, []columnAlignment{alignLeft, alignRight, alignRight, alignLeft})
}

func fmtDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}
