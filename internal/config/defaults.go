package config

const (
	defaultGalleryDir       = "~/.local/share/lookout/faces_database"
	defaultPhotosDir        = "~/.local/share/lookout/recognized_humans"
	defaultFacesDir         = "~/.local/share/lookout/recognized_faces"
	defaultLogDir           = "~/.local/share/lookout/logs"
	defaultTolerance        = 0.5
	defaultFoundWindowMS    = 5000
	defaultMinFaceSize      = 30
	defaultDebounceInterval = 30
	defaultPollTimeoutMS    = 100
	defaultStopTimeoutMS    = 2000
	defaultReadTimeoutMS    = 10000
	defaultTickIntervalMS   = 33
	defaultEvidenceQueue    = 32
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Camera: Camera{
			Primary:         "",
			Secondary:       "0",
			Width:           640,
			Height:          480,
			OpenTimeoutMS:   3000,
			RetryIntervalMS: 50,
		},
		Models: Models{
			PoseCommand:            []string{"python3", "-u", "python/pose_worker.py"},
			FaceCommand:            []string{"python3", "-u", "python/face_worker.py"},
			FaceModel:              "hog",
			MinDetectionConfidence: 0.5,
			MinTrackingConfidence:  0.5,
			ReadTimeoutMS:          defaultReadTimeoutMS,
		},
		Recognition: Recognition{
			Tolerance:         defaultTolerance,
			Distance:          "euclidean",
			FoundWindowMS:     defaultFoundWindowMS,
			MinFaceSize:       defaultMinFaceSize,
			SkipSimilarFrames: true,
			SimilarDiffMean:   10,
			SimilarSeqWindow:  3,
		},
		Stages: Stages{
			PoseEnabled:     true,
			IdentifyEnabled: true,
			PollTimeoutMS:   defaultPollTimeoutMS,
			StopTimeoutMS:   defaultStopTimeoutMS,
		},
		Pipeline: Pipeline{
			DebounceInterval: defaultDebounceInterval,
			TickIntervalMS:   defaultTickIntervalMS,
			Display:          "window",
			WindowTitle:      "lookout",
			HeartbeatSeconds: 10,
		},
		Paths: Paths{
			GalleryDir: defaultGalleryDir,
			PhotosDir:  defaultPhotosDir,
			FacesDir:   defaultFacesDir,
			LogDir:     defaultLogDir,
		},
		Evidence: Evidence{
			QueueSize:   defaultEvidenceQueue,
			JPEGQuality: 90,
		},
		Logging: Logging{
			Format: "auto",
			Level:  "info",
			ToFile: true,
		},
	}
}
