package identify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/text/unicode/norm"

	"github.com/andresmejia3/lookout/internal/logging"
	"github.com/andresmejia3/lookout/internal/types"
	"github.com/andresmejia3/lookout/internal/utils"
)

// ErrNoFace is reported for a reference image in which the model found no face.
var ErrNoFace = errors.New("no face found")

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Embedder turns an encoded reference image into face embeddings.
type Embedder interface {
	EmbedImage(data []byte) ([]types.FaceResult, error)
}

// Cache stores reference embeddings keyed by file fingerprint.
type Cache interface {
	LookupGalleryEmbedding(ctx context.Context, fingerprint string) ([]float64, bool, error)
	SaveGalleryEmbedding(ctx context.Context, fingerprint, label, path string, vec []float64) error
}

// LoadFailure records a reference image that could not be registered.
type LoadFailure struct {
	Path string
	Err  error
}

// LoadReport summarizes one gallery load.
type LoadReport struct {
	Loaded   int
	Cached   int
	Failures []LoadFailure
}

// Loader builds a Gallery from a folder of labeled images.
type Loader struct {
	embedder Embedder
	cache    Cache
	progress io.Writer
	logger   *slog.Logger
}

// NewLoader returns a loader. cache and progress may be nil.
func NewLoader(embedder Embedder, cache Cache, progress io.Writer, logger *slog.Logger) *Loader {
	return &Loader{
		embedder: embedder,
		cache:    cache,
		progress: progress,
		logger:   logging.Component(logger, "gallery"),
	}
}

// LabelFor derives the identity label from an image file name.
func LabelFor(path string) string {
	base := filepath.Base(path)
	return norm.NFC.String(strings.TrimSuffix(base, filepath.Ext(base)))
}

// ListImages returns the reference images in dir in lexical order, which is
// also the gallery registration order.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Load registers every readable face in dir. Per-file failures are logged and
// skipped; only an unreadable dir is returned as an error, alongside an empty gallery.
func (l *Loader) Load(ctx context.Context, dir string) (*Gallery, LoadReport, error) {
	g := NewGallery()
	var report LoadReport

	paths, err := ListImages(dir)
	if err != nil {
		return g, report, fmt.Errorf("read gallery %s: %w", dir, err)
	}

	var bar *progressbar.ProgressBar
	if l.progress != nil && len(paths) > 0 {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetDescription("🧑 Loading gallery"),
			progressbar.OptionSetWriter(l.progress),
			progressbar.OptionShowCount(),
		)
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return g, report, err
		}
		entry, cached, err := l.loadOne(ctx, path)
		if bar != nil {
			bar.Add(1)
		}
		if err != nil {
			report.Failures = append(report.Failures, LoadFailure{Path: path, Err: err})
			l.logger.Warn("skipping gallery image", "path", path, "error", err)
			continue
		}
		if g.Add(entry) {
			report.Loaded++
			if cached {
				report.Cached++
			}
			l.logger.Debug("gallery entry registered", logging.FieldLabel, entry.Label, "cached", cached)
		}
	}
	if bar != nil {
		bar.Finish()
	}

	l.logger.Info("gallery loaded", "entries", report.Loaded, "cached", report.Cached, "skipped", len(report.Failures))
	return g, report, nil
}

func (l *Loader) loadOne(ctx context.Context, path string) (Entry, bool, error) {
	entry := Entry{Label: LabelFor(path), Path: path}

	fp, err := utils.FileFingerprint(path)
	if err != nil {
		return entry, false, err
	}
	entry.Fingerprint = fp

	if l.cache != nil {
		vec, ok, err := l.cache.LookupGalleryEmbedding(ctx, fp)
		if err != nil {
			l.logger.Warn("gallery cache lookup failed", "path", path, "error", err)
		} else if ok {
			entry.Vec = vec
			return entry, true, nil
		}
	}

	if l.embedder == nil {
		return entry, false, errors.New("no face model available")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return entry, false, err
	}
	faces, err := l.embedder.EmbedImage(data)
	if err != nil {
		return entry, false, err
	}
	if len(faces) == 0 || len(faces[0].Vec) == 0 {
		return entry, false, ErrNoFace
	}
	entry.Vec = faces[0].Vec

	if l.cache != nil {
		if err := l.cache.SaveGalleryEmbedding(ctx, fp, entry.Label, path, entry.Vec); err != nil {
			l.logger.Warn("gallery cache save failed", "path", path, "error", err)
		}
	}
	return entry, false, nil
}
