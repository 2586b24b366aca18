package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/lookout/internal/identify"
	"github.com/andresmejia3/lookout/internal/types"
	"github.com/andresmejia3/lookout/internal/utils"
	"github.com/andresmejia3/lookout/internal/worker"
)

var matchTolerance float64

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Inspect and precompute the reference gallery",
}

var galleryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the reference images and whether their embeddings are cached",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := connectDB(cmd.Context(), false); err != nil {
			return err
		}
		return runGalleryList(cmd.Context(), cfg.Paths.GalleryDir)
	},
}

var galleryEnrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Embed every reference image and cache the result in PostgreSQL",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := connectDB(cmd.Context(), true); err != nil {
			return err
		}
		return runGalleryEnroll(cmd.Context(), cfg.Paths.GalleryDir)
	},
}

var galleryMatchCmd = &cobra.Command{
	Use:   "match <image_path>",
	Short: "Identify the face in an image against the gallery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := connectDB(cmd.Context(), false); err != nil {
			return err
		}
		tol := cfg.Recognition.Tolerance
		if cmd.Flags().Changed("tolerance") {
			tol = matchTolerance
		}
		return runGalleryMatch(cmd.Context(), args[0], tol)
	},
}

func init() {
	galleryMatchCmd.Flags().Float64VarP(&matchTolerance, "tolerance", "t", 0, "Face matching tolerance (default: recognition.tolerance)")
	galleryCmd.AddCommand(galleryListCmd, galleryEnrollCmd, galleryMatchCmd)
	rootCmd.AddCommand(galleryCmd)
}

func runGalleryList(ctx context.Context, dir string) error {
	images, err := identify.ListImages(dir)
	if err != nil {
		utils.ShowError("Failed to read gallery folder", err, nil)
		return err
	}
	if len(images) == 0 {
		fmt.Printf("No reference images found in %s.\n", dir)
		return nil
	}

	rows := make([][]string, 0, len(images))
	for _, path := range images {
		fp, err := utils.FileFingerprint(path)
		if err != nil {
			rows = append(rows, []string{identify.LabelFor(path), filepath.Base(path), "-", "unreadable"})
			continue
		}
		cached := "-"
		if DB != nil {
			_, ok, err := DB.LookupGalleryEmbedding(ctx, fp)
			switch {
			case err != nil:
				cached = "error"
			case ok:
				cached = "yes"
			default:
				cached = "no"
			}
		}
		rows = append(rows, []string{identify.LabelFor(path), filepath.Base(path), fp[:12], cached})
	}
	fmt.Println(renderTable([]string{"LABEL", "FILE", "FINGERPRINT", "CACHED"}, rows, nil))
	return nil
}

func runGalleryEnroll(ctx context.Context, dir string) error {
	fmt.Fprintln(os.Stderr, "🚀 Starting face model...")
	model, err := identify.LaunchModel(cfg)
	if err != nil {
		utils.ShowError("Failed to start face model", err, nil)
		return err
	}
	defer model.Close()

	gallery, report, err := identify.NewLoader(model, DB, os.Stderr, logger).Load(ctx, dir)
	if err != nil {
		utils.ShowError("Failed to load gallery", err, model.Cmd)
		return err
	}
	for _, f := range report.Failures {
		fmt.Printf("⚠️  Skipped %s: %v\n", filepath.Base(f.Path), f.Err)
	}
	fmt.Printf("✅ Enrolled %d identities (%d newly embedded, %d already cached).\n", gallery.Len(), report.Loaded-report.Cached, report.Cached)
	return nil
}

func runGalleryMatch(ctx context.Context, imagePath string, tolerance float64) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return err
	}
	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting face model...")
	model, err := identify.LaunchModel(cfg)
	if err != nil {
		utils.ShowError("Failed to start face model", err, nil)
		return err
	}
	defer model.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	faces, err := model.EmbedImage(imgData)
	if err != nil {
		utils.ShowError("Face model failed", err, model.Cmd)
		return err
	}
	best, ok := largestFace(faces)
	if !ok {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}
	if len(faces) > 1 {
		fmt.Printf("⚠️  Multiple faces detected (%d). Using the largest face.\n", len(faces))
	}

	label, dist, err := matchEmbedding(ctx, model, best.Vec, tolerance)
	if err != nil {
		utils.ShowError("Gallery search failed", err, nil)
		return err
	}
	if label == types.Unknown {
		fmt.Println("❌ No match found in gallery.")
		return nil
	}
	fmt.Printf("✅ Found Match: %s (distance %.3f, %.0f%%)\n", label, dist, identify.Similarity(label, dist))
	return nil
}

// matchEmbedding searches the Postgres cache when connected, otherwise
// loads the gallery folder and matches in memory.
func matchEmbedding(ctx context.Context, model *worker.ModelWorker, vec []float64, tolerance float64) (string, float64, error) {
	if DB != nil && cfg.Recognition.Distance == "euclidean" {
		fmt.Fprintln(os.Stderr, "🗄️  Searching database...")
		label, dist, err := DB.FindClosestLabel(ctx, vec, tolerance)
		if err != nil {
			return "", 0, err
		}
		if label == "" {
			return types.Unknown, 0, nil
		}
		return label, dist, nil
	}

	dist, err := identify.DistanceByName(cfg.Recognition.Distance)
	if err != nil {
		return "", 0, err
	}
	gallery, _, err := identify.NewLoader(model, nil, os.Stderr, logger).Load(ctx, cfg.Paths.GalleryDir)
	if err != nil {
		return "", 0, err
	}
	label, d := identify.NewMatcher(gallery, tolerance, dist).Match(vec)
	return label, d, nil
}

func largestFace(faces []types.FaceResult) (types.FaceResult, bool) {
	var best types.FaceResult
	bestArea := -1
	for _, f := range faces {
		box, ok := f.Box()
		if !ok || len(f.Vec) == 0 {
			continue
		}
		if area := box.Width() * box.Height(); area > bestArea {
			bestArea = area
			best = f
		}
	}
	return best, bestArea >= 0
}
