package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/lookout/internal/evidence"
	"github.com/andresmejia3/lookout/internal/utils"
)

var (
	evidenceSession string
	evidenceLatest  bool
	evidenceRemote  bool
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "List saved evidence photos from the journal",
	Long:  "Lists the evidence journal. Without --session the known sessions are listed, most recent first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if evidenceRemote {
			if err := connectDB(cmd.Context(), true); err != nil {
				return err
			}
			return runSightings(cmd.Context(), evidenceSession)
		}
		return runEvidence(cmd.Context(), journalPath(), evidenceSession, evidenceLatest)
	},
}

func init() {
	evidenceCmd.Flags().StringVarP(&evidenceSession, "session", "s", "", "List the captures of one session")
	evidenceCmd.Flags().BoolVar(&evidenceLatest, "latest", false, "List the captures of the most recent session")
	evidenceCmd.Flags().BoolVar(&evidenceRemote, "db", false, "Read the sightings mirrored to PostgreSQL instead of the local journal")
	rootCmd.AddCommand(evidenceCmd)
}

func journalPath() string {
	return filepath.Join(cfg.Paths.LogDir, "evidence.db")
}

func runEvidence(ctx context.Context, path, session string, latest bool) error {
	j, err := evidence.OpenJournal(path)
	if err != nil {
		utils.ShowError("Failed to open evidence journal", err, nil)
		return err
	}
	defer j.Close()

	if session == "" && !latest {
		sessions, err := j.Sessions(ctx)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No evidence recorded yet.")
			return nil
		}
		rows := make([][]string, 0, len(sessions))
		for _, s := range sessions {
			rows = append(rows, []string{s})
		}
		fmt.Println(renderTable([]string{"SESSION"}, rows, nil))
		return nil
	}

	if latest {
		sessions, err := j.Sessions(ctx)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No evidence recorded yet.")
			return nil
		}
		session = sessions[0]
	}

	records, err := j.List(ctx, session)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("No evidence recorded for session %s.\n", session)
		return nil
	}
	fmt.Println(renderTable(
		[]string{"TIME", "KIND", "LABEL", "SEQ", "PATH"},
		evidenceRows(records),
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	return nil
}

func evidenceRows(records []evidence.Record) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		label := r.Label
		if label == "" {
			label = "-"
		}
		rows = append(rows, []string{
			r.CapturedAt.Local().Format("2006-01-02 15:04:05"),
			string(r.Kind),
			label,
			strconv.FormatUint(r.Seq, 10),
			r.Path,
		})
	}
	return rows
}

func runSightings(ctx context.Context, session string) error {
	sightings, err := DB.ListSightings(ctx, session)
	if err != nil {
		utils.ShowError("Failed to list sightings", err, nil)
		return err
	}
	if len(sightings) == 0 {
		fmt.Println("No sightings found in database.")
		return nil
	}
	rows := make([][]string, 0, len(sightings))
	for _, s := range sightings {
		rows = append(rows, []string{s.Session, s.CapturedAt.Local().Format("2006-01-02 15:04:05"), s.Kind, s.Label, s.Path})
	}
	fmt.Println(renderTable([]string{"SESSION", "TIME", "KIND", "LABEL", "PATH"}, rows, nil))
	return nil
}
