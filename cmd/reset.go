package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/lookout/internal/evidence"
	"github.com/andresmejia3/lookout/internal/utils"
)

var (
	resetDB      bool
	resetFiles   bool
	resetJournal bool
	resetYes     bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (evidence photos, journal, database)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles && !resetJournal {
			resetDB = true
			resetFiles = true
			resetJournal = true
		}

		// A running pipeline holds the lock; never clear state under it.
		lock, err := evidence.AcquireLock(cfg.Paths.LogDir)
		if err != nil {
			utils.ShowError("Cannot reset while lookout is running", err, nil)
			return err
		}
		defer lock.Release()

		ask := confirmer(os.Stdin, resetYes)

		if resetDB {
			if err := connectDB(cmd.Context(), false); err != nil {
				return err
			}
			if DB == nil {
				fmt.Println("ℹ️  No database configured, skipping.")
			} else if ask("⚠️  Are you sure you want to DROP all database tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetFiles {
			if ask("⚠️  Are you sure you want to delete all evidence photos?") {
				fmt.Println("🗑️  Clearing Evidence Photos...")
				removeDir(cfg.Paths.PhotosDir)
				removeDir(cfg.Paths.FacesDir)
			}
		}

		if resetJournal {
			if ask("⚠️  Are you sure you want to clear the evidence journal?") {
				fmt.Println("🗑️  Clearing Evidence Journal...")
				if err := clearJournal(cmd.Context(), journalPath()); err != nil {
					utils.ShowError("Failed to clear evidence journal", err, nil)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Drop the PostgreSQL tables")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Delete evidence photos")
	resetCmd.Flags().BoolVar(&resetJournal, "journal", false, "Clear the evidence journal")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirmer(in io.Reader, assumeYes bool) func(prompt string) bool {
	r := bufio.NewReader(in)
	return func(prompt string) bool {
		if assumeYes {
			return true
		}
		return confirm(r, prompt)
	}
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func clearJournal(ctx context.Context, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	j, err := evidence.OpenJournal(path)
	if err != nil {
		return err
	}
	defer j.Close()
	return j.Clear(ctx)
}

func removeDir(path string) {
	if path == "" {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
