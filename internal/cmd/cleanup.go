package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old finished tasks and their results",
	Long: `Cleanup removes tasks that finished more than the retention period ago,
along with their stored results. A task is kept while any task that
depends on it is still unfinished.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

var cleanupRetentionDays int

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().IntVar(&cleanupRetentionDays, "retention-days", -1, "Keep tasks finished within this many days (default task.retention_days)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	env, err := openPeer()
	if err != nil {
		return err
	}
	defer env.close()
	out := newPrinter(cmd.OutOrStdout())

	retention := env.cfg.Task.Retention()
	if cleanupRetentionDays >= 0 {
		retention = time.Duration(cleanupRetentionDays) * 24 * time.Hour
	}

	removed := env.tm.CleanupOldTasks(retention)
	if removed == 0 {
		fmt.Fprintln(out.w, "Nothing to clean up")
		return nil
	}
	if err := env.save(); err != nil {
		return err
	}
	env.logger.Info("cleaned up tasks", "removed", removed, "retention", retention.String())
	fmt.Fprintf(out.w, "Removed %d finished tasks\n", removed)
	return nil
}
