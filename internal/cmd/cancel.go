package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/gotmesh/internal/errors"
	"github.com/Iron-Ham/gotmesh/internal/taskmanager"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task and the tasks waiting on it",
	Long: `Cancel marks a task cancelled in the saved state, together with all of
its descendants that have not started. Finished and running dependents are
left as they are.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	env, err := openPeer()
	if err != nil {
		return err
	}
	defer env.close()
	out := newPrinter(cmd.OutOrStdout())

	id := args[0]
	if _, err := env.tm.Status(id); err != nil {
		return err
	}
	before := env.tm.Counts().Cancelled
	if !env.tm.Cancel(id) {
		inst, _ := env.tm.Status(id)
		return fmt.Errorf("%w: task %s is already %s", errors.ErrInvalidTransition, id, inst.Status)
	}
	if err := env.save(); err != nil {
		return err
	}

	n := env.tm.Counts().Cancelled - before
	fmt.Fprintf(out.w, "%s %s", out.status(taskmanager.StatusCancelled), id)
	if n > 1 {
		fmt.Fprintf(out.w, " %s", out.muted(fmt.Sprintf("and %d dependent tasks", n-1)))
	}
	fmt.Fprintln(out.w)
	return nil
}
