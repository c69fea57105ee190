package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/gotmesh/internal/taskmanager"
	"github.com/Iron-Ham/gotmesh/internal/util"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long: `List tasks in submission order.

Filters combine: --status keeps one lifecycle state, --kind matches the task
kind against a glob such as "exec" or "build-*", and --claimed-by keeps tasks
claimed by the given peer.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

// noteWidth bounds the NOTE column so one long error does not widen the table.
const noteWidth = 48

var (
	listStatus    string
	listKind      string
	listClaimedBy string
	listJSON      bool
)

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listStatus, "status", "", "Only show tasks in this status")
	listCmd.Flags().StringVar(&listKind, "kind", "", "Only show tasks whose kind matches this glob")
	listCmd.Flags().StringVar(&listClaimedBy, "claimed-by", "", "Only show tasks claimed by this peer")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
}

func runList(cmd *cobra.Command, args []string) error {
	filter := taskmanager.Filter{TaskDefID: listKind, ClaimedBy: listClaimedBy}
	if listStatus != "" {
		s, err := taskmanager.ParseStatus(listStatus)
		if err != nil {
			return err
		}
		filter.Status = s
	}

	env, err := openPeer()
	if err != nil {
		return err
	}
	defer env.close()
	out := newPrinter(cmd.OutOrStdout())

	tasks, err := env.tm.List(filter)
	if err != nil {
		return err
	}
	if listJSON {
		return writeJSON(out, tasks)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(out.w, "No matching tasks")
		return nil
	}

	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			t.ID, t.TaskDefID, t.Status.String(), fmt.Sprint(t.Priority),
			fmt.Sprint(t.Attempts), t.ClaimedBy, util.Cell(note(t), noteWidth),
		})
	}
	out.table([]string{"ID", "KIND", "STATUS", "PRIO", "ATTEMPTS", "PEER", "NOTE"}, rows, func(col int, cell string) string {
		switch col {
		case 2:
			return out.status(taskmanager.Status(cell))
		case 6:
			return out.muted(cell)
		}
		return cell
	})
	return nil
}

// note summarizes why a task is in its state, if that is not obvious.
func note(t taskmanager.Instance) string {
	switch {
	case t.Error != nil:
		return t.Error.Error()
	case t.Degraded:
		return "degraded"
	case t.Remote && !t.Status.IsTerminal():
		return "running on " + t.ClaimedBy
	}
	return ""
}
