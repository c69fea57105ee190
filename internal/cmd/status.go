package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/gotmesh/internal/taskmanager"
)

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show task counts, or the details of one task",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := openPeer()
	if err != nil {
		return err
	}
	defer env.close()
	out := newPrinter(cmd.OutOrStdout())

	if len(args) == 0 {
		counts := env.tm.Counts()
		if statusJSON {
			return writeJSON(out, counts)
		}
		if counts.Total == 0 {
			fmt.Fprintln(out.w, "No tasks")
			return nil
		}
		printCounts(out, counts)
		return nil
	}

	inst, err := env.tm.Status(args[0])
	if err != nil {
		return err
	}
	if statusJSON {
		return writeJSON(out, inst)
	}
	printInstance(out, inst)
	return nil
}

func printInstance(out *printer, inst taskmanager.Instance) {
	field := func(name, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(out.w, "%-12s %s\n", out.muted(name+":"), value)
	}

	out.header(inst.ID)
	field("Kind", inst.TaskDefID)
	field("Status", out.status(inst.Status))
	if inst.Degraded {
		field("Degraded", "a best-effort dependency failed")
	}
	field("Priority", fmt.Sprint(inst.Priority))
	field("Attempts", fmt.Sprintf("%d of %d", inst.Attempts, inst.MaxRetries+1))
	field("Depends on", strings.Join(inst.DependsOn, ", "))
	owner := inst.ClaimedBy
	if owner != "" && inst.Remote {
		owner += " (remote)"
	}
	field("Claimed by", owner)
	field("Created", formatTime(&inst.CreatedAt))
	field("Started", formatTime(inst.StartedAt))
	field("Finished", formatTime(inst.CompletedAt))
	if len(inst.Params) > 0 {
		field("Params", string(inst.Params))
	}
	if len(inst.Result) > 0 {
		field("Result", string(inst.Result))
	}
	if inst.Error != nil {
		field("Error", inst.Error.Error())
		field("Root cause", inst.Error.RootCause)
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func writeJSON(out *printer, v any) error {
	enc := json.NewEncoder(out.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
