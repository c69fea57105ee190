package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/gotmesh/internal/clock"
	"github.com/Iron-Ham/gotmesh/internal/coordination"
	"github.com/Iron-Ham/gotmesh/internal/event"
	"github.com/Iron-Ham/gotmesh/internal/mailbox"
	"github.com/Iron-Ham/gotmesh/internal/plan"
	"github.com/Iron-Ham/gotmesh/internal/taskmanager"
	"github.com/Iron-Ham/gotmesh/internal/util"
)

// errorWidth bounds error text in progress lines.
const errorWidth = 80

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Submit a plan and work on it until every task is finished",
	Long: `Run loads a YAML plan, submits its tasks and starts a peer that
executes them.

Task state is restored from the data directory first, so re-running the
same plan resumes it: finished tasks are kept and interrupted ones are
retried. Peers on other machines (or in other terminals) join the work by
running the same plan with the same mailbox directory.

The command returns when every task is completed, failed, timed out or
cancelled, or when interrupted. Either way the task state is saved.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runSolo        bool
	runKeepRunning bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runSolo, "solo", false, "Run without a mailbox, ignoring other peers")
	runCmd.Flags().BoolVar(&runKeepRunning, "keep-running", false, "Keep serving gossip after the plan is finished")
	runCmd.Flags().Int("workers", 0, "Number of concurrent workers (overrides scheduler.workers)")
	runCmd.Flags().String("mailbox", "", "Shared mailbox directory (overrides peer.mailbox_dir)")
	_ = viper.BindPFlag("scheduler.workers", runCmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("peer.mailbox_dir", runCmd.Flags().Lookup("mailbox"))
}

func runRun(cmd *cobra.Command, args []string) error {
	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}

	env, err := openPeer()
	if err != nil {
		return err
	}
	defer env.close()

	out := newPrinter(cmd.OutOrStdout())
	peerID := env.cfg.Peer.ResolvePeerID()

	res, err := p.Submit(env.tm)
	if err != nil {
		// Keep whatever was accepted so a fixed plan can resume.
		_ = env.save()
		return err
	}
	env.logger.Info("plan submitted", "plan", args[0], "submitted", len(res.Submitted), "existing", len(res.Existing))
	fmt.Fprintf(out.w, "%s %s: %d submitted, %d already known\n",
		out.render(headerStyle, "plan"), args[0], len(res.Submitted), len(res.Existing))

	var messenger coordination.Messenger
	if runSolo {
		messenger = coordination.NewMemoryNetwork().Join(peerID)
	} else {
		mb := mailbox.NewMailbox(env.cfg.Peer.ResolveMailboxDir(), peerID, mailbox.WithLogger(env.logger))
		if err := mb.Register(); err != nil {
			return fmt.Errorf("failed to join mailbox: %w", err)
		}
		defer func() { _ = mb.Unregister() }()
		messenger = mb
	}

	opts := coordination.FromConfig(env.cfg)
	opts = append(opts, coordination.WithLogger(env.logger))
	if !runKeepRunning {
		opts = append(opts, coordination.WithStopWhenDone())
	}
	hub, err := coordination.NewHub(coordination.Config{
		Manager:   env.tm,
		Clock:     clock.New(peerID, clock.WithMaxLog(env.cfg.Clock.MaxLog), clock.WithLogger(env.logger)),
		Messenger: messenger,
	}, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = hub.Close() }()

	unsubscribe := reportProgress(out, env.tm.Bus())
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := hub.Run(ctx)
	if saveErr := env.save(); saveErr != nil {
		return saveErr
	}
	if runErr != nil && ctx.Err() == nil {
		return runErr
	}

	counts := env.tm.Counts()
	printCounts(out, counts)
	if ctx.Err() != nil {
		fmt.Fprintln(out.w, out.muted("interrupted; state saved"))
		return nil
	}
	if bad := counts.Failed + counts.Timeout; bad > 0 {
		return fmt.Errorf("%d of %d tasks did not complete", bad, counts.Total)
	}
	return nil
}

// reportProgress prints one line per finished task. It returns a function
// that removes the subscriptions.
func reportProgress(out *printer, bus *event.Bus) func() {
	var mu sync.Mutex
	line := func(id string, status taskmanager.Status, detail string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out.w, "%-10s %s", out.status(status), id)
		if detail != "" {
			fmt.Fprintf(out.w, " %s", out.muted(detail))
		}
		fmt.Fprintln(out.w)
	}

	ids := []string{
		bus.Subscribe(event.TypeTaskCompleted, func(e event.Event) {
			ev := e.(event.TaskCompletedEvent)
			detail := ""
			if ev.Remote {
				detail = "(by another peer)"
			}
			line(ev.TaskID, taskmanager.StatusCompleted, detail)
		}),
		bus.Subscribe(event.TypeTaskFailed, func(e event.Event) {
			ev := e.(event.TaskFailedEvent)
			status := taskmanager.StatusFailed
			if ev.Kind == "timeout" {
				status = taskmanager.StatusTimeout
			}
			detail := util.Cell(ev.Error, errorWidth)
			if len(ev.Cascaded) > 0 {
				detail += fmt.Sprintf(" (skipping %s)", strings.Join(ev.Cascaded, ", "))
			}
			line(ev.TaskID, status, detail)
		}),
		bus.Subscribe(event.TypeTaskRetried, func(e event.Event) {
			ev := e.(event.TaskRetriedEvent)
			line(ev.TaskID, taskmanager.StatusReady, fmt.Sprintf("retrying after attempt %d: %s", ev.Attempt, ev.Reason))
		}),
	}
	return func() {
		for _, id := range ids {
			bus.Unsubscribe(id)
		}
	}
}

func printCounts(out *printer, c taskmanager.Counts) {
	rows := [][]string{}
	for _, s := range taskmanager.Statuses() {
		if n := countOf(c, s); n > 0 {
			rows = append(rows, []string{s.String(), fmt.Sprint(n)})
		}
	}
	rows = append(rows, []string{"total", fmt.Sprint(c.Total)})
	out.table([]string{"STATUS", "TASKS"}, rows, func(col int, cell string) string {
		if col == 0 && cell != "total" {
			return out.status(taskmanager.Status(cell))
		}
		return cell
	})
}

func countOf(c taskmanager.Counts, s taskmanager.Status) int {
	switch s {
	case taskmanager.StatusPending:
		return c.Pending
	case taskmanager.StatusReady:
		return c.Ready
	case taskmanager.StatusClaimed:
		return c.Claimed
	case taskmanager.StatusRunning:
		return c.Running
	case taskmanager.StatusCompleted:
		return c.Completed
	case taskmanager.StatusFailed:
		return c.Failed
	case taskmanager.StatusCancelled:
		return c.Cancelled
	case taskmanager.StatusTimeout:
		return c.Timeout
	}
	return 0
}
