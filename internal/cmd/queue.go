package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/QalaTech/speki-sub001/internal/taskqueue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and edit the task execution queue",
	Long: `Inspect and edit the workspace's task execution queue.

The queue holds references to tasks of approved task lists, identified by
artifact and task id. It is shared with the task loop and guarded by a file
lock, so it can be edited while a loop is running.`,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued tasks in order",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

var queueAddCmd = &cobra.Command{
	Use:   "add <artifact> <task-id>...",
	Short: "Append tasks to the queue",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runQueueAdd,
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <artifact> <task-id>",
	Short: "Remove a task from the queue",
	Args:  cobra.ExactArgs(2),
	RunE:  runQueueRemove,
}

var queueQuickStartCmd = &cobra.Command{
	Use:   "quickstart <artifact> <task-id>...",
	Short: "Move tasks to the front of the queue",
	Long: `Move tasks to the front of the queue in the order given. Tasks that are
not queued yet are added and completed tasks are queued again.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runQueueQuickStart,
}

var queueOutput string

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueRemoveCmd)
	queueCmd.AddCommand(queueQuickStartCmd)

	queueListCmd.Flags().StringVarP(&queueOutput, "output", "o", "text", "output format (text, json, yaml)")
}

func openQueue() (*taskqueue.Queue, error) {
	_, ws, err := loadWorkspace()
	if err != nil {
		return nil, err
	}
	return taskqueue.New(ws.QueuePath()), nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	q, err := openQueue()
	if err != nil {
		return err
	}
	refs, err := q.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if queueOutput != "text" {
		if refs == nil {
			refs = []taskqueue.Ref{}
		}
		return writeStructured(out, queueOutput, refs)
	}
	if len(refs) == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return nil
	}
	st := newStyles(out)
	for i, r := range refs {
		status := string(r.Status)
		switch r.Status {
		case taskqueue.StatusRunning:
			status = st.render(st.active, status)
		case taskqueue.StatusCompleted:
			status = st.render(st.ok, status)
		}
		fmt.Fprintf(out, "%3d. %s  %s\n", i+1, r.Key(), status)
	}
	return nil
}

func runQueueAdd(cmd *cobra.Command, args []string) error {
	q, err := openQueue()
	if err != nil {
		return err
	}
	added, err := q.AddAll(args[0], args[1:])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, r := range added {
		fmt.Fprintf(out, "Queued %s\n", r.Key())
	}
	if skipped := len(args[1:]) - len(added); skipped > 0 {
		fmt.Fprintf(out, "Skipped %d task(s) already queued\n", skipped)
	}
	return nil
}

func runQueueRemove(cmd *cobra.Command, args []string) error {
	q, err := openQueue()
	if err != nil {
		return err
	}
	if err := q.Remove(args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s/%s\n", args[0], args[1])
	return nil
}

func runQueueQuickStart(cmd *cobra.Command, args []string) error {
	q, err := openQueue()
	if err != nil {
		return err
	}
	front, err := q.QuickStart(args[0], args[1:])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for i, r := range front {
		fmt.Fprintf(out, "%3d. %s\n", i+1, r.Key())
	}
	return nil
}
