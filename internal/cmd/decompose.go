package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/QalaTech/speki-sub001/internal/decompose"
	"github.com/QalaTech/speki-sub001/internal/errors"
	"github.com/QalaTech/speki-sub001/internal/progress"
	"github.com/QalaTech/speki-sub001/internal/statestore"
	"github.com/QalaTech/speki-sub001/internal/statewatch"
)

var decomposeCmd = &cobra.Command{
	Use:   "decompose",
	Short: "Decompose specification documents into task lists",
	Long: `Decompose a specification document into a draft task list, review it,
and approve it into the workspace's active task list.

Runs started from the CLI execute in the foreground and stream progress
until they finish. Artifacts are identified by the lower-cased stem of the
document name, e.g. "Billing Spec.md" is "billing-spec".`,
}

var decomposeStartCmd = &cobra.Command{
	Use:   "start <document>",
	Short: "Generate and review a task list for a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecomposeStart,
}

var decomposeStatusCmd = &cobra.Command{
	Use:   "status <artifact>",
	Short: "Show the decomposition state of an artifact",
	Long: `Show the decomposition state of an artifact.

With --follow, keeps printing state changes until the run finishes. This
works for runs owned by another process such as 'speki serve'.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecomposeStatus,
}

var decomposeRetryCmd = &cobra.Command{
	Use:   "retry-review <artifact>",
	Short: "Review the current draft again",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecomposeRetry,
}

var decomposeReviseCmd = &cobra.Command{
	Use:   "revise <artifact>",
	Short: "Regenerate the draft with feedback and review it",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecomposeRevise,
}

var decomposeApproveCmd = &cobra.Command{
	Use:   "approve <artifact>",
	Short: "Merge the draft into the active task list",
	Long: `Merge the draft into the active task list.

Tasks whose ids are already active are skipped. With queue.auto_enqueue the
added tasks are appended to the execution queue.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecomposeApprove,
}

var decomposeFeedbackCmd = &cobra.Command{
	Use:   "feedback <artifact> [text]",
	Short: "Show or record feedback for an artifact",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runDecomposeFeedback,
}

var decomposeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List candidate documents and their state",
	Long: `List the documents matching paths.spec_patterns together with the
decomposition state of each.`,
	Args: cobra.NoArgs,
	RunE: runDecomposeList,
}

var (
	decomposeSkipReview bool
	decomposeQuiet      bool
	decomposeFollow     bool
	decomposeOutput     string
	decomposeFeedback   string
)

func init() {
	rootCmd.AddCommand(decomposeCmd)
	decomposeCmd.AddCommand(decomposeStartCmd)
	decomposeCmd.AddCommand(decomposeStatusCmd)
	decomposeCmd.AddCommand(decomposeRetryCmd)
	decomposeCmd.AddCommand(decomposeReviseCmd)
	decomposeCmd.AddCommand(decomposeApproveCmd)
	decomposeCmd.AddCommand(decomposeFeedbackCmd)
	decomposeCmd.AddCommand(decomposeListCmd)

	decomposeStartCmd.Flags().BoolVar(&decomposeSkipReview, "skip-review", false, "complete without peer review (default from stages.skip_review)")
	for _, c := range []*cobra.Command{decomposeStartCmd, decomposeRetryCmd, decomposeReviseCmd} {
		c.Flags().BoolVarP(&decomposeQuiet, "quiet", "q", false, "only print the final state")
	}
	decomposeStatusCmd.Flags().BoolVarP(&decomposeFollow, "follow", "f", false, "follow state changes until the run finishes")
	for _, c := range []*cobra.Command{decomposeStatusCmd, decomposeApproveCmd, decomposeListCmd} {
		c.Flags().StringVarP(&decomposeOutput, "output", "o", "text", "output format (text, json, yaml)")
	}
	decomposeReviseCmd.Flags().StringVarP(&decomposeFeedback, "feedback", "m", "", "feedback for the generator (default: the recorded feedback)")
}

func runDecomposeStart(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	skip := a.cfg.Stages.SkipReview
	if cmd.Flags().Changed("skip-review") {
		skip = decomposeSkipReview
	}
	return runForeground(cmd, a, func(ctx context.Context) (decompose.Ack, error) {
		return a.orch.Start(ctx, decompose.StartRequest{
			Workspace:  a.ws.Root,
			SourceDoc:  args[0],
			SkipReview: skip,
		})
	})
}

func runDecomposeRetry(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	return runForeground(cmd, a, func(ctx context.Context) (decompose.Ack, error) {
		return a.orch.RetryReview(ctx, a.ws.Root, args[0])
	})
}

func runDecomposeRevise(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	feedback := decomposeFeedback
	if feedback == "" {
		fb, err := a.orch.Feedback(cmd.Context(), a.ws.Root, args[0])
		if err != nil {
			return fmt.Errorf("no feedback given and none recorded: %w", err)
		}
		feedback = fb.Feedback
	}
	return runForeground(cmd, a, func(ctx context.Context) (decompose.Ack, error) {
		return a.orch.Revise(ctx, a.ws.Root, args[0], feedback)
	})
}

// runForeground launches a run, streams its progress and prints the final
// state. A run that ends in ERROR makes the command fail.
func runForeground(cmd *cobra.Command, a *app, launch func(context.Context) (decompose.Ack, error)) error {
	out := cmd.OutOrStdout()
	st := newStyles(out)

	var mu sync.Mutex
	unsubscribe := a.publisher.Subscribe(a.ws.ID(), func(m progress.Message) {
		if decomposeQuiet {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		printProgress(out, st, m)
	})
	defer unsubscribe()

	ack, err := launch(cmd.Context())
	if err != nil {
		return err
	}
	a.orch.Wait(a.ws.Root, ack.ArtifactID)

	final, err := a.orch.State(cmd.Context(), a.ws.Root, ack.ArtifactID)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	if !decomposeQuiet {
		fmt.Fprintln(out)
	}
	printState(out, st, ack.ArtifactID, final)
	if final.Status == statestore.StatusError {
		return fmt.Errorf("decomposition of %s failed: %s", ack.ArtifactID, final.Error)
	}
	return nil
}

func printProgress(w io.Writer, s styles, m progress.Message) {
	switch p := m.Payload.(type) {
	case progress.LogPayload:
		fmt.Fprintln(w, s.render(s.dim, p.Line))
	case progress.StatePayload:
		fmt.Fprintf(w, "%s %s\n", s.status(p.Status), s.message(p.Message))
	}
}

func runDecomposeStatus(cmd *cobra.Command, args []string) error {
	cfg, ws, err := loadWorkspace()
	if err != nil {
		return err
	}
	artifactID := args[0]
	out := cmd.OutOrStdout()
	st := newStyles(out)

	load := func() (statestore.State, error) {
		s, err := readState(cmd.Context(), cfg, ws, artifactID)
		if errors.Is(err, errors.ErrStateCorrupted) {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			return statestore.Default(), nil
		}
		return s, err
	}

	if !decomposeFollow {
		s, err := load()
		if err != nil {
			return err
		}
		if decomposeOutput != "text" {
			return writeStructured(out, decomposeOutput, s)
		}
		printState(out, st, artifactID, s)
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir, names := stateLocation(cfg, ws, artifactID)
	watcher, err := statewatch.New(dir, names...)
	if err != nil {
		return fmt.Errorf("failed to watch state: %w", err)
	}
	var emitErr error
	final, err := statewatch.Follow(ctx, watcher, load, func(s statestore.State) {
		if decomposeOutput != "text" {
			if err := writeStructured(out, decomposeOutput, s); err != nil && emitErr == nil {
				emitErr = err
			}
			return
		}
		fmt.Fprintf(out, "%s %s\n", st.status(s.Status), st.message(s.Message))
	})
	if emitErr != nil {
		return emitErr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if decomposeOutput == "text" && final.Status.IsTerminal() {
		fmt.Fprintln(out)
		printState(out, st, artifactID, final)
	}
	return nil
}

func runDecomposeApprove(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.orch.Approve(cmd.Context(), a.ws.Root, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if decomposeOutput != "text" {
		return writeStructured(out, decomposeOutput, res)
	}

	st := newStyles(out)
	fmt.Fprintf(out, "%s %d task(s) added, %d active\n", st.render(st.ok, "Approved:"), len(res.Added), res.Total)
	for _, t := range res.Added {
		fmt.Fprintf(out, "  %s %s\n", st.render(st.label, t.ID), t.Title)
	}
	fmt.Fprintf(out, "Task list: %s\n", a.ws.Rel(res.ActivePath))
	if res.Enqueued > 0 {
		fmt.Fprintf(out, "Queued %d task(s)\n", res.Enqueued)
	}
	if res.LoopRaised {
		fmt.Fprintf(out, "Raised the running loop's iteration limit to %d\n", res.Ceiling)
	}
	return nil
}

func runDecomposeFeedback(cmd *cobra.Command, args []string) error {
	cfg, ws, err := loadWorkspace()
	if err != nil {
		return err
	}
	orch := decompose.New(decompose.Config{DataDir: cfg.Paths.DataDir})
	out := cmd.OutOrStdout()

	if len(args) == 2 {
		fb, err := orch.SaveFeedback(cmd.Context(), ws.Root, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Feedback saved for %s at %s\n", args[0], fb.Timestamp.Local().Format("2006-01-02 15:04:05"))
		return nil
	}

	fb, err := orch.Feedback(cmd.Context(), ws.Root, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(out, fb.Feedback)
	return nil
}

// documentRow is one line of 'decompose list'.
type documentRow struct {
	Document string             `json:"document"`
	Artifact string             `json:"artifact"`
	Status   statestore.Status  `json:"status"`
	Verdict  statestore.Verdict `json:"verdict,omitempty"`
}

func runDecomposeList(cmd *cobra.Command, args []string) error {
	cfg, ws, err := loadWorkspace()
	if err != nil {
		return err
	}
	docs, err := ws.FindDocuments(cfg.Paths.SpecPatterns)
	if err != nil {
		return err
	}

	store, err := decompose.OpenerFor(cfg.State)(ws)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	rows := make([]documentRow, 0, len(docs))
	for _, doc := range docs {
		id := statestore.ArtifactID(doc)
		s, err := store.Get(cmd.Context(), id)
		if err != nil {
			s = statestore.Default()
		}
		rows = append(rows, documentRow{Document: doc, Artifact: id, Status: s.Status, Verdict: s.Verdict})
	}

	out := cmd.OutOrStdout()
	if decomposeOutput != "text" {
		return writeStructured(out, decomposeOutput, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintf(out, "No documents match %s\n", strings.Join(cfg.Paths.SpecPatterns, ", "))
		return nil
	}
	st := newStyles(out)
	width := len("DOCUMENT")
	for _, r := range rows {
		width = max(width, len(r.Document))
	}
	fmt.Fprintln(out, st.render(st.label, fmt.Sprintf("%-*s  %s", width, "DOCUMENT", "STATUS")))
	for _, r := range rows {
		line := fmt.Sprintf("%-*s  %s", width, r.Document, st.status(r.Status))
		if r.Verdict != "" {
			line += " " + st.verdict(r.Verdict)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
