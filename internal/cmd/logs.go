package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/QalaTech/speki-sub001/internal/logging"
	"github.com/QalaTech/speki-sub001/internal/statewatch"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the workspace debug log",
	Long: `View and filter the workspace debug log written when logging.enabled is set.

Examples:
  # Show the last 50 entries
  speki logs

  # Show everything logged for one artifact
  speki logs --artifact billing-spec -n 0

  # Warnings and errors of the review stage in the last hour
  speki logs --stage review --level warn --since 1h

  # Follow new entries
  speki logs -f`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsTail     int
	logsFollow   bool
	logsLevel    string
	logsSince    string
	logsGrep     string
	logsArtifact string
	logsStage    string
	logsRun      string
	logsFormat   string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Only entries whose message contains this text")
	logsCmd.Flags().StringVar(&logsArtifact, "artifact", "", "Only entries for this artifact")
	logsCmd.Flags().StringVar(&logsStage, "stage", "", "Only entries for this stage (generation/review)")
	logsCmd.Flags().StringVar(&logsRun, "run", "", "Only entries for this run id")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Output format (text/json)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	_, ws, err := loadWorkspace()
	if err != nil {
		return err
	}

	filter := logging.LogFilter{
		ArtifactID:      logsArtifact,
		Stage:           logsStage,
		RunID:           logsRun,
		MessageContains: logsGrep,
	}
	if logsLevel != "" {
		filter.Level = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		duration, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid duration format: %w", err)
		}
		filter.Since = time.Now().Add(-duration)
	}

	out := cmd.OutOrStdout()
	entries, err := readLogs(ws.LogDir(), filter)
	if err != nil {
		return err
	}
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}

	if !logsFollow {
		if len(entries) == 0 && logsFormat == "text" {
			fmt.Fprintln(out, "No matching log entries found.")
			fmt.Fprintln(out, "Logs are stored at:", ws.LogDir())
			return nil
		}
		return logging.WriteEntries(out, entries, logsFormat)
	}

	if err := logging.WriteEntries(out, entries, "text"); err != nil {
		return err
	}
	return followLogs(cmd, ws.LogDir(), filter, entries)
}

func readLogs(logDir string, filter logging.LogFilter) ([]logging.LogEntry, error) {
	entries, err := logging.AggregateLogs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}
	return logging.FilterLogs(entries, filter), nil
}

// followLogs prints entries appended after shown until interrupted.
func followLogs(cmd *cobra.Command, logDir string, filter logging.LogFilter, shown []logging.LogEntry) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := statewatch.New(logDir, logging.LogFileName)
	if err != nil {
		return fmt.Errorf("failed to watch logs: %w", err)
	}
	changes := make(chan struct{}, 1)
	watcher.Start(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer watcher.Stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Following logs... (Ctrl+C to stop)\n\n")

	var last time.Time
	if len(shown) > 0 {
		last = shown[len(shown)-1].Timestamp
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		}
		entries, err := readLogs(logDir, filter)
		if err != nil {
			return err
		}
		last, err = writeNewer(out, entries, last)
		if err != nil {
			return err
		}
	}
}

// writeNewer writes the entries stamped after last and returns the newest
// timestamp written.
func writeNewer(w io.Writer, entries []logging.LogEntry, last time.Time) (time.Time, error) {
	var fresh []logging.LogEntry
	for _, e := range entries {
		if e.Timestamp.After(last) {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return last, nil
	}
	if err := logging.WriteEntries(w, fresh, "text"); err != nil {
		return last, err
	}
	return fresh[len(fresh)-1].Timestamp, nil
}
