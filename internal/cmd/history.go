package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/writerlock/internal/config"
	"github.com/Iron-Ham/writerlock/internal/logging"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the writer lock audit log",
	Long: `Show lock grants, releases, queue joins and prunes recorded by every
participant in the shared audit log.

Examples:
  # Last 50 events
  writerlock history

  # Everything that happened to ticket 12
  writerlock history --ticket 12 -n 0

  # Warnings from the last hour as JSON
  writerlock history --level warn --since 1h --format json`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var (
	historyTail   int
	historyLevel  string
	historySince  string
	historyTicket int64
	historyPID    int
	historyGrep   string
	historyFormat string
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	historyCmd.Flags().StringVar(&historyLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	historyCmd.Flags().StringVar(&historySince, "since", "", "Show entries since duration ago (e.g., 1h, 30m)")
	historyCmd.Flags().Int64Var(&historyTicket, "ticket", 0, "Show entries about this queue ticket")
	historyCmd.Flags().IntVar(&historyPID, "pid", 0, "Show entries written on behalf of this pid")
	historyCmd.Flags().StringVar(&historyGrep, "grep", "", "Show entries whose message contains this text")
	historyCmd.Flags().StringVar(&historyFormat, "format", "text", "Output format (text/json)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	root, err := resolveRoot(cfg)
	if err != nil {
		return err
	}

	filter := logging.LogFilter{
		Ticket:          historyTicket,
		PID:             historyPID,
		MessageContains: historyGrep,
	}
	if historyLevel != "" {
		filter.Level = strings.ToUpper(historyLevel)
		if !isValidLevel(filter.Level) {
			return fmt.Errorf("invalid level %q (valid: %s)", historyLevel, strings.Join(logging.ValidLevels(), ", "))
		}
	}
	if historySince != "" {
		d, err := time.ParseDuration(historySince)
		if err != nil {
			return fmt.Errorf("invalid --since duration %q: %w", historySince, err)
		}
		filter.Since = time.Now().Add(-d)
	}

	entries, err := logging.ReadHistory(cfg.Logging.ResolveFile(root, logging.DefaultFileName))
	if errors.Is(err, logging.ErrNoHistory) {
		fmt.Fprintln(cmd.ErrOrStderr(), "No audit log yet")
		return nil
	}
	if err != nil {
		return err
	}

	entries = logging.FilterLogs(entries, filter)
	if historyTail > 0 && len(entries) > historyTail {
		entries = entries[len(entries)-historyTail:]
	}
	return logging.WriteHistory(cmd.OutOrStdout(), entries, historyFormat)
}

func isValidLevel(level string) bool {
	for _, l := range logging.ValidLevels() {
		if l == level {
			return true
		}
	}
	return false
}
