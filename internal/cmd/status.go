package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/writerlock/internal/coordinator"
	"github.com/Iron-Ham/writerlock/internal/metrics"
)

var (
	statusJSON        bool
	statusMetricsFile string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the writer lock holder and queue",
	Long: `Show whether the writer lock is held, by whom and since when, and which
tickets are waiting. status never waits on the queue mutex, so it answers
promptly even while another process is joining or leaving the queue.

The first line of text output is "locked" or "unlocked".`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print status as JSON")
	statusCmd.Flags().StringVar(&statusMetricsFile, "metrics-file", "", "Also write Prometheus metrics to this textfile (default metrics.textfile)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd, "status")
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := rt.coord.Status(ctx)
	if err != nil {
		return err
	}

	if statusJSON {
		err = writeStatusJSON(cmd.OutOrStdout(), st)
	} else {
		writeStatusText(cmd.OutOrStdout(), st)
	}
	if err != nil {
		return err
	}

	path := statusMetricsFile
	if path == "" {
		path = rt.cfg.Metrics.Textfile
	}
	if path != "" {
		if err := writeStatusMetrics(path, st); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}

func writeStatusText(w io.Writer, st coordinator.Status) {
	switch {
	case st.LockErr != nil:
		fmt.Fprintln(w, lockedStyle.Render("locked"))
		fmt.Fprintf(w, "%s%s\n", labelStyle.Render("holder"), problemStyle.Render("unreadable lock record ("+st.LockErr.Error()+")"))
	case st.Lock != nil:
		fmt.Fprintln(w, lockedStyle.Render("locked"))
		fmt.Fprintf(w, "%s%s\n", labelStyle.Render("holder"), st.Lock.Holder())
		fmt.Fprintf(w, "%s%s %s\n", labelStyle.Render("since"),
			st.Lock.AcquiredAt.Format(time.RFC3339),
			mutedStyle.Render("("+humanize.RelTime(st.Lock.AcquiredAt, st.At, "ago", "from now")+")"))
	default:
		fmt.Fprintln(w, unlockedStyle.Render("unlocked"))
	}

	if st.QueueErr != nil {
		fmt.Fprintf(w, "%s%s\n", labelStyle.Render("queue"), problemStyle.Render("unavailable ("+st.QueueErr.Error()+")"))
		return
	}
	fmt.Fprintf(w, "%s%d waiting\n", labelStyle.Render("queue"), st.Depth())
	for _, e := range st.Entries {
		if e.Corrupt {
			fmt.Fprintf(w, "  #%d %s\n", e.Ticket, problemStyle.Render("unreadable entry"))
			continue
		}
		fmt.Fprintf(w, "  #%d %s %s\n", e.Ticket, e.Owner(),
			mutedStyle.Render("joined "+humanize.RelTime(e.JoinedAt, st.At, "ago", "from now")))
	}
}

type statusHolderJSON struct {
	Host       string    `json:"host"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

type statusEntryJSON struct {
	Ticket   int64      `json:"ticket"`
	Host     string     `json:"host,omitempty"`
	PID      int        `json:"pid,omitempty"`
	JoinedAt *time.Time `json:"joined_at,omitempty"`
	Corrupt  bool       `json:"corrupt,omitempty"`
}

type statusOutputJSON struct {
	Locked     bool              `json:"locked"`
	Holder     *statusHolderJSON `json:"holder,omitempty"`
	LockError  string            `json:"lock_error,omitempty"`
	Queue      []statusEntryJSON `json:"queue"`
	QueueError string            `json:"queue_error,omitempty"`
	At         time.Time         `json:"at"`
}

// writeStatusJSON never includes the release token.
func writeStatusJSON(w io.Writer, st coordinator.Status) error {
	out := statusOutputJSON{
		Locked: st.Locked(),
		Queue:  make([]statusEntryJSON, 0, len(st.Entries)),
		At:     st.At,
	}
	if st.Lock != nil {
		out.Holder = &statusHolderJSON{Host: st.Lock.Host, PID: st.Lock.PID, AcquiredAt: st.Lock.AcquiredAt}
	}
	if st.LockErr != nil {
		out.LockError = st.LockErr.Error()
	}
	if st.QueueErr != nil {
		out.QueueError = st.QueueErr.Error()
	}
	for _, e := range st.Entries {
		entry := statusEntryJSON{Ticket: e.Ticket, Corrupt: e.Corrupt}
		if !e.Corrupt {
			joined := e.JoinedAt
			entry.Host, entry.PID, entry.JoinedAt = e.Host, e.PID, &joined
		}
		out.Queue = append(out.Queue, entry)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func writeStatusMetrics(path string, st coordinator.Status) error {
	snap := metrics.Snapshot{
		At:     st.At,
		Locked: st.Locked(),
		Depth:  st.Depth(),
	}
	if st.Lock != nil {
		snap.AcquiredAt = st.Lock.AcquiredAt
	}
	if st.LockErr != nil {
		snap.Corrupt++
	}
	for _, e := range st.Entries {
		if e.Corrupt {
			snap.Corrupt++
			continue
		}
		if snap.OldestJoin.IsZero() || e.JoinedAt.Before(snap.OldestJoin) {
			snap.OldestJoin = e.JoinedAt
		}
	}
	metrics.Observe(snap)

	reg := metrics.NewRegistry()
	metrics.RegisterLockMetrics(reg)
	return metrics.WriteTextfile(path, reg)
}
