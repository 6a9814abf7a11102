package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Iron-Ham/writerlock/internal/coordinator"
	"github.com/spf13/cobra"
)

var (
	acquireWait       bool
	acquirePoll       float64
	acquirePrintToken bool
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire the writer lock",
	Long: `Acquire the writer lock for the current process.

Without --wait a single attempt is made and the command fails immediately if
another process holds the lock. With --wait the caller joins the queue and
polls until it is the oldest live waiter and the lock is free.

The release token is stored in the lock record; pass --print-token to also
write it to stdout as token=<value>.`,
	Args: cobra.NoArgs,
	RunE: runAcquire,
}

func init() {
	rootCmd.AddCommand(acquireCmd)

	acquireCmd.Flags().BoolVar(&acquireWait, "wait", false, "Queue and wait until the lock is granted")
	acquireCmd.Flags().Float64Var(&acquirePoll, "poll", 0, "Seconds between checks while waiting (default from wait.poll_interval)")
	acquireCmd.Flags().BoolVar(&acquirePrintToken, "print-token", false, "Print the release token as token=<value>")
}

func runAcquire(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd, "acquire")
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var grant coordinator.Grant
	if acquireWait {
		poll, err := pollInterval(acquirePoll, rt.cfg.Wait.PollInterval)
		if err != nil {
			return err
		}
		if rt.cfg.Wait.Watch {
			if err := rt.watch(cmd); err != nil {
				return err
			}
		}
		grant, err = rt.coord.AcquireWait(ctx, poll)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return fmt.Errorf("interrupted while waiting for the writer lock: %w", err)
			}
			return err
		}
	} else {
		grant, err = rt.coord.Acquire(ctx)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if grant.Ticket > 0 {
		fmt.Fprintf(out, "Acquired writer lock as %s after %s in queue (ticket %d)\n",
			grant.Record.Holder(), grant.Waited.Round(time.Millisecond), grant.Ticket)
	} else {
		fmt.Fprintf(out, "Acquired writer lock as %s\n", grant.Record.Holder())
	}
	if acquirePrintToken {
		fmt.Fprintf(out, "token=%s\n", grant.Token)
	}
	return nil
}

// pollInterval converts the --poll seconds flag, falling back to the
// configured interval when the flag is unset.
func pollInterval(seconds float64, fallback time.Duration) (time.Duration, error) {
	if seconds == 0 {
		return fallback, nil
	}
	if seconds < 0 {
		return 0, fmt.Errorf("--poll must be positive, got %v", seconds)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
