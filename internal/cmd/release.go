package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/Iron-Ham/writerlock/internal/lockstore"
	"github.com/spf13/cobra"
)

var (
	releaseForce bool
	releaseToken string
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Release the writer lock",
	Long: `Release the writer lock.

The release token issued at acquire time must be supplied with --token or the
WRITER_LOCK_TOKEN environment variable. --force removes the lock regardless of
token, including a lock record that can no longer be parsed.`,
	Args: cobra.NoArgs,
	RunE: runRelease,
}

func init() {
	rootCmd.AddCommand(releaseCmd)

	releaseCmd.Flags().BoolVar(&releaseForce, "force", false, "Release without checking the token")
	releaseCmd.Flags().StringVar(&releaseToken, "token", "", "Release token (default $WRITER_LOCK_TOKEN)")
}

func runRelease(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd, "release")
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	token := releaseToken
	if token == "" {
		token = rt.cfg.Token
	}

	rec, err := rt.coord.Release(ctx, token, releaseForce)
	switch {
	case errors.Is(err, lockstore.ErrTokenRequired):
		return fmt.Errorf("%w: pass --token or set WRITER_LOCK_TOKEN, or use --force", err)
	case errors.Is(err, lockstore.ErrTokenMismatch):
		return fmt.Errorf("%w: check the token or use --force", err)
	case err != nil:
		return err
	}

	if rec == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Released writer lock (unreadable record removed)")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Released writer lock held by %s\n", rec.Holder())
	return nil
}
