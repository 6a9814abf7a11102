package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove queue tickets whose owners are no longer running",
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd, "prune")
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	pruned, err := rt.coord.Prune(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, ticket := range pruned {
		fmt.Fprintf(out, "pruned ticket %d\n", ticket)
	}
	fmt.Fprintf(out, "pruned=%d\n", len(pruned))
	return nil
}
