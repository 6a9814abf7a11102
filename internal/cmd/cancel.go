package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cancelTicket int64

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Withdraw a ticket from the writer queue",
	Long: `Withdraw a queued ticket. The waiter holding the ticket notices on its
next check and exits with an error. Prints canceled=1 when the ticket was
removed and canceled=0 when it was already gone.`,
	Args: cobra.NoArgs,
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)

	cancelCmd.Flags().Int64Var(&cancelTicket, "ticket", 0, "Ticket number to withdraw")
	_ = cancelCmd.MarkFlagRequired("ticket")
}

func runCancel(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd, "cancel")
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	removed, err := rt.coord.Cancel(ctx, cancelTicket)
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintln(cmd.OutOrStdout(), "canceled=1")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "canceled=0")
	}
	return nil
}
