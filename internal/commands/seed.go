package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kasaplus/ledger/internal/ledger"
)

func newSeedChartCommand(a *app) *cobra.Command {
	var flags scopeFlags

	cmd := &cobra.Command{
		Use:   "seed-chart",
		Short: "Create the default chart of accounts for a branch and print its trial balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := flags.scope()
			if err != nil {
				return err
			}
			st, closeFn, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			svc := a.services(st)
			if _, err := svc.chart.SeedDefaults(cmd.Context(), scope); err != nil {
				return fmt.Errorf("seeding chart: %w", err)
			}
			accs, err := svc.journal.TrialBalance(cmd.Context(), scope)
			if err != nil {
				return fmt.Errorf("trial balance: %w", err)
			}
			return printTrialBalance(cmd.OutOrStdout(), accs)
		},
	}
	flags.register(cmd)

	return cmd
}

func printTrialBalance(w io.Writer, accs []ledger.Account) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME\tCLASS\tNORMAL\tBALANCE")
	for _, acc := range accs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", acc.Code, acc.Name, acc.Class, acc.NormalBalance, acc.Balance)
	}
	return tw.Flush()
}
