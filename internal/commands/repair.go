package commands

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kasaplus/ledger/internal/ledger"
	"github.com/kasaplus/ledger/internal/service/reconcile"
)

// scopeFlags binds --tenant and --branch.
type scopeFlags struct {
	tenant string
	branch string
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&f.branch, "branch", "", "branch name (required)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("branch")
}

func (f *scopeFlags) scope() (ledger.Scope, error) {
	id, err := uuid.Parse(f.tenant)
	if err != nil {
		return ledger.Scope{}, fmt.Errorf("--tenant: %w", err)
	}
	scope := ledger.Scope{TenantID: id, Branch: f.branch}
	if err := scope.Validate(); err != nil {
		return ledger.Scope{}, err
	}
	return scope, nil
}

func newRepairCommand(a *app) *cobra.Command {
	var flags scopeFlags

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Post missing commission journals and reconcile register balances",
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

			rep, err := a.services(st).reconcile.Repair(cmd.Context(), scope)
			if err != nil {
				return fmt.Errorf("repair: %w", err)
			}
			printReport(cmd.OutOrStdout(), rep)
			if len(rep.Failures) > 0 {
				return fmt.Errorf("repair: %d item(s) failed", len(rep.Failures))
			}
			return nil
		},
	}
	flags.register(cmd)

	return cmd
}

func printReport(w io.Writer, rep reconcile.Report) {
	fmt.Fprintf(w, "posted: %d\n", rep.Posted)
	for _, f := range rep.Failures {
		fmt.Fprintf(w, "failed: %v\n", f)
	}
}
