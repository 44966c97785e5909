package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kasaplus/ledger/internal/httpapi"
	"github.com/kasaplus/ledger/internal/ledger"
	"github.com/kasaplus/ledger/internal/service/reconcile"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ops HTTP server and the periodic repair loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.HTTPAddr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	st, closeFn, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           httpapi.New(st, a.logger).Handler(),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("ledger ops server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctxShutdown); err != nil {
			a.logger.Error("server shutdown error", "err", err)
		}
		return nil
	})
	if a.cfg.ReconcileInterval > 0 && len(a.cfg.ReconcileScopes) > 0 {
		rec := a.services(st).reconcile
		g.Go(func() error {
			repairLoop(ctx, rec, a.cfg.ReconcileScopes, a.cfg.ReconcileInterval, a.logger.With("component", "repair"))
			return nil
		})
	}
	return g.Wait()
}

// repairLoop runs Repair for every scope on each tick until ctx is done.
// Failures are logged; the next tick retries.
func repairLoop(ctx context.Context, rec reconcile.Service, scopes []ledger.Scope, every time.Duration, logger *slog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		for _, scope := range scopes {
			rep, err := rec.Repair(ctx, scope)
			if err != nil {
				logger.Error("scheduled repair failed", "tenant_id", scope.TenantID, "branch", scope.Branch, "err", err)
				continue
			}
			logger.Info("scheduled repair", "tenant_id", scope.TenantID, "branch", scope.Branch,
				"posted", rep.Posted, "failures", len(rep.Failures))
		}
	}
}
