package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kasaplus/ledger/internal/service/chart"
	"github.com/kasaplus/ledger/internal/service/journal"
	"github.com/kasaplus/ledger/internal/service/posting"
	"github.com/kasaplus/ledger/internal/service/reconcile"
	"github.com/kasaplus/ledger/internal/storage/memory"
	pgstore "github.com/kasaplus/ledger/internal/storage/postgres"
)

// store is the union of what the services need from persistence.
type store interface {
	chart.Repo
	chart.Writer
	journal.Repo
	journal.Writer
	reconcile.Repo
	Ready(ctx context.Context) error
}

// openStore connects to Postgres when DATABASE_URL is set and falls back to
// the in-memory store otherwise.
func (a *app) openStore(ctx context.Context) (store, func(), error) {
	if a.cfg.DatabaseURL == "" {
		a.logger.Info("storage backend: memory")
		return memory.New(), func() {}, nil
	}
	pg, err := pgstore.Open(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	a.logger.Info("storage backend: postgres")
	return pg, pg.Close, nil
}

type services struct {
	chart     chart.Service
	journal   journal.Service
	posting   posting.Service
	reconcile reconcile.Service
}

func (a *app) services(st store) services {
	log := func(component string) *slog.Logger { return a.logger.With("component", component) }
	accounts := chart.New(st, st, log("chart"))
	poster := journal.New(st, st, accounts, a.cfg.Currency, log("journal"))
	mapper := posting.New(accounts, poster, a.cfg.Currency, a.cfg.DefaultVATRate, log("posting"))
	return services{
		chart:     accounts,
		journal:   poster,
		posting:   mapper,
		reconcile: reconcile.New(st, accounts, poster, mapper, a.cfg.Currency, log("reconcile")),
	}
}
