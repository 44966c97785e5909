package postgres

import (
	"github.com/kasaplus/ledger/internal/service/chart"
	"github.com/kasaplus/ledger/internal/service/journal"
	"github.com/kasaplus/ledger/internal/service/reconcile"
)

var (
	_ chart.Repo     = (*Store)(nil)
	_ chart.Writer   = (*Store)(nil)
	_ journal.Repo   = (*Store)(nil)
	_ journal.Writer = (*Store)(nil)
	_ reconcile.Repo = (*Store)(nil)
)
