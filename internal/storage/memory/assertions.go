package memory

import (
	"github.com/kasaplus/ledger/internal/service/chart"
	"github.com/kasaplus/ledger/internal/service/journal"
	"github.com/kasaplus/ledger/internal/service/reconcile"
)

// Compile-time interface assertions documenting which interfaces Store satisfies.
var (
	_ chart.Repo     = (*Store)(nil)
	_ chart.Writer   = (*Store)(nil)
	_ journal.Repo   = (*Store)(nil)
	_ journal.Writer = (*Store)(nil)
	_ reconcile.Repo = (*Store)(nil)
)
