// Package reconcile aligns register accounts with their registers and posts
// journals missing for recorded transactions.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/kasaplus/ledger/internal/dictionary"
	"github.com/kasaplus/ledger/internal/errs"
	"github.com/kasaplus/ledger/internal/ledger"
	"github.com/kasaplus/ledger/internal/meta"
	"github.com/kasaplus/ledger/internal/metrics"
	"github.com/kasaplus/ledger/internal/service/journal"
)

// Repo defines read operations needed by the service.
type Repo interface {
	RegistersByScope(ctx context.Context, scope ledger.Scope) ([]ledger.Register, error)
	TransactionsByKind(ctx context.Context, scope ledger.Scope, kind ledger.TransactionKind) ([]ledger.Transaction, error)
	JournalBySource(ctx context.Context, tenantID uuid.UUID, sourceType ledger.SourceType, sourceID uuid.UUID) (ledger.Journal, error)
}

// Registers resolves the account mirroring a register.
type Registers interface {
	ResolveForRegister(ctx context.Context, scope ledger.Scope, registerID uuid.UUID) (ledger.Account, error)
}

// Poster persists proposed journals.
type Poster interface {
	Post(ctx context.Context, req journal.PostRequest) (ledger.Journal, error)
}

// Mapper posts a journal for a business transaction.
type Mapper interface {
	PostFromTransaction(ctx context.Context, trx ledger.Transaction) (ledger.Journal, bool, error)
}

// ItemError records a register or transaction that could not be processed.
type ItemError struct {
	Item string
	ID   uuid.UUID
	Err  error
}

func (e ItemError) Error() string { return fmt.Sprintf("%s %s: %v", e.Item, e.ID, e.Err) }

func (e ItemError) Unwrap() error { return e.Err }

// Report summarises a batch run. Failures never abort the batch.
type Report struct {
	Posted   int
	Failures []ItemError
}

func (r *Report) merge(o Report) {
	r.Posted += o.Posted
	r.Failures = append(r.Failures, o.Failures...)
}

// Service runs reconciliation batches for one branch.
type Service interface {
	ReconcileRegisters(ctx context.Context, scope ledger.Scope) (Report, error)
	Repair(ctx context.Context, scope ledger.Scope) (Report, error)
}

type service struct {
	repo      Repo
	registers Registers
	poster    Poster
	mapper    Mapper
	curr      money.Currency
	log       *slog.Logger
	now       func() time.Time
}

func New(repo Repo, registers Registers, poster Poster, mapper Mapper, curr money.Currency, logger *slog.Logger) Service {
	return &service{repo: repo, registers: registers, poster: poster, mapper: mapper, curr: curr, log: logger, now: time.Now}
}

// ReconcileRegisters posts an adjustment against opening capital for every
// register whose account balance drifted beyond tolerance.
func (s *service) ReconcileRegisters(ctx context.Context, scope ledger.Scope) (Report, error) {
	if err := scope.Validate(); err != nil {
		return Report{}, err
	}
	regs, err := s.repo.RegistersByScope(ctx, scope)
	if err != nil {
		return Report{}, fmt.Errorf("list registers: %w", err)
	}
	var rep Report
	for _, reg := range regs {
		posted, err := s.reconcileOne(ctx, scope, reg)
		if err != nil {
			s.log.Error("register reconciliation failed",
				"tenant_id", scope.TenantID, "branch", scope.Branch, "register_id", reg.ID, "err", err)
			rep.Failures = append(rep.Failures, ItemError{Item: "register", ID: reg.ID, Err: err})
			continue
		}
		if posted {
			rep.Posted++
		}
	}
	return rep, nil
}

func (s *service) reconcileOne(ctx context.Context, scope ledger.Scope, reg ledger.Register) (bool, error) {
	acc, err := s.registers.ResolveForRegister(ctx, scope, reg.ID)
	if err != nil {
		return false, err
	}
	diff, err := ledger.Round(s.curr, reg.Balance).Sub(acc.Balance)
	if err != nil {
		return false, err
	}
	if diff.Abs().Cmp(ledger.DriftTolerance) <= 0 {
		return false, nil
	}

	// A positive drift grows the account on its normal side.
	side := acc.NormalBalance
	if diff.IsNeg() {
		side = side.Opposite()
	}
	amount := diff.Abs()
	desc := fmt.Sprintf("REGISTER RECONCILIATION: %s", reg.Name)
	_, err = s.poster.Post(ctx, journal.PostRequest{
		Scope:       scope,
		Description: desc,
		Date:        s.now(),
		Lines: []ledger.EntryLine{
			{AccountCode: acc.Code, AccountName: acc.Name, Side: side, Amount: amount, Description: desc},
			{
				AccountCode: dictionary.CapitalOpening, AccountName: dictionary.Name(dictionary.CapitalOpening),
				Side: side.Opposite(), Amount: amount, Description: desc,
			},
		},
		SourceType: ledger.SourceSystem,
		SourceID:   reg.ID,
		Metadata: meta.Metadata{
			meta.KeyRegisterID: reg.ID.String(),
			meta.KeyDrift:      diff.String(),
		},
	})
	if err != nil {
		return false, err
	}
	metrics.ReconcileAdjustments.Inc()
	s.log.Info("register drift adjusted",
		"tenant_id", scope.TenantID, "branch", scope.Branch, "register_id", reg.ID,
		"code", acc.Code, "drift", ledger.Format(s.curr, diff))
	return true, nil
}

// Repair posts journals for commission expenses that have none, then
// reconciles registers against the accounts those postings touched. A second
// run posts nothing new.
func (s *service) Repair(ctx context.Context, scope ledger.Scope) (Report, error) {
	if err := scope.Validate(); err != nil {
		return Report{}, err
	}
	expenses, err := s.repo.TransactionsByKind(ctx, scope, ledger.KindExpense)
	if err != nil {
		return Report{}, fmt.Errorf("list expenses: %w", err)
	}
	var rep Report
	for _, trx := range expenses {
		if !trx.IsCommission() {
			continue
		}
		_, err := s.repo.JournalBySource(ctx, scope.TenantID, ledger.SourceTransaction, trx.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, errs.ErrNotFound) {
			rep.Failures = append(rep.Failures, ItemError{Item: "transaction", ID: trx.ID, Err: err})
			continue
		}
		_, posted, err := s.mapper.PostFromTransaction(ctx, trx)
		if err != nil {
			s.log.Error("repair posting failed",
				"tenant_id", scope.TenantID, "branch", scope.Branch, "transaction_id", trx.ID, "err", err)
			rep.Failures = append(rep.Failures, ItemError{Item: "transaction", ID: trx.ID, Err: err})
			continue
		}
		if posted {
			rep.Posted++
			metrics.RepairPostings.Inc()
		}
	}
	reconciled, err := s.ReconcileRegisters(ctx, scope)
	if err != nil {
		return rep, err
	}
	rep.merge(reconciled)
	s.log.Info("repair finished",
		"tenant_id", scope.TenantID, "branch", scope.Branch, "posted", rep.Posted, "failures", len(rep.Failures))
	return rep, nil
}
