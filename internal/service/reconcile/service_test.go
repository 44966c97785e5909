package reconcile_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/decimal"
	"github.com/govalues/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasaplus/ledger/internal/dictionary"
	"github.com/kasaplus/ledger/internal/errs"
	"github.com/kasaplus/ledger/internal/ledger"
	"github.com/kasaplus/ledger/internal/service/chart"
	"github.com/kasaplus/ledger/internal/service/journal"
	"github.com/kasaplus/ledger/internal/service/posting"
	"github.com/kasaplus/ledger/internal/service/reconcile"
	"github.com/kasaplus/ledger/internal/storage/memory"
)

type fixture struct {
	svc    reconcile.Service
	chart  chart.Service
	mapper posting.Service
	store  *memory.Store
	scope  ledger.Scope
}

func setupWith(t *testing.T, wrap func(chart.Service) reconcile.Registers) fixture {
	t.Helper()
	curr, err := money.ParseCurr("TRY")
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	accounts := chart.New(store, store, logger)
	poster := journal.New(store, store, accounts, curr, logger)
	mapper := posting.New(accounts, poster, curr, decimal.MustNew(20, 0), logger)
	var regs reconcile.Registers = accounts
	if wrap != nil {
		regs = wrap(accounts)
	}
	return fixture{
		svc:    reconcile.New(store, regs, poster, mapper, curr, logger),
		chart:  accounts,
		mapper: mapper,
		store:  store,
		scope:  ledger.Scope{TenantID: uuid.New(), Branch: "Main"},
	}
}

func setup(t *testing.T) fixture { return setupWith(t, nil) }

func (f fixture) register(name string, typ ledger.RegisterType, balance string) uuid.UUID {
	id := uuid.New()
	f.store.SeedRegister(ledger.Register{
		ID: id, TenantID: f.scope.TenantID, Branch: f.scope.Branch, Name: name, Type: typ, Balance: decimal.MustParse(balance),
	})
	return id
}

func (f fixture) accountFor(t *testing.T, reg uuid.UUID) ledger.Account {
	t.Helper()
	acc, err := f.store.AccountByRegister(context.Background(), f.scope, reg)
	require.NoError(t, err)
	return acc
}

func (f fixture) capital(t *testing.T) decimal.Decimal {
	t.Helper()
	acc, err := f.store.AccountByCode(context.Background(), f.scope, dictionary.CapitalOpening)
	require.NoError(t, err)
	return acc.Balance
}

func TestReconcileRegisters_AdjustsDriftOnNormalSide(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	cash := f.register("Till", ledger.RegisterCash, "750")
	card := f.register("Company Card", ledger.RegisterCreditCard, "300")

	rep, err := f.svc.ReconcileRegisters(ctx, f.scope)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Posted)
	assert.Empty(t, rep.Failures)

	assert.True(t, f.accountFor(t, cash).Balance.Equal(decimal.MustParse("750")))
	cardAcc := f.accountFor(t, card)
	assert.Equal(t, ledger.SideCredit, cardAcc.NormalBalance)
	assert.True(t, cardAcc.Balance.Equal(decimal.MustParse("300")), cardAcc.Balance.String())
	// Capital absorbs the asset gain and offsets the liability.
	assert.True(t, f.capital(t).Equal(decimal.MustParse("450")), f.capital(t).String())

	again, err := f.svc.ReconcileRegisters(ctx, f.scope)
	require.NoError(t, err)
	assert.Zero(t, again.Posted)
}

func TestReconcileRegisters_NegativeDriftAndTolerance(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	till := f.register("Till", ledger.RegisterCash, "450")
	f.register("Petty", ledger.RegisterCash, "0.01")

	trx := ledger.Transaction{
		ID: uuid.New(), TenantID: f.scope.TenantID, Branch: f.scope.Branch, Kind: ledger.KindCollection,
		Amount: decimal.MustParse("500"), Description: "collection", Date: time.Now(), RegisterID: till,
	}
	_, posted, err := f.mapper.PostFromTransaction(ctx, trx)
	require.NoError(t, err)
	require.True(t, posted)

	rep, err := f.svc.ReconcileRegisters(ctx, f.scope)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Posted, "drift of 0.01 stays within tolerance")
	assert.True(t, f.accountFor(t, till).Balance.Equal(decimal.MustParse("450")))
	assert.True(t, f.capital(t).Equal(decimal.MustParse("-50")), f.capital(t).String())
}

// flakyRegisters fails resolution for one register.
type flakyRegisters struct {
	reconcile.Registers
	bad uuid.UUID
}

var errResolve = errors.New("resolve failed")

func (f flakyRegisters) ResolveForRegister(ctx context.Context, scope ledger.Scope, id uuid.UUID) (ledger.Account, error) {
	if id == f.bad {
		return ledger.Account{}, errResolve
	}
	return f.Registers.ResolveForRegister(ctx, scope, id)
}

func TestReconcileRegisters_CollectsItemFailures(t *testing.T) {
	bad := uuid.New()
	f := setupWith(t, func(c chart.Service) reconcile.Registers {
		return flakyRegisters{Registers: c, bad: bad}
	})
	f.store.SeedRegister(ledger.Register{ID: bad, TenantID: f.scope.TenantID, Branch: f.scope.Branch, Name: "Broken", Type: ledger.RegisterCash, Balance: decimal.MustParse("5")})
	f.register("Working", ledger.RegisterCash, "20")

	rep, err := f.svc.ReconcileRegisters(context.Background(), f.scope)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Posted)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, bad, rep.Failures[0].ID)
	assert.ErrorIs(t, rep.Failures[0], errResolve)
}

func TestRepair_PostsMissingCommissionJournalsOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.register("POS", ledger.RegisterPOS, "0")

	expense := func(desc string) ledger.Transaction {
		trx := ledger.Transaction{
			ID: uuid.New(), TenantID: f.scope.TenantID, Branch: f.scope.Branch, Kind: ledger.KindExpense,
			Amount: decimal.MustParse("12.40"), Description: desc, Date: time.Now(),
		}
		f.store.SeedTransaction(trx)
		return trx
	}
	missing := expense("POS komisyon kesintisi")
	already := expense("Card commission")
	expense("Cleaning supplies")
	_, posted, err := f.mapper.PostFromTransaction(ctx, already)
	require.NoError(t, err)
	require.True(t, posted)

	rep, err := f.svc.Repair(ctx, f.scope)
	require.NoError(t, err)
	assert.Empty(t, rep.Failures)
	assert.Equal(t, 1, rep.Posted)
	j, err := f.store.JournalBySource(ctx, f.scope.TenantID, ledger.SourceTransaction, missing.ID)
	require.NoError(t, err)
	assert.Equal(t, dictionary.FinanceExpenses, j.Lines[0].AccountCode)

	second, err := f.svc.Repair(ctx, f.scope)
	require.NoError(t, err)
	assert.Zero(t, second.Posted)
	assert.Empty(t, second.Failures)
}

func TestRepair_RegisterCommissionSettlesInOneRun(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	pos := f.register("POS", ledger.RegisterPOS, "87.60")
	f.store.SeedTransaction(ledger.Transaction{
		ID: uuid.New(), TenantID: f.scope.TenantID, Branch: f.scope.Branch, Kind: ledger.KindExpense,
		Amount: decimal.MustParse("12.40"), Description: "POS komisyon kesintisi", Date: time.Now(),
		RegisterID: pos,
	})

	first, err := f.svc.Repair(ctx, f.scope)
	require.NoError(t, err)
	assert.Empty(t, first.Failures)
	assert.Equal(t, 2, first.Posted, "commission and drift adjustment")
	assert.Equal(t, "87.60", f.accountFor(t, pos).Balance.String())

	second, err := f.svc.Repair(ctx, f.scope)
	require.NoError(t, err)
	assert.Empty(t, second.Failures)
	assert.Zero(t, second.Posted)
	assert.Equal(t, "87.60", f.accountFor(t, pos).Balance.String())
}

func TestRepair_RequiresScope(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Repair(context.Background(), ledger.Scope{Branch: "Main"})
	assert.ErrorIs(t, err, errs.ErrMissingTenantContext)
}
