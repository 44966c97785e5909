package posting_test

import (
	"context"
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
	"github.com/kasaplus/ledger/internal/meta"
	"github.com/kasaplus/ledger/internal/service/chart"
	"github.com/kasaplus/ledger/internal/service/journal"
	"github.com/kasaplus/ledger/internal/service/posting"
	"github.com/kasaplus/ledger/internal/storage/memory"
)

var day = time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)

type fixture struct {
	svc   posting.Service
	store *memory.Store
	scope ledger.Scope
}

func setup(t *testing.T) fixture {
	t.Helper()
	curr, err := money.ParseCurr("TRY")
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	accounts := chart.New(store, store, logger)
	poster := journal.New(store, store, accounts, curr, logger)
	return fixture{
		svc:   posting.New(accounts, poster, curr, decimal.MustNew(20, 0), logger),
		store: store,
		scope: ledger.Scope{TenantID: uuid.New(), Branch: "Main"},
	}
}

func (f fixture) register(name string, typ ledger.RegisterType) uuid.UUID {
	id := uuid.New()
	f.store.SeedRegister(ledger.Register{ID: id, TenantID: f.scope.TenantID, Branch: f.scope.Branch, Name: name, Type: typ})
	return id
}

func (f fixture) trx(kind ledger.TransactionKind, amount, desc string) ledger.Transaction {
	return ledger.Transaction{
		ID: uuid.New(), TenantID: f.scope.TenantID, Branch: f.scope.Branch,
		Kind: kind, Amount: decimal.MustParse(amount), Description: desc, Date: day,
	}
}

type side struct {
	side   ledger.Side
	amount string
}

func linesByCode(j ledger.Journal) map[ledger.Code]side {
	out := make(map[ledger.Code]side, len(j.Lines))
	for _, ln := range j.Lines {
		out[ln.AccountCode] = side{ln.Side(), ln.Amount().String()}
	}
	return out
}

func assertLines(t *testing.T, j ledger.Journal, want map[ledger.Code]side) {
	t.Helper()
	got := linesByCode(j)
	require.Len(t, got, len(want), "lines: %+v", got)
	for code, w := range want {
		g, ok := got[code]
		if assert.True(t, ok, "missing line for %s", code) {
			assert.Equal(t, w.side, g.side, code)
			assert.True(t, decimal.MustParse(w.amount).Equal(decimal.MustParse(g.amount)), "%s: got %s want %s", code, g.amount, w.amount)
		}
	}
}

func TestPostFromTransaction_FlatRateSale(t *testing.T) {
	f := setup(t)
	trx := f.trx(ledger.KindSale, "1200", "Counter sale")
	trx.RegisterID = f.register("Main Till", ledger.RegisterCash)

	j, posted, err := f.svc.PostFromTransaction(context.Background(), trx)
	require.NoError(t, err)
	require.True(t, posted)
	assertLines(t, j, map[ledger.Code]side{
		"100.01.001":             {ledger.SideDebit, "1200"},
		dictionary.DomesticSales: {ledger.SideCredit, "1000"},
		dictionary.VATPayable:    {ledger.SideCredit, "200"},
	})
	assert.Equal(t, ledger.SourceTransaction, j.SourceType)
	assert.Equal(t, trx.ID, j.SourceID)
	src, _ := j.Metadata.Get(meta.KeyVATRateSource)
	assert.Equal(t, posting.VATSourceDefault, src)
}

func TestPostFromTransaction_SaleWithExplicitRate(t *testing.T) {
	f := setup(t)
	trx := f.trx(ledger.KindSale, "110", "Book sale")
	rate := decimal.MustNew(10, 0)
	trx.VATRate = &rate

	j, posted, err := f.svc.PostFromTransaction(context.Background(), trx)
	require.NoError(t, err)
	require.True(t, posted)
	assertLines(t, j, map[ledger.Code]side{
		dictionary.DefaultCash:   {ledger.SideDebit, "110"},
		dictionary.DomesticSales: {ledger.SideCredit, "100"},
		dictionary.VATPayable:    {ledger.SideCredit, "10"},
	})
	_, defaulted := j.Metadata.Get(meta.KeyVATRateSource)
	assert.False(t, defaulted)
}

func TestPostFromTransaction_KindTable(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	till := f.register("Till", ledger.RegisterCash)

	cases := []struct {
		kind ledger.TransactionKind
		desc string
		want map[ledger.Code]side
	}{
		{ledger.KindCollection, "Customer paid", map[ledger.Code]side{
			"100.01.001": {ledger.SideDebit, "250"}, dictionary.Receivables: {ledger.SideCredit, "250"},
		}},
		{ledger.KindPayment, "Supplier paid", map[ledger.Code]side{
			dictionary.Payables: {ledger.SideDebit, "250"}, "100.01.001": {ledger.SideCredit, "250"},
		}},
		{ledger.KindExpense, "Office rent", map[ledger.Code]side{
			dictionary.GeneralExpenses: {ledger.SideDebit, "250"}, "100.01.001": {ledger.SideCredit, "250"},
		}},
		{ledger.KindExpense, "POS komisyon kesintisi", map[ledger.Code]side{
			dictionary.FinanceExpenses: {ledger.SideDebit, "250"}, "100.01.001": {ledger.SideCredit, "250"},
		}},
		{ledger.KindPurchase, "Stock purchase", map[ledger.Code]side{
			dictionary.Merchandise: {ledger.SideDebit, "250"}, dictionary.Payables: {ledger.SideCredit, "250"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			trx := f.trx(tc.kind, "250", tc.desc)
			trx.RegisterID = till
			j, posted, err := f.svc.PostFromTransaction(ctx, trx)
			require.NoError(t, err)
			require.True(t, posted)
			assertLines(t, j, tc.want)
		})
	}
}

func TestPostFromTransaction_DefaultCashWithoutRegister(t *testing.T) {
	f := setup(t)
	j, posted, err := f.svc.PostFromTransaction(context.Background(), f.trx(ledger.KindCollection, "75.50", "Walk-in"))
	require.NoError(t, err)
	require.True(t, posted)
	assert.Equal(t, dictionary.DefaultCash, j.Lines[0].AccountCode)

	acc, err := f.store.AccountByCode(context.Background(), f.scope, dictionary.DefaultCash)
	require.NoError(t, err)
	assert.Equal(t, "MAIN CASH", acc.Name)
}

func TestPostFromTransaction_DefaultCashNeverHitsARegisterAccount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	till := f.register("Till", ledger.RegisterCash)
	linked := f.trx(ledger.KindCollection, "25", "Till takings")
	linked.RegisterID = till
	_, posted, err := f.svc.PostFromTransaction(ctx, linked)
	require.NoError(t, err)
	require.True(t, posted)

	_, posted, err = f.svc.PostFromTransaction(ctx, f.trx(ledger.KindCollection, "40", "Walk-in"))
	require.NoError(t, err)
	require.True(t, posted)

	tillAcc, err := f.store.AccountByRegister(ctx, f.scope, till)
	require.NoError(t, err)
	assert.Equal(t, ledger.Code("100.01.001"), tillAcc.Code)
	assert.True(t, tillAcc.Balance.Equal(decimal.MustParse("25")), tillAcc.Balance.String())

	cash, err := f.store.AccountByCode(ctx, f.scope, dictionary.DefaultCash)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, cash.RegisterID)
	assert.True(t, cash.Balance.Equal(decimal.MustParse("40")), cash.Balance.String())
	group, err := f.store.AccountByCode(ctx, f.scope, dictionary.DefaultCashGroup)
	require.NoError(t, err)
	assert.Equal(t, "MAIN CASH ACCOUNTS", group.Name)
}

func TestPostFromTransaction_Transfer(t *testing.T) {
	f := setup(t)
	trx := f.trx(ledger.KindTransfer, "1000", "Deposit takings")
	trx.RegisterID = f.register("Till", ledger.RegisterCash)
	trx.TargetRegisterID = f.register("Bank", ledger.RegisterBank)

	j, posted, err := f.svc.PostFromTransaction(context.Background(), trx)
	require.NoError(t, err)
	require.True(t, posted)
	assertLines(t, j, map[ledger.Code]side{
		"102.01.001": {ledger.SideDebit, "1000"},
		"100.01.001": {ledger.SideCredit, "1000"},
	})
}

func TestPostFromTransaction_SkipsUnmappedRecords(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for name, trx := range map[string]ledger.Transaction{
		"zero amount":        f.trx(ledger.KindCollection, "0", "nothing"),
		"transfer no target": f.trx(ledger.KindTransfer, "10", "half a transfer"),
		"unknown kind":       f.trx("REFUND", "10", "unsupported"),
	} {
		_, posted, err := f.svc.PostFromTransaction(ctx, trx)
		assert.NoError(t, err, name)
		assert.False(t, posted, name)
	}
	accs, err := f.store.AccountsByScope(ctx, f.scope)
	require.NoError(t, err)
	assert.Empty(t, accs)
}

func TestPostFromSaleWithLines_BucketsVATByRate(t *testing.T) {
	f := setup(t)
	reg := f.register("Card POS", ledger.RegisterPOS)
	eight, eighteen, zero := decimal.MustNew(8, 0), decimal.MustNew(18, 0), decimal.Zero
	order := ledger.Order{
		ID: uuid.New(), TenantID: f.scope.TenantID, Branch: f.scope.Branch,
		OrderNumber: "ORD-1001", CustomerName: "Ayse", OrderDate: day,
		TotalAmount: decimal.MustParse("286"),
	}
	items := []ledger.SaleItem{
		{Price: decimal.MustParse("118"), Qty: decimal.One, VATRate: &eighteen},
		{Price: decimal.MustParse("54"), Qty: decimal.MustNew(2, 0), VATRate: &eight},
		{Price: decimal.MustParse("50"), Qty: decimal.One},
		{Price: decimal.MustParse("10"), Qty: decimal.One, VATRate: &zero},
	}

	j, err := f.svc.PostFromSaleWithLines(context.Background(), order, items, reg)
	require.NoError(t, err)
	assertLines(t, j, map[ledger.Code]side{
		"108.01.001":             {ledger.SideDebit, "286"},
		dictionary.DomesticSales: {ledger.SideCredit, "251.67"},
		"391.08":                 {ledger.SideCredit, "8"},
		"391.18":                 {ledger.SideCredit, "18"},
		"391.20":                 {ledger.SideCredit, "8.33"},
	})
	assert.Equal(t, ledger.SourceOrder, j.SourceType)
	assert.Equal(t, order.ID, j.SourceID)
	assert.True(t, j.TotalDebit.Equal(j.TotalCredit))

	vat, err := f.store.AccountByCode(context.Background(), f.scope, "391.18")
	require.NoError(t, err)
	assert.Equal(t, "%18 VAT PAYABLE", vat.Name)
	assert.Equal(t, ledger.ClassLiability, vat.Class)
}

func TestPostFromSaleWithLines_RejectsFractionalRates(t *testing.T) {
	f := setup(t)
	rate := decimal.MustParse("8.5")
	order := ledger.Order{ID: uuid.New(), TenantID: f.scope.TenantID, Branch: f.scope.Branch, OrderNumber: "ORD-2", TotalAmount: decimal.MustParse("10")}
	_, err := f.svc.PostFromSaleWithLines(context.Background(), order,
		[]ledger.SaleItem{{Price: decimal.MustParse("10"), Qty: decimal.One, VATRate: &rate}}, uuid.Nil)
	assert.ErrorIs(t, err, errs.ErrInvalid)

	_, err = f.svc.PostFromSaleWithLines(context.Background(), order, nil, uuid.Nil)
	assert.ErrorIs(t, err, errs.ErrInvalid)
}
