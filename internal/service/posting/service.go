// Package posting turns business records into journals.
package posting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/govalues/decimal"
	"github.com/govalues/money"

	"github.com/kasaplus/ledger/internal/dictionary"
	"github.com/kasaplus/ledger/internal/errs"
	"github.com/kasaplus/ledger/internal/ledger"
	"github.com/kasaplus/ledger/internal/meta"
	"github.com/kasaplus/ledger/internal/service/journal"
)

// VATSourceDefault marks a sale posted at the configured fallback rate.
const VATSourceDefault = "default"

// Registers resolves the account mirroring a register.
type Registers interface {
	ResolveForRegister(ctx context.Context, scope ledger.Scope, registerID uuid.UUID) (ledger.Account, error)
}

// Poster persists proposed journals.
type Poster interface {
	Post(ctx context.Context, req journal.PostRequest) (ledger.Journal, error)
}

// Service maps transactions and itemised sales to journals.
type Service interface {
	// PostFromTransaction reports posted=false without error for records it has no mapping for.
	PostFromTransaction(ctx context.Context, trx ledger.Transaction) (ledger.Journal, bool, error)
	PostFromSaleWithLines(ctx context.Context, order ledger.Order, items []ledger.SaleItem, registerID uuid.UUID) (ledger.Journal, error)
}

type service struct {
	registers Registers
	poster    Poster
	curr      money.Currency
	vatRate   decimal.Decimal
	log       *slog.Logger
}

// New returns a mapper; defaultVAT is the percentage applied when a sale carries no rate.
func New(registers Registers, poster Poster, curr money.Currency, defaultVAT decimal.Decimal, logger *slog.Logger) Service {
	return &service{registers: registers, poster: poster, curr: curr, vatRate: defaultVAT, log: logger}
}

// registerLine names the account of a register, or the default cash account
// when none is set.
func (s *service) registerLine(ctx context.Context, scope ledger.Scope, registerID uuid.UUID) (ledger.Code, string, error) {
	if registerID == uuid.Nil {
		return dictionary.DefaultCash, dictionary.Name(dictionary.DefaultCash), nil
	}
	acc, err := s.registers.ResolveForRegister(ctx, scope, registerID)
	if err != nil {
		return "", "", err
	}
	return acc.Code, acc.Name, nil
}

func (s *service) PostFromTransaction(ctx context.Context, trx ledger.Transaction) (ledger.Journal, bool, error) {
	scope := trx.Scope()
	if err := scope.Validate(); err != nil {
		return ledger.Journal{}, false, err
	}
	amount := ledger.Round(s.curr, trx.Amount)
	if !amount.IsPos() {
		s.log.Debug("transaction skipped: no amount", "tenant_id", trx.TenantID, "transaction_id", trx.ID)
		return ledger.Journal{}, false, nil
	}
	if trx.Kind == ledger.KindTransfer && trx.TargetRegisterID == uuid.Nil {
		s.log.Debug("transaction skipped: transfer without target", "tenant_id", trx.TenantID, "transaction_id", trx.ID)
		return ledger.Journal{}, false, nil
	}

	regCode, regName, err := s.registerLine(ctx, scope, trx.RegisterID)
	if err != nil {
		return ledger.Journal{}, false, fmt.Errorf("transaction %s: %w", trx.ID, err)
	}
	debit := func(code ledger.Code, name string, amt decimal.Decimal) ledger.EntryLine {
		return ledger.EntryLine{AccountCode: code, AccountName: name, Side: ledger.SideDebit, Amount: amt}
	}
	credit := func(code ledger.Code, name string, amt decimal.Decimal) ledger.EntryLine {
		return ledger.EntryLine{AccountCode: code, AccountName: name, Side: ledger.SideCredit, Amount: amt}
	}
	fixed := func(code ledger.Code) (ledger.Code, string) { return code, dictionary.Name(code) }

	var (
		lines []ledger.EntryLine
		md    meta.Metadata
	)
	switch trx.Kind {
	case ledger.KindCollection:
		c, n := fixed(dictionary.Receivables)
		lines = []ledger.EntryLine{debit(regCode, regName, amount), credit(c, n, amount)}
	case ledger.KindPayment:
		c, n := fixed(dictionary.Payables)
		lines = []ledger.EntryLine{debit(c, n, amount), credit(regCode, regName, amount)}
	case ledger.KindSale:
		rate := s.vatRate
		if trx.VATRate != nil {
			rate = *trx.VATRate
		} else {
			s.log.Warn("sale posted at legacy flat VAT rate",
				"tenant_id", trx.TenantID, "transaction_id", trx.ID, "vat_rate", rate.String())
			md = md.With(meta.KeyVATRateSource, VATSourceDefault)
		}
		net, tax, err := ledger.SplitVAT(s.curr, amount, rate)
		if err != nil {
			return ledger.Journal{}, false, err
		}
		md = md.With(meta.KeyVATRate, rate.String())
		sc, sn := fixed(dictionary.DomesticSales)
		lines = []ledger.EntryLine{debit(regCode, regName, amount), credit(sc, sn, net)}
		if tax.IsPos() {
			vc, vn := fixed(dictionary.VATPayable)
			lines = append(lines, credit(vc, vn, tax))
		}
	case ledger.KindExpense:
		code := dictionary.GeneralExpenses
		if trx.IsCommission() {
			code = dictionary.FinanceExpenses
		}
		c, n := fixed(code)
		lines = []ledger.EntryLine{debit(c, n, amount), credit(regCode, regName, amount)}
	case ledger.KindPurchase:
		mc, mn := fixed(dictionary.Merchandise)
		pc, pn := fixed(dictionary.Payables)
		lines = []ledger.EntryLine{debit(mc, mn, amount), credit(pc, pn, amount)}
	case ledger.KindTransfer:
		target, err := s.registers.ResolveForRegister(ctx, scope, trx.TargetRegisterID)
		if err != nil {
			return ledger.Journal{}, false, fmt.Errorf("transaction %s target: %w", trx.ID, err)
		}
		lines = []ledger.EntryLine{debit(target.Code, target.Name, amount), credit(regCode, regName, amount)}
	default:
		s.log.Debug("transaction skipped: unmapped kind", "tenant_id", trx.TenantID, "transaction_id", trx.ID, "kind", trx.Kind)
		return ledger.Journal{}, false, nil
	}

	for i := range lines {
		lines[i].Description = trx.Description
	}
	j, err := s.poster.Post(ctx, journal.PostRequest{
		Scope:       scope,
		Description: trx.Description,
		Date:        trx.Date,
		Lines:       lines,
		SourceType:  ledger.SourceTransaction,
		SourceID:    trx.ID,
		Metadata:    md,
	})
	if err != nil {
		return ledger.Journal{}, false, err
	}
	return j, true, nil
}

const salesInvoice = "SALES_INVOICE"

type vatBucket struct {
	rate  int64
	gross decimal.Decimal
}

func (s *service) PostFromSaleWithLines(ctx context.Context, order ledger.Order, items []ledger.SaleItem, registerID uuid.UUID) (ledger.Journal, error) {
	scope := order.Scope()
	if err := scope.Validate(); err != nil {
		return ledger.Journal{}, err
	}
	if len(items) == 0 {
		return ledger.Journal{}, fmt.Errorf("%w: order %s has no items", errs.ErrInvalid, order.OrderNumber)
	}

	buckets := make(map[int64]*vatBucket)
	for i, it := range items {
		rate := s.vatRate
		if it.VATRate != nil {
			rate = *it.VATRate
		}
		whole, err := wholePercent(rate)
		if err != nil {
			return ledger.Journal{}, fmt.Errorf("order %s item %d: %w", order.OrderNumber, i+1, err)
		}
		gross, err := it.Price.Mul(it.Qty)
		if err != nil {
			return ledger.Journal{}, err
		}
		b, ok := buckets[whole]
		if !ok {
			b = &vatBucket{rate: whole, gross: decimal.Zero}
			buckets[whole] = b
		}
		if b.gross, err = b.gross.Add(gross); err != nil {
			return ledger.Journal{}, err
		}
	}
	ordered := make([]*vatBucket, 0, len(buckets))
	for _, b := range buckets {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].rate < ordered[j].rate })

	regCode, regName, err := s.registerLine(ctx, scope, registerID)
	if err != nil {
		return ledger.Journal{}, fmt.Errorf("order %s: %w", order.OrderNumber, err)
	}
	desc := fmt.Sprintf("SALE %s - %s", order.OrderNumber, order.CustomerName)

	totalGross, totalVAT := decimal.Zero, decimal.Zero
	var vatLines []ledger.EntryLine
	for _, b := range ordered {
		if totalGross, err = totalGross.Add(b.gross); err != nil {
			return ledger.Journal{}, err
		}
		if b.rate == 0 {
			continue
		}
		_, tax, err := ledger.SplitVAT(s.curr, b.gross, decimal.MustNew(b.rate, 0))
		if err != nil {
			return ledger.Journal{}, err
		}
		if !tax.IsPos() {
			continue
		}
		if totalVAT, err = totalVAT.Add(tax); err != nil {
			return ledger.Journal{}, err
		}
		vatLines = append(vatLines, ledger.EntryLine{
			AccountCode:  dictionary.RootVATPayable + ledger.Code(fmt.Sprintf(".%02d", b.rate)),
			AccountName:  fmt.Sprintf("%%%d VAT PAYABLE", b.rate),
			Side:         ledger.SideCredit,
			Amount:       tax,
			Description:  desc,
			DocumentType: salesInvoice,
			DocumentNo:   order.OrderNumber,
		})
	}
	net, err := totalGross.Sub(totalVAT)
	if err != nil {
		return ledger.Journal{}, err
	}

	lines := []ledger.EntryLine{{
		AccountCode: regCode, AccountName: regName, Side: ledger.SideDebit,
		Amount: order.TotalAmount, Description: desc, DocumentType: salesInvoice, DocumentNo: order.OrderNumber,
	}}
	if ledger.Round(s.curr, net).IsPos() {
		lines = append(lines, ledger.EntryLine{
			AccountCode: dictionary.DomesticSales, AccountName: dictionary.Name(dictionary.DomesticSales),
			Side: ledger.SideCredit, Amount: net, Description: desc, DocumentType: salesInvoice, DocumentNo: order.OrderNumber,
		})
	}
	lines = append(lines, vatLines...)

	return s.poster.Post(ctx, journal.PostRequest{
		Scope:       scope,
		Description: desc,
		Date:        order.OrderDate,
		Lines:       lines,
		SourceType:  ledger.SourceOrder,
		SourceID:    order.ID,
	})
}

// wholePercent returns rate as an integer percentage in [0, 99].
func wholePercent(rate decimal.Decimal) (int64, error) {
	whole, err := strconv.ParseInt(rate.Trim(0).String(), 10, 64)
	if err != nil || whole < 0 || whole > 99 {
		return 0, fmt.Errorf("%w: VAT rate %s must be a whole percentage below 100", errs.ErrInvalid, rate)
	}
	return whole, nil
}
