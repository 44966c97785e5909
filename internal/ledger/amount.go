package ledger

import (
	"github.com/govalues/decimal"
	"github.com/govalues/money"
)

// BalanceTolerance is the largest debit/credit difference accepted as balanced.
// It absorbs rounding of tax splits; it is an absolute amount, not a ratio.
var BalanceTolerance = decimal.MustNew(5, 2)

// DriftTolerance is the largest register/account difference left unadjusted.
var DriftTolerance = decimal.MustNew(1, 2)

var hundred = decimal.MustNew(100, 0)

// Round rounds d to the minor-unit scale of curr.
func Round(curr money.Currency, d decimal.Decimal) decimal.Decimal {
	return d.Round(curr.Scale())
}

// Format renders d with its currency for diagnostics.
func Format(curr money.Currency, d decimal.Decimal) string {
	a, err := money.NewAmountFromDecimal(curr, d)
	if err != nil {
		return d.String()
	}
	return a.String()
}

// Sum adds values, failing on overflow.
func Sum(values ...decimal.Decimal) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, v := range values {
		var err error
		if total, err = total.Add(v); err != nil {
			return decimal.Decimal{}, err
		}
	}
	return total, nil
}

// SplitVAT splits a VAT-inclusive gross amount at ratePct percent into net and
// tax. tax = round(gross - gross/(1+rate)), net = gross - tax, so net+tax is
// exactly gross.
func SplitVAT(curr money.Currency, gross, ratePct decimal.Decimal) (net, tax decimal.Decimal, err error) {
	r, err := ratePct.Quo(hundred)
	if err != nil {
		return net, tax, err
	}
	factor, err := decimal.One.Add(r)
	if err != nil {
		return net, tax, err
	}
	base, err := gross.Quo(factor)
	if err != nil {
		return net, tax, err
	}
	tax, err = gross.Sub(base)
	if err != nil {
		return net, tax, err
	}
	tax = Round(curr, tax)
	net, err = gross.Sub(tax)
	return net, tax, err
}
