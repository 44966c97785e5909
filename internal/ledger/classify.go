package ledger

import (
	"fmt"
	"strings"

	"github.com/kasaplus/ledger/internal/errs"
)

// rootRules maps the leading digit of a root code to its classification.
// Index 6 is resolved through revenueRoots; indexes outside 1..7 stay empty.
var rootRules = [10]*Classification{
	1: {Class: ClassAsset, NormalBalance: SideDebit, ReportGroup: "Current Assets", ReportType: ReportBalanceSheet},
	2: {Class: ClassAsset, NormalBalance: SideDebit, ReportGroup: "Non-Current Assets", ReportType: ReportBalanceSheet},
	3: {Class: ClassLiability, NormalBalance: SideCredit, ReportGroup: "Short-Term Liabilities", ReportType: ReportBalanceSheet},
	4: {Class: ClassLiability, NormalBalance: SideCredit, ReportGroup: "Long-Term Liabilities", ReportType: ReportBalanceSheet},
	5: {Class: ClassEquity, NormalBalance: SideCredit, ReportGroup: "Equity", ReportType: ReportBalanceSheet},
	6: {Class: ClassExpense, NormalBalance: SideDebit, ReportGroup: "Income Statement", ReportType: ReportIncomeStatement},
	7: {Class: ClassExpense, NormalBalance: SideDebit, ReportGroup: "Income Statement", ReportType: ReportIncomeStatement},
}

// revenueRoots lists the 6xx prefixes that behave as revenue; the rest of
// group 6 (returns, discounts, cost of sales) is expense-like.
var revenueRoots = []string{"600", "601", "602", "64", "67"}

var revenue = Classification{Class: ClassRevenue, NormalBalance: SideCredit, ReportGroup: "Income Statement", ReportType: ReportIncomeStatement}

// Classify returns the classification for code. A non-nil parent is inherited
// verbatim; otherwise the root's leading digit selects a row of the table.
func Classify(code Code, parent *Account) (Classification, error) {
	if parent != nil {
		return parent.Classification, nil
	}
	if err := code.Validate(); err != nil {
		return Classification{}, err
	}
	root := string(code.Root())
	digit := root[0] - '0'
	rule := rootRules[digit]
	if rule == nil {
		return Classification{}, fmt.Errorf("%w: no class for root %s", errs.ErrInvalidCode, root)
	}
	if digit == 6 {
		for _, p := range revenueRoots {
			if strings.HasPrefix(root, p) {
				return revenue, nil
			}
		}
	}
	return *rule, nil
}
