// Package dictionary holds the fixed account codes the mapper posts to and the
// default chart of accounts seeded for a new branch.
package dictionary

import "github.com/kasaplus/ledger/internal/ledger"

// Root group codes.
const (
	RootCash          ledger.Code = "100"
	RootBank          ledger.Code = "102"
	RootPOS           ledger.Code = "108"
	RootReceivables   ledger.Code = "120"
	RootMerchandise   ledger.Code = "153"
	RootCreditCards   ledger.Code = "300"
	RootPayables      ledger.Code = "320"
	RootVATPayable    ledger.Code = "391"
	RootCapital       ledger.Code = "500"
	RootDomesticSales ledger.Code = "600"
	RootGeneralAdmin  ledger.Code = "770"
	RootFinance       ledger.Code = "780"
)

// Posting accounts used by the transaction mapper.
const (
	Receivables     ledger.Code = "120.01"
	Merchandise     ledger.Code = "153.01"
	Payables        ledger.Code = "320.01"
	VATPayable      ledger.Code = "391.01"
	CapitalOpening  ledger.Code = "500.01"
	DomesticSales   ledger.Code = "600.01"
	GeneralExpenses ledger.Code = "770.01"
	FinanceExpenses ledger.Code = "780.01"
)

// DefaultCash is posted to when a transaction names no register. Its group sits
// outside the {root}.01 groups register accounts are provisioned under.
const (
	DefaultCashGroup ledger.Code = "100.02"
	DefaultCash      ledger.Code = "100.02.001"
)

// Names used when the accounts above are created on demand.
var Names = map[ledger.Code]string{
	Receivables:      "RECEIVABLES",
	Merchandise:      "MERCHANDISE",
	Payables:         "PAYABLES",
	VATPayable:       "VAT PAYABLE",
	CapitalOpening:   "CAPITAL / OPENING",
	DomesticSales:    "DOMESTIC SALES",
	GeneralExpenses:  "GENERAL EXPENSES",
	FinanceExpenses:  "FINANCE EXPENSES",
	DefaultCashGroup: "MAIN CASH ACCOUNTS",
	DefaultCash:      "MAIN CASH",
}

// Name returns the display name for a fixed code, or a generic fallback.
func Name(code ledger.Code) string {
	if n, ok := Names[code]; ok {
		return n
	}
	return "ACCOUNT " + string(code)
}

// RegisterGroup is the root and label a register type is provisioned under.
type RegisterGroup struct {
	Root  ledger.Code
	Label string
}

// GroupFor classifies a register type into its root group.
func GroupFor(t ledger.RegisterType) RegisterGroup {
	switch t {
	case ledger.RegisterBank:
		return RegisterGroup{Root: RootBank, Label: "BANK"}
	case ledger.RegisterPOS, ledger.RegisterCardCollection:
		return RegisterGroup{Root: RootPOS, Label: "POS"}
	case ledger.RegisterCreditCard:
		return RegisterGroup{Root: RootCreditCards, Label: "CREDIT CARD PAYABLE"}
	default:
		return RegisterGroup{Root: RootCash, Label: "CASH"}
	}
}

// ChartEntry is one row of the default chart.
type ChartEntry struct {
	Code ledger.Code
	Name string
}

// DefaultChart lists the second-level accounts seeded for a branch. Roots are
// implicit and never stored.
var DefaultChart = []ChartEntry{
	{Code: "100.01", Name: "CASH ACCOUNTS"},
	{Code: DefaultCashGroup, Name: "MAIN CASH ACCOUNTS"},
	{Code: "102.01", Name: "BANK ACCOUNTS"},
	{Code: Receivables, Name: "RECEIVABLES"},
	{Code: Merchandise, Name: "MERCHANDISE"},
	{Code: Payables, Name: "PAYABLES"},
	{Code: "360.01", Name: "VAT TO BE PAID"},
	{Code: VATPayable, Name: "VAT PAYABLE"},
	{Code: CapitalOpening, Name: "CAPITAL / OPENING"},
	{Code: DomesticSales, Name: "DOMESTIC SALES"},
	{Code: "710.01", Name: "COST OF GOODS PURCHASED"},
	{Code: "760.01", Name: "MARKETING EXPENSES"},
	{Code: GeneralExpenses, Name: "GENERAL EXPENSES"},
	{Code: "770.02", Name: "PAYROLL EXPENSES"},
	{Code: "770.03", Name: "UTILITIES"},
	{Code: FinanceExpenses, Name: "FINANCE EXPENSES"},
}
