package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/decimal"

	"github.com/kasaplus/ledger/internal/errs"
	"github.com/kasaplus/ledger/internal/meta"
)

// Side represents the accounting position of a journal line.
type Side string

const (
	// SideDebit records a value on the debit side of an account.
	SideDebit Side = "DEBIT"
	// SideCredit records a value on the credit side of an account.
	SideCredit Side = "CREDIT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideDebit {
		return SideCredit
	}
	return SideDebit
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool { return s == SideDebit || s == SideCredit }

// AccountClass enumerates the broad classification of an account in the ledger.
type AccountClass string

const (
	// ClassAsset increases on the debit side and holds resources owned by the business.
	ClassAsset AccountClass = "ASSET"
	// ClassLiability increases on the credit side and tracks obligations.
	ClassLiability AccountClass = "LIABILITY"
	// ClassEquity captures the owner's residual interest.
	ClassEquity AccountClass = "EQUITY"
	// ClassRevenue represents inflows that increase equity.
	ClassRevenue AccountClass = "REVENUE"
	// ClassExpense represents outflows that decrease equity.
	ClassExpense AccountClass = "EXPENSE"
)

// ReportType selects the financial statement an account is reported on.
type ReportType string

const (
	ReportBalanceSheet    ReportType = "BALANCE_SHEET"
	ReportIncomeStatement ReportType = "INCOME_STATEMENT"
)

// Scope identifies the tenant and branch every engine call runs against.
// The isolation layer verifies it before it reaches the ledger.
type Scope struct {
	TenantID uuid.UUID
	Branch   string
}

// Validate rejects a scope without tenant or branch. Neither is ever defaulted.
func (s Scope) Validate() error {
	if s.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant id required", errs.ErrMissingTenantContext)
	}
	if strings.TrimSpace(s.Branch) == "" {
		return fmt.Errorf("%w: branch required", errs.ErrMissingTenantContext)
	}
	return nil
}

// Classification is the stored outcome of classifying an account code.
type Classification struct {
	Class         AccountClass
	NormalBalance Side
	ReportGroup   string
	ReportType    ReportType
}

// Account is a node in the per-tenant, per-branch chart of accounts.
type Account struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	Branch     string
	Code       Code
	ParentCode Code
	Name       string
	Classification
	// Balance is signed so that a positive value means more of the normal side.
	Balance decimal.Decimal
	// RegisterID links the account to an external cash/bank/POS register (uuid.Nil when unlinked).
	RegisterID uuid.UUID
	CreatedAt  time.Time
}

// Scope returns the tenant/branch the account belongs to.
func (a Account) Scope() Scope { return Scope{TenantID: a.TenantID, Branch: a.Branch} }

// SignedDelta returns the balance change caused by posting amount on side.
func (a Account) SignedDelta(side Side, amount decimal.Decimal) decimal.Decimal {
	if side == a.NormalBalance {
		return amount
	}
	return amount.Neg()
}

// SourceType names the kind of record a journal was generated from.
type SourceType string

const (
	SourceNone            SourceType = ""
	SourceTransaction     SourceType = "Transaction"
	SourceOrder           SourceType = "Order"
	SourceJournalReversal SourceType = "JournalReversal"
	SourceSystem          SourceType = "System"
)

// JournalStatusApproved is the only status a persisted journal carries.
const JournalStatusApproved = "APPROVED"

// Journal is one balanced voucher with its ordered lines.
type Journal struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Branch      string
	DocumentNo  string
	Description string
	Date        time.Time
	Currency    string
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
	IsBalanced  bool
	Status      string
	SourceType  SourceType
	// SourceID points at the originating business record or, for reversals, the reversed journal.
	SourceID  uuid.UUID
	Metadata  meta.Metadata
	Lines     []JournalLine
	CreatedAt time.Time
}

// IsReversal reports whether the journal offsets another journal.
func (j Journal) IsReversal() bool { return j.SourceType == SourceJournalReversal }

// JournalLine is a persisted line; exactly one of Debit and Credit is non-zero.
type JournalLine struct {
	ID            uuid.UUID
	JournalID     uuid.UUID
	LineNo        int
	AccountID     uuid.UUID
	AccountCode   Code
	Debit         decimal.Decimal
	Credit        decimal.Decimal
	Description   string
	DocumentType  string
	DocumentNo    string
	DocumentDate  time.Time
	PaymentMethod string
}

// Side returns the side carrying the line's amount.
func (l JournalLine) Side() Side {
	if l.Debit.IsPos() {
		return SideDebit
	}
	return SideCredit
}

// Amount returns the non-zero value of the line.
func (l JournalLine) Amount() decimal.Decimal {
	if l.Debit.IsPos() {
		return l.Debit
	}
	return l.Credit
}

// EntryLine is a proposed line handed to the poster. The account is named by
// code and created on demand.
type EntryLine struct {
	AccountCode   Code
	AccountName   string
	Side          Side
	Amount        decimal.Decimal
	Description   string
	DocumentType  string
	DocumentNo    string
	DocumentDate  time.Time
	PaymentMethod string
}

// BalanceDelta is an increment applied atomically to an account balance.
type BalanceDelta struct {
	AccountID uuid.UUID
	Amount    decimal.Decimal
}

// RegisterType classifies external money registers.
type RegisterType string

const (
	RegisterCash           RegisterType = "CASH"
	RegisterBank           RegisterType = "BANK"
	RegisterPOS            RegisterType = "POS"
	RegisterCardCollection RegisterType = "CARD_COLLECTION"
	RegisterCreditCard     RegisterType = "CREDIT_CARD"
)

// Register is a cash/bank/POS/credit-card register tracked outside the ledger.
// The ledger only reads it.
type Register struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Branch   string
	Name     string
	Type     RegisterType
	Balance  decimal.Decimal
}

// TransactionKind is the canonical business event handed to the mapper.
type TransactionKind string

const (
	KindCollection TransactionKind = "COLLECTION"
	KindPayment    TransactionKind = "PAYMENT"
	KindSale       TransactionKind = "SALE"
	KindExpense    TransactionKind = "EXPENSE"
	KindPurchase   TransactionKind = "PURCHASE"
	KindTransfer   TransactionKind = "TRANSFER"
)

// Transaction is a business record consumed by the mapper.
type Transaction struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	Branch           string
	Kind             TransactionKind
	Amount           decimal.Decimal
	Description      string
	Date             time.Time
	RegisterID       uuid.UUID
	TargetRegisterID uuid.UUID
	// VATRate overrides the default rate for flat-rate sales, in percent.
	VATRate *decimal.Decimal
}

// Scope returns the tenant/branch of the transaction.
func (t Transaction) Scope() Scope { return Scope{TenantID: t.TenantID, Branch: t.Branch} }

// Order is a sale header posted with itemised VAT.
type Order struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Branch       string
	OrderNumber  string
	CustomerName string
	OrderDate    time.Time
	TotalAmount  decimal.Decimal
}

// Scope returns the tenant/branch of the order.
func (o Order) Scope() Scope { return Scope{TenantID: o.TenantID, Branch: o.Branch} }

// SaleItem is one priced line of an order. Price is VAT inclusive.
type SaleItem struct {
	Price   decimal.Decimal
	Qty     decimal.Decimal
	VATRate *decimal.Decimal
}

// commissionMarkers are matched case-insensitively in expense descriptions.
var commissionMarkers = []string{"commission", "komisyon"}

// IsCommission reports whether the transaction describes a commission fee.
func (t Transaction) IsCommission() bool {
	d := strings.ToLower(t.Description)
	for _, m := range commissionMarkers {
		if strings.Contains(d, m) {
			return true
		}
	}
	return false
}
