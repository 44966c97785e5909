package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/decimal"
	"github.com/govalues/money"

	"github.com/kasaplus/ledger/internal/errs"
	"github.com/kasaplus/ledger/internal/ledger"
	"github.com/kasaplus/ledger/internal/meta"
	"github.com/kasaplus/ledger/internal/metrics"
)

// Line defaults applied when a proposed line leaves them empty.
const (
	DefaultDocumentType  = "BANK_TRANSACTION"
	PaymentMethodDebit   = "BANK"
	PaymentMethodCredit  = "ON_ACCOUNT"
	DefaultReverseReason = "Transaction cancelled"
)

// Repo defines read operations needed by the service.
type Repo interface {
	// LastDocumentNo returns the highest document number of the tenant starting with prefix.
	LastDocumentNo(ctx context.Context, tenantID uuid.UUID, prefix string) (string, bool, error)
	// JournalByID returns the journal with its lines, each carrying its account code.
	JournalByID(ctx context.Context, tenantID, journalID uuid.UUID) (ledger.Journal, error)
	JournalBySource(ctx context.Context, tenantID uuid.UUID, sourceType ledger.SourceType, sourceID uuid.UUID) (ledger.Journal, error)
	AccountsByScope(ctx context.Context, scope ledger.Scope) ([]ledger.Account, error)
}

// Writer persists a journal, its lines and the balance increments as one unit.
type Writer interface {
	CreateJournal(ctx context.Context, j ledger.Journal, deltas []ledger.BalanceDelta) (ledger.Journal, error)
}

// Accounts resolves posting accounts by code, creating them on demand.
type Accounts interface {
	EnsureAccount(ctx context.Context, scope ledger.Scope, code ledger.Code, name string) (ledger.Account, error)
}

// PostRequest is a proposed journal.
type PostRequest struct {
	Scope       ledger.Scope
	Description string
	Date        time.Time
	Lines       []ledger.EntryLine
	SourceType  ledger.SourceType
	SourceID    uuid.UUID
	Metadata    meta.Metadata
}

// Service posts, reverses and reports journals.
type Service interface {
	Post(ctx context.Context, req PostRequest) (ledger.Journal, error)
	Reverse(ctx context.Context, tenantID, journalID uuid.UUID, reason string) (ledger.Journal, error)
	TrialBalance(ctx context.Context, scope ledger.Scope) ([]ledger.Account, error)
}

type service struct {
	repo     Repo
	writer   Writer
	accounts Accounts
	curr     money.Currency
	log      *slog.Logger
	now      func() time.Time
}

// Option customises the service.
type Option func(*service)

// WithClock overrides the time source used for reversal dates and undated journals.
func WithClock(now func() time.Time) Option { return func(s *service) { s.now = now } }

func New(repo Repo, writer Writer, accounts Accounts, curr money.Currency, logger *slog.Logger, opts ...Option) Service {
	s := &service{repo: repo, writer: writer, accounts: accounts, curr: curr, log: logger, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

type preparedLine struct {
	ledger.EntryLine
	amount decimal.Decimal
}

func (s *service) Post(ctx context.Context, req PostRequest) (ledger.Journal, error) {
	start := s.now()
	if err := req.Scope.Validate(); err != nil {
		metrics.PostFailures.WithLabelValues("scope").Inc()
		return ledger.Journal{}, err
	}
	if err := req.Metadata.Validate(); err != nil {
		return ledger.Journal{}, fmt.Errorf("%w: %v", errs.ErrInvalid, err)
	}
	lines, totalDebit, totalCredit, err := s.prepare(req.Lines)
	if err != nil {
		metrics.PostFailures.WithLabelValues("invalid").Inc()
		return ledger.Journal{}, err
	}
	diff, err := totalDebit.Sub(totalCredit)
	if err != nil {
		return ledger.Journal{}, err
	}
	if diff.Abs().Cmp(ledger.BalanceTolerance) > 0 {
		metrics.PostFailures.WithLabelValues("imbalanced").Inc()
		s.log.Warn("journal rejected as imbalanced",
			"tenant_id", req.Scope.TenantID, "branch", req.Scope.Branch,
			"total_debit", totalDebit.String(), "total_credit", totalCredit.String())
		return ledger.Journal{}, &errs.ImbalancedError{
			TotalDebit:  ledger.Format(s.curr, totalDebit),
			TotalCredit: ledger.Format(s.curr, totalCredit),
		}
	}

	date := req.Date
	if date.IsZero() {
		date = s.now()
	}
	docNo, err := s.nextDocumentNo(ctx, req.Scope.TenantID, date)
	if err != nil {
		return ledger.Journal{}, err
	}

	j := ledger.Journal{
		ID:          uuid.New(),
		TenantID:    req.Scope.TenantID,
		Branch:      req.Scope.Branch,
		DocumentNo:  docNo,
		Description: req.Description,
		Date:        date,
		Currency:    s.curr.Code(),
		TotalDebit:  totalDebit,
		TotalCredit: totalCredit,
		IsBalanced:  true,
		Status:      ledger.JournalStatusApproved,
		SourceType:  req.SourceType,
		SourceID:    req.SourceID,
		Metadata:    req.Metadata.Clone(),
		Lines:       make([]ledger.JournalLine, 0, len(lines)),
	}

	var deltas []ledger.BalanceDelta
	index := make(map[uuid.UUID]int)
	for i, ln := range lines {
		acc, err := s.accounts.EnsureAccount(ctx, req.Scope, ln.AccountCode, ln.AccountName)
		if err != nil {
			return ledger.Journal{}, fmt.Errorf("line %d account %s: %w", i+1, ln.AccountCode, err)
		}
		jl := ledger.JournalLine{
			ID:            uuid.New(),
			JournalID:     j.ID,
			LineNo:        i + 1,
			AccountID:     acc.ID,
			AccountCode:   acc.Code,
			Debit:         decimal.Zero,
			Credit:        decimal.Zero,
			Description:   firstNonEmpty(ln.Description, req.Description),
			DocumentType:  firstNonEmpty(ln.DocumentType, DefaultDocumentType),
			DocumentNo:    firstNonEmpty(ln.DocumentNo, docNo),
			DocumentDate:  ln.DocumentDate,
			PaymentMethod: ln.PaymentMethod,
		}
		if jl.DocumentDate.IsZero() {
			jl.DocumentDate = date
		}
		if ln.Side == ledger.SideDebit {
			jl.Debit = ln.amount
			jl.PaymentMethod = firstNonEmpty(jl.PaymentMethod, PaymentMethodDebit)
		} else {
			jl.Credit = ln.amount
			jl.PaymentMethod = firstNonEmpty(jl.PaymentMethod, PaymentMethodCredit)
		}
		j.Lines = append(j.Lines, jl)

		delta := acc.SignedDelta(ln.Side, ln.amount)
		if k, ok := index[acc.ID]; ok {
			if deltas[k].Amount, err = deltas[k].Amount.Add(delta); err != nil {
				return ledger.Journal{}, err
			}
			continue
		}
		index[acc.ID] = len(deltas)
		deltas = append(deltas, ledger.BalanceDelta{AccountID: acc.ID, Amount: delta})
	}

	stored, err := s.writer.CreateJournal(ctx, j, deltas)
	if err != nil {
		metrics.PostFailures.WithLabelValues("store").Inc()
		return ledger.Journal{}, fmt.Errorf("create journal %s: %w", docNo, err)
	}
	metrics.JournalsPosted.WithLabelValues(string(req.SourceType)).Inc()
	metrics.PostDuration.Observe(s.now().Sub(start).Seconds())
	s.log.Info("journal posted",
		"tenant_id", j.TenantID, "branch", j.Branch, "document_no", j.DocumentNo,
		"source_type", j.SourceType, "total", ledger.Format(s.curr, totalDebit))
	return stored, nil
}

// prepare validates lines and rounds amounts to the currency scale. The
// totals are the exact sums of the rounded amounts.
func (s *service) prepare(in []ledger.EntryLine) ([]preparedLine, decimal.Decimal, decimal.Decimal, error) {
	if len(in) == 0 {
		return nil, decimal.Zero, decimal.Zero, fmt.Errorf("%w: journal has no lines", errs.ErrInvalid)
	}
	out := make([]preparedLine, 0, len(in))
	debit, credit := decimal.Zero, decimal.Zero
	for i, ln := range in {
		if !ln.Side.Valid() {
			return nil, debit, credit, fieldErr(i, "side must be DEBIT or CREDIT")
		}
		if _, err := ledger.Classify(ln.AccountCode, nil); err != nil {
			return nil, debit, credit, fmt.Errorf("line %d: %w", i+1, err)
		}
		if ln.AccountCode.IsRoot() {
			return nil, debit, credit, fmt.Errorf("line %d: %w: root %s cannot hold postings", i+1, errs.ErrInvalidCode, ln.AccountCode)
		}
		amt := ledger.Round(s.curr, ln.Amount)
		if !amt.IsPos() {
			return nil, debit, credit, fieldErr(i, "amount must be > 0")
		}
		var err error
		if ln.Side == ledger.SideDebit {
			debit, err = debit.Add(amt)
		} else {
			credit, err = credit.Add(amt)
		}
		if err != nil {
			return nil, debit, credit, err
		}
		out = append(out, preparedLine{EntryLine: ln, amount: amt})
	}
	return out, debit, credit, nil
}

func (s *service) nextDocumentNo(ctx context.Context, tenantID uuid.UUID, date time.Time) (string, error) {
	prefix := date.Format("200601")
	last, ok, err := s.repo.LastDocumentNo(ctx, tenantID, prefix)
	if err != nil {
		return "", fmt.Errorf("last document no: %w", err)
	}
	seq := 1
	if ok {
		n, err := strconv.Atoi(strings.TrimPrefix(last, prefix))
		if err != nil {
			return "", fmt.Errorf("malformed document no %q: %w", last, err)
		}
		seq = n + 1
	}
	return fmt.Sprintf("%s%04d", prefix, seq), nil
}

// Reverse posts the mirror image of a journal, dated now.
func (s *service) Reverse(ctx context.Context, tenantID, journalID uuid.UUID, reason string) (ledger.Journal, error) {
	if tenantID == uuid.Nil {
		return ledger.Journal{}, fmt.Errorf("%w: tenant id required", errs.ErrMissingTenantContext)
	}
	if journalID == uuid.Nil {
		return ledger.Journal{}, fmt.Errorf("%w: journal id required", errs.ErrInvalid)
	}
	orig, err := s.repo.JournalByID(ctx, tenantID, journalID)
	if err != nil {
		return ledger.Journal{}, fmt.Errorf("journal %s: %w", journalID, err)
	}
	if orig.IsReversal() {
		return ledger.Journal{}, fmt.Errorf("journal %s: %w", orig.DocumentNo, errs.ErrAlreadyReversal)
	}
	if prior, err := s.repo.JournalBySource(ctx, tenantID, ledger.SourceJournalReversal, orig.ID); err == nil {
		return ledger.Journal{}, fmt.Errorf("journal %s reversed by %s: %w", orig.DocumentNo, prior.DocumentNo, errs.ErrAlreadyReversed)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return ledger.Journal{}, err
	}

	if strings.TrimSpace(reason) == "" {
		reason = DefaultReverseReason
	}
	lines := make([]ledger.EntryLine, 0, len(orig.Lines))
	for _, ln := range orig.Lines {
		lines = append(lines, ledger.EntryLine{
			AccountCode:   ln.AccountCode,
			Side:          ln.Side().Opposite(),
			Amount:        ln.Amount(),
			Description:   "REV: " + ln.Description,
			DocumentType:  ln.DocumentType,
			DocumentNo:    ln.DocumentNo,
			DocumentDate:  ln.DocumentDate,
			PaymentMethod: ln.PaymentMethod,
		})
	}
	rev, err := s.Post(ctx, PostRequest{
		Scope:       ledger.Scope{TenantID: orig.TenantID, Branch: orig.Branch},
		Description: fmt.Sprintf("REVERSAL: %s - %s", orig.DocumentNo, reason),
		Date:        s.now(),
		Lines:       lines,
		SourceType:  ledger.SourceJournalReversal,
		SourceID:    orig.ID,
		Metadata:    meta.Metadata{meta.KeyReason: reason},
	})
	if err != nil {
		return ledger.Journal{}, err
	}
	s.log.Info("journal reversed", "tenant_id", tenantID, "document_no", orig.DocumentNo, "reversal_document_no", rev.DocumentNo)
	return rev, nil
}

// TrialBalance returns the accounts of a branch ordered by code.
func (s *service) TrialBalance(ctx context.Context, scope ledger.Scope) ([]ledger.Account, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	accs, err := s.repo.AccountsByScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	sort.Slice(accs, func(i, j int) bool { return accs[i].Code < accs[j].Code })
	return accs, nil
}

func fieldErr(i int, msg string) error {
	return fmt.Errorf("%w: line %d: %s", errs.ErrInvalid, i+1, msg)
}

func firstNonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}
