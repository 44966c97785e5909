package postgres

// Package postgres provides a pgx-backed storage implementation that satisfies
// the repository and writer interfaces used by the services.
//
// Migrations that create the expected schema live under db/migrations. Numeric
// columns travel as text so amounts keep their exact decimal value.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kasaplus/ledger/internal/errs"
	"github.com/kasaplus/ledger/internal/ledger"
	"github.com/kasaplus/ledger/internal/meta"
)

// uniqueViolation is the SQLSTATE raised by unique constraints and indexes.
const uniqueViolation = "23505"

// Store holds a pgx connection pool and implements the read/write interfaces
// used across the service layer. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Open establishes a pgx pool using the provided connection string.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready pings the pool to verify connectivity.
func (s *Store) Ready(ctx context.Context) error { return s.pool.Ping(ctx) }

// mapErr translates driver errors into the errs taxonomy.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", errs.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func nullUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}

func fromNullUUID(p pgtype.UUID) uuid.UUID {
	if !p.Valid {
		return uuid.Nil
	}
	return uuid.UUID(p.Bytes)
}

func parseDecimal(col, s string) (decimal.Decimal, error) {
	d, err := decimal.Parse(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s %q: %w", col, s, err)
	}
	return d, nil
}

// --- Accounts ---

const accountCols = `id, tenant_id, branch, code, parent_code, name, class, normal_balance,
        report_group, report_type, balance::text, register_id, created_at`

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		a       ledger.Account
		balance string
		reg     pgtype.UUID
	)
	if err := row.Scan(&a.ID, &a.TenantID, &a.Branch, &a.Code, &a.ParentCode, &a.Name, &a.Class, &a.NormalBalance,
		&a.ReportGroup, &a.ReportType, &balance, &reg, &a.CreatedAt); err != nil {
		return ledger.Account{}, mapErr(err)
	}
	bal, err := parseDecimal("balance", balance)
	if err != nil {
		return ledger.Account{}, err
	}
	a.Balance = bal
	a.RegisterID = fromNullUUID(reg)
	return a, nil
}

// AccountByCode returns the account with code in scope.
func (s *Store) AccountByCode(ctx context.Context, scope ledger.Scope, code ledger.Code) (ledger.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `
        select `+accountCols+`
        from accounts
        where tenant_id = $1 and branch = $2 and code = $3
    `, scope.TenantID, scope.Branch, code))
}

// AccountByRegister returns the account linked to registerID in scope.
func (s *Store) AccountByRegister(ctx context.Context, scope ledger.Scope, registerID uuid.UUID) (ledger.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `
        select `+accountCols+`
        from accounts
        where tenant_id = $1 and branch = $2 and register_id = $3
    `, scope.TenantID, scope.Branch, registerID))
}

// LastChildCode returns the highest child code of parent in scope. Sibling
// codes share a prefix, so ordering by length then text is numeric order.
func (s *Store) LastChildCode(ctx context.Context, scope ledger.Scope, parent ledger.Code) (ledger.Code, bool, error) {
	var code ledger.Code
	err := s.pool.QueryRow(ctx, `
        select code
        from accounts
        where tenant_id = $1 and branch = $2 and parent_code = $3
        order by length(code) desc, code desc
        limit 1
    `, scope.TenantID, scope.Branch, parent).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return code, true, nil
}

// AccountsByScope returns all accounts of a branch ordered by code.
func (s *Store) AccountsByScope(ctx context.Context, scope ledger.Scope) ([]ledger.Account, error) {
	rows, err := s.pool.Query(ctx, `
        select `+accountCols+`
        from accounts
        where tenant_id = $1 and branch = $2
        order by code
    `, scope.TenantID, scope.Branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateAccount inserts an account row. Unique violations surface as errs.ErrConflict.
func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	balance := a.Balance.String()
	err := s.pool.QueryRow(ctx, `
        insert into accounts (id, tenant_id, branch, code, parent_code, name, class, normal_balance,
                              report_group, report_type, balance, register_id)
        values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::numeric,$12)
        returning created_at
    `, a.ID, a.TenantID, a.Branch, a.Code, a.ParentCode, a.Name, a.Class, a.NormalBalance,
		a.ReportGroup, a.ReportType, balance, nullUUID(a.RegisterID)).Scan(&a.CreatedAt)
	if err != nil {
		return ledger.Account{}, mapErr(err)
	}
	return a, nil
}

// LinkRegister attaches registerID to an unlinked account.
func (s *Store) LinkRegister(ctx context.Context, scope ledger.Scope, accountID, registerID uuid.UUID) (ledger.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `
        update accounts
        set register_id = $1
        where id = $2 and tenant_id = $3 and branch = $4 and register_id is null
        returning `+accountCols,
		registerID, accountID, scope.TenantID, scope.Branch))
	if !errors.Is(err, errs.ErrNotFound) {
		return a, err
	}
	// No row updated: either the account is gone or someone linked it first.
	var exists bool
	if err := s.pool.QueryRow(ctx, `
        select exists(select 1 from accounts where id = $1 and tenant_id = $2 and branch = $3)
    `, accountID, scope.TenantID, scope.Branch).Scan(&exists); err != nil {
		return ledger.Account{}, err
	}
	if exists {
		return ledger.Account{}, errs.ErrConflict
	}
	return ledger.Account{}, errs.ErrNotFound
}

// --- Registers and transactions (read-only) ---

const registerCols = `id, tenant_id, branch, name, type, balance::text`

func scanRegister(row pgx.Row) (ledger.Register, error) {
	var (
		r       ledger.Register
		balance string
	)
	if err := row.Scan(&r.ID, &r.TenantID, &r.Branch, &r.Name, &r.Type, &balance); err != nil {
		return ledger.Register{}, mapErr(err)
	}
	bal, err := parseDecimal("register balance", balance)
	if err != nil {
		return ledger.Register{}, err
	}
	r.Balance = bal
	return r, nil
}

// RegisterByID returns a tenant's register.
func (s *Store) RegisterByID(ctx context.Context, tenantID, registerID uuid.UUID) (ledger.Register, error) {
	return scanRegister(s.pool.QueryRow(ctx, `
        select `+registerCols+`
        from registers
        where id = $1 and tenant_id = $2
    `, registerID, tenantID))
}

// RegistersByScope returns the registers of a branch ordered by name.
func (s *Store) RegistersByScope(ctx context.Context, scope ledger.Scope) ([]ledger.Register, error) {
	rows, err := s.pool.Query(ctx, `
        select `+registerCols+`
        from registers
        where tenant_id = $1 and branch = $2
        order by name
    `, scope.TenantID, scope.Branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Register, 0)
	for rows.Next() {
		r, err := scanRegister(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TransactionsByKind returns a branch's transactions of one kind ordered by date.
func (s *Store) TransactionsByKind(ctx context.Context, scope ledger.Scope, kind ledger.TransactionKind) ([]ledger.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
        select id, tenant_id, branch, kind, amount::text, description, date,
               register_id, target_register_id, vat_rate::text
        from transactions
        where tenant_id = $1 and branch = $2 and kind = $3
        order by date asc, id asc
    `, scope.TenantID, scope.Branch, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Transaction, 0)
	for rows.Next() {
		var (
			t           ledger.Transaction
			amount      string
			reg, target pgtype.UUID
			vat         *string
		)
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Branch, &t.Kind, &amount, &t.Description, &t.Date,
			&reg, &target, &vat); err != nil {
			return nil, err
		}
		if t.Amount, err = parseDecimal("amount", amount); err != nil {
			return nil, err
		}
		if vat != nil {
			rate, err := parseDecimal("vat_rate", *vat)
			if err != nil {
				return nil, err
			}
			t.VATRate = &rate
		}
		t.RegisterID = fromNullUUID(reg)
		t.TargetRegisterID = fromNullUUID(target)
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Journals ---

const journalCols = `id, tenant_id, branch, document_no, description, date, currency,
        total_debit::text, total_credit::text, is_balanced, status, source_type, source_id, metadata, created_at`

func scanJournal(row pgx.Row) (ledger.Journal, error) {
	var (
		j             ledger.Journal
		debit, credit string
		src           pgtype.UUID
		mdBytes       []byte
	)
	if err := row.Scan(&j.ID, &j.TenantID, &j.Branch, &j.DocumentNo, &j.Description, &j.Date, &j.Currency,
		&debit, &credit, &j.IsBalanced, &j.Status, &j.SourceType, &src, &mdBytes, &j.CreatedAt); err != nil {
		return ledger.Journal{}, mapErr(err)
	}
	var err error
	if j.TotalDebit, err = parseDecimal("total_debit", debit); err != nil {
		return ledger.Journal{}, err
	}
	if j.TotalCredit, err = parseDecimal("total_credit", credit); err != nil {
		return ledger.Journal{}, err
	}
	j.SourceID = fromNullUUID(src)
	if j.Metadata, err = decodeMetadata(mdBytes); err != nil {
		return ledger.Journal{}, err
	}
	return j, nil
}

func decodeMetadata(b []byte) (meta.Metadata, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m meta.Metadata
	if err := m.UnmarshalJSON(b); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	return m, nil
}

// LastDocumentNo returns the highest document number of the tenant starting with prefix.
func (s *Store) LastDocumentNo(ctx context.Context, tenantID uuid.UUID, prefix string) (string, bool, error) {
	var docNo string
	err := s.pool.QueryRow(ctx, `
        select document_no
        from journals
        where tenant_id = $1 and document_no like $2 || '%'
        order by length(document_no) desc, document_no desc
        limit 1
    `, tenantID, prefix).Scan(&docNo)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return docNo, true, nil
}

// JournalByID returns a tenant's journal with its lines and their account codes.
func (s *Store) JournalByID(ctx context.Context, tenantID, journalID uuid.UUID) (ledger.Journal, error) {
	j, err := scanJournal(s.pool.QueryRow(ctx, `
        select `+journalCols+`
        from journals
        where id = $1 and tenant_id = $2
    `, journalID, tenantID))
	if err != nil {
		return ledger.Journal{}, err
	}
	if j.Lines, err = s.journalLines(ctx, j.ID); err != nil {
		return ledger.Journal{}, err
	}
	return j, nil
}

// JournalBySource returns the earliest journal posted for a source record.
func (s *Store) JournalBySource(ctx context.Context, tenantID uuid.UUID, sourceType ledger.SourceType, sourceID uuid.UUID) (ledger.Journal, error) {
	j, err := scanJournal(s.pool.QueryRow(ctx, `
        select `+journalCols+`
        from journals
        where tenant_id = $1 and source_type = $2 and source_id = $3
        order by created_at asc, id asc
        limit 1
    `, tenantID, sourceType, sourceID))
	if err != nil {
		return ledger.Journal{}, err
	}
	if j.Lines, err = s.journalLines(ctx, j.ID); err != nil {
		return ledger.Journal{}, err
	}
	return j, nil
}

func (s *Store) journalLines(ctx context.Context, journalID uuid.UUID) ([]ledger.JournalLine, error) {
	rows, err := s.pool.Query(ctx, `
        select l.id, l.journal_id, l.line_no, l.account_id, a.code, l.debit::text, l.credit::text,
               l.description, l.document_type, l.document_no, l.document_date, l.payment_method
        from journal_lines l
        join accounts a on a.id = l.account_id
        where l.journal_id = $1
        order by l.line_no asc
    `, journalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.JournalLine, 0)
	for rows.Next() {
		var (
			ln            ledger.JournalLine
			debit, credit string
		)
		if err := rows.Scan(&ln.ID, &ln.JournalID, &ln.LineNo, &ln.AccountID, &ln.AccountCode, &debit, &credit,
			&ln.Description, &ln.DocumentType, &ln.DocumentNo, &ln.DocumentDate, &ln.PaymentMethod); err != nil {
			return nil, err
		}
		if ln.Debit, err = parseDecimal("debit", debit); err != nil {
			return nil, err
		}
		if ln.Credit, err = parseDecimal("credit", credit); err != nil {
			return nil, err
		}
		out = append(out, ln)
	}
	return out, rows.Err()
}

// CreateJournal inserts the journal, its lines and the balance increments in
// one transaction.
func (s *Store) CreateJournal(ctx context.Context, j ledger.Journal, deltas []ledger.BalanceDelta) (ledger.Journal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ledger.Journal{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if j.CreatedAt, err = createJournal(ctx, tx, j, deltas); err != nil {
		return ledger.Journal{}, mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.Journal{}, mapErr(err)
	}
	return j, nil
}

// createJournal runs the statements of CreateJournal within tx.
func createJournal(ctx context.Context, tx pgx.Tx, j ledger.Journal, deltas []ledger.BalanceDelta) (created time.Time, err error) {
	md, err := j.Metadata.MarshalStableJSON()
	if err != nil {
		return created, err
	}
	if err := tx.QueryRow(ctx, `
        insert into journals (id, tenant_id, branch, document_no, description, date, currency,
                              total_debit, total_credit, is_balanced, status, source_type, source_id, metadata)
        values ($1,$2,$3,$4,$5,$6,$7,$8::numeric,$9::numeric,$10,$11,$12,$13,$14)
        returning created_at
    `, j.ID, j.TenantID, j.Branch, j.DocumentNo, j.Description, j.Date, j.Currency,
		j.TotalDebit.String(), j.TotalCredit.String(), j.IsBalanced, j.Status, j.SourceType, nullUUID(j.SourceID), md,
	).Scan(&created); err != nil {
		return created, err
	}
	for _, ln := range j.Lines {
		if _, err := tx.Exec(ctx, `
            insert into journal_lines (id, journal_id, line_no, account_id, debit, credit,
                                       description, document_type, document_no, document_date, payment_method)
            values ($1,$2,$3,$4,$5::numeric,$6::numeric,$7,$8,$9,$10,$11)
        `, ln.ID, j.ID, ln.LineNo, ln.AccountID, ln.Debit.String(), ln.Credit.String(),
			ln.Description, ln.DocumentType, ln.DocumentNo, ln.DocumentDate, ln.PaymentMethod); err != nil {
			return created, fmt.Errorf("insert line %d: %w", ln.LineNo, err)
		}
	}
	for _, d := range deltas {
		ct, err := tx.Exec(ctx, `
            update accounts
            set balance = balance + $1::numeric
            where id = $2 and tenant_id = $3
        `, d.Amount.String(), d.AccountID, j.TenantID)
		if err != nil {
			return created, fmt.Errorf("apply balance delta: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return created, fmt.Errorf("account %s: %w", d.AccountID, errs.ErrNotFound)
		}
	}
	return created, nil
}
