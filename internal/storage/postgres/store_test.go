package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/decimal"

	"github.com/kasaplus/ledger/internal/errs"
	"github.com/kasaplus/ledger/internal/ledger"
	"github.com/kasaplus/ledger/internal/meta"
)

func getTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres store tests")
	}
	return dsn
}

// openFresh opens a store, applies the schema and empties every table.
func openFresh(t *testing.T) *Store {
	t.Helper()
	dsn := getTestDSN(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(s.Close)
	// Resolve init SQL path relative to this test file so CWD doesn't matter
	_, thisFile, _, _ := runtime.Caller(0)
	repoRoot := filepath.Clean(filepath.Join(filepath.Dir(thisFile), "../../../"))
	b, err := os.ReadFile(filepath.Join(repoRoot, "db", "migrations", "0001_init.sql"))
	if err != nil {
		t.Fatalf("read init sql: %v", err)
	}
	if _, err := s.pool.Exec(ctx, string(b)); err != nil {
		t.Fatalf("apply init sql: %v", err)
	}
	if _, err := s.pool.Exec(ctx, `truncate table journal_lines, journals, accounts, transactions, registers cascade`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func testAccount(scope ledger.Scope, code ledger.Code, parent ledger.Code) ledger.Account {
	class, _ := ledger.Classify(code, nil)
	return ledger.Account{
		ID: uuid.New(), TenantID: scope.TenantID, Branch: scope.Branch,
		Code: code, ParentCode: parent, Name: "ACCOUNT " + string(code), Classification: class,
	}
}

func TestStore_AccountsAndRegisterLinks(t *testing.T) {
	s := openFresh(t)
	ctx := context.Background()
	scope := ledger.Scope{TenantID: uuid.New(), Branch: "Main"}

	if err := s.Ready(ctx); err != nil {
		t.Fatalf("ready: %v", err)
	}
	reg := uuid.New()
	if _, err := s.pool.Exec(ctx, `insert into registers (id, tenant_id, branch, name, type, balance) values ($1,$2,$3,'Till','CASH',150.25)`,
		reg, scope.TenantID, scope.Branch); err != nil {
		t.Fatalf("seed register: %v", err)
	}
	gotReg, err := s.RegisterByID(ctx, scope.TenantID, reg)
	if err != nil {
		t.Fatalf("register by id: %v", err)
	}
	if !gotReg.Balance.Equal(decimal.MustParse("150.25")) {
		t.Fatalf("register balance = %s", gotReg.Balance)
	}
	if _, err := s.RegisterByID(ctx, uuid.New(), reg); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("foreign tenant register: want ErrNotFound, got %v", err)
	}

	group := testAccount(scope, "100.01", "")
	if _, err := s.CreateAccount(ctx, group); err != nil {
		t.Fatalf("create group: %v", err)
	}
	dup := testAccount(scope, "100.01", "")
	if _, err := s.CreateAccount(ctx, dup); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("duplicate code: want ErrConflict, got %v", err)
	}

	for _, code := range []ledger.Code{"100.01.002", "100.01.010", "100.01.009"} {
		if _, err := s.CreateAccount(ctx, testAccount(scope, code, "100.01")); err != nil {
			t.Fatalf("create %s: %v", code, err)
		}
	}
	last, ok, err := s.LastChildCode(ctx, scope, "100.01")
	if err != nil || !ok || last != "100.01.010" {
		t.Fatalf("last child = %q ok=%v err=%v", last, ok, err)
	}

	child, err := s.AccountByCode(ctx, scope, "100.01.002")
	if err != nil {
		t.Fatalf("account by code: %v", err)
	}
	linked, err := s.LinkRegister(ctx, scope, child.ID, reg)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if linked.RegisterID != reg {
		t.Fatalf("link did not set register: %+v", linked)
	}
	if _, err := s.LinkRegister(ctx, scope, child.ID, uuid.New()); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("relink: want ErrConflict, got %v", err)
	}
	other, _ := s.AccountByCode(ctx, scope, "100.01.009")
	if _, err := s.LinkRegister(ctx, scope, other.ID, reg); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("second account for register: want ErrConflict, got %v", err)
	}
	byReg, err := s.AccountByRegister(ctx, scope, reg)
	if err != nil || byReg.ID != child.ID {
		t.Fatalf("account by register = %+v err=%v", byReg, err)
	}
}

func TestStore_JournalsApplyDeltasAtomically(t *testing.T) {
	s := openFresh(t)
	ctx := context.Background()
	scope := ledger.Scope{TenantID: uuid.New(), Branch: "Main"}

	cash := testAccount(scope, "100.01", "")
	sales := testAccount(scope, "600.01", "600")
	for _, a := range []ledger.Account{cash, sales} {
		if _, err := s.CreateAccount(ctx, a); err != nil {
			t.Fatalf("create %s: %v", a.Code, err)
		}
	}

	amt := decimal.MustParse("500.00")
	date := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	j := ledger.Journal{
		ID: uuid.New(), TenantID: scope.TenantID, Branch: scope.Branch, DocumentNo: "2026030001",
		Description: "collection", Date: date, Currency: "TRY",
		TotalDebit: amt, TotalCredit: amt, IsBalanced: true, Status: ledger.JournalStatusApproved,
		SourceType: ledger.SourceTransaction, SourceID: uuid.New(),
		Metadata: meta.Metadata{meta.KeyReason: "test"},
	}
	j.Lines = []ledger.JournalLine{
		{ID: uuid.New(), LineNo: 1, AccountID: cash.ID, Debit: amt, Credit: decimal.Zero, Description: "collection", DocumentDate: date},
		{ID: uuid.New(), LineNo: 2, AccountID: sales.ID, Debit: decimal.Zero, Credit: amt, Description: "collection", DocumentDate: date},
	}
	deltas := []ledger.BalanceDelta{{AccountID: cash.ID, Amount: amt}, {AccountID: sales.ID, Amount: amt}}
	if _, err := s.CreateJournal(ctx, j, deltas); err != nil {
		t.Fatalf("create journal: %v", err)
	}

	got, err := s.JournalByID(ctx, scope.TenantID, j.ID)
	if err != nil {
		t.Fatalf("journal by id: %v", err)
	}
	if len(got.Lines) != 2 || got.Lines[0].AccountCode != "100.01" || got.Lines[1].AccountCode != "600.01" {
		t.Fatalf("unexpected lines: %+v", got.Lines)
	}
	if v, _ := got.Metadata.Get(meta.KeyReason); v != "test" {
		t.Fatalf("metadata not persisted: %+v", got.Metadata)
	}
	if _, err := s.JournalBySource(ctx, scope.TenantID, ledger.SourceTransaction, j.SourceID); err != nil {
		t.Fatalf("journal by source: %v", err)
	}
	docNo, ok, err := s.LastDocumentNo(ctx, scope.TenantID, "202603")
	if err != nil || !ok || docNo != "2026030001" {
		t.Fatalf("last document no = %q ok=%v err=%v", docNo, ok, err)
	}
	if _, ok, _ := s.LastDocumentNo(ctx, scope.TenantID, "202604"); ok {
		t.Fatalf("unexpected document in another month")
	}

	acc, _ := s.AccountByCode(ctx, scope, "100.01")
	if !acc.Balance.Equal(amt) {
		t.Fatalf("cash balance = %s, want %s", acc.Balance, amt)
	}

	// Duplicate document number rolls back every write, balances included.
	dupe := j
	dupe.ID = uuid.New()
	dupe.SourceID = uuid.New()
	dupe.Lines = []ledger.JournalLine{
		{ID: uuid.New(), LineNo: 1, AccountID: cash.ID, Debit: amt, Credit: decimal.Zero, DocumentDate: date},
		{ID: uuid.New(), LineNo: 2, AccountID: sales.ID, Debit: decimal.Zero, Credit: amt, DocumentDate: date},
	}
	if _, err := s.CreateJournal(ctx, dupe, deltas); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("duplicate document: want ErrConflict, got %v", err)
	}
	acc, _ = s.AccountByCode(ctx, scope, "100.01")
	if !acc.Balance.Equal(amt) {
		t.Fatalf("balance changed by rejected journal: %s", acc.Balance)
	}
}

func TestDecodeMetadata(t *testing.T) {
	m, err := decodeMetadata([]byte(`{"reason":"duplicate"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got, _ := m.Get(meta.KeyReason); got != "duplicate" {
		t.Fatalf("reason = %q", got)
	}
	if m, err := decodeMetadata(nil); err != nil || m != nil {
		t.Fatalf("empty column: %v %v", m, err)
	}
	if _, err := decodeMetadata([]byte(`{"reason":42}`)); err == nil {
		t.Fatalf("expected error for non-string metadata values")
	}
}
