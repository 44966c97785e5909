package memory

// Package memory provides an in-memory store used for development and tests.
// It enforces the same unique keys as the SQL schema.
import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kasaplus/ledger/internal/errs"
	"github.com/kasaplus/ledger/internal/ledger"
)

type codeKey struct {
	TenantID uuid.UUID
	Branch   string
	Code     ledger.Code
}

type registerKey struct {
	TenantID   uuid.UUID
	Branch     string
	RegisterID uuid.UUID
}

type sourceKey struct {
	TenantID   uuid.UUID
	SourceType ledger.SourceType
	SourceID   uuid.UUID
}

// Store is an in-memory implementation of the repositories and writers used
// by the services. It is guarded by an RWMutex for concurrent reads/writes.
type Store struct {
	mu         sync.RWMutex
	accounts   map[uuid.UUID]ledger.Account
	byCode     map[codeKey]uuid.UUID
	byRegister map[registerKey]uuid.UUID
	journals   map[uuid.UUID]*ledger.Journal
	// Per-tenant sorted index of document numbers for prefix scans
	docNosByTenant map[uuid.UUID][]string
	bySource       map[sourceKey]uuid.UUID
	registers      map[uuid.UUID]ledger.Register
	transactions   map[uuid.UUID]ledger.Transaction
}

// New constructs an empty in-memory store.
func New() *Store {
	s := &Store{}
	s.Reset()
	return s
}

// Seed helpers for local dev/tests.
func (s *Store) SeedRegister(r ledger.Register)       { s.mu.Lock(); s.registers[r.ID] = r; s.mu.Unlock() }
func (s *Store) SeedTransaction(t ledger.Transaction) { s.mu.Lock(); s.transactions[t.ID] = t; s.mu.Unlock() }
func (s *Store) Reset() {
	s.mu.Lock()
	s.accounts = map[uuid.UUID]ledger.Account{}
	s.byCode = map[codeKey]uuid.UUID{}
	s.byRegister = map[registerKey]uuid.UUID{}
	s.journals = map[uuid.UUID]*ledger.Journal{}
	s.docNosByTenant = map[uuid.UUID][]string{}
	s.bySource = map[sourceKey]uuid.UUID{}
	s.registers = map[uuid.UUID]ledger.Register{}
	s.transactions = map[uuid.UUID]ledger.Transaction{}
	s.mu.Unlock()
}

// Ready reports readiness; the memory store is always ready.
func (s *Store) Ready(context.Context) error { return nil }

// AccountByCode returns the account with code in scope.
func (s *Store) AccountByCode(_ context.Context, scope ledger.Scope, code ledger.Code) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[codeKey{scope.TenantID, scope.Branch, code}]
	if !ok {
		return ledger.Account{}, errs.ErrNotFound
	}
	return s.accounts[id], nil
}

// AccountByRegister returns the account linked to registerID in scope.
func (s *Store) AccountByRegister(_ context.Context, scope ledger.Scope, registerID uuid.UUID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRegister[registerKey{scope.TenantID, scope.Branch, registerID}]
	if !ok {
		return ledger.Account{}, errs.ErrNotFound
	}
	return s.accounts[id], nil
}

// LastChildCode returns the highest child code of parent in scope.
func (s *Store) LastChildCode(_ context.Context, scope ledger.Scope, parent ledger.Code) (ledger.Code, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last ledger.Code
	found := false
	for k := range s.byCode {
		if k.TenantID != scope.TenantID || k.Branch != scope.Branch {
			continue
		}
		if p, ok := k.Code.Parent(); !ok || p != parent {
			continue
		}
		if !found || childLess(last, k.Code) {
			last, found = k.Code, true
		}
	}
	return last, found, nil
}

// childLess orders sibling codes numerically by their last segment.
func childLess(a, b ledger.Code) bool {
	x, okx := a.LastSeq()
	y, oky := b.LastSeq()
	if okx && oky {
		return x < y
	}
	return a < b
}

// AccountsByScope returns all accounts of a branch.
func (s *Store) AccountsByScope(_ context.Context, scope ledger.Scope) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Account, 0)
	for _, a := range s.accounts {
		if a.TenantID == scope.TenantID && a.Branch == scope.Branch {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// CreateAccount persists a new account. Code and register link are unique per branch.
func (s *Store) CreateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ck := codeKey{a.TenantID, a.Branch, a.Code}
	if _, ok := s.byCode[ck]; ok {
		return ledger.Account{}, errs.ErrConflict
	}
	rk := registerKey{a.TenantID, a.Branch, a.RegisterID}
	if a.RegisterID != uuid.Nil {
		if _, ok := s.byRegister[rk]; ok {
			return ledger.Account{}, errs.ErrConflict
		}
		s.byRegister[rk] = a.ID
	}
	s.byCode[ck] = a.ID
	s.accounts[a.ID] = a
	return a, nil
}

// LinkRegister attaches registerID to an unlinked account.
func (s *Store) LinkRegister(_ context.Context, scope ledger.Scope, accountID, registerID uuid.UUID) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok || a.TenantID != scope.TenantID || a.Branch != scope.Branch {
		return ledger.Account{}, errs.ErrNotFound
	}
	rk := registerKey{scope.TenantID, scope.Branch, registerID}
	if a.RegisterID != uuid.Nil {
		return ledger.Account{}, errs.ErrConflict
	}
	if _, taken := s.byRegister[rk]; taken {
		return ledger.Account{}, errs.ErrConflict
	}
	a.RegisterID = registerID
	s.accounts[a.ID] = a
	s.byRegister[rk] = a.ID
	return a, nil
}

// RegisterByID returns a tenant's register.
func (s *Store) RegisterByID(_ context.Context, tenantID, registerID uuid.UUID) (ledger.Register, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.registers[registerID]
	if !ok || r.TenantID != tenantID {
		return ledger.Register{}, errs.ErrNotFound
	}
	return r, nil
}

// RegistersByScope returns the registers of a branch ordered by name.
func (s *Store) RegistersByScope(_ context.Context, scope ledger.Scope) ([]ledger.Register, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Register, 0)
	for _, r := range s.registers {
		if r.TenantID == scope.TenantID && r.Branch == scope.Branch {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// TransactionsByKind returns a branch's transactions of one kind ordered by date.
func (s *Store) TransactionsByKind(_ context.Context, scope ledger.Scope, kind ledger.TransactionKind) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Transaction, 0)
	for _, t := range s.transactions {
		if t.TenantID == scope.TenantID && t.Branch == scope.Branch && t.Kind == kind {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// LastDocumentNo returns the highest document number of the tenant starting with prefix.
func (s *Store) LastDocumentNo(_ context.Context, tenantID uuid.UUID, prefix string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.docNosByTenant[tenantID]
	// numbers carrying the prefix are contiguous in the sorted index
	lo := sort.SearchStrings(docs, prefix)
	last, found := "", false
	for _, d := range docs[lo:] {
		if !strings.HasPrefix(d, prefix) {
			break
		}
		if !found || docNoLess(last, d) {
			last, found = d, true
		}
	}
	return last, found, nil
}

// docNoLess orders document numbers numerically: a longer sequence is higher.
func docNoLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// JournalByID returns a tenant's journal with its lines.
func (s *Store) JournalByID(_ context.Context, tenantID, journalID uuid.UUID) (ledger.Journal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.journals[journalID]
	if !ok || j.TenantID != tenantID {
		return ledger.Journal{}, errs.ErrNotFound
	}
	return copyJournal(*j), nil
}

// JournalBySource returns the first journal posted for a source record.
func (s *Store) JournalBySource(_ context.Context, tenantID uuid.UUID, sourceType ledger.SourceType, sourceID uuid.UUID) (ledger.Journal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySource[sourceKey{tenantID, sourceType, sourceID}]
	if !ok {
		return ledger.Journal{}, errs.ErrNotFound
	}
	return copyJournal(*s.journals[id]), nil
}

// CreateJournal stores a journal and applies balance deltas atomically.
// Document numbers are unique per tenant and a journal is reversed at most once.
func (s *Store) CreateJournal(_ context.Context, j ledger.Journal, deltas []ledger.BalanceDelta) (ledger.Journal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.docNosByTenant[j.TenantID]
	pos := sort.SearchStrings(docs, j.DocumentNo)
	if pos < len(docs) && docs[pos] == j.DocumentNo {
		return ledger.Journal{}, errs.ErrConflict
	}
	sk := sourceKey{j.TenantID, j.SourceType, j.SourceID}
	_, sourced := s.bySource[sk]
	if j.SourceType == ledger.SourceJournalReversal && sourced {
		return ledger.Journal{}, errs.ErrConflict
	}
	updated := make(map[uuid.UUID]ledger.Account, len(deltas))
	for _, d := range deltas {
		a, ok := updated[d.AccountID]
		if !ok {
			if a, ok = s.accounts[d.AccountID]; !ok || a.TenantID != j.TenantID {
				return ledger.Journal{}, errs.ErrNotFound
			}
		}
		bal, err := a.Balance.Add(d.Amount)
		if err != nil {
			return ledger.Journal{}, err
		}
		a.Balance = bal
		updated[a.ID] = a
	}

	for id, a := range updated {
		s.accounts[id] = a
	}
	stored := copyJournal(j)
	s.journals[j.ID] = &stored
	docs = append(docs, "")
	copy(docs[pos+1:], docs[pos:])
	docs[pos] = j.DocumentNo
	s.docNosByTenant[j.TenantID] = docs
	if j.SourceID != uuid.Nil && !sourced {
		s.bySource[sk] = j.ID
	}
	return copyJournal(stored), nil
}

func copyJournal(j ledger.Journal) ledger.Journal {
	j.Lines = append([]ledger.JournalLine(nil), j.Lines...)
	j.Metadata = j.Metadata.Clone()
	return j
}
