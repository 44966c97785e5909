// Package chart maintains the per-branch chart of accounts: on-demand account
// creation with inherited classification, and provisioning of the accounts
// that mirror external registers.
package chart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kasaplus/ledger/internal/dictionary"
	"github.com/kasaplus/ledger/internal/errs"
	"github.com/kasaplus/ledger/internal/ledger"
	"github.com/kasaplus/ledger/internal/metrics"
)

// maxSeq is the size of a group's three-digit child sequence space.
const maxSeq = 999

// Repo defines read operations needed by the service.
type Repo interface {
	AccountByCode(ctx context.Context, scope ledger.Scope, code ledger.Code) (ledger.Account, error)
	AccountByRegister(ctx context.Context, scope ledger.Scope, registerID uuid.UUID) (ledger.Account, error)
	// LastChildCode returns the highest code whose parent is parent.
	LastChildCode(ctx context.Context, scope ledger.Scope, parent ledger.Code) (ledger.Code, bool, error)
	RegisterByID(ctx context.Context, tenantID, registerID uuid.UUID) (ledger.Register, error)
}

// Writer defines write operations needed by the service. Both methods return
// errs.ErrConflict when a unique key is already taken.
type Writer interface {
	CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error)
	// LinkRegister attaches registerID to an unlinked account.
	LinkRegister(ctx context.Context, scope ledger.Scope, accountID, registerID uuid.UUID) (ledger.Account, error)
}

// Service exposes account resolution for the poster, the mapper and reconciliation.
type Service interface {
	ResolveForRegister(ctx context.Context, scope ledger.Scope, registerID uuid.UUID) (ledger.Account, error)
	EnsureAccount(ctx context.Context, scope ledger.Scope, code ledger.Code, name string) (ledger.Account, error)
	SeedDefaults(ctx context.Context, scope ledger.Scope) ([]ledger.Account, error)
}

type service struct {
	repo   Repo
	writer Writer
	log    *slog.Logger
}

func New(repo Repo, writer Writer, logger *slog.Logger) Service {
	return &service{repo: repo, writer: writer, log: logger}
}

// EnsureAccount returns the account for code, creating it and any missing
// non-root ancestors. A lost creation race is resolved by re-reading.
func (s *service) EnsureAccount(ctx context.Context, scope ledger.Scope, code ledger.Code, name string) (ledger.Account, error) {
	if err := scope.Validate(); err != nil {
		return ledger.Account{}, err
	}
	if err := code.Validate(); err != nil {
		return ledger.Account{}, err
	}
	if code.IsRoot() {
		return ledger.Account{}, fmt.Errorf("%w: root %s is implicit and cannot hold postings", errs.ErrInvalidCode, code)
	}
	acc, err := s.repo.AccountByCode(ctx, scope, code)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return ledger.Account{}, err
	}

	// Roots are never stored, so accounts directly under one keep an empty parent.
	parentCode, _ := code.Parent()
	var parent *ledger.Account
	if parentCode.IsRoot() {
		parentCode = ""
	} else {
		p, err := s.EnsureAccount(ctx, scope, parentCode, dictionary.Name(parentCode))
		if err != nil {
			return ledger.Account{}, err
		}
		parent = &p
	}
	class, err := ledger.Classify(code, parent)
	if err != nil {
		return ledger.Account{}, err
	}
	if strings.TrimSpace(name) == "" {
		name = dictionary.Name(code)
	}
	created, err := s.writer.CreateAccount(ctx, newAccount(scope, code, parentCode, name, class))
	if err == nil {
		metrics.AccountsCreated.Inc()
		s.log.Debug("account created", "tenant_id", scope.TenantID, "branch", scope.Branch, "code", code)
		return created, nil
	}
	if !errors.Is(err, errs.ErrConflict) {
		return ledger.Account{}, err
	}
	metrics.ProvisionConflicts.Inc()
	return s.repo.AccountByCode(ctx, scope, code)
}

// ResolveForRegister returns the account mirroring a register, provisioning
// {root}.01.{seq} under the register type's group when none is linked yet.
func (s *service) ResolveForRegister(ctx context.Context, scope ledger.Scope, registerID uuid.UUID) (ledger.Account, error) {
	if err := scope.Validate(); err != nil {
		return ledger.Account{}, err
	}
	if registerID == uuid.Nil {
		return ledger.Account{}, fmt.Errorf("%w: register id required", errs.ErrInvalid)
	}
	if acc, err := s.linked(ctx, scope, registerID); err != nil || acc != nil {
		return deref(acc), err
	}
	reg, err := s.repo.RegisterByID(ctx, scope.TenantID, registerID)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("register %s: %w", registerID, err)
	}

	grp := dictionary.GroupFor(reg.Type)
	groupCode := grp.Root + ".01"
	group, err := s.EnsureAccount(ctx, scope, groupCode, grp.Label+" ACCOUNTS")
	if err != nil {
		return ledger.Account{}, err
	}
	class, err := ledger.Classify(groupCode, &group)
	if err != nil {
		return ledger.Account{}, err
	}

	seq := 1
	if last, ok, err := s.repo.LastChildCode(ctx, scope, groupCode); err != nil {
		return ledger.Account{}, err
	} else if ok {
		if n, ok := last.LastSeq(); ok {
			seq = n + 1
		}
	}

	name := strings.ToUpper(strings.TrimSpace(reg.Name))
	// Each pass either returns, advances seq, or re-evaluates the same seq
	// after a lost link race; the attempt cap stops a livelock.
	for attempt := 0; seq <= maxSeq && attempt < 2*maxSeq; attempt++ {
		code := groupCode.Child(seq)
		acc := newAccount(scope, code, groupCode, name, class)
		acc.RegisterID = registerID
		created, err := s.writer.CreateAccount(ctx, acc)
		if err == nil {
			metrics.AccountsCreated.Inc()
			s.log.Info("register account provisioned",
				"tenant_id", scope.TenantID, "branch", scope.Branch, "register_id", registerID, "code", code)
			return created, nil
		}
		if !errors.Is(err, errs.ErrConflict) {
			return ledger.Account{}, err
		}
		metrics.ProvisionConflicts.Inc()

		if acc, err := s.linked(ctx, scope, registerID); err != nil || acc != nil {
			return deref(acc), err
		}
		existing, err := s.repo.AccountByCode(ctx, scope, code)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			continue
		case err != nil:
			return ledger.Account{}, err
		case existing.RegisterID == registerID:
			return existing, nil
		case existing.RegisterID == uuid.Nil:
			claimed, err := s.writer.LinkRegister(ctx, scope, existing.ID, registerID)
			if err == nil {
				return claimed, nil
			}
			if !errors.Is(err, errs.ErrConflict) {
				return ledger.Account{}, err
			}
		default:
			seq++
		}
	}
	s.log.Error("register account provisioning exhausted",
		"tenant_id", scope.TenantID, "branch", scope.Branch, "register_id", registerID, "group", groupCode, "seq", seq)
	return ledger.Account{}, fmt.Errorf("%w: group %s", errs.ErrSequenceExhausted, groupCode)
}

// SeedDefaults creates the default chart for a branch. Existing accounts are kept.
func (s *service) SeedDefaults(ctx context.Context, scope ledger.Scope) ([]ledger.Account, error) {
	out := make([]ledger.Account, 0, len(dictionary.DefaultChart))
	for _, e := range dictionary.DefaultChart {
		acc, err := s.EnsureAccount(ctx, scope, e.Code, e.Name)
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", e.Code, err)
		}
		out = append(out, acc)
	}
	return out, nil
}

// linked returns the account already linked to registerID, or nil.
func (s *service) linked(ctx context.Context, scope ledger.Scope, registerID uuid.UUID) (*ledger.Account, error) {
	acc, err := s.repo.AccountByRegister(ctx, scope, registerID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func deref(a *ledger.Account) ledger.Account {
	if a == nil {
		return ledger.Account{}
	}
	return *a
}

func newAccount(scope ledger.Scope, code, parent ledger.Code, name string, class ledger.Classification) ledger.Account {
	return ledger.Account{
		ID:             uuid.New(),
		TenantID:       scope.TenantID,
		Branch:         scope.Branch,
		Code:           code,
		ParentCode:     parent,
		Name:           name,
		Classification: class,
	}
}
