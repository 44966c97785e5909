package errs

import (
	"errors"
	"fmt"
)

// Common sentinel errors for cross-layer signaling.
var (
	ErrNotFound = errors.New("not_found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid")
	// ErrMissingTenantContext is returned when a call carries no tenant or branch.
	ErrMissingTenantContext = errors.New("missing_tenant_context")
	// ErrImbalancedJournal marks debit/credit totals differing beyond tolerance.
	ErrImbalancedJournal = errors.New("imbalanced_journal")
	// ErrAlreadyReversal rejects reversing a reversal journal.
	ErrAlreadyReversal = errors.New("already_reversal")
	// ErrAlreadyReversed rejects a second reversal of the same journal.
	ErrAlreadyReversed = fmt.Errorf("already_reversed: %w", ErrConflict)
	// ErrInvalidCode is returned for malformed or unclassifiable account codes.
	ErrInvalidCode = errors.New("invalid_account_code")
	// ErrSequenceExhausted means every child code of a group is taken.
	ErrSequenceExhausted = errors.New("sequence_exhausted")
)

// ImbalancedError carries the computed totals of a rejected journal.
type ImbalancedError struct {
	TotalDebit  string
	TotalCredit string
}

func (e *ImbalancedError) Error() string {
	return fmt.Sprintf("journal is not balanced: debit %s, credit %s", e.TotalDebit, e.TotalCredit)
}

func (e *ImbalancedError) Unwrap() error { return ErrImbalancedJournal }
