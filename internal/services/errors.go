package services

import (
	"errors"
	"fmt"

	"github.com/impact-escrow/backend/internal/apperr"
	"github.com/impact-escrow/backend/internal/ledger"
)

var (
	ErrInvalidAmount     = apperr.New(apperr.Validation, "amount must be positive")
	ErrInvalidDeadline   = apperr.New(apperr.Validation, "deadline must be in the future and after notBefore")
	ErrInvalidAddress    = apperr.New(apperr.Validation, "malformed ledger address")
	ErrInvalidOwner      = apperr.New(apperr.Validation, "owner seed is required")
	ErrInvalidScore      = apperr.New(apperr.Validation, "impact score must be within 0..100")
	ErrInvalidWeight     = apperr.New(apperr.Validation, "weight must be within 0..1")
	ErrInvalidCategory   = apperr.New(apperr.Validation, "unknown recipient category")
	ErrInvalidVerdict    = apperr.New(apperr.Validation, "verdict is missing evidence hash or validator identity")
	ErrAmountPrecision   = apperr.New(apperr.Validation, "amount has more decimal places than the ledger supports")
	ErrDonationTooLarge  = apperr.New(apperr.Validation, "donation exceeds the per-donation maximum")
	ErrInvalidMilestones = apperr.New(apperr.Validation, "milestones must be non-empty with positive percentages")

	ErrCommitmentMismatch = apperr.New(apperr.Integrity, "secret does not match escrow commitment")
	ErrEvidenceIntegrity  = apperr.New(apperr.Integrity, "evidence hash mismatch")
	ErrBadSignature       = apperr.New(apperr.Integrity, "invalid validator signature")
	ErrValidatorMismatch  = apperr.New(apperr.Integrity, "caller is not the declared validator")

	ErrDeadlineElapsed         = apperr.New(apperr.State, "escrow deadline has passed")
	ErrNotYetReleasable        = apperr.New(apperr.State, "escrow is not yet releasable")
	ErrCancelNotAllowed        = apperr.New(apperr.State, "escrow cannot be cancelled before its deadline")
	ErrNotLocked               = apperr.New(apperr.State, "escrow is not locked")
	ErrNotCreated              = apperr.New(apperr.State, "escrow is already funded")
	ErrNoEligibleRecipients    = apperr.New(apperr.State, "no eligible recipients")
	ErrInsufficientPoolBalance = apperr.New(apperr.State, "insufficient pool balance")
	ErrConcurrentUpdate        = apperr.New(apperr.State, "concurrent update, retry")
	ErrRecipientExists         = apperr.New(apperr.State, "recipient wallet already registered")

	ErrEscrowNotFound    = apperr.New(apperr.NotFound, "escrow not found")
	ErrSecretNotFound    = apperr.New(apperr.NotFound, "escrow secret not found")
	ErrRecipientNotFound = apperr.New(apperr.NotFound, "recipient not found")
	ErrDonorNotFound     = apperr.New(apperr.NotFound, "donor not found")
	ErrBatchNotFound     = apperr.New(apperr.NotFound, "distribution batch not found")

	ErrOracleUnavailable = apperr.New(apperr.Transient, "oracle unavailable")

	// ErrLedgerSubmission matches every *LedgerError via errors.Is.
	ErrLedgerSubmission = errors.New("ledger submission failed")
)

// LedgerError wraps a failed ledger submission and keeps its class: transient
// failures map to apperr.Transient, rejections to apperr.State.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("%s: %v", ErrLedgerSubmission.Error(), e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

func (e *LedgerError) Is(target error) bool { return target == ErrLedgerSubmission }

func (e *LedgerError) Kind() apperr.Kind {
	if ledger.IsTransient(e.Err) {
		return apperr.Transient
	}
	return apperr.State
}

func (e *LedgerError) Transient() bool {
	return ledger.IsTransient(e.Err)
}

func ledgerErr(op string, err error) error {
	return &LedgerError{Op: op, Err: err}
}
