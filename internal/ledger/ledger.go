// Package ledger defines the ledger collaborator the engine submits escrow
// and payment operations to, plus its backends.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Operation names used in errors and metrics.
const (
	OpLock    = "lock"
	OpUnlock  = "unlock"
	OpCancel  = "cancel"
	OpPayment = "payment"
)

type LockRequest struct {
	OwnerSeed   string
	Amount      decimal.Decimal
	Condition   []byte // DER crypto-condition
	Beneficiary string
	FinishAfter *time.Time
	CancelAfter time.Time
	Reference   string
}

type LockConfirmation struct {
	ConfirmationID string
	Owner          string
	Sequence       int64
}

type UnlockRequest struct {
	Owner       string
	Sequence    int64
	Condition   []byte
	Fulfillment []byte
}

type CancelRequest struct {
	Owner    string
	Sequence int64
}

type PaymentRequest struct {
	From      string
	To        string
	Amount    decimal.Decimal
	Reference string
}

type Confirmation struct {
	ConfirmationID string
}

// EscrowSubmitter locks value under a hashlock and later unlocks or cancels it.
type EscrowSubmitter interface {
	SubmitLock(ctx context.Context, req LockRequest) (LockConfirmation, error)
	SubmitUnlock(ctx context.Context, req UnlockRequest) (Confirmation, error)
	SubmitCancel(ctx context.Context, req CancelRequest) (Confirmation, error)
	ValidAddress(addr string) bool
}

// Payer moves value between two addresses.
type Payer interface {
	SubmitPayment(ctx context.Context, req PaymentRequest) (Confirmation, error)
	ValidAddress(addr string) bool
}

type Client interface {
	EscrowSubmitter
	Payer
}

// Error is a failed submission. Transient errors may be retried by the
// caller with backoff; the rest are terminal rejections.
type Error struct {
	Op        string
	Code      string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	class := "rejected"
	if e.Transient {
		class = "transient"
	}
	if e.Err != nil {
		return fmt.Sprintf("ledger %s %s (%s): %v", e.Op, class, e.Code, e.Err)
	}
	return fmt.Sprintf("ledger %s %s (%s)", e.Op, class, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func Rejected(op, code string) *Error {
	return &Error{Op: op, Code: code}
}

func Unavailable(op string, err error) *Error {
	return &Error{Op: op, Code: "unavailable", Transient: true, Err: err}
}

// IsTransient reports whether err is a retryable ledger failure. Context
// deadline errors count as transient.
func IsTransient(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Transient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// CodeOf returns the ledger result code, or "" for foreign errors.
func CodeOf(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}
