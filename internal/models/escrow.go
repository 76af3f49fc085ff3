package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/impact-escrow/backend/internal/condition"
)

// Escrow statuses. Expired is never stored, see EffectiveStatus.
const (
	EscrowStatusCreated   = "created"
	EscrowStatusLocked    = "locked"
	EscrowStatusReleased  = "released"
	EscrowStatusCancelled = "cancelled"
	EscrowStatusExpired   = "expired"
)

// Valid state transitions: from -> []to
var ValidEscrowTransitions = map[string][]string{
	EscrowStatusCreated:   {EscrowStatusLocked, EscrowStatusCancelled},
	EscrowStatusLocked:    {EscrowStatusReleased, EscrowStatusCancelled},
	EscrowStatusReleased:  {},
	EscrowStatusCancelled: {},
}

func IsValidEscrowTransition(from, to string) bool {
	for _, s := range ValidEscrowTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Escrow struct {
	ID           uuid.UUID            `json:"id"`
	OwnerAddress string               `json:"owner_address,omitempty"`
	Sequence     *int64               `json:"sequence,omitempty"`
	Beneficiary  string               `json:"beneficiary"`
	Amount       decimal.Decimal      `json:"amount"`
	Commitment   condition.Commitment `json:"condition"`
	NotBefore    *time.Time           `json:"not_before,omitempty"`
	Deadline     time.Time            `json:"deadline"`
	Status       string               `json:"status"`
	CreateTxID   *string              `json:"create_tx_id,omitempty"`
	FinishTxID   *string              `json:"finish_tx_id,omitempty"`
	CancelTxID   *string              `json:"cancel_tx_id,omitempty"`
	ProofHash    *string              `json:"proof_hash,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

func (e *Escrow) IsTerminal() bool {
	return e.Status == EscrowStatusReleased || e.Status == EscrowStatusCancelled
}

// EffectiveStatus is the read-time status: a locked escrow still open at
// deadline+grace is reported as expired.
func (e *Escrow) EffectiveStatus(now time.Time, grace time.Duration) string {
	if e.Status == EscrowStatusLocked && !now.Before(e.Deadline.Add(grace)) {
		return EscrowStatusExpired
	}
	return e.Status
}

// DeadlinePassed reports now >= deadline.
func (e *Escrow) DeadlinePassed(now time.Time) bool {
	return !now.Before(e.Deadline)
}

// ReleaseOpen reports whether now is inside [notBefore, deadline).
func (e *Escrow) ReleaseOpen(now time.Time) bool {
	if e.DeadlinePassed(now) {
		return false
	}
	return e.NotBefore == nil || !now.Before(*e.NotBefore)
}

// EscrowView is an escrow as returned to callers, with the derived status.
type EscrowView struct {
	Escrow
	EffectiveStatus string `json:"effective_status"`
}

func NewEscrowView(e *Escrow, now time.Time, grace time.Duration) EscrowView {
	return EscrowView{Escrow: *e, EffectiveStatus: e.EffectiveStatus(now, grace)}
}

// ReleaseProof carries a secret from the oracle gate to the release entry
// point. It is never serialized.
type ReleaseProof struct {
	EscrowID uuid.UUID
	Secret   condition.Secret
}
