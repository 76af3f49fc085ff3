package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PayoutStatusPending   = "pending"
	PayoutStatusConfirmed = "confirmed"
	PayoutStatusFailed    = "failed"
)

type DistributionBatch struct {
	ID               uuid.UUID            `json:"id"`
	PoolID           uuid.UUID            `json:"pool_id"`
	SourceAmount     decimal.Decimal      `json:"source_amount"`
	Records          []DistributionRecord `json:"records"`
	TotalDistributed decimal.Decimal      `json:"total_distributed"`
	TotalFailed      decimal.Decimal      `json:"total_failed"`
	PlanHash         string               `json:"plan_hash"`
	CreatedAt        time.Time            `json:"created_at"`
	CompletedAt      *time.Time           `json:"completed_at,omitempty"`
}

type DistributionRecord struct {
	ID            uuid.UUID       `json:"id"`
	BatchID       uuid.UUID       `json:"batch_id"`
	RecipientID   uuid.UUID       `json:"recipient_id"`
	WalletAddress string          `json:"wallet_address"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	ProofRef      *string         `json:"proof_ref,omitempty"`
	Error         *string         `json:"error,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Pool is the single balance counter distributions draw from.
type Pool struct {
	ID            uuid.UUID       `json:"id"`
	WalletAddress string          `json:"wallet_address"`
	Balance       decimal.Decimal `json:"balance"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
