package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type CreateEscrowRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Beneficiary string          `json:"beneficiary"`
	Deadline    time.Time       `json:"deadline"`
	NotBefore   *time.Time      `json:"not_before,omitempty"`
}

type MilestoneRequest struct {
	Percentage  decimal.Decimal `json:"percentage"`
	Description string          `json:"description"`
	Deadline    *time.Time      `json:"deadline,omitempty"`
}

type CreateMilestoneEscrowsRequest struct {
	Amount      decimal.Decimal    `json:"amount"`
	Beneficiary string             `json:"beneficiary"`
	Deadline    time.Time          `json:"deadline"`
	NotBefore   *time.Time         `json:"not_before,omitempty"`
	Milestones  []MilestoneRequest `json:"milestones"`
}

type SubmitVerdictRequest struct {
	Approved          bool   `json:"approved"`
	EvidenceHash      string `json:"evidence_hash"`
	ValidatorIdentity string `json:"validator_identity"`
	Evidence          string `json:"evidence"`
	Signature         string `json:"signature,omitempty"` // hex ed25519
}

type EvaluateRequest struct {
	Evidence string `json:"evidence"`
}

type RunDistributionRequest struct {
	Profit decimal.Decimal `json:"profit"`
}

type DonateRequest struct {
	DonorAddress string          `json:"donor_address"`
	Amount       decimal.Decimal `json:"amount"`
}

type RegisterRecipientRequest struct {
	Name           string          `json:"name"`
	WalletAddress  string          `json:"wallet_address"`
	Category       string          `json:"category"`
	ImpactScore    int             `json:"impact_score"`
	Weight         decimal.Decimal `json:"weight"`
	Certifications []string        `json:"certifications,omitempty"`
	Website        *string         `json:"website,omitempty"`
	Description    *string         `json:"description,omitempty"`
}

type UpdateImpactRequest struct {
	ImpactScore    int      `json:"impact_score"`
	Certifications []string `json:"certifications,omitempty"`
}
