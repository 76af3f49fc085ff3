package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VerificationThreshold is the impact score at which a recipient is verified.
const VerificationThreshold = 70

const (
	RecipientCategoryClimate   = "climate"
	RecipientCategoryHealth    = "health"
	RecipientCategoryEducation = "education"
	RecipientCategoryWater     = "water"
	RecipientCategoryOther     = "other"
)

var ValidRecipientCategories = map[string]bool{
	RecipientCategoryClimate:   true,
	RecipientCategoryHealth:    true,
	RecipientCategoryEducation: true,
	RecipientCategoryWater:     true,
	RecipientCategoryOther:     true,
}

// Recipient is an NGO that can receive distributions.
type Recipient struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	WalletAddress  string          `json:"wallet_address"`
	Category       string          `json:"category"`
	ImpactScore    int             `json:"impact_score"`
	Weight         decimal.Decimal `json:"weight"`
	TotalReceived  decimal.Decimal `json:"total_received"`
	Verified       bool            `json:"verified"`
	Certifications []string        `json:"certifications"`
	Website        *string         `json:"website,omitempty"`
	Description    *string         `json:"description,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ApplyImpactScore stores an oracle score and re-derives verification.
func (r *Recipient) ApplyImpactScore(score int, certifications []string, at time.Time) {
	r.ImpactScore = score
	r.Certifications = certifications
	r.Verified = score >= VerificationThreshold
	r.UpdatedAt = at
}

func (r *Recipient) EligibleForDistribution() bool {
	return r.Verified && r.ImpactScore >= VerificationThreshold && r.Weight.IsPositive()
}

// ImpactTier buckets the impact score.
func (r *Recipient) ImpactTier() string {
	switch {
	case r.ImpactScore >= 90:
		return "Excellent"
	case r.ImpactScore >= 75:
		return "Good"
	case r.ImpactScore >= 60:
		return "Fair"
	default:
		return "Poor"
	}
}
