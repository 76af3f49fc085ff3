package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRecipientEligibility(t *testing.T) {
	tests := []struct {
		name     string
		score    int
		weight   string
		verified bool
		want     bool
	}{
		{"verified with weight", 85, "0.5", true, true},
		{"at threshold", 70, "0.1", true, true},
		{"below threshold", 69, "0.5", false, false},
		{"zero weight", 90, "0", true, false},
		{"stale verified flag", 40, "0.5", true, false},
		{"unverified high score", 90, "0.5", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Recipient{ImpactScore: tt.score, Weight: decimal.RequireFromString(tt.weight), Verified: tt.verified}
			if got := r.EligibleForDistribution(); got != tt.want {
				t.Errorf("EligibleForDistribution() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyImpactScore(t *testing.T) {
	r := &Recipient{Weight: decimal.NewFromFloat(0.3)}

	r.ApplyImpactScore(72, []string{"gold-standard"}, time.Now())
	if !r.Verified || !r.EligibleForDistribution() {
		t.Error("expected verified and eligible at 72")
	}

	r.ApplyImpactScore(55, nil, time.Now())
	if r.Verified || r.EligibleForDistribution() {
		t.Error("expected unverified at 55")
	}
}

func TestImpactTier(t *testing.T) {
	tests := map[int]string{100: "Excellent", 90: "Excellent", 89: "Good", 75: "Good", 74: "Fair", 60: "Fair", 59: "Poor", 0: "Poor"}
	for score, want := range tests {
		r := &Recipient{ImpactScore: score}
		if got := r.ImpactTier(); got != want {
			t.Errorf("ImpactTier(%d) = %s, want %s", score, got, want)
		}
	}
}
