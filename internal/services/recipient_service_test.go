package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impact-escrow/backend/internal/apperr"
	"github.com/impact-escrow/backend/internal/ledger"
	"github.com/impact-escrow/backend/internal/models"
)

func TestRegisterRecipientValidation(t *testing.T) {
	h := newHarness(t)
	valid := func() RegisterRecipientRequest {
		return RegisterRecipientRequest{
			Name:          "Clean Water Fund",
			WalletAddress: ledger.AddressFromSeed("water"),
			Category:      models.RecipientCategoryWater,
			ImpactScore:   80,
			Weight:        decimal.RequireFromString("0.4"),
		}
	}

	tests := []struct {
		name   string
		mutate func(*RegisterRecipientRequest)
		want   error
	}{
		{"score above 100", func(r *RegisterRecipientRequest) { r.ImpactScore = 101 }, ErrInvalidScore},
		{"negative score", func(r *RegisterRecipientRequest) { r.ImpactScore = -1 }, ErrInvalidScore},
		{"weight above 1", func(r *RegisterRecipientRequest) { r.Weight = decimal.RequireFromString("1.01") }, ErrInvalidWeight},
		{"negative weight", func(r *RegisterRecipientRequest) { r.Weight = decimal.NewFromInt(-1) }, ErrInvalidWeight},
		{"unknown category", func(r *RegisterRecipientRequest) { r.Category = "sports" }, ErrInvalidCategory},
		{"bad wallet", func(r *RegisterRecipientRequest) { r.WalletAddress = "0xnope" }, ErrInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			_, err := h.recipients.Register(h.ctx, req)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, apperr.Validation, apperr.KindOf(err))
		})
	}

	rc, err := h.recipients.Register(h.ctx, valid())
	require.NoError(t, err)
	assert.True(t, rc.Verified)
	assert.True(t, rc.TotalReceived.IsZero())

	_, err = h.recipients.Register(h.ctx, valid())
	assert.ErrorIs(t, err, ErrRecipientExists)
}

func TestRecipientVerificationThreshold(t *testing.T) {
	h := newHarness(t)

	below := h.addRecipient(t, "NGO_69", "0.5", 69)
	at := h.addRecipient(t, "NGO_70", "0.5", 70)
	assert.False(t, below.Verified)
	assert.True(t, at.Verified)

	list, err := h.recipients.List(h.ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestUpdateImpactScore(t *testing.T) {
	h := newHarness(t)
	rc := h.addRecipient(t, "NGO_A", "0.5", 50)
	require.False(t, rc.Verified)

	updated, err := h.recipients.UpdateImpactScore(h.ctx, rc.ID, 92, []string{"B Corp"}, Actor{Type: models.ActorTypeOracle, ID: validatorID})
	require.NoError(t, err)
	assert.True(t, updated.Verified)
	assert.Equal(t, "Excellent", updated.ImpactTier())

	stored, err := h.recipients.Get(h.ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, 92, stored.ImpactScore)
	assert.Equal(t, []string{"B Corp"}, stored.Certifications)
	assert.True(t, stored.EligibleForDistribution())

	_, err = h.recipients.UpdateImpactScore(h.ctx, rc.ID, 40, nil, Actor{})
	require.NoError(t, err)
	stored, err = h.recipients.Get(h.ctx, rc.ID)
	require.NoError(t, err)
	assert.False(t, stored.Verified)

	_, err = h.recipients.UpdateImpactScore(h.ctx, rc.ID, 120, nil, Actor{})
	assert.ErrorIs(t, err, ErrInvalidScore)

	_, err = h.recipients.UpdateImpactScore(h.ctx, uuid.New(), 80, nil, Actor{})
	assert.ErrorIs(t, err, ErrRecipientNotFound)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}
