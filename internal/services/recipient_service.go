package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/impact-escrow/backend/internal/ledger"
	"github.com/impact-escrow/backend/internal/models"
	"github.com/impact-escrow/backend/internal/repositories"
)

var maxWeight = decimal.NewFromInt(1)

type RegisterRecipientRequest struct {
	Name           string
	WalletAddress  string
	Category       string
	ImpactScore    int
	Weight         decimal.Decimal
	Certifications []string
	Website        *string
	Description    *string
	Actor          Actor
}

type RecipientService struct {
	recipients RecipientStore
	payer      ledger.Payer
	audit      AuditStore
	log        *zap.Logger
	now        func() time.Time
}

func NewRecipientService(recipients RecipientStore, payer ledger.Payer, audit AuditStore, log *zap.Logger) *RecipientService {
	return &RecipientService{recipients: recipients, payer: payer, audit: audit, log: log, now: time.Now}
}

func (s *RecipientService) Register(ctx context.Context, req RegisterRecipientRequest) (*models.Recipient, error) {
	if req.ImpactScore < 0 || req.ImpactScore > 100 {
		return nil, ErrInvalidScore
	}
	if req.Weight.IsNegative() || req.Weight.GreaterThan(maxWeight) {
		return nil, ErrInvalidWeight
	}
	if !models.ValidRecipientCategories[req.Category] {
		return nil, ErrInvalidCategory
	}
	if !s.payer.ValidAddress(req.WalletAddress) {
		return nil, ErrInvalidAddress
	}

	now := s.now()
	rc := &models.Recipient{
		ID:            uuid.New(),
		Name:          req.Name,
		WalletAddress: req.WalletAddress,
		Category:      req.Category,
		Weight:        req.Weight,
		TotalReceived: decimal.Zero,
		Website:       req.Website,
		Description:   req.Description,
		CreatedAt:     now,
	}
	rc.ApplyImpactScore(req.ImpactScore, req.Certifications, now)

	if err := s.recipients.Create(ctx, rc); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return nil, ErrRecipientExists
		}
		return nil, err
	}
	logAudit(ctx, s.audit, s.log, req.Actor, "recipient_registered", "recipient", rc.ID.String(), map[string]any{
		"name":         rc.Name,
		"impact_score": rc.ImpactScore,
		"weight":       rc.Weight.String(),
		"verified":     rc.Verified,
	})
	return rc, nil
}

// UpdateImpactScore applies an oracle score and re-derives verification.
func (s *RecipientService) UpdateImpactScore(ctx context.Context, id uuid.UUID, score int, certifications []string, actor Actor) (*models.Recipient, error) {
	if score < 0 || score > 100 {
		return nil, ErrInvalidScore
	}
	rc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := rc.Verified
	rc.ApplyImpactScore(score, certifications, s.now())

	if err := s.recipients.UpdateImpact(ctx, id, rc.ImpactScore, rc.Certifications, rc.Verified, rc.UpdatedAt); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}
	logAudit(ctx, s.audit, s.log, actor, "recipient_impact_updated", "recipient", id.String(), map[string]any{
		"impact_score":    score,
		"verified_before": before,
		"verified":        rc.Verified,
		"tier":            rc.ImpactTier(),
	})
	return rc, nil
}

func (s *RecipientService) Get(ctx context.Context, id uuid.UUID) (*models.Recipient, error) {
	rc, err := s.recipients.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}
	return rc, nil
}

func (s *RecipientService) List(ctx context.Context) ([]*models.Recipient, error) {
	return s.recipients.List(ctx)
}
