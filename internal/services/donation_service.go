package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/impact-escrow/backend/internal/events"
	"github.com/impact-escrow/backend/internal/ledger"
	"github.com/impact-escrow/backend/internal/metrics"
	"github.com/impact-escrow/backend/internal/models"
	"github.com/impact-escrow/backend/internal/repositories"
)

// DefaultMaxDonation caps a single donation.
var DefaultMaxDonation = decimal.NewFromInt(1_000_000)

const donorUpdateAttempts = 3

type DonorStore interface {
	Get(ctx context.Context, address string) (*models.Donor, error)
	Create(ctx context.Context, d *models.Donor) error
	Update(ctx context.Context, d *models.Donor) error
}

type DonateCommand struct {
	DonorAddress string
	Amount       decimal.Decimal
	Actor        Actor
}

type DonationResult struct {
	Donor            *models.Donor      `json:"donor"`
	Progression      models.Progression `json:"progression"`
	ConfirmationID   string             `json:"confirmation_id"`
	VotingPower      int64              `json:"voting_power"`
	CredentialIssued bool               `json:"credential_issued"`
}

type DonationService struct {
	donors      DonorStore
	pools       PoolStore
	payer       ledger.Payer
	audit       AuditStore
	publisher   events.Publisher
	metrics     *metrics.Metrics
	poolWallet  string
	maxDonation decimal.Decimal
	log         *zap.Logger
	now         func() time.Time
}

func NewDonationService(
	donors DonorStore,
	pools PoolStore,
	payer ledger.Payer,
	audit AuditStore,
	publisher events.Publisher,
	m *metrics.Metrics,
	poolWallet string,
	maxDonation decimal.Decimal,
	log *zap.Logger,
) *DonationService {
	if !maxDonation.IsPositive() {
		maxDonation = DefaultMaxDonation
	}
	return &DonationService{
		donors:      donors,
		pools:       pools,
		payer:       payer,
		audit:       audit,
		publisher:   publisher,
		metrics:     m,
		poolWallet:  poolWallet,
		maxDonation: maxDonation,
		log:         log,
		now:         time.Now,
	}
}

func (s *DonationService) WithClock(now func() time.Time) *DonationService {
	s.now = now
	return s
}

// Donate moves amount from the donor to the pool wallet, credits the pool and
// advances the donor's progression. The first donation issues the donor
// credential; crossing a level milestone emits an evolution event.
func (s *DonationService) Donate(ctx context.Context, cmd DonateCommand) (*DonationResult, error) {
	if !s.payer.ValidAddress(cmd.DonorAddress) {
		return nil, ErrInvalidAddress
	}
	if !cmd.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if cmd.Amount.GreaterThan(s.maxDonation) {
		return nil, ErrDonationTooLarge
	}

	start := time.Now()
	conf, err := s.payer.SubmitPayment(ctx, ledger.PaymentRequest{
		From:      cmd.DonorAddress,
		To:        s.poolWallet,
		Amount:    cmd.Amount,
		Reference: uuid.NewString(),
	})
	s.metrics.ObserveLedger(ledger.OpPayment, start, err)
	if err != nil {
		s.log.Warn("donation payment failed",
			zap.String("donor", cmd.DonorAddress),
			zap.Bool("transient", ledger.IsTransient(err)),
			zap.Error(err),
		)
		return nil, ledgerErr(ledger.OpPayment, err)
	}

	pool, err := s.pools.Ensure(ctx, s.poolWallet)
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	if _, err := s.pools.Credit(ctx, pool.ID, cmd.Amount); err != nil {
		s.log.Error("donation received on ledger but pool credit failed",
			zap.String("tx_id", conf.ConfirmationID), zap.String("amount", cmd.Amount.String()), zap.Error(err))
		return nil, fmt.Errorf("credit pool: %w", err)
	}

	donor, prog, issued, err := s.progress(ctx, cmd.DonorAddress, cmd.Amount)
	if err != nil {
		s.log.Error("donation recorded but donor progression failed",
			zap.String("donor", cmd.DonorAddress), zap.String("tx_id", conf.ConfirmationID), zap.Error(err))
		return nil, err
	}
	s.metrics.Donations.Inc()

	s.publish(ctx, events.EventDonationReceived, map[string]any{
		"donor":   donor.Address,
		"amount":  cmd.Amount.String(),
		"tx_id":   conf.ConfirmationID,
		"level":   donor.Level,
		"xp":      donor.XP.String(),
		"tier":    prog.Tier.Name,
		"rarity":  prog.Tier.Rarity,
		"donated": donor.TotalDonated.String(),
	})
	if issued {
		s.publish(ctx, events.EventCredentialIssued, map[string]any{
			"donor":        donor.Address,
			"dit_token_id": *donor.DITTokenID,
			"nft_token_id": *donor.NFTTokenID,
		})
	}
	if prog.Evolved {
		s.publish(ctx, events.EventDonorEvolved, map[string]any{
			"donor":        donor.Address,
			"milestone":    prog.Milestone,
			"level_before": prog.LevelBefore,
			"level_after":  prog.LevelAfter,
			"tier":         prog.Tier.Name,
		})
	}

	logAudit(ctx, s.audit, s.log, cmd.Actor, "donation_received", "donor", donor.Address, map[string]any{
		"amount":            cmd.Amount.String(),
		"tx_id":             conf.ConfirmationID,
		"level_before":      prog.LevelBefore,
		"level_after":       prog.LevelAfter,
		"credential_issued": issued,
	})

	return &DonationResult{
		Donor:            donor,
		Progression:      prog,
		ConfirmationID:   conf.ConfirmationID,
		VotingPower:      donor.VotingPower(),
		CredentialIssued: issued,
	}, nil
}

// progress applies the donation under an optimistic version check, rereading
// the donor on conflict. The ledger payment is never resubmitted.
func (s *DonationService) progress(ctx context.Context, address string, amount decimal.Decimal) (*models.Donor, models.Progression, bool, error) {
	for attempt := 0; attempt < donorUpdateAttempts; attempt++ {
		now := s.now()
		donor, err := s.donors.Get(ctx, address)
		created := false
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			donor = models.NewDonor(address, now)
			created = true
		case err != nil:
			return nil, models.Progression{}, false, err
		}

		prog := donor.AddDonation(amount, now)
		issued := false
		if donor.ShouldReceiveDIT() {
			dit := fmt.Sprintf("DIT_%s_%d", address, now.UnixMilli())
			donor.DITTokenID = &dit
			if donor.NFTTokenID == nil {
				nft := fmt.Sprintf("IMPACT_NFT_%s_%d", address, now.UnixMilli())
				donor.NFTTokenID = &nft
			}
			issued = true
		}

		if created {
			err = s.donors.Create(ctx, donor)
		} else {
			err = s.donors.Update(ctx, donor)
		}
		if errors.Is(err, repositories.ErrConflict) {
			s.log.Debug("donor update conflict, retrying", zap.String("donor", address), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, models.Progression{}, false, err
		}
		return donor, prog, issued, nil
	}
	return nil, models.Progression{}, false, ErrConcurrentUpdate
}

func (s *DonationService) Get(ctx context.Context, address string) (*models.Donor, error) {
	d, err := s.donors.Get(ctx, address)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrDonorNotFound
		}
		return nil, err
	}
	return d, nil
}

func (s *DonationService) publish(ctx context.Context, typ string, payload map[string]any) {
	if err := s.publisher.Publish(ctx, events.StreamDonor, events.Event{Type: typ, Payload: payload}); err != nil {
		s.log.Warn("publish donor event", zap.String("type", typ), zap.Error(err))
	}
}
