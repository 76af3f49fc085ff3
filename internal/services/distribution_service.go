package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
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

// DefaultPrecision is the payout precision in decimal places (drops).
const DefaultPrecision int32 = 6

type RecipientStore interface {
	Create(ctx context.Context, rc *models.Recipient) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recipient, error)
	List(ctx context.Context) ([]*models.Recipient, error)
	UpdateImpact(ctx context.Context, id uuid.UUID, score int, certifications []string, verified bool, at time.Time) error
	AddReceived(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
}

type DistributionStore interface {
	CreateBatch(ctx context.Context, b *models.DistributionBatch) error
	ConfirmRecord(ctx context.Context, id uuid.UUID, proofRef string, at time.Time) error
	FailRecord(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	CompleteBatch(ctx context.Context, id uuid.UUID, distributed, failed decimal.Decimal, at time.Time) error
	GetBatch(ctx context.Context, id uuid.UUID) (*models.DistributionBatch, error)
}

type PoolStore interface {
	Ensure(ctx context.Context, walletAddress string) (*models.Pool, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Pool, error)
	Debit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
}

// Allocation is one line of a distribution plan.
type Allocation struct {
	RecipientID   uuid.UUID       `json:"recipient_id"`
	WalletAddress string          `json:"wallet_address"`
	Amount        decimal.Decimal `json:"amount"`
}

// Plan splits profit across the eligible recipients proportionally to their
// weights. Shares are truncated to precision decimal places and the residual
// goes to the first recipient by id, so the amounts sum to profit exactly.
// Zero shares are left out.
func Plan(profit decimal.Decimal, recipients []*models.Recipient, precision int32) ([]Allocation, error) {
	if !profit.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !profit.Equal(profit.Truncate(precision)) {
		return nil, ErrAmountPrecision
	}

	eligible := make([]*models.Recipient, 0, len(recipients))
	total := decimal.Zero
	for _, rc := range recipients {
		if rc.EligibleForDistribution() {
			eligible = append(eligible, rc)
			total = total.Add(rc.Weight)
		}
	}
	if len(eligible) == 0 || !total.IsPositive() {
		return nil, ErrNoEligibleRecipients
	}
	sort.Slice(eligible, func(i, j int) bool {
		return bytes.Compare(eligible[i].ID[:], eligible[j].ID[:]) < 0
	})

	plan := make([]Allocation, len(eligible))
	sum := decimal.Zero
	for i, rc := range eligible {
		share, _ := profit.Mul(rc.Weight).QuoRem(total, precision)
		plan[i] = Allocation{RecipientID: rc.ID, WalletAddress: rc.WalletAddress, Amount: share}
		sum = sum.Add(share)
	}
	plan[0].Amount = plan[0].Amount.Add(profit.Sub(sum))

	out := plan[:0]
	for _, a := range plan {
		if a.Amount.IsPositive() {
			out = append(out, a)
		}
	}
	return out, nil
}

// PlanHash is the hex SHA-256 over "recipientId:amount" lines.
func PlanHash(plan []Allocation) string {
	var b strings.Builder
	for _, a := range plan {
		b.WriteString(a.RecipientID.String())
		b.WriteByte(':')
		b.WriteString(a.Amount.String())
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

type DistributionService struct {
	recipients RecipientStore
	batches    DistributionStore
	pools      PoolStore
	payer      ledger.Payer
	audit      AuditStore
	publisher  events.Publisher
	metrics    *metrics.Metrics
	poolWallet string
	precision  int32
	log        *zap.Logger
	now        func() time.Time
}

func NewDistributionService(
	recipients RecipientStore,
	batches DistributionStore,
	pools PoolStore,
	payer ledger.Payer,
	audit AuditStore,
	publisher events.Publisher,
	m *metrics.Metrics,
	poolWallet string,
	precision int32,
	log *zap.Logger,
) *DistributionService {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	return &DistributionService{
		recipients: recipients,
		batches:    batches,
		pools:      pools,
		payer:      payer,
		audit:      audit,
		publisher:  publisher,
		metrics:    m,
		poolWallet: poolWallet,
		precision:  precision,
		log:        log,
		now:        time.Now,
	}
}

// Run debits profit from the pool and pays every eligible recipient its
// share. Each payout is submitted once; failed payouts are recorded and
// their amounts credited back to the pool.
func (s *DistributionService) Run(ctx context.Context, profit decimal.Decimal, actor Actor) (*models.DistributionBatch, error) {
	recipients, err := s.recipients.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	plan, err := Plan(profit, recipients, s.precision)
	if err != nil {
		return nil, err
	}

	pool, err := s.pools.Ensure(ctx, s.poolWallet)
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	if _, err := s.pools.Debit(ctx, pool.ID, profit); err != nil {
		if errors.Is(err, repositories.ErrInsufficientBalance) {
			return nil, ErrInsufficientPoolBalance
		}
		return nil, fmt.Errorf("debit pool: %w", err)
	}

	now := s.now()
	batch := &models.DistributionBatch{
		ID:               uuid.New(),
		PoolID:           pool.ID,
		SourceAmount:     profit,
		TotalDistributed: decimal.Zero,
		TotalFailed:      decimal.Zero,
		PlanHash:         PlanHash(plan),
		CreatedAt:        now,
	}
	for _, a := range plan {
		batch.Records = append(batch.Records, models.DistributionRecord{
			ID:            uuid.New(),
			BatchID:       batch.ID,
			RecipientID:   a.RecipientID,
			WalletAddress: a.WalletAddress,
			Amount:        a.Amount,
			Status:        models.PayoutStatusPending,
			UpdatedAt:     now,
		})
	}
	if err := s.batches.CreateBatch(ctx, batch); err != nil {
		if _, cerr := s.pools.Credit(ctx, pool.ID, profit); cerr != nil {
			s.log.Error("failed to return debit after batch insert failure",
				zap.String("pool_id", pool.ID.String()), zap.String("amount", profit.String()), zap.Error(cerr))
		}
		return nil, fmt.Errorf("store batch: %w", err)
	}

	for i := range batch.Records {
		s.pay(ctx, batch, &batch.Records[i])
	}

	if batch.TotalFailed.IsPositive() {
		if _, err := s.pools.Credit(ctx, pool.ID, batch.TotalFailed); err != nil {
			s.log.Error("failed to credit failed payouts back to pool",
				zap.String("batch_id", batch.ID.String()), zap.String("amount", batch.TotalFailed.String()), zap.Error(err))
		}
	}

	completed := s.now()
	if err := s.batches.CompleteBatch(ctx, batch.ID, batch.TotalDistributed, batch.TotalFailed, completed); err != nil {
		return nil, fmt.Errorf("complete batch: %w", err)
	}
	batch.CompletedAt = &completed

	logAudit(ctx, s.audit, s.log, actor, "distribution_completed", "distribution_batch", batch.ID.String(), map[string]any{
		"source_amount":     profit.String(),
		"total_distributed": batch.TotalDistributed.String(),
		"total_failed":      batch.TotalFailed.String(),
		"plan_hash":         batch.PlanHash,
		"recipients":        len(batch.Records),
	})
	if err := s.publisher.Publish(ctx, events.StreamDistribution, events.Event{
		Type: events.EventDistributionCompleted,
		Payload: map[string]any{
			"batch_id":          batch.ID.String(),
			"total_distributed": batch.TotalDistributed.String(),
			"total_failed":      batch.TotalFailed.String(),
		},
	}); err != nil {
		s.log.Warn("publish distribution event", zap.String("batch_id", batch.ID.String()), zap.Error(err))
	}

	s.log.Info("distribution completed",
		zap.String("batch_id", batch.ID.String()),
		zap.String("distributed", batch.TotalDistributed.String()),
		zap.String("failed", batch.TotalFailed.String()),
	)
	return batch, nil
}

func (s *DistributionService) pay(ctx context.Context, batch *models.DistributionBatch, rec *models.DistributionRecord) {
	start := time.Now()
	conf, err := s.payer.SubmitPayment(ctx, ledger.PaymentRequest{
		From:      s.poolWallet,
		To:        rec.WalletAddress,
		Amount:    rec.Amount,
		Reference: rec.ID.String(),
	})
	s.metrics.ObserveLedger(ledger.OpPayment, start, err)
	now := s.now()

	if err != nil {
		reason := err.Error()
		if ferr := s.batches.FailRecord(ctx, rec.ID, reason, now); ferr != nil {
			s.log.Error("failed to mark payout failed", zap.String("record_id", rec.ID.String()), zap.Error(ferr))
		}
		rec.Status = models.PayoutStatusFailed
		rec.Error = &reason
		rec.UpdatedAt = now
		batch.TotalFailed = batch.TotalFailed.Add(rec.Amount)
		s.metrics.PayoutsTotal.WithLabelValues(models.PayoutStatusFailed).Inc()
		s.log.Warn("payout failed",
			zap.String("batch_id", batch.ID.String()),
			zap.String("recipient_id", rec.RecipientID.String()),
			zap.Bool("transient", ledger.IsTransient(err)),
			zap.Error(err),
		)
		return
	}

	if cerr := s.batches.ConfirmRecord(ctx, rec.ID, conf.ConfirmationID, now); cerr != nil {
		s.log.Error("payout confirmed on ledger but record update failed",
			zap.String("record_id", rec.ID.String()), zap.String("tx_id", conf.ConfirmationID), zap.Error(cerr))
	}
	if rerr := s.recipients.AddReceived(ctx, rec.RecipientID, rec.Amount); rerr != nil {
		s.log.Error("failed to update recipient total", zap.String("recipient_id", rec.RecipientID.String()), zap.Error(rerr))
	}
	rec.Status = models.PayoutStatusConfirmed
	rec.ProofRef = &conf.ConfirmationID
	rec.UpdatedAt = now
	batch.TotalDistributed = batch.TotalDistributed.Add(rec.Amount)
	s.metrics.PayoutsTotal.WithLabelValues(models.PayoutStatusConfirmed).Inc()
	s.metrics.DistributionAmount.Add(rec.Amount.InexactFloat64())
}

func (s *DistributionService) Get(ctx context.Context, id uuid.UUID) (*models.DistributionBatch, error) {
	b, err := s.batches.GetBatch(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return b, nil
}

// Pool returns the distribution pool, creating it on first use.
func (s *DistributionService) Pool(ctx context.Context) (*models.Pool, error) {
	return s.pools.Ensure(ctx, s.poolWallet)
}
