package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/impact-escrow/backend/internal/condition"
	"github.com/impact-escrow/backend/internal/events"
	"github.com/impact-escrow/backend/internal/ledger"
	"github.com/impact-escrow/backend/internal/metrics"
	"github.com/impact-escrow/backend/internal/models"
	"github.com/impact-escrow/backend/internal/repositories"
)

type EscrowStore interface {
	Create(ctx context.Context, e *models.Escrow) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error)
	Claim(ctx context.Context, id uuid.UUID, token string, now, until time.Time) error
	Unclaim(ctx context.Context, id uuid.UUID, token string) error
	MarkLocked(ctx context.Context, id uuid.UUID, owner string, sequence int64, txID string, at time.Time) error
	MarkReleased(ctx context.Context, id uuid.UUID, txID, proofHash string, at time.Time) error
	MarkCancelled(ctx context.Context, id uuid.UUID, from string, txID *string, at time.Time) error
	ListLockedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Escrow, error)
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
	ListForEntity(ctx context.Context, entityType, entityID string, limit int) ([]models.AuditLog, error)
}

// Actor is who triggered an operation, for the audit log.
type Actor struct {
	Type string
	ID   string
}

var systemActor = Actor{Type: models.ActorTypeSystem}

const (
	// DefaultClaimTTL bounds how long a crashed caller keeps an escrow claimed.
	DefaultClaimTTL = 2 * time.Minute
	claimRetry      = 25 * time.Millisecond

	milestoneTotal = 100
)

type CreateEscrowRequest struct {
	OwnerSeed   string
	Amount      decimal.Decimal
	Beneficiary string
	Deadline    time.Time
	NotBefore   *time.Time
	Actor       Actor
}

// Milestone is one tranche of a milestone escrow set. Deadline falls back to
// the request deadline when nil.
type Milestone struct {
	Percentage  decimal.Decimal
	Description string
	Deadline    *time.Time
}

type MilestoneEscrowRequest struct {
	OwnerSeed   string
	Amount      decimal.Decimal
	Beneficiary string
	Deadline    time.Time
	NotBefore   *time.Time
	Milestones  []Milestone
	Actor       Actor
}

type CancelRequest struct {
	// Abort is the owner cancelling before the deadline.
	Abort bool
	Actor Actor
}

// EscrowOutcome is the result of a release or cancel. AlreadyTerminal is set
// when the escrow was released or cancelled before this call; no ledger
// submission happened in that case.
type EscrowOutcome struct {
	Escrow          models.EscrowView `json:"escrow"`
	AlreadyTerminal bool              `json:"already_terminal"`
	ConfirmationID  string            `json:"confirmation_id,omitempty"`
}

type EscrowService struct {
	escrows   EscrowStore
	ledger    ledger.EscrowSubmitter
	secrets   *SecretKeeper
	audit     AuditStore
	publisher events.Publisher
	metrics   *metrics.Metrics
	grace     time.Duration
	claimTTL  time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func NewEscrowService(
	escrows EscrowStore,
	submitter ledger.EscrowSubmitter,
	secrets *SecretKeeper,
	audit AuditStore,
	publisher events.Publisher,
	m *metrics.Metrics,
	grace time.Duration,
	claimTTL time.Duration,
	log *zap.Logger,
) *EscrowService {
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	return &EscrowService{
		escrows:   escrows,
		ledger:    submitter,
		secrets:   secrets,
		audit:     audit,
		publisher: publisher,
		metrics:   m,
		grace:     grace,
		claimTTL:  claimTTL,
		log:       log,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Tests only.
func (s *EscrowService) WithClock(now func() time.Time) *EscrowService {
	s.now = now
	return s
}

// CreateConditionalEscrow generates a secret, stores the record and its
// sealed secret, then locks the value on the ledger. When the lock
// submission fails the record stays created: the returned view describes it
// alongside the error, and Fund can retry it.
func (s *EscrowService) CreateConditionalEscrow(ctx context.Context, req CreateEscrowRequest) (*models.EscrowView, error) {
	now := s.now()
	if req.OwnerSeed == "" {
		return nil, ErrInvalidOwner
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !req.Deadline.After(now) {
		return nil, ErrInvalidDeadline
	}
	if req.NotBefore != nil && !req.NotBefore.Before(req.Deadline) {
		return nil, ErrInvalidDeadline
	}
	if !s.ledger.ValidAddress(req.Beneficiary) {
		return nil, ErrInvalidAddress
	}

	secret, err := condition.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("create escrow: %w", err)
	}

	e := &models.Escrow{
		ID:          uuid.New(),
		Beneficiary: req.Beneficiary,
		Amount:      req.Amount,
		Commitment:  condition.CommitmentOf(secret),
		NotBefore:   req.NotBefore,
		Deadline:    req.Deadline,
		Status:      models.EscrowStatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.escrows.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("store escrow: %w", err)
	}
	if err := s.secrets.Register(ctx, e.ID, secret); err != nil {
		if cerr := s.escrows.MarkCancelled(ctx, e.ID, models.EscrowStatusCreated, nil, s.now()); cerr != nil {
			s.log.Error("cancel escrow after secret store failure", zap.String("escrow_id", e.ID.String()), zap.Error(cerr))
		}
		return nil, fmt.Errorf("register secret: %w", err)
	}

	s.record(ctx, req.Actor, "escrow_created", e, map[string]any{
		"amount":      e.Amount.String(),
		"beneficiary": e.Beneficiary,
		"deadline":    e.Deadline,
		"condition":   e.Commitment.String(),
	})
	s.metrics.EscrowTransitions.WithLabelValues(models.EscrowStatusCreated).Inc()

	_, drop, err := s.claim(ctx, e.ID)
	if err != nil {
		view := models.NewEscrowView(e, s.now(), s.grace)
		return &view, fmt.Errorf("escrow %s left unfunded: %w", e.ID, err)
	}
	defer drop()

	err = s.fund(ctx, e, req.OwnerSeed, req.Actor)
	view := models.NewEscrowView(e, s.now(), s.grace)
	if err != nil {
		return &view, fmt.Errorf("escrow %s left unfunded: %w", e.ID, err)
	}
	return &view, nil
}

// CreateMilestoneEscrows splits one amount into an escrow per milestone, each
// with its own secret. Percentages must add up to exactly 100. Shares are
// truncated to the ledger precision and the remainder goes to the first
// milestone. Escrows are created in order; on failure the views created so
// far are returned with the error.
func (s *EscrowService) CreateMilestoneEscrows(ctx context.Context, req MilestoneEscrowRequest) ([]models.EscrowView, error) {
	if len(req.Milestones) == 0 {
		return nil, ErrInvalidMilestones
	}
	if req.OwnerSeed == "" {
		return nil, ErrInvalidOwner
	}
	if !s.ledger.ValidAddress(req.Beneficiary) {
		return nil, ErrInvalidAddress
	}
	percents := make([]decimal.Decimal, len(req.Milestones))
	for i, m := range req.Milestones {
		if !m.Percentage.IsPositive() {
			return nil, ErrInvalidMilestones
		}
		percents[i] = m.Percentage
	}
	shares, err := SplitByPercent(req.Amount, percents, DefaultPrecision)
	if err != nil {
		return nil, err
	}

	now := s.now()
	reqs := make([]CreateEscrowRequest, len(req.Milestones))
	for i, m := range req.Milestones {
		deadline := req.Deadline
		if m.Deadline != nil {
			deadline = *m.Deadline
		}
		if !deadline.After(now) || (req.NotBefore != nil && !req.NotBefore.Before(deadline)) {
			return nil, ErrInvalidDeadline
		}
		reqs[i] = CreateEscrowRequest{
			OwnerSeed:   req.OwnerSeed,
			Amount:      shares[i],
			Beneficiary: req.Beneficiary,
			Deadline:    deadline,
			NotBefore:   req.NotBefore,
			Actor:       req.Actor,
		}
	}

	views := make([]models.EscrowView, 0, len(reqs))
	for i, r := range reqs {
		view, err := s.CreateConditionalEscrow(ctx, r)
		if view != nil {
			views = append(views, *view)
		}
		if err != nil {
			return views, fmt.Errorf("milestone %d of %d: %w", i+1, len(reqs), err)
		}
		s.log.Info("milestone escrow created",
			zap.String("escrow_id", view.ID.String()),
			zap.String("milestone", req.Milestones[i].Description),
			zap.String("amount", view.Amount.String()),
		)
	}
	return views, nil
}

// SplitByPercent splits amount by percentages that must total 100. Shares
// are truncated to precision decimals and the residual goes to the first
// share, so the shares always add up to amount.
func SplitByPercent(amount decimal.Decimal, percents []decimal.Decimal, precision int32) ([]decimal.Decimal, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	hundred := decimal.NewFromInt(milestoneTotal)
	total := decimal.Zero
	for _, p := range percents {
		total = total.Add(p)
	}
	if !total.Equal(hundred) {
		return nil, fmt.Errorf("%w: milestone percentages total %s", ErrInvalidAmount, total)
	}

	shares := make([]decimal.Decimal, len(percents))
	sum := decimal.Zero
	for i, p := range percents {
		shares[i] = amount.Mul(p).Div(hundred).Truncate(precision)
		sum = sum.Add(shares[i])
	}
	shares[0] = shares[0].Add(amount.Sub(sum))
	for _, sh := range shares {
		if !sh.IsPositive() {
			return nil, fmt.Errorf("%w: milestone share rounds to zero", ErrInvalidAmount)
		}
	}
	return shares, nil
}

// Fund retries the ledger lock of an escrow still in created state.
func (s *EscrowService) Fund(ctx context.Context, id uuid.UUID, ownerSeed string) (*models.EscrowView, error) {
	if ownerSeed == "" {
		return nil, ErrInvalidOwner
	}
	e, drop, err := s.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	defer drop()

	if !models.IsValidEscrowTransition(e.Status, models.EscrowStatusLocked) {
		return nil, ErrNotCreated
	}
	if e.DeadlinePassed(s.now()) {
		return nil, ErrDeadlineElapsed
	}
	if err := s.fund(ctx, e, ownerSeed, systemActor); err != nil {
		return nil, err
	}
	view := models.NewEscrowView(e, s.now(), s.grace)
	return &view, nil
}

func (s *EscrowService) fund(ctx context.Context, e *models.Escrow, ownerSeed string, actor Actor) error {
	lctx, cancel := s.ledgerContext(ctx)
	defer cancel()
	start := time.Now()
	conf, err := s.ledger.SubmitLock(lctx, ledger.LockRequest{
		OwnerSeed:   ownerSeed,
		Amount:      e.Amount,
		Condition:   e.Commitment.Binary(),
		Beneficiary: e.Beneficiary,
		FinishAfter: e.NotBefore,
		CancelAfter: e.Deadline,
		Reference:   e.ID.String(),
	})
	s.metrics.ObserveLedger(ledger.OpLock, start, err)
	if err != nil {
		s.log.Warn("escrow lock submission failed",
			zap.String("escrow_id", e.ID.String()),
			zap.Bool("transient", ledger.IsTransient(err)),
			zap.Error(err),
		)
		return ledgerErr(ledger.OpLock, err)
	}

	now := s.now()
	if err := s.escrows.MarkLocked(ctx, e.ID, conf.Owner, conf.Sequence, conf.ConfirmationID, now); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return ErrConcurrentUpdate
		}
		s.log.Error("escrow locked on ledger but record update failed",
			zap.String("escrow_id", e.ID.String()),
			zap.String("tx_id", conf.ConfirmationID),
			zap.Error(err),
		)
		return err
	}
	e.Status = models.EscrowStatusLocked
	e.OwnerAddress = conf.Owner
	e.Sequence = &conf.Sequence
	e.CreateTxID = &conf.ConfirmationID
	e.UpdatedAt = now

	s.transitioned(ctx, actor, e, models.EscrowStatusCreated)
	return nil
}

// Release consumes a proof and releases a locked escrow to its beneficiary.
func (s *EscrowService) Release(ctx context.Context, proof models.ReleaseProof) (*EscrowOutcome, error) {
	return s.release(ctx, proof, systemActor)
}

func (s *EscrowService) release(ctx context.Context, proof models.ReleaseProof, actor Actor) (*EscrowOutcome, error) {
	e, drop, err := s.claim(ctx, proof.EscrowID)
	if err != nil {
		return nil, err
	}
	defer drop()

	// A wrong secret fails even when the escrow is already terminal.
	if !condition.Verify(proof.Secret, e.Commitment) {
		s.metrics.IntegrityFailures.WithLabelValues("commitment").Inc()
		s.log.Warn("release proof does not match commitment",
			zap.String("escrow_id", e.ID.String()),
			zap.String("actor", actor.ID),
			zap.Bool("security", true),
		)
		return nil, ErrCommitmentMismatch
	}
	if e.IsTerminal() {
		return s.terminal(e), nil
	}
	if !models.IsValidEscrowTransition(e.Status, models.EscrowStatusReleased) {
		return nil, ErrNotLocked
	}
	now := s.now()
	if !e.ReleaseOpen(now) {
		if e.DeadlinePassed(now) {
			return nil, ErrDeadlineElapsed
		}
		return nil, ErrNotYetReleasable
	}

	fulfillment := condition.ProofOf(proof.Secret)
	lctx, cancel := s.ledgerContext(ctx)
	defer cancel()
	start := time.Now()
	conf, err := s.ledger.SubmitUnlock(lctx, ledger.UnlockRequest{
		Owner:       e.OwnerAddress,
		Sequence:    *e.Sequence,
		Condition:   e.Commitment.Binary(),
		Fulfillment: fulfillment.Binary(),
	})
	s.metrics.ObserveLedger(ledger.OpUnlock, start, err)
	if err != nil {
		s.log.Warn("escrow unlock submission failed",
			zap.String("escrow_id", e.ID.String()),
			zap.Bool("transient", ledger.IsTransient(err)),
			zap.Error(err),
		)
		return nil, ledgerErr(ledger.OpUnlock, err)
	}

	now = s.now()
	proofHash := fulfillment.AuditHash()
	if err := s.escrows.MarkReleased(ctx, e.ID, conf.ConfirmationID, proofHash, now); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return s.reread(ctx, e.ID)
		}
		s.log.Error("escrow released on ledger but record update failed",
			zap.String("escrow_id", e.ID.String()),
			zap.String("tx_id", conf.ConfirmationID),
			zap.Error(err),
		)
		return nil, err
	}
	e.Status = models.EscrowStatusReleased
	e.FinishTxID = &conf.ConfirmationID
	e.ProofHash = &proofHash
	e.UpdatedAt = now
	s.forget(ctx, e.ID)

	s.transitioned(ctx, actor, e, models.EscrowStatusLocked)
	return &EscrowOutcome{
		Escrow:         models.NewEscrowView(e, now, s.grace),
		ConfirmationID: conf.ConfirmationID,
	}, nil
}

// Cancel returns the escrowed value to the owner. A locked escrow needs the
// deadline to have passed unless req.Abort is set. A created escrow that
// never reached the ledger is cancelled locally.
func (s *EscrowService) Cancel(ctx context.Context, id uuid.UUID, req CancelRequest) (*EscrowOutcome, error) {
	e, drop, err := s.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	defer drop()

	if e.IsTerminal() {
		return s.terminal(e), nil
	}
	from := e.Status
	if !models.IsValidEscrowTransition(from, models.EscrowStatusCancelled) {
		return nil, ErrNotLocked
	}

	now := s.now()
	var txID *string
	if from == models.EscrowStatusLocked {
		if !req.Abort && !e.DeadlinePassed(now) {
			return nil, ErrCancelNotAllowed
		}
		lctx, cancel := s.ledgerContext(ctx)
		defer cancel()
		start := time.Now()
		conf, err := s.ledger.SubmitCancel(lctx, ledger.CancelRequest{Owner: e.OwnerAddress, Sequence: *e.Sequence})
		s.metrics.ObserveLedger(ledger.OpCancel, start, err)
		if err != nil {
			s.log.Warn("escrow cancel submission failed",
				zap.String("escrow_id", e.ID.String()),
				zap.Bool("transient", ledger.IsTransient(err)),
				zap.Error(err),
			)
			return nil, ledgerErr(ledger.OpCancel, err)
		}
		txID = &conf.ConfirmationID
	}

	now = s.now()
	if err := s.escrows.MarkCancelled(ctx, e.ID, from, txID, now); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return s.reread(ctx, e.ID)
		}
		return nil, err
	}
	e.Status = models.EscrowStatusCancelled
	e.CancelTxID = txID
	e.UpdatedAt = now
	s.forget(ctx, e.ID)

	actor := req.Actor
	if actor.Type == "" {
		actor = systemActor
	}
	s.transitioned(ctx, actor, e, from)

	out := &EscrowOutcome{Escrow: models.NewEscrowView(e, now, s.grace)}
	if txID != nil {
		out.ConfirmationID = *txID
	}
	return out, nil
}

// CancelExpired cancels a locked escrow whose deadline has passed.
func (s *EscrowService) CancelExpired(ctx context.Context, id uuid.UUID, actor Actor) (*EscrowOutcome, error) {
	return s.Cancel(ctx, id, CancelRequest{Actor: actor})
}

func (s *EscrowService) Get(ctx context.Context, id uuid.UUID) (*models.EscrowView, error) {
	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	view := models.NewEscrowView(e, s.now(), s.grace)
	return &view, nil
}

// AuditTrail returns the newest audit entries recorded for an escrow.
func (s *EscrowService) AuditTrail(ctx context.Context, id uuid.UUID, limit int) ([]models.AuditLog, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.ListForEntity(ctx, "escrow", id.String(), limit)
}

// ListStuck returns locked escrows past deadline plus grace, oldest first.
func (s *EscrowService) ListStuck(ctx context.Context, limit int) ([]models.EscrowView, error) {
	now := s.now()
	list, err := s.escrows.ListLockedBefore(ctx, now.Add(-s.grace), limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.EscrowView, 0, len(list))
	for _, e := range list {
		out = append(out, models.NewEscrowView(e, now, s.grace))
	}
	return out, nil
}

func (s *EscrowService) load(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	e, err := s.escrows.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrEscrowNotFound
		}
		return nil, err
	}
	return e, nil
}

func (s *EscrowService) terminal(e *models.Escrow) *EscrowOutcome {
	return &EscrowOutcome{Escrow: models.NewEscrowView(e, s.now(), s.grace), AlreadyTerminal: true}
}

// reread resolves a lost compare-and-set: someone else moved the record.
func (s *EscrowService) reread(ctx context.Context, id uuid.UUID) (*EscrowOutcome, error) {
	e, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.IsTerminal() {
		return s.terminal(e), nil
	}
	return nil, ErrConcurrentUpdate
}

func (s *EscrowService) transitioned(ctx context.Context, actor Actor, e *models.Escrow, from string) {
	s.metrics.EscrowTransitions.WithLabelValues(e.Status).Inc()
	s.record(ctx, actor, fmt.Sprintf("escrow_%s_to_%s", from, e.Status), e, map[string]any{
		"old_status": from,
		"new_status": e.Status,
	})

	if err := s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventEscrowStatusChanged,
		Payload: map[string]any{
			"escrow_id":  e.ID.String(),
			"old_status": from,
			"new_status": e.Status,
		},
	}); err != nil {
		s.log.Warn("publish escrow event", zap.String("escrow_id", e.ID.String()), zap.Error(err))
	}

	s.log.Info("escrow transition",
		zap.String("escrow_id", e.ID.String()),
		zap.String("from", from),
		zap.String("to", e.Status),
	)
}

func (s *EscrowService) record(ctx context.Context, actor Actor, action string, e *models.Escrow, meta map[string]any) {
	logAudit(ctx, s.audit, s.log, actor, action, "escrow", e.ID.String(), meta)
}

// claim takes the record lease that serializes ledger submissions for one
// escrow. Callers that lose wait for the lease; if the escrow turns terminal
// meanwhile it is returned without a lease.
func (s *EscrowService) claim(ctx context.Context, id uuid.UUID) (*models.Escrow, func(), error) {
	token := uuid.NewString()
	for {
		now := time.Now()
		err := s.escrows.Claim(ctx, id, token, now, now.Add(s.claimTTL))
		if err == nil {
			drop := func() {
				if err := s.escrows.Unclaim(context.WithoutCancel(ctx), id, token); err != nil {
					s.log.Warn("failed to drop escrow claim", zap.String("escrow_id", id.String()), zap.Error(err))
				}
			}
			e, err := s.load(ctx, id)
			if err != nil {
				drop()
				return nil, nil, err
			}
			return e, drop, nil
		}
		if !errors.Is(err, repositories.ErrConflict) {
			return nil, nil, err
		}

		e, err := s.load(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if e.IsTerminal() {
			return e, func() {}, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil, ErrConcurrentUpdate
		case <-time.After(claimRetry):
		}
	}
}

// ledgerContext bounds one submission to half the claim lease, so the lease
// never lapses while its holder is still waiting on the ledger.
func (s *EscrowService) ledgerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.claimTTL/2)
}

func (s *EscrowService) forget(ctx context.Context, id uuid.UUID) {
	if err := s.secrets.Forget(ctx, id); err != nil {
		s.log.Warn("failed to drop escrow secret", zap.String("escrow_id", id.String()), zap.Error(err))
	}
}

func logAudit(ctx context.Context, store AuditStore, log *zap.Logger, actor Actor, action, entityType, entityID string, meta map[string]any) {
	if actor.Type == "" {
		actor = systemActor
	}
	entry := models.AuditLog{
		ActorType:  actor.Type,
		Action:     action,
		EntityType: entityType,
		EntityID:   &entityID,
		Meta:       meta,
	}
	if actor.ID != "" {
		entry.ActorID = &actor.ID
	}
	if err := store.Log(ctx, entry); err != nil {
		log.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}
