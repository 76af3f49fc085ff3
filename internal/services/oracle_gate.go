package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/impact-escrow/backend/internal/events"
	"github.com/impact-escrow/backend/internal/metrics"
	"github.com/impact-escrow/backend/internal/models"
	"github.com/impact-escrow/backend/internal/oracle"
)

type VerdictStore interface {
	Create(ctx context.Context, v *models.Verdict) error
	ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.Verdict, error)
}

// VerdictSubmission is an oracle verdict as received. Caller is the
// authenticated principal; when set it must equal ValidatorIdentity.
type VerdictSubmission struct {
	Approved          bool
	EvidenceHash      string
	ValidatorIdentity string
	Evidence          []byte
	Signature         string
	Caller            string
}

type VerdictResult struct {
	Outcome        string            `json:"outcome"`
	Escrow         models.EscrowView `json:"escrow"`
	ConfirmationID string            `json:"confirmation_id,omitempty"`
}

// OracleGate reveals an escrow secret only after an authenticated, approving
// verdict whose evidence hash checks out.
type OracleGate struct {
	escrows          *EscrowService
	secrets          *SecretKeeper
	verdicts         VerdictStore
	verifier         oracle.Verifier
	validators       oracle.Validators
	requireSignature bool
	publisher        events.Publisher
	metrics          *metrics.Metrics
	log              *zap.Logger
	now              func() time.Time
}

func NewOracleGate(
	escrows *EscrowService,
	secrets *SecretKeeper,
	verdicts VerdictStore,
	verifier oracle.Verifier,
	validators oracle.Validators,
	requireSignature bool,
	publisher events.Publisher,
	m *metrics.Metrics,
	log *zap.Logger,
) *OracleGate {
	return &OracleGate{
		escrows:          escrows,
		secrets:          secrets,
		verdicts:         verdicts,
		verifier:         verifier,
		validators:       validators,
		requireSignature: requireSignature,
		publisher:        publisher,
		metrics:          m,
		log:              log,
		now:              time.Now,
	}
}

func (g *OracleGate) WithClock(now func() time.Time) *OracleGate {
	g.now = now
	return g
}

// SubmitVerdict processes one verdict. Approvals for the same escrow
// serialize on the escrow claim taken by release; an approval for an escrow
// that is already terminal is a no-op.
func (g *OracleGate) SubmitVerdict(ctx context.Context, escrowID uuid.UUID, sub VerdictSubmission) (*VerdictResult, error) {
	if sub.ValidatorIdentity == "" || sub.EvidenceHash == "" {
		return nil, ErrInvalidVerdict
	}

	view, err := g.escrows.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if view.IsTerminal() {
		g.record(ctx, escrowID, sub, models.VerdictOutcomeAlreadyDone)
		return &VerdictResult{Outcome: models.VerdictOutcomeAlreadyDone, Escrow: *view}, nil
	}

	if !oracle.EvidenceMatches(sub.Evidence, sub.EvidenceHash) {
		g.integrityFailure(escrowID, sub, "evidence")
		g.record(ctx, escrowID, sub, models.VerdictOutcomeForged)
		return nil, ErrEvidenceIntegrity
	}
	if sub.Caller != "" && sub.Caller != sub.ValidatorIdentity {
		g.integrityFailure(escrowID, sub, "validator_identity")
		return nil, ErrValidatorMismatch
	}
	if g.requireSignature || sub.Signature != "" {
		if err := g.validators.Verify(sub.ValidatorIdentity, escrowID.String(), sub.Approved, sub.EvidenceHash, sub.Signature); err != nil {
			g.integrityFailure(escrowID, sub, "signature")
			g.record(ctx, escrowID, sub, models.VerdictOutcomeBadSignature)
			return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
	}

	if !sub.Approved {
		g.record(ctx, escrowID, sub, models.VerdictOutcomeRejected)
		return &VerdictResult{Outcome: models.VerdictOutcomeRejected, Escrow: *view}, nil
	}
	if view.DeadlinePassed(g.now()) {
		g.record(ctx, escrowID, sub, models.VerdictOutcomeWindowClosed)
		return nil, ErrDeadlineElapsed
	}

	secret, err := g.secrets.Load(ctx, escrowID)
	if err != nil {
		// A concurrent approval may have released and dropped the secret.
		if again, gerr := g.escrows.Get(ctx, escrowID); gerr == nil && again.IsTerminal() {
			g.record(ctx, escrowID, sub, models.VerdictOutcomeAlreadyDone)
			return &VerdictResult{Outcome: models.VerdictOutcomeAlreadyDone, Escrow: *again}, nil
		}
		g.log.Error("escrow secret unavailable", zap.String("escrow_id", escrowID.String()), zap.Error(err))
		g.record(ctx, escrowID, sub, models.VerdictOutcomeReleaseFailed)
		return nil, err
	}

	out, err := g.escrows.release(ctx, models.ReleaseProof{EscrowID: escrowID, Secret: secret},
		Actor{Type: models.ActorTypeOracle, ID: sub.ValidatorIdentity})
	if err != nil {
		g.record(ctx, escrowID, sub, models.VerdictOutcomeReleaseFailed)
		return nil, err
	}
	if out.AlreadyTerminal {
		g.record(ctx, escrowID, sub, models.VerdictOutcomeAlreadyDone)
		return &VerdictResult{Outcome: models.VerdictOutcomeAlreadyDone, Escrow: out.Escrow}, nil
	}

	g.record(ctx, escrowID, sub, models.VerdictOutcomeReleased)
	return &VerdictResult{
		Outcome:        models.VerdictOutcomeReleased,
		Escrow:         out.Escrow,
		ConfirmationID: out.ConfirmationID,
	}, nil
}

// Evaluate asks the configured verifier for a verdict on evidence and
// submits it.
func (g *OracleGate) Evaluate(ctx context.Context, escrowID uuid.UUID, evidence []byte) (*VerdictResult, error) {
	if g.verifier == nil {
		return nil, ErrOracleUnavailable
	}
	view, err := g.escrows.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	v, err := g.verifier.Verify(ctx, oracle.VerificationRequest{
		EscrowID:    escrowID.String(),
		Beneficiary: view.Beneficiary,
		Evidence:    evidence,
	})
	if err != nil {
		if errors.Is(err, oracle.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
		}
		return nil, err
	}
	return g.SubmitVerdict(ctx, escrowID, VerdictSubmission{
		Approved:          v.Approved,
		EvidenceHash:      v.EvidenceHash,
		ValidatorIdentity: v.ValidatorIdentity,
		Evidence:          evidence,
		Signature:         v.Signature,
	})
}

func (g *OracleGate) Verdicts(ctx context.Context, escrowID uuid.UUID) ([]models.Verdict, error) {
	return g.verdicts.ListByEscrow(ctx, escrowID)
}

func (g *OracleGate) integrityFailure(escrowID uuid.UUID, sub VerdictSubmission, kind string) {
	g.metrics.IntegrityFailures.WithLabelValues(kind).Inc()
	g.log.Warn("verdict integrity check failed",
		zap.String("escrow_id", escrowID.String()),
		zap.String("kind", kind),
		zap.String("validator", sub.ValidatorIdentity),
		zap.String("caller", sub.Caller),
		zap.Bool("security", true),
	)
}

func (g *OracleGate) record(ctx context.Context, escrowID uuid.UUID, sub VerdictSubmission, outcome string) {
	g.metrics.Verdicts.WithLabelValues(outcome).Inc()
	v := &models.Verdict{
		ID:                uuid.New(),
		EscrowID:          escrowID,
		Approved:          sub.Approved,
		EvidenceHash:      sub.EvidenceHash,
		ValidatorIdentity: sub.ValidatorIdentity,
		Outcome:           outcome,
		CreatedAt:         g.now(),
	}
	if err := g.verdicts.Create(ctx, v); err != nil {
		g.log.Warn("failed to store verdict", zap.String("escrow_id", escrowID.String()), zap.Error(err))
	}
	if err := g.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventVerdictRecorded,
		Payload: map[string]any{
			"escrow_id": escrowID.String(),
			"approved":  sub.Approved,
			"outcome":   outcome,
		},
	}); err != nil {
		g.log.Warn("publish verdict event", zap.String("escrow_id", escrowID.String()), zap.Error(err))
	}
}
