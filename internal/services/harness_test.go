package services

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/impact-escrow/backend/internal/condition"
	"github.com/impact-escrow/backend/internal/events"
	"github.com/impact-escrow/backend/internal/ledger"
	"github.com/impact-escrow/backend/internal/metrics"
	"github.com/impact-escrow/backend/internal/models"
	"github.com/impact-escrow/backend/internal/oracle"
	"github.com/impact-escrow/backend/internal/repositories"
	"github.com/impact-escrow/backend/internal/vault"
)

const validatorID = "validator-1"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// harness wires every service against in-memory stores and the simulated
// ledger, sharing one clock.
type harness struct {
	ctx     context.Context
	clock   *fakeClock
	ledger  *ledger.Simulated
	metrics *metrics.Metrics
	events  *events.MemoryPublisher

	escrowRepo    *repositories.MemoryEscrowRepo
	secretRepo    *repositories.MemorySecretRepo
	verdictRepo   *repositories.MemoryVerdictRepo
	recipientRepo *repositories.MemoryRecipientRepo
	batchRepo     *repositories.MemoryDistributionRepo
	poolRepo      *repositories.MemoryPoolRepo
	donorRepo     *repositories.MemoryDonorRepo
	auditRepo     *repositories.MemoryAuditRepo

	keeper     *SecretKeeper
	escrows    *EscrowService
	gate       *OracleGate
	dist       *DistributionService
	donations  *DonationService
	recipients *RecipientService

	validatorKey ed25519.PrivateKey
	poolWallet   string
	beneficiary  string
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	requireSignature bool
	verifier         oracle.Verifier
}

func withRequiredSignature() harnessOption {
	return func(c *harnessConfig) { c.requireSignature = true }
}

func withVerifier(v oracle.Verifier) harnessOption {
	return func(c *harnessConfig) { c.verifier = v }
}

func newHarness(t require.TestingT, opts ...harnessOption) *harness {
	var cfg harnessConfig
	for _, o := range opts {
		o(&cfg)
	}

	h := &harness{
		ctx:           context.Background(),
		clock:         &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)},
		metrics:       metrics.New(prometheus.NewRegistry()),
		events:        events.NewMemoryPublisher(),
		escrowRepo:    repositories.NewMemoryEscrowRepo(),
		secretRepo:    repositories.NewMemorySecretRepo(),
		verdictRepo:   repositories.NewMemoryVerdictRepo(),
		recipientRepo: repositories.NewMemoryRecipientRepo(),
		batchRepo:     repositories.NewMemoryDistributionRepo(),
		poolRepo:      repositories.NewMemoryPoolRepo(),
		donorRepo:     repositories.NewMemoryDonorRepo(),
		auditRepo:     repositories.NewMemoryAuditRepo(),
		poolWallet:    ledger.AddressFromSeed("pool"),
		beneficiary:   ledger.AddressFromSeed("beneficiary"),
	}
	h.ledger = ledger.NewSimulated().WithClock(h.clock.Now)

	key, err := vault.GenerateKey()
	require.NoError(t, err)
	sealer, err := vault.New(key)
	require.NoError(t, err)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	h.validatorKey = priv

	log := zap.NewNop()

	h.keeper = NewSecretKeeper(h.secretRepo, sealer)
	h.escrows = NewEscrowService(h.escrowRepo, h.ledger, h.keeper, h.auditRepo, h.events, h.metrics, time.Hour, 0, log).
		WithClock(h.clock.Now)
	h.gate = NewOracleGate(h.escrows, h.keeper, h.verdictRepo, cfg.verifier,
		oracle.Validators{validatorID: pub}, cfg.requireSignature, h.events, h.metrics, log).
		WithClock(h.clock.Now)
	h.dist = NewDistributionService(h.recipientRepo, h.batchRepo, h.poolRepo, h.ledger, h.auditRepo, h.events, h.metrics,
		h.poolWallet, DefaultPrecision, log)
	h.donations = NewDonationService(h.donorRepo, h.poolRepo, h.ledger, h.auditRepo, h.events, h.metrics,
		h.poolWallet, decimal.Zero, log).WithClock(h.clock.Now)
	h.recipients = NewRecipientService(h.recipientRepo, h.ledger, h.auditRepo, log)
	return h
}

// createEscrow goes through the public entry point with a random secret.
func (h *harness) createEscrow(t require.TestingT, amount string, ttl time.Duration) *models.EscrowView {
	view, err := h.escrows.CreateConditionalEscrow(h.ctx, CreateEscrowRequest{
		OwnerSeed:   "owner-seed",
		Amount:      decimal.RequireFromString(amount),
		Beneficiary: h.beneficiary,
		Deadline:    h.clock.Now().Add(ttl),
	})
	require.NoError(t, err)
	return view
}

// lockWithSecret stores and locks an escrow whose commitment is derived from
// a caller-chosen secret.
func (h *harness) lockWithSecret(t require.TestingT, secret condition.Secret, ttl time.Duration) uuid.UUID {
	now := h.clock.Now()
	e := &models.Escrow{
		ID:          uuid.New(),
		Beneficiary: h.beneficiary,
		Amount:      decimal.NewFromInt(25),
		Commitment:  condition.CommitmentOf(secret),
		Deadline:    now.Add(ttl),
		Status:      models.EscrowStatusCreated,
		CreatedAt:   now,
	}
	require.NoError(t, h.escrowRepo.Create(h.ctx, e))
	require.NoError(t, h.keeper.Register(h.ctx, e.ID, secret))

	conf, err := h.ledger.SubmitLock(h.ctx, ledger.LockRequest{
		OwnerSeed:   "owner-seed",
		Amount:      e.Amount,
		Condition:   e.Commitment.Binary(),
		Beneficiary: e.Beneficiary,
		CancelAfter: e.Deadline,
		Reference:   e.ID.String(),
	})
	require.NoError(t, err)
	require.NoError(t, h.escrowRepo.MarkLocked(h.ctx, e.ID, conf.Owner, conf.Sequence, conf.ConfirmationID, now))
	return e.ID
}

func (h *harness) secretOf(t require.TestingT, id uuid.UUID) condition.Secret {
	s, err := h.keeper.Load(h.ctx, id)
	require.NoError(t, err)
	return s
}

func (h *harness) fundPool(t require.TestingT, amount string) *models.Pool {
	p, err := h.poolRepo.Ensure(h.ctx, h.poolWallet)
	require.NoError(t, err)
	_, err = h.poolRepo.Credit(h.ctx, p.ID, decimal.RequireFromString(amount))
	require.NoError(t, err)
	return p
}

func (h *harness) poolBalance(t require.TestingT) decimal.Decimal {
	p, err := h.poolRepo.Ensure(h.ctx, h.poolWallet)
	require.NoError(t, err)
	return p.Balance
}

func (h *harness) addRecipient(t require.TestingT, name, weight string, score int) *models.Recipient {
	rc, err := h.recipients.Register(h.ctx, RegisterRecipientRequest{
		Name:          name,
		WalletAddress: ledger.AddressFromSeed(name),
		Category:      models.RecipientCategoryClimate,
		ImpactScore:   score,
		Weight:        decimal.RequireFromString(weight),
	})
	require.NoError(t, err)
	return rc
}

// approval builds a signed approving verdict over evidence.
func (h *harness) approval(id uuid.UUID, evidence []byte) VerdictSubmission {
	hash := oracle.HashEvidence(evidence)
	return VerdictSubmission{
		Approved:          true,
		EvidenceHash:      hash,
		ValidatorIdentity: validatorID,
		Evidence:          evidence,
		Signature:         oracle.Sign(h.validatorKey, id.String(), true, hash),
		Caller:            validatorID,
	}
}
