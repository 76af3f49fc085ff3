package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/impact-escrow/backend/internal/models"
)

// In-memory stores with the same semantics as the Postgres repositories.
// Used by tests and by the api binary when DATABASE_URL is unset.

type escrowClaim struct {
	token string
	until time.Time
}

type MemoryEscrowRepo struct {
	mu     sync.RWMutex
	data   map[uuid.UUID]models.Escrow
	claims map[uuid.UUID]escrowClaim
}

func NewMemoryEscrowRepo() *MemoryEscrowRepo {
	return &MemoryEscrowRepo{
		data:   make(map[uuid.UUID]models.Escrow),
		claims: make(map[uuid.UUID]escrowClaim),
	}
}

func (m *MemoryEscrowRepo) Create(_ context.Context, e *models.Escrow) error {
	if e.Commitment.IsZero() {
		return ErrMissingCommitment
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[e.ID]; ok {
		return ErrConflict
	}
	e.UpdatedAt = e.CreatedAt
	m.data[e.ID] = *e
	return nil
}

func (m *MemoryEscrowRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *MemoryEscrowRepo) Claim(_ context.Context, id uuid.UUID, token string, now, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[id]
	if !ok || e.IsTerminal() {
		return ErrConflict
	}
	if c, held := m.claims[id]; held && c.token != token && c.until.After(now) {
		return ErrConflict
	}
	m.claims[id] = escrowClaim{token: token, until: until}
	return nil
}

func (m *MemoryEscrowRepo) Unclaim(_ context.Context, id uuid.UUID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, held := m.claims[id]; held && c.token == token {
		delete(m.claims, id)
	}
	return nil
}

func (m *MemoryEscrowRepo) MarkLocked(_ context.Context, id uuid.UUID, owner string, sequence int64, txID string, at time.Time) error {
	return m.transition(id, models.EscrowStatusCreated, models.EscrowStatusLocked, func(e *models.Escrow) error {
		for _, other := range m.data {
			if other.ID != id && other.OwnerAddress == owner && other.Sequence != nil && *other.Sequence == sequence {
				return ErrConflict
			}
		}
		e.OwnerAddress = owner
		e.Sequence = &sequence
		e.CreateTxID = &txID
		e.UpdatedAt = at
		return nil
	})
}

func (m *MemoryEscrowRepo) MarkReleased(_ context.Context, id uuid.UUID, txID, proofHash string, at time.Time) error {
	return m.transition(id, models.EscrowStatusLocked, models.EscrowStatusReleased, func(e *models.Escrow) error {
		e.FinishTxID = &txID
		e.ProofHash = &proofHash
		e.UpdatedAt = at
		return nil
	})
}

func (m *MemoryEscrowRepo) MarkCancelled(_ context.Context, id uuid.UUID, from string, txID *string, at time.Time) error {
	return m.transition(id, from, models.EscrowStatusCancelled, func(e *models.Escrow) error {
		e.CancelTxID = txID
		e.UpdatedAt = at
		return nil
	})
}

func (m *MemoryEscrowRepo) transition(id uuid.UUID, from, to string, apply func(*models.Escrow) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[id]
	if !ok || e.Status != from {
		return ErrConflict
	}
	if err := apply(&e); err != nil {
		return err
	}
	e.Status = to
	m.data[id] = e
	delete(m.claims, id)
	return nil
}

func (m *MemoryEscrowRepo) ListLockedBefore(_ context.Context, cutoff time.Time, limit int) ([]*models.Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Escrow
	for _, e := range m.data {
		if e.Status == models.EscrowStatusLocked && !e.Deadline.After(cutoff) {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type MemorySecretRepo struct {
	mu   sync.RWMutex
	data map[uuid.UUID][]byte
}

func NewMemorySecretRepo() *MemorySecretRepo {
	return &MemorySecretRepo{data: make(map[uuid.UUID][]byte)}
}

func (m *MemorySecretRepo) Put(_ context.Context, escrowID uuid.UUID, sealed []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[escrowID] = append([]byte(nil), sealed...)
	return nil
}

func (m *MemorySecretRepo) Get(_ context.Context, escrowID uuid.UUID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.data[escrowID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), s...), nil
}

func (m *MemorySecretRepo) Delete(_ context.Context, escrowID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, escrowID)
	return nil
}

type MemoryVerdictRepo struct {
	mu   sync.RWMutex
	data []models.Verdict
}

func NewMemoryVerdictRepo() *MemoryVerdictRepo {
	return &MemoryVerdictRepo{}
}

func (m *MemoryVerdictRepo) Create(_ context.Context, v *models.Verdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append(m.data, *v)
	return nil
}

func (m *MemoryVerdictRepo) ListByEscrow(_ context.Context, escrowID uuid.UUID) ([]models.Verdict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Verdict
	for _, v := range m.data {
		if v.EscrowID == escrowID {
			out = append(out, v)
		}
	}
	return out, nil
}

type MemoryRecipientRepo struct {
	mu   sync.RWMutex
	data map[uuid.UUID]models.Recipient
}

func NewMemoryRecipientRepo() *MemoryRecipientRepo {
	return &MemoryRecipientRepo{data: make(map[uuid.UUID]models.Recipient)}
}

func (m *MemoryRecipientRepo) Create(_ context.Context, rc *models.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.data {
		if other.ID == rc.ID || other.WalletAddress == rc.WalletAddress {
			return ErrConflict
		}
	}
	m.data[rc.ID] = cloneRecipient(*rc)
	return nil
}

func (m *MemoryRecipientRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rc, ok := m.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	rc = cloneRecipient(rc)
	return &rc, nil
}

func (m *MemoryRecipientRepo) List(_ context.Context) ([]*models.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Recipient, 0, len(m.data))
	for _, rc := range m.data {
		rc = cloneRecipient(rc)
		out = append(out, &rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *MemoryRecipientRepo) UpdateImpact(_ context.Context, id uuid.UUID, score int, certifications []string, verified bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.data[id]
	if !ok {
		return ErrNotFound
	}
	rc.ImpactScore = score
	rc.Certifications = append([]string(nil), certifications...)
	rc.Verified = verified
	rc.UpdatedAt = at
	m.data[id] = rc
	return nil
}

func (m *MemoryRecipientRepo) AddReceived(_ context.Context, id uuid.UUID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.data[id]
	if !ok {
		return ErrNotFound
	}
	rc.TotalReceived = rc.TotalReceived.Add(amount)
	rc.UpdatedAt = time.Now()
	m.data[id] = rc
	return nil
}

func cloneRecipient(rc models.Recipient) models.Recipient {
	rc.Certifications = append([]string(nil), rc.Certifications...)
	return rc
}

type MemoryDistributionRepo struct {
	mu      sync.RWMutex
	batches map[uuid.UUID]models.DistributionBatch
}

func NewMemoryDistributionRepo() *MemoryDistributionRepo {
	return &MemoryDistributionRepo{batches: make(map[uuid.UUID]models.DistributionBatch)}
}

func (m *MemoryDistributionRepo) CreateBatch(_ context.Context, b *models.DistributionBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[b.ID]; ok {
		return ErrConflict
	}
	m.batches[b.ID] = cloneBatch(*b)
	return nil
}

func (m *MemoryDistributionRepo) ConfirmRecord(_ context.Context, id uuid.UUID, proofRef string, at time.Time) error {
	return m.settle(id, func(r *models.DistributionRecord) {
		r.Status = models.PayoutStatusConfirmed
		r.ProofRef = &proofRef
		r.UpdatedAt = at
	})
}

func (m *MemoryDistributionRepo) FailRecord(_ context.Context, id uuid.UUID, reason string, at time.Time) error {
	return m.settle(id, func(r *models.DistributionRecord) {
		r.Status = models.PayoutStatusFailed
		r.Error = &reason
		r.UpdatedAt = at
	})
}

func (m *MemoryDistributionRepo) settle(id uuid.UUID, apply func(*models.DistributionRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for bid, b := range m.batches {
		for i := range b.Records {
			if b.Records[i].ID != id {
				continue
			}
			if b.Records[i].Status != models.PayoutStatusPending {
				return ErrConflict
			}
			apply(&b.Records[i])
			m.batches[bid] = b
			return nil
		}
	}
	return ErrConflict
}

func (m *MemoryDistributionRepo) CompleteBatch(_ context.Context, id uuid.UUID, distributed, failed decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok || b.CompletedAt != nil {
		return ErrConflict
	}
	b.TotalDistributed = distributed
	b.TotalFailed = failed
	b.CompletedAt = &at
	m.batches[id] = b
	return nil
}

func (m *MemoryDistributionRepo) GetBatch(_ context.Context, id uuid.UUID) (*models.DistributionBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	b = cloneBatch(b)
	return &b, nil
}

func cloneBatch(b models.DistributionBatch) models.DistributionBatch {
	b.Records = append([]models.DistributionRecord(nil), b.Records...)
	return b
}

type MemoryPoolRepo struct {
	mu    sync.Mutex
	pools map[uuid.UUID]models.Pool
}

func NewMemoryPoolRepo() *MemoryPoolRepo {
	return &MemoryPoolRepo{pools: make(map[uuid.UUID]models.Pool)}
}

func (m *MemoryPoolRepo) Ensure(_ context.Context, walletAddress string) (*models.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pools {
		if p.WalletAddress == walletAddress {
			return &p, nil
		}
	}
	p := models.Pool{ID: uuid.New(), WalletAddress: walletAddress, Balance: decimal.Zero, UpdatedAt: time.Now()}
	m.pools[p.ID] = p
	return &p, nil
}

func (m *MemoryPoolRepo) Get(_ context.Context, id uuid.UUID) (*models.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryPoolRepo) Debit(_ context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	if p.Balance.LessThan(amount) {
		return decimal.Zero, ErrInsufficientBalance
	}
	p.Balance = p.Balance.Sub(amount)
	p.UpdatedAt = time.Now()
	m.pools[id] = p
	return p.Balance, nil
}

func (m *MemoryPoolRepo) Credit(_ context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	p.Balance = p.Balance.Add(amount)
	p.UpdatedAt = time.Now()
	m.pools[id] = p
	return p.Balance, nil
}

type MemoryDonorRepo struct {
	mu   sync.RWMutex
	data map[string]models.Donor
}

func NewMemoryDonorRepo() *MemoryDonorRepo {
	return &MemoryDonorRepo{data: make(map[string]models.Donor)}
}

func (m *MemoryDonorRepo) Get(_ context.Context, address string) (*models.Donor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[address]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *MemoryDonorRepo) Create(_ context.Context, d *models.Donor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[d.Address]; ok {
		return ErrConflict
	}
	d.Version = 0
	m.data[d.Address] = *d
	return nil
}

func (m *MemoryDonorRepo) Update(_ context.Context, d *models.Donor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.data[d.Address]
	if !ok || cur.Version != d.Version {
		return ErrConflict
	}
	d.Version++
	m.data[d.Address] = *d
	return nil
}

type MemoryAuditRepo struct {
	mu      sync.RWMutex
	entries []models.AuditLog
}

func NewMemoryAuditRepo() *MemoryAuditRepo {
	return &MemoryAuditRepo{}
}

func (m *MemoryAuditRepo) Log(_ context.Context, entry models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryAuditRepo) ListForEntity(_ context.Context, entityType, entityID string, limit int) ([]models.AuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	var out []models.AuditLog
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.entries[i]
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}
