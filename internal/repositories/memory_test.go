package repositories

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/impact-escrow/backend/internal/condition"
	"github.com/impact-escrow/backend/internal/models"
)

type MemoryStoreSuite struct {
	suite.Suite
	ctx context.Context
	now time.Time
}

func (s *MemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) newEscrow() *models.Escrow {
	secret, err := condition.GenerateSecret()
	s.Require().NoError(err)
	return &models.Escrow{
		ID:          uuid.New(),
		Beneficiary: "rBeneficiaryAddressXXXXXXXXXXX",
		Amount:      decimal.RequireFromString("100"),
		Commitment:  condition.CommitmentOf(secret),
		Deadline:    s.now.Add(time.Hour),
		Status:      models.EscrowStatusCreated,
		CreatedAt:   s.now,
	}
}

func (s *MemoryStoreSuite) TestEscrowTransitions() {
	repo := NewMemoryEscrowRepo()

	s.Run("created to locked to released", func() {
		e := s.newEscrow()
		s.Require().NoError(repo.Create(s.ctx, e))
		s.Require().NoError(repo.MarkLocked(s.ctx, e.ID, "rOwner", 7, "tx-lock", s.now))
		s.Require().NoError(repo.MarkReleased(s.ctx, e.ID, "tx-finish", "proofhash", s.now))

		got, err := repo.GetByID(s.ctx, e.ID)
		s.Require().NoError(err)
		s.Equal(models.EscrowStatusReleased, got.Status)
		s.Equal(int64(7), *got.Sequence)
		s.Equal("proofhash", *got.ProofHash)
		s.True(got.Commitment.Equal(e.Commitment))
	})

	s.Run("terminal record rejects further transitions", func() {
		e := s.newEscrow()
		s.Require().NoError(repo.Create(s.ctx, e))
		s.Require().NoError(repo.MarkCancelled(s.ctx, e.ID, models.EscrowStatusCreated, nil, s.now))

		s.ErrorIs(repo.MarkLocked(s.ctx, e.ID, "rOwner", 8, "tx", s.now), ErrConflict)
		s.ErrorIs(repo.MarkReleased(s.ctx, e.ID, "tx", "h", s.now), ErrConflict)
		s.ErrorIs(repo.MarkCancelled(s.ctx, e.ID, models.EscrowStatusLocked, nil, s.now), ErrConflict)
	})

	s.Run("owner and sequence are unique", func() {
		a, b := s.newEscrow(), s.newEscrow()
		s.Require().NoError(repo.Create(s.ctx, a))
		s.Require().NoError(repo.Create(s.ctx, b))
		s.Require().NoError(repo.MarkLocked(s.ctx, a.ID, "rDup", 1, "tx-a", s.now))
		s.ErrorIs(repo.MarkLocked(s.ctx, b.ID, "rDup", 1, "tx-b", s.now), ErrConflict)

		got, err := repo.GetByID(s.ctx, b.ID)
		s.Require().NoError(err)
		s.Equal(models.EscrowStatusCreated, got.Status)
	})

	s.Run("unknown id", func() {
		_, err := repo.GetByID(s.ctx, uuid.New())
		s.ErrorIs(err, ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestEscrowReleaseRace() {
	repo := NewMemoryEscrowRepo()
	e := s.newEscrow()
	s.Require().NoError(repo.Create(s.ctx, e))
	s.Require().NoError(repo.MarkLocked(s.ctx, e.ID, "rOwner", 1, "tx", s.now))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if repo.MarkReleased(s.ctx, e.ID, "tx", "h", s.now) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}

func (s *MemoryStoreSuite) TestEscrowClaimLease() {
	repo := NewMemoryEscrowRepo()
	e := s.newEscrow()
	s.Require().NoError(repo.Create(s.ctx, e))
	until := s.now.Add(time.Minute)

	s.Require().NoError(repo.Claim(s.ctx, e.ID, "a", s.now, until))
	s.ErrorIs(repo.Claim(s.ctx, e.ID, "b", s.now, until), ErrConflict)
	s.NoError(repo.Claim(s.ctx, e.ID, "a", s.now, until.Add(time.Minute)))

	s.Run("expired lease can be taken over", func() {
		later := s.now.Add(3 * time.Minute)
		s.Require().NoError(repo.Claim(s.ctx, e.ID, "b", later, later.Add(time.Minute)))
		s.ErrorIs(repo.Claim(s.ctx, e.ID, "a", later, later.Add(time.Minute)), ErrConflict)
	})

	s.Run("unclaim by a stale holder is ignored", func() {
		s.Require().NoError(repo.Unclaim(s.ctx, e.ID, "a"))
		s.ErrorIs(repo.Claim(s.ctx, e.ID, "c", s.now.Add(3*time.Minute), until), ErrConflict)
		s.Require().NoError(repo.Unclaim(s.ctx, e.ID, "b"))
		s.NoError(repo.Claim(s.ctx, e.ID, "c", s.now, until))
	})

	s.Run("transition clears the lease", func() {
		s.Require().NoError(repo.MarkLocked(s.ctx, e.ID, "rOwner", 3, "tx", s.now))
		s.NoError(repo.Claim(s.ctx, e.ID, "d", s.now, until))
	})

	s.Run("terminal escrow cannot be claimed", func() {
		s.Require().NoError(repo.MarkReleased(s.ctx, e.ID, "tx", "h", s.now))
		s.ErrorIs(repo.Claim(s.ctx, e.ID, "e", s.now, until), ErrConflict)
	})

	s.Run("unknown escrow", func() {
		s.ErrorIs(repo.Claim(s.ctx, uuid.New(), "a", s.now, until), ErrConflict)
	})
}

func (s *MemoryStoreSuite) TestCreateRequiresCommitment() {
	repo := NewMemoryEscrowRepo()
	e := s.newEscrow()
	e.Commitment = condition.Commitment{}
	s.ErrorIs(repo.Create(s.ctx, e), ErrMissingCommitment)

	_, err := repo.GetByID(s.ctx, e.ID)
	s.ErrorIs(err, ErrNotFound)
}

func (s *MemoryStoreSuite) TestListLockedBefore() {
	repo := NewMemoryEscrowRepo()
	for i, offset := range []time.Duration{-3 * time.Hour, -time.Hour, time.Hour} {
		e := s.newEscrow()
		e.Deadline = s.now.Add(offset)
		s.Require().NoError(repo.Create(s.ctx, e))
		s.Require().NoError(repo.MarkLocked(s.ctx, e.ID, "rOwner", int64(i), "tx", s.now))
	}

	stuck, err := repo.ListLockedBefore(s.ctx, s.now, 10)
	s.Require().NoError(err)
	s.Require().Len(stuck, 2)
	s.True(stuck[0].Deadline.Before(stuck[1].Deadline))

	limited, err := repo.ListLockedBefore(s.ctx, s.now, 1)
	s.Require().NoError(err)
	s.Len(limited, 1)
}

func (s *MemoryStoreSuite) TestPoolDebit() {
	repo := NewMemoryPoolRepo()
	p, err := repo.Ensure(s.ctx, "rPool")
	s.Require().NoError(err)

	again, err := repo.Ensure(s.ctx, "rPool")
	s.Require().NoError(err)
	s.Equal(p.ID, again.ID)

	_, err = repo.Credit(s.ctx, p.ID, decimal.RequireFromString("100"))
	s.Require().NoError(err)

	s.Run("rejects overdraft", func() {
		_, err := repo.Debit(s.ctx, p.ID, decimal.RequireFromString("100.000001"))
		s.ErrorIs(err, ErrInsufficientBalance)
	})

	s.Run("concurrent debits never overspend", func() {
		var ok atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.Debit(s.ctx, p.ID, decimal.RequireFromString("30")); err == nil {
					ok.Add(1)
				}
			}()
		}
		wg.Wait()
		s.Equal(int32(3), ok.Load())

		got, err := repo.Get(s.ctx, p.ID)
		s.Require().NoError(err)
		s.True(got.Balance.Equal(decimal.RequireFromString("10")), got.Balance.String())
	})

	s.Run("unknown pool", func() {
		_, err := repo.Debit(s.ctx, uuid.New(), decimal.NewFromInt(1))
		s.ErrorIs(err, ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestDistributionRecordsSettleOnce() {
	repo := NewMemoryDistributionRepo()
	batchID := uuid.New()
	recID := uuid.New()
	s.Require().NoError(repo.CreateBatch(s.ctx, &models.DistributionBatch{
		ID:           batchID,
		SourceAmount: decimal.NewFromInt(10),
		Records: []models.DistributionRecord{
			{ID: recID, BatchID: batchID, Amount: decimal.NewFromInt(10), Status: models.PayoutStatusPending},
		},
		CreatedAt: s.now,
	}))

	s.Require().NoError(repo.ConfirmRecord(s.ctx, recID, "tx-1", s.now))
	s.ErrorIs(repo.FailRecord(s.ctx, recID, "late", s.now), ErrConflict)

	s.Require().NoError(repo.CompleteBatch(s.ctx, batchID, decimal.NewFromInt(10), decimal.Zero, s.now))
	s.ErrorIs(repo.CompleteBatch(s.ctx, batchID, decimal.NewFromInt(10), decimal.Zero, s.now), ErrConflict)

	b, err := repo.GetBatch(s.ctx, batchID)
	s.Require().NoError(err)
	s.Equal(models.PayoutStatusConfirmed, b.Records[0].Status)
	s.Equal("tx-1", *b.Records[0].ProofRef)
	s.NotNil(b.CompletedAt)
}

func (s *MemoryStoreSuite) TestDonorOptimisticUpdate() {
	repo := NewMemoryDonorRepo()
	d := models.NewDonor("rDonor", s.now)
	s.Require().NoError(repo.Create(s.ctx, d))
	s.ErrorIs(repo.Create(s.ctx, models.NewDonor("rDonor", s.now)), ErrConflict)

	first, err := repo.Get(s.ctx, "rDonor")
	s.Require().NoError(err)
	second, err := repo.Get(s.ctx, "rDonor")
	s.Require().NoError(err)

	first.AddDonation(decimal.NewFromInt(5), s.now)
	s.Require().NoError(repo.Update(s.ctx, first))
	s.Equal(int64(1), first.Version)

	second.AddDonation(decimal.NewFromInt(7), s.now)
	s.ErrorIs(repo.Update(s.ctx, second), ErrConflict)

	got, err := repo.Get(s.ctx, "rDonor")
	s.Require().NoError(err)
	s.True(got.TotalDonated.Equal(decimal.NewFromInt(5)))
}

func (s *MemoryStoreSuite) TestSecretsAndAudit() {
	secrets := NewMemorySecretRepo()
	id := uuid.New()
	sealed := []byte{1, 2, 3}
	s.Require().NoError(secrets.Put(s.ctx, id, sealed))
	sealed[0] = 9

	got, err := secrets.Get(s.ctx, id)
	s.Require().NoError(err)
	s.Equal([]byte{1, 2, 3}, got)

	s.Require().NoError(secrets.Delete(s.ctx, id))
	_, err = secrets.Get(s.ctx, id)
	s.ErrorIs(err, ErrNotFound)

	audit := NewMemoryAuditRepo()
	entity := id.String()
	for _, action := range []string{"escrow_created", "escrow_locked", "escrow_released"} {
		s.Require().NoError(audit.Log(s.ctx, models.AuditLog{
			ActorType:  models.ActorTypeSystem,
			Action:     action,
			EntityType: "escrow",
			EntityID:   &entity,
		}))
	}
	logs, err := audit.ListForEntity(s.ctx, "escrow", entity, 2)
	s.Require().NoError(err)
	s.Require().Len(logs, 2)
	s.Equal("escrow_released", logs[0].Action)
}
