package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/impact-escrow/backend/internal/models"
)

type DistributionRepo struct {
	pool *pgxpool.Pool
}

func NewDistributionRepo(pool *pgxpool.Pool) *DistributionRepo {
	return &DistributionRepo{pool: pool}
}

// CreateBatch inserts the batch and all of its records in one transaction.
func (r *DistributionRepo) CreateBatch(ctx context.Context, b *models.DistributionBatch) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO distribution_batches (id, pool_id, source_amount, total_distributed, total_failed, plan_hash, created_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7)
	`, b.ID, b.PoolID, b.SourceAmount.String(), b.TotalDistributed.String(), b.TotalFailed.String(), b.PlanHash, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert batch: %w", mapErr(err))
	}

	for i, rec := range b.Records {
		_, err = tx.Exec(ctx, `
			INSERT INTO distribution_records (id, batch_id, position, recipient_id, wallet_address, amount, status, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)
		`, rec.ID, b.ID, i, rec.RecipientID, rec.WalletAddress, rec.Amount.String(), rec.Status, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert record %d: %w", i, mapErr(err))
		}
	}

	return tx.Commit(ctx)
}

// ConfirmRecord attaches the ledger confirmation to a pending record.
func (r *DistributionRepo) ConfirmRecord(ctx context.Context, id uuid.UUID, proofRef string, at time.Time) error {
	return r.settleRecord(ctx, id, models.PayoutStatusConfirmed, &proofRef, nil, at)
}

func (r *DistributionRepo) FailRecord(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return r.settleRecord(ctx, id, models.PayoutStatusFailed, nil, &reason, at)
}

func (r *DistributionRepo) settleRecord(ctx context.Context, id uuid.UUID, status string, proofRef, reason *string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE distribution_records SET status = $1, proof_ref = $2, error = $3, updated_at = $4
		WHERE id = $5 AND status = 'pending'
	`, status, proofRef, reason, at, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *DistributionRepo) CompleteBatch(ctx context.Context, id uuid.UUID, distributed, failed decimal.Decimal, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE distribution_batches SET total_distributed = $1::numeric, total_failed = $2::numeric, completed_at = $3
		WHERE id = $4 AND completed_at IS NULL
	`, distributed.String(), failed.String(), at, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *DistributionRepo) GetBatch(ctx context.Context, id uuid.UUID) (*models.DistributionBatch, error) {
	var (
		b                         models.DistributionBatch
		source, distributed, fail string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, pool_id, source_amount::text, total_distributed::text, total_failed::text, plan_hash, created_at, completed_at
		FROM distribution_batches WHERE id = $1
	`, id).Scan(&b.ID, &b.PoolID, &source, &distributed, &fail, &b.PlanHash, &b.CreatedAt, &b.CompletedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := parseDecimals([]*decimal.Decimal{&b.SourceAmount, &b.TotalDistributed, &b.TotalFailed}, source, distributed, fail); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, batch_id, recipient_id, wallet_address, amount::text, status, proof_ref, error, updated_at
		FROM distribution_records WHERE batch_id = $1 ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec    models.DistributionRecord
			amount string
		)
		if err := rows.Scan(&rec.ID, &rec.BatchID, &rec.RecipientID, &rec.WalletAddress, &amount,
			&rec.Status, &rec.ProofRef, &rec.Error, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if rec.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		b.Records = append(b.Records, rec)
	}
	return &b, rows.Err()
}

type PoolRepo struct {
	pool *pgxpool.Pool
}

func NewPoolRepo(pool *pgxpool.Pool) *PoolRepo {
	return &PoolRepo{pool: pool}
}

// Ensure returns the pool for walletAddress, creating it with a zero balance.
func (r *PoolRepo) Ensure(ctx context.Context, walletAddress string) (*models.Pool, error) {
	var (
		p       models.Pool
		balance string
	)
	err := r.pool.QueryRow(ctx, `
		INSERT INTO pools (wallet_address) VALUES ($1)
		ON CONFLICT (wallet_address) DO UPDATE SET wallet_address = EXCLUDED.wallet_address
		RETURNING id, wallet_address, balance::text, updated_at
	`, walletAddress).Scan(&p.ID, &p.WalletAddress, &balance, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if p.Balance, err = parseDecimal(balance); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PoolRepo) Get(ctx context.Context, id uuid.UUID) (*models.Pool, error) {
	var (
		p       models.Pool
		balance string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, wallet_address, balance::text, updated_at FROM pools WHERE id = $1
	`, id).Scan(&p.ID, &p.WalletAddress, &balance, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if p.Balance, err = parseDecimal(balance); err != nil {
		return nil, err
	}
	return &p, nil
}

// Debit subtracts amount only when the balance covers it; the check and the
// decrement are one statement.
func (r *PoolRepo) Debit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance string
	err := r.pool.QueryRow(ctx, `
		UPDATE pools SET balance = balance - $1::numeric, updated_at = now()
		WHERE id = $2 AND balance >= $1::numeric
		RETURNING balance::text
	`, amount.String(), id).Scan(&balance)
	if err != nil {
		if mapErr(err) == ErrNotFound {
			if _, gerr := r.Get(ctx, id); gerr != nil {
				return decimal.Zero, gerr
			}
			return decimal.Zero, ErrInsufficientBalance
		}
		return decimal.Zero, err
	}
	return parseDecimal(balance)
}

func (r *PoolRepo) Credit(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance string
	err := r.pool.QueryRow(ctx, `
		UPDATE pools SET balance = balance + $1::numeric, updated_at = now()
		WHERE id = $2
		RETURNING balance::text
	`, amount.String(), id).Scan(&balance)
	if err != nil {
		return decimal.Zero, mapErr(err)
	}
	return parseDecimal(balance)
}
