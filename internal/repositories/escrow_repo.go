package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/impact-escrow/backend/internal/condition"
	"github.com/impact-escrow/backend/internal/models"
)

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const escrowColumns = `
	id, owner_address, sequence, beneficiary, amount::text, condition,
	not_before, deadline, status, create_tx_id, finish_tx_id, cancel_tx_id,
	proof_hash, created_at, updated_at`

func scanEscrow(row pgx.Row) (*models.Escrow, error) {
	var (
		e      models.Escrow
		amount string
		cond   string
	)
	err := row.Scan(&e.ID, &e.OwnerAddress, &e.Sequence, &e.Beneficiary, &amount, &cond,
		&e.NotBefore, &e.Deadline, &e.Status, &e.CreateTxID, &e.FinishTxID, &e.CancelTxID,
		&e.ProofHash, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if e.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	if e.Commitment, err = condition.ParseCondition(cond); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EscrowRepo) Create(ctx context.Context, e *models.Escrow) error {
	if e.Commitment.IsZero() {
		return ErrMissingCommitment
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO escrows (id, beneficiary, amount, condition, not_before, deadline, status, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $8)
	`, e.ID, e.Beneficiary, e.Amount.String(), e.Commitment.String(), e.NotBefore, e.Deadline, e.Status, e.CreatedAt)
	return mapErr(err)
}

func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	return scanEscrow(r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id))
}

// Claim takes the ledger-submission lease on a created or locked escrow. It
// fails with ErrConflict while another token holds an unexpired lease or the
// escrow is terminal or missing.
func (r *EscrowRepo) Claim(ctx context.Context, id uuid.UUID, token string, now, until time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrows SET claim_token = $1, claim_until = $2
		WHERE id = $3 AND status IN ('created', 'locked')
		  AND (claim_until IS NULL OR claim_until <= $4 OR claim_token = $1)
	`, token, until, id, now)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// Unclaim drops the lease if token still holds it.
func (r *EscrowRepo) Unclaim(ctx context.Context, id uuid.UUID, token string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE escrows SET claim_token = NULL, claim_until = NULL
		WHERE id = $1 AND claim_token = $2
	`, id, token)
	return mapErr(err)
}

// MarkLocked moves created -> locked.
func (r *EscrowRepo) MarkLocked(ctx context.Context, id uuid.UUID, owner string, sequence int64, txID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrows SET status = 'locked', owner_address = $1, sequence = $2, create_tx_id = $3, updated_at = $4,
			claim_token = NULL, claim_until = NULL
		WHERE id = $5 AND status = 'created'
	`, owner, sequence, txID, at, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// MarkReleased moves locked -> released.
func (r *EscrowRepo) MarkReleased(ctx context.Context, id uuid.UUID, txID, proofHash string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrows SET status = 'released', finish_tx_id = $1, proof_hash = $2, updated_at = $3,
			claim_token = NULL, claim_until = NULL
		WHERE id = $4 AND status = 'locked'
	`, txID, proofHash, at, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// MarkCancelled moves created or locked -> cancelled. txID is nil when no
// ledger escrow existed.
func (r *EscrowRepo) MarkCancelled(ctx context.Context, id uuid.UUID, from string, txID *string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escrows SET status = 'cancelled', cancel_tx_id = $1, updated_at = $2,
			claim_token = NULL, claim_until = NULL
		WHERE id = $3 AND status = $4
	`, txID, at, id, from)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// ListLockedBefore returns locked escrows whose deadline is before cutoff,
// oldest first.
func (r *EscrowRepo) ListLockedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Escrow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE status = 'locked' AND deadline <= $1
		ORDER BY deadline ASC LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
