package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/impact-escrow/backend/internal/models"
)

// SecretRepo stores sealed escrow secrets. It never sees plaintext.
type SecretRepo struct {
	pool *pgxpool.Pool
}

func NewSecretRepo(pool *pgxpool.Pool) *SecretRepo {
	return &SecretRepo{pool: pool}
}

func (r *SecretRepo) Put(ctx context.Context, escrowID uuid.UUID, sealed []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO escrow_secrets (escrow_id, sealed) VALUES ($1, $2)
		ON CONFLICT (escrow_id) DO UPDATE SET sealed = EXCLUDED.sealed
	`, escrowID, sealed)
	return mapErr(err)
}

func (r *SecretRepo) Get(ctx context.Context, escrowID uuid.UUID) ([]byte, error) {
	var sealed []byte
	err := r.pool.QueryRow(ctx, `SELECT sealed FROM escrow_secrets WHERE escrow_id = $1`, escrowID).Scan(&sealed)
	if err != nil {
		return nil, mapErr(err)
	}
	return sealed, nil
}

func (r *SecretRepo) Delete(ctx context.Context, escrowID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM escrow_secrets WHERE escrow_id = $1`, escrowID)
	return err
}

type VerdictRepo struct {
	pool *pgxpool.Pool
}

func NewVerdictRepo(pool *pgxpool.Pool) *VerdictRepo {
	return &VerdictRepo{pool: pool}
}

func (r *VerdictRepo) Create(ctx context.Context, v *models.Verdict) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO verdicts (id, escrow_id, approved, evidence_hash, validator_identity, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, v.ID, v.EscrowID, v.Approved, v.EvidenceHash, v.ValidatorIdentity, v.Outcome, v.CreatedAt)
	return mapErr(err)
}

func (r *VerdictRepo) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.Verdict, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, escrow_id, approved, evidence_hash, validator_identity, outcome, created_at
		FROM verdicts WHERE escrow_id = $1 ORDER BY created_at ASC
	`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Verdict
	for rows.Next() {
		var v models.Verdict
		if err := rows.Scan(&v.ID, &v.EscrowID, &v.Approved, &v.EvidenceHash, &v.ValidatorIdentity, &v.Outcome, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
