package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/impact-escrow/backend/internal/models"
)

type RecipientRepo struct {
	pool *pgxpool.Pool
}

func NewRecipientRepo(pool *pgxpool.Pool) *RecipientRepo {
	return &RecipientRepo{pool: pool}
}

const recipientColumns = `
	id, name, wallet_address, category, impact_score, weight::text, total_received::text,
	verified, certifications, website, description, created_at, updated_at`

func scanRecipient(row pgx.Row) (*models.Recipient, error) {
	var (
		rc               models.Recipient
		weight, received string
	)
	err := row.Scan(&rc.ID, &rc.Name, &rc.WalletAddress, &rc.Category, &rc.ImpactScore, &weight, &received,
		&rc.Verified, &rc.Certifications, &rc.Website, &rc.Description, &rc.CreatedAt, &rc.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := parseDecimals([]*decimal.Decimal{&rc.Weight, &rc.TotalReceived}, weight, received); err != nil {
		return nil, err
	}
	return &rc, nil
}

func (r *RecipientRepo) Create(ctx context.Context, rc *models.Recipient) error {
	certs := rc.Certifications
	if certs == nil {
		certs = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO recipients (id, name, wallet_address, category, impact_score, weight, total_received,
		                        verified, certifications, website, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10, $11, $12, $12)
	`, rc.ID, rc.Name, rc.WalletAddress, rc.Category, rc.ImpactScore, rc.Weight.String(), rc.TotalReceived.String(),
		rc.Verified, certs, rc.Website, rc.Description, rc.CreatedAt)
	return mapErr(err)
}

func (r *RecipientRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Recipient, error) {
	return scanRecipient(r.pool.QueryRow(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id = $1`, id))
}

// List returns all recipients ordered by id.
func (r *RecipientRepo) List(ctx context.Context) ([]*models.Recipient, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recipientColumns+` FROM recipients ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Recipient
	for rows.Next() {
		rc, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *RecipientRepo) UpdateImpact(ctx context.Context, id uuid.UUID, score int, certifications []string, verified bool, at time.Time) error {
	if certifications == nil {
		certifications = []string{}
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE recipients SET impact_score = $1, certifications = $2, verified = $3, updated_at = $4
		WHERE id = $5
	`, score, certifications, verified, at, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddReceived increments total_received after a confirmed payout.
func (r *RecipientRepo) AddReceived(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recipients SET total_received = total_received + $1::numeric, updated_at = now()
		WHERE id = $2
	`, amount.String(), id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
