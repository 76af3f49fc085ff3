package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/impact-escrow/backend/internal/models"
)

type DonorRepo struct {
	pool *pgxpool.Pool
}

func NewDonorRepo(pool *pgxpool.Pool) *DonorRepo {
	return &DonorRepo{pool: pool}
}

func (r *DonorRepo) Get(ctx context.Context, address string) (*models.Donor, error) {
	var (
		d         models.Donor
		total, xp string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT address, total_donated::text, xp::text, level, donation_count, nft_token_id, dit_token_id,
		       first_donation_at, last_donation_at, version, created_at, updated_at
		FROM donors WHERE address = $1
	`, address).Scan(&d.Address, &total, &xp, &d.Level, &d.DonationCount, &d.NFTTokenID, &d.DITTokenID,
		&d.FirstDonationAt, &d.LastDonationAt, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := parseDecimals([]*decimal.Decimal{&d.TotalDonated, &d.XP}, total, xp); err != nil {
		return nil, err
	}
	return &d, nil
}

// Create inserts a new donor. A concurrent first donation surfaces as ErrConflict.
func (r *DonorRepo) Create(ctx context.Context, d *models.Donor) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO donors (address, total_donated, xp, level, donation_count, nft_token_id, dit_token_id,
		                    first_donation_at, last_donation_at, version, created_at, updated_at)
		VALUES ($1, $2::numeric, $3::numeric, $4, $5, $6, $7, $8, $9, 0, $10, $11)
	`, d.Address, d.TotalDonated.String(), d.XP.String(), d.Level, d.DonationCount, d.NFTTokenID, d.DITTokenID,
		d.FirstDonationAt, d.LastDonationAt, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	d.Version = 0
	return nil
}

// Update writes d if its version is still current and bumps the version.
func (r *DonorRepo) Update(ctx context.Context, d *models.Donor) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE donors SET total_donated = $1::numeric, xp = $2::numeric, level = $3, donation_count = $4,
		       nft_token_id = $5, dit_token_id = $6, first_donation_at = $7, last_donation_at = $8,
		       version = version + 1, updated_at = $9
		WHERE address = $10 AND version = $11
	`, d.TotalDonated.String(), d.XP.String(), d.Level, d.DonationCount, d.NFTTokenID, d.DITTokenID,
		d.FirstDonationAt, d.LastDonationAt, d.UpdatedAt, d.Address, d.Version)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	d.Version++
	return nil
}
