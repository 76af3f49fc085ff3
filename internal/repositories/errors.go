package repositories

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("concurrent update")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMissingCommitment   = errors.New("escrow has no commitment")
)

const uniqueViolation = "23505"

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

// numeric columns are selected as ::text and parsed here to keep full precision
func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseDecimals(out []*decimal.Decimal, in ...string) error {
	for i, s := range in {
		d, err := parseDecimal(s)
		if err != nil {
			return err
		}
		*out[i] = d
	}
	return nil
}
