package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/impact-escrow/backend/internal/condition"
	"github.com/impact-escrow/backend/internal/repositories"
	"github.com/impact-escrow/backend/internal/vault"
)

type SecretStore interface {
	Put(ctx context.Context, escrowID uuid.UUID, sealed []byte) error
	Get(ctx context.Context, escrowID uuid.UUID) ([]byte, error)
	Delete(ctx context.Context, escrowID uuid.UUID) error
}

// SecretKeeper holds escrowId -> secret, sealed at rest and bound to the
// escrow id.
type SecretKeeper struct {
	store  SecretStore
	sealer *vault.Sealer
}

func NewSecretKeeper(store SecretStore, sealer *vault.Sealer) *SecretKeeper {
	return &SecretKeeper{store: store, sealer: sealer}
}

func (k *SecretKeeper) Register(ctx context.Context, escrowID uuid.UUID, secret condition.Secret) error {
	sealed, err := k.sealer.Seal(secret, escrowID.String())
	if err != nil {
		return err
	}
	if err := k.store.Put(ctx, escrowID, sealed); err != nil {
		return fmt.Errorf("store sealed secret: %w", err)
	}
	return nil
}

func (k *SecretKeeper) Load(ctx context.Context, escrowID uuid.UUID) (condition.Secret, error) {
	sealed, err := k.store.Get(ctx, escrowID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrSecretNotFound
		}
		return nil, err
	}
	plain, err := k.sealer.Open(sealed, escrowID.String())
	if err != nil {
		return nil, err
	}
	return condition.Secret(plain), nil
}

// Forget drops the secret once the escrow can no longer be released.
func (k *SecretKeeper) Forget(ctx context.Context, escrowID uuid.UUID) error {
	return k.store.Delete(ctx, escrowID)
}
