// Package vault seals escrow secrets at rest with XChaCha20-Poly1305.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrOpen = errors.New("vault: cannot open sealed secret")

// Sealer binds every sealed value to an associated label (the escrow id), so
// a ciphertext copied to another row does not open.
type Sealer struct {
	aead cipher.AEAD
}

// New builds a sealer from a 32-byte key.
func New(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("vault key: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewFromHex parses a hex key. An empty string yields a random key, which
// makes sealed secrets unreadable after a restart.
func NewFromHex(hexKey string) (s *Sealer, ephemeral bool, err error) {
	if hexKey == "" {
		key, err := GenerateKey()
		if err != nil {
			return nil, false, err
		}
		s, err := New(key)
		return s, true, err
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, false, fmt.Errorf("vault key is not hex: %w", err)
	}
	s, err = New(key)
	return s, false, err
}

func GenerateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate vault key: %w", err)
	}
	return key, nil
}

// Seal returns nonce || ciphertext.
func (s *Sealer) Seal(plaintext []byte, label string) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(label)), nil
}

func (s *Sealer) Open(sealed []byte, label string) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, ErrOpen
	}
	out, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(label))
	if err != nil {
		return nil, ErrOpen
	}
	return out, nil
}
