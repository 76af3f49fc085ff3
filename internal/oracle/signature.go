package oracle

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const verdictPrefix = "impact-verdict-v1/"

var (
	ErrUnknownValidator = errors.New("oracle: unknown validator")
	ErrBadSignature     = errors.New("oracle: invalid validator signature")
)

// Validators maps validator identities to their ed25519 public keys.
type Validators map[string]ed25519.PublicKey

// ParseValidators reads "id=hexkey,id2=hexkey".
func ParseValidators(s string) (Validators, error) {
	v := make(Validators)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, keyHex, ok := strings.Cut(part, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid validator entry %q", part)
		}
		key, err := hex.DecodeString(strings.TrimSpace(keyHex))
		if err != nil {
			return nil, fmt.Errorf("validator %s: invalid public key hex: %w", id, err)
		}
		if len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("validator %s: invalid public key size: %d", id, len(key))
		}
		v[strings.TrimSpace(id)] = ed25519.PublicKey(key)
	}
	return v, nil
}

// SigningDigest is what a validator signs:
// sha256("impact-verdict-v1/" ++ escrowID ++ "/" ++ approved ++ "/" ++ evidenceHash).
func SigningDigest(escrowID string, approved bool, evidenceHash string) []byte {
	msg := verdictPrefix + escrowID + "/" + strconv.FormatBool(approved) + "/" + strings.ToLower(evidenceHash)
	sum := sha256.Sum256([]byte(msg))
	return sum[:]
}

// Sign produces the hex signature a validator attaches to a verdict.
func Sign(key ed25519.PrivateKey, escrowID string, approved bool, evidenceHash string) string {
	return hex.EncodeToString(ed25519.Sign(key, SigningDigest(escrowID, approved, evidenceHash)))
}

func (v Validators) Verify(identity, escrowID string, approved bool, evidenceHash, signatureHex string) error {
	pub, ok := v[identity]
	if !ok {
		return ErrUnknownValidator
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}
	if !ed25519.Verify(pub, SigningDigest(escrowID, approved, evidenceHash), sig) {
		return ErrBadSignature
	}
	return nil
}
