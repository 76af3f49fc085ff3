// Package oracle is the boundary to impact verifiers: the verdict contract,
// evidence hashing and validator signatures.
package oracle

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

type VerificationRequest struct {
	EscrowID    string `json:"escrow_id"`
	Beneficiary string `json:"beneficiary,omitempty"`
	Evidence    []byte `json:"evidence"`
}

// Verdict is untrusted until its evidence hash has been recomputed.
type Verdict struct {
	Approved          bool   `json:"approved"`
	EvidenceHash      string `json:"evidence_hash"`
	ValidatorIdentity string `json:"validator_identity"`
	Signature         string `json:"signature,omitempty"`
	Score             int    `json:"score,omitempty"`
}

// Verifier produces a verdict on submitted evidence.
type Verifier interface {
	Verify(ctx context.Context, req VerificationRequest) (Verdict, error)
}

// HashEvidence is the lower-case hex SHA-256 of the evidence bytes.
func HashEvidence(evidence []byte) string {
	sum := sha256.Sum256(evidence)
	return hex.EncodeToString(sum[:])
}

// EvidenceMatches recomputes the hash and compares it with claimed in
// constant time, ignoring hex case.
func EvidenceMatches(evidence []byte, claimed string) bool {
	want := HashEvidence(evidence)
	got := strings.ToLower(strings.TrimSpace(claimed))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
