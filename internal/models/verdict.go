package models

import (
	"time"

	"github.com/google/uuid"
)

// Verdict outcomes recorded for every processed oracle verdict.
const (
	VerdictOutcomeReleased      = "released"
	VerdictOutcomeAlreadyDone   = "already_terminal"
	VerdictOutcomeRejected      = "rejected"
	VerdictOutcomeForged        = "evidence_mismatch"
	VerdictOutcomeReleaseFailed = "release_failed"
	VerdictOutcomeBadSignature  = "bad_signature"
	VerdictOutcomeWindowClosed  = "window_closed"
)

type Verdict struct {
	ID                uuid.UUID `json:"id"`
	EscrowID          uuid.UUID `json:"escrow_id"`
	Approved          bool      `json:"approved"`
	EvidenceHash      string    `json:"evidence_hash"`
	ValidatorIdentity string    `json:"validator_identity"`
	Outcome           string    `json:"outcome"`
	CreatedAt         time.Time `json:"created_at"`
}
