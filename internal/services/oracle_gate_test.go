package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/impact-escrow/backend/internal/apperr"
	"github.com/impact-escrow/backend/internal/ledger"
	"github.com/impact-escrow/backend/internal/models"
	"github.com/impact-escrow/backend/internal/oracle"
	"github.com/impact-escrow/backend/internal/repositories"
)

type OracleGateSuite struct {
	suite.Suite
	h *harness
}

func (s *OracleGateSuite) SetupTest() {
	s.h = newHarness(s.T(), withRequiredSignature())
}

func TestOracleGateSuite(t *testing.T) {
	suite.Run(t, new(OracleGateSuite))
}

func (s *OracleGateSuite) outcomes(view *models.EscrowView) []string {
	list, err := s.h.gate.Verdicts(s.h.ctx, view.ID)
	s.Require().NoError(err)
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, v.Outcome)
	}
	return out
}

func (s *OracleGateSuite) TestApprovalReleases() {
	view := s.h.createEscrow(s.T(), "40", time.Hour)

	res, err := s.h.gate.SubmitVerdict(s.h.ctx, view.ID, s.h.approval(view.ID, []byte("tree planting photos")))
	s.Require().NoError(err)
	s.Equal(models.VerdictOutcomeReleased, res.Outcome)
	s.Equal(models.EscrowStatusReleased, res.Escrow.Status)
	s.NotEmpty(res.ConfirmationID)

	_, err = s.h.secretRepo.Get(s.h.ctx, view.ID)
	s.ErrorIs(err, repositories.ErrNotFound)
	s.Equal([]string{models.VerdictOutcomeReleased}, s.outcomes(view))
}

func (s *OracleGateSuite) TestDuplicateApprovalIsNoop() {
	view := s.h.createEscrow(s.T(), "40", time.Hour)
	sub := s.h.approval(view.ID, []byte("evidence"))

	_, err := s.h.gate.SubmitVerdict(s.h.ctx, view.ID, sub)
	s.Require().NoError(err)
	res, err := s.h.gate.SubmitVerdict(s.h.ctx, view.ID, sub)
	s.Require().NoError(err)

	s.Equal(models.VerdictOutcomeAlreadyDone, res.Outcome)
	s.Equal(models.EscrowStatusReleased, res.Escrow.Status)
	s.Equal(1, s.h.ledger.Calls(ledger.OpUnlock))
}

func (s *OracleGateSuite) TestForgedEvidence() {
	view := s.h.createEscrow(s.T(), "40", time.Hour)
	sub := s.h.approval(view.ID, []byte("real evidence"))
	sub.Evidence = []byte("swapped evidence")

	_, err := s.h.gate.SubmitVerdict(s.h.ctx, view.ID, sub)
	s.ErrorIs(err, ErrEvidenceIntegrity)
	s.Equal(apperr.Integrity, apperr.KindOf(err))
	s.Equal(0, s.h.ledger.Calls(ledger.OpUnlock))
	s.Equal(1.0, testutil.ToFloat64(s.h.metrics.IntegrityFailures.WithLabelValues("evidence")))

	got, err := s.h.escrows.Get(s.h.ctx, view.ID)
	s.Require().NoError(err)
	s.Equal(models.EscrowStatusLocked, got.Status)
	_, err = s.h.secretRepo.Get(s.h.ctx, view.ID)
	s.NoError(err)
	s.Equal([]string{models.VerdictOutcomeForged}, s.outcomes(view))
}

func (s *OracleGateSuite) TestSignatureChecks() {
	view := s.h.createEscrow(s.T(), "40", time.Hour)

	s.Run("missing signature", func() {
		sub := s.h.approval(view.ID, []byte("e"))
		sub.Signature = ""
		_, err := s.h.gate.SubmitVerdict(s.h.ctx, view.ID, sub)
		s.ErrorIs(err, ErrBadSignature)
	})

	s.Run("signature over a rejection", func() {
		sub := s.h.approval(view.ID, []byte("e"))
		sub.Signature = oracle.Sign(s.h.validatorKey, view.ID.String(), false, sub.EvidenceHash)
		_, err := s.h.gate.SubmitVerdict(s.h.ctx, view.ID, sub)
		s.ErrorIs(err, ErrBadSignature)
	})

	s.Run("unknown validator", func() {
		sub := s.h.approval(view.ID, []byte("e"))
		sub.ValidatorIdentity = "someone-else"
		sub.Caller = "someone-else"
		_, err := s.h.gate.SubmitVerdict(s.h.ctx, view.ID, sub)
		s.ErrorIs(err, ErrBadSignature)
	})

	s.Run("caller is not the validator", func() {
		sub := s.h.approval(view.ID, []byte("e"))
		sub.Caller = "validator-2"
		_, err := s.h.gate.SubmitVerdict(s.h.ctx, view.ID, sub)
		s.ErrorIs(err, ErrValidatorMismatch)
	})

	s.Equal(0, s.h.ledger.Calls(ledger.OpUnlock))
}

func (s *OracleGateSuite) TestRejectionKeepsSecret() {
	view := s.h.createEscrow(s.T(), "40", time.Hour)
	evidence := []byte("incomplete report")
	hash := oracle.HashEvidence(evidence)

	res, err := s.h.gate.SubmitVerdict(s.h.ctx, view.ID, VerdictSubmission{
		Approved:          false,
		EvidenceHash:      hash,
		ValidatorIdentity: validatorID,
		Evidence:          evidence,
		Signature:         oracle.Sign(s.h.validatorKey, view.ID.String(), false, hash),
	})
	s.Require().NoError(err)
	s.Equal(models.VerdictOutcomeRejected, res.Outcome)
	s.Equal(models.EscrowStatusLocked, res.Escrow.Status)

	res, err = s.h.gate.SubmitVerdict(s.h.ctx, view.ID, s.h.approval(view.ID, []byte("complete report")))
	s.Require().NoError(err)
	s.Equal(models.VerdictOutcomeReleased, res.Outcome)
	s.Equal([]string{models.VerdictOutcomeRejected, models.VerdictOutcomeReleased}, s.outcomes(view))
}

func (s *OracleGateSuite) TestApprovalAfterDeadline() {
	view := s.h.createEscrow(s.T(), "40", time.Hour)
	s.h.clock.Advance(2 * time.Hour)

	_, err := s.h.gate.SubmitVerdict(s.h.ctx, view.ID, s.h.approval(view.ID, []byte("late")))
	s.ErrorIs(err, ErrDeadlineElapsed)
	s.Equal([]string{models.VerdictOutcomeWindowClosed}, s.outcomes(view))
	s.Equal(0, s.h.ledger.Calls(ledger.OpUnlock))
}

func (s *OracleGateSuite) TestLedgerFailureAllowsResubmission() {
	view := s.h.createEscrow(s.T(), "40", time.Hour)
	sub := s.h.approval(view.ID, []byte("evidence"))

	s.h.ledger.FailNext(ledger.OpUnlock, ledger.Unavailable(ledger.OpUnlock, context.DeadlineExceeded))
	_, err := s.h.gate.SubmitVerdict(s.h.ctx, view.ID, sub)
	s.ErrorIs(err, ErrLedgerSubmission)
	s.Equal(apperr.Transient, apperr.KindOf(err))

	res, err := s.h.gate.SubmitVerdict(s.h.ctx, view.ID, sub)
	s.Require().NoError(err)
	s.Equal(models.VerdictOutcomeReleased, res.Outcome)
	s.Equal([]string{models.VerdictOutcomeReleaseFailed, models.VerdictOutcomeReleased}, s.outcomes(view))
}

func (s *OracleGateSuite) TestConcurrentApprovals() {
	view := s.h.createEscrow(s.T(), "40", time.Hour)
	sub := s.h.approval(view.ID, []byte("evidence"))

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		released int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.h.gate.SubmitVerdict(s.h.ctx, view.ID, sub)
			if !s.NoError(err) {
				return
			}
			if res.Outcome == models.VerdictOutcomeReleased {
				mu.Lock()
				released++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(1, released)
	s.Equal(1, s.h.ledger.Calls(ledger.OpUnlock))
}

type stubVerifier struct {
	verdict oracle.Verdict
	err     error
	seen    oracle.VerificationRequest
}

func (v *stubVerifier) Verify(_ context.Context, req oracle.VerificationRequest) (oracle.Verdict, error) {
	v.seen = req
	return v.verdict, v.err
}

func TestOracleGateEvaluate(t *testing.T) {
	evidence := []byte("satellite imagery")
	stub := &stubVerifier{}
	h := newHarness(t, withVerifier(stub))
	view := h.createEscrow(t, "15", time.Hour)

	stub.verdict = oracle.Verdict{
		Approved:          true,
		EvidenceHash:      oracle.HashEvidence(evidence),
		ValidatorIdentity: validatorID,
	}
	res, err := h.gate.Evaluate(h.ctx, view.ID, evidence)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Outcome != models.VerdictOutcomeReleased {
		t.Fatalf("outcome = %s, want released", res.Outcome)
	}
	if stub.seen.Beneficiary != h.beneficiary {
		t.Errorf("verifier saw beneficiary %q", stub.seen.Beneficiary)
	}

	other := h.createEscrow(t, "15", time.Hour)
	stub.err = oracle.ErrUnavailable
	_, err = h.gate.Evaluate(h.ctx, other.ID, evidence)
	if apperr.KindOf(err) != apperr.Transient {
		t.Fatalf("kind = %v, want transient", apperr.KindOf(err))
	}
}
