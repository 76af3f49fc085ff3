package oracle

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEvidenceMatches(t *testing.T) {
	evidence := []byte(`{"trees_planted":1200}`)
	h := HashEvidence(evidence)

	assert.True(t, EvidenceMatches(evidence, h))
	assert.True(t, EvidenceMatches(evidence, strings.ToUpper(h)))
	assert.False(t, EvidenceMatches([]byte(`{"trees_planted":1201}`), h))
	assert.False(t, EvidenceMatches(evidence, h[:10]))
	assert.False(t, EvidenceMatches(evidence, ""))
}

func TestValidatorSignatures(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	validators, err := ParseValidators("oracle-1=" + hex.EncodeToString(pub))
	require.NoError(t, err)

	h := HashEvidence([]byte("photo"))
	sig := Sign(priv, "escrow-1", true, h)

	assert.NoError(t, validators.Verify("oracle-1", "escrow-1", true, h, sig))
	assert.NoError(t, validators.Verify("oracle-1", "escrow-1", true, strings.ToUpper(h), sig))
	assert.ErrorIs(t, validators.Verify("oracle-1", "escrow-1", false, h, sig), ErrBadSignature)
	assert.ErrorIs(t, validators.Verify("oracle-1", "escrow-2", true, h, sig), ErrBadSignature)
	assert.ErrorIs(t, validators.Verify("oracle-2", "escrow-1", true, h, sig), ErrUnknownValidator)
	assert.ErrorIs(t, validators.Verify("oracle-1", "escrow-1", true, h, "zz"), ErrBadSignature)
}

func TestParseValidatorsErrors(t *testing.T) {
	v, err := ParseValidators("")
	require.NoError(t, err)
	assert.Empty(t, v)

	_, err = ParseValidators("novalue")
	assert.Error(t, err)
	_, err = ParseValidators("a=xyz")
	assert.Error(t, err)
	_, err = ParseValidators("a=abcd")
	assert.Error(t, err)
}

func TestHTTPVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/verify", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var req VerificationRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(Verdict{
			Approved:          true,
			EvidenceHash:      HashEvidence(req.Evidence),
			ValidatorIdentity: "oracle-1",
		})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL+"/", "k", zap.NewNop())
	verdict, err := v.Verify(context.Background(), VerificationRequest{EscrowID: "e1", Evidence: []byte("x")})
	require.NoError(t, err)
	assert.True(t, verdict.Approved)
	assert.Equal(t, HashEvidence([]byte("x")), verdict.EvidenceHash)
}

func TestHTTPVerifierUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPVerifier(srv.URL, "", zap.NewNop()).Verify(context.Background(), VerificationRequest{EscrowID: "e1"})
	assert.ErrorIs(t, err, ErrUnavailable)
}
