package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrUnavailable = errors.New("oracle: service unavailable")

// HTTPVerifier calls the impact-oracle service.
type HTTPVerifier struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

func NewHTTPVerifier(baseURL, apiKey string, log *zap.Logger) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

func (c *HTTPVerifier) Verify(ctx context.Context, vr VerificationRequest) (Verdict, error) {
	body, err := json.Marshal(vr)
	if err != nil {
		return Verdict{}, err
	}

	url := fmt.Sprintf("%s/v1/verify", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Verdict{}, fmt.Errorf("%w: returned %d: %s", ErrUnavailable, resp.StatusCode, string(msg))
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Verdict{}, fmt.Errorf("oracle service returned %d: %s", resp.StatusCode, string(msg))
	}

	var v Verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}

	c.log.Debug("oracle verdict received",
		zap.String("escrow_id", vr.EscrowID),
		zap.Bool("approved", v.Approved),
		zap.String("validator", v.ValidatorIdentity),
	)
	return v, nil
}
