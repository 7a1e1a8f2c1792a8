// Package verify scores checkout attempts with reCAPTCHA v3 before any
// charge is attempted.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const siteVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// Assessment is the verification outcome for one checkout attempt.
type Assessment struct {
	Success bool `json:"success"`
	// Score is nil when the verification service omitted it.
	Score  *float64 `json:"score"`
	Action string   `json:"action"`
	// ErrorCodes as reported by the verification service, e.g.
	// "timeout-or-duplicate".
	ErrorCodes []string `json:"error-codes"`
}

// Verifier assesses a checkout token.
type Verifier interface {
	Assess(ctx context.Context, token, remoteIP string) (*Assessment, error)
}

// Client verifies tokens against Google's siteverify endpoint.
type Client struct {
	httpClient *http.Client
	secret     string
	logger     *zap.Logger
}

// NewClient creates a verifier with the site's secret key.
func NewClient(secret string, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		secret:     secret,
		logger:     logger,
	}
}

// Assess submits the token for scoring.
func (c *Client) Assess(ctx context.Context, token, remoteIP string) (*Assessment, error) {
	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, siteVerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verification request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read verification response: %w", err)
	}

	var assessment Assessment
	if err := json.Unmarshal(body, &assessment); err != nil {
		return nil, fmt.Errorf("malformed verification response: %w", err)
	}

	score := -1.0
	if assessment.Score != nil {
		score = *assessment.Score
	}
	c.logger.Debug("recaptcha assessment",
		zap.Bool("success", assessment.Success),
		zap.Float64("score", score),
		zap.Strings("errorCodes", assessment.ErrorCodes))

	return &assessment, nil
}

// frontEndError is the JSON shape the browser widget submits in place of a
// token when it could not obtain one.
type frontEndError struct {
	Error string `json:"error"`
}

// TokenError extracts the error message when the submitted "token" is
// actually an error report from the browser widget. Returns "" when the
// token looks like a real token.
func TokenError(token string) string {
	trimmed := strings.TrimSpace(token)
	if !strings.HasPrefix(trimmed, "{") {
		return ""
	}
	var fe frontEndError
	if err := json.Unmarshal([]byte(trimmed), &fe); err != nil {
		return ""
	}
	return fe.Error
}
