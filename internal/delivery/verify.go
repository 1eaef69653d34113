package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/forgecrm/hookd/internal/models"
	"github.com/forgecrm/hookd/internal/signing"
)

// ValidateURL checks a subscription URL at registration time. In
// production only HTTPS endpoints are accepted.
func ValidateURL(rawURL string, production bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("url must include a host")
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if production {
			return fmt.Errorf("only https urls are allowed in production")
		}
		return nil
	default:
		return fmt.Errorf("url scheme must be http or https")
	}
}

type verificationPayload struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Timestamp string `json:"timestamp"`
}

type verificationResponse struct {
	Challenge string `json:"challenge"`
}

// VerifyEndpoint sends a one-shot signed verification challenge to the
// endpoint. The receiver must answer HTTP 200 with a JSON body echoing
// the challenge value.
func (s *Sender) VerifyEndpoint(ctx context.Context, endpointURL, secret string) error {
	challenge := models.NewChallenge()
	body, _ := json.Marshal(verificationPayload{
		Type:      "webhook.verification",
		Challenge: challenge,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("X-Webhook-Signature", signing.Header(secret, body))
	req.Header.Set("X-Webhook-Event", "webhook.verification")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("verification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("verification failed: endpoint returned HTTP %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read verification response: %w", err)
	}

	var vr verificationResponse
	if err := json.Unmarshal(respBody, &vr); err != nil {
		return fmt.Errorf("verification response is not valid JSON: %w", err)
	}
	if vr.Challenge != challenge {
		return fmt.Errorf("verification failed: challenge mismatch")
	}
	return nil
}
