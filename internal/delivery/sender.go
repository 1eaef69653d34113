package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/forgecrm/hookd/internal/models"
	"github.com/forgecrm/hookd/internal/signing"
)

// UserAgent identifies hookd on outbound requests.
const UserAgent = "ForgeCRM-Webhook/1.0"

// Result is the outcome of a single delivery attempt. Attempt is
// filled in by the retry coordinator.
type Result struct {
	Success        bool   `json:"success"`
	StatusCode     int    `json:"status_code,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
	Attempt        int    `json:"attempt"`
}

// Sender performs one signed HTTP POST per call. It never retries and
// never persists; those concerns belong to the coordinator and the
// dispatcher.
type Sender struct {
	client *http.Client
}

func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send serializes the envelope, signs the exact body bytes and POSTs
// them. Any transport error or HTTP status >= 400 is a failure; 2xx
// and 3xx are success.
func (s *Sender) Send(ctx context.Context, url, secret string, env models.Envelope) *Result {
	start := time.Now()

	body, err := json.Marshal(env)
	if err != nil {
		return &Result{
			Error:          fmt.Sprintf("failed to serialize envelope: %v", err),
			ResponseTimeMs: time.Since(start).Milliseconds(),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Result{
			Error:          fmt.Sprintf("failed to create request: %v", err),
			ResponseTimeMs: time.Since(start).Milliseconds(),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("X-Webhook-Signature", signing.Header(secret, body))
	req.Header.Set("X-Webhook-Event", env.Type)
	req.Header.Set("X-Webhook-Delivery", env.ID)
	req.Header.Set("X-Webhook-Timestamp", env.Timestamp)
	req.Header.Set("X-Webhook-Workspace", env.WorkspaceID)

	resp, err := s.client.Do(req)
	if err != nil {
		return &Result{
			Error:          fmt.Sprintf("request failed: %v", err),
			ResponseTimeMs: time.Since(start).Milliseconds(),
		}
	}
	defer resp.Body.Close()

	result := &Result{
		StatusCode:     resp.StatusCode,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}
	if resp.StatusCode >= 400 {
		result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	} else {
		result.Success = true
	}
	return result
}
