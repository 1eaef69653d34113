package replay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/forgecrm/hookd/internal/audit"
	"github.com/forgecrm/hookd/internal/delivery"
	"github.com/forgecrm/hookd/internal/models"
	"github.com/forgecrm/hookd/internal/storage"
)

// Reason is a structured precondition failure, rendered as-is by the
// operator UI.
type Reason string

const (
	ReasonLogNotFound          Reason = "LogNotFound"
	ReasonSubscriptionInactive Reason = "SubscriptionInactive"
	ReasonNoActiveSecret       Reason = "NoActiveSecret"
	ReasonTooOldToReplay       Reason = "TooOldToReplay"
)

// Result is the outcome of one replay. Precondition failures come back
// as Success=false with a Reason, never as an error.
type Result struct {
	Success        bool   `json:"success"`
	NewLogID       string `json:"new_log_id,omitempty"`
	StatusCode     int    `json:"status_code,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms,omitempty"`
	Error          string `json:"error,omitempty"`
	Reason         Reason `json:"reason,omitempty"`
}

// Engine re-delivers previously logged events through the same signing
// and sender path, tagging the new ledger row with replay provenance.
// Replays are operator-triggered, single-attempt, never auto-retried.
type Engine struct {
	store      storage.Storage
	sender     *delivery.Sender
	audit      *audit.Logger
	windowDays int
	log        zerolog.Logger
}

func NewEngine(store storage.Storage, sender *delivery.Sender, auditLog *audit.Logger, windowDays int, log zerolog.Logger) *Engine {
	if windowDays <= 0 {
		windowDays = 30
	}
	return &Engine{
		store:      store,
		sender:     sender,
		audit:      auditLog,
		windowDays: windowDays,
		log:        log,
	}
}

// replayContext is everything the preconditions resolve: the requested
// entry, the chain root, the owning subscription and its active secret.
type replayContext struct {
	entry  *models.DeliveryLog
	root   *models.DeliveryLog
	sub    *models.Subscription
	secret *models.SigningSecret
}

// check resolves and validates all replay preconditions for a ledger
// entry. A non-empty Reason means the replay must not proceed.
func (e *Engine) check(ctx context.Context, logID string) (*replayContext, Reason, error) {
	entry, err := e.store.GetDeliveryLog(ctx, logID)
	if err != nil {
		return nil, "", err
	}
	if entry == nil {
		return nil, ReasonLogNotFound, nil
	}

	root, err := e.resolveRoot(ctx, entry)
	if err != nil {
		return nil, "", err
	}
	if root == nil {
		return nil, ReasonLogNotFound, nil
	}

	sub, err := e.store.GetSubscription(ctx, entry.SubscriptionID)
	if err != nil {
		return nil, "", err
	}
	if sub == nil || !sub.Active {
		return nil, ReasonSubscriptionInactive, nil
	}

	secret, err := e.store.GetActiveSecret(ctx, sub.ID)
	if err != nil {
		return nil, "", err
	}
	if secret == nil {
		return nil, ReasonNoActiveSecret, nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -e.windowDays)
	if entry.CreatedAt.Before(cutoff) {
		return nil, ReasonTooOldToReplay, nil
	}

	return &replayContext{entry: entry, root: root, sub: sub, secret: secret}, "", nil
}

// resolveRoot walks replayed_from links up to the original delivery,
// so a replay of a replay still chains back to the root.
func (e *Engine) resolveRoot(ctx context.Context, entry *models.DeliveryLog) (*models.DeliveryLog, error) {
	current := entry
	for depth := 0; current.ReplayedFrom != "" && depth < 10; depth++ {
		parent, err := e.store.GetDeliveryLog(ctx, current.ReplayedFrom)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, nil
		}
		current = parent
	}
	return current, nil
}

// CanReplay runs the precondition checks without performing the
// replay, for pre-flight use by the UI.
func (e *Engine) CanReplay(ctx context.Context, logID string) (bool, Reason, error) {
	_, reason, err := e.check(ctx, logID)
	if err != nil {
		return false, "", err
	}
	return reason == "", reason, nil
}

// Replay re-delivers the payload of a logged delivery. customPayload
// replaces the original payload when non-nil; either way a _replay
// metadata block is added so receivers can distinguish replays.
func (e *Engine) Replay(ctx context.Context, logID, replayedBy string, customPayload json.RawMessage) (*Result, error) {
	rc, reason, err := e.check(ctx, logID)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return &Result{Success: false, Reason: reason}, nil
	}

	now := time.Now().UTC()
	payload := e.buildPayload(rc, customPayload, replayedBy, now)

	event := &models.Event{
		ID:          models.NewID("evt"),
		Type:        rc.entry.EventType,
		WorkspaceID: rc.sub.WorkspaceID,
		Data:        payload,
		Timestamp:   now,
		Source:      "replay",
	}

	result := e.sender.Send(ctx, rc.sub.URL, rc.secret.Secret, models.NewEnvelope(event))

	entry := &models.DeliveryLog{
		ID:              models.NewID("log"),
		SubscriptionID:  rc.sub.ID,
		EventID:         event.ID,
		EventType:       event.Type,
		Payload:         payload,
		Success:         result.Success,
		StatusCode:      result.StatusCode,
		ResponseTimeMs:  result.ResponseTimeMs,
		Error:           result.Error,
		Attempts:        1,
		ReplayedFrom:    rc.root.ID,
		ReplayedBy:      replayedBy,
		ReplayedAt:      &now,
		OriginalEventID: rc.root.EventID,
		CreatedAt:       now,
	}
	if err := e.store.CreateDeliveryLog(ctx, entry); err != nil {
		e.log.Error().Err(err).Str("log_id", logID).Msg("failed to write replay log")
	}

	e.audit.Record(rc.sub.WorkspaceID, replayedBy, "webhook.replay", "delivery_log", rc.root.ID,
		map[string]interface{}{
			"new_log_id":     entry.ID,
			"event_type":     event.Type,
			"success":        result.Success,
			"custom_payload": customPayload != nil,
		})

	e.log.Info().
		Str("log_id", logID).
		Str("new_log_id", entry.ID).
		Str("replayed_by", replayedBy).
		Bool("success", result.Success).
		Msg("replayed delivery")

	return &Result{
		Success:        result.Success,
		NewLogID:       entry.ID,
		StatusCode:     result.StatusCode,
		ResponseTimeMs: result.ResponseTimeMs,
		Error:          result.Error,
	}, nil
}

// buildPayload merges the replay metadata block into the chosen
// payload. Non-object payloads are wrapped so the metadata always has
// a place to live.
func (e *Engine) buildPayload(rc *replayContext, customPayload json.RawMessage, replayedBy string, now time.Time) json.RawMessage {
	base := rc.entry.Payload
	if customPayload != nil {
		base = customPayload
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(base, &obj); err != nil || obj == nil {
		obj = map[string]interface{}{"data": json.RawMessage(base)}
	}
	obj["_replay"] = map[string]interface{}{
		"original_event_id":  rc.root.EventID,
		"original_timestamp": rc.root.CreatedAt.Format(time.RFC3339),
		"replayed_at":        now.Format(time.RFC3339),
		"replayed_by":        replayedBy,
	}

	merged, err := json.Marshal(obj)
	if err != nil {
		return base
	}
	return merged
}

// BulkSummary aggregates a bulk replay run.
type BulkSummary struct {
	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// BulkItem pairs one log id with its replay result.
type BulkItem struct {
	LogID  string  `json:"log_id"`
	Result *Result `json:"result"`
}

// BulkResult is the full outcome of a bulk replay.
type BulkResult struct {
	Results []BulkItem  `json:"results"`
	Summary BulkSummary `json:"summary"`
}

// BulkReplay replays the ids sequentially. With skipFailures the run
// continues past failures; without it the first failure stops the run
// and the remaining ids count as skipped.
func (e *Engine) BulkReplay(ctx context.Context, logIDs []string, replayedBy string, skipFailures bool) (*BulkResult, error) {
	out := &BulkResult{Summary: BulkSummary{Total: len(logIDs)}}

	for i, id := range logIDs {
		result, err := e.Replay(ctx, id, replayedBy, nil)
		if err != nil {
			return nil, err
		}

		out.Results = append(out.Results, BulkItem{LogID: id, Result: result})
		out.Summary.Processed++
		if result.Success {
			out.Summary.Successful++
		} else {
			out.Summary.Failed++
			if !skipFailures {
				out.Summary.Skipped = len(logIDs) - i - 1
				break
			}
		}
	}
	return out, nil
}

// Chain returns the original delivery followed by all of its replays
// in chronological order. Passing a replay's id resolves to the same
// chain as its root's id.
func (e *Engine) Chain(ctx context.Context, logID string) ([]models.DeliveryLog, error) {
	entry, err := e.store.GetDeliveryLog(ctx, logID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	root, err := e.resolveRoot(ctx, entry)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, nil
	}

	replays, err := e.store.ListReplays(ctx, root.ID)
	if err != nil {
		return nil, err
	}
	return append([]models.DeliveryLog{*root}, replays...), nil
}
