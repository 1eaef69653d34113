package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/forgecrm/hookd/internal/health"
	"github.com/forgecrm/hookd/internal/models"
	"github.com/forgecrm/hookd/internal/storage"
)

// Dispatcher fans an event out to every matching active subscription
// of a workspace. Individual subscriber failures are contained: they
// are logged to the ledger and the health counters, never surfaced to
// the caller.
type Dispatcher struct {
	store   storage.Storage
	coord   *Coordinator
	sender  *Sender
	monitor *health.Monitor
	log     zerolog.Logger
}

func NewDispatcher(store storage.Storage, coord *Coordinator, sender *Sender, monitor *health.Monitor, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		coord:   coord,
		sender:  sender,
		monitor: monitor,
		log:     log,
	}
}

// Dispatch delivers the event to all matching subscriptions in
// parallel and waits for every delivery to settle. A slow subscriber
// waiting out its retry schedule delays only itself.
func (d *Dispatcher) Dispatch(ctx context.Context, workspaceID string, event *models.Event) {
	subs, err := d.store.ListActiveSubscriptions(ctx, workspaceID)
	if err != nil {
		d.log.Error().Err(err).Str("workspace_id", workspaceID).Msg("failed to load subscriptions")
		return
	}

	matched := subs[:0]
	for _, sub := range subs {
		if models.MatchesEventType(sub.EventTypes, event.Type) {
			matched = append(matched, sub)
		}
	}

	if len(matched) == 0 {
		d.log.Debug().
			Str("workspace_id", workspaceID).
			Str("event_type", event.Type).
			Msg("no matching subscriptions")
		return
	}

	env := models.NewEnvelope(event)

	var wg sync.WaitGroup
	for _, sub := range matched {
		sub := sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.deliverOne(ctx, &sub, event, env)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) deliverOne(ctx context.Context, sub *models.Subscription, event *models.Event, env models.Envelope) {
	secret, err := d.store.GetActiveSecret(ctx, sub.ID)
	if err != nil || secret == nil {
		d.log.Error().Err(err).
			Str("subscription_id", sub.ID).
			Msg("no active signing secret, skipping delivery")
		d.recordOutcome(ctx, sub, event, &Result{
			Error:   "no active signing secret",
			Attempt: 0,
		})
		return
	}

	result := d.coord.Deliver(ctx, sub.URL, secret.Secret, env)
	d.recordOutcome(ctx, sub, event, result)

	if result.Success {
		d.log.Info().
			Str("subscription_id", sub.ID).
			Str("event_id", event.ID).
			Int("status_code", result.StatusCode).
			Int("attempt", result.Attempt).
			Int64("response_time_ms", result.ResponseTimeMs).
			Msg("delivery succeeded")
	} else {
		d.log.Warn().
			Str("subscription_id", sub.ID).
			Str("event_id", event.ID).
			Int("attempts", result.Attempt).
			Str("error", result.Error).
			Msg("delivery failed")
	}
}

// recordOutcome persists the terminal ledger row and applies the
// health counters. Ledger writes are best-effort: a failed insert is
// logged and swallowed so it cannot affect other subscribers.
func (d *Dispatcher) recordOutcome(ctx context.Context, sub *models.Subscription, event *models.Event, result *Result) {
	entry := &models.DeliveryLog{
		ID:             models.NewID("log"),
		SubscriptionID: sub.ID,
		EventID:        event.ID,
		EventType:      event.Type,
		Payload:        event.Data,
		Success:        result.Success,
		StatusCode:     result.StatusCode,
		ResponseTimeMs: result.ResponseTimeMs,
		Error:          result.Error,
		Attempts:       result.Attempt,
		CreatedAt:      time.Now().UTC(),
	}
	if err := d.store.CreateDeliveryLog(ctx, entry); err != nil {
		d.log.Error().Err(err).
			Str("subscription_id", sub.ID).
			Str("event_id", event.ID).
			Msg("failed to write delivery log")
	}

	d.monitor.RecordOutcome(ctx, sub.ID, result.Success, result.Error)
}

// SendTest performs a single signed delivery of a webhook.test event
// and returns the raw result for operator debugging. It bypasses the
// retry schedule and the ledger.
func (d *Dispatcher) SendTest(ctx context.Context, sub *models.Subscription) *Result {
	secret, err := d.store.GetActiveSecret(ctx, sub.ID)
	if err != nil || secret == nil {
		return &Result{Error: "no active signing secret"}
	}

	event := models.NewEvent("webhook.test", sub.WorkspaceID,
		[]byte(`{"message":"test delivery"}`), "hookd")
	result := d.sender.Send(ctx, sub.URL, secret.Secret, models.NewEnvelope(event))
	result.Attempt = 1
	return result
}
