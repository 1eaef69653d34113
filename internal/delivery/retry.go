package delivery

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/forgecrm/hookd/internal/models"
)

// DefaultRetrySchedule is the delay slept after each failed attempt
// before the next one.
var DefaultRetrySchedule = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
}

// DefaultMaxAttempts bounds the attempts per delivery.
const DefaultMaxAttempts = 3

// Coordinator wraps a Sender with bounded retries. Each coordinator
// call runs on its own goroutine during dispatch, so the backoff sleep
// of one subscription never stalls another.
type Coordinator struct {
	sender      *Sender
	maxAttempts int
	schedule    []time.Duration
	sleep       func(context.Context, time.Duration)
	log         zerolog.Logger
}

func NewCoordinator(sender *Sender, maxAttempts int, schedule []time.Duration, log zerolog.Logger) *Coordinator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if len(schedule) == 0 {
		schedule = DefaultRetrySchedule
	}
	return &Coordinator{
		sender:      sender,
		maxAttempts: maxAttempts,
		schedule:    schedule,
		sleep:       sleepCtx,
		log:         log,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// SetSleep overrides the backoff sleep. Tests use this to run the
// schedule without real delays.
func (c *Coordinator) SetSleep(fn func(context.Context, time.Duration)) {
	c.sleep = fn
}

// Deliver attempts the delivery up to maxAttempts times, sleeping the
// schedule delay between attempts. It returns on the first success;
// otherwise the final failing result is returned with Attempt set to
// the attempt count used.
func (c *Coordinator) Deliver(ctx context.Context, url, secret string, env models.Envelope) *Result {
	var result *Result
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		result = c.sender.Send(ctx, url, secret, env)
		result.Attempt = attempt

		if result.Success {
			return result
		}

		c.log.Debug().
			Str("event_id", env.ID).
			Str("url", url).
			Int("attempt", attempt).
			Int("status_code", result.StatusCode).
			Str("error", result.Error).
			Msg("delivery attempt failed")

		if attempt < c.maxAttempts {
			delay := c.schedule[min(attempt-1, len(c.schedule)-1)]
			c.sleep(ctx, delay)
			if ctx.Err() != nil {
				return result
			}
		}
	}
	return result
}
