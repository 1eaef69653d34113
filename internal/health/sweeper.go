package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper runs the monitor's maintenance on an interval: ledger
// retention cleanup plus the defensive disable check.
type Sweeper struct {
	monitor  *Monitor
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewSweeper(monitor *Monitor, interval time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		monitor:  monitor,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("starting health sweeper")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

func (s *Sweeper) Stop() {
	s.log.Info().Msg("stopping health sweeper")
	close(s.stop)
	s.wg.Wait()
	s.log.Info().Msg("health sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.monitor.CleanupOldEntries(ctx); err != nil {
		s.log.Error().Err(err).Msg("retention cleanup failed")
	}
	if disabled, err := s.monitor.CheckAndDisable(ctx); err != nil {
		s.log.Error().Err(err).Msg("disable sweep failed")
	} else if disabled > 0 {
		s.log.Info().Int("disabled", disabled).Msg("disable sweep completed")
	}
}
