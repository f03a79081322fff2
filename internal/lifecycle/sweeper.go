package lifecycle

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/swingbuddy/swingbuddy/internal/antispam"
	"github.com/swingbuddy/swingbuddy/internal/db"
	"github.com/swingbuddy/swingbuddy/internal/observability"
	"github.com/swingbuddy/swingbuddy/internal/scenario"
)

const defaultCasRecordRetention = 30 * 24 * time.Hour

// Sweeper periodically removes expired conversation contexts, stale spam
// verdicts and old relational leftovers.
type Sweeper struct {
	contexts  *scenario.Store
	checker   *antispam.Checker
	states    db.StateRepo
	interval  time.Duration
	retention time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper builds a sweeper ticking every interval. casRetention bounds
// how long anti-spam action records are kept; zero means the default of
// thirty days.
func NewSweeper(contexts *scenario.Store, checker *antispam.Checker, states db.StateRepo, interval, casRetention time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if casRetention <= 0 {
		casRetention = defaultCasRecordRetention
	}
	return &Sweeper{
		contexts:  contexts,
		checker:   checker,
		states:    states,
		interval:  interval,
		retention: casRetention,
	}
}

func (s *Sweeper) Start(_ context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.sweep(runCtx)
			}
		}
	}()
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep runs one pass immediately. Failures of one stage do not stop the
// others.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()

	contexts, err := s.contexts.Sweep(ctx)
	if err != nil {
		log.WithError(err).Warn("context sweep failed")
	}
	observability.ContextsSwept.Add(float64(contexts))

	verdicts, err := s.checker.Sweep(ctx)
	if err != nil {
		log.WithError(err).Warn("verdict sweep failed")
	}

	var states, records int64
	if s.states != nil {
		if states, err = s.states.CleanExpiredStates(ctx, time.Now()); err != nil {
			log.WithError(err).Warn("state cleanup failed")
		}
		if records, err = s.states.CleanCasRecords(ctx, time.Now().Add(-s.retention)); err != nil {
			log.WithError(err).Warn("ban record cleanup failed")
		}
	}

	log.WithFields(log.Fields{
		"contexts": contexts,
		"verdicts": verdicts,
		"states":   states,
		"records":  records,
		"took":     time.Since(start).String(),
	}).Info("sweep finished")
}
