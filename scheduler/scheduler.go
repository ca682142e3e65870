// Package scheduler runs the cron-driven maintenance sweeps: invitation
// expiry, reputation-tier recompute, and the trending-rings cache
// refresh. None of this changes externally observable semantics; it
// keeps read paths fast and invitation status accurate without relying
// on every join attempt to lazily expire things.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"ringhub.sh/ringhub/core/db"
	"ringhub.sh/ringhub/core/ratelimit"
	"ringhub.sh/ringhub/core/rings"
)

type Scheduler struct {
	cron    *cron.Cron
	db      *db.DB
	limiter *ratelimit.Limiter
	rings   *rings.Engine
	trend   *TrendingCache
	logger  *slog.Logger
}

// New builds a Scheduler. Call Start to begin running its jobs; call Stop
// to drain in-flight runs before shutdown.
func New(database *db.DB, limiter *ratelimit.Limiter, ringsEngine *rings.Engine, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		db:      database,
		limiter: limiter,
		rings:   ringsEngine,
		trend:   NewTrendingCache(),
		logger:  logger,
	}
}

// Trending returns the scheduler's cached trending snapshot, populated on
// Start and refreshed every run of the trending-refresh job.
func (s *Scheduler) Trending() *TrendingCache {
	return s.trend
}

// Start registers and runs the maintenance jobs on their schedules, then
// runs each once immediately so the trending cache isn't empty at boot.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc("@every 5m", func() { s.expireInvitations(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@every 1h", func() { s.recomputeReputations(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@every 1m", func() { s.refreshTrending(ctx) }); err != nil {
		return err
	}

	s.cron.Start()

	s.expireInvitations(ctx)
	s.recomputeReputations(ctx)
	s.refreshTrending(ctx)

	return nil
}

// Stop halts the cron scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) expireInvitations(ctx context.Context) {
	n, err := db.ExpirePendingInvitations(ctx, s.db, time.Now().UTC())
	if err != nil {
		s.logger.Error("scheduler: expire invitations", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("scheduler: expired invitations", "count", n)
	}
}

func (s *Scheduler) recomputeReputations(ctx context.Context) {
	actors, err := db.ListActorsSeenSince(ctx, s.db, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		s.logger.Error("scheduler: list active actors", "error", err)
		return
	}
	var failed int
	for _, a := range actors {
		if err := s.limiter.RefreshTier(ctx, a.Did); err != nil {
			failed++
		}
	}
	s.logger.Info("scheduler: recomputed reputations", "actors", len(actors), "failed", failed)
}

func (s *Scheduler) refreshTrending(ctx context.Context) {
	for _, window := range []string{"hour", "day", "week", "month"} {
		list, err := s.rings.Trending(ctx, window, 50)
		if err != nil {
			s.logger.Error("scheduler: refresh trending", "window", window, "error", err)
			continue
		}
		s.trend.Set(window, list)
	}
}
