package bot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/crawlpilot/beercrawl/config"
	"github.com/crawlpilot/beercrawl/internal/models"
	"github.com/crawlpilot/beercrawl/internal/services"
)

// Sweeper drives time-based group transitions. Each tick it enqueues
// progression tasks for active groups whose meeting time has passed,
// wind-down tasks for groups out past the session limit, and, once a day
// at the cleanup hour, cancellation of forming groups left over from the
// previous day.
type Sweeper struct {
	crawl    *services.CrawlService
	enq      *Enqueuer
	cfg      config.CrawlConfig
	logger   *zap.Logger
	now      func() time.Time
	lastDay  int
	interval time.Duration
}

func NewSweeper(crawl *services.CrawlService, enq *Enqueuer, cfg config.CrawlConfig, logger *zap.Logger) *Sweeper {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		crawl:    crawl,
		enq:      enq,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		lastDay:  -1,
		interval: interval,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Failures are logged and skipped; the next tick
// retries naturally.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now()

	overdue, err := s.crawl.OverdueGroups(ctx)
	if err != nil {
		s.logger.Error("failed to list overdue groups", zap.Error(err))
	} else {
		for _, g := range overdue {
			if err := s.enq.EndGroup(ctx, g.ID); err != nil {
				s.logger.Error("failed to enqueue end task", zap.Uint("group_id", g.ID), zap.Error(err))
			}
		}
	}

	active, err := s.crawl.ListGroups(ctx, models.GroupStatusActive)
	if err != nil {
		s.logger.Error("failed to list active groups", zap.Error(err))
	} else {
		for _, g := range active {
			if g.MeetingTime == nil || g.MeetingTime.After(now) {
				continue
			}
			if err := s.enq.ProgressGroup(ctx, g.ID); err != nil {
				s.logger.Error("failed to enqueue progression task", zap.Uint("group_id", g.ID), zap.Error(err))
			}
		}
	}

	// >= rather than ==: with a long sweep interval no tick may land
	// inside the cleanup hour itself, and the YearDay latch already keeps
	// this to once a day.
	if now.Hour() >= s.cfg.CleanupHour && now.YearDay() != s.lastDay {
		s.lastDay = now.YearDay()
		s.cleanupStaleForming(ctx, now)
	}
}

// cleanupStaleForming cancels forming groups that never filled up.
// Anything created before the previous midnight is fair game.
func (s *Sweeper) cleanupStaleForming(ctx context.Context, now time.Time) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	forming, err := s.crawl.ListGroups(ctx, models.GroupStatusForming)
	if err != nil {
		s.logger.Error("failed to list forming groups", zap.Error(err))
		return
	}
	for _, g := range forming {
		if !g.CreatedAt.Before(midnight) {
			continue
		}
		if err := s.enq.EndGroup(ctx, g.ID); err != nil {
			s.logger.Error("failed to enqueue cleanup task", zap.Uint("group_id", g.ID), zap.Error(err))
		}
	}
	s.logger.Info("stale forming group cleanup complete", zap.Int("candidates", len(forming)))
}
