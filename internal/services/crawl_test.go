package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/crawlpilot/beercrawl/config"
	"github.com/crawlpilot/beercrawl/internal/models"
	"github.com/crawlpilot/beercrawl/internal/repositories"
)

type crawlFixture struct {
	db      *gorm.DB
	matcher *MatcherService
	crawl   *CrawlService
	cfg     config.CrawlConfig
}

func newCrawlFixture(t *testing.T) *crawlFixture {
	t.Helper()
	db := newTestDB(t)
	cfg := config.DefaultCrawlConfig()
	userRepo := repositories.NewUserRepository(db)
	groupRepo := repositories.NewGroupRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	return &crawlFixture{
		db:      db,
		matcher: NewMatcherService(userRepo, groupRepo, cfg, testLogger()),
		crawl:   NewCrawlService(groupRepo, sessionRepo, cfg, testLogger()),
		cfg:     cfg,
	}
}

func (f *crawlFixture) addBars(t *testing.T, area string, count int) {
	t.Helper()
	for i := 1; i <= count; i++ {
		require.NoError(t, f.db.Create(&models.Bar{
			Name:     fmt.Sprintf("%s bar %d", area, i),
			Address:  fmt.Sprintf("%d High St", i),
			Area:     area,
			IsActive: true,
			Capacity: 50,
		}).Error)
	}
}

// readyGroup signs up enough users to hit the minimum and returns the
// forming group's id.
func (f *crawlFixture) readyGroup(t *testing.T, area string) uint {
	t.Helper()
	ctx := context.Background()
	var groupID uint
	for i := 1; i <= f.cfg.MinGroupSize; i++ {
		number := fmt.Sprintf("44770090%04d", i)
		_, _, err := f.matcher.Signup(ctx, &SignupRequest{WhatsAppNumber: number, PreferredArea: area})
		require.NoError(t, err)
		res, err := f.matcher.FindGroup(ctx, number)
		require.NoError(t, err)
		groupID = res.Group.ID
	}
	return groupID
}

func TestStartCrawl(t *testing.T) {
	ctx := context.Background()

	t.Run("activates at the first bar", func(t *testing.T) {
		f := newCrawlFixture(t)
		f.addBars(t, "ancoats", 3)
		groupID := f.readyGroup(t, "ancoats")

		res, err := f.crawl.Start(ctx, groupID)
		require.NoError(t, err)
		assert.Equal(t, models.GroupStatusActive, res.Group.Status)
		assert.Equal(t, "ancoats bar 1", res.FirstBar.Name)
		assert.NotNil(t, res.Group.StartTime)
		assert.WithinDuration(t, time.Now().Add(f.cfg.MeetingOffset), res.MeetingTime, 5*time.Second)
		assert.Contains(t, res.MapLink, "maps.google.com")

		status, err := f.crawl.GroupStatus(ctx, groupID)
		require.NoError(t, err)
		require.NotNil(t, status.CurrentSession)
		assert.Equal(t, 1, status.CurrentSession.OrderInCrawl)
	})

	t.Run("refuses below minimum size", func(t *testing.T) {
		f := newCrawlFixture(t)
		f.addBars(t, "ancoats", 2)
		_, _, err := f.matcher.Signup(ctx, &SignupRequest{WhatsAppNumber: "447700900001", PreferredArea: "ancoats"})
		require.NoError(t, err)
		res, err := f.matcher.FindGroup(ctx, "447700900001")
		require.NoError(t, err)

		_, err = f.crawl.Start(ctx, res.Group.ID)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("refuses without bars in the area", func(t *testing.T) {
		f := newCrawlFixture(t)
		groupID := f.readyGroup(t, "ancoats")
		_, err := f.crawl.Start(ctx, groupID)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("second start conflicts", func(t *testing.T) {
		f := newCrawlFixture(t)
		f.addBars(t, "ancoats", 2)
		groupID := f.readyGroup(t, "ancoats")

		_, err := f.crawl.Start(ctx, groupID)
		require.NoError(t, err)
		_, err = f.crawl.Start(ctx, groupID)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("unknown group", func(t *testing.T) {
		f := newCrawlFixture(t)
		_, err := f.crawl.Start(ctx, 999)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestNextBar(t *testing.T) {
	ctx := context.Background()

	t.Run("visits bars in order without repeats", func(t *testing.T) {
		f := newCrawlFixture(t)
		f.addBars(t, "ancoats", 3)
		groupID := f.readyGroup(t, "ancoats")
		_, err := f.crawl.Start(ctx, groupID)
		require.NoError(t, err)

		second, err := f.crawl.NextBar(ctx, groupID)
		require.NoError(t, err)
		assert.Equal(t, "ancoats bar 2", second.Bar.Name)

		third, err := f.crawl.NextBar(ctx, groupID)
		require.NoError(t, err)
		assert.Equal(t, "ancoats bar 3", third.Bar.Name)
	})

	t.Run("repeats once the pool is exhausted but never the current bar", func(t *testing.T) {
		f := newCrawlFixture(t)
		f.addBars(t, "ancoats", 2)
		groupID := f.readyGroup(t, "ancoats")
		_, err := f.crawl.Start(ctx, groupID)
		require.NoError(t, err)

		second, err := f.crawl.NextBar(ctx, groupID)
		require.NoError(t, err)
		assert.Equal(t, "ancoats bar 2", second.Bar.Name)

		// Both bars visited; next pick must not be bar 2 again.
		third, err := f.crawl.NextBar(ctx, groupID)
		require.NoError(t, err)
		assert.Equal(t, "ancoats bar 1", third.Bar.Name)
	})

	t.Run("single bar area cannot progress", func(t *testing.T) {
		f := newCrawlFixture(t)
		f.addBars(t, "ancoats", 1)
		groupID := f.readyGroup(t, "ancoats")
		_, err := f.crawl.Start(ctx, groupID)
		require.NoError(t, err)

		_, err = f.crawl.NextBar(ctx, groupID)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("requires an active group", func(t *testing.T) {
		f := newCrawlFixture(t)
		f.addBars(t, "ancoats", 2)
		groupID := f.readyGroup(t, "ancoats")
		_, err := f.crawl.NextBar(ctx, groupID)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("sessions are numbered sequentially", func(t *testing.T) {
		f := newCrawlFixture(t)
		f.addBars(t, "ancoats", 3)
		groupID := f.readyGroup(t, "ancoats")
		_, err := f.crawl.Start(ctx, groupID)
		require.NoError(t, err)
		_, err = f.crawl.NextBar(ctx, groupID)
		require.NoError(t, err)
		_, err = f.crawl.NextBar(ctx, groupID)
		require.NoError(t, err)

		var sessions []models.CrawlSession
		require.NoError(t, f.db.Where("group_id = ?", groupID).Order("order_in_crawl").Find(&sessions).Error)
		require.Len(t, sessions, 3)
		for i, s := range sessions {
			assert.Equal(t, i+1, s.OrderInCrawl)
			assert.Equal(t, i == len(sessions)-1, s.IsCurrent)
		}
	})
}

func TestEndCrawl(t *testing.T) {
	ctx := context.Background()

	t.Run("forming group cancels", func(t *testing.T) {
		f := newCrawlFixture(t)
		groupID := f.readyGroup(t, "ancoats")

		group, err := f.crawl.End(ctx, groupID)
		require.NoError(t, err)
		assert.Equal(t, models.GroupStatusCancelled, group.Status)
	})

	t.Run("active group completes and closes the session", func(t *testing.T) {
		f := newCrawlFixture(t)
		f.addBars(t, "ancoats", 2)
		groupID := f.readyGroup(t, "ancoats")
		_, err := f.crawl.Start(ctx, groupID)
		require.NoError(t, err)

		group, err := f.crawl.End(ctx, groupID)
		require.NoError(t, err)
		assert.Equal(t, models.GroupStatusCompleted, group.Status)

		var open int64
		require.NoError(t, f.db.Model(&models.CrawlSession{}).
			Where("group_id = ? AND is_current = ?", groupID, true).Count(&open).Error)
		assert.Zero(t, open)
	})

	t.Run("idempotent on terminal groups", func(t *testing.T) {
		f := newCrawlFixture(t)
		groupID := f.readyGroup(t, "ancoats")

		first, err := f.crawl.End(ctx, groupID)
		require.NoError(t, err)
		second, err := f.crawl.End(ctx, groupID)
		require.NoError(t, err)
		assert.Equal(t, first.Status, second.Status)
	})
}

func TestOverdueGroups(t *testing.T) {
	ctx := context.Background()

	f := newCrawlFixture(t)
	f.addBars(t, "ancoats", 2)
	groupID := f.readyGroup(t, "ancoats")
	_, err := f.crawl.Start(ctx, groupID)
	require.NoError(t, err)

	overdue, err := f.crawl.OverdueGroups(ctx)
	require.NoError(t, err)
	assert.Empty(t, overdue)

	// Jump the clock past the session window.
	f.crawl.now = func() time.Time { return time.Now().Add(f.cfg.SessionMaxDuration + time.Minute) }

	overdue, err = f.crawl.OverdueGroups(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, groupID, overdue[0].ID)
}
