package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/crawlpilot/beercrawl/config"
	"github.com/crawlpilot/beercrawl/internal/models"
	"github.com/crawlpilot/beercrawl/internal/repositories"
)

// CrawlService drives a group through its crawl: activation, bar
// progression and shutdown. It is the only writer of CrawlSession rows
// and group status.
type CrawlService struct {
	groupRepo   repositories.IGroupRepository
	sessionRepo repositories.ISessionRepository
	cfg         config.CrawlConfig
	logger      *zap.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewCrawlService creates a new crawl service instance. Bar and session
// reads inside a group transition go through the locked transaction, so
// only the out-of-transaction session lookup needs a repository here.
func NewCrawlService(groupRepo repositories.IGroupRepository, sessionRepo repositories.ISessionRepository, cfg config.CrawlConfig, logger *zap.Logger) *CrawlService {
	return &CrawlService{
		groupRepo:   groupRepo,
		sessionRepo: sessionRepo,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// BarDTO is the public view of a bar.
type BarDTO struct {
	ID        uint    `json:"id"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Area      string  `json:"area"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// StartResult is returned by Start.
type StartResult struct {
	Group       *GroupDTO `json:"group"`
	FirstBar    *BarDTO   `json:"first_bar"`
	MeetingTime time.Time `json:"meeting_time"`
	MapLink     string    `json:"map_link"`
}

// NextBarResult is returned by NextBar.
type NextBarResult struct {
	Bar         *BarDTO   `json:"bar"`
	MeetingTime time.Time `json:"meeting_time"`
	MapLink     string    `json:"map_link"`
}

// GroupStatusResult bundles a group with its current session.
type GroupStatusResult struct {
	Group          *GroupDTO            `json:"group"`
	CurrentSession *models.CrawlSession `json:"current_session"`
	MembersCount   int                  `json:"members_count"`
}

func toBarDTO(b *models.Bar) *BarDTO {
	return &BarDTO{
		ID:        b.ID,
		Name:      b.Name,
		Address:   b.Address,
		Area:      b.Area,
		Latitude:  b.Latitude,
		Longitude: b.Longitude,
	}
}

func mapLink(b *models.Bar) string {
	return fmt.Sprintf("https://maps.google.com/?q=%f,%f", b.Latitude, b.Longitude)
}

// Start activates a forming group that has reached its minimum size. The
// first bar is the lowest-ID active bar in the group's area; the meeting
// time is now plus the configured offset.
func (s *CrawlService) Start(ctx context.Context, groupID uint) (*StartResult, error) {
	bars := []*models.Bar{}
	var result *StartResult

	err := s.groupRepo.WithGroupLock(ctx, groupID, func(tx *gorm.DB, group *models.CrawlGroup) error {
		if group.Status != models.GroupStatusForming {
			return fmt.Errorf("%w: group %d is %s, not forming", ErrConflict, group.ID, group.Status)
		}
		if group.CurrentMembers < group.MinMembers {
			return fmt.Errorf("%w: need at least %d members to start, have %d", ErrConflict, group.MinMembers, group.CurrentMembers)
		}

		if err := tx.Where("area = ? AND is_active = ?", group.Area, true).Order("id").Find(&bars).Error; err != nil {
			return err
		}
		if len(bars) == 0 {
			return fmt.Errorf("%w: no active bars in area %q", ErrConflict, group.Area)
		}
		firstBar := bars[0]

		now := s.now()
		meeting := now.Add(s.cfg.MeetingOffset)
		updates := map[string]interface{}{
			"status":            models.GroupStatusActive,
			"start_time":        now,
			"meeting_time":      meeting,
			"current_bar_id":    firstBar.ID,
			"whatsapp_group_id": fmt.Sprintf("crawl-%d-%s", group.ID, uuid.NewString()[:8]),
		}
		if err := tx.Model(group).Updates(updates).Error; err != nil {
			return err
		}

		session := &models.CrawlSession{
			GroupID:      group.ID,
			BarID:        firstBar.ID,
			OrderInCrawl: 1,
			StartTime:    &meeting,
			IsCurrent:    true,
		}
		if err := tx.Create(session).Error; err != nil {
			return err
		}

		group.Status = models.GroupStatusActive
		group.StartTime = &now
		group.MeetingTime = &meeting
		group.CurrentBarID = &firstBar.ID
		result = &StartResult{
			Group:       toGroupDTO(group),
			FirstBar:    toBarDTO(firstBar),
			MeetingTime: meeting,
			MapLink:     mapLink(firstBar),
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: group %d", ErrNotFound, groupID)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("crawl started",
		zap.Uint("group_id", groupID),
		zap.Uint("first_bar", result.FirstBar.ID),
	)
	return result, nil
}

// NextBar closes the current session and moves an active group to the
// next bar: the lowest-ID active bar in the area the group has not
// visited yet, falling back to repeats (never the current bar) once the
// area's pool is exhausted.
func (s *CrawlService) NextBar(ctx context.Context, groupID uint) (*NextBarResult, error) {
	var result *NextBarResult

	err := s.groupRepo.WithGroupLock(ctx, groupID, func(tx *gorm.DB, group *models.CrawlGroup) error {
		if group.Status != models.GroupStatusActive {
			return fmt.Errorf("%w: group %d is %s, not active", ErrConflict, group.ID, group.Status)
		}

		var bars []*models.Bar
		if err := tx.Where("area = ? AND is_active = ?", group.Area, true).Order("id").Find(&bars).Error; err != nil {
			return err
		}

		var visitedIDs []uint
		if err := tx.Model(&models.CrawlSession{}).Where("group_id = ?", groupID).Pluck("bar_id", &visitedIDs).Error; err != nil {
			return err
		}

		next := pickNextBar(bars, visitedIDs, group.CurrentBarID)
		if next == nil {
			return fmt.Errorf("%w: no other bars available in area %q", ErrConflict, group.Area)
		}

		now := s.now()
		if err := tx.Model(&models.CrawlSession{}).
			Where("group_id = ? AND is_current = ?", groupID, true).
			Updates(map[string]interface{}{"is_current": false, "end_time": now}).Error; err != nil {
			return err
		}

		var maxOrder int
		if err := tx.Model(&models.CrawlSession{}).Where("group_id = ?", groupID).
			Select("COALESCE(MAX(order_in_crawl), 0)").Scan(&maxOrder).Error; err != nil {
			return err
		}

		meeting := now.Add(s.cfg.ProgressionInterval)
		session := &models.CrawlSession{
			GroupID:      group.ID,
			BarID:        next.ID,
			OrderInCrawl: maxOrder + 1,
			StartTime:    &meeting,
			IsCurrent:    true,
		}
		if err := tx.Create(session).Error; err != nil {
			return err
		}
		if err := tx.Model(group).Updates(map[string]interface{}{
			"current_bar_id": next.ID,
			"meeting_time":   meeting,
		}).Error; err != nil {
			return err
		}

		result = &NextBarResult{
			Bar:         toBarDTO(next),
			MeetingTime: meeting,
			MapLink:     mapLink(next),
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: group %d", ErrNotFound, groupID)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("group moved to next bar",
		zap.Uint("group_id", groupID),
		zap.Uint("bar_id", result.Bar.ID),
	)
	return result, nil
}

// pickNextBar prefers unvisited bars in ID order; once every bar has
// been visited it allows repeats, excluding the bar the group is at.
func pickNextBar(bars []*models.Bar, visitedIDs []uint, currentBarID *uint) *models.Bar {
	visited := bitset.New(64)
	for _, id := range visitedIDs {
		visited.Set(uint(id))
	}
	for _, bar := range bars {
		if !visited.Test(uint(bar.ID)) {
			return bar
		}
	}
	for _, bar := range bars {
		if currentBarID == nil || bar.ID != *currentBarID {
			return bar
		}
	}
	return nil
}

// End finishes a crawl. Active groups complete; groups that never
// started are cancelled. Ending a terminal group is a no-op.
func (s *CrawlService) End(ctx context.Context, groupID uint) (*GroupDTO, error) {
	var dto *GroupDTO

	err := s.groupRepo.WithGroupLock(ctx, groupID, func(tx *gorm.DB, group *models.CrawlGroup) error {
		if group.IsTerminal() {
			dto = toGroupDTO(group)
			return nil
		}

		status := models.GroupStatusCompleted
		if group.Status == models.GroupStatusForming {
			status = models.GroupStatusCancelled
		}
		now := s.now()
		if err := tx.Model(group).Updates(map[string]interface{}{
			"status":   status,
			"end_time": now,
		}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.CrawlSession{}).
			Where("group_id = ? AND is_current = ?", groupID, true).
			Updates(map[string]interface{}{"is_current": false, "end_time": now}).Error; err != nil {
			return err
		}
		group.Status = status
		group.EndTime = &now
		dto = toGroupDTO(group)
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: group %d", ErrNotFound, groupID)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("crawl ended", zap.Uint("group_id", groupID), zap.String("status", dto.Status))
	return dto, nil
}

// GroupStatus returns a group with its open (or next scheduled) session.
func (s *CrawlService) GroupStatus(ctx context.Context, groupID uint) (*GroupStatusResult, error) {
	group, err := s.groupRepo.FindByID(ctx, groupID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: group %d", ErrNotFound, groupID)
	}
	if err != nil {
		return nil, err
	}

	session, err := s.sessionRepo.Current(ctx, groupID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return &GroupStatusResult{
		Group:          toGroupDTO(group),
		CurrentSession: session,
		MembersCount:   group.CurrentMembers,
	}, nil
}

// ListGroups returns groups, optionally filtered by status.
func (s *CrawlService) ListGroups(ctx context.Context, status string) ([]*GroupDTO, error) {
	groups, err := s.groupRepo.ListByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	dtos := make([]*GroupDTO, 0, len(groups))
	for _, g := range groups {
		dtos = append(dtos, toGroupDTO(g))
	}
	return dtos, nil
}

// OverdueGroups returns active groups whose crawl has outlived the
// configured session window.
func (s *CrawlService) OverdueGroups(ctx context.Context) ([]*GroupDTO, error) {
	cutoff := s.now().Add(-s.cfg.SessionMaxDuration)
	groups, err := s.groupRepo.ActiveStartedBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	dtos := make([]*GroupDTO, 0, len(groups))
	for _, g := range groups {
		dtos = append(dtos, toGroupDTO(g))
	}
	return dtos, nil
}
