package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/crawlpilot/beercrawl/config"
	"github.com/crawlpilot/beercrawl/internal/models"
	"github.com/crawlpilot/beercrawl/internal/repositories"
)

// MatcherService maps signed-up users into crawl groups. It is the only
// writer of CrawlGroup membership.
type MatcherService struct {
	userRepo  repositories.IUserRepository
	groupRepo repositories.IGroupRepository
	cfg       config.CrawlConfig
	logger    *zap.Logger

	// poolMu serializes find-or-create per (area, group type) so two
	// concurrent calls against an empty pool create exactly one group.
	// Capacity inside a group is still guarded by the database row lock.
	mu     sync.Mutex
	poolMu map[string]*sync.Mutex
}

// NewMatcherService creates a new matcher service instance
func NewMatcherService(userRepo repositories.IUserRepository, groupRepo repositories.IGroupRepository, cfg config.CrawlConfig, logger *zap.Logger) *MatcherService {
	return &MatcherService{
		userRepo:  userRepo,
		groupRepo: groupRepo,
		cfg:       cfg,
		logger:    logger,
		poolMu:    make(map[string]*sync.Mutex),
	}
}

// SignupRequest carries the preferences collected at signup.
type SignupRequest struct {
	WhatsAppNumber     string `json:"whatsapp_number" binding:"required"`
	PreferredArea      string `json:"preferred_area" binding:"required"`
	PreferredGroupType string `json:"preferred_group_type"`
	Gender             string `json:"gender"`
	AgeRange           string `json:"age_range"`
}

// GroupDTO is the public view of a crawl group.
type GroupDTO struct {
	ID             uint       `json:"id"`
	GroupType      string     `json:"group_type"`
	Area           string     `json:"area"`
	Status         string     `json:"status"`
	MinMembers     int        `json:"min_members"`
	MaxMembers     int        `json:"max_members"`
	CurrentMembers int        `json:"current_members"`
	CurrentBarID   *uint      `json:"current_bar_id,omitempty"`
	MeetingTime    *time.Time `json:"meeting_time,omitempty"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// FindGroupResult is returned by FindGroup.
type FindGroupResult struct {
	Group        *GroupDTO `json:"group"`
	Created      bool      `json:"created"`
	ReadyToStart bool      `json:"ready_to_start"`
}

func toGroupDTO(g *models.CrawlGroup) *GroupDTO {
	return &GroupDTO{
		ID:             g.ID,
		GroupType:      g.GroupType,
		Area:           g.Area,
		Status:         g.Status,
		MinMembers:     g.MinMembers,
		MaxMembers:     g.MaxMembers,
		CurrentMembers: g.CurrentMembers,
		CurrentBarID:   g.CurrentBarID,
		MeetingTime:    g.MeetingTime,
		StartTime:      g.StartTime,
		CreatedAt:      g.CreatedAt,
	}
}

// Signup registers a user's preferences. Re-signup with a known number
// updates the existing row instead of creating a duplicate; the number
// itself never changes.
func (s *MatcherService) Signup(ctx context.Context, req *SignupRequest) (*models.UserPreferences, bool, error) {
	if req.WhatsAppNumber == "" || req.PreferredArea == "" {
		return nil, false, fmt.Errorf("%w: whatsapp_number and preferred_area are required", ErrValidation)
	}
	groupType := req.PreferredGroupType
	if groupType == "" {
		groupType = "mixed"
	}

	existing, err := s.userRepo.FindByNumber(ctx, req.WhatsAppNumber)
	if err == nil {
		existing.PreferredArea = normalize(req.PreferredArea)
		existing.PreferredGroupType = normalize(groupType)
		existing.Gender = req.Gender
		existing.AgeRange = req.AgeRange
		if err := s.userRepo.Update(ctx, existing); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	user := &models.UserPreferences{
		WhatsAppNumber:     req.WhatsAppNumber,
		PreferredArea:      normalize(req.PreferredArea),
		PreferredGroupType: normalize(groupType),
		Gender:             req.Gender,
		AgeRange:           req.AgeRange,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, false, err
	}
	s.logger.Info("user signed up",
		zap.String("number", user.WhatsAppNumber),
		zap.String("area", user.PreferredArea),
	)
	return user, true, nil
}

// GetUser returns the preferences for a WhatsApp number.
func (s *MatcherService) GetUser(ctx context.Context, whatsappNumber string) (*models.UserPreferences, error) {
	user, err := s.userRepo.FindByNumber(ctx, whatsappNumber)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, whatsappNumber)
	}
	return user, err
}

// FindGroup places a user into a compatible forming group, creating one
// when none exists. Idempotent: if the user already belongs to a
// non-terminal group, that group is returned. A capacity race inside a
// group triggers one internal re-match before surfacing ErrConflict.
func (s *MatcherService) FindGroup(ctx context.Context, whatsappNumber string) (*FindGroupResult, error) {
	user, err := s.userRepo.FindByNumber(ctx, whatsappNumber)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, whatsappNumber)
	}
	if err != nil {
		return nil, err
	}

	// Existing non-terminal membership wins over a fresh match.
	if member, err := s.groupRepo.FindActiveMembership(ctx, user.ID); err == nil {
		return s.result(member.Group, false), nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	res, err := s.matchOnce(ctx, user)
	if errors.Is(err, repositories.ErrGroupFull) || errors.Is(err, repositories.ErrGroupNotOpen) {
		// Lost a capacity race; the second attempt lands in an alternate
		// or fresh group.
		res, err = s.matchOnce(ctx, user)
	}
	if errors.Is(err, repositories.ErrGroupFull) || errors.Is(err, repositories.ErrGroupNotOpen) {
		return nil, fmt.Errorf("%w: group filled concurrently", ErrConflict)
	}
	return res, err
}

func (s *MatcherService) matchOnce(ctx context.Context, user *models.UserPreferences) (*FindGroupResult, error) {
	unlock := s.lockPool(user.PreferredArea, user.PreferredGroupType)
	defer unlock()

	groups, err := s.groupRepo.FindForming(ctx, user.PreferredArea, user.PreferredGroupType)
	if err != nil {
		return nil, err
	}

	// Oldest group first so forming groups fill up FIFO.
	for _, group := range groups {
		err := s.groupRepo.AddMember(ctx, group.ID, user.ID)
		switch {
		case err == nil, errors.Is(err, repositories.ErrAlreadyMember):
			joined, err := s.groupRepo.FindByID(ctx, group.ID)
			if err != nil {
				return nil, err
			}
			s.logger.Info("user joined group",
				zap.String("number", user.WhatsAppNumber),
				zap.Uint("group_id", joined.ID),
				zap.Int("members", joined.CurrentMembers),
			)
			return s.result(joined, false), nil
		case errors.Is(err, repositories.ErrGroupFull), errors.Is(err, repositories.ErrGroupNotOpen):
			continue
		default:
			return nil, err
		}
	}

	group := &models.CrawlGroup{
		GroupType:  user.PreferredGroupType,
		Area:       user.PreferredArea,
		Status:     models.GroupStatusForming,
		MinMembers: s.cfg.MinGroupSize,
		MaxMembers: s.cfg.MaxGroupSize,
	}
	if err := s.groupRepo.Create(ctx, group); err != nil {
		return nil, err
	}
	if err := s.groupRepo.AddMember(ctx, group.ID, user.ID); err != nil {
		return nil, err
	}
	created, err := s.groupRepo.FindByID(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("created group",
		zap.Uint("group_id", created.ID),
		zap.String("area", created.Area),
		zap.String("type", created.GroupType),
	)
	res := s.result(created, false)
	res.Created = true
	return res, nil
}

// LeaveGroup removes a user from their current forming group so they can
// be matched again ("don't like this group" flow). Leaving an active
// crawl is not supported.
func (s *MatcherService) LeaveGroup(ctx context.Context, whatsappNumber string) error {
	user, err := s.userRepo.FindByNumber(ctx, whatsappNumber)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: user %s", ErrNotFound, whatsappNumber)
	}
	if err != nil {
		return err
	}

	member, err := s.groupRepo.FindActiveMembership(ctx, user.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if member.Group != nil && member.Group.Status != models.GroupStatusForming {
		return fmt.Errorf("%w: cannot leave a group that already started", ErrConflict)
	}
	return s.groupRepo.RemoveMember(ctx, member.GroupID, user.ID)
}

// GroupMembers returns the active members of a group.
func (s *MatcherService) GroupMembers(ctx context.Context, groupID uint) ([]*models.GroupMember, error) {
	return s.groupRepo.GetMembers(ctx, groupID)
}

func (s *MatcherService) result(g *models.CrawlGroup, created bool) *FindGroupResult {
	return &FindGroupResult{
		Group:        toGroupDTO(g),
		Created:      created,
		ReadyToStart: g.CurrentMembers >= g.MinMembers,
	}
}

func (s *MatcherService) lockPool(area, groupType string) func() {
	key := area + "|" + groupType
	s.mu.Lock()
	mu, ok := s.poolMu[key]
	if !ok {
		mu = &sync.Mutex{}
		s.poolMu[key] = mu
	}
	s.mu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
