package repositories

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/crawlpilot/beercrawl/internal/models"
)

// Errors surfaced by the membership operations. The matcher translates
// these into its own conflict/retry handling.
var (
	ErrGroupFull     = errors.New("group is full")
	ErrGroupNotOpen  = errors.New("group is not accepting members")
	ErrAlreadyMember = errors.New("already a member of this group")
)

// IGroupRepository defines the interface for crawl group data operations
type IGroupRepository interface {
	Create(ctx context.Context, group *models.CrawlGroup) error
	FindByID(ctx context.Context, id uint) (*models.CrawlGroup, error)
	// FindForming returns forming groups matching area and type with spare
	// capacity, oldest first.
	FindForming(ctx context.Context, area, groupType string) ([]*models.CrawlGroup, error)
	ListByStatus(ctx context.Context, status string) ([]*models.CrawlGroup, error)
	// FindActiveMembership returns the user's membership in a non-terminal
	// group, or gorm.ErrRecordNotFound.
	FindActiveMembership(ctx context.Context, userID uint) (*models.GroupMember, error)
	GetMembers(ctx context.Context, groupID uint) ([]*models.GroupMember, error)
	// AddMember adds the user inside a transaction holding a row lock on
	// the group, re-checking capacity before writing.
	AddMember(ctx context.Context, groupID, userID uint) error
	// RemoveMember deactivates the membership and decrements the count so
	// the user can be re-matched.
	RemoveMember(ctx context.Context, groupID, userID uint) error
	// WithGroupLock runs fn inside a transaction holding a row lock on the
	// group. Status transitions go through here.
	WithGroupLock(ctx context.Context, groupID uint, fn func(tx *gorm.DB, group *models.CrawlGroup) error) error
	// ActiveStartedBefore returns active groups whose crawl started before
	// the cutoff instant. Used by the sweeper.
	ActiveStartedBefore(ctx context.Context, cutoff time.Time) ([]*models.CrawlGroup, error)
}

// GroupRepository implements IGroupRepository interface
type GroupRepository struct {
	db *gorm.DB
}

// NewGroupRepository creates a new IGroupRepository instance
func NewGroupRepository(db *gorm.DB) IGroupRepository {
	return &GroupRepository{db: db}
}

func (r *GroupRepository) Create(ctx context.Context, group *models.CrawlGroup) error {
	return r.db.WithContext(ctx).Create(group).Error
}

func (r *GroupRepository) FindByID(ctx context.Context, id uint) (*models.CrawlGroup, error) {
	var group models.CrawlGroup
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&group).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *GroupRepository) FindForming(ctx context.Context, area, groupType string) ([]*models.CrawlGroup, error) {
	var groups []*models.CrawlGroup
	err := r.db.WithContext(ctx).
		Where("area = ? AND group_type = ? AND status = ?", area, groupType, models.GroupStatusForming).
		Where("current_members < max_members").
		Order("created_at").
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *GroupRepository) ListByStatus(ctx context.Context, status string) ([]*models.CrawlGroup, error) {
	var groups []*models.CrawlGroup
	q := r.db.WithContext(ctx).Order("created_at")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *GroupRepository) FindActiveMembership(ctx context.Context, userID uint) (*models.GroupMember, error) {
	var member models.GroupMember
	err := r.db.WithContext(ctx).
		Joins("JOIN crawl_groups ON crawl_groups.id = group_members.group_id").
		Where("group_members.user_id = ? AND group_members.is_active = ?", userID, true).
		Where("crawl_groups.status IN ?", []string{models.GroupStatusForming, models.GroupStatusActive}).
		Preload("Group").
		First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *GroupRepository) GetMembers(ctx context.Context, groupID uint) ([]*models.GroupMember, error) {
	var members []*models.GroupMember
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND is_active = ?", groupID, true).
		Preload("User").
		Order("joined_at").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

// AddMember joins a user to a group. The group row is locked for the
// duration of the transaction so concurrent joins cannot overshoot
// MaxMembers; the member insert and counter increment commit together,
// keeping CurrentMembers equal to the active member count.
func (r *GroupRepository) AddMember(ctx context.Context, groupID, userID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group models.CrawlGroup
		if err := lockForUpdate(tx).Where("id = ?", groupID).First(&group).Error; err != nil {
			return err
		}
		if group.Status != models.GroupStatusForming {
			return ErrGroupNotOpen
		}
		if group.CurrentMembers >= group.MaxMembers {
			return ErrGroupFull
		}

		var existing models.GroupMember
		err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).First(&existing).Error
		switch {
		case err == nil:
			if existing.IsActive {
				return ErrAlreadyMember
			}
			// Rejoining a group previously left: reactivate the old row so
			// the (group_id, user_id) unique index holds.
			if err := tx.Model(&existing).Update("is_active", true).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			member := &models.GroupMember{GroupID: groupID, UserID: userID, IsActive: true}
			if err := tx.Create(member).Error; err != nil {
				return err
			}
		default:
			return err
		}

		return tx.Model(&group).Update("current_members", gorm.Expr("current_members + 1")).Error
	})
}

func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, userID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group models.CrawlGroup
		if err := lockForUpdate(tx).Where("id = ?", groupID).First(&group).Error; err != nil {
			return err
		}

		res := tx.Model(&models.GroupMember{}).
			Where("group_id = ? AND user_id = ? AND is_active = ?", groupID, userID, true).
			Update("is_active", false)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		return tx.Model(&group).Update("current_members", gorm.Expr("current_members - 1")).Error
	})
}

func (r *GroupRepository) WithGroupLock(ctx context.Context, groupID uint, fn func(tx *gorm.DB, group *models.CrawlGroup) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group models.CrawlGroup
		if err := lockForUpdate(tx).Where("id = ?", groupID).First(&group).Error; err != nil {
			return err
		}
		return fn(tx, &group)
	})
}

func (r *GroupRepository) ActiveStartedBefore(ctx context.Context, cutoff time.Time) ([]*models.CrawlGroup, error) {
	var groups []*models.CrawlGroup
	err := r.db.WithContext(ctx).
		Where("status = ? AND start_time < ?", models.GroupStatusActive, cutoff).
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// lockForUpdate adds SELECT ... FOR UPDATE on dialects that support it.
// SQLite (used in tests) serializes writers itself and has no FOR UPDATE
// syntax.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
