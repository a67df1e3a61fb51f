package repositories

import (
	"context"

	"gorm.io/gorm"

	"github.com/crawlpilot/beercrawl/internal/models"
)

// ISessionRepository defines the interface for crawl session data
// operations. Session writes happen inside the crawl service's locked
// group transactions, so only reads live here.
type ISessionRepository interface {
	// Current returns the open session for a group, or
	// gorm.ErrRecordNotFound.
	Current(ctx context.Context, groupID uint) (*models.CrawlSession, error)
}

// SessionRepository implements ISessionRepository interface
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new ISessionRepository instance
func NewSessionRepository(db *gorm.DB) ISessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Current(ctx context.Context, groupID uint) (*models.CrawlSession, error) {
	var session models.CrawlSession
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND is_current = ?", groupID, true).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}
