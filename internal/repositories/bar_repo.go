package repositories

import (
	"context"

	"gorm.io/gorm"

	"github.com/crawlpilot/beercrawl/internal/models"
)

// IBarRepository defines the interface for bar data operations
type IBarRepository interface {
	Create(ctx context.Context, bar *models.Bar) error
	FindByID(ctx context.Context, id uint) (*models.Bar, error)
	// FindActiveByArea returns active bars in an area ordered by ID.
	FindActiveByArea(ctx context.Context, area string) ([]*models.Bar, error)
	ListActive(ctx context.Context) ([]*models.Bar, error)
	Deactivate(ctx context.Context, id uint) error
}

// BarRepository implements IBarRepository interface
type BarRepository struct {
	db *gorm.DB
}

// NewBarRepository creates a new IBarRepository instance
func NewBarRepository(db *gorm.DB) IBarRepository {
	return &BarRepository{db: db}
}

func (r *BarRepository) Create(ctx context.Context, bar *models.Bar) error {
	return r.db.WithContext(ctx).Create(bar).Error
}

func (r *BarRepository) FindByID(ctx context.Context, id uint) (*models.Bar, error) {
	var bar models.Bar
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&bar).Error
	if err != nil {
		return nil, err
	}
	return &bar, nil
}

func (r *BarRepository) FindActiveByArea(ctx context.Context, area string) ([]*models.Bar, error) {
	var bars []*models.Bar
	err := r.db.WithContext(ctx).
		Where("area = ? AND is_active = ?", area, true).
		Order("id").
		Find(&bars).Error
	if err != nil {
		return nil, err
	}
	return bars, nil
}

func (r *BarRepository) ListActive(ctx context.Context) ([]*models.Bar, error) {
	var bars []*models.Bar
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id").Find(&bars).Error
	if err != nil {
		return nil, err
	}
	return bars, nil
}

// Deactivate marks a bar inactive. Bars are never deleted so historical
// sessions keep their references.
func (r *BarRepository) Deactivate(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.Bar{}).Where("id = ?", id).Update("is_active", false).Error
}
