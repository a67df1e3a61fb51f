package repositories

import (
	"context"

	"gorm.io/gorm"

	"github.com/crawlpilot/beercrawl/internal/models"
)

// IUserRepository defines the interface for user preference data operations
type IUserRepository interface {
	Create(ctx context.Context, user *models.UserPreferences) error
	Update(ctx context.Context, user *models.UserPreferences) error
	FindByID(ctx context.Context, id uint) (*models.UserPreferences, error)
	FindByNumber(ctx context.Context, whatsappNumber string) (*models.UserPreferences, error)
}

// UserRepository implements IUserRepository interface
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new IUserRepository instance
func NewUserRepository(db *gorm.DB) IUserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *models.UserPreferences) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *UserRepository) Update(ctx context.Context, user *models.UserPreferences) error {
	return r.db.WithContext(ctx).Save(user).Error
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*models.UserPreferences, error) {
	var user models.UserPreferences
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByNumber finds a user by WhatsApp number
func (r *UserRepository) FindByNumber(ctx context.Context, whatsappNumber string) (*models.UserPreferences, error) {
	var user models.UserPreferences
	err := r.db.WithContext(ctx).Where("whatsapp_number = ?", whatsappNumber).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}
