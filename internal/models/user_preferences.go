package models

import "time"

// UserPreferences stores a WhatsApp user's signup preferences. Rows are
// created on signup, updated on re-signup, and never hard-deleted.
type UserPreferences struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// The explicit column tag matters: gorm's default naming would split
	// the acronym into whats_app_number.
	WhatsAppNumber     string `gorm:"column:whatsapp_number;uniqueIndex;not null;type:varchar(20)" json:"whatsapp_number"`
	PreferredArea      string `gorm:"not null;type:varchar(100)" json:"preferred_area"`
	PreferredGroupType string `gorm:"default:mixed;type:varchar(50)" json:"preferred_group_type"`
	Gender             string `gorm:"type:varchar(20)" json:"gender"`
	AgeRange           string `gorm:"type:varchar(20)" json:"age_range"`

	Memberships []GroupMember `gorm:"foreignKey:UserID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserPreferences) TableName() string {
	return "user_preferences"
}
