package models

import "time"

// GroupMember links a user to a group. Membership in terminal groups is
// kept for history; IsActive is cleared when a user leaves a forming
// group to be re-matched.
type GroupMember struct {
	ID       uint `gorm:"primaryKey" json:"id"`
	GroupID  uint `gorm:"not null;uniqueIndex:idx_group_user" json:"group_id"`
	UserID   uint `gorm:"not null;uniqueIndex:idx_group_user" json:"user_id"`
	IsActive bool `gorm:"default:true" json:"is_active"`

	JoinedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"joined_at"`

	Group *CrawlGroup      `gorm:"foreignKey:GroupID" json:"-"`
	User  *UserPreferences `gorm:"foreignKey:UserID" json:"-"`
}

func (GroupMember) TableName() string {
	return "group_members"
}
