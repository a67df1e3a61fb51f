package models

import "time"

// Group status values. Transitions are monotonic: forming -> active ->
// completed, or forming -> cancelled. Nothing else is legal.
const (
	GroupStatusForming   = "forming"
	GroupStatusActive    = "active"
	GroupStatusCompleted = "completed"
	GroupStatusCancelled = "cancelled"
)

// CrawlGroup is one beer-crawl party. CurrentMembers must always equal
// the count of active GroupMember rows; both are mutated in the same
// transaction.
type CrawlGroup struct {
	ID uint `gorm:"primaryKey" json:"id"`

	GroupType      string `gorm:"not null;type:varchar(50)" json:"group_type"`
	Area           string `gorm:"index;not null;type:varchar(100)" json:"area"`
	Status         string `gorm:"index;default:forming;type:varchar(20)" json:"status"`
	MinMembers     int    `gorm:"default:3" json:"min_members"`
	MaxMembers     int    `gorm:"default:5" json:"max_members"`
	CurrentMembers int    `gorm:"default:0" json:"current_members"`

	CurrentBarID    *uint      `json:"current_bar_id"`
	WhatsAppGroupID string     `gorm:"column:whatsapp_group_id;type:varchar(100)" json:"whatsapp_group_id"`
	MeetingTime     *time.Time `json:"meeting_time"`
	StartTime       *time.Time `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`

	Members  []GroupMember  `gorm:"foreignKey:GroupID" json:"-"`
	Sessions []CrawlSession `gorm:"foreignKey:GroupID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CrawlGroup) TableName() string {
	return "crawl_groups"
}

// IsTerminal reports whether the group has reached a final status.
func (g *CrawlGroup) IsTerminal() bool {
	return g.Status == GroupStatusCompleted || g.Status == GroupStatusCancelled
}
