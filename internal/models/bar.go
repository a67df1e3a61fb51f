package models

import "time"

// Bar is a registered venue. Bars are read-only to the matcher and are
// deactivated rather than deleted when an owner withdraws.
type Bar struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Name         string  `gorm:"not null;type:varchar(100)" json:"name"`
	Address      string  `gorm:"not null;type:varchar(200)" json:"address"`
	Area         string  `gorm:"index;not null;type:varchar(100)" json:"area"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	OwnerContact string  `gorm:"type:varchar(100)" json:"owner_contact"`
	Capacity     int     `gorm:"default:50" json:"capacity"`
	IsActive     bool    `gorm:"default:true" json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Bar) TableName() string {
	return "bars"
}
