package models

import "time"

// CrawlSession is one bar visit in a group's crawl. Rows form an
// append-only ordered sequence per group; the current visit has a nil
// EndTime and IsCurrent set.
type CrawlSession struct {
	ID           uint `gorm:"primaryKey" json:"id"`
	GroupID      uint `gorm:"not null;index:idx_group_order" json:"group_id"`
	BarID        uint `gorm:"not null" json:"bar_id"`
	OrderInCrawl int  `gorm:"not null;index:idx_group_order" json:"order_in_crawl"`

	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	IsCurrent bool       `gorm:"index" json:"is_current"`

	Group *CrawlGroup `gorm:"foreignKey:GroupID" json:"-"`
	Bar   *Bar        `gorm:"foreignKey:BarID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

func (CrawlSession) TableName() string {
	return "crawl_sessions"
}
