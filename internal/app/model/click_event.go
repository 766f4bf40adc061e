package model

import "time"

// ClickEvent is one observed redirect traversal. Events are only written
// for links with analytics enabled and are kept in insertion order. Seq
// is the ordering key: concurrent clicks can share a timestamp, so Time
// alone cannot reproduce insertion order.
type ClickEvent struct {
	Seq         int64     `json:"-" gorm:"primaryKey;autoIncrement"`
	ID          string    `json:"id" gorm:"size:36;uniqueIndex;not null"`
	LinkShortID string    `json:"link_short_id" gorm:"column:link_short_id;size:32;not null;index"`
	Time        time.Time `json:"time" gorm:"not null"`
	IP          string    `json:"ip" gorm:"size:64"`
	Referrer    string    `json:"referrer" gorm:"type:text"`
	UserAgent   string    `json:"user_agent" gorm:"size:128"`
	Country     string    `json:"country" gorm:"size:64"`
	City        string    `json:"city" gorm:"size:64"`
}

const (
	ClickStreamName     = "CLICKS"
	ClickStreamSubject  = "clicks.recorded"
	ClickConsumerName   = "click-observer"
	ClickStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)
