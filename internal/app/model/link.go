package model

import "time"

// Link is the short-link record stored in Postgres. Everything except
// ClickCount and the attached events is fixed at creation time; there is
// no update path for the target URL, expiry, active flag or password.
type Link struct {
	ShortID           string     `json:"short_id" gorm:"column:short_id;primaryKey;size:32"`
	OriginalURL       string     `json:"original_url" gorm:"type:text;not null;index"`
	CreatedAt         time.Time  `json:"created_at" gorm:"autoCreateTime"`
	ExpiresAt         *time.Time `json:"expires_at" gorm:"index"`
	IsActive          bool       `json:"is_active" gorm:"not null;default:true"`
	AnalyticsEnabled  bool       `json:"analytics_enabled" gorm:"not null;default:true"`
	ClickCount        int64      `json:"click_count" gorm:"not null;default:0"`
	PasswordProtected bool       `json:"password_protected" gorm:"not null;default:false"`
	PasswordHash      *string    `json:"-" gorm:"size:128"`
}

// IsExpired reports whether the link has passed its expiry instant.
// Links without an expiry never expire.
func (l *Link) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}
