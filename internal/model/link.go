package model

import (
	"time"
)

// ShortLink represents a short code to target URL mapping.
// The short code is immutable once assigned; deletion is logical
// (Active=false) so click history stays queryable.
type ShortLink struct {
	ShortCode      string     `gorm:"primaryKey;type:varchar(10)" json:"short_code"`
	TargetURL      string     `gorm:"type:varchar(2048);not null" json:"target_url"`
	OwnerID        string     `gorm:"type:varchar(64);index" json:"owner_id,omitempty"`
	Title          string     `gorm:"type:varchar(500)" json:"title,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	ExpiresAt      *time.Time `gorm:"index" json:"expires_at,omitempty"`
	ClickCount     uint64     `gorm:"default:0" json:"click_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	Active         bool       `gorm:"default:true" json:"active"`
}

// TableName specifies the table name for ShortLink
func (ShortLink) TableName() string {
	return "short_links"
}

// IsExpired checks if the mapping has passed its expiration time
func (l *ShortLink) IsExpired() bool {
	if l.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*l.ExpiresAt)
}

// IsActive checks if the mapping may be served to readers
func (l *ShortLink) IsActive() bool {
	return l.Active && !l.IsExpired()
}

// ClickEvent represents a single click on a short link. Rows are
// append-only and may outlive the mapping they reference.
type ClickEvent struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	ShortCode  string    `gorm:"index;type:varchar(10);not null" json:"short_code"`
	ClickedAt  time.Time `gorm:"autoCreateTime;index" json:"clicked_at"`
	ClientIP   string    `gorm:"type:varchar(45)" json:"client_ip,omitempty"`
	UserAgent  string    `gorm:"type:varchar(512)" json:"user_agent,omitempty"`
	Referrer   string    `gorm:"type:varchar(2048)" json:"referrer,omitempty"`
	DeviceType string    `gorm:"type:varchar(16)" json:"device_type"`
}

// TableName specifies the table name for ClickEvent
func (ClickEvent) TableName() string {
	return "click_events"
}

// DailyCount is one day's click total for a short link
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// ReferrerCount is a click total grouped by referrer
type ReferrerCount struct {
	Referrer string `json:"referrer"`
	Count    int64  `json:"count"`
}
