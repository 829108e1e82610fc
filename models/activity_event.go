package models

import "time"

// ActivityEvent records one qualifying activity per account, type and
// calendar day. The unique index is what makes duplicate domain events
// (a retried "task completed", a double-tapped check-in) harmless.
type ActivityEvent struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AccountID    uint      `gorm:"not null;index:ux_activity_day,unique,priority:1" json:"account_id"`
	ActivityType string    `gorm:"size:32;not null;index:ux_activity_day,unique,priority:2" json:"activity_type"`
	// ActivityDate is the calendar day in YYYY-MM-DD form.
	ActivityDate string    `gorm:"size:10;not null;index:ux_activity_day,unique,priority:3" json:"activity_date"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}
