package models

import "time"

// Subscription statuses. Transitions between them are owned exclusively by
// the subscription state machine.
const (
	SubStatusNone       = "none"
	SubStatusActive     = "active"
	SubStatusPastDue    = "past_due"
	SubStatusPaused     = "paused"
	SubStatusCancelling = "cancelling"
	SubStatusCancelled  = "cancelled"
)

// Billing cycles.
const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

// Subscription mirrors one provider subscription lineage. A plan change on
// the provider side supersedes the row rather than deleting it, so one
// active-or-terminal record exists per account per lineage.
type Subscription struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	AccountID        uint       `gorm:"not null;index" json:"account_id"`
	Provider         string     `gorm:"size:20;not null;index:ux_sub_provider_subid,unique,priority:1" json:"provider"`
	ProviderSubID    string     `gorm:"size:191;not null;index:ux_sub_provider_subid,unique,priority:2" json:"provider_sub_id"`
	PlanRef          string     `gorm:"size:191" json:"plan_ref"`
	Tier             string     `gorm:"size:16;not null;default:'free'" json:"tier"`
	Status           string     `gorm:"size:16;not null;default:'none'" json:"status"`
	BillingCycle     string     `gorm:"size:16" json:"billing_cycle"`
	CurrentPeriodEnd *time.Time `json:"current_period_end"`
	Superseded       bool       `gorm:"not null;default:false" json:"superseded"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
