// Package models defines user plan and like-usage tracking fields.
package models

import "time"

type PlanKind string

const (
	PlanFree    PlanKind = "free"
	PlanPremium PlanKind = "premium"
)

type PlanStatus string

const (
	PlanStatusActive   PlanStatus = "active"
	PlanStatusCanceled PlanStatus = "canceled"
)

// User mirrors a row in profiles. Email may be empty: LINE only shares an
// address when the user granted the email scope.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PlanRecord is the single subscription row per user. A missing row means
// the user is on the free plan.
type PlanRecord struct {
	UserID               string     `json:"user_id"`
	Kind                 PlanKind   `json:"plan_type"`
	Status               PlanStatus `json:"status"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	PeriodStart          time.Time  `json:"current_period_start"`
	PeriodEnd            *time.Time `json:"current_period_end,omitempty"` // nil unless premium is time-bounded
}

// LikeUsage is the per-(user, calendar month) quota bucket. MonthYear is
// formatted "YYYY-MM"; rows are created lazily on first use in a month.
type LikeUsage struct {
	UserID         string    `json:"user_id"`
	MonthYear      string    `json:"month_year"`
	UsedCount      int       `json:"used_count"`
	PurchasedCount int       `json:"purchased_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Purchase kinds recorded in purchase_history.
const (
	PurchaseSingleLike   = "single_like"
	PurchaseSubscription = "subscription"
)

// PurchaseRecord is an audit row for a completed payment. Writing it is
// best-effort; quota and plan state never depend on it.
type PurchaseRecord struct {
	UserID     string    `json:"user_id"`
	Kind       string    `json:"purchase_type"`
	Amount     int64     `json:"amount"` // JPY
	Quantity   int       `json:"quantity"`
	PaymentRef string    `json:"stripe_payment_intent_id"`
	CreatedAt  time.Time `json:"created_at"`
}
