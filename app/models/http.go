package models

import "time"

// View types returned to API callers. Field names follow the frontend's
// existing camelCase contract.

type PlanInfo struct {
	Kind      PlanKind   `json:"type"`
	IsPremium bool       `json:"isPremium"`
	PeriodEnd *time.Time `json:"periodEnd"`
}

type UsageInfo struct {
	UsedCount      int `json:"usedCount"`
	PurchasedCount int `json:"purchasedCount"`
	TotalAvailable int `json:"totalAvailable"` // negative sentinel when unlimited
}

type LimitInfo struct {
	Allowed        bool   `json:"allowed"`
	RemainingLikes int    `json:"remainingLikes"` // negative sentinel when unlimited
	Message        string `json:"message"`
}

// RegisterResult is the outcome of a target-name registration: the created
// declaration, whether it completed a mutual match, and the caller's current
// declarations in that invite (newest first).
type RegisterResult struct {
	Created        Declaration   `json:"created"`
	IsMutualMatch  bool          `json:"isMatch"`
	Declarations   []Declaration `json:"matches"`
	RemainingLikes int           `json:"remainingLikes"`
}
