package models

import "time"

// Declaration is one user's private "I want to meet <name>" entry inside an
// invite group. TargetName is compared case-insensitively; Matched flips to
// true exactly once, together with the reciprocal row.
type Declaration struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	InviteID     string    `json:"invite_id"`
	TargetName   string    `json:"target_name"`
	Matched      bool      `json:"matched"`
	Notified     bool      `json:"notified"`
	ConsumedLike bool      `json:"consumed_like"`
	CreatedAt    time.Time `json:"created_at"`
}

// Invite is a named group reachable through an opaque invite code.
// Declarations only ever match inside the same invite.
type Invite struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	InviteCode string    `json:"invite_code"`
	Name       string    `json:"name"`
	Clicks     int       `json:"clicks"`
	Signups    int       `json:"signups"`
	CreatedAt  time.Time `json:"created_at"`
}
