// Quota engine: enforces the monthly like allowance for free-plan users.
package app

import (
	"context"
	"strings"
	"time"

	"github.com/kiyohachi/matching-app/app/models"
)

// BaseFreeAllowance is the number of likes a free-plan user gets per
// calendar month before purchased credits.
const BaseFreeAllowance = 1

// UnlimitedLikes is the sentinel reported for premium users in place of a
// remaining-likes count.
const UnlimitedLikes = -1

// Engine exposes the quota and mutual-match operations. All state lives in
// the Store; Now is injectable for tests.
type Engine struct {
	Store    Store
	Notifier MatchNotifier
	Now      func() time.Time
}

func NewEngine(s Store) *Engine {
	return &Engine{Store: s, Now: time.Now}
}

// monthKey returns the current "YYYY-MM" usage bucket key.
func (e *Engine) monthKey() string {
	return e.Now().UTC().Format("2006-01")
}

// isPremiumAt derives effective premium status: a premium row that is not
// active, or whose period end has passed, counts as free.
func isPremiumAt(plan *models.PlanRecord, now time.Time) bool {
	if plan == nil {
		return false
	}
	if plan.Kind != models.PlanPremium || plan.Status != models.PlanStatusActive {
		return false
	}
	if plan.PeriodEnd != nil && plan.PeriodEnd.Before(now) {
		return false
	}
	return true
}

// GetPlan returns the user's effective plan. Absence of a subscription row
// is the free plan; only a missing user is an error.
func (e *Engine) GetPlan(ctx context.Context, userID string) (models.PlanInfo, error) {
	if strings.TrimSpace(userID) == "" {
		return models.PlanInfo{}, ValidationError{Field: "userId"}
	}
	if _, err := e.Store.GetUser(ctx, userID); err != nil {
		return models.PlanInfo{}, err
	}

	plan, ok, err := e.Store.GetPlan(ctx, userID)
	if err != nil {
		return models.PlanInfo{}, err
	}
	if !ok {
		return models.PlanInfo{Kind: models.PlanFree}, nil
	}

	info := models.PlanInfo{
		Kind:      plan.Kind,
		IsPremium: isPremiumAt(&plan, e.Now()),
		PeriodEnd: plan.PeriodEnd,
	}
	if !info.IsPremium {
		// Expired or canceled premium reads as free.
		info.Kind = models.PlanFree
	}
	return info, nil
}

// GetUsage returns the current month's bucket plus the derived total.
func (e *Engine) GetUsage(ctx context.Context, userID string) (models.UsageInfo, error) {
	plan, err := e.GetPlan(ctx, userID)
	if err != nil {
		return models.UsageInfo{}, err
	}

	usage, err := e.Store.GetUsage(ctx, userID, e.monthKey())
	if err != nil {
		return models.UsageInfo{}, err
	}

	info := models.UsageInfo{
		UsedCount:      usage.UsedCount,
		PurchasedCount: usage.PurchasedCount,
		TotalAvailable: BaseFreeAllowance + usage.PurchasedCount,
	}
	if plan.IsPremium {
		info.TotalAvailable = UnlimitedLikes
	}
	return info, nil
}

// CheckLimit answers whether one more like is currently permitted. It never
// mutates state; ConsumeLike re-evaluates the same rule atomically.
func (e *Engine) CheckLimit(ctx context.Context, userID string) (models.LimitInfo, error) {
	plan, err := e.GetPlan(ctx, userID)
	if err != nil {
		return models.LimitInfo{}, err
	}
	if plan.IsPremium {
		return models.LimitInfo{
			Allowed:        true,
			RemainingLikes: UnlimitedLikes,
			Message:        "premium plan: unlimited likes",
		}, nil
	}

	usage, err := e.Store.GetUsage(ctx, userID, e.monthKey())
	if err != nil {
		return models.LimitInfo{}, err
	}

	total := BaseFreeAllowance + usage.PurchasedCount
	remaining := total - usage.UsedCount
	if remaining < 0 {
		remaining = 0
	}
	info := models.LimitInfo{
		Allowed:        usage.UsedCount < total,
		RemainingLikes: remaining,
	}
	if info.Allowed {
		info.Message = "likes available this month"
	} else {
		info.Message = "monthly like limit reached"
	}
	return info, nil
}

// ConsumeLike spends one like from the current month's bucket. The limit is
// re-evaluated inside the store's atomic unit, so two concurrent calls can
// never both take the last unit.
func (e *Engine) ConsumeLike(ctx context.Context, userID string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, ValidationError{Field: "userId"}
	}
	if _, err := e.Store.GetUser(ctx, userID); err != nil {
		return false, err
	}

	consumed := false
	_, err := e.Store.WithUsage(ctx, userID, e.monthKey(), func(plan *models.PlanRecord, u *models.LikeUsage) (bool, error) {
		if isPremiumAt(plan, e.Now()) {
			u.UsedCount++
			consumed = true
			return true, nil
		}
		if u.UsedCount >= BaseFreeAllowance+u.PurchasedCount {
			return false, nil
		}
		u.UsedCount++
		consumed = true
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return consumed, nil
}

// refundLike returns one previously consumed unit to the current bucket.
// Used when the declaration insert loses a duplicate race after consuming.
func (e *Engine) refundLike(ctx context.Context, userID string) error {
	_, err := e.Store.WithUsage(ctx, userID, e.monthKey(), func(_ *models.PlanRecord, u *models.LikeUsage) (bool, error) {
		if u.UsedCount == 0 {
			return false, nil
		}
		u.UsedCount--
		return true, nil
	})
	return err
}

// AddPurchasedCredits adds qty one-off likes to the current month's bucket
// and returns the new purchased total. Premium users are rejected up front
// and again inside the atomic unit, so a purchase can never land after an
// upgrade slipped in between.
func (e *Engine) AddPurchasedCredits(ctx context.Context, userID string, qty int) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ValidationError{Field: "userId"}
	}
	if qty < 1 {
		return 0, ValidationError{Field: "quantity"}
	}
	if _, err := e.Store.GetUser(ctx, userID); err != nil {
		return 0, err
	}

	usage, err := e.Store.WithUsage(ctx, userID, e.monthKey(), func(plan *models.PlanRecord, u *models.LikeUsage) (bool, error) {
		if isPremiumAt(plan, e.Now()) {
			return false, PremiumConflictError{}
		}
		u.PurchasedCount += qty
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return usage.PurchasedCount, nil
}

// SetPremium activates a premium plan until periodEnd (nil for open-ended).
// Invoked by the billing layer; payment handling itself lives there.
func (e *Engine) SetPremium(ctx context.Context, userID string, periodEnd *time.Time) error {
	if strings.TrimSpace(userID) == "" {
		return ValidationError{Field: "userId"}
	}
	if _, err := e.Store.GetUser(ctx, userID); err != nil {
		return err
	}

	plan, _, err := e.Store.GetPlan(ctx, userID)
	if err != nil {
		return err
	}
	plan.UserID = userID
	plan.Kind = models.PlanPremium
	plan.Status = models.PlanStatusActive
	plan.PeriodStart = e.Now()
	plan.PeriodEnd = periodEnd
	return e.Store.SetPlan(ctx, plan)
}

// SetFree reverts the user to the free plan.
func (e *Engine) SetFree(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ValidationError{Field: "userId"}
	}
	if _, err := e.Store.GetUser(ctx, userID); err != nil {
		return err
	}

	plan, _, err := e.Store.GetPlan(ctx, userID)
	if err != nil {
		return err
	}
	plan.UserID = userID
	plan.Kind = models.PlanFree
	plan.Status = models.PlanStatusActive
	plan.PeriodStart = e.Now()
	plan.PeriodEnd = nil
	plan.StripeSubscriptionID = ""
	return e.Store.SetPlan(ctx, plan)
}
