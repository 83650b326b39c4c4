package app

import (
	"context"
	"errors"
	"log"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/customer"

	"github.com/kiyohachi/matching-app/app/config"
)

// Prices in JPY, matching the storefront.
const (
	singleLikeAmountJPY     = 300
	premiumMonthlyAmountJPY = 1000
)

// premiumPeriodDays is how long one paid premium period runs.
const premiumPeriodDays = 30

// InitStripe wires the Stripe API key from the environment.
func InitStripe() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config for stripe: %v", err)
	}
	stripe.Key = cfg.Stripe.SecretKey
}

// ensureStripeCustomer finds or creates a Stripe Customer for the given
// user. The customer id lives on the user's subscription row so webhook
// events can be routed back to a user id.
func ensureStripeCustomer(ctx context.Context, userID string) (string, error) {
	if engine == nil {
		return "", errors.New("engine not initialized")
	}
	if userID == "" {
		return "", errors.New("missing user id")
	}

	plan, ok, err := engine.Store.GetPlan(ctx, userID)
	if err != nil {
		return "", err
	}
	if ok && plan.StripeCustomerID != "" {
		return plan.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Metadata: map[string]string{
			"user_id": userID,
		},
	}
	cust, err := customer.New(params)
	if err != nil {
		return "", err
	}

	if err := engine.Store.SetStripeCustomer(ctx, userID, cust.ID); err != nil {
		return "", err
	}

	return cust.ID, nil
}
