package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
	portal "github.com/stripe/stripe-go/v79/billingportal/session"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/kiyohachi/matching-app/app/config"
	"github.com/kiyohachi/matching-app/app/models"
	"github.com/kiyohachi/matching-app/auth"
)

// CreateCheckoutSession starts a premium subscription checkout for the
// authenticated user.
func CreateCheckoutSession(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	stripeCustomerID, err := ensureStripeCustomer(c.Request.Context(), claims.Subject)
	if err != nil {
		log.Printf("ensureStripeCustomer failed for user=%s: %v", claims.Subject, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare billing"})
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("stripe checkout config load failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	priceID := cfg.Stripe.PriceIDPremiumMonthly
	frontendURL := strings.TrimRight(cfg.Stripe.FrontendURL, "/")
	if priceID == "" || frontendURL == "" {
		log.Printf("missing Stripe config: price_id=%t frontend_url=%t", priceID != "", frontendURL != "")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(stripeCustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(frontendURL + "/billing/success"),
		CancelURL:  stripe.String(frontendURL + "/billing/cancel"),
		Metadata: map[string]string{
			"user_id": claims.Subject,
		},
	}

	sess, err := session.New(params)
	if err != nil {
		log.Printf("stripe checkout session failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": sess.URL})
}

type likeCheckoutRequest struct {
	Quantity int `json:"quantity"`
}

// CreateLikeCheckoutSession starts a one-off checkout for extra like
// credits. Premium users are rejected: their plan already has no limit.
func CreateLikeCheckoutSession(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	var req likeCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	plan, err := engine.GetPlan(c.Request.Context(), claims.Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	if plan.IsPremium {
		c.JSON(http.StatusBadRequest, gin.H{"error": PremiumConflictError{}.Error()})
		return
	}

	stripeCustomerID, err := ensureStripeCustomer(c.Request.Context(), claims.Subject)
	if err != nil {
		log.Printf("ensureStripeCustomer failed for user=%s: %v", claims.Subject, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare billing"})
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("like checkout config load failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	priceID := cfg.Stripe.PriceIDSingleLike
	frontendURL := strings.TrimRight(cfg.Stripe.FrontendURL, "/")
	if priceID == "" || frontendURL == "" {
		log.Printf("missing Stripe config: like_price_id=%t frontend_url=%t", priceID != "", frontendURL != "")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer: stripe.String(stripeCustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(int64(req.Quantity)),
			},
		},
		SuccessURL: stripe.String(frontendURL + "/billing/success"),
		CancelURL:  stripe.String(frontendURL + "/billing/cancel"),
		Metadata: map[string]string{
			"user_id":  claims.Subject,
			"quantity": strconv.Itoa(req.Quantity),
		},
	}

	sess, err := session.New(params)
	if err != nil {
		log.Printf("stripe like checkout session failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": sess.URL})
}

// StripeWebhook handles Stripe events and applies plan transitions and
// credit purchases. Purchase-history rows are best-effort; quota and plan
// changes are not.
func StripeWebhook(c *gin.Context) {
	const maxBodyBytes = int64(65536)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		log.Printf("stripe webhook read failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("stripe webhook config load failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}

	endpointSecret := cfg.Stripe.WebhookSecret
	if endpointSecret == "" {
		log.Printf("stripe webhook secret missing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		body,
		sigHeader,
		endpointSecret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if err != nil {
		log.Printf("stripe webhook signature failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
		return
	}

	ctx := c.Request.Context()

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			log.Printf("stripe session unmarshal failed: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session payload"})
			return
		}
		userID, err := resolveWebhookUser(ctx, &sess)
		if err != nil {
			log.Printf("stripe session user resolution failed: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown customer"})
			return
		}

		switch sess.Mode {
		case stripe.CheckoutSessionModeSubscription:
			if err := applyPremiumCheckout(ctx, userID, &sess); err != nil {
				log.Printf("premium upgrade failed user=%s err=%v", userID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update plan"})
				return
			}
		case stripe.CheckoutSessionModePayment:
			if err := applyLikePurchase(ctx, userID, &sess); err != nil {
				respondError(c, err)
				return
			}
		default:
			log.Printf("stripe session with unhandled mode=%s user=%s", sess.Mode, userID)
		}
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			log.Printf("stripe subscription unmarshal failed: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription payload"})
			return
		}
		if sub.Customer == nil || sub.Customer.ID == "" {
			log.Printf("stripe subscription missing customer id")
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing customer id"})
			return
		}
		userID, ok, err := engine.Store.UserIDByStripeCustomer(ctx, sub.Customer.ID)
		if err != nil || !ok {
			log.Printf("stripe downgrade: no user for customer=%s err=%v", sub.Customer.ID, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown customer"})
			return
		}
		if err := engine.SetFree(ctx, userID); err != nil {
			log.Printf("plan downgrade failed user=%s err=%v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update plan"})
			return
		}
	default:
		// Intentionally ignore unhandled events.
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func resolveWebhookUser(ctx context.Context, sess *stripe.CheckoutSession) (string, error) {
	if id := sess.Metadata["user_id"]; id != "" {
		return id, nil
	}
	if sess.Customer != nil && sess.Customer.ID != "" {
		userID, ok, err := engine.Store.UserIDByStripeCustomer(ctx, sess.Customer.ID)
		if err != nil {
			return "", err
		}
		if ok {
			return userID, nil
		}
	}
	return "", fmt.Errorf("no user mapping in session %s", sess.ID)
}

func applyPremiumCheckout(ctx context.Context, userID string, sess *stripe.CheckoutSession) error {
	periodEnd := time.Now().AddDate(0, 0, premiumPeriodDays)
	if err := engine.SetPremium(ctx, userID, &periodEnd); err != nil {
		return err
	}

	if sess.Subscription != nil && sess.Subscription.ID != "" {
		plan, _, err := engine.Store.GetPlan(ctx, userID)
		if err == nil {
			plan.UserID = userID
			plan.StripeSubscriptionID = sess.Subscription.ID
			err = engine.Store.SetPlan(ctx, plan)
		}
		if err != nil {
			log.Printf("storing subscription id failed user=%s: %v", userID, err)
		}
	}

	recordPurchase(ctx, models.PurchaseRecord{
		UserID:     userID,
		Kind:       models.PurchaseSubscription,
		Amount:     premiumMonthlyAmountJPY,
		Quantity:   1,
		PaymentRef: sess.ID,
		CreatedAt:  time.Now(),
	})
	return nil
}

func applyLikePurchase(ctx context.Context, userID string, sess *stripe.CheckoutSession) error {
	qty := 1
	if q, err := strconv.Atoi(sess.Metadata["quantity"]); err == nil && q > 0 {
		qty = q
	}

	newTotal, err := engine.AddPurchasedCredits(ctx, userID, qty)
	if err != nil {
		return err
	}
	log.Printf("purchased likes applied user=%s qty=%d purchased_total=%d", userID, qty, newTotal)

	paymentRef := sess.ID
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		paymentRef = sess.PaymentIntent.ID
	}
	recordPurchase(ctx, models.PurchaseRecord{
		UserID:     userID,
		Kind:       models.PurchaseSingleLike,
		Amount:     int64(singleLikeAmountJPY * qty),
		Quantity:   qty,
		PaymentRef: paymentRef,
		CreatedAt:  time.Now(),
	})
	return nil
}

// recordPurchase writes the audit row and only logs on failure: the quota or
// plan change already committed and must not be rolled back over bookkeeping.
func recordPurchase(ctx context.Context, p models.PurchaseRecord) {
	if err := engine.Store.RecordPurchase(ctx, p); err != nil {
		log.Printf("purchase history write failed user=%s type=%s: %v", p.UserID, p.Kind, err)
	}
}

// CreatePortalSession creates a Stripe Customer Portal session for the
// authenticated user.
func CreatePortalSession(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}
	if claims.Subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user id"})
		return
	}

	plan, ok2, err := engine.Store.GetPlan(c.Request.Context(), claims.Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok2 || plan.StripeCustomerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stripe customer missing for user"})
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("portal config load failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	frontendURL := strings.TrimRight(cfg.Stripe.FrontendURL, "/")
	if frontendURL == "" {
		log.Printf("missing Stripe config: frontend_url=false")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "billing not configured"})
		return
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(plan.StripeCustomerID),
		ReturnURL: stripe.String(frontendURL + "/settings/billing"),
	}

	sess, err := portal.New(params)
	if err != nil {
		log.Printf("stripe portal session failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create portal session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": sess.URL})
}

type updatePlanRequest struct {
	Plan models.PlanKind `json:"plan"`
}

// UpdateUserPlan sets the authenticated user's plan directly. This backs the
// test screens; production transitions arrive through the webhook.
func UpdateUserPlan(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}
	if claims.Subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user id"})
		return
	}
	var req updatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	switch req.Plan {
	case models.PlanPremium:
		periodEnd := time.Now().AddDate(0, 0, premiumPeriodDays)
		if err := engine.SetPremium(ctx, claims.Subject, &periodEnd); err != nil {
			respondError(c, err)
			return
		}
	case models.PlanFree:
		if err := engine.SetFree(ctx, claims.Subject); err != nil {
			respondError(c, err)
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
