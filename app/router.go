// Package app wires shared HTTP routes for both local and Lambda execution.
package app

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/kiyohachi/matching-app/auth"
)

// NewRouter builds the shared HTTP router for both local and Lambda execution.
func NewRouter() (*gin.Engine, error) {
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/health", Health)
	router.POST("/api/stripe/webhook", StripeWebhook)
	router.GET("/api/invites/:code", GetInviteByCode)
	router.POST("/api/invites/:code/clicks", RecordInviteClick)

	verifier, err := auth.NewVerifierFromEnv()
	if err != nil && !auth.AuthDisabled() {
		return nil, err
	}

	protected := router.Group("/")
	protected.Use(auth.Middleware(verifier, auth.MiddlewareConfig{
		OnAuthenticated: func(c *gin.Context, claims *auth.Claims) error {
			return engine.UpsertUserFromClaims(c.Request.Context(), claims)
		},
	}))
	protected.GET("/me", Me)
	protected.GET("/api/matching/like-status", GetLikeStatus)
	protected.POST("/api/matching/targets", RegisterTarget)
	protected.GET("/api/matching/targets", GetTargets)
	protected.POST("/api/invites", CreateInviteGroup)
	protected.POST("/api/invites/:code/signups", RecordInviteSignup)
	protected.POST("/api/billing/create-checkout-session", CreateCheckoutSession)
	protected.POST("/api/billing/create-like-checkout-session", CreateLikeCheckoutSession)
	protected.POST("/api/billing/portal-session", CreatePortalSession)
	protected.POST("/api/billing/update-plan", UpdateUserPlan)

	return router, nil
}
