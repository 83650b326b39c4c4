// HTTP handlers: thin translation between gin and the engine. All rule
// logic lives in the engine; handlers map inputs and the error taxonomy.
package app

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kiyohachi/matching-app/app/models"
	"github.com/kiyohachi/matching-app/auth"
)

// Health is a public health check endpoint.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// respondError maps engine errors onto HTTP statuses. Quota exhaustion gets
// the frontend's dedicated shape so the paywall can render without parsing
// message text.
func respondError(c *gin.Context, err error) {
	var (
		valErr  ValidationError
		nfErr   NotFoundError
		dupErr  DuplicateDeclarationError
		quota   QuotaExceededError
		premium PremiumConflictError
	)
	switch {
	case errors.As(err, &valErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": valErr.Error()})
	case errors.As(err, &nfErr):
		c.JSON(http.StatusNotFound, gin.H{"error": nfErr.Error()})
	case errors.As(err, &dupErr):
		c.JSON(http.StatusConflict, gin.H{"error": dupErr.Error()})
	case errors.As(err, &quota):
		c.JSON(http.StatusForbidden, gin.H{
			"error":          "like_limit_exceeded",
			"remainingLikes": 0,
			"limitExceeded":  true,
		})
	case errors.As(err, &premium):
		c.JSON(http.StatusBadRequest, gin.H{"error": premium.Error()})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent update, please retry"})
	default:
		log.Printf("internal error on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Me returns the authenticated user's profile and effective plan.
func Me(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	user, err := engine.Store.GetUser(c.Request.Context(), claims.Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	plan, err := engine.GetPlan(c.Request.Context(), claims.Subject)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": user,
		"plan": plan,
	})
}

// GetLikeStatus returns the caller's plan, current-month usage, and whether
// one more like would be allowed right now.
func GetLikeStatus(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	ctx := c.Request.Context()
	plan, err := engine.GetPlan(ctx, claims.Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	usage, err := engine.GetUsage(ctx, claims.Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	limit, err := engine.CheckLimit(ctx, claims.Subject)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"plan":  plan,
		"usage": usage,
		"limit": limit,
	})
}

type registerTargetRequest struct {
	TargetName string `json:"targetName"`
	InviteID   string `json:"inviteId"`
}

// RegisterTarget records "I want to meet <name>" inside an invite group and
// reports whether that completed a mutual match.
func RegisterTarget(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	var req registerTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, err := engine.RegisterDeclaration(c.Request.Context(), claims.Subject, req.InviteID, req.TargetName)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetTargets lists the caller's declarations in one invite group, newest
// first. Other users' declarations are never returned.
func GetTargets(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	inviteID := c.Query("inviteId")
	decls, err := engine.ListDeclarations(c.Request.Context(), claims.Subject, inviteID)
	if err != nil {
		respondError(c, err)
		return
	}
	if decls == nil {
		decls = []models.Declaration{}
	}

	c.JSON(http.StatusOK, gin.H{
		"matches": decls,
		"count":   len(decls),
	})
}

type createInviteRequest struct {
	GroupName string `json:"groupName"`
}

// CreateInviteGroup creates a new invite group owned by the caller.
func CreateInviteGroup(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	var req createInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	inv, err := engine.CreateInvite(c.Request.Context(), claims.Subject, req.GroupName)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invite": inv})
}

// GetInviteByCode resolves an invite link's code. Public: it backs the
// landing page shown before signup.
func GetInviteByCode(c *gin.Context) {
	inv, err := engine.InviteByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invite": inv})
}

// RecordInviteClick bumps the click counter for an invite link. Public for
// the same reason as GetInviteByCode.
func RecordInviteClick(c *gin.Context) {
	clicks, err := engine.RegisterInviteClick(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"clicks": clicks})
}

// RecordInviteSignup bumps the signup counter once a clicked invite turned
// into an account.
func RecordInviteSignup(c *gin.Context) {
	if _, ok := auth.ClaimsFromContext(c.Request.Context()); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return
	}

	inv, err := engine.InviteByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := engine.RegisterInviteSignup(c.Request.Context(), inv.ID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
