// Profile persistence for authenticated requests.
package app

import (
	"context"
	"strings"

	"github.com/kiyohachi/matching-app/app/models"
	"github.com/kiyohachi/matching-app/auth"
)

// UpsertUserFromClaims creates or refreshes a profile row from a verified ID
// token. LINE tokens carry the display name; email is present only when the
// user granted that scope.
func (e *Engine) UpsertUserFromClaims(ctx context.Context, claims *auth.Claims) error {
	if claims == nil || claims.Subject == "" {
		return nil
	}

	name := strings.TrimSpace(claims.Name)
	if name == "" {
		name = readStringClaim(claims.Raw, "name")
	}
	email := claims.Email
	if email == "" {
		email = readStringClaim(claims.Raw, "email")
	}

	return e.Store.UpsertUser(ctx, models.User{
		ID:        claims.Subject,
		Name:      name,
		Email:     email,
		CreatedAt: e.Now(),
	})
}

func readStringClaim(raw map[string]any, key string) string {
	if raw == nil {
		return ""
	}
	if s, ok := raw[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
