// Invite groups: named collections that scope which declarations can match.
package app

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/kiyohachi/matching-app/app/models"
)

const inviteCodeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const inviteCodeLength = 8

func newInviteCode() string {
	var b strings.Builder
	max := big.NewInt(int64(len(inviteCodeAlphabet)))
	for i := 0; i < inviteCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken.
			panic(err)
		}
		b.WriteByte(inviteCodeAlphabet[n.Int64()])
	}
	return b.String()
}

// CreateInvite creates a new group owned by ownerID with a fresh opaque
// invite code.
func (e *Engine) CreateInvite(ctx context.Context, ownerID, name string) (models.Invite, error) {
	name = strings.TrimSpace(name)
	if strings.TrimSpace(ownerID) == "" {
		return models.Invite{}, ValidationError{Field: "userId"}
	}
	if name == "" {
		return models.Invite{}, ValidationError{Field: "groupName"}
	}
	if _, err := e.Store.GetUser(ctx, ownerID); err != nil {
		return models.Invite{}, err
	}

	inv := models.Invite{
		ID:         uuid.NewString(),
		UserID:     ownerID,
		InviteCode: newInviteCode(),
		Name:       name,
		CreatedAt:  e.Now(),
	}
	if err := e.Store.CreateInvite(ctx, inv); err != nil {
		return models.Invite{}, err
	}
	return inv, nil
}

// InviteByCode resolves an invite link's opaque code to its group.
func (e *Engine) InviteByCode(ctx context.Context, code string) (models.Invite, error) {
	if strings.TrimSpace(code) == "" {
		return models.Invite{}, ValidationError{Field: "inviteCode"}
	}
	return e.Store.GetInviteByCode(ctx, code)
}

// RegisterInviteClick bumps the click counter for an invite link and returns
// the new count. Clicks happen pre-signup, so this takes the public code.
func (e *Engine) RegisterInviteClick(ctx context.Context, code string) (int, error) {
	if strings.TrimSpace(code) == "" {
		return 0, ValidationError{Field: "inviteCode"}
	}
	return e.Store.IncrementInviteClicks(ctx, code)
}

// RegisterInviteSignup bumps the signup counter once a clicked invite turns
// into an account.
func (e *Engine) RegisterInviteSignup(ctx context.Context, inviteID string) error {
	if strings.TrimSpace(inviteID) == "" {
		return ValidationError{Field: "inviteId"}
	}
	return e.Store.IncrementInviteSignups(ctx, inviteID)
}
