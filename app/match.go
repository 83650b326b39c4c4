// Mutual match engine: resolves reciprocal declarations inside one invite
// group without ever exposing one-sided intent.
package app

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/kiyohachi/matching-app/app/models"
)

// matchRetryLimit bounds re-scans after a paired update loses a race.
const matchRetryLimit = 3

// RegisterDeclaration is the single entry point composing quota consumption
// with mutual-match resolution: validate, reject duplicates before spending
// quota, consume one like atomically, write the declaration, then resolve
// reciprocity.
func (e *Engine) RegisterDeclaration(ctx context.Context, userID, inviteID, targetName string) (models.RegisterResult, error) {
	targetName = strings.TrimSpace(targetName)
	switch {
	case strings.TrimSpace(userID) == "":
		return models.RegisterResult{}, ValidationError{Field: "userId"}
	case strings.TrimSpace(inviteID) == "":
		return models.RegisterResult{}, ValidationError{Field: "inviteId"}
	case targetName == "":
		return models.RegisterResult{}, ValidationError{Field: "targetName"}
	}

	user, err := e.Store.GetUser(ctx, userID)
	if err != nil {
		return models.RegisterResult{}, err
	}
	if _, err := e.Store.GetInvite(ctx, inviteID); err != nil {
		return models.RegisterResult{}, err
	}

	dup, err := e.Store.HasDeclaration(ctx, userID, inviteID, targetName)
	if err != nil {
		return models.RegisterResult{}, err
	}
	if dup {
		return models.RegisterResult{}, DuplicateDeclarationError{TargetName: targetName}
	}

	consumed, err := e.ConsumeLike(ctx, userID)
	if err != nil {
		return models.RegisterResult{}, err
	}
	if !consumed {
		return models.RegisterResult{}, QuotaExceededError{RemainingLikes: 0}
	}

	d := models.Declaration{
		ID:           uuid.NewString(),
		UserID:       userID,
		InviteID:     inviteID,
		TargetName:   targetName,
		ConsumedLike: true,
		CreatedAt:    e.Now(),
	}
	if err := e.Store.CreateDeclaration(ctx, d); err != nil {
		var dupErr DuplicateDeclarationError
		if errors.As(err, &dupErr) {
			// Lost a duplicate race after consuming; give the unit back.
			if rerr := e.refundLike(ctx, userID); rerr != nil {
				log.Printf("refund after duplicate failed user=%s: %v", userID, rerr)
			}
		}
		return models.RegisterResult{}, err
	}

	matched, err := e.resolveMutual(ctx, user, d)
	if err != nil {
		return models.RegisterResult{}, err
	}
	if matched {
		d.Matched = true
	}

	decls, err := e.Store.ListDeclarations(ctx, userID, inviteID)
	if err != nil {
		return models.RegisterResult{}, err
	}
	limit, err := e.CheckLimit(ctx, userID)
	if err != nil {
		return models.RegisterResult{}, err
	}

	return models.RegisterResult{
		Created:        d,
		IsMutualMatch:  matched,
		Declarations:   decls,
		RemainingLikes: limit.RemainingLikes,
	}, nil
}

// resolveMutual looks for an unmatched declaration in the same invite that
// names the actor back and, if found, commits both rows in one atomic unit.
// No counterpart is a normal outcome, not an error.
func (e *Engine) resolveMutual(ctx context.Context, actor models.User, d models.Declaration) (bool, error) {
	for attempt := 0; attempt < matchRetryLimit; attempt++ {
		// A concurrent symmetric registration may have committed our row
		// already; that still counts as a match.
		own, err := e.Store.GetDeclaration(ctx, d.ID)
		if err != nil {
			return false, err
		}
		if own.Matched {
			return true, nil
		}

		candidates, err := e.Store.FindMutualCandidates(ctx, d.InviteID, actor.Name, d.UserID)
		if err != nil {
			return false, err
		}

		// Oldest unmatched declaration whose owner's live display name still
		// equals the declared target wins; same-named strangers are skipped.
		var counterpart *models.Declaration
		for i := range candidates {
			owner, err := e.Store.GetUser(ctx, candidates[i].UserID)
			if err != nil {
				var nf NotFoundError
				if errors.As(err, &nf) {
					continue
				}
				return false, err
			}
			if strings.EqualFold(owner.Name, d.TargetName) {
				counterpart = &candidates[i]
				break
			}
		}
		if counterpart == nil {
			return false, nil
		}

		ok, err := e.Store.CompleteMatch(ctx, d.InviteID, d.ID, counterpart.ID)
		if err != nil {
			return false, err
		}
		if ok {
			e.notifyMatch(ctx, d, *counterpart)
			return true, nil
		}
		// Either row changed under us; re-scan.
	}
	return false, ErrConflict
}

// notifyMatch hands the completed match to the notifier. Delivery is
// best-effort: the match itself is already committed.
func (e *Engine) notifyMatch(ctx context.Context, a, b models.Declaration) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.NotifyMatch(ctx, a, b); err != nil {
		log.Printf("match notification failed invite=%s: %v", a.InviteID, err)
		return
	}
	if err := e.Store.MarkNotified(ctx, a.ID, b.ID); err != nil {
		log.Printf("mark notified failed invite=%s: %v", a.InviteID, err)
	}
}

// ListDeclarations returns the user's declarations in one invite, newest
// first.
func (e *Engine) ListDeclarations(ctx context.Context, userID, inviteID string) ([]models.Declaration, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ValidationError{Field: "userId"}
	}
	if strings.TrimSpace(inviteID) == "" {
		return nil, ValidationError{Field: "inviteId"}
	}
	if _, err := e.Store.GetInvite(ctx, inviteID); err != nil {
		return nil, err
	}
	return e.Store.ListDeclarations(ctx, userID, inviteID)
}
