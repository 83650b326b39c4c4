package app

import (
	"context"

	"github.com/kiyohachi/matching-app/app/models"
)

// UsageMutator inspects and mutates a (user, month) usage bucket while the
// store holds it exclusively. plan is nil when the user has no subscription
// row. Returning false leaves the bucket untouched.
type UsageMutator func(plan *models.PlanRecord, usage *models.LikeUsage) (commit bool, err error)

// Store is the persistence contract the engines run on. Implementations must
// make WithUsage and CompleteMatch linearizable with respect to concurrent
// calls on the same keys; everything else is plain keyed access.
type Store interface {
	// Users.
	UpsertUser(ctx context.Context, u models.User) error
	GetUser(ctx context.Context, id string) (models.User, error)

	// Plans. GetPlan reports ok=false when the user has no subscription row,
	// which the quota engine treats as the free plan.
	GetPlan(ctx context.Context, userID string) (models.PlanRecord, bool, error)
	SetPlan(ctx context.Context, p models.PlanRecord) error
	SetStripeCustomer(ctx context.Context, userID, customerID string) error
	UserIDByStripeCustomer(ctx context.Context, customerID string) (string, bool, error)

	// Usage buckets. GetUsage returns a zero bucket when none exists yet.
	GetUsage(ctx context.Context, userID, monthYear string) (models.LikeUsage, error)
	WithUsage(ctx context.Context, userID, monthYear string, fn UsageMutator) (models.LikeUsage, error)

	// Invites.
	CreateInvite(ctx context.Context, inv models.Invite) error
	GetInvite(ctx context.Context, id string) (models.Invite, error)
	GetInviteByCode(ctx context.Context, code string) (models.Invite, error)
	IncrementInviteClicks(ctx context.Context, code string) (int, error)
	IncrementInviteSignups(ctx context.Context, id string) error

	// Declarations. CreateDeclaration fails with DuplicateDeclarationError
	// when (user, invite, lower(name)) already exists. FindMutualCandidates
	// returns unmatched declarations in inviteID whose target name equals
	// targetName case-insensitively, excluding excludeUserID, oldest first.
	// CompleteMatch marks both rows matched in one atomic unit and reports
	// false without side effects if either row was no longer unmatched.
	CreateDeclaration(ctx context.Context, d models.Declaration) error
	GetDeclaration(ctx context.Context, id string) (models.Declaration, error)
	HasDeclaration(ctx context.Context, userID, inviteID, targetName string) (bool, error)
	ListDeclarations(ctx context.Context, userID, inviteID string) ([]models.Declaration, error)
	FindMutualCandidates(ctx context.Context, inviteID, targetName, excludeUserID string) ([]models.Declaration, error)
	CompleteMatch(ctx context.Context, inviteID, declarationID, counterpartID string) (bool, error)
	MarkNotified(ctx context.Context, ids ...string) error

	// Purchase audit trail; callers treat failures as non-fatal.
	RecordPurchase(ctx context.Context, p models.PurchaseRecord) error
}
