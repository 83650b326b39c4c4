package app

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kiyohachi/matching-app/app/models"
)

// MemoryStore is a mutex-guarded Store used by tests and by local runs
// without a Postgres instance. One lock covers everything, which trivially
// gives each keyed operation the same linearizability the SQL store gets
// from its transactions.
type MemoryStore struct {
	mu           sync.Mutex
	users        map[string]models.User
	plans        map[string]models.PlanRecord
	usage        map[string]models.LikeUsage
	invites      map[string]models.Invite
	inviteCodes  map[string]string
	declarations map[string]models.Declaration
	purchases    []models.PurchaseRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]models.User),
		plans:        make(map[string]models.PlanRecord),
		usage:        make(map[string]models.LikeUsage),
		invites:      make(map[string]models.Invite),
		inviteCodes:  make(map[string]string),
		declarations: make(map[string]models.Declaration),
	}
}

func usageKey(userID, monthYear string) string {
	return userID + "|" + monthYear
}

func (s *MemoryStore) UpsertUser(ctx context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[u.ID]; ok {
		u.CreatedAt = existing.CreatedAt
		if u.Email == "" {
			u.Email = existing.Email
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, NotFoundError{Kind: "user", ID: id}
	}
	return u, nil
}

func (s *MemoryStore) GetPlan(ctx context.Context, userID string) (models.PlanRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[userID]
	return p, ok, nil
}

func (s *MemoryStore) SetPlan(ctx context.Context, p models.PlanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.plans[p.UserID]; ok && p.StripeCustomerID == "" {
		p.StripeCustomerID = existing.StripeCustomerID
	}
	s.plans[p.UserID] = p
	return nil
}

func (s *MemoryStore) SetStripeCustomer(ctx context.Context, userID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[userID]
	if !ok {
		p = models.PlanRecord{
			UserID:      userID,
			Kind:        models.PlanFree,
			Status:      models.PlanStatusActive,
			PeriodStart: time.Now(),
		}
	}
	p.StripeCustomerID = customerID
	s.plans[userID] = p
	return nil
}

func (s *MemoryStore) UserIDByStripeCustomer(ctx context.Context, customerID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, p := range s.plans {
		if p.StripeCustomerID == customerID {
			return userID, true, nil
		}
	}
	return "", false, nil
}

func (s *MemoryStore) GetUsage(ctx context.Context, userID, monthYear string) (models.LikeUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.usage[usageKey(userID, monthYear)]; ok {
		return u, nil
	}
	return models.LikeUsage{UserID: userID, MonthYear: monthYear}, nil
}

func (s *MemoryStore) WithUsage(ctx context.Context, userID, monthYear string, fn UsageMutator) (models.LikeUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var plan *models.PlanRecord
	if p, ok := s.plans[userID]; ok {
		plan = &p
	}

	key := usageKey(userID, monthYear)
	u, ok := s.usage[key]
	if !ok {
		u = models.LikeUsage{UserID: userID, MonthYear: monthYear}
	}

	commit, err := fn(plan, &u)
	if err != nil {
		return models.LikeUsage{}, err
	}
	if commit {
		u.UpdatedAt = time.Now()
		s.usage[key] = u
	}
	return u, nil
}

func (s *MemoryStore) CreateInvite(ctx context.Context, inv models.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[inv.ID] = inv
	s.inviteCodes[inv.InviteCode] = inv.ID
	return nil
}

func (s *MemoryStore) GetInvite(ctx context.Context, id string) (models.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[id]
	if !ok {
		return models.Invite{}, NotFoundError{Kind: "invite", ID: id}
	}
	return inv, nil
}

func (s *MemoryStore) GetInviteByCode(ctx context.Context, code string) (models.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.inviteCodes[code]
	if !ok {
		return models.Invite{}, NotFoundError{Kind: "invite", ID: code}
	}
	return s.invites[id], nil
}

func (s *MemoryStore) IncrementInviteClicks(ctx context.Context, code string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.inviteCodes[code]
	if !ok {
		return 0, NotFoundError{Kind: "invite", ID: code}
	}
	inv := s.invites[id]
	inv.Clicks++
	s.invites[id] = inv
	return inv.Clicks, nil
}

func (s *MemoryStore) IncrementInviteSignups(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[id]
	if !ok {
		return NotFoundError{Kind: "invite", ID: id}
	}
	inv.Signups++
	s.invites[id] = inv
	return nil
}

func (s *MemoryStore) CreateDeclaration(ctx context.Context, d models.Declaration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.declarations {
		if existing.UserID == d.UserID && existing.InviteID == d.InviteID &&
			strings.EqualFold(existing.TargetName, d.TargetName) {
			return DuplicateDeclarationError{TargetName: d.TargetName}
		}
	}
	s.declarations[d.ID] = d
	return nil
}

func (s *MemoryStore) GetDeclaration(ctx context.Context, id string) (models.Declaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.declarations[id]
	if !ok {
		return models.Declaration{}, NotFoundError{Kind: "declaration", ID: id}
	}
	return d, nil
}

func (s *MemoryStore) HasDeclaration(ctx context.Context, userID, inviteID, targetName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.declarations {
		if d.UserID == userID && d.InviteID == inviteID && strings.EqualFold(d.TargetName, targetName) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListDeclarations(ctx context.Context, userID, inviteID string) ([]models.Declaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Declaration
	for _, d := range s.declarations {
		if d.UserID == userID && d.InviteID == inviteID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) FindMutualCandidates(ctx context.Context, inviteID, targetName, excludeUserID string) ([]models.Declaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Declaration
	for _, d := range s.declarations {
		if d.InviteID == inviteID && !d.Matched && d.UserID != excludeUserID &&
			strings.EqualFold(d.TargetName, targetName) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CompleteMatch(ctx context.Context, inviteID, declarationID, counterpartID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, okA := s.declarations[declarationID]
	b, okB := s.declarations[counterpartID]
	if !okA || !okB {
		return false, nil
	}
	if a.InviteID != inviteID || b.InviteID != inviteID {
		return false, nil
	}
	if a.Matched || b.Matched {
		return false, nil
	}
	a.Matched = true
	b.Matched = true
	s.declarations[a.ID] = a
	s.declarations[b.ID] = b
	return true, nil
}

func (s *MemoryStore) MarkNotified(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if d, ok := s.declarations[id]; ok {
			d.Notified = true
			s.declarations[id] = d
		}
	}
	return nil
}

func (s *MemoryStore) RecordPurchase(ctx context.Context, p models.PurchaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases = append(s.purchases, p)
	return nil
}

// Purchases returns a copy of the audit trail, newest last. Test helper.
func (s *MemoryStore) Purchases() []models.PurchaseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PurchaseRecord, len(s.purchases))
	copy(out, s.purchases)
	return out
}
