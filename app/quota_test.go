package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kiyohachi/matching-app/app/models"
)

func newTestEngine(t *testing.T) (*Engine, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewEngine(store), store
}

func addTestUser(t *testing.T, e *Engine, id, name string) {
	t.Helper()
	err := e.Store.UpsertUser(context.Background(), models.User{
		ID:        id,
		Name:      name,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
}

func TestGetPlanDefaultsToFree(t *testing.T) {
	e, _ := newTestEngine(t)
	addTestUser(t, e, "u1", "Alice")

	plan, err := e.GetPlan(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if plan.Kind != models.PlanFree || plan.IsPremium {
		t.Fatalf("expected free plan, got %+v", plan)
	}
}

func TestGetPlanUnknownUser(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.GetPlan(context.Background(), "nobody")
	var nf NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestConsumeLikeFreeAllowance(t *testing.T) {
	e, _ := newTestEngine(t)
	addTestUser(t, e, "u1", "Alice")
	ctx := context.Background()

	ok, err := e.ConsumeLike(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	ok, err = e.ConsumeLike(ctx, "u1")
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if ok {
		t.Fatal("second consume should exceed the free allowance")
	}

	limit, err := e.CheckLimit(ctx, "u1")
	if err != nil {
		t.Fatalf("CheckLimit: %v", err)
	}
	if limit.Allowed || limit.RemainingLikes != 0 {
		t.Fatalf("expected exhausted limit, got %+v", limit)
	}
}

func TestConsumeLikeConcurrentSingleUnit(t *testing.T) {
	e, _ := newTestEngine(t)
	addTestUser(t, e, "u1", "Alice")
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	results := make([]bool, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ok, err := e.ConsumeLike(ctx, "u1")
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			results[i] = ok
		}(i)
	}
	close(start)
	wg.Wait()

	granted := 0
	for _, ok := range results {
		if ok {
			granted++
		}
	}
	if granted != 1 {
		t.Fatalf("expected exactly 1 granted consume, got %d", granted)
	}

	usage, err := e.GetUsage(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if usage.UsedCount != 1 {
		t.Fatalf("expected used=1, got %d", usage.UsedCount)
	}
}

func TestPremiumBypassesLimit(t *testing.T) {
	e, _ := newTestEngine(t)
	addTestUser(t, e, "u1", "Alice")
	ctx := context.Background()

	if err := e.SetPremium(ctx, "u1", nil); err != nil {
		t.Fatalf("SetPremium: %v", err)
	}

	for i := 0; i < 5; i++ {
		ok, err := e.ConsumeLike(ctx, "u1")
		if err != nil || !ok {
			t.Fatalf("premium consume %d: ok=%v err=%v", i, ok, err)
		}
	}

	limit, err := e.CheckLimit(ctx, "u1")
	if err != nil {
		t.Fatalf("CheckLimit: %v", err)
	}
	if !limit.Allowed || limit.RemainingLikes != UnlimitedLikes {
		t.Fatalf("expected unlimited, got %+v", limit)
	}

	// Usage is still tracked while premium.
	usage, err := e.GetUsage(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if usage.UsedCount != 5 {
		t.Fatalf("expected used=5, got %d", usage.UsedCount)
	}
	if usage.TotalAvailable != UnlimitedLikes {
		t.Fatalf("expected unlimited total, got %d", usage.TotalAvailable)
	}
}

func TestExpiredPremiumReadsAsFree(t *testing.T) {
	e, _ := newTestEngine(t)
	addTestUser(t, e, "u1", "Alice")
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	if err := e.SetPremium(ctx, "u1", &past); err != nil {
		t.Fatalf("SetPremium: %v", err)
	}

	plan, err := e.GetPlan(ctx, "u1")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if plan.IsPremium || plan.Kind != models.PlanFree {
		t.Fatalf("expected expired premium to read as free, got %+v", plan)
	}

	ok, err := e.ConsumeLike(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("consume within free allowance: ok=%v err=%v", ok, err)
	}
	ok, err = e.ConsumeLike(ctx, "u1")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if ok {
		t.Fatal("expired premium must not bypass the limit")
	}
}

func TestAddPurchasedCreditsExtendsAllowance(t *testing.T) {
	e, _ := newTestEngine(t)
	addTestUser(t, e, "u1", "Alice")
	ctx := context.Background()

	total, err := e.AddPurchasedCredits(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("AddPurchasedCredits: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected purchased=2, got %d", total)
	}

	// Base 1 + 2 purchased = 3 consumes.
	for i := 0; i < 3; i++ {
		ok, err := e.ConsumeLike(ctx, "u1")
		if err != nil || !ok {
			t.Fatalf("consume %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := e.ConsumeLike(ctx, "u1")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if ok {
		t.Fatal("fourth consume should be denied")
	}
}

func TestAddPurchasedCreditsConcurrent(t *testing.T) {
	e, _ := newTestEngine(t)
	addTestUser(t, e, "u1", "Alice")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.AddPurchasedCredits(ctx, "u1", 1); err != nil {
				t.Errorf("AddPurchasedCredits: %v", err)
			}
		}()
	}
	wg.Wait()

	usage, err := e.GetUsage(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if usage.PurchasedCount != 2 {
		t.Fatalf("expected both purchases applied, got purchased=%d", usage.PurchasedCount)
	}
}

func TestAddPurchasedCreditsRejectedForPremium(t *testing.T) {
	e, _ := newTestEngine(t)
	addTestUser(t, e, "u1", "Alice")
	ctx := context.Background()

	if err := e.SetPremium(ctx, "u1", nil); err != nil {
		t.Fatalf("SetPremium: %v", err)
	}

	_, err := e.AddPurchasedCredits(ctx, "u1", 1)
	var conflict PremiumConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected PremiumConflictError, got %v", err)
	}
}

func TestAddPurchasedCreditsValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	addTestUser(t, e, "u1", "Alice")

	_, err := e.AddPurchasedCredits(context.Background(), "u1", 0)
	var valErr ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError for qty 0, got %v", err)
	}
}

func TestMonthRollover(t *testing.T) {
	e, _ := newTestEngine(t)
	addTestUser(t, e, "u1", "Alice")
	ctx := context.Background()

	jan := time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return jan }

	if _, err := e.AddPurchasedCredits(ctx, "u1", 3); err != nil {
		t.Fatalf("AddPurchasedCredits: %v", err)
	}
	for i := 0; i < 4; i++ {
		ok, err := e.ConsumeLike(ctx, "u1")
		if err != nil || !ok {
			t.Fatalf("january consume %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := e.ConsumeLike(ctx, "u1"); ok {
		t.Fatal("january allowance should be spent")
	}

	feb := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return feb }

	// Fresh month: base allowance is back, purchased credits do not roll over.
	usage, err := e.GetUsage(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if usage.UsedCount != 0 || usage.PurchasedCount != 0 {
		t.Fatalf("expected fresh february bucket, got %+v", usage)
	}

	ok, err := e.ConsumeLike(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("february consume: ok=%v err=%v", ok, err)
	}
	if ok, _ := e.ConsumeLike(ctx, "u1"); ok {
		t.Fatal("february free allowance is 1")
	}
}

func TestFreeExhaustThenPurchaseScenario(t *testing.T) {
	e, _ := newTestEngine(t)
	addTestUser(t, e, "u1", "Alice")
	ctx := context.Background()

	if ok, err := e.ConsumeLike(ctx, "u1"); err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	if ok, _ := e.ConsumeLike(ctx, "u1"); ok {
		t.Fatal("second consume should be denied")
	}

	if _, err := e.AddPurchasedCredits(ctx, "u1", 1); err != nil {
		t.Fatalf("AddPurchasedCredits: %v", err)
	}

	limit, err := e.CheckLimit(ctx, "u1")
	if err != nil {
		t.Fatalf("CheckLimit: %v", err)
	}
	if !limit.Allowed || limit.RemainingLikes != 1 {
		t.Fatalf("expected one credit available, got %+v", limit)
	}
	if ok, err := e.ConsumeLike(ctx, "u1"); err != nil || !ok {
		t.Fatalf("purchased consume: ok=%v err=%v", ok, err)
	}
	if ok, _ := e.ConsumeLike(ctx, "u1"); ok {
		t.Fatal("credits spent, consume should be denied")
	}
}

func TestUpgradeMidMonthScenario(t *testing.T) {
	e, _ := newTestEngine(t)
	addTestUser(t, e, "u1", "Alice")
	ctx := context.Background()

	if ok, err := e.ConsumeLike(ctx, "u1"); err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	if ok, _ := e.ConsumeLike(ctx, "u1"); ok {
		t.Fatal("free allowance should be spent")
	}

	periodEnd := time.Now().AddDate(0, 0, 30)
	if err := e.SetPremium(ctx, "u1", &periodEnd); err != nil {
		t.Fatalf("SetPremium: %v", err)
	}

	for i := 0; i < 3; i++ {
		if ok, err := e.ConsumeLike(ctx, "u1"); err != nil || !ok {
			t.Fatalf("premium consume %d: ok=%v err=%v", i, ok, err)
		}
	}

	// Downgrade: usage kept counting, so the free limit is already over.
	if err := e.SetFree(ctx, "u1"); err != nil {
		t.Fatalf("SetFree: %v", err)
	}
	if ok, _ := e.ConsumeLike(ctx, "u1"); ok {
		t.Fatal("downgraded user is over the free allowance")
	}
}
