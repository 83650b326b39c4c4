package app

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNewInviteCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code := newInviteCode()
		if len(code) != inviteCodeLength {
			t.Fatalf("expected %d chars, got %q", inviteCodeLength, code)
		}
		for _, r := range code {
			if !strings.ContainsRune(inviteCodeAlphabet, r) {
				t.Fatalf("unexpected character %q in %q", r, code)
			}
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Fatal("codes should not collide constantly")
	}
}

func TestCreateInviteAndLookup(t *testing.T) {
	e, _ := newTestEngine(t)
	addTestUser(t, e, "owner", "Host")
	ctx := context.Background()

	inv, err := e.CreateInvite(ctx, "owner", "  drinks  ")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if inv.Name != "drinks" {
		t.Fatalf("expected trimmed name, got %q", inv.Name)
	}

	got, err := e.InviteByCode(ctx, inv.InviteCode)
	if err != nil {
		t.Fatalf("InviteByCode: %v", err)
	}
	if got.ID != inv.ID {
		t.Fatalf("expected invite %s, got %s", inv.ID, got.ID)
	}

	_, err = e.InviteByCode(ctx, "unknowncode")
	var nf NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestCreateInviteValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	addTestUser(t, e, "owner", "Host")
	ctx := context.Background()

	var valErr ValidationError
	if _, err := e.CreateInvite(ctx, "owner", "   "); !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError for empty name, got %v", err)
	}
	if _, err := e.CreateInvite(ctx, "", "drinks"); !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError for empty owner, got %v", err)
	}

	var nf NotFoundError
	if _, err := e.CreateInvite(ctx, "ghost", "drinks"); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError for unknown owner, got %v", err)
	}
}

func TestInviteCounters(t *testing.T) {
	e, _ := newTestEngine(t)
	addTestUser(t, e, "owner", "Host")
	ctx := context.Background()

	inv, err := e.CreateInvite(ctx, "owner", "drinks")
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	for want := 1; want <= 3; want++ {
		clicks, err := e.RegisterInviteClick(ctx, inv.InviteCode)
		if err != nil {
			t.Fatalf("RegisterInviteClick: %v", err)
		}
		if clicks != want {
			t.Fatalf("expected %d clicks, got %d", want, clicks)
		}
	}

	if err := e.RegisterInviteSignup(ctx, inv.ID); err != nil {
		t.Fatalf("RegisterInviteSignup: %v", err)
	}
	got, err := e.Store.GetInvite(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvite: %v", err)
	}
	if got.Clicks != 3 || got.Signups != 1 {
		t.Fatalf("unexpected counters: %+v", got)
	}
}
