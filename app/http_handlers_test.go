package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kiyohachi/matching-app/app/models"
)

// newTestRouter swaps in a fresh in-memory engine and builds the real router
// with auth disabled; requests run as the "local-dev" user.
func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("AUTH_DISABLED", "true")
	t.Setenv("ENV", "local")

	engine = NewEngine(NewMemoryStore())

	router, err := NewRouter()
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestHealthRoute(t *testing.T) {
	router := newTestRouter(t)

	resp := doJSON(t, router, http.MethodGet, "/health", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestLikeStatusRoute(t *testing.T) {
	router := newTestRouter(t)

	resp := doJSON(t, router, http.MethodGet, "/api/matching/like-status", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		Plan  models.PlanInfo  `json:"plan"`
		Usage models.UsageInfo `json:"usage"`
		Limit models.LimitInfo `json:"limit"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Plan.Kind != models.PlanFree {
		t.Fatalf("expected free plan, got %+v", body.Plan)
	}
	if !body.Limit.Allowed || body.Limit.RemainingLikes != 1 {
		t.Fatalf("expected 1 remaining like, got %+v", body.Limit)
	}
}

func TestInviteAndTargetFlow(t *testing.T) {
	router := newTestRouter(t)

	// Create a group.
	resp := doJSON(t, router, http.MethodPost, "/api/invites", `{"groupName":"year-end party"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("create invite: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var created struct {
		Invite models.Invite `json:"invite"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal invite: %v", err)
	}
	if len(created.Invite.InviteCode) != 8 {
		t.Fatalf("expected 8-char invite code, got %q", created.Invite.InviteCode)
	}

	// The invite link works without auth.
	resp = doJSON(t, router, http.MethodGet, "/api/invites/"+created.Invite.InviteCode, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("lookup by code: expected 200, got %d", resp.Code)
	}

	resp = doJSON(t, router, http.MethodPost, "/api/invites/"+created.Invite.InviteCode+"/clicks", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("click: expected 200, got %d", resp.Code)
	}
	var clicked struct {
		Clicks int `json:"clicks"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &clicked); err != nil {
		t.Fatalf("unmarshal clicks: %v", err)
	}
	if clicked.Clicks != 1 {
		t.Fatalf("expected 1 click, got %d", clicked.Clicks)
	}

	// Register a target.
	resp = doJSON(t, router, http.MethodPost, "/api/matching/targets",
		`{"targetName":"Hanako","inviteId":"`+created.Invite.ID+`"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("register target: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var result models.RegisterResult
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.IsMutualMatch {
		t.Fatal("no counterpart registered, must not match")
	}
	if result.RemainingLikes != 0 {
		t.Fatalf("free allowance should be spent, got %d", result.RemainingLikes)
	}

	// Same name again: duplicate beats quota.
	resp = doJSON(t, router, http.MethodPost, "/api/matching/targets",
		`{"targetName":"hanako","inviteId":"`+created.Invite.ID+`"}`)
	if resp.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d: %s", resp.Code, resp.Body.String())
	}

	// A different name hits the exhausted quota.
	resp = doJSON(t, router, http.MethodPost, "/api/matching/targets",
		`{"targetName":"Jiro","inviteId":"`+created.Invite.ID+`"}`)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("quota: expected 403, got %d: %s", resp.Code, resp.Body.String())
	}
	var quotaBody struct {
		Error         string `json:"error"`
		LimitExceeded bool   `json:"limitExceeded"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &quotaBody); err != nil {
		t.Fatalf("unmarshal quota body: %v", err)
	}
	if quotaBody.Error != "like_limit_exceeded" || !quotaBody.LimitExceeded {
		t.Fatalf("unexpected quota payload: %s", resp.Body.String())
	}

	// The list shows only the committed declaration.
	resp = doJSON(t, router, http.MethodGet, "/api/matching/targets?inviteId="+created.Invite.ID, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("list targets: expected 200, got %d", resp.Code)
	}
	var listed struct {
		Matches []models.Declaration `json:"matches"`
		Count   int                  `json:"count"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &listed); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if listed.Count != 1 || len(listed.Matches) != 1 {
		t.Fatalf("expected 1 declaration, got %s", resp.Body.String())
	}
}

func TestInviteLookupUnknownCode(t *testing.T) {
	router := newTestRouter(t)

	resp := doJSON(t, router, http.MethodGet, "/api/invites/zzzzzzzz", "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestRegisterTargetUnknownInvite(t *testing.T) {
	router := newTestRouter(t)

	resp := doJSON(t, router, http.MethodPost, "/api/matching/targets",
		`{"targetName":"Hanako","inviteId":"no-such-invite"}`)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestUpdatePlanRoute(t *testing.T) {
	router := newTestRouter(t)

	resp := doJSON(t, router, http.MethodPost, "/api/billing/update-plan", `{"plan":"premium"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("update plan: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = doJSON(t, router, http.MethodGet, "/api/matching/like-status", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("like-status: expected 200, got %d", resp.Code)
	}
	var body struct {
		Plan  models.PlanInfo  `json:"plan"`
		Limit models.LimitInfo `json:"limit"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !body.Plan.IsPremium {
		t.Fatalf("expected premium, got %+v", body.Plan)
	}
	if !body.Limit.Allowed || body.Limit.RemainingLikes != UnlimitedLikes {
		t.Fatalf("expected unlimited likes, got %+v", body.Limit)
	}

	resp = doJSON(t, router, http.MethodPost, "/api/billing/update-plan", `{"plan":"nonsense"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad plan, got %d", resp.Code)
	}
}

func TestMeRoute(t *testing.T) {
	router := newTestRouter(t)

	resp := doJSON(t, router, http.MethodGet, "/me", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body struct {
		User models.User     `json:"user"`
		Plan models.PlanInfo `json:"plan"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.User.ID != "local-dev" {
		t.Fatalf("expected local-dev profile, got %+v", body.User)
	}
	if body.Plan.Kind != models.PlanFree {
		t.Fatalf("expected free plan, got %+v", body.Plan)
	}
}
