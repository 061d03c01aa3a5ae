package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeChecker struct {
	rejectWith error
}

func (f fakeChecker) CreateAdminCheck(submission CheckSubmission, principal Principal, source string) (CheckMeta, error) {
	return CheckMeta{
		CheckID:     "chk_fake_admin",
		Status:      "queued",
		CreatorSub:  principal.Subject,
		CreatorType: "admin",
		Request: CheckRequest{
			BaseURL:     submission.BaseURL,
			Model:       submission.Model,
			KeyProvided: submission.APIKey != "",
		},
		CreatedAt: nowRFC3339(),
	}, nil
}

func (f fakeChecker) CreatePublicCheck(submission CheckSubmission, ipHash, uaHash string) (CheckMeta, error) {
	if f.rejectWith != nil {
		return CheckMeta{}, f.rejectWith
	}
	return CheckMeta{
		CheckID:     "chk_fake_user",
		Status:      "queued",
		CreatorType: "user",
		Request:     CheckRequest{BaseURL: submission.BaseURL, Model: submission.Model},
		CreatedAt:   nowRFC3339(),
	}, nil
}

func newTestAPI(t *testing.T, checker CheckService) (*API, *MemoryFileStore) {
	t.Helper()
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore: %v", err)
	}
	auth := NewAuth(nil, ServerConfig{
		Security: SecurityConfig{AdminToken: "secret-token"},
	})
	return NewAPI(DefaultServerConfig(), auth, store, checker, nil), store
}

func TestRouterHealthz(t *testing.T) {
	api, _ := newTestAPI(t, fakeChecker{})
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	response, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
}

func TestRouterAdminAuthAndCheck(t *testing.T) {
	api, _ := newTestAPI(t, fakeChecker{})
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	body := map[string]any{
		"base_url": "https://api.example.com/v1",
		"model":    "gpt-4o-mini",
	}
	rawBody, _ := json.Marshal(body)

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/admin/checks", bytes.NewReader(rawBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("admin create without auth failed: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	req2, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/admin/checks", bytes.NewReader(rawBody))
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("X-Admin-Token", "secret-token")
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("admin create with token failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp2.StatusCode)
	}
	var created struct {
		CheckID string `json:"check_id"`
		Status  string `json:"status"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.CheckID == "" || created.Status != "queued" {
		t.Fatalf("unexpected create response: %+v", created)
	}
}

func TestRouterPublicSubmit(t *testing.T) {
	api, _ := newTestAPI(t, fakeChecker{})
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	body := map[string]any{
		"base_url": "https://api.example.com/v1",
		"api_key":  "sk-test-1234",
		"model":    "gpt-4o-mini",
	}
	rawBody, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/checks", bytes.NewReader(rawBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("public submit failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
}

func TestRouterPublicSubmitQuotaRejected(t *testing.T) {
	api, _ := newTestAPI(t, fakeChecker{rejectWith: ErrRateLimited})
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	rawBody, _ := json.Marshal(map[string]any{"base_url": "https://api.example.com/v1"})
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/checks", bytes.NewReader(rawBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("public submit failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
}

func TestRouterPublicViewHidesCreator(t *testing.T) {
	api, store := newTestAPI(t, fakeChecker{})
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	meta := CheckMeta{
		CheckID:     "chk_view",
		Status:      "done",
		CreatorType: "user",
		CreatorSub:  "alice",
		Source:      "public.submit",
		Request:     CheckRequest{BaseURL: "https://api.example.com/v1", Model: "gpt-4o-mini", KeyProvided: true},
		CreatedAt:   nowRFC3339(),
		Score:       100,
		Tier:        "high",
	}
	if err := store.CreateCheck(meta); err != nil {
		t.Fatalf("CreateCheck: %v", err)
	}

	resp, err := http.Get(server.URL + "/api/v1/checks/chk_view")
	if err != nil {
		t.Fatalf("GET check failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if strings.Contains(string(raw), "alice") {
		t.Fatalf("public view leaked creator identity: %s", raw)
	}
	var view map[string]any
	if err := json.Unmarshal(raw, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	request, ok := view["request"].(map[string]any)
	if !ok {
		t.Fatalf("missing request block in view: %v", view)
	}
	if request["key_provided"] != true {
		t.Fatalf("expected key_provided=true, got %v", request["key_provided"])
	}
	if view["tier"] != "high" {
		t.Fatalf("expected tier high, got %v", view["tier"])
	}
}

func TestRouterAdminTimelineValidation(t *testing.T) {
	api, _ := newTestAPI(t, fakeChecker{})
	server := httptest.NewServer(api.Handler())
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/v1/admin/timeline", nil)
	req.Header.Set("X-Admin-Token", "secret-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("timeline request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without base_url, got %d", resp.StatusCode)
	}

	req2, _ := http.NewRequest(http.MethodGet, server.URL+"/api/v1/admin/timeline?base_url=https://api.example.com/v1", nil)
	req2.Header.Set("X-Admin-Token", "secret-token")
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("timeline request failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 with no history, got %d", resp2.StatusCode)
	}
}
