package server

import (
	"path/filepath"
	"testing"

	"oai-compat/internal/probe"
)

func TestMemoryStoreCheckLifecycle(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	meta := CheckMeta{
		CheckID:     "chk_test_1",
		Status:      "queued",
		Source:      "test",
		CreatorType: "admin",
		Request:     CheckRequest{BaseURL: "https://api.example.com/v1", Model: "gpt-4o-mini"},
		CreatedAt:   nowRFC3339(),
	}
	if err := store.CreateCheck(meta); err != nil {
		t.Fatalf("CreateCheck error: %v", err)
	}
	event, err := store.AppendCheckEvent(meta.CheckID, "queue", "queued", nil)
	if err != nil {
		t.Fatalf("AppendCheckEvent error: %v", err)
	}
	if event.Seq != 1 {
		t.Fatalf("expected first seq=1, got %d", event.Seq)
	}
	updated, err := store.UpdateCheck(meta.CheckID, func(item *CheckMeta) {
		item.Status = "running"
	})
	if err != nil {
		t.Fatalf("UpdateCheck error: %v", err)
	}
	if updated.Status != "running" {
		t.Fatalf("expected status running, got %s", updated.Status)
	}
}

func TestMemoryStoreEventCursor(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	meta := CheckMeta{CheckID: "chk_cursor", Status: "queued", CreatorType: "user", CreatedAt: nowRFC3339()}
	if err := store.CreateCheck(meta); err != nil {
		t.Fatalf("CreateCheck error: %v", err)
	}
	for _, stage := range []string{"queue", "start", "probe_result"} {
		if _, err := store.AppendCheckEvent(meta.CheckID, stage, stage, nil); err != nil {
			t.Fatalf("AppendCheckEvent(%s) error: %v", stage, err)
		}
	}
	events := store.ListCheckEvents(meta.CheckID, 1)
	if len(events) != 2 {
		t.Fatalf("expected 2 events after seq 1, got %d", len(events))
	}
	if events[0].Seq != 2 || events[1].Seq != 3 {
		t.Fatalf("expected seqs 2,3 got %d,%d", events[0].Seq, events[1].Seq)
	}
}

func TestMemoryStoreListByBaseURL(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	targets := []string{
		"https://api.example.com/v1",
		"https://api.example.com/v1/",
		"https://other.example.com/v1",
	}
	for i, baseURL := range targets {
		meta := CheckMeta{
			CheckID:     "chk_url_" + string(rune('a'+i)),
			Status:      "done",
			CreatorType: "user",
			Request:     CheckRequest{BaseURL: baseURL},
			CreatedAt:   nowRFC3339(),
		}
		if err := store.CreateCheck(meta); err != nil {
			t.Fatalf("CreateCheck error: %v", err)
		}
	}
	// trailing slash and case are normalized away
	matched := store.ListChecksByBaseURL("HTTPS://api.example.com/v1/", 0)
	if len(matched) != 2 {
		t.Fatalf("expected 2 checks for base URL, got %d", len(matched))
	}
}

func TestMemoryStoreOverviewCounts(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	report := &probe.Report{Score: 67, Tier: probe.TierLow, Passed: 2, Failed: 1}
	checks := []CheckMeta{
		{CheckID: "chk_o1", Status: "done", Tier: probe.TierLow, Report: report, CreatorType: "user", CreatedAt: nowRFC3339()},
		{CheckID: "chk_o2", Status: "running", CreatorType: "user", CreatedAt: nowRFC3339()},
		{CheckID: "chk_o3", Status: "queued", CreatorType: "admin", CreatedAt: nowRFC3339()},
	}
	for _, meta := range checks {
		if err := store.CreateCheck(meta); err != nil {
			t.Fatalf("CreateCheck error: %v", err)
		}
	}
	overview := store.GetMetricsOverview()
	if overview.TotalChecks != 3 {
		t.Fatalf("expected 3 total, got %d", overview.TotalChecks)
	}
	if overview.DoneChecks != 1 || overview.RunningChecks != 1 || overview.QueuedChecks != 1 {
		t.Fatalf("unexpected status counts: %+v", overview)
	}
	if overview.LowTier != 1 {
		t.Fatalf("expected 1 low tier check, got %d", overview.LowTier)
	}
	if overview.AverageScore != 67 {
		t.Fatalf("expected average score 67, got %v", overview.AverageScore)
	}
}

func TestMemoryStorePersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "checks.json")
	store, err := NewMemoryFileStore(path)
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	meta := CheckMeta{
		CheckID:     "chk_persist",
		Status:      "done",
		CreatorType: "user",
		Request:     CheckRequest{BaseURL: "https://api.example.com/v1", Model: "gpt-4o-mini", KeyProvided: true},
		CreatedAt:   nowRFC3339(),
	}
	if err := store.CreateCheck(meta); err != nil {
		t.Fatalf("CreateCheck error: %v", err)
	}
	if _, err := store.AppendCheckEvent(meta.CheckID, "completed", "check completed", map[string]any{"score": 100}); err != nil {
		t.Fatalf("AppendCheckEvent error: %v", err)
	}

	reloaded, err := NewMemoryFileStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := reloaded.GetCheck(meta.CheckID)
	if !ok {
		t.Fatalf("check missing after reload")
	}
	if !got.Request.KeyProvided {
		t.Fatalf("expected key_provided to survive reload")
	}
	// seq counter continues after the reload
	event, err := reloaded.AppendCheckEvent(meta.CheckID, "queue", "again", nil)
	if err != nil {
		t.Fatalf("AppendCheckEvent after reload: %v", err)
	}
	if event.Seq != 2 {
		t.Fatalf("expected seq 2 after reload, got %d", event.Seq)
	}
}

func TestMemoryStoreAuditTrim(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	if err := store.AppendAudit(AuditEvent{ActorType: "user", Action: "check.create", Result: "queued"}); err != nil {
		t.Fatalf("AppendAudit error: %v", err)
	}
	audit := store.ListAudit(10)
	if len(audit) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(audit))
	}
	if audit[0].Timestamp == "" {
		t.Fatalf("expected timestamp to be stamped on append")
	}
}
