package server

import (
	"errors"
	"testing"
)

func TestQuotaManagerMinuteWindow(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Quota.SubmitRPM = 2
	cfg.Quota.SubmitPerDay = 100
	quota := NewQuotaManager(cfg)

	if err := quota.Allow("hash-a"); err != nil {
		t.Fatalf("first submission blocked: %v", err)
	}
	if err := quota.Allow("hash-a"); err != nil {
		t.Fatalf("second submission blocked: %v", err)
	}
	if err := quota.Allow("hash-a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	// a different actor is unaffected
	if err := quota.Allow("hash-b"); err != nil {
		t.Fatalf("other actor blocked: %v", err)
	}
}

func TestQuotaManagerDailyCap(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Quota.SubmitRPM = 100
	cfg.Quota.SubmitPerDay = 3
	quota := NewQuotaManager(cfg)

	for i := 0; i < 3; i++ {
		if err := quota.Allow("hash-day"); err != nil {
			t.Fatalf("submission %d blocked: %v", i+1, err)
		}
	}
	if err := quota.Allow("hash-day"); !errors.Is(err, ErrDailyQuota) {
		t.Fatalf("expected daily quota error, got %v", err)
	}
}
