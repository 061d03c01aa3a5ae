package probe

import "testing"

func TestScoreRounding(t *testing.T) {
	if got := Score(1, 2); got != 33 {
		t.Fatalf("expected 33, got %d", got)
	}
	if got := Score(2, 1); got != 67 {
		t.Fatalf("expected 67, got %d", got)
	}
	if got := Score(1, 1); got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
}

func TestScoreBounds(t *testing.T) {
	if got := Score(3, 0); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if got := Score(0, 3); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := Score(0, 0); got != 0 {
		t.Fatalf("expected 0 for empty run, got %d", got)
	}
}

func TestTierBoundaries(t *testing.T) {
	cases := []struct {
		score int
		tier  string
	}{
		{100, TierHigh},
		{90, TierHigh},
		{89, TierMedium},
		{70, TierMedium},
		{69, TierLow},
		{0, TierLow},
	}
	for _, tc := range cases {
		if got := TierFor(tc.score); got != tc.tier {
			t.Fatalf("score %d: expected %s, got %s", tc.score, tc.tier, got)
		}
	}
}

func TestAppendResultTallies(t *testing.T) {
	report := NewReport(Target{BaseURL: "https://api.example.com/v1/", APIKey: "sk-test"})
	if report.BaseURL != "https://api.example.com/v1" {
		t.Fatalf("expected trailing slash stripped, got %s", report.BaseURL)
	}
	if !report.KeyProvided {
		t.Fatal("expected key_provided=true")
	}
	if report.Model != DefaultModel {
		t.Fatalf("expected default model, got %s", report.Model)
	}

	AppendResult(report, Result{Probe: ProbeModels, Success: true})
	AppendResult(report, Result{Probe: ProbeChat, Success: true})
	AppendResult(report, Result{Probe: ProbeEmbeddings})

	if report.Passed != 2 || report.Failed != 1 || report.Skipped != 0 {
		t.Fatalf("expected 2/1/0, got %d/%d/%d", report.Passed, report.Failed, report.Skipped)
	}
	if report.Score != 67 {
		t.Fatalf("expected score 67, got %d", report.Score)
	}
	if report.Tier != TierLow {
		t.Fatalf("expected tier low, got %s", report.Tier)
	}
}

func TestAppendResultSkippedNotCounted(t *testing.T) {
	report := NewReport(Target{BaseURL: "https://api.example.com"})
	AppendResult(report, SkipResult(Endpoints()[0]))
	AppendResult(report, Result{Probe: ProbeChat, Success: true})
	AppendResult(report, Result{Probe: ProbeEmbeddings, Success: true})

	if report.Skipped != 1 {
		t.Fatalf("expected 1 skipped, got %d", report.Skipped)
	}
	if report.Passed != 2 || report.Failed != 0 {
		t.Fatalf("expected 2 passed and 0 failed, got %d/%d", report.Passed, report.Failed)
	}
	if report.Score != 100 {
		t.Fatalf("expected score 100, got %d", report.Score)
	}
	if report.Tier != TierHigh {
		t.Fatalf("expected tier high, got %s", report.Tier)
	}
}
