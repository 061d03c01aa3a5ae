package probe

import (
	"strings"
	"testing"
)

func driftReport(model string, chatMS int64, embeddingsOK bool) Report {
	report := Report{BaseURL: "https://api.example.com/v1", Model: model, GeneratedAt: "2026-08-20T10:00:00Z"}
	AppendResult(&report, Result{Probe: ProbeModels, Method: "GET", Path: "/models", StatusCode: 200, Success: true, DurationMS: 80})
	AppendResult(&report, Result{Probe: ProbeChat, Method: "POST", Path: "/chat/completions", StatusCode: 200, Success: true, DurationMS: chatMS})
	embeddings := Result{Probe: ProbeEmbeddings, Method: "POST", Path: "/embeddings", StatusCode: 200, Success: true, DurationMS: 90}
	if !embeddingsOK {
		embeddings.StatusCode = 500
		embeddings.Success = false
		embeddings.Error = "Internal Server Error"
	}
	AppendResult(&report, embeddings)
	return report
}

func TestCompareWithBaselineNoDrift(t *testing.T) {
	baseline := driftReport("test-model", 120, true)
	current := driftReport("test-model", 140, true)

	drift := CompareWithBaseline(current, baseline)
	if drift.Level != DriftNone {
		t.Fatalf("expected no drift, got %s: %v", drift.Level, drift.Findings)
	}
}

func TestCompareWithBaselineProbeFlip(t *testing.T) {
	baseline := driftReport("test-model", 120, true)
	current := driftReport("test-model", 120, false)

	drift := CompareWithBaseline(current, baseline)
	if drift.Level != DriftFail {
		t.Fatalf("expected fail level, got %s", drift.Level)
	}
	found := false
	for _, finding := range drift.Findings {
		if strings.Contains(finding, "embeddings flipped to failure") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected flip finding, got %v", drift.Findings)
	}
}

func TestCompareWithBaselineRecovery(t *testing.T) {
	baseline := driftReport("test-model", 120, false)
	current := driftReport("test-model", 120, true)

	drift := CompareWithBaseline(current, baseline)
	if drift.Level == DriftFail {
		t.Fatalf("recovery must not fail, got %s: %v", drift.Level, drift.Findings)
	}
	found := false
	for _, finding := range drift.Findings {
		if strings.Contains(finding, "embeddings recovered") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected recovery finding, got %v", drift.Findings)
	}
}

func TestCompareWithBaselineLatencyGrowth(t *testing.T) {
	baseline := driftReport("test-model", 100, true)
	current := driftReport("test-model", 4000, true)

	drift := CompareWithBaseline(current, baseline)
	if drift.Level != DriftWarn {
		t.Fatalf("expected warn level for latency growth, got %s: %v", drift.Level, drift.Findings)
	}
}

func TestCompareWithBaselineModelMismatch(t *testing.T) {
	baseline := driftReport("model-a", 120, true)
	current := driftReport("model-b", 120, true)

	drift := CompareWithBaseline(current, baseline)
	if drift.Level != DriftWarn {
		t.Fatalf("expected warn level, got %s", drift.Level)
	}
	if len(drift.Findings) == 0 || !strings.Contains(drift.Findings[0], "model mismatch") {
		t.Fatalf("expected model mismatch finding, got %v", drift.Findings)
	}
}
