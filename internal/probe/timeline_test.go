package probe

import (
	"strings"
	"testing"
)

func timelineReport(generatedAt string, score int, chatMS int64) Report {
	return Report{
		GeneratedAt: generatedAt,
		BaseURL:     "https://api.example.com/v1",
		Model:       "test-model",
		Score:       score,
		Results: []Result{
			{Probe: ProbeChat, StatusCode: 200, Success: true, DurationMS: chatMS},
			{Probe: ProbeEmbeddings, StatusCode: 200, Success: true, DurationMS: 90},
		},
	}
}

func TestAnalyzeTimelineStable(t *testing.T) {
	history := []Report{
		timelineReport("2026-08-20T10:00:00Z", 100, 120),
		timelineReport("2026-08-21T10:00:00Z", 100, 130),
	}
	current := timelineReport("2026-08-22T10:00:00Z", 100, 125)

	drift, snapshot := AnalyzeTimeline(history, current)
	if drift.Level != DriftNone {
		t.Fatalf("expected stable timeline, got %s: %v", drift.Level, drift.Findings)
	}
	if snapshot.TotalRuns != 3 || snapshot.HistoryRuns != 2 {
		t.Fatalf("expected 3 total and 2 history runs, got %d/%d", snapshot.TotalRuns, snapshot.HistoryRuns)
	}
	series, ok := snapshot.MetricSeries["score"]
	if !ok || len(series) != 3 {
		t.Fatalf("expected 3 score points, got %v", series)
	}
	if series[0].GeneratedAt != "2026-08-20T10:00:00Z" || series[2].GeneratedAt != "2026-08-22T10:00:00Z" {
		t.Fatalf("expected chronological order, got %v", series)
	}
}

func TestAnalyzeTimelineScoreCollapse(t *testing.T) {
	history := []Report{
		timelineReport("2026-08-20T10:00:00Z", 100, 120),
		timelineReport("2026-08-21T10:00:00Z", 100, 120),
	}
	current := timelineReport("2026-08-22T10:00:00Z", 33, 120)

	drift, _ := AnalyzeTimeline(history, current)
	if drift.Level != DriftFail {
		t.Fatalf("expected fail level on score collapse, got %s: %v", drift.Level, drift.Findings)
	}
}

func TestAnalyzeTimelineSingleRunWeakSignal(t *testing.T) {
	drift, snapshot := AnalyzeTimeline(nil, timelineReport("2026-08-22T10:00:00Z", 100, 120))
	if snapshot.TotalRuns != 1 {
		t.Fatalf("expected 1 total run, got %d", snapshot.TotalRuns)
	}
	if drift.Level != DriftWarn {
		t.Fatalf("expected warn level for a single run, got %s", drift.Level)
	}
	found := false
	for _, finding := range drift.Findings {
		if strings.Contains(finding, "<2 runs") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected weak signal finding, got %v", drift.Findings)
	}
}
