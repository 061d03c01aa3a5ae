package probe

import (
	"fmt"
	"math"
	"strings"
)

type driftDirection int

const (
	higherIsBetter driftDirection = iota + 1
	lowerIsBetter
)

type driftSpec struct {
	Metric    string
	Direction driftDirection
	WarnAbs   float64
	FailAbs   float64
	WarnRel   float64
	FailRel   float64
}

const (
	DriftNone = "none"
	DriftWarn = "warn"
	DriftFail = "fail"
)

// Drift summarizes how a report moved relative to a stored baseline. It is
// informational and never changes the report itself.
type Drift struct {
	Level    string         `json:"level"`
	Summary  string         `json:"summary"`
	Findings []string       `json:"findings,omitempty"`
	Metrics  map[string]any `json:"metrics,omitempty"`
}

// CompareWithBaseline flags score drops, probe outcome flips and latency
// growth between the current report and a baseline report.
func CompareWithBaseline(current, baseline Report) Drift {
	drift := Drift{
		Level:    DriftNone,
		Summary:  "no significant drift vs baseline",
		Findings: []string{},
		Metrics:  map[string]any{},
	}

	warnCount := 0
	failCount := 0

	if strings.TrimSpace(current.Model) != strings.TrimSpace(baseline.Model) {
		drift.Findings = append(drift.Findings, fmt.Sprintf("model mismatch: current=%s baseline=%s", current.Model, baseline.Model))
		warnCount++
	}
	if strings.TrimSpace(current.BaseURL) != strings.TrimSpace(baseline.BaseURL) {
		drift.Findings = append(drift.Findings, fmt.Sprintf("base URL mismatch: current=%s baseline=%s", current.BaseURL, baseline.BaseURL))
		warnCount++
	}

	scoreSpec := driftSpec{Metric: "score", Direction: higherIsBetter, WarnAbs: 5, FailAbs: 20, WarnRel: 0.05, FailRel: 0.25}
	scoreLevel := evaluateDrift(&drift, scoreSpec, float64(current.Score), float64(baseline.Score))
	switch scoreLevel {
	case DriftFail:
		failCount++
	case DriftWarn:
		warnCount++
	}
	drift.Metrics["score_delta"] = current.Score - baseline.Score

	for _, result := range current.Results {
		prev, ok := resultByProbe(baseline, result.Probe)
		if !ok {
			drift.Findings = append(drift.Findings, "no baseline result for probe: "+result.Probe)
			warnCount++
			continue
		}
		if result.Skipped || prev.Skipped {
			if result.Skipped != prev.Skipped {
				drift.Findings = append(drift.Findings, fmt.Sprintf("%s skip changed: baseline=%t current=%t", result.Probe, prev.Skipped, result.Skipped))
				warnCount++
			}
			continue
		}
		switch {
		case prev.Success && !result.Success:
			drift.Findings = append(drift.Findings, fmt.Sprintf("%s flipped to failure (baseline HTTP %d, current %s)", result.Probe, prev.StatusCode, failureDetail(result)))
			failCount++
		case !prev.Success && result.Success:
			drift.Findings = append(drift.Findings, fmt.Sprintf("%s recovered (baseline HTTP %d, current HTTP %d)", result.Probe, prev.StatusCode, result.StatusCode))
		}
		if prev.Success && result.Success {
			durationSpec := driftSpec{Metric: result.Probe + ".duration_ms", Direction: lowerIsBetter, WarnAbs: 2500, FailAbs: 10000}
			level := evaluateDrift(&drift, durationSpec, float64(result.DurationMS), float64(prev.DurationMS))
			switch level {
			case DriftFail:
				failCount++
			case DriftWarn:
				warnCount++
			}
		}
	}

	switch {
	case failCount > 0:
		drift.Level = DriftFail
		drift.Summary = "significant drift vs baseline detected"
	case warnCount > 0:
		drift.Level = DriftWarn
		drift.Summary = "minor drift vs baseline detected"
	}

	drift.Metrics["warn_findings"] = warnCount
	drift.Metrics["fail_findings"] = failCount
	drift.Metrics["baseline_score"] = baseline.Score
	drift.Metrics["baseline_generated_at"] = baseline.GeneratedAt
	return drift
}

// evaluateDrift appends a finding when the metric degraded past a threshold
// and returns the resulting level.
func evaluateDrift(drift *Drift, spec driftSpec, currentValue, baselineValue float64) string {
	degradeAbs := computeDegrade(spec.Direction, currentValue, baselineValue)
	degradeRel := 0.0
	den := math.Abs(baselineValue)
	if den < 1e-9 {
		den = 1.0
	}
	if degradeAbs > 0 {
		degradeRel = degradeAbs / den
	}

	level := DriftNone
	if exceeds(spec.FailAbs, spec.FailRel, degradeAbs, degradeRel) {
		level = DriftFail
	} else if exceeds(spec.WarnAbs, spec.WarnRel, degradeAbs, degradeRel) {
		level = DriftWarn
	}
	if level != DriftNone {
		drift.Findings = append(drift.Findings, fmt.Sprintf(
			"%s current=%.6g baseline=%.6g delta=%.6g degrade_rel=%.4f level=%s",
			spec.Metric,
			currentValue,
			baselineValue,
			currentValue-baselineValue,
			degradeRel,
			level,
		))
	}
	return level
}

func resultByProbe(report Report, name string) (Result, bool) {
	for _, item := range report.Results {
		if strings.EqualFold(strings.TrimSpace(item.Probe), strings.TrimSpace(name)) {
			return item, true
		}
	}
	return Result{}, false
}

func failureDetail(result Result) string {
	if result.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d", result.StatusCode)
	}
	if result.Error != "" {
		return result.Error
	}
	return "failed"
}

func computeDegrade(direction driftDirection, currentValue, baselineValue float64) float64 {
	switch direction {
	case higherIsBetter:
		return baselineValue - currentValue
	case lowerIsBetter:
		return currentValue - baselineValue
	default:
		return 0
	}
}

func exceeds(absThreshold, relThreshold, degradeAbs, degradeRel float64) bool {
	if degradeAbs <= 0 {
		return false
	}
	if absThreshold > 0 && degradeAbs >= absThreshold {
		return true
	}
	if relThreshold > 0 && degradeRel >= relThreshold {
		return true
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int32:
		return float64(value), true
	case int64:
		return float64(value), true
	case uint:
		return float64(value), true
	case uint32:
		return float64(value), true
	case uint64:
		return float64(value), true
	default:
		return 0, false
	}
}
