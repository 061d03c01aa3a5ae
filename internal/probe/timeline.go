package probe

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

type timelineMetricSpec struct {
	Key       string
	Direction driftDirection
	WarnSlope float64
	FailSlope float64
	WarnJump  float64
	FailJump  float64
	Value     func(Report) (float64, bool)
}

type TimelinePoint struct {
	GeneratedAt string  `json:"generated_at"`
	BaseURL     string  `json:"base_url,omitempty"`
	Model       string  `json:"model,omitempty"`
	Value       float64 `json:"value"`
}

type TimelineSnapshot struct {
	GeneratedAt   string                       `json:"generated_at"`
	HistoryRuns   int                          `json:"history_runs"`
	TotalRuns     int                          `json:"total_runs"`
	MetricSeries  map[string][]TimelinePoint   `json:"metric_series"`
	MetricSummary map[string]map[string]any    `json:"metric_summary"`
	Meta          map[string]map[string]string `json:"meta,omitempty"`
}

func timelineSpecs() []timelineMetricSpec {
	specs := []timelineMetricSpec{
		{
			Key:       "score",
			Direction: higherIsBetter,
			WarnSlope: 2,
			FailSlope: 8,
			WarnJump:  15,
			FailJump:  40,
			Value: func(report Report) (float64, bool) {
				return float64(report.Score), true
			},
		},
	}
	for _, name := range []string{ProbeModels, ProbeChat, ProbeEmbeddings} {
		probeName := name
		specs = append(specs, timelineMetricSpec{
			Key:       probeName + ".duration_ms",
			Direction: lowerIsBetter,
			WarnSlope: 500,
			FailSlope: 2500,
			WarnJump:  3000,
			FailJump:  12000,
			Value: func(report Report) (float64, bool) {
				result, ok := resultByProbe(report, probeName)
				if !ok || result.Skipped || !result.Success {
					return 0, false
				}
				return float64(result.DurationMS), true
			},
		})
	}
	return specs
}

// AnalyzeTimeline inspects score and latency trends across the stored history
// of a target plus the current report. The assessment is informational.
func AnalyzeTimeline(history []Report, current Report) (Drift, TimelineSnapshot) {
	snapshot := TimelineSnapshot{
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
		HistoryRuns:   len(history),
		TotalRuns:     len(history) + 1,
		MetricSeries:  map[string][]TimelinePoint{},
		MetricSummary: map[string]map[string]any{},
		Meta:          map[string]map[string]string{},
	}

	drift := Drift{
		Level:    DriftNone,
		Summary:  "timeline trend is stable",
		Findings: []string{},
		Metrics:  map[string]any{},
	}

	allReports := make([]Report, 0, len(history)+1)
	allReports = append(allReports, history...)
	allReports = append(allReports, current)
	allReports = sortReportsByTime(allReports)

	warnCount := 0
	failCount := 0
	checkedCount := 0
	missingCount := 0

	for _, spec := range timelineSpecs() {
		points := buildTimelinePoints(allReports, spec.Value)
		if len(points) == 0 {
			missingCount++
			drift.Findings = append(drift.Findings, "missing timeline metric: "+spec.Key)
			continue
		}
		snapshot.MetricSeries[spec.Key] = points
		snapshot.Meta[spec.Key] = map[string]string{
			"metric":    spec.Key,
			"direction": directionLabel(spec.Direction),
		}

		values := make([]float64, 0, len(points))
		for _, point := range points {
			values = append(values, point.Value)
		}
		summary := summarizeSeries(values)
		delta, deltaAbs, deltaAt, deltaZ := maxJump(points)
		slope := linearSlope(values)
		degradeSlope := slopeDegradation(spec.Direction, slope)

		level := DriftNone
		if degradeSlope >= spec.FailSlope || deltaAbs >= spec.FailJump {
			level = DriftFail
			failCount++
		} else if degradeSlope >= spec.WarnSlope || deltaAbs >= spec.WarnJump || deltaZ >= 3 {
			level = DriftWarn
			warnCount++
		}

		summary["latest"] = values[len(values)-1]
		summary["slope_per_run"] = slope
		summary["degrade_slope"] = degradeSlope
		summary["max_jump"] = delta
		summary["max_jump_abs"] = deltaAbs
		summary["max_jump_at"] = deltaAt
		summary["max_jump_z"] = deltaZ
		summary["level"] = level
		snapshot.MetricSummary[spec.Key] = summary

		drift.Findings = append(drift.Findings,
			spec.Key+" level="+level+
				" latest="+formatFloat(values[len(values)-1])+
				" p95="+formatFloat(asFloat(summary["p95"]))+
				" slope="+formatFloat(slope)+
				" max_jump="+formatFloat(delta))
		checkedCount++
	}

	if snapshot.TotalRuns < 2 {
		warnCount++
		drift.Findings = append(drift.Findings, "timeline has <2 runs; trend signal is weak")
	}

	switch {
	case failCount > 0:
		drift.Level = DriftFail
		drift.Summary = "timeline detected a significant regression trend"
	case warnCount > 0:
		drift.Level = DriftWarn
		drift.Summary = "timeline detected mild drift"
	}

	drift.Metrics["history_runs"] = snapshot.HistoryRuns
	drift.Metrics["total_runs"] = snapshot.TotalRuns
	drift.Metrics["checked_metrics"] = checkedCount
	drift.Metrics["missing_metrics"] = missingCount
	drift.Metrics["warn_metrics"] = warnCount
	drift.Metrics["fail_metrics"] = failCount

	return drift, snapshot
}

func sortReportsByTime(reports []Report) []Report {
	out := make([]Report, len(reports))
	copy(out, reports)
	sort.SliceStable(out, func(i, j int) bool {
		ti := parseReportTime(out[i].GeneratedAt)
		tj := parseReportTime(out[j].GeneratedAt)
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		if strings.TrimSpace(out[i].Model) != strings.TrimSpace(out[j].Model) {
			return out[i].Model < out[j].Model
		}
		return out[i].BaseURL < out[j].BaseURL
	})
	return out
}

func parseReportTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Unix(0, 0)
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return parsed
	}
	return time.Unix(0, 0)
}

func buildTimelinePoints(reports []Report, value func(Report) (float64, bool)) []TimelinePoint {
	points := make([]TimelinePoint, 0, len(reports))
	for _, report := range reports {
		v, ok := value(report)
		if !ok {
			continue
		}
		points = append(points, TimelinePoint{
			GeneratedAt: report.GeneratedAt,
			BaseURL:     report.BaseURL,
			Model:       report.Model,
			Value:       v,
		})
	}
	return points
}

func summarizeSeries(values []float64) map[string]any {
	summary := map[string]any{
		"count": len(values),
		"mean":  0.0,
		"p50":   0.0,
		"p95":   0.0,
		"min":   0.0,
		"max":   0.0,
		"std":   0.0,
	}
	if len(values) == 0 {
		return summary
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	summary["mean"] = mean(values)
	summary["p50"] = percentile(sorted, 0.5)
	summary["p95"] = percentile(sorted, 0.95)
	summary["min"] = sorted[0]
	summary["max"] = sorted[len(sorted)-1]
	summary["std"] = stddev(values)
	return summary
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, value := range values {
		total += value
	}
	return total / float64(len(values))
}

func percentile(sortedValues []float64, q float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if q <= 0 {
		return sortedValues[0]
	}
	if q >= 1 {
		return sortedValues[len(sortedValues)-1]
	}
	index := int(math.Ceil(q*float64(len(sortedValues)))) - 1
	if index < 0 {
		index = 0
	}
	if index >= len(sortedValues) {
		index = len(sortedValues) - 1
	}
	return sortedValues[index]
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	variance := 0.0
	for _, value := range values {
		diff := value - m
		variance += diff * diff
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}

func maxJump(points []TimelinePoint) (delta float64, deltaAbs float64, at string, z float64) {
	if len(points) < 2 {
		return 0, 0, "", 0
	}
	deltas := make([]float64, 0, len(points)-1)
	maxAbs := 0.0
	maxDelta := 0.0
	maxAt := ""
	for i := 1; i < len(points); i++ {
		d := points[i].Value - points[i-1].Value
		deltas = append(deltas, d)
		absD := math.Abs(d)
		if absD > maxAbs {
			maxAbs = absD
			maxDelta = d
			maxAt = points[i].GeneratedAt
		}
	}
	deltaStd := stddev(deltas)
	if deltaStd > 0 {
		z = maxAbs / deltaStd
	}
	return maxDelta, maxAbs, maxAt, z
}

func linearSlope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	sumX := 0.0
	sumY := 0.0
	sumXY := 0.0
	sumX2 := 0.0
	for i, value := range values {
		x := float64(i)
		sumX += x
		sumY += value
		sumXY += x * value
		sumX2 += x * x
	}
	den := float64(n)*sumX2 - sumX*sumX
	if den == 0 {
		return 0
	}
	return (float64(n)*sumXY - sumX*sumY) / den
}

func slopeDegradation(direction driftDirection, slope float64) float64 {
	switch direction {
	case higherIsBetter:
		if slope >= 0 {
			return 0
		}
		return -slope
	case lowerIsBetter:
		if slope <= 0 {
			return 0
		}
		return slope
	default:
		return 0
	}
}

func directionLabel(direction driftDirection) string {
	switch direction {
	case higherIsBetter:
		return "higher_is_better"
	case lowerIsBetter:
		return "lower_is_better"
	default:
		return "unknown"
	}
}

func asFloat(v any) float64 {
	value, ok := toFloat(v)
	if !ok {
		return 0
	}
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'g', 6, 64)
}
