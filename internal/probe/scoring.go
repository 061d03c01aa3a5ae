package probe

import "math"

const (
	TierHigh   = "high"
	TierMedium = "medium"
	TierLow    = "low"
)

// Score is the percentage of counted probes that passed, rounded to the
// nearest integer and clamped to [0,100]. Skipped probes are not counted;
// a run with no counted probes scores 0.
func Score(passed, failed int) int {
	total := passed + failed
	if total <= 0 {
		return 0
	}
	score := int(math.Round(100 * float64(passed) / float64(total)))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// TierFor buckets a score into the qualitative compatibility tiers.
func TierFor(score int) string {
	switch {
	case score >= 90:
		return TierHigh
	case score >= 70:
		return TierMedium
	default:
		return TierLow
	}
}

// TierLabel is the human-readable form used in printed reports.
func TierLabel(tier string) string {
	switch tier {
	case TierHigh:
		return "high compatibility"
	case TierMedium:
		return "medium compatibility"
	default:
		return "low compatibility"
	}
}
