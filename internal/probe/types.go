package probe

import (
	"strings"
	"time"
)

// DefaultModel is used when the caller does not name a model.
const DefaultModel = "gpt-3.5-turbo"

// Target identifies the API under test. The key is never serialized.
type Target struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"-"`
	Model   string `json:"model"`
}

func (t Target) KeyProvided() bool {
	return strings.TrimSpace(t.APIKey) != ""
}

// Normalize strips the trailing slash and fills the model default.
func (t Target) Normalize() Target {
	t.BaseURL = strings.TrimRight(strings.TrimSpace(t.BaseURL), "/")
	if strings.TrimSpace(t.Model) == "" {
		t.Model = DefaultModel
	}
	return t
}

// Result is the outcome of one probe. Body holds the decoded JSON value, or
// the raw text when the body did not parse.
type Result struct {
	Probe      string         `json:"probe"`
	Method     string         `json:"method"`
	Path       string         `json:"path"`
	StatusCode int            `json:"status_code,omitempty"`
	Success    bool           `json:"success"`
	Skipped    bool           `json:"skipped,omitempty"`
	Summary    string         `json:"summary"`
	Error      string         `json:"error,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
	Body       any            `json:"body,omitempty"`
	Metrics    map[string]any `json:"metrics,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

type Report struct {
	GeneratedAt string   `json:"generated_at"`
	BaseURL     string   `json:"base_url"`
	Model       string   `json:"model"`
	KeyProvided bool     `json:"key_provided"`
	Results     []Result `json:"results"`
	Passed      int      `json:"passed"`
	Failed      int      `json:"failed"`
	Skipped     int      `json:"skipped"`
	Score       int      `json:"score"`
	Tier        string   `json:"tier"`
}

func NewReport(target Target) *Report {
	target = target.Normalize()
	return &Report{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		BaseURL:     target.BaseURL,
		Model:       target.Model,
		KeyProvided: target.KeyProvided(),
		Tier:        TierLow,
	}
}

// AppendResult folds one probe outcome into the report and rescores it.
// Skipped probes are recorded but never counted.
func AppendResult(report *Report, result Result) {
	if report == nil {
		return
	}
	report.Results = append(report.Results, result)
	switch {
	case result.Skipped:
		report.Skipped++
	case result.Success:
		report.Passed++
	default:
		report.Failed++
	}
	report.Score = Score(report.Passed, report.Failed)
	report.Tier = TierFor(report.Score)
}
