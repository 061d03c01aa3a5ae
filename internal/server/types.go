package server

import (
	"time"

	"oai-compat/internal/probe"
)

type Principal struct {
	Subject  string `json:"subject"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// CheckSubmission is the inbound payload for creating a check. The API key
// only ever lives in memory on its way to the prober; it is never stored.
type CheckSubmission struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`
}

// CheckRequest is the persisted view of a submission. The credential is
// reduced to a boolean before anything touches the store.
type CheckRequest struct {
	BaseURL     string `json:"base_url"`
	Model       string `json:"model"`
	KeyProvided bool   `json:"key_provided"`
}

type CheckMeta struct {
	CheckID     string        `json:"check_id"`
	Status      string        `json:"status"`
	CreatorType string        `json:"creator_type"`
	CreatorSub  string        `json:"creator_sub,omitempty"`
	Source      string        `json:"source"`
	Request     CheckRequest  `json:"request"`
	StartedAt   string        `json:"started_at,omitempty"`
	FinishedAt  string        `json:"finished_at,omitempty"`
	CreatedAt   string        `json:"created_at"`
	Error       string        `json:"error,omitempty"`
	Report      *probe.Report `json:"report,omitempty"`
	Score       int           `json:"score"`
	Tier        string        `json:"tier,omitempty"`
}

type AuditEvent struct {
	Timestamp string `json:"timestamp"`
	CheckID   string `json:"check_id,omitempty"`
	ActorType string `json:"actor_type"`
	ActorSub  string `json:"actor_sub,omitempty"`
	Action    string `json:"action"`
	Result    string `json:"result"`
	IPHash    string `json:"ip_hash,omitempty"`
	UAHash    string `json:"ua_hash,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type CheckEvent struct {
	Seq       int64          `json:"seq"`
	Timestamp string         `json:"timestamp"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type MetricsOverview struct {
	GeneratedAt     string  `json:"generated_at"`
	TotalChecks     int     `json:"total_checks"`
	QueuedChecks    int     `json:"queued_checks"`
	RunningChecks   int     `json:"running_checks"`
	DoneChecks      int     `json:"done_checks"`
	ErrorChecks     int     `json:"error_checks"`
	HighTier        int     `json:"high_tier"`
	MediumTier      int     `json:"medium_tier"`
	LowTier         int     `json:"low_tier"`
	AverageScore    float64 `json:"average_score"`
	AverageDuration int64   `json:"average_duration_ms"`
}

// StoreSnapshot is the JSON document the memory store persists.
type StoreSnapshot struct {
	Checks []CheckMeta             `json:"checks"`
	Events map[string][]CheckEvent `json:"events"`
	Audit  []AuditEvent            `json:"audit"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
