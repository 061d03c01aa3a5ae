package server

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"oai-compat/internal/openai"
	"oai-compat/internal/probe"
)

type CheckManager struct {
	cfg   ServerConfig
	store Store
	quota *QuotaManager
	obs   *Observability
	queue chan queuedCheck
	wg    sync.WaitGroup
}

type CheckService interface {
	CreateAdminCheck(submission CheckSubmission, principal Principal, source string) (CheckMeta, error)
	CreatePublicCheck(submission CheckSubmission, ipHash, uaHash string) (CheckMeta, error)
}

// queuedCheck is the only place the submitted API key lives. It is handed to
// the probe client and dropped when the check finishes.
type queuedCheck struct {
	CheckID     string
	Target      probe.Target
	Creator     Principal
	CreatorType string
	Source      string
}

func NewCheckManager(cfg ServerConfig, store Store, quota *QuotaManager, obs *Observability) *CheckManager {
	maxParallel := cfg.Quota.MaxParallelChecks
	if maxParallel <= 0 {
		maxParallel = 2
	}
	manager := &CheckManager{
		cfg:   cfg,
		store: store,
		quota: quota,
		obs:   obs,
		queue: make(chan queuedCheck, maxParallel*8),
	}
	for i := 0; i < maxParallel; i++ {
		manager.wg.Add(1)
		go func() {
			defer manager.wg.Done()
			manager.worker()
		}()
	}
	return manager
}

func (m *CheckManager) Shutdown() {
	close(m.queue)
	m.wg.Wait()
}

func (m *CheckManager) CreateAdminCheck(submission CheckSubmission, principal Principal, source string) (CheckMeta, error) {
	target, err := normalizeSubmission(submission, m.cfg)
	if err != nil {
		return CheckMeta{}, err
	}
	checkID, err := randomID("chk")
	if err != nil {
		return CheckMeta{}, err
	}
	meta := CheckMeta{
		CheckID:     checkID,
		Status:      "queued",
		Source:      source,
		CreatorType: "admin",
		CreatorSub:  principal.Subject,
		Request: CheckRequest{
			BaseURL:     target.BaseURL,
			Model:       target.Model,
			KeyProvided: target.KeyProvided(),
		},
		CreatedAt: nowRFC3339(),
	}
	if err := m.store.CreateCheck(meta); err != nil {
		return CheckMeta{}, err
	}
	_, _ = m.store.AppendCheckEvent(checkID, "queue", "check queued", map[string]any{
		"source": source,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		CheckID:   checkID,
		ActorType: "admin",
		ActorSub:  principal.Subject,
		Action:    "check.create",
		Result:    "queued",
	})
	m.queue <- queuedCheck{
		CheckID:     checkID,
		Target:      target,
		Creator:     principal,
		CreatorType: "admin",
		Source:      source,
	}
	return meta, nil
}

func (m *CheckManager) CreatePublicCheck(submission CheckSubmission, ipHash, uaHash string) (CheckMeta, error) {
	if err := m.quota.Allow(ipHash); err != nil {
		if m.obs != nil {
			m.obs.MarkQuotaBlocked(context.Background(), "submit_rate_limit")
		}
		_ = m.store.AppendAudit(AuditEvent{
			Timestamp: nowRFC3339(),
			ActorType: "user",
			Action:    "check.reject",
			Result:    "rate_limited",
			IPHash:    ipHash,
			UAHash:    uaHash,
		})
		return CheckMeta{}, err
	}
	target, err := normalizeSubmission(submission, m.cfg)
	if err != nil {
		return CheckMeta{}, err
	}
	checkID, err := randomID("chk")
	if err != nil {
		return CheckMeta{}, err
	}
	meta := CheckMeta{
		CheckID:     checkID,
		Status:      "queued",
		Source:      "public.submit",
		CreatorType: "user",
		Request: CheckRequest{
			BaseURL:     target.BaseURL,
			Model:       target.Model,
			KeyProvided: target.KeyProvided(),
		},
		CreatedAt: nowRFC3339(),
	}
	if err := m.store.CreateCheck(meta); err != nil {
		return CheckMeta{}, err
	}
	_, _ = m.store.AppendCheckEvent(checkID, "queue", "check queued", map[string]any{
		"key_provided": target.KeyProvided(),
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		CheckID:   checkID,
		ActorType: "user",
		Action:    "check.create",
		Result:    "queued",
		IPHash:    ipHash,
		UAHash:    uaHash,
		Detail:    target.BaseURL,
	})
	m.queue <- queuedCheck{
		CheckID:     checkID,
		Target:      target,
		CreatorType: "user",
		Source:      "public.submit",
	}
	return meta, nil
}

func (m *CheckManager) worker() {
	for queued := range m.queue {
		m.executeCheck(queued)
	}
}

func (m *CheckManager) executeCheck(queued queuedCheck) {
	startedAt := nowRFC3339()
	_, _ = m.store.UpdateCheck(queued.CheckID, func(meta *CheckMeta) {
		meta.Status = "running"
		meta.StartedAt = startedAt
	})
	_, _ = m.store.AppendCheckEvent(queued.CheckID, "start", "check started", nil)

	perRequest := time.Duration(m.cfg.Probe.TimeoutSec) * time.Second
	// whole-check budget covers three sequential probes
	ctx, cancel := withTimeout(context.Background(), perRequest*4)
	defer cancel()

	client := openai.NewClient(openai.Config{
		BaseURL: queued.Target.BaseURL,
		APIKey:  queued.Target.APIKey,
		Timeout: perRequest,
	})
	report := runProbesWithEvents(ctx, client, queued.Target, func(event CheckEvent) {
		_, _ = m.store.AppendCheckEvent(queued.CheckID, event.Stage, event.Message, event.Data)
		if m.obs != nil && event.Stage == "probe_result" {
			if duration, ok := toFloat(event.Data["duration_ms"]); ok {
				m.obs.MarkProbe(ctx, strings.TrimSpace(fmt.Sprint(event.Data["probe"])), int64(duration))
			}
		}
	})

	status := "done"
	if ctx.Err() != nil {
		status = "error"
	}
	_, _ = m.store.UpdateCheck(queued.CheckID, func(meta *CheckMeta) {
		meta.Status = status
		meta.FinishedAt = nowRFC3339()
		meta.Report = report
		meta.Score = report.Score
		meta.Tier = report.Tier
		if status == "error" {
			meta.Error = "check aborted: " + ctx.Err().Error()
		}
	})
	_, _ = m.store.AppendCheckEvent(queued.CheckID, "completed", "check completed", map[string]any{
		"status":  status,
		"score":   report.Score,
		"tier":    report.Tier,
		"passed":  report.Passed,
		"failed":  report.Failed,
		"skipped": report.Skipped,
	})
	_ = m.store.AppendAudit(AuditEvent{
		Timestamp: nowRFC3339(),
		CheckID:   queued.CheckID,
		ActorType: queued.CreatorType,
		ActorSub:  queued.Creator.Subject,
		Action:    "check.completed",
		Result:    status,
		Detail:    fmt.Sprintf("score=%d tier=%s", report.Score, report.Tier),
	})
	if m.obs != nil {
		m.obs.MarkCheck(ctx, status)
		m.obs.RecordScore(ctx, report.Score)
	}
}

// runProbesWithEvents mirrors probe.RunAllWithClient while emitting a
// CheckEvent per probe so watchers can follow progress.
func runProbesWithEvents(ctx context.Context, client *openai.Client, target probe.Target, onEvent func(CheckEvent)) *probe.Report {
	if onEvent == nil {
		onEvent = func(CheckEvent) {}
	}
	report := probe.NewReport(target)
	for _, endpoint := range probe.Endpoints() {
		if endpoint.RequiresKey && !target.KeyProvided() {
			result := probe.SkipResult(endpoint)
			probe.AppendResult(report, result)
			onEvent(CheckEvent{
				Stage:   "probe_result",
				Message: result.Summary,
				Data: map[string]any{
					"probe":   result.Probe,
					"skipped": true,
				},
			})
			continue
		}
		onEvent(CheckEvent{
			Stage:   "probe_start",
			Message: "probe started",
			Data: map[string]any{
				"probe": endpoint.Name,
			},
		})
		result := probe.Probe(ctx, client, target, endpoint)
		probe.AppendResult(report, result)
		onEvent(CheckEvent{
			Stage:   "probe_result",
			Message: result.Summary,
			Data: map[string]any{
				"probe":       result.Probe,
				"success":     result.Success,
				"status_code": result.StatusCode,
				"duration_ms": result.DurationMS,
				"warnings":    len(result.Warnings),
			},
		})
	}
	return report
}

func normalizeSubmission(input CheckSubmission, cfg ServerConfig) (probe.Target, error) {
	baseURL := strings.TrimSpace(input.BaseURL)
	if baseURL == "" {
		return probe.Target{}, errors.New("base_url is required")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return probe.Target{}, errors.New("base_url must start with http:// or https://")
	}
	model := strings.TrimSpace(input.Model)
	if model == "" {
		model = cfg.Probe.DefaultModel
	}
	target := probe.Target{
		BaseURL: baseURL,
		APIKey:  strings.TrimSpace(input.APIKey),
		Model:   model,
	}
	return target.Normalize(), nil
}

func randomID(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}

func hashString(input string) string {
	sum := sha256Sum(input)
	return sum[:16]
}

func sha256Sum(input string) string {
	hash := sha256.New()
	_, _ = hash.Write([]byte(input))
	return hex.EncodeToString(hash.Sum(nil))
}
