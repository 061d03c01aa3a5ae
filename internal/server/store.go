package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"oai-compat/internal/probe"
)

type Store interface {
	CreateCheck(meta CheckMeta) error
	UpdateCheck(checkID string, mutate func(*CheckMeta)) (CheckMeta, error)
	GetCheck(checkID string) (CheckMeta, bool)
	ListChecks(limit int) []CheckMeta
	ListChecksByCreator(creatorSub string, limit int) []CheckMeta
	ListChecksByBaseURL(baseURL string, limit int) []CheckMeta
	AppendCheckEvent(checkID string, stage, message string, data map[string]any) (CheckEvent, error)
	ListCheckEvents(checkID string, sinceSeq int64) []CheckEvent
	AppendAudit(event AuditEvent) error
	ListAudit(limit int) []AuditEvent
	GetMetricsOverview() MetricsOverview
}

type MemoryFileStore struct {
	mu      sync.RWMutex
	path    string
	checks  map[string]CheckMeta
	events  map[string][]CheckEvent
	audit   []AuditEvent
	nextSeq map[string]int64
}

func NewMemoryFileStore(path string) (*MemoryFileStore, error) {
	store := &MemoryFileStore{
		path:    path,
		checks:  map[string]CheckMeta{},
		events:  map[string][]CheckEvent{},
		audit:   []AuditEvent{},
		nextSeq: map[string]int64{},
	}
	if strings.TrimSpace(path) == "" {
		return store, nil
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MemoryFileStore) CreateCheck(meta CheckMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.checks[meta.CheckID]; exists {
		return fmt.Errorf("check %s already exists", meta.CheckID)
	}
	s.checks[meta.CheckID] = meta
	if _, ok := s.events[meta.CheckID]; !ok {
		s.events[meta.CheckID] = []CheckEvent{}
	}
	if _, ok := s.nextSeq[meta.CheckID]; !ok {
		s.nextSeq[meta.CheckID] = 1
	}
	return s.persistLocked()
}

func (s *MemoryFileStore) UpdateCheck(checkID string, mutate func(*CheckMeta)) (CheckMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.checks[checkID]
	if !ok {
		return CheckMeta{}, fmt.Errorf("check not found: %s", checkID)
	}
	if mutate != nil {
		mutate(&meta)
	}
	s.checks[checkID] = meta
	if err := s.persistLocked(); err != nil {
		return CheckMeta{}, err
	}
	return meta, nil
}

func (s *MemoryFileStore) GetCheck(checkID string) (CheckMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.checks[checkID]
	return meta, ok
}

func (s *MemoryFileStore) ListChecks(limit int) []CheckMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CheckMeta, 0, len(s.checks))
	for _, meta := range s.checks {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryFileStore) ListChecksByCreator(creatorSub string, limit int) []CheckMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CheckMeta, 0)
	for _, meta := range s.checks {
		if meta.CreatorSub == creatorSub {
			out = append(out, meta)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryFileStore) ListChecksByBaseURL(baseURL string, limit int) []CheckMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := normalizeBaseURL(baseURL)
	out := make([]CheckMeta, 0)
	for _, meta := range s.checks {
		if normalizeBaseURL(meta.Request.BaseURL) == want {
			out = append(out, meta)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryFileStore) AppendCheckEvent(checkID string, stage, message string, data map[string]any) (CheckEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.checks[checkID]; !ok {
		return CheckEvent{}, fmt.Errorf("check not found: %s", checkID)
	}
	seq := s.nextSeq[checkID]
	if seq < 1 {
		seq = 1
	}
	event := CheckEvent{
		Seq:       seq,
		Timestamp: nowRFC3339(),
		Stage:     stage,
		Message:   message,
		Data:      cloneMap(data),
	}
	s.nextSeq[checkID] = seq + 1
	s.events[checkID] = append(s.events[checkID], event)
	if err := s.persistLocked(); err != nil {
		return CheckEvent{}, err
	}
	return event, nil
}

func (s *MemoryFileStore) ListCheckEvents(checkID string, sinceSeq int64) []CheckEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[checkID]
	if len(events) == 0 {
		return []CheckEvent{}
	}
	out := make([]CheckEvent, 0, len(events))
	for _, event := range events {
		if event.Seq > sinceSeq {
			out = append(out, event)
		}
	}
	return out
}

func (s *MemoryFileStore) AppendAudit(event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(event.Timestamp) == "" {
		event.Timestamp = nowRFC3339()
	}
	s.audit = append(s.audit, event)
	if len(s.audit) > 5000 {
		s.audit = s.audit[len(s.audit)-5000:]
	}
	return s.persistLocked()
}

func (s *MemoryFileStore) ListAudit(limit int) []AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.audit) == 0 {
		return []AuditEvent{}
	}
	out := make([]AuditEvent, len(s.audit))
	copy(out, s.audit)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryFileStore) GetMetricsOverview() MetricsOverview {
	s.mu.RLock()
	defer s.mu.RUnlock()
	overview := MetricsOverview{
		GeneratedAt: nowRFC3339(),
	}
	var durationTotal int64
	var scoreTotal float64
	scoreCount := 0
	for _, check := range s.checks {
		overview.TotalChecks++
		switch strings.ToLower(strings.TrimSpace(check.Status)) {
		case "queued":
			overview.QueuedChecks++
		case "running":
			overview.RunningChecks++
		case "done":
			overview.DoneChecks++
		case "error":
			overview.ErrorChecks++
		}
		switch check.Tier {
		case probe.TierHigh:
			overview.HighTier++
		case probe.TierMedium:
			overview.MediumTier++
		case probe.TierLow:
			overview.LowTier++
		}
		if check.Report != nil {
			durationTotal += reportDuration(*check.Report)
			scoreTotal += float64(check.Report.Score)
			scoreCount++
		}
	}
	if scoreCount > 0 {
		overview.AverageDuration = durationTotal / int64(scoreCount)
		overview.AverageScore = scoreTotal / float64(scoreCount)
	}
	return overview
}

func (s *MemoryFileStore) load() error {
	data, err := os.ReadFile(filepath.Clean(s.path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read store snapshot: %w", err)
	}
	var snapshot StoreSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("decode store snapshot: %w", err)
	}
	for _, check := range snapshot.Checks {
		s.checks[check.CheckID] = check
	}
	for checkID, events := range snapshot.Events {
		s.events[checkID] = events
		maxSeq := int64(0)
		for _, event := range events {
			if event.Seq > maxSeq {
				maxSeq = event.Seq
			}
		}
		s.nextSeq[checkID] = maxSeq + 1
	}
	s.audit = snapshot.Audit
	return nil
}

func (s *MemoryFileStore) persistLocked() error {
	if strings.TrimSpace(s.path) == "" {
		return nil
	}
	checks := make([]CheckMeta, 0, len(s.checks))
	for _, check := range s.checks {
		checks = append(checks, check)
	}
	sort.Slice(checks, func(i, j int) bool {
		return checks[i].CreatedAt < checks[j].CreatedAt
	})
	snapshot := StoreSnapshot{
		Checks: checks,
		Events: s.events,
		Audit:  s.audit,
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store snapshot: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write store temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace store snapshot: %w", err)
	}
	return nil
}

func reportDuration(report probe.Report) int64 {
	total := int64(0)
	for _, item := range report.Results {
		total += item.DurationMS
	}
	return total
}

func normalizeBaseURL(raw string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(raw), "/"))
}

func cloneMap(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
