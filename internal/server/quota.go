package server

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrRateLimited = errors.New("submission rate exceeded, retry in a minute")
	ErrDailyQuota  = errors.New("daily submission quota exhausted")
)

// QuotaManager throttles anonymous check submissions per actor hash. Windows
// reset per UTC day; the minute window slides.
type QuotaManager struct {
	mu        sync.Mutex
	perMinute int
	perDay    int
	actors    map[string]*actorQuotaState
}

type actorQuotaState struct {
	DayKey          string
	DayCount        int
	RequestsLastMin []time.Time
	LastSeen        time.Time
}

func NewQuotaManager(cfg ServerConfig) *QuotaManager {
	perMinute := cfg.Quota.SubmitRPM
	if perMinute <= 0 {
		perMinute = 6
	}
	perDay := cfg.Quota.SubmitPerDay
	if perDay <= 0 {
		perDay = 60
	}
	return &QuotaManager{
		perMinute: perMinute,
		perDay:    perDay,
		actors:    map[string]*actorQuotaState{},
	}
}

// Allow records one submission for the actor, or reports why it is blocked.
func (m *QuotaManager) Allow(actorHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	dayKey := now.UTC().Format("2006-01-02")
	m.pruneStale(now)

	state, ok := m.actors[actorHash]
	if !ok {
		state = &actorQuotaState{}
		m.actors[actorHash] = state
	}
	m.rollWindow(state, now, dayKey)

	if len(state.RequestsLastMin) >= m.perMinute {
		return ErrRateLimited
	}
	if state.DayCount >= m.perDay {
		return ErrDailyQuota
	}

	state.RequestsLastMin = append(state.RequestsLastMin, now)
	state.DayCount++
	state.LastSeen = now
	return nil
}

func (m *QuotaManager) rollWindow(state *actorQuotaState, now time.Time, dayKey string) {
	if state.DayKey != dayKey {
		state.DayKey = dayKey
		state.DayCount = 0
		state.RequestsLastMin = nil
	}
	cutoff := now.Add(-1 * time.Minute)
	state.RequestsLastMin = filterRecentTime(state.RequestsLastMin, cutoff)
}

// pruneStale drops actors idle for more than a day so the map stays bounded.
func (m *QuotaManager) pruneStale(now time.Time) {
	if len(m.actors) < 10000 {
		return
	}
	cutoff := now.Add(-24 * time.Hour)
	for hash, state := range m.actors {
		if state.LastSeen.Before(cutoff) {
			delete(m.actors, hash)
		}
	}
}

func filterRecentTime(items []time.Time, cutoff time.Time) []time.Time {
	if len(items) == 0 {
		return items
	}
	out := items[:0]
	for _, item := range items {
		if item.After(cutoff) {
			out = append(out, item)
		}
	}
	return out
}
