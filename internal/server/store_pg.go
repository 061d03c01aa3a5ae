package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"oai-compat/internal/probe"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) CreateCheck(meta CheckMeta) error {
	req, _ := json.Marshal(meta.Request)
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO checks (check_id,status,creator_type,creator_sub,source,request,base_url,created_at,score,tier)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		meta.CheckID, meta.Status, meta.CreatorType, nullStr(meta.CreatorSub),
		nullStr(meta.Source), req, normalizeBaseURL(meta.Request.BaseURL),
		meta.CreatedAt, meta.Score, nullStr(meta.Tier))
	return err
}

func (s *PgStore) UpdateCheck(checkID string, mutate func(*CheckMeta)) (CheckMeta, error) {
	tx, err := s.pool.Begin(context.Background())
	if err != nil {
		return CheckMeta{}, err
	}
	defer tx.Rollback(context.Background())

	row := tx.QueryRow(context.Background(),
		`SELECT check_id,status,creator_type,creator_sub,source,request,
		        started_at,finished_at,created_at,error,report,score,tier
		 FROM checks WHERE check_id=$1 FOR UPDATE`, checkID)
	meta, err := scanCheckMeta(row)
	if err != nil {
		return CheckMeta{}, fmt.Errorf("check not found: %s", checkID)
	}
	if mutate != nil {
		mutate(&meta)
	}
	req, _ := json.Marshal(meta.Request)
	var reportJSON []byte
	if meta.Report != nil {
		reportJSON, _ = json.Marshal(meta.Report)
	}
	_, err = tx.Exec(context.Background(),
		`UPDATE checks SET status=$1,started_at=$2,finished_at=$3,error=$4,report=$5,
		 score=$6,tier=$7,request=$8,base_url=$9 WHERE check_id=$10`,
		meta.Status, nullStr(meta.StartedAt), nullStr(meta.FinishedAt), meta.Error,
		reportJSON, meta.Score, nullStr(meta.Tier), req,
		normalizeBaseURL(meta.Request.BaseURL), checkID)
	if err != nil {
		return CheckMeta{}, err
	}
	return meta, tx.Commit(context.Background())
}

func (s *PgStore) GetCheck(checkID string) (CheckMeta, bool) {
	row := s.pool.QueryRow(context.Background(),
		`SELECT check_id,status,creator_type,creator_sub,source,request,
		        started_at,finished_at,created_at,error,report,score,tier
		 FROM checks WHERE check_id=$1`, checkID)
	meta, err := scanCheckMeta(row)
	if err != nil {
		return CheckMeta{}, false
	}
	return meta, true
}

func (s *PgStore) ListChecks(limit int) []CheckMeta {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(context.Background(),
		`SELECT check_id,status,creator_type,creator_sub,source,request,
		        started_at,finished_at,created_at,error,report,score,tier
		 FROM checks ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []CheckMeta
	for rows.Next() {
		meta, err := scanCheckMeta(rows)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	if out == nil {
		return []CheckMeta{}
	}
	return out
}

func (s *PgStore) ListChecksByCreator(creatorSub string, limit int) []CheckMeta {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(context.Background(),
		`SELECT check_id,status,creator_type,creator_sub,source,request,
		        started_at,finished_at,created_at,error,report,score,tier
		 FROM checks WHERE creator_sub=$1 ORDER BY created_at DESC LIMIT $2`, creatorSub, limit)
	if err != nil {
		return []CheckMeta{}
	}
	defer rows.Close()
	var out []CheckMeta
	for rows.Next() {
		meta, err := scanCheckMeta(rows)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	if out == nil {
		return []CheckMeta{}
	}
	return out
}

func (s *PgStore) ListChecksByBaseURL(baseURL string, limit int) []CheckMeta {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(context.Background(),
		`SELECT check_id,status,creator_type,creator_sub,source,request,
		        started_at,finished_at,created_at,error,report,score,tier
		 FROM checks WHERE base_url=$1 ORDER BY created_at DESC LIMIT $2`,
		normalizeBaseURL(baseURL), limit)
	if err != nil {
		return []CheckMeta{}
	}
	defer rows.Close()
	var out []CheckMeta
	for rows.Next() {
		meta, err := scanCheckMeta(rows)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	if out == nil {
		return []CheckMeta{}
	}
	return out
}

func (s *PgStore) AppendCheckEvent(checkID string, stage, message string, data map[string]any) (CheckEvent, error) {
	var dataJSON []byte
	if data != nil {
		dataJSON, _ = json.Marshal(data)
	}
	var seq int64
	var ts time.Time
	err := s.pool.QueryRow(context.Background(),
		`INSERT INTO check_events (check_id, seq, stage, message, data)
		 VALUES ($1, COALESCE((SELECT MAX(seq) FROM check_events WHERE check_id=$1),0)+1, $2, $3, $4)
		 RETURNING seq, timestamp`, checkID, stage, message, dataJSON).Scan(&seq, &ts)
	if err != nil {
		return CheckEvent{}, err
	}
	return CheckEvent{
		Seq:       seq,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Stage:     stage,
		Message:   message,
		Data:      data,
	}, nil
}

func (s *PgStore) ListCheckEvents(checkID string, sinceSeq int64) []CheckEvent {
	rows, err := s.pool.Query(context.Background(),
		`SELECT seq, timestamp, stage, message, data
		 FROM check_events WHERE check_id=$1 AND seq>$2 ORDER BY seq`, checkID, sinceSeq)
	if err != nil {
		return []CheckEvent{}
	}
	defer rows.Close()
	var out []CheckEvent
	for rows.Next() {
		var e CheckEvent
		var ts time.Time
		var dataJSON []byte
		if err := rows.Scan(&e.Seq, &ts, &e.Stage, &e.Message, &dataJSON); err != nil {
			continue
		}
		e.Timestamp = ts.UTC().Format(time.RFC3339)
		if len(dataJSON) > 0 {
			_ = json.Unmarshal(dataJSON, &e.Data)
		}
		out = append(out, e)
	}
	if out == nil {
		return []CheckEvent{}
	}
	return out
}

func (s *PgStore) AppendAudit(event AuditEvent) error {
	if strings.TrimSpace(event.Timestamp) == "" {
		event.Timestamp = nowRFC3339()
	}
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO audit_events (timestamp,check_id,actor_type,actor_sub,action,result,ip_hash,ua_hash,detail)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		event.Timestamp, nullStr(event.CheckID), event.ActorType, nullStr(event.ActorSub),
		event.Action, event.Result, nullStr(event.IPHash), nullStr(event.UAHash), nullStr(event.Detail))
	return err
}

func (s *PgStore) ListAudit(limit int) []AuditEvent {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(context.Background(),
		`SELECT timestamp,check_id,actor_type,actor_sub,action,result,ip_hash,ua_hash,detail
		 FROM audit_events ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return []AuditEvent{}
	}
	defer rows.Close()
	var out []AuditEvent
	for rows.Next() {
		var a AuditEvent
		var ts time.Time
		var checkID, actorSub, ipHash, uaHash, detail *string
		if err := rows.Scan(&ts, &checkID, &a.ActorType, &actorSub, &a.Action, &a.Result, &ipHash, &uaHash, &detail); err != nil {
			continue
		}
		a.Timestamp = ts.UTC().Format(time.RFC3339)
		a.CheckID = deref(checkID)
		a.ActorSub = deref(actorSub)
		a.IPHash = deref(ipHash)
		a.UAHash = deref(uaHash)
		a.Detail = deref(detail)
		out = append(out, a)
	}
	if out == nil {
		return []AuditEvent{}
	}
	return out
}

func (s *PgStore) GetMetricsOverview() MetricsOverview {
	overview := MetricsOverview{GeneratedAt: nowRFC3339()}
	_ = s.pool.QueryRow(context.Background(),
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status='queued'),
			COUNT(*) FILTER (WHERE status='running'),
			COUNT(*) FILTER (WHERE status='done'),
			COUNT(*) FILTER (WHERE status='error'),
			COUNT(*) FILTER (WHERE tier='high'),
			COUNT(*) FILTER (WHERE tier='medium'),
			COUNT(*) FILTER (WHERE tier='low')
		 FROM checks`).Scan(
		&overview.TotalChecks, &overview.QueuedChecks, &overview.RunningChecks,
		&overview.DoneChecks, &overview.ErrorChecks,
		&overview.HighTier, &overview.MediumTier, &overview.LowTier)

	// score + duration come from the stored reports
	rows, _ := s.pool.Query(context.Background(),
		`SELECT report FROM checks WHERE report IS NOT NULL`)
	if rows != nil {
		defer rows.Close()
		var scoreTotal float64
		var scoreCount int
		var durationTotal int64
		for rows.Next() {
			var reportJSON []byte
			if rows.Scan(&reportJSON) != nil {
				continue
			}
			var report probe.Report
			if json.Unmarshal(reportJSON, &report) != nil {
				continue
			}
			durationTotal += reportDuration(report)
			scoreTotal += float64(report.Score)
			scoreCount++
		}
		if scoreCount > 0 {
			overview.AverageDuration = durationTotal / int64(scoreCount)
			overview.AverageScore = scoreTotal / float64(scoreCount)
		}
	}
	return overview
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanCheckMeta(row scannable) (CheckMeta, error) {
	var m CheckMeta
	var reqJSON, reportJSON []byte
	var startedAt, finishedAt, creatorSub, source, errStr, tier *string
	err := row.Scan(&m.CheckID, &m.Status, &m.CreatorType, &creatorSub,
		&source, &reqJSON, &startedAt, &finishedAt, &m.CreatedAt,
		&errStr, &reportJSON, &m.Score, &tier)
	if err != nil {
		return CheckMeta{}, err
	}
	m.CreatorSub = deref(creatorSub)
	m.Source = deref(source)
	m.StartedAt = deref(startedAt)
	m.FinishedAt = deref(finishedAt)
	m.Error = deref(errStr)
	m.Tier = deref(tier)
	_ = json.Unmarshal(reqJSON, &m.Request)
	if len(reportJSON) > 0 {
		var r probe.Report
		if json.Unmarshal(reportJSON, &r) == nil {
			m.Report = &r
		}
	}
	return m, nil
}

func nullStr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Ensure PgStore implements Store at compile time.
var _ Store = (*PgStore)(nil)
