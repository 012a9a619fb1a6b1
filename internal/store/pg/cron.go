package pg

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/tatty/internal/cron"
	"github.com/nextlevelbuilder/tatty/internal/store"
)

const cronJobCols = `id, name, agent_id, enabled, schedule_kind, at_ms, every_ms, cron_expr, tz,
	payload_kind, message, command, announce, session_key, next_run_at_ms, last_run_at_ms,
	last_status, last_error, delete_after_run, created_at_ms, updated_at_ms`

// cronPollInterval matches the standalone service's 1s tick so "at" jobs
// fire with the same promptness in managed mode.
const cronPollInterval = 1 * time.Second

// runLogKeep caps the per-job run history in cron_runs.
const runLogKeep = 200

// PGCronStore implements store.CronStore backed by Postgres.
//
// Unlike the standalone service, which keeps jobs in memory and persists to a
// JSON file, all state lives in the cron_jobs table. Due jobs are claimed with
// an UPDATE ... RETURNING that clears next_run_at_ms atomically, so multiple
// server instances polling the same database never double-fire a job.
type PGCronStore struct {
	db       *sqlx.DB
	mu       sync.Mutex
	onJob    func(job *store.CronJob) (string, error)
	running  bool
	stopChan chan struct{}
	retryCfg cron.RetryConfig
}

func NewPGCronStore(db *sql.DB) *PGCronStore {
	return &PGCronStore{
		db:       sqlx.NewDb(db, "pgx"),
		retryCfg: cron.DefaultRetryConfig(),
	}
}

// SetRetryConfig overrides the default retry configuration.
func (s *PGCronStore) SetRetryConfig(cfg cron.RetryConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryCfg = cfg
}

func (s *PGCronStore) SetOnJob(handler func(job *store.CronJob) (string, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onJob = handler
}

// --- Row mapping ---

type cronJobRow struct {
	ID             string `db:"id"`
	Name           string `db:"name"`
	AgentID        string `db:"agent_id"`
	Enabled        bool   `db:"enabled"`
	ScheduleKind   string `db:"schedule_kind"`
	AtMS           *int64 `db:"at_ms"`
	EveryMS        *int64 `db:"every_ms"`
	CronExpr       string `db:"cron_expr"`
	TZ             string `db:"tz"`
	PayloadKind    string `db:"payload_kind"`
	Message        string `db:"message"`
	Command        string `db:"command"`
	Announce       bool   `db:"announce"`
	SessionKey     string `db:"session_key"`
	NextRunAtMS    *int64 `db:"next_run_at_ms"`
	LastRunAtMS    *int64 `db:"last_run_at_ms"`
	LastStatus     string `db:"last_status"`
	LastError      string `db:"last_error"`
	DeleteAfterRun bool   `db:"delete_after_run"`
	CreatedAtMS    int64  `db:"created_at_ms"`
	UpdatedAtMS    int64  `db:"updated_at_ms"`
}

func (r *cronJobRow) toJob() store.CronJob {
	return store.CronJob{
		ID:      r.ID,
		Name:    r.Name,
		AgentID: r.AgentID,
		Enabled: r.Enabled,
		Schedule: store.CronSchedule{
			Kind:    r.ScheduleKind,
			AtMS:    r.AtMS,
			EveryMS: r.EveryMS,
			Expr:    r.CronExpr,
			TZ:      r.TZ,
		},
		Payload: store.CronPayload{
			Kind:       r.PayloadKind,
			Message:    r.Message,
			Command:    r.Command,
			Announce:   r.Announce,
			SessionKey: r.SessionKey,
		},
		State: store.CronJobState{
			NextRunAtMS: r.NextRunAtMS,
			LastRunAtMS: r.LastRunAtMS,
			LastStatus:  r.LastStatus,
			LastError:   r.LastError,
		},
		CreatedAtMS:    r.CreatedAtMS,
		UpdatedAtMS:    r.UpdatedAtMS,
		DeleteAfterRun: r.DeleteAfterRun,
	}
}

func jobToRow(j *store.CronJob) cronJobRow {
	return cronJobRow{
		ID:             j.ID,
		Name:           j.Name,
		AgentID:        j.AgentID,
		Enabled:        j.Enabled,
		ScheduleKind:   j.Schedule.Kind,
		AtMS:           j.Schedule.AtMS,
		EveryMS:        j.Schedule.EveryMS,
		CronExpr:       j.Schedule.Expr,
		TZ:             j.Schedule.TZ,
		PayloadKind:    j.Payload.Kind,
		Message:        j.Payload.Message,
		Command:        j.Payload.Command,
		Announce:       j.Payload.Announce,
		SessionKey:     j.Payload.SessionKey,
		NextRunAtMS:    j.State.NextRunAtMS,
		LastRunAtMS:    j.State.LastRunAtMS,
		LastStatus:     j.State.LastStatus,
		LastError:      j.State.LastError,
		DeleteAfterRun: j.DeleteAfterRun,
		CreatedAtMS:    j.CreatedAtMS,
		UpdatedAtMS:    j.UpdatedAtMS,
	}
}

func toCronSchedule(s store.CronSchedule) cron.Schedule {
	return cron.Schedule{
		Kind:    s.Kind,
		AtMS:    s.AtMS,
		EveryMS: s.EveryMS,
		Expr:    s.Expr,
		TZ:      s.TZ,
	}
}

func cronJobID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// --- CRUD ---

func (s *PGCronStore) AddJob(name string, schedule store.CronSchedule, message string, announce bool, sessionKey, agentID string) (*store.CronJob, error) {
	cronSched := toCronSchedule(schedule)
	if err := cron.ValidateSchedule(&cronSched); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}

	now := time.Now().UnixMilli()
	job := store.CronJob{
		ID:      cronJobID(),
		Name:    name,
		AgentID: agentID,
		Enabled: true,
		Schedule: schedule,
		Payload: store.CronPayload{
			Kind:       "agent",
			Message:    message,
			Announce:   announce,
			SessionKey: sessionKey,
		},
		CreatedAtMS:    now,
		UpdatedAtMS:    now,
		DeleteAfterRun: schedule.Kind == "at",
	}
	job.State.NextRunAtMS = cron.ComputeNextRun(&cronSched, now)

	row := jobToRow(&job)
	_, err := s.db.NamedExecContext(context.Background(),
		`INSERT INTO cron_jobs (`+cronJobCols+`)
		 VALUES (:id, :name, :agent_id, :enabled, :schedule_kind, :at_ms, :every_ms, :cron_expr, :tz,
		 :payload_kind, :message, :command, :announce, :session_key, :next_run_at_ms, :last_run_at_ms,
		 :last_status, :last_error, :delete_after_run, :created_at_ms, :updated_at_ms)`,
		&row)
	if err != nil {
		return nil, err
	}

	slog.Info("cron job added", "id", job.ID, "name", name, "kind", schedule.Kind)
	return &job, nil
}

func (s *PGCronStore) GetJob(jobID string) (*store.CronJob, bool) {
	var row cronJobRow
	err := s.db.GetContext(context.Background(), &row,
		"SELECT "+cronJobCols+" FROM cron_jobs WHERE id = $1", jobID)
	if err != nil {
		return nil, false
	}
	job := row.toJob()
	return &job, true
}

func (s *PGCronStore) ListJobs(includeDisabled bool) []store.CronJob {
	q := "SELECT " + cronJobCols + " FROM cron_jobs"
	if !includeDisabled {
		q += " WHERE enabled"
	}
	q += " ORDER BY created_at_ms"

	var rows []cronJobRow
	if err := s.db.SelectContext(context.Background(), &rows, q); err != nil {
		slog.Error("cron: list jobs failed", "error", err)
		return nil
	}
	result := make([]store.CronJob, len(rows))
	for i := range rows {
		result[i] = rows[i].toJob()
	}
	return result
}

func (s *PGCronStore) RemoveJob(jobID string) error {
	res, err := s.db.ExecContext(context.Background(), "DELETE FROM cron_jobs WHERE id = $1", jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}
	slog.Info("cron job removed", "id", jobID)
	return nil
}

func (s *PGCronStore) UpdateJob(jobID string, patch store.CronJobPatch) (*store.CronJob, error) {
	ctx := context.Background()
	var row cronJobRow
	if err := s.db.GetContext(ctx, &row,
		"SELECT "+cronJobCols+" FROM cron_jobs WHERE id = $1", jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("job %s not found", jobID)
		}
		return nil, err
	}
	job := row.toJob()

	if patch.Name != "" {
		job.Name = patch.Name
	}
	if patch.AgentID != nil {
		job.AgentID = *patch.AgentID
	}
	if patch.Enabled != nil {
		job.Enabled = *patch.Enabled
	}
	if patch.Schedule != nil {
		cronSched := toCronSchedule(*patch.Schedule)
		if err := cron.ValidateSchedule(&cronSched); err != nil {
			return nil, fmt.Errorf("invalid schedule: %w", err)
		}
		job.Schedule = *patch.Schedule
	}
	if patch.Message != "" {
		job.Payload.Message = patch.Message
	}
	if patch.Announce != nil {
		job.Payload.Announce = *patch.Announce
	}
	if patch.SessionKey != nil {
		job.Payload.SessionKey = *patch.SessionKey
	}
	if patch.DeleteAfterRun != nil {
		job.DeleteAfterRun = *patch.DeleteAfterRun
	}

	now := time.Now().UnixMilli()
	job.UpdatedAtMS = now
	if job.Enabled {
		cronSched := toCronSchedule(job.Schedule)
		job.State.NextRunAtMS = cron.ComputeNextRun(&cronSched, now)
	} else {
		job.State.NextRunAtMS = nil
	}

	if err := s.saveJob(ctx, &job); err != nil {
		return nil, err
	}
	slog.Info("cron job updated", "id", jobID)
	return &job, nil
}

func (s *PGCronStore) EnableJob(jobID string, enabled bool) error {
	enabledPtr := &enabled
	_, err := s.UpdateJob(jobID, store.CronJobPatch{Enabled: enabledPtr})
	if err != nil {
		return err
	}
	slog.Info("cron job toggled", "id", jobID, "enabled", enabled)
	return nil
}

// saveJob writes every mutable column back for a loaded job.
func (s *PGCronStore) saveJob(ctx context.Context, job *store.CronJob) error {
	row := jobToRow(job)
	_, err := s.db.NamedExecContext(ctx,
		`UPDATE cron_jobs SET name = :name, agent_id = :agent_id, enabled = :enabled,
		 schedule_kind = :schedule_kind, at_ms = :at_ms, every_ms = :every_ms,
		 cron_expr = :cron_expr, tz = :tz, payload_kind = :payload_kind, message = :message,
		 command = :command, announce = :announce, session_key = :session_key,
		 next_run_at_ms = :next_run_at_ms, last_run_at_ms = :last_run_at_ms,
		 last_status = :last_status, last_error = :last_error,
		 delete_after_run = :delete_after_run, updated_at_ms = :updated_at_ms
		 WHERE id = :id`,
		&row)
	return err
}

// --- Run log ---

func (s *PGCronStore) GetRunLog(jobID string, limit int) []store.CronRunLogEntry {
	if limit <= 0 {
		limit = 20
	}

	ctx := context.Background()
	var rows *sqlx.Rows
	var err error
	if jobID == "" {
		rows, err = s.db.QueryxContext(ctx,
			"SELECT job_id, ts_ms, status, error, summary FROM cron_runs ORDER BY ts_ms DESC, id DESC LIMIT $1", limit)
	} else {
		rows, err = s.db.QueryxContext(ctx,
			"SELECT job_id, ts_ms, status, error, summary FROM cron_runs WHERE job_id = $1 ORDER BY ts_ms DESC, id DESC LIMIT $2", jobID, limit)
	}
	if err != nil {
		slog.Error("cron: run log query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var result []store.CronRunLogEntry
	for rows.Next() {
		var e store.CronRunLogEntry
		if err := rows.Scan(&e.JobID, &e.Ts, &e.Status, &e.Error, &e.Summary); err != nil {
			continue
		}
		result = append(result, e)
	}
	return result
}

func (s *PGCronStore) recordRun(ctx context.Context, jobID string, runErr error, resultText string) {
	status, errText, summary := "ok", "", cron.TruncateOutput(resultText)
	if runErr != nil {
		status, errText, summary = "error", runErr.Error(), ""
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO cron_runs (job_id, ts_ms, status, error, summary) VALUES ($1,$2,$3,$4,$5)",
		jobID, time.Now().UnixMilli(), status, errText, summary)
	if err != nil {
		slog.Error("cron: record run failed", "job", jobID, "error", err)
		return
	}
	// Keep the history bounded per job
	s.db.ExecContext(ctx,
		`DELETE FROM cron_runs WHERE job_id = $1 AND id NOT IN
		 (SELECT id FROM cron_runs WHERE job_id = $1 ORDER BY ts_ms DESC, id DESC LIMIT $2)`,
		jobID, runLogKeep)
}

// --- Status ---

func (s *PGCronStore) Status() map[string]interface{} {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	ctx := context.Background()
	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM cron_jobs"); err != nil {
		slog.Error("cron: status query failed", "error", err)
	}
	var nextWake *int64
	s.db.GetContext(ctx, &nextWake, "SELECT MIN(next_run_at_ms) FROM cron_jobs WHERE enabled")

	return map[string]interface{}{
		"enabled":      running,
		"jobs":         total,
		"nextWakeAtMs": nextWake,
	}
}

// --- Scheduling loop ---

func (s *PGCronStore) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	// Reschedule enabled jobs without a next run. Covers jobs claimed by an
	// instance that died before finishing them.
	ctx := context.Background()
	var rows []cronJobRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT "+cronJobCols+" FROM cron_jobs WHERE enabled AND next_run_at_ms IS NULL"); err != nil {
		return fmt.Errorf("load unscheduled jobs: %w", err)
	}
	now := time.Now().UnixMilli()
	for i := range rows {
		job := rows[i].toJob()
		cronSched := toCronSchedule(job.Schedule)
		next := cron.ComputeNextRun(&cronSched, now)
		s.db.ExecContext(ctx, "UPDATE cron_jobs SET next_run_at_ms = $1 WHERE id = $2", next, job.ID)
	}

	s.stopChan = make(chan struct{})
	s.running = true
	go s.runLoop(s.stopChan)

	var total int
	s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM cron_jobs")
	slog.Info("cron service started", "jobs", total, "backend", "postgres")
	return nil
}

func (s *PGCronStore) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	close(s.stopChan)
	s.running = false
	slog.Info("cron service stopped")
}

func (s *PGCronStore) runLoop(stopChan chan struct{}) {
	ticker := time.NewTicker(cronPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			s.checkJobs()
		}
	}
}

func (s *PGCronStore) checkJobs() {
	ctx := context.Background()

	// Claim due jobs by clearing next_run_at_ms in the same statement that
	// reads them. Concurrent pollers each get a disjoint set.
	var rows []cronJobRow
	err := s.db.SelectContext(ctx, &rows,
		`UPDATE cron_jobs SET next_run_at_ms = NULL
		 WHERE enabled AND next_run_at_ms IS NOT NULL AND next_run_at_ms <= $1
		 RETURNING `+cronJobCols,
		time.Now().UnixMilli())
	if err != nil {
		slog.Error("cron: due check failed", "error", err)
		return
	}

	for i := range rows {
		job := rows[i].toJob()
		s.executeJob(ctx, &job)
	}
}

func (s *PGCronStore) executeJob(ctx context.Context, job *store.CronJob) {
	s.mu.Lock()
	handler := s.onJob
	retryCfg := s.retryCfg
	s.mu.Unlock()

	if handler == nil {
		return
	}

	slog.Info("cron executing job", "id", job.ID, "name", job.Name)

	result, attempts, err := cron.ExecuteWithRetry(func() (string, error) {
		return handler(job)
	}, retryCfg)
	if attempts > 1 {
		slog.Info("cron job retried", "id", job.ID, "attempts", attempts, "success", err == nil)
	}

	now := time.Now().UnixMilli()
	if err != nil {
		slog.Error("cron job failed", "id", job.ID, "error", err)
	} else {
		slog.Info("cron job completed", "id", job.ID, "result", result)
	}

	if job.DeleteAfterRun {
		s.db.ExecContext(ctx, "DELETE FROM cron_jobs WHERE id = $1", job.ID)
	} else {
		cronSched := toCronSchedule(job.Schedule)
		next := cron.ComputeNextRun(&cronSched, now)
		enabled := job.Enabled
		if next == nil {
			enabled = false
		}
		lastStatus, lastError := "ok", ""
		if err != nil {
			lastStatus, lastError = "error", err.Error()
		}
		s.db.ExecContext(ctx,
			`UPDATE cron_jobs SET last_run_at_ms = $1, last_status = $2, last_error = $3,
			 next_run_at_ms = $4, enabled = $5 WHERE id = $6`,
			now, lastStatus, lastError, next, enabled, job.ID)
	}

	s.recordRun(ctx, job.ID, err, result)
}

// --- Manual execution ---

func (s *PGCronStore) RunJob(jobID string, force bool) (bool, string, error) {
	ctx := context.Background()

	job, ok := s.GetJob(jobID)
	if !ok {
		return false, "", fmt.Errorf("job %s not found", jobID)
	}

	s.mu.Lock()
	handler := s.onJob
	retryCfg := s.retryCfg
	s.mu.Unlock()
	if handler == nil {
		return false, "", fmt.Errorf("no job handler configured")
	}

	if !force {
		if job.State.NextRunAtMS == nil || *job.State.NextRunAtMS > time.Now().UnixMilli() {
			return false, "not-due", nil
		}
	}

	slog.Info("cron manual run", "id", job.ID, "name", job.Name, "force", force)
	result, _, err := cron.ExecuteWithRetry(func() (string, error) {
		return handler(job)
	}, retryCfg)

	now := time.Now().UnixMilli()
	if job.DeleteAfterRun {
		s.db.ExecContext(ctx, "DELETE FROM cron_jobs WHERE id = $1", jobID)
	} else {
		cronSched := toCronSchedule(job.Schedule)
		next := cron.ComputeNextRun(&cronSched, now)
		lastStatus, lastError := "ok", ""
		if err != nil {
			lastStatus, lastError = "error", err.Error()
		}
		s.db.ExecContext(ctx,
			`UPDATE cron_jobs SET last_run_at_ms = $1, last_status = $2, last_error = $3,
			 next_run_at_ms = $4 WHERE id = $5`,
			now, lastStatus, lastError, next, jobID)
	}

	s.recordRun(ctx, jobID, err, result)

	if err != nil {
		return true, "", err
	}
	return true, result, nil
}

// GetDueJobs returns enabled jobs whose next run is at or before now,
// without claiming them.
func (s *PGCronStore) GetDueJobs(now time.Time) []store.CronJob {
	var rows []cronJobRow
	err := s.db.SelectContext(context.Background(), &rows,
		"SELECT "+cronJobCols+" FROM cron_jobs WHERE enabled AND next_run_at_ms IS NOT NULL AND next_run_at_ms <= $1",
		now.UnixMilli())
	if err != nil {
		slog.Error("cron: due query failed", "error", err)
		return nil
	}
	result := make([]store.CronJob, len(rows))
	for i := range rows {
		result[i] = rows[i].toJob()
	}
	return result
}
