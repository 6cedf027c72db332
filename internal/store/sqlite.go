package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentcore/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	forked_from TEXT,
	branch_number INTEGER,
	is_archived INTEGER NOT NULL DEFAULT 0,
	scheduler_id TEXT,
	is_scheduler_run INTEGER NOT NULL DEFAULT 0,
	read_at INTEGER,
	summary TEXT,
	summary_up_to_message_id INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
	conversation_id TEXT NOT NULL,
	id INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT,
	tool_calls TEXT,
	tool_call_id TEXT,
	thinking TEXT,
	metadata TEXT,
	internal INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (conversation_id, id)
);
CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, id);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	user_message TEXT,
	status TEXT NOT NULL,
	worker_id TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	result TEXT,
	error_kind TEXT,
	error_message TEXT,
	pending_tool_id TEXT,
	pending_kind TEXT,
	pending_payload TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

CREATE TABLE IF NOT EXISTS activities (
	job_id TEXT NOT NULL,
	id INTEGER NOT NULL,
	type TEXT NOT NULL,
	message TEXT,
	detail TEXT,
	tool_name TEXT,
	is_error INTEGER NOT NULL DEFAULT 0,
	at INTEGER NOT NULL,
	PRIMARY KEY (job_id, id)
);
CREATE INDEX IF NOT EXISTS idx_activities_job ON activities(job_id, id);

CREATE TABLE IF NOT EXISTS capability_sets (
	conversation_id TEXT PRIMARY KEY,
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schedules (
	id TEXT PRIMARY KEY,
	conversation_id TEXT,
	name TEXT,
	prompt TEXT,
	cron_expr TEXT,
	timezone TEXT,
	enabled INTEGER NOT NULL DEFAULT 1,
	next_fire INTEGER,
	run_count INTEGER NOT NULL DEFAULT 0,
	source_conversation_id TEXT,
	captured_context TEXT
);
CREATE INDEX IF NOT EXISTS idx_schedules_enabled_next ON schedules(enabled, next_fire);

CREATE TABLE IF NOT EXISTS usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT,
	provider TEXT,
	model TEXT,
	prompt_tokens INTEGER,
	completion_tokens INTEGER,
	cost_usd REAL,
	component TEXT,
	at INTEGER NOT NULL
);
`

// SQLiteStore is the single-writer embedded-database implementation of
// Store (§4.1). Writes go through writeMu, mirroring the reference store's
// single-mutex-wrapped-writer idiom; reads use the shared *sql.DB directly
// since SQLite's WAL mode permits concurrent readers alongside one writer.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Open creates/opens a WAL-mode SQLite database at path and applies the
// schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	var readAt *int64
	if conv.ReadAt != nil {
		v := conv.ReadAt.Unix()
		readAt = &v
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO conversations
		(id, created_at, forked_from, branch_number, is_archived, scheduler_id, is_scheduler_run, read_at, summary, summary_up_to_message_id)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		conv.ID, conv.CreatedAt.Unix(), conv.ForkedFrom, conv.BranchNumber, boolToInt(conv.IsArchived),
		conv.SchedulerID, boolToInt(conv.IsSchedulerRun), readAt, conv.Summary, conv.SummaryUpToMessageID)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("store: create conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, created_at, forked_from, branch_number, is_archived,
		scheduler_id, is_scheduler_run, read_at, summary, summary_up_to_message_id FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

func scanConversation(row *sql.Row) (models.Conversation, error) {
	var c models.Conversation
	var createdAt int64
	var forkedFrom, schedulerID, summary sql.NullString
	var readAt sql.NullInt64
	var isArchived, isSchedulerRun int
	if err := row.Scan(&c.ID, &createdAt, &forkedFrom, &c.BranchNumber, &isArchived,
		&schedulerID, &isSchedulerRun, &readAt, &summary, &c.SummaryUpToMessageID); err != nil {
		if err == sql.ErrNoRows {
			return models.Conversation{}, ErrNotFound
		}
		return models.Conversation{}, err
	}
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	c.ForkedFrom = forkedFrom.String
	c.SchedulerID = schedulerID.String
	c.Summary = summary.String
	c.IsArchived = isArchived != 0
	c.IsSchedulerRun = isSchedulerRun != 0
	if readAt.Valid {
		t := time.Unix(readAt.Int64, 0).UTC()
		c.ReadAt = &t
	}
	return c, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, forked_from, branch_number, is_archived,
		scheduler_id, is_scheduler_run, read_at, summary, summary_up_to_message_id FROM conversations ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var createdAt int64
		var forkedFrom, schedulerID, summary sql.NullString
		var readAt sql.NullInt64
		var isArchived, isSchedulerRun int
		if err := rows.Scan(&c.ID, &createdAt, &forkedFrom, &c.BranchNumber, &isArchived,
			&schedulerID, &isSchedulerRun, &readAt, &summary, &c.SummaryUpToMessageID); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(createdAt, 0).UTC()
		c.ForkedFrom = forkedFrom.String
		c.SchedulerID = schedulerID.String
		c.Summary = summary.String
		c.IsArchived = isArchived != 0
		c.IsSchedulerRun = isSchedulerRun != 0
		if readAt.Valid {
			t := time.Unix(readAt.Int64, 0).UTC()
			c.ReadAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateConversationSummary(ctx context.Context, id, summary string, upToMessageID int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET summary=?, summary_up_to_message_id=? WHERE id=?`, summary, upToMessageID, id)
	return checkRowsAffected(res, err)
}

func (s *SQLiteStore) ArchiveConversation(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET is_archived=1 WHERE id=?`, id)
	return checkRowsAffected(res, err)
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg models.Message) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var nextID int64
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM messages WHERE conversation_id = ?`, msg.ConversationID)
	if err := row.Scan(&nextID); err != nil {
		return 0, err
	}
	toolCalls, _ := json.Marshal(msg.ToolCalls)
	metadata, _ := json.Marshal(msg.Metadata)
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages
		(conversation_id, id, role, content, tool_calls, tool_call_id, thinking, metadata, internal, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		msg.ConversationID, nextID, msg.Role, msg.Content, string(toolCalls), msg.ToolCallID, msg.Thinking,
		string(metadata), boolToInt(msg.Internal), msg.CreatedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: append message: %w", err)
	}
	return nextID, nil
}

func (s *SQLiteStore) ReadMessages(ctx context.Context, conversationID string, sinceID int64, limit int) ([]models.Message, error) {
	query := `SELECT conversation_id, id, role, content, tool_calls, tool_call_id, thinking, metadata, internal, created_at
		FROM messages WHERE conversation_id = ? AND id > ? ORDER BY id ASC`
	args := []any{conversationID, sinceID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var toolCalls, metadata string
		var createdAt int64
		var internal int
		if err := rows.Scan(&m.ConversationID, &m.ID, &m.Role, &m.Content, &toolCalls, &m.ToolCallID,
			&m.Thinking, &metadata, &internal, &createdAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(toolCalls), &m.ToolCalls)
		_ = json.Unmarshal([]byte(metadata), &m.Metadata)
		m.Internal = internal != 0
		m.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, conversationID, userMessage string) (models.Job, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var busy int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE conversation_id = ? AND status NOT IN (?,?,?)`,
		conversationID, models.JobCompleted, models.JobFailed, models.JobCancelled)
	if err := row.Scan(&busy); err != nil {
		return models.Job{}, err
	}
	if busy > 0 {
		return models.Job{}, ErrConversationBusy
	}

	now := time.Now().UTC()
	j := models.Job{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserMessage:    userMessage,
		Status:         models.JobPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO jobs (id, conversation_id, user_message, status, created_at, updated_at)
		VALUES (?,?,?,?,?,?)`, j.ID, j.ConversationID, j.UserMessage, j.Status, now.Unix(), now.Unix())
	if err != nil {
		return models.Job{}, fmt.Errorf("store: create job: %w", err)
	}
	return j, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, conversation_id, user_message, status, worker_id, created_at, updated_at,
		result, error_kind, error_message, pending_tool_id, pending_kind, pending_payload FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func scanJob(row *sql.Row) (models.Job, error) {
	var j models.Job
	var createdAt, updatedAt int64
	var workerID, result, errKind, errMsg, pendingToolID, pendingKind, pendingPayload sql.NullString
	if err := row.Scan(&j.ID, &j.ConversationID, &j.UserMessage, &j.Status, &workerID, &createdAt, &updatedAt,
		&result, &errKind, &errMsg, &pendingToolID, &pendingKind, &pendingPayload); err != nil {
		if err == sql.ErrNoRows {
			return models.Job{}, ErrNotFound
		}
		return models.Job{}, err
	}
	j.WorkerID = workerID.String
	j.Result = result.String
	j.ErrorKind = models.ErrorKind(errKind.String)
	j.ErrorMessage = errMsg.String
	j.PendingToolID = pendingToolID.String
	j.PendingKind = pendingKind.String
	j.CreatedAt = time.Unix(createdAt, 0).UTC()
	j.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if pendingPayload.Valid && pendingPayload.String != "" {
		_ = json.Unmarshal([]byte(pendingPayload.String), &j.PendingPayload)
	}
	return j, nil
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id string, newStatus models.JobStatus, fields JobUpdate) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var current models.JobStatus
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	if !ValidateTransition(current, newStatus) {
		return ErrIllegalTransition
	}

	set := []string{"status = ?", "updated_at = ?"}
	args := []any{newStatus, time.Now().UTC().Unix()}
	if fields.WorkerID != nil {
		set = append(set, "worker_id = ?")
		args = append(args, *fields.WorkerID)
	}
	if fields.Result != nil {
		set = append(set, "result = ?")
		args = append(args, *fields.Result)
	}
	if fields.ErrorKind != nil {
		set = append(set, "error_kind = ?")
		args = append(args, string(*fields.ErrorKind))
	}
	if fields.ErrorMessage != nil {
		set = append(set, "error_message = ?")
		args = append(args, *fields.ErrorMessage)
	}
	if fields.PendingToolID != nil {
		set = append(set, "pending_tool_id = ?")
		args = append(args, *fields.PendingToolID)
	}
	if fields.PendingKind != nil {
		set = append(set, "pending_kind = ?")
		args = append(args, *fields.PendingKind)
	}
	if fields.PendingPayload != nil {
		payload, _ := json.Marshal(fields.PendingPayload)
		set = append(set, "pending_payload = ?")
		args = append(args, string(payload))
	}
	if newStatus == models.JobRunning && fields.PendingKind == nil {
		set = append(set, "pending_tool_id = NULL", "pending_kind = NULL", "pending_payload = NULL")
	}

	query := "UPDATE jobs SET " + join(set, ", ") + " WHERE id = ?"
	args = append(args, id)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLiteStore) OldestPendingWithoutRunningPeer(ctx context.Context) (models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, conversation_id, user_message, status, worker_id, created_at, updated_at,
		result, error_kind, error_message, pending_tool_id, pending_kind, pending_payload
		FROM jobs
		WHERE status = ?
		  AND conversation_id NOT IN (
			SELECT conversation_id FROM jobs WHERE status IN (?,?,?)
		  )
		ORDER BY created_at ASC LIMIT 1`,
		models.JobPending, models.JobRunning, models.JobWaitingForInput, models.JobOAuthPending)
	return scanJob(row)
}

func (s *SQLiteStore) JobsInStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, conversation_id, user_message, status, worker_id, created_at, updated_at,
		result, error_kind, error_message, pending_tool_id, pending_kind, pending_payload FROM jobs WHERE status = ?`, status)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

func (s *SQLiteStore) ListJobsForConversation(ctx context.Context, conversationID string) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, conversation_id, user_message, status, worker_id, created_at, updated_at,
		result, error_kind, error_message, pending_tool_id, pending_kind, pending_payload FROM jobs
		WHERE conversation_id = ? ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]models.Job, error) {
	defer rows.Close()
	var out []models.Job
	for rows.Next() {
		var j models.Job
		var createdAt, updatedAt int64
		var workerID, result, errKind, errMsg, pendingToolID, pendingKind, pendingPayload sql.NullString
		if err := rows.Scan(&j.ID, &j.ConversationID, &j.UserMessage, &j.Status, &workerID, &createdAt, &updatedAt,
			&result, &errKind, &errMsg, &pendingToolID, &pendingKind, &pendingPayload); err != nil {
			return nil, err
		}
		j.WorkerID = workerID.String
		j.Result = result.String
		j.ErrorKind = models.ErrorKind(errKind.String)
		j.ErrorMessage = errMsg.String
		j.PendingToolID = pendingToolID.String
		j.PendingKind = pendingKind.String
		j.CreatedAt = time.Unix(createdAt, 0).UTC()
		j.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		if pendingPayload.Valid && pendingPayload.String != "" {
			_ = json.Unmarshal([]byte(pendingPayload.String), &j.PendingPayload)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendActivity(ctx context.Context, a models.Activity) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var nextID int64
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM activities WHERE job_id = ?`, a.JobID)
	if err := row.Scan(&nextID); err != nil {
		return 0, err
	}
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO activities (job_id, id, type, message, detail, tool_name, is_error, at)
		VALUES (?,?,?,?,?,?,?,?)`, a.JobID, nextID, a.Type, a.Message, a.Detail, a.ToolName, boolToInt(a.IsError), a.At.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: append activity: %w", err)
	}
	return nextID, nil
}

func (s *SQLiteStore) ReadActivities(ctx context.Context, jobID string, sinceID int64) ([]models.Activity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_id, id, type, message, detail, tool_name, is_error, at
		FROM activities WHERE job_id = ? AND id > ? ORDER BY id ASC`, jobID, sinceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Activity
	for rows.Next() {
		var a models.Activity
		var at int64
		var isError int
		if err := rows.Scan(&a.JobID, &a.ID, &a.Type, &a.Message, &a.Detail, &a.ToolName, &isError, &at); err != nil {
			return nil, err
		}
		a.IsError = isError != 0
		a.At = time.Unix(at, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetCapabilitySet(ctx context.Context, conversationID string) (models.CapabilitySet, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM capability_sets WHERE conversation_id = ?`, conversationID).Scan(&data)
	if err == sql.ErrNoRows {
		return models.CapabilitySet{}, nil
	}
	if err != nil {
		return nil, err
	}
	var set models.CapabilitySet
	_ = json.Unmarshal([]byte(data), &set)
	return set, nil
}

func (s *SQLiteStore) SetCapabilitySet(ctx context.Context, conversationID string, set models.CapabilitySet) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	data, _ := json.Marshal(set)
	_, err := s.db.ExecContext(ctx, `INSERT INTO capability_sets (conversation_id, data) VALUES (?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET data = excluded.data`, conversationID, string(data))
	return err
}

func (s *SQLiteStore) UpsertSchedule(ctx context.Context, sc models.Schedule) (models.Schedule, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	var nextFire *int64
	if sc.NextFire != nil {
		v := sc.NextFire.Unix()
		nextFire = &v
	}
	ctxData, _ := json.Marshal(sc.CapturedContext)
	_, err := s.db.ExecContext(ctx, `INSERT INTO schedules
		(id, conversation_id, name, prompt, cron_expr, timezone, enabled, next_fire, run_count, source_conversation_id, captured_context)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET conversation_id=excluded.conversation_id, name=excluded.name, prompt=excluded.prompt,
			cron_expr=excluded.cron_expr, timezone=excluded.timezone, enabled=excluded.enabled, next_fire=excluded.next_fire,
			run_count=excluded.run_count, source_conversation_id=excluded.source_conversation_id, captured_context=excluded.captured_context`,
		sc.ID, sc.ConversationID, sc.Name, sc.Prompt, sc.CronExpr, sc.Timezone, boolToInt(sc.Enabled), nextFire,
		sc.RunCount, sc.SourceConvID, string(ctxData))
	if err != nil {
		return models.Schedule{}, fmt.Errorf("store: upsert schedule: %w", err)
	}
	return sc, nil
}

func (s *SQLiteStore) GetSchedule(ctx context.Context, id string) (models.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, conversation_id, name, prompt, cron_expr, timezone, enabled, next_fire,
		run_count, source_conversation_id, captured_context FROM schedules WHERE id = ?`, id)
	return scanSchedule(row)
}

func scanSchedule(row *sql.Row) (models.Schedule, error) {
	var sc models.Schedule
	var enabled int
	var nextFire sql.NullInt64
	var capturedCtx sql.NullString
	if err := row.Scan(&sc.ID, &sc.ConversationID, &sc.Name, &sc.Prompt, &sc.CronExpr, &sc.Timezone, &enabled,
		&nextFire, &sc.RunCount, &sc.SourceConvID, &capturedCtx); err != nil {
		if err == sql.ErrNoRows {
			return models.Schedule{}, ErrNotFound
		}
		return models.Schedule{}, err
	}
	sc.Enabled = enabled != 0
	if nextFire.Valid {
		t := time.Unix(nextFire.Int64, 0).UTC()
		sc.NextFire = &t
	}
	if capturedCtx.Valid && capturedCtx.String != "" {
		_ = json.Unmarshal([]byte(capturedCtx.String), &sc.CapturedContext)
	}
	return sc, nil
}

func (s *SQLiteStore) ListEnabledSchedules(ctx context.Context) ([]models.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, conversation_id, name, prompt, cron_expr, timezone, enabled, next_fire,
		run_count, source_conversation_id, captured_context FROM schedules WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Schedule
	for rows.Next() {
		var sc models.Schedule
		var enabled int
		var nextFire sql.NullInt64
		var capturedCtx sql.NullString
		if err := rows.Scan(&sc.ID, &sc.ConversationID, &sc.Name, &sc.Prompt, &sc.CronExpr, &sc.Timezone, &enabled,
			&nextFire, &sc.RunCount, &sc.SourceConvID, &capturedCtx); err != nil {
			return nil, err
		}
		sc.Enabled = enabled != 0
		if nextFire.Valid {
			t := time.Unix(nextFire.Int64, 0).UTC()
			sc.NextFire = &t
		}
		if capturedCtx.Valid && capturedCtx.String != "" {
			_ = json.Unmarshal([]byte(capturedCtx.String), &sc.CapturedContext)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetScheduleNextFire(ctx context.Context, id string, nextFireUnix *int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE schedules SET next_fire = ? WHERE id = ?`, nextFireUnix, id)
	return err
}

func (s *SQLiteStore) IncrementScheduleRunCount(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE schedules SET run_count = run_count + 1 WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) AppendUsage(ctx context.Context, u models.UsageRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if u.At.IsZero() {
		u.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO usage (job_id, provider, model, prompt_tokens, completion_tokens, cost_usd, component, at)
		VALUES (?,?,?,?,?,?,?,?)`, u.JobID, u.Provider, u.Model, u.PromptTokens, u.CompletionTokens, u.CostUSD, u.Component, u.At.Unix())
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkRowsAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
