package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jo-hoe/reelsmith/internal/common"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, common.SQLiteBusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// addedColumns were introduced after the first schema and are added to older databases.
var addedColumns = []struct{ name, ddl string }{
	{ColumnVoiceoverRef, "TEXT"},
	{ColumnVoicePersona, "TEXT"},
	{ColumnCaptions, "TEXT"},
	{ColumnVideoRef, "TEXT"},
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		owner_id TEXT,
		idea TEXT NOT NULL,
		status TEXT NOT NULL,
		sections_json TEXT NOT NULL DEFAULT '[]',
		script_model_override TEXT,
		video_model_override TEXT,
		callback_url TEXT,
		error_message TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	existing, err := tableColumns(db, "jobs")
	if err != nil {
		return err
	}
	for _, col := range addedColumns {
		if _, ok := existing[col.name]; ok {
			continue
		}
		if _, err := db.Exec(fmt.Sprintf("ALTER TABLE jobs ADD COLUMN %s %s", col.name, col.ddl)); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}
	return nil
}

func tableColumns(db *sql.DB, table string) (map[string]struct{}, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()
	cols := make(map[string]struct{})
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan %s columns: %w", table, err)
		}
		cols[name] = struct{}{}
	}
	return cols, rows.Err()
}

func (s *SQLiteStore) Insert(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ID == "" {
		return errors.New("job.ID is required")
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt

	sections, err := marshalList(job.Sections)
	if err != nil {
		return fmt.Errorf("marshal sections: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, owner_id, idea, status, sections_json, script_model_override, video_model_override,
			callback_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, nullable(job.OwnerID), job.Idea, string(job.Status), sections,
		nullable(job.ScriptModelOverride), nullable(job.VideoModelOverride), nullable(job.CallbackURL),
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: insert job %s: %v", ErrConstraint, job.ID, err)
		}
		return fmt.Errorf("insert job: %w", classifyUnknownColumn(err))
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, patch Patch) (*Job, error) {
	sets, args, err := patchAssignments(patch)
	if err != nil {
		return nil, err
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now().UTC()))

	query := "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if patch.RequireActive {
		query += " AND status NOT IN (?, ?, ?)"
		args = append(args, string(StatusComplete), string(StatusError), string(StatusCancelled))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", classifyUnknownColumn(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update job: rows affected: %w", err)
	}

	job, err := scanJob(tx.QueryRowContext(ctx, selectJob+" WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if job.Status == StatusCancelled {
			return job, ErrCancelled
		}
		return job, ErrTerminal
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return job, nil
}

func patchAssignments(p Patch) ([]string, []any, error) {
	var sets []string
	var args []any
	if p.Status != nil {
		if !p.Status.Valid() {
			return nil, nil, fmt.Errorf("%w: invalid status %q", ErrConstraint, *p.Status)
		}
		sets = append(sets, ColumnStatus+" = ?")
		args = append(args, string(*p.Status))
	}
	if p.Sections != nil {
		v, err := marshalList(*p.Sections)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal sections: %w", err)
		}
		sets = append(sets, ColumnSections+" = ?")
		args = append(args, v)
	}
	if p.VoiceoverRef != nil {
		sets = append(sets, ColumnVoiceoverRef+" = ?")
		args = append(args, nullable(*p.VoiceoverRef))
	}
	if p.VoicePersona != nil {
		sets = append(sets, ColumnVoicePersona+" = ?")
		args = append(args, nullable(*p.VoicePersona))
	}
	if p.Captions != nil {
		v, err := marshalList(*p.Captions)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal captions: %w", err)
		}
		sets = append(sets, ColumnCaptions+" = ?")
		args = append(args, v)
	}
	if p.VideoRef != nil {
		sets = append(sets, ColumnVideoRef+" = ?")
		args = append(args, nullable(*p.VideoRef))
	}
	if p.Error != nil {
		sets = append(sets, ColumnError+" = ?")
		args = append(args, nullable(*p.Error))
	}
	return sets, args, nil
}

const selectJob = `SELECT id, owner_id, idea, status, sections_json, voiceover_ref, voice_persona, captions_json,
	video_ref, script_model_override, video_model_override, callback_url, error_message, created_at, updated_at
	FROM jobs`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, selectJob+" WHERE id = ?", id))
}

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	var where []string
	var args []any
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	query := selectJob
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var owner, voiceRef, persona, captions, videoRef, scriptModel, videoModel, callback, errMsg sql.NullString
	var status, sections, created, updated string

	if err := row.Scan(
		&job.ID,
		&owner,
		&job.Idea,
		&status,
		&sections,
		&voiceRef,
		&persona,
		&captions,
		&videoRef,
		&scriptModel,
		&videoModel,
		&callback,
		&errMsg,
		&created,
		&updated,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.Status = Status(status)
	job.OwnerID = owner.String
	job.VoiceoverRef = voiceRef.String
	job.VoicePersona = persona.String
	job.VideoRef = videoRef.String
	job.ScriptModelOverride = scriptModel.String
	job.VideoModelOverride = videoModel.String
	job.CallbackURL = callback.String
	job.Error = errMsg.String

	// Corrupt list columns decode to empty lists; the pipeline reports the consequence.
	if err := json.Unmarshal([]byte(sections), &job.Sections); err != nil || job.Sections == nil {
		job.Sections = []Section{}
	}
	if captions.Valid && captions.String != "" {
		if err := json.Unmarshal([]byte(captions.String), &job.Captions); err != nil {
			job.Captions = nil
		}
	}
	if job.Captions == nil {
		job.Captions = []CaptionSegment{}
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		job.UpdatedAt = t
	}
	return &job, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalList[T any](items []T) (string, error) {
	if items == nil {
		return "[]", nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// timeLayout keeps every fraction digit so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func isConstraintError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}
