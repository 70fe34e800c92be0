package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jo-hoe/mediascribe/internal/common"
)

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access; WAL lets status
	// reads proceed while a pipeline writes.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, common.SQLiteBusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return newSQLiteStoreWithDB(db), nil
}

func newSQLiteStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		job_id TEXT PRIMARY KEY,
		original_filename TEXT NOT NULL,
		content_type TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		source_path TEXT NOT NULL,
		transcript_path TEXT,
		failure_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status_updated ON jobs (status, updated_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ID == "" {
		return errors.New("job.ID is required")
	}
	if job.Status == "" {
		job.Status = StatusUploaded
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, original_filename, content_type, kind, status, source_path, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OriginalFilename, job.ContentType, string(job.Kind), string(job.Status), job.SourcePath,
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("insert job %s: %w", job.ID, ErrJobExists)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateStatus applies update in a single conditional UPDATE. The WHERE clause
// only matches rows whose current status may legally move to update.Status, so
// concurrent writers can never regress a job.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, update StatusUpdate) error {
	if err := validateUpdate(update); err != nil {
		return err
	}

	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(update.Status), formatTime(s.now())}
	if update.Status == StatusCompleted {
		sets = append(sets, "transcript_path = ?")
		args = append(args, *update.TranscriptPath)
	}
	if update.Status == StatusFailed && update.FailureReason != "" {
		sets = append(sets, "failure_reason = ?")
		args = append(args, update.FailureReason)
	}

	from := predecessors(update.Status)
	placeholders := make([]string, len(from))
	args = append(args, id)
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE job_id = ? AND status IN (%s)`,
		strings.Join(sets, ", "), strings.Join(placeholders, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing matched: the job is missing, already in the target state, or the
	// transition is illegal.
	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE job_id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update status %s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if Status(current) == update.Status {
		return nil
	}
	return fmt.Errorf("%s -> %s: %w", current, update.Status, ErrInvalidTransition)
}

const selectColumns = `job_id, original_filename, content_type, kind, status, source_path,
		transcript_path, failure_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var kind, status, created, updated string
	var transcript, reason sql.NullString

	if err := row.Scan(
		&job.ID,
		&job.OriginalFilename,
		&job.ContentType,
		&kind,
		&status,
		&job.SourcePath,
		&transcript,
		&reason,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}

	job.Kind = Kind(kind)
	job.Status = Status(status)
	if transcript.Valid {
		v := transcript.String
		job.TranscriptPath = &v
	}
	if reason.Valid {
		v := reason.String
		job.FailureReason = &v
	}
	if t, err := time.Parse(timeLayout, created); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(timeLayout, updated); err == nil {
		job.UpdatedAt = t
	}
	return &job, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM jobs WHERE job_id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get job %s: %w", id, ErrJobNotFound)
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) ListStale(ctx context.Context, statuses []Status, olderThan time.Time) ([]*Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+1)
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, string(st))
	}
	args = append(args, formatTime(olderThan))

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM jobs WHERE status IN (`+strings.Join(placeholders, ", ")+`)
		 AND updated_at < ? ORDER BY updated_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale jobs: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
