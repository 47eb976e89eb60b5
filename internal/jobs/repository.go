package jobs

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, done, total int) error

	CreateClip(ctx context.Context, clip *Clip) error
	GetClip(ctx context.Context, id string) (*Clip, error)
	ListClips(ctx context.Context, jobID string) ([]*Clip, error)
	SetClipRemoteURL(ctx context.Context, id, remoteURL string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const jobColumns = `id, status, input_dir, output_dir, record_name, ext, progress, records_total, records_done, error, created_at, updated_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Status, j.InputDir, j.OutputDir, nullString(j.RecordName), j.Ext,
		j.Progress, j.RecordsTotal, j.RecordsDone, nullString(j.Error),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *SQLiteRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY created_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var recordName, errMsg sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &j.Status, &j.InputDir, &j.OutputDir, &recordName, &j.Ext,
		&j.Progress, &j.RecordsTotal, &j.RecordsDone, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	j.RecordName = recordName.String
	j.Error = errMsg.String
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), formatTime(time.Now()), id)
	return err
}

// UpdateJobProgress records done of total records finished and derives the
// percentage from them.
func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, done, total int) error {
	progress := 100
	if total > 0 {
		progress = done * 100 / total
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, records_done = ?, records_total = ?, updated_at = ? WHERE id = ?
	`, progress, done, total, formatTime(time.Now()), id)
	return err
}

const clipColumns = `id, job_id, record_name, pair_index, start_frame, end_frame, path, frames, size, status, error, remote_url, created_at`

func (r *SQLiteRepository) CreateClip(ctx context.Context, c *Clip) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clips (`+clipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.JobID, c.RecordName, c.PairIndex, c.StartFrame, c.EndFrame, c.Path,
		c.Frames, c.Size, c.Status, nullString(c.Error), nullString(c.RemoteURL),
		formatTime(c.CreatedAt))
	return err
}

func (r *SQLiteRepository) GetClip(ctx context.Context, id string) (*Clip, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+clipColumns+` FROM clips WHERE id = ?`, id)
	c, err := scanClip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// ListClips returns a job's clips grouped by record, in pair order.
func (r *SQLiteRepository) ListClips(ctx context.Context, jobID string) ([]*Clip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+clipColumns+` FROM clips WHERE job_id = ? ORDER BY record_name, pair_index
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []*Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

func scanClip(row rowScanner) (*Clip, error) {
	var c Clip
	var errMsg, remote sql.NullString
	var createdAt string

	err := row.Scan(&c.ID, &c.JobID, &c.RecordName, &c.PairIndex, &c.StartFrame, &c.EndFrame,
		&c.Path, &c.Frames, &c.Size, &c.Status, &errMsg, &remote, &createdAt)
	if err != nil {
		return nil, err
	}
	c.Error = errMsg.String
	c.RemoteURL = remote.String
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

func (r *SQLiteRepository) SetClipRemoteURL(ctx context.Context, id, remoteURL string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE clips SET remote_url = ? WHERE id = ?", nullString(remoteURL), id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
