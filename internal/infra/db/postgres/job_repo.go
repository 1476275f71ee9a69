package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"defect-inspection/internal/domain"
	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobRepo {
	return &jobRepo{
		pool: pool,
		tm:   tm,
	}
}

// inTx runs fn in tx when the caller already holds one, otherwise in a new transaction.
func (r *jobRepo) inTx(ctx context.Context, tx repository.Tx, fn func(ctx context.Context, tx repository.Tx) error) error {
	if tx != nil {
		return fn(ctx, tx)
	}
	return r.tm.WithTx(ctx, pgx.TxOptions{}, fn)
}

const jobColumns = `id, owner_id, config, status, priority, progress_pct, error, created_at, started_at, completed_at`

func (r *jobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return domain.Infrastructure("encode job config", err)
	}
	return r.inTx(ctx, tx, func(ctx context.Context, tx repository.Tx) error {
		const q = `
INSERT INTO inspection_jobs (` + jobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`
		if _, err := execSQL(ctx, r.pool, tx, "insert job", q,
			job.ID, job.OwnerID, string(cfg), job.Status, job.Priority, job.ProgressPct, job.Error,
			job.CreatedAt, job.StartedAt, job.CompletedAt); err != nil {
			return err
		}
		for _, f := range job.Files {
			const fq = `
INSERT INTO inspection_files (id, job_id, position, source_path, status, attempts, processing_ms,
  image_width, image_height, error, processed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);`
			if _, err := execSQL(ctx, r.pool, tx, "insert file", fq,
				f.ID, job.ID, f.Position, f.SourcePath, f.Status, f.Attempts, f.ProcessingMs,
				f.ImageWidth, f.ImageHeight, f.Error, f.ProcessedAt); err != nil {
				return err
			}
			if err := r.insertDetections(ctx, tx, f); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *jobRepo) insertDetections(ctx context.Context, tx repository.Tx, f *model.FileJob) error {
	const q = `
INSERT INTO detections (id, file_id, seq, defect_type, confidence, box_x, box_y, box_width, box_height,
  severity, affected_area_pct)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);`
	for i := range f.Result {
		d := &f.Result[i]
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if _, err := execSQL(ctx, r.pool, tx, "insert detection", q,
			d.ID, f.ID, i, d.Type, d.Confidence, d.BoundingBox.X, d.BoundingBox.Y,
			d.BoundingBox.Width, d.BoundingBox.Height, d.Severity, d.AffectedAreaPct); err != nil {
			return err
		}
	}
	return nil
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	jobs, err := r.loadJobs(ctx, tx, "find job",
		`SELECT `+jobColumns+` FROM inspection_jobs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, domain.ErrNotFound
	}
	return jobs[0], nil
}

func (r *jobRepo) GetStatus(ctx context.Context, tx repository.Tx, id string) (*model.JobStatusView, error) {
	const q = `
SELECT j.id, j.owner_id, j.status, j.progress_pct, j.error,
  COUNT(f.id),
  COUNT(f.id) FILTER (WHERE f.status = 'completed'),
  COUNT(f.id) FILTER (WHERE f.status = 'failed')
FROM inspection_jobs j
LEFT JOIN inspection_files f ON f.job_id = j.id
WHERE j.id = $1
GROUP BY j.id;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var (
		v      model.JobStatusView
		status string
	)
	if err := row.Scan(&v.JobID, &v.OwnerID, &status, &v.ProgressPct, &v.Error,
		&v.TotalFiles, &v.CompletedFiles, &v.FailedFiles); err != nil {
		return nil, translateErr("job status", err)
	}
	v.Status = model.JobStatus(status)
	return &v, nil
}

func (r *jobRepo) SaveJob(ctx context.Context, tx repository.Tx, job *model.Job) error {
	const q = `
UPDATE inspection_jobs
SET status = $2, progress_pct = $3, error = $4, started_at = $5, completed_at = $6
WHERE id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, "save job", q,
		job.ID, job.Status, job.ProgressPct, job.Error, job.StartedAt, job.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *jobRepo) SaveFile(ctx context.Context, tx repository.Tx, file *model.FileJob) error {
	return r.inTx(ctx, tx, func(ctx context.Context, tx repository.Tx) error {
		const q = `
UPDATE inspection_files
SET status = $3, attempts = $4, processing_ms = $5, image_width = $6, image_height = $7,
  error = $8, processed_at = $9
WHERE id = $1 AND job_id = $2;`
		tag, err := execSQL(ctx, r.pool, tx, "save file", q,
			file.ID, file.JobID, file.Status, file.Attempts, file.ProcessingMs,
			file.ImageWidth, file.ImageHeight, file.Error, file.ProcessedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		if _, err := execSQL(ctx, r.pool, tx, "clear detections",
			`DELETE FROM detections WHERE file_id = $1`, file.ID); err != nil {
			return err
		}
		return r.insertDetections(ctx, tx, file)
	})
}

func (r *jobRepo) ListByStatus(ctx context.Context, tx repository.Tx, statuses ...model.JobStatus) ([]*model.Job, error) {
	if len(statuses) == 0 {
		return []*model.Job{}, nil
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return r.loadJobs(ctx, tx, "list jobs by status",
		`SELECT `+jobColumns+` FROM inspection_jobs WHERE status = ANY($1) ORDER BY created_at, id`, names)
}

// ListByOwner treats a non-positive limit as no limit.
func (r *jobRepo) ListByOwner(ctx context.Context, tx repository.Tx, ownerID string, limit int) ([]*model.Job, error) {
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	return r.loadJobs(ctx, tx, "list jobs by owner",
		`SELECT `+jobColumns+` FROM inspection_jobs WHERE owner_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		ownerID, lim)
}

func (r *jobRepo) ListCompletedBefore(ctx context.Context, tx repository.Tx, ownerID string, before time.Time, limit int) ([]*model.Job, error) {
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	return r.loadJobs(ctx, tx, "list completed jobs",
		`SELECT `+jobColumns+` FROM inspection_jobs
WHERE owner_id = $1 AND status = 'completed' AND created_at < $2
ORDER BY created_at DESC, id DESC LIMIT $3`,
		ownerID, before, lim)
}

func (r *jobRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.JobStatus]int, error) {
	rows, err := queryRows(ctx, r.pool, tx, "count jobs",
		`SELECT status, COUNT(*) FROM inspection_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, translateErr("count jobs", err)
		}
		counts[model.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr("count jobs", err)
	}
	return counts, nil
}

// DeleteTerminalBefore relies on ON DELETE CASCADE for files and detections.
func (r *jobRepo) DeleteTerminalBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) (int, error) {
	const q = `
DELETE FROM inspection_jobs
WHERE status IN ('completed', 'failed', 'cancelled')
  AND completed_at IS NOT NULL
  AND completed_at < $1;`
	tag, err := execSQL(ctx, r.pool, tx, "purge jobs", q, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// loadJobs reads job rows with q, then hydrates their files and detections.
func (r *jobRepo) loadJobs(ctx context.Context, tx repository.Tx, op, q string, args ...interface{}) ([]*model.Job, error) {
	rows, err := queryRows(ctx, r.pool, tx, op, q, args...)
	if err != nil {
		return nil, err
	}
	jobs := make([]*model.Job, 0)
	byID := make(map[string]*model.Job)
	for rows.Next() {
		var (
			j      model.Job
			cfg    []byte
			status string
		)
		if err := rows.Scan(&j.ID, &j.OwnerID, &cfg, &status, &j.Priority, &j.ProgressPct, &j.Error,
			&j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
			rows.Close()
			return nil, translateErr(op, err)
		}
		if err := json.Unmarshal(cfg, &j.Config); err != nil {
			rows.Close()
			return nil, domain.Infrastructure("decode job config", err)
		}
		j.Status = model.JobStatus(status)
		j.Files = []*model.FileJob{}
		jobs = append(jobs, &j)
		byID[j.ID] = &j
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, translateErr(op, err)
	}
	if len(jobs) == 0 {
		return jobs, nil
	}
	if err := r.hydrate(ctx, tx, byID); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepo) hydrate(ctx context.Context, tx repository.Tx, byID map[string]*model.Job) error {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	const fq = `
SELECT id, job_id, position, source_path, status, attempts, processing_ms, image_width, image_height,
  error, processed_at
FROM inspection_files
WHERE job_id = ANY($1)
ORDER BY job_id, position;`
	rows, err := queryRows(ctx, r.pool, tx, "load files", fq, ids)
	if err != nil {
		return err
	}
	files := make(map[string]*model.FileJob)
	for rows.Next() {
		var (
			f      model.FileJob
			status string
		)
		if err := rows.Scan(&f.ID, &f.JobID, &f.Position, &f.SourcePath, &status, &f.Attempts,
			&f.ProcessingMs, &f.ImageWidth, &f.ImageHeight, &f.Error, &f.ProcessedAt); err != nil {
			rows.Close()
			return translateErr("load files", err)
		}
		f.Status = model.FileStatus(status)
		byID[f.JobID].Files = append(byID[f.JobID].Files, &f)
		files[f.ID] = &f
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return translateErr("load files", err)
	}

	const dq = `
SELECT d.id, d.file_id, d.defect_type, d.confidence, d.box_x, d.box_y, d.box_width, d.box_height,
  d.severity, d.affected_area_pct
FROM detections d
JOIN inspection_files f ON f.id = d.file_id
WHERE f.job_id = ANY($1)
ORDER BY d.file_id, d.seq;`
	rows, err = queryRows(ctx, r.pool, tx, "load detections", dq, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			d          model.Detection
			fileID     string
			dtype, sev string
		)
		if err := rows.Scan(&d.ID, &fileID, &dtype, &d.Confidence, &d.BoundingBox.X, &d.BoundingBox.Y,
			&d.BoundingBox.Width, &d.BoundingBox.Height, &sev, &d.AffectedAreaPct); err != nil {
			return translateErr("load detections", err)
		}
		d.Type = model.DefectType(dtype)
		d.Severity = model.Severity(sev)
		if f, ok := files[fileID]; ok {
			f.Result = append(f.Result, d)
		}
	}
	if err := rows.Err(); err != nil {
		return translateErr("load detections", err)
	}
	return nil
}
