package repository

import (
	"context"
	"time"

	"defect-inspection/internal/domain/model"
)

// JobRepository persists jobs together with their files and per-file detections.
// Implementations translate a missing job into domain.ErrNotFound and storage
// outages into domain.ErrInfrastructure.
type JobRepository interface {
	// Create inserts a new job and all of its files.
	Create(ctx context.Context, tx Tx, job *model.Job) error
	// FindByID loads the job with files ordered by position and their results.
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	GetStatus(ctx context.Context, tx Tx, id string) (*model.JobStatusView, error)
	// SaveJob updates the job row only (status, progress, error, timestamps).
	SaveJob(ctx context.Context, tx Tx, job *model.Job) error
	// SaveFile updates one file row and replaces its detections.
	SaveFile(ctx context.Context, tx Tx, file *model.FileJob) error
	ListByStatus(ctx context.Context, tx Tx, statuses ...model.JobStatus) ([]*model.Job, error)
	// ListByOwner returns the owner's most recent jobs first, files included.
	ListByOwner(ctx context.Context, tx Tx, ownerID string, limit int) ([]*model.Job, error)
	// ListCompletedBefore returns up to limit of the owner's completed jobs
	// created strictly before the given time, most recent first, files included.
	ListCompletedBefore(ctx context.Context, tx Tx, ownerID string, before time.Time, limit int) ([]*model.Job, error)
	CountByStatus(ctx context.Context, tx Tx) (map[model.JobStatus]int, error)
	// DeleteTerminalBefore removes terminal jobs finished before cutoff.
	DeleteTerminalBefore(ctx context.Context, tx Tx, cutoff time.Time) (int, error)
}
