package usecase

import (
	"context"
	"errors"
	"time"

	"defect-inspection/internal/domain"
	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/domain/ports/repository"
	"defect-inspection/internal/infra/logging"
	"defect-inspection/internal/infra/worker"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ InspectionUseCase = (*inspectionUC)(nil)

type InspectionUseCase interface {
	Submit(ctx context.Context, ownerID string, files []string, cfg model.DetectionConfig, priority int) (string, error)
	GetStatus(ctx context.Context, jobID string) (*model.JobStatusView, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
	// GetSummary fails with domain.ErrJobNotCompleted unless the job completed.
	GetSummary(ctx context.Context, jobID string) (*model.BatchSummary, error)
	GetReport(ctx context.Context, jobID string) (*model.BatchReport, error)
	// Compare measures a completed job against the owner's previous completed jobs.
	Compare(ctx context.Context, jobID string, history int) (*model.Comparison, error)
	QueueStats(ctx context.Context) (*worker.QueueStats, error)
	Pause(ctx context.Context)
	Resume(ctx context.Context)
	// Purge deletes terminal jobs that finished more than retention ago.
	Purge(ctx context.Context, retention time.Duration) (int, error)
}

// JobQueue is the scheduling side used by the inspection use case.
type JobQueue interface {
	Enqueue(ctx context.Context, job *model.Job) (string, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
	Stats(ctx context.Context) (*worker.QueueStats, error)
	Pause()
	Resume()
}

type inspectionUC struct {
	jobs  repository.JobRepository
	queue JobQueue
	agg   AggregationUseCase

	log *zerolog.Logger
}

func NewInspectionUseCase(jobs repository.JobRepository, queue JobQueue, agg AggregationUseCase, logger *zerolog.Logger) *inspectionUC {
	return &inspectionUC{jobs: jobs, queue: queue, agg: agg, log: logger}
}

func (u *inspectionUC) Submit(ctx context.Context, ownerID string, files []string, cfg model.DetectionConfig, priority int) (string, error) {
	if len(cfg.DefectTypes) == 0 {
		cfg.DefectTypes = model.AllDefectTypes()
	}
	job, err := model.NewJob(ulid.Make().String(), ownerID, cfg, files, priority)
	if err != nil {
		return "", err
	}
	id, err := u.queue.Enqueue(ctx, job)
	if err != nil {
		return "", err
	}
	ctx = logging.WithOwnerID(logging.WithJobID(ctx, id), ownerID)
	logging.With(ctx, u.log).Info().
		Int("files", len(files)).
		Int("priority", priority).
		Msg("inspection job submitted")
	return id, nil
}

func (u *inspectionUC) GetStatus(ctx context.Context, jobID string) (*model.JobStatusView, error) {
	return u.jobs.GetStatus(ctx, repository.NoTX, jobID)
}

func (u *inspectionUC) Cancel(ctx context.Context, jobID string) (bool, error) {
	ok, err := u.queue.Cancel(ctx, jobID)
	if err != nil {
		return false, err
	}
	if ok {
		logging.With(logging.WithJobID(ctx, jobID), u.log).Info().Msg("inspection job cancelled")
	}
	return ok, nil
}

func (u *inspectionUC) completedJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := u.jobs.FindByID(ctx, repository.NoTX, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusCompleted {
		return nil, domain.ErrJobNotCompleted
	}
	return job, nil
}

func (u *inspectionUC) GetSummary(ctx context.Context, jobID string) (*model.BatchSummary, error) {
	job, err := u.completedJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return u.agg.Summarize(job), nil
}

func (u *inspectionUC) GetReport(ctx context.Context, jobID string) (*model.BatchReport, error) {
	job, err := u.completedJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return u.agg.Report(job), nil
}

func (u *inspectionUC) Compare(ctx context.Context, jobID string, history int) (*model.Comparison, error) {
	if history <= 0 {
		history = 10
	}
	job, err := u.completedJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	earlier, err := u.jobs.ListCompletedBefore(ctx, repository.NoTX, job.OwnerID, job.CreatedAt, history)
	if err != nil {
		return nil, err
	}
	past := make([]*model.BatchSummary, 0, len(earlier))
	for _, j := range earlier {
		past = append(past, u.agg.Summarize(j))
	}
	return u.agg.Compare(u.agg.Summarize(job), past), nil
}

func (u *inspectionUC) QueueStats(ctx context.Context) (*worker.QueueStats, error) {
	return u.queue.Stats(ctx)
}

func (u *inspectionUC) Pause(ctx context.Context) {
	u.queue.Pause()
	u.log.Warn().Msg("queue paused")
}

func (u *inspectionUC) Resume(ctx context.Context) {
	u.queue.Resume()
	u.log.Info().Msg("queue resumed")
}

func (u *inspectionUC) Purge(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, errors.New("retention must be positive")
	}
	n, err := u.jobs.DeleteTerminalBefore(ctx, repository.NoTX, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		u.log.Info().Int("deleted", n).Dur("retention", retention).Msg("purged finished jobs")
	}
	return n, nil
}
