//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"defect-inspection/internal/domain"
	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/domain/ports/repository"
	"defect-inspection/internal/infra/db/memory"
	"defect-inspection/internal/usecase"

	"github.com/stretchr/testify/require"
)

func newInspection(t *testing.T) (usecase.InspectionUseCase, *memory.JobRepo, *MockQueue) {
	t.Helper()
	repo := memory.NewJobRepo()
	queue := &MockQueue{}
	queue.EnqueueFunc = func(ctx context.Context, job *model.Job) (string, error) {
		return job.ID, repo.Create(ctx, repository.NoTX, job)
	}
	uc := usecase.NewInspectionUseCase(repo, queue, usecase.NewAggregationUseCase(), newTestLogger())
	return uc, repo, queue
}

func TestInspectionUseCase_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to every defect type", func(t *testing.T) {
		uc, _, queue := newInspection(t)
		cfg := testConfig()
		cfg.DefectTypes = nil

		id, err := uc.Submit(ctx, "u1", []string{"a.png", "b.png"}, cfg, 2)
		require.NoError(t, err)
		require.Len(t, id, 26, "job ids are ULIDs")
		require.Len(t, queue.Enqueued, 1)
		job := queue.Enqueued[0]
		require.Equal(t, model.AllDefectTypes(), job.Config.DefectTypes)
		require.Equal(t, 2, job.Priority)
		require.Equal(t, "a.png", job.Files[0].SourcePath)

		view, err := uc.GetStatus(ctx, id)
		require.NoError(t, err)
		require.Equal(t, model.JobStatusQueued, view.Status)
		require.Equal(t, 2, view.TotalFiles)
	})

	t.Run("rejects invalid jobs before enqueueing", func(t *testing.T) {
		uc, _, queue := newInspection(t)
		_, err := uc.Submit(ctx, "u1", nil, testConfig(), 0)
		require.ErrorIs(t, err, domain.ErrInvalidJob)

		cfg := testConfig()
		cfg.ConfidenceThreshold = 1.5
		_, err = uc.Submit(ctx, "u1", []string{"a.png"}, cfg, 0)
		require.ErrorIs(t, err, domain.ErrInvalidJob)
		require.Empty(t, queue.Enqueued)
	})

	t.Run("propagates queue errors", func(t *testing.T) {
		uc, _, queue := newInspection(t)
		queue.EnqueueFunc = func(context.Context, *model.Job) (string, error) { return "", domain.ErrQueueStopped }
		_, err := uc.Submit(ctx, "u1", []string{"a.png"}, testConfig(), 0)
		require.ErrorIs(t, err, domain.ErrQueueStopped)
	})
}

func TestInspectionUseCase_SummaryRequiresCompletion(t *testing.T) {
	ctx := context.Background()
	uc, repo, _ := newInspection(t)

	id, err := uc.Submit(ctx, "u1", []string{"a.png"}, testConfig(), 0)
	require.NoError(t, err)
	_, err = uc.GetSummary(ctx, id)
	require.ErrorIs(t, err, domain.ErrJobNotCompleted)
	_, err = uc.GetReport(ctx, id)
	require.ErrorIs(t, err, domain.ErrJobNotCompleted)
	_, err = uc.GetSummary(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	done := completedJob("done", "u1", nil, []model.Detection{det(model.DefectCrack, 0.9, model.SeverityHigh)})
	require.NoError(t, repo.Create(ctx, repository.NoTX, done))

	s, err := uc.GetSummary(ctx, "done")
	require.NoError(t, err)
	require.Equal(t, 1, s.PassedFiles)
	require.Equal(t, 1, s.FailedFiles)

	r, err := uc.GetReport(ctx, "done")
	require.NoError(t, err)
	require.Len(t, r.Files, 2)
}

func TestInspectionUseCase_Compare(t *testing.T) {
	ctx := context.Background()
	uc, repo, _ := newInspection(t)
	base := time.Now().Add(-time.Hour)

	older := completedJob("older", "u1", []model.Detection{det(model.DefectCrack, 0.9, model.SeverityHigh)}, nil)
	older.CreatedAt = base
	current := completedJob("current", "u1", nil, nil)
	current.CreatedAt = base.Add(time.Minute)
	otherOwner := completedJob("other", "u2", nil, nil)
	otherOwner.CreatedAt = base
	for _, j := range []*model.Job{older, current, otherOwner} {
		require.NoError(t, repo.Create(ctx, repository.NoTX, j))
	}

	c, err := uc.Compare(ctx, "current", 5)
	require.NoError(t, err)
	require.Equal(t, model.TrendBetter, c.Trend)
	require.InDelta(t, 50.0, c.PassRateDelta, 1e-9)
}

func TestInspectionUseCase_CompareIgnoresLaterJobs(t *testing.T) {
	ctx := context.Background()
	uc, repo, _ := newInspection(t)
	base := time.Now().Add(-time.Hour)

	older := completedJob("older", "u1", []model.Detection{det(model.DefectCrack, 0.9, model.SeverityHigh)}, nil)
	older.CreatedAt = base
	current := completedJob("current", "u1", nil, nil)
	current.CreatedAt = base.Add(time.Minute)
	require.NoError(t, repo.Create(ctx, repository.NoTX, older))
	require.NoError(t, repo.Create(ctx, repository.NoTX, current))
	// Newer batches fill the owner's most recent history.
	for i := 0; i < 3; i++ {
		later := completedJob(fmt.Sprintf("later-%d", i), "u1", nil)
		later.CreatedAt = base.Add(time.Duration(i+2) * time.Minute)
		require.NoError(t, repo.Create(ctx, repository.NoTX, later))
	}

	c, err := uc.Compare(ctx, "current", 1)
	require.NoError(t, err)
	require.Equal(t, model.TrendBetter, c.Trend)
	require.InDelta(t, 50.0, c.PassRateDelta, 1e-9)
}

func TestInspectionUseCase_QueueControls(t *testing.T) {
	ctx := context.Background()
	uc, _, queue := newInspection(t)

	uc.Pause(ctx)
	stats, err := uc.QueueStats(ctx)
	require.NoError(t, err)
	require.True(t, stats.Paused)
	uc.Resume(ctx)
	stats, err = uc.QueueStats(ctx)
	require.NoError(t, err)
	require.False(t, stats.Paused)

	queue.CancelFunc = func(context.Context, string) (bool, error) { return false, domain.ErrNotFound }
	_, err = uc.Cancel(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)

	queue.CancelFunc = func(context.Context, string) (bool, error) { return true, nil }
	ok, err := uc.Cancel(ctx, "j1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInspectionUseCase_Purge(t *testing.T) {
	ctx := context.Background()
	uc, repo, _ := newInspection(t)

	stale := completedJob("stale", "u1", nil)
	finished := time.Now().Add(-72 * time.Hour)
	stale.CompletedAt = &finished
	fresh := completedJob("fresh", "u1", nil)
	now := time.Now()
	fresh.CompletedAt = &now
	require.NoError(t, repo.Create(ctx, repository.NoTX, stale))
	require.NoError(t, repo.Create(ctx, repository.NoTX, fresh))

	n, err := uc.Purge(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = uc.Purge(ctx, 0)
	require.Error(t, err)

	repo.SetFailure(errors.New("down"))
	_, err = uc.Purge(ctx, time.Hour)
	require.ErrorIs(t, err, domain.ErrInfrastructure)
}
