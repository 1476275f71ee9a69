package worker

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"defect-inspection/internal/domain"
	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/domain/ports/repository"
	"defect-inspection/internal/infra/logging"
	"defect-inspection/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// EventPublisher receives job lifecycle events. Publish must not block.
type EventPublisher interface {
	Publish(ctx context.Context, e model.Event)
}

// Summarizer builds the batch summary attached to completion events.
type Summarizer interface {
	Summarize(job *model.Job) *model.BatchSummary
}

type QueueConfig struct {
	Workers        int
	AttemptTimeout time.Duration
	Retry          RetryPolicy
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{Workers: 3, AttemptTimeout: 60 * time.Second, Retry: DefaultRetryPolicy()}
}

type QueueStats struct {
	Jobs          map[model.JobStatus]int `json:"jobs"`
	PendingFiles  int                     `json:"pending_files"`
	InFlightFiles int                     `json:"in_flight_files"`
	Workers       int                     `json:"workers"`
	Paused        bool                    `json:"paused"`
}

// jobState is the queue's live view of a non-terminal job. All writes to a job,
// in memory and in the store, happen while holding writeMu, so each job has a
// single writer and its persisted progress never goes backwards.
type jobState struct {
	job      *model.Job
	seq      uint64
	pending  int
	inflight int
	writeMu  sync.Mutex
}

// Queue schedules the files of submitted jobs onto a bounded worker pool.
type Queue struct {
	repo       repository.JobRepository
	proc       FileProcessor
	events     EventPublisher
	summarizer Summarizer
	cfg        QueueConfig
	log        *zerolog.Logger
	now        func() time.Time

	mu       sync.Mutex
	jobs     map[string]*jobState
	pending  fileHeap
	seq      uint64
	inflight int
	paused   bool
	started  bool
	stopped  bool

	pool   *Pool
	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func NewQueue(
	repo repository.JobRepository,
	proc FileProcessor,
	events EventPublisher,
	summarizer Summarizer,
	cfg QueueConfig,
	logger *zerolog.Logger,
) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 60 * time.Second
	}
	l := logger.With().Str("component", "job_queue").Logger()
	return &Queue{
		repo:       repo,
		proc:       proc,
		events:     events,
		summarizer: summarizer,
		cfg:        cfg,
		log:        &l,
		now:        time.Now,
		jobs:       make(map[string]*jobState),
		wake:       make(chan struct{}, 1),
	}
}

// Start recovers unfinished jobs from the store and begins dispatching.
// Calling Start on a running queue has no effect.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}
	if q.stopped {
		q.mu.Unlock()
		return domain.ErrQueueStopped
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.started = true
	q.cancel = cancel
	q.done = make(chan struct{})
	q.pool = NewPool(q.cfg.Workers, q.log)
	q.mu.Unlock()

	q.pool.Start(runCtx)
	if err := q.Recover(runCtx); err != nil {
		q.log.Error().Err(err).Msg("recovering unfinished jobs failed")
	}
	go q.loop(runCtx)
	q.signal()
	q.log.Info().Int("workers", q.cfg.Workers).Msg("job queue started")
	return nil
}

// Stop halts dispatching and waits for running attempts to return. Files whose
// attempt was interrupted stay in processing and are picked up by Recover.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.stopped = true
		q.mu.Unlock()
		return
	}
	q.stopped = true
	cancel, done, pool := q.cancel, q.done, q.pool
	q.mu.Unlock()

	cancel()
	<-done
	pool.Stop()
	q.log.Info().Msg("job queue stopped")
}

// Enqueue validates and persists job, then schedules its files. It returns as
// soon as the job is stored; processing happens asynchronously.
func (q *Queue) Enqueue(ctx context.Context, job *model.Job) (string, error) {
	if job == nil || len(job.Files) == 0 {
		return "", domain.InvalidJob("job must contain at least one file")
	}
	if err := job.Config.Validate(); err != nil {
		return "", err
	}
	if job.Status != model.JobStatusQueued {
		return "", domain.InvalidJob("job must be queued")
	}
	q.mu.Lock()
	stopped := q.stopped
	q.mu.Unlock()
	if stopped {
		return "", domain.ErrQueueStopped
	}

	if err := q.repo.Create(ctx, repository.NoTX, job); err != nil {
		return "", err
	}
	q.track(job.Clone())
	metrics.IncJobEnqueued()
	q.log.Info().Str("job_id", job.ID).Str("owner_id", job.OwnerID).
		Int("files", len(job.Files)).Int("priority", job.Priority).Msg("job enqueued")
	q.signal()
	return job.ID, nil
}

// Cancel stops a queued or processing job. Unstarted files are never scheduled
// and results of in-flight attempts are discarded. It reports false when the
// job had already reached a terminal state.
func (q *Queue) Cancel(ctx context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	st := q.jobs[jobID]
	q.mu.Unlock()

	if st == nil {
		return q.cancelUntracked(ctx, jobID)
	}

	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	q.mu.Lock()
	job := st.job
	prev, prevCompleted := job.Status, job.CompletedAt
	if err := job.Transition(model.JobStatusCancelled, q.now()); err != nil {
		q.mu.Unlock()
		return false, nil
	}
	row := jobRow(job)
	q.mu.Unlock()

	if err := q.repo.SaveJob(ctx, repository.NoTX, row); err != nil {
		q.mu.Lock()
		job.Status, job.CompletedAt = prev, prevCompleted
		q.mu.Unlock()
		return false, err
	}

	q.untrack(jobID)
	metrics.IncJobFinished(string(model.JobStatusCancelled))
	q.log.Info().Str("job_id", jobID).Msg("job cancelled")
	q.publish(ctx, model.Event{Kind: model.EventCancelled, JobID: jobID, OwnerID: row.OwnerID, ProgressPct: row.ProgressPct})
	return true, nil
}

func (q *Queue) cancelUntracked(ctx context.Context, jobID string) (bool, error) {
	job, err := q.repo.FindByID(ctx, repository.NoTX, jobID)
	if err != nil {
		return false, err
	}
	if err := job.Transition(model.JobStatusCancelled, q.now()); err != nil {
		return false, nil
	}
	if err := q.repo.SaveJob(ctx, repository.NoTX, jobRow(job)); err != nil {
		return false, err
	}
	metrics.IncJobFinished(string(model.JobStatusCancelled))
	q.publish(ctx, model.Event{Kind: model.EventCancelled, JobID: jobID, OwnerID: job.OwnerID, ProgressPct: job.ProgressPct})
	return true, nil
}

// Pause stops claiming new files; running attempts continue.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	q.log.Info().Msg("job queue paused")
}

func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.signal()
	q.log.Info().Msg("job queue resumed")
}

func (q *Queue) Stats(ctx context.Context) (*QueueStats, error) {
	counts, err := q.repo.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := 0
	for _, st := range q.jobs {
		pending += st.pending
	}
	return &QueueStats{
		Jobs:          counts,
		PendingFiles:  pending,
		InFlightFiles: q.inflight,
		Workers:       q.cfg.Workers,
		Paused:        q.paused,
	}, nil
}

// Recover schedules every non-terminal job found in the store. Files left in
// processing by an interrupted run go back to pending.
func (q *Queue) Recover(ctx context.Context) error {
	jobs, err := q.repo.ListByStatus(ctx, repository.NoTX, model.JobStatusQueued, model.JobStatusProcessing)
	if err != nil {
		return err
	}
	recovered := 0
	for _, job := range jobs {
		q.mu.Lock()
		_, tracked := q.jobs[job.ID]
		q.mu.Unlock()
		if tracked {
			continue
		}
		for _, f := range job.Files {
			if f.Status != model.FileStatusProcessing {
				continue
			}
			f.Status = model.FileStatusPending
			if err := q.repo.SaveFile(ctx, repository.NoTX, f); err != nil {
				return err
			}
		}
		st := q.track(job)
		recovered++
		if _, _, remaining := job.FileCounts(); remaining == 0 {
			st.writeMu.Lock()
			q.completeLocked(ctx, st)
			st.writeMu.Unlock()
		}
	}
	if recovered > 0 {
		q.log.Info().Int("jobs", recovered).Msg("recovered unfinished jobs")
	}
	return nil
}

func (q *Queue) track(job *model.Job) *jobState {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	st := &jobState{job: job, seq: q.seq}
	for i, f := range job.Files {
		if f.Status != model.FileStatusPending {
			continue
		}
		heap.Push(&q.pending, &fileItem{jobID: job.ID, fileIdx: i, priority: job.Priority, jobSeq: st.seq})
		st.pending++
	}
	q.jobs[job.ID] = st
	metrics.SetQueueDepth(q.pending.Len())
	return st
}

func (q *Queue) untrack(jobID string) {
	q.mu.Lock()
	delete(q.jobs, jobID)
	q.mu.Unlock()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
			q.dispatch(ctx)
		}
	}
}

// dispatch hands files to idle workers in priority order. Files are popped only
// when a worker is free, so a later high-priority job overtakes waiting files.
func (q *Queue) dispatch(ctx context.Context) {
	for ctx.Err() == nil {
		q.mu.Lock()
		if q.paused || q.inflight >= q.cfg.Workers || q.pending.Len() == 0 {
			metrics.SetQueueDepth(q.pending.Len())
			q.mu.Unlock()
			return
		}
		item := heap.Pop(&q.pending).(*fileItem)
		st := q.jobs[item.jobID]
		if st == nil || st.job.Status.IsTerminal() {
			q.mu.Unlock()
			continue
		}
		st.pending--
		st.inflight++
		q.inflight++
		q.mu.Unlock()

		idx := item.fileIdx
		if err := q.pool.Submit(func(ctx context.Context) error { return q.runFile(ctx, st, idx) }); err != nil {
			q.mu.Lock()
			st.pending++
			st.inflight--
			q.inflight--
			heap.Push(&q.pending, item)
			q.mu.Unlock()
			q.log.Warn().Err(err).Str("job_id", item.jobID).Msg("could not hand file to worker")
			return
		}
	}
}

func (q *Queue) release(st *jobState) {
	q.mu.Lock()
	st.inflight--
	q.inflight--
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) runFile(ctx context.Context, st *jobState, idx int) error {
	defer q.release(st)

	file, cfg, ok := q.claim(ctx, st, idx)
	if !ok {
		return nil
	}
	ctx = logging.WithFileID(logging.WithJobID(ctx, file.JobID), file.ID)
	log := logging.With(ctx, q.log)

	policy := q.cfg.Retry
	hook := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.IncFileRetry(domain.ErrorClass(err))
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying file")
		if hook != nil {
			hook(attempt, err, delay)
		}
	}

	start := time.Now()
	var result *FileResult
	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, q.cfg.AttemptTimeout)
		defer cancel()
		res, err := q.proc.Process(attemptCtx, cfg, file)
		if err != nil {
			log.Error().Err(err).Int("attempt", attempt).Str("class", domain.ErrorClass(err)).Msg("file attempt failed")
			return err
		}
		result = res
		return nil
	})
	if ctx.Err() != nil {
		// Shutting down; leave the file for the next Recover.
		return ctx.Err()
	}
	q.finish(ctx, st, idx, attempts, time.Since(start), result, err)
	return nil
}

// claim marks the file processing and, on first claim, the job too.
func (q *Queue) claim(ctx context.Context, st *jobState, idx int) (*model.FileJob, model.DetectionConfig, bool) {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	q.mu.Lock()
	job := st.job
	if job.Status.IsTerminal() {
		q.mu.Unlock()
		return nil, model.DetectionConfig{}, false
	}
	f := job.Files[idx]
	f.Status = model.FileStatusProcessing
	var row *model.Job
	if job.Status == model.JobStatusQueued {
		_ = job.Transition(model.JobStatusProcessing, q.now())
		row = jobRow(job)
	}
	file := f.Clone()
	cfg := job.Config
	q.mu.Unlock()

	if row != nil {
		if err := q.repo.SaveJob(ctx, repository.NoTX, row); err != nil {
			q.failLocked(ctx, st, err)
			return nil, cfg, false
		}
		q.log.Info().Str("job_id", job.ID).Msg("job processing started")
	}
	if err := q.repo.SaveFile(ctx, repository.NoTX, file); err != nil {
		q.failLocked(ctx, st, err)
		return nil, cfg, false
	}
	return file, cfg, true
}

func (q *Queue) finish(ctx context.Context, st *jobState, idx int, attempts int, elapsed time.Duration, res *FileResult, procErr error) {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	if procErr != nil && errors.Is(procErr, domain.ErrInfrastructure) {
		q.failLocked(ctx, st, procErr)
		return
	}

	q.mu.Lock()
	job := st.job
	if job.Status.IsTerminal() {
		f := job.Files[idx]
		if f.Status != model.FileStatusProcessing {
			q.mu.Unlock()
			return
		}
		now := q.now()
		f.Status = model.FileStatusFailed
		f.Error = string(job.Status)
		f.Attempts = attempts
		f.ProcessingMs = elapsed.Milliseconds()
		f.ProcessedAt = &now
		f.Result = nil
		file := f.Clone()
		q.mu.Unlock()
		q.log.Debug().Str("job_id", job.ID).Int("file_index", idx).Msg("discarding result of finished job")
		if err := q.repo.SaveFile(ctx, repository.NoTX, file); err != nil {
			q.log.Warn().Err(err).Str("job_id", job.ID).Str("file_id", file.ID).Msg("could not close in-flight file")
		}
		return
	}
	now := q.now()
	f := job.Files[idx]
	f.Attempts = attempts
	f.ProcessingMs = elapsed.Milliseconds()
	f.ProcessedAt = &now
	if procErr == nil {
		f.Status = model.FileStatusCompleted
		f.Result = res.Detections
		f.ImageWidth, f.ImageHeight = res.ImageWidth, res.ImageHeight
		f.Error = ""
	} else {
		f.Status = model.FileStatusFailed
		f.Result = nil
		f.Error = procErr.Error()
	}
	job.ProgressPct = job.Progress()
	completed, failed, remaining := job.FileCounts()
	file := f.Clone()
	row := jobRow(job)
	q.mu.Unlock()

	if err := q.repo.SaveFile(ctx, repository.NoTX, file); err != nil {
		q.failLocked(ctx, st, err)
		return
	}
	if err := q.repo.SaveJob(ctx, repository.NoTX, row); err != nil {
		q.failLocked(ctx, st, err)
		return
	}

	metrics.IncFileProcessed(string(file.Status), domain.ErrorClass(procErr))
	q.publish(ctx, model.Event{
		Kind:        model.EventProgress,
		JobID:       row.ID,
		OwnerID:     row.OwnerID,
		ProgressPct: row.ProgressPct,
		File: &model.FileProgress{
			FileID:     file.ID,
			Status:     file.Status,
			Detections: len(file.Result),
			Processed:  completed + failed,
			Total:      len(job.Files),
			Error:      file.Error,
		},
	})

	if remaining == 0 {
		q.completeLocked(ctx, st)
	}
}

// completeLocked finalizes a job whose files are all terminal. Caller holds writeMu.
func (q *Queue) completeLocked(ctx context.Context, st *jobState) {
	q.mu.Lock()
	job := st.job
	if err := job.Transition(model.JobStatusCompleted, q.now()); err != nil {
		q.mu.Unlock()
		return
	}
	job.ProgressPct = 100
	snapshot := job.Clone()
	q.mu.Unlock()

	if err := q.repo.SaveJob(ctx, repository.NoTX, jobRow(snapshot)); err != nil {
		q.failLocked(ctx, st, err)
		return
	}
	q.untrack(snapshot.ID)

	metrics.IncJobFinished(string(model.JobStatusCompleted))
	if snapshot.StartedAt != nil {
		metrics.ObserveJobDuration(snapshot.CompletedAt.Sub(*snapshot.StartedAt).Seconds())
	}
	var summary *model.BatchSummary
	if q.summarizer != nil {
		summary = q.summarizer.Summarize(snapshot)
	}
	q.log.Info().Str("job_id", snapshot.ID).Int("files", len(snapshot.Files)).Msg("job completed")
	q.publish(ctx, model.Event{
		Kind:        model.EventCompleted,
		JobID:       snapshot.ID,
		OwnerID:     snapshot.OwnerID,
		ProgressPct: 100,
		Summary:     summary,
	})
}

// failLocked aborts the whole job after an infrastructure fault. The in-memory
// status may be ahead of the store here, so the failed status is forced.
// A write cut short by Stop is not a fault: the job stays as stored and the
// next Recover resumes it. Caller holds writeMu.
func (q *Queue) failLocked(ctx context.Context, st *jobState, cause error) {
	if ctx.Err() != nil {
		q.log.Warn().Err(cause).Str("job_id", st.job.ID).Msg("store write interrupted by shutdown")
		return
	}
	if !errors.Is(cause, domain.ErrInfrastructure) {
		cause = domain.Infrastructure("persist", cause)
	}
	q.mu.Lock()
	job := st.job
	if job.Status == model.JobStatusFailed || job.Status == model.JobStatusCancelled {
		q.mu.Unlock()
		return
	}
	now := q.now()
	job.Status = model.JobStatusFailed
	job.Error = cause.Error()
	job.CompletedAt = &now
	row := jobRow(job)
	q.mu.Unlock()
	q.untrack(row.ID)

	q.log.Error().Err(cause).Str("job_id", row.ID).Msg("job failed")
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := q.repo.SaveJob(saveCtx, repository.NoTX, row); err != nil {
		q.log.Error().Err(err).Str("job_id", row.ID).Msg("could not persist failed status")
	}
	metrics.IncJobFinished(string(model.JobStatusFailed))
	q.publish(ctx, model.Event{
		Kind:        model.EventFailed,
		JobID:       row.ID,
		OwnerID:     row.OwnerID,
		ProgressPct: row.ProgressPct,
		Error:       row.Error,
	})
}

func (q *Queue) publish(ctx context.Context, e model.Event) {
	if q.events == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = q.now()
	}
	q.events.Publish(ctx, e)
}

// jobRow copies the job's own columns without its files.
func jobRow(job *model.Job) *model.Job {
	row := *job
	row.Files = nil
	return &row
}
