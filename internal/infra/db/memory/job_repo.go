// Package memory holds process-local repository implementations used by the
// demo binary and by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"defect-inspection/internal/domain"
	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*JobRepo)(nil)

// JobRepo keeps deep copies so callers never share state with the store.
type JobRepo struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
	// Fail, when set, is returned by every call; used to simulate outages.
	Fail error
}

func NewJobRepo() *JobRepo {
	return &JobRepo{jobs: make(map[string]*model.Job)}
}

// SetFailure makes subsequent calls return err; nil restores normal operation.
func (r *JobRepo) SetFailure(err error) {
	r.mu.Lock()
	r.Fail = err
	r.mu.Unlock()
}

func (r *JobRepo) failure() error {
	if r.Fail != nil {
		return domain.Infrastructure("memory store", r.Fail)
	}
	return nil
}

func (r *JobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return err
	}
	if _, ok := r.jobs[job.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *JobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.failure(); err != nil {
		return nil, err
	}
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}

func (r *JobRepo) GetStatus(ctx context.Context, tx repository.Tx, id string) (*model.JobStatusView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.failure(); err != nil {
		return nil, err
	}
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.StatusView(), nil
}

func (r *JobRepo) SaveJob(ctx context.Context, tx repository.Tx, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return err
	}
	cur, ok := r.jobs[job.ID]
	if !ok {
		return domain.ErrNotFound
	}
	files := cur.Files
	next := job.Clone()
	next.Files = files
	r.jobs[job.ID] = next
	return nil
}

func (r *JobRepo) SaveFile(ctx context.Context, tx repository.Tx, file *model.FileJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return err
	}
	j, ok := r.jobs[file.JobID]
	if !ok {
		return domain.ErrNotFound
	}
	for i, f := range j.Files {
		if f.ID == file.ID {
			j.Files[i] = file.Clone()
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *JobRepo) ListByStatus(ctx context.Context, tx repository.Tx, statuses ...model.JobStatus) ([]*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.failure(); err != nil {
		return nil, err
	}
	want := make(map[model.JobStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	out := make([]*model.Job, 0)
	for _, j := range r.jobs {
		if want[j.Status] {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (r *JobRepo) ListByOwner(ctx context.Context, tx repository.Tx, ownerID string, limit int) ([]*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.failure(); err != nil {
		return nil, err
	}
	out := make([]*model.Job, 0)
	for _, j := range r.jobs {
		if j.OwnerID == ownerID {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobRepo) ListCompletedBefore(ctx context.Context, tx repository.Tx, ownerID string, before time.Time, limit int) ([]*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.failure(); err != nil {
		return nil, err
	}
	out := make([]*model.Job, 0)
	for _, j := range r.jobs {
		if j.OwnerID == ownerID && j.Status == model.JobStatusCompleted && j.CreatedAt.Before(before) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.JobStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.failure(); err != nil {
		return nil, err
	}
	counts := make(map[model.JobStatus]int)
	for _, j := range r.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (r *JobRepo) DeleteTerminalBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return 0, err
	}
	n := 0
	for id, j := range r.jobs {
		if j.Status.IsTerminal() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}
