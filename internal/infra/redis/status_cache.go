package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/domain/ports/repository"
	"defect-inspection/internal/infra/metrics"

	"github.com/rs/zerolog"
)

var _ repository.JobRepository = (*CachedJobRepo)(nil)

// CachedJobRepo serves GetStatus from redis once a job's status view is
// settled. Views that can still change are always read from the store, so a
// read racing a write can never leave a stale entry behind. Writes still
// invalidate, and cache failures fall through to the store.
type CachedJobRepo struct {
	repository.JobRepository
	client RedisClient
	ttl    time.Duration
	log    *zerolog.Logger
}

func NewCachedJobRepo(inner repository.JobRepository, client RedisClient, ttl time.Duration, logger *zerolog.Logger) *CachedJobRepo {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	l := logger.With().Str("component", "job_status_cache").Logger()
	return &CachedJobRepo{JobRepository: inner, client: client, ttl: ttl, log: &l}
}

func statusKey(jobID string) string { return "job_status:" + jobID }

func (r *CachedJobRepo) GetStatus(ctx context.Context, tx repository.Tx, id string) (*model.JobStatusView, error) {
	raw, err := r.client.Get(ctx, statusKey(id))
	switch {
	case err == nil:
		var v model.JobStatusView
		if jerr := json.Unmarshal([]byte(raw), &v); jerr == nil {
			metrics.IncCacheRequest("job_status", "hit")
			return &v, nil
		}
		metrics.IncCacheRequest("job_status", "corrupt")
	case errors.Is(err, Nil):
		metrics.IncCacheRequest("job_status", "miss")
	default:
		metrics.IncCacheRequest("job_status", "error")
		r.log.Warn().Err(err).Str("job_id", id).Msg("status cache read failed")
	}

	v, err := r.JobRepository.GetStatus(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !settled(v) {
		return v, nil
	}
	if b, jerr := json.Marshal(v); jerr == nil {
		if serr := r.client.Set(ctx, statusKey(id), b, r.ttl); serr != nil {
			r.log.Warn().Err(serr).Str("job_id", id).Msg("status cache write failed")
		}
	}
	return v, nil
}

// settled reports whether v is final: the job is terminal and no file is left
// that an in-flight attempt could still close.
func settled(v *model.JobStatusView) bool {
	return v.Status.IsTerminal() && v.CompletedFiles+v.FailedFiles >= v.TotalFiles
}

func (r *CachedJobRepo) invalidate(ctx context.Context, jobID string) {
	if err := r.client.Del(ctx, statusKey(jobID)); err != nil {
		r.log.Warn().Err(err).Str("job_id", jobID).Msg("status cache invalidation failed")
	}
}

func (r *CachedJobRepo) SaveJob(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if err := r.JobRepository.SaveJob(ctx, tx, job); err != nil {
		return err
	}
	r.invalidate(ctx, job.ID)
	return nil
}

func (r *CachedJobRepo) SaveFile(ctx context.Context, tx repository.Tx, file *model.FileJob) error {
	if err := r.JobRepository.SaveFile(ctx, tx, file); err != nil {
		return err
	}
	r.invalidate(ctx, file.JobID)
	return nil
}

// DeleteTerminalBefore cannot name the purged jobs; their entries expire with the TTL.
func (r *CachedJobRepo) DeleteTerminalBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) (int, error) {
	return r.JobRepository.DeleteTerminalBefore(ctx, tx, cutoff)
}
