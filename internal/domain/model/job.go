package model

import (
	"fmt"
	"strings"
	"time"

	"defect-inspection/internal/domain"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransitionTo enforces queued -> processing -> {completed|failed} and
// cancellation from either non-terminal state. Failing a queued job is allowed
// for infrastructure aborts that happen before the first claim.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusProcessing || next == JobStatusCancelled || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusCancelled
	}
	return false
}

type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusFailed     FileStatus = "failed"
)

func (s FileStatus) IsTerminal() bool {
	return s == FileStatusCompleted || s == FileStatusFailed
}

// DetectionConfig is the per-job detector configuration.
type DetectionConfig struct {
	ComponentProfile    string       `json:"component_profile" yaml:"component_profile"`
	Sensitivity         float64      `json:"sensitivity" yaml:"sensitivity"`
	ConfidenceThreshold float64      `json:"confidence_threshold" yaml:"confidence_threshold"`
	DefectTypes         []DefectType `json:"defect_types" yaml:"defect_types"`
}

func (c DetectionConfig) Validate() error {
	if strings.TrimSpace(c.ComponentProfile) == "" {
		return domain.InvalidJob("component profile is required")
	}
	if c.Sensitivity < 0 || c.Sensitivity > 1 {
		return domain.InvalidJob("sensitivity must be between 0 and 1")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return domain.InvalidJob("confidence threshold must be between 0 and 1")
	}
	if len(c.DefectTypes) == 0 {
		return domain.InvalidJob("at least one defect type must be selected")
	}
	for _, t := range c.DefectTypes {
		if !t.Valid() {
			return domain.InvalidJob(fmt.Sprintf("unknown defect type %q", t))
		}
	}
	return nil
}

// FileJob is one image inside a Job. It is mutated only by the worker that claimed it.
type FileJob struct {
	ID           string      `json:"id"`
	JobID        string      `json:"job_id"`
	Position     int         `json:"position"`
	SourcePath   string      `json:"source_path"`
	Status       FileStatus  `json:"status"`
	Result       []Detection `json:"result,omitempty"`
	Attempts     int         `json:"attempts"`
	ProcessingMs int64       `json:"processing_ms"`
	ImageWidth   int         `json:"image_width,omitempty"`
	ImageHeight  int         `json:"image_height,omitempty"`
	Error        string      `json:"error,omitempty"`
	ProcessedAt  *time.Time  `json:"processed_at,omitempty"`
}

type Job struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Config      DetectionConfig `json:"config"`
	Files       []*FileJob      `json:"files"`
	Status      JobStatus       `json:"status"`
	Priority    int             `json:"priority"`
	ProgressPct float64         `json:"progress_pct"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NewJob builds a queued job with one pending FileJob per source path, in order.
func NewJob(id, ownerID string, cfg DetectionConfig, sourcePaths []string, priority int) (*Job, error) {
	if id == "" {
		return nil, domain.ErrInvalidArgument
	}
	if len(sourcePaths) == 0 {
		return nil, domain.InvalidJob("job must contain at least one file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	j := &Job{
		ID:        id,
		OwnerID:   ownerID,
		Config:    cfg,
		Status:    JobStatusQueued,
		Priority:  priority,
		CreatedAt: time.Now(),
		Files:     make([]*FileJob, 0, len(sourcePaths)),
	}
	for i, p := range sourcePaths {
		if strings.TrimSpace(p) == "" {
			return nil, domain.InvalidJob(fmt.Sprintf("file %d has an empty source path", i))
		}
		j.Files = append(j.Files, &FileJob{
			ID:         uuid.NewString(),
			JobID:      id,
			Position:   i,
			SourcePath: p,
			Status:     FileStatusPending,
		})
	}
	return j, nil
}

// Transition moves the job to next and stamps lifecycle timestamps.
func (j *Job) Transition(next JobStatus, now time.Time) error {
	if !j.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, j.Status, next)
	}
	j.Status = next
	switch next {
	case JobStatusProcessing:
		if j.StartedAt == nil {
			t := now
			j.StartedAt = &t
		}
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		t := now
		j.CompletedAt = &t
	}
	return nil
}

func (j *Job) File(id string) *FileJob {
	for _, f := range j.Files {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// FileCounts returns completed, failed and non-terminal file counts.
func (j *Job) FileCounts() (completed, failed, remaining int) {
	for _, f := range j.Files {
		switch f.Status {
		case FileStatusCompleted:
			completed++
		case FileStatusFailed:
			failed++
		default:
			remaining++
		}
	}
	return completed, failed, remaining
}

// Progress is the share of files that reached a terminal state, in percent.
func (j *Job) Progress() float64 {
	if len(j.Files) == 0 {
		return 0
	}
	completed, failed, _ := j.FileCounts()
	return float64(completed+failed) / float64(len(j.Files)) * 100
}

// Clone returns a deep copy safe to hand across goroutines.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Config.DefectTypes = append([]DefectType(nil), j.Config.DefectTypes...)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.Files = make([]*FileJob, len(j.Files))
	for i, f := range j.Files {
		c.Files[i] = f.Clone()
	}
	return &c
}

func (f *FileJob) Clone() *FileJob {
	if f == nil {
		return nil
	}
	c := *f
	c.Result = append([]Detection(nil), f.Result...)
	c.ProcessedAt = cloneTime(f.ProcessedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// JobStatusView is the lightweight status answer for pollers.
type JobStatusView struct {
	JobID          string    `json:"job_id"`
	OwnerID        string    `json:"owner_id"`
	Status         JobStatus `json:"status"`
	ProgressPct    float64   `json:"progress_pct"`
	TotalFiles     int       `json:"total_files"`
	CompletedFiles int       `json:"completed_files"`
	FailedFiles    int       `json:"failed_files"`
	Error          string    `json:"error,omitempty"`
}

func (j *Job) StatusView() *JobStatusView {
	completed, failed, _ := j.FileCounts()
	return &JobStatusView{
		JobID:          j.ID,
		OwnerID:        j.OwnerID,
		Status:         j.Status,
		ProgressPct:    j.ProgressPct,
		TotalFiles:     len(j.Files),
		CompletedFiles: completed,
		FailedFiles:    failed,
		Error:          j.Error,
	}
}
