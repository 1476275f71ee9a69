package model

import "time"

type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
)

// IsTerminal reports whether the event closes the job's stream.
func (k EventKind) IsTerminal() bool { return k != EventProgress }

// FileProgress describes the file whose terminal transition produced a progress event.
type FileProgress struct {
	FileID     string     `json:"file_id"`
	Status     FileStatus `json:"status"`
	Detections int        `json:"detections"`
	Processed  int        `json:"processed"`
	Total      int        `json:"total"`
	Error      string     `json:"error,omitempty"`
}

// Event is a job lifecycle notification fanned out to subscribers.
type Event struct {
	Kind        EventKind     `json:"kind"`
	JobID       string        `json:"job_id"`
	OwnerID     string        `json:"owner_id"`
	ProgressPct float64       `json:"progress_pct"`
	File        *FileProgress `json:"file,omitempty"`
	Summary     *BatchSummary `json:"summary,omitempty"`
	Error       string        `json:"error,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

func JobChannel(jobID string) string    { return "job:" + jobID }
func UserChannel(ownerID string) string { return "user:" + ownerID }

// Channels lists the subscription keys this event is delivered on.
func (e Event) Channels() []string {
	keys := make([]string, 0, 2)
	if e.JobID != "" {
		keys = append(keys, JobChannel(e.JobID))
	}
	if e.OwnerID != "" {
		keys = append(keys, UserChannel(e.OwnerID))
	}
	return keys
}
