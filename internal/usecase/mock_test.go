//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/infra/worker"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// --- Mock JobQueue

type MockQueue struct {
	EnqueueFunc func(ctx context.Context, job *model.Job) (string, error)
	CancelFunc  func(ctx context.Context, jobID string) (bool, error)
	StatsFunc   func(ctx context.Context) (*worker.QueueStats, error)

	mu       sync.Mutex
	paused   bool
	Enqueued []*model.Job
}

func (m *MockQueue) Enqueue(ctx context.Context, job *model.Job) (string, error) {
	m.mu.Lock()
	m.Enqueued = append(m.Enqueued, job)
	m.mu.Unlock()
	if m.EnqueueFunc != nil {
		return m.EnqueueFunc(ctx, job)
	}
	return job.ID, nil
}

func (m *MockQueue) Cancel(ctx context.Context, jobID string) (bool, error) {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, jobID)
	}
	return true, nil
}

func (m *MockQueue) Stats(ctx context.Context) (*worker.QueueStats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return &worker.QueueStats{Jobs: map[model.JobStatus]int{}, Paused: m.paused}, nil
}

func (m *MockQueue) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

func (m *MockQueue) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
}

// --- Mock Notifier

type sentMessage struct {
	OwnerID string
	Text    string
}

type MockNotifier struct {
	NotifyFunc func(ctx context.Context, ownerID, text string) error
	Sent       []sentMessage
}

func (m *MockNotifier) Notify(ctx context.Context, ownerID, text string) error {
	if m.NotifyFunc != nil {
		if err := m.NotifyFunc(ctx, ownerID, text); err != nil {
			return err
		}
	}
	m.Sent = append(m.Sent, sentMessage{OwnerID: ownerID, Text: text})
	return nil
}

// --- Fixtures

func testConfig() model.DetectionConfig {
	return model.DetectionConfig{
		ComponentProfile:    "bracket",
		Sensitivity:         0.5,
		ConfidenceThreshold: 0.7,
		DefectTypes:         model.AllDefectTypes(),
	}
}

func det(t model.DefectType, conf float64, sev model.Severity) model.Detection {
	return model.Detection{ID: string(t), Type: t, Confidence: conf, Severity: sev}
}

// completedJob builds a completed job whose files finished with the given results.
func completedJob(id, owner string, results ...[]model.Detection) *model.Job {
	job := &model.Job{
		ID:      id,
		OwnerID: owner,
		Config:  testConfig(),
		Status:  model.JobStatusCompleted,
	}
	for i, r := range results {
		job.Files = append(job.Files, &model.FileJob{
			ID:           id + "-f" + string(rune('a'+i)),
			JobID:        id,
			Position:     i,
			SourcePath:   "img/" + string(rune('a'+i)) + ".png",
			Status:       model.FileStatusCompleted,
			Result:       r,
			Attempts:     1,
			ProcessingMs: 100,
		})
	}
	return job
}
