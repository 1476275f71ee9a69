//go:build !integration

package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"defect-inspection/internal/domain"
	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/infra/api"
	"defect-inspection/internal/infra/broadcast"
	"defect-inspection/internal/infra/worker"
)

func newLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

// --- Mock InspectionUseCase

type mockInspectionUC struct {
	SubmitFunc     func(ctx context.Context, ownerID string, files []string, cfg model.DetectionConfig, priority int) (string, error)
	GetStatusFunc  func(ctx context.Context, jobID string) (*model.JobStatusView, error)
	CancelFunc     func(ctx context.Context, jobID string) (bool, error)
	GetSummaryFunc func(ctx context.Context, jobID string) (*model.BatchSummary, error)
	GetReportFunc  func(ctx context.Context, jobID string) (*model.BatchReport, error)
	CompareFunc    func(ctx context.Context, jobID string, history int) (*model.Comparison, error)

	paused bool
}

func (m *mockInspectionUC) Submit(ctx context.Context, ownerID string, files []string, cfg model.DetectionConfig, priority int) (string, error) {
	return m.SubmitFunc(ctx, ownerID, files, cfg, priority)
}

func (m *mockInspectionUC) GetStatus(ctx context.Context, jobID string) (*model.JobStatusView, error) {
	return m.GetStatusFunc(ctx, jobID)
}

func (m *mockInspectionUC) Cancel(ctx context.Context, jobID string) (bool, error) {
	return m.CancelFunc(ctx, jobID)
}

func (m *mockInspectionUC) GetSummary(ctx context.Context, jobID string) (*model.BatchSummary, error) {
	return m.GetSummaryFunc(ctx, jobID)
}

func (m *mockInspectionUC) GetReport(ctx context.Context, jobID string) (*model.BatchReport, error) {
	return m.GetReportFunc(ctx, jobID)
}

func (m *mockInspectionUC) Compare(ctx context.Context, jobID string, history int) (*model.Comparison, error) {
	return m.CompareFunc(ctx, jobID, history)
}

func (m *mockInspectionUC) QueueStats(ctx context.Context) (*worker.QueueStats, error) {
	return &worker.QueueStats{Jobs: map[model.JobStatus]int{model.JobStatusQueued: 2}, Workers: 3, Paused: m.paused}, nil
}

func (m *mockInspectionUC) Pause(ctx context.Context)  { m.paused = true }
func (m *mockInspectionUC) Resume(ctx context.Context) { m.paused = false }

func (m *mockInspectionUC) Purge(ctx context.Context, retention time.Duration) (int, error) {
	return 0, nil
}

type fixedLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *fixedLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func newTestServer(uc *mockInspectionUC, hub *broadcast.Hub, opts ...api.Option) http.Handler {
	if hub == nil {
		hub = broadcast.NewHub(8, newLogger())
	}
	return api.NewServer(uc, hub, newLogger(), opts...).Routes()
}

func do(t *testing.T, h http.Handler, method, path string, body any, owner string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if owner != "" {
		req.Header.Set(api.OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmit(t *testing.T) {
	var gotOwner string
	var gotFiles []string
	uc := &mockInspectionUC{
		SubmitFunc: func(ctx context.Context, ownerID string, files []string, cfg model.DetectionConfig, priority int) (string, error) {
			gotOwner, gotFiles = ownerID, files
			if cfg.ComponentProfile == "" {
				return "", domain.InvalidJob("component profile is required")
			}
			return "01JOB", nil
		},
	}
	h := newTestServer(uc, nil)

	t.Run("accepted", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/jobs", map[string]any{
			"files":    []string{"a.png", "b.png"},
			"config":   map[string]any{"component_profile": "weld", "sensitivity": 0.5, "confidence_threshold": 0.7},
			"priority": 2,
		}, "owner-1")
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		require.Equal(t, "/api/v1/jobs/01JOB", rec.Header().Get("Location"))
		require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		require.Equal(t, "owner-1", gotOwner)
		require.Equal(t, []string{"a.png", "b.png"}, gotFiles)
	})

	t.Run("invalid job maps to 400", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/jobs", map[string]any{"files": []string{"a.png"}}, "owner-1")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "component profile")
	})

	t.Run("missing owner", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/jobs", map[string]any{"files": []string{"a.png"}}, "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/v1/jobs", map[string]any{"filez": []string{"a.png"}}, "owner-1")
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSubmit_RateLimited(t *testing.T) {
	uc := &mockInspectionUC{
		SubmitFunc: func(ctx context.Context, ownerID string, files []string, cfg model.DetectionConfig, priority int) (string, error) {
			return "01JOB", nil
		},
	}
	body := map[string]any{"files": []string{"a.png"}, "config": map[string]any{"component_profile": "weld"}}
	keyFor := func(owner string) string { return "limit:" + owner }

	denied := &fixedLimiter{allow: false}
	rec := do(t, newTestServer(uc, nil, api.WithSubmitLimit(denied, keyFor)), http.MethodPost, "/api/v1/jobs", body, "owner-9")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, []string{"limit:owner-9"}, denied.keys)

	broken := &fixedLimiter{err: errors.New("redis down")}
	rec = do(t, newTestServer(uc, nil, api.WithSubmitLimit(broken, keyFor)), http.MethodPost, "/api/v1/jobs", body, "owner-9")
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestJobEndpoints_ErrorMapping(t *testing.T) {
	uc := &mockInspectionUC{
		GetStatusFunc: func(ctx context.Context, jobID string) (*model.JobStatusView, error) {
			if jobID == "missing" {
				return nil, domain.ErrNotFound
			}
			return &model.JobStatusView{JobID: jobID, Status: model.JobStatusProcessing, ProgressPct: 50, TotalFiles: 2}, nil
		},
		CancelFunc: func(ctx context.Context, jobID string) (bool, error) {
			return jobID == "live", nil
		},
		GetSummaryFunc: func(ctx context.Context, jobID string) (*model.BatchSummary, error) {
			return nil, domain.ErrJobNotCompleted
		},
		GetReportFunc: func(ctx context.Context, jobID string) (*model.BatchReport, error) {
			return nil, domain.Infrastructure("find job", errors.New("db down"))
		},
		CompareFunc: func(ctx context.Context, jobID string, history int) (*model.Comparison, error) {
			return &model.Comparison{Trend: model.TrendSimilar, Insights: []string{}}, nil
		},
	}
	h := newTestServer(uc, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/jobs/j1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v model.JobStatusView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	require.Equal(t, 50.0, v.ProgressPct)

	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/jobs/missing", nil, "").Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodDelete, "/api/v1/jobs/live", nil, "").Code)
	require.Equal(t, http.StatusConflict, do(t, h, http.MethodDelete, "/api/v1/jobs/done", nil, "").Code)
	require.Equal(t, http.StatusConflict, do(t, h, http.MethodGet, "/api/v1/jobs/j1/summary", nil, "").Code)

	rec = do(t, h, http.MethodGet, "/api/v1/jobs/j1/report", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotContains(t, rec.Body.String(), "db down")

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/jobs/j1/compare?history=3", nil, "").Code)
}

func TestQueueEndpoints(t *testing.T) {
	uc := &mockInspectionUC{}
	h := newTestServer(uc, nil)

	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/api/v1/queue/pause", nil, "").Code)
	rec := do(t, h, http.MethodGet, "/api/v1/queue/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st worker.QueueStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	require.True(t, st.Paused)
	require.Equal(t, 2, st.Jobs[model.JobStatusQueued])

	require.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/api/v1/queue/resume", nil, "").Code)
	require.False(t, uc.paused)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(&mockInspectionUC{}, nil)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil, "").Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/metrics", nil, "").Code)

	sick := newTestServer(&mockInspectionUC{}, nil, api.WithHealthCheck(func(ctx context.Context) error {
		return errors.New("db down")
	}))
	require.Equal(t, http.StatusServiceUnavailable, do(t, sick, http.MethodGet, "/health", nil, "").Code)
}

// readEvent returns the next SSE event name and data payload, skipping comments.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "" && name != "":
			return name, data
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestJobEvents_StreamsUntilTerminal(t *testing.T) {
	hub := broadcast.NewHub(8, newLogger())
	defer hub.Stop()
	uc := &mockInspectionUC{
		GetStatusFunc: func(ctx context.Context, jobID string) (*model.JobStatusView, error) {
			return &model.JobStatusView{JobID: jobID, Status: model.JobStatusProcessing, TotalFiles: 2}, nil
		},
	}
	srv := httptest.NewServer(newTestServer(uc, hub, api.WithHeartbeat(20*time.Millisecond)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/jobs/j1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	name, data := readEvent(t, rd)
	require.Equal(t, "status", name)
	require.Contains(t, data, `"status":"processing"`)

	ctx := context.Background()
	hub.Publish(ctx, model.Event{Kind: model.EventProgress, JobID: "j1", ProgressPct: 50})
	hub.Publish(ctx, model.Event{Kind: model.EventProgress, JobID: "other", ProgressPct: 10})
	hub.Publish(ctx, model.Event{Kind: model.EventCompleted, JobID: "j1", ProgressPct: 100})

	name, data = readEvent(t, rd)
	require.Equal(t, "progress", name)
	var e model.Event
	require.NoError(t, json.Unmarshal([]byte(data), &e))
	require.Equal(t, 50.0, e.ProgressPct)

	name, _ = readEvent(t, rd)
	require.Equal(t, "completed", name)

	// The server closes the stream after the terminal event.
	rest, err := io.ReadAll(rd)
	require.NoError(t, err)
	require.NotContains(t, string(rest), "event:")
}

func TestJobEvents_TerminalSnapshotClosesImmediately(t *testing.T) {
	uc := &mockInspectionUC{
		GetStatusFunc: func(ctx context.Context, jobID string) (*model.JobStatusView, error) {
			return &model.JobStatusView{JobID: jobID, Status: model.JobStatusCancelled}, nil
		},
	}
	srv := httptest.NewServer(newTestServer(uc, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/jobs/j1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(body), "event: "))
	require.Contains(t, string(body), "event: status")

	uc.GetStatusFunc = func(ctx context.Context, jobID string) (*model.JobStatusView, error) {
		return nil, domain.ErrNotFound
	}
	resp2, err := http.Get(srv.URL + "/api/v1/jobs/missing/events")
	require.NoError(t, err)
	resp2.Body.Close()
	require.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestUserEvents_EndsWhenHubStops(t *testing.T) {
	hub := broadcast.NewHub(8, newLogger())
	srv := httptest.NewServer(newTestServer(&mockInspectionUC{}, hub, api.WithHeartbeat(20*time.Millisecond)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/users/owner-1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	rd := bufio.NewReader(resp.Body)

	// A heartbeat proves the subscription is live before publishing.
	line, err := rd.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": ping\n", line)

	hub.Publish(context.Background(), model.Event{Kind: model.EventFailed, JobID: "j9", OwnerID: "owner-1", Error: "db down"})
	name, data := readEvent(t, rd)
	require.Equal(t, "failed", name)
	require.Contains(t, data, "db down")

	hub.Stop()
	_, err = io.ReadAll(rd)
	require.NoError(t, err)
}
