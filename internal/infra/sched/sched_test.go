//go:build !integration

package sched

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/infra/broadcast"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

type purgerFunc func(ctx context.Context, retention time.Duration) (int, error)

func (f purgerFunc) Purge(ctx context.Context, retention time.Duration) (int, error) {
	return f(ctx, retention)
}

func TestRetentionWorker_RunOnce(t *testing.T) {
	var got time.Duration
	w := NewRetentionWorker(time.Minute, 48*time.Hour, purgerFunc(func(ctx context.Context, r time.Duration) (int, error) {
		got = r
		_, ok := ctx.Deadline()
		require.True(t, ok, "purge must run with a deadline")
		return 3, nil
	}), testLogger())

	require.Equal(t, 3, w.RunOnce(context.Background()))
	require.Equal(t, 48*time.Hour, got)

	failing := NewRetentionWorker(0, time.Hour, purgerFunc(func(context.Context, time.Duration) (int, error) {
		return 0, errors.New("db down")
	}), testLogger())
	require.Equal(t, time.Hour, failing.interval)
	require.Zero(t, failing.RunOnce(context.Background()))
}

type stubLocker struct {
	held     bool
	unlocked int
}

func (l *stubLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if l.held {
		return "", errors.New("held")
	}
	return "token", nil
}

func (l *stubLocker) Unlock(ctx context.Context, key, token string) error {
	l.unlocked++
	return nil
}

func TestRetentionWorker_RespectsLock(t *testing.T) {
	calls := 0
	purger := purgerFunc(func(context.Context, time.Duration) (int, error) { calls++; return 1, nil })
	locker := &stubLocker{held: true}
	w := NewRetentionWorker(time.Minute, time.Hour, purger, testLogger()).WithLocker(locker)

	require.Zero(t, w.RunOnce(context.Background()))
	require.Zero(t, calls)

	locker.held = false
	require.Equal(t, 1, w.RunOnce(context.Background()))
	require.Equal(t, 1, calls)
	require.Equal(t, 1, locker.unlocked)
}

type recordingNotifUC struct {
	events chan model.Event
}

func newRecordingNotifUC() *recordingNotifUC {
	return &recordingNotifUC{events: make(chan model.Event, 64)}
}

func (r *recordingNotifUC) HandleEvent(ctx context.Context, e model.Event) (bool, error) {
	r.events <- e
	return true, nil
}

func TestNotificationWorker_ForwardsTerminalEvents(t *testing.T) {
	hub := broadcast.NewHub(8, testLogger())
	uc := newRecordingNotifUC()
	w := NewNotificationWorker(hub, uc, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Probe until the worker has subscribed.
	require.Eventually(t, func() bool {
		hub.Publish(ctx, model.Event{Kind: model.EventCompleted, JobID: "probe", OwnerID: "u1"})
		select {
		case <-uc.events:
			return true
		case <-time.After(10 * time.Millisecond):
			return false
		}
	}, time.Second, 20*time.Millisecond)

	hub.Publish(ctx, model.Event{Kind: model.EventProgress, JobID: "j1", OwnerID: "u1"})
	hub.Publish(ctx, model.Event{Kind: model.EventFailed, JobID: "j1", OwnerID: "u1"})

	timeout := time.After(time.Second)
	for got := false; !got; {
		select {
		case e := <-uc.events:
			if e.JobID == "probe" {
				continue
			}
			require.Equal(t, model.EventFailed, e.Kind, "progress events must not reach the use case")
			got = true
		case <-timeout:
			t.Fatal("terminal event not forwarded")
		}
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestNotificationWorker_StopsWhenHubStops(t *testing.T) {
	hub := broadcast.NewHub(1, testLogger())
	w := NewNotificationWorker(hub, newRecordingNotifUC(), testLogger())
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	hub.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop with the hub")
	}
}
