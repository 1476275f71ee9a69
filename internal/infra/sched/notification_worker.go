package sched

import (
	"context"
	"time"

	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/infra/broadcast"
	"defect-inspection/internal/usecase"

	"github.com/rs/zerolog"
)

// NotificationWorker forwards terminal job events from the hub to job owners.
type NotificationWorker struct {
	hub     *broadcast.Hub
	notifUC usecase.NotificationUseCase
	timeout time.Duration
	log     *zerolog.Logger
}

func NewNotificationWorker(hub *broadcast.Hub, notifUC usecase.NotificationUseCase, logger *zerolog.Logger) *NotificationWorker {
	compLog := logger.With().Str("component", "NotificationWorker").Logger()
	return &NotificationWorker{
		hub:     hub,
		notifUC: notifUC,
		timeout: 10 * time.Second,
		log:     &compLog,
	}
}

// Run consumes every event until ctx is done or the hub stops.
func (w *NotificationWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting notification worker")
	sub := w.hub.Connect(broadcast.AllEvents)
	defer w.hub.Disconnect(sub)

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping notification worker")
			return ctx.Err()
		case e, ok := <-sub.C:
			if !ok {
				w.log.Info().Msg("event hub closed; stopping notification worker")
				return nil
			}
			w.handle(ctx, e)
		}
	}
}

func (w *NotificationWorker) handle(ctx context.Context, e model.Event) {
	if !e.Kind.IsTerminal() {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if sent, err := w.notifUC.HandleEvent(runCtx, e); err == nil && sent {
		w.log.Debug().Str("job_id", e.JobID).Str("kind", string(e.Kind)).Msg("owner notified")
	}
}
