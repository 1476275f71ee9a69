package usecase

import (
	"context"
	"strings"

	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ NotificationUseCase = (*notificationUC)(nil)

type NotificationUseCase interface {
	// HandleEvent notifies the job owner about terminal events and reports
	// whether a message was sent. Progress events are ignored.
	HandleEvent(ctx context.Context, e model.Event) (bool, error)
}

// Translator renders a catalog message for the owner's language.
type Translator interface {
	T(key string, args ...any) string
}

type notificationUC struct {
	notifier adapter.Notifier
	tr       Translator
	log      *zerolog.Logger
}

func NewNotificationUseCase(notifier adapter.Notifier, tr Translator, logger *zerolog.Logger) *notificationUC {
	return &notificationUC{notifier: notifier, tr: tr, log: logger}
}

func (n *notificationUC) HandleEvent(ctx context.Context, e model.Event) (bool, error) {
	if e.OwnerID == "" {
		return false, nil
	}
	text, ok := FormatEvent(n.tr, e)
	if !ok {
		return false, nil
	}
	if err := n.notifier.Notify(ctx, e.OwnerID, text); err != nil {
		n.log.Error().Err(err).Str("job_id", e.JobID).Str("owner_id", e.OwnerID).Msg("owner notification failed")
		return false, err
	}
	return true, nil
}

// FormatEvent renders a terminal event as a short plain-text message.
func FormatEvent(tr Translator, e model.Event) (string, bool) {
	var b strings.Builder
	switch e.Kind {
	case model.EventCompleted:
		b.WriteString(tr.T("notify.completed", e.JobID))
		if s := e.Summary; s != nil {
			b.WriteString("\n" + tr.T("notify.files", s.AnalyzedFiles, s.PassedFiles, s.FailedFiles, s.ReviewFiles))
			if s.ProcessingFailedFiles > 0 {
				b.WriteString(tr.T("notify.unprocessed", s.ProcessingFailedFiles))
			}
			b.WriteString("\n" + tr.T("notify.defects", s.TotalDetections))
			if c := s.DetectionsBySeverity[model.SeverityCritical]; c > 0 {
				b.WriteString(tr.T("notify.critical", c))
			}
			b.WriteString("\n" + tr.T("notify.quality", s.QualityScore))
		}
	case model.EventFailed:
		if e.Error != "" {
			b.WriteString(tr.T("notify.failed_reason", e.JobID, e.Error))
		} else {
			b.WriteString(tr.T("notify.failed", e.JobID))
		}
	case model.EventCancelled:
		b.WriteString(tr.T("notify.cancelled", e.JobID))
	default:
		return "", false
	}
	return b.String(), true
}
