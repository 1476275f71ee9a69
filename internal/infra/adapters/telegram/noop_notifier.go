package telegram

import (
	"context"

	"defect-inspection/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

var _ adapter.Notifier = (*NoopNotifier)(nil)

// NoopNotifier logs messages instead of sending them. Used when no bot token is configured.
type NoopNotifier struct {
	log *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	l := logger.With().Str("component", "noop_notifier").Logger()
	return &NoopNotifier{log: &l}
}

func (n *NoopNotifier) Notify(ctx context.Context, ownerID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.log.Info().Str("owner_id", ownerID).Str("text", text).Msg("notification")
	return nil
}
