package redis

import (
	"context"
	"encoding/json"
	"time"

	"defect-inspection/internal/domain/model"
	"defect-inspection/internal/infra/broadcast"
	"defect-inspection/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultEventChannel is the redis pub/sub channel shared by all instances.
const DefaultEventChannel = "defect:events"

type envelope struct {
	Origin string      `json:"origin"`
	Event  model.Event `json:"event"`
}

// EventRelay bridges the in-process hubs of several instances. Local events
// handed to Publish are forwarded to redis; events from other instances are
// published into the local hub. An instance never re-delivers its own events.
type EventRelay struct {
	client  RedisClient
	channel string
	origin  string
	local   broadcast.Publisher
	out     chan model.Event
	log     *zerolog.Logger
}

func NewEventRelay(client RedisClient, channel string, local broadcast.Publisher, logger *zerolog.Logger) *EventRelay {
	if channel == "" {
		channel = DefaultEventChannel
	}
	l := logger.With().Str("component", "event_relay").Logger()
	return &EventRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		local:   local,
		out:     make(chan model.Event, 256),
		log:     &l,
	}
}

// Publish queues e for forwarding without blocking. A full queue drops the event.
func (r *EventRelay) Publish(_ context.Context, e model.Event) {
	select {
	case r.out <- e:
	default:
		metrics.IncEventDropped()
		r.log.Warn().Str("job_id", e.JobID).Msg("relay queue full, event not forwarded")
	}
}

// Run subscribes to the shared channel and pumps events both ways until ctx is done.
func (r *EventRelay) Run(ctx context.Context) error {
	sub, err := r.client.Subscribe(ctx, r.channel)
	if err != nil {
		return err
	}
	defer sub.Close()
	in := sub.Channel()
	r.log.Info().Str("channel", r.channel).Str("origin", r.origin).Msg("event relay started")

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("event relay stopped")
			return ctx.Err()
		case e := <-r.out:
			r.forward(ctx, e)
		case msg, ok := <-in:
			if !ok {
				r.log.Warn().Msg("relay subscription closed")
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn().Err(err).Msg("dropping malformed relay message")
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			r.local.Publish(ctx, env.Event)
		}
	}
}

func (r *EventRelay) forward(ctx context.Context, e model.Event) {
	b, err := json.Marshal(envelope{Origin: r.origin, Event: e})
	if err != nil {
		r.log.Error().Err(err).Msg("encode relay event")
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.client.Publish(pubCtx, r.channel, b); err != nil {
		r.log.Warn().Err(err).Str("job_id", e.JobID).Msg("relay publish failed")
	}
}
