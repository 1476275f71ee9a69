package adapter

import "context"

// Notifier delivers a short human readable message about a job outcome.
type Notifier interface {
	Notify(ctx context.Context, ownerID, text string) error
}
