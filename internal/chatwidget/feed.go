package chatwidget

import (
  "context"

  "github.com/google/uuid"

  "github.com/marketbay/marketbay-backend/internal/types"
)

// Feed is the widget's view of the realtime bus: a push stream of newly
// appended messages for one session. Delivery is at-least-once and carries
// no ordering promise beyond store commit order; consumers dedup by id.
type Feed interface {
  Subscribe(ctx context.Context, chatID uuid.UUID) (Subscription, error)
}

// Subscription is a single live attachment to one session's stream. Once
// Done is closed the subscription is void and must not be trusted to catch
// up; the owner re-subscribes and reloads history.
type Subscription interface {
  Events() <-chan types.ChatMessage
  Done() <-chan struct{}
  // Close releases the subscription's resources. Idempotent.
  Close() error
}
