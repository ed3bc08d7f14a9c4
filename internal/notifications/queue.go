package notifications

import (
	"context"
	"errors"
)

// Sentinel errors for queue operations.
var (
	// ErrEventNotFound is returned when no notification exists for an event id.
	ErrEventNotFound = errors.New("notification event not found")

	// ErrQueueEmpty is returned by ClaimNext when no pending work exists.
	ErrQueueEmpty = errors.New("notification queue is empty")

	// ErrNotificationNil is returned when a nil notification is pushed.
	ErrNotificationNil = errors.New("notification cannot be nil")
)

// Queue is the durable notification work queue.
//
// Pushes are never deduplicated by content: scheduling is optimistic and
// cheap, and downstream idempotency (if required) is the consumer's
// responsibility. The queue is persisted, so push and read operations are
// I/O-bound store operations.
type Queue interface {
	// Push enqueues pending work and returns the minted event id used for
	// correlation and later lookup.
	Push(ctx context.Context, notification *Notification) (string, error)

	// Get returns the notification for an event id, pending or processed.
	// Returns ErrEventNotFound if the id is unknown.
	Get(ctx context.Context, eventID string) (*Notification, error)

	// GetAll returns pending and processed notifications in insertion order.
	GetAll(ctx context.Context) ([]Notification, error)

	// Size returns the count of pending notifications.
	Size(ctx context.Context) (int64, error)

	// DeleteAll purges the queue (administrative) and returns the number of
	// notifications removed.
	DeleteAll(ctx context.Context) (int64, error)
}

// ConsumerQueue is the queue surface used by the queue manager.
//
// The queue itself provides no locking primitive beyond the claim: ClaimNext
// hands a pending event to at most one consumer, and the terminal state is
// written exactly once via MarkProcessed.
type ConsumerQueue interface {
	Queue

	// ClaimNext atomically claims the oldest pending notification for this
	// consumer. Returns ErrQueueEmpty when nothing is pending.
	ClaimNext(ctx context.Context) (*Notification, error)

	// MarkProcessed writes the terminal state of a claimed notification.
	MarkProcessed(ctx context.Context, notification *Notification) error
}

// EventPublisher receives notifications that reached terminal state, for
// downstream audit consumers. Publishing is best-effort: a publish failure is
// logged by the caller and never fails the notification itself.
type EventPublisher interface {
	PublishProcessed(ctx context.Context, notification *Notification) error
}
