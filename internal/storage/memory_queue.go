package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/depot-io/depot/internal/notifications"
)

// MemoryQueue provides a thread-safe in-memory notification queue.
//
// It implements the same ConsumerQueue contract as NotificationStore and is
// used by unit tests and dev mode where no database is available. Insertion
// order is preserved; duplicates are accepted, matching the persistent queue.
type MemoryQueue struct {
	// order holds event ids in insertion order
	order []string
	// byID maps event ids to notifications
	byID map[string]*notifications.Notification
	// claimed tracks in-flight event ids
	claimed map[string]bool
	// mutex protects all fields
	mutex sync.Mutex
}

// Compile-time interface assertions.
var (
	_ notifications.Queue         = (*MemoryQueue)(nil)
	_ notifications.ConsumerQueue = (*MemoryQueue)(nil)
)

// NewMemoryQueue creates a new thread-safe in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		byID:    make(map[string]*notifications.Notification),
		claimed: make(map[string]bool),
	}
}

// Push enqueues pending work and returns the minted event id.
func (q *MemoryQueue) Push(_ context.Context, notification *notifications.Notification) (string, error) {
	if notification == nil {
		return "", notifications.ErrNotificationNil
	}

	q.mutex.Lock()
	defer q.mutex.Unlock()

	// Store a copy to prevent external modification
	stored := cloneNotification(notification)
	stored.EventID = uuid.NewString()
	stored.CreatedAt = time.Now().UTC()

	q.order = append(q.order, stored.EventID)
	q.byID[stored.EventID] = stored

	notification.EventID = stored.EventID

	return stored.EventID, nil
}

// Get returns the notification for an event id.
func (q *MemoryQueue) Get(_ context.Context, eventID string) (*notifications.Notification, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	notification, exists := q.byID[eventID]
	if !exists {
		return nil, fmt.Errorf("%w: [%s]", notifications.ErrEventNotFound, eventID)
	}

	return cloneNotification(notification), nil
}

// GetAll returns pending and processed notifications in insertion order.
func (q *MemoryQueue) GetAll(_ context.Context) ([]notifications.Notification, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	all := make([]notifications.Notification, 0, len(q.order))
	for _, eventID := range q.order {
		all = append(all, *cloneNotification(q.byID[eventID]))
	}

	return all, nil
}

// Size returns the count of pending notifications.
func (q *MemoryQueue) Size(_ context.Context) (int64, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	var pending int64

	for _, eventID := range q.order {
		if !q.byID[eventID].Completed && !q.claimed[eventID] {
			pending++
		}
	}

	return pending, nil
}

// DeleteAll purges the queue, returning the number removed.
func (q *MemoryQueue) DeleteAll(_ context.Context) (int64, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	removed := int64(len(q.order))
	q.order = nil
	q.byID = make(map[string]*notifications.Notification)
	q.claimed = make(map[string]bool)

	return removed, nil
}

// ClaimNext claims the oldest pending notification.
func (q *MemoryQueue) ClaimNext(_ context.Context) (*notifications.Notification, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for _, eventID := range q.order {
		notification := q.byID[eventID]
		if notification.Completed || q.claimed[eventID] {
			continue
		}

		q.claimed[eventID] = true

		return cloneNotification(notification), nil
	}

	return nil, notifications.ErrQueueEmpty
}

// MarkProcessed writes the terminal state of a claimed notification.
func (q *MemoryQueue) MarkProcessed(_ context.Context, notification *notifications.Notification) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if _, exists := q.byID[notification.EventID]; !exists || !q.claimed[notification.EventID] {
		return fmt.Errorf("%w: [%s] not in claimed state", notifications.ErrEventNotFound, notification.EventID)
	}

	q.byID[notification.EventID] = cloneNotification(notification)

	delete(q.claimed, notification.EventID)

	return nil
}

// cloneNotification copies a notification along with its message and error
// slices, so stored history and returned values never share backing arrays.
func cloneNotification(notification *notifications.Notification) *notifications.Notification {
	clone := *notification
	clone.Messages = append([]string(nil), notification.Messages...)
	clone.Errors = append([]string(nil), notification.Errors...)

	if notification.ProcessedAt != nil {
		processed := *notification.ProcessedAt
		clone.ProcessedAt = &processed
	}

	return &clone
}
