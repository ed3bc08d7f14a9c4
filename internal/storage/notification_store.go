package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/depot-io/depot/internal/config"
	"github.com/depot-io/depot/internal/notifications"
)

// Notification queue states. pending rows are claimable work, claimed rows are
// in-flight with exactly one consumer, completed rows are retained history.
const (
	statusPending   = "pending"
	statusClaimed   = "claimed"
	statusCompleted = "completed"
)

// NotificationStore implements notifications.ConsumerQueue with a PostgreSQL
// backend.
//
// The queue never deduplicates pushes: scheduling is optimistic and cheap,
// consumption enforces correctness. Claiming uses SKIP LOCKED so
// concurrent consumers never double-claim an event.
type NotificationStore struct {
	conn   *Connection
	logger *slog.Logger
}

// Compile-time interface assertions.
var (
	_ notifications.Queue         = (*NotificationStore)(nil)
	_ notifications.ConsumerQueue = (*NotificationStore)(nil)
)

// NewNotificationStore creates a PostgreSQL-backed notification queue.
func NewNotificationStore(conn *Connection) (*NotificationStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &NotificationStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Push enqueues pending work and returns the minted event id.
func (s *NotificationStore) Push(ctx context.Context, notification *notifications.Notification) (string, error) {
	if notification == nil {
		return "", notifications.ErrNotificationNil
	}

	eventID := uuid.NewString()

	query := `
		INSERT INTO notifications
			(event_id, parent_event_id, project_id, group_id, artifact_id, version_id,
			 full_update, transitive, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`

	_, err := s.conn.ExecContext(ctx, query,
		eventID, notification.ParentEventID, notification.ProjectID,
		notification.GroupID, notification.ArtifactID, notification.VersionID,
		notification.FullUpdate, notification.Transitive, statusPending,
	)
	if err != nil {
		return "", fmt.Errorf("pushing notification for [%s-%s-%s]: %w",
			notification.GroupID, notification.ArtifactID, notification.VersionID, err)
	}

	notification.EventID = eventID

	return eventID, nil
}

// Get returns the notification for an event id, pending or processed.
func (s *NotificationStore) Get(ctx context.Context, eventID string) (*notifications.Notification, error) {
	query := selectNotification + ` WHERE event_id = $1`

	rows, err := s.conn.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("querying event [%s]: %w", eventID, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("querying event [%s]: %w", eventID, err)
		}

		return nil, fmt.Errorf("%w: [%s]", notifications.ErrEventNotFound, eventID)
	}

	return scanNotification(rows)
}

// GetAll returns pending and processed notifications in insertion order.
func (s *NotificationStore) GetAll(ctx context.Context) ([]notifications.Notification, error) {
	query := selectNotification + ` ORDER BY id`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var all []notifications.Notification

	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}

		all = append(all, *notification)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notifications: %w", err)
	}

	return all, nil
}

// Size returns the count of pending notifications.
func (s *NotificationStore) Size(ctx context.Context) (int64, error) {
	var count int64

	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE status = $1`, statusPending,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting pending notifications: %w", err)
	}

	return count, nil
}

// DeleteAll purges the queue and its history, returning the number removed.
func (s *NotificationStore) DeleteAll(ctx context.Context) (int64, error) {
	result, err := s.conn.ExecContext(ctx, `DELETE FROM notifications`)
	if err != nil {
		return 0, fmt.Errorf("purging notifications: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging notifications: %w", err)
	}

	return removed, nil
}

// ClaimNext atomically claims the oldest pending notification.
//
// SKIP LOCKED makes concurrent claims race-free: two consumers calling
// ClaimNext simultaneously receive two different events, or one event and
// ErrQueueEmpty.
func (s *NotificationStore) ClaimNext(ctx context.Context) (*notifications.Notification, error) {
	query := `
		UPDATE notifications
		SET status = $1, claimed_at = NOW()
		WHERE id = (
			SELECT id FROM notifications
			WHERE status = $2
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING event_id, parent_event_id, project_id, group_id, artifact_id, version_id,
			full_update, transitive, status, created_at, processed_at, success, messages, errors
	`

	rows, err := s.conn.QueryContext(ctx, query, statusClaimed, statusPending)
	if err != nil {
		return nil, fmt.Errorf("claiming notification: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("claiming notification: %w", err)
		}

		return nil, notifications.ErrQueueEmpty
	}

	return scanNotification(rows)
}

// MarkProcessed writes the terminal state of a claimed notification. The
// claimed-status guard means a terminal state can only be written once.
func (s *NotificationStore) MarkProcessed(ctx context.Context, notification *notifications.Notification) error {
	messagesJSON, err := json.Marshal(notification.Messages)
	if err != nil {
		return fmt.Errorf("encoding messages for [%s]: %w", notification.EventID, err)
	}

	errorsJSON, err := json.Marshal(notification.Errors)
	if err != nil {
		return fmt.Errorf("encoding errors for [%s]: %w", notification.EventID, err)
	}

	query := `
		UPDATE notifications
		SET status = $2, processed_at = $3, success = $4, messages = $5, errors = $6
		WHERE event_id = $1 AND status = $7
	`

	result, err := s.conn.ExecContext(ctx, query,
		notification.EventID, statusCompleted, notification.ProcessedAt,
		notification.Success, messagesJSON, errorsJSON, statusClaimed,
	)
	if err != nil {
		return fmt.Errorf("marking event [%s] processed: %w", notification.EventID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking event [%s] processed: %w", notification.EventID, err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: [%s] not in claimed state", notifications.ErrEventNotFound, notification.EventID)
	}

	return nil
}

const selectNotification = `
	SELECT event_id, parent_event_id, project_id, group_id, artifact_id, version_id,
		full_update, transitive, status, created_at, processed_at, success, messages, errors
	FROM notifications`

// scanNotification decodes one notifications row.
func scanNotification(rows *sql.Rows) (*notifications.Notification, error) {
	var (
		notification notifications.Notification
		status       string
		success      sql.NullBool
		processedAt  sql.NullTime
		messagesJSON []byte
		errorsJSON   []byte
	)

	err := rows.Scan(
		&notification.EventID,
		&notification.ParentEventID,
		&notification.ProjectID,
		&notification.GroupID,
		&notification.ArtifactID,
		&notification.VersionID,
		&notification.FullUpdate,
		&notification.Transitive,
		&status,
		&notification.CreatedAt,
		&processedAt,
		&success,
		&messagesJSON,
		&errorsJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning notification: %w", err)
	}

	notification.Completed = status == statusCompleted
	notification.Success = success.Valid && success.Bool

	if processedAt.Valid {
		processed := processedAt.Time
		notification.ProcessedAt = &processed
	}

	if len(messagesJSON) > 0 {
		if err := json.Unmarshal(messagesJSON, &notification.Messages); err != nil {
			return nil, fmt.Errorf("decoding messages for [%s]: %w", notification.EventID, err)
		}
	}

	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &notification.Errors); err != nil {
			return nil, fmt.Errorf("decoding errors for [%s]: %w", notification.EventID, err)
		}
	}

	return &notification, nil
}

// RequeueStale returns claimed-but-unfinished notifications to pending state.
// Staleness is measured from the claim, not from creation: a row that sat
// pending for hours is not stale the moment a consumer picks it up. Returns
// the number requeued.
func (s *NotificationStore) RequeueStale(ctx context.Context, olderThan string) (int64, error) {
	query := `
		UPDATE notifications
		SET status = $1, claimed_at = NULL
		WHERE status = $2 AND claimed_at < NOW() - $3::interval
	`

	result, err := s.conn.ExecContext(ctx, query, statusPending, statusClaimed, olderThan)
	if err != nil {
		return 0, fmt.Errorf("requeueing stale notifications: %w", err)
	}

	requeued, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeueing stale notifications: %w", err)
	}

	return requeued, nil
}
