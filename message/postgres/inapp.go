package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tsu-platform/notify/message"
	"github.com/tsu-platform/notify/outbox"
	libpg "github.com/tsu-platform/notify/postgres"
)

const inAppTable = "notification_inapp"

// InAppStore persists in-app payloads in PostgreSQL.
type InAppStore struct {
	connection *libpg.Connection
}

var _ message.InAppRepository = (*InAppStore)(nil)

// NewInAppStore builds an in-app payload store.
func NewInAppStore(connection *libpg.Connection) (*InAppStore, error) {
	if connection == nil {
		return nil, libpg.ErrConnectionRequired
	}

	return &InAppStore{connection: connection}, nil
}

// CreateWithTx inserts the payload inside the caller's transaction.
func (store *InAppStore) CreateWithTx(ctx context.Context, tx outbox.Tx, inApp *message.InAppMessage) error {
	if tx == nil {
		return outbox.ErrTransactionRequired
	}

	if inApp == nil {
		return message.ErrMessageRequired
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(id, user_id, title, body, read_at, %s, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, inAppTable, stateColumns)

	args := []any{inApp.ID, inApp.UserID, inApp.Title, inApp.Body, inApp.ReadAt}
	args = append(args, stateArgs(inApp.State)...)
	args = append(args, inApp.CreatedAt)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting in-app payload: %w", err)
	}

	return nil
}

// GetByID loads a payload.
func (store *InAppStore) GetByID(ctx context.Context, id uuid.UUID) (*message.InAppMessage, error) {
	resolver, err := store.connection.Resolver(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, user_id, title, body, read_at, %s, created_at
		FROM %s WHERE id = $1`, stateColumns, inAppTable)

	inApp, err := scanInApp(resolver.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	return inApp, nil
}

// UpdateDeliveryState persists attempt bookkeeping.
func (store *InAppStore) UpdateDeliveryState(ctx context.Context, inApp *message.InAppMessage) error {
	if inApp == nil {
		return message.ErrMessageRequired
	}

	primary, err := store.connection.Primary(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s
		SET status = $1, attempt_count = $2, last_error = $3, last_attempt_at = $4, sent_at = $5, provider_id = $6
		WHERE id = $7`, inAppTable)

	args := append(stateArgs(inApp.State), inApp.ID)

	result, err := primary.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating in-app payload state: %w", err)
	}

	return ensureRowsAffected(result)
}

// MarkRead stamps when the user opened the notification. Already-read rows
// keep their original timestamp.
func (store *InAppStore) MarkRead(ctx context.Context, id uuid.UUID, readAt time.Time) error {
	primary, err := store.connection.Primary(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET read_at = $1 WHERE id = $2 AND read_at IS NULL`, inAppTable)

	if _, err := primary.ExecContext(ctx, query, readAt.UTC(), id); err != nil {
		return fmt.Errorf("marking in-app payload read: %w", err)
	}

	return nil
}

// ListUnread returns the user's unread notifications, newest first.
func (store *InAppStore) ListUnread(ctx context.Context, userID string, limit int) ([]*message.InAppMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	resolver, err := store.connection.Resolver(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, user_id, title, body, read_at, %s, created_at
		FROM %s
		WHERE user_id = $1 AND read_at IS NULL AND status = $2
		ORDER BY created_at DESC
		LIMIT $3`, stateColumns, inAppTable)

	rows, err := resolver.QueryContext(ctx, query, userID, message.StatusSent, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unread in-app payloads: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	notifications := make([]*message.InAppMessage, 0)

	for rows.Next() {
		inApp, err := scanInApp(rows)
		if err != nil {
			return nil, err
		}

		notifications = append(notifications, inApp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating in-app payloads: %w", err)
	}

	return notifications, nil
}

func scanInApp(scanner interface{ Scan(dest ...any) error }) (*message.InAppMessage, error) {
	var inApp message.InAppMessage

	var lastError, providerID sql.NullString

	err := scanner.Scan(
		&inApp.ID,
		&inApp.UserID,
		&inApp.Title,
		&inApp.Body,
		&inApp.ReadAt,
		&inApp.State.Status,
		&inApp.State.AttemptCount,
		&lastError,
		&inApp.State.LastAttemptAt,
		&inApp.State.SentAt,
		&providerID,
		&inApp.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, message.ErrNotFound
		}

		return nil, fmt.Errorf("loading in-app payload: %w", err)
	}

	scanState(&lastError, &providerID, &inApp.State)

	return &inApp, nil
}
