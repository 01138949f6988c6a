package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tsu-platform/notify/message"
	"github.com/tsu-platform/notify/outbox"
	libpg "github.com/tsu-platform/notify/postgres"
)

const pushTable = "notification_push"

// PushStore persists push payloads in PostgreSQL.
type PushStore struct {
	connection *libpg.Connection
}

var _ message.PushRepository = (*PushStore)(nil)

// NewPushStore builds a push payload store.
func NewPushStore(connection *libpg.Connection) (*PushStore, error) {
	if connection == nil {
		return nil, libpg.ErrConnectionRequired
	}

	return &PushStore{connection: connection}, nil
}

// CreateWithTx inserts the payload inside the caller's transaction.
func (store *PushStore) CreateWithTx(ctx context.Context, tx outbox.Tx, push *message.PushMessage) error {
	if tx == nil {
		return outbox.ErrTransactionRequired
	}

	if push == nil {
		return message.ErrMessageRequired
	}

	data, err := encodeData(push.Data)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(id, user_id, title, body, data, %s, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, pushTable, stateColumns)

	args := []any{push.ID, push.UserID, push.Title, push.Body, data}
	args = append(args, stateArgs(push.State)...)
	args = append(args, push.CreatedAt)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting push payload: %w", err)
	}

	return nil
}

// GetByID loads a payload.
func (store *PushStore) GetByID(ctx context.Context, id uuid.UUID) (*message.PushMessage, error) {
	resolver, err := store.connection.Resolver(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, user_id, title, body, data, %s, created_at
		FROM %s WHERE id = $1`, stateColumns, pushTable)

	var push message.PushMessage

	var data []byte

	var lastError, providerID sql.NullString

	err = resolver.QueryRowContext(ctx, query, id).Scan(
		&push.ID,
		&push.UserID,
		&push.Title,
		&push.Body,
		&data,
		&push.State.Status,
		&push.State.AttemptCount,
		&lastError,
		&push.State.LastAttemptAt,
		&push.State.SentAt,
		&providerID,
		&push.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, message.ErrNotFound
		}

		return nil, fmt.Errorf("loading push payload: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &push.Data); err != nil {
			return nil, fmt.Errorf("decoding push data: %w", err)
		}
	}

	scanState(&lastError, &providerID, &push.State)

	return &push, nil
}

// UpdateDeliveryState persists attempt bookkeeping.
func (store *PushStore) UpdateDeliveryState(ctx context.Context, push *message.PushMessage) error {
	if push == nil {
		return message.ErrMessageRequired
	}

	primary, err := store.connection.Primary(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s
		SET status = $1, attempt_count = $2, last_error = $3, last_attempt_at = $4, sent_at = $5, provider_id = $6
		WHERE id = $7`, pushTable)

	args := append(stateArgs(push.State), push.ID)

	result, err := primary.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating push payload state: %w", err)
	}

	return ensureRowsAffected(result)
}

func encodeData(data map[string]string) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding push data: %w", err)
	}

	return encoded, nil
}
