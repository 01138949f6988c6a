package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tsu-platform/notify/message"
	"github.com/tsu-platform/notify/outbox"
	libpg "github.com/tsu-platform/notify/postgres"
)

const smsTable = "notification_sms"

// SmsStore persists SMS payloads in PostgreSQL.
type SmsStore struct {
	connection *libpg.Connection
}

var _ message.SmsRepository = (*SmsStore)(nil)

// NewSmsStore builds an SMS payload store.
func NewSmsStore(connection *libpg.Connection) (*SmsStore, error) {
	if connection == nil {
		return nil, libpg.ErrConnectionRequired
	}

	return &SmsStore{connection: connection}, nil
}

// CreateWithTx inserts the payload inside the caller's transaction.
func (store *SmsStore) CreateWithTx(ctx context.Context, tx outbox.Tx, sms *message.SmsMessage) error {
	if tx == nil {
		return outbox.ErrTransactionRequired
	}

	if sms == nil {
		return message.ErrMessageRequired
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(id, user_id, phone_number, body, %s, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, smsTable, stateColumns)

	args := []any{sms.ID, sms.UserID, sms.PhoneNumber, sms.Body}
	args = append(args, stateArgs(sms.State)...)
	args = append(args, sms.CreatedAt)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting sms payload: %w", err)
	}

	return nil
}

// GetByID loads a payload.
func (store *SmsStore) GetByID(ctx context.Context, id uuid.UUID) (*message.SmsMessage, error) {
	resolver, err := store.connection.Resolver(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, user_id, phone_number, body, %s, created_at
		FROM %s WHERE id = $1`, stateColumns, smsTable)

	var sms message.SmsMessage

	var lastError, providerID sql.NullString

	err = resolver.QueryRowContext(ctx, query, id).Scan(
		&sms.ID,
		&sms.UserID,
		&sms.PhoneNumber,
		&sms.Body,
		&sms.State.Status,
		&sms.State.AttemptCount,
		&lastError,
		&sms.State.LastAttemptAt,
		&sms.State.SentAt,
		&providerID,
		&sms.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, message.ErrNotFound
		}

		return nil, fmt.Errorf("loading sms payload: %w", err)
	}

	scanState(&lastError, &providerID, &sms.State)

	return &sms, nil
}

// UpdateDeliveryState persists attempt bookkeeping.
func (store *SmsStore) UpdateDeliveryState(ctx context.Context, sms *message.SmsMessage) error {
	if sms == nil {
		return message.ErrMessageRequired
	}

	primary, err := store.connection.Primary(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s
		SET status = $1, attempt_count = $2, last_error = $3, last_attempt_at = $4, sent_at = $5, provider_id = $6
		WHERE id = $7`, smsTable)

	args := append(stateArgs(sms.State), sms.ID)

	result, err := primary.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating sms payload state: %w", err)
	}

	return ensureRowsAffected(result)
}
