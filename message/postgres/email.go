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

const emailTable = "notification_email"

// EmailStore persists email payloads in PostgreSQL.
type EmailStore struct {
	connection *libpg.Connection
}

var _ message.EmailRepository = (*EmailStore)(nil)

// NewEmailStore builds an email payload store.
func NewEmailStore(connection *libpg.Connection) (*EmailStore, error) {
	if connection == nil {
		return nil, libpg.ErrConnectionRequired
	}

	return &EmailStore{connection: connection}, nil
}

// CreateWithTx inserts the payload inside the caller's transaction.
func (store *EmailStore) CreateWithTx(ctx context.Context, tx outbox.Tx, email *message.EmailMessage) error {
	if tx == nil {
		return outbox.ErrTransactionRequired
	}

	if email == nil {
		return message.ErrMessageRequired
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(id, user_id, to_address, cc_address, subject, body, %s, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, emailTable, stateColumns)

	args := []any{email.ID, email.UserID, email.To, nullableString(email.Cc), email.Subject, email.Body}
	args = append(args, stateArgs(email.State)...)
	args = append(args, email.CreatedAt)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting email payload: %w", err)
	}

	return nil
}

// GetByID loads a payload.
func (store *EmailStore) GetByID(ctx context.Context, id uuid.UUID) (*message.EmailMessage, error) {
	resolver, err := store.connection.Resolver(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, user_id, to_address, cc_address, subject, body, %s, created_at
		FROM %s WHERE id = $1`, stateColumns, emailTable)

	var email message.EmailMessage

	var cc, lastError, providerID sql.NullString

	err = resolver.QueryRowContext(ctx, query, id).Scan(
		&email.ID,
		&email.UserID,
		&email.To,
		&cc,
		&email.Subject,
		&email.Body,
		&email.State.Status,
		&email.State.AttemptCount,
		&lastError,
		&email.State.LastAttemptAt,
		&email.State.SentAt,
		&providerID,
		&email.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, message.ErrNotFound
		}

		return nil, fmt.Errorf("loading email payload: %w", err)
	}

	if cc.Valid {
		email.Cc = cc.String
	}

	scanState(&lastError, &providerID, &email.State)

	return &email, nil
}

// UpdateDeliveryState persists attempt bookkeeping.
func (store *EmailStore) UpdateDeliveryState(ctx context.Context, email *message.EmailMessage) error {
	if email == nil {
		return message.ErrMessageRequired
	}

	primary, err := store.connection.Primary(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s
		SET status = $1, attempt_count = $2, last_error = $3, last_attempt_at = $4, sent_at = $5, provider_id = $6
		WHERE id = $7`, emailTable)

	args := append(stateArgs(email.State), email.ID)

	result, err := primary.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating email payload state: %w", err)
	}

	return ensureRowsAffected(result)
}
