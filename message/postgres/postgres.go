// Package postgres implements the channel payload stores. Every insert goes
// through the caller's transaction so payload and outbox record commit
// together; delivery-state updates run against the primary outside any
// transaction.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/tsu-platform/notify/message"
)

var (
	// ErrStateConflict indicates a delivery-state write raced another writer.
	ErrStateConflict = errors.New("message state conflict")
)

const stateColumns = "status, attempt_count, last_error, last_attempt_at, sent_at, provider_id"

func stateArgs(state message.DeliveryState) []any {
	return []any{
		state.Status,
		state.AttemptCount,
		nullableString(state.LastError),
		state.LastAttemptAt,
		state.SentAt,
		nullableString(state.ProviderID),
	}
}

func scanState(lastError, providerID *sql.NullString, state *message.DeliveryState) {
	if lastError.Valid {
		state.LastError = lastError.String
	}

	if providerID.Valid {
		state.ProviderID = providerID.String
	}
}

func nullableString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func ensureRowsAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}

	if affected == 0 {
		return ErrStateConflict
	}

	return nil
}
