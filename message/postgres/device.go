package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tsu-platform/notify/message"
	libpg "github.com/tsu-platform/notify/postgres"
)

const deviceTable = "device_push_token"

// DeviceTokenStore persists device push tokens in PostgreSQL.
type DeviceTokenStore struct {
	connection *libpg.Connection
}

var _ message.DeviceTokenRepository = (*DeviceTokenStore)(nil)

// NewDeviceTokenStore builds a device token store.
func NewDeviceTokenStore(connection *libpg.Connection) (*DeviceTokenStore, error) {
	if connection == nil {
		return nil, libpg.ErrConnectionRequired
	}

	return &DeviceTokenStore{connection: connection}, nil
}

// Register upserts the registration keyed by (device, platform). A
// re-registration replaces the token, reassigns the device to the
// registering user, and clears any revocation, since the device just proved
// it has a working token again. At most one row exists per physical device.
func (store *DeviceTokenStore) Register(ctx context.Context, token *message.DevicePushToken) error {
	if token == nil {
		return message.ErrMessageRequired
	}

	primary, err := store.connection.Primary(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(id, user_id, device_id, platform, token, active, revoked_at, last_used_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (device_id, platform) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    token = EXCLUDED.token,
		    active = TRUE,
		    revoked_at = NULL,
		    updated_at = EXCLUDED.updated_at`, deviceTable)

	_, err = primary.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.DeviceID,
		token.Platform,
		token.Token,
		token.Active,
		token.RevokedAt,
		token.LastUsedAt,
		token.CreatedAt,
		token.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("registering device token: %w", err)
	}

	return nil
}

// ActiveByUser returns the user's active tokens, oldest registration first.
func (store *DeviceTokenStore) ActiveByUser(ctx context.Context, userID string) ([]*message.DevicePushToken, error) {
	resolver, err := store.connection.Resolver(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, user_id, device_id, platform, token, active, revoked_at, last_used_at, created_at, updated_at
		FROM %s
		WHERE user_id = $1 AND active = TRUE
		ORDER BY created_at ASC`, deviceTable)

	rows, err := resolver.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing active device tokens: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	tokens := make([]*message.DevicePushToken, 0)

	for rows.Next() {
		var token message.DevicePushToken

		if err := rows.Scan(
			&token.ID,
			&token.UserID,
			&token.DeviceID,
			&token.Platform,
			&token.Token,
			&token.Active,
			&token.RevokedAt,
			&token.LastUsedAt,
			&token.CreatedAt,
			&token.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning device token: %w", err)
		}

		tokens = append(tokens, &token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device tokens: %w", err)
	}

	return tokens, nil
}

// MarkUsed stamps a successful send through the token.
func (store *DeviceTokenStore) MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	primary, err := store.connection.Primary(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET last_used_at = $1, updated_at = $1 WHERE id = $2`, deviceTable)

	if _, err := primary.ExecContext(ctx, query, usedAt.UTC(), id); err != nil {
		return fmt.Errorf("marking device token used: %w", err)
	}

	return nil
}

// Revoke deactivates a token. One-way: a revoked row stays revoked until the
// device re-registers.
func (store *DeviceTokenStore) Revoke(ctx context.Context, id uuid.UUID, revokedAt time.Time) error {
	primary, err := store.connection.Primary(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s
		SET active = FALSE, revoked_at = $1, updated_at = $1
		WHERE id = $2 AND active = TRUE`, deviceTable)

	if _, err := primary.ExecContext(ctx, query, revokedAt.UTC(), id); err != nil {
		return fmt.Errorf("revoking device token: %w", err)
	}

	return nil
}
