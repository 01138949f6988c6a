// Package postgres implements the outbox repository on PostgreSQL. Claims
// rely on FOR UPDATE SKIP LOCKED so concurrent poller instances never hand
// the same record to the queue twice.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tsu-platform/notify/internal/nilcheck"
	"github.com/tsu-platform/notify/log"
	"github.com/tsu-platform/notify/outbox"
	libpg "github.com/tsu-platform/notify/postgres"
)

const maxSQLIdentifierLength = 63

var (
	// ErrStateConflict indicates a finalize or failure write found the record
	// no longer in the expected state. Another instance got there first.
	ErrStateConflict = errors.New("outbox record state conflict")

	// ErrLimitMustBePositive guards list and claim limits.
	ErrLimitMustBePositive = errors.New("limit must be greater than zero")

	// ErrInvalidIdentifier guards configurable table names.
	ErrInvalidIdentifier = errors.New("invalid sql identifier")

	identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

	outboxColumns = "id, channel, message_id, event_type, status, attempt_count, max_attempts, " +
		"next_attempt_at, last_error, processing_started_at, processed_at, partition_key, created_at"
)

const defaultTransactionTimeout = 30 * time.Second

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(repo *Repository) {
		if !nilcheck.Interface(logger) {
			repo.logger = logger
		}
	}
}

// WithTableName overrides the outbox table name.
func WithTableName(tableName string) Option {
	return func(repo *Repository) {
		repo.tableName = tableName
	}
}

// WithTransactionTimeout bounds repository-opened transactions.
func WithTransactionTimeout(timeout time.Duration) Option {
	return func(repo *Repository) {
		if timeout > 0 {
			repo.transactionTimeout = timeout
		}
	}
}

// Repository persists outbox records in PostgreSQL.
type Repository struct {
	connection         *libpg.Connection
	logger             log.Logger
	tableName          string
	transactionTimeout time.Duration
}

// NewRepository builds a PostgreSQL outbox repository.
func NewRepository(connection *libpg.Connection, opts ...Option) (*Repository, error) {
	if connection == nil {
		return nil, libpg.ErrConnectionRequired
	}

	repo := &Repository{
		connection:         connection,
		logger:             log.NewNop(),
		tableName:          "notification_outbox",
		transactionTimeout: defaultTransactionTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}

	if _, err := quoteIdentifierPath(repo.tableName); err != nil {
		return nil, err
	}

	return repo, nil
}

// CreateWithTx inserts the record inside the caller's transaction. Publishing
// the same (channel, message, event type) intent twice returns the already
// stored record, leaning on the table's uniqueness constraint rather than a
// read-then-write race.
func (repo *Repository) CreateWithTx(ctx context.Context, tx outbox.Tx, record *outbox.OutboxRecord) (*outbox.OutboxRecord, error) {
	if tx == nil {
		return nil, outbox.ErrTransactionRequired
	}

	if record == nil {
		return nil, outbox.ErrRecordRequired
	}

	table, err := quoteIdentifierPath(repo.tableName)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (channel, message_id, event_type) DO NOTHING
		RETURNING %s`, table, outboxColumns, outboxColumns)

	row := tx.QueryRowContext(ctx, query,
		record.ID,
		record.Channel,
		record.MessageID,
		record.EventType,
		record.Status,
		record.AttemptCount,
		record.MaxAttempts,
		record.NextAttemptAt,
		nullableString(record.LastError),
		record.ProcessingStartedAt,
		record.ProcessedAt,
		record.PartitionKey,
		record.CreatedAt,
	)

	stored, err := scanOutboxRecord(row)
	if err == nil {
		return stored, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("inserting outbox record: %w", err)
	}

	// Conflict path: the intent was already published in this or an earlier
	// transaction. Return the stored record unchanged.
	existingQuery := fmt.Sprintf(
		`SELECT %s FROM %s WHERE channel = $1 AND message_id = $2 AND event_type = $3`,
		outboxColumns, table)

	existing, err := scanOutboxRecord(tx.QueryRowContext(ctx, existingQuery, record.Channel, record.MessageID, record.EventType))
	if err != nil {
		return nil, fmt.Errorf("loading existing outbox record: %w", err)
	}

	return existing, nil
}

// GetByID loads a single record.
func (repo *Repository) GetByID(ctx context.Context, id uuid.UUID) (*outbox.OutboxRecord, error) {
	table, err := quoteIdentifierPath(repo.tableName)
	if err != nil {
		return nil, err
	}

	resolver, err := repo.connection.Resolver(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, outboxColumns, table)

	record, err := scanOutboxRecord(resolver.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, outbox.ErrNotFound
		}

		return nil, fmt.Errorf("loading outbox record: %w", err)
	}

	return record, nil
}

// ClaimReady selects up to limit ready records oldest first, locks them with
// SKIP LOCKED, and stamps them PROCESSING in the same transaction.
func (repo *Repository) ClaimReady(ctx context.Context, limit int) ([]*outbox.OutboxRecord, error) {
	if limit <= 0 {
		return nil, ErrLimitMustBePositive
	}

	table, err := quoteIdentifierPath(repo.tableName)
	if err != nil {
		return nil, err
	}

	return repo.withPrimaryTx(ctx, func(tx *sql.Tx) ([]*outbox.OutboxRecord, error) {
		now := time.Now().UTC()

		selectQuery := fmt.Sprintf(`SELECT %s FROM %s
			WHERE status = $1
			   OR (status = $2 AND next_attempt_at IS NOT NULL AND next_attempt_at <= $3)
			ORDER BY created_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED`, outboxColumns, table)

		rows, err := tx.QueryContext(ctx, selectQuery, outbox.StatusPending, outbox.StatusFailed, now, limit)
		if err != nil {
			return nil, fmt.Errorf("selecting ready outbox records: %w", err)
		}

		records, err := collectOutboxRecords(rows)
		if err != nil {
			return nil, err
		}

		if len(records) == 0 {
			return records, nil
		}

		ids := make([]uuid.UUID, 0, len(records))
		for _, record := range records {
			ids = append(ids, record.ID)
		}

		updateQuery := fmt.Sprintf(`UPDATE %s
			SET status = $1, processing_started_at = $2
			WHERE id = ANY($3)`, table)

		result, err := tx.ExecContext(ctx, updateQuery, outbox.StatusProcessing, now, ids)
		if err != nil {
			return nil, fmt.Errorf("claiming outbox records: %w", err)
		}

		if err := ensureRowsAffectedExact(result, int64(len(ids))); err != nil {
			return nil, fmt.Errorf("claiming outbox records: %w", err)
		}

		for _, record := range records {
			record.Status = outbox.StatusProcessing
			claimedAt := now
			record.ProcessingStartedAt = &claimedAt
		}

		return records, nil
	})
}

// MarkProcessed finalizes a PROCESSING record after acknowledged delivery.
func (repo *Repository) MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	table, err := quoteIdentifierPath(repo.tableName)
	if err != nil {
		return err
	}

	primary, err := repo.connection.Primary(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s
		SET status = $1, processed_at = $2
		WHERE id = $3 AND status = $4`, table)

	result, err := primary.ExecContext(ctx, query, outbox.StatusProcessed, processedAt.UTC(), id, outbox.StatusProcessing)
	if err != nil {
		return fmt.Errorf("marking outbox record processed: %w", err)
	}

	return ensureRowsAffected(result)
}

// MarkFailed persists retry bookkeeping computed on the record. The guard on
// the current PROCESSING status catches concurrent finalizers.
func (repo *Repository) MarkFailed(ctx context.Context, record *outbox.OutboxRecord) error {
	if record == nil {
		return outbox.ErrRecordRequired
	}

	table, err := quoteIdentifierPath(repo.tableName)
	if err != nil {
		return err
	}

	primary, err := repo.connection.Primary(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s
		SET status = $1, attempt_count = $2, next_attempt_at = $3, last_error = $4
		WHERE id = $5 AND status = $6`, table)

	result, err := primary.ExecContext(ctx, query,
		outbox.StatusFailed,
		record.AttemptCount,
		record.NextAttemptAt,
		nullableString(record.LastError),
		record.ID,
		outbox.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("marking outbox record failed: %w", err)
	}

	return ensureRowsAffected(result)
}

// MarkInvalid terminally marks a record whose payload is missing.
func (repo *Repository) MarkInvalid(ctx context.Context, id uuid.UUID, lastError string) error {
	table, err := quoteIdentifierPath(repo.tableName)
	if err != nil {
		return err
	}

	primary, err := repo.connection.Primary(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s
		SET status = $1, last_error = $2, next_attempt_at = NULL
		WHERE id = $3 AND status = ANY($4)`, table)

	claimable := []string{string(outbox.StatusPending), string(outbox.StatusProcessing)}

	result, err := primary.ExecContext(ctx, query, outbox.StatusInvalid, nullableString(lastError), id, claimable)
	if err != nil {
		return fmt.Errorf("marking outbox record invalid: %w", err)
	}

	return ensureRowsAffected(result)
}

// ResetStuck returns abandoned PROCESSING records to PENDING, up to limit
// rows per call.
func (repo *Repository) ResetStuck(ctx context.Context, stuckBefore time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, ErrLimitMustBePositive
	}

	table, err := quoteIdentifierPath(repo.tableName)
	if err != nil {
		return 0, err
	}

	primary, err := repo.connection.Primary(ctx)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`UPDATE %s
		SET status = $1, processing_started_at = NULL
		WHERE id IN (
			SELECT id FROM %s
			WHERE status = $2 AND processing_started_at IS NOT NULL AND processing_started_at < $3
			ORDER BY processing_started_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)`, table, table)

	result, err := primary.ExecContext(ctx, query, outbox.StatusPending, outbox.StatusProcessing, stuckBefore.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("resetting stuck outbox records: %w", err)
	}

	return result.RowsAffected()
}

// DeleteProcessedBefore sweeps finished records older than the threshold.
func (repo *Repository) DeleteProcessedBefore(ctx context.Context, threshold time.Time) (int64, error) {
	table, err := quoteIdentifierPath(repo.tableName)
	if err != nil {
		return 0, err
	}

	primary, err := repo.connection.Primary(ctx)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE status = $1 AND processed_at IS NOT NULL AND processed_at < $2`, table)

	result, err := primary.ExecContext(ctx, query, outbox.StatusProcessed, threshold.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting processed outbox records: %w", err)
	}

	return result.RowsAffected()
}

func (repo *Repository) withPrimaryTx(ctx context.Context, fn func(*sql.Tx) ([]*outbox.OutboxRecord, error)) ([]*outbox.OutboxRecord, error) {
	primary, err := repo.connection.Primary(ctx)
	if err != nil {
		return nil, err
	}

	txCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc

		txCtx, cancel = context.WithTimeout(ctx, repo.transactionTimeout)
		defer cancel()
	}

	tx, err := primary.BeginTx(txCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	records, err := fn(tx)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return records, nil
}

func collectOutboxRecords(rows *sql.Rows) ([]*outbox.OutboxRecord, error) {
	defer func() {
		_ = rows.Close()
	}()

	records := make([]*outbox.OutboxRecord, 0)

	for rows.Next() {
		record, err := scanOutboxRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outbox records: %w", err)
	}

	return records, nil
}

func scanOutboxRecord(scanner interface{ Scan(dest ...any) error }) (*outbox.OutboxRecord, error) {
	var record outbox.OutboxRecord

	var lastError sql.NullString

	if err := scanner.Scan(
		&record.ID,
		&record.Channel,
		&record.MessageID,
		&record.EventType,
		&record.Status,
		&record.AttemptCount,
		&record.MaxAttempts,
		&record.NextAttemptAt,
		&lastError,
		&record.ProcessingStartedAt,
		&record.ProcessedAt,
		&record.PartitionKey,
		&record.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("scanning outbox record: %w", err)
	}

	if lastError.Valid {
		record.LastError = lastError.String
	}

	return &record, nil
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

func ensureRowsAffectedExact(result sql.Result, expected int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}

	if affected != expected {
		return fmt.Errorf("%w: expected %d rows, affected %d", ErrStateConflict, expected, affected)
	}

	return nil
}

func nullableString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func quoteIdentifier(identifier string) (string, error) {
	if identifier == "" || len(identifier) > maxSQLIdentifierLength || !identifierPattern.MatchString(identifier) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, identifier)
	}

	return `"` + identifier + `"`, nil
}

func quoteIdentifierPath(path string) (string, error) {
	parts := strings.Split(path, ".")
	quoted := make([]string, 0, len(parts))

	for _, part := range parts {
		quotedPart, err := quoteIdentifier(part)
		if err != nil {
			return "", err
		}

		quoted = append(quoted, quotedPart)
	}

	return strings.Join(quoted, "."), nil
}
