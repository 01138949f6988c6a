// Package postgres manages the PostgreSQL connection pair (primary plus
// optional read replica) used by the notification stores, including schema
// migrations on connect.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bxcodec/dbresolver/v2"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tsu-platform/notify/log"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var (
	// ErrNotConnected indicates the connection was used before Connect.
	ErrNotConnected = errors.New("postgres connection not established")

	// ErrConnectionRequired indicates a nil connection was passed to a store.
	ErrConnectionRequired = errors.New("postgres connection is required")

	// ErrNoPrimaryDB indicates the resolver holds no writable database.
	ErrNoPrimaryDB = errors.New("no primary database configured")
)

// Connection is a hub over a primary/replica PostgreSQL pair. Reads go
// through the resolver's round-robin balancer; writes always hit the primary.
type Connection struct {
	ConnectionStringPrimary string
	ConnectionStringReplica string
	DatabaseName            string
	Component               string
	MigrationsPath          string
	MaxOpenConnections      int
	MaxIdleConnections      int
	Logger                  log.Logger

	resolver  dbresolver.DB
	primary   *sql.DB
	connected bool
	mu        sync.RWMutex
}

func (connection *Connection) initDefaults() {
	if connection.Logger == nil {
		connection.Logger = log.NewNop()
	}

	if connection.MaxOpenConnections <= 0 {
		connection.MaxOpenConnections = defaultMaxOpenConns
	}

	if connection.MaxIdleConnections <= 0 {
		connection.MaxIdleConnections = defaultMaxIdleConns
	}

	if connection.ConnectionStringReplica == "" {
		connection.ConnectionStringReplica = connection.ConnectionStringPrimary
	}
}

// Connect opens the primary and replica pools, runs pending migrations, and
// wires the resolver. Safe to call once; later calls are no-ops while
// connected.
func (connection *Connection) Connect(ctx context.Context) error {
	connection.mu.Lock()
	defer connection.mu.Unlock()

	if connection.connected {
		return nil
	}

	connection.initDefaults()

	if ctx == nil {
		ctx = context.Background()
	}

	primary, err := openPool(ctx, connection.ConnectionStringPrimary, connection)
	if err != nil {
		return fmt.Errorf("connect primary: %w", err)
	}

	replica, err := openPool(ctx, connection.ConnectionStringReplica, connection)
	if err != nil {
		closeQuietly(primary)

		return fmt.Errorf("connect replica: %w", err)
	}

	if connection.MigrationsPath != "" {
		if err := connection.runMigrations(ctx, primary); err != nil {
			closeQuietly(primary)
			closeQuietly(replica)

			return err
		}
	}

	connection.resolver = dbresolver.New(
		dbresolver.WithPrimaryDBs(primary),
		dbresolver.WithReplicaDBs(replica),
		dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
	)
	connection.primary = primary
	connection.connected = true

	connection.Logger.Log(ctx, log.LevelInfo, "postgres connected",
		log.String("component", connection.Component),
		log.String("database", connection.DatabaseName),
	)

	return nil
}

// Primary returns the writable database. Transactions that pair business
// writes with outbox inserts must start here.
func (connection *Connection) Primary(context.Context) (*sql.DB, error) {
	connection.mu.RLock()
	defer connection.mu.RUnlock()

	if !connection.connected || connection.primary == nil {
		return nil, ErrNotConnected
	}

	return connection.primary, nil
}

// Resolver returns the balanced primary/replica handle for read paths.
func (connection *Connection) Resolver(context.Context) (dbresolver.DB, error) {
	connection.mu.RLock()
	defer connection.mu.RUnlock()

	if !connection.connected || connection.resolver == nil {
		return nil, ErrNotConnected
	}

	return connection.resolver, nil
}

// IsConnected reports whether Connect has completed.
func (connection *Connection) IsConnected() bool {
	connection.mu.RLock()
	defer connection.mu.RUnlock()

	return connection.connected
}

// Close releases both pools.
func (connection *Connection) Close() error {
	connection.mu.Lock()
	defer connection.mu.Unlock()

	if !connection.connected {
		return nil
	}

	var err error
	if connection.resolver != nil {
		err = connection.resolver.Close()
	}

	connection.resolver = nil
	connection.primary = nil
	connection.connected = false

	return err
}

func (connection *Connection) runMigrations(ctx context.Context, primary *sql.DB) error {
	driver, err := migratepg.WithInstance(primary, &migratepg.Config{DatabaseName: connection.DatabaseName})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}

	migrator, err := migrate.NewWithDatabaseInstance("file://"+connection.MigrationsPath, connection.DatabaseName, driver)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	connection.Logger.Log(ctx, log.LevelInfo, "postgres migrations applied",
		log.String("path", connection.MigrationsPath),
	)

	return nil
}

func openPool(ctx context.Context, connectionString string, connection *Connection) (*sql.DB, error) {
	db, err := sql.Open("pgx", connectionString)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(connection.MaxOpenConnections)
	db.SetMaxIdleConns(connection.MaxIdleConnections)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		closeQuietly(db)

		return nil, err
	}

	return db, nil
}

func closeQuietly(db *sql.DB) {
	if db != nil {
		_ = db.Close()
	}
}
