// Package redis manages the Redis connection used for cross-instance
// coordination: the maintenance locks that keep stuck-reset and cleanup
// single-flight across poller instances.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	goredislib "github.com/redis/go-redis/v9"

	"github.com/tsu-platform/notify/log"
)

// ErrNotConnected indicates the connection was used before Connect.
var ErrNotConnected = errors.New("redis connection not established")

// Connection is a hub over one Redis client.
type Connection struct {
	Address  string
	Password string
	DB       int
	Logger   log.Logger

	client    *goredislib.Client
	connected bool
	mu        sync.RWMutex
}

// Connect opens and pings the client. Safe to call once; later calls are
// no-ops while connected.
func (connection *Connection) Connect(ctx context.Context) error {
	connection.mu.Lock()
	defer connection.mu.Unlock()

	if connection.connected {
		return nil
	}

	if connection.Logger == nil {
		connection.Logger = log.NewNop()
	}

	if ctx == nil {
		ctx = context.Background()
	}

	client := goredislib.NewClient(&goredislib.Options{
		Addr:     connection.Address,
		Password: connection.Password,
		DB:       connection.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return fmt.Errorf("redis ping: %w", err)
	}

	connection.client = client
	connection.connected = true

	connection.Logger.Log(ctx, log.LevelInfo, "redis connected",
		log.String("address", connection.Address),
	)

	return nil
}

// Client returns the underlying client.
func (connection *Connection) Client(context.Context) (*goredislib.Client, error) {
	connection.mu.RLock()
	defer connection.mu.RUnlock()

	if !connection.connected || connection.client == nil {
		return nil, ErrNotConnected
	}

	return connection.client, nil
}

// IsConnected reports whether Connect has completed.
func (connection *Connection) IsConnected() bool {
	connection.mu.RLock()
	defer connection.mu.RUnlock()

	return connection.connected
}

// Close releases the client.
func (connection *Connection) Close() error {
	connection.mu.Lock()
	defer connection.mu.Unlock()

	if !connection.connected {
		return nil
	}

	err := connection.client.Close()
	connection.client = nil
	connection.connected = false

	return err
}
