//go:build unit

package zap

import (
	"testing"

	"github.com/stretchr/testify/require"

	logpkg "github.com/tsu-platform/notify/log"
)

func TestNewParsesTextualLevelAndInitialFields(t *testing.T) {
	logger, err := New(Config{
		Level:       "warn",
		Development: true,
		InitialFields: []logpkg.Field{
			logpkg.String("service", "notify-worker"),
		},
	})
	require.NoError(t, err)

	require.True(t, logger.Enabled(logpkg.LevelWarn))
	require.True(t, logger.Enabled(logpkg.LevelError))
	require.False(t, logger.Enabled(logpkg.LevelInfo))
}

func TestNewDefaultsToInfoWhenLevelEmpty(t *testing.T) {
	logger, err := New(Config{})
	require.NoError(t, err)

	require.True(t, logger.Enabled(logpkg.LevelInfo))
	require.False(t, logger.Enabled(logpkg.LevelDebug))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	logger, err := New(Config{Level: "loud"})
	require.Error(t, err)
	require.Nil(t, logger)
}

func TestSetLevelChangesThresholdAtRuntime(t *testing.T) {
	logger, err := New(Config{Level: "error"})
	require.NoError(t, err)
	require.False(t, logger.Enabled(logpkg.LevelDebug))

	logger.SetLevel(logpkg.LevelDebug)
	require.True(t, logger.Enabled(logpkg.LevelDebug))
}
