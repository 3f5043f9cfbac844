package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestConnectSucceedsAfterFailures(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	calls := 0
	err := Connect(context.Background(), "target", 5, time.Millisecond, zap.New(core), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, logs.FilterMessage("connection attempt failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("connected").Len())
}

func TestConnectGivesUp(t *testing.T) {
	refused := errors.New("connection refused")
	calls := 0
	err := Connect(context.Background(), "target", 2, time.Millisecond, zap.NewNop(), func(context.Context) error {
		calls++
		return refused
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestConnectZeroAttemptsTriesOnce(t *testing.T) {
	calls := 0
	err := Connect(context.Background(), "source", 0, time.Millisecond, zap.NewNop(), func(context.Context) error {
		calls++
		return errors.New("nope")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestConnectHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Connect(ctx, "target", 10, time.Hour, zap.NewNop(), func(context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestConnectStopsOnPermanentError(t *testing.T) {
	missing := errors.New("file not found")
	calls := 0
	err := Connect(context.Background(), "source", 5, time.Millisecond, zap.NewNop(), func(context.Context) error {
		calls++
		return Permanent(missing)
	})
	assert.ErrorIs(t, err, missing)
	assert.Equal(t, 1, calls)
	assert.NoError(t, Permanent(nil))
}
