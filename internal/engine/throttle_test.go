package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatch/internal/engine"
)

func TestCallRateThrottle(t *testing.T) {
	t.Run("First call passes immediately", func(t *testing.T) {
		th := engine.NewCallRateThrottle(1)
		start := time.Now()
		require.NoError(t, th.Wait(context.Background()))
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("Cancelled context aborts a pending wait", func(t *testing.T) {
		th := engine.NewCallRateThrottle(1)
		require.NoError(t, th.Wait(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := th.Wait(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Calls are spaced at the configured rate", func(t *testing.T) {
		th := engine.NewCallRateThrottle(100) // 10ms apart
		start := time.Now()
		for i := 0; i < 3; i++ {
			require.NoError(t, th.Wait(context.Background()))
		}
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})
}
