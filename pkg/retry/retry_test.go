package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		JitterFactor:   0.1,
	}
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("First Attempt Succeeds", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(3), func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("Retries Until Success", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(5), func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("Exhausted Attempts Return Last Error", func(t *testing.T) {
		wantErr := errors.New("still broken")
		calls := 0
		err := Do(ctx, fastConfig(3), func() error {
			calls++
			return wantErr
		})
		assert.ErrorIs(t, err, wantErr)
		assert.Equal(t, 3, calls)
	})

	t.Run("Cancelled Context Stops Retrying", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())

		calls := 0
		err := Do(cancelled, Config{MaxAttempts: 10, InitialBackoff: time.Hour}, func() error {
			calls++
			cancel()
			return errors.New("transient")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls, "must not wait out the backoff after cancellation")
	})

	t.Run("Pre-Cancelled Context Never Calls Fn", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		calls := 0
		err := Do(cancelled, fastConfig(3), func() error {
			calls++
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, calls)
	})

	t.Run("Zero Config Gets Defaults", func(t *testing.T) {
		err := Do(ctx, Config{}, func() error { return nil })
		require.NoError(t, err)
	})
}
