package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoRetriesUntilSuccess(t *testing.T) {
	cfg := Config{BaseDelay: time.Millisecond, Multiplier: 2, MaxAttempts: 5, MaxElapsed: time.Second}

	attempts := 0
	err := Do(context.Background(), cfg, "test", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	cfg := Config{BaseDelay: time.Millisecond, Multiplier: 2, MaxAttempts: 5, MaxElapsed: time.Second}

	attempts := 0
	err := Do(context.Background(), cfg, "test", func() error {
		attempts++
		return Permanent(errors.New("bad schema"))
	})

	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestDoExhaustsMaxAttempts(t *testing.T) {
	cfg := Config{BaseDelay: time.Millisecond, Multiplier: 2, MaxAttempts: 3, MaxElapsed: time.Second}

	attempts := 0
	err := Do(context.Background(), cfg, "test", func() error {
		attempts++
		return errors.New("always fails")
	})

	require.Error(t, err)
	require.Equal(t, 3, attempts)
}
