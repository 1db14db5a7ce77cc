package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3}, "send", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("network down")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("network down")
	err := Do(context.Background(), Policy{Attempts: 3, Backoff: time.Millisecond}, "send", func(ctx context.Context) error {
		calls++
		return sentinel
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	sentinel := errors.New("bad request")
	err := Do(context.Background(), Policy{Attempts: 5}, "send", func(ctx context.Context) error {
		calls++
		return Permanent(sentinel)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDo_NonPositiveAttemptsMeansOne(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Policy{Attempts: 0}, "send", func(ctx context.Context) error {
		calls++
		return errors.New("fail")
	})
	assert.Equal(t, 1, calls)
}

func TestDo_PerAttemptTimeout(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 2, Timeout: 20 * time.Millisecond}, "slow", func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttemptTimeout)
	assert.Equal(t, 2, calls)
}

func TestDoValue_ReturnsResult(t *testing.T) {
	v, err := DoValue(context.Background(), Policy{Attempts: 2}, "fetch", func(ctx context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), v)
}
