package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinkoff-trader/internal/errors"
)

var errVenue = errors.New("venue down")

func newTestBreaker(threshold int) (*CircuitBreaker, *time.Time) {
	now := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: threshold,
		Cooldown:         time.Minute,
		IsFailure:        func(err error) bool { return errors.Is(err, errVenue) },
	})
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	cb, _ := newTestBreaker(3)
	fail := func() error { return errVenue }

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errVenue)
	}
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State(), "a success resets the count")

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errVenue)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, errors.ErrConnectionFailed)
	assert.False(t, called)
	assert.Equal(t, int64(1), cb.Stats().TotalRejected)
}

func TestCircuitHalfOpenTrial(t *testing.T) {
	ctx := context.Background()
	cb, now := newTestBreaker(1)

	require.Error(t, cb.Execute(ctx, func() error { return errVenue }))
	require.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(2 * time.Minute)
	require.Error(t, cb.Execute(ctx, func() error { return errVenue }))
	assert.Equal(t, CircuitOpen, cb.State(), "a failed trial call reopens the circuit")

	*now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitIgnoresClientErrorsAndCancellation(t *testing.T) {
	cb, _ := newTestBreaker(1)
	badRequest := errors.New("invalid quantity")

	assert.ErrorIs(t, cb.Execute(context.Background(), func() error { return badRequest }), badRequest)
	assert.Equal(t, CircuitClosed, cb.State())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, cb.Execute(ctx, func() error { return errVenue }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitDisabled(t *testing.T) {
	cb, _ := newTestBreaker(0)
	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), func() error { return errVenue })
	}
	assert.Equal(t, CircuitClosed, cb.State())
	assert.InDelta(t, 100.0, cb.Stats().FailureRate(), 1e-9)
}
