package postcode

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_SpacesRequests(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLimiter(time.Second, clock)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx), "first request is immediate")

	done := make(chan error, 1)
	go func() { done <- l.Wait(ctx) }()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	select {
	case <-done:
		t.Fatal("second request must wait for the interval")
	default:
	}

	clock.Advance(time.Second)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second request was not released")
	}
}

func TestLimiter_ContextCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLimiter(time.Minute, clock)

	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(0, clockwork.NewFakeClock())
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
}
