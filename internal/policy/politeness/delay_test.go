package politeness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelayNextWithinBounds(t *testing.T) {
	t.Parallel()

	d := New(800*time.Millisecond, 2200*time.Millisecond)
	for i := 0; i < 500; i++ {
		got := d.Next()
		require.GreaterOrEqual(t, got, 800*time.Millisecond)
		require.LessOrEqual(t, got, 2200*time.Millisecond)
	}
}

func TestDelayNormalisesBounds(t *testing.T) {
	t.Parallel()

	d := New(50*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, 10*time.Millisecond, d.low)
	require.Equal(t, 50*time.Millisecond, d.high)

	fixed := New(-time.Second, 0)
	require.Zero(t, fixed.Next())
	require.NoError(t, fixed.Wait(context.Background()))
}

func TestDelayUsesFullRange(t *testing.T) {
	t.Parallel()

	d := New(time.Second, 2*time.Second)
	d.draw = func(n int64) int64 { return n - 1 }
	require.Equal(t, 2*time.Second, d.Next())
	d.draw = func(int64) int64 { return 0 }
	require.Equal(t, time.Second, d.Next())
}

func TestDelayWaitHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := New(5*time.Second, 5*time.Second).Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second, "wait should exit immediately when context is done")
}
