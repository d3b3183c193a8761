package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFixedWindow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	l := New(3, time.Minute, 100)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("1.2.3.4"), "call %d should be admitted", i)
	}
	require.False(t, l.Allow("1.2.3.4"), "call over the limit must be denied")

	// Another key is independent.
	require.True(t, l.Allow("5.6.7.8"))

	// A call after the window elapses resets the counter.
	now = now.Add(time.Minute)
	require.True(t, l.Allow("1.2.3.4"))
	require.True(t, l.Allow("1.2.3.4"))
}

func TestDenyDoesNotConsume(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	l := New(1, time.Minute, 100)
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("k"))
	require.False(t, l.Allow("k"))
	require.False(t, l.Allow("k"))

	now = now.Add(61 * time.Second)
	require.True(t, l.Allow("k"))
}

func TestBoundedEntries(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	l := New(5, time.Minute, 10)
	l.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		now = now.Add(time.Millisecond)
		l.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	require.LessOrEqual(t, l.Len(), 10, "entry table must stay bounded")

	// Keys with expired windows are swept on overflow; a live key survives.
	now = now.Add(2 * time.Minute)
	l.Allow("fresh")
	for i := 0; i < 11; i++ {
		now = now.Add(time.Millisecond)
		l.Allow(fmt.Sprintf("192.168.0.%d", i))
	}
	require.LessOrEqual(t, l.Len(), 10)
	require.True(t, l.Allow("fresh"))
}
