package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDebouncerCoalesces(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() { runs.Add(1) })
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Trigger()
		time.Sleep(2 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return runs.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// No spurious second run after the burst.
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, int32(1), runs.Load())
}

func TestDebouncerCancel(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func() { runs.Add(1) })
	defer d.Stop()

	d.Trigger()
	d.Cancel()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), runs.Load())

	// Canceling does not poison later triggers.
	d.Trigger()
	require.Eventually(t, func() bool {
		return runs.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDebouncerFlush(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	d := NewDebouncer(time.Hour, func() { runs.Add(1) })
	defer d.Stop()

	d.Flush() // nothing pending: no-op
	require.Equal(t, int32(0), runs.Load())

	d.Trigger()
	d.Flush()
	require.Equal(t, int32(1), runs.Load())
	d.Flush()
	require.Equal(t, int32(1), runs.Load())
}

func TestDebouncerStop(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	d := NewDebouncer(10*time.Millisecond, func() { runs.Add(1) })

	d.Trigger()
	d.Stop()
	d.Trigger()
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, int32(0), runs.Load())
}

func TestAfter(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	After(10*time.Millisecond, func() { runs.Add(1) })
	require.Eventually(t, func() bool {
		return runs.Load() == 1
	}, time.Second, 5*time.Millisecond)

	cancel := After(10*time.Millisecond, func() { runs.Add(1) })
	cancel()
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, int32(1), runs.Load())
}
