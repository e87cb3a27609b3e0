package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scholia/scholia/internal/models"
	"github.com/scholia/scholia/internal/source"
)

func pushMessages(src *source.Memory, roomID string, n int) {
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		src.Push(models.Event{
			ID:        fmt.Sprintf("$msg%d", i),
			RoomID:    roomID,
			Type:      models.EventTypeMessage,
			Sender:    "@alice:server",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
}

func testConfig(src source.EventSource, vp Viewport, roomID string) Config {
	return Config{
		RoomID:          roomID,
		Source:          src,
		Viewport:        vp,
		PageSize:        10,
		FillRetry:       5 * time.Millisecond,
		FillSettle:      5 * time.Millisecond,
		AnchorRelease:   10 * time.Millisecond,
		ReceiptDebounce: 5 * time.Millisecond,
	}
}

func TestLoadSeedsBackwardsPage(t *testing.T) {
	t.Parallel()
	src := source.NewMemory()
	pushMessages(src, "!disc:server", 15)

	var zeroed atomic.Int32
	cfg := testConfig(src, NewStaticViewport(), "!disc:server")
	cfg.ZeroUnread = func(string) { zeroed.Add(1) }

	w, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Load(context.Background()))

	events := w.Events()
	require.Len(t, events, 10)
	require.Equal(t, "$msg6", events[0].ID)
	require.Equal(t, "$msg15", events[9].ID)

	// The debounced receipt lands on the newest loaded event.
	require.Eventually(t, func() bool {
		return src.LastReceipt("!disc:server") == "$msg15"
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return zeroed.Load() >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestTryFillBackwardsUntilExhausted(t *testing.T) {
	t.Parallel()
	src := source.NewMemory()
	pushMessages(src, "!disc:server", 15)

	var exhausted atomic.Int32
	cfg := testConfig(src, NewStaticViewport(), "!disc:server")
	cfg.OnExhausted = func(d source.Direction) {
		if d == source.Backwards {
			exhausted.Add(1)
		}
	}

	w, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Load(context.Background()))
	require.False(t, w.FullyScrolledUp())

	// One nudge is enough: each completed batch schedules the next
	// attempt until the remote runs dry.
	w.TryFill(context.Background(), source.Backwards)

	require.Eventually(t, func() bool {
		return w.FullyScrolledUp()
	}, time.Second, 5*time.Millisecond)
	require.Len(t, w.Events(), 15)
	require.Equal(t, "$msg1", w.Events()[0].ID)
	require.Equal(t, int32(1), exhausted.Load())
	require.Equal(t, Exhausted, w.State(source.Backwards))
}

func TestTryFillSkipsWhenAnchorHidden(t *testing.T) {
	t.Parallel()
	src := source.NewMemory()
	pushMessages(src, "!disc:server", 15)

	vp := NewStaticViewport()
	vp.SetAnchorHidden(source.Backwards, true)

	w, err := Open(context.Background(), testConfig(src, vp, "!disc:server"))
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Load(context.Background()))

	w.TryFill(context.Background(), source.Backwards)
	time.Sleep(30 * time.Millisecond)
	require.Len(t, w.Events(), 10)
	require.Equal(t, Fillable, w.State(source.Backwards))
}

func TestFullyScrolledNeverTrueWhilePaginable(t *testing.T) {
	t.Parallel()
	src := source.NewMemory()
	pushMessages(src, "!disc:server", 30)

	w, err := Open(context.Background(), testConfig(src, NewStaticViewport(), "!disc:server"))
	require.NoError(t, err)
	defer w.Close()

	// An event lands between open and load, so both directions still
	// have remote history pending.
	src.Push(models.Event{ID: "$gap", RoomID: "!disc:server", Type: models.EventTypeMessage, Timestamp: time.Now()})
	require.NoError(t, w.Load(context.Background()))

	// Remote history left in both directions: the edge predicates must
	// stay false even though no fill is in flight.
	require.False(t, w.FullyScrolledUp())
	require.False(t, w.FullyScrolledDown())
}

func TestForwardsAttachRace(t *testing.T) {
	t.Parallel()
	src := source.NewMemory()
	pushMessages(src, "!disc:server", 5)

	var exhausted atomic.Int32
	cfg := testConfig(src, NewStaticViewport(), "!disc:server")
	cfg.OnExhausted = func(d source.Direction) {
		if d == source.Forwards {
			exhausted.Add(1)
		}
	}

	w, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer w.Close()

	// The window opens at the live edge, so forwards pagination is
	// immediately impossible. Before Load attaches the boundary the
	// direction must poll, not conclude exhaustion.
	w.TryFill(context.Background(), source.Forwards)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, int32(0), exhausted.Load())
	require.Equal(t, Fillable, w.State(source.Forwards))

	require.NoError(t, w.Load(context.Background()))
	require.Eventually(t, func() bool {
		return exhausted.Load() == 1
	}, time.Second, 5*time.Millisecond)
	require.True(t, w.FullyScrolledDown())
}

func TestHandleLiveFoldsOnlyWhenCaughtUp(t *testing.T) {
	t.Parallel()
	src := source.NewMemory()
	pushMessages(src, "!disc:server", 5)

	w, err := Open(context.Background(), testConfig(src, NewStaticViewport(), "!disc:server"))
	require.NoError(t, err)
	defer w.Close()

	// An event lands between open and load: the window is behind the
	// live edge, so pushes defer to the next explicit bottom fill.
	src.Push(models.Event{ID: "$gap", RoomID: "!disc:server", Type: models.EventTypeMessage, Timestamp: time.Now()})
	require.NoError(t, w.Load(context.Background()))

	src.Push(models.Event{ID: "$live1", RoomID: "!disc:server", Type: models.EventTypeMessage, Timestamp: time.Now()})
	w.HandleLive(context.Background())
	require.Len(t, w.Events(), 5)

	w.TryFill(context.Background(), source.Forwards)
	require.Eventually(t, func() bool {
		return w.State(source.Forwards) == Exhausted
	}, time.Second, 5*time.Millisecond)
	require.Len(t, w.Events(), 7)

	src.Push(models.Event{ID: "$live2", RoomID: "!disc:server", Type: models.EventTypeMessage, Timestamp: time.Now()})
	w.HandleLive(context.Background())
	events := w.Events()
	require.Equal(t, "$live2", events[len(events)-1].ID)
}

func TestLiveEdgeWindowCaughtUpAtLoad(t *testing.T) {
	t.Parallel()
	src := source.NewMemory()
	pushMessages(src, "!disc:server", 5)

	var exhausted atomic.Int32
	cfg := testConfig(src, NewStaticViewport(), "!disc:server")
	cfg.OnExhausted = func(d source.Direction) {
		if d == source.Forwards {
			exhausted.Add(1)
		}
	}

	w, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Load(context.Background()))

	// Opened at the live edge and loaded without intervening traffic:
	// forwards is already caught up, no fill pass required.
	require.Equal(t, Exhausted, w.State(source.Forwards))
	require.True(t, w.FullyScrolledDown())
	require.Equal(t, int32(1), exhausted.Load())

	// A live push folds in directly.
	src.Push(models.Event{ID: "$live", RoomID: "!disc:server", Type: models.EventTypeMessage, Timestamp: time.Now()})
	w.HandleLive(context.Background())
	events := w.Events()
	require.Equal(t, "$live", events[len(events)-1].ID)
}

func TestReceiptFailureIsLoggedOnly(t *testing.T) {
	t.Parallel()
	src := source.NewMemory()
	pushMessages(src, "!disc:server", 20)
	src.SetEffectError(errors.New("receipt rejected"))

	var zeroed atomic.Int32
	cfg := testConfig(src, NewStaticViewport(), "!disc:server")
	cfg.ZeroUnread = func(string) { zeroed.Add(1) }

	w, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Load(context.Background()))

	time.Sleep(30 * time.Millisecond)
	require.Empty(t, src.LastReceipt("!disc:server"))
	require.Equal(t, int32(0), zeroed.Load())

	// The next growth retries the receipt.
	src.SetEffectError(nil)
	w.TryFill(context.Background(), source.Backwards)
	require.Eventually(t, func() bool {
		return src.LastReceipt("!disc:server") == "$msg20"
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return zeroed.Load() >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestAnchorReleasedWhenBothDirectionsIdle(t *testing.T) {
	t.Parallel()
	src := source.NewMemory()
	pushMessages(src, "!disc:server", 15)

	w, err := Open(context.Background(), testConfig(src, NewStaticViewport(), "!disc:server"))
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Load(context.Background()))

	w.Anchor().Pin("$msg10")
	w.TryFill(context.Background(), source.Backwards)
	require.Eventually(t, func() bool {
		return w.Anchor().Pinned() == ""
	}, time.Second, 5*time.Millisecond)
}

func TestGenerationSupersessionDiscardsResults(t *testing.T) {
	t.Parallel()
	src := source.NewMemory()
	pushMessages(src, "!disc:server", 20)

	var gen atomic.Uint64
	cfg := testConfig(src, NewStaticViewport(), "!disc:server")
	cfg.Generation = gen.Load

	w, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Load(context.Background()))
	require.Len(t, w.Events(), 10)

	// The view moves on: results observed under a stale token are
	// dropped, not folded in.
	gen.Add(1)
	w.TryFill(context.Background(), source.Backwards)
	time.Sleep(30 * time.Millisecond)
	require.Len(t, w.Events(), 10)
}

// blockingSource wraps Memory so the first window's pagination blocks
// until released, exposing in-flight fill behavior.
type blockingSource struct {
	*source.Memory
	handle *blockingHandle
}

type blockingHandle struct {
	inner   source.WindowHandle
	calls   atomic.Int32
	release chan struct{}
}

func (s *blockingSource) OpenWindow(ctx context.Context, roomID string) (source.WindowHandle, error) {
	inner, err := s.Memory.OpenWindow(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.handle = &blockingHandle{inner: inner, release: make(chan struct{})}
	return s.handle, nil
}

func (h *blockingHandle) CanPaginate(d source.Direction) bool { return h.inner.CanPaginate(d) }

func (h *blockingHandle) Paginate(ctx context.Context, d source.Direction, count int) ([]models.Event, error) {
	h.calls.Add(1)
	<-h.release
	return h.inner.Paginate(ctx, d, count)
}

func (h *blockingHandle) Close() { h.inner.Close() }

func TestNoConcurrentFillPerDirection(t *testing.T) {
	t.Parallel()
	mem := source.NewMemory()
	pushMessages(mem, "!disc:server", 20)
	src := &blockingSource{Memory: mem}

	w, err := Open(context.Background(), testConfig(src, NewStaticViewport(), "!disc:server"))
	require.NoError(t, err)
	defer w.Close()

	w.TryFill(context.Background(), source.Backwards)
	require.Eventually(t, func() bool {
		return w.State(source.Backwards) == Filling
	}, time.Second, time.Millisecond)

	// Repeated requests while a batch is in flight must not stack a
	// second pagination.
	w.TryFill(context.Background(), source.Backwards)
	w.TryFill(context.Background(), source.Backwards)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), src.handle.calls.Load())

	close(src.handle.release)
	require.Eventually(t, func() bool {
		return len(w.Events()) >= 10
	}, time.Second, 5*time.Millisecond)
}

func TestScrollAnchorCompensation(t *testing.T) {
	t.Parallel()
	vp := NewStaticViewport()
	vp.SetContentHeight(100)
	vp.SetScrollOffset(120)
	a := NewScrollAnchor(vp)

	// Backwards growth: the height delta is subtracted so the visible
	// content keeps its place.
	vp.SetContentHeight(150)
	a.OnGrowth(true)
	require.Equal(t, 70.0, vp.ScrollOffset())

	// Forwards growth leaves the offset alone.
	vp.SetContentHeight(180)
	a.OnGrowth(false)
	require.Equal(t, 70.0, vp.ScrollOffset())

	// While pinned, growth re-centers the anchored event instead.
	a.Pin("$ev42")
	vp.SetContentHeight(220)
	a.OnGrowth(true)
	require.Equal(t, "$ev42", vp.CenteredOn())
	require.Equal(t, 70.0, vp.ScrollOffset())

	a.Clear()
	require.Empty(t, a.Pinned())
}
