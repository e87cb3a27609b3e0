// Package timeline maintains the paginated window over one discussion's
// event history: a per-direction fill state machine, scroll anchoring
// during growth, live push folding and debounced read receipts.
package timeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scholia/scholia/internal/logging"
	"github.com/scholia/scholia/internal/models"
	"github.com/scholia/scholia/internal/sched"
	"github.com/scholia/scholia/internal/source"
)

// FillState is the per-direction pagination state.
type FillState int

const (
	// Fillable means the direction can accept a fill attempt.
	Fillable FillState = iota
	// Filling means a pagination batch is in flight.
	Filling
	// Exhausted is terminal: the remote has no more events there. A
	// source that never becomes paginable ends here; it is not an error.
	Exhausted
)

// String implements fmt.Stringer for log fields.
func (s FillState) String() string {
	switch s {
	case Filling:
		return "filling"
	case Exhausted:
		return "exhausted"
	}
	return "fillable"
}

// Config configures a Window.
type Config struct {
	RoomID   string
	Source   source.EventSource
	Viewport Viewport

	PageSize        int
	FillRetry       time.Duration
	FillSettle      time.Duration
	AnchorRelease   time.Duration
	ReceiptDebounce time.Duration

	// Generation returns the engine's current generation token. A fill
	// result observed under a different token than the one captured
	// before the await is discarded silently.
	Generation func() uint64

	// OnExhausted is invoked once per direction on transition to
	// Exhausted. Optional.
	OnExhausted func(d source.Direction)

	// OnChange is invoked after the window's event buffer changes.
	// Optional.
	OnChange func()

	// ZeroUnread optimistically clears local unread counters after a
	// receipt lands. Optional.
	ZeroUnread func(roomID string)
}

func (cfg *Config) applyDefaults() {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.FillRetry <= 0 {
		cfg.FillRetry = 100 * time.Millisecond
	}
	if cfg.FillSettle <= 0 {
		cfg.FillSettle = 100 * time.Millisecond
	}
	if cfg.AnchorRelease <= 0 {
		cfg.AnchorRelease = 250 * time.Millisecond
	}
	if cfg.ReceiptDebounce <= 0 {
		cfg.ReceiptDebounce = 200 * time.Millisecond
	}
	if cfg.Generation == nil {
		cfg.Generation = func() uint64 { return 0 }
	}
}

// Window is a bidirectional, paginated cursor over one room's event
// history. The event buffer is owned exclusively by the Window; readers
// get snapshots.
type Window struct {
	log    zerolog.Logger
	cfg    Config
	handle source.WindowHandle
	anchor *ScrollAnchor
	gen    uint64

	anchorRelease *sched.Debouncer
	receipts      *sched.Debouncer

	mu          sync.Mutex
	states      [2]FillState
	attached    [2]bool
	events      []models.Event
	lastReceipt string
	retryCancel [2]func()
	closed      bool
}

// Open opens a window on the room, positioned at the live edge, and
// captures the current generation token.
func Open(ctx context.Context, cfg Config) (*Window, error) {
	cfg.applyDefaults()
	handle, err := cfg.Source.OpenWindow(ctx, cfg.RoomID)
	if err != nil {
		return nil, err
	}

	w := &Window{
		log:    logging.WithRoom(logging.Component("timeline"), cfg.RoomID),
		cfg:    cfg,
		handle: handle,
		anchor: NewScrollAnchor(cfg.Viewport),
		gen:    cfg.Generation(),
	}
	w.anchorRelease = sched.NewDebouncer(cfg.AnchorRelease, w.releaseAnchor)
	w.receipts = sched.NewDebouncer(cfg.ReceiptDebounce, w.sendReceipt)
	return w, nil
}

// Load seeds the window with one backwards page and attaches both
// boundary indexes. Called once after Open.
func (w *Window) Load(ctx context.Context) error {
	events, err := w.handle.Paginate(ctx, source.Backwards, w.cfg.PageSize)
	if w.cfg.Generation() != w.gen {
		return nil
	}
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.events = append(events, w.events...)
	w.attached[source.Backwards] = true
	w.attached[source.Forwards] = true
	grew := len(events) > 0
	// A window opened at the live edge is already caught up forwards;
	// record the exhaustion now so live pushes fold in immediately
	// instead of waiting for an explicit bottom fill.
	caughtUp := !w.handle.CanPaginate(source.Forwards)
	if caughtUp {
		w.states[source.Forwards] = Exhausted
	}
	w.mu.Unlock()

	if caughtUp {
		w.log.Debug().Stringer("direction", source.Forwards).Msg("window exhausted")
		if w.cfg.OnExhausted != nil {
			w.cfg.OnExhausted(source.Forwards)
		}
	}
	if grew {
		w.notifyChange()
		w.receipts.Trigger()
	}
	return nil
}

// Anchor returns the window's scroll anchor.
func (w *Window) Anchor() *ScrollAnchor { return w.anchor }

// Events returns an ordered snapshot of the loaded events.
func (w *Window) Events() []models.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.Event, len(w.events))
	copy(out, w.events)
	return out
}

// State returns the direction's current fill state.
func (w *Window) State(d source.Direction) FillState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.states[d]
}

// FullyScrolledUp reports whether the backwards edge is exhausted.
// Never true while the remote can still paginate backwards.
func (w *Window) FullyScrolledUp() bool {
	return w.edgeReached(source.Backwards)
}

// FullyScrolledDown reports whether the forwards edge is exhausted.
// Never true while the remote can still paginate forwards.
func (w *Window) FullyScrolledDown() bool {
	return w.edgeReached(source.Forwards)
}

func (w *Window) edgeReached(d source.Direction) bool {
	w.mu.Lock()
	exhausted := w.states[d] == Exhausted
	w.mu.Unlock()
	return exhausted && !w.handle.CanPaginate(d)
}

// TryFill attempts to grow the window in the direction. No-ops when the
// direction is exhausted, already filling, or its anchor is off screen.
func (w *Window) TryFill(ctx context.Context, d source.Direction) {
	w.mu.Lock()
	if w.closed || w.states[d] == Exhausted || w.states[d] == Filling {
		w.mu.Unlock()
		return
	}
	if !w.cfg.Viewport.AnchorVisible(d) {
		w.mu.Unlock()
		return
	}

	if !w.handle.CanPaginate(d) {
		if w.attached[d] {
			w.states[d] = Exhausted
			w.mu.Unlock()
			w.log.Debug().Stringer("direction", d).Msg("window exhausted")
			if w.cfg.OnExhausted != nil {
				w.cfg.OnExhausted(d)
			}
			return
		}
		// The remote reported "cannot paginate" before the local
		// boundary attached; poll until local state catches up.
		w.scheduleLocked(d, w.cfg.FillRetry, func() { w.TryFill(ctx, d) })
		w.mu.Unlock()
		return
	}

	w.states[d] = Filling
	w.mu.Unlock()

	// Growth in progress again: hold the pinned element.
	w.anchorRelease.Cancel()

	go w.fill(ctx, d)
}

func (w *Window) fill(ctx context.Context, d source.Direction) {
	gen := w.gen
	events, err := w.handle.Paginate(ctx, d, w.cfg.PageSize)
	if w.cfg.Generation() != gen {
		// Superseded mid-fetch; discard silently.
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.attached[d] = true
	w.states[d] = Fillable
	if err != nil {
		w.scheduleLocked(d, w.cfg.FillRetry, func() { w.TryFill(ctx, d) })
		w.mu.Unlock()
		w.log.Warn().Err(err).Stringer("direction", d).Msg("pagination batch failed")
		w.maybeReleaseAnchor()
		return
	}

	grew := len(events) > 0
	if grew {
		if d == source.Backwards {
			w.events = append(append([]models.Event(nil), events...), w.events...)
		} else {
			w.events = append(w.events, events...)
		}
	}
	// Settle before the next attempt so rapid scroll input coalesces
	// into fewer network calls.
	w.scheduleLocked(d, w.cfg.FillSettle, func() { w.TryFill(ctx, d) })
	w.mu.Unlock()

	if grew {
		w.notifyChange()
		w.anchor.OnGrowth(d == source.Backwards)
		w.receipts.Trigger()
	}
	w.maybeReleaseAnchor()
}

// scheduleLocked arms the direction's single pending timer. Caller
// holds w.mu.
func (w *Window) scheduleLocked(d source.Direction, delay time.Duration, fn func()) {
	if w.retryCancel[d] != nil {
		w.retryCancel[d]()
	}
	gen := w.gen
	w.retryCancel[d] = sched.After(delay, func() {
		if w.cfg.Generation() != gen {
			return
		}
		fn()
	})
}

// maybeReleaseAnchor schedules the anchor release once both directions
// are simultaneously idle; one direction settling while the other still
// mutates layout must not unpin the element.
func (w *Window) maybeReleaseAnchor() {
	w.mu.Lock()
	idle := w.states[source.Backwards] != Filling && w.states[source.Forwards] != Filling
	w.mu.Unlock()
	if idle {
		w.anchorRelease.Trigger()
	}
}

func (w *Window) releaseAnchor() {
	w.mu.Lock()
	idle := w.states[source.Backwards] != Filling && w.states[source.Forwards] != Filling
	w.mu.Unlock()
	if idle {
		w.anchor.Clear()
	}
}

// HandleLive folds a pushed event for this room into the window via a
// single forward pagination, but only when the window is already caught
// up forwards. A scrolled-back window leaves the event for the next
// explicit bottom fill.
func (w *Window) HandleLive(ctx context.Context) {
	w.mu.Lock()
	caughtUp := !w.closed && w.states[source.Forwards] == Exhausted
	w.mu.Unlock()
	if !caughtUp {
		return
	}

	gen := w.gen
	events, err := w.handle.Paginate(ctx, source.Forwards, 1)
	if w.cfg.Generation() != gen {
		return
	}
	if err != nil {
		w.log.Warn().Err(err).Msg("live fold failed")
		return
	}
	if len(events) == 0 {
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.events = append(w.events, events...)
	w.mu.Unlock()

	w.notifyChange()
	w.anchor.OnGrowth(false)
	w.receipts.Trigger()
}

// sendReceipt is the debounced read-receipt task: at most one send per
// settle period, comparing the window's last event against the last
// receipt sent. Failures are logged only.
func (w *Window) sendReceipt() {
	w.mu.Lock()
	if w.closed || len(w.events) == 0 {
		w.mu.Unlock()
		return
	}
	last := w.events[len(w.events)-1].ID
	if last == "" || last == w.lastReceipt {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	if err := w.cfg.Source.SendReadReceipt(context.Background(), w.cfg.RoomID, last); err != nil {
		w.log.Warn().Err(err).Str("event_id", last).Msg("read receipt failed")
		return
	}

	w.mu.Lock()
	w.lastReceipt = last
	w.mu.Unlock()

	if w.cfg.ZeroUnread != nil {
		w.cfg.ZeroUnread(w.cfg.RoomID)
	}
}

func (w *Window) notifyChange() {
	if w.cfg.OnChange != nil {
		w.cfg.OnChange()
	}
}

// Close tears the window down: cancels pending timers, stops the
// debouncers and releases the handle. Idempotent.
func (w *Window) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for d := range w.retryCancel {
		if w.retryCancel[d] != nil {
			w.retryCancel[d]()
		}
	}
	w.mu.Unlock()

	w.anchorRelease.Stop()
	w.receipts.Stop()
	w.handle.Close()
}
