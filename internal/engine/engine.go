// Package engine wires the annotation index, filter, focus controller
// and timeline window over an EventSource, and owns the surface exposed
// to the presentation layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/scholia/scholia/internal/config"
	"github.com/scholia/scholia/internal/filter"
	"github.com/scholia/scholia/internal/focus"
	"github.com/scholia/scholia/internal/index"
	"github.com/scholia/scholia/internal/logging"
	"github.com/scholia/scholia/internal/models"
	"github.com/scholia/scholia/internal/resolve"
	"github.com/scholia/scholia/internal/sched"
	"github.com/scholia/scholia/internal/source"
	"github.com/scholia/scholia/internal/timeline"
)

// Engine errors. Both are fatal to the current view; the presentation
// layer surfaces them and falls back to a safe route.
var (
	ErrResourceNotFound   = index.ErrResourceNotFound
	ErrAnnotationNotFound = errors.New("annotation not found")
	ErrEventNotFound      = source.ErrEventNotFound
)

// Config configures an Engine.
type Config struct {
	Source    source.EventSource
	Viewer    string
	Viewport  timeline.Viewport
	Navigator focus.Navigator
	Engine    config.EngineConfig
}

// Engine coordinates the core components for one viewer. All async
// continuations capture the generation token before awaiting and are
// discarded when it has moved on.
type Engine struct {
	log zerolog.Logger
	cfg Config
	gen atomic.Uint64

	idx *index.Index
	fc  *focus.Controller

	posPersist *sched.Debouncer

	mu            sync.Mutex
	window        *timeline.Window
	subs          []source.Subscription
	unread        map[string]int
	resourceID    string
	resourceAlias string
	focusedRoomID string
	closed        bool
}

// New creates an Engine. Call SetResource before using the annotation
// surface.
func New(cfg Config) *Engine {
	if cfg.Viewport == nil {
		cfg.Viewport = timeline.NewStaticViewport()
	}
	if cfg.Navigator == nil {
		cfg.Navigator = nopNavigator{}
	}
	def := config.DefaultConfig().Engine
	if cfg.Engine.PageSize <= 0 {
		cfg.Engine.PageSize = def.PageSize
	}
	if cfg.Engine.PositionDebounce <= 0 {
		cfg.Engine.PositionDebounce = def.PositionDebounce
	}

	e := &Engine{
		log:    logging.WithViewer(logging.Component("engine"), cfg.Viewer),
		cfg:    cfg,
		unread: make(map[string]int),
	}
	e.idx = index.New(index.Config{
		Viewer: cfg.Viewer,
		Env:    e.filterEnv,
	})
	e.fc = focus.NewController(e.idx, cfg.Navigator)
	e.fc.OnFocusRoom = e.onFocusRoom
	e.posPersist = sched.NewDebouncer(cfg.Engine.PositionDebounce, e.persistPosition)
	return e
}

func (e *Engine) filterEnv() filter.Env {
	return filter.Env{
		Viewer: e.cfg.Viewer,
		Now:    time.Now(),
		Unread: e.UnreadCount,
	}
}

// Generation returns the current generation token.
func (e *Engine) Generation() uint64 { return e.gen.Load() }

// SetResource focuses a resource room: tears down the previous view,
// runs the one full index scan, and subscribes for incremental updates.
func (e *Engine) SetResource(ctx context.Context, alias string) error {
	roomID, err := e.resolveAlias(ctx, alias)
	if err != nil {
		return err
	}

	// Supersede all in-flight work for the previous resource.
	e.gen.Add(1)
	e.teardownView()

	if err := e.idx.Initialize(ctx, e.cfg.Source, roomID); err != nil {
		return err
	}

	e.mu.Lock()
	e.resourceID = roomID
	e.resourceAlias = alias
	e.mu.Unlock()
	e.fc.SetResource(alias, 0)

	if err := e.subscribe(roomID); err != nil {
		return err
	}
	e.log.Info().Str("resource", roomID).Msg("resource focused")
	return nil
}

func (e *Engine) resolveAlias(ctx context.Context, alias string) (string, error) {
	rooms, err := e.cfg.Source.VisibleRooms(ctx)
	if err != nil {
		return "", fmt.Errorf("list visible rooms: %w", err)
	}
	for _, room := range rooms {
		if room.Alias == alias || room.ID == alias {
			return room.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrResourceNotFound, alias)
}

// subscribe registers the incremental update handlers: resource-room
// markers, discussion back-markers anywhere, and messages for unread
// tracking and live window folding.
func (e *Engine) subscribe(resourceRoomID string) error {
	markers, err := e.cfg.Source.Subscribe(resourceRoomID, models.EventTypeMarker, e.handleMarker)
	if err != nil {
		return fmt.Errorf("subscribe markers: %w", err)
	}
	backMarkers, err := e.cfg.Source.Subscribe("", models.EventTypeBackMarker, e.handleMarker)
	if err != nil {
		markers.Close()
		return fmt.Errorf("subscribe back-markers: %w", err)
	}
	messages, err := e.cfg.Source.Subscribe("", models.EventTypeMessage, e.handleMessage)
	if err != nil {
		markers.Close()
		backMarkers.Close()
		return fmt.Errorf("subscribe messages: %w", err)
	}

	e.mu.Lock()
	e.subs = []source.Subscription{markers, backMarkers, messages}
	e.mu.Unlock()
	return nil
}

// handleMarker applies one state-change notification, in receipt order.
func (e *Engine) handleMarker(ev models.Event) {
	loc := resolve.Resolve(ev)
	if loc.ChildID == "" || loc.Orientation == "" {
		return
	}
	if loc.Orientation == models.OrientationChild {
		e.mu.Lock()
		resourceID := e.resourceID
		e.mu.Unlock()
		if loc.ParentID != resourceID {
			return
		}
	}
	e.idx.Update(loc)
}

// handleMessage tracks unread counts and folds live events into the
// focused window.
func (e *Engine) handleMessage(ev models.Event) {
	e.mu.Lock()
	window := e.window
	focusedRoom := e.focusedRoomID
	if ev.RoomID != focusedRoom {
		e.unread[ev.RoomID]++
	}
	e.mu.Unlock()

	if window != nil && ev.RoomID == focusedRoom {
		window.HandleLive(context.Background())
	}
}

// onFocusRoom rebuilds the timeline window when the focused discussion
// changes. Invoked by the focus controller.
func (e *Engine) onFocusRoom(childID string) {
	e.gen.Add(1)

	e.mu.Lock()
	old := e.window
	e.window = nil
	e.focusedRoomID = childID
	e.mu.Unlock()
	if old != nil {
		old.Close()
	}
	if childID == "" {
		return
	}

	ctx := context.Background()
	window, err := timeline.Open(ctx, timeline.Config{
		RoomID:          childID,
		Source:          e.cfg.Source,
		Viewport:        e.cfg.Viewport,
		PageSize:        e.cfg.Engine.PageSize,
		FillRetry:       e.cfg.Engine.FillRetry,
		FillSettle:      e.cfg.Engine.FillSettle,
		AnchorRelease:   e.cfg.Engine.AnchorRelease,
		ReceiptDebounce: e.cfg.Engine.ReceiptDebounce,
		Generation:      e.Generation,
		ZeroUnread:      e.zeroUnread,
	})
	if err != nil {
		e.log.Warn().Err(err).Str("room_id", childID).Msg("open timeline window failed")
		return
	}
	if err := window.Load(ctx); err != nil {
		e.log.Warn().Err(err).Str("room_id", childID).Msg("seed timeline window failed")
	}

	e.mu.Lock()
	superseded := e.focusedRoomID != childID
	if !superseded {
		e.window = window
	}
	e.mu.Unlock()
	if superseded {
		window.Close()
	}
}

// SetQuery replaces the live search/filter query.
func (e *Engine) SetQuery(raw string) {
	e.idx.SetQuery(filter.Parse(raw))
}

// FilteredAnnotations returns the ordered, live filtered sequence.
func (e *Engine) FilteredAnnotations() []models.Location {
	return e.idx.Filtered()
}

// Merge returns the canonical childID -> Location view.
func (e *Engine) Merge() map[string]models.Location {
	return e.idx.Merge()
}

// TimelineEvents returns the focused discussion's loaded events.
func (e *Engine) TimelineEvents() []models.Event {
	e.mu.Lock()
	window := e.window
	e.mu.Unlock()
	if window == nil {
		return nil
	}
	return window.Events()
}

// FillTop asks the window to grow backwards.
func (e *Engine) FillTop(ctx context.Context) {
	if w := e.currentWindow(); w != nil {
		w.TryFill(ctx, source.Backwards)
	}
}

// FillBottom asks the window to grow forwards.
func (e *Engine) FillBottom(ctx context.Context) {
	if w := e.currentWindow(); w != nil {
		w.TryFill(ctx, source.Forwards)
	}
}

// IsFullyScrolledUp reports whether the window's backwards edge is
// exhausted.
func (e *Engine) IsFullyScrolledUp() bool {
	if w := e.currentWindow(); w != nil {
		return w.FullyScrolledUp()
	}
	return false
}

// IsFullyScrolledDown reports whether the window's forwards edge is
// exhausted.
func (e *Engine) IsFullyScrolledDown() bool {
	if w := e.currentWindow(); w != nil {
		return w.FullyScrolledDown()
	}
	return false
}

func (e *Engine) currentWindow() *timeline.Window {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.window
}

// SetFocus focuses an annotation.
func (e *Engine) SetFocus(loc models.Location, opts focus.FocusOpts) {
	e.fc.SetFocus(loc, opts)
}

// UnsetFocus clears focus.
func (e *Engine) UnsetFocus(opts focus.UnsetOpts) {
	e.fc.UnsetFocus(opts)
}

// FocusByRoomID focuses the annotation whose discussion is the room.
func (e *Engine) FocusByRoomID(childID string) error {
	return e.focusRoom(childID, focus.FocusOpts{})
}

func (e *Engine) focusRoom(childID string, opts focus.FocusOpts) error {
	if !e.fc.FocusByChildID(childID, opts) {
		return fmt.Errorf("%w: %s", ErrAnnotationNotFound, childID)
	}
	return nil
}

// FocusNext focuses the next annotation in the filtered sequence.
func (e *Engine) FocusNext() bool { return e.fc.FocusNext() }

// FocusPrev focuses the previous annotation in the filtered sequence.
func (e *Engine) FocusPrev() bool { return e.fc.FocusPrev() }

// Focus returns the controller for direct access.
func (e *Engine) Focus() *focus.Controller { return e.fc }

// Navigate decodes a navigation path and applies it: resource, position
// and, when present, annotation focus with its pinned event. The path
// is the only durable encoding of focus state, so every decoded segment
// must survive into the route the focus push re-encodes.
func (e *Engine) Navigate(ctx context.Context, path string) error {
	route, err := focus.ParsePath(path)
	if err != nil {
		return err
	}
	if err := e.SetResource(ctx, route.Alias); err != nil {
		return err
	}
	e.fc.SetResource(route.Alias, route.Position)
	if route.ChildID == "" {
		return nil
	}
	if route.EventID != "" {
		if _, err := e.cfg.Source.GetEvent(ctx, route.ChildID, route.EventID); err != nil {
			if errors.Is(err, source.ErrEventNotFound) || errors.Is(err, source.ErrRoomNotFound) {
				return fmt.Errorf("%w: %s in %s", ErrEventNotFound, route.EventID, route.ChildID)
			}
			return fmt.Errorf("look up focused event: %w", err)
		}
	}
	return e.focusRoom(route.ChildID, focus.FocusOpts{EventID: route.EventID})
}

// SetPosition updates the resource position and schedules its debounced
// persistence.
func (e *Engine) SetPosition(position int) {
	e.fc.SetPosition(position)
	e.posPersist.Trigger()
}

// persistPosition stores the viewer's position as account data.
// Best-effort: failures are logged, never surfaced.
func (e *Engine) persistPosition() {
	e.mu.Lock()
	resourceID := e.resourceID
	e.mu.Unlock()
	if resourceID == "" {
		return
	}
	key := "scholia.position." + resourceID
	if err := e.cfg.Source.SetAccountData(context.Background(), key, e.fc.Position()); err != nil {
		e.log.Warn().Err(err).Str("resource", resourceID).Msg("persist position failed")
	}
}

// UnreadCount returns the tracked unread count for a discussion.
func (e *Engine) UnreadCount(childID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unread[childID]
}

func (e *Engine) zeroUnread(roomID string) {
	e.mu.Lock()
	e.unread[roomID] = 0
	e.mu.Unlock()
}

// teardownView releases the window and all subscriptions.
func (e *Engine) teardownView() {
	e.mu.Lock()
	window := e.window
	subs := e.subs
	e.window = nil
	e.subs = nil
	e.focusedRoomID = ""
	e.mu.Unlock()

	if window != nil {
		window.Close()
	}
	for _, sub := range subs {
		sub.Close()
	}
	e.fc.Reset()
	e.posPersist.Cancel()
}

// Close tears the engine down.
func (e *Engine) Close() {
	e.gen.Add(1)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.teardownView()
	e.posPersist.Stop()
}

type nopNavigator struct{}

func (nopNavigator) Push(string)    {}
func (nopNavigator) Replace(string) {}
