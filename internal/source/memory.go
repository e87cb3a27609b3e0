package source

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/scholia/scholia/internal/models"
)

// Memory is an in-process EventSource with full pagination and pub/sub
// semantics. It backs the replay CLI, the dev harness and the tests.
type Memory struct {
	mu          sync.RWMutex
	rooms       map[string]*memRoom
	subs        map[string]*memSubscription
	receipts    map[string]string
	accountData map[string]any
	effectErr   error
	closed      bool

	// Notification queue. Events are enqueued under mu in the same
	// critical section that appends them to the timeline, and drained by
	// a single dispatcher, so subscribers always observe receipt order
	// even with concurrent pushers.
	queue       []dispatch
	dispatching bool
}

type dispatch struct {
	ev       models.Event
	handlers []Handler
}

type memRoom struct {
	info     RoomInfo
	state    map[string]map[string]models.Event // eventType -> stateKey -> event
	timeline []models.Event
}

type memSubscription struct {
	id        string
	roomID    string
	eventType string
	handler   Handler
	src       *Memory
}

// NewMemory creates an empty in-memory source.
func NewMemory() *Memory {
	return &Memory{
		rooms:       make(map[string]*memRoom),
		subs:        make(map[string]*memSubscription),
		receipts:    make(map[string]string),
		accountData: make(map[string]any),
	}
}

// AddRoom registers a visible room. Adding an existing room is a no-op.
func (m *Memory) AddRoom(info RoomInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[info.ID]; ok {
		return
	}
	m.rooms[info.ID] = &memRoom{
		info:  info,
		state: make(map[string]map[string]models.Event),
	}
}

// Push appends an event to its room's timeline, updates room state for
// state events, and notifies matching subscribers in receipt order.
func (m *Memory) Push(ev models.Event) {
	m.mu.Lock()
	room, ok := m.rooms[ev.RoomID]
	if !ok {
		room = &memRoom{
			info:  RoomInfo{ID: ev.RoomID},
			state: make(map[string]map[string]models.Event),
		}
		m.rooms[ev.RoomID] = room
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	room.timeline = append(room.timeline, ev)
	if ev.IsState() {
		byKey, ok := room.state[ev.Type]
		if !ok {
			byKey = make(map[string]models.Event)
			room.state[ev.Type] = byKey
		}
		byKey[ev.StateKey] = ev
	}

	// Snapshot the matching handlers and enqueue in the same critical
	// section as the timeline append, then drain outside the lock.
	var handlers []Handler
	for _, sub := range m.subs {
		if sub.roomID != "" && sub.roomID != ev.RoomID {
			continue
		}
		if sub.eventType != "" && sub.eventType != ev.Type {
			continue
		}
		handlers = append(handlers, sub.handler)
	}
	m.queue = append(m.queue, dispatch{ev: ev, handlers: handlers})
	if m.dispatching {
		m.mu.Unlock()
		return
	}
	m.dispatching = true
	m.mu.Unlock()

	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.dispatching = false
			m.mu.Unlock()
			return
		}
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		for _, h := range next.handlers {
			h(next.ev)
		}
	}
}

// Subscribe registers a handler. An empty roomID matches all rooms; an
// empty eventType matches all event types.
func (m *Memory) Subscribe(roomID, eventType string, h Handler) (Subscription, error) {
	if h == nil {
		return nil, ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	sub := &memSubscription{
		id:        uuid.NewString(),
		roomID:    roomID,
		eventType: eventType,
		handler:   h,
		src:       m,
	}
	m.subs[sub.id] = sub
	return sub, nil
}

func (s *memSubscription) Close() {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	delete(s.src.subs, s.id)
}

// SubscriberCount returns the number of active subscriptions.
func (m *Memory) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// GetStateEvents returns the room's current state events of the given
// type, ordered by state key.
func (m *Memory) GetStateEvents(_ context.Context, roomID, eventType string) ([]models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	byKey := room.state[eventType]
	events := make([]models.Event, 0, len(byKey))
	for _, ev := range byKey {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].StateKey < events[j].StateKey })
	return events, nil
}

// GetEvent returns the event with the given ID from the room's timeline.
func (m *Memory) GetEvent(_ context.Context, roomID, eventID string) (models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return models.Event{}, ErrRoomNotFound
	}
	for _, ev := range room.timeline {
		if ev.ID == eventID {
			return ev, nil
		}
	}
	return models.Event{}, ErrEventNotFound
}

// VisibleRooms lists all registered rooms ordered by ID.
func (m *Memory) VisibleRooms(_ context.Context) ([]RoomInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rooms := make([]RoomInfo, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room.info)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

// OpenWindow opens a timeline window positioned at the live edge.
func (m *Memory) OpenWindow(_ context.Context, roomID string) (WindowHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	end := len(room.timeline)
	return &memWindow{src: m, roomID: roomID, start: end, end: end}, nil
}

// SendStateEvent records a state event as a fresh push.
func (m *Memory) SendStateEvent(_ context.Context, roomID, eventType, stateKey string, content any) error {
	if err := m.effectError(); err != nil {
		return err
	}
	raw, err := marshalContent(content)
	if err != nil {
		return err
	}
	m.Push(models.Event{
		RoomID:   roomID,
		Type:     eventType,
		StateKey: stateKey,
		Content:  raw,
	})
	return nil
}

// SendReadReceipt records the last-read event for a room.
func (m *Memory) SendReadReceipt(_ context.Context, roomID, eventID string) error {
	if err := m.effectError(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[roomID] = eventID
	return nil
}

// SetAccountData stores per-viewer account data.
func (m *Memory) SetAccountData(_ context.Context, key string, content any) error {
	if err := m.effectError(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountData[key] = content
	return nil
}

// LastReceipt returns the last receipt recorded for the room.
func (m *Memory) LastReceipt(roomID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.receipts[roomID]
}

// AccountData returns stored account data for the key.
func (m *Memory) AccountData(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.accountData[key]
	return v, ok
}

// SetEffectError makes all fire-and-forget effects fail with err until
// cleared with nil. Test hook.
func (m *Memory) SetEffectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.effectErr = err
}

func (m *Memory) effectError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effectErr
}

// Close releases all subscriptions.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]*memSubscription)
}

type memWindow struct {
	src    *Memory
	roomID string

	mu    sync.Mutex
	start int
	end   int
}

func (w *memWindow) CanPaginate(d Direction) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.src.mu.RLock()
	defer w.src.mu.RUnlock()
	room, ok := w.src.rooms[w.roomID]
	if !ok {
		return false
	}
	if d == Backwards {
		return w.start > 0
	}
	return w.end < len(room.timeline)
}

func (w *memWindow) Paginate(_ context.Context, d Direction, count int) ([]models.Event, error) {
	if count <= 0 {
		return nil, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.src.mu.RLock()
	defer w.src.mu.RUnlock()
	room, ok := w.src.rooms[w.roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if d == Backwards {
		from := w.start - count
		if from < 0 {
			from = 0
		}
		batch := append([]models.Event(nil), room.timeline[from:w.start]...)
		w.start = from
		return batch, nil
	}
	to := w.end + count
	if to > len(room.timeline) {
		to = len(room.timeline)
	}
	batch := append([]models.Event(nil), room.timeline[w.end:to]...)
	w.end = to
	return batch, nil
}

func (w *memWindow) Close() {}
