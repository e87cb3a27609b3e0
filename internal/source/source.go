// Package source defines the EventSource contract the engine consumes:
// scoped subscriptions, state-event lookup, paginated timeline windows
// and fire-and-forget effects over a replicated room log.
package source

import (
	"context"
	"errors"

	"github.com/scholia/scholia/internal/models"
)

// Direction selects which edge of a timeline window to grow.
type Direction int

const (
	// Backwards paginates toward older events.
	Backwards Direction = iota
	// Forwards paginates toward newer events.
	Forwards
)

// String implements fmt.Stringer for log fields.
func (d Direction) String() string {
	if d == Backwards {
		return "backwards"
	}
	return "forwards"
}

// Source errors.
var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrEventNotFound = errors.New("event not found")
	ErrClosed        = errors.New("source closed")
)

// Handler receives events pushed for a subscription.
type Handler func(ev models.Event)

// Subscription is a scoped registration handle. Close must be called on
// component teardown; it is idempotent.
type Subscription interface {
	Close()
}

// WindowHandle is a paginated cursor pair over one room's event history.
type WindowHandle interface {
	// CanPaginate reports whether more events exist in the direction.
	CanPaginate(d Direction) bool

	// Paginate fetches up to count further events in the direction and
	// extends the handle's cursor. Returned events are in timeline order.
	Paginate(ctx context.Context, d Direction, count int) ([]models.Event, error)

	// Close releases the handle.
	Close()
}

// RoomInfo describes one locally visible room.
type RoomInfo struct {
	ID    string
	Alias string
}

// EventSource supplies raw replicated events and pagination primitives.
// Implementations own the wire protocol; the engine treats them as an
// abstract collaborator.
type EventSource interface {
	// Subscribe registers a handler for events of eventType in roomID.
	// An empty roomID subscribes across all visible rooms.
	Subscribe(roomID, eventType string, h Handler) (Subscription, error)

	// GetStateEvents returns the current state events of the given type
	// in the room, one per state key.
	GetStateEvents(ctx context.Context, roomID, eventType string) ([]models.Event, error)

	// GetEvent returns one event by ID from the room's history.
	// ErrEventNotFound when the room exists but the event does not.
	GetEvent(ctx context.Context, roomID, eventID string) (models.Event, error)

	// VisibleRooms lists rooms visible to the viewer.
	VisibleRooms(ctx context.Context) ([]RoomInfo, error)

	// OpenWindow opens a timeline window on the room, positioned at the
	// live edge.
	OpenWindow(ctx context.Context, roomID string) (WindowHandle, error)

	// SendStateEvent sends a state event. Best-effort: callers log
	// failures rather than surfacing them.
	SendStateEvent(ctx context.Context, roomID, eventType, stateKey string, content any) error

	// SendReadReceipt marks eventID as read in the room. Best-effort.
	SendReadReceipt(ctx context.Context, roomID, eventID string) error

	// SetAccountData stores per-viewer account data. Best-effort.
	SetAccountData(ctx context.Context, key string, content any) error
}
