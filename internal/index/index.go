// Package index maintains the annotation index: two orientation-keyed
// maps of Locations and a materialized filtered sequence kept in sync
// incrementally, one touched childID at a time.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scholia/scholia/internal/filter"
	"github.com/scholia/scholia/internal/logging"
	"github.com/scholia/scholia/internal/models"
	"github.com/scholia/scholia/internal/resolve"
	"github.com/scholia/scholia/internal/source"
)

// ErrResourceNotFound reports that the resource room is missing from
// the replicated log. Fatal to the view; callers surface it and fall
// back to a safe route.
var ErrResourceNotFound = errors.New("resource room not found")

// versionCutoff is the state-format versioning boundary: rooms whose
// back-markers predate it use a retired marker format and are skipped
// during the initial scan.
var versionCutoff = time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC)

// Config configures an Index.
type Config struct {
	// Viewer is the current user identifier.
	Viewer string

	// Access reports whether the viewer may see a private Location.
	// Nil means private Locations are visible only to their creator.
	Access func(models.Location) bool

	// Env supplies the filter evaluation context. Nil gets a default
	// built from Viewer and the wall clock.
	Env func() filter.Env
}

// Index owns the orientation maps and the filtered sequence. All state
// is owned exclusively by the Index; readers get snapshots.
type Index struct {
	log    zerolog.Logger
	viewer string
	access func(models.Location) bool
	env    func() filter.Env

	mu       sync.Mutex
	parents  map[string]models.Location
	children map[string]models.Location
	filtered []models.Location
	pos      map[string]int // childID -> index into filtered
	query    filter.Query
}

// New creates an empty Index.
func New(cfg Config) *Index {
	x := &Index{
		log:      logging.Component("index"),
		viewer:   cfg.Viewer,
		access:   cfg.Access,
		env:      cfg.Env,
		parents:  make(map[string]models.Location),
		children: make(map[string]models.Location),
		pos:      make(map[string]int),
	}
	if x.access == nil {
		x.access = func(loc models.Location) bool { return loc.Creator == x.viewer }
	}
	if x.env == nil {
		x.env = func() filter.Env {
			return filter.Env{Viewer: x.viewer, Now: time.Now()}
		}
	}
	return x
}

// Insertable reports whether the Location may enter the index: it must
// be valid, visible to the viewer, and pending annotations are visible
// only to their creator.
func (x *Index) Insertable(loc models.Location) bool {
	if !loc.IsValid() {
		return false
	}
	if loc.Private && !x.access(loc) {
		return false
	}
	if loc.Status == models.StatusPending && loc.Creator != x.viewer {
		return false
	}
	return true
}

// Update applies one resolved Location. The orientation map is upserted
// or pruned, and only the filtered-sequence entry for the touched
// childID is reconsidered: O(1) amortized, never a full rescan.
func (x *Index) Update(loc models.Location) {
	if loc.ChildID == "" || loc.Orientation == "" {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.updateLocked(loc)
}

func (x *Index) updateLocked(loc models.Location) {
	own := x.orientationMap(loc.Orientation)
	insertable := x.Insertable(loc)
	if insertable {
		own[loc.ChildID] = loc
	} else {
		delete(own, loc.ChildID)
	}

	env := x.env()
	pos := x.filteredPos(loc.ChildID)

	if insertable && x.query.Matches(loc, env) {
		if pos < 0 {
			x.pos[loc.ChildID] = len(x.filtered)
			x.filtered = append(x.filtered, loc)
			return
		}
		existing := x.filtered[pos]
		// Children are authoritative once corroborated by discussion
		// activity: a child always replaces, a parent only refreshes a
		// parent entry.
		if loc.Orientation == models.OrientationChild || existing.Orientation == loc.Orientation {
			x.filtered[pos] = loc
		}
		return
	}

	if pos < 0 || x.filtered[pos].Orientation != loc.Orientation {
		return
	}
	// Same-orientation fallback: the other orientation may still have a
	// presentable Location for this childID.
	if other, ok := x.orientationMap(otherOrientation(loc.Orientation))[loc.ChildID]; ok && x.query.Matches(other, env) {
		x.filtered[pos] = other
		return
	}
	x.removeFilteredAt(pos)
}

func (x *Index) removeFilteredAt(pos int) {
	delete(x.pos, x.filtered[pos].ChildID)
	x.filtered = append(x.filtered[:pos], x.filtered[pos+1:]...)
	for i := pos; i < len(x.filtered); i++ {
		x.pos[x.filtered[i].ChildID] = i
	}
}

// Initialize performs the one full rescan per resource focus change:
// back-markers across all visible rooms targeting the resource (subject
// to the version cutoff) plus the resource room's own marker state.
// Everything afterwards is incremental.
func (x *Index) Initialize(ctx context.Context, src source.EventSource, resourceRoomID string) error {
	rooms, err := src.VisibleRooms(ctx)
	if err != nil {
		return fmt.Errorf("list visible rooms: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.parents = make(map[string]models.Location)
	x.children = make(map[string]models.Location)
	x.filtered = nil
	x.pos = make(map[string]int)

	for _, room := range rooms {
		if room.ID == resourceRoomID {
			continue
		}
		events, err := src.GetStateEvents(ctx, room.ID, models.EventTypeBackMarker)
		if err != nil {
			// A single unreadable room must not poison the scan.
			x.log.Debug().Err(err).Str("room_id", room.ID).Msg("skipping room during scan")
			continue
		}
		for _, ev := range events {
			if ev.Timestamp.Before(versionCutoff) {
				continue
			}
			loc := resolve.Resolve(ev)
			if loc.ParentID != resourceRoomID {
				continue
			}
			x.updateLocked(loc)
		}
	}

	events, err := src.GetStateEvents(ctx, resourceRoomID, models.EventTypeMarker)
	if err != nil {
		if errors.Is(err, source.ErrRoomNotFound) {
			return fmt.Errorf("%w: %s", ErrResourceNotFound, resourceRoomID)
		}
		return fmt.Errorf("read resource markers: %w", err)
	}
	for _, ev := range events {
		loc := resolve.Resolve(ev)
		if loc.ChildID == "" || loc.Orientation == "" {
			continue
		}
		x.updateLocked(loc)
	}

	x.log.Debug().
		Str("resource", resourceRoomID).
		Int("parents", len(x.parents)).
		Int("children", len(x.children)).
		Int("filtered", len(x.filtered)).
		Msg("index initialized")
	return nil
}

// SetQuery replaces the active filter and rebuilds the filtered
// sequence from current map state, ordered by timestamp then childID.
// Query changes are user input, not event traffic, so the rebuild cost
// is acceptable here and nowhere else.
func (x *Index) SetQuery(q filter.Query) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.query = q
	env := x.env()

	merged := x.mergeLocked()
	x.filtered = x.filtered[:0]
	for _, loc := range merged {
		if q.Matches(loc, env) {
			x.filtered = append(x.filtered, loc)
		}
	}
	sort.SliceStable(x.filtered, func(i, j int) bool {
		if !x.filtered[i].Timestamp.Equal(x.filtered[j].Timestamp) {
			return x.filtered[i].Timestamp.Before(x.filtered[j].Timestamp)
		}
		return x.filtered[i].ChildID < x.filtered[j].ChildID
	})
	x.pos = make(map[string]int, len(x.filtered))
	for i := range x.filtered {
		x.pos[x.filtered[i].ChildID] = i
	}
}

// Query returns the active filter query.
func (x *Index) Query() filter.Query {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.query
}

// Merge returns the canonical childID -> Location view: a shallow
// overlay of the child map over the parent map (child wins).
func (x *Index) Merge() map[string]models.Location {
	x.mu.Lock()
	defer x.mu.Unlock()
	merged := x.mergeLocked()
	out := make(map[string]models.Location, len(merged))
	for _, loc := range merged {
		out[loc.ChildID] = loc.Clone()
	}
	return out
}

func (x *Index) mergeLocked() []models.Location {
	byChild := make(map[string]models.Location, len(x.parents)+len(x.children))
	for id, loc := range x.parents {
		byChild[id] = loc
	}
	for id, loc := range x.children {
		byChild[id] = loc
	}
	out := make([]models.Location, 0, len(byChild))
	for _, loc := range byChild {
		out = append(out, loc)
	}
	return out
}

// Get returns the canonical Location for a childID, child orientation
// winning over parent.
func (x *Index) Get(childID string) (models.Location, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if loc, ok := x.children[childID]; ok {
		return loc.Clone(), true
	}
	if loc, ok := x.parents[childID]; ok {
		return loc.Clone(), true
	}
	return models.Location{}, false
}

// Filtered returns a snapshot of the ordered filtered sequence.
func (x *Index) Filtered() []models.Location {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]models.Location, len(x.filtered))
	for i := range x.filtered {
		out[i] = x.filtered[i].Clone()
	}
	return out
}

func (x *Index) orientationMap(o models.Orientation) map[string]models.Location {
	if o == models.OrientationChild {
		return x.children
	}
	return x.parents
}

func otherOrientation(o models.Orientation) models.Orientation {
	if o == models.OrientationChild {
		return models.OrientationParent
	}
	return models.OrientationChild
}

func (x *Index) filteredPos(childID string) int {
	if i, ok := x.pos[childID]; ok {
		return i
	}
	return -1
}
