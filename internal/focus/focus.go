// Package focus maps navigation state to primary/secondary annotation
// focus and drives the timeline window's target discussion.
package focus

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/scholia/scholia/internal/index"
	"github.com/scholia/scholia/internal/logging"
	"github.com/scholia/scholia/internal/models"
)

// Navigator receives navigation path updates. Push creates a history
// entry; Replace rewrites the current one (non-interactive clears, e.g.
// resource teardown, must not pollute history).
type Navigator interface {
	Push(path string)
	Replace(path string)
}

// FocusOpts modifies SetFocus.
type FocusOpts struct {
	// HoldPosition suppresses recomputing the resource position from
	// the Location, when the position is already correct and a
	// recompute would cause a visible jump.
	HoldPosition bool

	// EventID optionally pins a specific event inside the discussion.
	EventID string
}

// UnsetOpts modifies UnsetFocus.
type UnsetOpts struct {
	// Replace rewrites the current history entry instead of pushing.
	Replace bool
}

// Controller owns primary and secondary focus and the externally
// visible resource position.
type Controller struct {
	log zerolog.Logger
	idx *index.Index
	nav Navigator

	// OnFocusRoom is invoked when the focused discussion changes, with
	// the new childID ("" on unset). The engine rebuilds the timeline
	// window here. Optional.
	OnFocusRoom func(childID string)

	mu        sync.Mutex
	alias     string
	position  int
	primary   *models.Location
	secondary *models.Location
}

// NewController creates a Controller over the index.
func NewController(idx *index.Index, nav Navigator) *Controller {
	return &Controller{
		log: logging.Component("focus"),
		idx: idx,
		nav: nav,
	}
}

// SetResource sets the resource alias and position the controller
// encodes into navigation paths, without touching focus.
func (c *Controller) SetResource(alias string, position int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alias = alias
	c.position = position
}

// Position returns the externally visible resource position.
func (c *Controller) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// SetPosition updates the resource position (e.g. the user turned a
// page) and rewrites the current history entry.
func (c *Controller) SetPosition(position int) {
	c.mu.Lock()
	c.position = position
	path := c.routeLocked().Encode()
	c.mu.Unlock()
	c.nav.Replace(path)
}

// Primary returns the primary focus, if set.
func (c *Controller) Primary() (models.Location, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.primary == nil {
		return models.Location{}, false
	}
	return c.primary.Clone(), true
}

// Secondary returns the secondary focus, if set.
func (c *Controller) Secondary() (models.Location, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.secondary == nil {
		return models.Location{}, false
	}
	return c.secondary.Clone(), true
}

// SetFocus makes loc the primary focus, clears secondary focus and
// pushes a navigation entry encoding the focus state.
func (c *Controller) SetFocus(loc models.Location, opts FocusOpts) {
	c.mu.Lock()
	cloned := loc.Clone()
	c.primary = &cloned
	c.secondary = nil
	if !opts.HoldPosition {
		c.position = loc.Position()
	}
	route := c.routeLocked()
	route.ChildID = loc.ChildID
	route.EventID = opts.EventID
	path := route.Encode()
	c.mu.Unlock()

	c.nav.Push(path)
	if c.OnFocusRoom != nil {
		c.OnFocusRoom(loc.ChildID)
	}
}

// SetSecondary marks loc as secondary focus without navigating. Primary
// and secondary are never both meaningfully active: setting one clears
// the other.
func (c *Controller) SetSecondary(loc models.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cloned := loc.Clone()
	c.secondary = &cloned
	c.primary = nil
}

// Reset drops both foci without navigating or announcing. Used when the
// whole resource context is torn down and a navigation entry would be
// wrong.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.primary = nil
	c.secondary = nil
}

// UnsetFocus clears both foci and navigates to the bare resource path.
func (c *Controller) UnsetFocus(opts UnsetOpts) {
	c.mu.Lock()
	hadFocus := c.primary != nil || c.secondary != nil
	c.primary = nil
	c.secondary = nil
	path := c.routeLocked().Encode()
	c.mu.Unlock()

	if opts.Replace {
		c.nav.Replace(path)
	} else {
		c.nav.Push(path)
	}
	if hadFocus && c.OnFocusRoom != nil {
		c.OnFocusRoom("")
	}
}

// FocusNext focuses the element strictly after the current focus in the
// filtered sequence, treating it as cyclic; with no current focus, the
// first element. Returns false when the sequence is empty.
func (c *Controller) FocusNext() bool {
	return c.step(1)
}

// FocusPrev focuses the element strictly before the current focus, or
// the last element when nothing is focused.
func (c *Controller) FocusPrev() bool {
	return c.step(-1)
}

func (c *Controller) step(delta int) bool {
	sequence := c.idx.Filtered()
	if len(sequence) == 0 {
		return false
	}

	c.mu.Lock()
	current := ""
	if c.primary != nil {
		current = c.primary.ChildID
	}
	c.mu.Unlock()

	target := -1
	if current != "" {
		for i := range sequence {
			if sequence[i].ChildID == current {
				target = (i + delta + len(sequence)) % len(sequence)
				break
			}
		}
	}
	if target < 0 {
		if delta > 0 {
			target = 0
		} else {
			target = len(sequence) - 1
		}
	}

	c.SetFocus(sequence[target], FocusOpts{})
	return true
}

// FocusByChildID focuses the canonical Location for the discussion
// room, if the index knows it. Opts are forwarded to SetFocus, so a
// pinned event survives into the pushed navigation path.
func (c *Controller) FocusByChildID(childID string, opts FocusOpts) bool {
	loc, ok := c.idx.Get(childID)
	if !ok {
		return false
	}
	c.SetFocus(loc, opts)
	return true
}

// routeLocked builds the route for the current state. Caller holds c.mu.
func (c *Controller) routeLocked() Route {
	return Route{Alias: c.alias, Position: c.position}
}
