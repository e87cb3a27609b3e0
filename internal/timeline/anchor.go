package timeline

import (
	"sync"

	"github.com/scholia/scholia/internal/source"
)

// Viewport is what the presentation layer reports about the scroll
// state of the timeline. The engine never renders; it only reconciles
// growth against these measurements.
type Viewport interface {
	// AnchorVisible reports whether the direction's fill anchor is on
	// screen. Fills only happen for what is being looked at.
	AnchorVisible(d source.Direction) bool

	// ContentHeight is the current total content height.
	ContentHeight() float64

	// ScrollOffset is the current scroll position, measured from the
	// newest edge of the content.
	ScrollOffset() float64

	// SetScrollOffset moves the scroll position.
	SetScrollOffset(offset float64)

	// ScrollToCenter scrolls the given event to the viewport center.
	ScrollToCenter(eventID string)
}

// ScrollAnchor reconciles window growth against the viewport so the
// content the user is looking at does not move. While an element is
// anchored it is re-centered on every growth; otherwise backwards
// growth (content prepended above the viewport) is compensated by
// adjusting the scroll offset by the height delta.
type ScrollAnchor struct {
	vp Viewport

	mu         sync.Mutex
	anchored   string
	lastHeight float64
}

// NewScrollAnchor creates an anchor over the viewport.
func NewScrollAnchor(vp Viewport) *ScrollAnchor {
	return &ScrollAnchor{vp: vp, lastHeight: vp.ContentHeight()}
}

// Pin anchors the given event; growth keeps it centered until Clear.
func (a *ScrollAnchor) Pin(eventID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.anchored = eventID
}

// Pinned returns the currently anchored event ID, if any.
func (a *ScrollAnchor) Pinned() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.anchored
}

// Clear releases the anchored element.
func (a *ScrollAnchor) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.anchored = ""
}

// OnGrowth observes a content-height change. fillingBackwards reports
// whether the window is actively prepending above the viewport.
func (a *ScrollAnchor) OnGrowth(fillingBackwards bool) {
	a.mu.Lock()
	height := a.vp.ContentHeight()
	delta := height - a.lastHeight
	a.lastHeight = height
	anchored := a.anchored
	a.mu.Unlock()

	if anchored != "" {
		a.vp.ScrollToCenter(anchored)
		return
	}
	if delta > 0 && fillingBackwards {
		a.vp.SetScrollOffset(a.vp.ScrollOffset() - delta)
	}
}

// StaticViewport is a Viewport with no real rendering behind it: both
// anchors always visible, height proportional to an event count fed by
// the owner. Used by the replay CLI and tests.
type StaticViewport struct {
	mu         sync.Mutex
	height     float64
	offset     float64
	hiddenTop  bool
	hiddenBot  bool
	centeredOn string
}

// NewStaticViewport creates a viewport with zero height.
func NewStaticViewport() *StaticViewport { return &StaticViewport{} }

// SetAnchorHidden hides or shows a direction's anchor.
func (v *StaticViewport) SetAnchorHidden(d source.Direction, hidden bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if d == source.Backwards {
		v.hiddenTop = hidden
	} else {
		v.hiddenBot = hidden
	}
}

// SetContentHeight records a new content height.
func (v *StaticViewport) SetContentHeight(h float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.height = h
}

// CenteredOn returns the last event scrolled to center.
func (v *StaticViewport) CenteredOn() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.centeredOn
}

func (v *StaticViewport) AnchorVisible(d source.Direction) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if d == source.Backwards {
		return !v.hiddenTop
	}
	return !v.hiddenBot
}

func (v *StaticViewport) ContentHeight() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.height
}

func (v *StaticViewport) ScrollOffset() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.offset
}

func (v *StaticViewport) SetScrollOffset(offset float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.offset = offset
}

func (v *StaticViewport) ScrollToCenter(eventID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.centeredOn = eventID
}
