package models

import "time"

// Orientation records which side of the resource/discussion link a
// Location was resolved from.
type Orientation string

const (
	// OrientationParent marks a Location derived from a marker event on
	// the resource room.
	OrientationParent Orientation = "parent"

	// OrientationChild marks a Location derived from a back-marker event
	// on the discussion room. Child Locations are authoritative once a
	// discussion corroborates an annotation.
	OrientationChild Orientation = "child"
)

// LocationType classifies the positional payload of an annotation. The
// three types are mutually exclusive and derived from which sub-fields
// are present.
type LocationType string

const (
	TypeHighlight     LocationType = "highlight"
	TypeTextPin       LocationType = "text-pin"
	TypeMediaFragment LocationType = "media-fragment"
)

// Interval is a time or offset range into a media resource.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Rect is a highlight bounding box on a page.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is a text-pin position on a page.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Location is the resolved, typed view of one annotation-placement event.
// Identity is the ChildID: any later event of either orientation for the
// same ChildID replaces the Location wholesale.
type Location struct {
	Orientation Orientation
	PageIndex   *int
	Interval    *Interval
	Rect        *Rect
	Pin         *Point
	Status      string
	Creator     string
	Private     bool
	ParentID    string
	ChildID     string
	Text        string
	RootBody    string
	Question    bool
	EventID     string
	Timestamp   time.Time
}

// Type derives the annotation type from the positional payload, or ""
// when no type is resolvable.
func (l Location) Type() LocationType {
	switch {
	case l.Rect != nil:
		return TypeHighlight
	case l.Pin != nil:
		return TypeTextPin
	case l.Interval != nil:
		return TypeMediaFragment
	}
	return ""
}

// IsValid reports whether the Location carries everything the index
// needs: a resolvable type, a position, a status and a creator. Invalid
// Locations are silently excluded from the index; malformed events on
// the replicated log are not errors.
func (l Location) IsValid() bool {
	if l.Type() == "" {
		return false
	}
	if l.PageIndex == nil && l.Interval == nil {
		return false
	}
	if l.Status == "" || l.Creator == "" {
		return false
	}
	return l.ChildID != ""
}

// Position returns the externally visible resource position for this
// Location: the page index for paged resources, the interval start
// (whole units) for media fragments.
func (l Location) Position() int {
	if l.PageIndex != nil {
		return *l.PageIndex
	}
	if l.Interval != nil {
		return int(l.Interval.Start)
	}
	return 0
}

// Clone returns a deep copy so callers can hold snapshots without
// aliasing index-owned state.
func (l Location) Clone() Location {
	cloned := l
	if l.PageIndex != nil {
		v := *l.PageIndex
		cloned.PageIndex = &v
	}
	if l.Interval != nil {
		v := *l.Interval
		cloned.Interval = &v
	}
	if l.Rect != nil {
		v := *l.Rect
		cloned.Rect = &v
	}
	if l.Pin != nil {
		v := *l.Pin
		cloned.Pin = &v
	}
	return cloned
}
