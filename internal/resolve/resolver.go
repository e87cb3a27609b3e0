// Package resolve turns raw replicated events into typed Locations.
package resolve

import (
	"github.com/scholia/scholia/internal/models"
)

// Resolve maps a raw event to a Location. Orientation is determined
// solely by event placement: a marker stored on the resource room
// resolves to parent, a back-marker stored on the discussion room
// resolves to child. Events of any other type resolve to an invalid
// zero Location. Pure; no side effects.
func Resolve(ev models.Event) models.Location {
	switch ev.Type {
	case models.EventTypeMarker:
		return fromMarker(ev, models.OrientationParent)
	case models.EventTypeBackMarker:
		return fromMarker(ev, models.OrientationChild)
	}
	return models.Location{}
}

func fromMarker(ev models.Event, orientation models.Orientation) models.Location {
	content := ev.DecodeMarker()

	loc := models.Location{
		Orientation: orientation,
		PageIndex:   content.PageIndex,
		Interval:    content.Interval,
		Rect:        content.Rect,
		Pin:         content.Pin,
		Status:      content.Status,
		Creator:     content.Creator,
		Private:     content.Private,
		Text:        content.Text,
		RootBody:    content.RootBody,
		Question:    content.Question,
		EventID:     ev.ID,
		Timestamp:   ev.Timestamp,
	}
	if loc.Creator == "" {
		loc.Creator = ev.Sender
	}

	switch orientation {
	case models.OrientationParent:
		loc.ParentID = ev.RoomID
		loc.ChildID = content.DiscussionID
		if loc.ChildID == "" {
			loc.ChildID = ev.StateKey
		}
	case models.OrientationChild:
		loc.ChildID = ev.RoomID
		loc.ParentID = content.ResourceID
		if loc.ParentID == "" {
			loc.ParentID = ev.StateKey
		}
	}
	return loc
}
