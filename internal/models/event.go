// Package models defines the core data types shared across the engine:
// raw replicated events and resolved annotation Locations.
package models

import (
	"encoding/json"
	"time"
)

// Event types carried on the replicated log.
const (
	// EventTypeMarker is a state event on a resource room pointing at a
	// discussion room (parent orientation).
	EventTypeMarker = "scholia.marker"

	// EventTypeBackMarker is a state event on a discussion room pointing
	// back at its resource room (child orientation).
	EventTypeBackMarker = "scholia.marker.back"

	// EventTypeMessage is an ordinary timeline message in a discussion.
	EventTypeMessage = "scholia.message"

	// EventTypeCreate marks room creation.
	EventTypeCreate = "scholia.create"
)

// Annotation status values. Each marker event replaces status wholesale,
// so "reopening" a closed annotation is just a new event with StatusOpen.
const (
	StatusPending = "pending"
	StatusOpen    = "open"
	StatusClosed  = "closed"
)

// Event is one raw entry from the replicated room log. The log cannot be
// assumed well-formed; consumers must validate before use.
type Event struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"room_id"`
	Type      string          `json:"type"`
	StateKey  string          `json:"state_key,omitempty"`
	Sender    string          `json:"sender"`
	Timestamp time.Time       `json:"ts"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// IsState reports whether the event is a state event (keyed by StateKey).
func (e *Event) IsState() bool {
	return e.Type == EventTypeMarker || e.Type == EventTypeBackMarker || e.Type == EventTypeCreate
}

// MarkerContent is the decoded payload of a marker event. All positional
// fields are optional on the wire; validation happens on the resolved
// Location, not here.
type MarkerContent struct {
	ResourceID   string    `json:"resource_id,omitempty"`
	DiscussionID string    `json:"discussion_id,omitempty"`
	PageIndex    *int      `json:"page_index,omitempty"`
	Interval     *Interval `json:"interval,omitempty"`
	Rect         *Rect     `json:"rect,omitempty"`
	Pin          *Point    `json:"pin,omitempty"`
	Status       string    `json:"status,omitempty"`
	Creator      string    `json:"creator,omitempty"`
	Private      bool      `json:"private,omitempty"`
	Text         string    `json:"text,omitempty"`
	RootBody     string    `json:"root_body,omitempty"`
	Question     bool      `json:"question,omitempty"`
}

// MessageContent is the decoded payload of a discussion message.
type MessageContent struct {
	Body string `json:"body"`
}

// DecodeMarker decodes the event content as a marker payload. Malformed
// content yields a zero MarkerContent, never an error: the resulting
// Location simply fails validation.
func (e *Event) DecodeMarker() MarkerContent {
	var content MarkerContent
	if len(e.Content) == 0 {
		return content
	}
	_ = json.Unmarshal(e.Content, &content)
	return content
}

// DecodeMessage decodes the event content as a message payload.
func (e *Event) DecodeMessage() MessageContent {
	var content MessageContent
	if len(e.Content) == 0 {
		return content
	}
	_ = json.Unmarshal(e.Content, &content)
	return content
}
