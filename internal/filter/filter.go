// Package filter evaluates annotation search queries. A query string is
// tokenized on whitespace: @name tokens build an OR-group of creator
// predicates, ~flag tokens build an AND-group of named predicates, and
// everything else is AND-matched as text.
package filter

import (
	"strings"
	"time"

	"github.com/scholia/scholia/internal/models"
)

// Flag names understood by ~flag tokens.
const (
	FlagMe       = "me"
	FlagHour     = "hour"
	FlagDay      = "day"
	FlagWeek     = "week"
	FlagQuestion = "question"
	FlagUnread   = "unread"
)

// Query is a parsed search query. The zero Query matches everything.
type Query struct {
	Creators []string
	Flags    []string
	Terms    []string
	Raw      string
}

// Env supplies the viewer-dependent context flag predicates need.
// Matches is pure given a fixed Env.
type Env struct {
	Viewer string
	Now    time.Time
	// Unread reports the unread count of a discussion. Nil means all
	// discussions count as read.
	Unread func(childID string) int
}

// Parse tokenizes a raw query string.
func Parse(raw string) Query {
	out := Query{Raw: raw}
	for _, tok := range strings.Fields(raw) {
		switch {
		case strings.HasPrefix(tok, "@"):
			if name := tok[1:]; name != "" {
				out.Creators = append(out.Creators, strings.ToLower(name))
			}
		case strings.HasPrefix(tok, "~"):
			if flag := strings.ToLower(tok[1:]); flag != "" {
				out.Flags = append(out.Flags, flag)
			}
		default:
			out.Terms = append(out.Terms, strings.ToLower(tok))
		}
	}
	return out
}

// IsEmpty reports whether the query matches everything.
func (q Query) IsEmpty() bool {
	return len(q.Creators) == 0 && len(q.Flags) == 0 && len(q.Terms) == 0
}

// Matches reports whether the Location passes the query:
// (flag AND-group) AND (creator OR-group, vacuously true if empty) AND
// (text AND-group). Pure and idempotent.
func (q Query) Matches(loc models.Location, env Env) bool {
	for _, flag := range q.Flags {
		if !matchFlag(flag, loc, env) {
			return false
		}
	}

	if len(q.Creators) > 0 {
		creator := strings.ToLower(loc.Creator)
		matched := false
		for _, name := range q.Creators {
			if strings.Contains(creator, name) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(q.Terms) > 0 {
		text := strings.ToLower(loc.Text)
		body := strings.ToLower(loc.RootBody)
		for _, term := range q.Terms {
			if !strings.Contains(text, term) && !strings.Contains(body, term) {
				return false
			}
		}
	}

	return true
}

func matchFlag(flag string, loc models.Location, env Env) bool {
	switch flag {
	case FlagMe:
		return loc.Creator == env.Viewer
	case FlagHour:
		return withinWindow(loc.Timestamp, env.Now, time.Hour)
	case FlagDay:
		return withinWindow(loc.Timestamp, env.Now, 24*time.Hour)
	case FlagWeek:
		return withinWindow(loc.Timestamp, env.Now, 7*24*time.Hour)
	case FlagQuestion:
		return loc.Question
	case FlagUnread:
		return env.Unread != nil && env.Unread(loc.ChildID) > 0
	}
	// Unknown flags are ignored rather than excluding everything.
	return true
}

func withinWindow(ts, now time.Time, window time.Duration) bool {
	if ts.IsZero() {
		return false
	}
	age := now.Sub(ts)
	return age >= 0 && age <= window
}
