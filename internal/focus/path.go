package focus

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadPath reports an unparseable navigation path.
var ErrBadPath = errors.New("malformed navigation path")

// Route is the decoded form of a navigation path. The path is the sole
// externally durable encoding of focus state:
// /<resourceAlias>/<position>/<childId>?/<eventId>?
type Route struct {
	Alias    string
	Position int
	ChildID  string
	EventID  string
}

// Encode renders the route as a navigation path.
func (r Route) Encode() string {
	var b strings.Builder
	b.WriteByte('/')
	b.WriteString(r.Alias)
	b.WriteByte('/')
	b.WriteString(strconv.Itoa(r.Position))
	if r.ChildID != "" {
		b.WriteByte('/')
		b.WriteString(r.ChildID)
		if r.EventID != "" {
			b.WriteByte('/')
			b.WriteString(r.EventID)
		}
	}
	return b.String()
}

// ParsePath decodes a navigation path into a Route.
func ParsePath(path string) (Route, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return Route{}, fmt.Errorf("%w: empty", ErrBadPath)
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 || len(parts) > 4 {
		return Route{}, fmt.Errorf("%w: %q", ErrBadPath, path)
	}

	route := Route{Alias: parts[0]}
	if route.Alias == "" {
		return Route{}, fmt.Errorf("%w: missing alias in %q", ErrBadPath, path)
	}
	position, err := strconv.Atoi(parts[1])
	if err != nil || position < 0 {
		return Route{}, fmt.Errorf("%w: bad position in %q", ErrBadPath, path)
	}
	route.Position = position

	if len(parts) > 2 {
		route.ChildID = parts[2]
	}
	if len(parts) > 3 {
		route.EventID = parts[3]
	}
	return route, nil
}
