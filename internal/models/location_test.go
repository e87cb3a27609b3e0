package models

import (
	"testing"
	"time"
)

func intp(n int) *int { return &n }

func TestLocationType(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		loc  Location
		want LocationType
	}{
		{"highlight", Location{Rect: &Rect{Width: 1, Height: 1}}, TypeHighlight},
		{"text-pin", Location{Pin: &Point{X: 1, Y: 2}}, TypeTextPin},
		{"media-fragment", Location{Interval: &Interval{Start: 1, End: 2}}, TypeMediaFragment},
		{"none", Location{}, LocationType("")},
		// Rect wins when both are present; types are mutually exclusive.
		{"rect-over-interval", Location{Rect: &Rect{}, Interval: &Interval{}}, TypeHighlight},
	}
	for _, tc := range cases {
		if got := tc.loc.Type(); got != tc.want {
			t.Fatalf("%s: Type()=%q want %q", tc.name, got, tc.want)
		}
	}
}

func TestLocationIsValid(t *testing.T) {
	t.Parallel()
	valid := Location{
		Orientation: OrientationChild,
		PageIndex:   intp(2),
		Rect:        &Rect{Width: 10, Height: 4},
		Status:      StatusOpen,
		Creator:     "@alice:server",
		ChildID:     "!disc:server",
	}
	if !valid.IsValid() {
		t.Fatalf("expected valid location")
	}

	cases := []struct {
		name   string
		mutate func(*Location)
	}{
		{"no type", func(l *Location) { l.Rect = nil }},
		{"no position", func(l *Location) { l.PageIndex = nil; l.Rect = nil; l.Pin = &Point{} }},
		{"no status", func(l *Location) { l.Status = "" }},
		{"no creator", func(l *Location) { l.Creator = "" }},
		{"no child", func(l *Location) { l.ChildID = "" }},
	}
	for _, tc := range cases {
		loc := valid.Clone()
		tc.mutate(&loc)
		if loc.IsValid() {
			t.Fatalf("%s: expected invalid location", tc.name)
		}
	}
}

func TestLocationPosition(t *testing.T) {
	t.Parallel()
	paged := Location{PageIndex: intp(7)}
	if paged.Position() != 7 {
		t.Fatalf("Position()=%d want 7", paged.Position())
	}
	media := Location{Interval: &Interval{Start: 93.7, End: 120}}
	if media.Position() != 93 {
		t.Fatalf("Position()=%d want 93", media.Position())
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	loc := Location{
		PageIndex: intp(1),
		Rect:      &Rect{X: 1},
		Timestamp: time.Now(),
	}
	cloned := loc.Clone()
	*cloned.PageIndex = 9
	cloned.Rect.X = 9
	if *loc.PageIndex != 1 || loc.Rect.X != 1 {
		t.Fatalf("clone aliased the original")
	}
}
