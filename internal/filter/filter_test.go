package filter

import (
	"testing"
	"time"

	"github.com/scholia/scholia/internal/models"
)

func TestParse(t *testing.T) {
	t.Parallel()
	q := Parse("@Alice ~hour design review @bob ~me")
	if len(q.Creators) != 2 || q.Creators[0] != "alice" || q.Creators[1] != "bob" {
		t.Fatalf("Creators=%v", q.Creators)
	}
	if len(q.Flags) != 2 || q.Flags[0] != "hour" || q.Flags[1] != "me" {
		t.Fatalf("Flags=%v", q.Flags)
	}
	if len(q.Terms) != 2 || q.Terms[0] != "design" || q.Terms[1] != "review" {
		t.Fatalf("Terms=%v", q.Terms)
	}
	if !Parse("").IsEmpty() {
		t.Fatalf("empty query should be empty")
	}
	if Parse("@ ~   ").IsEmpty() == false {
		t.Fatalf("bare sigils should parse to empty query")
	}
}

func page(n int) *int { return &n }

func sampleLocation(creator, text string, age time.Duration, now time.Time) models.Location {
	return models.Location{
		Orientation: models.OrientationChild,
		PageIndex:   page(3),
		Rect:        &models.Rect{X: 1, Y: 2, Width: 3, Height: 4},
		Status:      models.StatusOpen,
		Creator:     creator,
		ChildID:     "!disc:" + creator,
		Text:        text,
		Timestamp:   now.Add(-age),
	}
}

func TestMatchesScenario(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	env := Env{Viewer: "@carol:server", Now: now}
	q := Parse("@alice ~hour design")

	included := sampleLocation("@alice:server", "design review", 10*time.Minute, now)
	if !q.Matches(included, env) {
		t.Fatalf("expected alice's recent design annotation to match")
	}

	excluded := sampleLocation("@bob:server", "design review", 10*time.Minute, now)
	if q.Matches(excluded, env) {
		t.Fatalf("expected bob's annotation to be excluded")
	}

	stale := sampleLocation("@alice:server", "design review", 2*time.Hour, now)
	if q.Matches(stale, env) {
		t.Fatalf("expected stale annotation to be excluded by ~hour")
	}
}

func TestMatchesFlags(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	loc := sampleLocation("@carol:server", "question about margins", 30*time.Minute, now)
	loc.Question = true

	cases := []struct {
		query  string
		unread int
		want   bool
	}{
		{"~me", 0, true},
		{"~question", 0, true},
		{"~day", 0, true},
		{"~week", 0, true},
		{"~unread", 0, false},
		{"~unread", 2, true},
		{"~bogus", 0, true}, // unknown flags are ignored
	}
	for _, tc := range cases {
		env := Env{
			Viewer: "@carol:server",
			Now:    now,
			Unread: func(string) int { return tc.unread },
		}
		if got := Parse(tc.query).Matches(loc, env); got != tc.want {
			t.Fatalf("Matches(%q) unread=%d got %v want %v", tc.query, tc.unread, got, tc.want)
		}
	}
}

func TestMatchesTextFallsBackToRootBody(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	env := Env{Viewer: "@carol:server", Now: now}

	loc := sampleLocation("@alice:server", "", time.Minute, now)
	loc.RootBody = "let's fix the kerning here"
	if !Parse("kerning").Matches(loc, env) {
		t.Fatalf("expected term to match the thread-root body")
	}

	// No text tokens: missing text fields must not exclude the Location.
	bare := sampleLocation("@alice:server", "", time.Minute, now)
	if !Parse("@alice").Matches(bare, env) {
		t.Fatalf("expected non-text query to pass despite missing text")
	}
	if Parse("kerning").Matches(bare, env) {
		t.Fatalf("expected text query to fail on missing text")
	}
}

func TestMatchesIdempotent(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	env := Env{Viewer: "@carol:server", Now: now}
	q := Parse("@alice design")

	locations := []models.Location{
		sampleLocation("@alice:server", "design doc", time.Minute, now),
		sampleLocation("@bob:server", "design doc", time.Minute, now),
		sampleLocation("@alice:server", "typo", time.Minute, now),
	}

	var once []models.Location
	for _, loc := range locations {
		if q.Matches(loc, env) {
			once = append(once, loc)
		}
	}
	var twice []models.Location
	for _, loc := range once {
		if q.Matches(loc, env) {
			twice = append(twice, loc)
		}
	}
	if len(once) != 1 || len(twice) != len(once) {
		t.Fatalf("filtering already-filtered sequence changed it: %d -> %d", len(once), len(twice))
	}
}
