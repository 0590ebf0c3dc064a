// Package domain implements the mining core's value model: Game,
// Benefit, Drop, Campaign, Channel and the invariants among them
// (spec.md §3, §4.6). It is grounded line-for-line on
// original_source/src/models/{game,benefit,drop,campaign}.py, translated
// from Python properties/cached_property into Go value receivers and a
// small amount of explicit mutex-free mutation (the scheduler is the only
// writer, single event loop, per spec.md §5).
package domain

import (
	"regexp"
	"strings"
)

// Game is a Twitch game/category. Equality is by id, matching the
// original's __eq__/__hash__ override.
type Game struct {
	ID         int
	Name       string
	BoxArtURL  string

	slug string
}

var (
	nonAlphaNumericRe = regexp.MustCompile(`[^a-z0-9]+`)
	dashRunRe         = regexp.MustCompile(`-{2,}`)
)

// NewGame builds a Game and precomputes its slug (the original makes this
// a cached_property; Go has no lazy-field sugar so it's computed once at
// construction instead).
func NewGame(id int, name, boxArtURL string) Game {
	g := Game{ID: id, Name: name, BoxArtURL: boxArtURL}
	g.slug = slugify(name)
	return g
}

// Slug returns the GQL-API-ready slug for this game's name.
func (g Game) Slug() string { return g.slug }

// slugify reproduces the original's slug property verbatim: lowercase,
// replace every run of non-alphanumerics (including apostrophes) with a
// single dash, then collapse/trim dashes. See spec.md §8:
// slug(" Foo's  Bar! ") = "foo-s-bar" — the apostrophe in "Foo's" breaks
// the alnum run just like the surrounding spaces do, so it becomes its
// own dash rather than being silently dropped.
func slugify(name string) string {
	s := strings.ToLower(name)
	s = nonAlphaNumericRe.ReplaceAllString(s, "-")
	s = dashRunRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Equal reports value-equality by id, matching Game.__eq__.
func (g Game) Equal(other Game) bool { return g.ID == other.ID }
