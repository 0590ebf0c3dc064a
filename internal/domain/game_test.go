package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Foo's Bar!":      "foo-s-bar",
		"  Foo's  Bar! ":  "foo-s-bar",
		"ALREADY-Slugged": "already-slugged",
		"":                 "",
	}
	for in, want := range cases {
		require.Equal(t, want, slugify(in), "slugify(%q)", in)
	}
}

func TestGame_EqualByID(t *testing.T) {
	a := NewGame(1, "Alpha", "")
	b := NewGame(1, "Alpha Renamed", "")
	c := NewGame(2, "Alpha", "")

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestNewGame_PrecomputesSlug(t *testing.T) {
	g := NewGame(1, "Don't Starve Together", "")
	require.Equal(t, "don-t-starve-together", g.Slug())
}
