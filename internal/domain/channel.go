package domain

import "strings"

// Channel is a live-streaming channel the scheduler may choose to watch
// (spec.md §3 Channel). There is no separate "Stream" type in this
// model: the platform's stream-state events (viewcount, stream-up/down,
// broadcast-settings) all resolve to mutations of a Channel's own
// viewer/online/game fields, so they're represented here directly rather
// than as a second value type with its own lifecycle.
//
// Channel is a read-only collaborator everywhere except the scheduler,
// the inventory service, and the message handlers, all of which run on
// the single event loop (spec.md §3 Ownership, §5 Shared-resource
// policy) — so these mutators need no locking.
type Channel struct {
	ID           string
	Login        string
	Game         *Game
	Viewers      *int
	Online       bool
	DropsEnabled bool
	// ACLBased is true iff this channel was introduced into the tracked
	// set via a campaign's allow-list rather than directory discovery.
	ACLBased bool
}

// ACLChannelRef is the id+login pair a campaign's allow-list carries for
// one channel, enough to materialize it during discovery (spec.md §4.8
// CHANNELS_FETCH) without waiting on a directory query.
type ACLChannelRef struct {
	ID    string
	Login string
}

// NewChannel constructs a Channel in its initial (unknown-liveness) state.
func NewChannel(id, login string, aclBased bool) *Channel {
	return &Channel{ID: id, Login: login, ACLBased: aclBased}
}

// SetViewers updates the viewer count (nil clears it, matching the
// platform's nullable viewer field).
func (c *Channel) SetViewers(v *int) { c.Viewers = v }

// SetOnline updates the liveness flag, as driven by stream-up/stream-down
// and online re-checks (spec.md §4.10).
func (c *Channel) SetOnline(online bool) {
	c.Online = online
	if !online {
		c.Viewers = nil
	}
}

// SetGame updates the channel's current game, as driven by
// broadcast-settings change re-checks (spec.md §4.10).
func (c *Channel) SetGame(g *Game) { c.Game = g }

// GameName returns the channel's current game name, or "" if offline or
// unknown.
func (c *Channel) GameName() string {
	if c.Game == nil {
		return ""
	}
	return c.Game.Name
}

// StreamingWantedGame reports whether this channel is currently live on
// one of wantedGames, compared case-insensitively (spec.md §4.9 can_watch).
func (c *Channel) StreamingWantedGame(wantedGames []string) bool {
	if c.Game == nil {
		return false
	}
	name := strings.ToLower(c.Game.Name)
	for _, w := range wantedGames {
		if strings.ToLower(w) == name {
			return true
		}
	}
	return false
}

// ViewersKey is the sort key used for "viewer count desc, nulls last"
// ordering during channel discovery (spec.md §4.8 CHANNELS_FETCH): a
// present viewer count sorts before an absent one, and higher counts sort
// first.
func (c *Channel) ViewersKey() (value int, present bool) {
	if c.Viewers == nil {
		return 0, false
	}
	return *c.Viewers, true
}
