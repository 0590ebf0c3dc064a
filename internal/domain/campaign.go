package domain

import (
	"sort"
	"time"
)

// CampaignStatus mirrors the platform's campaign status enum (spec.md §3).
type CampaignStatus string

const (
	CampaignStatusActive   CampaignStatus = "ACTIVE"
	CampaignStatusUpcoming CampaignStatus = "UPCOMING"
	CampaignStatusExpired  CampaignStatus = "EXPIRED"
)

// Campaign is a DropsCampaign: a game-scoped collection of Drops that
// share a time window, allowed-channels list, and account-link
// eligibility rule (spec.md §3 Campaign, §4.6). It is the sole owner of
// its Drops; every Drop's Campaign back-pointer refers back here
// (spec.md §9 — campaign owns, drop links).
type Campaign struct {
	ID             string
	Name           string
	Game           Game
	Status         CampaignStatus
	StartsAt       time.Time
	EndsAt         time.Time
	AccountLinked  bool
	// AllowedChannels is nil/empty when every channel streaming Game
	// qualifies; otherwise it's the exact allow-list (spec.md §3).
	AllowedChannels map[string]struct{}
	// AllowedChannelRefs carries the id+login pairs behind AllowedChannels,
	// since channel discovery (spec.md §4.8 CHANNELS_FETCH) needs enough
	// to construct a Channel, not just a membership test.
	AllowedChannelRefs []ACLChannelRef
	Drops              map[string]*Drop
	// DropOrder preserves the campaign's declared drop ordering, since
	// Drops is keyed by id for O(1) precondition lookups.
	DropOrder []string
}

// Valid reports the campaign's validity flag: anything not EXPIRED.
func (c *Campaign) Valid() bool { return c.Status != CampaignStatusExpired }

// Active reports valid ∧ starts_at ≤ now < ends_at (spec.md §3).
func (c *Campaign) Active(now time.Time) bool {
	return c.Valid() && !now.Before(c.StartsAt) && now.Before(c.EndsAt)
}

// Upcoming reports valid ∧ now < starts_at.
func (c *Campaign) Upcoming(now time.Time) bool {
	return c.Valid() && now.Before(c.StartsAt)
}

// Expired reports the explicit EXPIRED status.
func (c *Campaign) Expired() bool { return c.Status == CampaignStatusExpired }

// Linked reports whether this campaign requires a platform-linked account
// to earn (as opposed to badge/emote-only campaigns open to anyone).
func (c *Campaign) Linked() bool { return c.AccountLinked }

// Eligible reports whether the account can earn on this campaign at all:
// linked campaigns are always eligible; unlinked ones require every drop
// granting only badge/emote benefits (spec.md §3 Campaign.eligible, §4.6).
func (c *Campaign) Eligible() bool {
	if c.AccountLinked {
		return true
	}
	for _, d := range c.Drops {
		for _, b := range d.Benefits {
			if !b.Type.IsBadgeOrEmote() {
				return false
			}
		}
	}
	return true
}

// Finished reports whether every drop in this campaign has been claimed.
func (c *Campaign) Finished() bool {
	for _, d := range c.Drops {
		if !d.IsClaimed {
			return false
		}
	}
	return len(c.Drops) > 0
}

// ClaimedDrops returns the claimed subset of this campaign's drops, in
// declared order.
func (c *Campaign) ClaimedDrops() []*Drop {
	out := make([]*Drop, 0, len(c.DropOrder))
	for _, id := range c.DropOrder {
		if d := c.Drops[id]; d != nil && d.IsClaimed {
			out = append(out, d)
		}
	}
	return out
}

// ChannelAllowed reports whether channel qualifies for this campaign's
// drops. An empty AllowedChannels means every channel streaming the
// campaign's game qualifies; a non-empty one is an exact allow-list.
func (c *Campaign) ChannelAllowed(channel *Channel) bool {
	if channel == nil {
		return true
	}
	if len(c.AllowedChannels) == 0 {
		return true
	}
	_, ok := c.AllowedChannels[channel.ID]
	return ok
}

// channelLive reports whether channel is currently live on this
// campaign's game — the "channel is live on this game" clause of
// Campaign.can_earn (spec.md §4.6). A nil channel always passes, since
// many call sites check earnability without a specific channel in mind.
func (c *Campaign) channelLive(channel *Channel) bool {
	if channel == nil {
		return true
	}
	return channel.Online && channel.Game != nil && channel.Game.Equal(c.Game)
}

// baseCanEarn is the campaign-level earn gate shared by Drop.CanEarn and
// the channel-discovery pass: active (or ignored when ignoreActive is
// set, for can_earn_within forward scans), eligible, channel allowed by
// ACL, and — when a channel is given — live on this game.
func (c *Campaign) baseCanEarn(channel *Channel, now time.Time, ignoreActive bool) bool {
	if !ignoreActive && !c.Active(now) {
		return false
	}
	if !c.Eligible() {
		return false
	}
	if !c.ChannelAllowed(channel) {
		return false
	}
	return c.channelLive(channel)
}

// CanEarn reports campaign-level earnability: eligible, active, channel
// allowed and live, and at least one owned drop is base-earnable
// (spec.md §4.6).
func (c *Campaign) CanEarn(channel *Channel, now time.Time) bool {
	if !c.baseCanEarn(channel, now, false) {
		return false
	}
	for _, d := range c.Drops {
		if d.baseCanEarn(now) {
			return true
		}
	}
	return false
}

// CanEarnWithin reports whether any drop in this campaign will be
// earnable at stamp, used to decide which campaigns need a channel
// discovery pass in the upcoming hour (spec.md §4.6, §4.8).
func (c *Campaign) CanEarnWithin(now, stamp time.Time) bool {
	if !c.Eligible() {
		return false
	}
	for _, d := range c.Drops {
		if d.canEarnWithin(now, stamp) {
			return true
		}
	}
	return false
}

// RemainingMinutes is the maximum total_remaining_minutes across this
// campaign's drops (spec.md §3).
func (c *Campaign) RemainingMinutes() int {
	best := 0
	for _, d := range c.Drops {
		if v := d.TotalRemainingMinutes(); v > best {
			best = v
		}
	}
	return best
}

// FirstDrop returns the earnable drop with the smallest remaining
// minutes, or nil if none is earnable right now (spec.md §3 first_drop).
func (c *Campaign) FirstDrop(channel *Channel, now time.Time) *Drop {
	var best *Drop
	for _, id := range c.DropOrder {
		d := c.Drops[id]
		if d == nil || !d.CanEarn(channel, now) {
			continue
		}
		if best == nil || d.RemainingMinutes() < best.RemainingMinutes() {
			best = d
		}
	}
	return best
}

// TimeTriggers collects the campaign's own window bounds plus every
// owned drop's start/end, the raw material for the maintenance task's
// trigger deque (spec.md §3, §4.12).
func (c *Campaign) TimeTriggers() []time.Time {
	triggers := make([]time.Time, 0, 2+2*len(c.Drops))
	triggers = append(triggers, c.StartsAt, c.EndsAt)
	for _, d := range c.Drops {
		triggers = append(triggers, d.StartsAt, d.EndsAt)
	}
	return triggers
}

// BumpMinutes advances every currently-earnable drop in this campaign by
// one minute against channel, returning true if any of them just maxed
// out its extra-minutes budget (a signal the watch loop should switch
// channels, spec.md §4.6, §4.9).
func (c *Campaign) BumpMinutes(channel *Channel, now time.Time) bool {
	maxedOut := false
	for _, id := range c.DropOrder {
		d := c.Drops[id]
		if d == nil {
			continue
		}
		if d.bumpMinutes(channel, now) {
			maxedOut = true
		}
	}
	return maxedOut
}

// preconditionsChainHas reports whether dropID appears as a precondition
// of any other drop in this campaign — used by Drop.baseEarnConditions to
// let zero-benefit "gate" drops still count as earnable.
func (c *Campaign) preconditionsChainHas(dropID string) bool {
	for _, d := range c.Drops {
		for _, pid := range d.PreconditionDrops {
			if pid == dropID {
				return true
			}
		}
	}
	return false
}

// SortCampaigns orders campaigns for presentation: eligible before
// non-eligible; active first, then by ends_at; upcoming next, by
// starts_at; expired last (spec.md §4.6, §4.8).
func SortCampaigns(campaigns []*Campaign, now time.Time) {
	sort.SliceStable(campaigns, func(i, j int) bool {
		a, b := campaigns[i], campaigns[j]
		if ea, eb := a.Eligible(), b.Eligible(); ea != eb {
			return ea
		}
		aActive, bActive := a.Active(now), b.Active(now)
		if aActive != bActive {
			return aActive
		}
		if aActive {
			return a.EndsAt.Before(b.EndsAt)
		}
		aUpcoming, bUpcoming := a.Upcoming(now), b.Upcoming(now)
		if aUpcoming != bUpcoming {
			return aUpcoming
		}
		if aUpcoming {
			return a.StartsAt.Before(b.StartsAt)
		}
		return a.EndsAt.Before(b.EndsAt)
	})
}
