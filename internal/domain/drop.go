package domain

import (
	"math"
	"strconv"
	"time"
)

// MaxExtraMinutes is the ceiling on TimedDrop.ExtraCurrentMinutes while a
// drop is still earnable (spec.md §3, §4.6). Reaching it requests a
// channel switch exactly once per drop per watch cycle (spec.md §8).
const MaxExtraMinutes = 15

// Drop is a time-gated reward within a Campaign (spec.md §3 TimedDrop).
// It holds a back-pointer to its owning Campaign; ownership itself flows
// the other way (Campaign.Drops owns the Drop), so this is a read-only
// collaborator link, never a second owner (spec.md §9).
type Drop struct {
	ID                 string
	Name               string
	Campaign           *Campaign
	Benefits           []Benefit
	StartsAt           time.Time
	EndsAt             time.Time
	ClaimID            string
	IsClaimed          bool
	PreconditionDrops  []string

	RequiredMinutes     int
	RealCurrentMinutes  int
	ExtraCurrentMinutes int
}

// CurrentMinutes is real + extra watched minutes.
func (d *Drop) CurrentMinutes() int {
	return d.RealCurrentMinutes + d.ExtraCurrentMinutes
}

// RemainingMinutes is required minus current, floored implicitly by
// update_minutes clamping (never goes negative in practice).
func (d *Drop) RemainingMinutes() int {
	return d.RequiredMinutes - d.CurrentMinutes()
}

// Progress is CurrentMinutes/RequiredMinutes clamped to [0,1].
func (d *Drop) Progress() float64 {
	cur, req := d.CurrentMinutes(), d.RequiredMinutes
	if cur <= 0 || req <= 0 {
		return 0
	}
	if cur >= req {
		return 1
	}
	return float64(cur) / float64(req)
}

// TotalRequiredMinutes adds this drop's required minutes to the largest
// total_required_minutes among its preconditions, recursively (spec.md §3).
func (d *Drop) TotalRequiredMinutes() int {
	return d.RequiredMinutes + d.maxPrecondition(func(p *Drop) int { return p.TotalRequiredMinutes() })
}

// TotalRemainingMinutes is the same recursive shape for remaining minutes.
func (d *Drop) TotalRemainingMinutes() int {
	return d.RemainingMinutes() + d.maxPrecondition(func(p *Drop) int { return p.TotalRemainingMinutes() })
}

func (d *Drop) maxPrecondition(f func(*Drop) int) int {
	best := 0
	for _, pid := range d.PreconditionDrops {
		p := d.Campaign.Drops[pid]
		if p == nil {
			continue
		}
		if v := f(p); v > best {
			best = v
		}
	}
	return best
}

// Availability is the supplemented minutes-per-real-minute-remaining
// ratio from original_source (drop.py availability property): +Inf when
// not usefully time-constrained. Pure observability, wired through
// internal/metrics as a per-campaign gauge (SPEC_FULL.md §2).
func (d *Drop) Availability(now time.Time) float64 {
	totalRemaining := d.TotalRemainingMinutes()
	if d.RequiredMinutes > 0 && totalRemaining > 0 && now.Before(d.EndsAt) {
		return d.EndsAt.Sub(now).Minutes() / float64(totalRemaining)
	}
	return math.Inf(1)
}

// PreconditionsMet reports whether every precondition drop of this one is
// already claimed.
func (d *Drop) PreconditionsMet() bool {
	for _, pid := range d.PreconditionDrops {
		p := d.Campaign.Drops[pid]
		if p == nil || !p.IsClaimed {
			return false
		}
	}
	return true
}

// baseEarnConditions is the shared (time-independent) earn gate: not
// claimed, preconditions met, has rewards or participates in a
// preconditions chain, required_minutes set, and extra minutes not yet
// maxed out (spec.md §4.6).
func (d *Drop) baseEarnConditions() bool {
	if d.IsClaimed || !d.PreconditionsMet() {
		return false
	}
	if len(d.Benefits) == 0 && !d.Campaign.preconditionsChainHas(d.ID) {
		return false
	}
	return d.RequiredMinutes > 0 && d.ExtraCurrentMinutes < MaxExtraMinutes
}

// baseCanEarn adds the current time window to baseEarnConditions.
func (d *Drop) baseCanEarn(now time.Time) bool {
	return d.baseEarnConditions() && !now.Before(d.StartsAt) && now.Before(d.EndsAt)
}

// canEarnWithin is the forward-looking variant: earnable at stamp,
// ignoring campaign-level eligibility/active checks (used to decide which
// campaigns to discover channels for in the next hour).
func (d *Drop) canEarnWithin(now, stamp time.Time) bool {
	return d.baseEarnConditions() && d.EndsAt.After(now) && d.StartsAt.Before(stamp)
}

// CanEarn reports whether this drop can currently be progressed,
// optionally against a specific channel (spec.md §4.6).
func (d *Drop) CanEarn(channel *Channel, now time.Time) bool {
	return d.baseCanEarn(now) && d.Campaign.baseCanEarn(channel, now, false)
}

// CanClaim reports whether this drop is claimable: has a claim id, isn't
// already claimed, and the campaign's 24h grace window hasn't elapsed
// (spec.md §4.11).
func (d *Drop) CanClaim(now time.Time) bool {
	if d.ClaimID == "" || d.IsClaimed {
		return false
	}
	return now.Before(d.Campaign.EndsAt.Add(24 * time.Hour))
}

// UpdateClaim records a claim id observed from a websocket drop-claim
// message (preferred over the synthesized fallback, spec.md §9 Open
// Questions decision #3).
func (d *Drop) UpdateClaim(claimID string) { d.ClaimID = claimID }

// GenerateSyntheticClaimID fills ClaimID with the UserID#CampaignID#DropID
// form used when the server never sent one (original drop.py
// generate_claim, spec.md §9 decision #3: fallback only).
func (d *Drop) GenerateSyntheticClaimID(userID int) {
	if d.ClaimID != "" {
		return
	}
	d.ClaimID = strconv.Itoa(userID) + "#" + d.Campaign.ID + "#" + d.ID
}

// ApplyClaimResult marks this drop claimed and forces its minutes to the
// required amount, per spec.md §4.11's post-claim invariant.
func (d *Drop) ApplyClaimResult() {
	d.IsClaimed = true
	d.RealCurrentMinutes = d.RequiredMinutes
	d.ExtraCurrentMinutes = 0
}

// UpdateMinutes clamps newMinutes into [0, required] and applies the
// resulting delta to this drop, matching the original's update_minutes /
// _update_real_minutes split. A no-op if the drop can't currently earn
// (already claimed, preconditions unmet, outside its time window).
func (d *Drop) UpdateMinutes(newMinutes int, now time.Time) {
	if !d.CanEarn(nil, now) {
		return
	}
	switch {
	case newMinutes < 0:
		newMinutes = 0
	case newMinutes > d.RequiredMinutes:
		newMinutes = d.RequiredMinutes
	}
	d.RealCurrentMinutes = newMinutes
	d.ExtraCurrentMinutes = 0
}

// bumpMinutes adds one extra minute if this drop can still earn against
// channel, returning true if doing so maxed out ExtraCurrentMinutes
// (signals the caller to request a channel switch).
func (d *Drop) bumpMinutes(channel *Channel, now time.Time) bool {
	if !d.CanEarn(channel, now) {
		return false
	}
	d.ExtraCurrentMinutes++
	return d.ExtraCurrentMinutes >= MaxExtraMinutes
}
