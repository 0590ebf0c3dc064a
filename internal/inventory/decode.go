// Package inventory implements INVENTORY_FETCH (spec.md §4.8, C7): pull
// in-progress campaigns plus all available ones, fetch per-campaign detail
// in chunks of 20, merge and materialize the domain model, then hand the
// scheduler a fresh campaign/drop index and switch-trigger set. Grounded
// on original_source/src/services/inventory_service.py, translated from
// its asyncio.as_completed fan-out into a pipeline of sequential chunk
// requests issued through gql.Client's own retry/rate-limit policy.
package inventory

import (
	"encoding/json"
	"time"

	"github.com/dropsminer/core/internal/domain"
	dmerrors "github.com/dropsminer/core/internal/errors"
)

type wireGame struct {
	ID          json.Number `json:"id"`
	DisplayName string      `json:"displayName"`
	Name        string      `json:"name"`
	BoxArtURL   string      `json:"boxArtURL"`
}

func (g wireGame) toDomain() domain.Game {
	id, _ := g.ID.Int64()
	name := g.DisplayName
	if name == "" {
		name = g.Name
	}
	return domain.NewGame(int(id), name, g.BoxArtURL)
}

type wireBenefitEdge struct {
	Benefit struct {
		ID                 string `json:"id"`
		Name               string `json:"name"`
		DistributionType   string `json:"distributionType"`
		ImageAssetURL      string `json:"imageAssetURL"`
	} `json:"benefit"`
}

func (e wireBenefitEdge) toDomain() domain.Benefit {
	return domain.Benefit{
		ID:       e.Benefit.ID,
		Name:     e.Benefit.Name,
		Type:     domain.ParseBenefitType(e.Benefit.DistributionType),
		ImageURL: e.Benefit.ImageAssetURL,
	}
}

type wireDropSelf struct {
	DropInstanceID       *string `json:"dropInstanceID"`
	IsClaimed            bool    `json:"isClaimed"`
	CurrentMinutesWatched int    `json:"currentMinutesWatched"`
}

type wirePreconditionDrop struct {
	ID string `json:"id"`
}

type wireDrop struct {
	ID                  string                 `json:"id"`
	Name                string                 `json:"name"`
	BenefitEdges        []wireBenefitEdge      `json:"benefitEdges"`
	StartAt             time.Time              `json:"startAt"`
	EndAt               time.Time              `json:"endAt"`
	RequiredMinutesWatched int                 `json:"requiredMinutesWatched"`
	PreconditionDrops   []wirePreconditionDrop `json:"preconditionDrops"`
	Self                *wireDropSelf          `json:"self"`
}

// claimedBenefits maps a benefit edge id to the timestamp it was awarded,
// the "inventory.gameEventDrops" list from the Inventory query — used as
// a claimed-status fallback when a drop carries no "self" edge (original
// BaseDrop.__init__ claimed_benefits heuristic).
type claimedBenefits map[string]time.Time

func (d wireDrop) toDomain(campaign *domain.Campaign, claimed claimedBenefits) *domain.Drop {
	benefits := make([]domain.Benefit, 0, len(d.BenefitEdges))
	for _, b := range d.BenefitEdges {
		benefits = append(benefits, b.toDomain())
	}
	preconditions := make([]string, 0, len(d.PreconditionDrops))
	for _, p := range d.PreconditionDrops {
		preconditions = append(preconditions, p.ID)
	}

	drop := &domain.Drop{
		ID:                 d.ID,
		Name:                d.Name,
		Campaign:            campaign,
		Benefits:            benefits,
		StartsAt:            d.StartAt,
		EndsAt:              d.EndAt,
		PreconditionDrops:   preconditions,
		RequiredMinutes:     d.RequiredMinutesWatched,
	}

	switch {
	case d.Self != nil:
		drop.IsClaimed = d.Self.IsClaimed
		if d.Self.DropInstanceID != nil {
			drop.ClaimID = *d.Self.DropInstanceID
		}
		drop.RealCurrentMinutes = d.Self.CurrentMinutesWatched
	default:
		var awarded []time.Time
		for _, b := range benefits {
			if ts, ok := claimed[b.ID]; ok {
				awarded = append(awarded, ts)
			}
		}
		if len(awarded) > 0 {
			allWithinWindow := true
			for _, ts := range awarded {
				if ts.Before(d.StartAt) || !ts.Before(d.EndAt) {
					allWithinWindow = false
					break
				}
			}
			drop.IsClaimed = allWithinWindow
		}
	}

	if drop.IsClaimed {
		drop.RealCurrentMinutes = drop.RequiredMinutes
	}
	return drop
}

type wireAllow struct {
	Channels  []wireACLChannel `json:"channels"`
	IsEnabled *bool            `json:"isEnabled"`
}

type wireACLChannel struct {
	ID    string `json:"id"`
	Login string `json:"name"`
}

type wireCampaign struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Game     *wireGame `json:"game"`
	Status   string   `json:"status"`
	StartAt  time.Time `json:"startAt"`
	EndAt    time.Time `json:"endAt"`
	Self     struct {
		IsAccountConnected bool `json:"isAccountConnected"`
	} `json:"self"`
	Allow          wireAllow  `json:"allow"`
	TimeBasedDrops []wireDrop `json:"timeBasedDrops"`
}

// toDomain materializes a Campaign and its owned Drops. Returns nil if
// the campaign carries no game (original's "filter out invalid
// campaigns" pass, spec.md §4.8 INVENTORY_FETCH: "Drop campaigns with
// null game").
func (c wireCampaign) toDomain(claimed claimedBenefits) *domain.Campaign {
	if c.Game == nil {
		return nil
	}

	var allowed map[string]struct{}
	var refs []domain.ACLChannelRef
	if len(c.Allow.Channels) > 0 && (c.Allow.IsEnabled == nil || *c.Allow.IsEnabled) {
		allowed = make(map[string]struct{}, len(c.Allow.Channels))
		refs = make([]domain.ACLChannelRef, 0, len(c.Allow.Channels))
		for _, ch := range c.Allow.Channels {
			allowed[ch.ID] = struct{}{}
			refs = append(refs, domain.ACLChannelRef{ID: ch.ID, Login: ch.Login})
		}
	}

	campaign := &domain.Campaign{
		ID:                 c.ID,
		Name:               c.Name,
		Game:               c.Game.toDomain(),
		Status:             domain.CampaignStatus(c.Status),
		StartsAt:           c.StartAt,
		EndsAt:             c.EndAt,
		AccountLinked:      c.Self.IsAccountConnected,
		AllowedChannels:    allowed,
		AllowedChannelRefs: refs,
		Drops:              make(map[string]*domain.Drop, len(c.TimeBasedDrops)),
		DropOrder:          make([]string, 0, len(c.TimeBasedDrops)),
	}
	for _, d := range c.TimeBasedDrops {
		drop := d.toDomain(campaign, claimed)
		campaign.Drops[drop.ID] = drop
		campaign.DropOrder = append(campaign.DropOrder, drop.ID)
	}
	return campaign
}

var applicableStatuses = map[string]struct{}{"ACTIVE": {}, "UPCOMING": {}}

// asMapSlice type-asserts a decoded JSON array field, tolerating a null
// (decoded as nil) the way the original's "or []" does.
func asMapSlice(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// decodeInventoryRaw pulls currentUser.inventory.dropCampaignsInProgress
// (as raw campaign-id → campaign-json maps, ready for gql.MergeData) and
// the gameEventDrops claimed-benefits map out of one Inventory response.
func decodeInventoryRaw(data map[string]any) (map[string]map[string]any, claimedBenefits, error) {
	user, _ := data["currentUser"].(map[string]any)
	inv, _ := user["inventory"].(map[string]any)

	byID := make(map[string]map[string]any)
	for _, c := range asMapSlice(inv["dropCampaignsInProgress"]) {
		if id, ok := c["id"].(string); ok {
			byID[id] = c
		}
	}

	claimed := make(claimedBenefits)
	for _, b := range asMapSlice(inv["gameEventDrops"]) {
		id, _ := b["id"].(string)
		ts, _ := b["lastAwardedAt"].(string)
		if id == "" || ts == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			continue
		}
		claimed[id] = parsed
	}
	return byID, claimed, nil
}

// decodeCampaignsRaw pulls currentUser.dropCampaigns, filtered to
// ACTIVE/UPCOMING, as raw campaign-id → campaign-json maps.
func decodeCampaignsRaw(data map[string]any) map[string]map[string]any {
	user, _ := data["currentUser"].(map[string]any)
	out := make(map[string]map[string]any)
	for _, c := range asMapSlice(user["dropCampaigns"]) {
		status, _ := c["status"].(string)
		id, _ := c["id"].(string)
		if id == "" {
			continue
		}
		if _, ok := applicableStatuses[status]; ok {
			out[id] = c
		}
	}
	return out
}

// decodeCampaignDetailRaw pulls user.dropCampaign out of one
// CampaignDetails response.
func decodeCampaignDetailRaw(data map[string]any) (string, map[string]any, error) {
	user, _ := data["user"].(map[string]any)
	dc, ok := user["dropCampaign"].(map[string]any)
	if !ok {
		return "", nil, dmerrors.Newf("inventory: CampaignDetails returned no campaign")
	}
	id, _ := dc["id"].(string)
	return id, dc, nil
}

// decodeCampaign converts one fully-merged raw campaign map into the
// typed wireCampaign used to materialize the domain model.
func decodeCampaign(raw map[string]any) (wireCampaign, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return wireCampaign{}, dmerrors.Wrap(err, "inventory: remarshal merged campaign")
	}
	var c wireCampaign
	if err := json.Unmarshal(b, &c); err != nil {
		return wireCampaign{}, dmerrors.Wrap(err, "inventory: decode merged campaign")
	}
	return c, nil
}

type wireClaimDropRewards struct {
	Status string `json:"status"`
}

type wireClaimResponse struct {
	ClaimDropRewards *wireClaimDropRewards `json:"claimDropRewards"`
}

// decodeClaimStatus pulls claimDropRewards.status out of a ClaimDrop
// response. A response with no claimDropRewards key at all is treated as a
// rejection (original _claim: `"claimDropRewards" in data`).
func decodeClaimStatus(data map[string]any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", dmerrors.Wrap(err, "inventory: remarshal ClaimDrop response")
	}
	var resp wireClaimResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return "", dmerrors.Wrap(err, "inventory: decode ClaimDrop response")
	}
	if resp.ClaimDropRewards == nil {
		return "", nil
	}
	return resp.ClaimDropRewards.Status, nil
}

type wireCurrentSession struct {
	DropID                string `json:"dropID"`
	CurrentMinutesWatched int    `json:"currentMinutesWatched"`
}

type wireCurrentDropResponse struct {
	CurrentUser *struct {
		DropCurrentSession *wireCurrentSession `json:"dropCurrentSession"`
	} `json:"currentUser"`
}

// decodeCurrentDrop pulls currentUser.dropCurrentSession out of a
// CurrentDrop response. A nil result means the platform has no drop
// session open for the queried channel right now.
func decodeCurrentDrop(data map[string]any) (*CurrentDropInfo, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, dmerrors.Wrap(err, "inventory: remarshal CurrentDrop response")
	}
	var resp wireCurrentDropResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, dmerrors.Wrap(err, "inventory: decode CurrentDrop response")
	}
	if resp.CurrentUser == nil || resp.CurrentUser.DropCurrentSession == nil {
		return nil, nil
	}
	sess := resp.CurrentUser.DropCurrentSession
	return &CurrentDropInfo{DropID: sess.DropID, CurrentMinutesWatched: sess.CurrentMinutesWatched}, nil
}
