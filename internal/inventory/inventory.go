package inventory

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/dropsminer/core/internal/domain"
	dmerrors "github.com/dropsminer/core/internal/errors"
	"github.com/dropsminer/core/internal/gql"
	"github.com/dropsminer/core/internal/logger"
)

// detailChunkSize is the batch size for CampaignDetails requests
// (spec.md §4.8 INVENTORY_FETCH: "fetch detailed campaign data in
// batches of 20").
const detailChunkSize = 20

// Result is the materialized outcome of one INVENTORY_FETCH: the
// replacement campaign list (already sorted for presentation), a flat
// drop index for O(1) lookups by websocket handlers, and the merged
// switch-trigger set for the maintenance task (spec.md §4.8, §4.12).
type Result struct {
	Campaigns      []*domain.Campaign
	DropIndex      map[string]*domain.Drop
	SwitchTriggers []time.Time
}

// UserIDSource supplies the authenticated user's numeric id, used as the
// CampaignDetails channelLogin variable.
type UserIDSource interface {
	UserID() int
}

// Service runs INVENTORY_FETCH against the GraphQL API.
type Service struct {
	gql  *gql.Client
	auth UserIDSource
}

// New builds an inventory Service bound to client for GraphQL access and
// auth for the current user id.
func New(client *gql.Client, auth UserIDSource) *Service {
	return &Service{gql: client, auth: auth}
}

// Fetch runs the full INVENTORY_FETCH sequence: in-progress campaigns,
// all available campaigns, per-campaign detail in chunks, merge, and
// materialize (spec.md §4.8, grounded on original_source
// src/services/inventory_service.py fetch_inventory).
func (s *Service) Fetch(ctx context.Context) (*Result, error) {
	invResp, err := s.gql.Request(ctx, gql.Op("Inventory"))
	if err != nil {
		return nil, dmerrors.Wrap(err, "inventory: fetch Inventory")
	}
	inProgress, claimed, err := decodeInventoryRaw(invResp[0].Data)
	if err != nil {
		return nil, err
	}

	campResp, err := s.gql.Request(ctx, gql.Op("Campaigns"))
	if err != nil {
		return nil, dmerrors.Wrap(err, "inventory: fetch Campaigns")
	}
	available := decodeCampaignsRaw(campResp[0].Data)

	merged := inProgress
	for _, chunk := range chunkCampaignIDs(available, detailChunkSize) {
		detail, err := s.fetchDetailChunk(ctx, chunk)
		if err != nil {
			return nil, err
		}
		merged, err = mergeRaw(merged, detail)
		if err != nil {
			return nil, err
		}
	}

	campaigns := make([]*domain.Campaign, 0, len(merged))
	dropIndex := make(map[string]*domain.Drop)
	for _, raw := range merged {
		wc, err := decodeCampaign(raw)
		if err != nil {
			logger.Warnw("inventory: skipping malformed campaign", "error", err.Error())
			continue
		}
		campaign := wc.toDomain(claimed)
		if campaign == nil {
			// null game: dropped per spec.md §4.8 INVENTORY_FETCH.
			continue
		}
		campaigns = append(campaigns, campaign)
		for id, drop := range campaign.Drops {
			dropIndex[id] = drop
		}
	}

	now := time.Now().UTC()
	domain.SortCampaigns(campaigns, now)

	nextHour := now.Add(time.Hour)
	triggerSet := make(map[time.Time]struct{})
	for _, c := range campaigns {
		if !c.CanEarnWithin(now, nextHour) {
			continue
		}
		for _, t := range c.TimeTriggers() {
			triggerSet[t] = struct{}{}
		}
	}
	triggers := make([]time.Time, 0, len(triggerSet))
	for t := range triggerSet {
		if t.After(now) {
			triggers = append(triggers, t)
		}
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i].Before(triggers[j]) })

	return &Result{Campaigns: campaigns, DropIndex: dropIndex, SwitchTriggers: triggers}, nil
}

func (s *Service) fetchDetailChunk(ctx context.Context, ids []string) (map[string]map[string]any, error) {
	userID := s.auth.UserID()
	ops := make([]gql.Operation, len(ids))
	for i, id := range ids {
		ops[i] = gql.Op("CampaignDetails").WithVariables(gql.Vars{
			"channelLogin": strconv.Itoa(userID),
			"dropID":       id,
		})
	}

	responses, err := s.gql.Request(ctx, ops...)
	if err != nil {
		return nil, dmerrors.Wrap(err, "inventory: fetch CampaignDetails chunk")
	}

	out := make(map[string]map[string]any, len(responses))
	for _, resp := range responses {
		id, raw, err := decodeCampaignDetailRaw(resp.Data)
		if err != nil {
			logger.Warnw("inventory: skipping CampaignDetails response", "error", err.Error())
			continue
		}
		out[id] = raw
	}
	return out, nil
}

func mergeRaw(primary, secondary map[string]map[string]any) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(primary)+len(secondary))
	for k, v := range primary {
		out[k] = v
	}
	for id, sec := range secondary {
		pri, ok := out[id]
		if !ok {
			out[id] = sec
			continue
		}
		merged, err := gql.MergeData(pri, sec)
		if err != nil {
			return nil, dmerrors.Wrapf(err, "inventory: merge campaign %s", id)
		}
		out[id] = merged
	}
	return out, nil
}

func chunkCampaignIDs(campaigns map[string]map[string]any, size int) [][]string {
	ids := make([]string, 0, len(campaigns))
	for id := range campaigns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var chunks [][]string
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[i:end])
	}
	return chunks
}
