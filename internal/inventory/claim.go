package inventory

import (
	"context"

	"github.com/dropsminer/core/internal/domain"
	dmerrors "github.com/dropsminer/core/internal/errors"
	"github.com/dropsminer/core/internal/gql"
)

// acceptedClaimStatuses are the claimDropRewards.status values that count
// as a successful claim (spec.md §4.11): the drop was actually awarded, or
// it was already claimed by a previous attempt whose response we missed.
var acceptedClaimStatuses = map[string]struct{}{
	"ELIGIBLE_FOR_ALL":             {},
	"DROP_INSTANCE_ALREADY_CLAIMED": {},
}

// ClaimDrop issues the ClaimDrop persisted query for drop (spec.md §4.11).
// drop must already carry a claim id, synthesizing the
// userID#campaignID#dropID fallback first if the server never sent one
// (spec.md §9 Open Questions decision #3). On an accepted status it applies
// the post-claim state to drop; any other status, or a malformed response,
// is returned as an error and drop stays unclaimed (keeping any claim id
// synthesized above) so the caller can retry on the next GAMES_UPDATE pass.
func (s *Service) ClaimDrop(ctx context.Context, drop *domain.Drop) error {
	if drop.IsClaimed {
		return nil
	}
	if drop.ClaimID == "" {
		drop.GenerateSyntheticClaimID(s.auth.UserID())
	}

	resp, err := s.gql.Request(ctx, gql.Op("ClaimDrop").WithVariables(gql.Vars{
		"input": gql.Vars{"dropInstanceID": drop.ClaimID},
	}))
	if err != nil {
		return dmerrors.Wrapf(err, "inventory: claim drop %s", drop.ID)
	}

	status, err := decodeClaimStatus(resp[0].Data)
	if err != nil {
		return err
	}
	if _, ok := acceptedClaimStatuses[status]; !ok {
		return dmerrors.Newf("inventory: claim drop %s rejected with status %q", drop.ID, status)
	}

	drop.ApplyClaimResult()
	return nil
}

// CurrentDropInfo is the decoded currentUser.dropCurrentSession payload for
// one channel (spec.md §4.9 watch-loop CurrentDrop fallback).
type CurrentDropInfo struct {
	DropID                string
	CurrentMinutesWatched int
}

// CurrentDrop queries the CurrentDrop persisted query for channelID (sent
// with an empty channelLogin), reporting the drop session the platform
// currently has open for it, if any. Used by the watch loop as a faster,
// lower-latency alternative to waiting for a websocket drop-progress
// message (spec.md §4.9).
func (s *Service) CurrentDrop(ctx context.Context, channelID string) (*CurrentDropInfo, error) {
	resp, err := s.gql.Request(ctx, gql.Op("CurrentDrop").WithVariables(gql.Vars{
		"channelID":    channelID,
		"channelLogin": "",
	}))
	if err != nil {
		return nil, dmerrors.Wrapf(err, "inventory: CurrentDrop for %s", channelID)
	}
	return decodeCurrentDrop(resp[0].Data)
}
