// Package channelsvc implements channel discovery and online-status
// checking (spec.md §4.8 CHANNELS_FETCH, C8): live directory queries per
// wanted game, bulk online re-checks for ACL channels, and the
// priority/viewer sort used to trim the tracked set to MAX_CHANNELS.
// Grounded on original_source/src/services/channel_service.py.
package channelsvc

import (
	"context"
	"math"
	"sort"
	"strings"

	"golang.org/x/time/rate"

	"github.com/dropsminer/core/internal/domain"
	dmerrors "github.com/dropsminer/core/internal/errors"
	"github.com/dropsminer/core/internal/gql"
	"github.com/dropsminer/core/internal/logger"
	"github.com/dropsminer/core/internal/util"
)

// NoPriority is the sentinel priority for a channel whose game isn't in
// wanted_games (or is offline) — it always sorts last (original
// ChannelService.get_priority's MAX_INT).
const NoPriority = math.MaxInt32

// directoryChunkSize batches GetStreamInfo bulk-online-check requests.
const directoryChunkSize = 20

// directoryLimit is the live-stream page size requested per wanted game
// without ACL campaigns (spec.md §4.8 CHANNELS_FETCH: "up to 30 live
// streams with drops enabled").
const directoryLimit = 30

// directoryScanRate caps GameDirectory queries independently of the GQL
// client's own sliding-window gate: CHANNELS_FETCH can name several wanted
// games in one pass, and there is no reason to burst the directory faster
// than a viewer's browser tab-switching would.
const directoryScanRate = 2 // per second

// Service discovers and refreshes channels via the GraphQL directory and
// per-channel stream-info operations.
type Service struct {
	gql              *gql.Client
	directoryLimiter *rate.Limiter
}

// New builds a channel Service bound to client.
func New(client *gql.Client) *Service {
	return &Service{
		gql:              client,
		directoryLimiter: rate.NewLimiter(rate.Limit(directoryScanRate), 1),
	}
}

// Priority returns the position of channel's current game within
// wantedGames (case-insensitive), or NoPriority if offline or unwanted
// (spec.md §4.9, §4.8 CHANNELS_FETCH sort).
func Priority(channel *domain.Channel, wantedGames []string) int {
	name := channel.GameName()
	if !channel.Online || name == "" {
		return NoPriority
	}
	name = strings.ToLower(name)
	for i, g := range wantedGames {
		if strings.ToLower(g) == name {
			return i
		}
	}
	return NoPriority
}

// SortChannels orders channels for the CHANNELS_FETCH trim: viewer count
// desc (nulls/offline last), then ACL-based desc, then priority asc
// (spec.md §4.8).
func SortChannels(channels []*domain.Channel, wantedGames []string) {
	sort.SliceStable(channels, func(i, j int) bool {
		a, b := channels[i], channels[j]

		av, aok := a.ViewersKey()
		bv, bok := b.ViewersKey()
		if aok != bok {
			return aok
		}
		if aok && av != bv {
			return av > bv
		}
		if a.ACLBased != b.ACLBased {
			return a.ACLBased
		}
		return Priority(a, wantedGames) < Priority(b, wantedGames)
	})
}

// FetchLiveStreams queries up to directoryLimit live, drops-enabled
// streams for game via the GameDirectory persisted query (spec.md §4.8,
// §6 GameDirectory variables).
func (s *Service) FetchLiveStreams(ctx context.Context, game domain.Game) ([]*domain.Channel, error) {
	if err := s.directoryLimiter.Wait(ctx); err != nil {
		return nil, dmerrors.Wrap(err, "channelsvc: directory scan rate limiter")
	}

	op := gql.Op("GameDirectory").WithVariables(gql.Vars{
		"limit":   directoryLimit,
		"slug":    game.Slug(),
		"options": gql.GameDirectoryOptions(true),
	})

	resp, err := s.gql.Request(ctx, op)
	if err != nil {
		return nil, dmerrors.Wrapf(err, "channelsvc: GameDirectory for %q", game.Slug())
	}

	edges, err := decodeDirectoryEdges(resp[0].Data)
	if err != nil {
		return nil, err
	}

	channels := make([]*domain.Channel, 0, len(edges))
	for _, e := range edges {
		if e.Node.Broadcaster == nil {
			continue
		}
		ch := domain.NewChannel(e.Node.Broadcaster.ID, e.Node.Broadcaster.Login, false)
		ch.DropsEnabled = true
		ch.SetOnline(true)
		viewers := e.Node.ViewersCount
		ch.SetViewers(util.Ptr(viewers))
		ch.SetGame(&game)
		channels = append(channels, ch)
	}
	return channels, nil
}

// BulkCheckOnline refreshes online/viewer/game state for channels (ACL
// channels not already known, per spec.md §4.8) via batched GetStreamInfo
// requests, chunked to directoryChunkSize (original
// ChannelService.bulk_check_online).
func (s *Service) BulkCheckOnline(ctx context.Context, channels []*domain.Channel) error {
	if len(channels) == 0 {
		return nil
	}

	for start := 0; start < len(channels); start += directoryChunkSize {
		end := start + directoryChunkSize
		if end > len(channels) {
			end = len(channels)
		}
		chunk := channels[start:end]

		ops := make([]gql.Operation, len(chunk))
		for i, ch := range chunk {
			ops[i] = gql.Op("GetStreamInfo").WithVariables(gql.Vars{"channelLogin": ch.Login})
		}

		responses, err := s.gql.Request(ctx, ops...)
		if err != nil {
			return dmerrors.Wrap(err, "channelsvc: bulk GetStreamInfo")
		}
		for i, resp := range responses {
			if i >= len(chunk) {
				break
			}
			applyStreamInfo(chunk[i], resp.Data)
		}
	}
	return nil
}

func applyStreamInfo(ch *domain.Channel, data map[string]any) {
	info, err := decodeStreamInfo(data)
	if err != nil {
		logger.Warnw("channelsvc: malformed GetStreamInfo response", "channel", ch.Login, "error", err.Error())
		return
	}
	if info == nil || info.Stream == nil {
		ch.SetOnline(false)
		return
	}
	ch.SetOnline(true)
	viewers := info.Stream.ViewersCount
	ch.SetViewers(util.Ptr(viewers))
	if info.Stream.Game != nil {
		g := info.Stream.Game.toDomain()
		ch.SetGame(&g)
	}
}
