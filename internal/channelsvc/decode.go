package channelsvc

import (
	"encoding/json"

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

// directoryEdge is one entry of GameDirectory's game.streams.edges.
type directoryEdge struct {
	Node struct {
		ViewersCount int `json:"viewersCount"`
		Broadcaster  *struct {
			ID    string `json:"id"`
			Login string `json:"login"`
		} `json:"broadcaster"`
	} `json:"node"`
}

type directoryResponse struct {
	Game *struct {
		Streams struct {
			Edges []directoryEdge `json:"edges"`
		} `json:"streams"`
	} `json:"game"`
}

// decodeDirectoryEdges pulls game.streams.edges out of a GameDirectory
// response. A null game (unknown slug, or a slug redirect the caller
// didn't follow) decodes to an empty list rather than an error, since the
// caller degrades to "no live streams for this game" (spec.md §7
// GQLFatal policy for directory queries).
func decodeDirectoryEdges(data map[string]any) ([]directoryEdge, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, dmerrors.Wrap(err, "channelsvc: remarshal GameDirectory response")
	}
	var resp directoryResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, dmerrors.Wrap(err, "channelsvc: decode GameDirectory response")
	}
	if resp.Game == nil {
		return nil, nil
	}
	return resp.Game.Streams.Edges, nil
}

type streamInfo struct {
	ViewersCount int       `json:"viewersCount"`
	Game         *wireGame `json:"game"`
}

type streamInfoResponse struct {
	User *struct {
		Stream *streamInfo `json:"stream"`
	} `json:"user"`
}

// decodedStreamInfo is the materialized (possibly offline) stream state
// for one GetStreamInfo response.
type decodedStreamInfo struct {
	Stream *streamInfo
}

// decodeStreamInfo pulls user.stream out of a GetStreamInfo response. A
// nil Stream on the result means the channel is offline; a user that no
// longer resolves (null user) is reported the same way, with no error.
func decodeStreamInfo(data map[string]any) (*decodedStreamInfo, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, dmerrors.Wrap(err, "channelsvc: remarshal GetStreamInfo response")
	}
	var resp streamInfoResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, dmerrors.Wrap(err, "channelsvc: decode GetStreamInfo response")
	}
	if resp.User == nil {
		return &decodedStreamInfo{}, nil
	}
	return &decodedStreamInfo{Stream: resp.User.Stream}, nil
}
