package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCampaignRaw(id, status string, withGame bool) map[string]any {
	c := map[string]any{
		"id":     id,
		"name":   "Test Campaign",
		"status": status,
		"startAt": "2026-01-01T00:00:00Z",
		"endAt":   "2026-02-01T00:00:00Z",
		"self":    map[string]any{"isAccountConnected": true},
		"allow":   map[string]any{"channels": []any{}, "isEnabled": true},
		"timeBasedDrops": []any{
			map[string]any{
				"id":                     "drop-1",
				"name":                   "Drop One",
				"benefitEdges":           []any{},
				"startAt":                "2026-01-01T00:00:00Z",
				"endAt":                  "2026-02-01T00:00:00Z",
				"requiredMinutesWatched": float64(60),
				"preconditionDrops":      []any{},
			},
		},
	}
	if withGame {
		c["game"] = map[string]any{"id": "123", "displayName": "Some Game", "boxArtURL": ""}
	} else {
		c["game"] = nil
	}
	return c
}

func TestDecodeCampaignsRaw_FiltersByStatus(t *testing.T) {
	data := map[string]any{
		"currentUser": map[string]any{
			"dropCampaigns": []any{
				sampleCampaignRaw("a", "ACTIVE", true),
				sampleCampaignRaw("b", "EXPIRED", true),
				sampleCampaignRaw("c", "UPCOMING", true),
			},
		},
	}
	out := decodeCampaignsRaw(data)
	assert.Len(t, out, 2)
	_, hasA := out["a"]
	_, hasC := out["c"]
	_, hasB := out["b"]
	assert.True(t, hasA)
	assert.True(t, hasC)
	assert.False(t, hasB)
}

func TestDecodeCampaignDetailRaw(t *testing.T) {
	data := map[string]any{
		"user": map[string]any{
			"dropCampaign": sampleCampaignRaw("x", "ACTIVE", true),
		},
	}
	id, raw, err := decodeCampaignDetailRaw(data)
	require.NoError(t, err)
	assert.Equal(t, "x", id)
	assert.Equal(t, "x", raw["id"])
}

func TestDecodeCampaign_DropsNullGame(t *testing.T) {
	raw := sampleCampaignRaw("nogame", "ACTIVE", false)
	wc, err := decodeCampaign(raw)
	require.NoError(t, err)
	claimed := claimedBenefits{}
	assert.Nil(t, wc.toDomain(claimed))
}

func TestDecodeCampaign_MaterializesDrops(t *testing.T) {
	raw := sampleCampaignRaw("withgame", "ACTIVE", true)
	wc, err := decodeCampaign(raw)
	require.NoError(t, err)

	campaign := wc.toDomain(claimedBenefits{})
	require.NotNil(t, campaign)
	assert.Equal(t, "withgame", campaign.ID)
	assert.Equal(t, 123, campaign.Game.ID)
	require.Len(t, campaign.Drops, 1)
	assert.Equal(t, 60, campaign.Drops["drop-1"].RequiredMinutes)
}

func TestMergeRaw_PrefersPrimary(t *testing.T) {
	primary := map[string]map[string]any{
		"a": {"id": "a", "name": "from-inventory"},
	}
	secondary := map[string]map[string]any{
		"a": {"id": "a", "name": "from-details", "game": map[string]any{"id": "1"}},
		"b": {"id": "b", "name": "only-in-details"},
	}
	merged, err := mergeRaw(primary, secondary)
	require.NoError(t, err)
	assert.Equal(t, "from-inventory", merged["a"]["name"])
	assert.NotNil(t, merged["a"]["game"])
	assert.Equal(t, "only-in-details", merged["b"]["name"])
}

func TestChunkCampaignIDs(t *testing.T) {
	campaigns := map[string]map[string]any{}
	for i := 0; i < 45; i++ {
		campaigns[string(rune('a'+i%26))+string(rune(i))] = map[string]any{}
	}
	chunks := chunkCampaignIDs(campaigns, 20)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 20)
	assert.Len(t, chunks[1], 20)
	assert.Len(t, chunks[2], 5)
}

func TestDecodeInventoryRaw_ParsesClaimedBenefits(t *testing.T) {
	data := map[string]any{
		"currentUser": map[string]any{
			"inventory": map[string]any{
				"dropCampaignsInProgress": []any{sampleCampaignRaw("inprog", "ACTIVE", true)},
				"gameEventDrops": []any{
					map[string]any{"id": "benefit-1", "lastAwardedAt": "2026-01-15T12:00:00Z"},
				},
			},
		},
	}
	campaigns, claimed, err := decodeInventoryRaw(data)
	require.NoError(t, err)
	assert.Contains(t, campaigns, "inprog")
	require.Contains(t, claimed, "benefit-1")
	assert.Equal(t, 2026, claimed["benefit-1"].Year())
	assert.True(t, claimed["benefit-1"].Month() == time.January)
}
