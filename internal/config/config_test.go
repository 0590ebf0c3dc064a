package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	Reset()
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "settings.toml"))
	require.NoError(t, err)
	require.Equal(t, 1, s.ConnectionQuality)
	require.Equal(t, 30, s.MinimumRefreshIntervalMinutes)
	require.True(t, s.InventoryFilters.ShowUpcoming)
	require.True(t, s.MiningBenefits.Badge)
	require.False(t, s.MiningBenefits.Unknown)
}

func TestSaveThenLoad_RoundTripsAfterDefaulting(t *testing.T) {
	Reset()
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")

	original := &Settings{
		ConnectionQuality:             4,
		DarkMode:                      true,
		GamesToWatch:                  []string{"Alpha", "Beta"},
		Language:                      "en",
		MinimumRefreshIntervalMinutes: 15,
		Proxy:                         "http://proxy.local:8080",
		InventoryFilters: InventoryFilters{
			ShowActive:     true,
			ShowNotLinked:  true,
			GameNameSearch: []string{"Alpha"},
		},
		MiningBenefits: MiningBenefits{Badge: true, Emote: false, DirectEntitlement: true, Unknown: false},
	}
	require.NoError(t, Save(path, original))

	Reset()
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, original.ConnectionQuality, loaded.ConnectionQuality)
	require.Equal(t, original.GamesToWatch, loaded.GamesToWatch)
	require.Equal(t, original.InventoryFilters.GameNameSearch, loaded.InventoryFilters.GameNameSearch)
	require.Equal(t, original.MiningBenefits, loaded.MiningBenefits)
}

func TestLoad_DropsUnknownTopLevelKeys(t *testing.T) {
	Reset()
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte("connection_quality = 2\nsome_removed_feature = true\n"), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, s.ConnectionQuality)
}
