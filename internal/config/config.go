// Package config loads and persists the miner's settings file using Viper,
// following the teacher's am.Load pattern (package-level cached instance,
// SetDefaults, upward directory search, env var binding) generalized from
// TOML-as-app-config to TOML-as-settings-file.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	dmerrors "github.com/dropsminer/core/internal/errors"
)

// InventoryFilters mirrors the inventory view's show/hide toggles.
type InventoryFilters struct {
	ShowActive        bool     `mapstructure:"show_active"`
	ShowNotLinked     bool     `mapstructure:"show_not_linked"`
	ShowUpcoming      bool     `mapstructure:"show_upcoming"`
	ShowExpired       bool     `mapstructure:"show_expired"`
	ShowFinished      bool     `mapstructure:"show_finished"`
	ShowBenefitItem   bool     `mapstructure:"show_benefit_item"`
	ShowBenefitBadge  bool     `mapstructure:"show_benefit_badge"`
	ShowBenefitEmote  bool     `mapstructure:"show_benefit_emote"`
	ShowBenefitOther  bool     `mapstructure:"show_benefit_other"`
	GameNameSearch    []string `mapstructure:"game_name_search"`
}

// MiningBenefits gates which benefit types are worth mining for.
type MiningBenefits struct {
	Badge             bool `mapstructure:"badge"`
	Emote             bool `mapstructure:"emote"`
	DirectEntitlement bool `mapstructure:"direct_entitlement"`
	Unknown           bool `mapstructure:"unknown"`
}

// Settings is the full persisted-state schema (spec.md §6 Persisted State).
type Settings struct {
	ConnectionQuality             int              `mapstructure:"connection_quality"`
	DarkMode                      bool             `mapstructure:"dark_mode"`
	GamesToWatch                  []string         `mapstructure:"games_to_watch"`
	Language                      string           `mapstructure:"language"`
	InventoryFilters              InventoryFilters `mapstructure:"inventory_filters"`
	MinimumRefreshIntervalMinutes int              `mapstructure:"minimum_refresh_interval_minutes"`
	MiningBenefits                MiningBenefits   `mapstructure:"mining_benefits"`
	Proxy                         string           `mapstructure:"proxy"`
}

var (
	mu       sync.Mutex
	cached   *Settings
	cachedAt string
)

// SetDefaults installs the settings file's default values, mirroring the
// original implementation's default_settings table.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("connection_quality", 1)
	v.SetDefault("dark_mode", false)
	v.SetDefault("games_to_watch", []string{})
	v.SetDefault("language", "en")
	v.SetDefault("minimum_refresh_interval_minutes", 30)
	v.SetDefault("proxy", "")

	v.SetDefault("inventory_filters.show_active", false)
	v.SetDefault("inventory_filters.show_not_linked", true)
	v.SetDefault("inventory_filters.show_upcoming", true)
	v.SetDefault("inventory_filters.show_expired", false)
	v.SetDefault("inventory_filters.show_finished", false)
	v.SetDefault("inventory_filters.show_benefit_item", true)
	v.SetDefault("inventory_filters.show_benefit_badge", true)
	v.SetDefault("inventory_filters.show_benefit_emote", true)
	v.SetDefault("inventory_filters.show_benefit_other", true)
	v.SetDefault("inventory_filters.game_name_search", []string{})

	v.SetDefault("mining_benefits.badge", true)
	v.SetDefault("mining_benefits.emote", true)
	v.SetDefault("mining_benefits.direct_entitlement", true)
	v.SetDefault("mining_benefits.unknown", false)
}

// knownKeys is the set of top-level keys the schema recognizes; any key
// under another top-level name in a loaded file is dropped rather than merged, per
// spec.md §6 ("unknown keys removed on load").
var knownKeys = map[string]struct{}{
	"connection_quality":                {},
	"dark_mode":                         {},
	"games_to_watch":                    {},
	"language":                          {},
	"inventory_filters":                 {},
	"minimum_refresh_interval_minutes":  {},
	"mining_benefits":                   {},
	"proxy":                             {},
}

// Load reads settings.toml (searching upward from the working directory,
// then the user's config directory), applies defaults for missing keys, and
// drops unrecognized top-level keys. The result is cached process-wide; a
// second Load for the same path returns the cached value.
func Load(path string) (*Settings, error) {
	mu.Lock()
	defer mu.Unlock()
	if cached != nil && cachedAt == path {
		return cached, nil
	}

	v := viper.New()
	v.SetConfigType("toml")
	SetDefaults(v)
	v.SetEnvPrefix("DROPSMINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolved := path
	if resolved == "" {
		resolved = findSettingsFile()
	}
	if resolved != "" {
		if _, err := os.Stat(resolved); err == nil {
			v.SetConfigFile(resolved)
			if err := v.ReadInConfig(); err != nil {
				return nil, dmerrors.Wrapf(err, "read settings file %s", resolved)
			}
			stripUnknownKeys(v)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, dmerrors.Wrap(err, "unmarshal settings")
	}

	cached = &s
	cachedAt = path
	return cached, nil
}

// Reset clears the cached settings, for tests that need a fresh Load.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cached = nil
	cachedAt = ""
}

// stripUnknownKeys removes top-level keys the file defined that aren't part
// of the schema, so a stale or hand-edited settings.toml can't leak
// unrecognized fields into the unmarshal step.
func stripUnknownKeys(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		top := key
		if i := strings.IndexByte(key, '.'); i >= 0 {
			top = key[:i]
		}
		if _, ok := knownKeys[top]; !ok {
			v.Set(key, nil)
		}
	}
}

// findSettingsFile walks up from the working directory looking for
// settings.toml, falling back to ~/.dropsminer/settings.toml.
func findSettingsFile() string {
	dir, err := os.Getwd()
	if err == nil {
		for {
			candidate := filepath.Join(dir, "settings.toml")
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".dropsminer", "settings.toml")
	}
	return ""
}

// Save serializes s to path as TOML, creating parent directories as needed.
// Values round-trip through Load unchanged (after defaulting), since Save
// writes the full typed schema rather than a sparse diff.
func Save(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return dmerrors.Wrapf(err, "create settings directory for %s", path)
	}

	var buf strings.Builder
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(s); err != nil {
		return dmerrors.Wrap(err, "encode settings as TOML")
	}

	if err := os.WriteFile(path, []byte(buf.String()), 0o600); err != nil {
		return dmerrors.Wrapf(err, "write settings file %s", path)
	}
	return nil
}

