// Package gql implements the persisted-query GraphQL client used against
// gql.twitch.tv: the operation registry, the rate-limited/backed-off
// request loop, and the recursive data-merge helper used to combine
// inventory and campaign-detail responses.
package gql

// Vars is a JSON-shaped variable map for a persisted query.
type Vars = map[string]any

// Operation is an immutable persisted-query descriptor: the wire payload
// never carries a query string, only operationName plus the sha256 hash
// the platform has registered for it. Treat the table below as a
// constant loaded at startup — hashes are never computed at runtime.
type Operation struct {
	Name      string
	SHA256    string
	Variables Vars
}

// WithVariables returns a copy of op with vars merged into its base
// variables (vars wins on key collision), leaving op untouched.
func (op Operation) WithVariables(vars Vars) Operation {
	merged := make(Vars, len(op.Variables)+len(vars))
	for k, v := range op.Variables {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	return Operation{Name: op.Name, SHA256: op.SHA256, Variables: merged}
}

// wirePayload is what actually gets marshaled to JSON for a request.
type wirePayload struct {
	OperationName string         `json:"operationName"`
	Extensions    wireExtensions `json:"extensions"`
	Variables     Vars           `json:"variables,omitempty"`
}

type wireExtensions struct {
	PersistedQuery wirePersistedQuery `json:"persistedQuery"`
}

type wirePersistedQuery struct {
	Version    int    `json:"version"`
	SHA256Hash string `json:"sha256Hash"`
}

func (op Operation) wire() wirePayload {
	return wirePayload{
		OperationName: op.Name,
		Extensions: wireExtensions{
			PersistedQuery: wirePersistedQuery{Version: 1, SHA256Hash: op.SHA256},
		},
		Variables: op.Variables,
	}
}

// Registry names every persisted query the mining core is known to use.
// Reproduced verbatim (operationName, sha256Hash) from the platform's own
// registry — do not edit hashes without confirming against a live capture.
var Registry = map[string]Operation{
	"GetStreamInfo": {
		Name:   "VideoPlayerStreamInfoOverlayChannel",
		SHA256: "198492e0857f6aedead9665c81c5a06d67b25b58034649687124083ff288597d",
	},
	"ClaimCommunityPoints": {
		Name:   "ClaimCommunityPoints",
		SHA256: "46aaeebe02c99afdf4fc97c7c0cba964124bf6b0af229395f1f6d1feed05b3d0",
	},
	"ClaimDrop": {
		Name:   "DropsPage_ClaimDropRewards",
		SHA256: "a455deea71bdc9015b78eb49f4acfbce8baa7ccbedd28e549bb025bd0f751930",
	},
	"ChannelPointsContext": {
		Name:   "ChannelPointsContext",
		SHA256: "374314de591e69925fce3ddc2bcf085796f56ebb8cad67a0daa3165c03adc345",
	},
	"Inventory": {
		Name:      "Inventory",
		SHA256:    "d86775d0ef16a63a33ad52e80eaff963b2d5b72fada7c991504a57496e1d8e4b",
		Variables: Vars{"fetchRewardCampaigns": false},
	},
	"CurrentDrop": {
		Name:      "DropCurrentSessionContext",
		SHA256:    "4d06b702d25d652afb9ef835d2a550031f1cf762b193523a92166f40ea3d142b",
		Variables: Vars{"channelLogin": ""},
	},
	"Campaigns": {
		Name:      "ViewerDropsDashboard",
		SHA256:    "5a4da2ab3d5b47c9f9ce864e727b2cb346af1e3ea8b897fe8f704a97ff017619",
		Variables: Vars{"fetchRewardCampaigns": false},
	},
	"CampaignDetails": {
		Name:   "DropCampaignDetails",
		SHA256: "039277bf98f3130929262cc7c6efd9c141ca3749cb6dca442fc8ead9a53f77c1",
	},
	"AvailableDrops": {
		Name:   "DropsHighlightService_AvailableDrops",
		SHA256: "9a62a09bce5b53e26e64a671e530bc599cb6aab1e5ba3cbd5d85966d3940716f",
	},
	"PlaybackAccessToken": {
		Name:   "PlaybackAccessToken",
		SHA256: "ed230aa1e33e07eebb8928504583da78a5173989fadfb1ac94be06a04f3cdbe9",
		Variables: Vars{
			"isLive": true, "isVod": false, "platform": "web",
			"playerType": "site", "vodID": "",
		},
	},
	"GameDirectory": {
		Name:   "DirectoryPage_Game",
		SHA256: "98a996c3c3ebb1ba4fd65d6671c6028d7ee8d615cb540b0731b3db2a911d3649",
		Variables: Vars{
			"imageWidth": 50, "includeCostreaming": false, "sortTypeIsRecency": false,
		},
	},
	"SlugRedirect": {
		Name:   "DirectoryGameRedirect",
		SHA256: "1f0300090caceec51f33c5e20647aceff9017f740f223c3c532ba6fa59f6b6cc",
	},
	"NotificationsDelete": {
		Name:   "OnsiteNotifications_DeleteNotification",
		SHA256: "13d463c831f28ffe17dccf55b3148ed8b3edbbd0ebadd56352f1ff0160616816",
	},
}

// Op looks up a registered operation by its registry key, panicking on an
// unknown key — this is a programmer error (a typo in a call site), never
// a runtime condition to recover from.
func Op(key string) Operation {
	op, ok := Registry[key]
	if !ok {
		panic("gql: unknown operation " + key)
	}
	return op
}

// GameDirectoryOptions mirrors the nested "options" object GameDirectory
// expects; built as a typed helper since it's the one operation with
// meaningfully nested, caller-varying structure.
func GameDirectoryOptions(dropsEnabled bool) Vars {
	systemFilters := []string{}
	if dropsEnabled {
		systemFilters = []string{"DROPS_ENABLED"}
	}
	return Vars{
		"broadcasterLanguages":   []string{},
		"includeRestricted":      []string{"SUB_ONLY_LIVE"},
		"recommendationsContext": Vars{"platform": "web"},
		"sort":                   "RELEVANCE",
		"systemFilters":          systemFilters,
		"tags":                   []string{},
	}
}
