// Package scheduler implements the state machine that drives inventory
// refresh, channel discovery, channel cleanup and channel switching
// (spec.md §4.8, C12) — the core of the miner. Grounded on
// original_source/src/core/client.py's Twitch._run(), translated from its
// single-event-loop asyncio.Event wait/clear idiom into an explicit State
// field plus a depth-1 wake channel, since state transitions here can be
// requested from other goroutines (wspool dispatches one goroutine per
// websocket message, and the watch/maintenance loops run on their own).
// Every domain read or mutation goes through Scheduler's own mutex, making
// it the single lock-guarded source of truth spec.md §5's ordering
// guarantee (iii) asks handlers to treat the domain as.
package scheduler

import (
	"context"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dropsminer/core/internal/auth"
	"github.com/dropsminer/core/internal/channelsvc"
	"github.com/dropsminer/core/internal/config"
	"github.com/dropsminer/core/internal/domain"
	dmerrors "github.com/dropsminer/core/internal/errors"
	"github.com/dropsminer/core/internal/gql"
	"github.com/dropsminer/core/internal/handlers"
	"github.com/dropsminer/core/internal/httpclient"
	"github.com/dropsminer/core/internal/inventory"
	"github.com/dropsminer/core/internal/logger"
	"github.com/dropsminer/core/internal/maintenance"
	"github.com/dropsminer/core/internal/metrics"
	"github.com/dropsminer/core/internal/watch"
	"github.com/dropsminer/core/internal/wspool"
)

// State is the scheduler's position in the spec.md §4.8 state diagram.
type State int

const (
	StateIdle State = iota
	StateInventoryFetch
	StateGamesUpdate
	StateChannelsCleanup
	StateChannelsFetch
	StateChannelSwitch
	StateExit
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateInventoryFetch:
		return "INVENTORY_FETCH"
	case StateGamesUpdate:
		return "GAMES_UPDATE"
	case StateChannelsCleanup:
		return "CHANNELS_CLEANUP"
	case StateChannelsFetch:
		return "CHANNELS_FETCH"
	case StateChannelSwitch:
		return "CHANNEL_SWITCH"
	case StateExit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

// Config bundles every collaborator the scheduler wires together. All
// fields are required.
type Config struct {
	Settings   *config.Settings
	Auth       *auth.State
	Session    *httpclient.Session
	GQLClient  *gql.Client
	Inventory  *inventory.Service
	Channels   *channelsvc.Service
	Pool       *wspool.Pool
	SettingsPath string
	// Dump runs a single inventory fetch and exits, per spec.md §6 CLI
	// surface --dump.
	Dump bool
}

// Scheduler runs the miner's single state machine loop. The mutex guards
// every field below it; everything above is wired once at construction
// and never mutated afterward.
type Scheduler struct {
	settings     *config.Settings
	settingsPath string
	auth         *auth.State
	session      *httpclient.Session
	gqlClient    *gql.Client
	inv          *inventory.Service
	chsvc        *channelsvc.Service
	pool         *wspool.Pool
	dump         bool

	watchSvc    *watch.Service
	handlersSvc *handlers.Service
	maintSvc    *maintenance.Service

	state State
	wake  chan struct{}

	mu                sync.Mutex
	channels          map[string]*domain.Channel
	campaigns         []*domain.Campaign
	dropIndex         map[string]*domain.Drop
	wantedGames       []string
	fullCleanup       bool
	manualMode        bool
	manualGame        string
	manualChannelID   string
	selectedChannelID string
	watchingChannelID string

	watchNotify chan struct{}
	restartCh   chan struct{}

	maintCancel context.CancelFunc
}

// New builds a Scheduler and wires the watch/handlers/maintenance
// services against it as their respective Host implementations.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		settings:     cfg.Settings,
		settingsPath: cfg.SettingsPath,
		auth:         cfg.Auth,
		session:      cfg.Session,
		gqlClient:    cfg.GQLClient,
		inv:          cfg.Inventory,
		chsvc:        cfg.Channels,
		pool:         cfg.Pool,
		dump:         cfg.Dump,
		channels:     make(map[string]*domain.Channel),
		dropIndex:    make(map[string]*domain.Drop),
		wake:         make(chan struct{}, 1),
		watchNotify:  make(chan struct{}, 1),
		restartCh:    make(chan struct{}, 1),
	}
	s.watchSvc = watch.New(s, s.inv)
	s.handlersSvc = handlers.New(handlersHost{s})
	s.maintSvc = maintenance.New(maintenanceHost{s})
	return s
}

// handlersHost adapts Scheduler to handlers.Host. Every method besides
// RequestState is promoted straight through from the embedded *Scheduler;
// RequestState is defined here rather than on Scheduler itself because
// handlers.Trigger and maintenance.Trigger are distinct local enums (to
// avoid an import cycle) and Scheduler can't implement both RequestState
// signatures at once.
type handlersHost struct {
	*Scheduler
}

func (h handlersHost) RequestState(t handlers.Trigger) {
	switch t {
	case handlers.TriggerChannelSwitch:
		h.Scheduler.changeState(StateChannelSwitch)
	case handlers.TriggerInventoryFetch:
		h.Scheduler.changeState(StateInventoryFetch)
	}
}

// maintenanceHost adapts Scheduler to maintenance.Host the same way.
type maintenanceHost struct {
	*Scheduler
}

func (h maintenanceHost) RequestState(t maintenance.Trigger) {
	switch t {
	case maintenance.TriggerChannelsCleanup:
		h.Scheduler.changeState(StateChannelsCleanup)
	case maintenance.TriggerInventoryFetch:
		h.Scheduler.changeState(StateInventoryFetch)
	}
}

// Dispatch forwards every decoded websocket message to the handlers
// service; the pool's wspool.Handler closure built in main calls it.
func (s *Scheduler) Dispatch(topic string, raw []byte) {
	s.handlersSvc.Dispatch(topic, raw)
}

// SelectChannel records an explicit user channel choice and asks the
// scheduler to re-evaluate selection (spec.md §4.8 CHANNEL_SWITCH
// precedence 1, the headless equivalent of the original GUI's channel
// list selection).
func (s *Scheduler) SelectChannel(channelID string) {
	s.mu.Lock()
	s.selectedChannelID = channelID
	s.mu.Unlock()
	s.changeState(StateChannelSwitch)
}

// changeState sets the next state (a no-op once EXIT is reached) and
// wakes the run loop if it's blocked waiting for one. Safe to call from
// any goroutine — this is the thread-safe generalization of the
// original's change_state, which only needed to be call-safe from a
// single event loop.
func (s *Scheduler) changeState(next State) {
	s.mu.Lock()
	if s.state != StateExit {
		s.state = next
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// waitForWake blocks until changeState fires or ctx is cancelled.
func (s *Scheduler) waitForWake(ctx context.Context) error {
	select {
	case <-s.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close requests a move to EXIT, terminal once reached (spec.md §4.8).
func (s *Scheduler) Close() {
	s.changeState(StateExit)
}

// Run is the scheduler's main loop: log in, start the websocket pool and
// watch loop, then drive the state machine until EXIT or ctx cancellation
// (spec.md §4.8, grounded on Twitch._run()).
func (s *Scheduler) Run(ctx context.Context) error {
	select {
	case <-s.auth.LoggedIn():
	case <-ctx.Done():
		return dmerrors.Wrap(dmerrors.ErrExitRequested, "scheduler: cancelled before login")
	}

	s.pool.Start(ctx)
	defer s.pool.Stop()
	if err := s.pool.AddTopics(wspool.UserTopics(s.auth.UserID())); err != nil {
		logger.Warnw("scheduler: failed to subscribe user topics", "error", err.Error())
	}

	watchDone := make(chan error, 1)
	go func() { watchDone <- s.watchSvc.Run(ctx) }()
	defer func() {
		if s.maintCancel != nil {
			s.maintCancel()
		}
	}()

	s.changeState(StateInventoryFetch)
	for {
		if err := ctx.Err(); err != nil {
			return dmerrors.Wrap(dmerrors.ErrExitRequested, "scheduler: cancelled")
		}

		var err error
		switch s.currentState() {
		case StateIdle:
			err = s.runIdle(ctx)
		case StateInventoryFetch:
			s.runInventoryFetch(ctx)
		case StateGamesUpdate:
			s.runGamesUpdate(ctx)
		case StateChannelsCleanup:
			s.runChannelsCleanup()
		case StateChannelsFetch:
			s.runChannelsFetch(ctx)
		case StateChannelSwitch:
			err = s.runChannelSwitch(ctx)
		case StateExit:
			return s.exitErr(watchDone)
		}
		if err != nil {
			return err
		}
	}
}

func (s *Scheduler) exitErr(watchDone chan error) error {
	select {
	case werr := <-watchDone:
		if werr != nil && !dmerrors.Is(werr, dmerrors.ErrExitRequested) {
			logger.Warnw("scheduler: watch loop ended abnormally", "error", werr.Error())
		}
	default:
	}
	return dmerrors.Wrap(dmerrors.ErrExitRequested, "scheduler: exit requested")
}

// runIdle waits on the cross-component wake signal (state-change request,
// maintenance wake, or user action), per spec.md §4.8 IDLE. --dump
// requests close instead of blocking forever.
func (s *Scheduler) runIdle(ctx context.Context) error {
	if s.dump {
		s.changeState(StateExit)
		return nil
	}
	s.stopWatching()
	if err := s.waitForWake(ctx); err != nil {
		return dmerrors.Wrap(dmerrors.ErrExitRequested, "scheduler: cancelled in idle")
	}
	return nil
}

func (s *Scheduler) stopWatching() {
	s.mu.Lock()
	s.watchingChannelID = ""
	s.mu.Unlock()
}

func (s *Scheduler) setWatching(channelID string) {
	s.mu.Lock()
	s.watchingChannelID = channelID
	s.mu.Unlock()
	select {
	case s.watchNotify <- struct{}{}:
	default:
	}
	select {
	case s.restartCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) campaignsSnapshot() []*domain.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Campaign(nil), s.campaigns...)
}

func findChannel(channels []*domain.Channel, id string) *domain.Channel {
	if id == "" {
		return nil
	}
	for _, ch := range channels {
		if ch.ID == id {
			return ch
		}
	}
	return nil
}

func sameGame(a, b *domain.Channel) bool {
	if a.Game == nil || b.Game == nil {
		return a.Game == b.Game
	}
	return a.Game.Equal(*b.Game)
}

// heartbeatURL is the abstracted watch-payload target: the exact wire
// shape of the platform's minute-watched beacon isn't present anywhere in
// the retrieved source, so this stands in for "whatever convinces the
// platform a viewer is present" per the glossary's own definition.
const heartbeatURL = "https://www.twitch.tv/"

// Heartbeat satisfies watch.Host: it sends the platform's watch payload
// for login (spec.md §4.9 step 2). Failures are returned for the caller
// to log and ignore, never treated as fatal.
func (s *Scheduler) Heartbeat(ctx context.Context, login string) error {
	resp, err := s.session.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		URL:    heartbeatURL + login,
	}, nil)
	if err != nil {
		return dmerrors.Wrapf(err, "scheduler: heartbeat for %s", login)
	}
	resp.Body.Close()
	return nil
}

// WaitForChannel satisfies watch.Host.
func (s *Scheduler) WaitForChannel(ctx context.Context) (string, string, bool) {
	for {
		s.mu.Lock()
		id := s.watchingChannelID
		var login string
		if ch, ok := s.channels[id]; ok {
			login = ch.Login
		}
		s.mu.Unlock()
		if id != "" && login != "" {
			return id, login, true
		}
		select {
		case <-s.watchNotify:
		case <-ctx.Done():
			return "", "", false
		}
	}
}

// ClearIfOffline satisfies watch.Host: true both when channelID has gone
// offline and when the scheduler has since switched to a different
// channel, either of which should end the caller's current watchOne loop.
func (s *Scheduler) ClearIfOffline(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchingChannelID != channelID {
		return true
	}
	ch, ok := s.channels[channelID]
	if !ok || !ch.Online {
		s.watchingChannelID = ""
		return true
	}
	return false
}

// AdoptCurrentDrop satisfies watch.Host.
func (s *Scheduler) AdoptCurrentDrop(channelID, dropID string, minutes int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop, ok := s.dropIndex[dropID]
	if !ok {
		return false
	}
	ch := s.channels[channelID]
	now := time.Now().UTC()
	if !drop.CanEarn(ch, now) {
		return false
	}
	drop.UpdateMinutes(minutes, now)
	return true
}

// BumpActiveCampaign satisfies watch.Host.
func (s *Scheduler) BumpActiveCampaign(channelID string) (handled, maxedOut bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[channelID]
	if !ok {
		return false, false
	}
	now := time.Now().UTC()
	for _, c := range s.campaigns {
		if c.CanEarn(ch, now) {
			return true, c.BumpMinutes(ch, now)
		}
	}
	return false, false
}

// RequestChannelSwitch satisfies watch.Host.
func (s *Scheduler) RequestChannelSwitch() {
	s.changeState(StateChannelSwitch)
}

// RestartSignal satisfies watch.Host.
func (s *Scheduler) RestartSignal() <-chan struct{} {
	return s.restartCh
}

// RestartWatching satisfies handlers.Host.
func (s *Scheduler) RestartWatching() {
	select {
	case s.restartCh <- struct{}{}:
	default:
	}
}

// runInventoryFetch implements spec.md §4.8 INVENTORY_FETCH: subscribe the
// user's two base topics, fetch and materialize campaigns, replace the
// campaign list and drop index atomically, and reschedule the maintenance
// task against the fresh trigger set. A fetch failure falls back to IDLE;
// the next wake (maintenance, manual action) retries.
func (s *Scheduler) runInventoryFetch(ctx context.Context) {
	logger.Call("scheduler: INVENTORY_FETCH")
	if err := s.pool.AddTopics(wspool.UserTopics(s.auth.UserID())); err != nil {
		logger.Warnw("scheduler: user topics subscribe failed", "error", err.Error())
	}

	result, err := s.inv.Fetch(ctx)
	if err != nil {
		logger.Warnw("scheduler: inventory fetch failed", "error", err.Error())
		s.changeState(StateIdle)
		return
	}

	s.mu.Lock()
	s.campaigns = result.Campaigns
	s.dropIndex = result.DropIndex
	s.mu.Unlock()

	recordCampaignAvailability(result.Campaigns)
	if s.dump {
		s.changeState(StateExit)
		return
	}
	s.rescheduleMaintenance(ctx, result.SwitchTriggers)
	s.changeState(StateGamesUpdate)
}

// recordCampaignAvailability sets the availability gauge for each campaign
// to the minimum Availability across its unclaimed drops — the single
// tightest deadline, since that is the one that actually bounds progress
// (spec.md §9 Design Notes, supplemented "availability" metric).
func recordCampaignAvailability(campaigns []*domain.Campaign) {
	now := time.Now().UTC()
	for _, c := range campaigns {
		min := math.Inf(1)
		for _, id := range c.DropOrder {
			d := c.Drops[id]
			if d == nil || d.IsClaimed {
				continue
			}
			if a := d.Availability(now); a < min {
				min = a
			}
		}
		metrics.SetCampaignAvailability(c.ID, min)
	}
}

// rescheduleMaintenance cancels whatever maintenance task is running and
// starts a fresh one against triggers, per spec.md §4.8's "schedule the
// maintenance task fresh" and §4.12.
func (s *Scheduler) rescheduleMaintenance(ctx context.Context, triggers []time.Time) {
	if s.maintCancel != nil {
		s.maintCancel()
	}
	maintCtx, cancel := context.WithCancel(ctx)
	s.maintCancel = cancel
	go func() {
		if err := s.maintSvc.Run(maintCtx, triggers); err != nil && !dmerrors.Is(err, dmerrors.ErrExitRequested) {
			logger.Warnw("scheduler: maintenance task ended abnormally", "error", err.Error())
		}
	}()
}

// runGamesUpdate implements spec.md §4.8 GAMES_UPDATE: claim whatever's
// claimable, recompute wanted_games (folding in manual-mode overrides), and
// hand off to a full CHANNELS_CLEANUP.
func (s *Scheduler) runGamesUpdate(ctx context.Context) {
	logger.Call("scheduler: GAMES_UPDATE")
	now := time.Now().UTC()

	campaigns := s.campaignsSnapshot()
	for _, c := range campaigns {
		if c.Upcoming(now) {
			continue
		}
		for _, id := range c.DropOrder {
			d := c.Drops[id]
			if d == nil || !d.CanClaim(now) {
				continue
			}
			if err := s.inv.ClaimDrop(ctx, d); err != nil {
				metrics.RecordClaim("failure")
				logger.Warnw("scheduler: claim failed during games update", "drop", d.ID, "error", err.Error())
			} else {
				metrics.RecordClaim("success")
			}
		}
	}

	wanted := make([]string, 0, len(s.settings.GamesToWatch))
	seen := make(map[string]struct{}, len(s.settings.GamesToWatch))
	for _, g := range s.settings.GamesToWatch {
		key := strings.ToLower(g)
		if _, ok := seen[key]; ok {
			continue
		}
		if !gameHasEarnableCampaign(campaigns, g, now) {
			continue
		}
		seen[key] = struct{}{}
		wanted = append(wanted, g)
	}

	s.mu.Lock()
	manualMode := s.manualMode
	manualGame := s.manualGame
	s.mu.Unlock()

	if manualMode {
		if gameHasEarnableCampaign(campaigns, manualGame, now) {
			wanted = prependGame(wanted, manualGame)
		} else {
			s.mu.Lock()
			s.manualMode = false
			s.manualGame = ""
			s.manualChannelID = ""
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	s.wantedGames = wanted
	s.fullCleanup = true
	s.mu.Unlock()

	s.changeState(StateChannelsCleanup)
}

// gameHasEarnableCampaign reports whether any campaign for gameName (matched
// case-insensitively) can_earn_within the coming hour (spec.md §4.8
// GAMES_UPDATE).
func gameHasEarnableCampaign(campaigns []*domain.Campaign, gameName string, now time.Time) bool {
	nextHour := now.Add(time.Hour)
	lower := strings.ToLower(gameName)
	for _, c := range campaigns {
		if strings.ToLower(c.Game.Name) != lower {
			continue
		}
		if c.CanEarnWithin(now, nextHour) {
			return true
		}
	}
	return false
}

// prependGame moves game to the front of games, removing any existing
// case-insensitive occurrence first (spec.md §4.8 GAMES_UPDATE manual-mode
// promotion).
func prependGame(games []string, game string) []string {
	out := make([]string, 0, len(games)+1)
	out = append(out, game)
	lower := strings.ToLower(game)
	for _, g := range games {
		if strings.ToLower(g) == lower {
			continue
		}
		out = append(out, g)
	}
	return out
}

// runChannelsCleanup implements spec.md §4.8 CHANNELS_CLEANUP: a full wipe
// when fullCleanup is set or wanted_games is empty, otherwise a prune of
// non-ACL channels that have gone offline or off-game. Dropped channels are
// unsubscribed from the pool.
func (s *Scheduler) runChannelsCleanup() {
	logger.Call("scheduler: CHANNELS_CLEANUP")

	s.mu.Lock()
	full := s.fullCleanup
	wanted := append([]string(nil), s.wantedGames...)
	var dropped []string
	if full || len(wanted) == 0 {
		for id := range s.channels {
			dropped = append(dropped, id)
		}
		s.channels = make(map[string]*domain.Channel)
	} else {
		for id, ch := range s.channels {
			if ch.ACLBased {
				continue
			}
			if ch.Online && ch.StreamingWantedGame(wanted) {
				continue
			}
			dropped = append(dropped, id)
		}
		for _, id := range dropped {
			delete(s.channels, id)
		}
	}
	s.fullCleanup = false
	remaining := len(s.channels)
	s.mu.Unlock()

	metrics.SetTrackedChannels(remaining)
	for _, id := range dropped {
		s.pool.RemoveTopics(wspool.ChannelTopics(id))
	}

	if len(wanted) == 0 {
		s.changeState(StateIdle)
		return
	}
	s.changeState(StateChannelsFetch)
}

// runChannelsFetch implements spec.md §4.8 CHANNELS_FETCH: the union of
// already-tracked channels, ACL channels from wanted/earnable campaigns, and
// live directory results for wanted games that have no ACL campaign of
// their own, sorted and trimmed to MAX_CHANNELS.
func (s *Scheduler) runChannelsFetch(ctx context.Context) {
	logger.Call("scheduler: CHANNELS_FETCH")
	now := time.Now().UTC()
	nextHour := now.Add(time.Hour)

	s.mu.Lock()
	wanted := append([]string(nil), s.wantedGames...)
	campaigns := append([]*domain.Campaign(nil), s.campaigns...)
	tracked := make(map[string]*domain.Channel, len(s.channels))
	for id, ch := range s.channels {
		tracked[id] = ch
	}
	s.mu.Unlock()

	union := make(map[string]*domain.Channel, len(tracked))
	for id, ch := range tracked {
		union[id] = ch
	}

	gamesWithACL := make(map[string]struct{})
	var newACL []*domain.Channel
	for _, c := range campaigns {
		if !c.CanEarnWithin(now, nextHour) || !gameWanted(wanted, c.Game.Name) {
			continue
		}
		if len(c.AllowedChannelRefs) == 0 {
			continue
		}
		gamesWithACL[strings.ToLower(c.Game.Name)] = struct{}{}
		for _, ref := range c.AllowedChannelRefs {
			if _, ok := union[ref.ID]; ok {
				continue
			}
			ch := domain.NewChannel(ref.ID, ref.Login, true)
			// Campaign allow-list membership is itself evidence this
			// channel is drops-enabled for the campaign's game.
			ch.DropsEnabled = true
			union[ref.ID] = ch
			newACL = append(newACL, ch)
		}
	}

	if len(newACL) > 0 {
		if err := s.chsvc.BulkCheckOnline(ctx, newACL); err != nil {
			logger.Warnw("scheduler: bulk online check failed", "error", err.Error())
		}
	}

	for _, gameName := range wanted {
		if _, ok := gamesWithACL[strings.ToLower(gameName)]; ok {
			continue
		}
		game := gameForName(campaigns, gameName)
		if game == nil {
			continue
		}
		live, err := s.chsvc.FetchLiveStreams(ctx, *game)
		if err != nil {
			logger.Warnw("scheduler: live directory fetch failed", "game", gameName, "error", err.Error())
			continue
		}
		for _, ch := range live {
			union[ch.ID] = ch
		}
	}

	channels := make([]*domain.Channel, 0, len(union))
	for _, ch := range union {
		channels = append(channels, ch)
	}
	channelsvc.SortChannels(channels, wanted)

	surviving, trimmed := channels, []*domain.Channel(nil)
	if len(channels) > wspool.MaxChannels {
		surviving = channels[:wspool.MaxChannels]
		trimmed = channels[wspool.MaxChannels:]
	}

	for _, ch := range trimmed {
		s.pool.RemoveTopics(wspool.ChannelTopics(ch.ID))
	}

	newMap := make(map[string]*domain.Channel, len(surviving))
	for _, ch := range surviving {
		newMap[ch.ID] = ch
		if _, already := tracked[ch.ID]; !already {
			if err := s.pool.AddTopics(wspool.ChannelTopics(ch.ID)); err != nil {
				logger.Warnw("scheduler: channel topic subscribe failed", "channel", ch.ID, "error", err.Error())
			}
		}
	}

	s.mu.Lock()
	s.channels = newMap
	s.mu.Unlock()

	metrics.SetTrackedChannels(len(newMap))
	s.changeState(StateChannelSwitch)
}

func gameWanted(wanted []string, name string) bool {
	lower := strings.ToLower(name)
	for _, g := range wanted {
		if strings.ToLower(g) == lower {
			return true
		}
	}
	return false
}

func gameForName(campaigns []*domain.Campaign, name string) *domain.Game {
	lower := strings.ToLower(name)
	for _, c := range campaigns {
		if strings.ToLower(c.Game.Name) == lower {
			g := c.Game
			return &g
		}
	}
	return nil
}

// runChannelSwitch implements spec.md §4.8 CHANNEL_SWITCH's three-tier
// selection precedence, then blocks for the next wake so the loop doesn't
// spin: a wake (handler trigger, SelectChannel, maintenance cleanup, the
// watch loop's own RequestChannelSwitch) re-runs this same evaluation from
// scratch rather than advancing to a separate state.
func (s *Scheduler) runChannelSwitch(ctx context.Context) error {
	logger.Call("scheduler: CHANNEL_SWITCH")
	now := time.Now().UTC()

	s.mu.Lock()
	channels := make([]*domain.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	campaigns := append([]*domain.Campaign(nil), s.campaigns...)
	wanted := append([]string(nil), s.wantedGames...)
	selected := s.selectedChannelID
	s.selectedChannelID = ""
	manualMode := s.manualMode
	manualChannelID := s.manualChannelID
	manualGame := s.manualGame
	watchingID := s.watchingChannelID
	s.mu.Unlock()

	var watching *domain.Channel
	if watchingID != "" {
		watching = findChannel(channels, watchingID)
	}

	var choice *domain.Channel

	if selected != "" {
		if ch := findChannel(channels, selected); ch != nil && watch.CanWatch(ch, wanted, campaigns, now) {
			choice = ch
			if watching == nil || !sameGame(ch, watching) {
				s.mu.Lock()
				s.manualMode = true
				s.manualGame = ch.GameName()
				s.manualChannelID = ch.ID
				s.mu.Unlock()
			}
		}
	}

	if choice == nil && manualMode {
		if ch := findChannel(channels, manualChannelID); ch != nil && watch.CanWatch(ch, wanted, campaigns, now) {
			choice = ch
		} else {
			for _, ch := range channels {
				if strings.EqualFold(ch.GameName(), manualGame) && watch.CanWatch(ch, wanted, campaigns, now) {
					choice = ch
					break
				}
			}
			if choice == nil {
				s.mu.Lock()
				s.manualMode = false
				s.manualGame = ""
				s.manualChannelID = ""
				s.mu.Unlock()
			}
		}
	}

	if choice == nil && !manualMode {
		sorted := append([]*domain.Channel(nil), channels...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return channelsvc.Priority(sorted[i], wanted) < channelsvc.Priority(sorted[j], wanted)
		})
		watchingPriority := channelsvc.NoPriority
		watchingACL := false
		if watching != nil {
			watchingPriority = channelsvc.Priority(watching, wanted)
			watchingACL = watching.ACLBased
		}
		for _, ch := range sorted {
			if !watch.CanWatch(ch, wanted, campaigns, now) {
				continue
			}
			if watch.ShouldSwitch(channelsvc.Priority(ch, wanted), watchingPriority, ch.ACLBased, watchingACL, watching) {
				choice = ch
				break
			}
		}
	}

	switch {
	case choice != nil:
		s.setWatching(choice.ID)
	case watching != nil && watch.CanWatch(watching, wanted, campaigns, now):
		// keep whatever's currently watched.
	default:
		s.stopWatching()
		s.changeState(StateIdle)
		return nil
	}

	if err := s.waitForWake(ctx); err != nil {
		return dmerrors.Wrap(dmerrors.ErrExitRequested, "scheduler: cancelled in channel switch")
	}
	return nil
}

// ChannelKnown satisfies handlers.Host.
func (s *Scheduler) ChannelKnown(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[channelID]
	return ok
}

// SetViewers satisfies handlers.Host.
func (s *Scheduler) SetViewers(channelID string, viewers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[channelID]; ok {
		ch.SetViewers(&viewers)
	}
}

// SetOffline satisfies handlers.Host.
func (s *Scheduler) SetOffline(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[channelID]; ok {
		ch.SetOnline(false)
	}
}

// CheckOnline satisfies handlers.Host: force a GetStreamInfo re-check for
// channelID and request a CHANNEL_SWITCH re-evaluation for any transition
// that could change who should be watched (spec.md §4.10 on_channel_update).
func (s *Scheduler) CheckOnline(ctx context.Context, channelID string) {
	s.mu.Lock()
	ch := s.channels[channelID]
	s.mu.Unlock()
	if ch == nil {
		return
	}

	wasOnline := ch.Online
	if err := s.chsvc.BulkCheckOnline(ctx, []*domain.Channel{ch}); err != nil {
		logger.Warnw("scheduler: online recheck failed", "channel", channelID, "error", err.Error())
		return
	}

	switch {
	case !wasOnline && ch.Online:
		s.changeState(StateChannelSwitch)
	case wasOnline && !ch.Online:
		s.mu.Lock()
		watching := s.watchingChannelID == channelID
		s.mu.Unlock()
		if watching {
			s.stopWatching()
		}
		s.changeState(StateChannelSwitch)
	case wasOnline && ch.Online:
		s.changeState(StateChannelSwitch)
	}
}

// DropKnown satisfies handlers.Host.
func (s *Scheduler) DropKnown(dropID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dropIndex[dropID]
	return ok
}

// UpdateClaimID satisfies handlers.Host.
func (s *Scheduler) UpdateClaimID(dropID, claimID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if drop, ok := s.dropIndex[dropID]; ok {
		drop.UpdateClaim(claimID)
	}
}

// ClaimDrop satisfies handlers.Host, issuing the claim GQL request outside
// the scheduler lock.
func (s *Scheduler) ClaimDrop(ctx context.Context, dropID string) error {
	s.mu.Lock()
	drop := s.dropIndex[dropID]
	s.mu.Unlock()
	if drop == nil {
		return dmerrors.Wrapf(dmerrors.ErrDropNotFound, "scheduler: claim drop %s", dropID)
	}
	err := s.inv.ClaimDrop(ctx, drop)
	if err != nil {
		metrics.RecordClaim("failure")
	} else {
		metrics.RecordClaim("success")
	}
	return err
}

// WatchingChannelID satisfies handlers.Host.
func (s *Scheduler) WatchingChannelID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchingChannelID, s.watchingChannelID != ""
}

// CurrentDropChanged satisfies handlers.Host.
func (s *Scheduler) CurrentDropChanged(ctx context.Context, channelID, dropID string) bool {
	s.mu.Lock()
	ch := s.channels[channelID]
	s.mu.Unlock()
	if ch == nil {
		return true
	}

	info, err := s.inv.CurrentDrop(ctx, channelID)
	if err != nil {
		logger.Callf("scheduler: CurrentDrop poll failed for %s: %s", ch.Login, err.Error())
		return false
	}
	return info == nil || info.DropID != dropID
}

// DropCampaignCanEarn satisfies handlers.Host.
func (s *Scheduler) DropCampaignCanEarn(dropID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := s.dropIndex[dropID]
	if drop == nil || drop.Campaign == nil {
		return false
	}
	var ch *domain.Channel
	if s.watchingChannelID != "" {
		ch = s.channels[s.watchingChannelID]
	}
	return drop.Campaign.CanEarn(ch, time.Now().UTC())
}

// UpdateDropProgress satisfies handlers.Host.
func (s *Scheduler) UpdateDropProgress(dropID string, minutes int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := s.dropIndex[dropID]
	if drop == nil {
		return false
	}
	var ch *domain.Channel
	if s.watchingChannelID != "" {
		ch = s.channels[s.watchingChannelID]
	}
	now := time.Now().UTC()
	if !drop.CanEarn(ch, now) {
		return false
	}
	drop.UpdateMinutes(minutes, now)
	return true
}

// DeleteNotification satisfies handlers.Host.
func (s *Scheduler) DeleteNotification(ctx context.Context, notificationID string) error {
	_, err := s.gqlClient.Request(ctx, gql.Op("NotificationsDelete").WithVariables(gql.Vars{
		"input": gql.Vars{"id": notificationID},
	}))
	if err != nil {
		return dmerrors.Wrapf(err, "scheduler: delete notification %s", notificationID)
	}
	return nil
}
