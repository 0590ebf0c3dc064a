// Package watch implements the watch loop (spec.md §4.9, C9): the
// heartbeat/progress-reconciliation cycle for whichever channel the
// scheduler currently wants mined, plus the can_watch/should_switch
// predicates channel selection is built on. Grounded on
// original_source/src/services/watch_service.py, translated from its
// asyncio.wait_for-based restart signal into a select over a restart
// channel.
package watch

import (
	"context"
	"time"

	"github.com/dropsminer/core/internal/domain"
	dmerrors "github.com/dropsminer/core/internal/errors"
	"github.com/dropsminer/core/internal/inventory"
	"github.com/dropsminer/core/internal/logger"
)

// watchInterval is the nominal spacing between heartbeats (spec.md §4.9).
const watchInterval = 59 * time.Second

// progressPollInterval is how long the loop waits for a websocket progress
// update before falling back to GQL/estimation (spec.md §4.9 step 3).
const progressPollInterval = 20 * time.Second

// minuteAlmostDoneWindow is how close to a full watchInterval the last
// progress update must be before the loop treats the server as having
// stopped pushing progress (original gui.progress.minute_almost_done()).
const minuteAlmostDoneWindow = 3 * time.Second

// Host is everything the watch loop needs from the scheduler: channel/drop
// lookups and mutation go through it so every domain access is funneled
// through the scheduler's own locking (spec.md §5 ordering guarantee iii).
type Host interface {
	// WaitForChannel blocks until the scheduler has a channel in the
	// watching slot, returning its id and login. ok is false only when ctx
	// was cancelled first.
	WaitForChannel(ctx context.Context) (channelID, login string, ok bool)
	// ClearIfOffline clears the watching slot and reports true if
	// channelID has gone offline since it was chosen.
	ClearIfOffline(channelID string) bool
	// Heartbeat sends the platform's watch payload for login. Failures are
	// logged by the caller and never treated as fatal (spec.md §4.9 step 2).
	Heartbeat(ctx context.Context, login string) error
	// AdoptCurrentDrop applies minutes to dropID if it's known and can
	// currently earn against channelID, reporting whether it did.
	AdoptCurrentDrop(channelID, dropID string, minutes int) bool
	// BumpActiveCampaign advances the first earnable campaign for
	// channelID by one minute, reporting whether one was found and
	// whether the bump just maxed out a drop's extra minutes.
	BumpActiveCampaign(channelID string) (handled, maxedOut bool)
	// RequestChannelSwitch asks the scheduler to re-evaluate channel
	// selection (e.g. extra minutes maxed out).
	RequestChannelSwitch()
	// RestartSignal fires once per restart_watching call, short-circuiting
	// whichever sleep the loop is currently in.
	RestartSignal() <-chan struct{}
}

// Service runs the watch loop against a Host.
type Service struct {
	host Host
	inv  *inventory.Service
}

// New builds a watch Service bound to host for domain access and inv for
// the CurrentDrop GQL fallback.
func New(host Host, inv *inventory.Service) *Service {
	return &Service{host: host, inv: inv}
}

// Run is the single long-lived watch loop (spec.md §4.9): wait for a
// channel, heartbeat it, reconcile progress, sleep, repeat. Returns only on
// ctx cancellation, wrapped in ErrExitRequested so the caller's critical-task
// wrapper treats it as a clean shutdown.
func (s *Service) Run(ctx context.Context) error {
	for {
		channelID, login, ok := s.host.WaitForChannel(ctx)
		if !ok {
			return dmerrors.Wrap(dmerrors.ErrExitRequested, "watch: cancelled waiting for a channel")
		}
		if err := s.watchOne(ctx, channelID, login); err != nil {
			return err
		}
	}
}

// watchOne runs heartbeat/progress cycles for one watched channel until it
// goes offline or ctx is cancelled (spec.md §4.9 steps 1-5, looped).
func (s *Service) watchOne(ctx context.Context, channelID, login string) error {
	for {
		if ctx.Err() != nil {
			return dmerrors.Wrap(dmerrors.ErrExitRequested, "watch: cancelled")
		}
		if s.host.ClearIfOffline(channelID) {
			return nil
		}

		if err := s.host.Heartbeat(ctx, login); err != nil {
			logger.Callf("watch: heartbeat failed for %s: %s", login, err.Error())
		}
		lastSent := time.Now()

		if !s.sleep(ctx, progressPollInterval) {
			continue
		}

		if time.Since(lastSent) >= watchInterval-minuteAlmostDoneWindow {
			s.reconcileProgress(ctx, channelID)
		}

		remaining := watchInterval - time.Since(lastSent)
		if remaining > 0 && !s.sleep(ctx, remaining) {
			continue
		}
	}
}

// reconcileProgress implements the two-solution fallback of watch_loop when
// the server appears to have stopped pushing progress updates: try the
// CurrentDrop GQL query first, then fall back to bumping the active
// campaign's minutes (spec.md §4.9 step 4).
func (s *Service) reconcileProgress(ctx context.Context, channelID string) {
	info, err := s.inv.CurrentDrop(ctx, channelID)
	if err != nil {
		logger.Callf("watch: CurrentDrop query failed: %s", err.Error())
		info = nil
	}
	if info != nil && s.host.AdoptCurrentDrop(channelID, info.DropID, info.CurrentMinutesWatched) {
		logger.Callf("watch: drop progress from GQL for channel %s", channelID)
		return
	}

	handled, maxedOut := s.host.BumpActiveCampaign(channelID)
	switch {
	case !handled:
		logger.Callf("watch: no active drop could be determined for channel %s", channelID)
	case maxedOut:
		logger.Callf("watch: extra minutes maxed out on channel %s, requesting switch", channelID)
		s.host.RequestChannelSwitch()
	default:
		logger.Callf("watch: drop progress from active search for channel %s", channelID)
	}
}

// sleep waits for delay, ctx cancellation, or a restart signal. It returns
// false only for a restart signal (the caller should restart its cycle from
// the top, per restart_watching's contract); it returns true both when the
// delay elapsed and on ctx cancellation, which the caller's loop checks.
func (s *Service) sleep(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.host.RestartSignal():
		return false
	case <-ctx.Done():
		return true
	}
}

// CanWatch reports whether channel qualifies as a watching candidate:
// wanted games configured, online, drops enabled, on a wanted game, and at
// least one tracked campaign can currently earn on it (spec.md §4.9).
func CanWatch(channel *domain.Channel, wantedGames []string, campaigns []*domain.Campaign, now time.Time) bool {
	if len(wantedGames) == 0 || !channel.Online || !channel.DropsEnabled {
		return false
	}
	if !channel.StreamingWantedGame(wantedGames) {
		return false
	}
	for _, c := range campaigns {
		if c.CanEarn(channel, now) {
			return true
		}
	}
	return false
}

// ShouldSwitch reports whether channel is strictly preferable to whatever
// is currently watched, by priority() order and ACL tie-break (spec.md
// §4.9). watching is nil when nothing is currently watched.
func ShouldSwitch(channelPriority, watchingPriority int, channelACL, watchingACL bool, watching *domain.Channel) bool {
	if watching == nil {
		return true
	}
	if channelPriority < watchingPriority {
		return true
	}
	return channelPriority == watchingPriority && channelACL && !watchingACL
}
