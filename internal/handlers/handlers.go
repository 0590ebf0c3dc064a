// Package handlers implements the websocket topic message handlers
// (spec.md §4.10, C10): stream-state, broadcast-settings, drop progress and
// claim, and notification dispatch. Grounded on
// original_source/src/services/message_handlers.py. Every domain read or
// mutation goes through the Host interface rather than a shared pointer,
// since wspool dispatches one fresh goroutine per message (spec.md §5
// ordering guarantee iii) and Host is the scheduler's single lock-guarded
// entry point into the domain model.
package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/dropsminer/core/internal/logger"
	"github.com/dropsminer/core/internal/wspool"
)

// Trigger names a state transition a handler may request of the scheduler,
// kept as a small local enum instead of importing scheduler.State directly
// to avoid a handlers<->scheduler import cycle.
type Trigger int

const (
	TriggerChannelSwitch Trigger = iota
	TriggerInventoryFetch
)

// claimPollAttempts/claimPollInterval/claimSettleDelay ground the
// drop-claim wait in process_drops: a fixed settle delay, then repeated
// CurrentDrop polls until the platform reports a different (or no) drop
// (spec.md §4.10).
const (
	claimSettleDelay  = 4 * time.Second
	claimPollAttempts = 8
	claimPollInterval = 2 * time.Second
)

// Host is the scheduler's domain-access surface for message handlers.
// Every method is expected to acquire whatever locking the scheduler needs
// internally; handlers never hold a domain pointer across a suspension
// point.
type Host interface {
	// Stream state / broadcast settings (video-playback-by-id,
	// broadcast-settings-update topics).
	ChannelKnown(channelID string) bool
	SetViewers(channelID string, viewers int)
	SetOffline(channelID string)
	// CheckOnline forces an online re-check for channelID, applying
	// whatever before/after transition follows from it (spec.md §4.10
	// on_channel_update's four cases), including any watch/switch
	// decision that falls out of it.
	CheckOnline(ctx context.Context, channelID string)

	// Drops (user-drop-events topic).
	DropKnown(dropID string) bool
	UpdateClaimID(dropID, claimID string)
	ClaimDrop(ctx context.Context, dropID string) error
	WatchingChannelID() (channelID string, ok bool)
	// CurrentDropChanged polls the CurrentDrop GQL operation for
	// channelID and reports whether the platform now reports a drop
	// other than dropID (or none at all).
	CurrentDropChanged(ctx context.Context, channelID, dropID string) bool
	// DropCampaignCanEarn reports whether dropID's owning campaign can
	// still earn against whatever channel is currently watched.
	DropCampaignCanEarn(dropID string) bool
	RestartWatching()
	RequestState(t Trigger)
	// UpdateDropProgress applies minutes to dropID iff it can currently
	// earn against whatever channel is watched, reporting whether it did.
	UpdateDropProgress(dropID string, minutes int) bool

	// Notifications (onsite-notifications topic).
	DeleteNotification(ctx context.Context, notificationID string) error
}

// Service dispatches decoded websocket messages by topic.
type Service struct {
	host Host
}

// New builds a handlers Service bound to host.
func New(host Host) *Service {
	return &Service{host: host}
}

// Dispatch satisfies wspool.Handler, routing a decoded message to the
// handler for its topic template.
func (s *Service) Dispatch(topic string, raw json.RawMessage) {
	ctx := context.Background()
	switch {
	case hasTemplate(topic, wspool.TopicStreamState):
		s.processStreamState(ctx, templateID(topic), raw)
	case hasTemplate(topic, wspool.TopicStreamUpdate):
		s.processStreamUpdate(ctx, templateID(topic), raw)
	case hasTemplate(topic, wspool.TopicDrops):
		s.processDrops(ctx, raw)
	case hasTemplate(topic, wspool.TopicNotifications):
		s.processNotifications(ctx, raw)
	default:
		logger.Warnw("handlers: message for unknown topic", "topic", topic)
	}
}

func hasTemplate(topic, template string) bool {
	return strings.HasPrefix(topic, template+".")
}

func templateID(topic string) string {
	i := strings.LastIndexByte(topic, '.')
	if i < 0 {
		return topic
	}
	return topic[i+1:]
}

type streamStateMessage struct {
	Type    string `json:"type"`
	Viewers int    `json:"viewers"`
}

// processStreamState handles viewcount/stream-up/stream-down/commercial
// messages on the video-playback-by-id topic (spec.md §4.10).
func (s *Service) processStreamState(ctx context.Context, channelID string, raw json.RawMessage) {
	if !s.host.ChannelKnown(channelID) {
		logger.Errorw("handlers: stream state for a non-existing channel", "channel", channelID)
		return
	}
	var msg streamStateMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warnw("handlers: malformed stream state message", "channel", channelID, "error", err.Error())
		return
	}

	switch msg.Type {
	case "viewcount":
		s.host.SetViewers(channelID, msg.Viewers)
	case "stream-down":
		s.host.SetOffline(channelID)
	case "stream-up":
		s.host.CheckOnline(ctx, channelID)
	case "commercial":
	default:
		logger.Warnw("handlers: unknown stream state", "type", msg.Type)
	}
}

type streamUpdateMessage struct {
	Type    string `json:"type"`
	OldGame string `json:"old_game"`
	Game    string `json:"game"`
}

// processStreamUpdate handles broadcast-settings-update messages: it just
// schedules an online re-check, which eventually resolves the actual
// before/after transition (spec.md §4.10).
func (s *Service) processStreamUpdate(ctx context.Context, channelID string, raw json.RawMessage) {
	if !s.host.ChannelKnown(channelID) {
		logger.Errorw("handlers: broadcast settings update for a non-existing channel", "channel", channelID)
		return
	}
	var msg streamUpdateMessage
	if err := json.Unmarshal(raw, &msg); err == nil && msg.OldGame != msg.Game {
		logger.Callf("handlers: channel update from websocket: %s, game changed: %s -> %s", channelID, msg.OldGame, msg.Game)
	}
	s.host.CheckOnline(ctx, channelID)
}

type dropMessage struct {
	Type string `json:"type"`
	Data struct {
		DropID             string `json:"drop_id"`
		DropInstanceID     string `json:"drop_instance_id"`
		CurrentProgressMin int    `json:"current_progress_min"`
		RequiredProgressMin int   `json:"required_progress_min"`
	} `json:"data"`
}

// processDrops handles drop-progress and drop-claim messages on the
// user-drop-events topic (spec.md §4.10, §4.11).
func (s *Service) processDrops(ctx context.Context, raw json.RawMessage) {
	var msg dropMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warnw("handlers: malformed drop message", "error", err.Error())
		return
	}
	if msg.Type != "drop-progress" && msg.Type != "drop-claim" {
		return
	}

	if msg.Type == "drop-claim" {
		s.processDropClaim(ctx, msg)
		return
	}

	if !s.host.DropKnown(msg.Data.DropID) {
		logger.Callf("handlers: drop update from websocket: <Unknown>")
		return
	}
	if s.host.UpdateDropProgress(msg.Data.DropID, msg.Data.CurrentProgressMin) {
		logger.Callf("handlers: drop update from websocket: %s (%d/%d)",
			msg.Data.DropID, msg.Data.CurrentProgressMin, msg.Data.RequiredProgressMin)
	}
}

func (s *Service) processDropClaim(ctx context.Context, msg dropMessage) {
	if !s.host.DropKnown(msg.Data.DropID) {
		logger.Errorw("handlers: drop claim for a non-existing drop",
			"drop", msg.Data.DropID, "claim_id", msg.Data.DropInstanceID)
		return
	}

	s.host.UpdateClaimID(msg.Data.DropID, msg.Data.DropInstanceID)
	if err := s.host.ClaimDrop(ctx, msg.Data.DropID); err != nil {
		logger.Warnw("handlers: claim failed", "drop", msg.Data.DropID, "error", err.Error())
	}

	// About 4-20s after claiming, the next drop can be started by
	// re-sending the watch payload; poll CurrentDrop until the platform
	// reports something other than the drop we just claimed.
	select {
	case <-time.After(claimSettleDelay):
	case <-ctx.Done():
		return
	}

	if channelID, ok := s.host.WatchingChannelID(); ok {
		for attempt := 0; attempt < claimPollAttempts; attempt++ {
			if s.host.CurrentDropChanged(ctx, channelID, msg.Data.DropID) {
				break
			}
			select {
			case <-time.After(claimPollInterval):
			case <-ctx.Done():
				return
			}
		}
	}

	if s.host.DropCampaignCanEarn(msg.Data.DropID) {
		s.host.RestartWatching()
	} else {
		s.host.RequestState(TriggerInventoryFetch)
	}
}

type notificationMessage struct {
	Type string `json:"type"`
	Data struct {
		Notification struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"notification"`
	} `json:"data"`
}

// processNotifications handles create-notification messages on the
// onsite-notifications topic: a drop-reward reminder triggers an
// INVENTORY_FETCH and deletes the notification (spec.md §4.10).
func (s *Service) processNotifications(ctx context.Context, raw json.RawMessage) {
	var msg notificationMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Warnw("handlers: malformed notification message", "error", err.Error())
		return
	}
	if msg.Type != "create-notification" {
		return
	}
	if msg.Data.Notification.Type != "user_drop_reward_reminder_notification" {
		return
	}

	s.host.RequestState(TriggerInventoryFetch)
	if err := s.host.DeleteNotification(ctx, msg.Data.Notification.ID); err != nil {
		logger.Warnw("handlers: failed to delete notification", "id", msg.Data.Notification.ID, "error", err.Error())
	}
}
