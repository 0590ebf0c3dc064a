package wspool

import "strconv"

// Topic template names, spec.md §4.7 wire protocol. Topic names are
// "<template>.<target_id>".
const (
	TopicDrops         = "user-drop-events"
	TopicNotifications = "onsite-notifications"
	TopicStreamState   = "video-playback-by-id"
	TopicStreamUpdate  = "broadcast-settings-update"
)

// UserTopics returns the two BASE_TOPICS topics keyed by the logged-in
// user's id: Drops and Notifications (spec.md §4.7).
func UserTopics(userID int) []string {
	id := strconv.Itoa(userID)
	return []string{
		TopicDrops + "." + id,
		TopicNotifications + "." + id,
	}
}

// ChannelTopics returns the two topics a tracked channel occupies:
// StreamState and StreamUpdate, keyed by channel id (spec.md §4.7).
func ChannelTopics(channelID string) []string {
	return []string{
		TopicStreamState + "." + channelID,
		TopicStreamUpdate + "." + channelID,
	}
}
