package wspool

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuth never logs in, so sockets under test never attempt to dial;
// these tests exercise the pool's placement bookkeeping, not the network.
type fakeAuth struct {
	loggedIn chan struct{}
}

func newFakeAuth() *fakeAuth { return &fakeAuth{loggedIn: make(chan struct{})} }

func (f *fakeAuth) LoggedIn() <-chan struct{} { return f.loggedIn }
func (f *fakeAuth) AccessToken() string       { return "test-token" }

type noopDialer struct{}

func (noopDialer) DialContext(ctx context.Context, urlStr string, _ map[string][]string) (*websocket.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestPool() *Pool {
	p := New(newFakeAuth(), func(string, json.RawMessage) {})
	p.dialer = noopDialer{}
	return p
}

func topicsN(prefix string, n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = fmt.Sprintf("%s.%d", prefix, i)
	}
	return out
}

func TestPool_AddTopics_FillsBeforeOpeningNewSocket(t *testing.T) {
	p := newTestPool()

	require.NoError(t, p.AddTopics(topicsN("video-playback-by-id", WSTopicsLimit)))
	require.Equal(t, 1, p.SocketCount())

	require.NoError(t, p.AddTopics([]string{"video-playback-by-id.overflow"}))
	require.Equal(t, 2, p.SocketCount())
	assert.Equal(t, WSTopicsLimit+1, p.TopicCount())
}

func TestPool_AddTopics_DropsDuplicates(t *testing.T) {
	p := newTestPool()

	topics := topicsN("broadcast-settings-update", 5)
	require.NoError(t, p.AddTopics(topics))
	require.NoError(t, p.AddTopics(topics))

	assert.Equal(t, 5, p.TopicCount())
	assert.Equal(t, 1, p.SocketCount())
}

func TestPool_AddTopics_FatalWhenExceedingCapacity(t *testing.T) {
	p := newTestPool()

	capacity := MaxWebsockets * WSTopicsLimit
	err := p.AddTopics(topicsN("video-playback-by-id", capacity+10))
	require.Error(t, err)
	assert.Equal(t, MaxWebsockets, p.SocketCount())
	assert.Equal(t, capacity, p.TopicCount())
}

func TestPool_RemoveTopics_CompactsPool(t *testing.T) {
	p := newTestPool()

	// Two full sockets' worth, minus enough room that removing one
	// socket's topics lets everything fit back onto a single connection.
	require.NoError(t, p.AddTopics(topicsN("video-playback-by-id", WSTopicsLimit+5)))
	require.Equal(t, 2, p.SocketCount())

	p.RemoveTopics(topicsN("video-playback-by-id", 10))

	assert.Equal(t, 1, p.SocketCount())
	assert.Equal(t, WSTopicsLimit-5, p.TopicCount())
}

func TestUserTopics(t *testing.T) {
	got := UserTopics(12345)
	assert.Equal(t, []string{"user-drop-events.12345", "onsite-notifications.12345"}, got)
}

func TestChannelTopics(t *testing.T) {
	got := ChannelTopics("98765")
	assert.Equal(t, []string{"video-playback-by-id.98765", "broadcast-settings-update.98765"}, got)
}
