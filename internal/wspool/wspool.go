// Package wspool implements the PubSub websocket connection pool: the
// per-connection DISCONNECTED→CONNECTING→CONNECTED→RECONNECTING state
// machine, LISTEN/UNLISTEN topic batching, and the pool-level fill/compact
// algorithm that spreads topics across up to MAX_WEBSOCKETS connections
// (spec.md §4.7). Grounded on the teacher's read/write pump idiom
// (server/client.go) generalized from a fan-out hub to a reconnecting
// client pool, and on the single-event-loop state machine of
// pulse/schedule/ticker.go.
package wspool

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dropsminer/core/internal/backoff"
	dmerrors "github.com/dropsminer/core/internal/errors"
)

// Pool-wide constants, spec.md §4.7.
const (
	MaxWebsockets = 8
	WSTopicsLimit = 50
	BaseTopics    = 2
	MaxTopics     = MaxWebsockets*WSTopicsLimit - BaseTopics
	MaxChannels   = MaxTopics / 2

	pingInterval = 3 * time.Minute
	pongDeadline = 10 * time.Second
	writeWait    = 10 * time.Second

	listenBatchSize = 10
	nonceLen        = 30
	nonceAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	pubsubURL = "wss://pubsub-edge.twitch.tv/v1"
)

// State is a single connection's place in the spec.md §4.7 state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// AuthSource is the subset of auth.State a socket needs: the login gate and
// the bearer token LISTEN/UNLISTEN requests carry as auth_token.
type AuthSource interface {
	LoggedIn() <-chan struct{}
	AccessToken() string
}

// Handler processes one decoded topic message. message is the raw
// (still-encoded) JSON payload carried in data.message; handlers decode it
// according to the topic's own schema. Handlers run on a fresh goroutine
// per message (spec.md §4.7, §5 ordering guarantee iii) and must be
// idempotent — messages for the same topic may interleave.
type Handler func(topic string, message json.RawMessage)

// Dialer abstracts websocket.DefaultDialer for tests.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader map[string][]string) (*websocket.Conn, error)
}

type gorillaDialer struct{}

func (gorillaDialer) DialContext(ctx context.Context, urlStr string, requestHeader map[string][]string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, urlStr, requestHeader)
	return conn, err
}

func createNonce() string {
	buf := make([]byte, nonceLen)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is catastrophic; fall back to a fixed
		// correlation value rather than panicking mid pub/sub session.
		return "0000000000000000000000000000"
	}
	for i, b := range buf {
		buf[i] = nonceAlphabet[int(b)%len(nonceAlphabet)]
	}
	return string(buf)
}

type listenEnvelope struct {
	Type  string     `json:"type"`
	Nonce string     `json:"nonce"`
	Data  listenData `json:"data"`
}

type listenData struct {
	Topics    []string `json:"topics"`
	AuthToken string   `json:"auth_token"`
}

type pingEnvelope struct {
	Type string `json:"type"`
}

type inboundEnvelope struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Nonce string          `json:"nonce,omitempty"`
	Error string          `json:"error,omitempty"`
}

type inboundMessageData struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// backoffFactory lets tests substitute a faster reconnect backoff.
// Capped at 3 minutes per spec.md §5's websocket reconnect backoff ceiling.
var backoffFactory = func() *backoff.Backoff {
	return backoff.New(backoff.WithMaximum(3 * 60))
}

var errReconnectRequested = dmerrors.New("wspool: server requested reconnect")
var errPongMissing = dmerrors.New("wspool: pong deadline exceeded")
