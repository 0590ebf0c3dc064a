package wspool

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dropsminer/core/internal/logger"
	"github.com/dropsminer/core/internal/metrics"
)

type topicState int

const (
	topicPending topicState = iota
	topicActive
	topicRemoving
)

// Socket owns one PubSub websocket connection and the topics the pool has
// assigned to it. The pool is the source of truth for topic assignment;
// Socket only executes LISTEN/UNLISTEN for whatever the pool hands it and
// tracks per-connection subscription state so a reconnect knows to
// re-issue everything (spec.md §4.7).
type Socket struct {
	id       int
	dialer   Dialer
	auth     AuthSource
	dispatch Handler

	mu            sync.Mutex
	state         State
	topics        map[string]topicState
	topicsChanged bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSocket(id int, dialer Dialer, auth AuthSource, dispatch Handler) *Socket {
	return &Socket{
		id:       id,
		dialer:   dialer,
		auth:     auth,
		dispatch: dispatch,
		topics:   make(map[string]topicState),
	}
}

// Start runs the connection loop on a background goroutine until ctx is
// cancelled or Stop is called.
func (s *Socket) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop(runCtx)
	}()
}

// Stop is cooperative: cancel the connection's context and wait for the
// run loop to exit (spec.md §4.7 "stop is cooperative").
func (s *Socket) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	s.setState(StateDisconnecting)
	cancel()
	s.wg.Wait()
	s.setState(StateDisconnected)
}

func (s *Socket) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State reports the connection's current place in the state machine.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AddTopics marks topics as pending LISTEN on this socket. The pool is
// responsible for not double-assigning a topic to two sockets.
func (s *Socket) AddTopics(topics []string) {
	if len(topics) == 0 {
		return
	}
	s.mu.Lock()
	for _, t := range topics {
		s.topics[t] = topicPending
	}
	s.topicsChanged = true
	s.mu.Unlock()
}

// RemoveTopics marks topics for UNLISTEN on this socket, or drops them
// immediately if they never made it past pending.
func (s *Socket) RemoveTopics(topics []string) {
	if len(topics) == 0 {
		return
	}
	s.mu.Lock()
	for _, t := range topics {
		switch s.topics[t] {
		case topicActive:
			s.topics[t] = topicRemoving
		default:
			delete(s.topics, t)
		}
	}
	s.topicsChanged = true
	s.mu.Unlock()
}

func (s *Socket) markAllPending() {
	s.mu.Lock()
	for t := range s.topics {
		s.topics[t] = topicPending
	}
	s.topicsChanged = true
	s.mu.Unlock()
}

func (s *Socket) runLoop(ctx context.Context) {
	b := backoffFactory()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.auth.LoggedIn():
		}

		s.setState(StateConnecting)
		conn, err := s.dialer.DialContext(ctx, pubsubURL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := b.Next()
			logger.Warnw("wspool: dial failed", "socket", s.id, "error", err.Error(), "retry_in_s", delay)
			metrics.RecordReconnect("dial_error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(delay * float64(time.Second))):
			}
			continue
		}

		b.Reset()
		s.setState(StateConnected)
		s.markAllPending()

		err = s.serve(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		logger.Warnw("wspool: connection lost, reconnecting", "socket", s.id, "error", errString(err))
		metrics.RecordReconnect(reconnectReason(err))
		s.setState(StateReconnecting)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func reconnectReason(err error) string {
	switch {
	case err == errReconnectRequested:
		return "server_requested"
	case err == errPongMissing:
		return "pong_timeout"
	case err == nil:
		return "closed"
	default:
		return "read_error"
	}
}

// serve drives one live connection: ping/pong keepalive, the read pump,
// and periodic flushing of any pending LISTEN/UNLISTEN work. It returns
// when the connection should be torn down and reconnected.
func (s *Socket) serve(ctx context.Context, conn *websocket.Conn) error {
	pong := make(chan struct{}, 1)
	reconnectSig := make(chan struct{}, 1)
	recvErr := make(chan error, 1)

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	go func() {
		recvErr <- s.readLoop(readCtx, conn, pong, reconnectSig)
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()
	topicTicker := time.NewTicker(500 * time.Millisecond)
	defer topicTicker.Stop()

	var pongTimer *time.Timer
	defer func() {
		if pongTimer != nil {
			pongTimer.Stop()
		}
	}()

	for {
		var pongDeadlineC <-chan time.Time
		if pongTimer != nil {
			pongDeadlineC = pongTimer.C
		}

		select {
		case <-ctx.Done():
			s.sendClose(conn)
			return ctx.Err()

		case err := <-recvErr:
			return err

		case <-reconnectSig:
			return errReconnectRequested

		case <-pingTicker.C:
			if err := s.writeJSON(conn, pingEnvelope{Type: "PING"}); err != nil {
				return err
			}
			if pongTimer != nil {
				pongTimer.Stop()
			}
			pongTimer = time.NewTimer(pongDeadline)

		case <-pong:
			if pongTimer != nil {
				pongTimer.Stop()
				pongTimer = nil
			}

		case <-pongDeadlineC:
			return errPongMissing

		case <-topicTicker.C:
			if err := s.flushTopics(conn); err != nil {
				return err
			}
		}
	}
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn, pong chan<- struct{}, reconnectSig chan<- struct{}) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env inboundEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warnw("wspool: malformed frame", "socket", s.id, "error", err.Error())
			continue
		}

		switch env.Type {
		case "PONG":
			select {
			case pong <- struct{}{}:
			default:
			}
		case "RECONNECT":
			select {
			case reconnectSig <- struct{}{}:
			default:
			}
		case "RESPONSE":
			if env.Error != "" {
				logger.Warnw("wspool: listen/unlisten rejected", "socket", s.id, "nonce", env.Nonce, "error", env.Error)
			}
		case "MESSAGE":
			var md inboundMessageData
			if err := json.Unmarshal(env.Data, &md); err != nil {
				logger.Warnw("wspool: malformed message envelope", "socket", s.id, "error", err.Error())
				continue
			}
			topic, payload, handler := md.Topic, json.RawMessage(md.Message), s.dispatch
			go handler(topic, payload)
		default:
			logger.Debugw("wspool: unhandled frame type", "socket", s.id, "type", env.Type)
		}
	}
}

// flushTopics issues LISTEN for any topic marked pending and UNLISTEN for
// any marked removing, in batches of listenBatchSize (spec.md §4.7, §5
// ordering guarantee ii).
func (s *Socket) flushTopics(conn *websocket.Conn) error {
	s.mu.Lock()
	if !s.topicsChanged {
		s.mu.Unlock()
		return nil
	}
	var toListen, toUnlisten []string
	for t, st := range s.topics {
		switch st {
		case topicPending:
			toListen = append(toListen, t)
		case topicRemoving:
			toUnlisten = append(toUnlisten, t)
		}
	}
	s.topicsChanged = false
	s.mu.Unlock()

	token := s.auth.AccessToken()

	for _, batch := range batchStrings(toListen, listenBatchSize) {
		if err := s.sendListenRequest(conn, "LISTEN", batch, token); err != nil {
			return err
		}
		s.mu.Lock()
		for _, t := range batch {
			if s.topics[t] == topicPending {
				s.topics[t] = topicActive
			}
		}
		s.mu.Unlock()
	}
	for _, batch := range batchStrings(toUnlisten, listenBatchSize) {
		if err := s.sendListenRequest(conn, "UNLISTEN", batch, token); err != nil {
			return err
		}
		s.mu.Lock()
		for _, t := range batch {
			if s.topics[t] == topicRemoving {
				delete(s.topics, t)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

func (s *Socket) sendListenRequest(conn *websocket.Conn, typ string, topics []string, token string) error {
	env := listenEnvelope{
		Type:  typ,
		Nonce: createNonce(),
		Data: listenData{
			Topics:    topics,
			AuthToken: token,
		},
	}
	return s.writeJSON(conn, env)
}

func (s *Socket) writeJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (s *Socket) sendClose(conn *websocket.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func batchStrings(items []string, size int) [][]string {
	if len(items) == 0 {
		return nil
	}
	var batches [][]string
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}
	return batches
}
