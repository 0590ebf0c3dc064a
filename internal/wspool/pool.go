package wspool

import (
	"context"
	"sync"

	dmerrors "github.com/dropsminer/core/internal/errors"
	"github.com/dropsminer/core/internal/logger"
)

// Pool is the PubSub connection pool: it owns topic placement across up to
// MaxWebsockets sockets and keeps the placement compact (spec.md §4.7).
// Pool is the single source of truth for which topic lives on which
// socket; Socket merely executes whatever LISTEN/UNLISTEN the pool hands
// it.
type Pool struct {
	mu       sync.Mutex
	sockets  []*Socket
	assigned map[string]*Socket
	auth     AuthSource
	dispatch Handler
	dialer   Dialer

	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	nextID  int
}

// New builds an empty pool. dispatch is called for every decoded topic
// message across every socket.
func New(auth AuthSource, dispatch Handler) *Pool {
	return &Pool{
		assigned: make(map[string]*Socket),
		auth:     auth,
		dispatch: dispatch,
		dialer:   gorillaDialer{},
	}
}

// Start begins running any sockets already holding topics, and causes
// future AddTopics calls to start sockets they create.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	for _, s := range p.sockets {
		s.Start(p.ctx)
	}
}

// Stop tears down every socket cooperatively.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	sockets := append([]*Socket(nil), p.sockets...)
	p.running = false
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	for _, s := range sockets {
		s.Stop()
	}
}

// TopicCount reports how many topics the pool currently carries, across
// every socket.
func (p *Pool) TopicCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.assigned)
}

// SocketCount reports how many sockets the pool currently runs.
func (p *Pool) SocketCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sockets)
}

// AddTopics drops duplicates already assigned, fills existing sockets up
// to WSTopicsLimit, and opens new sockets (up to MaxWebsockets) for any
// overflow. Returns ErrPoolFull if topics remain unplaceable (spec.md
// §4.7).
func (p *Pool) AddTopics(topics []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fresh := make([]string, 0, len(topics))
	seen := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := p.assigned[t]; ok {
			continue
		}
		fresh = append(fresh, t)
	}
	if len(fresh) == 0 {
		return nil
	}

	bySocket := make(map[*Socket][]string)
	idx := 0

	for _, sock := range p.sockets {
		room := WSTopicsLimit - p.countLocked(sock)
		for room > 0 && idx < len(fresh) {
			p.assignLocked(sock, fresh[idx])
			bySocket[sock] = append(bySocket[sock], fresh[idx])
			idx++
			room--
		}
		if idx >= len(fresh) {
			break
		}
	}

	for idx < len(fresh) && len(p.sockets) < MaxWebsockets {
		sock := p.newSocketLocked()
		room := WSTopicsLimit
		for room > 0 && idx < len(fresh) {
			p.assignLocked(sock, fresh[idx])
			bySocket[sock] = append(bySocket[sock], fresh[idx])
			idx++
			room--
		}
	}

	for sock, ts := range bySocket {
		sock.AddTopics(ts)
	}

	if idx < len(fresh) {
		return dmerrors.Wrapf(dmerrors.ErrPoolFull, "%d of %d new topics could not be placed", len(fresh)-idx, len(fresh))
	}
	return nil
}

// RemoveTopics removes topics across whichever sockets carry them, then
// compacts the pool: while the remaining topics would fit on one fewer
// connection, the last socket is popped, its topics harvested, stopped,
// and the harvested topics re-placed on the shrunk pool (spec.md §4.7).
func (p *Pool) RemoveTopics(topics []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bySocket := make(map[*Socket][]string)
	for _, t := range topics {
		sock, ok := p.assigned[t]
		if !ok {
			continue
		}
		delete(p.assigned, t)
		bySocket[sock] = append(bySocket[sock], t)
	}
	for sock, ts := range bySocket {
		sock.RemoveTopics(ts)
	}

	p.compactLocked()
}

func (p *Pool) compactLocked() {
	for len(p.sockets) > 1 {
		capacityOneFewer := (len(p.sockets) - 1) * WSTopicsLimit
		if len(p.assigned) > capacityOneFewer {
			break
		}

		last := p.sockets[len(p.sockets)-1]
		p.sockets = p.sockets[:len(p.sockets)-1]

		harvested := p.topicsOfLocked(last)
		for _, t := range harvested {
			delete(p.assigned, t)
		}
		last.Stop()

		bySocket := make(map[*Socket][]string)
		idx := 0
		for idx < len(harvested) {
			placedAny := false
			for _, sock := range p.sockets {
				room := WSTopicsLimit - p.countLocked(sock)
				for room > 0 && idx < len(harvested) {
					p.assignLocked(sock, harvested[idx])
					bySocket[sock] = append(bySocket[sock], harvested[idx])
					idx++
					room--
					placedAny = true
				}
			}
			if !placedAny {
				logger.Errorw("wspool: compaction could not replace all harvested topics",
					"remaining", len(harvested)-idx)
				break
			}
		}
		for sock, ts := range bySocket {
			sock.AddTopics(ts)
		}
	}
}

func (p *Pool) newSocketLocked() *Socket {
	id := p.nextID
	p.nextID++
	sock := newSocket(id, p.dialer, p.auth, p.dispatch)
	p.sockets = append(p.sockets, sock)
	if p.running {
		sock.Start(p.ctx)
	}
	return sock
}

func (p *Pool) assignLocked(sock *Socket, topic string) {
	p.assigned[topic] = sock
}

func (p *Pool) countLocked(sock *Socket) int {
	n := 0
	for _, s := range p.assigned {
		if s == sock {
			n++
		}
	}
	return n
}

func (p *Pool) topicsOfLocked(sock *Socket) []string {
	topics := make([]string, 0)
	for t, s := range p.assigned {
		if s == sock {
			topics = append(topics, t)
		}
	}
	return topics
}
