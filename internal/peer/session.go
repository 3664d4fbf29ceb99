package peer

import (
	"sync"

	"github.com/littlebaby/bro/internal/metrics"
)

type State uint8

const (
	Connecting State = iota
	Established
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Established:
		return "established"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// sendQueueSize bounds the per-session outbound queue. Fire-and-forget
// semantics allow dropping when a slow peer falls behind.
const sendQueueSize = 256

// Session is one live connection to a remote endpoint. A session that
// disconnects is never resumed; reconnecting produces a fresh one.
type Session struct {
	node string
	name string
	conn Conn

	mu    sync.Mutex
	state State

	out      chan []byte
	done     chan struct{}
	downOnce sync.Once
}

func newSession(conn Conn) *Session {
	return &Session{
		conn:  conn,
		state: Connecting,
		out:   make(chan []byte, sendQueueSize),
		done:  make(chan struct{}),
	}
}

// Node returns the remote node id learned from the hello.
func (s *Session) Node() string { return s.node }

// Name returns the remote endpoint's advertised name.
func (s *Session) Name() string { return s.name }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) establish(node, name string) {
	s.mu.Lock()
	s.node = node
	s.name = name
	s.state = Established
	s.mu.Unlock()
}

// send enqueues a frame for ordered delivery. Frames are dropped when
// the session is not established or the queue is full.
func (s *Session) send(frame []byte, class string) bool {
	s.mu.Lock()
	established := s.state == Established
	s.mu.Unlock()
	if !established {
		metrics.MessagesDropped.WithLabelValues(class).Inc()
		return false
	}
	select {
	case s.out <- frame:
		metrics.MessagesTotal.WithLabelValues("sent", class).Inc()
		return true
	default:
		metrics.MessagesDropped.WithLabelValues(class).Inc()
		return false
	}
}

// writeLoop drains the queue onto the connection, preserving send
// order on this peer's channel.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.out:
			if err := s.conn.WriteFrame(frame); err != nil {
				s.teardown()
				return
			}
		}
	}
}

// teardown moves the session to Disconnected exactly once and closes
// the connection; the manager notices via the reader's error return.
func (s *Session) teardown() {
	s.downOnce.Do(func() {
		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
		close(s.done)
		s.conn.Close()
	})
}
