package peer

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/littlebaby/bro/internal/metrics"
)

const (
	dialRetryMin = 500 * time.Millisecond
	dialRetryMax = 8 * time.Second
)

var errSelfPeering = errors.New("refusing session with own node id")

// Handler receives session lifecycle notifications and inbound
// envelopes. Calls arrive from session goroutines; the implementation
// serializes its own state.
type Handler interface {
	PeerConnected(node, name string, subs []SubEntry)
	PeerDisconnected(node, name string)
	EnvelopeReceived(node string, env *Envelope)
	LocalSubscriptions() []SubEntry
}

// Manager owns every session of one endpoint, its listeners, and its
// outbound dialers.
type Manager struct {
	node    string
	name    string
	handler Handler
	logger  *slog.Logger

	mu        sync.Mutex
	closed    bool
	sessions  map[string]*Session
	listeners []net.Listener
	wsServers []*http.Server

	// ctx is cancelled by Close so dialers abort in-flight dials and
	// backoff waits instead of stalling the shutdown
	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

func NewManager(node, name string, handler Handler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		node:     node,
		name:     name,
		handler:  handler,
		logger:   logger,
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Listen accepts TCP peers on addr.
func (m *Manager) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		lis.Close()
		return errors.New("manager closed")
	}
	m.listeners = append(m.listeners, lis)
	m.mu.Unlock()

	m.logger.Info("listening for peers", "addr", lis.Addr().String())
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			c, err := lis.Accept()
			if err != nil {
				return
			}
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.runSession(newTCPConn(c))
			}()
		}
	}()
	return nil
}

// ListenAddr reports the first TCP listener's bound address, useful
// when listening on port 0.
func (m *Manager) ListenAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.listeners) == 0 {
		return ""
	}
	return m.listeners[0].Addr().String()
}

// ListenWebSocket accepts WebSocket peers on addr; the same envelope
// protocol rides binary messages.
func (m *Manager) ListenWebSocket(addr string) error {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			m.logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.runSession(newWSConn(c))
		}()
	})

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		lis.Close()
		return errors.New("manager closed")
	}
	m.wsServers = append(m.wsServers, srv)
	m.mu.Unlock()

	m.logger.Info("listening for websocket peers", "addr", lis.Addr().String())
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := srv.Serve(lis); err != http.ErrServerClosed {
			m.logger.Error("websocket listener error", "error", err)
		}
	}()
	return nil
}

// Connect dials addr and keeps a session alive, redialing with backoff
// after every disconnect. Each successful dial is a brand new session.
func (m *Manager) Connect(addr string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		backoff := dialRetryMin
		d := net.Dialer{Timeout: 10 * time.Second}
		for {
			if m.isClosed() {
				return
			}
			c, err := d.DialContext(m.ctx, "tcp", addr)
			if err == nil {
				backoff = dialRetryMin
				m.runSession(newTCPConn(c))
			} else {
				m.logger.Debug("peer dial failed", "addr", addr, "error", err)
			}
			if !m.sleepBackoff(backoff) {
				return
			}
			if backoff < dialRetryMax {
				backoff *= 2
			}
		}
	}()
}

// ConnectWebSocket dials a ws:// or wss:// URL and keeps the session
// alive the same way Connect does for TCP.
func (m *Manager) ConnectWebSocket(url string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		backoff := dialRetryMin
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		for {
			if m.isClosed() {
				return
			}
			c, _, err := dialer.DialContext(m.ctx, url, nil)
			if err == nil {
				backoff = dialRetryMin
				m.runSession(newWSConn(c))
			} else {
				m.logger.Debug("websocket dial failed", "url", url, "error", err)
			}
			if !m.sleepBackoff(backoff) {
				return
			}
			if backoff < dialRetryMax {
				backoff *= 2
			}
		}
	}()
}

// Send delivers env to the named peer, preserving order on that peer's
// session. Returns false when the peer has no established session;
// fire-and-forget sends are silently dropped then.
func (m *Manager) Send(node string, env *Envelope, class string) bool {
	frame, err := EncodeEnvelope(env)
	if err != nil {
		m.logger.Error("encode envelope failed", "error", err)
		return false
	}
	return m.SendFrame(node, frame, class)
}

// SendFrame is Send for a pre-encoded envelope, letting fanout encode
// once.
func (m *Manager) SendFrame(node string, frame []byte, class string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[node]
	m.mu.Unlock()
	if !ok {
		metrics.MessagesDropped.WithLabelValues(class).Inc()
		return false
	}
	return sess.send(frame, class)
}

// Peers lists the node ids with established sessions.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for node := range m.sessions {
		out = append(out, node)
	}
	return out
}

// Close tears down listeners and sessions and waits for their
// goroutines.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.cancel()
	listeners := m.listeners
	servers := m.wsServers
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, lis := range listeners {
		lis.Close()
	}
	for _, srv := range servers {
		srv.Close()
	}
	for _, s := range sessions {
		s.teardown()
	}
	m.wg.Wait()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// sleepBackoff waits out one retry interval, returning false when the
// manager closed in the meantime.
func (m *Manager) sleepBackoff(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-m.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// runSession performs the hello handshake and then pumps inbound
// envelopes until the connection drops. Inbound traffic is only
// dispatched once the session is established; anything a misbehaving
// peer sends before its hello terminates the session instead.
func (m *Manager) runSession(conn Conn) {
	sess := newSession(conn)

	hello := &Envelope{Kind: KindHello, Hello: &Hello{
		Node: m.node,
		Name: m.name,
		Subs: m.handler.LocalSubscriptions(),
	}}
	frame, err := EncodeEnvelope(hello)
	if err != nil {
		conn.Close()
		return
	}
	if err := conn.WriteFrame(frame); err != nil {
		conn.Close()
		return
	}

	remote, err := m.readHello(conn)
	if err != nil {
		m.logger.Debug("handshake failed", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	if _, dup := m.sessions[remote.Node]; dup {
		m.mu.Unlock()
		m.logger.Debug("duplicate session refused", "peer", remote.Node)
		conn.Close()
		return
	}
	m.sessions[remote.Node] = sess
	m.mu.Unlock()

	sess.establish(remote.Node, remote.Name)
	metrics.PeersEstablished.Inc()
	m.logger.Info("peer established", "peer", remote.Node, "name", remote.Name, "remote", conn.RemoteAddr())
	m.handler.PeerConnected(remote.Node, remote.Name, remote.Subs)

	go sess.writeLoop()

	for {
		buf, err := conn.ReadFrame()
		if err != nil {
			break
		}
		env, err := DecodeEnvelope(buf)
		if err != nil {
			m.logger.Warn("bad envelope from peer", "peer", remote.Node, "error", err)
			break
		}
		metrics.MessagesTotal.WithLabelValues("received", classLabel(env)).Inc()
		m.handler.EnvelopeReceived(remote.Node, env)
	}

	sess.teardown()
	m.mu.Lock()
	if m.sessions[remote.Node] == sess {
		delete(m.sessions, remote.Node)
	}
	m.mu.Unlock()
	metrics.PeersEstablished.Dec()
	m.logger.Info("peer lost", "peer", remote.Node, "name", remote.Name)
	m.handler.PeerDisconnected(remote.Node, remote.Name)
}

func (m *Manager) readHello(conn Conn) (*Hello, error) {
	buf, err := conn.ReadFrame()
	if err != nil {
		return nil, err
	}
	env, err := DecodeEnvelope(buf)
	if err != nil {
		return nil, err
	}
	if env.Kind != KindHello || env.Hello == nil {
		return nil, errors.New("expected hello")
	}
	if env.Hello.Node == m.node {
		return nil, errSelfPeering
	}
	return env.Hello, nil
}

func classLabel(env *Envelope) string {
	if env.Kind == KindPublish && env.Pub != nil {
		switch env.Pub.Class {
		case 0:
			return "print"
		case 1:
			return "event"
		case 2:
			return "log"
		case 3:
			return "store"
		}
	}
	return "control"
}
