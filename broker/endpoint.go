// Package broker is the embeddable messaging endpoint: topic-routed
// publish/subscribe between peered processes, with replicated
// key-value stores riding the same fabric.
package broker

import (
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/littlebaby/bro/internal/peer"
	"github.com/littlebaby/bro/internal/query"
	"github.com/littlebaby/bro/internal/store"
	"github.com/littlebaby/bro/internal/topic"
)

// localSub marks this endpoint's own subscriptions in the router;
// remote peers appear under their node ids.
const localSub topic.SubID = "local"

// Option configures an Endpoint at construction.
type Option func(*Endpoint)

// WithName sets the advertised endpoint name exchanged in handshakes.
func WithName(name string) Option {
	return func(e *Endpoint) { e.name = name }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Endpoint) { e.logger = logger }
}

// WithClock injects a mockable clock for query deadlines, expiry and
// resync timers.
func WithClock(clk clock.Clock) Option {
	return func(e *Endpoint) { e.clk = clk }
}

// Endpoint is one node on the fabric. Its node id is fresh per
// construction; identity does not survive restarts.
type Endpoint struct {
	node   string
	name   string
	logger *slog.Logger
	clk    clock.Clock

	mgr   *peer.Manager
	sched *query.Scheduler
	reg   *store.Registry

	mu            sync.Mutex
	closed        bool
	router        *topic.Router
	peerNames     map[string]string
	printHandlers []PrintHandler
	eventHandlers []EventHandler
	logHandlers   []LogHandler
	autoEvents    map[string]string
}

type (
	PrintHandler func(topic, text string)
	EventHandler func(topic, name string, args []Value)
	LogHandler   func(topic string, record Value)
)

func NewEndpoint(opts ...Option) *Endpoint {
	e := &Endpoint{
		node:       uuid.NewString(),
		clk:        clock.New(),
		router:     topic.NewRouter(),
		peerNames:  make(map[string]string),
		autoEvents: make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.name == "" {
		e.name = e.node[:8]
	}

	e.sched = query.NewScheduler(e.clk)
	e.reg = store.NewRegistry(e.node, e, e.sched, e.clk, e.logger)
	e.mgr = peer.NewManager(e.node, e.name, e, e.logger)

	// store traffic always routes back to the local registry
	e.router.Subscribe(localSub, topic.ClassStore, store.TopicPrefix)
	return e
}

// Node returns the endpoint's node id, unique per construction.
func (e *Endpoint) Node() string { return e.node }

// Name returns the advertised endpoint name.
func (e *Endpoint) Name() string { return e.name }

// Listen accepts TCP peerings on addr.
func (e *Endpoint) Listen(addr string) error {
	return e.mgr.Listen(addr)
}

// ListenAddr reports the bound TCP listen address.
func (e *Endpoint) ListenAddr() string {
	return e.mgr.ListenAddr()
}

// ListenWebSocket accepts WebSocket peerings on addr.
func (e *Endpoint) ListenWebSocket(addr string) error {
	return e.mgr.ListenWebSocket(addr)
}

// Peer dials addr and keeps the peering alive across disconnects.
func (e *Endpoint) Peer(addr string) {
	e.mgr.Connect(addr)
}

// PeerWebSocket dials a ws:// URL the same way Peer dials TCP.
func (e *Endpoint) PeerWebSocket(url string) {
	e.mgr.ConnectWebSocket(url)
}

// Peers lists established peers as node id -> advertised name.
func (e *Endpoint) Peers() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.peerNames))
	for node, name := range e.peerNames {
		out[node] = name
	}
	return out
}

// Close tears down stores, sessions and listeners. Pending store
// queries resolve with store-closed.
func (e *Endpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.reg.CloseAll()
	e.mgr.Close()
	e.logger.Info("endpoint closed", "node", e.node)
}

// PeerConnected implements peer.Handler: seed the router with the
// remote's advertised subscriptions.
func (e *Endpoint) PeerConnected(node, name string, subs []peer.SubEntry) {
	e.mu.Lock()
	e.peerNames[node] = name
	for _, s := range subs {
		e.router.Subscribe(topic.SubID(node), topic.Class(s.Class), s.Prefix)
	}
	e.mu.Unlock()
}

// PeerDisconnected implements peer.Handler: drop every route toward
// the lost peer.
func (e *Endpoint) PeerDisconnected(node, name string) {
	e.mu.Lock()
	delete(e.peerNames, node)
	e.router.RemoveAll(topic.SubID(node))
	e.mu.Unlock()
}

// EnvelopeReceived implements peer.Handler.
func (e *Endpoint) EnvelopeReceived(node string, env *peer.Envelope) {
	switch env.Kind {
	case peer.KindSubscribe:
		if env.Sub != nil {
			e.mu.Lock()
			e.router.Subscribe(topic.SubID(node), topic.Class(env.Sub.Class), env.Sub.Prefix)
			e.mu.Unlock()
		}
	case peer.KindUnsubscribe:
		if env.Sub != nil {
			e.mu.Lock()
			e.router.Unsubscribe(topic.SubID(node), topic.Class(env.Sub.Class), env.Sub.Prefix)
			e.mu.Unlock()
		}
	case peer.KindPublish:
		if env.Pub != nil {
			e.deliverLocal(env.Pub)
		}
	}
}

// LocalSubscriptions implements peer.Handler: the subscription set
// advertised in our hello.
func (e *Endpoint) LocalSubscriptions() []peer.SubEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []peer.SubEntry
	for _, class := range []topic.Class{topic.ClassPrint, topic.ClassEvent, topic.ClassLog, topic.ClassStore} {
		for _, prefix := range e.router.Prefixes(localSub, class) {
			out = append(out, peer.SubEntry{Class: uint8(class), Prefix: prefix})
		}
	}
	return out
}

// publish routes one publication: matching remote peers get the
// encoded envelope, and a matching local subscription delivers it to
// this endpoint's own handlers. Callers must not hold e.mu or any
// store lock.
func (e *Endpoint) publish(class topic.Class, pub *peer.Publication) {
	e.mu.Lock()
	targets := e.router.Route(class, pub.Topic)
	e.mu.Unlock()

	var frame []byte
	local := false
	for _, sub := range targets {
		if sub == localSub {
			local = true
			continue
		}
		if frame == nil {
			var err error
			frame, err = peer.EncodeEnvelope(&peer.Envelope{Kind: peer.KindPublish, Pub: pub})
			if err != nil {
				e.logger.Error("encode publication failed", "topic", pub.Topic, "error", err)
				return
			}
		}
		e.mgr.SendFrame(string(sub), frame, class.String())
	}
	if local {
		e.deliverLocal(pub)
	}
}

// deliverLocal hands a publication to this endpoint's handlers, or to
// the store registry for store traffic. Handlers run outside e.mu.
func (e *Endpoint) deliverLocal(pub *peer.Publication) {
	class := topic.Class(pub.Class)
	if class == topic.ClassStore {
		msg, err := store.DecodeMessage(pub.Store)
		if err != nil {
			e.logger.Warn("bad store message", "topic", pub.Topic, "error", err)
			return
		}
		e.reg.Dispatch(msg)
		return
	}

	e.mu.Lock()
	matched := false
	for _, sub := range e.router.Route(class, pub.Topic) {
		if sub == localSub {
			matched = true
			break
		}
	}
	var prints []PrintHandler
	var events []EventHandler
	var logs []LogHandler
	if matched {
		prints = e.printHandlers
		events = e.eventHandlers
		logs = e.logHandlers
	}
	e.mu.Unlock()
	if !matched {
		return
	}

	switch class {
	case topic.ClassPrint:
		for _, h := range prints {
			h(pub.Topic, pub.Text)
		}
	case topic.ClassEvent:
		for _, h := range events {
			h(pub.Topic, pub.Event, pub.Args)
		}
	case topic.ClassLog:
		for _, h := range logs {
			h(pub.Topic, pub.Record)
		}
	}
}
