package broker

import (
	"errors"
	"strings"

	"github.com/littlebaby/bro/internal/peer"
	"github.com/littlebaby/bro/internal/topic"
)

var (
	ErrInvalidTopic = errors.New("invalid topic")
	ErrNoAutoEvent  = errors.New("no auto-event registered under that name")
)

func validTopic(t string) bool {
	return t != "" && !strings.ContainsRune(t, 0)
}

// Subscribe registers local interest in a topic prefix of the given
// class and advertises it to every established peer. Returns false
// when the exact (class, prefix) subscription already existed.
func (e *Endpoint) Subscribe(class Class, prefix string) bool {
	e.mu.Lock()
	changed := e.router.Subscribe(localSub, class, prefix)
	e.mu.Unlock()
	if changed {
		e.advertise(peer.KindSubscribe, class, prefix)
	}
	return changed
}

// Unsubscribe withdraws the exact (class, prefix) subscription.
func (e *Endpoint) Unsubscribe(class Class, prefix string) bool {
	e.mu.Lock()
	changed := e.router.Unsubscribe(localSub, class, prefix)
	e.mu.Unlock()
	if changed {
		e.advertise(peer.KindUnsubscribe, class, prefix)
	}
	return changed
}

func (e *Endpoint) advertise(kind peer.MsgKind, class Class, prefix string) {
	env := &peer.Envelope{Kind: kind, Sub: &peer.SubEntry{Class: uint8(class), Prefix: prefix}}
	frame, err := peer.EncodeEnvelope(env)
	if err != nil {
		e.logger.Error("encode subscription failed", "error", err)
		return
	}
	for _, node := range e.mgr.Peers() {
		e.mgr.SendFrame(node, frame, "control")
	}
}

// OnPrint registers a handler for print messages on subscribed topics.
func (e *Endpoint) OnPrint(h PrintHandler) {
	e.mu.Lock()
	e.printHandlers = append(e.printHandlers, h)
	e.mu.Unlock()
}

// OnEvent registers a handler for events on subscribed topics.
func (e *Endpoint) OnEvent(h EventHandler) {
	e.mu.Lock()
	e.eventHandlers = append(e.eventHandlers, h)
	e.mu.Unlock()
}

// OnLog registers a handler for log records on subscribed streams.
func (e *Endpoint) OnLog(h LogHandler) {
	e.mu.Lock()
	e.logHandlers = append(e.logHandlers, h)
	e.mu.Unlock()
}

// Print publishes a text message. Delivery is fire-and-forget: peers
// without a matching subscription, or with a full send queue, miss it.
func (e *Endpoint) Print(topicName, text string) error {
	if !validTopic(topicName) {
		return ErrInvalidTopic
	}
	e.publish(topic.ClassPrint, &peer.Publication{
		Class: uint8(topic.ClassPrint),
		Topic: topicName,
		Text:  text,
	})
	return nil
}

// Event publishes a named event with structured arguments.
func (e *Endpoint) Event(topicName, name string, args ...Value) error {
	if !validTopic(topicName) {
		return ErrInvalidTopic
	}
	e.publish(topic.ClassEvent, &peer.Publication{
		Class: uint8(topic.ClassEvent),
		Topic: topicName,
		Event: name,
		Args:  args,
	})
	return nil
}

// Log publishes a log record on the reserved stream topic space.
func (e *Endpoint) Log(stream string, record Value) error {
	if !validTopic(stream) {
		return ErrInvalidTopic
	}
	e.publish(topic.ClassLog, &peer.Publication{
		Class:  uint8(topic.ClassLog),
		Topic:  LogTopicPrefix + stream,
		Record: record,
	})
	return nil
}

// SubscribeLog is Subscribe for a log stream name instead of a raw
// topic prefix.
func (e *Endpoint) SubscribeLog(stream string) bool {
	return e.Subscribe(topic.ClassLog, LogTopicPrefix+stream)
}

// AutoEvent maps a local event name onto a topic, so Raise publishes
// it without the caller naming the topic each time. Re-registering a
// name replaces its topic.
func (e *Endpoint) AutoEvent(topicName, name string) error {
	if !validTopic(topicName) {
		return ErrInvalidTopic
	}
	e.mu.Lock()
	e.autoEvents[name] = topicName
	e.mu.Unlock()
	return nil
}

// RemoveAutoEvent drops the mapping for name, reporting whether one
// existed.
func (e *Endpoint) RemoveAutoEvent(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.autoEvents[name]; !ok {
		return false
	}
	delete(e.autoEvents, name)
	return true
}

// Raise publishes the event under its auto-event topic.
func (e *Endpoint) Raise(name string, args ...Value) error {
	e.mu.Lock()
	topicName, ok := e.autoEvents[name]
	e.mu.Unlock()
	if !ok {
		return ErrNoAutoEvent
	}
	return e.Event(topicName, name, args...)
}
