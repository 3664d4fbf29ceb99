// Package topic implements prefix-based subscription routing for the
// broker's message classes.
package topic

import "strings"

// Class separates the routing tables for the message kinds a
// subscriber can register interest in. Store delta traffic rides its
// own class so store sync never reaches print/event/log handlers.
type Class uint8

const (
	ClassPrint Class = iota
	ClassEvent
	ClassLog
	ClassStore
)

func (c Class) String() string {
	switch c {
	case ClassPrint:
		return "print"
	case ClassEvent:
		return "event"
	case ClassLog:
		return "log"
	case ClassStore:
		return "store"
	default:
		return "unknown"
	}
}

// SubID identifies a subscriber: a peer's node id, or the endpoint's
// local handler id.
type SubID string

// Router holds per-class prefix subscription tables. It is not
// goroutine safe; the owning endpoint serializes access on its run
// loop.
type Router struct {
	subs map[Class]map[string]map[SubID]struct{}
}

func NewRouter() *Router {
	return &Router{subs: make(map[Class]map[string]map[SubID]struct{})}
}

// Subscribe registers (sub, class, prefix). Registration is
// idempotent: it returns true only when the exact tuple is new.
func (r *Router) Subscribe(sub SubID, class Class, prefix string) bool {
	byPrefix, ok := r.subs[class]
	if !ok {
		byPrefix = make(map[string]map[SubID]struct{})
		r.subs[class] = byPrefix
	}
	set, ok := byPrefix[prefix]
	if !ok {
		set = make(map[SubID]struct{})
		byPrefix[prefix] = set
	}
	if _, exists := set[sub]; exists {
		return false
	}
	set[sub] = struct{}{}
	return true
}

// Unsubscribe removes (sub, class, prefix), returning true only when a
// matching tuple existed.
func (r *Router) Unsubscribe(sub SubID, class Class, prefix string) bool {
	byPrefix, ok := r.subs[class]
	if !ok {
		return false
	}
	set, ok := byPrefix[prefix]
	if !ok {
		return false
	}
	if _, exists := set[sub]; !exists {
		return false
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(byPrefix, prefix)
	}
	return true
}

// RemoveAll drops every subscription held by sub across all classes,
// used when a peer session disconnects.
func (r *Router) RemoveAll(sub SubID) {
	for _, byPrefix := range r.subs {
		for prefix, set := range byPrefix {
			delete(set, sub)
			if len(set) == 0 {
				delete(byPrefix, prefix)
			}
		}
	}
}

// Route returns every subscriber holding a prefix of topic for the
// given class, each at most once. Order carries no meaning.
func (r *Router) Route(class Class, topic string) []SubID {
	byPrefix, ok := r.subs[class]
	if !ok {
		return nil
	}
	seen := make(map[SubID]struct{})
	var out []SubID
	for prefix, set := range byPrefix {
		if !strings.HasPrefix(topic, prefix) {
			continue
		}
		for sub := range set {
			if _, dup := seen[sub]; dup {
				continue
			}
			seen[sub] = struct{}{}
			out = append(out, sub)
		}
	}
	return out
}

// Prefixes lists sub's registered prefixes for a class, for the
// handshake advertisement.
func (r *Router) Prefixes(sub SubID, class Class) []string {
	var out []string
	for prefix, set := range r.subs[class] {
		if _, ok := set[sub]; ok {
			out = append(out, prefix)
		}
	}
	return out
}
