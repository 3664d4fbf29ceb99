// Package peer implements the broker's session layer: connection
// establishment over TCP or WebSocket, the hello handshake, and
// ordered framed delivery of envelopes between endpoints.
package peer

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/littlebaby/bro/internal/data"
)

type MsgKind uint8

const (
	KindHello MsgKind = iota + 1
	KindSubscribe
	KindUnsubscribe
	KindPublish
)

// SubEntry advertises one (class, prefix) subscription.
type SubEntry struct {
	Class  uint8  `cbor:"c"`
	Prefix string `cbor:"p"`
}

// Hello opens every session: it names the sending node and carries its
// current subscription set so routing is correct from the moment the
// session establishes.
type Hello struct {
	Node string     `cbor:"n"`
	Name string     `cbor:"m,omitempty"`
	Subs []SubEntry `cbor:"s,omitempty"`
}

// Publication is one routed message. Exactly one payload group is
// populated, according to Class.
type Publication struct {
	Class  uint8        `cbor:"c"`
	Topic  string       `cbor:"t"`
	Text   string       `cbor:"x,omitempty"` // print
	Event  string       `cbor:"e,omitempty"` // event name
	Args   []data.Value `cbor:"a,omitempty"` // event arguments
	Record data.Value   `cbor:"r"`           // log record
	Store  []byte       `cbor:"d,omitempty"` // encoded store message
}

// Envelope is the unit framed onto a session.
type Envelope struct {
	Kind  MsgKind      `cbor:"k"`
	Hello *Hello       `cbor:"h,omitempty"`
	Sub   *SubEntry    `cbor:"u,omitempty"`
	Pub   *Publication `cbor:"p,omitempty"`
}

func EncodeEnvelope(env *Envelope) ([]byte, error) {
	return cbor.Marshal(env)
}

func DecodeEnvelope(b []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := cbor.Unmarshal(b, env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
