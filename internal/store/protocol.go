package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/littlebaby/bro/internal/data"
)

// TopicPrefix is the reserved topic namespace store traffic rides on;
// a store's messages use TopicPrefix + id.
const TopicPrefix = "bro/store/"

// Topic returns the reserved topic for a store id.
func Topic(id string) string { return TopicPrefix + id }

type MsgType uint8

const (
	MsgDelta MsgType = iota + 1
	MsgSnapshotRequest
	MsgSnapshot
	MsgOpRequest
	MsgOpResponse
)

type DeltaOp uint8

const (
	DeltaInsert DeltaOp = iota + 1
	DeltaErase
	DeltaClear
)

// Delta is one replicated state change. Masters normalize every
// mutation (increments, set ops, pushes) into inserts of the resulting
// value, so clones apply deltas without re-running the operation.
type Delta struct {
	Op     DeltaOp    `cbor:"o"`
	Key    data.Value `cbor:"k"`
	Val    data.Value `cbor:"v"`
	Expiry *Expiry    `cbor:"e,omitempty"`
}

type OpCode uint8

const (
	OpInsert OpCode = iota + 1
	OpErase
	OpClear
	OpIncrement
	OpDecrement
	OpAddToSet
	OpRemoveFromSet
	OpPushLeft
	OpPushRight
	OpLookup
	OpExists
	OpKeys
	OpSize
	OpPopLeft
	OpPopRight
)

func (c OpCode) String() string {
	switch c {
	case OpInsert:
		return "insert"
	case OpErase:
		return "erase"
	case OpClear:
		return "clear"
	case OpIncrement:
		return "increment"
	case OpDecrement:
		return "decrement"
	case OpAddToSet:
		return "add_to_set"
	case OpRemoveFromSet:
		return "remove_from_set"
	case OpPushLeft:
		return "push_left"
	case OpPushRight:
		return "push_right"
	case OpLookup:
		return "lookup"
	case OpExists:
		return "exists"
	case OpKeys:
		return "keys"
	case OpSize:
		return "size"
	case OpPopLeft:
		return "pop_left"
	case OpPopRight:
		return "pop_right"
	default:
		return fmt.Sprintf("op(%d)", uint8(c))
	}
}

// Mutating reports whether the operation changes store state. The pop
// queries mutate their target vector as a side effect.
func (c OpCode) Mutating() bool {
	switch c {
	case OpLookup, OpExists, OpKeys, OpSize:
		return false
	default:
		return true
	}
}

// OpRequest carries a forwarded operation from a frontend (or a
// forwarding clone) to the master.
type OpRequest struct {
	Code   OpCode       `cbor:"c"`
	Key    data.Value   `cbor:"k"`
	Val    data.Value   `cbor:"v"`
	Items  []data.Value `cbor:"i,omitempty"`
	Expiry *Expiry      `cbor:"e,omitempty"`
}

type OpStatus uint8

const (
	OpOK OpStatus = iota + 1
	OpNoSuchKey
	OpFailed
)

// OpResult is the master's answer to a forwarded query.
type OpResult struct {
	Status OpStatus   `cbor:"s"`
	Value  data.Value `cbor:"v"`
	Error  string     `cbor:"e,omitempty"`
}

// SnapEntry is one entry of a full-state snapshot.
type SnapEntry struct {
	Key    data.Value `cbor:"k"`
	Val    data.Value `cbor:"v"`
	Expiry *Expiry    `cbor:"e,omitempty"`
}

// Message is the store-class payload exchanged on a store's topic.
// Origin names the sending node; Target, when set, addresses one node
// and everyone else drops the message.
type Message struct {
	Type    MsgType     `cbor:"t"`
	Store   string      `cbor:"s"`
	Origin  string      `cbor:"o,omitempty"`
	Target  string      `cbor:"g,omitempty"`
	Seq     uint64      `cbor:"q,omitempty"`
	Deltas  []Delta     `cbor:"d,omitempty"`
	Entries []SnapEntry `cbor:"n,omitempty"`
	QueryID uint64      `cbor:"y,omitempty"`
	Op      *OpRequest  `cbor:"p,omitempty"`
	Result  *OpResult   `cbor:"r,omitempty"`
}

func EncodeMessage(m *Message) ([]byte, error) {
	return cbor.Marshal(m)
}

func DecodeMessage(b []byte) (*Message, error) {
	m := &Message{}
	if err := cbor.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("decode store message: %w", err)
	}
	return m, nil
}
