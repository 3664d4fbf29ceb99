package broker

import (
	"github.com/littlebaby/bro/internal/data"
	"github.com/littlebaby/bro/internal/store"
	"github.com/littlebaby/bro/internal/topic"
)

// Value is the broker's structured datum, re-exported so embedders
// build payloads without importing internal packages.
type Value = data.Value

// Expiry attaches an eviction policy to a store entry.
type Expiry = store.Expiry

// Class selects a routing table when subscribing.
type Class = topic.Class

const (
	ClassPrint = topic.ClassPrint
	ClassEvent = topic.ClassEvent
	ClassLog   = topic.ClassLog
)

// LogTopicPrefix is the reserved topic space for the log pipeline;
// Log(stream, record) publishes under LogTopicPrefix + stream.
const LogTopicPrefix = "bro/logs/"
