package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PeersEstablished = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bro",
		Subsystem: "peer",
		Name:      "established",
		Help:      "Number of peer sessions currently established",
	})

	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bro",
		Subsystem: "peer",
		Name:      "messages_total",
		Help:      "Messages sent/received by class",
	}, []string{"direction", "class"})

	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bro",
		Subsystem: "peer",
		Name:      "messages_dropped_total",
		Help:      "Messages dropped because the peer session was not established",
	}, []string{"class"})

	StoreOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bro",
		Subsystem: "store",
		Name:      "ops_total",
		Help:      "Store mutations and queries by operation",
	}, []string{"op"})

	StoreEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bro",
		Subsystem: "store",
		Name:      "entries",
		Help:      "Entries held per store",
	}, []string{"store"})

	StoreDeltasTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bro",
		Subsystem: "store",
		Name:      "deltas_total",
		Help:      "Replication deltas broadcast/applied per store",
	}, []string{"store", "direction"})

	StoreExpirations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bro",
		Subsystem: "store",
		Name:      "expirations_total",
		Help:      "Entries evicted by the expiration manager",
	}, []string{"store"})

	QueriesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bro",
		Subsystem: "query",
		Name:      "resolved_total",
		Help:      "Query resolutions by outcome",
	}, []string{"status"})
)
