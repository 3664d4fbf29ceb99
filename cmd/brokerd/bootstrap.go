package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/littlebaby/bro/broker"
	"github.com/littlebaby/bro/internal/configuration"
	"github.com/littlebaby/bro/internal/metrics"
)

// cloneResyncInterval paces snapshot re-requests for configured
// clones.
const cloneResyncInterval = time.Second

type Services struct {
	Endpoint *broker.Endpoint
	Metrics  *metrics.Server
	stores   []*broker.Store
}

// NewServices wires the daemon from its configuration: one endpoint,
// its listeners and static peerings, the configured stores, and the
// metrics server.
func NewServices(cfg *configuration.Config, logger *slog.Logger) (*Services, error) {
	endpoint := broker.NewEndpoint(
		broker.WithName(cfg.Endpoint.Name),
		broker.WithLogger(logger),
	)

	svc := &Services{Endpoint: endpoint}

	if cfg.Endpoint.Listen != "" {
		if err := endpoint.Listen(cfg.Endpoint.Listen); err != nil {
			endpoint.Close()
			return nil, fmt.Errorf("listen %s: %w", cfg.Endpoint.Listen, err)
		}
	}
	if cfg.Endpoint.ListenWebSocket != "" {
		if err := endpoint.ListenWebSocket(cfg.Endpoint.ListenWebSocket); err != nil {
			endpoint.Close()
			return nil, fmt.Errorf("listen websocket %s: %w", cfg.Endpoint.ListenWebSocket, err)
		}
	}

	for _, sc := range cfg.Stores {
		store, err := openStore(endpoint, sc)
		if err != nil {
			svc.Stop()
			return nil, fmt.Errorf("store %q: %w", sc.Name, err)
		}
		svc.stores = append(svc.stores, store)
	}

	for _, addr := range cfg.Endpoint.Peers {
		endpoint.Peer(addr)
	}
	for _, url := range cfg.Endpoint.WebSocketPeers {
		endpoint.PeerWebSocket(url)
	}

	if cfg.Metrics.Address != "" {
		svc.Metrics = metrics.NewServer(cfg.Metrics.Address)
		svc.Metrics.Start()
	}

	return svc, nil
}

func openStore(endpoint *broker.Endpoint, sc configuration.StoreConfigProperties) (*broker.Store, error) {
	opts := broker.Options{}
	if sc.Path != "" {
		opts["path"] = sc.Path
	}
	if sc.Journal != "" {
		opts["journal"] = sc.Journal
	}

	switch strings.ToLower(sc.Role) {
	case "master", "":
		kind, err := backendKind(sc.Backend)
		if err != nil {
			return nil, err
		}
		return endpoint.CreateMaster(sc.Name, kind, opts)
	case "clone":
		kind, err := backendKind(sc.Backend)
		if err != nil {
			return nil, err
		}
		return endpoint.CreateClone(sc.Name, kind, opts, cloneResyncInterval)
	case "frontend":
		return endpoint.CreateFrontend(sc.Name)
	default:
		return nil, fmt.Errorf("unknown role %q", sc.Role)
	}
}

func backendKind(name string) (broker.BackendKind, error) {
	switch strings.ToLower(name) {
	case "memory", "":
		return broker.BackendMemory, nil
	case "sqlite":
		return broker.BackendSQLite, nil
	case "leveldb":
		return broker.BackendLevelDB, nil
	default:
		return broker.BackendMemory, fmt.Errorf("unknown backend %q", name)
	}
}

func (s *Services) Stop() {
	if s.Metrics != nil {
		s.Metrics.Stop()
	}
	s.Endpoint.Close()
}
