// Package main implements the Weaver shard server: a process that owns one
// partition of the node table, executes node-program hops addressed to it,
// serves direct graph-mutation requests, and answers the coordinator's
// administrative HTTP calls (registration, health, stats, metrics).
//
// Configuration is loaded by internal/config from an optional YAML file
// (WEAVER_CONFIG_PATH) with WEAVER_* environment overrides, mirroring the
// teacher's NODE_ID/NODE_LISTEN/COORDINATOR_ADDR getenv/mustGetenv pattern
// generalized into one shared loader.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/theseusyang/weaver/internal/cluster"
	"github.com/theseusyang/weaver/internal/config"
	"github.com/theseusyang/weaver/internal/metrics"
	"github.com/theseusyang/weaver/internal/nodeprog"
	"github.com/theseusyang/weaver/internal/shard"
	"github.com/theseusyang/weaver/internal/storage"
	"github.com/theseusyang/weaver/internal/transport"
)

func main() {
	cfg, err := config.Load(os.Getenv("WEAVER_CONFIG_PATH"))
	if err != nil {
		panic(err)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	nodeID := config.MustGetenv("WEAVER_NODE_ID")
	wireAddr := config.MustGetenv("WEAVER_LISTEN")
	wireLoc, err := parseLocation(wireAddr)
	if err != nil {
		log.Fatal("shard: invalid WEAVER_LISTEN", zap.String("addr", wireAddr), zap.Error(err))
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatal("shard: failed to open storage backend", zap.String("backend", cfg.StorageBackend), zap.Error(err))
	}
	defer store.Close()

	registry := nodeprog.NewRegistry()
	nodeprog.RegisterDefaults(registry)

	s := shard.NewShard(cfg.ShardID, true, store, registry)

	reg := prometheus.NewRegistry()
	sink := metrics.NewPromSink(reg)

	tr := transport.NewTCPTransport(wireLoc, cfg.BackpressureHighwater, log)
	locator := &coordinatorLocator{log: log}
	coordLoc, err := parseLocation(cfg.CoordAddr)
	if err != nil {
		log.Fatal("shard: invalid coord_addr", zap.String("addr", cfg.CoordAddr), zap.Error(err))
	}

	srv := shard.NewServer(s, registry, tr, locator, coordLoc, log, sink, cfg.WorkerThreads)

	go func() {
		if err := srv.Serve(); err != nil {
			log.Error("shard: wire server stopped", zap.Error(err))
		}
	}()

	admin := newAdminServer(cfg, s, reg, locator, log)
	go func() {
		log.Info("shard: admin server listening", zap.String("addr", cfg.MetricsAddr))
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("shard: admin server failed", zap.Error(err))
		}
	}()

	registerWithCoordinator(log, cfg, nodeID, wireLoc)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := admin.Shutdown(ctx); err != nil {
		log.Warn("shard: admin server shutdown error", zap.Error(err))
	}
	if err := srv.Close(); err != nil {
		log.Warn("shard: wire server close error", zap.Error(err))
	}
	log.Info("shard: stopped", zap.Int("shard_id", cfg.ShardID))
}

// newLogger builds a *zap.Logger at the requested level, falling back to
// info on an unrecognized or empty level string.
func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func openStore(cfg config.Config) (storage.NodeStore, error) {
	if cfg.StorageBackend == "badger" {
		return storage.OpenBadgerStore(cfg.BadgerDir)
	}
	return storage.NewMemoryStore(), nil
}

// coordinatorLocator resolves peer-shard continuations against a routing
// table the coordinator pushes over PUT /peers whenever shard assignments
// change; a continuation addressed to a shard this process has not yet
// been told about is reported as an error rather than silently dropped.
type coordinatorLocator struct {
	log  *zap.Logger
	mu   sync.RWMutex
	locs map[int]transport.Location
}

func (l *coordinatorLocator) Location(shardID int) (transport.Location, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	loc, ok := l.locs[shardID]
	if !ok {
		return transport.Location{}, fmt.Errorf("shard: no known location for shard %d", shardID)
	}
	return loc, nil
}

func (l *coordinatorLocator) setPeers(locs map[int]transport.Location) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locs = locs
}

func parseLocation(addr string) (transport.Location, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return transport.Location{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return transport.Location{}, fmt.Errorf("shard: invalid port in %q: %w", addr, err)
	}
	return transport.Location{Host: host, Port: port}, nil
}

// registerWithCoordinator posts this shard's identity to the coordinator's
// HTTP admin surface, retrying with a fixed backoff to ride out a
// coordinator that has not finished starting yet — the same retry shape
// the teacher's cmd/node register function uses, generalized from a flat
// node-address payload to one carrying this process's shard id and wire
// location.
func registerWithCoordinator(log *zap.Logger, cfg config.Config, nodeID string, wireLoc transport.Location) {
	body := cluster.RegisterRequest{Node: cluster.NodeInfo{
		ID:       nodeID,
		Addr:     cfg.MetricsAddr,
		ShardID:  cfg.ShardID,
		WireHost: wireLoc.Host,
		WirePort: wireLoc.Port,
	}}
	ctx := context.Background()
	url := "http://" + cfg.CoordAddr + "/register"
	var lastErr error
	for i := 0; i < 10; i++ {
		lastErr = cluster.PostJSON(ctx, url, body, nil)
		if lastErr == nil {
			log.Info("shard: registered with coordinator", zap.String("coord", cfg.CoordAddr), zap.Int("shard_id", cfg.ShardID))
			return
		}
		log.Warn("shard: register retry", zap.Int("attempt", i+1), zap.Error(lastErr))
		time.Sleep(400 * time.Millisecond)
	}
	log.Fatal("shard: failed to register with coordinator", zap.Error(lastErr))
}

// peerUpdate is the body of PUT /peers: the coordinator's current view of
// every shard's wire location, pushed whenever shard_registry.go's
// assignments change so this process's locator stays current without
// polling.
type peerUpdate struct {
	Peers map[int]struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"peers"`
}

// newAdminServer builds the shard's HTTP surface: /health for the
// coordinator's HealthMonitor, /stats and /info for operational counters,
// /peers for routing-table pushes, and /metrics for Prometheus scraping,
// routed with gorilla/mux in place of the teacher's manual http.ServeMux
// path-prefix switch.
func newAdminServer(cfg config.Config, s *shard.Shard, reg *prometheus.Registry, locator *coordinatorLocator, log *zap.Logger) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	r.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		stats := s.GetStats()
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			log.Warn("shard: failed to encode stats", zap.Error(err))
		}
	}).Methods(http.MethodGet)

	r.HandleFunc("/info", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.Info()); err != nil {
			log.Warn("shard: failed to encode info", zap.Error(err))
		}
	}).Methods(http.MethodGet)

	r.HandleFunc("/peers", func(w http.ResponseWriter, r *http.Request) {
		var body peerUpdate
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		locs := make(map[int]transport.Location, len(body.Peers))
		for shardID, p := range body.Peers {
			locs[shardID] = transport.Location{Host: p.Host, Port: p.Port}
		}
		locator.setPeers(locs)
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPut)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
