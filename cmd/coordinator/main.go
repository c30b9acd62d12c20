// Package main implements the Weaver coordinator: the process that assigns
// request ids and vector clocks, splits a client's starting nodes across the
// shards that own them, tracks shard-to-node assignment and node health,
// relays final replies, and implements cancellation and timeout.
//
// Alongside the wire-facing coordinator.Coordinator, this binary runs an
// HTTP admin surface — registration, node/shard listing, manual shard
// assignment, health, and metrics — generalized from the teacher's
// ServeMux-based /register, /nodes, /shards endpoints onto gorilla/mux, and
// pushes the current shard routing table to every registered node whenever
// it changes so shard servers never have to poll for it.
package main

import (
	"bytes"
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
	"github.com/theseusyang/weaver/internal/coordinator"
	"github.com/theseusyang/weaver/internal/metrics"
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

	wireLoc, err := parseLocation(cfg.ListenAddr)
	if err != nil {
		log.Fatal("coordinator: invalid listen_addr", zap.String("addr", cfg.ListenAddr), zap.Error(err))
	}

	shardRegistry := coordinator.NewShardRegistry(cfg.NumShards)

	reg := prometheus.NewRegistry()
	sink := metrics.NewPromSink(reg)

	tr := transport.NewTCPTransport(wireLoc, cfg.BackpressureHighwater, log)
	timeout := time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	coord := coordinator.NewCoordinator(shardRegistry, tr, timeout, log, sink)

	nodes := newNodeDirectory()
	monitor := coordinator.NewHealthMonitor(5*time.Second, log)
	monitor.SetOnUnhealthy(func(nodeID string) {
		log.Warn("coordinator: node marked unhealthy", zap.String("node_id", nodeID))
		nodes.remove(nodeID)
		coord.UnregisterNode(nodeID)
	})

	ctx, cancelMonitor := context.WithCancel(context.Background())
	go monitor.Start(ctx, nodes.snapshot)
	defer cancelMonitor()

	go func() {
		if err := coord.Serve(); err != nil {
			log.Error("coordinator: wire server stopped", zap.Error(err))
		}
	}()

	admin := newAdminServer(cfg, shardRegistry, coord, nodes, reg, log)
	go func() {
		log.Info("coordinator: admin server listening", zap.String("addr", cfg.MetricsAddr))
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("coordinator: admin server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	monitor.Stop()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		log.Warn("coordinator: admin server shutdown error", zap.Error(err))
	}
	if err := coord.Close(); err != nil {
		log.Warn("coordinator: wire server close error", zap.Error(err))
	}
	log.Info("coordinator: stopped")
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

func parseLocation(addr string) (transport.Location, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return transport.Location{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return transport.Location{}, fmt.Errorf("coordinator: invalid port in %q: %w", addr, err)
	}
	return transport.Location{Host: host, Port: port}, nil
}

// nodeDirectory tracks every currently registered node (the health monitor's
// unhealthy callback removes failed ones) — the source of
// truth HealthMonitor.Start's nodeProvider polls and /nodes lists from.
// Separate from Coordinator's own internal node-location table: this
// directory holds the full cluster.NodeInfo (HTTP admin address, shard id,
// wire location) while Coordinator only needs the wire transport.Location.
type nodeDirectory struct {
	mu    sync.RWMutex
	nodes map[string]cluster.NodeInfo
}

func newNodeDirectory() *nodeDirectory {
	return &nodeDirectory{nodes: make(map[string]cluster.NodeInfo)}
}

func (d *nodeDirectory) put(n cluster.NodeInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[n.ID] = n
}

func (d *nodeDirectory) remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.nodes, id)
}

func (d *nodeDirectory) get(id string) (cluster.NodeInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[id]
	return n, ok
}

func (d *nodeDirectory) snapshot() []cluster.NodeInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]cluster.NodeInfo, 0, len(d.nodes))
	for _, n := range d.nodes {
		out = append(out, n)
	}
	return out
}

type peerLocation struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// peerLocations builds the shard-id to wire-location table pushed to every
// node: only shards with both an assignment and a registered node appear.
func (d *nodeDirectory) peerLocations(registry *coordinator.ShardRegistry) map[int]peerLocation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[int]peerLocation)
	for shardID := 0; shardID < registry.NumShards(); shardID++ {
		assignment := registry.GetAssignment(shardID)
		if assignment == nil {
			continue
		}
		if n, ok := d.nodes[assignment.NodeID]; ok {
			out[shardID] = peerLocation{Host: n.WireHost, Port: n.WirePort}
		}
	}
	return out
}

// broadcastPeers pushes the current shard routing table to every registered
// node's admin /peers endpoint, so each shard server's locator learns where
// its peers live without polling. Failures are logged and otherwise
// ignored — a shard that misses an update still has its previous table and
// will pick up the next broadcast.
func broadcastPeers(log *zap.Logger, registry *coordinator.ShardRegistry, nodes *nodeDirectory) {
	peers := nodes.peerLocations(registry)
	body := struct {
		Peers map[int]peerLocation `json:"peers"`
	}{Peers: peers}
	for _, n := range nodes.snapshot() {
		n := n
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := putJSON(ctx, "http://"+n.Addr+"/peers", body); err != nil {
				log.Warn("coordinator: failed to push peer table", zap.String("node_id", n.ID), zap.Error(err))
			}
		}()
	}
}

func putJSON(ctx context.Context, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return nil
}

// newAdminServer builds the coordinator's HTTP surface: /register for node
// onboarding, /nodes and /shards for cluster visibility, /shards/assign for
// manual rebalancing, /health for liveness, and /metrics for Prometheus
// scraping, routed with gorilla/mux in place of the teacher's manual
// http.ServeMux dispatch.
func newAdminServer(cfg config.Config, registry *coordinator.ShardRegistry, coord *coordinator.Coordinator, nodes *nodeDirectory, reg *prometheus.Registry, log *zap.Logger) *http.Server {
	r := mux.NewRouter()

	r.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		var req cluster.RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Node.ID == "" || req.Node.Addr == "" {
			http.Error(w, "missing id/addr", http.StatusBadRequest)
			return
		}

		nodes.put(req.Node)
		if err := registry.AssignShard(req.Node.ShardID, req.Node.ID, true); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		coord.RegisterNode(req.Node.ID, transport.Location{Host: req.Node.WireHost, Port: req.Node.WirePort})

		log.Info("coordinator: node registered",
			zap.String("node_id", req.Node.ID), zap.Int("shard_id", req.Node.ShardID))
		broadcastPeers(log, registry, nodes)

		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	r.HandleFunc("/nodes", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(struct {
			Nodes []cluster.NodeInfo `json:"nodes"`
		}{Nodes: nodes.snapshot()}); err != nil {
			log.Warn("coordinator: failed to encode nodes", zap.Error(err))
		}
	}).Methods(http.MethodGet)

	r.HandleFunc("/shards", func(w http.ResponseWriter, _ *http.Request) {
		response := struct {
			Shards    []*coordinator.ShardAssignment `json:"shards"`
			NumShards int                             `json:"num_shards"`
		}{
			Shards:    registry.GetAllAssignments(),
			NumShards: registry.NumShards(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			log.Warn("coordinator: failed to encode shards", zap.Error(err))
		}
	}).Methods(http.MethodGet)

	r.HandleFunc("/shards/assign", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			NodeID    string `json:"node_id"`
			IsPrimary bool   `json:"is_primary"`
			ShardID   int    `json:"shard_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := registry.AssignShard(req.ShardID, req.NodeID, req.IsPrimary); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if n, ok := nodes.get(req.NodeID); ok {
			coord.RegisterNode(n.ID, transport.Location{Host: n.WireHost, Port: n.WirePort})
		}
		broadcastPeers(log, registry, nodes)
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
