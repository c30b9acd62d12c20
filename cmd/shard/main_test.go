package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/theseusyang/weaver/internal/config"
	"github.com/theseusyang/weaver/internal/nodeprog"
	"github.com/theseusyang/weaver/internal/shard"
	"github.com/theseusyang/weaver/internal/storage"
	"github.com/theseusyang/weaver/internal/transport"
)

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	tests := []struct {
		name  string
		level string
	}{
		{"recognized level", "debug"},
		{"empty level defaults to info", ""},
		{"garbage level falls back to info", "not-a-level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := newLogger(tt.level)
			if err != nil {
				t.Fatalf("newLogger(%q): %v", tt.level, err)
			}
			if log == nil {
				t.Fatal("newLogger returned nil logger")
			}
		})
	}
}

func TestParseLocation(t *testing.T) {
	loc, err := parseLocation("0.0.0.0:7001")
	if err != nil {
		t.Fatalf("parseLocation: %v", err)
	}
	if loc.Host != "0.0.0.0" || loc.Port != 7001 {
		t.Fatalf("got %+v, want host 0.0.0.0 port 7001", loc)
	}

	if _, err := parseLocation("no-port-here"); err == nil {
		t.Fatal("expected error for address with no port")
	}
}

func TestOpenStoreSelectsBackend(t *testing.T) {
	cfg := config.Default()
	cfg.StorageBackend = "memory"
	store, err := openStore(cfg)
	if err != nil {
		t.Fatalf("openStore(memory): %v", err)
	}
	defer store.Close()
	if _, ok := store.(*storage.MemoryStore); !ok {
		t.Fatalf("openStore(memory) returned %T, want *storage.MemoryStore", store)
	}
}

func TestCoordinatorLocatorUnknownShard(t *testing.T) {
	l := &coordinatorLocator{log: zap.NewNop()}
	if _, err := l.Location(3); err == nil {
		t.Fatal("expected error for a shard never pushed via setPeers")
	}
}

func TestCoordinatorLocatorSetPeers(t *testing.T) {
	l := &coordinatorLocator{log: zap.NewNop()}
	l.setPeers(map[int]transport.Location{
		0: {Host: "127.0.0.1", Port: 7100},
		1: {Host: "127.0.0.1", Port: 7101},
	})

	loc, err := l.Location(1)
	if err != nil {
		t.Fatalf("Location(1): %v", err)
	}
	if loc.Port != 7101 {
		t.Fatalf("Location(1).Port = %d, want 7101", loc.Port)
	}
}

func newTestAdminServer(t *testing.T) (*httptest.Server, *coordinatorLocator) {
	t.Helper()
	registry := nodeprog.NewRegistry()
	nodeprog.RegisterDefaults(registry)
	s := shard.NewShard(0, true, storage.NewMemoryStore(), registry)
	reg := prometheus.NewRegistry()
	locator := &coordinatorLocator{log: zap.NewNop()}
	cfg := config.Default()
	admin := newAdminServer(cfg, s, reg, locator, zap.NewNop())
	return httptest.NewServer(admin.Handler), locator
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestAdminServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleStats(t *testing.T) {
	srv, _ := newTestAdminServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var stats shard.ShardStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
}

func TestHandleInfo(t *testing.T) {
	srv, _ := newTestAdminServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/info")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var info shard.ShardInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decoding info: %v", err)
	}
	if info.ID != 0 {
		t.Fatalf("info.ID = %d, want 0", info.ID)
	}
}

func TestHandlePeersUpdatesLocator(t *testing.T) {
	srv, locator := newTestAdminServer(t)
	defer srv.Close()

	body, _ := json.Marshal(peerUpdate{Peers: map[int]struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	}{
		1: {Host: "127.0.0.1", Port: 7101},
	}})

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/peers", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	loc, err := locator.Location(1)
	if err != nil {
		t.Fatalf("Location(1) after /peers push: %v", err)
	}
	if loc.Port != 7101 {
		t.Fatalf("Location(1).Port = %d, want 7101", loc.Port)
	}
}

func TestHandlePeersRejectsBadJSON(t *testing.T) {
	srv, _ := newTestAdminServer(t)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/peers", bytes.NewReader([]byte("not json")))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleMetrics(t *testing.T) {
	srv, _ := newTestAdminServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
