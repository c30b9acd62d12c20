// Package config loads shard-server and coordinator configuration from a
// YAML file, with environment-variable overrides — the same getenv/
// mustGetenv override pattern the teacher's cmd/node and cmd/coordinator
// apply directly to flags, generalized here into a single loader both
// binaries share.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every option recognized by a shard server or coordinator
// process; no other option affects core semantics.
type Config struct {
	ShardID               int    `yaml:"shard_id"`
	NumShards             int    `yaml:"num_shards"`
	CoordAddr             string `yaml:"coord_addr"`
	ListenAddr            string `yaml:"listen_addr"`
	WorkerThreads         int    `yaml:"worker_threads"`
	RequestTimeoutMS      int    `yaml:"request_timeout_ms"`
	BackpressureHighwater int    `yaml:"backpressure_highwater"`

	// Ambient additions, not named in the distilled protocol but needed by
	// any complete deployment.
	StorageBackend string `yaml:"storage_backend"` // "memory" | "badger"
	BadgerDir      string `yaml:"badger_dir"`
	LogLevel       string `yaml:"log_level"`
	MetricsAddr    string `yaml:"metrics_addr"`
}

// Default returns a Config with every option set to the value a single-node
// development deployment would want.
func Default() Config {
	return Config{
		ShardID:               0,
		NumShards:             1,
		CoordAddr:             "127.0.0.1:7000",
		ListenAddr:            ":7001",
		WorkerThreads:         8,
		RequestTimeoutMS:      5000,
		BackpressureHighwater: 256,
		StorageBackend:        "memory",
		BadgerDir:             "./data",
		LogLevel:              "info",
		MetricsAddr:           ":9090",
	}
}

// Load reads path as YAML into Default()'s base, then applies any
// recognized WEAVER_* environment variable on top of it. path may be empty,
// in which case only the defaults and environment apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := getenv("WEAVER_SHARD_ID", ""); v != "" {
		cfg.ShardID = atoiOr(v, cfg.ShardID)
	}
	if v := getenv("WEAVER_NUM_SHARDS", ""); v != "" {
		cfg.NumShards = atoiOr(v, cfg.NumShards)
	}
	cfg.CoordAddr = getenv("WEAVER_COORD_ADDR", cfg.CoordAddr)
	cfg.ListenAddr = getenv("WEAVER_LISTEN_ADDR", cfg.ListenAddr)
	if v := getenv("WEAVER_WORKER_THREADS", ""); v != "" {
		cfg.WorkerThreads = atoiOr(v, cfg.WorkerThreads)
	}
	if v := getenv("WEAVER_REQUEST_TIMEOUT_MS", ""); v != "" {
		cfg.RequestTimeoutMS = atoiOr(v, cfg.RequestTimeoutMS)
	}
	if v := getenv("WEAVER_BACKPRESSURE_HIGHWATER", ""); v != "" {
		cfg.BackpressureHighwater = atoiOr(v, cfg.BackpressureHighwater)
	}
	cfg.StorageBackend = getenv("WEAVER_STORAGE_BACKEND", cfg.StorageBackend)
	cfg.BadgerDir = getenv("WEAVER_BADGER_DIR", cfg.BadgerDir)
	cfg.LogLevel = getenv("WEAVER_LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsAddr = getenv("WEAVER_METRICS_ADDR", cfg.MetricsAddr)
}

// getenv retrieves an environment variable with a default fallback value,
// the same helper shape the teacher's cmd/node and cmd/coordinator define
// locally, lifted here so both binaries and this package share one copy.
func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// MustGetenv retrieves a required environment variable, terminating the
// process if it is unset — used by cmd/shard for
// identity the process cannot safely default (NODE_ID-style values).
func MustGetenv(k string) string {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		fmt.Fprintf(os.Stderr, "config: required environment variable %s is not set\n", k)
		os.Exit(1)
	}
	return v
}
