// Package config centralizes environment-variable configuration for the
// coordinator and node binaries, plus the write-path settings named in
// Elasticsearch's action.support.replication.* namespace that this module
// carries forward: how long a primary waits for a lagging replica's
// shard-failure report to land, and the default write consistency level.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Getenv retrieves an environment variable with a default fallback value.
func Getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// MustGetenv retrieves a required environment variable, calling fatal if
// it's unset or empty. fatal is injected so callers can use log.Fatalf (or a
// test double) without this package importing log itself.
func MustGetenv(k string, fatal func(format string, args ...any)) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	fatal("missing env %s", k)
	return ""
}

// GetenvDuration reads an environment variable as a time.Duration (parsed by
// time.ParseDuration, e.g. "5s", "200ms"), falling back to def on an unset
// or unparsable value.
func GetenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// GetenvInt reads an environment variable as an int, falling back to def on
// an unset or unparsable value.
func GetenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// CoordinatorConfig holds the coordinator binary's configuration.
type CoordinatorConfig struct {
	// ListenAddr is the address the coordinator's HTTP server binds to.
	ListenAddr string
	// ShardCount is the fixed number of shards the cluster is divided into.
	ShardCount int
	// ReplicaCount is the number of replica copies each shard targets, in
	// addition to its primary.
	ReplicaCount int
	// HealthCheckInterval is how often the health monitor probes each node.
	HealthCheckInterval time.Duration
	// Write carries the action.support.replication.* write-path settings.
	Write WriteConfig
	// TopologyFile, if set, is loaded at startup to seed initial shard
	// placement instead of relying solely on auto-assignment as nodes
	// register. See LoadTopologyFile.
	TopologyFile string
}

// NodeConfig holds the node binary's configuration.
type NodeConfig struct {
	NodeID          string
	ListenAddr      string
	PublicAddr      string
	CoordinatorAddr string
	// Write carries the action.support.replication.* write-path settings.
	Write WriteConfig
}

// WriteConfig carries the settings the replication engine needs: how long a
// primary waits for an unresponsive replica's failure report before giving
// up on it (action.support.replication.shard.failure_timeout), and the
// cluster's default write consistency level when a request doesn't specify
// one (action.write_consistency).
type WriteConfig struct {
	ShardFailureTimeout     time.Duration
	DefaultWriteConsistency string
}

// LoadCoordinatorConfig reads the coordinator's configuration from the
// process environment.
func LoadCoordinatorConfig(fatal func(format string, args ...any)) CoordinatorConfig {
	return CoordinatorConfig{
		ListenAddr:          Getenv("COORDINATOR_ADDR", ":8080"),
		ShardCount:          GetenvInt("SHARD_COUNT", 4),
		ReplicaCount:        GetenvInt("REPLICA_COUNT", 1),
		HealthCheckInterval: GetenvDuration("HEALTH_CHECK_INTERVAL", 5*time.Second),
		Write:               loadWriteConfig(),
		TopologyFile:        Getenv("TOPOLOGY_FILE", ""),
	}
}

// LoadNodeConfig reads the node's configuration from the process
// environment. fatal is called (and expected to terminate the process) if a
// required variable is missing.
func LoadNodeConfig(fatal func(format string, args ...any)) NodeConfig {
	return NodeConfig{
		NodeID:          MustGetenv("NODE_ID", fatal),
		ListenAddr:      Getenv("NODE_LISTEN", ":8081"),
		PublicAddr:      Getenv("NODE_ADDR", "http://127.0.0.1:8081"),
		CoordinatorAddr: MustGetenv("COORDINATOR_ADDR", fatal),
		Write:           loadWriteConfig(),
	}
}

func loadWriteConfig() WriteConfig {
	return WriteConfig{
		ShardFailureTimeout:     GetenvDuration("ACTION_REPLICATION_SHARD_FAILURE_TIMEOUT", 60*time.Second),
		DefaultWriteConsistency: Getenv("ACTION_WRITE_CONSISTENCY", "quorum"),
	}
}

// Validate reports a descriptive error if the write-path configuration
// contains a value the replication engine cannot act on.
func (w WriteConfig) Validate() error {
	switch w.DefaultWriteConsistency {
	case "one", "quorum", "all", "default":
		return nil
	default:
		return fmt.Errorf("config: unknown default write consistency %q", w.DefaultWriteConsistency)
	}
}
