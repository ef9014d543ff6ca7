package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Topology is an optional static bootstrap placement for shards, read from
// TopologyFile. It lets an operator pin primary/replica placement ahead of
// node registration instead of relying solely on the coordinator's
// round-robin auto-assignment.
//
// Example file:
//
//	shards:
//	  - id: 0
//	    primary: node-1
//	    replicas: [node-2]
//	  - id: 1
//	    primary: node-2
//	    replicas: [node-3]
type Topology struct {
	Shards []ShardPlacement `yaml:"shards"`
}

// ShardPlacement pins one shard's primary and replica node IDs.
type ShardPlacement struct {
	ID       int      `yaml:"id"`
	Primary  string   `yaml:"primary"`
	Replicas []string `yaml:"replicas"`
}

// LoadTopologyFile reads and parses a Topology from path. A path of "" is
// not an error: it reports a nil Topology, meaning "no static bootstrap
// placement configured."
func LoadTopologyFile(path string) (*Topology, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read topology file: %w", err)
	}
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("config: parse topology file: %w", err)
	}
	return &t, nil
}
