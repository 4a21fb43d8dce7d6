// Package config loads and validates the per-node YAML configuration
// file, in the shape and validation style of raft-server/config.go
// generalized from a single address field and uint32 IDs to this
// system's split http/raft addresses and string node IDs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level shape of a node's YAML config file.
type Config struct {
	Node        NodeConfig        `yaml:"node"`
	Cluster     ClusterConfig     `yaml:"cluster"`
	Public      PublicConfig      `yaml:"public"`
	Timing      TimingConfig      `yaml:"timing"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// NodeConfig identifies this node and where it listens.
type NodeConfig struct {
	ID          string `yaml:"id"`
	HTTPAddress string `yaml:"httpAddress"`
	RaftAddress string `yaml:"raftAddress"`
	DataDir     string `yaml:"dataDir"`
}

// ClusterConfig lists every member of the cluster, including this node.
type ClusterConfig struct {
	Peers []PeerConfig `yaml:"peers"`
}

// PeerConfig is one cluster member's identity and addresses. HTTPAddress
// is optional: a purely internal RAFT peer that never serves clients can
// omit it, but then it can never be the target of a redirect either.
type PeerConfig struct {
	ID          string `yaml:"id"`
	RaftAddress string `yaml:"raftAddress"`
	HTTPAddress string `yaml:"httpAddress"`
}

// PublicConfig holds the public host and scheme read from the config
// file. They are parsed but not consulted anywhere: redirect Location
// headers are always built as http://<leader's cluster.peers[].httpAddress>/chat.
type PublicConfig struct {
	Host   string `yaml:"host"`
	Scheme string `yaml:"scheme"`
}

// TimingConfig holds the election/heartbeat tuning knobs, in
// milliseconds for readability in the YAML file.
type TimingConfig struct {
	ElectionTimeoutMinMs int `yaml:"electionTimeoutMinMs"`
	ElectionTimeoutMaxMs int `yaml:"electionTimeoutMaxMs"`
	HeartbeatIntervalMs  int `yaml:"heartbeatIntervalMs"`
}

// PersistenceConfig selects the optional durable-write backend.
type PersistenceConfig struct {
	Driver string `yaml:"driver"` // "memory" | "file" | "bolt"
	Path   string `yaml:"path"`
}

// Load reads and validates a config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// defaults returns the config populated with the timing values spec.md
// §6 uses as its own worked example, so a config file only needs to
// override what differs.
func defaults() Config {
	return Config{
		Timing: TimingConfig{
			ElectionTimeoutMinMs: 150,
			ElectionTimeoutMaxMs: 300,
			HeartbeatIntervalMs:  50,
		},
		Persistence: PersistenceConfig{Driver: "memory"},
	}
}

// Validate enforces the invariants raft-server/config.go's own Validate
// enforces, adapted to string node IDs and the split address fields:
// this node must appear in its own peer list, peer IDs must be unique,
// and every required field must be non-empty.
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id is required")
	}
	if c.Node.HTTPAddress == "" {
		return fmt.Errorf("node.httpAddress is required")
	}
	if c.Node.RaftAddress == "" {
		return fmt.Errorf("node.raftAddress is required")
	}
	if len(c.Cluster.Peers) == 0 {
		return fmt.Errorf("cluster.peers must contain at least one peer")
	}

	seen := make(map[string]bool, len(c.Cluster.Peers))
	foundSelf := false
	for _, peer := range c.Cluster.Peers {
		if peer.ID == "" {
			return fmt.Errorf("cluster.peers entries must have an id")
		}
		if seen[peer.ID] {
			return fmt.Errorf("duplicate peer id: %s", peer.ID)
		}
		seen[peer.ID] = true

		if peer.RaftAddress == "" {
			return fmt.Errorf("peer %s: raftAddress is required", peer.ID)
		}

		if peer.ID == c.Node.ID {
			foundSelf = true
			if peer.RaftAddress != c.Node.RaftAddress {
				return fmt.Errorf("node.raftAddress=%s does not match its own entry in cluster.peers (%s)",
					c.Node.RaftAddress, peer.RaftAddress)
			}
		}
	}
	if !foundSelf {
		return fmt.Errorf("node.id=%s not found in cluster.peers", c.Node.ID)
	}

	if c.Timing.ElectionTimeoutMinMs <= 0 || c.Timing.ElectionTimeoutMaxMs <= 0 {
		return fmt.Errorf("timing.electionTimeoutMinMs/MaxMs must be positive")
	}
	if c.Timing.ElectionTimeoutMinMs >= c.Timing.ElectionTimeoutMaxMs {
		return fmt.Errorf("timing.electionTimeoutMinMs must be less than electionTimeoutMaxMs")
	}
	if c.Timing.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("timing.heartbeatIntervalMs must be positive")
	}

	switch c.Persistence.Driver {
	case "memory":
	case "file", "bolt":
		if c.Persistence.Path == "" {
			return fmt.Errorf("persistence.path is required for driver %q", c.Persistence.Driver)
		}
	default:
		return fmt.Errorf("persistence.driver must be one of memory, file, bolt (got %q)", c.Persistence.Driver)
	}

	return nil
}

// ElectionTimeoutMin/Max/HeartbeatInterval convert the millisecond
// fields loaded from YAML into time.Duration for the raft package.
func (c *Config) ElectionTimeoutMin() time.Duration {
	return time.Duration(c.Timing.ElectionTimeoutMinMs) * time.Millisecond
}

func (c *Config) ElectionTimeoutMax() time.Duration {
	return time.Duration(c.Timing.ElectionTimeoutMaxMs) * time.Millisecond
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Timing.HeartbeatIntervalMs) * time.Millisecond
}

// PeerHTTPAddresses returns a nodeID -> http address map for every peer
// that advertises one, for use by the HTTP front's redirect logic.
func (c *Config) PeerHTTPAddresses() map[string]string {
	out := make(map[string]string, len(c.Cluster.Peers))
	for _, p := range c.Cluster.Peers {
		if p.HTTPAddress != "" {
			out[p.ID] = p.HTTPAddress
		}
	}
	return out
}
