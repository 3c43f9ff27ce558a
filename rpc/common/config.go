package common

import (
	"errors"
	"fmt"
	"github.com/lni/dragonboat/v4/config"
	"sort"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// helper functions to interface with Dragonboat
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to the Dragonboat config of the replication shard
func (c *ServerConfig) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            c.ShardID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a dkvmod server
type ServerConfig struct {
	// RESP api settings
	Endpoint      string
	TimeoutSecond int64

	// Keyspace
	Databases    int
	MaxKeys      int
	SnapshotPath string

	// Modules to load (name -> arguments)
	Modules map[string][]string

	// Persistence
	AOFPath     string
	AOFFsync    string
	BacklogSize int

	// Cluster bus (empty ClusterListen = clustering disabled)
	ClusterID     string
	ClusterListen string
	ClusterPeers  map[string]string

	// Dragenboat parameters (empty ClusterMembers = no raft replication)
	ShardID            uint64
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// Prometheus endpoint (empty = disabled)
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// HasRaft reports whether the server replicates through a raft shard
func (c *ServerConfig) HasRaft() bool {
	return len(c.ClusterMembers) > 0
}

// HasClusterBus reports whether the server joins a cluster bus
func (c *ServerConfig) HasClusterBus() bool {
	return c.ClusterListen != ""
}

// Timeout returns the configured timeout as duration
func (c *ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// Validate checks the configuration for values the server cannot start with
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint must not be empty"))
	}
	if c.Databases < 0 {
		errs = append(errs, fmt.Errorf("invalid number of databases: %d", c.Databases))
	}
	if c.MaxKeys < 0 {
		errs = append(errs, fmt.Errorf("invalid key limit: %d", c.MaxKeys))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.HasRaft() {
		if _, ok := c.ClusterMembers[c.ReplicaID]; !ok {
			errs = append(errs, fmt.Errorf("replica id %d is not a cluster member", c.ReplicaID))
		}
		if c.DataDir == "" {
			errs = append(errs, errors.New("data dir is required for raft replication"))
		}
		if c.TimeoutSecond <= 0 {
			errs = append(errs, errors.New("timeout must be positive for raft replication"))
		}
	}
	if len(c.ClusterPeers) > 0 && !c.HasClusterBus() {
		errs = append(errs, errors.New("cluster peers given without a cluster listen address"))
	}
	return errors.Join(errs...)
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	orNone := func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	}

	addSection("RESP Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Metrics Endpoint", orNone(c.MetricsEndpoint))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Keyspace")
	addField("Databases", strconv.Itoa(c.Databases))
	addField("Max Keys", strconv.Itoa(c.MaxKeys))
	addField("Snapshot Path", orNone(c.SnapshotPath))

	addSection("Modules")
	names := make([]string, 0, len(c.Modules))
	for name := range c.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		addField(name, strings.Join(c.Modules[name], " "))
	}

	addSection("Persistence")
	addField("Append Only File", orNone(c.AOFPath))
	addField("Fsync", c.AOFFsync)
	addField("Backlog Size", strconv.Itoa(c.BacklogSize))

	if c.HasClusterBus() {
		addSection("Cluster Bus")
		addField("Node ID", orNone(c.ClusterID))
		addField("Listen", c.ClusterListen)
		peers := make([]string, 0, len(c.ClusterPeers))
		for id := range c.ClusterPeers {
			peers = append(peers, id)
		}
		sort.Strings(peers)
		for _, id := range peers {
			sb.WriteString(fmt.Sprintf("    Peer %s: %s\n", id, c.ClusterPeers[id]))
		}
	}

	if c.HasRaft() {
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))
		addField("Shard ID", strconv.FormatUint(c.ShardID, 10))

		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

		addSection("Storage")
		addField("Data Directory", c.DataDir)

		addSection("Raft Members")
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoint      string
	TimeoutSecond int
	RetryCount    int
}

// Timeout returns the configured timeout as duration
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))

	return sb.String()
}
