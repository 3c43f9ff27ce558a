package serve

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dkvmod/lib/cluster"
	"github.com/ValentinKolb/dkvmod/lib/host"
	"github.com/ValentinKolb/dkvmod/lib/host/replication"
	"github.com/ValentinKolb/dkvmod/lib/raw"
	"github.com/ValentinKolb/dkvmod/modules/hello"
	"github.com/ValentinKolb/dkvmod/modules/lock"
	"github.com/ValentinKolb/dkvmod/rpc/common"
	"github.com/ValentinKolb/dkvmod/rpc/server"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"net/http"
	"os"
	"sort"
	"time"
)

var log = logger.GetLogger("rpc")

// BuiltinModules are the modules compiled into the server binary, by name.
var BuiltinModules = map[string]raw.OnLoadFunc{
	hello.Module.Name: hello.Module.OnLoad,
	lock.Module.Name:  lock.Module.OnLoad,
}

// --------------------------------------------------------------------------
// Node
// --------------------------------------------------------------------------

// Node is a running dkvmod server: the host with its modules, the propagation sinks, the
// optional cluster bus and raft shard, and the RESP and metrics endpoints.
type Node struct {
	config   common.ServerConfig
	host     *host.Server
	bus      *cluster.TCPBus
	aof      *replication.AOF
	backlog  *replication.Backlog
	nodeHost *dragonboat.NodeHost
	raft     *replication.RaftSink
	resp     *server.Server
	metrics  *http.Server
	metricsL net.Listener
}

// Start validates config and brings up every component of a node. The RESP endpoint is
// bound but not served yet, see Serve.
func Start(config common.ServerConfig) (_ *Node, err error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	n := &Node{config: config}
	defer func() {
		if err != nil {
			_ = n.Close()
		}
	}()

	// cluster bus
	var bus cluster.Bus
	if config.HasClusterBus() {
		n.bus, err = cluster.NewTCPBus(cluster.TCPConfig{
			ID:          config.ClusterID,
			ListenAddr:  config.ClusterListen,
			Peers:       config.ClusterPeers,
			DialTimeout: config.Timeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to start cluster bus: %w", err)
		}
		bus = n.bus
		log.Infof("cluster bus of node %s listening on %s", n.bus.ID(), n.bus.Addr())
	}

	n.host = host.New(host.Config{
		Databases:    config.Databases,
		MaxKeys:      config.MaxKeys,
		SnapshotPath: config.SnapshotPath,
		Bus:          bus,
	})

	if err = n.loadSnapshot(); err != nil {
		return nil, err
	}

	if err = n.loadModules(); err != nil {
		return nil, err
	}

	// the file is replayed before the sinks are attached, replayed commands are not written twice
	if config.AOFPath != "" {
		policy, err := replication.ParseFsyncPolicy(config.AOFFsync)
		if err != nil {
			return nil, err
		}
		applied, err := replication.ReplayAOF(config.AOFPath, n.host)
		if err != nil {
			return nil, err
		}
		log.Infof("replayed %d batches from %s", applied, config.AOFPath)
		if n.aof, err = replication.OpenAOF(config.AOFPath, policy); err != nil {
			return nil, err
		}
		n.host.AddSink(n.aof)
	}

	if config.BacklogSize > 0 {
		n.backlog = replication.NewBacklog(config.BacklogSize)
		n.host.AddSink(n.backlog)
	}

	if config.HasRaft() {
		if err = n.startRaft(); err != nil {
			return nil, err
		}
	}

	n.resp = server.NewRESPServer(n.host, config)
	if err = n.resp.Listen(); err != nil {
		return nil, err
	}

	if config.MetricsEndpoint != "" {
		if err = n.startMetrics(); err != nil {
			return nil, err
		}
	}

	log.Infof("dkvmod setup completed successfully")
	return n, nil
}

// loadModules loads the configured built-in modules in name order.
func (n *Node) loadModules() error {
	names := make([]string, 0, len(n.config.Modules))
	for name := range n.config.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		onLoad, ok := BuiltinModules[name]
		if !ok {
			return fmt.Errorf("unknown module: %s", name)
		}
		if err := n.host.LoadModule(onLoad, n.config.Modules[name]...); err != nil {
			return fmt.Errorf("failed to load module %s: %w", name, err)
		}
		log.Infof("loaded module %s with args %v", name, n.config.Modules[name])
	}
	return nil
}

// loadSnapshot loads the file written by SAVE, if there is one.
func (n *Node) loadSnapshot() error {
	if n.config.SnapshotPath == "" {
		return nil
	}
	f, err := os.Open(n.config.SnapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if err := n.host.Load(f); err != nil {
		return fmt.Errorf("failed to load snapshot %s: %w", n.config.SnapshotPath, err)
	}
	log.Infof("loaded %d keys from %s", n.host.KeyCount(), n.config.SnapshotPath)
	return nil
}

// startRaft joins the replication shard. The origin is unique per process, so a restarted
// node applies its own entries from the raft log again.
func (n *Node) startRaft() (err error) {
	origin := uuid.NewString()

	n.nodeHost, err = dragonboat.NewNodeHost(n.config.ToNodeHostConfig())
	if err != nil {
		return fmt.Errorf("failed to create node host: %w", err)
	}

	factory := replication.CreateStateMachineFactory(n.host, origin)
	if err = n.nodeHost.StartConcurrentReplica(n.config.ClusterMembers, false, factory, n.config.ToDragonboatConfig()); err != nil {
		return fmt.Errorf("failed to start shard %d: %w", n.config.ShardID, err)
	}

	n.raft = replication.NewRaftSink(n.nodeHost, n.config.ShardID, origin, n.config.Timeout())
	n.host.AddSink(n.raft)
	log.Infof("replicating through raft shard %d as replica %d", n.config.ShardID, n.config.ReplicaID)
	return nil
}

// startMetrics serves the Prometheus metrics of the host, the RESP server and the process.
func (n *Node) startMetrics() error {
	l, err := net.Listen("tcp", n.config.MetricsEndpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on metrics endpoint: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		n.host.WriteMetrics(w)
		n.resp.WriteMetrics(w)
		metrics.WritePrometheus(w, true)
	})
	n.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	n.metricsL = l

	go func() {
		if err := n.metrics.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics endpoint failed: %v", err)
		}
	}()
	log.Infof("serving metrics on %s/metrics", l.Addr())
	return nil
}

// Host returns the host server of the node.
func (n *Node) Host() *host.Server { return n.host }

// Backlog returns the replication backlog, nil if it is disabled.
func (n *Node) Backlog() *replication.Backlog { return n.backlog }

// MetricsAddr returns the address of the metrics endpoint, nil if it is disabled.
func (n *Node) MetricsAddr() net.Addr {
	if n.metricsL == nil {
		return nil
	}
	return n.metricsL.Addr()
}

// Addr returns the address of the RESP endpoint.
func (n *Node) Addr() net.Addr { return n.resp.Addr() }

// Serve accepts RESP clients until Close is called.
func (n *Node) Serve() error {
	err := n.resp.Serve()
	if errors.Is(err, server.ErrServerClosed) {
		return nil
	}
	return err
}

// Close shuts down every component in reverse start order. The propagation sinks are
// closed after the host, so no write is lost between them.
func (n *Node) Close() error {
	var errs []error
	if n.metrics != nil {
		errs = append(errs, n.metrics.Close())
	}
	if n.resp != nil {
		errs = append(errs, n.resp.Close())
	}
	if n.host != nil {
		errs = append(errs, n.host.Close())
	}
	if n.raft != nil {
		errs = append(errs, n.raft.Close())
	}
	if n.nodeHost != nil {
		n.nodeHost.Close()
	}
	if n.aof != nil {
		errs = append(errs, n.aof.Close())
	}
	if n.bus != nil {
		errs = append(errs, n.bus.Close())
	}
	return errors.Join(errs...)
}
