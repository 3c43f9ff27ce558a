package serve

import (
	"fmt"
	cmdUtil "github.com/ValentinKolb/dkvmod/cmd/util"
	"github.com/ValentinKolb/dkvmod/lib/util"
	"github.com/ValentinKolb/dkvmod/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dkvmod server",
		Long:    `Start the dkvmod server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DKVMOD_<flag> (e.g. DKVMOD_LOG_LEVEL=debug)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	// RESP api
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:6380", cmdUtil.WrapString("The address on which the RESP api will listen (e.g. localhost:6380, unix:///tmp/dkvmod.sock)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for client writes, cluster dials and raft proposals"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the Prometheus metrics endpoint (e.g. localhost:9090). Empty disables the endpoint"))

	// keyspace
	key = "databases"
	ServeCmd.PersistentFlags().Int(key, 16, cmdUtil.WrapString("Number of logical databases"))

	key = "max-keys"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Key limit above which commands flagged deny-oom are refused (0 = unlimited)"))

	key = "snapshot-path"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("File written by SAVE and loaded on start. Empty disables SAVE"))

	// modules
	key = "module"
	ServeCmd.PersistentFlags().StringArray(key, nil, cmdUtil.WrapString("Built-in module to load, followed by its arguments (e.g. --module 'hello arg1 arg2'). Can be given multiple times, in the environment modules are separated by ';'"))

	// persistence
	key = "aof-path"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Append only file that receives every write and is replayed on start. Empty disables the file"))

	key = "aof-fsync"
	ServeCmd.PersistentFlags().String(key, "everysec", cmdUtil.WrapString("When the append only file is synced to disk (always, everysec, no)"))

	key = "backlog-size"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Number of propagated batches kept in memory for replicas (0 = disabled)"))

	// cluster bus
	key = "cluster-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Node id on the cluster bus (40 hex characters). Empty generates one"))

	key = "cluster-listen"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address the cluster bus listens on. Empty disables cluster messaging"))

	key = "cluster-peers"
	ServeCmd.PersistentFlags().StringSlice(key, nil, cmdUtil.WrapString("Other nodes of the cluster bus in the format 'ID=localhost:7001,ID=localhost:7002,...'"))

	// raft replication
	key = "shard-id"
	ServeCmd.PersistentFlags().Uint64(key, 100, cmdUtil.WrapString("(Raft) ID of the raft shard all writes are replicated through"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(Raft) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 1000, cmdUtil.WrapString("(Raft) SnapshotEntries defines how often the state machine should be snapshotted automatically, in applied Raft log entries. 0 disables automatic snapshots"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 500, cmdUtil.WrapString("(Raft) CompactionOverhead defines the number of log entries kept after a compaction"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(Raft) DataDir is the directory used for the raft log and the snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(Raft) ReplicaID is the unique name of this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().StringSlice(key, nil, cmdUtil.WrapString("(Raft) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'. Empty disables raft replication"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	config, err := readConfig()
	if err != nil {
		return err
	}
	*serveCmdConfig = config
	return serveCmdConfig.Validate()
}

// readConfig builds the server configuration from viper
func readConfig() (common.ServerConfig, error) {
	config := common.ServerConfig{
		Endpoint:           viper.GetString("endpoint"),
		TimeoutSecond:      viper.GetInt64("timeout"),
		LogLevel:           viper.GetString("log-level"),
		MetricsEndpoint:    viper.GetString("metrics-endpoint"),
		Databases:          viper.GetInt("databases"),
		MaxKeys:            viper.GetInt("max-keys"),
		SnapshotPath:       viper.GetString("snapshot-path"),
		AOFPath:            viper.GetString("aof-path"),
		AOFFsync:           viper.GetString("aof-fsync"),
		BacklogSize:        viper.GetInt("backlog-size"),
		ClusterID:          viper.GetString("cluster-id"),
		ClusterListen:      viper.GetString("cluster-listen"),
		ShardID:            viper.GetUint64("shard-id"),
		RTTMillisecond:     viper.GetUint64("rtt-millisecond"),
		SnapshotEntries:    viper.GetUint64("snapshot-entries"),
		CompactionOverhead: viper.GetUint64("compaction-overhead"),
		DataDir:            viper.GetString("data-dir"),
	}

	var err error
	if config.Modules, err = cmdUtil.ParseModules(listValue("module", ";")); err != nil {
		return config, err
	}

	if config.ClusterPeers, err = cmdUtil.ParseAssignments(listValue("cluster-peers", ",")); err != nil {
		return config, fmt.Errorf("invalid cluster peers: %w", err)
	}

	// raft members are named, dragonboat needs numeric replica ids
	members, err := cmdUtil.ParseAssignments(listValue("cluster-members", ","))
	if err != nil {
		return config, fmt.Errorf("invalid cluster members: %w", err)
	}
	if len(members) > 0 {
		config.ClusterMembers = make(map[uint64]string, len(members))
		for name, addr := range members {
			config.ClusterMembers[util.HashString(name, 0)] = addr
		}
		id := viper.GetString("replica-id")
		if id == "" {
			return config, fmt.Errorf("replica-id is required for raft replication")
		}
		config.ReplicaID = util.HashString(id, 0)
	}

	return config, nil
}

// listValue returns a list setting. Flags deliver a list, environment variables a single
// string that is split at sep.
func listValue(key string, sep string) []string {
	switch v := viper.Get(key).(type) {
	case nil:
		return nil
	case string:
		return strings.Split(v, sep)
	case []string:
		return v
	default:
		return viper.GetStringSlice(key)
	}
}

// run starts the dkvmod server and blocks until it is stopped by a signal
func run(_ *cobra.Command, _ []string) error {
	if err := common.InitLoggers(serveCmdConfig.LogLevel); err != nil {
		return err
	}
	fmt.Print(serveCmdConfig.String())

	node, err := Start(*serveCmdConfig)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	closed := make(chan error, 1)
	go func() {
		sig := <-sigCh
		log.Infof("received %s, shutting down", sig)
		closed <- node.Close()
	}()

	if err := node.Serve(); err != nil {
		_ = node.Close()
		return err
	}
	return <-closed
}
