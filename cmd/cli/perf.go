package cli

import (
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/dkvmod/cmd/util"
	"github.com/ValentinKolb/dkvmod/lib/host"
	"github.com/ValentinKolb/dkvmod/rpc/client"
	"github.com/ValentinKolb/dkvmod/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dkvmod servers",
		Long:    "Runs SET, GET, INCR, pipelined SET and a module command against the server. The module benchmark needs the hello module (serve --module hello).",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix     = "__test"
	perfValueSize     = 16
	perfNumThreads    = 10
	perfKeySpread     = 100
	perfPipelineDepth = 16
	perfSkip          = make([]string, 0)
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get,incr,pipeline,module)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of connections to use for the benchmark"))
	key = "value-size"
	perfTestCmd.Flags().Int(key, 16, util.WrapString("Size of the values written by the set benchmarks (in bytes)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "pipeline"
	perfTestCmd.Flags().Int(key, 16, util.WrapString("Commands per round trip in the pipeline benchmark"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfValueSize = viper.GetInt("value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfPipelineDepth = max(viper.GetInt("pipeline"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// benchmark is one test of the perf command
type benchmark struct {
	name  string
	setup func(c *client.Client, keys []string) error
	op    func(c *client.Client, key string) error
}

func runPerf(_ *cobra.Command, _ []string) error {
	config := util.GetClientConfig()

	fmt.Println("Performance testing tool for dkvmod servers")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	// one connection per thread, a client serializes its commands
	pool := make([]*client.Client, perfNumThreads)
	for i := range pool {
		c, err := client.NewClient(*config)
		if err != nil {
			return err
		}
		defer c.Close()
		pool[i] = c
	}

	value := strings.Repeat("x", perfValueSize)
	pipeline := func(c *client.Client, key string) error {
		cmds := make([]host.CmdLine, perfPipelineDepth)
		for i := range cmds {
			cmds[i] = host.CmdLine{[]byte("SET"), []byte(key), []byte(value)}
		}
		replies, err := c.Pipeline(cmds)
		if err != nil {
			return err
		}
		return replyErr(replies[len(replies)-1], nil)
	}

	benchmarks := []benchmark{
		{name: "set", op: func(c *client.Client, key string) error {
			return replyErr(c.Do("SET", key, value))
		}},
		{name: "get", setup: setKeys(value), op: func(c *client.Client, key string) error {
			return replyErr(c.Do("GET", key))
		}},
		{name: "incr", op: func(c *client.Client, key string) error {
			return replyErr(c.Do("INCR", key))
		}},
		{name: "pipeline", op: pipeline},
		{name: "module", op: func(c *client.Client, key string) error {
			return replyErr(c.Do("hello.push.native", key, value))
		}},
	}

	fmt.Println("starting tests...")
	results := make(map[string]testing.BenchmarkResult)
	for _, bm := range benchmarks {
		if shouldSkip(bm.name) {
			results[bm.name] = testing.BenchmarkResult{}
			printResult(bm.name, results[bm.name])
			continue
		}
		results[bm.name] = runBenchmark(pool, bm)
		printResult(bm.name, results[bm.name])
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", csvPath)
	}

	return nil
}

// runBenchmark runs bm in parallel on the connections of pool and removes its keys afterwards
func runBenchmark(pool []*client.Client, bm benchmark) testing.BenchmarkResult {
	keys := getKeys(bm.name)

	return testing.Benchmark(func(b *testing.B) {
		if bm.setup != nil {
			if err := bm.setup(pool[0], keys); err != nil {
				log.Printf("(%s) - setup failed: %v\n", bm.name, err)
				return
			}
		}
		b.Cleanup(func() {
			for _, k := range keys {
				if err := replyErr(pool[0].Do("DEL", k)); err != nil {
					log.Printf("(%s) - error deleting key: %v\n", bm.name, err)
				}
			}
		})

		var next atomic.Int64
		b.SetParallelism(max(perfNumThreads/runtime.GOMAXPROCS(0), 1))
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			c := pool[int(next.Add(1)-1)%len(pool)]
			counter := 0
			for pb.Next() {
				if err := bm.op(c, keys[counter%len(keys)]); err != nil {
					log.Printf("(%s) - %v\n", bm.name, err)
				}
				counter++
			}
		})
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// getKeys creates the test keys of a benchmark
func getKeys(prefix string) []string {
	keys := make([]string, perfKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}
	return keys
}

func setKeys(value string) func(c *client.Client, keys []string) error {
	return func(c *client.Client, keys []string) error {
		for _, k := range keys {
			if err := replyErr(c.Do("SET", k, value)); err != nil {
				return err
			}
		}
		return nil
	}
}

// replyErr turns error replies into errors
func replyErr(r host.Reply, err error) error {
	if err != nil {
		return err
	}
	if r.IsError() {
		return fmt.Errorf("%s", r.Str)
	}
	return nil
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoint", "TimeoutSec", "RetryCount",
		"Threads", "ValueSize", "Keys Count", "PipelineDepth",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			config.Endpoint,
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfValueSize),
			strconv.Itoa(perfKeySpread),
			strconv.Itoa(perfPipelineDepth),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
