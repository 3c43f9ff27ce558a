package cmd

import (
	"fmt"
	"github.com/ValentinKolb/dkvmod/cmd/cli"
	"github.com/ValentinKolb/dkvmod/cmd/serve"
	"github.com/spf13/cobra"
	"os"
	"runtime"
	"sort"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dkvmod",
		Short: "key-value server with loadable command modules",
		Long: fmt.Sprintf(`dkvmod (v%s)

An embeddable key-value server speaking RESP, extended by command modules
written against a safe Go binding. Writes can be persisted to an append only
file and replicated through RAFT.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number and the built-in modules of dkvmod",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dkvmod v%s (%s, %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)

			names := make([]string, 0, len(serve.BuiltinModules))
			for name := range serve.BuiltinModules {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Printf("built-in modules: %v\n", names)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(cli.CliCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
