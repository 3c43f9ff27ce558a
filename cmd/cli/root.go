package cli

import (
	"bufio"
	"fmt"
	"github.com/ValentinKolb/dkvmod/cmd/util"
	"github.com/ValentinKolb/dkvmod/lib/host"
	"github.com/ValentinKolb/dkvmod/rpc/client"
	"github.com/ValentinKolb/dkvmod/rpc/resp"
	"github.com/spf13/cobra"
	"io"
	"os"
	"strings"
)

var (
	rpcClient *client.Client

	// CliCmd sends commands to a dkvmod server
	CliCmd = &cobra.Command{
		Use:   "cli [command [arg...]]",
		Short: "Send commands to a dkvmod server",
		Long: `Send a single command given as arguments, or start an interactive prompt when no
command is given. Every reply is printed in the same format as redis-cli prints it.`,
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				argv := make(host.CmdLine, len(args))
				for i, a := range args {
					argv[i] = []byte(a)
				}
				r, err := rpcClient.DoArgs(argv)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), r.String())
				return nil
			}
			return repl(rpcClient, os.Stdin, cmd.OutOrStdout(), util.GetClientConfig().Endpoint)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(CliCmd)

	CliCmd.AddCommand(perfTestCmd)
}

// setupClient connects the client with the configured endpoint
func setupClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	rpcClient, err = client.NewClient(*util.GetClientConfig())
	return err
}

func closeClient(_ *cobra.Command, _ []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}

// --------------------------------------------------------------------------
// Interactive prompt
// --------------------------------------------------------------------------

// executor runs one command line
type executor interface {
	DoArgs(argv host.CmdLine) (host.Reply, error)
}

// repl reads command lines from in until EOF or quit/exit and prints the replies to out.
// Connection errors end the prompt, lines that cannot be parsed do not.
func repl(c executor, in io.Reader, out io.Writer, prompt string) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "%s> ", prompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		argv, err := resp.SplitArgs(scanner.Text())
		if err != nil {
			fmt.Fprintf(out, "(error) %v\n", err)
			continue
		}
		if len(argv) == 0 {
			continue
		}
		switch strings.ToLower(string(argv[0])) {
		case "quit", "exit":
			return nil
		}

		r, err := c.DoArgs(argv)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, r.String())
	}
}
