package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig    string
	flagWorkspace string
	flagServerID  string
	flagVerbose   bool
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "unitgen",
		Short: "Host-side controller for the unittest-generation language server",
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to the extension settings file (YAML)")
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", ".", "Workspace root the analysis server runs in")
	root.PersistentFlags().StringVar(&flagServerID, "server-id", "unitgen", "Logical server identifier")
	root.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Verbose trace output")

	root.AddCommand(newRunCmd(), newGenerateCmd(), newProbeCmd(), newRestartCmd(), newCommandsCmd())
	return root
}
