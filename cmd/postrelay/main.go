package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "postrelay",
		Short:         "Relay stored social media posts to chat targets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "./config.json", "path to config (json or yaml)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newRouteCommand(opts))
	cmd.AddCommand(newPushCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
