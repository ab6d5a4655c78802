package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"postrelay/internal/app"
	logx "postrelay/pkg/logx"
)

func newRouteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "route [source]",
		Short: "Print the resolved delivery paths",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return app.Routes(cfg, name, cmd.OutOrStdout(), logx.NewConsole("WARN"))
		},
	}
}

func newPushCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push <target-id> <text...>",
		Short: "Send a text message to one target",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := app.Push(ctx, cfg, args[0], strings.Join(args[1:], " "), logx.NewConsole("WARN")); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			_, targets := cfg.ResolvedTargets()
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d crawlers, %d targets, %d aggregations\n",
				len(cfg.Crawlers), len(targets), len(cfg.Aggregations))
			return nil
		},
	}
}
