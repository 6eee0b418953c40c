package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberchat/toolhost"
	"github.com/emberchat/toolhost/servers/echo"
)

const connectTimeout = 30 * time.Second

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [server...]",
		Short: "Connect to servers from the manifest and list their tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, args, func(ctx context.Context, reg *toolhost.Registry, ids []string) error {
				for _, id := range ids {
					tools, err := reg.ListTools(ctx, id)
					if err != nil {
						return fmt.Errorf("list tools of %q: %w", id, err)
					}
					fmt.Printf("%s (%d tools)\n", id, len(tools))
					for _, tool := range tools {
						fmt.Printf("  %-24s %s\n", tool.Name, tool.Description)
					}
				}
				return nil
			})
		},
	}
}

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <server> <tool>",
		Short: "Invoke a tool on a server from the manifest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawArgs, _ := cmd.Flags().GetString("args")
			if rawArgs != "" && !json.Valid([]byte(rawArgs)) {
				return fmt.Errorf("--args must be valid JSON")
			}

			return withRegistry(cmd, args[:1], func(ctx context.Context, reg *toolhost.Registry, ids []string) error {
				result, err := reg.CallTool(ctx, ids[0], args[1], json.RawMessage(rawArgs))
				if err != nil {
					return err
				}
				for _, content := range result.Content {
					fmt.Println(content.Text)
				}
				if result.IsError {
					return fmt.Errorf("tool reported an error")
				}
				return nil
			})
		},
	}
	cmd.Flags().String("args", "", "Tool arguments as a JSON object")
	return cmd
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping [server...]",
		Short: "Check liveness of servers from the manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd, args, func(ctx context.Context, reg *toolhost.Registry, ids []string) error {
				for _, id := range ids {
					if err := reg.Ping(ctx, id); err != nil {
						fmt.Printf("%s: %v\n", id, err)
						continue
					}
					fmt.Printf("%s: ok\n", id)
				}
				return nil
			})
		},
	}
}

func newEchoServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "echo-server",
		Short:  "Run the reference echo tool server over stdio",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()
			return echo.NewServer().Serve(ctx, os.Stdin, os.Stdout)
		},
	}
}

// withRegistry loads the manifest, connects the requested servers (all of them
// when ids is empty), runs fn, and disconnects.
func withRegistry(cmd *cobra.Command, ids []string, fn func(context.Context, *toolhost.Registry, []string) error) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := toolhost.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		for _, s := range cfg.Servers {
			ids = append(ids, s.Name)
		}
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	reg := toolhost.NewRegistry(
		toolhost.WithRegistryClientInfo(toolhost.Info{Name: "toolhost", Version: version}),
	)
	defer reg.Close()

	for _, id := range ids {
		sc, ok := cfg.Server(id)
		if !ok {
			return fmt.Errorf("server %q not in manifest %s", id, configPath)
		}
		connectCtx, connectCancel := context.WithTimeout(ctx, connectTimeout)
		err := reg.Connect(connectCtx, id, sc.Descriptor())
		connectCancel()
		if err != nil {
			return fmt.Errorf("connect %q: %w", id, err)
		}
	}

	return fn(ctx, reg, ids)
}
