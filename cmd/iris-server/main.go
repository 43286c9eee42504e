package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"iris/internal/config"
	"iris/internal/server/bootstrap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFile string
		port       int
	)
	root := &cobra.Command{
		Use:           "iris-server",
		Short:         "Chat gateway for the iris, claude_code and codex agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: ./iris.yaml or ~/.iris/iris.yaml)")

	load := func() (config.Config, error) {
		var opts []config.Option
		if configFile != "" {
			opts = append(opts, config.WithConfigFile(configFile))
		}
		cfg, err := config.Load(opts...)
		if err != nil {
			return config.Config{}, err
		}
		if port > 0 {
			cfg.Server.Port = port
		}
		return cfg, cfg.Validate()
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return bootstrap.RunServer(cfg)
		},
	}
	serve.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")

	check := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and print where it came from",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			file := cfg.File
			if file == "" {
				file = "(defaults and environment only)"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config: %s\n", file)
			fmt.Fprintf(out, "listen: %s\n", cfg.Addr())
			fmt.Fprintf(out, "default agent: %s\n", cfg.Agents.Default)
			fmt.Fprintf(out, "llm: %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
			return nil
		},
	}

	root.AddCommand(serve, check)
	// Running the bare binary serves.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}
