package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	debug      bool
}

func executeCLI() error {
	root := buildRootCommand(true)
	if err := root.Execute(); err != nil {
		return err
	}
	return nil
}

func buildRootCommand(includeDocsCommand bool) *cobra.Command {
	var (
		showVersion bool
		opts        rootOptions
	)

	root := &cobra.Command{
		Use:   "trackersync",
		Short: "Session tracker cache kept in sync with a remote conversation store",
		Long: strings.TrimSpace(`trackersync keeps a process-local cache of dialogue session trackers and
reconciles it with a remote conversation store on every read and write.

Use CLI commands to run the reference store, run the cache with its status API,
drive a session from an interactive shell, or fetch a single session.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (.json, .yaml or .yml); defaults to ~/.trackersync/config.json")
	root.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(newBackendCommand(&opts))
	root.AddCommand(newServeCommand(&opts))
	root.AddCommand(newShellCommand(&opts))
	root.AddCommand(newGetCommand(&opts))
	root.AddCommand(newStatusCommand(&opts))
	root.AddCommand(newVersionCommand())

	if includeDocsCommand {
		docsCmd := newDocsCommand(func() *cobra.Command { return buildRootCommand(false) })
		root.AddCommand(docsCmd)
	}

	return root
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newBackendCommand(opts *rootOptions) *cobra.Command {
	var (
		addr   string
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Run the reference conversation store (SQLite + HTTP)",
		Long:  "Serve the conversation store HTTP contract from a local SQLite database, for development and end-to-end testing.",
		Example: strings.Join([]string{
			"  trackersync backend",
			"  trackersync backend --addr 0.0.0.0:18800 --db ./store.db",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath, opts.debug)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return backendCmd(ctx, cmd.OutOrStdout(), cfg, addr, dbPath)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from backend.addr)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default from backend.db_path)")
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Run the tracker cache with its sweeper and status API",
		Long:    "Start the tracker store, its background sweeper and an HTTP status API exposing /health, /stats and /sessions/:id.",
		Example: "  trackersync serve --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath, opts.debug)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return serveCmd(ctx, cmd.OutOrStdout(), cfg)
		},
	}
}

func newShellCommand(opts *rootOptions) *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Drive one session interactively through the tracker store",
		Long:  "Each line becomes a user turn with an echo reply; every turn retrieves the session, appends the new events and saves it.",
		Example: strings.Join([]string{
			"  trackersync shell",
			"  trackersync shell --session alice",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(session) == "" {
				return fmt.Errorf("--session must not be empty")
			}
			cfg, err := loadConfig(opts.configPath, opts.debug)
			if err != nil {
				return err
			}
			return shellCmd(cmd.Context(), cfg, session)
		},
	}

	cmd.Flags().StringVarP(&session, "session", "s", "cli:default", "Session id to drive")
	return cmd
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "get SESSION",
		Short:   "Retrieve one session and print its tracker as JSON",
		Example: "  trackersync get alice",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath, opts.debug)
			if err != nil {
				return err
			}
			return getCmd(cmd.Context(), cmd.OutOrStdout(), cfg, args[0])
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and remote store reachability",
		Example: "  trackersync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath, opts.debug)
			if err != nil {
				return err
			}
			statusCmd(cmd.Context(), cmd.OutOrStdout(), cfg, opts.configPath)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  trackersync version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}
