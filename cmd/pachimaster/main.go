// Command pachimaster runs the distributed MCTS master engine: it
// speaks GTP upstream on stdin/stdout and fans pachi-genmoves searches
// out to a fleet of slave engines connected over TCP.
//
// Grounded on cmd/wtd/main.go's cobra root command and signal-driven
// shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gobaduk/pachimaster/internal/config"
	"github.com/gobaduk/pachimaster/internal/logger"
	"github.com/gobaduk/pachimaster/internal/master"
	"github.com/gobaduk/pachimaster/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:   "pachimaster",
		Short: "distributed MCTS master engine",
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newHistoryCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var engineSpec, dbPath, overridesPath, logFile, logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the master engine against upstream GTP on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logLevel, logFile); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			cfg, err := config.ParseEngine(engineSpec)
			if err != nil {
				return err
			}

			watcher, err := config.WatchOverrides(overridesPath, cfg, logger.Log)
			if err != nil {
				return fmt.Errorf("watch config overrides: %w", err)
			}
			defer watcher.Close()

			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open history store: %w", err)
			}
			defer st.Close()

			eng := master.New(watcher, st, logger.Log, os.Stdin, os.Stdout, os.Stderr)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			if err := eng.Run(ctx); err != nil {
				return fmt.Errorf("master engine: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&engineSpec, "engine", "", `engine config, e.g. "slave_port=9999,proxy_port=9998,max_slaves=16"`)
	cmd.Flags().StringVar(&dbPath, "db", "", "history store path (defaults to in-memory, no persistence across restarts)")
	cmd.Flags().StringVar(&overridesPath, "config", "", "optional YAML file for live max_slaves/slaves_quit overrides")
	cmd.Flags().StringVar(&logFile, "log-file", "", "optional log file path, in addition to stderr")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.MarkFlagRequired("engine")

	return cmd
}

func newHistoryCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "dump the command/move history store for diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("open history store: %w", err)
			}
			defer st.Close()

			commands, err := st.Commands()
			if err != nil {
				return fmt.Errorf("list commands: %w", err)
			}
			for _, c := range commands {
				fmt.Fprintf(cmd.OutOrStdout(), "%d %s %s\n", c.ID, c.Verb, c.Args)
			}

			moves, err := st.Moves()
			if err != nil {
				return fmt.Errorf("list moves: %w", err)
			}
			for _, m := range moves {
				fmt.Fprintf(cmd.OutOrStdout(), "move search=%d %s %s playouts=%s\n",
					m.SearchID, m.Color, m.Move, humanize.Comma(int64(m.TotalPlayouts)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "history store path")
	cmd.MarkFlagRequired("db")

	return cmd
}
