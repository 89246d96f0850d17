// Command fugued is the fugue daemon: it owns the session tree, every
// pane's PTY, persistence, and the control bridge. Clients such as the
// attach CLI dial its unix socket; the MCP control bridge runs inside the
// daemon and speaks MCP over the daemon's own stdin/stdout. Neither touches
// a PTY directly.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fugueterm/fugue/internal/config"
	"github.com/fugueterm/fugue/internal/daemon"
	"github.com/fugueterm/fugue/internal/logger"
)

func main() {
	var stateDirFlag string
	var logLevelFlag string
	var logFileFlag string

	root := &cobra.Command{
		Use:   "fugued",
		Short: "fugue daemon — durable terminal session host",
		RunE: func(cmd *cobra.Command, args []string) error {
			stateDir := stateDirFlag
			if stateDir == "" {
				d, err := config.DefaultStateDir()
				if err != nil {
					return fmt.Errorf("resolve state dir: %w", err)
				}
				stateDir = d
			}
			if err := os.MkdirAll(stateDir, 0o755); err != nil {
				return fmt.Errorf("create state dir: %w", err)
			}

			log, err := logger.New(logLevelFlag, logFileFlag)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			cfgPath := filepath.Join(stateDir, "fugue.yaml")
			watcher, err := config.WatchFile(cfgPath, log)
			if err != nil {
				return fmt.Errorf("watch config: %w", err)
			}
			defer watcher.Close()

			socketPath := filepath.Join(stateDir, "fugue.sock")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			return daemon.Run(ctx, daemon.Options{
				StateDir:   stateDir,
				SocketPath: socketPath,
				Config:     watcher.Current(),
				Logger:     log,
			})
		},
	}

	root.Flags().StringVar(&stateDirFlag, "state-dir", "", "directory holding fugue.yaml, the control socket, and persisted state (default ~/.fugue)")
	root.Flags().StringVar(&logLevelFlag, "log-level", "info", "debug|info|warn|error")
	root.Flags().StringVar(&logFileFlag, "log-file", "", "also append logs to this file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
