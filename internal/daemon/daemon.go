// Package daemon wires persistence, the session model, the client-facing
// socket server, the watchdog/arbiter, and the MCP control bridge into one
// running process, following the teacher's own internal/daemon.Run: open
// the store, recover, build the dependent components, then select between
// a shutdown signal and the first component error.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fugueterm/fugue/internal/bridge"
	"github.com/fugueterm/fugue/internal/config"
	"github.com/fugueterm/fugue/internal/notify"
	"github.com/fugueterm/fugue/internal/persist"
	"github.com/fugueterm/fugue/internal/server"
	"github.com/fugueterm/fugue/internal/session"
	"github.com/fugueterm/fugue/internal/watchdog"
)

// Options configures a daemon run. StateDir holds fugue.yaml, the control
// socket, and (when persistence is enabled) the wal/checkpoints tree.
type Options struct {
	StateDir   string
	SocketPath string
	Config     *config.Config
	Logger     *slog.Logger
}

// Run blocks until ctx is canceled or a component fails, tearing every
// component down cleanly on either path. Run opens the control socket
// itself (server.Listen); cmd/fugued only builds Options and calls it.
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	persistDir := cfg.Persistence.Directory
	if persistDir == "" {
		persistDir = filepath.Join(opts.StateDir, "state")
	}

	var model *session.Model
	var rec server.Recorder
	var store *persist.StoreHandle
	var spawnCommands map[string][]string
	if cfg.Persistence.Enabled {
		recovered, err := persist.Recover(persistDir, cfg.Agent.CommandPrefixes)
		if err != nil {
			return fmt.Errorf("recover persisted state: %w", err)
		}
		model = recovered.Model
		spawnCommands = recovered.SpawnCommands

		store, err = persist.Open(persistDir)
		if err != nil {
			return fmt.Errorf("open persistence store: %w", err)
		}
		store.Logger = logger
		rec = store

		go checkpointLoop(cancelCtx, store, model, cfg.Persistence.CheckpointIntervalSecs, logger)
	} else {
		model = session.NewModel()
	}

	srv := server.New(model, rec, logger)
	if cfg.DefaultCommand != "" {
		srv.DefaultCommand = []string{cfg.DefaultCommand}
	}
	srv.MailSinkImpl = notify.NewMailbox()
	if topic, ok := cfg.Beads.Workflow["notify_topic"].(string); ok && topic != "" {
		token, _ := cfg.Beads.Workflow["notify_token"].(string)
		srv.NotifierImpl = notify.NewSender(topic, token, logger)
	}
	if cfg.Arbiter.HumanPriorityWindowSecs > 0 {
		srv.ArbiterImpl = watchdog.NewArbiter(time.Duration(cfg.Arbiter.HumanPriorityWindowSecs) * time.Second)
	}
	dogs := watchdog.NewManager(srv, logger)

	if cfg.Persistence.Enabled {
		resumePanes(srv, model, spawnCommands, logger)
	}

	ln, err := server.Listen(opts.SocketPath)
	if err != nil {
		return fmt.Errorf("listen control socket: %w", err)
	}
	defer os.Remove(opts.SocketPath)

	g, runCtx := errgroup.WithContext(cancelCtx)

	mcpBridge := bridge.New(srv, logger)

	g.Go(func() error {
		logger.Info("control socket listening", "path", opts.SocketPath)
		return srv.Serve(runCtx, ln)
	})
	g.Go(func() error {
		logger.Info("control bridge started")
		if err := mcpBridge.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("control bridge: %w", err)
		}
		return nil
	})

	// componentDone lets the signal-vs-failure select below race a
	// component failing against SIGTERM/SIGINT arriving first; g.Wait
	// itself blocks, so it needs its own goroutine to become select-able.
	componentDone := make(chan error, 1)
	go func() { componentDone <- g.Wait() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	logger.Info("fugue daemon started", "state_dir", opts.StateDir)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
		srv.Shutdown()
		dogs.Stop("")
		<-componentDone
		time.Sleep(200 * time.Millisecond)
	case err := <-componentDone:
		cancel()
		srv.Shutdown()
		dogs.Stop("")
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("daemon component failed: %w", err)
		}
	}

	if cfg.Persistence.Enabled {
		if err := store.Checkpoint(model.Snapshot()); err != nil {
			logger.Warn("final checkpoint failed", "err", err)
		}
		store.Close()
	}
	return nil
}

// resumePanes re-spawns a PTY for every pane the session model carries
// after recovery, using cmds' resume-aware command (with "--resume <id>"
// already injected for recognized agent CLIs per persist.Recover) rather
// than the model's own recorded command, which carries no resume flag.
// Panes with no recorded rows/cols (never resized by a client before the
// crash) fall back to a conservative 24x80.
func resumePanes(srv *server.Server, model *session.Model, cmds map[string][]string, logger *slog.Logger) {
	for _, view := range model.List() {
		for _, w := range view.Windows {
			for _, pv := range w.Panes {
				id, err := uuid.Parse(pv.ID)
				if err != nil {
					continue
				}
				pane, ok := model.Pane(id)
				if !ok {
					continue
				}
				command := cmds[pv.ID]
				if command == nil {
					command = pane.Command
				}
				rows, cols := pane.Rows, pane.Cols
				if rows == 0 {
					rows = 24
				}
				if cols == 0 {
					cols = 80
				}
				sessID, err := uuid.Parse(view.ID)
				if err != nil {
					continue
				}
				if err := srv.ResumePane(sessID, id, command, pane.CWD, rows, cols); err != nil {
					logger.Warn("resume pane failed", "pane", pv.ID, "err", err)
				}
			}
		}
	}
}

// checkpointLoop writes a full snapshot on a fixed interval so the WAL tail
// a crash must replay stays bounded, mirroring the interval-checkpoint
// behavior persistence.checkpoint_interval_secs documents.
func checkpointLoop(ctx context.Context, store *persist.StoreHandle, model *session.Model, intervalSecs int, logger *slog.Logger) {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	t := time.NewTicker(time.Duration(intervalSecs) * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := store.Checkpoint(model.Snapshot()); err != nil {
				logger.Warn("periodic checkpoint failed", "err", err)
			}
		}
	}
}
