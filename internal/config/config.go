// Package config loads fugue.yaml and watches it for live edits, adapted
// from the teacher's WingConfig: the same "unmarshal into a struct, no
// error if the file is simply absent" load shape, generalized from
// wing-specific settings to the daemon's own option set.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultStateDir returns ~/.fugue, the default home for fugue.yaml, the
// control socket, and the persistence directory, following the teacher's
// GetUserConfigDir's single dotdir-under-home shape (there ~/.wingthing).
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".fugue"), nil
}

// Persistence mirrors the `persistence.*` configuration options.
type Persistence struct {
	Enabled                bool   `yaml:"enabled"`
	Directory              string `yaml:"directory,omitempty"`
	CheckpointIntervalSecs int    `yaml:"checkpoint_interval_secs,omitempty"`
	WALFlushIntervalMs     int    `yaml:"wal_flush_interval_ms,omitempty"`
	ScrollbackLines        int    `yaml:"scrollback_lines,omitempty"`
}

// Arbiter mirrors the `arbiter.*` configuration options.
type Arbiter struct {
	HumanPriorityWindowSecs int `yaml:"human_priority_window_secs,omitempty"`
}

// Agent mirrors the `agent.*` configuration options.
type Agent struct {
	AutoResume          bool     `yaml:"auto_resume,omitempty"`
	ResumeFallback      string   `yaml:"resume_fallback,omitempty"` // shell | fresh_agent | error
	AutoAssignSessionID bool     `yaml:"auto_assign_session_id,omitempty"`
	CommandPrefixes     []string `yaml:"command_prefixes,omitempty"`
}

// BeadsQuery and BeadsWorkflow carry an external tool integration's own
// options as opaque passthrough fields — fugue's core never interprets
// them, matching the teacher's own pattern of carrying unknown/future
// settings through untyped fields rather than rejecting them.
type BeadsQuery struct {
	RefreshIntervalSecs int `yaml:"refresh_interval_secs,omitempty"`
	SocketTimeoutMs     int `yaml:"socket_timeout_ms,omitempty"`
}

type Beads struct {
	Query    BeadsQuery     `yaml:"query,omitempty"`
	Workflow map[string]any `yaml:"workflow,omitempty"`
}

// Config is fugue's top-level configuration file shape.
type Config struct {
	DefaultCommand string            `yaml:"default_command,omitempty"`
	PrefixKey      string            `yaml:"prefix_key,omitempty"`
	Keys           map[string]string `yaml:"keys,omitempty"`
	Persistence    Persistence       `yaml:"persistence,omitempty"`
	Arbiter        Arbiter           `yaml:"arbiter,omitempty"`
	Agent          Agent             `yaml:"agent,omitempty"`
	Beads          Beads             `yaml:"beads,omitempty"`
}

// Default returns a Config with every option at its documented default.
func Default() *Config {
	return &Config{
		DefaultCommand: "/bin/sh",
		Persistence: Persistence{
			Enabled:                true,
			CheckpointIntervalSecs: 30,
			WALFlushIntervalMs:     50,
			ScrollbackLines:        10000,
		},
		Agent: Agent{
			AutoResume:      true,
			ResumeFallback:  "shell",
			CommandPrefixes: []string{"claude", "codex", "wt", "agent"},
		},
	}
}

// Load reads path into a fresh Config seeded with defaults. A missing file
// is not an error — the defaults are returned as-is, matching the
// teacher's LoadWingConfig returning a zero-value config when wing.yaml
// doesn't exist yet.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating its parent directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Watcher reloads a Config from disk whenever the file changes, handing
// the latest parsed value to OnChange. Parse errors on reload are logged
// and the previous good config is kept in place rather than torn down.
type Watcher struct {
	path     string
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
	done     chan struct{}
	OnChange func(*Config)

	mu      sync.RWMutex
	current *Config
}

// WatchFile starts watching path for changes, delivering an initial load
// immediately and every subsequent write/rename/create event after a short
// debounce (many editors replace a file via rename-into-place, which
// fsnotify reports as separate Remove+Create events in quick succession).
func WatchFile(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}
	w := &Watcher{path: path, logger: logger, fsw: fsw, done: make(chan struct{}), current: cfg}
	go w.run()
	return w, nil
}

// Current returns the most recently successfully loaded Config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) run() {
	defer close(w.done)
	var reload <-chan time.Time
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			t := time.NewTimer(100 * time.Millisecond)
			reload = t.C
		case <-reload:
			reload = nil
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed, keeping previous config", "path", w.path, "err", err)
				continue
			}
			w.mu.Lock()
			w.current = cfg
			w.mu.Unlock()
			if w.OnChange != nil {
				w.OnChange(cfg)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "err", err)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
