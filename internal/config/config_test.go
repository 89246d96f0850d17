package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.DefaultCommand != def.DefaultCommand {
		t.Fatalf("expected default command %q, got %q", def.DefaultCommand, cfg.DefaultCommand)
	}
	if !cfg.Persistence.Enabled || cfg.Persistence.CheckpointIntervalSecs != 30 {
		t.Fatalf("expected default persistence settings, got %+v", cfg.Persistence)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "fugue.yaml")
	cfg := Default()
	cfg.DefaultCommand = "/usr/bin/zsh"
	cfg.Arbiter.HumanPriorityWindowSecs = 45

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.DefaultCommand != "/usr/bin/zsh" {
		t.Fatalf("expected default command to round-trip, got %q", loaded.DefaultCommand)
	}
	if loaded.Arbiter.HumanPriorityWindowSecs != 45 {
		t.Fatalf("expected arbiter window to round-trip, got %d", loaded.Arbiter.HumanPriorityWindowSecs)
	}
}

func TestLoadInvalidYAMLReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fugue.yaml")
	if err := os.WriteFile(path, []byte("default_command: [unterminated"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error loading malformed YAML")
	}
}

func TestWatchFileReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fugue.yaml")
	if err := os.WriteFile(path, []byte("default_command: /bin/sh\n"), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	w, err := WatchFile(path, nil)
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	defer w.Close()

	if w.Current().DefaultCommand != "/bin/sh" {
		t.Fatalf("expected initial load, got %q", w.Current().DefaultCommand)
	}

	changed := make(chan *Config, 1)
	w.OnChange = func(cfg *Config) { changed <- cfg }

	if err := os.WriteFile(path, []byte("default_command: /bin/bash\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.DefaultCommand != "/bin/bash" {
			t.Fatalf("expected reloaded command /bin/bash, got %q", cfg.DefaultCommand)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	if w.Current().DefaultCommand != "/bin/bash" {
		t.Fatalf("expected Current() to reflect reload, got %q", w.Current().DefaultCommand)
	}
}

func TestWatchFileKeepsPreviousConfigOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fugue.yaml")
	if err := os.WriteFile(path, []byte("default_command: /bin/sh\n"), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	w, err := WatchFile(path, nil)
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("default_command: [broken"), 0o644); err != nil {
		t.Fatalf("write broken config: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if w.Current().DefaultCommand != "/bin/sh" {
		t.Fatalf("expected previous good config retained, got %q", w.Current().DefaultCommand)
	}
}

func TestDefaultStateDirUnderHome(t *testing.T) {
	dir, err := DefaultStateDir()
	if err != nil {
		t.Fatalf("DefaultStateDir: %v", err)
	}
	if filepath.Base(dir) != ".fugue" {
		t.Fatalf("expected dir named .fugue, got %q", dir)
	}
}
