package logger

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var shortTimePattern = regexp.MustCompile(`time="?\d{2}:\d{2}:\d{2}"?`)

func TestNewWritesToLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fugue.log")
	log, err := New("debug", path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("hello", "pane", "abc123")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello") || !strings.Contains(string(data), "pane=abc123") {
		t.Fatalf("expected log line with message and attr, got %q", data)
	}
}

func TestNewShortensTimeFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fugue.log")
	log, err := New("info", path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("tick")

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("expected at least one log line")
	}
	line := scanner.Text()
	// time=HH:MM:SS rather than a full RFC3339 timestamp.
	if !shortTimePattern.MatchString(line) {
		t.Fatalf("expected shortened HH:MM:SS time attribute, got %q", line)
	}
}

func TestNewDefaultsUnrecognizedLevelToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fugue.log")
	log, err := New("nonsense", path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("should not appear")
	log.Info("should appear")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), "should not appear") {
		t.Fatal("expected debug line to be filtered out at default info level")
	}
	if !strings.Contains(string(data), "should appear") {
		t.Fatal("expected info line to be written")
	}
}

func TestNewWithoutLogFileOnlyWritesStdout(t *testing.T) {
	log, err := New("info", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("no file configured")
}
