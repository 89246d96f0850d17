package ptyproc

import (
	"bufio"
	"strings"
	"testing"
	"time"
)

func TestSpawnEchoAndReap(t *testing.T) {
	h, err := Spawn([]string{"/bin/sh", "-c", "echo hi; exit 3"}, "", nil, 24, 80)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer h.Close()

	sc := bufio.NewScanner(h.Master)
	found := false
	deadline := time.After(5 * time.Second)
	lines := make(chan string, 1)
	go func() {
		for sc.Scan() {
			if strings.Contains(sc.Text(), "hi") {
				lines <- sc.Text()
				return
			}
		}
	}()
	select {
	case <-lines:
		found = true
	case <-deadline:
	}
	if !found {
		t.Fatal("did not observe echoed output before timeout")
	}

	status := h.Reap()
	if status.Signaled {
		t.Fatalf("expected clean exit, got signaled")
	}
	if status.Code != 3 {
		t.Fatalf("expected exit code 3, got %d", status.Code)
	}
}

func TestResizeDoesNotError(t *testing.T) {
	h, err := Spawn([]string{"/bin/sh", "-c", "sleep 1"}, "", nil, 24, 80)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer h.Close()
	if err := h.Resize(30, 100); err != nil {
		t.Fatalf("resize: %v", err)
	}
	h.Reap()
}

func TestSpawnEmptyCommand(t *testing.T) {
	if _, err := Spawn(nil, "", nil, 24, 80); err == nil {
		t.Fatal("expected error for empty command")
	}
}
