package pump

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fugueterm/fugue/internal/ptyproc"
	"github.com/fugueterm/fugue/internal/session"
)

func spawnPump(t *testing.T, script string) *Pump {
	t.Helper()
	h, err := ptyproc.Spawn([]string{"/bin/sh", "-c", script}, "", nil, 24, 80)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return New(session.NewID(), h, 80, 24)
}

func TestPumpRunDeliversOutput(t *testing.T) {
	p := spawnPump(t, "echo hello-pump")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go p.Run(ctx)

	data, _, err := p.ReadFrom(ctx, 0)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for !strings.Contains(string(data), "hello-pump") {
		select {
		case <-deadline:
			t.Fatalf("did not see expected output, got %q", data)
		default:
		}
		more, _, err := p.ReadFrom(ctx, p.Cursor())
		if err != nil {
			break
		}
		data = append(data, more...)
	}
}

func TestPumpSidebandCommandRouted(t *testing.T) {
	p := spawnPump(t, `printf '<fugue:notify msg="done"/>plain\n'`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go p.Run(ctx)

	select {
	case cmd := <-p.Commands:
		if cmd.Name != "notify" || cmd.Attrs["msg"] != "done" {
			t.Fatalf("unexpected command: %+v", cmd)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for sideband command")
	}
}

func TestPumpReadFromRespectsContextCancel(t *testing.T) {
	p := spawnPump(t, "sleep 5")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go p.Run(ctx)

	readCtx, readCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer readCancel()
	_, _, err := p.ReadFrom(readCtx, p.Cursor())
	if err == nil {
		t.Fatal("expected context deadline error when no new output arrives")
	}
}

func TestPumpCloseWakesReaders(t *testing.T) {
	p := spawnPump(t, "sleep 5")
	done := make(chan error, 1)
	go func() {
		_, _, err := p.ReadFrom(context.Background(), p.Cursor())
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	p.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected io.EOF after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrom did not wake up after Close")
	}
}
