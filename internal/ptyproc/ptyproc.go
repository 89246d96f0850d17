// Package ptyproc owns the PTY driver (C2): spawning child processes
// attached to pseudo-terminals and exposing read/write/resize/reap.
package ptyproc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Handle is an owned PTY-backed process. The caller owns Master (the
// blocking reader/writer) and must call Reap (or let Wait finish) to
// release resources.
type Handle struct {
	Master *os.File
	cmd    *exec.Cmd
	done   chan struct{}
	exit   ExitStatus
}

// ExitStatus reports how a child terminated. Signaled is true when the
// process died from a signal rather than returning a code — treated as a
// crash by callers.
type ExitStatus struct {
	Code     int
	Signaled bool
}

// Spawn starts command in cwd with env, attached to a new PTY sized
// rows×cols. The slave fd is released in the parent by pty.StartWithSize
// itself; callers never see it, which avoids the indefinite read hang spec
// §4.2 calls out when a child exits and the parent still holds the slave.
func Spawn(command []string, cwd string, env []string, rows, cols int) (*Handle, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("spawn: empty command")
	}
	// os/exec rejects a non-nil Cancel on a Cmd not built by CommandContext.
	cmd := exec.CommandContext(context.Background(), command[0], command[1:]...)
	cmd.Env = env
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	size := &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}
	master, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	h := &Handle{Master: master, cmd: cmd, done: make(chan struct{})}
	go h.wait()
	return h, nil
}

// wait blocks until the child exits, records its ExitStatus, and closes
// done so Reap can observe it without blocking twice.
func (h *Handle) wait() {
	err := h.cmd.Wait()
	switch e := err.(type) {
	case nil:
		h.exit = ExitStatus{Code: 0}
	case *exec.ExitError:
		if ws, ok := e.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			h.exit = ExitStatus{Signaled: true}
		} else {
			h.exit = ExitStatus{Code: e.ExitCode()}
		}
	default:
		h.exit = ExitStatus{Code: 1}
	}
	close(h.done)
}

// Write sends bytes to the PTY master. Callers must chunk large writes
// themselves; Write may block if the
// kernel's PTY buffer is full.
func (h *Handle) Write(p []byte) (int, error) {
	return h.Master.Write(p)
}

// Read reads from the PTY master. A 0-byte read with io.EOF (or EIO on some
// platforms) signals the child has exited — callers treat that as the
// start of the PaneClosed cascade, not an error.
func (h *Handle) Read(p []byte) (int, error) {
	return h.Master.Read(p)
}

// Resize delivers a window-size change to the child via the PTY.
func (h *Handle) Resize(rows, cols int) error {
	return pty.Setsize(h.Master, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Reap blocks until the child has exited and returns its ExitStatus. Safe
// to call multiple times or concurrently with the background wait.
func (h *Handle) Reap() ExitStatus {
	<-h.done
	return h.exit
}

// Done returns a channel closed when the child has exited, for use in
// select statements (output pump's read loop).
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Close releases the master fd. Call after Reap or once the output pump
// has observed end-of-stream.
func (h *Handle) Close() error {
	return h.Master.Close()
}

// PID returns the child process id, or 0 if the process failed to start.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}
