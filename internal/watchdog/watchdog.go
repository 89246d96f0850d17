// Package watchdog implements named nudge timers and the human-priority
// arbiter that gates agent-originated pane writes. The ticker loop is
// grounded on the teacher's task-polling engine: a cancellable ticker plus
// per-tick error logging that never aborts the loop, generalized here from
// "poll for due tasks" to "write a nudge message to a pane on a timer".
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fugueterm/fugue/internal/protocol"
	"github.com/fugueterm/fugue/internal/session"
)

// submitDelay is the pause between writing a watchdog's message and its
// trailing carriage return, long enough for a TUI input box that treats
// the return as a separate submission event rather than part of the text.
const submitDelay = 200 * time.Millisecond

// Writer is the subset of server.Server a watchdog needs: write raw bytes
// to a pane's PTY. Kept as a narrow interface so this package never
// imports internal/server.
type Writer interface {
	WritePane(paneID session.ID, data []byte) error
}

type watchdog struct {
	name     string
	paneID   session.ID
	message  string
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// Manager owns every live named watchdog.
type Manager struct {
	writer Writer
	logger *slog.Logger

	mu   sync.Mutex
	dogs map[string]*watchdog
}

// NewManager returns a Manager that writes nudges through w.
func NewManager(w Writer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{writer: w, logger: logger, dogs: make(map[string]*watchdog)}
}

// Start creates (or replaces) a named watchdog that writes message to
// paneID every interval until stopped. Replacing an existing name cancels
// its previous task first.
func (m *Manager) Start(name string, paneID session.ID, interval time.Duration, message string) {
	m.mu.Lock()
	if existing, ok := m.dogs[name]; ok {
		existing.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &watchdog{name: name, paneID: paneID, message: message, interval: interval, cancel: cancel, done: make(chan struct{})}
	m.dogs[name] = d
	m.mu.Unlock()

	go m.run(ctx, d)
}

// Stop cancels the named watchdog. An empty name stops every watchdog.
func (m *Manager) Stop(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == "" {
		for n, d := range m.dogs {
			d.cancel()
			delete(m.dogs, n)
		}
		return
	}
	if d, ok := m.dogs[name]; ok {
		d.cancel()
		delete(m.dogs, name)
	}
}

// List returns the names of every currently running watchdog.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.dogs))
	for n := range m.dogs {
		names = append(names, n)
	}
	return names
}

func (m *Manager) run(ctx context.Context, d *watchdog) {
	defer close(d.done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.tick(ctx, d); err != nil {
				m.logger.Warn("watchdog tick failed", "name", d.name, "pane", d.paneID, "err", err)
			}
		}
	}
}

func (m *Manager) tick(ctx context.Context, d *watchdog) error {
	if err := m.writer.WritePane(d.paneID, []byte(d.message)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	select {
	case <-time.After(submitDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := m.writer.WritePane(d.paneID, []byte("\r")); err != nil {
		return fmt.Errorf("write carriage return: %w", err)
	}
	return nil
}

// Arbiter blocks agent-originated pane writes for a window after the last
// human keystroke to that same pane, so an agent can't race a person typing
// into the same terminal. It only ever gates input that originates from
// the control bridge; human input itself is never blocked, and output
// fan-out is untouched regardless of source.
type Arbiter struct {
	window time.Duration

	mu   sync.Mutex
	last map[session.ID]time.Time
}

// NewArbiter returns an Arbiter that blocks agent writes for window after
// each human write to the same pane. window <= 0 disables the gate.
func NewArbiter(window time.Duration) *Arbiter {
	return &Arbiter{window: window, last: make(map[session.ID]time.Time)}
}

// RecordHumanInput marks paneID as having just received human input.
func (a *Arbiter) RecordHumanInput(paneID session.ID) {
	if a.window <= 0 {
		return
	}
	a.mu.Lock()
	a.last[paneID] = time.Now()
	a.mu.Unlock()
}

// Check returns a UserPriorityActive error if an agent-originated write to
// paneID should currently be rejected because of recent human activity.
func (a *Arbiter) Check(paneID session.ID) error {
	if a.window <= 0 {
		return nil
	}
	a.mu.Lock()
	last, ok := a.last[paneID]
	a.mu.Unlock()
	if !ok {
		return nil
	}
	elapsed := time.Since(last)
	if elapsed >= a.window {
		return nil
	}
	remaining := a.window - elapsed
	return &protocol.ErrorDetail{
		Code:               protocol.CodeUserPriorityActive,
		Message:            "a human recently typed into this pane",
		RemainingBlockSecs: int(remaining.Seconds()) + 1,
	}
}
