// Package pump implements the per-pane output pump (C6): one goroutine per
// live pane reading from its PTY, feeding bytes through the terminal
// emulator and sideband parser, and fanning the resulting display bytes
// out to every attached client at its own pace.
//
// The cursor-based multi-reader buffer is grounded on the teacher's
// replay buffer (a bounded ring plus a monotonically increasing write
// cursor, with each reader tracking its own read position instead of the
// pump tracking per-reader state) — adapted here from a single
// replay-on-reconnect buffer to a live fan-out buffer serving any number
// of concurrently attached readers, since fugue allows N clients to
// attach to the same pane at once.
package pump

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/fugueterm/fugue/internal/ptyproc"
	"github.com/fugueterm/fugue/internal/session"
	"github.com/fugueterm/fugue/internal/sideband"
	"github.com/fugueterm/fugue/internal/term"
)

// DefaultBufferSize bounds the fan-out ring in bytes.
const DefaultBufferSize = 256 * 1024

// ReadChunkSize is the size of each read from the PTY master.
const ReadChunkSize = 4096

// staleTagCheckInterval governs how often a pump checks for a sideband tag
// buffered past its release timeout.
const staleTagCheckInterval = 500 * time.Millisecond

// Command mirrors sideband.Command plus the pane id it originated from,
// for delivery to whatever owns command dispatch (the server layer).
type Command struct {
	PaneID session.ID
	sideband.Command
}

// Pump owns one pane's read loop: PTY -> term.Screen -> ring buffer,
// with sideband commands routed to Commands. Done is closed once Run
// returns (PTY read error or end-of-stream, or context cancellation).
type Pump struct {
	PaneID session.ID

	handle *ptyproc.Handle
	screen *term.Screen
	sb     *sideband.Parser

	mu      sync.Mutex
	ring    []byte
	cursor  int64 // total bytes ever written, i.e. end of ring maps to this
	closed  bool
	waiters []chan struct{}

	Commands chan Command
	done      chan struct{}
}

// New creates a pump for a pane backed by handle, rendering into a screen
// of the given size, with sideband commands delivered to a buffered
// channel the caller must drain.
func New(paneID session.ID, handle *ptyproc.Handle, cols, rows int) *Pump {
	return &Pump{
		PaneID:   paneID,
		handle:   handle,
		screen:   term.New(cols, rows, term.DefaultScrollback),
		sb:       sideband.New(),
		ring:     make([]byte, 0, DefaultBufferSize),
		Commands: make(chan Command, 64),
		done:     make(chan struct{}),
	}
}

// Screen returns the terminal emulator backing this pump, for snapshot /
// resize access from the server layer (guarded internally by its own
// mutex, not this Pump's).
func (p *Pump) Screen() *term.Screen { return p.screen }

// Run drives the read loop until the PTY closes or ctx is cancelled. It
// must be started in its own goroutine; Done() signals completion.
func (p *Pump) Run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(staleTagCheckInterval)
	defer ticker.Stop()

	reads := make(chan []byte)
	readErrs := make(chan error, 1)
	go func() {
		buf := make([]byte, ReadChunkSize)
		for {
			n, err := p.handle.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				select {
				case reads <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErrs <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readErrs:
			return
		case chunk := <-reads:
			p.ingest(chunk)
		case <-ticker.C:
			if stale := p.sb.ReleaseStalePending(); stale != nil {
				p.ingest(stale)
			}
		}
	}
}

// ingest runs raw bytes through the sideband parser and terminal emulator
// and appends the resulting display bytes to the fan-out ring, waking any
// blocked readers.
func (p *Pump) ingest(chunk []byte) {
	display, cmds := p.sb.Parse(chunk)
	if len(display) > 0 {
		p.screen.Write(display)
	}
	for _, c := range cmds {
		select {
		case p.Commands <- Command{PaneID: p.PaneID, Command: c}:
		default:
			// Command channel full: drop rather than block the pump: a
			// slow consumer should not stall pane output.
		}
	}

	p.mu.Lock()
	p.appendLocked(display)
	p.cursor += int64(len(display))
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

func (p *Pump) appendLocked(b []byte) {
	if len(b) == 0 {
		return
	}
	p.ring = append(p.ring, b...)
	if over := len(p.ring) - DefaultBufferSize; over > 0 {
		p.ring = p.ring[over:]
	}
}

// Cursor returns the current write position, usable as a starting offset
// for ReadFrom.
func (p *Pump) Cursor() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// ReadFrom returns bytes written since offset, or waits (up to ctx's
// deadline/cancellation) for new bytes if offset == current cursor. The
// returned offset is the new cursor to pass on the next call. If offset is
// older than what the ring retains, the oldest available bytes are
// returned instead (a client that falls too far behind sees a gap, not an
// error (coalescing).
func (p *Pump) ReadFrom(ctx context.Context, offset int64) ([]byte, int64, error) {
	for {
		p.mu.Lock()
		if offset < p.cursor {
			start := p.cursor - int64(len(p.ring))
			if offset < start {
				offset = start
			}
			begin := len(p.ring) - int(p.cursor-offset)
			out := append([]byte(nil), p.ring[begin:]...)
			newOffset := p.cursor
			p.mu.Unlock()
			return out, newOffset, nil
		}
		if p.closed {
			p.mu.Unlock()
			return nil, offset, io.EOF
		}
		wait := make(chan struct{})
		p.waiters = append(p.waiters, wait)
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, offset, ctx.Err()
		}
	}
}

// Write sends bytes to the PTY (keyboard input), subject to whatever
// arbitration the caller has already applied.
func (p *Pump) Write(b []byte) (int, error) {
	return p.handle.Write(b)
}

// Resize propagates a size change to both the PTY and the terminal
// emulator.
func (p *Pump) Resize(rows, cols int) error {
	p.screen.Resize(cols, rows)
	return p.handle.Resize(rows, cols)
}

// Close marks the pump closed and wakes any blocked readers with io.EOF.
// It does not close the underlying PTY handle; callers own that
// lifecycle (mirrors ptyproc.Handle's own explicit Close split from Reap).
func (p *Pump) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// Done signals when Run has returned.
func (p *Pump) Done() <-chan struct{} { return p.done }
