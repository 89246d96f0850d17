// Package term wraps a VT100/ANSI state machine with bounded scrollback
// (C3). It is pure on its own state: process(bytes) does no I/O.
package term

import (
	"fmt"
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// DefaultScrollback is the default number of retained scrollback lines.
const DefaultScrollback = 1000

// Screen wraps charmbracelet/x/vt with ring-buffer scrollback capture via
// the emulator's ScrollOut callback. All methods are safe for concurrent
// use; callbacks fire inside Write, with mu already held.
type Screen struct {
	emu        *vt.Emulator
	scrollback []string
	sbHead     int
	sbLen      int

	mu           sync.Mutex
	altScreen    bool
	cursorHidden bool
	cols, rows   int
	title        string
	cwd          string
}

// New creates a Screen with the given dimensions and scrollback depth. A
// non-positive scrollback falls back to DefaultScrollback.
func New(cols, rows, scrollback int) *Screen {
	if scrollback <= 0 {
		scrollback = DefaultScrollback
	}
	s := &Screen{
		emu:        vt.NewEmulator(cols, rows),
		scrollback: make([]string, scrollback),
		cols:       cols,
		rows:       rows,
	}
	s.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			if s.altScreen {
				return
			}
			for _, line := range lines {
				rendered := line.Render()
				if s.sbLen == len(s.scrollback) {
					s.scrollback[s.sbHead] = ""
				}
				s.scrollback[s.sbHead] = rendered
				s.sbHead = (s.sbHead + 1) % len(s.scrollback)
				if s.sbLen < len(s.scrollback) {
					s.sbLen++
				}
			}
		},
		ScrollbackClear: func() {
			for i := range s.scrollback {
				s.scrollback[i] = ""
			}
			s.sbLen, s.sbHead = 0, 0
		},
		AltScreen: func(on bool) { s.altScreen = on },
		CursorVisibility: func(visible bool) {
			s.cursorHidden = !visible
		},
	})
	return s
}

// Write feeds PTY output to the emulator, then scans the same bytes for
// OSC 0/2 (title) and OSC 7 (cwd) sequences — tracked independently of the
// emulator's own callback set.
func (s *Screen) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanOSCLocked(p)
	return s.emu.Write(p)
}

// scanOSCLocked extracts the last complete OSC 0/2 title and OSC 7 cwd
// sequence found in p. Sequences are ESC ] Ps ; Pt (BEL | ESC \\).
func (s *Screen) scanOSCLocked(p []byte) {
	for i := 0; i+1 < len(p); i++ {
		if p[i] != 0x1b || p[i+1] != ']' {
			continue
		}
		start := i + 2
		semi := -1
		end := -1
		for j := start; j < len(p); j++ {
			if p[j] == ';' && semi < 0 {
				semi = j
			}
			if p[j] == 0x07 || (p[j] == 0x1b && j+1 < len(p) && p[j+1] == '\\') {
				end = j
				break
			}
		}
		if semi < 0 || end < 0 {
			continue
		}
		ps := string(p[start:semi])
		pt := string(p[semi+1 : end])
		switch ps {
		case "0", "2":
			s.title = pt
		case "7":
			s.cwd = pt
		}
		i = end
	}
}

// Resize changes the terminal dimensions. Reflow/truncation semantics
// follow charmbracelet/x/vt's own Resize;
// scrollback is preserved untouched.
func (s *Screen) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emu.Resize(cols, rows)
	s.cols, s.rows = cols, rows
}

// Title returns the last OSC 0/2 title seen, or "" if none.
func (s *Screen) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// WorkingDirectory returns the last OSC 7 cwd seen, or "" if none.
func (s *Screen) WorkingDirectory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// Snapshot renders a reconnect payload: scrollback + grid + cursor
// restore, valid ANSI any terminal emulator can consume directly.
func (s *Screen) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf strings.Builder
	lines := s.scrollbackLinesLocked()
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
	if len(lines) > 0 {
		for range s.rows - 1 {
			buf.WriteByte('\n')
		}
	}
	buf.WriteString("\x1b[m\x1b[H")
	buf.WriteString(s.emu.Render())

	pos := s.emu.CursorPosition()
	fmt.Fprintf(&buf, "\x1b[%d;%dH", pos.Y+1, pos.X+1)

	if s.cursorHidden {
		buf.WriteString("\x1b[?25l")
	} else {
		buf.WriteString("\x1b[?25h")
	}
	return []byte(buf.String())
}

// ScrollbackLen returns the number of scrollback lines currently stored.
func (s *Screen) ScrollbackLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sbLen
}

// Close releases the emulator's resources.
func (s *Screen) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emu.Close()
}

func (s *Screen) scrollbackLinesLocked() []string {
	if s.sbLen == 0 {
		return nil
	}
	lines := make([]string, s.sbLen)
	start := (s.sbHead - s.sbLen + len(s.scrollback)) % len(s.scrollback)
	for i := range s.sbLen {
		lines[i] = s.scrollback[(start+i)%len(s.scrollback)]
	}
	return lines
}
