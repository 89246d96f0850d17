// Package session owns the session→window→pane model (C4): an in-memory
// tree, guarded by a single reader/writer
// lock.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/fugueterm/fugue/internal/protocol"
)

// ID is a 128-bit identifier, generated once and never reused.
type ID = uuid.UUID

// NewID generates a fresh identifier.
func NewID() ID { return uuid.New() }

// Pane owns one PTY handle and one terminal parser.
type Pane struct {
	ID             ID
	WindowID       ID
	SessionID      ID
	Index          int
	Rows, Cols     int
	Command        []string
	CWD            string
	Env            map[string]string
	HasPTY         bool // false once the PTY handle is gone (dead pane)
	AgentSessionID string
	Status         string
	Tags           []string
}

// View converts a pane snapshot into its wire representation, for callers
// outside the package that hold a Pane value from Model.Pane.
func (p Pane) View() protocol.PaneView {
	return (&p).view()
}

func (p *Pane) view() protocol.PaneView {
	return protocol.PaneView{
		ID:             p.ID.String(),
		Index:          p.Index,
		Rows:           p.Rows,
		Cols:           p.Cols,
		Command:        joinCommand(p.Command),
		CWD:            p.CWD,
		Alive:          p.HasPTY,
		Status:         p.Status,
		Tags:           append([]string(nil), p.Tags...),
		AgentSessionID: p.AgentSessionID,
	}
}

func joinCommand(cmd []string) string {
	out := ""
	for i, c := range cmd {
		if i > 0 {
			out += " "
		}
		out += c
	}
	return out
}

// Window is owned by exactly one session.
type Window struct {
	ID          ID
	SessionID   ID
	Name        string
	PaneOrder   []ID // ordered list of pane ids
	FocusedPane ID
	Layout      *LayoutNode
}

func (w *Window) view(panes map[ID]*Pane) protocol.WindowView {
	wv := protocol.WindowView{
		ID:          w.ID.String(),
		Name:        w.Name,
		FocusedPane: w.FocusedPane.String(),
	}
	for _, pid := range w.PaneOrder {
		if p, ok := panes[pid]; ok {
			wv.Panes = append(wv.Panes, p.view())
		}
	}
	return wv
}

// Session is a named handle grouping one or more windows.
type Session struct {
	ID            ID
	Name          string
	WindowOrder   []ID
	FocusedWindow ID
	CreatedAt     time.Time
	Metadata      map[string]string
}

func (s *Session) view(windows map[ID]*Window, panes map[ID]*Pane) protocol.SessionView {
	sv := protocol.SessionView{
		ID:            s.ID.String(),
		Name:          s.Name,
		FocusedWindow: s.FocusedWindow.String(),
		CreatedAt:     s.CreatedAt,
		Metadata:      s.Metadata,
	}
	for _, wid := range s.WindowOrder {
		if w, ok := windows[wid]; ok {
			sv.Windows = append(sv.Windows, w.view(panes))
		}
	}
	return sv
}
