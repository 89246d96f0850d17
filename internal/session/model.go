package session

import (
	"sync"
	"time"

	"github.com/fugueterm/fugue/internal/protocol"
)

// Model is the in-memory session/window/pane tree, guarded by a single
// reader/writer lock. Readers (List, View) may run concurrently;
// writers (every Create/Destroy/mutation) exclude all — and never suspend
// while holding the lock ("mutations are short and never
// suspend while holding the write lock; I/O happens outside the critical
// section".
type Model struct {
	mu sync.RWMutex

	sessions map[ID]*Session
	windows  map[ID]*Window
	panes    map[ID]*Pane
	names    map[string]ID // session name → id, for uniqueness
}

// NewModel returns an empty session model.
func NewModel() *Model {
	return &Model{
		sessions: make(map[ID]*Session),
		windows:  make(map[ID]*Window),
		panes:    make(map[ID]*Pane),
		names:    make(map[string]ID),
	}
}

// CreateSession adds a new, windowless session. name must be unique; pass
// "" to auto-name (session-<shortid>).
func (m *Model) CreateSession(name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := NewID()
	if name == "" {
		name = "session-" + id.String()[:8]
	}
	if _, exists := m.names[name]; exists {
		return nil, protocol.ErrDuplicateName
	}
	s := &Session{ID: id, Name: name, CreatedAt: time.Now(), Metadata: map[string]string{}}
	m.sessions[id] = s
	m.names[name] = id
	return s, nil
}

// RenameSession renames id to name. Renaming to the current name is a
// no-op success.
func (m *Model) RenameSession(id ID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return protocol.ErrSessionNotFound
	}
	if s.Name == name {
		return nil
	}
	if _, exists := m.names[name]; exists {
		return protocol.ErrDuplicateName
	}
	delete(m.names, s.Name)
	s.Name = name
	m.names[name] = id
	return nil
}

// SetMetadata writes a metadata key/value on session id.
func (m *Model) SetMetadata(id ID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return protocol.ErrSessionNotFound
	}
	if s.Metadata == nil {
		s.Metadata = map[string]string{}
	}
	s.Metadata[key] = value
	return nil
}

// CreateWindow adds a window with a single pane to session sessID. The new
// pane is returned alongside the window so the caller can spawn its PTY.
func (m *Model) CreateWindow(sessID ID, name string, rows, cols int, command []string, cwd string, env map[string]string) (*Window, *Pane, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessID]
	if !ok {
		return nil, nil, protocol.ErrSessionNotFound
	}

	wid, pid := NewID(), NewID()
	pane := &Pane{
		ID: pid, WindowID: wid, SessionID: sessID, Index: 0,
		Rows: rows, Cols: cols, Command: command, CWD: cwd, Env: env, HasPTY: true,
	}
	win := &Window{
		ID: wid, SessionID: sessID, Name: name,
		PaneOrder: []ID{pid}, FocusedPane: pid,
		Layout: NewLeaf(pid),
	}
	m.panes[pid] = pane
	m.windows[wid] = win
	s.WindowOrder = append(s.WindowOrder, wid)
	s.FocusedWindow = wid
	return win, pane, nil
}

// SplitPane splits the window containing paneID, inserting a new pane at
// the given ratio. Returns the new pane.
func (m *Model) SplitPane(paneID ID, direction Direction, ratio float64, command []string, cwd string, env map[string]string) (*Pane, error) {
	if ratio <= 0 {
		ratio = 0.5
	}
	if ratio < 0.1 || ratio > 0.9 {
		return nil, protocol.ErrInvalidRatio
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pane, ok := m.panes[paneID]
	if !ok {
		return nil, protocol.ErrPaneNotFound
	}
	win, ok := m.windows[pane.WindowID]
	if !ok {
		return nil, protocol.ErrWindowNotFound
	}

	newID := NewID()
	if !splitLeaf(win.Layout, paneID, direction, ratio, newID) {
		return nil, protocol.ErrPaneNotFound
	}

	newPane := &Pane{
		ID: newID, WindowID: win.ID, SessionID: win.SessionID,
		Index: len(win.PaneOrder), Rows: pane.Rows, Cols: pane.Cols,
		Command: command, CWD: cwd, Env: env, HasPTY: true,
	}
	m.panes[newID] = newPane
	win.PaneOrder = append(win.PaneOrder, newID)
	win.FocusedPane = newID
	return newPane, nil
}

// SelectPane updates the session's focused window and that window's
// focused pane atomically.
func (m *Model) SelectPane(paneID ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pane, ok := m.panes[paneID]
	if !ok {
		return protocol.ErrPaneNotFound
	}
	win := m.windows[pane.WindowID]
	sess := m.sessions[pane.SessionID]
	win.FocusedPane = paneID
	sess.FocusedWindow = win.ID
	return nil
}

// Resize updates a pane's recorded dimensions (the caller separately tells
// ptyproc and term about the new size).
func (m *Model) Resize(paneID ID, rows, cols int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.panes[paneID]
	if !ok {
		return protocol.ErrPaneNotFound
	}
	p.Rows, p.Cols = rows, cols
	return nil
}

// ResizeLayout adjusts the ratios of the children of the node reached by
// following parentPath from windowID's layout root. childIndex selects
// which child's ratio to
// set directly; siblings renormalize around it.
func (m *Model) ResizeLayout(windowID ID, parentPath []int, childIndex int, ratio float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	win, ok := m.windows[windowID]
	if !ok {
		return protocol.ErrWindowNotFound
	}
	node := win.Layout
	for _, idx := range parentPath {
		if node == nil || node.Leaf || idx < 0 || idx >= len(node.Children) {
			return protocol.ErrInvalidRatio
		}
		node = node.Children[idx]
	}
	if !resizeRatio(node, childIndex, ratio) {
		return protocol.ErrInvalidRatio
	}
	return nil
}

// MarkPaneDead records that paneID's PTY has exited, without removing it
// from the tree — the cascade (ClosePane) is a separate call, which the
// server's exit handler makes right after this one.
func (m *Model) MarkPaneDead(paneID ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.panes[paneID]; ok {
		p.HasPTY = false
	}
}

// CascadeResult reports what was removed by ClosePane, for the handler to
// turn into WAL entries and broadcasts.
type CascadeResult struct {
	PaneID          ID
	WindowRemoved   bool
	WindowID        ID
	SessionRemoved  bool
	SessionID       ID
	NewFocusedPane  ID
	NewFocusedWin   ID
}

// ClosePane removes paneID, transferring focus to the next pane by index
// (wrapping); if the window becomes empty it is removed and focus moves to
// the session's next window; if the session becomes empty it is removed
// too.
func (m *Model) ClosePane(paneID ID) (CascadeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pane, ok := m.panes[paneID]
	if !ok {
		return CascadeResult{}, protocol.ErrPaneNotFound
	}
	win, ok := m.windows[pane.WindowID]
	if !ok {
		return CascadeResult{}, protocol.ErrWindowNotFound
	}
	sess, ok := m.sessions[win.SessionID]
	if !ok {
		return CascadeResult{}, protocol.ErrSessionNotFound
	}

	idx := indexOf(win.PaneOrder, paneID)
	win.PaneOrder = removeAt(win.PaneOrder, idx)
	win.Layout, _ = closeLeaf(win.Layout, paneID)
	delete(m.panes, paneID)

	result := CascadeResult{PaneID: paneID, WindowID: win.ID, SessionID: sess.ID}

	if len(win.PaneOrder) == 0 {
		// Window becomes empty: remove it, transfer focus to the next window.
		delete(m.windows, win.ID)
		wIdx := indexOf(sess.WindowOrder, win.ID)
		sess.WindowOrder = removeAt(sess.WindowOrder, wIdx)
		result.WindowRemoved = true

		if len(sess.WindowOrder) == 0 {
			delete(m.sessions, sess.ID)
			delete(m.names, sess.Name)
			result.SessionRemoved = true
			return result, nil
		}
		nextIdx := wIdx
		if nextIdx >= len(sess.WindowOrder) {
			nextIdx = 0
		}
		nextWin := m.windows[sess.WindowOrder[nextIdx]]
		sess.FocusedWindow = nextWin.ID
		result.NewFocusedWin = nextWin.ID
		result.NewFocusedPane = nextWin.FocusedPane
		return result, nil
	}

	// Window still has panes: move focus to the next pane by index, wrapping.
	nextIdx := idx
	if nextIdx >= len(win.PaneOrder) {
		nextIdx = 0
	}
	win.FocusedPane = win.PaneOrder[nextIdx]
	result.NewFocusedPane = win.FocusedPane
	result.NewFocusedWin = win.ID
	return result, nil
}

// DestroySession removes a session and everything under it explicitly.
func (m *Model) DestroySession(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return protocol.ErrSessionNotFound
	}
	for _, wid := range s.WindowOrder {
		if w, ok := m.windows[wid]; ok {
			for _, pid := range w.PaneOrder {
				delete(m.panes, pid)
			}
			delete(m.windows, wid)
		}
	}
	delete(m.sessions, id)
	delete(m.names, s.Name)
	return nil
}

// View returns a read-only snapshot of session id for serialization onto
// the wire (Attached/SessionList messages).
func (m *Model) View(id ID) (protocol.SessionView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return protocol.SessionView{}, protocol.ErrSessionNotFound
	}
	return s.view(m.windows, m.panes), nil
}

// ViewByName resolves a session by name (AttachSession without an id).
func (m *Model) ViewByName(name string) (protocol.SessionView, error) {
	m.mu.RLock()
	id, ok := m.names[name]
	m.mu.RUnlock()
	if !ok {
		return protocol.SessionView{}, protocol.ErrSessionNotFound
	}
	return m.View(id)
}

// List returns a read-only snapshot of every live session.
func (m *Model) List() []protocol.SessionView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]protocol.SessionView, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.view(m.windows, m.panes))
	}
	return out
}

// Pane returns a copy of pane metadata for internal callers (the output
// pump, the sideband executor) that need more than the wire view exposes.
func (m *Model) Pane(id ID) (Pane, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.panes[id]
	if !ok {
		return Pane{}, false
	}
	return *p, true
}

// Window returns a copy of window metadata (pane order, focus, layout
// tree) for callers that need to anchor a split against the window's
// currently focused pane.
func (m *Model) Window(id ID) (Window, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.windows[id]
	if !ok {
		return Window{}, false
	}
	return *w, true
}

// SetAgentSessionID records the agent-session-id used for recovery resume
// injection.
func (m *Model) SetAgentSessionID(paneID ID, agentSessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.panes[paneID]
	if !ok {
		return protocol.ErrPaneNotFound
	}
	p.AgentSessionID = agentSessionID
	return nil
}

// SetStatus records a pane's status label (from a sideband `status` command).
func (m *Model) SetStatus(paneID ID, state, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.panes[paneID]
	if !ok {
		return protocol.ErrPaneNotFound
	}
	p.Status = state
	if message != "" {
		p.Status = state + ": " + message
	}
	return nil
}

// CheckInvariants validates the layout and focus invariants against the
// current tree. Intended for tests and defensive assertions, not the hot
// path.
func (m *Model) CheckInvariants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var problems []string
	for _, s := range m.sessions {
		if len(s.WindowOrder) > 0 {
			if _, ok := m.windows[s.FocusedWindow]; !ok {
				problems = append(problems, "session "+s.Name+": focused window not in tree")
			}
		}
		if _, dup := m.names[s.Name]; !dup {
			problems = append(problems, "session "+s.Name+": missing from name index")
		}
	}
	for _, w := range m.windows {
		if len(w.PaneOrder) > 0 {
			if _, ok := m.panes[w.FocusedPane]; !ok {
				problems = append(problems, "window "+w.ID.String()+": focused pane not in tree")
			}
		}
		if !validateLayout(w.Layout, w.PaneOrder) {
			problems = append(problems, "window "+w.ID.String()+": layout leaves != pane order")
		}
		if !ratioSumsValid(w.Layout) {
			problems = append(problems, "window "+w.ID.String()+": ratios do not sum to 1")
		}
	}
	return problems
}

// ModelSnapshot is a full, serializable dump of the tree, used by the persistence
// layer to write checkpoints and to rebuild the model on recovery.
type ModelSnapshot struct {
	Sessions []Session
	Windows  []Window
	Panes    []Pane
}

// Snapshot captures every session, window, and pane (including the layout
// tree) for a checkpoint write. Safe to call concurrently with normal
// traffic; it only holds the read lock.
func (m *Model) Snapshot() ModelSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := ModelSnapshot{
		Sessions: make([]Session, 0, len(m.sessions)),
		Windows:  make([]Window, 0, len(m.windows)),
		Panes:    make([]Pane, 0, len(m.panes)),
	}
	for _, s := range m.sessions {
		snap.Sessions = append(snap.Sessions, *s)
	}
	for _, w := range m.windows {
		snap.Windows = append(snap.Windows, *w)
	}
	for _, p := range m.panes {
		snap.Panes = append(snap.Panes, *p)
	}
	return snap
}

// Restore replaces the model's entire state with snap, rebuilding the
// name-uniqueness index. Intended for startup recovery only, before the client socket
// is opened — it does not merge with any existing state.
func (m *Model) Restore(snap ModelSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = make(map[ID]*Session, len(snap.Sessions))
	m.names = make(map[string]ID, len(snap.Sessions))
	for _, s := range snap.Sessions {
		cp := s
		m.sessions[s.ID] = &cp
		m.names[s.Name] = s.ID
	}
	m.windows = make(map[ID]*Window, len(snap.Windows))
	for _, w := range snap.Windows {
		cp := w
		m.windows[w.ID] = &cp
	}
	m.panes = make(map[ID]*Pane, len(snap.Panes))
	for _, p := range snap.Panes {
		cp := p
		m.panes[p.ID] = &cp
	}
}

func indexOf(ids []ID, target ID) int {
	for i, id := range ids {
		if id == target {
			return i
		}
	}
	return -1
}

func removeAt(ids []ID, idx int) []ID {
	if idx < 0 || idx >= len(ids) {
		return ids
	}
	return append(ids[:idx], ids[idx+1:]...)
}
