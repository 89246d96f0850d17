package persist

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/fugueterm/fugue/internal/protocol"
	"github.com/fugueterm/fugue/internal/session"
)

// DefaultAgentCommandPrefixes is the default value of the
// agent.command_prefixes config option.
var DefaultAgentCommandPrefixes = []string{"claude", "codex", "wt", "agent"}

// Recovered is the result of replaying on-disk state at startup: a
// rebuilt session model plus the exact command each pane should be
// re-spawned with.
type Recovered struct {
	Model *session.Model
	// SpawnCommands maps pane id (string form) to the command it should
	// be spawned with, resume-flag already injected where applicable.
	SpawnCommands map[string][]string
}

// Recover loads the newest valid checkpoint under dir (if any), replays
// every WAL entry written since, and returns a rebuilt model plus each
// live pane's resume-aware spawn command. It does not open the WAL for
// new writes; call Open separately once recovery completes.
func Recover(dir string, agentPrefixes []string) (*Recovered, error) {
	if len(agentPrefixes) == 0 {
		agentPrefixes = DefaultAgentCommandPrefixes
	}
	ckptDir := filepath.Join(dir, "checkpoints")
	walPath := filepath.Join(dir, "wal", "wal.log")

	base := session.ModelSnapshot{}
	if cf, ok := latestValidCheckpoint(ckptDir); ok {
		base = cf.Snapshot
	}

	entries, err := ReadWAL(walPath)
	if err != nil {
		return nil, err
	}

	r := newReplayState(base)
	for _, e := range entries {
		r.apply(e)
	}

	model := session.NewModel()
	model.Restore(r.snapshot())

	spawnCmds := make(map[string][]string, len(r.panes))
	for id, p := range r.panes {
		spawnCmds[id] = resumeCommand(p.Command, p.AgentSessionID, agentPrefixes)
	}

	return &Recovered{Model: model, SpawnCommands: spawnCmds}, nil
}

// resumeCommand returns command unchanged unless it looks like an agent
// CLI invocation with a recorded agent-session-id and no resume flag of
// its own already, in which case it appends "--resume <id>".
func resumeCommand(command []string, agentSessionID string, prefixes []string) []string {
	if agentSessionID == "" || len(command) == 0 {
		return command
	}
	if !hasPrefix(command[0], prefixes) {
		return command
	}
	for _, arg := range command[1:] {
		if arg == "--resume" || arg == "--session-id" || strings.HasPrefix(arg, "--resume=") || strings.HasPrefix(arg, "--session-id=") {
			return command
		}
	}
	out := make([]string, len(command), len(command)+2)
	copy(out, command)
	return append(out, "--resume", agentSessionID)
}

func hasPrefix(bin string, prefixes []string) bool {
	base := filepath.Base(bin)
	for _, p := range prefixes {
		if base == p {
			return true
		}
	}
	return false
}

// replayState accumulates a ModelSnapshot's worth of structures while
// walking WAL entries in order.
type replayState struct {
	sessions map[string]session.Session
	windows  map[string]session.Window
	panes    map[string]session.Pane
}

func newReplayState(base session.ModelSnapshot) *replayState {
	r := &replayState{
		sessions: make(map[string]session.Session, len(base.Sessions)),
		windows:  make(map[string]session.Window, len(base.Windows)),
		panes:    make(map[string]session.Pane, len(base.Panes)),
	}
	for _, s := range base.Sessions {
		r.sessions[s.ID.String()] = s
	}
	for _, w := range base.Windows {
		r.windows[w.ID.String()] = w
	}
	for _, p := range base.Panes {
		r.panes[p.ID.String()] = p
	}
	return r
}

func (r *replayState) snapshot() session.ModelSnapshot {
	snap := session.ModelSnapshot{}
	for _, s := range r.sessions {
		snap.Sessions = append(snap.Sessions, s)
	}
	for _, w := range r.windows {
		snap.Windows = append(snap.Windows, w)
	}
	for _, p := range r.panes {
		snap.Panes = append(snap.Panes, p)
	}
	return snap
}

func (r *replayState) apply(e Entry) {
	switch e.Kind {
	case KindSessionCreated:
		var p SessionCreatedPayload
		if decodePayload(e, &p) != nil {
			return
		}
		id, err := uuid.Parse(p.Session.ID)
		if err != nil {
			return
		}
		r.sessions[p.Session.ID] = session.Session{
			ID: id, Name: p.Session.Name, CreatedAt: p.Session.CreatedAt,
			Metadata: cloneMetadata(p.Session.Metadata),
		}

	case KindWindowCreated:
		var p WindowCreatedPayload
		if decodePayload(e, &p) != nil {
			return
		}
		r.applyWindowCreated(p.SessionID, p.Window)

	case KindPaneCreated:
		var p PaneCreatedPayload
		if decodePayload(e, &p) != nil {
			return
		}
		r.applyPaneCreated(p.SessionID, p.WindowID, p.Pane)

	case KindPaneClosed:
		var p PaneClosedPayload
		if decodePayload(e, &p) != nil {
			return
		}
		r.applyPaneClosed(p.SessionID, p.WindowID, p.PaneID)

	case KindSessionDestroyed:
		var p SessionDestroyedPayload
		if decodePayload(e, &p) != nil {
			return
		}
		r.applySessionDestroyed(p.SessionID)

	case KindMetadataSet:
		var p MetadataPayload
		if decodePayload(e, &p) != nil {
			return
		}
		if s, ok := r.sessions[p.SessionID]; ok {
			if s.Metadata == nil {
				s.Metadata = map[string]string{}
			}
			s.Metadata[p.Key] = p.Value
			r.sessions[p.SessionID] = s
		}

	case KindAgentSessionID:
		var p AgentSessionIDPayload
		if decodePayload(e, &p) != nil {
			return
		}
		if pn, ok := r.panes[p.PaneID]; ok {
			pn.AgentSessionID = p.AgentSessionID
			r.panes[p.PaneID] = pn
		}
	}
}

func (r *replayState) applyWindowCreated(sessionID string, wv protocol.WindowView) {
	winID, err := uuid.Parse(wv.ID)
	if err != nil {
		return
	}
	sessUUID, err := uuid.Parse(sessionID)
	if err != nil {
		return
	}
	var paneOrder []session.ID
	for _, pv := range wv.Panes {
		pid, err := uuid.Parse(pv.ID)
		if err != nil {
			continue
		}
		paneOrder = append(paneOrder, pid)
		r.panes[pv.ID] = paneFromView(pv, winID, sessUUID)
	}
	var focused session.ID
	if len(paneOrder) > 0 {
		focused = paneOrder[0]
	}
	var layout *session.LayoutNode
	if len(paneOrder) > 0 {
		layout = session.NewLeaf(paneOrder[0])
	}
	r.windows[wv.ID] = session.Window{
		ID: winID, SessionID: sessUUID, Name: wv.Name,
		PaneOrder: paneOrder, FocusedPane: focused, Layout: layout,
	}
	if s, ok := r.sessions[sessionID]; ok {
		s.WindowOrder = append(s.WindowOrder, winID)
		s.FocusedWindow = winID
		r.sessions[sessionID] = s
	}
}

func (r *replayState) applyPaneCreated(sessionID, windowID string, pv protocol.PaneView) {
	w, ok := r.windows[windowID]
	if !ok {
		return
	}
	pid, err := uuid.Parse(pv.ID)
	if err != nil {
		return
	}
	r.panes[pv.ID] = paneFromView(pv, w.ID, w.SessionID)
	w.PaneOrder = append(w.PaneOrder, pid)
	w.FocusedPane = pid
	// Recovery-window layout approximation: appended as a new leaf under
	// an even horizontal split rather than reconstructing the exact
	// anchor/direction/ratio recorded at request time. Exact layout is
	// only guaranteed as of the last checkpoint, which serializes the
	// live LayoutNode tree verbatim; only the WAL tail between a
	// checkpoint and a crash loses split precision this way.
	if w.Layout == nil {
		w.Layout = session.NewLeaf(pid)
	} else {
		w.Layout = &session.LayoutNode{
			Direction: session.Horizontal,
			Children:  []*session.LayoutNode{w.Layout, session.NewLeaf(pid)},
			Ratios:    evenSplit(2),
		}
	}
	r.windows[windowID] = w
}

func (r *replayState) applyPaneClosed(sessionID, windowID, paneID string) {
	delete(r.panes, paneID)
	w, ok := r.windows[windowID]
	if ok {
		w.PaneOrder = removeString(w.PaneOrder, paneID)
		if len(w.PaneOrder) == 0 {
			delete(r.windows, windowID)
			if s, ok := r.sessions[sessionID]; ok {
				s.WindowOrder = removeString(s.WindowOrder, windowID)
				r.sessions[sessionID] = s
			}
		} else {
			w.FocusedPane = w.PaneOrder[0]
			r.windows[windowID] = w
		}
	}
}

func (r *replayState) applySessionDestroyed(sessionID string) {
	s, ok := r.sessions[sessionID]
	if !ok {
		delete(r.sessions, sessionID)
		return
	}
	for _, wid := range s.WindowOrder {
		if w, ok := r.windows[wid.String()]; ok {
			for _, pid := range w.PaneOrder {
				delete(r.panes, pid.String())
			}
		}
		delete(r.windows, wid.String())
	}
	delete(r.sessions, sessionID)
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func evenSplit(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1.0 / float64(n)
	}
	return out
}

func removeString(ids []session.ID, target string) []session.ID {
	out := ids[:0]
	for _, id := range ids {
		if id.String() != target {
			out = append(out, id)
		}
	}
	return out
}

func paneFromView(pv protocol.PaneView, windowID, sessionID session.ID) session.Pane {
	id, _ := uuid.Parse(pv.ID)
	return session.Pane{
		ID: id, WindowID: windowID, SessionID: sessionID,
		Index: pv.Index, Rows: pv.Rows, Cols: pv.Cols,
		Command: splitFields(pv.Command), CWD: pv.CWD,
		HasPTY: false, AgentSessionID: pv.AgentSessionID,
		Status: pv.Status, Tags: pv.Tags,
	}
}

func splitFields(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
