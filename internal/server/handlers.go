package server

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fugueterm/fugue/internal/protocol"
	"github.com/fugueterm/fugue/internal/session"
)

// runClient is the per-connection read loop: decode a frame, dispatch it,
// repeat until the connection errors or closes.
func (s *Server) runClient(c *Client) {
	defer s.removeClient(c)
	for {
		env, err := protocol.ReadFrame(c.conn)
		if err != nil {
			return
		}
		s.dispatch(c, env)
	}
}

func (s *Server) dispatch(c *Client, env protocol.Envelope) {
	switch env.Tag {
	case protocol.TagAttachSession:
		s.handleAttachSession(c, env)
	case protocol.TagCreateSession:
		s.handleCreateSession(c, env)
	case protocol.TagCreateWindow:
		s.handleCreateWindow(c, env)
	case protocol.TagCreatePane:
		s.handleCreatePane(c, env)
	case protocol.TagClosePane:
		s.handleClosePane(c, env)
	case protocol.TagInput:
		s.handleInput(c, env)
	case protocol.TagResize:
		s.handleResize(c, env)
	case protocol.TagSetViewportOffset:
		// Viewport offset is purely a client-local scroll position; the
		// server has nothing to do beyond acknowledging it.
		c.send(protocol.TagAck, env.Seq, protocol.Ack{})
	case protocol.TagSelectPane:
		s.handleSelectPane(c, env)
	case protocol.TagDestroySession:
		s.handleDestroySession(c, env)
	case protocol.TagRenameSession:
		s.handleRenameSession(c, env)
	case protocol.TagSetMetadata:
		s.handleSetMetadata(c, env)
	case protocol.TagResizeLayout:
		s.handleResizeLayout(c, env)
	case protocol.TagListSessions:
		s.handleListSessions(c, env)
	case protocol.TagListPanes:
		s.handleListPanes(c, env)
	case protocol.TagReadPane:
		s.handleReadPane(c, env)
	case protocol.TagGetMetadata:
		s.handleGetMetadata(c, env)
	case protocol.TagBroadcast:
		s.handleBroadcast(c, env)
	case protocol.TagReportStatus:
		s.handleReportStatus(c, env)
	case protocol.TagApplyLayout:
		s.handleApplyLayout(c, env)
	default:
		c.sendError(env.Seq, fmt.Errorf("%w: unknown tag %d", protocol.ErrMalformed, env.Tag))
	}
}

func (s *Server) handleAttachSession(c *Client, env protocol.Envelope) {
	var req protocol.AttachSession
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	var view protocol.SessionView
	var err error
	if req.SessionID != "" {
		id, perr := uuid.Parse(req.SessionID)
		if perr != nil {
			c.sendError(env.Seq, protocol.ErrSessionNotFound)
			return
		}
		view, err = s.Model.View(id)
	} else {
		view, err = s.Model.ViewByName(req.Name)
	}
	if err != nil {
		c.sendError(env.Seq, err)
		return
	}
	id, _ := uuid.Parse(view.ID)
	s.subscribe(c, id)
	c.send(protocol.TagAttached, env.Seq, protocol.Attached{Session: view})
}

func (s *Server) handleCreateSession(c *Client, env protocol.Envelope) {
	var req protocol.CreateSession
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	sess, err := s.Model.CreateSession(req.Name)
	if err != nil {
		c.sendError(env.Seq, err)
		return
	}
	rows, cols := nonZero(req.Rows, DefaultRows), nonZero(req.Cols, DefaultCols)
	command := splitCommand(req.Command)
	win, pane, err := s.Model.CreateWindow(sess.ID, "", rows, cols, command, req.CWD, req.Env)
	if err != nil {
		c.sendError(env.Seq, err)
		return
	}
	if err := s.spawnPane(sess.ID, pane.ID, command, req.CWD, envList(req.Env), rows, cols); err != nil {
		c.sendError(env.Seq, err)
		return
	}

	view, _ := s.Model.View(sess.ID)
	s.subscribe(c, sess.ID)
	if s.Recorder != nil {
		s.Recorder.RecordSessionCreated(view)
		s.Recorder.RecordWindowCreated(sess.ID.String(), view.Windows[0])
	}
	_ = win
	c.send(protocol.TagAttached, env.Seq, protocol.Attached{Session: view})
}

func (s *Server) handleCreateWindow(c *Client, env protocol.Envelope) {
	var req protocol.CreateWindow
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	sessID, err := uuid.Parse(req.SessionID)
	if err != nil {
		c.sendError(env.Seq, protocol.ErrSessionNotFound)
		return
	}
	rows, cols := nonZero(req.Rows, DefaultRows), nonZero(req.Cols, DefaultCols)
	command := splitCommand(req.Command)
	win, pane, err := s.Model.CreateWindow(sessID, req.Name, rows, cols, command, req.CWD, nil)
	if err != nil {
		c.sendError(env.Seq, err)
		return
	}
	if err := s.spawnPane(sessID, pane.ID, command, req.CWD, nil, rows, cols); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	if s.Recorder != nil {
		view, _ := s.Model.View(sessID)
		for _, w := range view.Windows {
			if w.ID == win.ID.String() {
				s.Recorder.RecordWindowCreated(req.SessionID, w)
			}
		}
	}
	created := protocol.PaneCreated{
		SessionID: req.SessionID,
		WindowID:  win.ID.String(),
		Pane:      pane.View(),
	}
	s.broadcastToSession(sessID, protocol.TagPaneCreated, created, c)
	c.send(protocol.TagPaneCreated, env.Seq, created)
}

func (s *Server) handleCreatePane(c *Client, env protocol.Envelope) {
	var req protocol.CreatePane
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	winID, err := uuid.Parse(req.WindowID)
	if err != nil {
		c.sendError(env.Seq, protocol.ErrWindowNotFound)
		return
	}
	w, ok := s.Model.Window(winID)
	if !ok {
		c.sendError(env.Seq, protocol.ErrWindowNotFound)
		return
	}
	anchor := w.FocusedPane
	direction := session.Horizontal
	if req.Direction == string(session.Vertical) {
		direction = session.Vertical
	}
	command := splitCommand(req.Command)
	newPane, err := s.Model.SplitPane(anchor, direction, req.Ratio, command, req.CWD, nil)
	if err != nil {
		c.sendError(env.Seq, err)
		return
	}
	if err := s.spawnPane(w.SessionID, newPane.ID, command, req.CWD, nil, newPane.Rows, newPane.Cols); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	if s.Recorder != nil {
		s.Recorder.RecordPaneCreated(w.SessionID.String(), w.ID.String(), newPane.View())
	}
	created := protocol.PaneCreated{
		SessionID: w.SessionID.String(),
		WindowID:  w.ID.String(),
		Pane:      newPane.View(),
	}
	s.broadcastToSession(w.SessionID, protocol.TagPaneCreated, created, c)
	c.send(protocol.TagPaneCreated, env.Seq, created)
}

func (s *Server) handleClosePane(c *Client, env protocol.Envelope) {
	var req protocol.ClosePane
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	paneID, err := uuid.Parse(req.PaneID)
	if err != nil {
		c.sendError(env.Seq, protocol.ErrPaneNotFound)
		return
	}
	pane, ok := s.Model.Pane(paneID)
	if !ok {
		c.sendError(env.Seq, protocol.ErrPaneNotFound)
		return
	}
	s.mu.Lock()
	h := s.handles[paneID]
	s.mu.Unlock()
	if h != nil {
		h.Close() // triggers the exit cascade via handlePaneExit
	}
	_ = pane
	c.send(protocol.TagAck, env.Seq, protocol.Ack{})
}

func (s *Server) handleInput(c *Client, env protocol.Envelope) {
	var req protocol.Input
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	paneID, err := uuid.Parse(req.PaneID)
	if err != nil {
		c.sendError(env.Seq, protocol.ErrPaneNotFound)
		return
	}
	if c.isBridge {
		if s.ArbiterImpl != nil {
			if err := s.ArbiterImpl.Check(paneID); err != nil {
				c.sendError(env.Seq, err)
				return
			}
		}
	} else if s.ArbiterImpl != nil {
		s.ArbiterImpl.RecordHumanInput(paneID)
	}
	p, ok := s.pumpFor(paneID)
	if !ok {
		c.sendError(env.Seq, protocol.ErrPaneClosed)
		return
	}
	if _, err := p.Write(req.Data); err != nil {
		c.sendError(env.Seq, fmt.Errorf("write pane: %w", err))
		return
	}
	c.send(protocol.TagAck, env.Seq, protocol.Ack{})
}

func (s *Server) handleResize(c *Client, env protocol.Envelope) {
	var req protocol.Resize
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	paneID, err := uuid.Parse(req.PaneID)
	if err != nil {
		c.sendError(env.Seq, protocol.ErrPaneNotFound)
		return
	}
	pane, ok := s.Model.Pane(paneID)
	if !ok {
		c.sendError(env.Seq, protocol.ErrPaneNotFound)
		return
	}
	if err := s.Model.Resize(paneID, req.Rows, req.Cols); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	if p, ok := s.pumpFor(paneID); ok {
		if err := p.Resize(req.Rows, req.Cols); err != nil {
			c.sendError(env.Seq, err)
			return
		}
	}
	c.send(protocol.TagAck, env.Seq, protocol.Ack{})
	s.broadcastSessionUpdated(pane.SessionID, c)
}

func (s *Server) handleSelectPane(c *Client, env protocol.Envelope) {
	var req protocol.SelectPane
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	paneID, err := uuid.Parse(req.PaneID)
	if err != nil {
		c.sendError(env.Seq, protocol.ErrPaneNotFound)
		return
	}
	pane, ok := s.Model.Pane(paneID)
	if !ok {
		c.sendError(env.Seq, protocol.ErrPaneNotFound)
		return
	}
	if err := s.Model.SelectPane(paneID); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	c.send(protocol.TagAck, env.Seq, protocol.Ack{})
	s.broadcastSessionUpdated(pane.SessionID, c)
}

func (s *Server) handleDestroySession(c *Client, env protocol.Envelope) {
	var req protocol.DestroySession
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	sessID, err := uuid.Parse(req.SessionID)
	if err != nil {
		c.sendError(env.Seq, protocol.ErrSessionNotFound)
		return
	}
	view, verr := s.Model.View(sessID)
	if verr == nil {
		for _, w := range view.Windows {
			for _, p := range w.Panes {
				paneID, _ := uuid.Parse(p.ID)
				s.mu.Lock()
				h := s.handles[paneID]
				s.mu.Unlock()
				if h != nil {
					h.Close()
				}
			}
		}
	}
	if err := s.Model.DestroySession(sessID); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	if s.Recorder != nil {
		s.Recorder.RecordSessionDestroyed(req.SessionID)
	}
	c.send(protocol.TagAck, env.Seq, protocol.Ack{})
}

func (s *Server) handleRenameSession(c *Client, env protocol.Envelope) {
	var req protocol.RenameSession
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	sessID, err := uuid.Parse(req.SessionID)
	if err != nil {
		c.sendError(env.Seq, protocol.ErrSessionNotFound)
		return
	}
	if err := s.Model.RenameSession(sessID, req.Name); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	c.send(protocol.TagAck, env.Seq, protocol.Ack{})
	s.broadcastSessionUpdated(sessID, c)
}

func (s *Server) handleSetMetadata(c *Client, env protocol.Envelope) {
	var req protocol.SetMetadata
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	sessID, err := uuid.Parse(req.SessionID)
	if err != nil {
		c.sendError(env.Seq, protocol.ErrSessionNotFound)
		return
	}
	if err := s.Model.SetMetadata(sessID, req.Key, req.Value); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	if s.Recorder != nil {
		s.Recorder.RecordMetadata(req.SessionID, req.Key, req.Value)
	}
	c.send(protocol.TagAck, env.Seq, protocol.Ack{})
	s.broadcastSessionUpdated(sessID, c)
}

func (s *Server) handleResizeLayout(c *Client, env protocol.Envelope) {
	var req protocol.ResizeLayout
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	winID, err := uuid.Parse(req.WindowID)
	if err != nil {
		c.sendError(env.Seq, protocol.ErrWindowNotFound)
		return
	}
	w, ok := s.Model.Window(winID)
	if !ok {
		c.sendError(env.Seq, protocol.ErrWindowNotFound)
		return
	}
	if err := s.Model.ResizeLayout(winID, req.ParentPath, req.ChildIndex, req.Ratio); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	c.send(protocol.TagAck, env.Seq, protocol.Ack{})
	s.broadcastSessionUpdated(w.SessionID, c)
}

func (s *Server) handleListSessions(c *Client, env protocol.Envelope) {
	c.send(protocol.TagSessionList, env.Seq, protocol.SessionList{Sessions: s.Model.List()})
}

func (s *Server) handleListPanes(c *Client, env protocol.Envelope) {
	var req protocol.ListPanes
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	sessID, err := uuid.Parse(req.SessionID)
	if err != nil {
		c.sendError(env.Seq, protocol.ErrSessionNotFound)
		return
	}
	view, err := s.Model.View(sessID)
	if err != nil {
		c.sendError(env.Seq, err)
		return
	}
	var panes []protocol.PaneView
	for _, w := range view.Windows {
		panes = append(panes, w.Panes...)
	}
	c.send(protocol.TagPaneList, env.Seq, protocol.PaneList{Panes: panes})
}

func (s *Server) handleReadPane(c *Client, env protocol.Envelope) {
	var req protocol.ReadPane
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	paneID, err := uuid.Parse(req.PaneID)
	if err != nil {
		c.sendError(env.Seq, protocol.ErrPaneNotFound)
		return
	}
	data, err := s.ReadPane(paneID)
	if err != nil {
		c.sendError(env.Seq, err)
		return
	}
	c.send(protocol.TagPaneOutput, env.Seq, protocol.PaneOutput{PaneID: req.PaneID, Data: data})
}

func (s *Server) handleGetMetadata(c *Client, env protocol.Envelope) {
	var req protocol.GetMetadata
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	sessID, err := uuid.Parse(req.SessionID)
	if err != nil {
		c.sendError(env.Seq, protocol.ErrSessionNotFound)
		return
	}
	view, err := s.Model.View(sessID)
	if err != nil {
		c.sendError(env.Seq, err)
		return
	}
	c.send(protocol.TagMetadataValue, env.Seq, protocol.MetadataValue{Value: view.Metadata[req.Key]})
}

func (s *Server) handleBroadcast(c *Client, env protocol.Envelope) {
	var req protocol.Broadcast
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	sessID, err := uuid.Parse(req.SessionID)
	if err != nil {
		c.sendError(env.Seq, protocol.ErrSessionNotFound)
		return
	}
	s.broadcastToSession(sessID, protocol.TagBroadcastAny, req, nil)
	c.send(protocol.TagAck, env.Seq, protocol.Ack{})
}

func (s *Server) handleReportStatus(c *Client, env protocol.Envelope) {
	var req protocol.ReportStatus
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	paneID, err := uuid.Parse(req.PaneID)
	if err != nil {
		c.sendError(env.Seq, protocol.ErrPaneNotFound)
		return
	}
	pane, ok := s.Model.Pane(paneID)
	if !ok {
		c.sendError(env.Seq, protocol.ErrPaneNotFound)
		return
	}
	if err := s.Model.SetStatus(paneID, req.State, req.Message); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	s.broadcastToSession(pane.SessionID, protocol.TagStatusUpdate, protocol.StatusUpdate{
		PaneID:  req.PaneID,
		State:   req.State,
		Message: req.Message,
	}, nil)
	c.send(protocol.TagAck, env.Seq, protocol.Ack{})
}

// handleApplyLayout walks a declarative split tree and realizes it inside
// an existing window: the first leaf reuses the window's already-focused
// pane as-is (its command is whatever CreateWindow already spawned there),
// every other leaf is created via SplitPane against the most recently
// created pane on its branch. There is no transactional rollback — a
// failure partway through leaves whatever panes were already created in
// place, exactly as a sequence of individual CreatePane calls would.
func (s *Server) handleApplyLayout(c *Client, env protocol.Envelope) {
	var req protocol.ApplyLayout
	if err := protocol.DecodePayload(env, &req); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	winID, err := uuid.Parse(req.WindowID)
	if err != nil {
		c.sendError(env.Seq, protocol.ErrWindowNotFound)
		return
	}
	w, ok := s.Model.Window(winID)
	if !ok {
		c.sendError(env.Seq, protocol.ErrWindowNotFound)
		return
	}
	anchor := w.FocusedPane
	if err := s.applyLayoutNode(w.SessionID, anchor, req.Root, true); err != nil {
		c.sendError(env.Seq, err)
		return
	}
	c.send(protocol.TagAck, env.Seq, protocol.Ack{})
	s.broadcastSessionUpdated(w.SessionID, c)
}

// applyLayoutNode realizes one LayoutSpec node against anchor, the pane its
// first descendant should occupy. first is true only for the very top
// node, which repurposes the window's existing focused pane instead of
// splitting a fresh one.
func (s *Server) applyLayoutNode(sessID, anchor session.ID, node protocol.LayoutSpec, first bool) error {
	if len(node.Children) == 0 {
		if first {
			return nil // leaf at the root: the window's existing pane already covers it
		}
		direction := session.Horizontal
		if node.Direction == string(session.Vertical) {
			direction = session.Vertical
		}
		command := splitCommand(node.Command)
		pane, err := s.Model.SplitPane(anchor, direction, node.Ratio, command, node.CWD, nil)
		if err != nil {
			return err
		}
		return s.spawnPane(sessID, pane.ID, command, node.CWD, nil, pane.Rows, pane.Cols)
	}
	prev := anchor
	for i, child := range node.Children {
		if i == 0 {
			if err := s.applyLayoutNode(sessID, anchor, child, first); err != nil {
				return err
			}
			continue
		}
		direction := session.Horizontal
		if node.Direction == string(session.Vertical) {
			direction = session.Vertical
		}
		command := splitCommand(child.Command)
		pane, err := s.Model.SplitPane(prev, direction, node.Ratio, command, child.CWD, nil)
		if err != nil {
			return err
		}
		prev = pane.ID
		if len(child.Children) == 0 {
			if err := s.spawnPane(sessID, pane.ID, command, child.CWD, nil, pane.Rows, pane.Cols); err != nil {
				return err
			}
		} else if err := s.applyLayoutNode(sessID, pane.ID, child, false); err != nil {
			return err
		}
	}
	return nil
}

func nonZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func splitCommand(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

func envList(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}
