package server

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/fugueterm/fugue/internal/protocol"
	"github.com/fugueterm/fugue/internal/pump"
	"github.com/fugueterm/fugue/internal/session"
)

// Notifier delivers a sideband `notify{title, priority, body}` command to
// wherever out-of-band notifications go (the notify package's ntfy-backed
// sender). A nil Notifier on Server means notify commands are logged and
// dropped.
type Notifier interface {
	Notify(paneID, title, priority, body string) error
}

// MailSink delivers a sideband `mail{priority, summary}` command to the
// originating session's mailbox. A nil MailSink on Server means mail
// commands are logged and dropped.
type MailSink interface {
	Deliver(sessionID, paneID, priority, summary string) error
}

// relayCommands drains p.Commands for the lifetime of the pane, executing
// each sideband command against the session model, until the pump finishes.
func (s *Server) relayCommands(sessID session.ID, paneID session.ID, p *pump.Pump) {
	_ = paneID
	for {
		select {
		case cmd, ok := <-p.Commands:
			if !ok {
				return
			}
			s.execCommand(sessID, cmd)
		case <-p.Done():
			return
		}
	}
}

func (s *Server) execCommand(sessID session.ID, cmd pump.Command) {
	switch cmd.Name {
	case "focus":
		target := cmd.PaneID
		if raw, ok := cmd.Attrs["pane"]; ok {
			if id, err := uuid.Parse(raw); err == nil {
				target = id
			}
		}
		if err := s.Model.SelectPane(target); err != nil {
			s.Logger.Warn("sideband focus failed", "pane", target, "err", err)
		}

	case "status":
		if err := s.Model.SetStatus(cmd.PaneID, cmd.Attrs["state"], cmd.Attrs["message"]); err != nil {
			s.Logger.Warn("sideband status failed", "pane", cmd.PaneID, "err", err)
			return
		}
		s.broadcastToSession(sessID, protocol.TagStatusUpdate, protocol.StatusUpdate{
			PaneID:  cmd.PaneID.String(),
			State:   cmd.Attrs["state"],
			Message: cmd.Attrs["message"],
		}, nil)

	case "input":
		target := cmd.PaneID
		if raw, ok := cmd.Attrs["pane"]; ok {
			if id, err := uuid.Parse(raw); err == nil {
				target = id
			}
		}
		text := cmd.Body
		if text == "" {
			text = cmd.Attrs["text"]
		}
		if p, ok := s.pumpFor(target); ok {
			if _, err := p.Write([]byte(text)); err != nil {
				s.Logger.Warn("sideband input failed", "pane", target, "err", err)
			}
		}

	case "notify":
		body := cmd.Body
		if body == "" {
			body = cmd.Attrs["body"]
		}
		if s.NotifierImpl == nil {
			s.Logger.Info("sideband notify (no notifier configured)", "pane", cmd.PaneID, "title", cmd.Attrs["title"])
			return
		}
		if err := s.NotifierImpl.Notify(cmd.PaneID.String(), cmd.Attrs["title"], cmd.Attrs["priority"], body); err != nil {
			s.Logger.Warn("notify failed", "pane", cmd.PaneID, "err", err)
		}

	case "mail":
		summary := cmd.Body
		if summary == "" {
			summary = cmd.Attrs["summary"]
		}
		if s.MailSinkImpl == nil {
			s.Logger.Info("sideband mail (no mail sink configured)", "pane", cmd.PaneID, "priority", cmd.Attrs["priority"])
			return
		}
		if err := s.MailSinkImpl.Deliver(sessID.String(), cmd.PaneID.String(), cmd.Attrs["priority"], summary); err != nil {
			s.Logger.Warn("mail deliver failed", "pane", cmd.PaneID, "err", err)
		}

	case "spawn":
		s.execSpawn(sessID, cmd)
	}
}

// execSpawn splits the originating pane within its own window, honoring the
// command's direction/ratio attributes, and broadcasts the new pane to every
// client attached to the session.
func (s *Server) execSpawn(sessID session.ID, cmd pump.Command) {
	direction := session.Horizontal
	if cmd.Attrs["direction"] == string(session.Vertical) {
		direction = session.Vertical
	}
	ratio := 0.5
	if raw, ok := cmd.Attrs["ratio"]; ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			ratio = v
		}
	}
	command := splitCommand(cmd.Attrs["command"])
	newPane, err := s.Model.SplitPane(cmd.PaneID, direction, ratio, command, cmd.Attrs["cwd"], nil)
	if err != nil {
		s.Logger.Warn("sideband spawn failed", "pane", cmd.PaneID, "err", err)
		return
	}
	if err := s.spawnPane(sessID, newPane.ID, command, cmd.Attrs["cwd"], nil, newPane.Rows, newPane.Cols); err != nil {
		s.Logger.Warn("sideband spawn pane failed", "session", sessID, "err", err)
		return
	}
	if s.Recorder != nil {
		s.Recorder.RecordPaneCreated(sessID.String(), newPane.WindowID.String(), newPane.View())
	}
	created := protocol.PaneCreated{
		SessionID: sessID.String(),
		WindowID:  newPane.WindowID.String(),
		Pane:      newPane.View(),
	}
	s.broadcastToSession(sessID, protocol.TagPaneCreated, created, nil)
}
