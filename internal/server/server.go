// Package server implements the daemon-side client registry and request
// dispatch (C7, C8): a unix-socket listener, one goroutine per attached
// client, and the handler table that turns C1 requests into session-model
// mutations, PTY spawns, and broadcasts back out to every interested
// client.
//
// The listener shape — stale-socket probe-and-unlink, one goroutine per
// connection — follows the teacher's transport server; the per-session
// fan-out registry follows the teacher's PTY relay (a mutex-guarded
// id→subscriber map with Set/Get/Remove), generalized here from "one relay
// per PTY" to "one registry entry per session, fanning out to every
// attached client".
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/fugueterm/fugue/internal/protocol"
	"github.com/fugueterm/fugue/internal/ptyproc"
	"github.com/fugueterm/fugue/internal/pump"
	"github.com/fugueterm/fugue/internal/session"
)

// Recorder persists state changes as they happen (C9). Server calls it
// after session, window and pane creation, pane close, session destroy and
// metadata writes, before broadcasting. Renames, focus changes, resizes,
// layout edits and status reports are not recorded; they reach disk only
// through the next checkpoint. A nil Recorder is valid and simply skips
// persistence (useful in tests).
type Recorder interface {
	RecordSessionCreated(s protocol.SessionView)
	RecordWindowCreated(sessionID string, w protocol.WindowView)
	RecordPaneCreated(sessionID, windowID string, p protocol.PaneView)
	RecordPaneClosed(sessionID, windowID, paneID string, exitCode int, crashed bool)
	RecordSessionDestroyed(sessionID string)
	RecordMetadata(sessionID, key, value string)
	RecordAgentSessionID(paneID, agentSessionID string)
}

// Arbiter gates agent-originated pane writes against recent human input
// (C11). A nil Arbiter on Server disables the gate entirely.
type Arbiter interface {
	RecordHumanInput(paneID session.ID)
	Check(paneID session.ID) error
}

// DefaultRows/DefaultCols size a pane when the request doesn't specify one.
const (
	DefaultRows = 24
	DefaultCols = 80
)

// Server owns the session model, one pump per live pane, and the set of
// attached clients.
type Server struct {
	Model    *session.Model
	Recorder Recorder
	Logger   *slog.Logger

	// ArbiterImpl, when set, gates Input requests arriving over a bridge
	// connection (see ServeBridgeConn) against recent human activity on
	// the same pane. Nil disables the gate.
	ArbiterImpl Arbiter

	// DefaultCommand is used when a client requests a pane with no command
	//.
	DefaultCommand []string

	// NotifierImpl and MailSinkImpl back the sideband `notify` and `mail`
	// commands; either may be left nil (logged and dropped).
	NotifierImpl Notifier
	MailSinkImpl MailSink

	mu      sync.RWMutex
	pumps   map[session.ID]*pump.Pump
	handles map[session.ID]*ptyproc.Handle
	clients map[*Client]struct{}
	members map[session.ID]map[*Client]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Server ready to Serve connections. rec may be nil.
func New(model *session.Model, rec Recorder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Model:          model,
		Recorder:       rec,
		Logger:         logger,
		DefaultCommand: []string{"/bin/sh"},
		pumps:          make(map[session.ID]*pump.Pump),
		handles:        make(map[session.ID]*ptyproc.Handle),
		clients:        make(map[*Client]struct{}),
		members:        make(map[session.ID]map[*Client]struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Listen opens a unix socket at path, unlinking a stale socket file left
// behind by a daemon that crashed without cleaning up. A socket is considered stale if connecting to it
// fails; a live listener there means another daemon instance is already
// running, which is reported as an error rather than silently evicted.
func Listen(path string) (net.Listener, error) {
	if _, err := os.Stat(path); err == nil {
		conn, dialErr := net.DialTimeout("unix", path, 200*time.Millisecond)
		if dialErr == nil {
			conn.Close()
			return nil, fmt.Errorf("listen %s: another daemon is already listening", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", path, err)
	}
	return ln, nil
}

// Serve accepts connections from ln until it is closed or ctx is done, one
// goroutine per client. It blocks until the listener stops accepting.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(conn)
		}()
	}
}

// ServeConn runs the same per-connection handling Serve uses for accepted
// sockets, against an already-established conn. The control bridge (C10)
// uses this over an in-memory net.Pipe to attach as an ordinary client —
// same dispatch table, same fan-out membership — rather than duplicating
// C8's handler logic behind a second entry point.
func (s *Server) ServeConn(conn net.Conn) {
	c := newClient(conn)
	s.addClient(c)
	s.runClient(c)
}

// ServeBridgeConn is ServeConn for the control bridge's connection: the
// resulting client is marked agent-originated so handleInput routes its
// writes through the human-priority arbiter instead of treating them as
// human activity.
func (s *Server) ServeBridgeConn(conn net.Conn) {
	c := newClient(conn)
	c.isBridge = true
	s.addClient(c)
	s.runClient(c)
}

// WritePane writes raw bytes to paneID's PTY, for callers outside the
// client/request path — the watchdog ticker in particular.
func (s *Server) WritePane(paneID session.ID, data []byte) error {
	p, ok := s.pumpFor(paneID)
	if !ok {
		return protocol.ErrPaneClosed
	}
	_, err := p.Write(data)
	return err
}

// Shutdown stops accepting new work from pumps and waits for in-flight
// client goroutines. It does not close the listener; call Serve's ctx
// cancel (or close the listener) first.
func (s *Server) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) addClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
	for _, subs := range s.members {
		delete(subs, c)
	}
	c.close()
}

func (s *Server) subscribe(c *Client, sessID session.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, ok := s.members[sessID]
	if !ok {
		subs = make(map[*Client]struct{})
		s.members[sessID] = subs
	}
	subs[c] = struct{}{}
}

// broadcastToSession sends tag/payload to every client subscribed to
// sessID except optionally `except`.
func (s *Server) broadcastToSession(sessID session.ID, tag protocol.Tag, payload any, except *Client) {
	s.mu.RLock()
	subs := s.members[sessID]
	targets := make([]*Client, 0, len(subs))
	for c := range subs {
		if c != except {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()
	for _, c := range targets {
		c.send(tag, 0, payload)
	}
}

// broadcastSessionUpdated re-reads sessID's current view and fans out a
// SessionUpdated to every subscriber except the client that triggered the
// change (that client already got a direct Ack). Session lookup failures
// are swallowed: by the time this runs the mutation already succeeded, and
// a missing session here only means it was torn down concurrently.
func (s *Server) broadcastSessionUpdated(sessID session.ID, except *Client) {
	view, err := s.Model.View(sessID)
	if err != nil {
		return
	}
	s.broadcastToSession(sessID, protocol.TagSessionUpdated, protocol.SessionUpdated{Session: view}, except)
}

// ReadPane returns a snapshot of paneID's current screen contents, as seen
// by a freshly attaching client: visible rows plus whatever scrollback the
// pane's terminal parser retains.
func (s *Server) ReadPane(paneID session.ID) ([]byte, error) {
	p, ok := s.pumpFor(paneID)
	if !ok {
		return nil, protocol.ErrPaneClosed
	}
	return p.Screen().Snapshot(), nil
}

func (s *Server) pumpFor(paneID session.ID) (*pump.Pump, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pumps[paneID]
	return p, ok
}

// ResumePane re-spawns a PTY for a pane restored from persistence, using
// the same machinery a fresh CreatePane/SplitPane uses. It is exported for
// the daemon's post-recovery resume step, which has no client connection
// to drive the ordinary request path.
func (s *Server) ResumePane(sessID, paneID session.ID, command []string, cwd string, rows, cols int) error {
	return s.spawnPane(sessID, paneID, command, cwd, nil, rows, cols)
}

// spawnPane creates a PTY, a pump, and registers both under paneID,
// starting the pump's read loop and its command-relay goroutine.
func (s *Server) spawnPane(sessID, paneID session.ID, command []string, cwd string, env []string, rows, cols int) error {
	if len(command) == 0 {
		command = s.DefaultCommand
	}
	h, err := ptyproc.Spawn(command, cwd, env, rows, cols)
	if err != nil {
		return fmt.Errorf("spawn pane: %w", err)
	}
	p := pump.New(paneID, h, cols, rows)

	s.mu.Lock()
	s.handles[paneID] = h
	s.pumps[paneID] = p
	s.mu.Unlock()

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		p.Run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.relayOutput(sessID, paneID, p)
	}()
	go func() {
		defer s.wg.Done()
		s.relayCommands(sessID, paneID, p)
	}()
	go func() {
		<-h.Done()
		s.handlePaneExit(sessID, paneID, h.Reap())
	}()
	return nil
}

// relayOutput forwards pump bytes to every client subscribed to sessID as
// Output messages, until the pump closes or the server shuts down.
func (s *Server) relayOutput(sessID, paneID session.ID, p *pump.Pump) {
	var offset int64
	for {
		data, next, err := p.ReadFrom(s.ctx, offset)
		if err != nil {
			return
		}
		offset = next
		if len(data) == 0 {
			continue
		}
		s.broadcastToSession(sessID, protocol.TagOutput, protocol.Output{
			SessionID: sessID.String(),
			PaneID:    paneID.String(),
			Data:      data,
		}, nil)
	}
}

// handlePaneExit runs the PaneClosed cascade: mark
// dead, close the pane in the model, tear down the pump/handle, and notify
// subscribers with the exit status.
func (s *Server) handlePaneExit(sessID, paneID session.ID, exit ptyproc.ExitStatus) {
	s.Model.MarkPaneDead(paneID)
	result, err := s.Model.ClosePane(paneID)
	if err != nil && !errors.Is(err, protocol.ErrPaneNotFound) {
		s.Logger.Error("close pane on exit", "pane", paneID, "err", err)
	}

	s.mu.Lock()
	if p, ok := s.pumps[paneID]; ok {
		p.Close()
		delete(s.pumps, paneID)
	}
	if h, ok := s.handles[paneID]; ok {
		h.Close()
		delete(s.handles, paneID)
	}
	s.mu.Unlock()

	if s.Recorder != nil {
		s.Recorder.RecordPaneClosed(sessID.String(), result.WindowID.String(), paneID.String(), exit.Code, exit.Signaled)
	}
	s.broadcastToSession(sessID, protocol.TagPaneClosed, protocol.PaneClosed{
		SessionID: sessID.String(),
		WindowID:  result.WindowID.String(),
		PaneID:    paneID.String(),
		ExitCode:  exit.Code,
		Crashed:   exit.Signaled,
	}, nil)

	if result.SessionRemoved {
		if s.Recorder != nil {
			s.Recorder.RecordSessionDestroyed(sessID.String())
		}
	}
}
