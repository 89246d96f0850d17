package server

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fugueterm/fugue/internal/protocol"
	"github.com/fugueterm/fugue/internal/session"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "fugue.sock")

	ln, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := New(session.NewModel(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, ln)
	t.Cleanup(func() {
		cancel()
		ln.Close()
		srv.Shutdown()
	})
	return srv, sockPath
}

func dialAndCreateSession(t *testing.T, sockPath, command string) (net.Conn, protocol.SessionView) {
	t.Helper()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := protocol.Encode(conn, protocol.TagCreateSession, 1, protocol.CreateSession{
		Name: "t-" + command, Command: command, Rows: 24, Cols: 80,
	}); err != nil {
		t.Fatalf("encode create session: %v", err)
	}
	env, err := protocol.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read attached: %v", err)
	}
	if env.Tag != protocol.TagAttached {
		t.Fatalf("expected TagAttached, got %d", env.Tag)
	}
	var attached protocol.Attached
	if err := protocol.DecodePayload(env, &attached); err != nil {
		t.Fatalf("decode attached: %v", err)
	}
	return conn, attached.Session
}

func TestCreateSessionSpawnsAndAttaches(t *testing.T) {
	_, sockPath := startTestServer(t)
	conn, view := dialAndCreateSession(t, sockPath, "cat")
	defer conn.Close()

	if len(view.Windows) != 1 || len(view.Windows[0].Panes) != 1 {
		t.Fatalf("expected one window with one pane, got %+v", view)
	}
}

func TestInputEchoesThroughOutput(t *testing.T) {
	_, sockPath := startTestServer(t)
	conn, view := dialAndCreateSession(t, sockPath, "cat")
	defer conn.Close()

	paneID := view.Windows[0].Panes[0].ID
	if err := protocol.Encode(conn, protocol.TagInput, 2, protocol.Input{
		PaneID: paneID, Data: []byte("ping\n"),
	}); err != nil {
		t.Fatalf("encode input: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var seen bytes.Buffer
	for i := 0; i < 20; i++ {
		env, err := protocol.ReadFrame(conn)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if env.Tag != protocol.TagOutput {
			continue
		}
		var out protocol.Output
		if err := protocol.DecodePayload(env, &out); err != nil {
			t.Fatalf("decode output: %v", err)
		}
		seen.Write(out.Data)
		if bytes.Contains(seen.Bytes(), []byte("ping")) {
			return
		}
	}
	t.Fatalf("never saw echoed input, got %q", seen.String())
}

func TestClosePaneTriggersPaneClosedMessage(t *testing.T) {
	_, sockPath := startTestServer(t)
	conn, view := dialAndCreateSession(t, sockPath, "cat")
	defer conn.Close()

	paneID := view.Windows[0].Panes[0].ID
	if err := protocol.Encode(conn, protocol.TagClosePane, 3, protocol.ClosePane{PaneID: paneID}); err != nil {
		t.Fatalf("encode close pane: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 20; i++ {
		env, err := protocol.ReadFrame(conn)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if env.Tag == protocol.TagPaneClosed {
			var pc protocol.PaneClosed
			if err := protocol.DecodePayload(env, &pc); err != nil {
				t.Fatalf("decode pane closed: %v", err)
			}
			if pc.PaneID != paneID {
				t.Fatalf("unexpected pane id in PaneClosed: %s", pc.PaneID)
			}
			return
		}
	}
	t.Fatal("never saw PaneClosed message")
}

func TestListenRejectsLiveDaemon(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "fugue.sock")

	ln1, err := Listen(sockPath)
	if err != nil {
		t.Fatalf("first listen: %v", err)
	}
	defer ln1.Close()

	if _, err := Listen(sockPath); err == nil {
		t.Fatal("expected second Listen to fail while first is live")
	}
}

// readUntil reads frames from conn until one with the wanted tag arrives,
// decoding it into out. Frames with other tags (broadcasts meant for other
// clients, stray output) are skipped.
func readUntil(t *testing.T, conn net.Conn, wantTag protocol.Tag, out any) protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 50; i++ {
		env, err := protocol.ReadFrame(conn)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if env.Tag != wantTag {
			continue
		}
		if out != nil {
			if err := protocol.DecodePayload(env, out); err != nil {
				t.Fatalf("decode payload for tag %d: %v", wantTag, err)
			}
		}
		return env
	}
	t.Fatalf("never saw tag %d", wantTag)
	return protocol.Envelope{}
}

func TestListSessionsReturnsCreatedSession(t *testing.T) {
	_, sockPath := startTestServer(t)
	conn, view := dialAndCreateSession(t, sockPath, "cat")
	defer conn.Close()

	if err := protocol.Encode(conn, protocol.TagListSessions, 10, protocol.ListSessions{}); err != nil {
		t.Fatalf("encode list sessions: %v", err)
	}
	var list protocol.SessionList
	readUntil(t, conn, protocol.TagSessionList, &list)

	found := false
	for _, s := range list.Sessions {
		if s.ID == view.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected session %s in list, got %+v", view.ID, list.Sessions)
	}
}

func TestListPanesReturnsPanesAcrossWindows(t *testing.T) {
	_, sockPath := startTestServer(t)
	conn, view := dialAndCreateSession(t, sockPath, "cat")
	defer conn.Close()

	if err := protocol.Encode(conn, protocol.TagCreateWindow, 11, protocol.CreateWindow{
		SessionID: view.ID, Command: "cat", Rows: 24, Cols: 80,
	}); err != nil {
		t.Fatalf("encode create window: %v", err)
	}
	readUntil(t, conn, protocol.TagPaneCreated, nil)

	if err := protocol.Encode(conn, protocol.TagListPanes, 12, protocol.ListPanes{SessionID: view.ID}); err != nil {
		t.Fatalf("encode list panes: %v", err)
	}
	var list protocol.PaneList
	readUntil(t, conn, protocol.TagPaneList, &list)

	if len(list.Panes) != 2 {
		t.Fatalf("expected 2 panes across both windows, got %d: %+v", len(list.Panes), list.Panes)
	}
}

func TestReadPaneReturnsScreenSnapshot(t *testing.T) {
	_, sockPath := startTestServer(t)
	conn, view := dialAndCreateSession(t, sockPath, "cat")
	defer conn.Close()

	paneID := view.Windows[0].Panes[0].ID
	if err := protocol.Encode(conn, protocol.TagInput, 13, protocol.Input{
		PaneID: paneID, Data: []byte("ping\n"),
	}); err != nil {
		t.Fatalf("encode input: %v", err)
	}

	// Drain until the echoed output shows up so the pane's screen buffer has
	// something in it before we snapshot it.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var seen bytes.Buffer
	for i := 0; i < 20; i++ {
		env, err := protocol.ReadFrame(conn)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if env.Tag != protocol.TagOutput {
			continue
		}
		var out protocol.Output
		if err := protocol.DecodePayload(env, &out); err != nil {
			t.Fatalf("decode output: %v", err)
		}
		seen.Write(out.Data)
		if bytes.Contains(seen.Bytes(), []byte("ping")) {
			break
		}
	}

	if err := protocol.Encode(conn, protocol.TagReadPane, 14, protocol.ReadPane{PaneID: paneID}); err != nil {
		t.Fatalf("encode read pane: %v", err)
	}
	var out protocol.PaneOutput
	readUntil(t, conn, protocol.TagPaneOutput, &out)

	if !bytes.Contains(out.Data, []byte("ping")) {
		t.Fatalf("expected snapshot to contain echoed input, got %q", out.Data)
	}
}

func TestGetMetadataReturnsSetValue(t *testing.T) {
	_, sockPath := startTestServer(t)
	conn, view := dialAndCreateSession(t, sockPath, "cat")
	defer conn.Close()

	if err := protocol.Encode(conn, protocol.TagSetMetadata, 15, protocol.SetMetadata{
		SessionID: view.ID, Key: "agent", Value: "claude",
	}); err != nil {
		t.Fatalf("encode set metadata: %v", err)
	}
	readUntil(t, conn, protocol.TagAck, nil)

	if err := protocol.Encode(conn, protocol.TagGetMetadata, 16, protocol.GetMetadata{
		SessionID: view.ID, Key: "agent",
	}); err != nil {
		t.Fatalf("encode get metadata: %v", err)
	}
	var val protocol.MetadataValue
	readUntil(t, conn, protocol.TagMetadataValue, &val)

	if val.Value != "claude" {
		t.Fatalf("expected metadata value %q, got %q", "claude", val.Value)
	}
}

func TestBroadcastReachesOtherSubscriber(t *testing.T) {
	_, sockPath := startTestServer(t)
	conn1, view := dialAndCreateSession(t, sockPath, "cat")
	defer conn1.Close()

	conn2, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial second client: %v", err)
	}
	defer conn2.Close()
	if err := protocol.Encode(conn2, protocol.TagAttachSession, 1, protocol.AttachSession{SessionID: view.ID}); err != nil {
		t.Fatalf("encode attach: %v", err)
	}
	readUntil(t, conn2, protocol.TagAttached, nil)

	if err := protocol.Encode(conn1, protocol.TagBroadcast, 17, protocol.Broadcast{
		SessionID: view.ID, Message: "hello",
	}); err != nil {
		t.Fatalf("encode broadcast: %v", err)
	}
	readUntil(t, conn1, protocol.TagAck, nil)

	var got protocol.Broadcast
	readUntil(t, conn2, protocol.TagBroadcastAny, &got)
	if got.Message != "hello" {
		t.Fatalf("expected broadcast message %q, got %q", "hello", got.Message)
	}
}

func TestReportStatusUpdatesModelAndBroadcasts(t *testing.T) {
	srv, sockPath := startTestServer(t)
	conn, view := dialAndCreateSession(t, sockPath, "cat")
	defer conn.Close()

	paneID := view.Windows[0].Panes[0].ID
	if err := protocol.Encode(conn, protocol.TagReportStatus, 18, protocol.ReportStatus{
		PaneID: paneID, State: "busy", Message: "running tests",
	}); err != nil {
		t.Fatalf("encode report status: %v", err)
	}

	// The reporting client sees both its own Ack and the broadcast
	// StatusUpdate; order between them isn't guaranteed, so look for both.
	var sawAck, sawStatus bool
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < 20 && !(sawAck && sawStatus); i++ {
		env, err := protocol.ReadFrame(conn)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		switch env.Tag {
		case protocol.TagAck:
			sawAck = true
		case protocol.TagStatusUpdate:
			var su protocol.StatusUpdate
			if err := protocol.DecodePayload(env, &su); err != nil {
				t.Fatalf("decode status update: %v", err)
			}
			if su.State != "busy" || su.Message != "running tests" {
				t.Fatalf("unexpected status update: %+v", su)
			}
			sawStatus = true
		}
	}
	if !sawAck || !sawStatus {
		t.Fatalf("expected both ack and status update, got ack=%v status=%v", sawAck, sawStatus)
	}
	p, ok := srv.Model.Pane(uuid.MustParse(paneID))
	if !ok || p.Status != "busy: running tests" {
		t.Fatalf("model pane status = %q (found=%v), want %q", p.Status, ok, "busy: running tests")
	}
}

func TestApplyLayoutSplitsWindowIntoRequestedPanes(t *testing.T) {
	_, sockPath := startTestServer(t)
	conn, view := dialAndCreateSession(t, sockPath, "cat")
	defer conn.Close()

	winID := view.Windows[0].ID
	root := protocol.LayoutSpec{
		Direction: "horizontal",
		Children: []protocol.LayoutSpec{
			{},
			{Command: "cat"},
		},
	}
	if err := protocol.Encode(conn, protocol.TagApplyLayout, 19, protocol.ApplyLayout{
		WindowID: winID, Root: root,
	}); err != nil {
		t.Fatalf("encode apply layout: %v", err)
	}
	readUntil(t, conn, protocol.TagAck, nil)

	var updated protocol.SessionUpdated
	readUntil(t, conn, protocol.TagSessionUpdated, &updated)

	var win protocol.WindowView
	for _, w := range updated.Session.Windows {
		if w.ID == winID {
			win = w
		}
	}
	if len(win.Panes) != 2 {
		t.Fatalf("expected window to have 2 panes after layout applied, got %d", len(win.Panes))
	}
}
