package bridge

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fugueterm/fugue/internal/protocol"
)

// --- wire-facing view types (JSON-shaped mirrors of the protocol's
// cbor-tagged views; MCP tool schemas are generated from these so the
// protocol package never needs a second set of struct tags) ---

type paneView struct {
	ID             string   `json:"id"`
	Index          int      `json:"index"`
	Rows           int      `json:"rows"`
	Cols           int      `json:"cols"`
	Command        string   `json:"command"`
	CWD            string   `json:"cwd"`
	Alive          bool     `json:"alive"`
	Status         string   `json:"status,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	AgentSessionID string   `json:"agentSessionId,omitempty"`
}

func fromPaneView(p protocol.PaneView) paneView {
	return paneView{
		ID: p.ID, Index: p.Index, Rows: p.Rows, Cols: p.Cols,
		Command: p.Command, CWD: p.CWD, Alive: p.Alive,
		Status: p.Status, Tags: p.Tags, AgentSessionID: p.AgentSessionID,
	}
}

type windowView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	Panes       []paneView `json:"panes"`
	FocusedPane string     `json:"focusedPane"`
}

func fromWindowView(w protocol.WindowView) windowView {
	wv := windowView{ID: w.ID, Name: w.Name, FocusedPane: w.FocusedPane}
	for _, p := range w.Panes {
		wv.Panes = append(wv.Panes, fromPaneView(p))
	}
	return wv
}

type sessionView struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Windows       []windowView      `json:"windows"`
	FocusedWindow string            `json:"focusedWindow"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func fromSessionView(s protocol.SessionView) sessionView {
	sv := sessionView{ID: s.ID, Name: s.Name, FocusedWindow: s.FocusedWindow, Metadata: s.Metadata}
	for _, w := range s.Windows {
		sv.Windows = append(sv.Windows, fromWindowView(w))
	}
	return sv
}

// --- tool input/output types ---

type listSessionsInput struct{}
type listSessionsOutput struct {
	Sessions []sessionView `json:"sessions"`
}

type createSessionInput struct {
	Name    string `json:"name,omitempty" jsonschema:"Name for the new session; auto-generated if omitted"`
	Command string `json:"command,omitempty" jsonschema:"Command line to run in the session's first pane; default_command if omitted"`
	CWD     string `json:"cwd,omitempty" jsonschema:"Working directory for the first pane"`
	Rows    int    `json:"rows,omitempty" jsonschema:"Terminal rows for the first pane (default 24)"`
	Cols    int    `json:"cols,omitempty" jsonschema:"Terminal columns for the first pane (default 80)"`
}
type createSessionOutput struct {
	Session sessionView `json:"session"`
}

type renameSessionInput struct {
	SessionID string `json:"sessionId" jsonschema:"Session to rename"`
	Name      string `json:"name" jsonschema:"New session name"`
}

type destroySessionInput struct {
	SessionID string `json:"sessionId" jsonschema:"Session to destroy, killing every pane it owns"`
}

type ackOutput struct {
	OK bool `json:"ok"`
}

type createWindowInput struct {
	SessionID string `json:"sessionId" jsonschema:"Session to add the window to"`
	Name      string `json:"name,omitempty" jsonschema:"Window name"`
	Command   string `json:"command,omitempty" jsonschema:"Command line for the window's first pane"`
	CWD       string `json:"cwd,omitempty"`
	Rows      int    `json:"rows,omitempty"`
	Cols      int    `json:"cols,omitempty"`
}
type paneCreatedOutput struct {
	SessionID string   `json:"sessionId"`
	WindowID  string   `json:"windowId"`
	Pane      paneView `json:"pane"`
}

type createPaneInput struct {
	WindowID  string  `json:"windowId" jsonschema:"Window to split"`
	Direction string  `json:"direction,omitempty" jsonschema:"'horizontal' or 'vertical'; splits the window's focused pane"`
	Ratio     float64 `json:"ratio,omitempty" jsonschema:"Fraction of the split given to the new pane, 0.1 to 0.9; 0.5 when omitted"`
	Command   string  `json:"command,omitempty"`
	CWD       string  `json:"cwd,omitempty"`
}

type closePaneInput struct {
	PaneID string `json:"paneId" jsonschema:"Pane to close; its process is killed"`
}

type resizePaneInput struct {
	PaneID string `json:"paneId"`
	Rows   int    `json:"rows" jsonschema:"New row count"`
	Cols   int    `json:"cols" jsonschema:"New column count"`
}

type focusPaneInput struct {
	PaneID string `json:"paneId" jsonschema:"Pane to make the focused pane of its window"`
}

type readPaneInput struct {
	PaneID string `json:"paneId" jsonschema:"Pane to read"`
}
type readPaneOutput struct {
	PaneID string `json:"paneId"`
	Data   string `json:"data" jsonschema:"Current screen snapshot (scrollback, visible grid, cursor position) as ANSI escape-sequence text"`
}

type sendInputInput struct {
	PaneID string `json:"paneId" jsonschema:"Pane to write to"`
	Data   string `json:"data" jsonschema:"Raw bytes to write to the pane's PTY, e.g. keystrokes or a command plus a trailing newline"`
}

type listPanesInput struct {
	SessionID string `json:"sessionId" jsonschema:"Session whose panes to list"`
}
type listPanesOutput struct {
	Panes []paneView `json:"panes"`
}

// layoutSpec is the JSON-facing mirror of protocol.LayoutSpec.
type layoutSpec struct {
	Direction string       `json:"direction,omitempty" jsonschema:"'horizontal' or 'vertical', meaningful only on a node with children"`
	Ratio     float64      `json:"ratio,omitempty"`
	Command   string       `json:"command,omitempty" jsonschema:"Command for this leaf; ignored on a node with children"`
	CWD       string       `json:"cwd,omitempty"`
	Children  []layoutSpec `json:"children,omitempty" jsonschema:"Child nodes; a node with children is a split, a node without is a pane"`
}

func (l layoutSpec) toProtocol() protocol.LayoutSpec {
	out := protocol.LayoutSpec{Direction: l.Direction, Ratio: l.Ratio, Command: l.Command, CWD: l.CWD}
	for _, c := range l.Children {
		out.Children = append(out.Children, c.toProtocol())
	}
	return out
}

type applyLayoutInput struct {
	WindowID string     `json:"windowId" jsonschema:"Window to lay out"`
	Root     layoutSpec `json:"root" jsonschema:"Recursive split tree to realize inside the window"`
}

type setMetadataInput struct {
	SessionID string `json:"sessionId"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

type getMetadataInput struct {
	SessionID string `json:"sessionId"`
	Key       string `json:"key"`
}
type getMetadataOutput struct {
	Value string `json:"value"`
}

type reportStatusInput struct {
	PaneID  string `json:"paneId" jsonschema:"Pane the status applies to"`
	State   string `json:"state" jsonschema:"Short status token, e.g. 'working', 'blocked', 'done'"`
	Message string `json:"message,omitempty" jsonschema:"Human-readable detail"`
}

type broadcastInput struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message" jsonschema:"Free-form text delivered to every client attached to the session"`
}

// registerTools binds every tool to the MCP server. Each handler does
// exactly one thing: translate JSON input into a C1 request, call() it
// through the attached connection, translate the response back to JSON.
// All session-mutation semantics live in internal/server; nothing here
// re-derives them.
func (b *Bridge) registerTools() {
	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "listSessions",
		Description: "List every session the daemon currently holds",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ listSessionsInput) (*mcp.CallToolResult, listSessionsOutput, error) {
		var out protocol.SessionList
		if err := b.decodeInto(ctx, protocol.TagListSessions, protocol.ListSessions{}, &out); err != nil {
			return nil, listSessionsOutput{}, err
		}
		sessions := make([]sessionView, 0, len(out.Sessions))
		for _, s := range out.Sessions {
			sessions = append(sessions, fromSessionView(s))
		}
		return nil, listSessionsOutput{Sessions: sessions}, nil
	})

	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "createSession",
		Description: "Create a new session with one window and one pane",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in createSessionInput) (*mcp.CallToolResult, createSessionOutput, error) {
		var out protocol.Attached
		req := protocol.CreateSession{Name: in.Name, Command: in.Command, CWD: in.CWD, Rows: in.Rows, Cols: in.Cols}
		if err := b.decodeInto(ctx, protocol.TagCreateSession, req, &out); err != nil {
			return nil, createSessionOutput{}, err
		}
		return nil, createSessionOutput{Session: fromSessionView(out.Session)}, nil
	})

	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "renameSession",
		Description: "Rename a session",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in renameSessionInput) (*mcp.CallToolResult, ackOutput, error) {
		req := protocol.RenameSession{SessionID: in.SessionID, Name: in.Name}
		if _, err := b.call(ctx, protocol.TagRenameSession, req); err != nil {
			return nil, ackOutput{}, err
		}
		return nil, ackOutput{OK: true}, nil
	})

	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "destroySession",
		Description: "Destroy a session, killing every pane it owns",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in destroySessionInput) (*mcp.CallToolResult, ackOutput, error) {
		req := protocol.DestroySession{SessionID: in.SessionID}
		if _, err := b.call(ctx, protocol.TagDestroySession, req); err != nil {
			return nil, ackOutput{}, err
		}
		return nil, ackOutput{OK: true}, nil
	})

	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "createWindow",
		Description: "Create a new window with one pane in a session",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in createWindowInput) (*mcp.CallToolResult, paneCreatedOutput, error) {
		var out protocol.PaneCreated
		req := protocol.CreateWindow{SessionID: in.SessionID, Name: in.Name, Command: in.Command, CWD: in.CWD, Rows: in.Rows, Cols: in.Cols}
		if err := b.decodeInto(ctx, protocol.TagCreateWindow, req, &out); err != nil {
			return nil, paneCreatedOutput{}, err
		}
		return nil, paneCreatedOutput{SessionID: out.SessionID, WindowID: out.WindowID, Pane: fromPaneView(out.Pane)}, nil
	})

	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "createPane",
		Description: "Split a window's focused pane, spawning a new pane in the resulting space",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in createPaneInput) (*mcp.CallToolResult, paneCreatedOutput, error) {
		var out protocol.PaneCreated
		req := protocol.CreatePane{WindowID: in.WindowID, Direction: in.Direction, Ratio: in.Ratio, Command: in.Command, CWD: in.CWD}
		if err := b.decodeInto(ctx, protocol.TagCreatePane, req, &out); err != nil {
			return nil, paneCreatedOutput{}, err
		}
		return nil, paneCreatedOutput{SessionID: out.SessionID, WindowID: out.WindowID, Pane: fromPaneView(out.Pane)}, nil
	})

	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "closePane",
		Description: "Close a pane, killing its process",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in closePaneInput) (*mcp.CallToolResult, ackOutput, error) {
		req := protocol.ClosePane{PaneID: in.PaneID}
		if _, err := b.call(ctx, protocol.TagClosePane, req); err != nil {
			return nil, ackOutput{}, err
		}
		return nil, ackOutput{OK: true}, nil
	})

	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "resizePane",
		Description: "Resize a pane's PTY and terminal parser",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in resizePaneInput) (*mcp.CallToolResult, ackOutput, error) {
		req := protocol.Resize{PaneID: in.PaneID, Rows: in.Rows, Cols: in.Cols}
		if _, err := b.call(ctx, protocol.TagResize, req); err != nil {
			return nil, ackOutput{}, err
		}
		return nil, ackOutput{OK: true}, nil
	})

	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "focusPane",
		Description: "Make a pane the focused pane of its window",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in focusPaneInput) (*mcp.CallToolResult, ackOutput, error) {
		req := protocol.SelectPane{PaneID: in.PaneID}
		if _, err := b.call(ctx, protocol.TagSelectPane, req); err != nil {
			return nil, ackOutput{}, err
		}
		return nil, ackOutput{OK: true}, nil
	})

	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "readPane",
		Description: "Read a pane's current screen contents",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in readPaneInput) (*mcp.CallToolResult, readPaneOutput, error) {
		var out protocol.PaneOutput
		req := protocol.ReadPane{PaneID: in.PaneID}
		if err := b.decodeInto(ctx, protocol.TagReadPane, req, &out); err != nil {
			return nil, readPaneOutput{}, err
		}
		return nil, readPaneOutput{PaneID: out.PaneID, Data: string(out.Data)}, nil
	})

	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "sendInput",
		Description: "Write raw bytes to a pane's PTY, as if typed",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in sendInputInput) (*mcp.CallToolResult, ackOutput, error) {
		req := protocol.Input{PaneID: in.PaneID, Data: []byte(in.Data)}
		if _, err := b.call(ctx, protocol.TagInput, req); err != nil {
			return nil, ackOutput{}, err
		}
		return nil, ackOutput{OK: true}, nil
	})

	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "listPanes",
		Description: "List every pane across every window of a session",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in listPanesInput) (*mcp.CallToolResult, listPanesOutput, error) {
		var out protocol.PaneList
		req := protocol.ListPanes{SessionID: in.SessionID}
		if err := b.decodeInto(ctx, protocol.TagListPanes, req, &out); err != nil {
			return nil, listPanesOutput{}, err
		}
		panes := make([]paneView, 0, len(out.Panes))
		for _, p := range out.Panes {
			panes = append(panes, fromPaneView(p))
		}
		return nil, listPanesOutput{Panes: panes}, nil
	})

	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "createLayout",
		Description: "Apply a declarative tree of splits and ratios to a window in one call",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in applyLayoutInput) (*mcp.CallToolResult, ackOutput, error) {
		req := protocol.ApplyLayout{WindowID: in.WindowID, Root: in.Root.toProtocol()}
		if _, err := b.call(ctx, protocol.TagApplyLayout, req); err != nil {
			return nil, ackOutput{}, err
		}
		return nil, ackOutput{OK: true}, nil
	})

	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "setMetadata",
		Description: "Set a session metadata key/value pair",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in setMetadataInput) (*mcp.CallToolResult, ackOutput, error) {
		req := protocol.SetMetadata{SessionID: in.SessionID, Key: in.Key, Value: in.Value}
		if _, err := b.call(ctx, protocol.TagSetMetadata, req); err != nil {
			return nil, ackOutput{}, err
		}
		return nil, ackOutput{OK: true}, nil
	})

	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "getMetadata",
		Description: "Read a session metadata value",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in getMetadataInput) (*mcp.CallToolResult, getMetadataOutput, error) {
		var out protocol.MetadataValue
		req := protocol.GetMetadata{SessionID: in.SessionID, Key: in.Key}
		if err := b.decodeInto(ctx, protocol.TagGetMetadata, req, &out); err != nil {
			return nil, getMetadataOutput{}, err
		}
		return nil, getMetadataOutput{Value: out.Value}, nil
	})

	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "reportStatus",
		Description: "Report a pane's agent-visible status, e.g. working/blocked/done",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in reportStatusInput) (*mcp.CallToolResult, ackOutput, error) {
		req := protocol.ReportStatus{PaneID: in.PaneID, State: in.State, Message: in.Message}
		if _, err := b.call(ctx, protocol.TagReportStatus, req); err != nil {
			return nil, ackOutput{}, err
		}
		return nil, ackOutput{OK: true}, nil
	})

	mcp.AddTool(b.mcpServer, &mcp.Tool{
		Name:        "broadcast",
		Description: "Send a free-form message to every client attached to a session",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in broadcastInput) (*mcp.CallToolResult, ackOutput, error) {
		req := protocol.Broadcast{SessionID: in.SessionID, Message: in.Message}
		if _, err := b.call(ctx, protocol.TagBroadcast, req); err != nil {
			return nil, ackOutput{}, err
		}
		return nil, ackOutput{OK: true}, nil
	})
}
