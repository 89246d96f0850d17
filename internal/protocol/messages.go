package protocol

import "time"

// --- client → server requests ---

type AttachSession struct {
	SessionID string `cbor:"1,keyasint,omitempty"`
	Name      string `cbor:"2,keyasint,omitempty"` // resolve by name if SessionID is empty
}

type CreateSession struct {
	Name    string            `cbor:"1,keyasint,omitempty"` // auto-named if empty
	Command string            `cbor:"2,keyasint,omitempty"` // default_command if empty
	CWD     string            `cbor:"3,keyasint,omitempty"`
	Rows    int               `cbor:"4,keyasint"`
	Cols    int               `cbor:"5,keyasint"`
	Env     map[string]string `cbor:"6,keyasint,omitempty"`
}

type CreateWindow struct {
	SessionID string `cbor:"1,keyasint"`
	Name      string `cbor:"2,keyasint,omitempty"`
	Command   string `cbor:"3,keyasint,omitempty"`
	CWD       string `cbor:"4,keyasint,omitempty"`
	Rows      int    `cbor:"5,keyasint"`
	Cols      int    `cbor:"6,keyasint"`
}

type CreatePane struct {
	WindowID  string  `cbor:"1,keyasint"`
	Direction string  `cbor:"2,keyasint"` // "horizontal" | "vertical"
	Ratio     float64 `cbor:"3,keyasint,omitempty"`
	Command   string  `cbor:"4,keyasint,omitempty"`
	CWD       string  `cbor:"5,keyasint,omitempty"`
}

type ClosePane struct {
	PaneID string `cbor:"1,keyasint"`
}

type Input struct {
	PaneID string `cbor:"1,keyasint"`
	Data   []byte `cbor:"2,keyasint"`
}

type Resize struct {
	PaneID string `cbor:"1,keyasint"`
	Rows   int    `cbor:"2,keyasint"`
	Cols   int    `cbor:"3,keyasint"`
}

type SetViewportOffset struct {
	PaneID string `cbor:"1,keyasint"`
	Offset int    `cbor:"2,keyasint"`
}

type SelectPane struct {
	PaneID string `cbor:"1,keyasint"`
}

type DestroySession struct {
	SessionID string `cbor:"1,keyasint"`
}

type RenameSession struct {
	SessionID string `cbor:"1,keyasint"`
	Name      string `cbor:"2,keyasint"`
}

type ResizeLayout struct {
	WindowID   string  `cbor:"1,keyasint"`
	ParentPath []int   `cbor:"2,keyasint,omitempty"`
	ChildIndex int     `cbor:"3,keyasint"`
	Ratio      float64 `cbor:"4,keyasint"`
}

type SetMetadata struct {
	SessionID string `cbor:"1,keyasint"`
	Key       string `cbor:"2,keyasint"`
	Value     string `cbor:"3,keyasint"`
}

type ListSessions struct{}

type ListPanes struct {
	SessionID string `cbor:"1,keyasint"`
}

type ReadPane struct {
	PaneID string `cbor:"1,keyasint"`
}

type GetMetadata struct {
	SessionID string `cbor:"1,keyasint"`
	Key       string `cbor:"2,keyasint"`
}

type Broadcast struct {
	SessionID string `cbor:"1,keyasint"`
	Message   string `cbor:"2,keyasint"`
}

type ReportStatus struct {
	PaneID  string `cbor:"1,keyasint"`
	State   string `cbor:"2,keyasint"`
	Message string `cbor:"3,keyasint,omitempty"`
}

// LayoutSpec is a recursive declarative split tree: a leaf has no
// Children and carries the command/cwd to spawn there; an internal node
// has Children and no command, and Direction/Ratio describe how its first
// two children split (splits beyond two children are applied
// left-to-right, each one further dividing the remaining space).
type LayoutSpec struct {
	Direction string       `cbor:"1,keyasint,omitempty"`
	Ratio     float64      `cbor:"2,keyasint,omitempty"`
	Command   string       `cbor:"3,keyasint,omitempty"`
	CWD       string       `cbor:"4,keyasint,omitempty"`
	Children  []LayoutSpec `cbor:"5,keyasint,omitempty"`
}

type ApplyLayout struct {
	WindowID string     `cbor:"1,keyasint"`
	Root     LayoutSpec `cbor:"2,keyasint"`
}

// --- server → client messages ---

type Attached struct {
	Session SessionView `cbor:"1,keyasint"`
}

type SessionList struct {
	Sessions []SessionView `cbor:"1,keyasint"`
}

// Ack is a content-free success response for requests whose effect is
// otherwise only visible via a broadcast to other session members.
type Ack struct{}

type PaneList struct {
	Panes []PaneView `cbor:"1,keyasint"`
}

type PaneOutput struct {
	PaneID string `cbor:"1,keyasint"`
	Data   []byte `cbor:"2,keyasint"`
}

type MetadataValue struct {
	Value string `cbor:"1,keyasint"`
}

// SessionUpdated carries a refreshed SessionView after a mutation (rename,
// metadata, focus change, layout resize) that has no per-pane event of its
// own to piggyback on.
type SessionUpdated struct {
	Session SessionView `cbor:"1,keyasint"`
}

type PaneCreated struct {
	SessionID string   `cbor:"1,keyasint"`
	WindowID  string   `cbor:"2,keyasint"`
	Pane      PaneView `cbor:"3,keyasint"`
}

type PaneClosed struct {
	SessionID string `cbor:"1,keyasint"`
	WindowID  string `cbor:"2,keyasint"`
	PaneID    string `cbor:"3,keyasint"`
	ExitCode  int    `cbor:"4,keyasint"`
	Crashed   bool   `cbor:"5,keyasint"`
}

type Output struct {
	SessionID string `cbor:"1,keyasint"`
	PaneID    string `cbor:"2,keyasint"`
	Data      []byte `cbor:"3,keyasint"`
}

type StatusUpdate struct {
	PaneID  string `cbor:"1,keyasint"`
	State   string `cbor:"2,keyasint"`
	Message string `cbor:"3,keyasint,omitempty"`
}

// --- shared views ---

type SessionView struct {
	ID             string            `cbor:"1,keyasint"`
	Name           string            `cbor:"2,keyasint"`
	Windows        []WindowView      `cbor:"3,keyasint"`
	FocusedWindow  string            `cbor:"4,keyasint"`
	CreatedAt      time.Time         `cbor:"5,keyasint"`
	Metadata       map[string]string `cbor:"6,keyasint,omitempty"`
}

type WindowView struct {
	ID          string     `cbor:"1,keyasint"`
	Name        string     `cbor:"2,keyasint,omitempty"`
	Panes       []PaneView `cbor:"3,keyasint"`
	FocusedPane string     `cbor:"4,keyasint"`
}

type PaneView struct {
	ID            string   `cbor:"1,keyasint"`
	Index         int      `cbor:"2,keyasint"`
	Rows          int      `cbor:"3,keyasint"`
	Cols          int      `cbor:"4,keyasint"`
	Command       string   `cbor:"5,keyasint"`
	CWD           string   `cbor:"6,keyasint"`
	Alive         bool     `cbor:"7,keyasint"`
	Status        string   `cbor:"8,keyasint,omitempty"`
	Tags          []string `cbor:"9,keyasint,omitempty"`
	AgentSessionID string  `cbor:"10,keyasint,omitempty"`
}
