package persist

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/fugueterm/fugue/internal/protocol"
)

// Kind discriminates the payload carried by a WAL Entry.
type Kind uint8

const (
	KindSessionCreated Kind = iota + 1
	KindWindowCreated
	KindPaneCreated
	KindPaneClosed
	KindSessionDestroyed
	KindMetadataSet
	KindAgentSessionID
)

// Entry is one WAL record: a monotonic sequence number (assigned by the
// single writer goroutine), a kind discriminator, and the kind's
// payload as a second, separately-decoded CBOR value — the same
// two-stage envelope/payload split internal/protocol uses for wire
// frames, reused here for on-disk frames.
type Entry struct {
	Seq     uint64          `cbor:"1,keyasint"`
	Kind    Kind            `cbor:"2,keyasint"`
	Payload cbor.RawMessage `cbor:"3,keyasint"`
}

type SessionCreatedPayload struct {
	Session protocol.SessionView `cbor:"1,keyasint"`
}

type WindowCreatedPayload struct {
	SessionID string              `cbor:"1,keyasint"`
	Window    protocol.WindowView `cbor:"2,keyasint"`
}

type PaneCreatedPayload struct {
	SessionID string            `cbor:"1,keyasint"`
	WindowID  string            `cbor:"2,keyasint"`
	Pane      protocol.PaneView `cbor:"3,keyasint"`
}

type PaneClosedPayload struct {
	SessionID string `cbor:"1,keyasint"`
	WindowID  string `cbor:"2,keyasint"`
	PaneID    string `cbor:"3,keyasint"`
	ExitCode  int    `cbor:"4,keyasint"`
	Crashed   bool   `cbor:"5,keyasint"`
}

type SessionDestroyedPayload struct {
	SessionID string `cbor:"1,keyasint"`
}

type MetadataPayload struct {
	SessionID string `cbor:"1,keyasint"`
	Key       string `cbor:"2,keyasint"`
	Value     string `cbor:"3,keyasint"`
}

type AgentSessionIDPayload struct {
	PaneID         string `cbor:"1,keyasint"`
	AgentSessionID string `cbor:"2,keyasint"`
}

func newEntry(kind Kind, v any) (Entry, error) {
	payload, err := cbor.Marshal(v)
	if err != nil {
		return Entry{}, fmt.Errorf("persist: encode entry payload: %w", err)
	}
	return Entry{Kind: kind, Payload: payload}, nil
}

func decodePayload(e Entry, v any) error {
	if err := cbor.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("persist: decode entry payload: %w", err)
	}
	return nil
}
