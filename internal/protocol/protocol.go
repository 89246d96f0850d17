// Package protocol defines the wire format shared by the client socket (C7)
// and exercised indirectly by the control bridge (C10): a length-prefixed
// frame carrying a tagged, self-describing binary envelope.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize bounds a single encoded frame. Exceeding it is reported
// before any payload bytes are read off the wire.
const MaxFrameSize = 16 * 1024 * 1024 // 16 MiB

// Tag discriminates the message carried in an Envelope's Payload.
type Tag uint8

// Client → server request tags.
const (
	TagAttachSession Tag = iota + 1
	TagCreateSession
	TagCreateWindow
	TagCreatePane
	TagClosePane
	TagInput
	TagResize
	TagSetViewportOffset
	TagSelectPane
	TagDestroySession
	TagRenameSession
	TagSetMetadata
	TagResizeLayout
	TagListSessions
	TagListPanes
	TagReadPane
	TagGetMetadata
	TagBroadcast
	TagReportStatus
	TagApplyLayout
)

// Server → client message tags.
const (
	TagAttached Tag = iota + 100
	TagSessionList
	TagPaneCreated
	TagPaneClosed
	TagOutput
	TagStatusUpdate
	TagError
	TagBroadcastAny
	TagAck
	TagPaneList
	TagPaneOutput
	TagMetadataValue
	TagSessionUpdated
)

// Envelope is the outer, self-describing shape of every frame. Payload is
// decoded a second time into the concrete type selected by Tag — this is
// the CBOR analog of the teacher's ws.Envelope{Type string} discriminator.
type Envelope struct {
	Tag     Tag             `cbor:"1,keyasint"`
	Seq     uint64          `cbor:"2,keyasint"` // request/response correlation: a response always echoes the Seq of the request it answers, never matched by arrival order
	Payload cbor.RawMessage `cbor:"3,keyasint"`
}

// Encode serializes v as the payload of an Envelope with the given tag and
// sequence number, then wraps the whole envelope in a 4-byte big-endian
// length-prefixed frame. Encoding never panics: cbor.Marshal errors are
// returned, not ignored.
func Encode(w io.Writer, tag Tag, seq uint64, v any) error {
	payload, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	env := Envelope{Tag: tag, Seq: seq, Payload: payload}
	body, err := cbor.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if len(body) > MaxFrameSize {
		return ErrMessageTooLarge
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and decodes its Envelope.
// MessageTooLarge is returned before the payload is read, per the frame's
// length prefix — a corrupt or hostile length never causes an unbounded
// allocation.
func ReadFrame(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return Envelope{}, ErrMessageTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, fmt.Errorf("read frame body: %w", err)
	}
	var env Envelope
	if err := cbor.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}

// DecodePayload decodes env's Payload into v.
func DecodePayload(env Envelope, v any) error {
	if err := cbor.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
