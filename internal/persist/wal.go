package persist

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/fugueterm/fugue/internal/protocol"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// frame on disk: [4-byte checksum][4-byte length][cbor body]. The
// sequence number lives inside the cbor body (Entry.Seq) rather than the
// frame header — the header only carries what's needed to validate and
// size the read before decoding.
func writeFrame(w io.Writer, body []byte) error {
	checksum := crc32.Checksum(body, castagnoli)
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], checksum)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// readFrame reads one frame, validating its checksum. io.EOF (clean end)
// and io.ErrUnexpectedEOF / checksum mismatch (a torn write from a crash
// mid-append) are both reported so the caller can distinguish "done" from
// "truncated tail, discard and stop".
func readFrame(r io.Reader) ([]byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	wantChecksum := binary.BigEndian.Uint32(header[0:4])
	n := binary.BigEndian.Uint32(header[4:8])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	if crc32.Checksum(body, castagnoli) != wantChecksum {
		return nil, fmt.Errorf("persist: wal checksum mismatch")
	}
	return body, nil
}

func (h *StoreHandle) writeEntry(e Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSeq++
	e.Seq = h.nextSeq
	body, err := cbor.Marshal(e)
	if err != nil {
		return fmt.Errorf("persist: encode wal entry: %w", err)
	}
	if err := writeFrame(h.walFile, body); err != nil {
		return fmt.Errorf("persist: write wal entry: %w", err)
	}
	return h.walFile.Sync()
}

// ReadWAL replays every valid entry in path in order, stopping (without
// error) at the first truncated or corrupt frame — a WAL that was being
// appended to when the daemon crashed is expected to have a torn tail.
func ReadWAL(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var entries []Entry
	for {
		body, err := readFrame(r)
		if err != nil {
			return entries, nil
		}
		var e Entry
		if err := cbor.Unmarshal(body, &e); err != nil {
			return entries, nil
		}
		entries = append(entries, e)
	}
}

// --- server.Recorder implementation ---
//
// None of these return an error: the Recorder interface is called from
// request-handling goroutines that have already told the client the
// mutation succeeded in the in-memory model. A WAL write failure here is
// logged, not propagated — persistence is best-effort relative to the
// live model, not a blocking commit on every write. Nothing in this package
// or in the server sends CodePersistenceUnavail when a write fails.

// RecordSessionCreated appends a session-created entry.
func (h *StoreHandle) RecordSessionCreated(s protocol.SessionView) {
	h.logAppend(KindSessionCreated, SessionCreatedPayload{Session: s})
}

// RecordWindowCreated appends a window-created entry.
func (h *StoreHandle) RecordWindowCreated(sessionID string, w protocol.WindowView) {
	h.logAppend(KindWindowCreated, WindowCreatedPayload{SessionID: sessionID, Window: w})
}

// RecordPaneCreated appends a pane-created entry.
func (h *StoreHandle) RecordPaneCreated(sessionID, windowID string, p protocol.PaneView) {
	h.logAppend(KindPaneCreated, PaneCreatedPayload{SessionID: sessionID, WindowID: windowID, Pane: p})
}

// RecordPaneClosed appends a pane-closed entry.
func (h *StoreHandle) RecordPaneClosed(sessionID, windowID, paneID string, exitCode int, crashed bool) {
	h.logAppend(KindPaneClosed, PaneClosedPayload{
		SessionID: sessionID, WindowID: windowID, PaneID: paneID, ExitCode: exitCode, Crashed: crashed,
	})
}

// RecordSessionDestroyed appends a session-destroyed entry.
func (h *StoreHandle) RecordSessionDestroyed(sessionID string) {
	h.logAppend(KindSessionDestroyed, SessionDestroyedPayload{SessionID: sessionID})
}

// RecordMetadata appends a metadata-set entry.
func (h *StoreHandle) RecordMetadata(sessionID, key, value string) {
	h.logAppend(KindMetadataSet, MetadataPayload{SessionID: sessionID, Key: key, Value: value})
}

// RecordAgentSessionID appends an agent-session-id entry.
func (h *StoreHandle) RecordAgentSessionID(paneID, agentSessionID string) {
	h.logAppend(KindAgentSessionID, AgentSessionIDPayload{PaneID: paneID, AgentSessionID: agentSessionID})
}

func (h *StoreHandle) logAppend(kind Kind, payload any) {
	if err := h.append(kind, payload); err != nil {
		h.logger().Error("wal append failed", "kind", kind, "err", err)
	}
}

func (h *StoreHandle) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
