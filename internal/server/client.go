package server

import (
	"net"
	"sync"

	"github.com/fugueterm/fugue/internal/protocol"
	"github.com/fugueterm/fugue/internal/session"
)

// outboundQueueSize bounds how many pending messages a client can fall
// behind by before the server starts dropping output for it.
const outboundQueueSize = 256

// Client is one attached connection. Writes are serialized through a
// single goroutine draining outbox, so send() never blocks the caller
// beyond the channel's buffer.
type Client struct {
	conn net.Conn

	mu      sync.Mutex
	closed  bool
	outbox  chan frame
	doneCh  chan struct{}

	// focusedPane is never set or read: handleInput routes only by
	// Input.PaneID and rejects an empty one as PaneNotFound.
	focusedPane session.ID

	// isBridge marks a connection attached via ServeBridgeConn: its Input
	// requests are agent-originated and subject to the human-priority
	// arbiter, and its writes never count as "human input" for that gate.
	isBridge bool
}

type frame struct {
	tag     protocol.Tag
	seq     uint64
	payload any
}

func newClient(conn net.Conn) *Client {
	c := &Client{
		conn:   conn,
		outbox: make(chan frame, outboundQueueSize),
		doneCh: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *Client) writeLoop() {
	defer close(c.doneCh)
	for f := range c.outbox {
		if err := protocol.Encode(c.conn, f.tag, f.seq, f.payload); err != nil {
			return
		}
	}
}

// send enqueues a message for delivery, dropping it if the client's queue
// is full rather than blocking the caller (a broadcast to one wedged
// client must not stall every other client or the pane it reads from).
func (c *Client) send(tag protocol.Tag, seq uint64, payload any) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.outbox <- frame{tag: tag, seq: seq, payload: payload}:
	default:
	}
}

func (c *Client) sendError(seq uint64, err error) {
	detail := protocol.ErrorDetail{Code: protocol.CodeFor(err), Message: err.Error()}
	if pe, ok := err.(*protocol.ErrorDetail); ok {
		detail = *pe
	}
	c.send(protocol.TagError, seq, detail)
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.outbox)
	c.conn.Close()
}
