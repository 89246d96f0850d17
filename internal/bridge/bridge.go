// Package bridge exposes fugue's session/window/pane operations as MCP
// tools, so an external agent runtime can drive the same CRUD surface an
// interactive client uses. It attaches to the daemon over an in-memory
// net.Pipe and is dispatched through the exact same handler table a real
// socket client goes through (server.Server.ServeBridgeConn) — no shadow
// copy of session-mutation logic lives in this package.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fugueterm/fugue/internal/protocol"
	"github.com/fugueterm/fugue/internal/server"
)

// Bridge is an MCP server whose tools are thin wrappers around requests
// sent to an attached fugue client connection.
type Bridge struct {
	mcpServer *mcp.Server
	conn      net.Conn
	logger    *slog.Logger

	seq     uint64
	mu      sync.Mutex
	pending map[uint64]chan protocol.Envelope
	writeMu sync.Mutex // serializes concurrent tool calls' frame writes on conn
}

// New attaches a fresh bridge client to srv and registers every tool. The
// bridge does not start reading until Run is called.
func New(srv *server.Server, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	clientSide, daemonSide := net.Pipe()
	b := &Bridge{
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: "fugue", Version: "0.1.0"}, nil),
		conn:      clientSide,
		logger:    logger,
		pending:   make(map[uint64]chan protocol.Envelope),
	}
	go srv.ServeBridgeConn(daemonSide)
	go b.readLoop()
	b.registerTools()
	return b
}

// Run serves the MCP server over standard streams until ctx is canceled or
// the transport errs. The control surface is consumed by an agent runtime
// launching fugue's bridge as a subprocess, so stdio is the natural
// transport rather than a network listener.
func (b *Bridge) Run(ctx context.Context) error {
	return b.mcpServer.Run(ctx, mcp.NewStdioTransport())
}

// readLoop demultiplexes frames coming back from the attached daemon
// connection by sequence number. A frame whose Seq has no waiting caller
// (a broadcast the bridge never asked for, since it never calls
// AttachSession) is dropped — the bridge answers each tool call
// synchronously and has no persistent subscriber of its own.
func (b *Bridge) readLoop() {
	for {
		env, err := protocol.ReadFrame(b.conn)
		if err != nil {
			b.logger.Debug("bridge connection closed", "err", err)
			return
		}
		b.mu.Lock()
		ch, ok := b.pending[env.Seq]
		if ok {
			delete(b.pending, env.Seq)
		}
		b.mu.Unlock()
		if ok {
			ch <- env
		}
	}
}

// call sends payload under tag with a freshly minted sequence number and
// blocks for the response carrying that exact sequence number — never the
// next frame to arrive, since other tool calls may be in flight
// concurrently on the same connection.
func (b *Bridge) call(ctx context.Context, tag protocol.Tag, payload any) (protocol.Envelope, error) {
	seq := atomic.AddUint64(&b.seq, 1)
	ch := make(chan protocol.Envelope, 1)
	b.mu.Lock()
	b.pending[seq] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, seq)
		b.mu.Unlock()
	}()

	b.writeMu.Lock()
	err := protocol.Encode(b.conn, tag, seq, payload)
	b.writeMu.Unlock()
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("encode request: %w", err)
	}
	select {
	case env := <-ch:
		if env.Tag == protocol.TagError {
			var detail protocol.ErrorDetail
			if derr := protocol.DecodePayload(env, &detail); derr == nil {
				return protocol.Envelope{}, &detail
			}
			return protocol.Envelope{}, fmt.Errorf("request failed with no error detail")
		}
		return env, nil
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

// decodeInto runs call and decodes a successful response's payload into out.
func (b *Bridge) decodeInto(ctx context.Context, tag protocol.Tag, payload any, out any) error {
	env, err := b.call(ctx, tag, payload)
	if err != nil {
		return err
	}
	return protocol.DecodePayload(env, out)
}
