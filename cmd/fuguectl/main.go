// Command fuguectl is a thin client over fugue's control socket: list
// sessions, create one, and attach a raw terminal to a pane's output. It
// exercises the socket protocol directly rather than through the MCP
// bridge, the way an interactive TUI client eventually would.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fugueterm/fugue/internal/config"
	"github.com/fugueterm/fugue/internal/protocol"
)

func main() {
	var socketFlag string

	root := &cobra.Command{
		Use:   "fuguectl",
		Short: "fugue control client",
	}
	root.PersistentFlags().StringVar(&socketFlag, "socket", "", "control socket path (default ~/.fugue/fugue.sock)")

	root.AddCommand(listCmd(&socketFlag), createCmd(&socketFlag), attachCmd(&socketFlag))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveSocket(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	dir, err := config.DefaultStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "fugue.sock"), nil
}

func dial(socketFlag string) (net.Conn, error) {
	path, err := resolveSocket(socketFlag)
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return conn, nil
}

// ctlConn is a tiny request/response wrapper: fuguectl never has more than one
// call in flight at a time, so unlike the control bridge it does not need a
// pending-by-seq map — each call here just reads the very next frame back.
type ctlConn struct {
	net.Conn
	seq uint64
}

func (c *ctlConn) call(tag protocol.Tag, payload any) (protocol.Envelope, error) {
	seq := atomic.AddUint64(&c.seq, 1)
	if err := protocol.Encode(c.Conn, tag, seq, payload); err != nil {
		return protocol.Envelope{}, err
	}
	env, err := protocol.ReadFrame(c.Conn)
	if err != nil {
		return protocol.Envelope{}, err
	}
	if env.Tag == protocol.TagError {
		var detail protocol.ErrorDetail
		if protocol.DecodePayload(env, &detail) == nil {
			return protocol.Envelope{}, &detail
		}
		return protocol.Envelope{}, fmt.Errorf("request failed")
	}
	return env, nil
}

func listCmd(socketFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(*socketFlag)
			if err != nil {
				return err
			}
			defer conn.Close()
			c := &ctlConn{Conn: conn}
			env, err := c.call(protocol.TagListSessions, protocol.ListSessions{})
			if err != nil {
				return err
			}
			var list protocol.SessionList
			if err := protocol.DecodePayload(env, &list); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tNAME\tWINDOWS")
			for _, s := range list.Sessions {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", s.ID, s.Name, len(s.Windows))
			}
			return tw.Flush()
		},
	}
}

func createCmd(socketFlag *string) *cobra.Command {
	var name, command, cwd string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "create a session and attach to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(*socketFlag)
			if err != nil {
				return err
			}
			defer conn.Close()
			c := &ctlConn{Conn: conn}
			rows, cols := terminalSize()
			env, err := c.call(protocol.TagCreateSession, protocol.CreateSession{
				Name: name, Command: command, CWD: cwd, Rows: rows, Cols: cols,
			})
			if err != nil {
				return err
			}
			var attached protocol.Attached
			if err := protocol.DecodePayload(env, &attached); err != nil {
				return err
			}
			return runAttachLoop(conn, attached.Session)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "session name (auto-named if empty)")
	cmd.Flags().StringVar(&command, "command", "", "command to run in the first pane (default_command if empty)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory")
	return cmd
}

func attachCmd(socketFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "attach <session-id-or-name>",
		Short: "attach to an existing session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(*socketFlag)
			if err != nil {
				return err
			}
			defer conn.Close()
			c := &ctlConn{Conn: conn}
			req := protocol.AttachSession{SessionID: args[0]}
			if _, err := parseUUIDLoose(args[0]); err != nil {
				req = protocol.AttachSession{Name: args[0]}
			}
			env, err := c.call(protocol.TagAttachSession, req)
			if err != nil {
				return err
			}
			var attached protocol.Attached
			if err := protocol.DecodePayload(env, &attached); err != nil {
				return err
			}
			return runAttachLoop(conn, attached.Session)
		},
	}
}

// runAttachLoop puts the controlling terminal into raw mode, relays the
// focused pane's output to stdout and stdin to the pane, and resizes the
// pane on SIGWINCH — the same three concerns the teacher's eggSpawn raw
// terminal attach handles, adapted from its gRPC stream to framed socket
// messages and from one fixed session to whichever pane is focused.
func runAttachLoop(conn net.Conn, sess protocol.SessionView) error {
	paneID := focusedPaneID(sess)
	if paneID == "" {
		return fmt.Errorf("session %s has no panes", sess.ID)
	}

	fd := int(os.Stdin.Fd())
	var oldState *term.State
	if term.IsTerminal(fd) {
		var err error
		oldState, err = term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			if w, h, err := term.GetSize(fd); err == nil {
				protocol.Encode(conn, protocol.TagResize, 0, protocol.Resize{PaneID: paneID, Rows: h, Cols: w})
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			env, err := protocol.ReadFrame(conn)
			if err != nil {
				return
			}
			switch env.Tag {
			case protocol.TagOutput:
				var out protocol.Output
				if protocol.DecodePayload(env, &out) == nil && out.PaneID == paneID {
					os.Stdout.Write(out.Data)
				}
			case protocol.TagPaneClosed:
				var pc protocol.PaneClosed
				if protocol.DecodePayload(env, &pc) == nil && pc.PaneID == paneID {
					return
				}
			}
		}
	}()

	go func() {
		r := bufio.NewReader(os.Stdin)
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				if encErr := protocol.Encode(conn, protocol.TagInput, 0, protocol.Input{PaneID: paneID, Data: data}); encErr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	<-done
	return nil
}

func focusedPaneID(sess protocol.SessionView) string {
	for _, w := range sess.Windows {
		if w.ID == sess.FocusedWindow || sess.FocusedWindow == "" {
			if w.FocusedPane != "" {
				return w.FocusedPane
			}
			if len(w.Panes) > 0 {
				return w.Panes[0].ID
			}
		}
	}
	for _, w := range sess.Windows {
		if len(w.Panes) > 0 {
			return w.Panes[0].ID
		}
	}
	return ""
}

func terminalSize() (rows, cols int) {
	rows, cols = 24, 80
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		if w, h, err := term.GetSize(fd); err == nil {
			cols, rows = w, h
		}
	}
	return rows, cols
}

func parseUUIDLoose(s string) (string, error) {
	if len(s) != 36 {
		return "", fmt.Errorf("not a uuid")
	}
	return s, nil
}
