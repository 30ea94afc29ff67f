package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"
)

// State tracks the connection lifecycle. The machine has exactly two
// states so tests can assert on the transition itself, not only the end
// result.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

const stopTimeout = 5 * time.Second

// Config carries everything needed to launch one analysis-server session.
type Config struct {
	ServerID string
	Command  string
	Args     []string
	RootDir  string

	// Settings and GlobalSettings are forwarded verbatim inside
	// initializationOptions; the server indexes them by those exact keys.
	Settings       any
	GlobalSettings any

	Trace  protocol.TraceValue
	Logger *zap.Logger
}

// Connection owns one live session with the background analysis process:
// the child process, the JSON-RPC stream over its stdio, and the LSP
// handshake state.
type Connection struct {
	id     string
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	state  State
	cmd    *exec.Cmd
	conn   *jsonrpc2.Conn
	cancel context.CancelFunc
}

func NewConnection(cfg Config) *Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection{
		id:     uuid.NewString(),
		cfg:    cfg,
		logger: logger,
		state:  StateStopped,
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// transition moves the state machine; the caller holds c.mu.
func (c *Connection) transition(from, to State) error {
	if c.state != from {
		return fmt.Errorf("connection %s: cannot transition %s -> %s", c.id, c.state, to)
	}
	c.state = to
	return nil
}

// Start spawns the server process and performs the initialize handshake.
// On any failure the connection stays stopped and the process is reaped.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateStopped {
		c.mu.Unlock()
		return fmt.Errorf("connection %s: already running", c.id)
	}
	c.mu.Unlock()

	root := c.cfg.RootDir
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, c.cfg.Command, c.cfg.Args...)
	cmd.Dir = absRoot

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return err
	}

	rwc := &stdioPipe{reader: stdout, writer: stdin}

	go c.drainStderr(stderr)

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", c.cfg.Command, err)
	}

	if err := c.attach(ctx, runCtx, rwc, cmd, cancel, absRoot); err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return err
	}
	return nil
}

// attach frames the JSON-RPC transport over rwc, performs the initialize
// handshake, and moves the machine to running. Split from Start so the
// protocol exchange can also be driven over an in-process pipe.
func (c *Connection) attach(ctx, connCtx context.Context, rwc io.ReadWriteCloser, cmd *exec.Cmd, cancel context.CancelFunc, root string) error {
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(connCtx, stream, c.serverHandler())

	if err := c.handshake(ctx, conn, root); err != nil {
		cancel()
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	if err := c.transition(StateStopped, StateRunning); err != nil {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return err
	}
	c.cmd = cmd
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Debug("server connection started",
		zap.String("id", c.id),
		zap.String("command", c.cfg.Command))
	return nil
}

func (c *Connection) handshake(ctx context.Context, conn *jsonrpc2.Conn, root string) error {
	params := &protocol.InitializeParams{
		ProcessID: int32(os.Getpid()),
		RootURI:   protocol.DocumentURI(uri.File(root)),
		ClientInfo: &protocol.ClientInfo{
			Name:    c.cfg.ServerID,
			Version: "0.1",
		},
		Capabilities: protocol.ClientCapabilities{},
		Trace:        c.cfg.Trace,
		InitializationOptions: map[string]any{
			"settings":       c.cfg.Settings,
			"globalSettings": c.cfg.GlobalSettings,
		},
	}
	var result protocol.InitializeResult
	if err := conn.Call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize handshake: %w", err)
	}
	return conn.Notify(ctx, "initialized", &protocol.InitializedParams{})
}

// Stop performs a graceful shutdown: the LSP shutdown request, the exit
// notification, then process teardown as a backstop. Stopping an already
// stopped connection is a no-op.
func (c *Connection) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return nil
	}
	conn, cmd, cancel := c.conn, c.cmd, c.cancel
	c.mu.Unlock()

	shutdownCtx, cancelShutdown := context.WithTimeout(ctx, stopTimeout)
	defer cancelShutdown()
	if err := conn.Call(shutdownCtx, "shutdown", nil, nil); err != nil {
		c.logger.Debug("shutdown request failed", zap.String("id", c.id), zap.Error(err))
	}
	_ = conn.Notify(shutdownCtx, "exit", nil)
	_ = conn.Close()
	cancel()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition(StateRunning, StateStopped); err != nil {
		return err
	}
	c.cmd = nil
	c.conn = nil
	c.cancel = nil
	c.logger.Debug("server connection stopped", zap.String("id", c.id))
	return nil
}

// SetTrace adjusts the server's trace verbosity at runtime.
func (c *Connection) SetTrace(ctx context.Context, value protocol.TraceValue) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != StateRunning || conn == nil {
		return ErrServerUnavailable
	}
	return conn.Notify(ctx, "$/setTrace", protocol.SetTraceParams{Value: value})
}

// Call sends one request over the live session.
func (c *Connection) Call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != StateRunning || conn == nil {
		return ErrServerUnavailable
	}
	return conn.Call(ctx, method, params, result)
}

// serverHandler routes server-initiated traffic. The analysis server only
// pushes log and message notifications; requests are rejected.
func (c *Connection) serverHandler() jsonrpc2.Handler {
	return jsonrpc2.HandlerWithError(func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
		if !req.Notif {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not handled"}
		}
		switch req.Method {
		case "window/logMessage", "window/showMessage":
			var params protocol.LogMessageParams
			if req.Params != nil {
				if err := json.Unmarshal(*req.Params, &params); err != nil {
					return nil, err
				}
			}
			c.logServerMessage(params)
			return nil, nil
		case "$/logTrace":
			var params protocol.LogTraceParams
			if req.Params != nil {
				if err := json.Unmarshal(*req.Params, &params); err != nil {
					return nil, err
				}
			}
			c.logger.Debug("server trace", zap.String("message", params.Message))
			return nil, nil
		default:
			return nil, nil
		}
	})
}

func (c *Connection) logServerMessage(params protocol.LogMessageParams) {
	switch params.Type {
	case protocol.MessageTypeError:
		c.logger.Error(params.Message)
	case protocol.MessageTypeWarning:
		c.logger.Warn(params.Message)
	case protocol.MessageTypeInfo:
		c.logger.Info(params.Message)
	default:
		c.logger.Debug(params.Message)
	}
}

func (c *Connection) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		c.logger.Debug("server stderr", zap.String("line", scanner.Text()))
	}
}

type stdioPipe struct {
	reader io.ReadCloser
	writer io.WriteCloser
}

func (s *stdioPipe) Read(p []byte) (int, error)  { return s.reader.Read(p) }
func (s *stdioPipe) Write(p []byte) (int, error) { return s.writer.Write(p) }
func (s *stdioPipe) Close() error {
	_ = s.reader.Close()
	return s.writer.Close()
}
