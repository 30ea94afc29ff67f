package lsp

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/lexcodex/unitgen/config"
)

// scriptedServer plays the analysis server's side of the protocol over an
// in-process pipe, recording every method it sees.
type scriptedServer struct {
	mu          sync.Mutex
	methods     []string
	initOptions map[string]any
}

func (s *scriptedServer) handler() jsonrpc2.Handler {
	return jsonrpc2.HandlerWithError(func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
		s.mu.Lock()
		s.methods = append(s.methods, req.Method)
		s.mu.Unlock()
		switch req.Method {
		case "initialize":
			var params struct {
				InitializationOptions map[string]any `json:"initializationOptions"`
			}
			if req.Params != nil {
				if err := json.Unmarshal(*req.Params, &params); err != nil {
					return nil, err
				}
			}
			s.mu.Lock()
			s.initOptions = params.InitializationOptions
			s.mu.Unlock()
			return protocol.InitializeResult{}, nil
		default:
			return nil, nil
		}
	})
}

func (s *scriptedServer) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

func (s *scriptedServer) options() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initOptions
}

func (s *scriptedServer) saw(method string) bool {
	return methodIndex(s.recorded(), method) >= 0
}

func methodIndex(methods []string, method string) int {
	for i, m := range methods {
		if m == method {
			return i
		}
	}
	return -1
}

func TestConnectionStartsStopped(t *testing.T) {
	conn := NewConnection(Config{ServerID: "unitgen", Command: "python3"})
	assert.Equal(t, StateStopped, conn.State())
	assert.NotEmpty(t, conn.ID())
}

func TestConnectionIdentitiesAreUnique(t *testing.T) {
	a := NewConnection(Config{Command: "python3"})
	b := NewConnection(Config{Command: "python3"})
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestStopOnStoppedConnectionIsNoop(t *testing.T) {
	conn := NewConnection(Config{Command: "python3"})
	if err := conn.Stop(context.Background()); err != nil {
		t.Fatalf("stop on stopped connection: %v", err)
	}
	assert.Equal(t, StateStopped, conn.State())
}

func TestCallWithoutSession(t *testing.T) {
	conn := NewConnection(Config{Command: "python3"})
	err := conn.Call(context.Background(), MethodGenerate, GenerateParams{}, new(string))
	assert.ErrorIs(t, err, ErrServerUnavailable)

	err = conn.SetTrace(context.Background(), protocol.TraceVerbose)
	assert.ErrorIs(t, err, ErrServerUnavailable)
}

func TestHandshakeCarriesBothSettingsBlocks(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	server := &scriptedServer{}
	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	serverConn := jsonrpc2.NewConn(serverCtx,
		jsonrpc2.NewBufferedStream(serverSide, jsonrpc2.VSCodeObjectCodec{}),
		server.handler())
	defer serverConn.Close()

	conn := NewConnection(Config{
		ServerID:       "unitgen",
		Settings:       []config.Server{{Interpreter: []string{"/usr/bin/python3"}}},
		GlobalSettings: config.Server{ImportStrategy: "useBundled"},
		Trace:          protocol.TraceMessage,
	})
	connCtx, cancel := context.WithCancel(context.Background())
	ctx, cancelCall := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCall()
	require.NoError(t, conn.attach(ctx, connCtx, clientSide, nil, cancel, t.TempDir()))
	assert.Equal(t, StateRunning, conn.State())

	require.Eventually(t, func() bool {
		return server.saw("initialized")
	}, 5*time.Second, 10*time.Millisecond, "initialized notification never arrived")

	opts := server.options()
	require.NotNil(t, opts, "initialize carried no initializationOptions")
	assert.Contains(t, opts, "settings")
	assert.Contains(t, opts, "globalSettings")

	require.NoError(t, conn.Stop(ctx))
	assert.Equal(t, StateStopped, conn.State())
}

func TestStopSendsShutdownThenExit(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	server := &scriptedServer{}
	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	serverConn := jsonrpc2.NewConn(serverCtx,
		jsonrpc2.NewBufferedStream(serverSide, jsonrpc2.VSCodeObjectCodec{}),
		server.handler())
	defer serverConn.Close()

	conn := NewConnection(Config{ServerID: "unitgen"})
	connCtx, cancel := context.WithCancel(context.Background())
	ctx, cancelCall := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCall()
	require.NoError(t, conn.attach(ctx, connCtx, clientSide, nil, cancel, t.TempDir()))

	require.NoError(t, conn.Stop(ctx))
	assert.Equal(t, StateStopped, conn.State())

	require.Eventually(t, func() bool {
		return server.saw("exit")
	}, 5*time.Second, 10*time.Millisecond, "exit notification never arrived")

	methods := server.recorded()
	shutdownAt := methodIndex(methods, "shutdown")
	exitAt := methodIndex(methods, "exit")
	require.GreaterOrEqual(t, shutdownAt, 0, "shutdown request never arrived, saw %v", methods)
	assert.Less(t, shutdownAt, exitAt, "shutdown must precede exit, saw %v", methods)
	assert.Less(t, methodIndex(methods, "initialize"), methodIndex(methods, "initialized"))
}

func TestStartMissingExecutable(t *testing.T) {
	conn := NewConnection(Config{
		ServerID: "unitgen",
		Command:  "definitely-not-a-real-python-binary",
		RootDir:  t.TempDir(),
	})
	err := conn.Start(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateStopped, conn.State(), "failed start must leave the connection stopped")
}
