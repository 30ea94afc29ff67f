package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/lexcodex/unitgen/config"
	"github.com/lexcodex/unitgen/lsp"
	"github.com/lexcodex/unitgen/python"
)

// ErrClosed is returned for triggers dispatched after the controller's run
// loop has exited.
var ErrClosed = errors.New("lifecycle controller is closed")

const shutdownTimeout = 5 * time.Second

// Handle is the lifecycle surface of one live server connection. The real
// implementation is *lsp.Connection; tests substitute fakes.
type Handle interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SetTrace(ctx context.Context, value protocol.TraceValue) error
	Call(ctx context.Context, method string, params, result any) error
}

// TraceSource projects the host's log levels into an LSP trace value and
// signals whenever either level moves.
type TraceSource interface {
	Effective() protocol.TraceValue
	Changed() <-chan struct{}
}

// Options wire a controller to its collaborators.
type Options struct {
	ServerID string
	// ToolPath is the analysis-server entry point handed to the
	// interpreter.
	ToolPath string
	Store    *config.Store
	Resolver python.Resolver
	Trace    TraceSource
	Logger   *zap.Logger
	// ConfigEvents feeds configuration-changed notifications, typically
	// from a config.Watcher. May be nil.
	ConfigEvents <-chan config.Event
	// NewHandle builds connection handles; defaults to lsp.NewConnection.
	NewHandle func(lsp.Config) Handle
}

type triggerKind int

const (
	kindBootstrap triggerKind = iota
	kindRestart
	kindInterpreterChanged
	kindConfigChanged
)

type trigger struct {
	kind  triggerKind
	event config.Event
	done  chan error
}

// Controller is the single source of truth for whether a server connection
// exists and which runtime it is bound to. All triggers funnel through one
// consumer goroutine, so evaluation passes never interleave and at most
// one connection is ever live.
type Controller struct {
	opts   Options
	logger *zap.Logger
	queue  chan trigger

	mu      sync.RWMutex
	current Handle

	done chan struct{}
}

func New(opts Options) *Controller {
	if opts.ServerID == "" {
		opts.ServerID = "unitgen"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.NewHandle == nil {
		opts.NewHandle = func(cfg lsp.Config) Handle { return lsp.NewConnection(cfg) }
	}
	return &Controller{
		opts:   opts,
		logger: opts.Logger,
		queue:  make(chan trigger),
		done:   make(chan struct{}),
	}
}

// Run consumes triggers until ctx is cancelled, then tears down whatever
// connection is live. It must be running before any trigger is dispatched.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)

	var resolverChanged <-chan struct{}
	if c.opts.Resolver != nil {
		resolverChanged = c.opts.Resolver.Changed()
	}
	var traceChanged <-chan struct{}
	if c.opts.Trace != nil {
		traceChanged = c.opts.Trace.Changed()
	}
	configEvents := c.opts.ConfigEvents

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return
		case t := <-c.queue:
			t.done <- c.process(ctx, t)
		case <-resolverChanged:
			if err := c.evaluate(ctx); err != nil {
				c.logger.Warn("evaluation after interpreter change failed", zap.Error(err))
			}
		case ev, ok := <-configEvents:
			if !ok {
				configEvents = nil
				continue
			}
			if err := c.process(ctx, trigger{kind: kindConfigChanged, event: ev}); err != nil {
				c.logger.Warn("evaluation after settings change failed", zap.Error(err))
			}
		case <-traceChanged:
			c.mirrorTrace(ctx)
		}
	}
}

// Done is closed once the run loop has fully exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Bootstrap is the activation-time trigger. When no explicit interpreter
// is configured it defers to resolver discovery, which later raises an
// interpreter-changed signal; otherwise it evaluates immediately.
func (c *Controller) Bootstrap(ctx context.Context) error {
	return c.dispatch(ctx, trigger{kind: kindBootstrap})
}

// Restart unconditionally re-evaluates and replaces the connection.
func (c *Controller) Restart(ctx context.Context) error {
	return c.dispatch(ctx, trigger{kind: kindRestart})
}

// InterpreterChanged handles an environment-resolver notification.
func (c *Controller) InterpreterChanged(ctx context.Context) error {
	return c.dispatch(ctx, trigger{kind: kindInterpreterChanged})
}

// ConfigurationChanged handles a settings change. Events outside the
// server's namespace are discarded without an evaluation pass.
func (c *Controller) ConfigurationChanged(ctx context.Context, ev config.Event) error {
	return c.dispatch(ctx, trigger{kind: kindConfigChanged, event: ev})
}

// Current exposes the bound connection to the request protocol. During a
// replacement window this may be nil; callers treat that as the server
// being unavailable.
func (c *Controller) Current() lsp.Caller {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil
	}
	return c.current
}

func (c *Controller) dispatch(ctx context.Context, t trigger) error {
	t.done = make(chan error, 1)
	select {
	case c.queue <- t:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) process(ctx context.Context, t trigger) error {
	switch t.kind {
	case kindBootstrap:
		return c.bootstrap(ctx)
	case kindConfigChanged:
		if !t.event.Affects(config.ServerNamespace(c.opts.ServerID)) {
			return nil
		}
		return c.evaluate(ctx)
	default:
		return c.evaluate(ctx)
	}
}

func (c *Controller) bootstrap(ctx context.Context) error {
	settings, err := c.opts.Store.Server(c.opts.ServerID)
	if err == nil && len(settings.Interpreter) == 0 {
		// Discovery announces its result through the resolver's changed
		// signal, which lands back here as an interpreter-changed trigger.
		return c.opts.Resolver.Initialize(ctx)
	}
	return c.evaluate(ctx)
}

func (c *Controller) mirrorTrace(ctx context.Context) {
	c.mu.RLock()
	current := c.current
	c.mu.RUnlock()
	if current == nil {
		return
	}
	value := c.effectiveTrace()
	if err := current.SetTrace(ctx, value); err != nil {
		c.logger.Debug("trace level update failed", zap.Error(err))
	}
}

func (c *Controller) effectiveTrace() protocol.TraceValue {
	if c.opts.Trace == nil {
		return protocol.TraceOff
	}
	return c.opts.Trace.Effective()
}

// teardown stops the live connection when the run loop exits. The loop's
// context is already gone, so a fresh deadline bounds the shutdown.
func (c *Controller) teardown() {
	c.mu.Lock()
	current := c.current
	c.current = nil
	c.mu.Unlock()
	if current == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := current.Stop(ctx); err != nil {
		c.logger.Warn("server connection did not stop cleanly",
			zap.String("id", current.ID()), zap.Error(err))
	}
}
