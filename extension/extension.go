package extension

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"go.lsp.dev/uri"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lexcodex/unitgen/config"
	"github.com/lexcodex/unitgen/controller"
	"github.com/lexcodex/unitgen/lsp"
	"github.com/lexcodex/unitgen/python"
)

// DefaultServerID names the logical analysis server and prefixes every
// command and settings section the extension owns.
const DefaultServerID = "unitgen"

// ResultSink receives generated test source for display. The host side
// opens it as a new untitled document; the CLI writes it out.
type ResultSink interface {
	Open(ctx context.Context, languageID, content string) error
}

// Notifier raises blocking, user-facing notifications.
type Notifier interface {
	Error(message string)
}

// WriterSink prints generated documents to a writer.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) Open(_ context.Context, _ string, content string) error {
	_, err := io.WriteString(s.W, content)
	return err
}

// LogNotifier funnels notifications into the output channel when the host
// provides no notification surface.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Error(message string) {
	n.Logger.Error(message)
}

// StaticEditor pins the active document and cursor, used by the CLI front
// end where there is no live editor.
type StaticEditor struct {
	Doc    uri.URI
	Line   uint32
	Active bool
}

func (e StaticEditor) ActiveDocument() (uri.URI, uint32, bool) {
	return e.Doc, e.Line, e.Active
}

// Options configure activation. Zero values fall back to working defaults
// so the CLI can activate with only a workspace.
type Options struct {
	ServerID   string
	ConfigPath string
	Workspace  string
	// ToolPath locates the bundled analysis-server entry point; defaults
	// to bundled/tool/lsp_server.py under the workspace.
	ToolPath string
	Output   *OutputChannel
	Resolver python.Resolver
	Editor   lsp.Editor
	Sink     ResultSink
	Notifier Notifier
	// NewConnection overrides connection construction, mainly for tests.
	NewConnection func(lsp.Config) controller.Handle
}

// Extension owns all extension-scoped state between activation and
// deactivation.
type Extension struct {
	opts       Options
	logger     *zap.Logger
	controller *controller.Controller
	generator  *lsp.Generator
	registry   *Registry
	watcher    *config.Watcher
	cancel     context.CancelFunc
}

// Activate wires the settings store, watcher, resolver, lifecycle
// controller, and command registry, starts the controller loop, and runs
// the activation-time bootstrap trigger. Bootstrap failures are logged,
// not fatal: the controller stays ready for the next event.
func Activate(ctx context.Context, opts Options) (*Extension, error) {
	if opts.ServerID == "" {
		opts.ServerID = DefaultServerID
	}
	if opts.Workspace == "" {
		opts.Workspace = "."
	}
	if opts.ToolPath == "" {
		opts.ToolPath = filepath.Join(opts.Workspace, "bundled", "tool", "lsp_server.py")
	}
	if opts.Output == nil {
		opts.Output = NewOutputChannel(opts.ServerID, os.Stderr, zapcore.InfoLevel)
	}
	logger := opts.Output.Logger()
	if opts.Resolver == nil {
		opts.Resolver = python.NewExecResolver(logger)
	}
	if opts.Editor == nil {
		opts.Editor = StaticEditor{}
	}
	if opts.Sink == nil {
		opts.Sink = WriterSink{W: os.Stdout}
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: logger}
	}

	store := config.NewStore(opts.ConfigPath, opts.Workspace)

	var watcher *config.Watcher
	var events <-chan config.Event
	if opts.ConfigPath != "" {
		w, err := config.NewWatcher(store, logger)
		if err != nil {
			logger.Warn("settings watch unavailable", zap.Error(err))
		} else {
			watcher = w
			events = w.Events()
		}
	}

	ctrl := controller.New(controller.Options{
		ServerID:     opts.ServerID,
		ToolPath:     opts.ToolPath,
		Store:        store,
		Resolver:     opts.Resolver,
		Trace:        opts.Output,
		Logger:       logger,
		ConfigEvents: events,
		NewHandle:    opts.NewConnection,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	go ctrl.Run(runCtx)

	ext := &Extension{
		opts:       opts,
		logger:     logger,
		controller: ctrl,
		generator: &lsp.Generator{
			Source: ctrl,
			Editor: opts.Editor,
			Logger: logger,
		},
		registry: NewRegistry(),
		watcher:  watcher,
		cancel:   cancel,
	}
	ext.registerCommands()

	if err := ctrl.Bootstrap(ctx); err != nil {
		logger.Warn("activation bootstrap failed", zap.Error(err))
	}
	return ext, nil
}

func (e *Extension) registerCommands() {
	id := e.opts.ServerID
	e.registry.Register(id+".helloWorld", func(ctx context.Context) error {
		e.logger.Info("Hello World from " + id + "!")
		return nil
	})
	e.registry.Register(id+".generateTest", func(ctx context.Context) error {
		return e.generate(ctx, false)
	})
	e.registry.Register(id+".generatePytest", func(ctx context.Context) error {
		return e.generate(ctx, true)
	})
	e.registry.Register(id+".restart", func(ctx context.Context) error {
		return e.controller.Restart(ctx)
	})
}

func (e *Extension) generate(ctx context.Context, pytest bool) error {
	text, err := e.generator.Generate(ctx, pytest)
	if err != nil {
		if errors.Is(err, lsp.ErrNoActiveEditor) {
			e.opts.Notifier.Error("No active editor: open a python file and place the cursor on the function to generate a test for.")
			return err
		}
		if errors.Is(err, lsp.ErrServerUnavailable) {
			// The round trip was skipped; nothing to display.
			e.logger.Debug("generation skipped, no server connection")
			return nil
		}
		return err
	}
	if text == "" {
		return nil
	}
	return e.opts.Sink.Open(ctx, "python", text)
}

// EnsureConnection forces a synchronous evaluation pass when no server
// connection is bound yet. Activation defers to asynchronous resolver
// discovery when no interpreter is configured; front ends without a
// long-lived event loop call this before their first request so that
// generation does not race discovery.
func (e *Extension) EnsureConnection(ctx context.Context) error {
	if e.controller.Current() != nil {
		return nil
	}
	return e.controller.Restart(ctx)
}

// Commands exposes the command registry for the host to bind.
func (e *Extension) Commands() *Registry { return e.registry }

// ExecuteCommand runs one registered command by identifier.
func (e *Extension) ExecuteCommand(ctx context.Context, id string) error {
	return e.registry.Execute(ctx, id)
}

// Controller exposes the lifecycle controller, mainly for the CLI and
// tests.
func (e *Extension) Controller() *controller.Controller { return e.controller }

// Deactivate stops the settings watcher and the controller loop, waiting
// for the live connection to be torn down.
func (e *Extension) Deactivate(ctx context.Context) error {
	if e.watcher != nil {
		_ = e.watcher.Close()
	}
	e.cancel()
	select {
	case <-e.controller.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
