package controller

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lexcodex/unitgen/config"
	"github.com/lexcodex/unitgen/lsp"
	"github.com/lexcodex/unitgen/python"
)

// missingInterpreterMessage mirrors the guidance the bundled server's
// documentation gives: either pick an interpreter through the Python
// extension or set one explicitly.
const missingInterpreterMessage = "Python interpreter missing:\r\n" +
	"[Option 1] Select a python interpreter using the Python extension.\r\n" +
	"[Option 2] Set an interpreter using the %q setting.\r\n" +
	"Please use Python %s or greater."

// evaluate is the core decision procedure: re-read the interpreter source,
// resolve it, and replace the connection when a usable runtime is found.
// It runs to completion before the run loop picks up the next trigger.
func (c *Controller) evaluate(ctx context.Context) error {
	settings, err := c.opts.Store.Server(c.opts.ServerID)
	if err != nil {
		c.logger.Warn("settings read failed, using defaults", zap.Error(err))
	}

	if len(settings.Interpreter) > 0 {
		desc, err := c.opts.Resolver.Resolve(ctx, settings.Interpreter)
		if err != nil {
			// An explicit setting that does not resolve leaves whatever
			// connection exists untouched.
			c.logger.Debug("configured interpreter did not resolve",
				zap.Strings("interpreter", settings.Interpreter), zap.Error(err))
			return nil
		}
		if !desc.Supported() {
			c.logger.Debug("configured interpreter below minimum supported version",
				zap.String("path", desc.Path),
				zap.String("version", desc.Version.String()),
				zap.String("required", python.MinVersion.String()))
			return nil
		}
		c.logger.Info(fmt.Sprintf("Using interpreter from %s.interpreter: %s",
			c.opts.ServerID, strings.Join(settings.Interpreter, " ")))
		return c.replace(ctx, settings.Interpreter, settings)
	}

	desc, err := c.opts.Resolver.ActiveInterpreter(ctx)
	if err != nil || !desc.Supported() {
		c.logger.Error(fmt.Sprintf(missingInterpreterMessage,
			config.ServerNamespace(c.opts.ServerID)+".interpreter",
			python.MinVersion.String()))
		return nil
	}
	c.logger.Info("Using interpreter from Python extension: " + desc.Path)
	return c.replace(ctx, []string{desc.Path}, settings)
}

// replace enforces the at-most-one-connection invariant: the old handle is
// unbound and fully stopped before the new one starts.
func (c *Controller) replace(ctx context.Context, command []string, settings config.Server) error {
	c.mu.Lock()
	old := c.current
	c.current = nil
	c.mu.Unlock()
	if old != nil {
		if err := old.Stop(ctx); err != nil {
			c.logger.Warn("previous server connection did not stop cleanly",
				zap.String("id", old.ID()), zap.Error(err))
		}
	}

	global, err := c.opts.Store.Global()
	if err != nil {
		c.logger.Warn("global settings read failed, using defaults", zap.Error(err))
	}

	args := append([]string{}, command[1:]...)
	if c.opts.ToolPath != "" {
		args = append(args, c.opts.ToolPath)
	}
	args = append(args, settings.Args...)

	next := c.opts.NewHandle(lsp.Config{
		ServerID:       c.opts.ServerID,
		Command:        command[0],
		Args:           args,
		RootDir:        settings.Cwd,
		Settings:       []config.Server{settings},
		GlobalSettings: global,
		Trace:          c.effectiveTrace(),
		Logger:         c.logger,
	})
	if err := next.Start(ctx); err != nil {
		// Terminal for this evaluation pass only; the controller stays
		// ready for the next trigger.
		c.logger.Error("server connection failed to start", zap.Error(err))
		return err
	}

	c.mu.Lock()
	c.current = next
	c.mu.Unlock()
	return nil
}
