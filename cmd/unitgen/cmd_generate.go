package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.lsp.dev/uri"
	"go.uber.org/zap/zapcore"

	"github.com/lexcodex/unitgen/extension"
)

func newGenerateCmd() *cobra.Command {
	var file string
	var line uint32
	var pytest bool
	var tool string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a unit test for the function at a source location",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("a --file is required")
			}
			absFile, err := filepath.Abs(file)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			level := zapcore.InfoLevel
			if flagVerbose {
				level = zapcore.DebugLevel
			}
			output := extension.NewOutputChannel(flagServerID, cmd.ErrOrStderr(), level)

			ext, err := extension.Activate(ctx, extension.Options{
				ServerID:   flagServerID,
				ConfigPath: flagConfig,
				Workspace:  flagWorkspace,
				ToolPath:   tool,
				Output:     output,
				Editor: extension.StaticEditor{
					Doc:    uri.File(absFile),
					Line:   line,
					Active: true,
				},
				Sink: extension.WriterSink{W: cmd.OutOrStdout()},
			})
			if err != nil {
				return err
			}
			defer func() {
				deactivateCtx, cancelDeactivate := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancelDeactivate()
				_ = ext.Deactivate(deactivateCtx)
			}()

			if err := ext.EnsureConnection(ctx); err != nil {
				return err
			}

			id := flagServerID + ".generateTest"
			if pytest {
				id = flagServerID + ".generatePytest"
			}
			return ext.ExecuteCommand(ctx, id)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Python source file containing the function")
	cmd.Flags().Uint32Var(&line, "line", 0, "Zero-based line of the function definition")
	cmd.Flags().BoolVar(&pytest, "pytest", false, "Generate a pytest-style test instead of unittest")
	cmd.Flags().StringVar(&tool, "tool", "", "Path to the bundled analysis server entry point")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "Overall request timeout")
	return cmd
}

func newCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List the command identifiers the extension registers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := extension.NewOutputChannel(flagServerID, os.Stderr, zapcore.ErrorLevel)
			ext, err := extension.Activate(ctx, extension.Options{
				ServerID:   flagServerID,
				ConfigPath: flagConfig,
				Workspace:  flagWorkspace,
				Output:     output,
			})
			if err != nil {
				return err
			}
			defer func() {
				deactivateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = ext.Deactivate(deactivateCtx)
			}()
			for _, id := range ext.Commands().IDs() {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}
