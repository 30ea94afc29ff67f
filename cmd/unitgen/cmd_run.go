package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/lexcodex/unitgen/extension"
)

func newRunCmd() *cobra.Command {
	var tool string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the extension host until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

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
			})
			if err != nil {
				return err
			}

			<-ctx.Done()

			deactivateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return ext.Deactivate(deactivateCtx)
		},
	}
	cmd.Flags().StringVar(&tool, "tool", "", "Path to the bundled analysis server entry point")
	return cmd
}

func newRestartCmd() *cobra.Command {
	var tool string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Cycle the analysis server once and report the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			})
			if err != nil {
				return err
			}
			defer func() {
				deactivateCtx, cancelDeactivate := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancelDeactivate()
				_ = ext.Deactivate(deactivateCtx)
			}()

			if err := ext.ExecuteCommand(ctx, flagServerID+".restart"); err != nil {
				return err
			}
			if ext.Controller().Current() == nil {
				return fmt.Errorf("no server connection could be established; see the log for remediation")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "server restarted")
			return nil
		},
	}
	cmd.Flags().StringVar(&tool, "tool", "", "Path to the bundled analysis server entry point")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall restart timeout")
	return cmd
}
