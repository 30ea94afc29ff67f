package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexcodex/unitgen/python"
)

func newProbeCmd() *cobra.Command {
	var interpreter []string
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe the python environment the analysis server would run under",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			resolver := python.NewExecResolver(zap.NewNop())

			var desc *python.Descriptor
			var err error
			if len(interpreter) > 0 {
				desc, err = resolver.Resolve(ctx, interpreter)
			} else {
				desc, err = resolver.ActiveInterpreter(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Interpreter: %s\n", desc.Path)
			fmt.Fprintf(cmd.OutOrStdout(), "Version:     %s\n", desc.Version)
			if desc.Supported() {
				fmt.Fprintln(cmd.OutOrStdout(), "Supported:   yes")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Supported:   no (requires %s or greater)\n", python.MinVersion)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&interpreter, "interpreter", nil, "Explicit interpreter command to probe")
	return cmd
}
