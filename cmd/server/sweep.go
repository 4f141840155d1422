package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Re-submit pending and interrupted notarizations once, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := newApp(ctx, cfg, baseLogger)
			if err != nil {
				return err
			}
			defer a.close()

			runCtx, stop := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- a.pipeline.Run(runCtx) }()

			n, err := a.sweeper.Sweep(ctx)
			if err == nil {
				err = a.pipeline.Drain(ctx)
			}
			stop()
			<-done

			status := a.pipeline.Status()
			fmt.Fprintf(cmd.OutOrStdout(), "requeued=%d confirmed=%d failed=%d\n", n, status.Confirmed, status.Failed)
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "give up after this long")
	return cmd
}
