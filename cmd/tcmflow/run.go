package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "Run the agent chain over a single source document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, true)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			result, err := a.runner.ProcessFile(ctx, args[0])
			if a.exporter != nil {
				if exportErr := a.exporter.Export(); exportErr != nil {
					a.logger.Warn("metrics export failed", zap.Error(exportErr))
				}
			}
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func newDailyCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "daily",
		Short: "Run the daily workflow over every document in the input directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags, true)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			if a.exporter != nil {
				exporterCtx, cancelExporter := context.WithCancel(ctx)
				exporterDone := make(chan struct{})
				go func() {
					defer close(exporterDone)
					a.exporter.Run(exporterCtx)
				}()
				defer func() {
					cancelExporter()
					<-exporterDone
				}()
			}

			report, err := a.runner.Run(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Run %s finished: %d processed, %d articles, %d posts, %d failures\n",
				report.RunID,
				report.Stats.FilesProcessed,
				report.Stats.Articles,
				report.Stats.Posts,
				report.Stats.Failures,
			)
			if report.Stats.Failures > 0 {
				return fmt.Errorf("%d file(s) failed", report.Stats.Failures)
			}
			return nil
		},
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
