package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ternarybob/bidharvest/internal/common"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker pool and scheduler",
	Long:  `Starts the job workers and, when enabled, the cron scheduler that submits jobs for sources with a schedule.`,
	RunE:  runServe,
}

var serveTrigger []string

func init() {
	serveCmd.Flags().StringSliceVar(&serveTrigger, "trigger", nil, "Submit a scheduled job for these source IDs once the workers are up")
}

func runServe(cmd *cobra.Command, args []string) error {
	common.InstallCrashHandler(common.LogsDir(config))
	defer common.RecoverWithCrashFile()

	common.PrintBanner()

	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return err
	}
	for _, sourceID := range serveTrigger {
		application.SchedulerService.TriggerNow(sourceID)
	}

	logger.Info().
		Int("concurrency", config.Queue.Concurrency).
		Bool("scheduler", config.Scheduler.Enabled).
		Msg("bidharvest running - Press Ctrl+C to stop")

	<-ctx.Done()
	logger.Info().Msg("Interrupt signal received, shutting down")
	return nil
}
