package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zhe.chen/explaind/internal/api"
	"github.com/zhe.chen/explaind/internal/events"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline over HTTP",
	Long: `Starts the HTTP driver. Runs are submitted with POST /api/runs, scenes are
rendered, retried or regenerated one at a time, and progress is streamed over
a websocket at /api/runs/:id/events.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	defer bus.Close()

	orch, closeNarrator, err := buildOrchestrator(ctx, bus)
	if err != nil {
		return err
	}
	defer closeNarrator()

	return api.NewServer(orch, bus, cfg.Server.Mode, logger).Serve(ctx, cfg.Server.Addr)
}
