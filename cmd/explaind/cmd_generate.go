package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhe.chen/explaind/internal/pipeline"
)

// Audiences offered by the original form; any non-empty value is accepted
var audiences = []string{"High School Student", "College Student", "Curious Adult"}

var (
	topic    string
	audience string
	retries  int
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate, render and stitch one explainer video",
	Long: `Runs the whole pipeline for one topic: storyboard, scene scripts, code,
render of every scene and the final stitch.

Scenes that fail to render are retried --retries times with the same source.

Example:
  explaind generate --topic "Photosynthesis" --audience "High School Student"`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&topic, "topic", "t", "", "Topic to explain (required)")
	generateCmd.Flags().StringVarP(&audience, "audience", "a", audiences[0], fmt.Sprintf("Target audience, e.g. %q", audiences))
	generateCmd.Flags().IntVar(&retries, "retries", 0, "Extra render attempts for failed scenes")
	_ = generateCmd.MarkFlagRequired("topic")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, closeNarrator, err := buildOrchestrator(ctx, nil)
	if err != nil {
		return err
	}
	defer closeNarrator()

	run, err := orch.StartRun(ctx, topic, audience)
	if err != nil {
		return err
	}
	logger.Info("Scripted scenes", zap.Int64("run_id", run.ID()), zap.Int("scenes", len(run.Manifest().Scenes)))

	renderErr := orch.RenderAll(ctx, run)
	for attempt := 0; renderErr != nil && attempt < retries && ctx.Err() == nil; attempt++ {
		logger.Info("Retrying failed scenes", zap.Int("attempt", attempt+1))
		renderErr = retryFailed(ctx, orch, run)
	}

	out := cmd.OutOrStdout()
	if renderErr != nil {
		printManifest(out, run.Manifest())
		return fmt.Errorf("some scenes failed to render: %w", renderErr)
	}

	path, err := orch.Finalize(ctx, run)
	if err != nil {
		return err
	}

	logger.Info("Run finalized", zap.Int64("run_id", run.ID()), zap.String("path", path))
	printManifest(out, run.Manifest())
	return nil
}

// retryFailed retries every RenderFailed scene once
func retryFailed(ctx context.Context, orch *pipeline.Orchestrator, run *pipeline.Run) error {
	var errs []error
	for _, s := range run.Manifest().Scenes {
		if s.State != pipeline.SceneRenderFailed {
			continue
		}
		if _, err := orch.RetryScene(ctx, run, s.Number); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
