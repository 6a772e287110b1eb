package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhe.chen/explaind/internal/bounded"
	"github.com/zhe.chen/explaind/internal/config"
	"github.com/zhe.chen/explaind/internal/events"
	"github.com/zhe.chen/explaind/internal/llm"
	"github.com/zhe.chen/explaind/internal/llm/providers/claude"
	"github.com/zhe.chen/explaind/internal/llm/providers/gemini"
	"github.com/zhe.chen/explaind/internal/llm/providers/ollama"
	"github.com/zhe.chen/explaind/internal/llm/providers/openai"
	"github.com/zhe.chen/explaind/internal/llm/providers/openrouter"
	"github.com/zhe.chen/explaind/internal/logging"
	"github.com/zhe.chen/explaind/internal/media"
	"github.com/zhe.chen/explaind/internal/narration"
	"github.com/zhe.chen/explaind/internal/pipeline"
	"github.com/zhe.chen/explaind/pkg/types"
)

var (
	configPath string
	verbose    bool

	cfg    *types.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "explaind",
	Short: "Turn a topic into a narrated animated explainer video",
	Long: `explaind asks a language model for a storyboard, a narration script and
Manim source for each scene, renders every scene with manim, narrates it, and
stitches the clips into one video with ffmpeg.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; the environment may already be set
		envErr := godotenv.Load()

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Log, verbose)
		if err != nil {
			return err
		}
		if envErr != nil {
			logger.Debug("No .env file loaded", zap.Error(envErr))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/explaind.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// createGenerator creates the configured generation backend. A provider
// without credentials is rejected here rather than on the first request.
func createGenerator(config types.LLMConfig) (llm.Provider, error) {
	var (
		provider llm.Provider
		err      error
	)
	switch config.Provider {
	case "ollama":
		provider, err = ollama.NewProvider(config.Ollama)
	case "anthropic", "claude":
		provider, err = claude.NewProvider(config.Anthropic)
	case "google", "gemini":
		provider, err = gemini.NewProvider(config.Google)
	case "openai":
		provider, err = openai.NewProvider(config.OpenAI)
	case "openrouter":
		provider, err = openrouter.NewProvider(config.OpenRouter)
	case "":
		return nil, fmt.Errorf("llm.provider not specified in config")
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (supported: ollama, anthropic, google, openai, openrouter)", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", config.Provider, err)
	}
	if !provider.IsEnabled() {
		return nil, fmt.Errorf("%s provider is not configured (missing API key)", provider.Name())
	}
	return provider, nil
}

// createNarrator creates the configured narration backend. The returned
// close function releases an MCP connection and is never nil.
func createNarrator(ctx context.Context, config types.NarrationConfig, logger *zap.Logger) (narration.Synthesizer, func(), error) {
	noop := func() {}
	switch config.Backend {
	case "none":
		return narration.None{}, noop, nil
	case "command", "":
		return narration.NewCommand(config, bounded.ExecRunner{}, logger.Named("narration")), noop, nil
	case "mcp":
		synth, c, err := narration.Dial(ctx, config, logger.Named("narration"))
		if err != nil {
			return nil, noop, err
		}
		return synth, func() {
			if err := c.Close(); err != nil {
				logger.Warn("Failed to close narration server", zap.Error(err))
			}
		}, nil
	default:
		return nil, noop, fmt.Errorf("unsupported narration backend: %s (supported: command, mcp, none)", config.Backend)
	}
}

// buildOrchestrator wires every collaborator from the loaded config
func buildOrchestrator(ctx context.Context, bus *events.Bus) (*pipeline.Orchestrator, func(), error) {
	generator, err := createGenerator(cfg.LLM)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Generation backend ready",
		zap.String("provider", generator.Name()),
		zap.String("model", cfg.LLM.Model),
		zap.String("code_model", cfg.LLM.CodeModel))

	runner := bounded.ExecRunner{}
	renderer, err := media.NewManim(cfg.Render, runner, logger.Named("manim"))
	if err != nil {
		return nil, nil, err
	}

	narrator, closeNarrator, err := createNarrator(ctx, cfg.Narration, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Narration backend ready", zap.String("narrator", narrator.Name()))

	orch, err := pipeline.New(cfg, pipeline.Deps{
		Generator: generator,
		Renderer:  renderer,
		Muxer:     media.NewFFmpeg(cfg.Render, runner),
		Narrator:  narrator,
		Bus:       bus,
	}, logger)
	if err != nil {
		closeNarrator()
		return nil, nil, err
	}
	return orch, closeNarrator, nil
}
