// Package main provides the recall daemon: it watches a folder for finished
// screen recordings, annotates them with a multimodal model, and folds the
// annotations into a tiered memory of the user. An HTTP API exposes the
// memory state, grounded queries, and a live event feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/recallhq/recall/pkg/config"
	"github.com/recallhq/recall/pkg/inference"
	"github.com/recallhq/recall/pkg/llm"
	"github.com/recallhq/recall/pkg/llm/anthropic"
	"github.com/recallhq/recall/pkg/llm/openai"
	"github.com/recallhq/recall/pkg/logging"
	"github.com/recallhq/recall/pkg/memory"
	"github.com/recallhq/recall/pkg/server"
	"github.com/recallhq/recall/pkg/types"
	"github.com/recallhq/recall/pkg/watcher"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile  string
	WatchDir    string
	Addr        string
	ShowVersion bool
}

func main() {
	cliConfig := parseFlags()

	if cliConfig.ShowVersion {
		fmt.Printf("recalld v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Graceful shutdown on interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cliConfig); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "recalld: %v\n", err)
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cliConfig := &CLIConfig{}

	flag.StringVar(&cliConfig.ConfigFile, "config", config.DefaultPath(), "Path to configuration file (YAML)")
	flag.StringVar(&cliConfig.WatchDir, "watch-dir", "", "Directory to watch for recordings (overrides config)")
	flag.StringVar(&cliConfig.Addr, "addr", "", "HTTP listen address (overrides config)")
	flag.BoolVar(&cliConfig.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "recalld - screen recording memory daemon\n\n")
		fmt.Fprintf(os.Stderr, "Usage: recalld [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Watch the default recordings folder\n")
		fmt.Fprintf(os.Stderr, "  recalld -watch-dir ~/Recordings\n\n")
		fmt.Fprintf(os.Stderr, "  # Run with a config file\n")
		fmt.Fprintf(os.Stderr, "  recalld -config ~/.recall/config.yaml\n\n")
	}

	flag.Parse()
	return cliConfig
}

func run(ctx context.Context, cliConfig *CLIConfig) error {
	cfg, err := config.Load(cliConfig.ConfigFile)
	if err != nil {
		return err
	}
	if cliConfig.WatchDir != "" {
		cfg.Watch.Dir = cliConfig.WatchDir
	}
	if cliConfig.Addr != "" {
		cfg.Server.Addr = cliConfig.Addr
	}

	logger, err := logging.NewLogger("recalld")
	if err != nil {
		fmt.Fprintf(os.Stderr, "file logging unavailable, using stderr: %v\n", err)
	}
	defer logger.Close()
	logger.Infof("recalld v%s starting (session %s)", version, logger.SessionID())

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	core, err := memory.NewCore(ctx, memory.NewLLMSummarizer(provider), store,
		memory.NewEstimator(), logger, cfg.Memory)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg.Server, core, logger)
	if err != nil {
		return err
	}

	// Bridge core events to WebSocket subscribers.
	events := make(chan *types.MemoryEvent, 64)
	core.SetEventChannel(events)
	go func() {
		for event := range events {
			srv.Publish(event)
		}
	}()

	if cfg.Watch.Dir != "" {
		annotator, err := inference.NewClient(ctx, cfg.Inference, cfg.InferenceAPIKey(), logger)
		if err != nil {
			return err
		}
		w, err := watcher.New(cfg.Watch, logger)
		if err != nil {
			return err
		}
		go runPipeline(ctx, w, annotator, core, logger, events)
	} else {
		logger.Warnf("no watch directory configured; serving existing memory only")
	}

	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Errorf("server shutdown: %v", err)
		}
	}()

	return srv.ListenAndServe()
}

// runPipeline drives the watch -> annotate -> ingest loop until the context
// is cancelled. A failed annotation skips that recording; memory is only
// touched by successful results.
func runPipeline(ctx context.Context, w *watcher.Watcher, annotator *inference.Client, core *memory.Core, logger *logging.Logger, events chan<- *types.MemoryEvent) {
	recordings := make(chan watcher.Recording, 8)
	go func() {
		if err := w.Watch(ctx, recordings); err != nil && ctx.Err() == nil {
			logger.Errorf("watcher stopped: %v", err)
		}
	}()

	for rec := range recordings {
		result, err := annotator.Annotate(ctx, rec.Path)
		if err != nil {
			logger.Errorf("annotate %s: %v", rec.Path, err)
			continue
		}

		select {
		case events <- types.NewMemoryEvent(types.EventTypeRecordingAnalyzed, rec.Path).
			WithCount(result.ObservationCount()):
		default:
		}

		if err := core.Ingest(ctx, result); err != nil {
			logger.Errorf("ingest %s: %v", rec.Path, err)
		}
	}
}

func buildProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.Summarizer.Provider {
	case "anthropic":
		key := cfg.SummarizerAPIKey()
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		return anthropic.NewProvider(key, anthropic.WithModel(cfg.Summarizer.Model))
	default:
		key := cfg.SummarizerAPIKey()
		opts := []openai.ProviderOption{openai.WithModel(cfg.Summarizer.Model)}
		if cfg.Summarizer.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Summarizer.BaseURL))
		}
		return openai.NewProvider(key, opts...)
	}
}

func buildStore(ctx context.Context, cfg *config.Config) (memory.Store, error) {
	if cfg.Storage.Backend == "postgres" {
		return memory.NewPostgresStore(ctx, cfg.Storage.PostgresURL)
	}
	return memory.NewFileStore(cfg.DataDir)
}
