package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/calmbridge/mediator/pkg/config"
	"github.com/calmbridge/mediator/pkg/conversation"
	"github.com/calmbridge/mediator/pkg/narrative"
	"github.com/calmbridge/mediator/pkg/orchestrator"
	"github.com/calmbridge/mediator/pkg/ratelimit"
	"github.com/calmbridge/mediator/pkg/social"
	"github.com/calmbridge/mediator/pkg/vector"
)

var version = "dev"

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "calmbridge",
		Short: "Context-synthesis core for co-parent chat mediation",
		Long: strings.TrimSpace(`calmbridge maintains the narrative memory and social map behind
co-parent chat mediation.

Use CLI commands to backfill message embeddings, refresh stale narrative
profiles, rebuild room social maps, and simulate mediation locally.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to config file")

	root.AddCommand(newBackfillCommand(&configPath))
	root.AddCommand(newRefreshProfilesCommand(&configPath))
	root.AddCommand(newBuildMapCommand(&configPath))
	root.AddCommand(newSimulateCommand(&configPath))
	root.AddCommand(newVersionCommand())

	return root
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "calmbridge.json"
	}
	return filepath.Join(home, ".calmbridge", "config.json")
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  calmbridge version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("calmbridge %s\n", version)
			return nil
		},
	}
}

// runtime bundles everything a command may need, built once from config.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *narrative.Store
	graph     *social.SQLGraph
	extractor *social.Extractor
	builder   *social.Builder
	orch      *orchestrator.Orchestrator
	redis     *redis.Client
}

func (rt *runtime) close() {
	if rt.orch != nil {
		rt.orch.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
	if rt.graph != nil {
		_ = rt.graph.Close()
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
}

func buildRuntime(configPath string) (*runtime, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var provider vector.Provider
	if cfg.Embedding.APIKey != "" {
		provider = vector.NewOpenAIProvider(cfg.Embedding.APIKey,
			vector.WithModel(cfg.Embedding.Model),
			vector.WithDimension(cfg.Embedding.Dimensions),
			vector.WithBaseURL(cfg.Embedding.APIBase))
	}
	embedder := vector.NewEmbedder(vector.EmbedderOptions{
		Provider:    provider,
		MaxInputLen: cfg.Embedding.MaxInputLen,
		Logger:      logger,
	})

	store, err := narrative.NewStore(narrative.Options{
		Path:     cfg.NarrativePath(),
		Embedder: embedder,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open narrative store: %w", err)
	}

	graph, err := social.NewSQLGraph(social.GraphOptions{
		Path:   cfg.GraphPath(),
		Logger: logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open social graph: %w", err)
	}

	var classifier social.Classifier
	if cfg.Classify.APIKey != "" {
		classifier = social.NewOpenAIChatClassifier(cfg.Classify.APIKey,
			social.WithChatModel(cfg.Classify.Model),
			social.WithChatBaseURL(cfg.Classify.APIBase),
			social.WithMaxTokens(cfg.Classify.MaxTokens))
	}
	extractor := social.NewExtractor(social.ExtractorOptions{Classifier: classifier, Logger: logger})
	builder := social.NewBuilder(social.BuilderOptions{Extractor: extractor, Graph: graph, Logger: logger})

	rt := &runtime{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		graph:     graph,
		extractor: extractor,
		builder:   builder,
	}

	var counter ratelimit.Counter
	if cfg.Redis.Addr != "" {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		counter = ratelimit.NewRedisCounter(rt.redis)
	}
	limiter := ratelimit.NewLimiter(ratelimit.LimiterOptions{Counter: counter, Logger: logger})

	var redisCmd redis.Cmdable
	if rt.redis != nil {
		redisCmd = rt.redis
	}
	rt.orch = orchestrator.New(orchestrator.Options{
		Narrative:    store,
		Entities:     extractor,
		Graph:        graph,
		Social:       builder,
		Registry:     conversation.NewRegistry(),
		Limiter:      limiter,
		Redis:        redisCmd,
		Logger:       logger,
		Deadline:     time.Duration(cfg.Orchestrator.DeadlineMS) * time.Millisecond,
		CacheTTL:     time.Duration(cfg.Orchestrator.CacheTTLSeconds) * time.Second,
		CacheSize:    cfg.Orchestrator.CacheSize,
		MediationMax: int64(cfg.RateLimit.MaxPerWindow),
	})
	return rt, nil
}
