// Command umg runs the Universal Memory Graph core: the event ingestion
// pipeline, the relationship engine, and the mentor API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/evan-ryan-york/umg/internal/api"
	"github.com/evan-ryan-york/umg/internal/archivist"
	"github.com/evan-ryan-york/umg/internal/config"
	"github.com/evan-ryan-york/umg/internal/feedback"
	"github.com/evan-ryan-york/umg/internal/inbox"
	"github.com/evan-ryan-york/umg/internal/llm"
	"github.com/evan-ryan-york/umg/internal/logging"
	"github.com/evan-ryan-york/umg/internal/mentor"
	"github.com/evan-ryan-york/umg/internal/relationship"
	"github.com/evan-ryan-york/umg/internal/resolution"
	"github.com/evan-ryan-york/umg/internal/scheduler"
	"github.com/evan-ryan-york/umg/internal/signals"
	"github.com/evan-ryan-york/umg/internal/storage"
)

var debugMode bool

func main() {
	root := &cobra.Command{
		Use:   "umg",
		Short: "Universal Memory Graph core",
	}
	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	root.AddCommand(serveCmd(), processCmd(), relationshipsCmd(), digestCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the wired components shared by the subcommands.
type app struct {
	cfg       *config.Config
	store     *storage.PostgresStore
	inbox     *inbox.Inbox
	archivist *archivist.Archivist
	engine    *relationship.Engine
	mentor    *mentor.Mentor
	feedback  *feedback.Processor
	embedder  llm.Embedder
}

func buildApp(ctx context.Context) (*app, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.Setup(logging.DefaultConfig(debugMode)); err != nil {
		return nil, err
	}

	if cfg.Database.MigrateOnBoot {
		if err := storage.Migrate(cfg.Database.DSN()); err != nil {
			return nil, err
		}
	}
	store, err := storage.NewPostgresStore(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		return nil, err
	}

	completer := llm.NewClient(cfg.LLM)
	var embedder llm.Embedder = llm.NewOpenAIEmbedder(cfg.LLM)
	if cfg.LLM.EmbeddingCachePath != "" {
		cached, err := llm.NewCachedEmbedder(embedder, cfg.LLM.EmbeddingCachePath)
		if err != nil {
			return nil, err
		}
		embedder = cached
	}

	ib := inbox.New(store, cfg.Pipeline.MaxRetries)
	scorer := signals.NewScorer(store)
	resolver := resolution.NewResolver(store, embedder, cfg.Pipeline.FuzzyMatchRatio, cfg.Pipeline.SemanticMatchMin)
	extractor := archivist.NewExtractor(completer)
	chunker := archivist.NewChunker(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap)

	engine := relationship.NewEngine(store, scorer, cfg.Engine,
		relationship.NewPatternStrategy(),
		relationship.NewSemanticLLMStrategy(completer),
		relationship.NewEmbeddingSimilarityStrategy(store, embedder, cfg.Engine.EmbeddingSimilarityThreshold),
		relationship.NewTemporalStrategy(),
		relationship.NewTopologyStrategy(store),
	)

	arch := archivist.New(store, ib, extractor, resolver, scorer, chunker, embedder, engine,
		cfg.Pipeline.ClaimBatchSize, logrus.StandardLogger())

	assembler := mentor.NewAssembler(store, cfg.Mentor)
	m := mentor.New(store, assembler, completer, ib, cfg.LLM.Model)
	fb := feedback.NewProcessor(store, scorer)

	return &app{
		cfg:       cfg,
		store:     store,
		inbox:     ib,
		archivist: arch,
		engine:    engine,
		mentor:    m,
		feedback:  fb,
		embedder:  embedder,
	}, nil
}

func (a *app) close() {
	if closer, ok := a.embedder.(*llm.CachedEmbedder); ok {
		_ = closer.Close()
	}
	_ = a.store.Close()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, poll loop, and nightly maintenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			a.engine.Start(ctx)

			sched := scheduler.New(a.archivist, a.engine, a.cfg)
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer sched.Stop()

			server := api.NewServer(a.cfg, a.store, a.inbox, a.archivist, a.engine, a.mentor, a.feedback)
			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case <-ctx.Done():
				return server.Shutdown(context.Background())
			case err := <-errCh:
				return err
			}
		},
	}
}

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run one drain pass over pending events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			a.engine.Start(ctx)
			result, err := a.archivist.Drain(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("claimed=%d processed=%d failed=%d\n",
				result.Claimed, result.Processed, result.Failed)
			return nil
		},
	}
}

func relationshipsCmd() *cobra.Command {
	var fullScan bool
	cmd := &cobra.Command{
		Use:   "relationships",
		Short: "Run a nightly-style relationship pass (all strategies, decay, prune)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.engine.RunNightly(cmd.Context(), fullScan)
			if err != nil {
				return err
			}
			fmt.Printf("analyzed=%d created=%d updated=%d duration=%s\n",
				result.EntitiesAnalyzed, result.EdgesCreated, result.EdgesUpdated, result.ProcessingTime)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fullScan, "full-scan", false, "analyze all entities, not just recently updated")
	return cmd
}

func digestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Generate the daily digest insights now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.mentor.GenerateDigest(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("insights created: %d\n", result.InsightsCreated)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnv(); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("VECTOR_DB_URL is required")
			}
			return storage.Migrate(cfg.Database.DSN())
		},
	}
}
