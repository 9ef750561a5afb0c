package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/studyrag/internal/ai"
	"github.com/xxxsen/studyrag/internal/captions"
	"github.com/xxxsen/studyrag/internal/config"
	"github.com/xxxsen/studyrag/internal/embedcache"
	"github.com/xxxsen/studyrag/internal/embedding"
	"github.com/xxxsen/studyrag/internal/filestore"
	"github.com/xxxsen/studyrag/internal/handler"
	"github.com/xxxsen/studyrag/internal/index"
	"github.com/xxxsen/studyrag/internal/job"
	"github.com/xxxsen/studyrag/internal/middleware"
	"github.com/xxxsen/studyrag/internal/retrieval"
	"github.com/xxxsen/studyrag/internal/schedule"
	"github.com/xxxsen/studyrag/internal/service"
	"github.com/xxxsen/studyrag/internal/session"
	"github.com/xxxsen/studyrag/internal/transcribe"
	"github.com/xxxsen/studyrag/internal/vectorstore"
)

func main() {
	var configPath string
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "studyrag",
		Short: "session scoped study assistant backend",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run studyrag server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load env file: %w", err)
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
			return runServer(cfg)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json or config.yaml")
	runCmd.Flags().StringVar(&envFile, "env-file", ".env", "optional dotenv file with api keys")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logutil.GetLogger(ctx)
	log.Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("temp_dir", cfg.TempDir),
		zap.String("vector_store", cfg.VectorStore.Type),
		zap.String("archive", cfg.Archive.Type),
	)

	generator, embedder, err := ai.BuildFromConfig(cfg.AI, cfg.Embedding.Dimension)
	if err != nil {
		return fmt.Errorf("init ai: %w", err)
	}
	if generator == nil {
		log.Warn("no generator configured, study endpoints will report ai unavailable")
	}
	if embedder == nil {
		log.Warn("no embedder configured, every segment will be indexed as degraded")
	}
	embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.Embedding.CacheSize,
		time.Duration(cfg.Embedding.CacheTTLMinutes)*time.Minute)
	embedClient := embedding.NewClient(embedder, embedding.Config{
		Dimension:         cfg.Embedding.Dimension,
		BatchSize:         cfg.Embedding.BatchSize,
		Workers:           cfg.Embedding.Workers,
		Timeout:           time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Burst:             cfg.Embedding.Burst,
	})

	vectors, err := vectorstore.New(cfg.VectorStore)
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	defer vectors.Close()

	sessions, err := session.NewStore(cfg.TempDir)
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}
	builder := index.NewBuilder(sessions, vectors, embedClient, cfg.Index.InsertBatchSize)
	retriever := retrieval.NewRetriever(sessions, vectors, embedClient, retrieval.Config{
		TopK:            cfg.Retrieval.TopK,
		ExcludeDegraded: cfg.Retrieval.ExcludeDegraded,
	})
	manager := ai.NewManager(generator, ai.ManagerConfig{
		Timeout:       cfg.AI.Timeout,
		MaxInputChars: cfg.AI.MaxInputChars,
	})

	captionCfg := captions.Config{Languages: cfg.YouTube.Languages}
	if cfg.YouTube.APIKey != "" {
		dataAPI, err := captions.NewDataAPI(ctx, cfg.YouTube.APIKey)
		if err != nil {
			log.Warn("youtube data api disabled", zap.Error(err))
		} else {
			captionCfg.Metadata = dataAPI
		}
	}
	var transcriber transcribe.Transcriber
	if cfg.Transcription.APIKey != "" {
		transcriber = transcribe.New(transcribe.Config{
			APIKey:       cfg.Transcription.APIKey,
			BaseURL:      cfg.Transcription.BaseURL,
			SpeechModel:  cfg.Transcription.SpeechModel,
			PollAttempts: cfg.Transcription.PollAttempts,
			PollInterval: time.Duration(cfg.Transcription.PollIntervalSeconds) * time.Second,
			Timestamps:   cfg.Transcription.Timestamps,
		})
	} else {
		log.Warn("transcription api key missing, audio uploads are disabled")
	}
	archive, err := filestore.New(cfg.Archive)
	if err != nil {
		return fmt.Errorf("init archive store: %w", err)
	}

	scheduler := schedule.NewCronScheduler()
	maxIdle := time.Duration(cfg.Session.MaxIdleMinutes) * time.Minute
	if maxIdle > 0 {
		if err := scheduler.AddJob(job.NewSessionExpiryJob(sessions, builder, maxIdle), cfg.Session.ExpiryCron); err != nil {
			return err
		}
	}

	sessionService := service.NewSessionService(service.SessionServiceDeps{
		Sessions:    sessions,
		Builder:     builder,
		Captions:    captions.NewFetcher(captionCfg),
		Transcriber: transcriber,
		Archive:     archive,
		Schedule:    scheduler,
		ChunkChars:  cfg.Chunk.Chars,
	})
	learningService := service.NewLearningService(sessions, retriever, manager, service.LearningServiceConfig{
		AnswerCacheSize: cfg.AI.CacheSize,
		AnswerCacheTTL:  time.Duration(cfg.AI.CacheTTLMins) * time.Minute,
	})

	scheduler.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		scheduler.Stop(stopCtx)
	}()

	deps := handler.RouterDeps{
		Sessions: handler.NewSessionHandler(sessionService, cfg.MaxUploadMB<<20),
		Learning: handler.NewLearningHandler(learningService),
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	log.Info("http server listening", zap.String("addr", addr))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("server stopping...", zap.Int("live_sessions", sessions.Len()))
	return nil
}
