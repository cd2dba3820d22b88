package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"live-broadcast/broadcast"
	"live-broadcast/config"
	"live-broadcast/constant"
	jobHandler "live-broadcast/handler"
	"live-broadcast/ledger"
	"live-broadcast/pkg/agent"
	"live-broadcast/pkg/discovery"
	"live-broadcast/pkg/embedding"
	"live-broadcast/pkg/metrics"
	"live-broadcast/pkg/rabbitmq"
	"live-broadcast/pkg/storage"
	"live-broadcast/repository"
	"live-broadcast/service"
	"live-broadcast/stream"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Dependencies are the process-scoped components the HTTP layer serves from.
type Dependencies struct {
	Registry *stream.Registry
	Hub      *broadcast.Hub
	Ledger   *ledger.Ledger
	Catalog  service.CatalogService
	Metrics  *metrics.Metrics
	Live     config.Live
}

type api struct {
	registry       *stream.Registry
	hub            *broadcast.Hub
	ledger         *ledger.Ledger
	catalogService service.CatalogService
	metrics        *metrics.Metrics
	live           config.Live
}

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	m := metrics.New()

	repo, err := newRepository(ctx, cfg)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("failed to set up repository")
	}
	store := newObjectStore(ctx, cfg)
	embedder := newEmbedder(cfg)
	httpClient := &http.Client{}

	var publisher rabbitmq.Publisher = rabbitmq.NewNoopPublisher()
	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	switch {
	case errors.Is(err, config.ErrRabbitMQDisabled):
		zerolog.Ctx(ctx).Warn().Msg("rabbitmq not configured, messaging disabled")
	case err != nil:
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
	default:
		publisher = rabbitmq.NewPublisher(conn, rabbitmq.LiveExchange, cfg.Queue.Kind)
		serviceDeps := jobHandler.ServiceDependencies{
			BackfillService: service.NewBackfillService(repo, embedder),
		}
		backfillConsumer := rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.EmbeddingBackfillQueue, cfg.Server.Workers, jobHandler.EmbeddingBackfillHandler)
		go func() {
			err := backfillConsumer.Consume(ctx, serviceDeps)
			if err != nil && !errors.Is(err, context.Canceled) {
				zerolog.Ctx(ctx).Error().Err(err).Msg("Embedding backfill consumer error")
			}
		}()
	}

	chunkLedger := ledger.New(repo, store)
	agentClient := agent.NewHTTPClient(cfg.Agent.URL, httpClient)

	registry := stream.NewRegistry(ctx, stream.NewAgentIngester(agentClient, chunkLedger), stream.Options{
		GracePeriod: cfg.Live.GracePeriod,
		ReplaySize:  cfg.Live.ReplaySize,
		BufferSize:  cfg.Live.BufferSize,
	}, m)
	defer registry.Shutdown()

	hub := broadcast.NewHub(broadcast.Options{
		Capacity:     cfg.Chat.Capacity,
		SnapshotSize: cfg.Chat.SnapshotSize,
		PresenceTTL:  cfg.Chat.PresenceTTL,
	}, m)

	var scheduler *service.Scheduler
	if cfg.Discovery.URL != "" && cfg.Agent.URL != "" {
		ingestion := service.NewIngestionService(service.IngestionDeps{
			Repo:       repo,
			Agent:      agentClient,
			Store:      store,
			Ledger:     chunkLedger,
			Embedder:   embedder,
			Publisher:  publisher,
			Metrics:    m,
			LiveIngest: cfg.Discovery.LiveIngest,
		})
		scheduler = service.NewScheduler(repo, discovery.NewHTTPClient(cfg.Discovery.URL, cfg.Discovery.APIKey, httpClient), ingestion, service.SchedulerConfig{
			Interval:     cfg.Discovery.Interval,
			StartSpacing: cfg.Discovery.StartSpacing,
			TopK:         cfg.Discovery.TopK,
			Categories:   cfg.Discovery.Categories,
		}, m)
		go scheduler.Run(ctx)
	} else {
		zerolog.Ctx(ctx).Warn().Msg("discovery or agent url missing, scheduler disabled")
	}

	r := NewRouter(ctx, Dependencies{
		Registry: registry,
		Hub:      hub,
		Ledger:   chunkLedger,
		Catalog:  service.NewCatalogService(repo),
		Metrics:  m,
		Live:     cfg.Live,
	})

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("port", cfg.Server.HttpPort).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelShutdown()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}
	if scheduler != nil {
		scheduler.Wait()
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

// NewRouter builds the gin engine with every REST and WebSocket route. ctx carries the logger.
func NewRouter(ctx context.Context, deps Dependencies) *gin.Engine {
	a := &api{
		registry:       deps.Registry,
		hub:            deps.Hub,
		ledger:         deps.Ledger,
		catalogService: deps.Catalog,
		metrics:        deps.Metrics,
		live:           deps.Live,
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(ctx), metrics.RequestMiddleware(deps.Metrics))
	addHealth(r)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler(func() {
			deps.Metrics.SetActiveProducers(deps.Registry.Active())
		})))
	}

	r.GET("/ws/live-video", a.liveVideo)
	r.GET("/ws/live-comments/:broadcastId", a.liveComments)

	live := r.Group("/live")
	live.GET("/chunks", a.listChunks)
	live.POST("/:broadcastId/comments", a.postComment)
	live.GET("/:broadcastId/comments", a.listComments)
	live.POST("/:broadcastId/viewers/heartbeat", a.heartbeat)
	live.GET("/:broadcastId/viewers", a.viewers)

	r.GET("/catalog", a.catalog)
	r.GET("/clips/:id/recommendations", a.recommendations)
	return r
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

// requestLogger puts the process logger on every request context and logs the outcome.
func requestLogger(ctx context.Context) gin.HandlerFunc {
	logger := zerolog.Ctx(ctx)
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("request")
	}
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}

func newRepository(ctx context.Context, cfg *config.Config) (repository.Repository, error) {
	if cfg.DB == nil {
		zerolog.Ctx(ctx).Warn().Msg("postgresql_host not set, using in-memory repository")
		return repository.NewMemoryRepo(), nil
	}
	repo, err := repository.NewRepo(cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func newObjectStore(ctx context.Context, cfg *config.Config) storage.ObjectStore {
	if cfg.Storage == nil {
		zerolog.Ctx(ctx).Warn().Msg("minio not configured, using in-memory object store")
		return storage.NewMemoryStore(cfg.ObjectStore.PublicURL)
	}
	if err := storage.EnsureBucket(ctx, cfg.Storage, cfg.MinIOBucket); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("bucket", cfg.MinIOBucket).Msg("failed to ensure bucket")
	}
	return storage.NewMinioStore(cfg.Storage, cfg.MinIOBucket, cfg.ObjectStore.PublicURL)
}

func newEmbedder(cfg *config.Config) embedding.Embedder {
	if cfg.Embedding.URL == "" {
		return nil
	}
	embedder := embedding.NewHTTPEmbedder(cfg.Embedding.URL, cfg.Embedding.Model, &http.Client{Timeout: 30 * time.Second})
	if cfg.Redis != nil {
		embedder = embedding.NewCachedEmbedder(embedder, embedding.NewRedisCache(cfg.Redis), cfg.Embedding.CacheTTL)
	}
	return embedder
}
