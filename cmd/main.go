package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fyerfyer/contract-qa/api"
	"github.com/fyerfyer/contract-qa/api/handler"
	"github.com/fyerfyer/contract-qa/api/middleware"
	"github.com/fyerfyer/contract-qa/config"
	"github.com/fyerfyer/contract-qa/internal/cache"
	"github.com/fyerfyer/contract-qa/internal/database"
	"github.com/fyerfyer/contract-qa/internal/embedding"
	"github.com/fyerfyer/contract-qa/internal/layout"
	"github.com/fyerfyer/contract-qa/internal/llm"
	"github.com/fyerfyer/contract-qa/internal/metrics"
	"github.com/fyerfyer/contract-qa/internal/repository"
	"github.com/fyerfyer/contract-qa/internal/services"
	"github.com/fyerfyer/contract-qa/internal/vectordb"
	"github.com/fyerfyer/contract-qa/pkg/storage"
	"github.com/fyerfyer/contract-qa/pkg/taskqueue"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	envFile := flag.String("env", ".env", "Path to .env file")
	port := flag.Int("port", 0, "Override server port")
	logLevel := flag.String("log-level", "", "Override log level (debug/info/warn/error)")
	flag.Parse()

	// .env不存在时忽略
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	gin.SetMode(cfg.Server.Mode)
	logger := setupLogger(cfg.Log)
	logger.Info("Starting contract QA service...")

	dbConfig := database.DefaultConfig()
	dbConfig.Type = cfg.Database.Type
	dbConfig.DSN = cfg.Database.DSN
	if err := database.Setup(dbConfig, logger); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	fileStorage, err := storage.NewStorage(storage.Config{
		Type:  cfg.Storage.Type,
		Local: storage.LocalConfig{Path: cfg.Storage.Path},
		Minio: storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
		},
	})
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	analyzer, err := layout.NewAnalyzer(
		layout.WithProvider(cfg.Layout.Provider),
		layout.WithEndpoint(cfg.Layout.Endpoint),
		layout.WithAPIKey(cfg.Layout.APIKey),
		layout.WithAPIVersion(cfg.Layout.APIVersion),
		layout.WithModelID(cfg.Layout.ModelID),
		layout.WithPollInterval(cfg.Layout.PollInterval),
		layout.WithTimeout(cfg.Layout.Timeout),
	)
	if err != nil {
		logger.Fatalf("Failed to initialize layout analyzer: %v", err)
	}

	answerCache, embedCache := setupCaches(cfg.Cache, logger)

	embedder, err := setupEmbedding(cfg.Embed, embedCache)
	if err != nil {
		logger.Fatalf("Failed to initialize embedding client: %v", err)
	}
	if embedder == nil {
		logger.Warn("Embedding disabled, search falls back to keyword scoring")
	}

	vectorConfig := vectordb.DefaultConfig()
	vectorConfig.Collection = cfg.VectorDB.Collection
	vectorConfig.Dimension = cfg.VectorDB.Dim
	vectorConfig.DistanceType = vectordb.DistanceType(cfg.VectorDB.Distance)
	vectorDB, err := vectordb.NewRepository(vectorConfig)
	if err != nil {
		logger.Fatalf("Failed to initialize vector database: %v", err)
	}
	defer vectorDB.Close()

	llmClient, err := llm.NewClient(cfg.LLM.Provider,
		llm.WithAPIKey(cfg.LLM.APIKey),
		llm.WithBaseURL(cfg.LLM.Endpoint),
		llm.WithModel(cfg.LLM.Model),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithTemperature(cfg.LLM.Temperature),
		llm.WithTimeout(cfg.LLM.Timeout),
	)
	if err != nil {
		logger.Fatalf("Failed to initialize LLM client: %v", err)
	}
	rag := llm.NewRAG(llmClient,
		llm.WithRAGMaxTokens(cfg.LLM.MaxTokens),
		llm.WithRAGTemperature(cfg.LLM.Temperature),
		llm.WithRAGTimeout(cfg.LLM.Timeout),
	)

	m := metrics.Default()
	repo := repository.NewDocumentRepository()

	docOptions := []services.DocumentOption{
		services.WithLogger(logger),
		services.WithMetrics(m),
		services.WithMinChunkTokens(cfg.Chunking.MinChunkTokens),
		services.WithDiagnosticsDir(cfg.Chunking.DiagnosticsDir),
		services.WithTimeout(cfg.Chunking.Timeout),
	}
	if answerCache != nil {
		docOptions = append(docOptions, services.WithAnswerCache(answerCache))
	}

	var queue taskqueue.Queue
	var worker *taskqueue.RedisWorker
	if cfg.Queue.Enable {
		redisQueue, err := taskqueue.NewRedisQueue(&taskqueue.Config{
			RedisAddr:     cfg.Queue.RedisAddr,
			RedisPassword: cfg.Queue.RedisPassword,
			RedisDB:       cfg.Queue.RedisDB,
			KeyPrefix:     cfg.Cache.Prefix,
			Queue:         "default",
			Concurrency:   cfg.Queue.Concurrency,
			RetryLimit:    cfg.Queue.RetryLimit,
			RetryDelay:    cfg.Queue.RetryDelay,
			Queues:        taskqueue.DefaultConfig().Queues,
		})
		if err != nil {
			logger.Fatalf("Failed to initialize task queue: %v", err)
		}
		redisQueue.WithLogger(logger)
		defer redisQueue.Close()

		queue = redisQueue
		docOptions = append(docOptions, services.WithTaskQueue(queue))
		if cfg.Queue.Worker {
			worker = taskqueue.NewRedisWorker(redisQueue, nil).WithMetrics(m)
		}
		logger.WithFields(logrus.Fields{
			"redis_addr":  cfg.Queue.RedisAddr,
			"concurrency": cfg.Queue.Concurrency,
			"worker":      cfg.Queue.Worker,
		}).Info("Task queue initialized")
	}

	documentService := services.NewDocumentService(fileStorage, analyzer, embedder, vectorDB, repo, docOptions...)
	qaService := services.NewQAService(embedder, vectorDB, rag, answerCache,
		services.WithTopK(cfg.Search.TopK),
		services.WithAlpha(cfg.Search.Alpha),
		services.WithCacheTTL(cfg.Cache.TTL),
		services.WithQAMetrics(m),
		services.WithQALogger(logger),
	)

	// 向量索引只在内存中，启动时从关系库恢复
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 5*time.Minute)
	if n, err := documentService.RebuildIndex(startupCtx); err != nil {
		logger.WithError(err).Error("Failed to rebuild vector index")
	} else {
		logger.WithField("chunks", n).Info("Vector index restored")
	}
	cancelStartup()

	if worker != nil {
		worker.Register(taskqueue.NewDocumentProcessHandler(documentService, logger))
		worker.Register(taskqueue.NewIndexRebuildHandler(documentService))
		if err := worker.Start(); err != nil {
			logger.Fatalf("Failed to start task worker: %v", err)
		}
		defer worker.Stop()
	}

	router := api.SetupRouter(api.RouterConfig{
		Documents:    handler.NewDocumentHandler(documentService),
		QA:           handler.NewQAHandler(qaService),
		Tasks:        handler.NewTaskHandler(queue, documentService),
		Metrics:      m,
		AllowOrigins: cfg.Server.AllowOrigins,
	})
	router.MaxMultipartMemory = cfg.Server.MaxUploadMB << 20

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// setupLogger 设置日志级别，配置了文件时同时写入滚动日志
func setupLogger(cfg config.LogConfig) *logrus.Logger {
	logger := middleware.GetLogger()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.File != "" {
		logger.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}))
	}
	return logger
}

// setupCaches 创建答案缓存和向量缓存，两者使用不同的键前缀
// 缓存不可用时返回nil，服务继续运行
func setupCaches(cfg config.CacheConfig, logger *logrus.Logger) (answers cache.Cache, embeddings cache.Cache) {
	if !cfg.Enable {
		return nil, nil
	}

	newCache := func(suffix string) cache.Cache {
		c, err := cache.NewCache(cache.Config{
			Type:            cfg.Type,
			RedisAddr:       cfg.Address,
			RedisPassword:   cfg.Password,
			RedisDB:         cfg.DB,
			KeyPrefix:       cfg.Prefix + ":" + suffix,
			DefaultTTL:      cfg.TTL,
			CleanupInterval: 10 * time.Minute,
		})
		if err != nil {
			logger.WithError(err).WithField("cache", suffix).Warn("Cache unavailable, continuing without it")
			return nil
		}
		return c
	}
	return newCache("answers"), newCache("embeddings")
}

// setupEmbedding 创建嵌入客户端，provider为none时返回nil
func setupEmbedding(cfg config.EmbedConfig, c cache.Cache) (embedding.Client, error) {
	if cfg.Provider == "" || cfg.Provider == "none" {
		return nil, nil
	}

	client, err := embedding.NewClient(cfg.Provider,
		embedding.WithAPIKey(cfg.APIKey),
		embedding.WithBaseURL(cfg.Endpoint),
		embedding.WithModel(cfg.Model),
		embedding.WithDimensions(cfg.Dimensions),
		embedding.WithBatchSize(cfg.BatchSize),
		embedding.WithTimeout(cfg.Timeout),
		embedding.WithRateLimit(cfg.RateLimit, cfg.Burst),
	)
	if err != nil {
		return nil, err
	}
	if c != nil && cfg.CacheTTL > 0 {
		client = embedding.NewCachedClient(client, c, cfg.CacheTTL)
	}
	return client, nil
}
