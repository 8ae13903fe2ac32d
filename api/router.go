package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fyerfyer/contract-qa/api/handler"
	"github.com/fyerfyer/contract-qa/api/middleware"
	"github.com/fyerfyer/contract-qa/api/model"
	"github.com/fyerfyer/contract-qa/internal/metrics"
)

// RouterConfig 路由依赖
type RouterConfig struct {
	Documents    *handler.DocumentHandler
	QA           *handler.QAHandler
	Tasks        *handler.TaskHandler
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer // nil时使用全局注册器
	AllowOrigins []string            // 为空时允许所有来源
}

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件
func SetupRouter(cfg RouterConfig) *gin.Engine {
	if err := model.RegisterValidators(); err != nil {
		middleware.GetLogger().WithError(err).Warn("Failed to register custom validators")
	}

	router := gin.New()

	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(corsMiddleware(cfg.AllowOrigins))
	if cfg.Metrics != nil {
		router.Use(middleware.Metrics(cfg.Metrics))
	}
	router.Use(middleware.ErrorHandler())
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		docGroup := api.Group("/documents")
		{
			docGroup.POST("", cfg.Documents.UploadDocument)
			docGroup.GET("", cfg.Documents.ListDocuments)
			docGroup.GET("/:id", cfg.Documents.GetDocument)
			docGroup.GET("/:id/chunks", cfg.Documents.GetDocumentChunks)
			docGroup.GET("/:id/tasks", cfg.Documents.GetDocumentTasks)
			docGroup.POST("/:id/reprocess", cfg.Documents.ReprocessDocument)
			docGroup.DELETE("/:id", cfg.Documents.DeleteDocument)
		}

		api.POST("/search", cfg.QA.Search)
		api.POST("/qa", cfg.QA.AnswerQuestion)

		if cfg.Tasks != nil {
			api.GET("/tasks/:id", cfg.Tasks.GetTaskStatus)
			api.POST("/index/rebuild", cfg.Tasks.RebuildIndex)
		}

		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status": "ok",
			})
		})
	}

	return router
}

// corsMiddleware 跨域资源共享中间件
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.TraceIDHeader},
		ExposeHeaders: []string{middleware.TraceIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
