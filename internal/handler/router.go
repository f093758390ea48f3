package handler

import (
	"github.com/gin-gonic/gin"

	"ta-content-pipeline/internal/middleware"
	"ta-content-pipeline/pkg/token"
)

// NewRouter 创建 gin 引擎并注册所有路由。
func NewRouter(ingestHandler *IngestHandler, jwtManager *token.JWTManager) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		apiV1.POST("/ingest", middleware.RequireScope(token.ScopeIngest), ingestHandler.Ingest)
		apiV1.POST("/chunks/preview", middleware.RequireScope(token.ScopeIngest), ingestHandler.PreviewChunks)
		apiV1.GET("/runs/:id", middleware.RequireScope(token.ScopeRunRead), ingestHandler.GetRun)
	}
	return r
}
