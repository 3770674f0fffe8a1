package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/coordinator/internal/http/handler"
)

func SetupRoutes(router *gin.Engine, analyzer handler.Analyzer) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	analyzeHandler := handler.NewAnalyzeHandler(analyzer)
	api := router.Group("/api")
	{
		api.POST("/analyze", analyzeHandler.Analyze)
	}
}
