package api

import (
	"github.com/gin-gonic/gin"

	"pdfdispatch/internal/api/middleware"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(router *gin.Engine, documents *DocumentHandler, intakeToken string) {
	tokenGate := middleware.IntakeTokenMiddleware(intakeToken)

	v1 := router.Group("/v1")
	v1.Use(tokenGate)
	{
		v1.POST("/documents", documents.CreateDocument)
		v1.GET("/deliveries", documents.ListDeliveries)
	}
}
