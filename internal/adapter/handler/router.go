package handler

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter wires the Gin engine with the REST routes and middlewares.
func NewRouter(h *HTTPHandler, resolver TokenResolver, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(zapLoggerMiddleware(logger))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", idempotencyHeader},
	}))

	r.GET("/health", h.HealthCheck)

	api := r.Group("/api")
	api.GET("", h.APIInfo)

	auth := api.Group("/auth")
	auth.POST("/register", h.Register)
	auth.POST("/login", h.Login)

	sweets := api.Group("/sweets")
	sweets.GET("", h.ListSweets)
	sweets.GET("/search", h.SearchSweets)
	sweets.GET("/:id", h.GetSweet)

	protected := sweets.Group("", requireAuth(resolver))
	protected.POST("", h.CreateSweet)
	protected.PUT("/:id", h.UpdateSweet)
	protected.DELETE("/:id", h.DeleteSweet)
	protected.POST("/:id/purchase", h.Purchase)
	protected.POST("/:id/restock", h.Restock)
	protected.GET("/:id/movements", h.ListMovements)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "route not found", Code: "not_found"})
	})

	return r
}
