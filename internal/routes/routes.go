// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"canfix-service/internal/adapter"
	"canfix-service/internal/config"
	"canfix-service/internal/handler"
	"canfix-service/internal/middleware"
	"canfix-service/internal/service"
	"canfix-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config     *config.Config
	logger     *zap.Logger
	registry   *adapter.Registry
	busService *service.BusService
	wsHandler  *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	registry *adapter.Registry,
	busService *service.BusService,
	wsHandler *handler.WebSocketHandler,
) *Router {
	return &Router{
		config:     config,
		logger:     logger,
		registry:   registry,
		busService: busService,
		wsHandler:  wsHandler,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.busService, r.config, r.logger)
	parameterHandler := handler.NewParameterHandler(r.busService, r.logger)
	frameHandler := handler.NewFrameHandler(r.busService, r.logger)
	adapterHandler := handler.NewAdapterHandler(r.registry, r.config.Connection.Adapter, nil, r.logger)

	// Health check routes
	healthHandler.RegisterRoutes(router.Group(""))

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	healthHandler.RegisterRoutes(apiV1)
	parameterHandler.RegisterRoutes(apiV1)
	frameHandler.RegisterRoutes(apiV1)
	adapterHandler.RegisterRoutes(apiV1)

	// WebSocket routes
	r.wsHandler.RegisterRoutes(router.Group("/ws"))

	r.logger.Info("All routes configured successfully")
}
