// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"canfix-service/internal/config"
	"canfix-service/internal/connection"
	"canfix-service/internal/service"
	"canfix-service/internal/utils"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	busService *service.BusService
	config     *config.Config
	startTime  time.Time
	logger     *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(busService *service.BusService, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		busService: busService,
		config:     config,
		startTime:  time.Now(),
		logger:     utils.NewServiceLogger(logger, "health-handler"),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck performs general health check
// @Summary Health check
// @Description Get overall service health including the bus connection
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy or degraded"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startTime).String(),
		Checks:    make(map[string]CheckResult),
	}

	status := h.busService.Status()
	bus := CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"connection_id": status.ID,
			"adapter":       status.Adapter,
			"state":         status.State,
			"sent":          status.Sent,
			"received":      status.Received,
			"send_errors":   status.SendErrors,
			"recv_errors":   status.RecvErrors,
		},
	}
	if status.State != connection.StateActive {
		bus.Status = "unhealthy"
		bus.Message = "Bus connection not active"
		health.Status = "degraded"
	} else if status.LastError != "" {
		bus.Message = status.LastError
	}
	health.Checks["bus"] = bus

	dict := h.busService.Dictionary()
	health.Checks["dictionary"] = CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"version":    dict.Version(),
			"parameters": dict.Len(),
		},
	}

	c.JSON(http.StatusOK, health)
}

// ReadinessCheck reports ready once the bus connection is active
// @Summary Readiness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is ready"
// @Failure 503 {object} object{status=string,reason=string} "Service is not ready"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if h.busService.Status().State != connection.StateActive {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "bus connection not active",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
