// internal/handler/adapter_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"canfix-service/internal/adapter"
	serialtransport "canfix-service/internal/transport/serial"
	"canfix-service/internal/utils"
)

// PortLister enumerates host serial ports
type PortLister func() ([]serialtransport.PortInfo, error)

// AdapterHandler lists the registered adapters and the serial ports a
// dongle could be attached to
type AdapterHandler struct {
	registry  *adapter.Registry
	selected  string
	listPorts PortLister
	logger    *utils.ServiceLogger
}

// NewAdapterHandler creates a new adapter handler. A nil lister uses the
// host serial enumerator.
func NewAdapterHandler(registry *adapter.Registry, selected string, listPorts PortLister, logger *zap.Logger) *AdapterHandler {
	if listPorts == nil {
		listPorts = serialtransport.ListPorts
	}
	return &AdapterHandler{
		registry:  registry,
		selected:  selected,
		listPorts: listPorts,
		logger:    utils.NewServiceLogger(logger, "adapter-handler"),
	}
}

// RegisterRoutes registers adapter routes
func (h *AdapterHandler) RegisterRoutes(router *gin.RouterGroup) {
	adapters := router.Group("/adapters")
	{
		adapters.GET("", h.ListAdapters)
		adapters.GET("/ports", h.ListPorts)
	}
}

// ListAdapters lists the registered adapter names
// @Summary List adapters
// @Tags Adapters
// @Produce json
// @Success 200 {object} utils.APIResponse "Adapters retrieved successfully"
// @Router /adapters [get]
func (h *AdapterHandler) ListAdapters(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Adapters retrieved successfully", gin.H{
		"adapters": h.registry.Names(),
		"selected": h.selected,
	})
}

// ListPorts scans the host serial ports
// @Summary List serial ports
// @Tags Adapters
// @Produce json
// @Success 200 {object} utils.APIResponse "Ports retrieved successfully"
// @Failure 500 {object} utils.APIResponse "Enumeration failed"
// @Router /adapters/ports [get]
func (h *AdapterHandler) ListPorts(c *gin.Context) {
	ports, err := h.listPorts()
	if err != nil {
		h.logger.Error("Serial port scan failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list serial ports", err)
		return
	}

	usb := 0
	for _, p := range ports {
		if p.IsUSB {
			usb++
		}
	}
	utils.SuccessResponse(c, http.StatusOK, "Ports retrieved successfully", gin.H{
		"total": len(ports),
		"usb":   usb,
		"ports": ports,
	})
}
