// internal/handler/frame_handler.go
package handler

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"canfix-service/internal/service"
	"canfix-service/internal/utils"
	"canfix-service/pkg/can"
)

const connectTimeout = 10 * time.Second

// FrameHandler sends and decodes raw frames and manages the bus connection
type FrameHandler struct {
	busService *service.BusService
	logger     *utils.ServiceLogger
}

// NewFrameHandler creates a new frame handler
func NewFrameHandler(busService *service.BusService, logger *zap.Logger) *FrameHandler {
	return &FrameHandler{
		busService: busService,
		logger:     utils.NewServiceLogger(logger, "frame-handler"),
	}
}

// RegisterRoutes registers frame and connection routes
func (h *FrameHandler) RegisterRoutes(router *gin.RouterGroup) {
	frames := router.Group("/frames")
	{
		frames.POST("", h.SendFrame)
		frames.POST("/decode", h.DecodeFrame)
	}

	conn := router.Group("/connection")
	{
		conn.GET("", h.GetConnection)
		conn.POST("/connect", h.Connect)
		conn.POST("/disconnect", h.Disconnect)
	}
}

// FrameRequest names a frame either in candump notation ("183#0A0B") or
// by id and hex data
type FrameRequest struct {
	Frame string  `json:"frame"`
	ID    *uint16 `json:"id"`
	Data  string  `json:"data"`
}

// ToFrame builds the frame the request describes
func (r *FrameRequest) ToFrame() (can.Frame, error) {
	if r.Frame != "" {
		return can.ParseFrame(r.Frame)
	}
	if r.ID == nil {
		return can.Frame{}, fmt.Errorf("%w: frame or id is required", can.ErrValidation)
	}
	data, err := hex.DecodeString(r.Data)
	if err != nil {
		return can.Frame{}, fmt.Errorf("%w: data %q: %v", can.ErrValidation, r.Data, err)
	}
	frame := can.Frame{ID: *r.ID, Data: data}
	return frame, frame.Validate()
}

// SendFrame queues a raw frame on the bus
// @Summary Send frame
// @Tags Frames
// @Accept json
// @Produce json
// @Param request body FrameRequest true "Frame"
// @Success 202 {object} utils.APIResponse{data=FrameView} "Frame queued"
// @Failure 400 {object} utils.APIResponse "Invalid frame"
// @Failure 503 {object} utils.APIResponse "Bus not connected"
// @Router /frames [post]
func (h *FrameHandler) SendFrame(c *gin.Context) {
	frame, ok := h.bindFrame(c)
	if !ok {
		return
	}

	if err := h.busService.SendFrame(frame); err != nil {
		h.logger.Warn("Failed to send frame", zap.Stringer("frame", frame), zap.Error(err))
		utils.BusErrorResponse(c, "Failed to send frame", err)
		return
	}

	utils.SuccessResponse(c, http.StatusAccepted, "Frame queued", frameView(frame))
}

// DecodeFrame decodes a frame without sending it
// @Summary Decode frame
// @Tags Frames
// @Accept json
// @Produce json
// @Param request body FrameRequest true "Frame"
// @Success 200 {object} utils.APIResponse "Frame decoded"
// @Failure 400 {object} utils.APIResponse "Invalid frame"
// @Failure 404 {object} utils.APIResponse "Unknown parameter"
// @Router /frames/decode [post]
func (h *FrameHandler) DecodeFrame(c *gin.Context) {
	frame, ok := h.bindFrame(c)
	if !ok {
		return
	}

	msg, err := h.busService.Decode(frame)
	if err != nil {
		utils.BusErrorResponse(c, "Failed to decode frame", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Frame decoded", gin.H{
		"frame":   frameView(frame),
		"kind":    msg.Kind().String(),
		"message": msg,
	})
}

// GetConnection returns the bus connection status
// @Summary Connection status
// @Tags Connection
// @Produce json
// @Success 200 {object} utils.APIResponse{data=connection.Status} "Connection status"
// @Router /connection [get]
func (h *FrameHandler) GetConnection(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Connection status retrieved", h.busService.Status())
}

// Connect connects the bus
// @Summary Connect bus
// @Tags Connection
// @Produce json
// @Success 200 {object} utils.APIResponse{data=connection.Status} "Connected"
// @Failure 503 {object} utils.APIResponse "Adapter failed to initialize"
// @Router /connection/connect [post]
func (h *FrameHandler) Connect(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), connectTimeout)
	defer cancel()

	if err := h.busService.Connect(ctx); err != nil {
		utils.BusErrorResponse(c, "Failed to connect bus", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Bus connected", h.busService.Status())
}

// Disconnect disconnects the bus
// @Summary Disconnect bus
// @Tags Connection
// @Produce json
// @Success 200 {object} utils.APIResponse{data=connection.Status} "Disconnected"
// @Router /connection/disconnect [post]
func (h *FrameHandler) Disconnect(c *gin.Context) {
	if err := h.busService.Disconnect(); err != nil {
		utils.BusErrorResponse(c, "Failed to disconnect bus", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Bus disconnected", h.busService.Status())
}

func (h *FrameHandler) bindFrame(c *gin.Context) (can.Frame, bool) {
	var req FrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return can.Frame{}, false
	}

	frame, err := req.ToFrame()
	if err != nil {
		utils.ValidationErrorResponse(c, map[string]string{"frame": err.Error()})
		return can.Frame{}, false
	}
	return frame, true
}
