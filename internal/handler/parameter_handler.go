// internal/handler/parameter_handler.go
package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"canfix-service/internal/canfix"
	"canfix-service/internal/dictionary"
	"canfix-service/internal/service"
	"canfix-service/internal/utils"
	"canfix-service/pkg/can"
)

// ParameterHandler serves the parameter dictionary and the latest values
type ParameterHandler struct {
	busService *service.BusService
	logger     *utils.ServiceLogger
}

// NewParameterHandler creates a new parameter handler
func NewParameterHandler(busService *service.BusService, logger *zap.Logger) *ParameterHandler {
	return &ParameterHandler{
		busService: busService,
		logger:     utils.NewServiceLogger(logger, "parameter-handler"),
	}
}

// RegisterRoutes registers parameter routes
func (h *ParameterHandler) RegisterRoutes(router *gin.RouterGroup) {
	parameters := router.Group("/parameters")
	{
		parameters.GET("", h.ListParameters)
		parameters.GET("/:key", h.GetParameter)
		parameters.POST("/:key/value", h.SendParameter)
	}
}

// ParameterDetail is a definition with its group and latest values
type ParameterDetail struct {
	*dictionary.ParameterDef
	Group  string                   `json:"group,omitempty"`
	Values []service.ParameterValue `json:"values"`
}

// SendParameterRequest is the body of a parameter value update
type SendParameterRequest struct {
	Node       uint8  `json:"node"`
	Index      uint8  `json:"index"`
	Value      any    `json:"value" binding:"required"`
	Meta       string `json:"meta"`
	Annunciate bool   `json:"annunciate"`
	Quality    bool   `json:"quality"`
	Failure    bool   `json:"failure"`
}

// ListParameters lists dictionary parameters
// @Summary List parameters
// @Tags Parameters
// @Produce json
// @Param group query string false "Filter by group name"
// @Success 200 {object} utils.APIResponse "Parameters retrieved successfully"
// @Router /parameters [get]
func (h *ParameterHandler) ListParameters(c *gin.Context) {
	dict := h.busService.Dictionary()
	group := c.Query("group")

	parameters := make([]*dictionary.ParameterDef, 0, dict.Len())
	for _, def := range dict.Parameters() {
		if group != "" {
			g, ok := dict.GroupOf(def.ID)
			if !ok || !strings.EqualFold(g.Name, group) {
				continue
			}
		}
		parameters = append(parameters, def)
	}

	utils.SuccessResponse(c, http.StatusOK, "Parameters retrieved successfully", gin.H{
		"version":    dict.Version(),
		"groups":     dict.Groups(),
		"count":      len(parameters),
		"parameters": parameters,
	})
}

// GetParameter returns one parameter by id or name
// @Summary Get parameter
// @Tags Parameters
// @Produce json
// @Param key path string true "Parameter id (decimal or 0x hex) or name"
// @Success 200 {object} utils.APIResponse{data=ParameterDetail} "Parameter retrieved successfully"
// @Failure 404 {object} utils.APIResponse "Parameter not found"
// @Router /parameters/{key} [get]
func (h *ParameterHandler) GetParameter(c *gin.Context) {
	def, err := h.busService.ParseKey(c.Param("key"))
	if err != nil {
		utils.BusErrorResponse(c, "Parameter not found", err)
		return
	}

	detail := ParameterDetail{
		ParameterDef: def,
		Values:       h.busService.Values(def.ID),
	}
	if g, ok := h.busService.Dictionary().GroupOf(def.ID); ok {
		detail.Group = g.Name
	}
	if detail.Values == nil {
		detail.Values = []service.ParameterValue{}
	}

	utils.SuccessResponse(c, http.StatusOK, "Parameter retrieved successfully", detail)
}

// SendParameter encodes a parameter value and sends it on the bus
// @Summary Send parameter value
// @Tags Parameters
// @Accept json
// @Produce json
// @Param key path string true "Parameter id (decimal or 0x hex) or name"
// @Param request body SendParameterRequest true "Parameter value"
// @Success 202 {object} utils.APIResponse "Parameter queued"
// @Failure 400 {object} utils.APIResponse "Invalid value"
// @Failure 503 {object} utils.APIResponse "Bus not connected"
// @Router /parameters/{key}/value [post]
func (h *ParameterHandler) SendParameter(c *gin.Context) {
	def, err := h.busService.ParseKey(c.Param("key"))
	if err != nil {
		utils.BusErrorResponse(c, "Parameter not found", err)
		return
	}

	var req SendParameterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	frame, err := h.busService.SendMessage(&canfix.Parameter{
		ID:         def.ID,
		Node:       req.Node,
		Index:      req.Index,
		Value:      req.Value,
		Meta:       req.Meta,
		Annunciate: req.Annunciate,
		Quality:    req.Quality,
		Failure:    req.Failure,
	})
	if err != nil {
		h.logger.Warn("Failed to send parameter",
			zap.Uint16("parameter", def.ID),
			zap.Error(err),
		)
		utils.BusErrorResponse(c, "Failed to send parameter", err)
		return
	}

	h.logger.Info("Parameter sent",
		zap.String("parameter", def.Name),
		zap.Stringer("frame", frame),
	)
	utils.SuccessResponse(c, http.StatusAccepted, "Parameter queued", frameView(frame))
}

// FrameView is a frame rendered for API responses
type FrameView struct {
	ID    uint16 `json:"id"`
	Data  string `json:"data"`
	Frame string `json:"frame"`
}

func frameView(frame can.Frame) FrameView {
	s := frame.String()
	_, data, _ := strings.Cut(s, "#")
	return FrameView{ID: frame.ID, Data: data, Frame: s}
}
