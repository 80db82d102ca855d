// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"canfix-service/internal/adapter"
	"canfix-service/internal/config"
	"canfix-service/internal/service"
	"canfix-service/internal/utils"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	writeWait    = 10 * time.Second
	sendQueueLen = 256
)

// WebSocketHandler relays bus frames to WebSocket clients and sends the
// frames clients push onto the bus
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	busService  *service.BusService
	logger      *utils.ServiceLogger
	eventBus    *EventBus
	done        chan struct{}
}

// NewWebSocketHandler creates a new WebSocket handler and starts its
// event bus
func NewWebSocketHandler(busService *service.BusService, security *config.SecurityConfig, logger *zap.Logger) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(security.AllowedOrigins),
	}

	handler := &WebSocketHandler{
		upgrader:    upgrader,
		connections: NewConnectionManager(),
		busService:  busService,
		logger:      utils.NewServiceLogger(logger, "websocket-handler"),
		eventBus:    NewEventBus(logger),
		done:        make(chan struct{}),
	}

	frames := handler.eventBus.Subscribe(EventFrame)
	go handler.eventBus.Start()
	go handler.forwardFrames(frames)

	return handler
}

// EventBus returns the bus frame events are published on
func (h *WebSocketHandler) EventBus() *EventBus {
	return h.eventBus
}

// Close stops the event bus and waits for the frame forwarder
func (h *WebSocketHandler) Close() {
	h.eventBus.Stop()
	<-h.done
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/frames", h.HandleFrameConnection)
}

// HandleFrameConnection upgrades a frame relay connection
func (h *WebSocketHandler) HandleFrameConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, sendQueueLen),
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}

	h.connections.Register(client)
	h.logger.Info("Frame WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
		h.logger.Info("Frame WebSocket client disconnected", zap.String("client_id", client.ID))
	}()

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.logger.Error("Failed to parse WebSocket message",
				zap.Error(err),
				zap.String("client_id", client.ID),
			)
			h.sendError(client, "invalid message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case adapter.MessageTypeFrame:
		var payload adapter.WireFrame
		if err := json.Unmarshal(message.Data, &payload); err != nil {
			h.sendError(client, "invalid frame payload")
			return
		}
		if err := h.busService.SendFrame(payload.Frame); err != nil {
			h.logger.Warn("Failed to send client frame",
				zap.String("client_id", client.ID),
				zap.Stringer("frame", payload.Frame),
				zap.Error(err),
			)
			h.sendError(client, err.Error())
		}
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
		})
	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, "unknown message type: "+message.Type)
	}
}

// forwardFrames broadcasts frame events until the event bus stops
func (h *WebSocketHandler) forwardFrames(events <-chan Event) {
	defer close(h.done)

	for event := range events {
		frameEvent, ok := event.Data.(service.FrameEvent)
		if !ok {
			continue
		}

		message, err := adapter.NewFrameMessage(adapter.WireFrame{
			Frame:     frameEvent.Frame,
			Direction: string(frameEvent.Direction),
			Message:   frameEvent.Message,
		})
		if err != nil {
			h.logger.Error("Failed to build frame message", zap.Error(err))
			continue
		}
		h.broadcast(&message)
	}
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	if !h.connections.Send(client, messageBytes) {
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	data, _ := json.Marshal(map[string]string{"error": errorMsg})
	h.sendMessage(client, &WebSocketMessage{
		Type:      "error",
		Data:      data,
		Timestamp: time.Now(),
	})
}

// broadcast sends a message to every client
func (h *WebSocketHandler) broadcast(message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	for _, id := range h.connections.Broadcast(messageBytes) {
		h.logger.Warn("Client send channel full during broadcast",
			zap.String("client_id", id),
		)
	}
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}
