package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"canfix-service/internal/adapter"
	"canfix-service/internal/canfix"
	"canfix-service/internal/config"
	"canfix-service/internal/connection"
	"canfix-service/internal/dictionary"
	"canfix-service/internal/handler"
	"canfix-service/internal/middleware"
	"canfix-service/internal/service"
)

func TestSetupRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	dict, err := dictionary.Load("../dictionary/testdata/canfix.yaml")
	if err != nil {
		t.Fatalf("load dictionary: %v", err)
	}
	codec := canfix.NewCodec(dict)
	registry := adapter.NewDefaultRegistry(logger)
	cfg := &config.Config{
		App:        config.AppConfig{Name: "canfix-service", Environment: "test"},
		Connection: config.ConnectionConfig{Adapter: "simulate"},
		Security:   config.SecurityConfig{AllowedOrigins: []string{"http://panel.local"}},
	}

	conn := connection.New(cfg.ConnectionSettings(), registry, logger)
	bus := service.NewBusService(conn, codec, "simulate", logger)
	ws := handler.NewWebSocketHandler(bus, &cfg.Security, logger)
	defer ws.Close()

	router := NewRouter(cfg, logger, registry, bus, ws).SetupRouter()

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/live", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/v1/health", http.StatusOK},
		{http.MethodGet, "/api/v1/parameters", http.StatusOK},
		{http.MethodGet, "/api/v1/parameters/heading", http.StatusOK},
		{http.MethodGet, "/api/v1/adapters", http.StatusOK},
		{http.MethodGet, "/api/v1/connection", http.StatusOK},
		{http.MethodGet, "/ws/frames", http.StatusBadRequest},
		{http.MethodGet, "/swagger/index.html", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Origin", "http://panel.local")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if rec.Header().Get(middleware.RequestIDHeader) == "" {
				t.Fatal("missing request id header")
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
				t.Fatalf("allow origin = %q", got)
			}
		})
	}
}
