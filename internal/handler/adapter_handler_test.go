package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"canfix-service/internal/adapter"
	serialtransport "canfix-service/internal/transport/serial"
)

func newAdapterEngine(t *testing.T, lister PortLister) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	engine := gin.New()
	NewAdapterHandler(adapter.NewDefaultRegistry(logger), "easy", lister, logger).RegisterRoutes(engine.Group("/api/v1"))
	return engine
}

func TestListAdapters(t *testing.T) {
	engine := newAdapterEngine(t, nil)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/adapters", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Data struct {
			Adapters []string `json:"adapters"`
			Selected string   `json:"selected"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"canfixusb", "easy", "network", "simulate"}
	if len(resp.Data.Adapters) != len(want) || resp.Data.Selected != "easy" {
		t.Fatalf("data = %+v", resp.Data)
	}
	for i, name := range want {
		if resp.Data.Adapters[i] != name {
			t.Fatalf("adapters = %v, want %v", resp.Data.Adapters, want)
		}
	}
}

func TestListPorts(t *testing.T) {
	tests := []struct {
		name   string
		lister PortLister
		status int
		usb    int
	}{
		{
			name: "ports found",
			lister: func() ([]serialtransport.PortInfo, error) {
				return []serialtransport.PortInfo{
					{Name: "/dev/ttyS0"},
					{Name: "/dev/ttyACM0", IsUSB: true, VID: "16d0"},
				}, nil
			},
			status: http.StatusOK,
			usb:    1,
		},
		{
			name: "enumeration fails",
			lister: func() ([]serialtransport.PortInfo, error) {
				return nil, errors.New("permission denied")
			},
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newAdapterEngine(t, tt.lister)

			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/adapters/ports", nil))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}

			var resp struct {
				Data struct {
					Total int `json:"total"`
					USB   int `json:"usb"`
				} `json:"data"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Data.Total != 2 || resp.Data.USB != tt.usb {
				t.Fatalf("data = %+v", resp.Data)
			}
		})
	}
}
