package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"canfix-service/pkg/can"
)

// relayServer is a websocket frame relay: frames on push are written to
// the client and frames the client sends arrive on received.
type relayServer struct {
	*httptest.Server
	push     chan WireFrame
	received chan can.Frame
}

func newRelayServer(t *testing.T) *relayServer {
	t.Helper()
	rs := &relayServer{
		push:     make(chan WireFrame, 8),
		received: make(chan can.Frame, 8),
	}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc(FramesPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		go func() {
			for payload := range rs.push {
				msg, err := NewFrameMessage(payload)
				if err != nil {
					t.Errorf("frame message: %v", err)
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			}
		}()

		for {
			var msg WireMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			var payload WireFrame
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				t.Errorf("client frame: %v", err)
				return
			}
			rs.received <- payload.Frame
		}
	})

	rs.Server = httptest.NewServer(mux)
	t.Cleanup(func() {
		close(rs.push)
		rs.Server.Close()
	})
	return rs
}

func (rs *relayServer) config(t *testing.T) Config {
	t.Helper()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(rs.URL, "http://"))
	if err != nil {
		t.Fatalf("split %s: %v", rs.URL, err)
	}
	p, _ := strconv.Atoi(port)
	return Config{Address: host, Port: p, Timeout: 100 * time.Millisecond}
}

func TestNetworkRelay(t *testing.T) {
	rs := newRelayServer(t)
	a := NewNetwork(Deps{Logger: zaptest.NewLogger(t)})
	ctx := context.Background()

	if err := a.Connect(ctx, rs.config(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { a.Disconnect() })

	if err := a.SendFrame(ctx, can.NewFrame(0x184, 0x01, 0x02)); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case got := <-rs.received:
		if !got.Equal(can.NewFrame(0x184, 0x01, 0x02)) {
			t.Fatalf("relay received %s", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("relay never received the frame")
	}

	rs.push <- WireFrame{Frame: can.NewFrame(0x300, 0xAA), Direction: DirectionTx}
	rs.push <- WireFrame{Frame: can.NewFrame(0x183, 0x0A, 0x0B), Direction: DirectionRx}

	got, err := a.RecvFrame(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if !got.Equal(can.NewFrame(0x183, 0x0A, 0x0B)) {
		t.Fatalf("recv = %s, want 183#0A0B", got)
	}

	if _, err := a.RecvFrame(ctx); !errors.Is(err, can.ErrDeviceTimeout) {
		t.Fatalf("idle recv err = %v, want device timeout", err)
	}

	if err := a.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := a.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	if err := a.SendFrame(ctx, can.NewFrame(0x184)); !errors.Is(err, can.ErrInitialization) {
		t.Fatalf("send after disconnect: %v", err)
	}
}

func TestNetworkDialFailure(t *testing.T) {
	rs := newRelayServer(t)
	config := rs.config(t)
	rs.Server.Close()

	a := NewNetwork(Deps{Logger: zaptest.NewLogger(t)})
	err := a.Connect(context.Background(), config)
	if !errors.Is(err, can.ErrInitialization) {
		t.Fatalf("err = %v, want initialization error", err)
	}
	if a.IsConnected() {
		t.Fatalf("adapter connected after dial failure")
	}
}
