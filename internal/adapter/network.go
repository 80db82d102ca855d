// internal/adapter/network.go
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"canfix-service/pkg/can"
)

// FramesPath is the websocket endpoint frames are relayed on.
const FramesPath = "/ws/frames"

// MessageTypeFrame is the websocket message type that carries a frame.
const MessageTypeFrame = "frame"

// Frame directions as seen from the relaying service.
const (
	DirectionRx = "rx"
	DirectionTx = "tx"
)

// WireMessage is the websocket envelope exchanged with the frame relay.
type WireMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// WireFrame is the payload of a "frame" message.
type WireFrame struct {
	Frame     can.Frame `json:"frame"`
	Direction string    `json:"direction,omitempty"`
	Message   any       `json:"message,omitempty"`
}

// NewFrameMessage wraps a frame in a websocket envelope.
func NewFrameMessage(payload WireFrame) (WireMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return WireMessage{}, err
	}
	return WireMessage{Type: MessageTypeFrame, Data: data, Timestamp: time.Now()}, nil
}

// Network relays frames through a remote canfix-service over websocket.
type Network struct {
	deps   Deps
	logger *zap.Logger

	// writeMu serializes websocket writers
	writeMu sync.Mutex

	mu        sync.RWMutex
	config    Config
	conn      *websocket.Conn
	connected bool
	open      bool
	lastErr   error
	frames    chan can.Frame
	closing   chan struct{}
	done      chan struct{}
}

// NewNetwork creates a network adapter.
func NewNetwork(deps Deps) Adapter {
	return &Network{
		deps:   deps,
		logger: deps.logger().With(zap.String("adapter", "network")),
	}
}

func (n *Network) Name() string      { return "CAN-FIX Network" }
func (n *Network) ShortName() string { return "network" }
func (n *Network) Type() string      { return TypeNetwork }

// Connect dials ws://<address>:<port>/ws/frames and starts the reader.
func (n *Network) Connect(ctx context.Context, config Config) error {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.connected {
		return fmt.Errorf("%w: network already connected", can.ErrInitialization)
	}

	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(config.Address, strconv.Itoa(config.Port)),
		Path:   FramesPath,
	}
	dialer := n.deps.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		n.logger.Error("Failed to dial frame relay", zap.String("url", u.String()), zap.Error(err))
		return fmt.Errorf("%w: dial %s: %v", can.ErrInitialization, u.String(), err)
	}

	n.config = config
	n.conn = conn
	n.connected = true
	n.open = true
	n.lastErr = nil
	n.frames = make(chan can.Frame, frameQueueSize)
	n.closing = make(chan struct{})
	n.done = make(chan struct{})

	go n.readLoop(conn, n.frames, n.closing, n.done)

	n.logger.Info("Adapter connected", zap.String("url", u.String()))
	return nil
}

// Disconnect closes the websocket. It is idempotent.
func (n *Network) Disconnect() error {
	n.mu.Lock()
	if !n.connected {
		n.mu.Unlock()
		return nil
	}
	n.connected = false
	n.open = false
	conn, closing, done, timeout := n.conn, n.closing, n.done, n.config.Timeout
	n.conn = nil
	n.mu.Unlock()

	close(closing)

	n.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout)); err != nil {
		n.logger.Debug("Failed to send close message", zap.Error(err))
	}
	n.writeMu.Unlock()

	err := conn.Close()
	<-done

	n.logger.Info("Adapter disconnected")
	if err != nil {
		return fmt.Errorf("%w: %v", can.ErrTransport, err)
	}
	return nil
}

func (n *Network) IsConnected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.connected
}

func (n *Network) Open(ctx context.Context) error {
	return n.setOpen(true)
}

func (n *Network) Close(ctx context.Context) error {
	return n.setOpen(false)
}

func (n *Network) setOpen(open bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.connected {
		return fmt.Errorf("%w: network not connected", can.ErrInitialization)
	}
	n.open = open
	return nil
}

// SendFrame writes one frame message to the relay.
func (n *Network) SendFrame(ctx context.Context, frame can.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}

	n.mu.RLock()
	connected, open, conn, timeout := n.connected, n.open, n.conn, n.config.Timeout
	n.mu.RUnlock()

	if !connected {
		return fmt.Errorf("%w: network not connected", can.ErrInitialization)
	}
	if !open {
		return fmt.Errorf("%w: bus channel closed", can.ErrTransport)
	}

	msg, err := NewFrameMessage(WireFrame{Frame: frame})
	if err != nil {
		return fmt.Errorf("%w: %v", can.ErrTransport, err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(msg); err != nil {
		err = fmt.Errorf("%w: %v", can.ErrTransport, err)
		n.setError(err)
		return err
	}
	return nil
}

// RecvFrame waits up to the configured timeout for a relayed frame.
func (n *Network) RecvFrame(ctx context.Context) (can.Frame, error) {
	n.mu.RLock()
	connected, frames, done, timeout := n.connected, n.frames, n.done, n.config.Timeout
	n.mu.RUnlock()

	if !connected {
		return can.Frame{}, fmt.Errorf("%w: network not connected", can.ErrInitialization)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-frames:
		return frame, nil
	case <-timer.C:
		return can.Frame{}, can.ErrDeviceTimeout
	case <-done:
		return can.Frame{}, fmt.Errorf("%w: relay connection lost: %v", can.ErrTransport, n.Error())
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	}
}

func (n *Network) Error() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastErr
}

func (n *Network) setError(err error) {
	n.mu.Lock()
	n.lastErr = err
	n.mu.Unlock()
}

func (n *Network) isOpen() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.open
}

func (n *Network) readLoop(conn *websocket.Conn, frames chan<- can.Frame, closing <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-closing:
			default:
				n.logger.Error("Frame relay read failed", zap.Error(err))
				n.setError(fmt.Errorf("%w: %v", can.ErrTransport, err))
			}
			return
		}

		var msg WireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			n.logger.Warn("Discarding malformed relay message", zap.Error(err))
			continue
		}
		if msg.Type != MessageTypeFrame {
			continue
		}

		var payload WireFrame
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			n.logger.Warn("Discarding malformed frame message", zap.Error(err))
			continue
		}
		// frames the relay transmitted never came back off its bus
		if payload.Direction == DirectionTx {
			continue
		}
		if err := payload.Frame.Validate(); err != nil {
			n.logger.Warn("Discarding invalid frame", zap.Error(err))
			continue
		}
		if !n.isOpen() {
			continue
		}

		select {
		case frames <- payload.Frame:
		default:
			n.logger.Warn("Frame queue full, dropping frame", zap.Stringer("frame", payload.Frame))
		}
	}
}
