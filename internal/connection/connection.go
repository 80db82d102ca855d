// internal/connection/connection.go
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"canfix-service/internal/adapter"
	"canfix-service/pkg/can"
)

const (
	defaultQueueSize = 64
	// pause after a transport error before the receive worker retries
	recvErrorBackoff = 100 * time.Millisecond
)

// State is the connection lifecycle state
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateStopping   State = "stopping"
)

// Direction of a recorded frame
type Direction string

const (
	Outbound Direction = "tx"
	Inbound  Direction = "rx"
)

// FrameRecorder observes every frame the workers move.
type FrameRecorder interface {
	RecordFrame(direction Direction, frame can.Frame, at time.Time)
}

// Config selects and configures the adapter behind a connection
type Config struct {
	Adapter   string         `json:"adapter"`
	Settings  adapter.Config `json:"settings"`
	QueueSize int            `json:"queue_size"`
}

// Status is a point-in-time view of a connection
type Status struct {
	ID          string     `json:"id"`
	State       State      `json:"state"`
	Adapter     string     `json:"adapter"`
	AdapterType string     `json:"adapter_type,omitempty"`
	Sent        uint64     `json:"sent"`
	Received    uint64     `json:"received"`
	SendErrors  uint64     `json:"send_errors"`
	RecvErrors  uint64     `json:"recv_errors"`
	LastError   string     `json:"last_error,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

// Connection owns one adapter and the two workers that bridge its
// blocking I/O to an outbound and an inbound queue.
type Connection struct {
	id       string
	config   Config
	registry *adapter.Registry
	deps     adapter.Deps
	recorder FrameRecorder
	logger   *zap.Logger

	// mu guards the fields below; it is never held across adapter I/O
	mu          sync.RWMutex
	state       State
	adapter     adapter.Adapter
	session     *session
	connectedAt time.Time
	lastErr     error

	sent       atomic.Uint64
	received   atomic.Uint64
	sendErrors atomic.Uint64
	recvErrors atomic.Uint64
}

// session is one Connect..Disconnect cycle. Its workers, queues and
// teardown signal are never shared with the next cycle.
type session struct {
	adapter  adapter.Adapter
	outbound chan can.Frame
	inbound  chan can.Frame
	stop     chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	// closed once the adapter is disconnected
	done chan struct{}
	err  error
}

// Option configures a Connection
type Option func(*Connection)

// WithRecorder installs a frame recorder
func WithRecorder(recorder FrameRecorder) Option {
	return func(c *Connection) {
		c.recorder = recorder
	}
}

// WithDeps sets the collaborators handed to the adapter factory
func WithDeps(deps adapter.Deps) Option {
	return func(c *Connection) {
		c.deps = deps
	}
}

// New creates an idle connection
func New(config Config, registry *adapter.Registry, logger *zap.Logger, opts ...Option) *Connection {
	if config.QueueSize <= 0 {
		config.QueueSize = defaultQueueSize
	}

	id := uuid.New().String()
	c := &Connection{
		id:       id,
		config:   config,
		registry: registry,
		state:    StateIdle,
		logger: logger.With(
			zap.String("component", "connection"),
			zap.String("connection_id", id),
			zap.String("adapter", config.Adapter),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.deps.Logger == nil {
		c.deps.Logger = c.logger
	}
	return c
}

// ID returns the connection instance id
func (c *Connection) ID() string {
	return c.id
}

// Connect resolves the adapter, connects it and starts both workers.
// It fails with an initialization error unless the connection is idle,
// including while a previous session is still being torn down.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: connection is %s", can.ErrInitialization, state)
	}
	c.state = StateConnecting
	c.lastErr = nil
	c.mu.Unlock()

	a, err := c.registry.Create(c.config.Adapter, c.deps)
	if err == nil {
		err = a.Connect(ctx, c.config.Settings)
		if err != nil {
			c.logger.Error("Failed to connect adapter", zap.Error(err))
		}
	}
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		adapter:  a,
		outbound: make(chan can.Frame, c.config.QueueSize),
		inbound:  make(chan can.Frame, c.config.QueueSize),
		stop:     make(chan struct{}),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.wg.Add(2)
	go c.sendWorker(workerCtx, s)
	go c.recvWorker(workerCtx, s)

	c.mu.Lock()
	c.adapter = a
	c.session = s
	c.connectedAt = time.Now()
	c.state = StateActive
	c.mu.Unlock()

	c.logger.Info("Connection started",
		zap.String("adapter_name", a.Name()),
		zap.String("adapter_type", a.Type()),
		zap.Int("queue_size", c.config.QueueSize),
	)
	return nil
}

// Disconnect stops both workers, waits for them to return and only then
// disconnects the adapter. Calling it on an idle connection is a no-op; a
// call made while another Disconnect is tearing down waits for it.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		return fmt.Errorf("%w: connection is connecting", can.ErrInitialization)
	case StateStopping:
		s := c.session
		c.mu.Unlock()
		<-s.done
		return s.err
	}
	c.state = StateStopping
	s := c.session
	c.mu.Unlock()

	close(s.stop)
	s.cancel()
	s.wg.Wait()

	s.err = s.adapter.Disconnect()
	if s.err != nil {
		c.logger.Warn("Adapter disconnect failed", zap.Error(s.err))
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	close(s.done)

	c.logger.Info("Connection stopped",
		zap.Uint64("sent", c.sent.Load()),
		zap.Uint64("received", c.received.Load()),
	)
	return s.err
}

// SendFrame queues a frame for the send worker without blocking.
func (c *Connection) SendFrame(frame can.Frame) error {
	c.mu.RLock()
	state, s := c.state, c.session
	c.mu.RUnlock()

	if state != StateActive {
		return fmt.Errorf("%w: connection not active", can.ErrInitialization)
	}
	if err := frame.Validate(); err != nil {
		return err
	}
	outbound := s.outbound

	select {
	case outbound <- frame.Clone():
		return nil
	default:
		return fmt.Errorf("%w: outbound queue full (%d frames)", can.ErrTransport, cap(outbound))
	}
}

// RecvFrame returns the oldest received frame, waiting up to timeout.
func (c *Connection) RecvFrame(ctx context.Context, timeout time.Duration) (can.Frame, error) {
	c.mu.RLock()
	state, s := c.state, c.session
	c.mu.RUnlock()

	if state != StateActive {
		return can.Frame{}, fmt.Errorf("%w: connection not active", can.ErrInitialization)
	}
	inbound, stop := s.inbound, s.stop

	// frames already queued win over an expired timer
	select {
	case frame := <-inbound:
		return frame, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-inbound:
		return frame, nil
	case <-timer.C:
		return can.Frame{}, can.ErrDeviceTimeout
	case <-stop:
		return can.Frame{}, fmt.Errorf("%w: connection stopped", can.ErrInitialization)
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	}
}

// IsActive reports whether the connection is active
func (c *Connection) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateActive
}

// Status returns a snapshot of the connection
func (c *Connection) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Status{
		ID:         c.id,
		State:      c.state,
		Adapter:    c.config.Adapter,
		Sent:       c.sent.Load(),
		Received:   c.received.Load(),
		SendErrors: c.sendErrors.Load(),
		RecvErrors: c.recvErrors.Load(),
	}
	if c.adapter != nil {
		s.AdapterType = c.adapter.Type()
	}
	if c.state == StateActive {
		at := c.connectedAt
		s.ConnectedAt = &at
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func (c *Connection) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Connection) record(direction Direction, frame can.Frame) {
	if c.recorder != nil {
		c.recorder.RecordFrame(direction, frame, time.Now())
	}
}

// sendWorker forwards queued frames to the adapter. Transport errors are
// logged and the frame is dropped.
func (c *Connection) sendWorker(ctx context.Context, s *session) {
	defer s.wg.Done()
	a, outbound, stop := s.adapter, s.outbound, s.stop

	for {
		select {
		case <-stop:
			return
		case frame := <-outbound:
			if err := a.SendFrame(ctx, frame); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.sendErrors.Add(1)
				c.setLastError(err)
				c.logger.Warn("Failed to send frame", zap.Stringer("frame", frame), zap.Error(err))
				continue
			}
			c.sent.Add(1)
			c.record(Outbound, frame)
		}
	}
}

// recvWorker moves frames from the adapter to the inbound queue in
// arrival order. Silence is retried quietly; transport errors are logged.
func (c *Connection) recvWorker(ctx context.Context, s *session) {
	defer s.wg.Done()
	a, inbound, stop := s.adapter, s.inbound, s.stop

	for {
		select {
		case <-stop:
			return
		default:
		}

		frame, err := a.RecvFrame(ctx)
		switch {
		case err == nil:
			c.received.Add(1)
			c.record(Inbound, frame)
			select {
			case inbound <- frame:
			case <-stop:
				return
			}

		case errors.Is(err, can.ErrDeviceTimeout):

		case ctx.Err() != nil:
			return

		default:
			c.recvErrors.Add(1)
			c.setLastError(err)
			c.logger.Warn("Failed to receive frame", zap.Error(err))
			select {
			case <-time.After(recvErrorBackoff):
			case <-stop:
				return
			}
		}
	}
}
