// internal/adapter/simulate.go
package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"canfix-service/pkg/can"
)

// Simulate is an in-process bus populated by simulated nodes.
type Simulate struct {
	deps   Deps
	logger *zap.Logger

	mu        sync.Mutex
	config    Config
	connected bool
	open      bool
	nodes     []*SimNode
	queue     []can.Frame
	wake      chan struct{}
}

// NewSimulate creates a simulated bus adapter.
func NewSimulate(deps Deps) Adapter {
	return &Simulate{
		deps:   deps,
		logger: deps.logger().With(zap.String("adapter", "simulate")),
		wake:   make(chan struct{}, 1),
	}
}

func (s *Simulate) Name() string      { return "CAN-FIX Simulation" }
func (s *Simulate) ShortName() string { return "simulate" }
func (s *Simulate) Type() string      { return TypeSimulated }

// Connect builds the configured nodes and opens the bus.
func (s *Simulate) Connect(ctx context.Context, config Config) error {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return fmt.Errorf("%w: simulate already connected", can.ErrInitialization)
	}
	for _, n := range config.Nodes {
		if len(n.Parameters) > 0 && s.deps.Codec == nil {
			return fmt.Errorf("%w: node %d broadcasts parameters but no codec is configured", can.ErrInitialization, n.NodeID)
		}
	}

	now := time.Now()
	s.nodes = s.nodes[:0]
	for _, n := range config.Nodes {
		s.nodes = append(s.nodes, NewSimNode(n, s.deps.Codec, s.logger, now))
	}
	s.config = config
	s.queue = nil
	s.connected = true
	s.open = true

	s.logger.Info("Adapter connected", zap.Int("nodes", len(s.nodes)), zap.Duration("timeout", config.Timeout))
	return nil
}

// Disconnect drops the nodes and any queued frames. It is idempotent.
func (s *Simulate) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.connected = false
	s.open = false
	s.nodes = nil
	s.queue = nil
	s.logger.Info("Adapter disconnected")
	return nil
}

func (s *Simulate) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Simulate) Open(ctx context.Context) error {
	return s.setOpen(true)
}

func (s *Simulate) Close(ctx context.Context) error {
	return s.setOpen(false)
}

func (s *Simulate) setOpen(open bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return fmt.Errorf("%w: simulate not connected", can.ErrInitialization)
	}
	s.open = open
	return nil
}

// SendFrame delivers a frame to every node and queues their replies.
func (s *Simulate) SendFrame(ctx context.Context, frame can.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return fmt.Errorf("%w: simulate not connected", can.ErrInitialization)
	}
	if !s.open {
		return fmt.Errorf("%w: bus channel closed", can.ErrTransport)
	}

	queued := false
	for _, n := range s.nodes {
		if replies := n.HandleFrame(frame); len(replies) > 0 {
			s.queue = append(s.queue, replies...)
			queued = true
		}
	}
	if queued {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// RecvFrame polls every node once, then returns the oldest queued frame,
// waiting up to the configured timeout for one to arrive.
func (s *Simulate) RecvFrame(ctx context.Context) (can.Frame, error) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return can.Frame{}, fmt.Errorf("%w: simulate not connected", can.ErrInitialization)
	}
	now := time.Now()
	for _, n := range s.nodes {
		s.queue = append(s.queue, n.Poll(now)...)
	}
	timeout := s.config.Timeout
	s.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if frame, ok := s.pop(); ok {
			return frame, nil
		}
		select {
		case <-s.wake:
		case <-deadline.C:
			return can.Frame{}, can.ErrDeviceTimeout
		case <-ctx.Done():
			return can.Frame{}, ctx.Err()
		}
	}
}

func (s *Simulate) pop() (can.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected || !s.open || len(s.queue) == 0 {
		return can.Frame{}, false
	}
	frame := s.queue[0]
	s.queue = s.queue[1:]
	return frame, true
}

// The simulated bus has no transport to fail.
func (s *Simulate) Error() error {
	return nil
}

// Nodes returns the simulated nodes.
func (s *Simulate) Nodes() []*SimNode {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*SimNode, len(s.nodes))
	copy(out, s.nodes)
	return out
}
