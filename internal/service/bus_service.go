// internal/service/bus_service.go
package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"canfix-service/internal/canfix"
	"canfix-service/internal/connection"
	"canfix-service/internal/dictionary"
	"canfix-service/internal/utils"
	"canfix-service/pkg/can"
)

// poll interval of the receive pump
const pumpPoll = 500 * time.Millisecond

// FrameEvent is a frame that crossed the bus, with its decoded message.
type FrameEvent struct {
	Frame       can.Frame            `json:"frame"`
	Direction   connection.Direction `json:"direction"`
	Message     canfix.Message       `json:"message,omitempty"`
	DecodeError string               `json:"decode_error,omitempty"`
	Time        time.Time            `json:"time"`
}

// FramePublisher receives every frame event.
type FramePublisher interface {
	PublishFrame(event FrameEvent)
}

// ParameterValue is the last value seen for one parameter instance.
type ParameterValue struct {
	ID         uint16    `json:"id"`
	Name       string    `json:"name"`
	Node       uint8     `json:"node"`
	Index      uint8     `json:"index"`
	Value      any       `json:"value"`
	Annunciate bool      `json:"annunciate"`
	Quality    bool      `json:"quality"`
	Failure    bool      `json:"failure"`
	Updated    time.Time `json:"updated"`
}

type valueKey struct {
	id    uint16
	node  uint8
	index uint8
}

// BusService bridges the bus connection to the API: it sends frames,
// decodes what arrives and keeps the latest value of every parameter.
type BusService struct {
	conn      *connection.Connection
	codec     *canfix.Codec
	logger    *utils.ServiceLogger
	busLogger *utils.BusLogger

	mu        sync.RWMutex
	publisher FramePublisher
	values    map[valueKey]ParameterValue
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewBusService creates a bus service over a connection
func NewBusService(conn *connection.Connection, codec *canfix.Codec, adapterName string, logger *zap.Logger) *BusService {
	return &BusService{
		conn:      conn,
		codec:     codec,
		logger:    utils.NewServiceLogger(logger, "bus-service"),
		busLogger: utils.NewBusLogger(logger, adapterName),
		values:    make(map[valueKey]ParameterValue),
	}
}

// SetPublisher installs the frame event publisher
func (s *BusService) SetPublisher(publisher FramePublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = publisher
}

// Connect connects the bus and starts the receive pump
func (s *BusService) Connect(ctx context.Context) error {
	if err := s.conn.Connect(ctx); err != nil {
		s.busLogger.LogConnection("connect", false, err)
		return err
	}
	s.busLogger.LogConnection("connect", true, nil)

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.pump(pumpCtx)
	return nil
}

// Disconnect stops the pump and disconnects the bus. It is idempotent.
func (s *BusService) Disconnect() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	err := s.conn.Disconnect()
	s.busLogger.LogConnection("disconnect", err == nil, err)
	return err
}

// Status returns the connection status
func (s *BusService) Status() connection.Status {
	return s.conn.Status()
}

// Dictionary returns the parameter dictionary
func (s *BusService) Dictionary() *dictionary.Dictionary {
	return s.codec.Dictionary()
}

// Decode decodes a frame without sending it
func (s *BusService) Decode(frame can.Frame) (canfix.Message, error) {
	return s.codec.Decode(frame)
}

// SendFrame queues a raw frame
func (s *BusService) SendFrame(frame can.Frame) error {
	if err := s.conn.SendFrame(frame); err != nil {
		return err
	}
	s.publish(frame, connection.Outbound)
	return nil
}

// SendMessage encodes a message and queues its frame
func (s *BusService) SendMessage(msg canfix.Message) (can.Frame, error) {
	frame, err := s.codec.Encode(msg)
	if err != nil {
		return can.Frame{}, err
	}
	if err := s.SendFrame(frame); err != nil {
		return can.Frame{}, err
	}
	return frame, nil
}

// Values returns the latest values of one parameter id, ordered by node
// and index
func (s *BusService) Values(id uint16) []ParameterValue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ParameterValue
	for k, v := range s.values {
		if k.id == id {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Node != out[j].Node {
			return out[i].Node < out[j].Node
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// pump moves received frames to the publisher until ctx ends
func (s *BusService) pump(ctx context.Context) {
	defer s.wg.Done()

	for {
		frame, err := s.conn.RecvFrame(ctx, pumpPoll)
		switch {
		case err == nil:
			s.publish(frame, connection.Inbound)
		case errors.Is(err, can.ErrDeviceTimeout):
		case ctx.Err() != nil, errors.Is(err, can.ErrInitialization):
			return
		default:
			s.logger.Warn("Receive failed", zap.Error(err))
		}
	}
}

func (s *BusService) publish(frame can.Frame, direction connection.Direction) {
	event := FrameEvent{Frame: frame, Direction: direction, Time: time.Now()}

	msg, err := s.codec.Decode(frame)
	if err != nil {
		event.DecodeError = err.Error()
	} else {
		event.Message = msg
		if p, ok := msg.(*canfix.Parameter); ok && p.Meta == "" && direction == connection.Inbound {
			s.storeValue(p, event.Time)
		}
	}
	s.busLogger.LogFrame(string(direction), frame, event.Message)

	s.mu.RLock()
	publisher := s.publisher
	s.mu.RUnlock()
	if publisher != nil {
		publisher.PublishFrame(event)
	}
}

func (s *BusService) storeValue(p *canfix.Parameter, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[valueKey{p.ID, p.Node, p.Index}] = ParameterValue{
		ID:         p.ID,
		Name:       p.Name,
		Node:       p.Node,
		Index:      p.Index,
		Value:      p.Value,
		Annunciate: p.Annunciate,
		Quality:    p.Quality,
		Failure:    p.Failure,
		Updated:    at,
	}
}

// ParseKey resolves a parameter key given as an id (decimal or
// 0x-prefixed hex) or a name
func (s *BusService) ParseKey(key string) (*dictionary.ParameterDef, error) {
	if id, err := strconv.ParseUint(key, 0, 16); err == nil {
		return s.Dictionary().Lookup(uint16(id))
	}
	return s.Dictionary().LookupName(key)
}
