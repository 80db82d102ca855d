// internal/adapter/node.go
package adapter

import (
	"encoding/binary"
	"sync"
	"time"

	"go.uber.org/zap"

	"canfix-service/internal/canfix"
	"canfix-service/pkg/can"
)

// Node status byte carried in simulated replies.
const nodeReplyOK = 0x00

// SimNode is one node on the simulated bus. It answers node-specific
// requests sent to id 0x700+node and broadcasts its configured parameters.
type SimNode struct {
	mu         sync.Mutex
	id         uint8
	deviceType uint8
	fwRevision uint8
	model      uint32
	params     []*simParameter
	codec      *canfix.Codec
	logger     *zap.Logger
}

type simParameter struct {
	config   SimParameterConfig
	next     time.Time
	disabled bool
}

// NewSimNode creates a node; parameter broadcasts start one period after now.
func NewSimNode(config NodeConfig, codec *canfix.Codec, logger *zap.Logger, now time.Time) *SimNode {
	n := &SimNode{
		id:         config.NodeID,
		deviceType: config.DeviceType,
		fwRevision: config.FWRevision,
		model:      config.Model,
		codec:      codec,
		logger:     logger.With(zap.Uint8("node", config.NodeID)),
	}
	for _, p := range config.Parameters {
		n.params = append(n.params, &simParameter{config: p, next: now.Add(p.Period)})
	}
	return n
}

// ID returns the current node id.
func (n *SimNode) ID() uint8 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.id
}

// HandleFrame returns the replies to a frame, or nil when the frame is
// not addressed to this node.
func (n *SimNode) HandleFrame(frame can.Frame) []can.Frame {
	n.mu.Lock()
	defer n.mu.Unlock()

	if frame.ID != canfix.NodeSpecificFirst+uint16(n.id) || len(frame.Data) == 0 {
		return nil
	}

	code := canfix.ControlCode(frame.Data[0])
	switch code {
	case canfix.NodeIdentification:
		data := []byte{byte(code), n.deviceType, n.fwRevision, 0, 0, 0}
		model := make([]byte, 4)
		binary.LittleEndian.PutUint32(model, n.model)
		copy(data[3:], model[:3])
		return []can.Frame{n.reply(data)}

	case canfix.NodeIDSet:
		if len(frame.Data) < 3 || frame.Data[2] == 0 {
			return nil
		}
		n.logger.Info("Simulated node moved", zap.Uint8("new_node", frame.Data[2]))
		n.id = frame.Data[2]
		return []can.Frame{n.reply([]byte{byte(code), nodeReplyOK})}

	case canfix.DisableParameter, canfix.EnableParameter:
		if len(frame.Data) < 4 {
			return nil
		}
		id := binary.LittleEndian.Uint16(frame.Data[2:4])
		for _, p := range n.params {
			if p.config.ID == id {
				p.disabled = code == canfix.DisableParameter
			}
		}
		return []can.Frame{n.reply([]byte{byte(code), nodeReplyOK})}
	}

	n.logger.Debug("Ignoring control code", zap.Stringer("code", code))
	return nil
}

// Poll returns the parameter frames that are due at now.
func (n *SimNode) Poll(now time.Time) []can.Frame {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []can.Frame
	for _, p := range n.params {
		if p.disabled || p.config.Period <= 0 || now.Before(p.next) {
			continue
		}
		p.next = now.Add(p.config.Period)

		frame, err := n.codec.EncodeParameter(&canfix.Parameter{
			ID:    p.config.ID,
			Node:  n.id,
			Index: p.config.Index,
			Value: p.config.Value,
		})
		if err != nil {
			n.logger.Warn("Disabling unencodable parameter", zap.Uint16("parameter", p.config.ID), zap.Error(err))
			p.disabled = true
			continue
		}
		out = append(out, frame)
	}
	return out
}

func (n *SimNode) reply(data []byte) can.Frame {
	return can.Frame{ID: canfix.NodeSpecificFirst + uint16(n.id), Data: data}
}
