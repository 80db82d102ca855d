// internal/canfix/message.go
package canfix

import "fmt"

// Message is one decoded CAN-FIX frame: *NodeAlarm, *Parameter,
// *TwoWayMessage or *NodeSpecificMessage.
type Message interface {
	Kind() Kind
}

// NodeAlarm is raised by a node on its own id (0..255).
type NodeAlarm struct {
	Node uint8  `json:"node"`
	Code uint16 `json:"code"`
	Data []byte `json:"data,omitempty"`
}

func (*NodeAlarm) Kind() Kind { return KindNodeAlarm }

// Function byte layout of a parameter frame.
const (
	FlagAnnunciate uint8 = 0x01
	FlagQuality    uint8 = 0x02
	FlagFailure    uint8 = 0x04
	metaShift            = 4
)

// Parameter carries one value of a dictionary parameter.
//
// Value holds float64 for scalar numeric types, []float64 for arrays and
// the date type, string for CHAR types and []bool for BYTE/WORD. When
// Value is nil on encode the raw Data bytes are sent unchanged.
type Parameter struct {
	ID         uint16 `json:"id"`
	Name       string `json:"name"`
	Node       uint8  `json:"node"`
	Index      uint8  `json:"index"`
	Annunciate bool   `json:"annunciate"`
	Quality    bool   `json:"quality"`
	Failure    bool   `json:"failure"`
	Meta       string `json:"meta,omitempty"`
	Data       []byte `json:"data,omitempty"`
	Value      any    `json:"value,omitempty"`
}

func (*Parameter) Kind() Kind { return KindParameter }

// Direction of a two-way channel message.
type Direction uint8

const (
	Request Direction = iota
	Response
)

func (d Direction) String() string {
	if d == Response {
		return "response"
	}
	return "request"
}

// MarshalText lets Direction render as a word in JSON.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// TwoWayMessage travels on one of the 16 two-way channels (1760..1791).
// Even ids are requests, odd ids responses.
type TwoWayMessage struct {
	Channel   uint8     `json:"channel"`
	Direction Direction `json:"direction"`
	Data      []byte    `json:"data,omitempty"`
}

func (*TwoWayMessage) Kind() Kind { return KindTwoWay }

// NodeSpecificMessage is a node management frame sent on 0x700+sender.
type NodeSpecificMessage struct {
	SendNode uint8       `json:"send_node"`
	DestNode uint8       `json:"dest_node"`
	Code     ControlCode `json:"code"`
	Data     []byte      `json:"data,omitempty"`
}

func (*NodeSpecificMessage) Kind() Kind { return KindNodeSpecific }

func (m *NodeSpecificMessage) String() string {
	return fmt.Sprintf("%s from node %d to node %d", m.Code, m.SendNode, m.DestNode)
}
