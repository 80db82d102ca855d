// internal/canfix/codec.go
package canfix

import (
	"encoding/binary"
	"fmt"

	"canfix-service/internal/dictionary"
	"canfix-service/pkg/can"
)

// Codec converts between raw frames and CAN-FIX messages. It is safe
// for concurrent use; the dictionary it holds is immutable.
type Codec struct {
	dict *dictionary.Dictionary
}

// NewCodec creates a codec bound to a parameter dictionary.
func NewCodec(dict *dictionary.Dictionary) *Codec {
	return &Codec{dict: dict}
}

// Dictionary returns the registry the codec decodes parameters with.
func (c *Codec) Dictionary() *dictionary.Dictionary {
	return c.dict
}

// Decode classifies a frame by id and decodes it into its message type.
func (c *Codec) Decode(frame can.Frame) (Message, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	switch Classify(frame.ID) {
	case KindNodeAlarm:
		return DecodeNodeAlarm(frame)
	case KindParameter:
		return c.DecodeParameter(frame)
	case KindTwoWay:
		return DecodeTwoWay(frame)
	case KindNodeSpecific:
		return DecodeNodeSpecific(frame)
	}
	return nil, fmt.Errorf("%w: frame id %d has no message kind", can.ErrValidation, frame.ID)
}

// Encode builds the frame for a message.
func (c *Codec) Encode(msg Message) (can.Frame, error) {
	switch m := msg.(type) {
	case *NodeAlarm:
		return EncodeNodeAlarm(m)
	case *Parameter:
		return c.EncodeParameter(m)
	case *TwoWayMessage:
		return EncodeTwoWay(m)
	case *NodeSpecificMessage:
		return EncodeNodeSpecific(m)
	case nil:
		return can.Frame{}, fmt.Errorf("%w: nil message", can.ErrValidation)
	}
	return can.Frame{}, fmt.Errorf("%w: unknown message type %T", can.ErrValidation, msg)
}

// DecodeNodeAlarm reads node = id, code = bytes 0-1 (LE), data = rest.
func DecodeNodeAlarm(frame can.Frame) (*NodeAlarm, error) {
	if Classify(frame.ID) != KindNodeAlarm {
		return nil, wrongKind(frame, KindNodeAlarm)
	}
	if len(frame.Data) < 2 {
		return nil, fmt.Errorf("%w: node alarm needs 2 bytes, got %d", can.ErrValidation, len(frame.Data))
	}
	return &NodeAlarm{
		Node: uint8(frame.ID),
		Code: binary.LittleEndian.Uint16(frame.Data[0:2]),
		Data: copyBytes(frame.Data[2:]),
	}, nil
}

// EncodeNodeAlarm is the inverse of DecodeNodeAlarm.
func EncodeNodeAlarm(m *NodeAlarm) (can.Frame, error) {
	if len(m.Data) > can.MaxDataLen-2 {
		return can.Frame{}, fmt.Errorf("%w: node alarm data too long (%d bytes)", can.ErrValidation, len(m.Data))
	}
	data := make([]byte, 2, 2+len(m.Data))
	binary.LittleEndian.PutUint16(data, m.Code)
	data = append(data, m.Data...)
	return can.Frame{ID: uint16(m.Node), Data: data}, nil
}

// DecodeParameter reads node, index and function bytes and decodes the
// value with the dictionary definition of the frame id.
func (c *Codec) DecodeParameter(frame can.Frame) (*Parameter, error) {
	if Classify(frame.ID) != KindParameter {
		return nil, wrongKind(frame, KindParameter)
	}
	if len(frame.Data) < 3 {
		return nil, fmt.Errorf("%w: parameter frame needs 3 header bytes, got %d", can.ErrValidation, len(frame.Data))
	}

	def, err := c.dict.Lookup(frame.ID)
	if err != nil {
		return nil, err
	}

	fn := frame.Data[2]
	p := &Parameter{
		ID:         frame.ID,
		Name:       def.Name,
		Node:       frame.Data[0],
		Index:      frame.Data[1],
		Annunciate: fn&FlagAnnunciate != 0,
		Quality:    fn&FlagQuality != 0,
		Failure:    fn&FlagFailure != 0,
		Data:       copyBytes(frame.Data[3:]),
	}
	if name, ok := def.MetaName(int(fn >> metaShift)); ok {
		p.Meta = name
	}

	// meta frames carry values of the parameter's own type
	p.Value, err = DecodeValue(def, p.Data)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// EncodeParameter is the inverse of DecodeParameter.
func (c *Codec) EncodeParameter(p *Parameter) (can.Frame, error) {
	if Classify(p.ID) != KindParameter {
		return can.Frame{}, fmt.Errorf("%w: id %d is not a parameter id", can.ErrValidation, p.ID)
	}
	def, err := c.dict.Lookup(p.ID)
	if err != nil {
		return can.Frame{}, err
	}

	var fn uint8
	if p.Annunciate {
		fn |= FlagAnnunciate
	}
	if p.Quality {
		fn |= FlagQuality
	}
	if p.Failure {
		fn |= FlagFailure
	}
	if p.Meta != "" {
		sel, ok := def.MetaSelector(p.Meta)
		if !ok || sel < 0 || sel > 0x0F {
			return can.Frame{}, fmt.Errorf("%w: %s has no meta %q", can.ErrLookup, def.Name, p.Meta)
		}
		fn |= uint8(sel) << metaShift
	}

	value := p.Data
	if p.Value != nil {
		value, err = EncodeValue(def, p.Value)
		if err != nil {
			return can.Frame{}, err
		}
	}
	if len(value) > can.MaxDataLen-3 {
		return can.Frame{}, fmt.Errorf("%w: %s value is %d bytes", can.ErrValidation, def.Name, len(value))
	}

	data := append([]byte{p.Node, p.Index, fn}, value...)
	return can.Frame{ID: p.ID, Data: data}, nil
}

// DecodeTwoWay reads channel and direction from the id.
func DecodeTwoWay(frame can.Frame) (*TwoWayMessage, error) {
	if Classify(frame.ID) != KindTwoWay {
		return nil, wrongKind(frame, KindTwoWay)
	}
	offset := frame.ID - TwoWayFirst
	m := &TwoWayMessage{
		Channel:   uint8(offset / 2),
		Direction: Request,
		Data:      copyBytes(frame.Data),
	}
	if offset%2 == 1 {
		m.Direction = Response
	}
	return m, nil
}

// EncodeTwoWay is the inverse of DecodeTwoWay.
func EncodeTwoWay(m *TwoWayMessage) (can.Frame, error) {
	if m.Channel > (NodeSpecificFirst-TwoWayFirst)/2-1 {
		return can.Frame{}, fmt.Errorf("%w: two-way channel %d out of range", can.ErrValidation, m.Channel)
	}
	id := uint16(TwoWayFirst) + uint16(m.Channel)*2
	if m.Direction == Response {
		id++
	}
	f := can.Frame{ID: id, Data: copyBytes(m.Data)}
	return f, f.Validate()
}

// DecodeNodeSpecific reads sender from the id, then code, destination
// and payload from the data bytes.
func DecodeNodeSpecific(frame can.Frame) (*NodeSpecificMessage, error) {
	if Classify(frame.ID) != KindNodeSpecific {
		return nil, wrongKind(frame, KindNodeSpecific)
	}
	if len(frame.Data) < 2 {
		return nil, fmt.Errorf("%w: node specific message needs 2 bytes, got %d", can.ErrValidation, len(frame.Data))
	}
	return &NodeSpecificMessage{
		SendNode: uint8(frame.ID - NodeSpecificFirst),
		Code:     ControlCode(frame.Data[0]),
		DestNode: frame.Data[1],
		Data:     copyBytes(frame.Data[2:]),
	}, nil
}

// EncodeNodeSpecific is the inverse of DecodeNodeSpecific.
func EncodeNodeSpecific(m *NodeSpecificMessage) (can.Frame, error) {
	if len(m.Data) > can.MaxDataLen-2 {
		return can.Frame{}, fmt.Errorf("%w: node specific payload too long (%d bytes)", can.ErrValidation, len(m.Data))
	}
	data := append([]byte{byte(m.Code), m.DestNode}, m.Data...)
	return can.Frame{ID: NodeSpecificFirst + uint16(m.SendNode), Data: data}, nil
}

func wrongKind(frame can.Frame, want Kind) error {
	return fmt.Errorf("%w: frame id %d is %s, not %s", can.ErrValidation, frame.ID, Classify(frame.ID), want)
}

func copyBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
