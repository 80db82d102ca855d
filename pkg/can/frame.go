// pkg/can/frame.go
package can

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	// MaxID is the largest 11-bit identifier.
	MaxID = 0x7FF
	// MaxDataLen is the classic CAN payload limit.
	MaxDataLen = 8
)

// Frame is one classic CAN packet with a standard identifier.
type Frame struct {
	ID   uint16 `json:"id"`
	Data []byte `json:"data"`
}

// NewFrame copies data into a new frame.
func NewFrame(id uint16, data ...byte) Frame {
	f := Frame{ID: id, Data: make([]byte, len(data))}
	copy(f.Data, data)
	return f
}

// Validate checks the identifier range and payload length.
func (f Frame) Validate() error {
	if f.ID > MaxID {
		return fmt.Errorf("%w: frame id %d out of range 0..%d", ErrValidation, f.ID, MaxID)
	}
	if len(f.Data) > MaxDataLen {
		return fmt.Errorf("%w: frame data length %d exceeds %d", ErrValidation, len(f.Data), MaxDataLen)
	}
	return nil
}

// Clone returns a frame that shares no memory with f.
func (f Frame) Clone() Frame {
	return NewFrame(f.ID, f.Data...)
}

// Equal reports whether both frames carry the same id and bytes.
func (f Frame) Equal(o Frame) bool {
	if f.ID != o.ID || len(f.Data) != len(o.Data) {
		return false
	}
	for i := range f.Data {
		if f.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// String renders the frame in candump notation, e.g. "183#0A0B".
func (f Frame) String() string {
	return fmt.Sprintf("%03X#%s", f.ID, strings.ToUpper(hex.EncodeToString(f.Data)))
}

// ParseFrame is the inverse of Frame.String.
func ParseFrame(s string) (Frame, error) {
	idPart, dataPart, ok := strings.Cut(strings.TrimSpace(s), "#")
	if !ok {
		return Frame{}, fmt.Errorf("%w: frame %q has no '#' separator", ErrValidation, s)
	}
	id, err := strconv.ParseUint(idPart, 16, 16)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: frame id %q: %v", ErrValidation, idPart, err)
	}
	data, err := hex.DecodeString(dataPart)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: frame data %q: %v", ErrValidation, dataPart, err)
	}
	f := Frame{ID: uint16(id), Data: data}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}
