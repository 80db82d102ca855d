// internal/capture/capture.go
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"

	"canfix-service/internal/connection"
	"canfix-service/pkg/can"
)

// LinkTypeSocketCAN is LINKTYPE_CAN_SOCKETCAN.
const LinkTypeSocketCAN = layers.LinkType(227)

// SocketCAN record layout: 4 byte big-endian id, length, 3 reserved
// bytes, 8 data bytes.
const (
	recordSize = 16
	snapLen    = recordSize
)

// Record is one captured frame.
type Record struct {
	Time  time.Time `json:"time"`
	Frame can.Frame `json:"frame"`
}

// Writer appends frames to a pcap stream. It implements
// connection.FrameRecorder.
type Writer struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
	logger *zap.Logger
	count  int
	// Direction, when set, limits recording to one direction.
	Direction connection.Direction
}

// NewWriter writes the pcap file header to w.
func NewWriter(w io.Writer, logger *zap.Logger) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, LinkTypeSocketCAN); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{w: pw, logger: logger}, nil
}

// Create creates a capture file at path.
func Create(path string, logger *zap.Logger) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	w, err := NewWriter(f, logger.With(zap.String("capture", path)))
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	w.logger.Info("Frame capture started")
	return w, nil
}

// WriteFrame appends one frame.
func (w *Writer) WriteFrame(frame can.Frame, at time.Time) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	data := encodeRecord(frame)

	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     at,
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
	if err != nil {
		return fmt.Errorf("failed to write capture record: %w", err)
	}
	w.count++
	return nil
}

// RecordFrame writes a frame seen by a connection worker. Write failures
// are logged.
func (w *Writer) RecordFrame(direction connection.Direction, frame can.Frame, at time.Time) {
	if w.Direction != "" && w.Direction != direction {
		return
	}
	if err := w.WriteFrame(frame, at); err != nil {
		w.logger.Warn("Failed to capture frame", zap.Stringer("frame", frame), zap.Error(err))
	}
}

// Count returns the number of frames written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close closes the file opened by Create.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closer == nil {
		return nil
	}
	err := w.closer.Close()
	w.closer = nil
	w.logger.Info("Frame capture closed", zap.Int("frames", w.count))
	return err
}

// ReadAll reads every frame from a SocketCAN pcap stream.
func ReadAll(r io.Reader) ([]Record, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	if reader.LinkType() != LinkTypeSocketCAN {
		return nil, fmt.Errorf("%w: capture link type %d is not SocketCAN", can.ErrValidation, reader.LinkType())
	}

	var records []Record
	for {
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("failed to read capture record: %w", err)
		}

		frame, err := decodeRecord(data)
		if err != nil {
			return records, err
		}
		records = append(records, Record{Time: ci.Timestamp, Frame: frame})
	}
}

// ReadFile reads every frame from a capture file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAll(f)
}

func encodeRecord(frame can.Frame) []byte {
	data := make([]byte, recordSize)
	binary.BigEndian.PutUint32(data[0:4], uint32(frame.ID))
	data[4] = byte(len(frame.Data))
	copy(data[8:], frame.Data)
	return data
}

func decodeRecord(data []byte) (can.Frame, error) {
	if len(data) < 8 {
		return can.Frame{}, fmt.Errorf("%w: capture record of %d bytes", can.ErrValidation, len(data))
	}
	// extended, RTR and error frames are not CAN-FIX traffic
	id := binary.BigEndian.Uint32(data[0:4])
	if id > can.MaxID {
		return can.Frame{}, fmt.Errorf("%w: capture id %#x is not a standard frame", can.ErrValidation, id)
	}
	n := int(data[4])
	if n > can.MaxDataLen || 8+n > len(data) {
		return can.Frame{}, fmt.Errorf("%w: capture record length %d", can.ErrValidation, n)
	}
	return can.NewFrame(uint16(id), data[8:8+n]...), nil
}
