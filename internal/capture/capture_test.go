package capture

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap/zaptest"

	"canfix-service/internal/connection"
	"canfix-service/pkg/can"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	frames := []can.Frame{
		can.NewFrame(0x183, 0x01, 0x00, 0x00, 0xD2, 0x04),
		can.NewFrame(0x700),
		can.NewFrame(0x7FF, 1, 2, 3, 4, 5, 6, 7, 8),
	}
	for i, f := range frames {
		if err := w.WriteFrame(f, base.Add(time.Duration(i)*time.Millisecond)); err != nil {
			t.Fatalf("write %s: %v", f, err)
		}
	}
	if w.Count() != len(frames) {
		t.Fatalf("count = %d", w.Count())
	}

	records, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != len(frames) {
		t.Fatalf("read %d records, want %d", len(records), len(frames))
	}
	for i, r := range records {
		if !r.Frame.Equal(frames[i]) {
			t.Fatalf("record %d = %s, want %s", i, r.Frame, frames[i])
		}
		if !r.Time.Equal(base.Add(time.Duration(i) * time.Millisecond)) {
			t.Fatalf("record %d time = %v", i, r.Time)
		}
	}
}

func TestRecordLayout(t *testing.T) {
	got := encodeRecord(can.NewFrame(0x183, 0xAA, 0xBB))
	want := []byte{0x00, 0x00, 0x01, 0x83, 0x02, 0, 0, 0, 0xAA, 0xBB, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("record = % X, want % X", got, want)
	}
}

func TestRecorderDirectionFilter(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.Direction = connection.Inbound

	now := time.Now()
	w.RecordFrame(connection.Outbound, can.NewFrame(0x100), now)
	w.RecordFrame(connection.Inbound, can.NewFrame(0x101), now)

	if w.Count() != 1 {
		t.Fatalf("count = %d, want 1", w.Count())
	}
}

func TestReadRejectsOtherLinkTypes(t *testing.T) {
	var buf bytes.Buffer
	if err := pcapgo.NewWriter(&buf).WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("header: %v", err)
	}
	if _, err := ReadAll(&buf); !errors.Is(err, can.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestCreateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.pcap")
	w, err := Create(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.WriteFrame(can.NewFrame(0x200, 9), time.Now()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	records, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 1 || !records[0].Frame.Equal(can.NewFrame(0x200, 9)) {
		t.Fatalf("records = %+v", records)
	}
}
