package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"canfix-service/internal/canfix"
	"canfix-service/internal/dictionary"
	"canfix-service/pkg/can"
)

func testCodec(t *testing.T) *canfix.Codec {
	t.Helper()
	dict, err := dictionary.Load("../dictionary/testdata/canfix.yaml")
	if err != nil {
		t.Fatalf("load dictionary: %v", err)
	}
	return canfix.NewCodec(dict)
}

func connectSimulate(t *testing.T, config Config) *Simulate {
	t.Helper()
	a := NewSimulate(Deps{Logger: zaptest.NewLogger(t), Codec: testCodec(t)}).(*Simulate)
	if err := a.Connect(context.Background(), config); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { a.Disconnect() })
	return a
}

func TestSimulateNodeIdentification(t *testing.T) {
	const nodeID = 0x12
	a := connectSimulate(t, Config{
		Timeout: 50 * time.Millisecond,
		Nodes: []NodeConfig{
			{NodeID: nodeID, DeviceType: 0x30, FWRevision: 0x02, Model: 0x0A0B0C},
			{NodeID: 0x13, DeviceType: 0x40},
		},
	})
	ctx := context.Background()

	request := can.NewFrame(0x700+nodeID, byte(canfix.NodeIdentification), 0)
	if err := a.SendFrame(ctx, request); err != nil {
		t.Fatalf("send: %v", err)
	}

	reply, err := a.RecvFrame(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if reply.ID != nodeID+0x700 {
		t.Fatalf("reply id = %#x, want %#x", reply.ID, nodeID+0x700)
	}
	want := []byte{0x00, 0x30, 0x02, 0x0C, 0x0B, 0x0A}
	if !reply.Equal(can.NewFrame(reply.ID, want...)) {
		t.Fatalf("reply = %s, want data % X", reply, want)
	}

	// only the addressed node answers
	if _, err := a.RecvFrame(ctx); !errors.Is(err, can.ErrDeviceTimeout) {
		t.Fatalf("second recv err = %v, want device timeout", err)
	}
}

func TestSimulateNodeIDSet(t *testing.T) {
	a := connectSimulate(t, Config{
		Timeout: 50 * time.Millisecond,
		Nodes:   []NodeConfig{{NodeID: 0x20}},
	})
	ctx := context.Background()

	if err := a.SendFrame(ctx, can.NewFrame(0x720, byte(canfix.NodeIDSet), 0, 0x21)); err != nil {
		t.Fatalf("send: %v", err)
	}
	reply, err := a.RecvFrame(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if !reply.Equal(can.NewFrame(0x721, byte(canfix.NodeIDSet), 0x00)) {
		t.Fatalf("reply = %s", reply)
	}
	if got := a.Nodes()[0].ID(); got != 0x21 {
		t.Fatalf("node id = %#x, want 0x21", got)
	}

	// the old address is gone
	if err := a.SendFrame(ctx, can.NewFrame(0x720, byte(canfix.NodeIdentification), 0)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := a.RecvFrame(ctx); !errors.Is(err, can.ErrDeviceTimeout) {
		t.Fatalf("recv err = %v, want device timeout", err)
	}
}

func TestSimulateParameterBroadcast(t *testing.T) {
	codec := testCodec(t)
	a := connectSimulate(t, Config{
		Timeout: 200 * time.Millisecond,
		Nodes: []NodeConfig{{
			NodeID: 0x05,
			Parameters: []SimParameterConfig{
				{ID: 387, Value: 123.4, Period: 10 * time.Millisecond},
			},
		}},
	})
	ctx := context.Background()

	time.Sleep(20 * time.Millisecond)
	frame, err := a.RecvFrame(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}

	msg, err := codec.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p, ok := msg.(*canfix.Parameter)
	if !ok {
		t.Fatalf("decoded %T, want *canfix.Parameter", msg)
	}
	if p.ID != 387 || p.Node != 0x05 || p.Value != 123.4 {
		t.Fatalf("parameter = %+v", p)
	}
}

func TestSimulateDisableParameter(t *testing.T) {
	a := connectSimulate(t, Config{
		Timeout: 30 * time.Millisecond,
		Nodes: []NodeConfig{{
			NodeID:     0x05,
			Parameters: []SimParameterConfig{{ID: 387, Value: 100, Period: time.Millisecond}},
		}},
	})
	ctx := context.Background()

	if err := a.SendFrame(ctx, can.NewFrame(0x705, byte(canfix.DisableParameter), 0, 0x83, 0x01)); err != nil {
		t.Fatalf("send: %v", err)
	}
	reply, err := a.RecvFrame(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if !reply.Equal(can.NewFrame(0x705, byte(canfix.DisableParameter), 0x00)) {
		t.Fatalf("reply = %s", reply)
	}

	time.Sleep(5 * time.Millisecond)
	if f, err := a.RecvFrame(ctx); !errors.Is(err, can.ErrDeviceTimeout) {
		t.Fatalf("recv = %s, %v; want device timeout", f, err)
	}
}

func TestSimulateStateErrors(t *testing.T) {
	a := NewSimulate(Deps{Logger: zaptest.NewLogger(t)})
	ctx := context.Background()

	if err := a.SendFrame(ctx, can.NewFrame(0x700)); !errors.Is(err, can.ErrInitialization) {
		t.Fatalf("send before connect: %v", err)
	}
	if _, err := a.RecvFrame(ctx); !errors.Is(err, can.ErrInitialization) {
		t.Fatalf("recv before connect: %v", err)
	}
	if err := a.Disconnect(); err != nil {
		t.Fatalf("disconnect before connect: %v", err)
	}

	if err := a.Connect(ctx, Config{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := a.Connect(ctx, Config{}); !errors.Is(err, can.ErrInitialization) {
		t.Fatalf("double connect: %v", err)
	}
	if err := a.SendFrame(ctx, can.Frame{ID: 4000}); !errors.Is(err, can.ErrValidation) {
		t.Fatalf("bad id: %v", err)
	}

	if err := a.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.SendFrame(ctx, can.NewFrame(0x700)); !errors.Is(err, can.ErrTransport) {
		t.Fatalf("send on closed bus: %v", err)
	}
	if err := a.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := a.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := a.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
}

func TestSimulateRejectsDuplicateNodes(t *testing.T) {
	a := NewSimulate(Deps{Logger: zaptest.NewLogger(t)})
	err := a.Connect(context.Background(), Config{Nodes: []NodeConfig{{NodeID: 1}, {NodeID: 1}}})
	if !errors.Is(err, can.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestSimulateRecvHonoursContext(t *testing.T) {
	a := connectSimulate(t, Config{Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.RecvFrame(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
