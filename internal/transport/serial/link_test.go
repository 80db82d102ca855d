package serial_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	serialtransport "canfix-service/internal/transport/serial"
	"canfix-service/internal/transport/serial/serialtest"
)

func TestLinkOpenWriteReadClose(t *testing.T) {
	port := serialtest.New()
	link, err := serialtransport.NewLink(&serialtransport.Config{
		Port:        "/dev/ttyTEST",
		BaudRate:    115200,
		ReadTimeout: 5 * time.Millisecond,
	}, zaptest.NewLogger(t), port.Opener())
	if err != nil {
		t.Fatalf("new link: %v", err)
	}

	ctx := context.Background()
	if err := link.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	if port.Path() != "/dev/ttyTEST" || port.Mode().BaudRate != 115200 {
		t.Fatalf("opened %q at %d", port.Path(), port.Mode().BaudRate)
	}

	if err := link.Write(ctx, []byte("O\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if w := port.Writes(); len(w) != 1 || w[0] != "O\n" {
		t.Fatalf("writes = %q", w)
	}

	buf := make([]byte, 16)
	n, err := link.Read(buf)
	if err != nil || n != 0 {
		t.Fatalf("idle read = %d, %v", n, err)
	}

	port.Feed("R183:01\n")
	n, err = link.Read(buf)
	if err != nil || string(buf[:n]) != "R183:01\n" {
		t.Fatalf("read = %q, %v", buf[:n], err)
	}

	if err := link.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !port.Closed() {
		t.Fatalf("port not closed")
	}
	if err := link.Write(ctx, []byte("x")); err == nil {
		t.Fatalf("write after close should fail")
	}
}

func TestLinkOpenFailure(t *testing.T) {
	port := serialtest.New()
	port.OpenErr = errors.New("no such device")
	link, err := serialtransport.NewLink(&serialtransport.Config{Port: "/dev/none"}, zaptest.NewLogger(t), port.Opener())
	if err != nil {
		t.Fatalf("new link: %v", err)
	}
	if err := link.Open(context.Background()); err == nil {
		t.Fatalf("expected open failure")
	}
	if link.IsOpen() {
		t.Fatalf("link reports open after failure")
	}
}

func TestNewLinkRequiresPort(t *testing.T) {
	if _, err := serialtransport.NewLink(&serialtransport.Config{}, zaptest.NewLogger(t), nil); err == nil {
		t.Fatalf("expected error for empty port")
	}
}
