// internal/adapter/dongle.go
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	serialtransport "canfix-service/internal/transport/serial"
	"canfix-service/pkg/can"
)

const (
	dongleBaudRate  = 115200
	dongleReadPoll  = 50 * time.Millisecond
	frameQueueSize  = 256
	replyQueueSize  = 16
	maxLineLength   = 64
	closeBusTimeout = time.Second
)

// dialect is the ASCII command set of one dongle family.
type dialect struct {
	name      string
	shortName string

	terminator byte
	// ignored bytes are dropped from the stream
	ignored byte
	// bell, when non-zero, is an error reply that carries no terminator
	bell byte

	reset      command
	open       command
	close      command
	bitrate    func(kbps int) (command, error)
	send       func(frame can.Frame) command
	isFrame    func(line string) bool
	isError    func(line string) bool
	parseFrame func(line string) (can.Frame, error)
}

// command is one request line and the predicate its reply must satisfy.
type command struct {
	text   string
	accept func(line string) bool
}

// dongle drives a serial CAN dongle. A single reader goroutine splits
// the byte stream into lines: frame lines go to frames and, while a
// command is in flight, everything else goes to replies. Outside an
// exchange any other non-empty line is handed to RecvFrame, which reports
// it as a protocol error.
type dongle struct {
	dialect *dialect
	deps    Deps
	logger  *zap.Logger

	// cmdMu serializes request/response exchanges
	cmdMu    sync.Mutex
	inFlight atomic.Bool

	mu        sync.RWMutex
	config    Config
	link      *serialtransport.Link
	connected bool
	lastErr   error
	frames    chan string
	replies   chan string
	stop      chan struct{}
	done      chan struct{}
}

func newDongle(d *dialect, deps Deps) *dongle {
	return &dongle{
		dialect: d,
		deps:    deps,
		logger:  deps.logger().With(zap.String("adapter", d.shortName)),
	}
}

func (d *dongle) Name() string      { return d.dialect.name }
func (d *dongle) ShortName() string { return d.dialect.shortName }
func (d *dongle) Type() string      { return TypeSerial }

// Connect opens the serial port, resets the dongle, sets the bitrate and
// opens the bus channel.
func (d *dongle) Connect(ctx context.Context, config Config) error {
	d.mu.Lock()
	if d.connected {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s already connected", can.ErrInitialization, d.dialect.shortName)
	}
	d.mu.Unlock()

	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return err
	}
	setBitrate, err := d.dialect.bitrate(config.Bitrate)
	if err != nil {
		return err
	}

	device := config.Device
	if device == serialtransport.AutoDevice {
		device, err = serialtransport.Detect()
		if err != nil {
			return fmt.Errorf("%w: %v", can.ErrInitialization, err)
		}
		d.logger.Info("Detected serial adapter", zap.String("device", device))
	}

	link, err := serialtransport.NewLink(&serialtransport.Config{
		Port:        device,
		BaudRate:    dongleBaudRate,
		ReadTimeout: dongleReadPoll,
	}, d.logger, d.deps.OpenPort)
	if err != nil {
		return fmt.Errorf("%w: %v", can.ErrInitialization, err)
	}
	if err := link.Open(ctx); err != nil {
		return fmt.Errorf("%w: %v", can.ErrInitialization, err)
	}

	d.mu.Lock()
	d.config = config
	d.link = link
	d.lastErr = nil
	d.frames = make(chan string, frameQueueSize)
	d.replies = make(chan string, replyQueueSize)
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.readLoop(link, d.frames, d.replies, d.stop, d.done)

	for _, step := range []struct {
		name string
		cmd  command
	}{
		{"reset", d.dialect.reset},
		{"bitrate", setBitrate},
		{"open", d.dialect.open},
	} {
		if err := d.exchange(ctx, step.cmd); err != nil {
			d.teardown()
			d.logger.Error("Adapter initialization failed", zap.String("step", step.name), zap.Error(err))
			return fmt.Errorf("%w: %s %s: %v", can.ErrInitialization, d.dialect.shortName, step.name, err)
		}
	}

	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()

	d.logger.Info("Adapter connected",
		zap.String("device", device),
		zap.Int("bitrate", config.Bitrate),
		zap.Duration("timeout", config.Timeout),
		zap.Int("attempts", config.Attempts),
	)
	return nil
}

// Disconnect closes the bus channel and the serial port. It is a no-op
// when not connected.
func (d *dongle) Disconnect() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}
	d.connected = false
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeBusTimeout)
	defer cancel()
	if err := d.exchange(ctx, d.dialect.close); err != nil {
		d.logger.Warn("Failed to close bus channel", zap.Error(err))
	}

	err := d.teardown()
	d.logger.Info("Adapter disconnected")
	return err
}

func (d *dongle) teardown() error {
	d.mu.Lock()
	link, stop, done := d.link, d.stop, d.done
	d.link = nil
	d.mu.Unlock()

	if link == nil {
		return nil
	}
	close(stop)
	err := link.Close()
	<-done
	if err != nil {
		return fmt.Errorf("%w: %v", can.ErrTransport, err)
	}
	return nil
}

func (d *dongle) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// Open opens the bus channel.
func (d *dongle) Open(ctx context.Context) error {
	if !d.IsConnected() {
		return fmt.Errorf("%w: %s not connected", can.ErrInitialization, d.dialect.shortName)
	}
	return d.exchange(ctx, d.dialect.open)
}

// Close closes the bus channel; the serial port stays open.
func (d *dongle) Close(ctx context.Context) error {
	if !d.IsConnected() {
		return fmt.Errorf("%w: %s not connected", can.ErrInitialization, d.dialect.shortName)
	}
	return d.exchange(ctx, d.dialect.close)
}

// SendFrame writes a frame and waits for the transmit acknowledgement,
// retrying up to the configured attempts.
func (d *dongle) SendFrame(ctx context.Context, frame can.Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	if !d.IsConnected() {
		return fmt.Errorf("%w: %s not connected", can.ErrInitialization, d.dialect.shortName)
	}

	if err := d.exchange(ctx, d.dialect.send(frame)); err != nil {
		d.setError(err)
		return err
	}
	return nil
}

// RecvFrame waits up to the configured timeout for a received frame.
func (d *dongle) RecvFrame(ctx context.Context) (can.Frame, error) {
	d.mu.RLock()
	connected, frames, done, timeout := d.connected, d.frames, d.done, d.config.Timeout
	d.mu.RUnlock()

	if !connected {
		return can.Frame{}, fmt.Errorf("%w: %s not connected", can.ErrInitialization, d.dialect.shortName)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line := <-frames:
		frame, err := d.dialect.parseFrame(line)
		if err != nil {
			err = fmt.Errorf("%w: bad frame line %q: %v", can.ErrTransport, line, err)
			d.setError(err)
			return can.Frame{}, err
		}
		return frame, nil
	case <-timer.C:
		return can.Frame{}, can.ErrDeviceTimeout
	case <-done:
		return can.Frame{}, fmt.Errorf("%w: %s reader stopped: %v", can.ErrTransport, d.dialect.shortName, d.Error())
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	}
}

func (d *dongle) Error() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

func (d *dongle) setError(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
}

// exchange writes a command and waits for an accepted reply. Timeouts,
// device errors and unexpected replies are retried; the last failure is
// reported as a transport error once attempts run out.
func (d *dongle) exchange(ctx context.Context, cmd command) error {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()
	d.inFlight.Store(true)
	defer d.inFlight.Store(false)

	d.mu.RLock()
	link, replies, done := d.link, d.replies, d.done
	attempts, timeout := d.config.Attempts, d.config.Timeout
	d.mu.RUnlock()

	if link == nil {
		return fmt.Errorf("%w: %s port not open", can.ErrInitialization, d.dialect.shortName)
	}

	request := append([]byte(cmd.text), d.dialect.terminator)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		drain(replies)

		if err := link.Write(ctx, request); err != nil {
			return fmt.Errorf("%w: %v", can.ErrTransport, err)
		}

		line, err := awaitReply(ctx, replies, done, timeout)
		switch {
		case err != nil && !errors.Is(err, can.ErrDeviceTimeout):
			return err
		case err != nil:
			lastErr = err
		case cmd.accept(line):
			return nil
		case d.dialect.isError(line):
			lastErr = fmt.Errorf("device reported error for %q", cmd.text)
		default:
			lastErr = fmt.Errorf("unexpected reply %q to %q", line, cmd.text)
		}

		d.logger.Debug("Command not acknowledged",
			zap.String("command", cmd.text),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}
	return fmt.Errorf("%w: %q failed after %d attempts: %v", can.ErrTransport, cmd.text, attempts, lastErr)
}

func awaitReply(ctx context.Context, replies <-chan string, done <-chan struct{}, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line := <-replies:
		return line, nil
	case <-timer.C:
		return "", can.ErrDeviceTimeout
	case <-done:
		return "", fmt.Errorf("%w: serial reader stopped", can.ErrTransport)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func drain(replies <-chan string) {
	for {
		select {
		case <-replies:
		default:
			return
		}
	}
}

// readLoop splits the serial byte stream into lines and routes them.
func (d *dongle) readLoop(link *serialtransport.Link, frames, replies chan<- string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, 128)
	line := make([]byte, 0, maxLineLength)

	route := func(s string) {
		if d.dialect.isFrame(s) || (s != "" && !d.inFlight.Load()) {
			select {
			case frames <- s:
			default:
				d.logger.Warn("Frame queue full, dropping frame", zap.String("line", s))
			}
			return
		}
		if !d.inFlight.Load() {
			return
		}
		select {
		case replies <- s:
		default:
			d.logger.Warn("Dropping unsolicited reply", zap.String("line", s))
		}
	}

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := link.Read(buf)
		if err != nil {
			select {
			case <-stop:
			default:
				d.logger.Error("Serial read failed", zap.Error(err))
				d.setError(fmt.Errorf("%w: %v", can.ErrTransport, err))
			}
			return
		}

		for _, b := range buf[:n] {
			switch {
			case b == d.dialect.ignored:
			case b == d.dialect.terminator:
				route(string(line))
				line = line[:0]
			case d.dialect.bell != 0 && b == d.dialect.bell:
				line = line[:0]
				route(string(b))
			case len(line) >= maxLineLength:
				d.logger.Warn("Discarding overlong serial line", zap.ByteString("line", line))
				line = line[:0]
			default:
				line = append(line, b)
			}
		}
	}
}
