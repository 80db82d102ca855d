// internal/transport/serial/link.go
package serial

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Port is the part of serial.Port the dongle adapters rely on.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Opener opens a port by path. Tests swap in an in-memory port.
type Opener func(path string, mode *serial.Mode) (Port, error)

// OpenPort opens a real serial device.
func OpenPort(path string, mode *serial.Mode) (Port, error) {
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// Config represents serial port configuration
type Config struct {
	Port        string        `json:"port"`
	BaudRate    int           `json:"baud_rate"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

// Link is a byte-oriented serial connection with a bounded read.
type Link struct {
	config *Config
	open   Opener
	port   Port
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
}

// NewLink creates a link; nothing is opened until Open.
func NewLink(config *Config, logger *zap.Logger, open Opener) (*Link, error) {
	if config.Port == "" {
		return nil, fmt.Errorf("port is required")
	}
	if open == nil {
		open = OpenPort
	}

	return &Link{
		config: config,
		open:   open,
		logger: logger.With(zap.String("port", config.Port)),
	}, nil
}

// Open opens the serial port with 8N1 framing.
func (l *Link) Open(ctx context.Context) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.isOpen {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	mode := &serial.Mode{
		BaudRate: l.config.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := l.open(l.config.Port, mode)
	if err != nil {
		l.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	if err := port.SetReadTimeout(l.config.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	// stale bytes from a previous session would confuse the line parser
	if err := port.ResetInputBuffer(); err != nil {
		l.logger.Warn("Failed to flush serial input", zap.Error(err))
	}

	l.port = port
	l.isOpen = true

	l.logger.Info("Serial port opened successfully",
		zap.Int("baud_rate", l.config.BaudRate),
		zap.Duration("read_timeout", l.config.ReadTimeout),
	)
	return nil
}

// Close closes the serial port. Closing a closed link is a no-op.
func (l *Link) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if !l.isOpen || l.port == nil {
		return nil
	}

	err := l.port.Close()
	l.port = nil
	l.isOpen = false

	if err != nil {
		l.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	l.logger.Info("Serial port closed")
	return nil
}

// Write writes all of data to the port.
func (l *Link) Write(ctx context.Context, data []byte) error {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if !l.isOpen || l.port == nil {
		return fmt.Errorf("port not open")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	n, err := l.port.Write(data)
	if err != nil {
		l.logger.Error("Failed to write to serial port",
			zap.Error(err),
			zap.Int("bytes_to_write", len(data)),
		)
		return fmt.Errorf("failed to write to serial port: %w", err)
	}

	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	l.logger.Debug("Data written to serial port", zap.ByteString("data", data))
	return nil
}

// Read reads whatever arrives within the configured read timeout.
// A timeout yields 0 bytes and a nil error.
func (l *Link) Read(buf []byte) (int, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if !l.isOpen || l.port == nil {
		return 0, fmt.Errorf("port not open")
	}

	n, err := l.port.Read(buf)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("failed to read from serial port: %w", err)
	}
	return n, nil
}

// IsOpen returns whether the port is open
func (l *Link) IsOpen() bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.isOpen
}
