// internal/transport/serial/serialtest/port.go
// Package serialtest provides an in-memory serial port for adapter tests.
package serialtest

import (
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"

	serialtransport "canfix-service/internal/transport/serial"
)

// ErrClosed is returned by reads and writes on a closed port.
var ErrClosed = errors.New("serialtest: port closed")

// Port is a scripted serial port. Bytes queued with Feed are returned by
// Read; every Write is recorded and handed to OnWrite, which may Feed a
// reply.
type Port struct {
	// OnWrite, when set, is called after every write.
	OnWrite func(p *Port, data []byte)
	// OpenErr is returned by the opener instead of the port.
	OpenErr error

	mu          sync.Mutex
	incoming    chan []byte
	pending     []byte
	readTimeout time.Duration
	writes      []string
	path        string
	mode        *serial.Mode
	closed      bool
	closeCh     chan struct{}
}

// New creates an open port with a 10ms read timeout.
func New() *Port {
	return &Port{
		incoming:    make(chan []byte, 256),
		readTimeout: 10 * time.Millisecond,
		closeCh:     make(chan struct{}),
	}
}

// Opener returns an opener that hands out this port.
func (p *Port) Opener() serialtransport.Opener {
	return func(path string, mode *serial.Mode) (serialtransport.Port, error) {
		if p.OpenErr != nil {
			return nil, p.OpenErr
		}
		p.mu.Lock()
		p.path = path
		p.mode = mode
		p.mu.Unlock()
		return p, nil
	}
}

// Feed queues bytes for Read.
func (p *Port) Feed(s string) {
	p.incoming <- []byte(s)
}

// Writes returns everything written so far, one entry per Write call.
func (p *Port) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.writes))
	copy(out, p.writes)
	return out
}

// Path returns the device path the port was opened with.
func (p *Port) Path() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.path
}

// Mode returns the mode the port was opened with.
func (p *Port) Mode() *serial.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Closed reports whether Close was called.
func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	if len(p.pending) > 0 {
		n := copy(buf, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	timeout := p.readTimeout
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-p.incoming:
		n := copy(buf, data)
		if n < len(data) {
			p.mu.Lock()
			p.pending = append(p.pending, data[n:]...)
			p.mu.Unlock()
		}
		return n, nil
	case <-timer.C:
		return 0, nil
	case <-p.closeCh:
		return 0, ErrClosed
	}
}

func (p *Port) Write(data []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	p.writes = append(p.writes, string(data))
	hook := p.OnWrite
	p.mu.Unlock()

	if hook != nil {
		hook(p, append([]byte(nil), data...))
	}
	return len(data), nil
}

func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t
	return nil
}

func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.closeCh)
	}
	return nil
}
