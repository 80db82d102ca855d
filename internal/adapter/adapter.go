// internal/adapter/adapter.go
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"canfix-service/internal/canfix"
	serialtransport "canfix-service/internal/transport/serial"
	"canfix-service/pkg/can"
)

// Adapter types
const (
	TypeSimulated = "simulated"
	TypeSerial    = "serial"
	TypeNetwork   = "network"
)

// Adapter is a CAN bus transport: a simulated bus, a serial dongle or a
// remote service.
type Adapter interface {
	// Identity
	Name() string
	ShortName() string
	Type() string

	// Connection management
	Connect(ctx context.Context, config Config) error
	Disconnect() error
	IsConnected() bool

	// Bus channel
	Open(ctx context.Context) error
	Close(ctx context.Context) error

	// Frame I/O
	SendFrame(ctx context.Context, frame can.Frame) error
	RecvFrame(ctx context.Context) (can.Frame, error)

	// Error returns the last transport error seen, if any.
	Error() error
}

// Config is the adapter connection configuration. Zero fields take the
// values of DefaultConfig.
type Config struct {
	Device   string        `json:"device" mapstructure:"device"`
	Bitrate  int           `json:"bitrate" mapstructure:"bitrate"`
	Address  string        `json:"address" mapstructure:"address"`
	Port     int           `json:"port" mapstructure:"port"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
	Attempts int           `json:"attempts" mapstructure:"attempts"`
	Nodes    []NodeConfig  `json:"nodes" mapstructure:"nodes"`
}

// NodeConfig describes one node on the simulated bus.
type NodeConfig struct {
	NodeID     uint8                `json:"node_id" mapstructure:"node_id"`
	DeviceType uint8                `json:"device_type" mapstructure:"device_type"`
	FWRevision uint8                `json:"fw_revision" mapstructure:"fw_revision"`
	Model      uint32               `json:"model" mapstructure:"model"`
	Parameters []SimParameterConfig `json:"parameters" mapstructure:"parameters"`
}

// SimParameterConfig is a parameter a simulated node broadcasts every Period.
type SimParameterConfig struct {
	ID     uint16        `json:"id" mapstructure:"id"`
	Index  uint8         `json:"index" mapstructure:"index"`
	Value  float64       `json:"value" mapstructure:"value"`
	Period time.Duration `json:"period" mapstructure:"period"`
}

// DefaultConfig returns the per-field defaults.
func DefaultConfig() Config {
	return Config{
		Device:   "/dev/ttyUSB0",
		Bitrate:  125,
		Address:  "localhost",
		Port:     63349,
		Timeout:  250 * time.Millisecond,
		Attempts: 3,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Device == "" {
		c.Device = def.Device
	}
	if c.Bitrate == 0 {
		c.Bitrate = def.Bitrate
	}
	if c.Address == "" {
		c.Address = def.Address
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	if c.Attempts == 0 {
		c.Attempts = def.Attempts
	}
	return c
}

// Validate checks a defaulted configuration.
func (c Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", can.ErrValidation)
	}
	if c.Attempts < 1 {
		return fmt.Errorf("%w: attempts must be at least 1", can.ErrValidation)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", can.ErrValidation, c.Port)
	}

	seen := make(map[uint8]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.NodeID == 0 {
			return fmt.Errorf("%w: simulated node id must not be 0", can.ErrValidation)
		}
		if seen[n.NodeID] {
			return fmt.Errorf("%w: duplicate simulated node id %d", can.ErrValidation, n.NodeID)
		}
		seen[n.NodeID] = true
	}
	return nil
}

// Deps are the collaborators a factory hands to an adapter.
type Deps struct {
	Logger *zap.Logger
	// Codec encodes the parameters simulated nodes broadcast.
	Codec *canfix.Codec
	// OpenPort opens serial devices; nil means the real serial port.
	OpenPort serialtransport.Opener
	// Dialer dials the network adapter; nil means websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
