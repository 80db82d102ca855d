package adapter

import (
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"canfix-service/pkg/can"
)

func TestDefaultRegistry(t *testing.T) {
	registry := NewDefaultRegistry(zaptest.NewLogger(t))

	tests := []struct {
		name      string
		shortName string
		kind      string
	}{
		{"simulate", "simulate", TypeSimulated},
		{"CanFixUsb", "canfixusb", TypeSerial},
		{"EASY", "easy", TypeSerial},
		{"network", "network", TypeNetwork},
	}

	for _, tt := range tests {
		a, err := registry.Create(tt.name, Deps{})
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if a.ShortName() != tt.shortName || a.Type() != tt.kind {
			t.Fatalf("%s created %s (%s)", tt.name, a.ShortName(), a.Type())
		}
		if a.IsConnected() {
			t.Fatalf("%s starts connected", tt.name)
		}
	}

	want := []string{"canfixusb", "easy", "network", "simulate"}
	got := registry.Names()
	if len(got) != len(want) {
		t.Fatalf("names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names = %v, want %v", got, want)
		}
	}
}

func TestRegistryUnknownAdapter(t *testing.T) {
	registry := NewDefaultRegistry(zaptest.NewLogger(t))

	if registry.IsSupported("socketcan") {
		t.Fatalf("socketcan reported as supported")
	}
	if _, err := registry.Create("socketcan", Deps{}); !errors.Is(err, can.ErrLookup) {
		t.Fatalf("err = %v, want lookup error", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{Bitrate: 500}.WithDefaults()

	def := DefaultConfig()
	if c.Bitrate != 500 {
		t.Fatalf("bitrate overwritten: %d", c.Bitrate)
	}
	if c.Device != def.Device || c.Port != def.Port || c.Timeout != def.Timeout || c.Attempts != def.Attempts || c.Address != def.Address {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	bad := c
	bad.Port = 70000
	if err := bad.Validate(); !errors.Is(err, can.ErrValidation) {
		t.Fatalf("port 70000: %v", err)
	}
}
