package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.Name != "test" {
		t.Fatalf("app.name = %q", cfg.App.Name)
	}
	c := cfg.Connection
	if c.Adapter != "simulate" || c.Device != "/dev/ttyUSB0" || c.Bitrate != 125 ||
		c.Address != "localhost" || c.Port != 63349 || c.Timeout != 250*time.Millisecond || c.Attempts != 3 {
		t.Fatalf("connection defaults = %+v", c)
	}
	if cfg.Dictionary.Path == "" || cfg.Logging.Level != "info" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadSimulatedNodes(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
connection:
  adapter: simulate
  timeout: 100ms
simulate:
  nodes:
    - node_id: 0x10
      device_type: 0x30
      model: 0x000101
      parameters:
        - id: 387
          value: 112.5
          period: 200ms
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	settings := cfg.ConnectionSettings()
	if settings.Settings.Timeout != 100*time.Millisecond {
		t.Fatalf("timeout = %v", settings.Settings.Timeout)
	}
	nodes := settings.Settings.Nodes
	if len(nodes) != 1 {
		t.Fatalf("nodes = %+v", nodes)
	}
	n := nodes[0]
	if n.NodeID != 0x10 || n.DeviceType != 0x30 || n.Model != 0x101 {
		t.Fatalf("node = %+v", n)
	}
	if len(n.Parameters) != 1 || n.Parameters[0].ID != 387 || n.Parameters[0].Value != 112.5 || n.Parameters[0].Period != 200*time.Millisecond {
		t.Fatalf("parameters = %+v", n.Parameters)
	}
}

func TestLoadTimeoutForms(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  string
		want time.Duration
	}{
		{"duration string", "timeout: 250ms", "", 250 * time.Millisecond},
		{"float seconds", "timeout: 0.25", "", 250 * time.Millisecond},
		{"integer seconds", "timeout: 2", "", 2 * time.Second},
		{"env float seconds", "timeout: 1s", "0.5", 500 * time.Millisecond},
		{"env duration", "timeout: 1s", "75ms", 75 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv("CANFIX_CONNECTION_TIMEOUT", tt.env)
			}
			cfg, err := Load(writeConfig(t, "connection:\n  adapter: simulate\n  "+tt.yaml+"\n"))
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if cfg.Connection.Timeout != tt.want {
				t.Fatalf("timeout = %v, want %v", cfg.Connection.Timeout, tt.want)
			}
		})
	}

	// durations elsewhere keep their string form
	cfg, err := Load(writeConfig(t, "server:\n  read_timeout: 45s\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ReadTimeout != 45*time.Second {
		t.Fatalf("read timeout = %v", cfg.Server.ReadTimeout)
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("CANFIX_CONNECTION_ADAPTER", "easy")
	t.Setenv("CANFIX_CONNECTION_BITRATE", "500")

	cfg, err := Load(writeConfig(t, "connection:\n  adapter: canfixusb\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Connection.Adapter != "easy" || cfg.Connection.Bitrate != 500 {
		t.Fatalf("connection = %+v", cfg.Connection)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad level", "logging:\n  level: loud\n"},
		{"bad environment", "app:\n  environment: moon\n"},
		{"zero attempts", "connection:\n  attempts: -1\n"},
		{"bad capture direction", "capture:\n  direction: sideways\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
