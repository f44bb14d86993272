package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mvasquez/tradelink/internal/transport"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-client
  device_id: device-42
server:
  base_url: https://backend.test
  user_agent: tradelink-test/1.0
transports:
  order: [websocket, poll]
  connect_timeout: 3s
database:
  timescale:
    host: localhost
    port: 5432
    name: test_ts
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-client" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-client")
	}
	if cfg.Instance.DeviceID != "device-42" {
		t.Errorf("Instance.DeviceID = %q, want %q", cfg.Instance.DeviceID, "device-42")
	}
	if cfg.Server.BaseURL != "https://backend.test" {
		t.Errorf("Server.BaseURL = %q", cfg.Server.BaseURL)
	}
	if len(cfg.Transports.Order) != 2 || cfg.Transports.Order[0] != "websocket" {
		t.Errorf("Transports.Order = %v", cfg.Transports.Order)
	}
	if cfg.Transports.ConnectTimeout != 3*time.Second {
		t.Errorf("Transports.ConnectTimeout = %v", cfg.Transports.ConnectTimeout)
	}
	if cfg.Database.Timescale.Host != "localhost" {
		t.Errorf("Database.Timescale.Host = %q", cfg.Database.Timescale.Host)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: test-client
server:
  base_url: https://backend.test
database:
  timescale:
    host: localhost
    name: test_ts
    user: testuser
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Timescale.Password != "secret123" {
		t.Errorf("Database.Timescale.Password = %q, want %q", cfg.Database.Timescale.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-client
server:
  base_url: https://backend.test
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Instance.DeviceID != "test-client" {
		t.Errorf("Instance.DeviceID = %q, want instance id", cfg.Instance.DeviceID)
	}
	if cfg.Server.TokenEnv != DefaultTokenEnv {
		t.Errorf("Server.TokenEnv = %q, want default %q", cfg.Server.TokenEnv, DefaultTokenEnv)
	}
	if len(cfg.Transports.Order) != 3 {
		t.Errorf("Transports.Order = %v, want full failover order", cfg.Transports.Order)
	}
	if cfg.Heartbeat.Interval != DefaultHeartbeatInterval {
		t.Errorf("Heartbeat.Interval = %v, want default %v", cfg.Heartbeat.Interval, DefaultHeartbeatInterval)
	}
	if cfg.Backoff.JitterFactor != DefaultJitterFactor {
		t.Errorf("Backoff.JitterFactor = %g, want default %g", cfg.Backoff.JitterFactor, DefaultJitterFactor)
	}
	if cfg.Breaker.FailureThreshold != DefaultBreakerThreshold {
		t.Errorf("Breaker.FailureThreshold = %d, want default %d", cfg.Breaker.FailureThreshold, DefaultBreakerThreshold)
	}
	if cfg.Requests.Timeout != DefaultRequestTimeout {
		t.Errorf("Requests.Timeout = %v, want default %v", cfg.Requests.Timeout, DefaultRequestTimeout)
	}
	if cfg.Database.Timescale.Port != DefaultDBPort {
		t.Errorf("Database.Timescale.Port = %d, want default %d", cfg.Database.Timescale.Port, DefaultDBPort)
	}
}

func TestValidate(t *testing.T) {
	valid := func() ClientConfig {
		return ClientConfig{
			Instance: InstanceConfig{ID: "test"},
			Server:   ServerConfig{BaseURL: "https://backend.test"},
		}
	}

	tests := []struct {
		name    string
		cfg     ClientConfig
		wantErr string
	}{
		{
			name:    "missing instance id",
			cfg:     ClientConfig{},
			wantErr: "instance.id is required",
		},
		{
			name: "missing base url",
			cfg: ClientConfig{
				Instance: InstanceConfig{ID: "test"},
			},
			wantErr: "server.base_url is required",
		},
		{
			name: "unknown transport",
			cfg: func() ClientConfig {
				c := valid()
				c.Transports.Order = []string{"websocket", "carrier-pigeon"}
				return c
			}(),
			wantErr: `transports.order: unknown transport "carrier-pigeon"`,
		},
		{
			name: "jitter out of range",
			cfg: func() ClientConfig {
				c := valid()
				c.Backoff.JitterFactor = 1.5
				return c
			}(),
			wantErr: "backoff.jitter_factor must be between 0 and 1, got 1.5",
		},
		{
			name: "inverted quality thresholds",
			cfg: func() ClientConfig {
				c := valid()
				c.Heartbeat.GoodThreshold = 500 * time.Millisecond
				c.Heartbeat.DegradedThreshold = 300 * time.Millisecond
				return c
			}(),
			wantErr: "heartbeat.good_threshold cannot exceed degraded_threshold",
		},
		{
			name: "journal without database",
			cfg: func() ClientConfig {
				c := valid()
				c.Journal.Enabled = true
				return c
			}(),
			wantErr: "database.timescale.host is required",
		},
		{
			name:    "valid config",
			cfg:     valid(),
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestManagerConfig(t *testing.T) {
	yaml := `
instance:
  id: test-client
server:
  base_url: https://backend.test
  user_agent: tradelink-test/1.0
transports:
  order: [sse]
heartbeat:
  interval: 20s
requests:
  timeout: 4s
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	mc := cfg.ManagerConfig(nil)
	if mc.Transport.BaseURL != "https://backend.test" {
		t.Errorf("Transport.BaseURL = %q", mc.Transport.BaseURL)
	}
	if mc.Transport.DeviceID != "test-client" {
		t.Errorf("Transport.DeviceID = %q", mc.Transport.DeviceID)
	}
	if len(mc.TransportOrder) != 1 || mc.TransportOrder[0] != transport.KindSSE {
		t.Errorf("TransportOrder = %v", mc.TransportOrder)
	}
	if mc.Heartbeat.Interval != 20*time.Second {
		t.Errorf("Heartbeat.Interval = %v", mc.Heartbeat.Interval)
	}
	if mc.RequestTimeout != 4*time.Second {
		t.Errorf("RequestTimeout = %v", mc.RequestTimeout)
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
