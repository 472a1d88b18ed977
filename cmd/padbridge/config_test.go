package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Transport.SignalR.URL = "http://127.0.0.1:5000/joystickhub"
	return cfg
}

func TestDefaultConfig_NeedsOnlyHubURL(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("default config without hub url validated")
	}
	cfg = validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Pump.TickPeriod != 16*time.Millisecond || cfg.Pump.IdleThreshold != 150*time.Millisecond {
		t.Fatalf("pump defaults = %+v", cfg.Pump)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "padbridge.yaml")
	yml := `
pump:
  tick_period: 10ms
  idle_threshold: 200ms
mapping:
  x: 2
transport:
  kind: mqtt
mqtt:
  broker:
    url: tcp://broker:1883
  samples_topic: pads/in
actuator:
  kinds: [log, mqtt]
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Pump.TickPeriod != 10*time.Millisecond || cfg.Pump.IdleThreshold != 200*time.Millisecond {
		t.Errorf("pump = %+v", cfg.Pump)
	}
	// Unset keys keep their defaults.
	if cfg.Pump.ActuationTimeout != 50*time.Millisecond {
		t.Errorf("actuation_timeout = %v, want default", cfg.Pump.ActuationTimeout)
	}
	if cfg.Mapping.X != 2 || cfg.Mapping.Y != 1 || cfg.Mapping.Up != 12 {
		t.Errorf("mapping = %+v", cfg.Mapping)
	}
	if cfg.MQTT.SamplesTopic != "pads/in" || cfg.MQTT.Broker.URL != "tcp://broker:1883" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if strings.Join(cfg.Actuator.Kinds, ",") != "log,mqtt" {
		t.Errorf("actuator kinds = %v", cfg.Actuator.Kinds)
	}
}

func TestParseConfig_RejectsUnknownFieldsAndTrailingDocuments(t *testing.T) {
	if _, err := parseConfig([]byte("pump:\n  tick_rate: 10ms\n")); err == nil {
		t.Error("unknown field accepted")
	}
	if _, err := parseConfig([]byte("logging:\n  level: info\n---\nlogging:\n  level: debug\n")); err == nil {
		t.Error("trailing document accepted")
	}
}

func TestLoadConfigFile_EmptyPath(t *testing.T) {
	if _, err := LoadConfigFile(""); err == nil {
		t.Fatal("empty path accepted")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := applyEnv(&cfg, map[string]string{
		"PADBRIDGE_PUMP_IDLE_THRESHOLD":           "300ms",
		"PADBRIDGE_MAPPING_Y":                     "3",
		"PADBRIDGE_TRANSPORT_SIGNALR_URL":         "http://hub:5000/joystickhub",
		"PADBRIDGE_TRANSPORT_SIGNALR_BACKOFF_MAX": "5s",
		"PADBRIDGE_ACTUATOR_KINDS":                "log,gpio",
		"PADBRIDGE_ACTUATOR_GPIO_UP":              "17",
		"PADBRIDGE_MQTT_BROKER_URL":               "tcp://broker:1883",
		"PADBRIDGE_MQTT_QOS":                      "2",
		"PADBRIDGE_LOGGING_LEVEL":                 "warn",
		"PADBRIDGE_TELEMETRY_ENDPOINT":            "http://collector:4318",
	})
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}

	if cfg.Pump.IdleThreshold != 300*time.Millisecond {
		t.Errorf("idle threshold = %v", cfg.Pump.IdleThreshold)
	}
	if cfg.Pump.TickPeriod != 16*time.Millisecond {
		t.Errorf("tick period changed without env: %v", cfg.Pump.TickPeriod)
	}
	if cfg.Mapping.Y != 3 {
		t.Errorf("mapping.y = %d", cfg.Mapping.Y)
	}
	if cfg.Transport.SignalR.URL != "http://hub:5000/joystickhub" || cfg.Transport.SignalR.Backoff.Max != 5*time.Second {
		t.Errorf("signalr = %+v", cfg.Transport.SignalR)
	}
	if strings.Join(cfg.Actuator.Kinds, ",") != "log,gpio" || cfg.Actuator.GPIO.Up != 17 {
		t.Errorf("actuator = %+v", cfg.Actuator)
	}
	if cfg.MQTT.Broker.URL != "tcp://broker:1883" || cfg.MQTT.QoS != 2 {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if cfg.Logging.Level != "warn" || cfg.Telemetry.Endpoint != "http://collector:4318" {
		t.Errorf("logging/telemetry = %+v %+v", cfg.Logging, cfg.Telemetry)
	}
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := validConfig()
	tick := 8
	kind := TransportNone
	acts := "log, uinput"
	level := "debug"
	listen := ""
	FlagOverrides{
		TickPeriodMS:  &tick,
		TransportKind: &kind,
		Actuators:     &acts,
		LogLevel:      &level,
		HTTPListen:    &listen,
	}.Apply(&cfg)

	if cfg.Pump.TickPeriod != 8*time.Millisecond {
		t.Errorf("tick = %v", cfg.Pump.TickPeriod)
	}
	if cfg.Transport.Kind != TransportNone {
		t.Errorf("transport = %q", cfg.Transport.Kind)
	}
	if strings.Join(cfg.Actuator.Kinds, ",") != "log,uinput" {
		t.Errorf("kinds = %v", cfg.Actuator.Kinds)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	// A non-nil zero value is still applied.
	if cfg.HTTP.Listen != "" {
		t.Errorf("http listen = %q, want empty", cfg.HTTP.Listen)
	}
	// Nil pointers leave values alone.
	if cfg.IPC.SocketPath != defaultSocketPath {
		t.Errorf("socket = %q", cfg.IPC.SocketPath)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"tick period", func(c *Config) { c.Pump.TickPeriod = 0 }, "tick_period"},
		{"transport kind", func(c *Config) { c.Transport.Kind = "carrier-pigeon" }, "transport.kind"},
		{"no actuators", func(c *Config) { c.Actuator.Kinds = nil }, "actuator.kinds"},
		{"unknown actuator", func(c *Config) { c.Actuator.Kinds = []string{"servo"} }, "unknown kind"},
		{"duplicate actuator", func(c *Config) { c.Actuator.Kinds = []string{"log", "log"} }, "duplicate"},
		{"gpio without lines", func(c *Config) { c.Actuator.Kinds = []string{ActuatorGPIO} }, "actuator.gpio"},
		{"mqtt without broker", func(c *Config) { c.Actuator.Kinds = []string{ActuatorMQTT} }, "mqtt.broker.url"},
		{"qos", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"empty input device", func(c *Config) { c.Input.Devices = []string{""} }, "input.devices[0]"},
		{"socket", func(c *Config) { c.IPC.SocketPath = "" }, "ipc.socket_path"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidate_TransportNoneNeedsNoURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport.Kind = TransportNone
	cfg.Actuator.Kinds = []string{ActuatorLog}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandPath("~/x.yaml"); got != filepath.Join(home, "x.yaml") {
		t.Errorf("ExpandPath(~/x.yaml) = %q", got)
	}
	if got := ExpandPath("/etc/x.yaml"); got != "/etc/x.yaml" {
		t.Errorf("ExpandPath(/etc/x.yaml) = %q", got)
	}
}
