package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"padbridge/internal/actuator"
	"padbridge/internal/broker"
	"padbridge/internal/pump"
	"padbridge/internal/sample"
	"padbridge/internal/telemetry"
	"padbridge/internal/transport"
)

// Config is the top-level YAML configuration for the padbridge daemon.
//
// Precedence, lowest first: DefaultConfig, config file, PADBRIDGE_* environment,
// command-line flags. Keep defaults and validation here so the rest of the code
// can assume a well-formed config.
type Config struct {
	Pump      pump.Config      `yaml:"pump" envPrefix:"PUMP_"`
	Mapping   sample.Mapping   `yaml:"mapping" envPrefix:"MAPPING_"`
	Transport TransportConfig  `yaml:"transport" envPrefix:"TRANSPORT_"`
	MQTT      MQTTConfig       `yaml:"mqtt" envPrefix:"MQTT_"`
	Actuator  ActuatorConfig   `yaml:"actuator" envPrefix:"ACTUATOR_"`
	Input     InputConfig      `yaml:"input" envPrefix:"INPUT_"`
	IPC       IPCConfig        `yaml:"ipc" envPrefix:"IPC_"`
	HTTP      HTTPConfig       `yaml:"http" envPrefix:"HTTP_"`
	Logging   LoggingConfig    `yaml:"logging" envPrefix:"LOGGING_"`
	Telemetry telemetry.Config `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// Transport kinds.
const (
	TransportSignalR = "signalr"
	TransportMQTT    = "mqtt"
	TransportNone    = "none"
)

type TransportConfig struct {
	Kind    string                  `yaml:"kind" env:"KIND"` // signalr|mqtt|none
	SignalR transport.SignalRConfig `yaml:"signalr" envPrefix:"SIGNALR_"`
}

// MQTTConfig is the shared broker connection. It is only dialed when the
// transport or an actuator needs it.
type MQTTConfig struct {
	Broker       broker.Config `yaml:"broker" envPrefix:"BROKER_"`
	SamplesTopic string        `yaml:"samples_topic" env:"SAMPLES_TOPIC"`
	StateTopic   string        `yaml:"state_topic" env:"STATE_TOPIC"`
	QoS          byte          `yaml:"qos" env:"QOS"`
}

// Actuator kinds.
const (
	ActuatorUInput = "uinput"
	ActuatorGPIO   = "gpio"
	ActuatorMQTT   = "mqtt"
	ActuatorLog    = "log"
)

type ActuatorConfig struct {
	// Kinds lists the actuators to drive. More than one fans out.
	Kinds      []string            `yaml:"kinds" env:"KINDS"`
	UInputPath string              `yaml:"uinput_path" env:"UINPUT_PATH"`
	DeviceName string              `yaml:"device_name" env:"DEVICE_NAME"`
	GPIO       actuator.GPIOConfig `yaml:"gpio" envPrefix:"GPIO_"`
}

// InputConfig lists local evdev gamepads read in addition to the transport.
type InputConfig struct {
	Devices []string `yaml:"devices,omitempty" env:"DEVICES"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path" env:"SOCKET_PATH"`
}

type HTTPConfig struct {
	// Listen is the status/websocket address; empty disables the server.
	Listen string `yaml:"listen" env:"LISTEN"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // auto|text|json

	// File enables rotated file output instead of stdout.
	File       string `yaml:"file,omitempty" env:"FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Pump:    pump.DefaultConfig(),
		Mapping: sample.DefaultMapping(),
		Transport: TransportConfig{
			Kind:    TransportSignalR,
			SignalR: transport.DefaultSignalRConfig(),
		},
		MQTT: MQTTConfig{
			SamplesTopic: transport.DefaultSampleTopic,
			StateTopic:   actuator.DefaultMQTTTopic,
			QoS:          1,
		},
		Actuator: ActuatorConfig{
			Kinds:      []string{ActuatorUInput},
			UInputPath: defaultUInputPath,
			DeviceName: actuator.DefaultUInputName,
			GPIO: actuator.GPIOConfig{
				Chip:  actuator.DefaultGPIOChip,
				Up:    -1,
				Down:  -1,
				Left:  -1,
				Right: -1,
				X:     -1,
				Y:     -1,
			},
		},
		IPC: IPCConfig{
			SocketPath: defaultSocketPath,
		},
		HTTP: HTTPConfig{
			Listen: defaultHTTPListen,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     logFormatAuto,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// ApplyEnv overlays PADBRIDGE_* environment variables, e.g.
// PADBRIDGE_PUMP_TICK_PERIOD=10ms or PADBRIDGE_TRANSPORT_SIGNALR_URL=....
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, nil)
}

func applyEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: envPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// FlagOverrides are applied after the file and environment.
// Each override is only applied if its pointer is non-nil.
type FlagOverrides struct {
	TickPeriodMS    *int
	IdleThresholdMS *int

	TransportKind *string
	SignalRURL    *string
	MQTTBroker    *string

	Actuators   *string
	InputDevice *string

	IPCSocketPath *string
	HTTPListen    *string

	LogLevel  *string
	LogFormat *string
	LogFile   *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is ignored.
// If the pointer is non-nil, the value is applied (even if it is a "zero value").
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.TickPeriodMS != nil {
		cfg.Pump.TickPeriod = msDuration(*o.TickPeriodMS)
	}
	if o.IdleThresholdMS != nil {
		cfg.Pump.IdleThreshold = msDuration(*o.IdleThresholdMS)
	}

	if o.TransportKind != nil {
		cfg.Transport.Kind = *o.TransportKind
	}
	if o.SignalRURL != nil {
		cfg.Transport.SignalR.URL = *o.SignalRURL
	}
	if o.MQTTBroker != nil {
		cfg.MQTT.Broker.URL = *o.MQTTBroker
	}

	if o.Actuators != nil {
		cfg.Actuator.Kinds = splitList(*o.Actuators)
	}
	if o.InputDevice != nil {
		cfg.Input.Devices = splitList(*o.InputDevice)
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPListen != nil {
		cfg.HTTP.Listen = *o.HTTPListen
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.Logging.Format = *o.LogFormat
	}
	if o.LogFile != nil {
		cfg.Logging.File = *o.LogFile
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + env + overrides are applied.
func (c *Config) Validate() error {
	if err := c.Pump.Validate(); err != nil {
		return fmt.Errorf("pump.%w", err)
	}

	switch c.Transport.Kind {
	case TransportSignalR:
		if c.Transport.SignalR.URL == "" {
			return errors.New("transport.signalr.url must not be empty when transport.kind is signalr")
		}
	case TransportMQTT:
		if c.MQTT.SamplesTopic == "" {
			return errors.New("mqtt.samples_topic must not be empty when transport.kind is mqtt")
		}
	case TransportNone:
	default:
		return fmt.Errorf("transport.kind must be %q, %q or %q", TransportSignalR, TransportMQTT, TransportNone)
	}

	if len(c.Actuator.Kinds) == 0 {
		return errors.New("actuator.kinds must not be empty")
	}
	seen := make(map[string]bool, len(c.Actuator.Kinds))
	for i, k := range c.Actuator.Kinds {
		switch k {
		case ActuatorUInput:
			if c.Actuator.UInputPath == "" {
				return errors.New("actuator.uinput_path must not be empty")
			}
		case ActuatorGPIO:
			if err := c.Actuator.GPIO.Validate(); err != nil {
				return fmt.Errorf("actuator.gpio: %w", err)
			}
		case ActuatorMQTT:
			if c.MQTT.StateTopic == "" {
				return errors.New("mqtt.state_topic must not be empty when the mqtt actuator is enabled")
			}
		case ActuatorLog:
		default:
			return fmt.Errorf("actuator.kinds[%d]: unknown kind %q", i, k)
		}
		if seen[k] {
			return fmt.Errorf("actuator.kinds[%d]: duplicate kind %q", i, k)
		}
		seen[k] = true
	}

	if c.needsBroker() && c.MQTT.Broker.URL == "" {
		return errors.New("mqtt.broker.url must not be empty when mqtt is used")
	}
	if c.MQTT.QoS > 2 {
		return errors.New("mqtt.qos must be 0, 1 or 2")
	}

	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case logFormatAuto, logFormatText, logFormatJSON, "":
	default:
		return fmt.Errorf("logging.format must be %q, %q or %q", logFormatAuto, logFormatText, logFormatJSON)
	}

	if c.Telemetry.SampleRatio < 0 {
		return errors.New("telemetry.sample_ratio must be >= 0")
	}

	return nil
}

// needsBroker reports whether any component uses the shared MQTT connection.
func (c *Config) needsBroker() bool {
	if c.Transport.Kind == TransportMQTT {
		return true
	}
	for _, k := range c.Actuator.Kinds {
		if k == ActuatorMQTT {
			return true
		}
	}
	return false
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
