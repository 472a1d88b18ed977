package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const version = "0.3.0"

func printVersion() {
	fmt.Printf("padbridge v%s\n", version)
	fmt.Println("Steady-cadence gamepad command bridge")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  padbridge [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Receives bursty gamepad samples from a hub session, an MQTT topic,")
	fmt.Println("  local input devices or the IPC socket, keeps only the most recent one,")
	fmt.Println("  and applies it to the actuator at a fixed tick rate. When input goes")
	fmt.Println("  idle the actuator is returned to neutral.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (optional)")
	fmt.Println()
	fmt.Println("  -tick-period-ms int")
	fmt.Printf("        Actuation cadence in ms (default %d)\n", DefaultConfig().Pump.TickPeriod.Milliseconds())
	fmt.Println()
	fmt.Println("  -idle-threshold-ms int")
	fmt.Printf("        Force neutral after this much input silence in ms (default %d)\n", DefaultConfig().Pump.IdleThreshold.Milliseconds())
	fmt.Println()
	fmt.Println("  -transport string")
	fmt.Println("        Sample source: signalr|mqtt|none (default \"signalr\")")
	fmt.Println()
	fmt.Println("  -hub-url string")
	fmt.Println("        Hub URL for the signalr transport (e.g. \"http://host:5000/joystickhub\")")
	fmt.Println()
	fmt.Println("  -mqtt-broker string")
	fmt.Println("        MQTT broker URL (e.g. \"tcp://localhost:1883\")")
	fmt.Println()
	fmt.Println("  -actuators string")
	fmt.Println("        Comma-separated actuators: uinput,gpio,mqtt,log (default \"uinput\")")
	fmt.Println()
	fmt.Println("  -input-device string")
	fmt.Println("        Comma-separated local evdev gamepads to read (default none)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultSocketPath)
	fmt.Println()
	fmt.Println("  -http-listen string")
	fmt.Printf("        Status/websocket listen address, empty disables (default %q)\n", defaultHTTPListen)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -log-format string")
	fmt.Println("        Log format: auto, text, json (default \"auto\")")
	fmt.Println()
	fmt.Println("  -log-file string")
	fmt.Println("        Write logs to a rotated file instead of stdout")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("ENVIRONMENT:")
	fmt.Println("  Every config key can be set as PADBRIDGE_<SECTION>_<KEY>, e.g.")
	fmt.Println("  PADBRIDGE_PUMP_TICK_PERIOD=10ms, PADBRIDGE_TRANSPORT_SIGNALR_URL=...")
	fmt.Println("  Flags win over the environment, which wins over the config file.")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Hub session driving a virtual gamepad")
	fmt.Println("  padbridge -hub-url http://192.168.1.10:5000/joystickhub")
	fmt.Println()
	fmt.Println("  # MQTT samples driving GPIO lines (lines set in the config file)")
	fmt.Println("  padbridge -config /etc/padbridge.yaml -transport mqtt -actuators gpio")
	fmt.Println()
	fmt.Println("  # Try it without hardware")
	fmt.Println("  padbridge -transport none -actuators log -log-level debug")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - uinput needs write access to /dev/uinput")
	fmt.Println("  - Reading input devices needs the 'input' group or root")
	fmt.Println()
}

func main() {
	fs := flag.NewFlagSet("padbridge", flag.ExitOnError)
	fs.Usage = printUsage

	configPath := fs.String("config", "", "Path to YAML config file")
	showVersion := fs.Bool("version", false, "Print version and exit")
	showHelp := fs.Bool("help", false, "Print help message")

	var set flagSet
	set.intFlag(fs, "tick-period-ms", "Actuation cadence in ms")
	set.intFlag(fs, "idle-threshold-ms", "Force neutral after this much input silence in ms")
	set.strFlag(fs, "transport", "Sample source: signalr|mqtt|none")
	set.strFlag(fs, "hub-url", "Hub URL for the signalr transport")
	set.strFlag(fs, "mqtt-broker", "MQTT broker URL")
	set.strFlag(fs, "actuators", "Comma-separated actuators: uinput,gpio,mqtt,log")
	set.strFlag(fs, "input-device", "Comma-separated local evdev gamepads")
	set.strFlag(fs, "ipc-socket", "Unix domain socket path for IPC")
	set.strFlag(fs, "http-listen", "Status/websocket listen address")
	set.strFlag(fs, "log-level", "Log level: error, warn, info, debug")
	set.strFlag(fs, "log-format", "Log format: auto, text, json")
	set.strFlag(fs, "log-file", "Write logs to a rotated file")

	_ = fs.Parse(os.Args[1:])

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg, err := loadConfig(*configPath, set.overrides(fs))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logger, logCloser, err := setupLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	logger.Debug("configuration",
		"pump", cfg.Pump,
		"mapping", cfg.Mapping,
		"transport", cfg.Transport.Kind,
		"hub_url", cfg.Transport.SignalR.URL,
		"mqtt_broker", cfg.MQTT.Broker.URL,
		"actuators", cfg.Actuator.Kinds,
		"input_devices", cfg.Input.Devices,
		"telemetry_endpoint", cfg.Telemetry.Endpoint)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runDaemon(ctx, cfg, logger); err != nil {
		logger.Error("padbridge stopped", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

// loadConfig applies defaults, the optional file, the environment and the
// flag overrides in that order, then validates.
func loadConfig(path string, o FlagOverrides) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	o.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// flagSet remembers which override flags were given so unset ones leave the
// file and environment values alone.
type flagSet struct {
	ints map[string]*int
	strs map[string]*string
}

func (s *flagSet) intFlag(fs *flag.FlagSet, name, usage string) {
	if s.ints == nil {
		s.ints = make(map[string]*int)
	}
	s.ints[name] = fs.Int(name, 0, usage)
}

func (s *flagSet) strFlag(fs *flag.FlagSet, name, usage string) {
	if s.strs == nil {
		s.strs = make(map[string]*string)
	}
	s.strs[name] = fs.String(name, "", usage)
}

func (s *flagSet) overrides(fs *flag.FlagSet) FlagOverrides {
	given := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { given[f.Name] = true })

	pickInt := func(name string) *int {
		if given[name] {
			return s.ints[name]
		}
		return nil
	}
	pickStr := func(name string) *string {
		if given[name] {
			return s.strs[name]
		}
		return nil
	}

	return FlagOverrides{
		TickPeriodMS:    pickInt("tick-period-ms"),
		IdleThresholdMS: pickInt("idle-threshold-ms"),
		TransportKind:   pickStr("transport"),
		SignalRURL:      pickStr("hub-url"),
		MQTTBroker:      pickStr("mqtt-broker"),
		Actuators:       pickStr("actuators"),
		InputDevice:     pickStr("input-device"),
		IPCSocketPath:   pickStr("ipc-socket"),
		HTTPListen:      pickStr("http-listen"),
		LogLevel:        pickStr("log-level"),
		LogFormat:       pickStr("log-format"),
		LogFile:         pickStr("log-file"),
	}
}
