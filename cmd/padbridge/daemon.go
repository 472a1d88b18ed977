package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	paho "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/sync/errgroup"

	"padbridge/internal/actuator"
	"padbridge/internal/broker"
	"padbridge/internal/ipc"
	"padbridge/internal/pump"
	"padbridge/internal/status"
	"padbridge/internal/telemetry"
	"padbridge/internal/transport"
)

// ============================================================================
// Daemon wiring
// ============================================================================
// Producers (hub session, MQTT topic, local gamepads, IPC clients) feed the
// pump concurrently. The pump is the only caller of the actuator while it runs;
// after it stops, the daemon applies one final Neutral and closes the device.
// ============================================================================

const brokerStatusName = "mqtt"

// runDaemon runs until ctx is canceled or a component fails for good.
func runDaemon(ctx context.Context, cfg Config, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownTimeout)
		defer cancel()
		if serr := shutdownTracing(sctx); serr != nil {
			logger.Warn("telemetry shutdown", "error", serr)
		}
	}()

	// The broker connection is shared by the MQTT source and actuator.
	// Its hooks are bound once the pump side exists.
	var (
		session    *brokerSession
		mqttClient paho.Client
	)
	if cfg.needsBroker() {
		clientID := broker.ClientID(cfg.MQTT.Broker, serviceName)
		session = &brokerSession{logger: logger}
		mqttClient, err = broker.Connect(cfg.MQTT.Broker, clientID, broker.Hooks{
			OnConnect: session.onConnect,
			OnLost:    session.onLost,
		}, logger)
		if err != nil {
			return err
		}
		defer broker.Disconnect(mqttClient)
	}

	port, err := openActuators(ctx, cfg, mqttClient, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := actuator.Close(port); cerr != nil {
			logger.Warn("actuator close failed", "error", cerr)
		}
	}()

	feed := NewActuationFeed(64)
	var tracker *status.Tracker
	p := pump.New(port, cfg.Pump,
		pump.WithLogger(logger),
		pump.WithMapping(cfg.Mapping),
		pump.WithObserver(pump.Observers{
			// tracker is assigned before Start; the observer only runs on the loop.
			pump.ObserverFunc(func(ev pump.Event) { tracker.Actuated(ev) }),
			feed,
		}),
	)
	tracker = status.NewTracker(p, version, statusRecent)

	ipcSrv := ipc.NewServer(cfg.IPC.SocketPath, p, func() any { return tracker.Snapshot() }, logger)
	if err := ipcSrv.Listen(); err != nil {
		return err
	}

	stateSrv := NewStateServer(logger, tracker.Snapshot, HubConfig{})

	if err := p.Start(ctx); err != nil {
		return err
	}
	defer func() {
		_ = p.Stop()
		finalNeutral(ctx, port, logger)
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stateSrv.Hub().Run(gctx)
		return nil
	})
	g.Go(func() error {
		RunBroadcaster(gctx, stateSrv.Hub(), feed, logger)
		return nil
	})
	g.Go(func() error { return ipcSrv.Serve(gctx) })

	if cfg.HTTP.Listen != "" {
		mux := newStatusMux(tracker, stateSrv)
		g.Go(func() error { return runHTTPServer(gctx, cfg.HTTP.Listen, mux, logger) })
	}

	switch cfg.Transport.Kind {
	case TransportSignalR:
		hub := transport.NewSignalR(cfg.Transport.SignalR, p, tracker, logger)
		g.Go(func() error { return hub.Run(gctx) })
	case TransportMQTT:
		src := transport.NewMQTTSource(cfg.MQTT.SamplesTopic, cfg.MQTT.QoS, p, logger)
		session.attach(mqttClient, src, tracker)
		g.Go(func() error {
			<-gctx.Done()
			session.detach(mqttClient)
			return nil
		})
	}
	if session != nil && cfg.Transport.Kind != TransportMQTT {
		session.attach(mqttClient, nil, tracker)
	}

	if len(cfg.Input.Devices) > 0 {
		g.Go(func() error {
			// Local gamepads are optional; losing one must not stop the daemon.
			if err := runInput(gctx, cfg.Input.Devices, p, logger); err != nil {
				logger.Error("input reader stopped", "error", err)
			}
			return nil
		})
	}

	logger.Info("padbridge running",
		"version", version,
		"transport", cfg.Transport.Kind,
		"actuators", cfg.Actuator.Kinds,
		"ipc", cfg.IPC.SocketPath,
		"http", cfg.HTTP.Listen)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("shutting down", "error", err)
	return err
}

// finalNeutral leaves the device released after the pump has stopped.
func finalNeutral(ctx context.Context, port actuator.Port, logger *slog.Logger) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownNeutralTimeout)
	defer cancel()
	if err := port.Neutral(nctx); err != nil {
		logger.Warn("final neutral failed", "error", err)
		return
	}
	logger.Debug("final neutral applied")
}

// openActuators opens every configured actuator. Each one establishes
// Neutral before it is returned. More than one kind fans out via Multi.
func openActuators(ctx context.Context, cfg Config, client paho.Client, logger *slog.Logger) (actuator.Port, error) {
	var ports actuator.Multi
	fail := func(err error) (actuator.Port, error) {
		_ = ports.Close()
		return nil, err
	}

	for _, kind := range cfg.Actuator.Kinds {
		switch kind {
		case ActuatorUInput:
			u, err := actuator.OpenUInput(cfg.Actuator.UInputPath, cfg.Actuator.DeviceName)
			if err != nil {
				return fail(fmt.Errorf("open uinput: %w", err))
			}
			ports = append(ports, u)
		case ActuatorGPIO:
			gp, err := actuator.OpenGPIO(cfg.Actuator.GPIO)
			if err != nil {
				return fail(fmt.Errorf("open gpio: %w", err))
			}
			ports = append(ports, gp)
		case ActuatorMQTT:
			if client == nil {
				return fail(errors.New("mqtt actuator: no broker connection"))
			}
			m, err := actuator.NewMQTT(ctx, client, cfg.MQTT.StateTopic, cfg.MQTT.QoS)
			if err != nil {
				return fail(fmt.Errorf("open mqtt actuator: %w", err))
			}
			ports = append(ports, m)
		case ActuatorLog:
			ports = append(ports, actuator.NewLog(logger, slog.LevelInfo))
		default:
			return fail(fmt.Errorf("unknown actuator kind %q", kind))
		}
		logger.Info("actuator opened", "kind", kind)
	}

	if len(ports) == 1 {
		return ports[0], nil
	}
	return ports, nil
}

// brokerSession routes broker connection events to components created after
// the connection itself.
type brokerSession struct {
	logger  *slog.Logger
	source  atomic.Pointer[transport.MQTTSource]
	tracker atomic.Pointer[status.Tracker]
}

// attach binds the source and tracker and subscribes immediately, since the
// first OnConnect may already have fired.
func (b *brokerSession) attach(c paho.Client, src *transport.MQTTSource, tracker *status.Tracker) {
	if tracker != nil {
		b.tracker.Store(tracker)
		if c.IsConnected() {
			tracker.SetConnected(brokerStatusName, clientID(c))
		}
	}
	if src != nil {
		b.source.Store(src)
		if err := src.Subscribe(c); err != nil {
			b.logger.Warn("mqtt subscribe failed", "error", err)
		}
	}
}

// detach drops the source so a late reconnect does not resubscribe, then
// unsubscribes while the connection is still up.
func (b *brokerSession) detach(c paho.Client) {
	src := b.source.Swap(nil)
	if src != nil && c.IsConnected() {
		src.Unsubscribe(c)
	}
}

func (b *brokerSession) onConnect(c paho.Client) {
	if t := b.tracker.Load(); t != nil {
		t.SetConnected(brokerStatusName, clientID(c))
	}
	if src := b.source.Load(); src != nil {
		// Runs on the paho callback goroutine; subscribing waits for the
		// ack, so hand it off.
		go func() {
			if err := src.Subscribe(c); err != nil {
				b.logger.Warn("mqtt resubscribe failed", "error", err)
			}
		}()
	}
}

func (b *brokerSession) onLost(err error) {
	if t := b.tracker.Load(); t != nil {
		t.SetDisconnected(brokerStatusName, err)
	}
}

func clientID(c paho.Client) string {
	r := c.OptionsReader()
	return r.ClientID()
}
