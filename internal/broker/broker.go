// Package broker connects to the MQTT broker shared by the MQTT sample
// source and the MQTT actuator.
package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Config describes one broker connection.
type Config struct {
	URL            string        `yaml:"url" env:"URL"`
	ClientID       string        `yaml:"client_id" env:"CLIENT_ID"`
	Username       string        `yaml:"username" env:"USERNAME"`
	Password       string        `yaml:"password" env:"PASSWORD"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	RetryInterval  time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultRetryInterval  = 5 * time.Second
	disconnectQuiesceMS   = 1000
)

// ErrConnectTimeout is returned when the broker does not ack in time.
var ErrConnectTimeout = errors.New("mqtt connection timeout")

// ClientID returns cfg.ClientID, or prefix plus a random suffix when unset.
func ClientID(cfg Config, prefix string) string {
	if cfg.ClientID != "" {
		return cfg.ClientID
	}
	return prefix + "-" + uuid.NewString()[:8]
}

// Hooks are optional connection callbacks.
type Hooks struct {
	// OnConnect runs after every (re)connect; subscriptions belong here.
	OnConnect func(paho.Client)
	// OnLost runs when an established connection drops.
	OnLost func(error)
}

// Connect dials the broker and waits for the connection ack.
// The client reconnects on its own afterwards.
func Connect(cfg Config, clientID string, hooks Hooks, logger *slog.Logger) (paho.Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("mqtt: broker url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = defaultRetryInterval
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retry).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", "client_id", clientID, "error", err)
			if hooks.OnLost != nil {
				hooks.OnLost(err)
			}
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	if hooks.OnConnect != nil {
		opts.SetOnConnectHandler(hooks.OnConnect)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	logger.Info("mqtt connected", "broker", cfg.URL, "client_id", clientID)
	return client, nil
}

// Disconnect closes the client, giving in-flight work a second to finish.
func Disconnect(c paho.Client) {
	if c != nil {
		c.Disconnect(disconnectQuiesceMS)
	}
}
