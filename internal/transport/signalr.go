package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// SignalRConfig configures the hub client.
type SignalRConfig struct {
	// URL is the hub endpoint, e.g. https://host/joystickhub.
	URL string `yaml:"url" env:"URL"`
	// SkipNegotiation dials the websocket directly without the negotiate call.
	SkipNegotiation bool `yaml:"skip_negotiation" env:"SKIP_NEGOTIATION"`

	Token       string        `yaml:"token" env:"TOKEN"`
	TokenSecret string        `yaml:"token_secret" env:"TOKEN_SECRET"`
	TokenIssuer string        `yaml:"token_issuer" env:"TOKEN_ISSUER"`
	TokenTTL    time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`

	RegisterMethod string `yaml:"register_method" env:"REGISTER_METHOD"`
	UpdateTarget   string `yaml:"update_target" env:"UPDATE_TARGET"`

	KeepAlive        time.Duration `yaml:"keep_alive" env:"KEEP_ALIVE"`
	ServerTimeout    time.Duration `yaml:"server_timeout" env:"SERVER_TIMEOUT"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`

	Backoff BackoffConfig `yaml:"backoff" envPrefix:"BACKOFF_"`
}

// Hub defaults.
const (
	DefaultRegisterMethod   = "RegisterJoystick"
	DefaultUpdateTarget     = "JoystickUpdate"
	DefaultKeepAlive        = 15 * time.Second
	DefaultServerTimeout    = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second

	maxNegotiateRedirects = 5
	sourceName            = "signalr"
)

// DefaultSignalRConfig returns a config with every optional field filled.
func DefaultSignalRConfig() SignalRConfig {
	return SignalRConfig{
		RegisterMethod:   DefaultRegisterMethod,
		UpdateTarget:     DefaultUpdateTarget,
		KeepAlive:        DefaultKeepAlive,
		ServerTimeout:    DefaultServerTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		Backoff:          DefaultBackoff(),
	}
}

// SignalR keeps a hub session open, reconnecting with exponential backoff,
// and forwards every JoystickUpdate batch to the sink.
type SignalR struct {
	cfg      SignalRConfig
	tokens   TokenSource
	sink     Sink
	listener Listener
	logger   *slog.Logger
	dialer   *websocket.Dialer
	http     *http.Client
}

// NewSignalR builds a hub client. listener may be nil.
func NewSignalR(cfg SignalRConfig, sink Sink, listener Listener, logger *slog.Logger) *SignalR {
	def := DefaultSignalRConfig()
	if cfg.RegisterMethod == "" {
		cfg.RegisterMethod = def.RegisterMethod
	}
	if cfg.UpdateTarget == "" {
		cfg.UpdateTarget = def.UpdateTarget
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.ServerTimeout <= 0 {
		cfg.ServerTimeout = def.ServerTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff.Initial = def.Backoff.Initial
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = def.Backoff.Max
	}
	if cfg.Backoff.Multiplier < 1 {
		cfg.Backoff.Multiplier = def.Backoff.Multiplier
	}
	if listener == nil {
		listener = nopListener{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	var tokens TokenSource = StaticToken(cfg.Token)
	if cfg.TokenSecret != "" {
		tokens = NewJWTSource([]byte(cfg.TokenSecret), cfg.TokenIssuer, "padbridge", cfg.URL, cfg.TokenTTL)
	}

	return &SignalR{
		cfg:      cfg,
		tokens:   tokens,
		sink:     sink,
		listener: listener,
		logger:   logger.With("source", sourceName),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		http: &http.Client{Timeout: cfg.HandshakeTimeout},
	}
}

// hubConn is one established session.
type hubConn struct {
	ws       *websocket.Conn
	id       string
	writeMu  sync.Mutex
	pending  [][]byte
	invokeID string
}

func (c *hubConn) send(v any) error {
	frame, err := encodeFrame(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Run keeps a session open until ctx is cancelled. It returns nil on
// cancellation and an error only when reconnecting is impossible.
func (s *SignalR) Run(ctx context.Context) error {
	b := s.newBackOff()
	// relaunch spaces out sessions that die right after connecting; Retry
	// resets b on every call, so it cannot carry that history.
	relaunch := s.newBackOff()

	for {
		conn, err := backoff.Retry(ctx, func() (*hubConn, error) {
			return s.connect(ctx)
		},
			backoff.WithBackOff(b),
			backoff.WithMaxElapsedTime(s.cfg.Backoff.MaxElapsed),
			backoff.WithNotify(func(err error, next time.Duration) {
				s.listener.SetDisconnected(sourceName, err)
				s.logger.Warn("hub connect failed", "error", err, "retry_in", next)
			}),
		)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.listener.SetDisconnected(sourceName, err)
			return fmt.Errorf("hub connect: %w", err)
		}

		s.listener.SetConnected(sourceName, conn.id)
		s.logger.Info("hub session started", "session", conn.id, "url", s.cfg.URL)

		started := time.Now()
		err = s.serve(ctx, conn)
		_ = conn.ws.Close()

		if ctx.Err() != nil {
			s.listener.SetDisconnected(sourceName, nil)
			s.logger.Info("hub session closed", "session", conn.id)
			return nil
		}
		s.listener.SetDisconnected(sourceName, err)
		if errors.Is(err, ErrServerClosed) {
			return err
		}
		s.logger.Warn("hub session lost", "session", conn.id, "error", err)

		if time.Since(started) >= s.cfg.KeepAlive {
			relaunch.Reset()
			continue
		}
		wait := relaunch.NextBackOff()
		s.logger.Debug("hub session was short-lived", "session", conn.id, "retry_in", wait)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (s *SignalR) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.Backoff.Initial
	b.MaxInterval = s.cfg.Backoff.Max
	b.Multiplier = s.cfg.Backoff.Multiplier
	return b
}

// connect dials, performs the protocol handshake and registers as a
// joystick consumer. Errors that retrying cannot fix are permanent.
func (s *SignalR) connect(ctx context.Context) (*hubConn, error) {
	token, err := s.tokens.Token()
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("token: %w", err))
	}

	wsURL, token, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := s.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, backoff.Permanent(fmt.Errorf("dial %s: %s", wsURL, resp.Status))
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	conn := &hubConn{ws: ws, id: uuid.NewString()}
	if err := s.handshake(conn); err != nil {
		_ = ws.Close()
		return nil, err
	}
	return conn, nil
}

func (s *SignalR) handshake(conn *hubConn) error {
	if err := conn.send(handshakeRequest{Protocol: "json", Version: 1}); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	_ = conn.ws.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	_, data, err := conn.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	frames := splitFrames(data)
	if len(frames) == 0 {
		return errors.New("empty handshake response")
	}
	if err := parseHandshake(frames[0]); err != nil {
		return backoff.Permanent(err)
	}
	conn.pending = frames[1:]

	conn.invokeID = "1"
	return conn.send(hubMessage{
		Type:         msgInvocation,
		InvocationID: conn.invokeID,
		Target:       s.cfg.RegisterMethod,
		Arguments:    []json.RawMessage{},
	})
}

// serve pumps hub messages until the connection fails or ctx ends.
func (s *SignalR) serve(ctx context.Context, conn *hubConn) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		conn.writeMu.Lock()
		_ = conn.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.writeMu.Unlock()
		return conn.ws.Close()
	})

	g.Go(func() error {
		t := time.NewTicker(s.cfg.KeepAlive)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				if err := conn.send(hubMessage{Type: msgPing}); err != nil {
					return fmt.Errorf("send ping: %w", err)
				}
			}
		}
	})

	g.Go(func() error {
		for _, f := range conn.pending {
			if err := s.dispatch(conn, f); err != nil {
				return err
			}
		}
		conn.pending = nil
		for {
			_ = conn.ws.SetReadDeadline(time.Now().Add(s.cfg.ServerTimeout))
			_, data, err := conn.ws.ReadMessage()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("read: %w", err)
			}
			for _, f := range splitFrames(data) {
				if err := s.dispatch(conn, f); err != nil {
					return err
				}
			}
		}
	})

	err := g.Wait()
	if err == nil && ctx.Err() == nil {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// dispatch handles one hub record.
func (s *SignalR) dispatch(conn *hubConn, frame []byte) error {
	var m hubMessage
	if err := json.Unmarshal(frame, &m); err != nil {
		s.logger.Debug("dropping malformed hub frame", "error", err)
		return nil
	}

	switch m.Type {
	case msgInvocation:
		if !strings.EqualFold(m.Target, s.cfg.UpdateTarget) {
			s.logger.Debug("ignoring hub invocation", "target", m.Target)
			return nil
		}
		batch, err := decodeUpdate(&m)
		if err != nil {
			s.logger.Warn("dropping undecodable batch", "error", err)
			return nil
		}
		if len(batch) > 0 {
			s.sink.Ingest(batch)
		}
	case msgCompletion:
		if m.InvocationID == conn.invokeID && m.Error != "" {
			return fmt.Errorf("%s failed: %s", s.cfg.RegisterMethod, m.Error)
		}
	case msgPing:
	case msgClose:
		if m.AllowReconnect {
			return fmt.Errorf("hub closed: %s", m.Error)
		}
		if m.Error != "" {
			return fmt.Errorf("%w: %s", ErrServerClosed, m.Error)
		}
		return ErrServerClosed
	}
	return nil
}

type negotiateResponse struct {
	ConnectionID     string `json:"connectionId"`
	ConnectionToken  string `json:"connectionToken"`
	NegotiateVersion int    `json:"negotiateVersion"`
	URL              string `json:"url"`
	AccessToken      string `json:"accessToken"`
	Error            string `json:"error"`
}

// resolve runs the negotiate exchange (following redirects) and returns the
// websocket URL plus the token to present on it.
func (s *SignalR) resolve(ctx context.Context, token string) (string, string, error) {
	base := s.cfg.URL
	if s.cfg.SkipNegotiation {
		u, err := wsURL(base, "")
		if err != nil {
			return "", "", backoff.Permanent(err)
		}
		return u, token, nil
	}

	for i := 0; i < maxNegotiateRedirects; i++ {
		nr, err := s.negotiate(ctx, base, token)
		if err != nil {
			return "", "", err
		}
		if nr.URL != "" {
			base = nr.URL
			if nr.AccessToken != "" {
				token = nr.AccessToken
			}
			continue
		}
		id := nr.ConnectionToken
		if nr.NegotiateVersion == 0 || id == "" {
			id = nr.ConnectionID
		}
		u, err := wsURL(base, id)
		if err != nil {
			return "", "", backoff.Permanent(err)
		}
		return u, token, nil
	}
	return "", "", backoff.Permanent(errors.New("negotiate: too many redirects"))
}

func (s *SignalR) negotiate(ctx context.Context, base, token string) (*negotiateResponse, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parse hub url: %w", err))
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/negotiate"
	q := u.Query()
	q.Set("negotiateVersion", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("negotiate: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, backoff.Permanent(fmt.Errorf("negotiate: %s", resp.Status))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("negotiate: %s", resp.Status)
	}

	var nr negotiateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&nr); err != nil {
		return nil, fmt.Errorf("decode negotiate response: %w", err)
	}
	if nr.Error != "" {
		return nil, backoff.Permanent(fmt.Errorf("negotiate: %s", nr.Error))
	}
	return &nr, nil
}

// wsURL maps an http(s) hub URL onto ws(s) and attaches the connection id.
func wsURL(base, id string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported hub url scheme %q", u.Scheme)
	}
	if id != "" {
		q := u.Query()
		q.Set("id", id)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
