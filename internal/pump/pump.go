// Package pump turns a bursty stream of samples into a steady cadence of
// actuator calls.
//
// Producers call Ingest or Submit from any goroutine. A single loop wakes on
// every tick, takes the most recent command (if any) and applies it, or asks
// the idle watchdog whether the device should be returned to neutral.
package pump

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"padbridge/internal/actuator"
	"padbridge/internal/mailbox"
	"padbridge/internal/sample"
	"padbridge/internal/watchdog"
)

// Config holds the pump timing.
type Config struct {
	TickPeriod       time.Duration `yaml:"tick_period" env:"TICK_PERIOD"`
	IdleThreshold    time.Duration `yaml:"idle_threshold" env:"IDLE_THRESHOLD"`
	ActuationTimeout time.Duration `yaml:"actuation_timeout" env:"ACTUATION_TIMEOUT"`
}

const (
	DefaultTickPeriod       = 16 * time.Millisecond
	DefaultIdleThreshold    = 150 * time.Millisecond
	DefaultActuationTimeout = 50 * time.Millisecond
)

// DefaultConfig returns the standard timing (about 60 Hz).
func DefaultConfig() Config {
	return Config{
		TickPeriod:       DefaultTickPeriod,
		IdleThreshold:    DefaultIdleThreshold,
		ActuationTimeout: DefaultActuationTimeout,
	}
}

// Validate checks the timing values.
func (c Config) Validate() error {
	if c.TickPeriod <= 0 {
		return fmt.Errorf("tick_period must be > 0 (got %v)", c.TickPeriod)
	}
	if c.IdleThreshold <= 0 {
		return fmt.Errorf("idle_threshold must be > 0 (got %v)", c.IdleThreshold)
	}
	if c.ActuationTimeout < 0 {
		return fmt.Errorf("actuation_timeout must be >= 0 (got %v)", c.ActuationTimeout)
	}
	return nil
}

// State is the pump lifecycle state.
type State int32

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ErrAlreadyRunning is returned by Start when the pump is not Stopped.
var ErrAlreadyRunning = errors.New("pump already running")

// Pump owns the mailbox, the watchdog and the loop goroutine.
type Pump struct {
	port    actuator.Port
	cfg     Config
	mapping sample.Mapping
	now     func() time.Time
	ticker  TickerFunc
	logger  *slog.Logger
	tracer  trace.Tracer
	obs     Observer

	box *mailbox.Mailbox[sample.Command]
	wd  *watchdog.Watchdog

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	// inflight is closed when a timed-out actuator call finally returns.
	// Only the loop goroutine touches it.
	inflight chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

// New creates a stopped pump driving port.
func New(port actuator.Port, cfg Config, opts ...Option) *Pump {
	p := &Pump{
		port:    port,
		cfg:     cfg,
		mapping: sample.DefaultMapping(),
		now:     time.Now,
		ticker:  realTicker,
		logger:  slog.Default(),
		tracer:  otel.Tracer("padbridge/pump"),
		box:     mailbox.New[sample.Command](),
		wd:      watchdog.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start moves the pump from Stopped to Running and spawns the loop.
// Cancelling ctx ends the loop the same way Stop does.
func (p *Pump) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Stopped {
		return ErrAlreadyRunning
	}

	// A command left over from a previous session must not be replayed.
	p.box.DrainLatest()
	p.wd.Arm(p.now())

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.state = Running

	tick, stopTicker := p.ticker(p.cfg.TickPeriod)
	go p.run(loopCtx, tick, stopTicker, p.done)

	p.logger.Info("pump started",
		"tick_period", p.cfg.TickPeriod,
		"idle_threshold", p.cfg.IdleThreshold,
		"actuation_timeout", p.cfg.ActuationTimeout)
	return nil
}

// Stop cancels the loop and waits for it to exit. Stopping a stopped pump is
// a no-op. After Stop returns no new actuator call is made.
func (p *Pump) Stop() error {
	p.mu.Lock()
	if p.state == Stopped {
		p.mu.Unlock()
		return nil
	}
	p.state = Stopping
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done

	p.mu.Lock()
	p.state = Stopped
	p.mu.Unlock()
	p.logger.Info("pump stopped")
	return nil
}

// Done returns a channel closed when the current loop exits, or nil when
// the pump has never been started.
func (p *Pump) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// State returns the lifecycle state.
func (p *Pump) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Ingest normalizes every sample of a batch and offers it to the loop.
// Only the most recent command survives until the next tick. Safe for
// concurrent use. A nil or empty batch is a no-op.
func (p *Pump) Ingest(batch []*sample.RawSample) {
	for _, cmd := range sample.NormalizeBatch(batch, p.mapping) {
		p.offer(cmd)
	}
}

// Submit offers an already normalized command.
func (p *Pump) Submit(cmd sample.Command) {
	p.offer(cmd)
}

func (p *Pump) offer(cmd sample.Command) {
	p.box.Push(cmd)
	p.wd.RecordActivity(p.now())
}

func (p *Pump) run(ctx context.Context, tick <-chan time.Time, stopTicker func(), done chan struct{}) {
	defer close(done)
	defer func() {
		p.mu.Lock()
		if p.state == Running {
			p.state = Stopped
			p.logger.Info("pump stopped", "reason", context.Cause(ctx))
		}
		p.mu.Unlock()
	}()
	defer stopTicker()
	defer p.waitInflight()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if ctx.Err() != nil {
				return
			}
			_ = p.tick(ctx)
		}
	}
}

// waitInflight gives a straggling actuator call one more timeout period to
// return so the caller can safely issue a final Neutral after Stop.
func (p *Pump) waitInflight() {
	if p.inflight == nil {
		return
	}
	wait := p.cfg.ActuationTimeout
	if wait <= 0 {
		wait = p.cfg.TickPeriod
	}
	select {
	case <-p.inflight:
		p.inflight = nil
	case <-time.After(wait):
		p.logger.Warn("actuator call still in flight at shutdown")
	}
}

// Decision is what one tick does.
type Decision int

const (
	DecideNone Decision = iota
	DecideApply
	DecideNeutral
)

func (d Decision) String() string {
	switch d {
	case DecideApply:
		return "apply"
	case DecideNeutral:
		return "neutral"
	default:
		return "none"
	}
}

// decide is the pure transition: a fresh command always wins, otherwise the
// watchdog verdict chooses between neutral and doing nothing.
func decide(drained bool, v watchdog.Verdict) Decision {
	if drained {
		return DecideApply
	}
	if v == watchdog.ForceNeutral {
		return DecideNeutral
	}
	return DecideNone
}

// tick runs one loop iteration and returns the actuation error, if any.
func (p *Pump) tick(ctx context.Context) error {
	p.updateStats(func(s *Stats) { s.Ticks++ })

	if p.inflight != nil {
		select {
		case <-p.inflight:
			p.inflight = nil
		default:
			p.updateStats(func(s *Stats) { s.SkippedBusy++ })
			p.logger.Debug("tick skipped: actuator busy")
			return actuator.ErrBusy
		}
	}

	// A cancelled tick must not consume the idle verdict it cannot act on.
	if ctx.Err() != nil {
		return nil
	}

	cmd, drained := p.box.DrainLatest()
	verdict := watchdog.NoAction
	if !drained {
		verdict = p.wd.Evaluate(p.now(), p.cfg.IdleThreshold)
	}

	switch decide(drained, verdict) {
	case DecideApply:
		return p.actuate(ctx, actuator.OpApply, cmd)
	case DecideNeutral:
		return p.actuate(ctx, actuator.OpNeutral, sample.Neutral)
	}
	return nil
}

func (p *Pump) actuate(ctx context.Context, op string, cmd sample.Command) error {
	if ctx.Err() != nil {
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "pump.actuate", trace.WithAttributes(
		attribute.String("actuator.op", op),
		attribute.String("actuator.command", cmd.String()),
	))
	defer span.End()

	start := p.now()
	err := p.call(ctx, op, cmd)
	if err != nil && ctx.Err() != nil {
		// Shutdown raced the call; not an actuation failure.
		return nil
	}
	err = actuator.Wrap(op, err)

	ev := Event{Time: start, Op: op, Command: cmd, Err: err, Latency: p.now().Sub(start)}
	p.updateStats(func(s *Stats) {
		if op == actuator.OpApply {
			s.Applies++
		} else {
			s.Neutrals++
		}
		if err != nil {
			s.Errors++
			s.LastError = err.Error()
			if errors.Is(err, actuator.ErrTimeout) {
				s.Timeouts++
			}
			return
		}
		s.LastCommand = cmd
		s.LastActuation = start
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("actuation failed", "op", op, "command", cmd.String(), "error", err)
	} else {
		p.logger.Debug("actuated", "op", op, "command", cmd.String())
	}
	if p.obs != nil {
		p.obs.Actuated(ev)
	}
	return err
}

// call invokes the port, recovering panics and enforcing the timeout.
// A call that outlives the timeout keeps running; p.inflight tracks it so
// the next ticks skip instead of stacking calls.
func (p *Pump) call(ctx context.Context, op string, cmd sample.Command) error {
	invoke := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		if op == actuator.OpNeutral {
			return p.port.Neutral(ctx)
		}
		return p.port.Apply(ctx, cmd)
	}

	if p.cfg.ActuationTimeout <= 0 {
		return invoke()
	}

	result := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		result <- invoke()
	}()

	timer := time.NewTimer(p.cfg.ActuationTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-timer.C:
		p.inflight = finished
		return actuator.ErrTimeout
	case <-ctx.Done():
		p.inflight = finished
		return ctx.Err()
	}
}
