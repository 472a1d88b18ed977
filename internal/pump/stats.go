package pump

import (
	"time"

	"padbridge/internal/sample"
)

// Event describes one completed actuator call.
type Event struct {
	Time    time.Time
	Op      string
	Command sample.Command
	Err     error
	Latency time.Duration
}

// Observer is notified after every actuation, on the loop goroutine.
// Implementations must not block.
type Observer interface {
	Actuated(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Actuated(e Event) { f(e) }

// Observers fans an event out to several observers.
type Observers []Observer

func (o Observers) Actuated(e Event) {
	for _, obs := range o {
		obs.Actuated(e)
	}
}

// Stats are cumulative counters since the pump was created.
type Stats struct {
	Ticks         uint64
	Applies       uint64
	Neutrals      uint64
	Errors        uint64
	Timeouts      uint64
	SkippedBusy   uint64
	Ingested      uint64
	Coalesced     uint64
	LastCommand   sample.Command
	LastActuation time.Time
	LastError     string
	LastActivity  time.Time
	NeutralActive bool
}

// Stats returns a snapshot of the counters.
func (p *Pump) Stats() Stats {
	p.statsMu.Lock()
	s := p.stats
	p.statsMu.Unlock()

	s.Ingested = p.box.Pushes()
	s.Coalesced = p.box.Drops()
	s.LastActivity, _ = p.wd.LastActivity()
	s.NeutralActive = p.wd.NeutralApplied()
	return s
}

func (p *Pump) updateStats(f func(*Stats)) {
	p.statsMu.Lock()
	f(&p.stats)
	p.statsMu.Unlock()
}
