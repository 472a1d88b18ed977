// Package status keeps a read-mostly snapshot of the bridge for the HTTP
// status endpoints and the UI.
package status

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"padbridge/internal/pump"
	"padbridge/internal/sample"
)

// PumpView is the part of *pump.Pump the tracker reads.
type PumpView interface {
	State() pump.State
	Stats() pump.Stats
}

// TransportStatus is the connectivity of one input source.
type TransportStatus struct {
	Name       string    `json:"name"`
	Connected  bool      `json:"connected"`
	Session    string    `json:"session,omitempty"`
	Since      time.Time `json:"since"`
	LastError  string    `json:"last_error,omitempty"`
	Reconnects uint64    `json:"reconnects"`

	// everConnected separates reconnects from failed first attempts.
	everConnected bool
}

// Actuation is one entry of the recent actuation log.
type Actuation struct {
	Time      time.Time      `json:"time"`
	Op        string         `json:"op"`
	Command   sample.Command `json:"command"`
	Error     string         `json:"error,omitempty"`
	LatencyMS float64        `json:"latency_ms"`
}

// Snapshot is the JSON document served at /status.json.
type Snapshot struct {
	Version    string            `json:"version"`
	StartedAt  time.Time         `json:"started_at"`
	UptimeSec  float64           `json:"uptime_sec"`
	Pump       PumpSnapshot      `json:"pump"`
	Transports []TransportStatus `json:"transports"`
	Recent     []Actuation       `json:"recent"`
}

// PumpSnapshot is the pump part of Snapshot.
type PumpSnapshot struct {
	State         string         `json:"state"`
	Ticks         uint64         `json:"ticks"`
	Applies       uint64         `json:"applies"`
	Neutrals      uint64         `json:"neutrals"`
	Errors        uint64         `json:"errors"`
	Timeouts      uint64         `json:"timeouts"`
	SkippedBusy   uint64         `json:"skipped_busy"`
	Ingested      uint64         `json:"ingested"`
	Coalesced     uint64         `json:"coalesced"`
	LastCommand   sample.Command `json:"last_command"`
	LastError     string         `json:"last_error,omitempty"`
	LastActivity  *time.Time     `json:"last_activity,omitempty"`
	NeutralActive bool           `json:"neutral_active"`
}

const defaultRecent = 32

// Tracker aggregates pump counters, transport state and recent actuations.
type Tracker struct {
	pump    PumpView
	version string
	now     func() time.Time
	started time.Time

	mu         sync.RWMutex
	transports map[string]*TransportStatus
	recent     []Actuation
	next       int
	full       bool
}

// NewTracker creates a tracker reading p. keep is the size of the recent
// actuation log (0 uses a default).
func NewTracker(p PumpView, version string, keep int) *Tracker {
	if keep <= 0 {
		keep = defaultRecent
	}
	return &Tracker{
		pump:       p,
		version:    version,
		now:        time.Now,
		started:    time.Now(),
		transports: make(map[string]*TransportStatus),
		recent:     make([]Actuation, keep),
	}
}

// Actuated implements pump.Observer.
func (t *Tracker) Actuated(ev pump.Event) {
	a := Actuation{
		Time:      ev.Time,
		Op:        ev.Op,
		Command:   ev.Command,
		LatencyMS: float64(ev.Latency) / float64(time.Millisecond),
	}
	if ev.Err != nil {
		a.Error = ev.Err.Error()
	}

	t.mu.Lock()
	t.recent[t.next] = a
	t.next = (t.next + 1) % len(t.recent)
	if t.next == 0 {
		t.full = true
	}
	t.mu.Unlock()
}

// SetConnected records that the named transport (re)connected.
func (t *Tracker) SetConnected(name, session string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts := t.transport(name)
	if ts.Connected {
		return
	}
	if ts.everConnected {
		ts.Reconnects++
	}
	ts.everConnected = true
	ts.Connected = true
	ts.Session = session
	ts.Since = t.now()
}

// SetDisconnected records that the named transport lost its session.
func (t *Tracker) SetDisconnected(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts := t.transport(name)
	if err != nil {
		ts.LastError = err.Error()
	}
	if !ts.Connected && !ts.Since.IsZero() {
		return
	}
	ts.Connected = false
	ts.Session = ""
	ts.Since = t.now()
}

func (t *Tracker) transport(name string) *TransportStatus {
	ts, ok := t.transports[name]
	if !ok {
		ts = &TransportStatus{Name: name}
		t.transports[name] = ts
	}
	return ts
}

// Snapshot returns the current status. Recent actuations are oldest first.
func (t *Tracker) Snapshot() Snapshot {
	st := t.pump.Stats()
	now := t.now()

	snap := Snapshot{
		Version:   t.version,
		StartedAt: t.started,
		UptimeSec: now.Sub(t.started).Seconds(),
		Pump: PumpSnapshot{
			State:         t.pump.State().String(),
			Ticks:         st.Ticks,
			Applies:       st.Applies,
			Neutrals:      st.Neutrals,
			Errors:        st.Errors,
			Timeouts:      st.Timeouts,
			SkippedBusy:   st.SkippedBusy,
			Ingested:      st.Ingested,
			Coalesced:     st.Coalesced,
			LastCommand:   st.LastCommand,
			LastError:     st.LastError,
			NeutralActive: st.NeutralActive,
		},
	}
	if !st.LastActivity.IsZero() {
		la := st.LastActivity
		snap.Pump.LastActivity = &la
	}

	t.mu.RLock()
	for _, ts := range t.transports {
		snap.Transports = append(snap.Transports, *ts)
	}
	if t.full {
		snap.Recent = append(snap.Recent, t.recent[t.next:]...)
	}
	snap.Recent = append(snap.Recent, t.recent[:t.next]...)
	t.mu.RUnlock()

	sort.Slice(snap.Transports, func(i, j int) bool { return snap.Transports[i].Name < snap.Transports[j].Name })
	return snap
}

// Healthy reports whether the pump loop is running.
func (t *Tracker) Healthy() bool {
	return t.pump.State() == pump.Running
}

// Handler serves the snapshot as JSON.
func (t *Tracker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(t.Snapshot())
	})
}

// HealthHandler answers 200 while the pump is running, 503 otherwise.
func (t *Tracker) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.Healthy() {
			http.Error(w, "pump "+t.pump.State().String(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
}
