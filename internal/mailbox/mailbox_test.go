package mailbox

import (
	"sync"
	"testing"
)

func TestMailbox_EmptyDrain(t *testing.T) {
	m := New[int]()
	if v, ok := m.DrainLatest(); ok {
		t.Fatalf("DrainLatest() on empty = %d,true", v)
	}
}

func TestMailbox_LatestWins(t *testing.T) {
	m := New[string]()
	m.Push("a")
	m.Push("b")
	m.Push("c")

	v, ok := m.DrainLatest()
	if !ok || v != "c" {
		t.Fatalf("DrainLatest() = %q,%v want c,true", v, ok)
	}
	if _, ok := m.DrainLatest(); ok {
		t.Fatal("second DrainLatest() returned a value")
	}
	if got := m.Drops(); got != 2 {
		t.Errorf("Drops() = %d, want 2", got)
	}
	if got := m.Pushes(); got != 3 {
		t.Errorf("Pushes() = %d, want 3", got)
	}
}

func TestMailbox_NoDropAfterDrain(t *testing.T) {
	m := New[int]()
	m.Push(1)
	m.DrainLatest()
	m.Push(2)
	if m.Drops() != 0 {
		t.Fatalf("Drops() = %d, want 0", m.Drops())
	}
	if !m.Pending() {
		t.Fatal("Pending() = false after push")
	}
}

func TestMailbox_ConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 1000
	m := New[int]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				m.Push(base + i)
			}
		}(p * perProducer)
	}

	drained := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		if _, ok := m.DrainLatest(); ok {
			drained++
		}
	}
	if _, ok := m.DrainLatest(); ok {
		drained++
	}

	total := uint64(producers * perProducer)
	if m.Pushes() != total {
		t.Fatalf("Pushes() = %d, want %d", m.Pushes(), total)
	}
	if uint64(drained)+m.Drops() != total {
		t.Fatalf("drained(%d) + drops(%d) != pushes(%d)", drained, m.Drops(), total)
	}
}
