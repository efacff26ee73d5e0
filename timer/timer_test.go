package timer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAddTimerFiresNotBeforeDeadline(t *testing.T) {
	m := NewManager()
	start := NowMillis()
	m.AddTimer(50, func() {}, false)

	for {
		ready := m.ListExpired()
		if len(ready) > 0 {
			if NowMillis()-start < 50 {
				t.Fatal("timer fired before its deadline")
			}
			return
		}
		if NowMillis()-start > 2000 {
			t.Fatal("timer never fired")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRecurringTimerReinsertsFromNow(t *testing.T) {
	m := NewManager()
	var fires int64
	m.AddTimer(20, func() { atomic.AddInt64(&fires, 1) }, true)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		for _, cb := range m.ListExpired() {
			cb()
		}
		time.Sleep(time.Millisecond)
	}

	n := atomic.LoadInt64(&fires)
	if n < 2 {
		t.Fatalf("expected at least 2 recurrences in 200ms at 20ms period, got %d", n)
	}
	if m.Outstanding() != 1 {
		t.Fatalf("expected the recurring timer to still be outstanding, got %d", m.Outstanding())
	}
}

type fakeCondition struct {
	cancelled bool
	alive     bool
}

func (f *fakeCondition) Resolve() (cancelled bool, ok bool) {
	return f.cancelled, f.alive
}

func TestConditionTimerDiscardedWhenDead(t *testing.T) {
	m := NewManager()
	cond := &fakeCondition{alive: false}
	fired := false
	m.AddConditionTimer(1, func() { fired = true }, cond, false)

	time.Sleep(10 * time.Millisecond)
	_ = m.ListExpired()
	if fired {
		t.Fatal("expected condition timer with a dead referent to be discarded silently")
	}
}

func TestConditionTimerDiscardedWhenCancelled(t *testing.T) {
	m := NewManager()
	cond := &fakeCondition{alive: true, cancelled: true}
	fired := false
	m.AddConditionTimer(1, func() { fired = true }, cond, false)

	time.Sleep(10 * time.Millisecond)
	_ = m.ListExpired()
	if fired {
		t.Fatal("expected condition timer marked cancelled to be discarded silently")
	}
}

func TestConditionTimerFiresWhenLive(t *testing.T) {
	m := NewManager()
	cond := &fakeCondition{alive: true}
	fired := false
	m.AddConditionTimer(1, func() { fired = true }, cond, false)

	time.Sleep(10 * time.Millisecond)
	for _, cb := range m.ListExpired() {
		cb()
	}
	if !fired {
		t.Fatal("expected live condition timer to fire")
	}
}

func TestCancelIsIdempotentAndPreventsFire(t *testing.T) {
	m := NewManager()
	fired := false
	h := m.AddTimer(1, func() { fired = true }, false)
	m.Cancel(h)
	m.Cancel(h)

	time.Sleep(10 * time.Millisecond)
	_ = m.ListExpired()
	if fired {
		t.Fatal("cancelled timer must not fire")
	}
}

func TestCancelDropsOutstandingImmediately(t *testing.T) {
	m := NewManager()
	h := m.AddTimer(10_000, func() {}, false)
	if m.Outstanding() != 1 {
		t.Fatalf("expected 1 outstanding timer after AddTimer, got %d", m.Outstanding())
	}
	m.Cancel(h)
	if m.Outstanding() != 0 {
		t.Fatalf("expected Cancel to drop Outstanding to 0 immediately, got %d", m.Outstanding())
	}
}

func TestNextTimeoutNoTimers(t *testing.T) {
	m := NewManager()
	if _, ok := m.NextTimeout(); ok {
		t.Fatal("expected no next timeout on an empty manager")
	}
}

func TestOnInsertedAtFrontFiresOnNewSoonest(t *testing.T) {
	m := NewManager()
	var calls int
	m.OnInsertedAtFront = func() { calls++ }

	m.AddTimer(1000, func() {}, false)
	if calls != 1 {
		t.Fatalf("expected first insert to trigger OnInsertedAtFront, got %d calls", calls)
	}

	m.AddTimer(5000, func() {}, false)
	if calls != 1 {
		t.Fatalf("expected a later deadline not to trigger OnInsertedAtFront, got %d calls", calls)
	}

	m.AddTimer(10, func() {}, false)
	if calls != 2 {
		t.Fatalf("expected a new soonest deadline to trigger OnInsertedAtFront, got %d calls", calls)
	}
}
