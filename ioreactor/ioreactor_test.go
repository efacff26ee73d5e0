//go:build linux

package ioreactor

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vela-run/fiberio/fiber"
	"github.com/vela-run/fiberio/reactor"
	"github.com/vela-run/fiberio/scheduler"
)

func TestSleepLikeTimerParksAndResumesFiber(t *testing.T) {
	m, err := New(2, false, "test-sleep")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.Start()
	defer func() {
		m.Stop()
		m.Close()
	}()

	start := time.Now()
	done := make(chan struct{})
	m.ScheduleFunc(func() {
		resumeCh := make(chan struct{})
		m.Timers.AddTimer(100, func() { close(resumeCh) }, false)
		<-resumeCh
		close(done)
	}, scheduler.AnyThread)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer-driven task never completed")
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Fatal("task completed before its timer's deadline")
	}
}

func TestAddEventTriggersOnReadable(t *testing.T) {
	m, err := New(1, false, "test-event")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.Start()
	defer func() {
		m.Stop()
		m.Close()
	}()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	fired := make(chan struct{})
	loc := fiber.NewLocals()
	loc.Main()
	if err := m.AddEvent(m.Scheduler, loc, fds[0], reactor.EventRead, func() { close(fired) }); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	if m.PendingEvents() != 1 {
		t.Fatalf("expected 1 pending event, got %d", m.PendingEvents())
	}

	if _, err := unix.Write(fds[1], []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("readiness callback never fired")
	}
	if m.PendingEvents() != 0 {
		t.Fatalf("expected pending events to return to 0, got %d", m.PendingEvents())
	}
}

func TestCancelEventReschedulesWaiter(t *testing.T) {
	m, err := New(1, false, "test-cancel")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.Start()
	defer func() {
		m.Stop()
		m.Close()
	}()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	cancelled := make(chan struct{})
	loc := fiber.NewLocals()
	loc.Main()
	if err := m.AddEvent(m.Scheduler, loc, fds[0], reactor.EventRead, func() { close(cancelled) }); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}

	if !m.CancelEvent(fds[0], reactor.EventRead) {
		t.Fatal("expected CancelEvent to report the event was registered")
	}

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled waiter was never scheduled")
	}
}

func TestAddEventRejectsDuplicateRegistration(t *testing.T) {
	m, err := New(1, false, "test-dup")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.Start()
	defer func() {
		m.Stop()
		m.Close()
	}()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	loc := fiber.NewLocals()
	loc.Main()
	if err := m.AddEvent(m.Scheduler, loc, fds[0], reactor.EventRead, func() {}); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	if err := m.AddEvent(m.Scheduler, loc, fds[0], reactor.EventRead, func() {}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	// Stop waits for every pending event to drain; drop the registration.
	if err := m.DelEvent(fds[0], reactor.EventRead); err != nil {
		t.Fatalf("DelEvent: %v", err)
	}
}
