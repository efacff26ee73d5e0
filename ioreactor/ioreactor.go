// File: ioreactor/ioreactor.go
// Package ioreactor implements IOManager: spec.md §4.4 — a Scheduler that
// composes a TimerManager and a readiness reactor, parking fibers on fd
// event slots instead of letting them block in the kernel.
// Author: vela-run contributors
// License: Apache-2.0
package ioreactor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/vela-run/fiberio/fiber"
	"github.com/vela-run/fiberio/reactor"
	"github.com/vela-run/fiberio/runtimelog"
	"github.com/vela-run/fiberio/scheduler"
	"github.com/vela-run/fiberio/timer"
)

var log = runtimelog.For("ioreactor")

// idleTimeoutMs caps the idle loop's reactor wait so clock jumps and
// external timer sources are still observed promptly (spec.md §4.4 step 1).
// control.RuntimeConfig can retune this at runtime via SetIdleTimeoutMs.
var idleTimeoutMs atomic.Int64

// maxEvents bounds how many ready fds one Wait call reports at a time.
// Tunable via SetMaxEvents.
var maxEvents atomic.Int64

// selfPipeBufBytes sizes drainSelfPipe's scratch buffer. Tunable via
// SetSelfPipeBufferBytes.
var selfPipeBufBytes atomic.Int64

func init() {
	idleTimeoutMs.Store(3000)
	maxEvents.Store(256)
	selfPipeBufBytes.Store(512)
}

// SetIdleTimeoutMs changes the idle loop's maximum reactor wait.
func SetIdleTimeoutMs(ms int) { idleTimeoutMs.Store(int64(ms)) }

// SetMaxEvents changes how many ready fds one Wait call reports at a time.
func SetMaxEvents(n int) { maxEvents.Store(int64(n)) }

// SetSelfPipeBufferBytes changes the self-pipe drain scratch buffer size.
func SetSelfPipeBufferBytes(n int) { selfPipeBufBytes.Store(int64(n)) }

// slot holds one event's waiter: either a fiber to resume or a plain
// callback, plus the scheduler it was captured on.
type slot struct {
	sched    *scheduler.Scheduler
	fiber    *fiber.Fiber
	callback func()
}

func (s *slot) empty() bool { return s.fiber == nil && s.callback == nil }
func (s *slot) clear()      { s.fiber = nil; s.callback = nil; s.sched = nil }

// fdEvents is the per-fd pair of event slots plus the currently-registered
// reactor mask, guarded by its own mutex (spec.md §4.4).
type fdEvents struct {
	mu    sync.Mutex
	read  slot
	write slot
	mask  reactor.EventMask
}

// IOManager specializes Scheduler (by embedding, since Go has no
// inheritance) and composes a TimerManager, a readiness reactor, and a
// self-pipe used to break the reactor's wait when new work or timers arrive
// with no fd activity.
type IOManager struct {
	*scheduler.Scheduler
	Timers *timer.Manager

	react reactor.Reactor

	mu      sync.RWMutex
	fds     []*fdEvents
	pending atomic.Int64

	pipeR, pipeW int
}

// New constructs an IOManager: creates the reactor, a non-blocking self-pipe
// registered for read-readiness, then starts the embedded Scheduler with an
// idle loop that drives the reactor instead of merely parking on a notify
// channel.
func New(threadCount int, useCaller bool, name string) (*IOManager, error) {
	react, err := reactor.New()
	if err != nil {
		return nil, fmt.Errorf("ioreactor: %w", err)
	}

	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		react.Close()
		return nil, fmt.Errorf("ioreactor: pipe2: %w", err)
	}

	m := &IOManager{
		Scheduler: scheduler.New(threadCount, useCaller, name),
		Timers:    timer.NewManager(),
		react:     react,
		pipeR:     fds[0],
		pipeW:     fds[1],
	}
	m.Timers.OnInsertedAtFront = m.tickleSelfPipe

	if err := react.Add(m.pipeR, reactor.EventRead); err != nil {
		unix.Close(m.pipeR)
		unix.Close(m.pipeW)
		react.Close()
		return nil, fmt.Errorf("ioreactor: register self-pipe: %w", err)
	}

	m.Scheduler.SetIdleFunc(func(s *scheduler.Scheduler, workerID int, loc *fiber.Locals) {
		m.idleOnce(workerID)
	})
	m.Scheduler.SetStoppingHook(func() bool {
		return m.Scheduler.BaseStopping() && m.pending.Load() == 0 && m.Timers.Outstanding() == 0
	})
	log.Debug().Str("ioreactor", name).Int("workers", threadCount).Msg("io manager constructed")
	m.Start()
	return m, nil
}

func (m *IOManager) growLocked(fd int) {
	if fd < len(m.fds) {
		return
	}
	target := fd + 1
	grown := int(float64(target) * 1.5)
	if grown < target+1 {
		grown = target + 1
	}
	next := make([]*fdEvents, grown)
	copy(next, m.fds)
	m.fds = next
}

func (m *IOManager) ctxFor(fd int, autoCreate bool) *fdEvents {
	m.mu.RLock()
	if fd < len(m.fds) && m.fds[fd] != nil {
		c := m.fds[fd]
		m.mu.RUnlock()
		return c
	}
	m.mu.RUnlock()
	if !autoCreate {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if fd < len(m.fds) && m.fds[fd] != nil {
		return m.fds[fd]
	}
	m.growLocked(fd)
	c := &fdEvents{}
	m.fds[fd] = c
	return c
}

// AddEvent registers interest in event (Read or Write) on fd, capturing
// either cb or — if cb is nil — the fiber currently running on loc as the
// waiter, to be scheduled on sched when the event fires or is cancelled.
// Returns an error if the event is already registered.
func (m *IOManager) AddEvent(sched *scheduler.Scheduler, loc *fiber.Locals, fd int, event reactor.EventMask, cb func()) error {
	ctx := m.ctxFor(fd, true)
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	var sl *slot
	switch event {
	case reactor.EventRead:
		sl = &ctx.read
	case reactor.EventWrite:
		sl = &ctx.write
	default:
		return fmt.Errorf("ioreactor: invalid event %v", event)
	}
	if !sl.empty() {
		return fmt.Errorf("ioreactor: event %v already registered on fd %d", event, fd)
	}

	wasNone := ctx.mask == reactor.EventNone
	newMask := ctx.mask | event
	var err error
	if wasNone {
		err = m.react.Add(fd, newMask)
	} else {
		err = m.react.Modify(fd, newMask)
	}
	if err != nil {
		return err
	}
	ctx.mask = newMask

	sl.sched = sched
	if cb != nil {
		sl.callback = cb
	} else {
		sl.fiber = loc.Current()
	}
	m.pending.Add(1)
	return nil
}

// DelEvent removes event from fd without scheduling whatever was parked
// there.
func (m *IOManager) DelEvent(fd int, event reactor.EventMask) error {
	ctx := m.ctxFor(fd, false)
	if ctx == nil {
		return nil
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return m.delEventLocked(ctx, fd, event, false)
}

// delEventLocked must be called with ctx.mu held. If schedule is true, the
// stored waiter is scheduled before the slot is cleared (cancel_event
// semantics); otherwise it is simply dropped (del_event semantics).
func (m *IOManager) delEventLocked(ctx *fdEvents, fd int, event reactor.EventMask, schedule bool) error {
	var sl *slot
	switch event {
	case reactor.EventRead:
		sl = &ctx.read
	case reactor.EventWrite:
		sl = &ctx.write
	default:
		return fmt.Errorf("ioreactor: invalid event %v", event)
	}
	if sl.empty() {
		return nil
	}

	remainder := ctx.mask &^ event
	var err error
	if remainder == reactor.EventNone {
		err = m.react.Remove(fd)
	} else {
		err = m.react.Modify(fd, remainder)
	}
	if err != nil {
		return err
	}
	ctx.mask = remainder

	if schedule {
		scheduleSlot(sl)
	}
	sl.clear()
	m.pending.Add(-1)
	return nil
}

func scheduleSlot(sl *slot) {
	if sl.fiber != nil {
		sl.sched.ScheduleFiber(sl.fiber, scheduler.AnyThread)
	} else if sl.callback != nil {
		sl.sched.ScheduleFunc(sl.callback, scheduler.AnyThread)
	}
}

// CancelEvent removes event from fd and schedules its stored waiter.
// Returns false if the event was not registered.
func (m *IOManager) CancelEvent(fd int, event reactor.EventMask) bool {
	ctx := m.ctxFor(fd, false)
	if ctx == nil {
		return false
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	var sl *slot
	switch event {
	case reactor.EventRead:
		sl = &ctx.read
	case reactor.EventWrite:
		sl = &ctx.write
	}
	if sl == nil || sl.empty() {
		return false
	}
	_ = m.delEventLocked(ctx, fd, event, true)
	return true
}

// CancelAll cancels every currently-registered event on fd, scheduling each
// stored waiter without injecting any error — per spec.md §4.6's close()
// contract, the resumed fiber's next raw syscall is what surfaces EBADF.
func (m *IOManager) CancelAll(fd int) {
	ctx := m.ctxFor(fd, false)
	if ctx == nil {
		return
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if !ctx.read.empty() {
		_ = m.delEventLocked(ctx, fd, reactor.EventRead, true)
	}
	if !ctx.write.empty() {
		_ = m.delEventLocked(ctx, fd, reactor.EventWrite, true)
	}
}

// PendingEvents returns the number of currently-populated event slots across
// every tracked fd, maintained as an atomic counter per spec.md §5.
func (m *IOManager) PendingEvents() int64 { return m.pending.Load() }

// Stopping overrides the embedded Scheduler's: an IOManager is only fully
// stopped once the base scheduler is, AND there are no pending fd events or
// outstanding timers (spec.md §4.4). The extended condition itself lives in
// the stopping hook installed by New; this just forwards to it.
func (m *IOManager) Stopping() bool {
	return m.Scheduler.Stopping()
}

func (m *IOManager) tickleSelfPipe() {
	buf := []byte{1}
	_, _ = unix.Write(m.pipeW, buf)
}

// Tickle writes one byte to the self-pipe to break an in-progress reactor
// wait. Writes are idempotent in effect: a burst of tickles just means the
// idle loop drains a few extra bytes next time around.
func (m *IOManager) Tickle() {
	m.tickleSelfPipe()
}

// idleOnce runs exactly one iteration of the idle loop's body: compute the
// poll timeout, block in the reactor, drain the self-pipe, trigger ready fd
// events, and drain expired timers. Called repeatedly by the Scheduler's
// idle fiber until Stopping().
func (m *IOManager) idleOnce(workerID int) {
	timeoutMs := int(idleTimeoutMs.Load())
	if next, ok := m.Timers.NextTimeout(); ok {
		n := int(next)
		if n < timeoutMs {
			timeoutMs = n
		}
	}

	events := make([]reactor.ReadyEvent, maxEvents.Load())
	n, err := m.react.Wait(events, timeoutMs)
	if err != nil {
		log.Warn().Err(err).Str("ioreactor", m.Name()).Msg("reactor wait failed")
	} else {
		for i := 0; i < n; i++ {
			ev := events[i]
			if ev.Fd == m.pipeR {
				m.drainSelfPipe()
				continue
			}
			m.handleReady(ev.Fd, ev.Events)
		}
	}

	for _, cb := range m.Timers.ListExpired() {
		m.Scheduler.ScheduleFunc(cb, scheduler.AnyThread)
	}
}

func (m *IOManager) drainSelfPipe() {
	buf := make([]byte, selfPipeBufBytes.Load())
	for {
		n, err := unix.Read(m.pipeR, buf)
		if n <= 0 || err != nil {
			return
		}
		if n < len(buf) {
			return
		}
	}
}

func (m *IOManager) handleReady(fd int, reported reactor.EventMask) {
	ctx := m.ctxFor(fd, false)
	if ctx == nil {
		return
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	real := reported & ctx.mask
	if reported&reactor.EventErr != 0 {
		// spec.md §4.4 step 4: collapse reactor error/hangup to firing
		// BOTH read and write, whichever are currently registered.
		real = ctx.mask
	}

	if real&reactor.EventRead != 0 && !ctx.read.empty() {
		remainder := ctx.mask &^ reactor.EventRead
		if remainder == reactor.EventNone {
			_ = m.react.Remove(fd)
		} else {
			_ = m.react.Modify(fd, remainder)
		}
		ctx.mask = remainder
		m.trigger(&ctx.read)
	}
	if real&reactor.EventWrite != 0 && !ctx.write.empty() {
		remainder := ctx.mask &^ reactor.EventWrite
		if remainder == reactor.EventNone {
			_ = m.react.Remove(fd)
		} else {
			_ = m.react.Modify(fd, remainder)
		}
		ctx.mask = remainder
		m.trigger(&ctx.write)
	}
}

// trigger schedules the slot's waiter on its captured scheduler and clears
// the slot. Must be called with the owning fdEvents mutex held.
func (m *IOManager) trigger(sl *slot) {
	scheduleSlot(sl)
	sl.clear()
	m.pending.Add(-1)
}

// Close releases the reactor and self-pipe. Call after Stop().
func (m *IOManager) Close() error {
	unix.Close(m.pipeR)
	unix.Close(m.pipeW)
	return m.react.Close()
}

var defaultManager atomic.Pointer[IOManager]

// SetDefault installs the process-wide IOManager that package hook dispatches
// against — the Go substitute for original_source/fiber_lib's
// IOManager::GetThis(), which resolves to a thread_local pointer. A Go
// process typically runs a single IOManager multiplexing every worker, so
// one process-wide slot (mirroring fdtable.Default) is enough.
func SetDefault(m *IOManager) { defaultManager.Store(m) }

// Default returns the process-wide IOManager installed by SetDefault, or nil
// if none has been set yet.
func Default() *IOManager { return defaultManager.Load() }

// GetThis is an alias for Default, named after the C++ original's
// thread_local accessor. Go has no actual thread-local storage, so this
// resolves to the same process-wide slot as Default — see DESIGN.md.
func GetThis() *IOManager { return Default() }
