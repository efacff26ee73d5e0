// File: scheduler/scheduler.go
// Author: vela-run contributors
// License: Apache-2.0
//
// Scheduler owns a worker pool and a single shared FIFO task queue, per
// spec.md §4.2's rationale: a shared queue (rather than per-worker sharded
// queues, as in hioload-ws's internal/concurrency.Executor) keeps pinning
// simple and correct at this scale. The backing store is eapache/queue's
// ring-buffer Queue, reused under our own mutex for the scan-and-remove
// semantics spec.md requires (arbitrary-position removal by predicate,
// not just front/back).
package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"golang.org/x/sys/cpu"

	"github.com/vela-run/fiberio/fiber"
	"github.com/vela-run/fiberio/osthread"
	"github.com/vela-run/fiberio/runtimelog"
)

var log = runtimelog.For("scheduler")

// IdleFunc is the body of a worker's idle fiber — resumed whenever the task
// queue is empty. Schedulers default to a park-on-notify loop; IOManager
// overrides this to drive its reactor instead (composition, since Go has no
// subclassing).
type IdleFunc func(s *Scheduler, workerID int, loc *fiber.Locals)

// Scheduler multiplexes fibers and bare callables across a worker pool.
type Scheduler struct {
	name        string
	threadCount int
	useCaller   bool

	mu sync.Mutex
	q  *queue.Queue

	active atomic.Int64
	stopFl atomic.Bool

	tickleCh chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once

	threads []*osthread.Thread
	workers []*workerState

	idleFn       IdleFunc
	stoppingHook func() bool

	startOnce sync.Once
	started   atomic.Bool
}

type workerState struct {
	id    int
	locs  *fiber.Locals
	idleF *fiber.Fiber
}

var registry struct {
	mu    sync.Mutex
	names map[string]bool
}

// New constructs a Scheduler. threadCount is the total worker count; if
// useCaller is true, one of those workers is hosted on the calling goroutine
// via RunCaller instead of being spawned automatically by Start.
func New(threadCount int, useCaller bool, name string) *Scheduler {
	if threadCount <= 0 {
		threadCount = 1
	}
	registry.mu.Lock()
	if registry.names == nil {
		registry.names = make(map[string]bool)
	}
	for registry.names[name] {
		name = name + "#"
	}
	registry.names[name] = true
	registry.mu.Unlock()

	s := &Scheduler{
		name:        name,
		threadCount: threadCount,
		useCaller:   useCaller,
		q:           queue.New(),
		tickleCh:    make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
	s.idleFn = defaultIdle
	return s
}

func defaultIdle(s *Scheduler, workerID int, loc *fiber.Locals) {
	select {
	case <-s.tickleCh:
	case <-s.stopCh:
	}
}

// SetIdleFunc overrides the idle-fiber body. Must be called before Start.
func (s *Scheduler) SetIdleFunc(fn IdleFunc) {
	s.idleFn = fn
}

// SetStoppingHook lets a composing type (IOManager) extend the drain
// condition the idle fiber watches — since Go has no virtual dispatch
// through embedding, Scheduler cannot simply call an overridden Stopping()
// on its own. When set, it replaces the base stopFl/queue/active check for
// the idle fiber's loop condition; Stopping() still reports the hook's
// answer to external callers too.
func (s *Scheduler) SetStoppingHook(fn func() bool) {
	s.stoppingHook = fn
}

func (s *Scheduler) isStopping() bool {
	if s.stoppingHook != nil {
		return s.stoppingHook()
	}
	return s.baseStopping()
}

// BaseStopping reports the plain Scheduler drain condition (stop requested,
// queue empty, no task mid-execution) without consulting any installed
// stopping hook. Composing types use this from inside their own hook to
// avoid calling back into their own override.
func (s *Scheduler) BaseStopping() bool {
	return s.baseStopping()
}

func (s *Scheduler) baseStopping() bool {
	return s.stopFl.Load() && s.queueEmpty() && s.active.Load() == 0
}

// Name returns the scheduler's diagnostic name.
func (s *Scheduler) Name() string { return s.name }

// UsesCaller reports whether this scheduler reserves a slot for RunCaller.
func (s *Scheduler) UsesCaller() bool { return s.useCaller }

// ThreadCount returns the configured worker count.
func (s *Scheduler) ThreadCount() int { return s.threadCount }

// Schedule appends a fiber-or-callable task, waking an idle worker if the
// queue was empty. target is AnyThread or a specific worker id in
// [0, ThreadCount).
func (s *Scheduler) Schedule(t Task) {
	if t.Target < AnyThread || t.Target >= s.threadCount {
		panic(fmt.Sprintf("scheduler: invalid target thread %d", t.Target))
	}
	s.mu.Lock()
	wasEmpty := s.q.Length() == 0
	s.q.Add(t)
	s.mu.Unlock()
	if wasEmpty {
		s.tickle()
	}
}

// ScheduleFiber is a convenience wrapper for submitting an existing fiber.
func (s *Scheduler) ScheduleFiber(f *fiber.Fiber, target int) {
	s.Schedule(Task{Fiber: f, Target: target})
}

// ScheduleFunc is a convenience wrapper for submitting a bare callable, which
// the worker wraps in a fresh fiber when it is dequeued.
func (s *Scheduler) ScheduleFunc(fn func(), target int) {
	s.Schedule(Task{Callable: fn, Target: target})
}

func (s *Scheduler) tickle() {
	select {
	case s.tickleCh <- struct{}{}:
	default:
	}
}

// dequeueFor scans the queue from the head for the first task runnable on
// workerID (target == AnyThread or == workerID), removing it in place while
// preserving the relative order of everything left behind. It reports
// whether any task was skipped because it is pinned to a different worker.
func (s *Scheduler) dequeueFor(workerID int) (task Task, found bool, skippedPinned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.q.Length()
	buffered := make([]Task, 0, n)
	for i := 0; i < n; i++ {
		t := s.q.Remove().(Task)
		if !found && (t.Target == AnyThread || t.Target == workerID) {
			task = t
			found = true
			continue
		}
		if t.Target != AnyThread && t.Target != workerID {
			skippedPinned = true
		}
		buffered = append(buffered, t)
	}
	for _, t := range buffered {
		s.q.Add(t)
	}
	return task, found, skippedPinned
}

func (s *Scheduler) queueEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Length() == 0
}

// Start launches the background workers (threadCount, minus one if
// useCaller) and, if useCaller is false, returns immediately. If useCaller
// is true, the caller must separately invoke RunCaller on the same goroutine
// it intends to dedicate to the scheduler.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		first := 0
		if s.useCaller {
			first = 1
		}
		for id := first; id < s.threadCount; id++ {
			workerID := id
			t := osthread.New(fmt.Sprintf("%s-worker-%d", s.name, workerID), func() {
				s.runWorker(workerID)
			})
			s.threads = append(s.threads, t)
		}
		// Reported once at startup, grounded on the teacher's
		// internal/concurrency/scheduler.go, which gated a prefetch hint in its
		// hot dequeue loop on cpu.X86.HasSSE2 behind a call to cpu.Prefetch that
		// golang.org/x/sys/cpu does not actually export — real feature flags
		// are reported instead of calling a function that doesn't exist.
		log.Debug().
			Str("scheduler", s.name).
			Int("workers", s.threadCount-first).
			Bool("avx2", cpu.X86.HasAVX2).
			Msg("scheduler started")
	})
}

// RunCaller hosts worker slot 0 on the calling goroutine; it blocks until
// Stop is called from elsewhere. Only valid when New was constructed with
// useCaller=true.
func (s *Scheduler) RunCaller() {
	if !s.useCaller {
		panic("scheduler: RunCaller called without useCaller")
	}
	s.runWorker(0)
}

func (s *Scheduler) runWorker(workerID int) {
	loc := fiber.NewLocals()
	loc.Main()
	ws := &workerState{id: workerID, locs: loc}

	s.mu.Lock()
	for len(s.workers) <= workerID {
		s.workers = append(s.workers, nil)
	}
	s.workers[workerID] = ws
	s.mu.Unlock()

	ws.idleF = fiber.Construct(func() {
		for !s.isStopping() {
			s.idleFn(s, workerID, loc)
			fiber.Yield(loc)
		}
	})

	for {
		task, found, skippedPinned := s.dequeueFor(workerID)
		tickleMe := skippedPinned || (!found && !s.queueEmpty())
		if tickleMe {
			s.tickle()
		}

		switch {
		case found && task.isFiber():
			if task.Fiber.State() != fiber.Term {
				s.active.Add(1)
				task.Fiber.Resume(loc)
				s.active.Add(-1)
			}
		case found:
			s.active.Add(1)
			f := fiber.Construct(task.Callable)
			f.Resume(loc)
			s.active.Add(-1)
		default:
			ws.idleF.Resume(loc)
			if ws.idleF.State() == fiber.Term {
				return
			}
		}
	}
}

// Stop requests shutdown: signals every worker loop (RunCaller's included)
// and joins every worker osthread.Thread launched by Start. Stopping()
// becomes true only once the queue is empty and no fiber is mid-flight.
func (s *Scheduler) Stop() {
	s.stopFl.Store(true)
	s.stopOnce.Do(func() { close(s.stopCh) })
	for _, t := range s.threads {
		t.Join()
	}
	log.Debug().Str("scheduler", s.name).Msg("scheduler stopped")
}

// Stopping reports whether shutdown has been requested and has fully drained:
// the stop flag is set, the queue is empty, and no task is mid-execution
// (extended by any hook installed via SetStoppingHook).
func (s *Scheduler) Stopping() bool {
	return s.isStopping()
}

// StopRequested reports whether Stop has been called, regardless of whether
// the scheduler has finished draining. Application-level loops that run
// inside a long-lived fiber (and so always count as "active" themselves)
// should check this instead of Stopping(), which never becomes true while
// the checking fiber itself is still running.
func (s *Scheduler) StopRequested() bool { return s.stopFl.Load() }

// MarkActive/MarkIdle let composing types (IOManager) account for fibers
// they resume outside the normal dequeue path (e.g. re-triggered I/O
// waiters) so Stopping() stays accurate.
func (s *Scheduler) MarkActive() { s.active.Add(1) }
func (s *Scheduler) MarkIdle()   { s.active.Add(-1) }
