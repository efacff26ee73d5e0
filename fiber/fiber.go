// File: fiber/fiber.go
// Package fiber implements stackful coroutines ("fibers") for the runtime.
// Author: vela-run contributors
// License: Apache-2.0
//
// Go exposes no user-space context-swap primitive (no ucontext/makecontext,
// no portable asm trampoline worth hand-rolling). A Fiber is instead a
// goroutine — which already owns an independent, growable stack — parked on
// a channel handshake. Resume and Yield are the two sides of that handshake;
// the goroutine's own stack plays the role spec.md assigns to an "owned
// stack buffer."
package fiber

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"
)

// State is the lifecycle state of a Fiber.
type State int

const (
	// Ready means the fiber is constructed or has yielded and can be resumed.
	Ready State = iota
	// Running means the fiber currently holds the thread of control.
	Running
	// Term means the fiber's callable has returned; it can never run again.
	Term
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Term:
		return "TERM"
	default:
		return "UNKNOWN"
	}
}

// Callable is the body a fiber runs.
type Callable func()

// locals holds per-worker fiber bookkeeping. Go cannot pin a goroutine to an
// OS thread without LockOSThread, and fibers migrate freely across the
// scheduler's workers (spec.md §5), so "thread-local" here means "per logical
// worker goroutine": each worker goroutine owns exactly one *locals value and
// passes it explicitly to the fibers it resumes. Code with no Locals in scope
// recovers it through goroutineLocals below, which is keyed by goroutine id.
type locals struct {
	mu          sync.Mutex
	current     *Fiber
	main        *Fiber
	hookEnabled bool
}

// Locals is the per-worker bookkeeping handle. Worker goroutines create one
// with NewLocals and thread it through Resume calls.
type Locals struct {
	l locals
}

// NewLocals creates an empty per-worker locals block.
func NewLocals() *Locals {
	return &Locals{}
}

// Current returns the fiber currently running on this worker, or nil.
func (tl *Locals) Current() *Fiber {
	tl.l.mu.Lock()
	defer tl.l.mu.Unlock()
	return tl.l.current
}

// Main lazily creates and returns this worker's main fiber, which wraps the
// worker goroutine's own stack and has no callable.
func (tl *Locals) Main() *Fiber {
	tl.l.mu.Lock()
	defer tl.l.mu.Unlock()
	if tl.l.main == nil {
		tl.l.main = &Fiber{
			state:  Running,
			locals: tl,
			main:   true,
		}
	}
	return tl.l.main
}

func (tl *Locals) setCurrent(f *Fiber) {
	tl.l.mu.Lock()
	tl.l.current = f
	tl.l.mu.Unlock()
}

// HookEnabled reports whether syscall interception (package hook) is active
// for fibers running on this worker — the Go substitute for
// original_source/fiber_lib's thread_local t_hook_enable.
func (tl *Locals) HookEnabled() bool {
	tl.l.mu.Lock()
	defer tl.l.mu.Unlock()
	return tl.l.hookEnabled
}

// SetHookEnabled toggles syscall interception for this worker.
func (tl *Locals) SetHookEnabled(v bool) {
	tl.l.mu.Lock()
	tl.l.hookEnabled = v
	tl.l.mu.Unlock()
}

// Fiber is a stackful coroutine: a goroutine plus a saved "continuation"
// represented by the pair of handshake channels below.
type Fiber struct {
	id       uint64
	mu       sync.Mutex
	state    State
	callable Callable
	locals   *Locals
	owner    *Locals // the Locals that most recently resumed this fiber
	main     bool

	resumeCh chan struct{}
	yieldCh  chan struct{}
	started  bool
}

// goroutineLocals lets code with no Locals in scope — chiefly package hook,
// called deep inside arbitrary user code — recover the Locals block owning
// whichever fiber is running on the calling goroutine. original_source's
// hook.cpp carries the equivalent context in a thread_local; Go has no such
// primitive, so this keys off the goroutine id parsed out of runtime.Stack
// instead. Entries are set whenever a fiber's own goroutine starts or
// resumes running, and cleared on terminal return.
var goroutineLocals sync.Map // map[uint64]*Locals

func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

// CurrentLocals returns the Locals block owning whichever fiber is running
// on the calling goroutine, or nil if the calling goroutine is not a fiber
// (e.g. it never went through Resume/run).
func CurrentLocals() *Locals {
	v, ok := goroutineLocals.Load(goroutineID())
	if !ok {
		return nil
	}
	return v.(*Locals)
}

// GetThis is an alias for CurrentLocals, named after the C++ original's
// thread_local accessor; see DESIGN.md for why this is goroutine-keyed
// instead of a true thread-local.
func GetThis() *Locals { return CurrentLocals() }

func registerGoroutineLocals(loc *Locals) {
	if loc != nil {
		goroutineLocals.Store(goroutineID(), loc)
	}
}

func unregisterGoroutineLocals() {
	goroutineLocals.Delete(goroutineID())
}

var idSeq struct {
	mu   sync.Mutex
	next uint64
}

func nextID() uint64 {
	idSeq.mu.Lock()
	defer idSeq.mu.Unlock()
	idSeq.next++
	return idSeq.next
}

// Construct allocates a new fiber bound to callable, in the Ready state.
// Where the C++ original distinguishes a fiber whose terminal yield lands on
// a dedicated scheduling fiber from one that lands on the worker's main
// fiber, this package has no such distinction to make: the channel handshake
// in Resume/Yield always hands control back to whichever Locals called
// Resume, worker loop or otherwise, so there is nothing a separate
// "scheduling fiber" target would add. See DESIGN.md for the full reasoning.
func Construct(callable Callable) *Fiber {
	return &Fiber{
		id:       nextID(),
		state:    Ready,
		callable: callable,
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan struct{}),
	}
}

// ID returns the fiber's stable identifier.
func (f *Fiber) ID() uint64 { return f.id }

func (f *Fiber) currentOwner() *Locals {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owner
}

// State returns the fiber's current lifecycle state.
func (f *Fiber) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Resume jumps into the fiber, blocking the caller until the fiber yields or
// terminates. It is a programming error to Resume a TERM fiber or a fiber
// from a worker other than the one that is meant to own it while running;
// both panic per spec.md §7's "fatal programming errors" taxonomy.
func (f *Fiber) Resume(on *Locals) {
	f.mu.Lock()
	if f.main {
		f.mu.Unlock()
		panic("fiber: cannot resume the main fiber")
	}
	if f.state == Term {
		f.mu.Unlock()
		panic(fmt.Sprintf("fiber: resume of terminated fiber %d", f.id))
	}
	if f.state != Ready {
		f.mu.Unlock()
		panic(fmt.Sprintf("fiber: resume of fiber %d in state %s", f.id, f.state))
	}
	f.state = Running
	f.owner = on
	first := !f.started
	f.started = true
	f.mu.Unlock()

	on.setCurrent(f)

	if first {
		go f.run()
	} else {
		f.resumeCh <- struct{}{}
	}
	<-f.yieldCh
}

// run is the goroutine entry point; it executes once per callable binding
// (after Reset, the next Resume starts a fresh run on a new goroutine).
func (f *Fiber) run() {
	registerGoroutineLocals(f.currentOwner())
	defer unregisterGoroutineLocals()
	f.callable()
	f.mu.Lock()
	f.state = Term
	f.mu.Unlock()
	f.yieldCh <- struct{}{}
}

// Yield suspends the calling fiber, returning control to whichever locals
// resumed it. It must be called from within the fiber's own goroutine.
func Yield(on *Locals) {
	f := on.Current()
	if f == nil || f.main {
		return
	}
	f.mu.Lock()
	wasRunning := f.state == Running
	if wasRunning {
		f.state = Ready
	}
	f.mu.Unlock()

	f.yieldCh <- struct{}{}
	<-f.resumeCh
	registerGoroutineLocals(f.currentOwner())
	_ = wasRunning
}

// Reset rebinds a TERM fiber to a new callable and returns it to READY,
// keeping the same *Fiber and id. It replaces both handshake channels, and
// the next Resume runs the callable on a fresh goroutine via a new run()
// invocation; neither the old goroutine's stack nor the old channels are
// reused, since Go stacks are not independently addressable.
func (f *Fiber) Reset(callable Callable) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Term {
		panic("fiber: reset of non-terminated fiber")
	}
	f.callable = callable
	f.state = Ready
	f.started = false
	f.resumeCh = make(chan struct{})
	f.yieldCh = make(chan struct{})
}
