// File: hook/hook.go
// Package hook reimagines spec.md §4.6's syscall-interception layer for Go.
// Author: vela-run contributors
// License: Apache-2.0
//
// original_source/fiber_lib/6hook/hook.cpp intercepts libc symbols at link
// time via dlsym(RTLD_NEXT, ...): a process that calls the plain POSIX read()
// transparently gets the coroutine-aware version. Go has no equivalent
// dynamic-linker hook, so interception here is explicit: callers that want
// fiber-suspending I/O call hook.Read instead of a raw syscall. Everything
// downstream of that choice — the retry/park template, the per-fd bookkeeping,
// the condition-timer-raced timeout — is grounded on the original's do_io.
package hook

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/vela-run/fiberio/api"
	"github.com/vela-run/fiberio/fdtable"
	"github.com/vela-run/fiberio/fiber"
	"github.com/vela-run/fiberio/ioreactor"
	"github.com/vela-run/fiberio/reactor"
	"github.com/vela-run/fiberio/timer"
)

// connectTimeoutMs is the default timeout applied to hook.Connect when the
// caller does not specify one via ConnectTimeout, mirroring
// original_source's s_connect_timeout (initialized to "no timeout").
var connectTimeoutMs int64 = fdtable.NoTimeout

// SetConnectTimeout changes the default used by Connect. Pass
// fdtable.NoTimeout to block forever (the original's default).
func SetConnectTimeout(ms int64) { atomic.StoreInt64(&connectTimeoutMs, ms) }

func defaultConnectTimeout() int64 { return atomic.LoadInt64(&connectTimeoutMs) }

// Enable turns on syscall interception on the worker (fiber.Locals) running
// the calling fiber; the flag stays set for every later fiber that worker
// runs. A no-op if called from outside a fiber.
func Enable() { setEnabled(true) }

// Disable turns interception back off on the worker running the calling
// fiber.
func Disable() { setEnabled(false) }

// Enabled reports whether interception is active on the worker running the
// calling fiber.
func Enabled() bool {
	loc := fiber.CurrentLocals()
	return loc != nil && loc.HookEnabled()
}

func setEnabled(v bool) {
	if loc := fiber.CurrentLocals(); loc != nil {
		loc.SetHookEnabled(v)
	}
}

// timerInfo is the condition a parked I/O operation races its timeout
// against — the Go stand-in for original_source's shared_ptr<timer_info>
// plus weak_ptr liveness check. Since doIO keeps a strong reference for as
// long as the condition timer can possibly fire, Resolve never reports a
// dead referent; its "cancelled" result is the flag markTimedOut sets, i.e.
// whether this operation has already timed out. A successful retry does not
// set the flag; doIO cancels the timer instead.
type timerInfo struct {
	flag atomic.Bool
}

func (t *timerInfo) markTimedOut() bool { return t.flag.CompareAndSwap(false, true) }
func (t *timerInfo) timedOut() bool     { return t.flag.Load() }

// Resolve implements timer.Condition.
func (t *timerInfo) Resolve() (cancelled bool, ok bool) {
	return t.flag.Load(), true
}

// manager returns the process-wide IOManager, or nil if none was installed
// via ioreactor.SetDefault — callers fall back to the raw syscall in that
// case, exactly like t_hook_enable being false.
func manager() *ioreactor.IOManager { return ioreactor.Default() }

// doIO is the shared template behind every blocking read/write-family hook:
// try the raw call, retry transparently on EINTR, and on EAGAIN park the
// calling fiber on the fd's readiness event (racing an optional timeout)
// before retrying. Grounded on hook.cpp's do_io.
func doIO(fd int, event reactor.EventMask, timeoutKind fdtable.TimeoutKind, call func() (int, error)) (int, error) {
	loc := fiber.CurrentLocals()
	if loc == nil || !loc.HookEnabled() {
		return call()
	}
	mgr := manager()
	if mgr == nil {
		return call()
	}
	ctx, ok := fdtable.Default().Get(fd, false)
	if !ok {
		return call()
	}
	if ctx.IsClosed() {
		return -1, api.Wrap(api.ErrCodeClosed, "hook: fd closed", unix.EBADF)
	}
	if !ctx.IsSocket() || ctx.UserNonblock() {
		return call()
	}

	timeoutMs := ctx.Timeout(timeoutKind)
	tinfo := &timerInfo{}

	for {
		n, err := call()
		for err == unix.EINTR {
			n, err = call()
		}
		if err != unix.EAGAIN {
			return n, err
		}

		var th timer.Handle
		hasTimer := timeoutMs != fdtable.NoTimeout
		if hasTimer {
			th = mgr.Timers.AddConditionTimer(timeoutMs, func() {
				if tinfo.markTimedOut() {
					mgr.CancelEvent(fd, event)
				}
			}, tinfo, false)
		}

		if aerr := mgr.AddEvent(mgr.Scheduler, loc, fd, event, nil); aerr != nil {
			if hasTimer {
				mgr.Timers.Cancel(th)
			}
			return -1, aerr
		}

		fiber.Yield(loc)

		if hasTimer {
			mgr.Timers.Cancel(th)
		}
		if tinfo.timedOut() {
			return -1, api.Wrap(api.ErrCodeTimeout, "hook: i/o timed out", unix.ETIMEDOUT).WithContext("fd", fd)
		}
	}
}
