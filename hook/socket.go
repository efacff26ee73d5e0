// File: hook/socket.go
// Socket lifecycle and descriptor-flag hooks: Socket, Connect, Close, Fcntl,
// Ioctl, SetsockoptTimeout, GetsockoptInt. Grounded on hook.cpp's
// corresponding functions.
// Author: vela-run contributors
// License: Apache-2.0
package hook

import (
	"golang.org/x/sys/unix"

	"github.com/vela-run/fiberio/api"
	"github.com/vela-run/fiberio/fdtable"
	"github.com/vela-run/fiberio/fiber"
	"github.com/vela-run/fiberio/reactor"
)

// Socket creates a socket and registers it with the process-wide fd table,
// mirroring hook.cpp's socket().
func Socket(domain, typ, proto int) (int, error) {
	fd, err := unix.Socket(domain, typ, proto)
	if err != nil {
		return fd, err
	}
	fdtable.Default().Get(fd, true)
	return fd, nil
}

// Connect dials with the default timeout set by SetConnectTimeout.
func Connect(fd int, sa unix.Sockaddr) error {
	return ConnectTimeout(fd, sa, defaultConnectTimeout())
}

// ConnectTimeout dials fd, parking the calling fiber on write-readiness
// (racing timeoutMs) instead of blocking if the connect is still in
// progress when it returns EINPROGRESS. Grounded on hook.cpp's
// connect_with_timeout.
func ConnectTimeout(fd int, sa unix.Sockaddr, timeoutMs int64) error {
	loc := fiber.CurrentLocals()
	if loc == nil || !loc.HookEnabled() {
		return unix.Connect(fd, sa)
	}
	ctx, ok := fdtable.Default().Get(fd, false)
	if !ok || ctx.IsClosed() {
		return api.Wrap(api.ErrCodeClosed, "hook: fd closed", unix.EBADF)
	}
	if !ctx.IsSocket() || ctx.UserNonblock() {
		return unix.Connect(fd, sa)
	}

	err := unix.Connect(fd, sa)
	if err == nil {
		return nil
	}
	if err != unix.EINPROGRESS {
		return err
	}

	mgr := manager()
	if mgr == nil {
		return err
	}

	tinfo := &timerInfo{}
	hasTimer := timeoutMs != fdtable.NoTimeout
	cancelTimer := func() {}
	if hasTimer {
		handle := mgr.Timers.AddConditionTimer(timeoutMs, func() {
			if tinfo.markTimedOut() {
				mgr.CancelEvent(fd, reactor.EventWrite)
			}
		}, tinfo, false)
		cancelTimer = func() { mgr.Timers.Cancel(handle) }
	}

	if aerr := mgr.AddEvent(mgr.Scheduler, loc, fd, reactor.EventWrite, nil); aerr != nil {
		cancelTimer()
		return aerr
	}

	fiber.Yield(loc)
	cancelTimer()
	if tinfo.timedOut() {
		return api.Wrap(api.ErrCodeTimeout, "hook: connect timed out", unix.ETIMEDOUT).WithContext("fd", fd)
	}

	soErr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if gerr != nil {
		return gerr
	}
	if soErr != 0 {
		return unix.Errno(soErr)
	}
	return nil
}

// Close cancels every pending event on fd before releasing it, mirroring
// hook.cpp's close(): cancelAll wakes parked fibers without injecting an
// error — their next raw syscall is what will observe EBADF.
func Close(fd int) error {
	ctx, ok := fdtable.Default().Get(fd, false)
	if ok {
		if mgr := manager(); mgr != nil {
			mgr.CancelAll(fd)
		}
		ctx.MarkClosed()
		fdtable.Default().Del(fd)
	}
	return unix.Close(fd)
}

// Fcntl implements F_SETFL/F_GETFL's nonblock-flag virtualization: the
// caller's intent is recorded on the FdContext, but the fd stays
// system-forced nonblocking underneath so the hook layer can still park
// fibers on it. Every other command passes straight through.
func Fcntl(fd int, cmd int, arg int) (int, error) {
	ctx, ok := fdtable.Default().Get(fd, false)
	if !ok || ctx.IsClosed() || !ctx.IsSocket() {
		return unix.FcntlInt(uintptr(fd), cmd, arg)
	}

	switch cmd {
	case unix.F_SETFL:
		ctx.SetUserNonblock(arg&unix.O_NONBLOCK != 0)
		if ctx.SysNonblock() {
			arg |= unix.O_NONBLOCK
		} else {
			arg &^= unix.O_NONBLOCK
		}
		return unix.FcntlInt(uintptr(fd), cmd, arg)
	case unix.F_GETFL:
		raw, err := unix.FcntlInt(uintptr(fd), cmd, 0)
		if err != nil {
			return raw, err
		}
		if ctx.UserNonblock() {
			return raw | unix.O_NONBLOCK, nil
		}
		return raw &^ unix.O_NONBLOCK, nil
	default:
		return unix.FcntlInt(uintptr(fd), cmd, arg)
	}
}

// Ioctl records FIONBIO's requested nonblock mode on the FdContext as the
// user's intent, then issues the request to the kernel with the caller's
// value unchanged (passed by pointer, as FIONBIO expects). Unlike Fcntl's
// F_SETFL branch it does not rewrite the value, so FIONBIO with 0 also clears
// the kernel's O_NONBLOCK. Every other request passes straight through via
// IoctlSetInt.
func Ioctl(fd int, request uint, value int) error {
	if request == unix.FIONBIO {
		ctx, ok := fdtable.Default().Get(fd, false)
		if ok && !ctx.IsClosed() && ctx.IsSocket() {
			ctx.SetUserNonblock(value != 0)
		}
		return unix.IoctlSetPointerInt(fd, request, value)
	}
	return unix.IoctlSetInt(fd, request, value)
}

// SetsockoptTimeout implements SO_RCVTIMEO/SO_SNDTIMEO: the timeout is
// recorded on the FdContext for doIO to consult, then also applied to the
// kernel socket as hook.cpp's setsockopt() does (belt and suspenders — the
// socket is already nonblocking, so the kernel-level timeout rarely fires,
// but nothing else in the stack clears it either).
func SetsockoptTimeout(fd, level, optname int, timeout unix.Timeval) error {
	if level == unix.SOL_SOCKET && (optname == unix.SO_RCVTIMEO || optname == unix.SO_SNDTIMEO) {
		if ctx, ok := fdtable.Default().Get(fd, false); ok {
			ms := int64(timeout.Sec)*1000 + int64(timeout.Usec)/1000
			kind := fdtable.RecvTimeout
			if optname == unix.SO_SNDTIMEO {
				kind = fdtable.SendTimeout
			}
			ctx.SetTimeout(kind, ms)
		}
	}
	return unix.SetsockoptTimeval(fd, level, optname, &timeout)
}

// GetsockoptInt is a pure pass-through, per hook.cpp's own comment that reading
// socket options needs no coroutine-layer involvement.
func GetsockoptInt(fd, level, opt int) (int, error) {
	return unix.GetsockoptInt(fd, level, opt)
}
