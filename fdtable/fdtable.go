// File: fdtable/fdtable.go
// Package fdtable is the process-wide per-fd metadata table described in
// spec.md §4.5. Author: vela-run contributors. License: Apache-2.0.
//
// Grounded on _examples/original_source/fiber_lib/6hook/fd_manager.h for the
// exact field set and growth policy, and on control/config.go's
// RWMutex-guarded-map shape (kept in package control) for the locking
// discipline: a shared lock for the hot get() path, promoted to exclusive
// only to grow or install.
package fdtable

import (
	"sync"

	"golang.org/x/sys/unix"
)

// EventKind distinguishes the two event slots a FdContext carries.
type EventKind int

const (
	Read EventKind = iota
	Write
)

// TimeoutKind distinguishes recv/send timeout bookkeeping.
type TimeoutKind int

const (
	RecvTimeout TimeoutKind = iota
	SendTimeout
)

// NoTimeout is the sentinel meaning "block forever" — spec.md's "-1 as
// unsigned" convention, modeled directly as a negative int64 here since Go
// timeouts are natively signed.
const NoTimeout int64 = -1

// FdContext holds per-fd state: socket-ness, nonblock bookkeeping, timeouts,
// and closed flag. userNonblockSet is a tri-state (supplementing spec.md per
// original_source/fiber_lib's FdCtx::init, which distinguishes "never
// touched" from "explicitly cleared").
type FdContext struct {
	mu sync.Mutex

	fd              int
	isInit          bool
	isSocket        bool
	sysNonblock     bool
	userNonblock    bool
	userNonblockSet bool
	closed          bool
	recvTimeoutMs   int64
	sendTimeoutMs   int64
}

// Fd returns the underlying OS file descriptor.
func (c *FdContext) Fd() int { return c.fd }

// IsSocket reports whether fstat identified this fd as a socket at init.
func (c *FdContext) IsSocket() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isSocket
}

// IsInit reports whether fstat succeeded at construction time. When false,
// the hook layer must treat this fd as "not eligible" and pass through.
func (c *FdContext) IsInit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isInit
}

// SysNonblock reports whether the runtime itself forced O_NONBLOCK.
func (c *FdContext) SysNonblock() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sysNonblock
}

// UserNonblock reports the user's own requested nonblock intent, which never
// reflects the real (system-forced) kernel state.
func (c *FdContext) UserNonblock() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userNonblock
}

// SetUserNonblock records the user's intent, distinct from the kernel's
// system-forced nonblock state.
func (c *FdContext) SetUserNonblock(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userNonblock = v
	c.userNonblockSet = true
}

// UserNonblockExplicit reports whether the user ever called fcntl/ioctl to
// set nonblock mode explicitly, as opposed to it defaulting to false.
func (c *FdContext) UserNonblockExplicit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userNonblockSet
}

// IsClosed reports whether Close has already been recorded for this fd.
func (c *FdContext) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// MarkClosed records that the fd has been closed.
func (c *FdContext) MarkClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Timeout returns the recv or send timeout in milliseconds, or NoTimeout.
func (c *FdContext) Timeout(kind TimeoutKind) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == RecvTimeout {
		return c.recvTimeoutMs
	}
	return c.sendTimeoutMs
}

// SetTimeout stores a recv or send timeout in milliseconds.
func (c *FdContext) SetTimeout(kind TimeoutKind, ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == RecvTimeout {
		c.recvTimeoutMs = ms
	} else {
		c.sendTimeoutMs = ms
	}
}

func newFdContext(fd int) *FdContext {
	c := &FdContext{
		fd:            fd,
		recvTimeoutMs: NoTimeout,
		sendTimeoutMs: NoTimeout,
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		// fstat failed: context stays uninitialized; hook layer passes
		// through rather than synthesizing an error (spec.md §7).
		return c
	}
	c.isInit = true
	c.isSocket = (st.Mode & unix.S_IFMT) == unix.S_IFSOCK
	if c.isSocket {
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
		if err == nil {
			_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK)
			c.sysNonblock = true
		}
	}
	return c
}

// Manager is the sparse, process-wide fd table. It is guarded by a
// reader/writer lock: the hot Get path takes only the shared lock; growth
// and insertion promote to exclusive.
type Manager struct {
	mu  sync.RWMutex
	fds []*FdContext
}

var (
	singletonOnce sync.Once
	singleton     *Manager
)

// Default returns the process-wide FdManager singleton. It is lazily
// initialized and, per spec.md §9, never torn down: its lifetime is the
// process's.
func Default() *Manager {
	singletonOnce.Do(func() { singleton = New() })
	return singleton
}

// New constructs a standalone FdManager, primarily for tests; production
// code should use Default().
func New() *Manager {
	return &Manager{}
}

// Get returns the context for fd. If absent and autoCreate is false, it
// returns (nil, false). If absent and autoCreate is true, it promotes to an
// exclusive lock, grows the table if needed, and constructs a new context.
func (m *Manager) Get(fd int, autoCreate bool) (*FdContext, bool) {
	if fd < 0 {
		return nil, false
	}
	m.mu.RLock()
	if fd < len(m.fds) && m.fds[fd] != nil {
		c := m.fds[fd]
		m.mu.RUnlock()
		return c, true
	}
	m.mu.RUnlock()

	if !autoCreate {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if fd < len(m.fds) && m.fds[fd] != nil {
		return m.fds[fd], true
	}
	m.grow(fd)
	c := newFdContext(fd)
	m.fds[fd] = c
	return c, true
}

// grow must be called with the exclusive lock held. It expands the slice so
// index fd is valid, following spec.md's max(requested*1.5, requested+1)
// policy.
func (m *Manager) grow(fd int) {
	if fd < len(m.fds) {
		return
	}
	target := fd + 1
	grown := int(float64(target) * 1.5)
	if grown < target+1 {
		grown = target + 1
	}
	next := make([]*FdContext, grown)
	copy(next, m.fds)
	m.fds = next
}

// Del clears the slot for fd. The underlying slice is never shrunk — per
// spec.md §9, this is accepted as a tradeoff since fds are reused, though a
// process that transiently saw one huge fd never reclaims that memory.
func (m *Manager) Del(fd int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fd >= 0 && fd < len(m.fds) {
		m.fds[fd] = nil
	}
}
