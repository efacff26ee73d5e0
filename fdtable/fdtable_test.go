package fdtable

import (
	"testing"

	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestGetAutoCreateForSocket(t *testing.T) {
	a, _ := socketPair(t)
	m := New()

	ctx, ok := m.Get(a, true)
	if !ok {
		t.Fatal("expected auto-created context")
	}
	if !ctx.IsInit() {
		t.Fatal("expected fstat to succeed for a real socket fd")
	}
	if !ctx.IsSocket() {
		t.Fatal("expected socket fd to be recognized as a socket")
	}
	if !ctx.SysNonblock() {
		t.Fatal("expected socket init to force O_NONBLOCK")
	}

	flags, err := unix.FcntlInt(uintptr(a), unix.F_GETFL, 0)
	if err != nil {
		t.Fatalf("fcntl getfl: %v", err)
	}
	if flags&unix.O_NONBLOCK == 0 {
		t.Fatal("expected kernel O_NONBLOCK to actually be set on the socket")
	}
}

func TestGetWithoutAutoCreateReturnsAbsent(t *testing.T) {
	m := New()
	_, ok := m.Get(123456, false)
	if ok {
		t.Fatal("expected absent entry without autoCreate")
	}
}

func TestGetIsIdempotent(t *testing.T) {
	a, _ := socketPair(t)
	m := New()
	c1, _ := m.Get(a, true)
	c2, _ := m.Get(a, true)
	if c1 != c2 {
		t.Fatal("expected repeated Get to return the same context instance")
	}
}

func TestDelClearsSlot(t *testing.T) {
	a, _ := socketPair(t)
	m := New()
	m.Get(a, true)
	m.Del(a)
	_, ok := m.Get(a, false)
	if ok {
		t.Fatal("expected Del to clear the slot")
	}
}

func TestTimeoutRoundTrip(t *testing.T) {
	a, _ := socketPair(t)
	m := New()
	ctx, _ := m.Get(a, true)

	if ctx.Timeout(RecvTimeout) != NoTimeout {
		t.Fatal("expected default recv timeout to be NoTimeout")
	}
	ctx.SetTimeout(RecvTimeout, 1500)
	if ctx.Timeout(RecvTimeout) != 1500 {
		t.Fatalf("expected 1500, got %d", ctx.Timeout(RecvTimeout))
	}
	ctx.SetTimeout(SendTimeout, 250)
	if ctx.Timeout(SendTimeout) != 250 {
		t.Fatalf("expected 250, got %d", ctx.Timeout(SendTimeout))
	}
}

func TestUninitializedOnBadFd(t *testing.T) {
	m := New()
	ctx, ok := m.Get(999999, true)
	if !ok {
		t.Fatal("expected a context to be created even on fstat failure")
	}
	if ctx.IsInit() {
		t.Fatal("expected IsInit false when fstat fails")
	}
}

func TestUserNonblockTriState(t *testing.T) {
	a, _ := socketPair(t)
	m := New()
	ctx, _ := m.Get(a, true)
	if ctx.UserNonblockExplicit() {
		t.Fatal("expected userNonblockSet to start false")
	}
	ctx.SetUserNonblock(true)
	if !ctx.UserNonblockExplicit() || !ctx.UserNonblock() {
		t.Fatal("expected explicit user nonblock to be recorded")
	}
}

func TestDefaultSingletonIsShared(t *testing.T) {
	if Default() != Default() {
		t.Fatal("expected Default() to return the same singleton instance")
	}
}

func TestGrowthPolicy(t *testing.T) {
	m := New()
	m.mu.Lock()
	m.grow(10)
	got := len(m.fds)
	m.mu.Unlock()
	if got < 11 {
		t.Fatalf("expected grow(10) to yield length >= 11, got %d", got)
	}
}
