//go:build linux

package reactor

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestAddAndWaitObservesReadable(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	if err := r.Add(fds[0], EventRead); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := unix.Write(fds[1], []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	out := make([]ReadyEvent, 8)
	n, err := r.Wait(out, 1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 ready event, got %d", n)
	}
	if out[0].Fd != fds[0] {
		t.Fatalf("expected fd %d, got %d", fds[0], out[0].Fd)
	}
	if out[0].Events&EventRead == 0 {
		t.Fatalf("expected EventRead bit set, got %v", out[0].Events)
	}
}

func TestWaitTimesOutWithNoActivity(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	if err := r.Add(fds[0], EventRead); err != nil {
		t.Fatalf("Add: %v", err)
	}

	start := time.Now()
	out := make([]ReadyEvent, 8)
	n, err := r.Wait(out, 100)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 ready events, got %d", n)
	}
	if time.Since(start) < 90*time.Millisecond {
		t.Fatal("expected Wait to actually block for close to the timeout")
	}
}

func TestModifyAndRemove(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	if err := r.Add(fds[0], EventRead); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Modify(fds[0], EventRead|EventWrite); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if err := r.Remove(fds[0]); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}
