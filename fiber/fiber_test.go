package fiber

import (
	"testing"
)

func TestResumeYieldRoundTrip(t *testing.T) {
	tl := NewLocals()
	var steps []string

	f := Construct(func() {
		steps = append(steps, "a")
		Yield(tl)
		steps = append(steps, "b")
	})

	if f.State() != Ready {
		t.Fatalf("expected READY after construct, got %s", f.State())
	}

	f.Resume(tl)
	if len(steps) != 1 || steps[0] != "a" {
		t.Fatalf("expected one step after first resume, got %v", steps)
	}
	if f.State() != Ready {
		t.Fatalf("expected READY after yield, got %s", f.State())
	}

	f.Resume(tl)
	if len(steps) != 2 || steps[1] != "b" {
		t.Fatalf("expected two steps after second resume, got %v", steps)
	}
	if f.State() != Term {
		t.Fatalf("expected TERM after return, got %s", f.State())
	}
}

func TestResumeTerminatedFiberPanics(t *testing.T) {
	tl := NewLocals()
	f := Construct(func() {})
	f.Resume(tl)
	if f.State() != Term {
		t.Fatalf("expected TERM, got %s", f.State())
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic resuming a TERM fiber")
		}
	}()
	f.Resume(tl)
}

func TestReset(t *testing.T) {
	tl := NewLocals()
	calls := 0
	f := Construct(func() { calls++ })
	f.Resume(tl)
	if f.State() != Term {
		t.Fatalf("expected TERM, got %s", f.State())
	}

	f.Reset(func() { calls++ })
	if f.State() != Ready {
		t.Fatalf("expected READY after reset, got %s", f.State())
	}
	f.Resume(tl)
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestMainFiberLazyCreation(t *testing.T) {
	tl := NewLocals()
	m1 := tl.Main()
	m2 := tl.Main()
	if m1 != m2 {
		t.Fatalf("expected the same main fiber instance on repeated access")
	}
	if m1.State() != Running {
		t.Fatalf("expected main fiber to be RUNNING, got %s", m1.State())
	}
}

func TestResumeMainFiberPanics(t *testing.T) {
	tl := NewLocals()
	m := tl.Main()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic resuming the main fiber")
		}
	}()
	m.Resume(tl)
}
