// File: scheduler/task.go
// Package scheduler owns the fiber dispatch loop described in spec.md §4.2.
package scheduler

import "github.com/vela-run/fiberio/fiber"

// AnyThread is the sentinel target thread id meaning "any worker may run this."
const AnyThread = -1

// Task is a tagged record holding exactly one of {fiber, callable}, plus an
// optional pinned target worker id.
type Task struct {
	Fiber    *fiber.Fiber
	Callable func()
	Target   int
}

func (t Task) isFiber() bool { return t.Fiber != nil }
