// File: hook/sleep.go
// Sleep-family hooks: reschedule the calling fiber via a one-shot timer
// instead of blocking the worker thread. Grounded on hook.cpp's sleep(),
// usleep(), and nanosleep().
// Author: vela-run contributors
// License: Apache-2.0
package hook

import (
	"time"

	"github.com/vela-run/fiberio/fiber"
	"github.com/vela-run/fiberio/scheduler"
)

// Sleep parks the calling fiber for the given duration and reschedules it
// with no worker pinned, same as the plain (non-hooked) fallback would do
// via a blocking time.Sleep.
func Sleep(d time.Duration) {
	loc := fiber.CurrentLocals()
	if loc == nil || !loc.HookEnabled() {
		time.Sleep(d)
		return
	}
	mgr := manager()
	if mgr == nil {
		time.Sleep(d)
		return
	}
	f := loc.Current()
	mgr.Timers.AddTimer(d.Milliseconds(), func() {
		mgr.Scheduler.ScheduleFiber(f, scheduler.AnyThread)
	}, false)
	fiber.Yield(loc)
}

// Usleep is Sleep expressed in microseconds, matching hook.cpp's usleep().
func Usleep(microseconds int64) {
	Sleep(time.Duration(microseconds) * time.Microsecond)
}

// Nanosleep is Sleep expressed in seconds+nanoseconds, matching hook.cpp's
// nanosleep().
func Nanosleep(seconds int64, nanoseconds int64) {
	Sleep(time.Duration(seconds)*time.Second + time.Duration(nanoseconds)*time.Nanosecond)
}
