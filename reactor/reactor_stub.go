//go:build !linux

// File: reactor/reactor_stub.go
// Author: vela-run contributors
// License: Apache-2.0
//
// Non-Linux placeholder: spec.md §1 treats the reactor's exact flavor as a
// pluggable readiness source and names epoll/kqueue as equivalents; only the
// epoll backend is implemented here (matching what the teacher and the rest
// of the pack actually build against), so other platforms get a clear error
// instead of a silently nonfunctional backend.

package reactor

import "errors"

// New returns an error; only the Linux epoll backend is implemented.
func New() (Reactor, error) {
	return nil, errors.New("reactor: no Reactor implementation for this platform")
}
