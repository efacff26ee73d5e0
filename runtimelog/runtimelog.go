// File: runtimelog/runtimelog.go
// Package runtimelog is a thin github.com/rs/zerolog wrapper used at
// Scheduler/IOManager lifecycle boundaries — start, stop, reactor error —
// never on the hot fiber resume/yield path.
// Author: vela-run contributors
// License: Apache-2.0
//
// Grounded on joeycumines-go-utilpkg/logiface-zerolog's adapter-over-zerolog
// shape: a small named-logger wrapper instead of reaching for the package-level
// zerolog/log logger everywhere, so each component's output carries its own
// component field.
package runtimelog

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once sync.Once
	base zerolog.Logger
)

func root() zerolog.Logger {
	once.Do(func() {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	})
	return base
}

// SetLevel changes the global minimum log level.
func SetLevel(lvl zerolog.Level) {
	zerolog.SetGlobalLevel(lvl)
}

// For returns a logger scoped to component, carrying a "component" field on
// every event.
func For(component string) zerolog.Logger {
	return root().With().Str("component", component).Logger()
}
