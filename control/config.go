// File: control/config.go
// Author: vela-run contributors
// License: Apache-2.0
//
// RuntimeConfig is the runtime's single hot-reloadable tunable store: the
// default connect timeout and the IOManager's idle-loop cap, epoll
// max-events batch size, and self-pipe drain buffer size (spec.md §9's note
// that a production rewrite should expose these as configuration). Grounded
// on hioload-ws's control/config.go — same RWMutex-guarded map and snapshot
// shape — but collapsed into one domain-aware store that knows its own keys
// and dispatches them straight into the hook and ioreactor packages on every
// Set, rather than leaving "reload" a generic callback hook nothing in this
// tree would otherwise register more than once.
package control

import (
	"sync"

	"github.com/vela-run/fiberio/hook"
	"github.com/vela-run/fiberio/ioreactor"
	"github.com/vela-run/fiberio/runtimelog"
)

var log = runtimelog.For("control")

// Runtime tunable keys RuntimeConfig applies on every Set. Any other key is
// still stored and returned by GetSnapshot, but has no effect.
const (
	KeyConnectTimeoutMs    = "connect_timeout_ms"
	KeyIdleTimeoutMs       = "idle_timeout_ms"
	KeyMaxEvents           = "max_events"
	KeySelfPipeBufferBytes = "self_pipe_buffer_bytes"
)

// RuntimeConfig is a thread-safe key/value store that applies recognized
// tunables to the hook and ioreactor packages as soon as they're set.
type RuntimeConfig struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewRuntimeConfig constructs an empty RuntimeConfig.
func NewRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{values: make(map[string]any)}
}

// GetSnapshot returns a copy of every stored key, recognized or not.
func (rc *RuntimeConfig) GetSnapshot() map[string]any {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	snap := make(map[string]any, len(rc.values))
	for k, v := range rc.values {
		snap[k] = v
	}
	return snap
}

// Set merges newValues into the store and immediately applies whichever
// recognized tunables it contains.
func (rc *RuntimeConfig) Set(newValues map[string]any) {
	rc.mu.Lock()
	for k, v := range newValues {
		rc.values[k] = v
	}
	snap := make(map[string]any, len(rc.values))
	for k, v := range rc.values {
		snap[k] = v
	}
	rc.mu.Unlock()
	rc.apply(snap)
}

// apply pushes recognized keys into the hook/ioreactor setters and logs any
// key it doesn't recognize, rather than silently ignoring a likely typo.
func (rc *RuntimeConfig) apply(snap map[string]any) {
	if v, ok := intValue(snap, KeyConnectTimeoutMs); ok {
		hook.SetConnectTimeout(int64(v))
	}
	if v, ok := intValue(snap, KeyIdleTimeoutMs); ok {
		ioreactor.SetIdleTimeoutMs(v)
	}
	if v, ok := intValue(snap, KeyMaxEvents); ok {
		ioreactor.SetMaxEvents(v)
	}
	if v, ok := intValue(snap, KeySelfPipeBufferBytes); ok {
		ioreactor.SetSelfPipeBufferBytes(v)
	}
	for k := range snap {
		switch k {
		case KeyConnectTimeoutMs, KeyIdleTimeoutMs, KeyMaxEvents, KeySelfPipeBufferBytes:
		default:
			log.Debug().Str("key", k).Msg("ignoring unrecognized config key")
		}
	}
}

func intValue(snap map[string]any, key string) (int, bool) {
	v, ok := snap[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}
