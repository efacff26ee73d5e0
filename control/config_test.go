package control

import (
	"testing"
)

func TestRuntimeConfigSnapshotRetainsSetValues(t *testing.T) {
	rc := NewRuntimeConfig()
	rc.Set(map[string]any{KeyConnectTimeoutMs: 1500, KeyIdleTimeoutMs: 250, KeyMaxEvents: 64})

	snap := rc.GetSnapshot()
	if snap[KeyConnectTimeoutMs] != 1500 {
		t.Fatalf("expected snapshot to retain set value, got %v", snap[KeyConnectTimeoutMs])
	}
	if snap[KeyMaxEvents] != 64 {
		t.Fatalf("expected snapshot to retain set value, got %v", snap[KeyMaxEvents])
	}
}

func TestRuntimeConfigIgnoresUnrecognizedKeys(t *testing.T) {
	rc := NewRuntimeConfig()
	rc.Set(map[string]any{"unrelated": "value"})

	snap := rc.GetSnapshot()
	if snap["unrelated"] != "value" {
		t.Fatal("expected unrecognized key to still be stored in the snapshot")
	}
}
